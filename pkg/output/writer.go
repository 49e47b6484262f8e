package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits job event records.
//
// Implementations must be safe for concurrent use; capture workers write
// from many goroutines at once.
type Writer interface {
	WriteJob(ctx context.Context, job *JobRecord) error
	WriteVersion(ctx context.Context, v *VersionRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
// Writes are serialized so lines never interleave.
type JSONLWriter struct {
	w       io.Writer
	ownerID string
	now     func() time.Time
	mu      sync.Mutex

	closed bool
}

// NewJSONLWriter creates a JSONL writer. ownerID is stamped on every
// envelope and may be empty.
func NewJSONLWriter(w io.Writer, ownerID string) *JSONLWriter {
	return &JSONLWriter{
		w:       w,
		ownerID: ownerID,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WriteJob emits a job transition record.
func (jw *JSONLWriter) WriteJob(ctx context.Context, job *JobRecord) error {
	return jw.writeRecord(ctx, TypeJob, job.JobID, job)
}

// WriteVersion emits a version record.
func (jw *JSONLWriter) WriteVersion(ctx context.Context, v *VersionRecord) error {
	return jw.writeRecord(ctx, TypeVersion, v.JobID, v)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err.JobID, err)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, "", sum)
}

// Close marks the writer as closed. The underlying writer is NOT closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType, jobID string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Marshal the payload outside the lock.
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:    recordType,
		TS:      jw.now(),
		JobID:   jobID,
		OwnerID: jw.ownerID,
		Data:    dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Discard is a Writer that drops every record.
var Discard Writer = discard{}

type discard struct{}

func (discard) WriteJob(context.Context, *JobRecord) error         { return nil }
func (discard) WriteVersion(context.Context, *VersionRecord) error { return nil }
func (discard) WriteError(context.Context, *ErrorRecord) error     { return nil }
func (discard) WriteSummary(context.Context, *SummaryRecord) error { return nil }
func (discard) Close() error                                       { return nil }

var _ Writer = (*JSONLWriter)(nil)
