package jobregistry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the externally visible lifecycle state of a capture job.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScraping  Status = "scraping"
	StatusParsing   Status = "parsing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step names the pipeline step a job failed at.
type Step string

const (
	StepScraping Step = "scraping"
	StepParsing  Step = "parsing"
)

// Operation records which entry point created a job.
type Operation string

const (
	OperationScrape       Operation = "scrape"
	OperationCapture      Operation = "capture"
	OperationImportPhotos Operation = "import_photos"
	OperationRescrape     Operation = "rescrape"
)

// State is a job's position in the state machine. The variants carry exactly
// the data valid for that state, so a completed job always has a recipe id and
// a failed job always has a step and message.
type State interface {
	Status() Status
	isState()
}

type Pending struct{}

type Scraping struct{}

type Parsing struct{}

type Completed struct {
	RecipeID string
}

type Failed struct {
	Step  Step
	Error string
}

func (Pending) Status() Status   { return StatusPending }
func (Scraping) Status() Status  { return StatusScraping }
func (Parsing) Status() Status   { return StatusParsing }
func (Completed) Status() Status { return StatusCompleted }
func (Failed) Status() Status    { return StatusFailed }

func (Pending) isState()   {}
func (Scraping) isState()  {}
func (Parsing) isState()   {}
func (Completed) isState() {}
func (Failed) isState()    {}

// SourceKind discriminates the Source variants.
type SourceKind string

const (
	SourceKindURL    SourceKind = "url"
	SourceKindHTML   SourceKind = "html"
	SourceKindPhotos SourceKind = "photos"
)

// Source describes where a job's recipe content comes from.
type Source interface {
	Kind() SourceKind
	isSource()
}

// URLSource is a page to fetch.
type URLSource struct {
	URL string
}

// HTMLSource is page content captured by the caller. Content is persisted as
// the job's content artifact rather than inside job.json.
type HTMLSource struct {
	Content   string
	SourceURL string
}

// PhotosSource is an ordered list of photo ids owned by the job owner.
type PhotosSource struct {
	PhotoIDs []string
}

func (URLSource) Kind() SourceKind    { return SourceKindURL }
func (HTMLSource) Kind() SourceKind   { return SourceKindHTML }
func (PhotosSource) Kind() SourceKind { return SourceKindPhotos }

func (URLSource) isSource()    {}
func (HTMLSource) isSource()   {}
func (PhotosSource) isSource() {}

// Job is one capture attempt. Its identity is stable across retries.
type Job struct {
	ID             string
	OwnerID        string
	Operation      Operation
	Source         Source
	State          State
	RetryCount     int
	TargetRecipeID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Status returns the job's lifecycle status.
func (j *Job) Status() Status {
	if j == nil || j.State == nil {
		return StatusPending
	}
	return j.State.Status()
}

// RecipeID returns the produced recipe id; empty unless completed.
func (j *Job) RecipeID() string {
	if c, ok := j.State.(Completed); ok {
		return c.RecipeID
	}
	return ""
}

// FailedAtStep returns the step that failed; empty unless failed.
func (j *Job) FailedAtStep() Step {
	if f, ok := j.State.(Failed); ok {
		return f.Step
	}
	return ""
}

// ErrorMessage returns the failure message; empty unless failed.
func (j *Job) ErrorMessage() string {
	if f, ok := j.State.(Failed); ok {
		return f.Error
	}
	return ""
}

// CanRetry reports whether RetryJob would accept this job.
func (j *Job) CanRetry() bool {
	return j.Status() == StatusFailed
}

// SourceURL returns the URL the job's content is attributed to, if any.
func (j *Job) SourceURL() string {
	switch s := j.Source.(type) {
	case URLSource:
		return s.URL
	case HTMLSource:
		return s.SourceURL
	default:
		return ""
	}
}

// jobRecord is the persistent shape written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type jobRecord struct {
	JobID          string       `json:"job_id"`
	OwnerID        string       `json:"owner_id"`
	Operation      Operation    `json:"operation"`
	Source         sourceRecord `json:"source"`
	Status         Status       `json:"status"`
	RecipeID       string       `json:"recipe_id,omitempty"`
	FailedAtStep   Step         `json:"failed_at_step,omitempty"`
	Error          string       `json:"error,omitempty"`
	RetryCount     int          `json:"retry_count"`
	CanRetry       bool         `json:"can_retry"`
	TargetRecipeID string       `json:"target_recipe_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type sourceRecord struct {
	Kind      SourceKind `json:"kind"`
	URL       string     `json:"url,omitempty"`
	SourceURL string     `json:"source_url,omitempty"`
	PhotoIDs  []string   `json:"photo_ids,omitempty"`
}

// MarshalJSON flattens the state and source variants into job.json fields.
func (j Job) MarshalJSON() ([]byte, error) {
	rec := jobRecord{
		JobID:          j.ID,
		OwnerID:        j.OwnerID,
		Operation:      j.Operation,
		Status:         j.Status(),
		RecipeID:       j.RecipeID(),
		FailedAtStep:   j.FailedAtStep(),
		Error:          j.ErrorMessage(),
		RetryCount:     j.RetryCount,
		CanRetry:       j.CanRetry(),
		TargetRecipeID: j.TargetRecipeID,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	switch s := j.Source.(type) {
	case URLSource:
		rec.Source = sourceRecord{Kind: SourceKindURL, URL: s.URL}
	case HTMLSource:
		rec.Source = sourceRecord{Kind: SourceKindHTML, SourceURL: s.SourceURL}
	case PhotosSource:
		rec.Source = sourceRecord{Kind: SourceKindPhotos, PhotoIDs: s.PhotoIDs}
	default:
		return nil, fmt.Errorf("job %s has no source", j.ID)
	}
	return json.Marshal(rec)
}

// UnmarshalJSON rebuilds the variants and rejects records whose fields
// contradict their status.
func (j *Job) UnmarshalJSON(b []byte) error {
	var rec jobRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}

	state, err := stateFromRecord(rec)
	if err != nil {
		return fmt.Errorf("job %s: %w", rec.JobID, err)
	}

	var source Source
	switch rec.Source.Kind {
	case SourceKindURL:
		source = URLSource{URL: rec.Source.URL}
	case SourceKindHTML:
		source = HTMLSource{SourceURL: rec.Source.SourceURL}
	case SourceKindPhotos:
		source = PhotosSource{PhotoIDs: rec.Source.PhotoIDs}
	default:
		return fmt.Errorf("job %s: unknown source kind %q", rec.JobID, rec.Source.Kind)
	}

	*j = Job{
		ID:             rec.JobID,
		OwnerID:        rec.OwnerID,
		Operation:      rec.Operation,
		Source:         source,
		State:          state,
		RetryCount:     rec.RetryCount,
		TargetRecipeID: rec.TargetRecipeID,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	return nil
}

func stateFromRecord(rec jobRecord) (State, error) {
	if rec.Status != StatusCompleted && rec.RecipeID != "" {
		return nil, fmt.Errorf("recipe_id set on %s job", rec.Status)
	}
	if rec.Status != StatusFailed && (rec.Error != "" || rec.FailedAtStep != "") {
		return nil, fmt.Errorf("failure fields set on %s job", rec.Status)
	}

	switch rec.Status {
	case StatusPending:
		return Pending{}, nil
	case StatusScraping:
		return Scraping{}, nil
	case StatusParsing:
		return Parsing{}, nil
	case StatusCompleted:
		if rec.RecipeID == "" {
			return nil, fmt.Errorf("completed job has no recipe_id")
		}
		return Completed{RecipeID: rec.RecipeID}, nil
	case StatusFailed:
		if rec.Error == "" || rec.FailedAtStep == "" {
			return nil, fmt.Errorf("failed job has no error or failed_at_step")
		}
		if rec.FailedAtStep != StepScraping && rec.FailedAtStep != StepParsing {
			return nil, fmt.Errorf("unknown failed_at_step %q", rec.FailedAtStep)
		}
		return Failed{Step: rec.FailedAtStep, Error: rec.Error}, nil
	default:
		return nil, fmt.Errorf("unknown status %q", rec.Status)
	}
}
