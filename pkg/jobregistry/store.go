package jobregistry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a job or job artifact does not exist.
var ErrNotFound = errors.New("job not found")

// ContentArtifact holds the page HTML a job parses: the caller-supplied
// HTML for capture jobs, or the fetched body for URL jobs.
const ContentArtifact = "content.html"

// Store persists and loads Jobs from an on-disk directory.
//
// Directory layout:
//
//	<root>/<job_id>/job.json
//	<root>/<job_id>/content.html
//
// Root is expected to be under the app data dir. Writes go through a temp
// file and rename, so readers never see a partial job.json.
type Store struct {
	root string
	now  func() time.Time

	// mu serializes read-modify-write cycles in Update.
	mu sync.Mutex
}

func NewStore(root string) *Store {
	return &Store{
		root: strings.TrimSpace(root),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) JobPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "job.json")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("job registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Create persists a new job. HTML source content is written to the content
// artifact before job.json so a visible job always has its content.
func (s *Store) Create(job *Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.JobPath(job.ID)); err == nil {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if src, ok := job.Source.(HTMLSource); ok && src.Content != "" {
		if err := s.writeFile(job.ID, ContentArtifact, []byte(src.Content)); err != nil {
			return err
		}
	}
	return s.write(job)
}

// Write replaces a job record.
func (s *Store) Write(job *Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(job)
}

func (s *Store) write(job *Job) error {
	jobID := strings.TrimSpace(job.ID)
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}

	b, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	return s.writeFile(jobID, "job.json", b)
}

func (s *Store) writeFile(jobID, name string, data []byte) error {
	if err := s.ensureRoot(); err != nil {
		return err
	}
	jobDir := s.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	tmp, err := os.CreateTemp(jobDir, name+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp %s: %w", name, err)
	}

	if err := os.Rename(tmpName, filepath.Join(jobDir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Get loads a job. HTML sources get their content reloaded from the
// content artifact.
func (s *Store) Get(jobID string) (*Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return nil, ErrNotFound
	}
	b, err := os.ReadFile(s.JobPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read job.json: %w", err)
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("job.json is empty")
	}

	var job Job
	if err := json.Unmarshal([]byte(trimmed), &job); err != nil {
		return nil, fmt.Errorf("parse job.json: %w", err)
	}

	if src, ok := job.Source.(HTMLSource); ok {
		content, err := s.ReadArtifact(jobID, ContentArtifact)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		src.Content = string(content)
		job.Source = src
	}

	return &job, nil
}

// Update applies fn to the stored job and writes the result. UpdatedAt is
// stamped after fn returns. If fn returns an error nothing is written.
func (s *Store) Update(jobID string, fn func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.Get(jobID)
	if err != nil {
		return nil, err
	}
	prev := job.UpdatedAt
	if err := fn(job); err != nil {
		return nil, err
	}
	// updated_at must move on every transition, even within one clock tick.
	job.UpdatedAt = s.now()
	if !job.UpdatedAt.After(prev) {
		job.UpdatedAt = prev.Add(time.Microsecond)
	}
	if err := s.write(job); err != nil {
		return nil, err
	}
	return job, nil
}

// List returns all jobs, newest first. Unreadable records are skipped.
func (s *Store) List() ([]Job, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs root: %w", err)
	}

	out := make([]Job, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		j, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *j)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}

// ListByOwner returns one owner's jobs, newest first.
func (s *Store) ListByOwner(ownerID string) ([]Job, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, j := range all {
		if j.OwnerID == ownerID {
			out = append(out, j)
		}
	}
	return out, nil
}

// WriteArtifact stores a named blob next to job.json.
func (s *Store) WriteArtifact(jobID, name string, data []byte) error {
	if strings.ContainsAny(name, `/\`) || name == "job.json" {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return s.writeFile(jobID, name, data)
}

// ReadArtifact loads a named blob; ErrNotFound if it was never written.
func (s *Store) ReadArtifact(jobID, name string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(s.JobDir(jobID), name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return b, nil
}
