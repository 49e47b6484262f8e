// Package capture runs recipe capture jobs.
//
// A job moves through pending, scraping, parsing and then completed or
// failed. The Engine validates sources synchronously, persists each job in
// the job registry, and runs it on a bounded executor:
//   - Fetch: URL sources are fetched and the body kept as the job's content
//   - Extract: the extractor for the source kind produces a draft
//   - Persist: the draft becomes a new recipe, or a new version of the
//     rescraped recipe
//
// Fetch and extraction failures are recorded on the job against the step
// that failed. Persistence failures are returned to the caller and leave the
// job in parsing.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/ramekin/pkg/extract"
	"github.com/3leaps/ramekin/pkg/fetch"
	"github.com/3leaps/ramekin/pkg/jobregistry"
	"github.com/3leaps/ramekin/pkg/output"
	"github.com/3leaps/ramekin/pkg/photostore"
	"github.com/3leaps/ramekin/pkg/recipe"
	"github.com/3leaps/ramekin/pkg/versionstore"
)

// Config configures engine behavior.
type Config struct {
	// Workers is the number of jobs that may run at once.
	// Default: 4
	Workers int

	// ExtractTimeout bounds one extraction.
	// Default: 60s
	ExtractTimeout time.Duration

	// Inline runs jobs on the calling goroutine instead of the executor.
	// CreateJob, RetryJob and Rescrape then return the finished job and any
	// persistence error. Used by the CLI.
	Inline bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		ExtractTimeout: 60 * time.Second,
	}
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Jobs       *jobregistry.Store
	Versions   *versionstore.Store
	Fetcher    fetch.Fetcher
	Allowlist  *fetch.Allowlist
	Extractors extract.Set
	Photos     photostore.Store

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Events receives job and version records. Defaults to output.Discard.
	Events output.Writer
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the timestamp source for new jobs.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// Stats counts job outcomes since the engine started.
type Stats struct {
	Created   int64
	Completed int64
	Failed    int64
	Errors    int64
}

// Engine creates and runs capture jobs.
type Engine struct {
	cfg        Config
	jobs       *jobregistry.Store
	versions   *versionstore.Store
	fetcher    fetch.Fetcher
	allowlist  *fetch.Allowlist
	extractors extract.Set
	photos     photostore.Store
	logger     *zap.Logger
	events     output.Writer
	exec       *jobregistry.Executor

	now   func() time.Time
	newID func() string

	created   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	errCount  atomic.Int64
}

// New creates an engine. Jobs and Versions are required.
func New(cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	if deps.Jobs == nil {
		return nil, errors.New("capture: job registry is required")
	}
	if deps.Versions == nil {
		return nil, errors.New("capture: version store is required")
	}

	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = def.ExtractTimeout
	}

	e := &Engine{
		cfg:        cfg,
		jobs:       deps.Jobs,
		versions:   deps.Versions,
		fetcher:    deps.Fetcher,
		allowlist:  deps.Allowlist,
		extractors: deps.Extractors,
		photos:     deps.Photos,
		logger:     deps.Logger,
		events:     deps.Events,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.New().String() },
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.events == nil {
		e.events = output.Discard
	}
	for _, opt := range opts {
		opt(e)
	}

	e.exec = jobregistry.NewExecutor(cfg.Workers, e.Run, func(jobID string, err error) {
		e.logger.Error("capture job error", zap.String("job_id", jobID), zap.Error(err))
	})
	return e, nil
}

// CreateJob validates source, persists a new job for ownerID and starts it.
// Validation failures return a *ValidationError and create nothing.
func (e *Engine) CreateJob(ctx context.Context, ownerID string, source jobregistry.Source) (*jobregistry.Job, error) {
	if err := e.validateSource(ctx, ownerID, source); err != nil {
		return nil, err
	}

	now := e.now()
	job := &jobregistry.Job{
		ID:        e.newID(),
		OwnerID:   ownerID,
		Operation: operationFor(source),
		Source:    source,
		State:     initialState(source),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return e.start(ctx, job)
}

// Rescrape re-fetches the source url of a recipe's current version. On
// success the job appends a rescrape version to the same recipe.
func (e *Engine) Rescrape(ctx context.Context, ownerID, recipeID string) (*jobregistry.Job, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, invalid("owner_id", "owner is required", nil)
	}
	current, err := e.versions.GetVersion(ctx, recipeID, ownerID, "")
	if err != nil {
		return nil, mapNotFound(err)
	}
	sourceURL := strings.TrimSpace(current.Content.SourceURL)
	if sourceURL == "" {
		return nil, fmt.Errorf("recipe %s: %w", recipeID, ErrMissingSourceURL)
	}
	if err := e.checkURL("source_url", sourceURL); err != nil {
		return nil, err
	}

	now := e.now()
	job := &jobregistry.Job{
		ID:             e.newID(),
		OwnerID:        ownerID,
		Operation:      jobregistry.OperationRescrape,
		Source:         jobregistry.URLSource{URL: sourceURL},
		State:          jobregistry.Pending{},
		TargetRecipeID: recipeID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return e.start(ctx, job)
}

// RetryJob restarts a failed job under the same id. A scraping failure
// restarts at fetch. A parsing failure re-parses the stored content when
// there is some, and re-fetches otherwise.
func (e *Engine) RetryJob(ctx context.Context, ownerID, jobID string) (*jobregistry.Job, error) {
	existing, err := e.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	next, err := e.retryState(existing)
	if err != nil {
		return nil, err
	}

	job, err := e.jobs.Update(jobID, func(j *jobregistry.Job) error {
		if j.OwnerID != ownerID {
			return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		if !j.CanRetry() {
			return fmt.Errorf("job %s is %s: %w", jobID, j.Status(), ErrInvalidState)
		}
		j.RetryCount++
		j.State = next
		return nil
	})
	if err != nil {
		return nil, mapNotFound(err)
	}

	e.logger.Info("capture job retried",
		zap.String("job_id", job.ID),
		zap.Int("retry_count", job.RetryCount),
		zap.String("status", string(job.Status())),
	)
	e.emitJob(ctx, job)
	return e.dispatch(ctx, job)
}

func (e *Engine) retryState(job *jobregistry.Job) (jobregistry.State, error) {
	failed, ok := job.State.(jobregistry.Failed)
	if !ok {
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Status(), ErrInvalidState)
	}
	if job.Source.Kind() == jobregistry.SourceKindPhotos {
		return jobregistry.Parsing{}, nil
	}
	if failed.Step == jobregistry.StepParsing {
		if _, err := e.jobs.ReadArtifact(job.ID, jobregistry.ContentArtifact); err == nil {
			return jobregistry.Parsing{}, nil
		}
	}
	if job.SourceURL() == "" {
		return nil, fmt.Errorf("job %s has no content and no url to fetch: %w", job.ID, ErrInvalidState)
	}
	return jobregistry.Pending{}, nil
}

// GetJob returns one of ownerID's jobs.
func (e *Engine) GetJob(_ context.Context, ownerID, jobID string) (*jobregistry.Job, error) {
	job, err := e.jobs.Get(jobID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if job.OwnerID != ownerID {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, nil
}

// ListJobs returns ownerID's jobs, newest first.
func (e *Engine) ListJobs(_ context.Context, ownerID string) ([]jobregistry.Job, error) {
	return e.jobs.ListByOwner(ownerID)
}

// GetRecipeVersion returns one version of a recipe; an empty versionID
// selects the current version.
func (e *Engine) GetRecipeVersion(ctx context.Context, ownerID, recipeID, versionID string) (*recipe.Version, error) {
	v, err := e.versions.GetVersion(ctx, recipeID, ownerID, versionID)
	return v, mapNotFound(err)
}

// ListVersions returns a recipe's versions, newest first.
func (e *Engine) ListVersions(ctx context.Context, ownerID, recipeID string) ([]recipe.Version, error) {
	vs, err := e.versions.ListVersions(ctx, recipeID, ownerID)
	return vs, mapNotFound(err)
}

// ListRecipes returns ownerID's recipes, most recently updated first.
func (e *Engine) ListRecipes(ctx context.Context, ownerID string) ([]recipe.Recipe, error) {
	return e.versions.ListRecipes(ctx, ownerID)
}

// SaveUserVersion appends a user edit as the recipe's new current version.
func (e *Engine) SaveUserVersion(ctx context.Context, ownerID, recipeID string, draft recipe.Draft) (*recipe.Version, error) {
	draft.Normalize()
	if err := draft.Validate(); err != nil {
		return nil, invalid("content", err.Error(), err)
	}
	v, err := e.versions.AppendVersion(ctx, recipeID, ownerID, draft, recipe.SourceUser)
	if err != nil {
		return nil, mapNotFound(err)
	}
	e.logger.Info("user version saved",
		zap.String("recipe_id", recipeID),
		zap.Int("version_number", v.Number),
	)
	e.emitVersion(ctx, "", v)
	return v, nil
}

// DeleteRecipe removes a recipe and all of its versions.
func (e *Engine) DeleteRecipe(ctx context.Context, ownerID, recipeID string) error {
	if err := e.versions.DeleteRecipe(ctx, recipeID, ownerID); err != nil {
		return mapNotFound(err)
	}
	e.logger.Info("recipe deleted", zap.String("recipe_id", recipeID))
	return nil
}

// Resume dispatches every job an earlier process left in pending, scraping
// or parsing. It returns how many jobs were resumed.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	all, err := e.jobs.List()
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	resumed := 0
	for i := range all {
		job := &all[i]
		switch job.State.(type) {
		case jobregistry.Pending, jobregistry.Scraping, jobregistry.Parsing:
		default:
			continue
		}
		e.logger.Info("capture job resumed",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status())),
		)
		if _, err := e.dispatch(ctx, job); err != nil {
			return resumed, err
		}
		resumed++
	}
	return resumed, nil
}

// Wait blocks until every submitted job has finished.
func (e *Engine) Wait() {
	e.exec.Wait()
}

// Close stops accepting jobs and waits for running ones.
func (e *Engine) Close() {
	e.exec.Close()
}

// Stats reports job outcome counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Created:   e.created.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		Errors:    e.errCount.Load(),
	}
}

func (e *Engine) start(ctx context.Context, job *jobregistry.Job) (*jobregistry.Job, error) {
	if err := e.jobs.Create(job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	e.created.Add(1)
	e.logger.Info("capture job created",
		zap.String("job_id", job.ID),
		zap.String("operation", string(job.Operation)),
		zap.String("source_kind", string(job.Source.Kind())),
	)
	e.emitJob(ctx, job)
	return e.dispatch(ctx, job)
}

func (e *Engine) dispatch(ctx context.Context, job *jobregistry.Job) (*jobregistry.Job, error) {
	if !e.cfg.Inline {
		if err := e.exec.Submit(job.ID); err != nil {
			return nil, fmt.Errorf("submit job %s: %w", job.ID, err)
		}
		return job, nil
	}

	runErr := e.Run(context.WithoutCancel(ctx), job.ID)
	latest, err := e.jobs.Get(job.ID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return latest, runErr
}

func (e *Engine) validateSource(ctx context.Context, ownerID string, source jobregistry.Source) error {
	if strings.TrimSpace(ownerID) == "" {
		return invalid("owner_id", "owner is required", nil)
	}

	switch s := source.(type) {
	case jobregistry.URLSource:
		return e.checkURL("url", s.URL)

	case jobregistry.HTMLSource:
		if strings.TrimSpace(s.Content) == "" {
			return invalid("html", "html content is empty", nil)
		}
		if strings.TrimSpace(s.SourceURL) == "" {
			return invalid("source_url", "source url is required", nil)
		}
		if _, err := fetch.ParseURL(s.SourceURL); err != nil {
			return invalid("source_url", "source url must be an absolute http(s) url", err)
		}
		return nil

	case jobregistry.PhotosSource:
		if len(s.PhotoIDs) == 0 {
			return invalid("photo_ids", "at least one photo is required", nil)
		}
		for _, id := range s.PhotoIDs {
			if strings.TrimSpace(id) == "" {
				return invalid("photo_ids", "photo ids must not be empty", nil)
			}
		}
		if e.photos == nil {
			return errors.New("capture: photo store is not configured")
		}
		for _, id := range s.PhotoIDs {
			if _, err := e.photos.Head(ctx, ownerID, id); err != nil {
				if photostore.IsNotFound(err) {
					return invalid("photo_ids", fmt.Sprintf("photo %s not found", id), err)
				}
				return fmt.Errorf("check photo %s: %w", id, err)
			}
		}
		return nil

	case nil:
		return invalid("source", "source is required", nil)

	default:
		return invalid("source", fmt.Sprintf("unsupported source %T", source), nil)
	}
}

func (e *Engine) checkURL(field, raw string) error {
	if e.allowlist == nil {
		if _, err := fetch.ParseURL(raw); err != nil {
			return invalid(field, "url must be an absolute http(s) url", err)
		}
		return nil
	}
	if _, err := e.allowlist.Check(raw); err != nil {
		if fetch.IsDisallowedHost(err) {
			return invalid(field, "host is not on the allowlist", err)
		}
		return invalid(field, "url must be an absolute http(s) url", err)
	}
	return nil
}

func operationFor(source jobregistry.Source) jobregistry.Operation {
	switch source.(type) {
	case jobregistry.HTMLSource:
		return jobregistry.OperationCapture
	case jobregistry.PhotosSource:
		return jobregistry.OperationImportPhotos
	default:
		return jobregistry.OperationScrape
	}
}

// initialState is pending for sources that need a fetch and parsing for
// content the caller already supplied.
func initialState(source jobregistry.Source) jobregistry.State {
	if source.Kind() == jobregistry.SourceKindURL {
		return jobregistry.Pending{}
	}
	return jobregistry.Parsing{}
}

func versionSourceFor(job *jobregistry.Job) recipe.VersionSource {
	if job.TargetRecipeID != "" {
		return recipe.SourceRescrape
	}
	if job.Source.Kind() == jobregistry.SourceKindPhotos {
		return recipe.SourcePhoto
	}
	return recipe.SourceImport
}
