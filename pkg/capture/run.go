package capture

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/ramekin/pkg/extract"
	"github.com/3leaps/ramekin/pkg/jobregistry"
	"github.com/3leaps/ramekin/pkg/output"
	"github.com/3leaps/ramekin/pkg/recipe"
	"github.com/3leaps/ramekin/pkg/versionstore"
)

// Run drives one job from its stored state to completed or failed. Fetch
// and extraction failures end up on the job and Run returns nil for them.
// The returned error is reserved for registry and version store failures,
// which leave the job where it was.
func (e *Engine) Run(ctx context.Context, jobID string) error {
	job, err := e.jobs.Get(jobID)
	if err != nil {
		return mapNotFound(err)
	}

	switch job.State.(type) {
	case jobregistry.Pending, jobregistry.Scraping:
		var ok bool
		job, ok, err = e.scrape(ctx, job)
		if err != nil || !ok {
			return err
		}
		return e.parse(ctx, job)

	case jobregistry.Parsing:
		return e.parse(ctx, job)

	default:
		// Completed and failed jobs only move again through RetryJob.
		return nil
	}
}

// scrape fetches the job's url and stores the body as the content artifact.
// ok is false when the job failed at scraping.
func (e *Engine) scrape(ctx context.Context, job *jobregistry.Job) (*jobregistry.Job, bool, error) {
	job, err := e.transition(ctx, job.ID, jobregistry.Scraping{})
	if err != nil {
		return nil, false, err
	}

	sourceURL := job.SourceURL()
	if e.fetcher == nil {
		_, err := e.fail(ctx, job.ID, jobregistry.StepScraping, "fetcher is not configured")
		return nil, false, err
	}

	body, fetchErr := e.fetcher.Fetch(ctx, sourceURL)
	if fetchErr != nil {
		_, err := e.fail(ctx, job.ID, jobregistry.StepScraping, fetchErr.Error())
		return nil, false, err
	}
	if err := e.jobs.WriteArtifact(job.ID, jobregistry.ContentArtifact, body); err != nil {
		return nil, false, e.persistError(ctx, job.ID, fmt.Errorf("save content: %w", err))
	}

	job, err = e.transition(ctx, job.ID, jobregistry.Parsing{})
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// parse extracts a draft and writes it to the version store. A job whose
// version is already stored, because an earlier run stopped before marking
// it completed, is completed without extracting again.
func (e *Engine) parse(ctx context.Context, job *jobregistry.Job) error {
	stored, err := e.versions.VersionForJob(ctx, job.ID, job.OwnerID)
	switch {
	case err == nil:
		e.logger.Info("capture job version already stored",
			zap.String("job_id", job.ID),
			zap.String("version_id", stored.ID),
		)
		return e.complete(ctx, job.ID, stored)
	case !errors.Is(err, versionstore.ErrNotFound):
		return e.persistError(ctx, job.ID, err)
	}

	content := extract.Content{OwnerID: job.OwnerID, SourceURL: job.SourceURL()}
	if ps, ok := job.Source.(jobregistry.PhotosSource); ok {
		content.PhotoIDs = ps.PhotoIDs
	} else {
		body, err := e.jobs.ReadArtifact(job.ID, jobregistry.ContentArtifact)
		if err != nil {
			if errors.Is(err, jobregistry.ErrNotFound) {
				_, err = e.fail(ctx, job.ID, jobregistry.StepParsing, "captured content is missing")
				return err
			}
			return e.persistError(ctx, job.ID, err)
		}
		content.HTML = string(body)
	}

	ex, err := e.extractors.For(job.Source.Kind())
	if err != nil {
		_, err = e.fail(ctx, job.ID, jobregistry.StepParsing, err.Error())
		return err
	}

	draft, extractErr := e.extract(ctx, ex, content)
	if extractErr != nil {
		_, err = e.fail(ctx, job.ID, jobregistry.StepParsing, extractErr.Error())
		return err
	}

	source := versionSourceFor(job)
	var v *recipe.Version
	if job.TargetRecipeID != "" {
		v, err = e.versions.AppendVersion(ctx, job.TargetRecipeID, job.OwnerID, *draft, source, versionstore.ForJob(job.ID))
		if errors.Is(err, versionstore.ErrNotFound) {
			// The recipe was deleted while the rescrape ran.
			_, err = e.fail(ctx, job.ID, jobregistry.StepParsing, "target recipe no longer exists")
			return err
		}
	} else {
		v, err = e.versions.CreateRecipe(ctx, job.OwnerID, *draft, source, versionstore.ForJob(job.ID))
	}
	if err != nil {
		return e.persistError(ctx, job.ID, mapNotFound(err))
	}
	e.emitVersion(ctx, job.ID, v)
	return e.complete(ctx, job.ID, v)
}

func (e *Engine) complete(ctx context.Context, jobID string, v *recipe.Version) error {
	if _, err := e.transition(ctx, jobID, jobregistry.Completed{RecipeID: v.RecipeID}); err != nil {
		return err
	}
	e.completed.Add(1)
	return nil
}

// extract runs ex under the extraction timeout. Extractors that ignore
// their context are abandoned when the timer fires.
func (e *Engine) extract(ctx context.Context, ex extract.Extractor, content extract.Content) (*recipe.Draft, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ExtractTimeout)
	defer cancel()

	type result struct {
		draft *recipe.Draft
		err   error
	}
	done := make(chan result, 1)
	go func() {
		d, err := ex.Extract(ctx, content)
		done <- result{draft: d, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.draft == nil {
			return nil, errors.New("extractor returned no recipe")
		}
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, e.timeoutError()
			}
			return nil, r.err
		}
		// Every draft is validated here, whichever extractor produced it.
		return extract.Finish(r.draft)
	case <-ctx.Done():
		return nil, e.timeoutError()
	}
}

func (e *Engine) timeoutError() error {
	return fmt.Errorf("extraction timed out after %s", e.cfg.ExtractTimeout)
}

func (e *Engine) transition(ctx context.Context, jobID string, next jobregistry.State) (*jobregistry.Job, error) {
	job, err := e.jobs.Update(jobID, func(j *jobregistry.Job) error {
		j.State = next
		return nil
	})
	if err != nil {
		return nil, e.persistError(ctx, jobID, fmt.Errorf("update job: %w", mapNotFound(err)))
	}

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status())),
	}
	if id := job.RecipeID(); id != "" {
		fields = append(fields, zap.String("recipe_id", id))
	}
	e.logger.Info("capture job transition", fields...)
	e.emitJob(ctx, job)
	return job, nil
}

func (e *Engine) fail(ctx context.Context, jobID string, step jobregistry.Step, msg string) (*jobregistry.Job, error) {
	job, err := e.jobs.Update(jobID, func(j *jobregistry.Job) error {
		j.State = jobregistry.Failed{Step: step, Error: msg}
		return nil
	})
	if err != nil {
		return nil, e.persistError(ctx, jobID, fmt.Errorf("update job: %w", mapNotFound(err)))
	}
	e.failed.Add(1)
	e.logger.Warn("capture job failed",
		zap.String("job_id", jobID),
		zap.String("step", string(step)),
		zap.String("error", msg),
	)
	e.emitJob(ctx, job)
	return job, nil
}

func (e *Engine) persistError(ctx context.Context, jobID string, err error) error {
	e.errCount.Add(1)
	e.logger.Error("capture persistence error", zap.String("job_id", jobID), zap.Error(err))

	code := output.ErrCodePersistence
	if IsNotFound(err) {
		code = output.ErrCodeNotFound
	}
	if werr := e.events.WriteError(ctx, &output.ErrorRecord{Code: code, Message: err.Error(), JobID: jobID}); werr != nil {
		e.logger.Debug("event write failed", zap.Error(werr))
	}
	return err
}

func (e *Engine) emitJob(ctx context.Context, job *jobregistry.Job) {
	rec := &output.JobRecord{
		JobID:        job.ID,
		Operation:    string(job.Operation),
		SourceKind:   string(job.Source.Kind()),
		Status:       string(job.Status()),
		FailedAtStep: string(job.FailedAtStep()),
		Error:        job.ErrorMessage(),
		RecipeID:     job.RecipeID(),
		RetryCount:   job.RetryCount,
	}
	if err := e.events.WriteJob(ctx, rec); err != nil {
		e.logger.Debug("event write failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (e *Engine) emitVersion(ctx context.Context, jobID string, v *recipe.Version) {
	rec := &output.VersionRecord{
		JobID:         jobID,
		RecipeID:      v.RecipeID,
		VersionID:     v.ID,
		VersionNumber: v.Number,
		VersionSource: string(v.Source),
		Title:         v.Content.Title,
	}
	if err := e.events.WriteVersion(ctx, rec); err != nil {
		e.logger.Debug("event write failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
