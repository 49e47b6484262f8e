package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/ramekin/internal/config"
	"github.com/3leaps/ramekin/internal/observability"
	"github.com/3leaps/ramekin/pkg/capture"
	"github.com/3leaps/ramekin/pkg/extract"
	"github.com/3leaps/ramekin/pkg/fetch"
	"github.com/3leaps/ramekin/pkg/jobregistry"
	"github.com/3leaps/ramekin/pkg/output"
	"github.com/3leaps/ramekin/pkg/photostore"
	"github.com/3leaps/ramekin/pkg/photostore/file"
	"github.com/3leaps/ramekin/pkg/photostore/s3"
	"github.com/3leaps/ramekin/pkg/versionstore"
)

// app holds the stores and engine a command works against.
type app struct {
	cfg      *config.Config
	engine   *capture.Engine
	versions *versionstore.Store
	jobs     *jobregistry.Store
	photos   photostore.Store
	events   output.Writer

	cleanup []func()
}

// appOptions tune how openApp wires the engine.
type appOptions struct {
	// inline runs jobs on the calling goroutine so a command can print the
	// finished job.
	inline bool
	// workers overrides cfg.Workers when positive.
	workers int
	// logger receives engine logs. Defaults to the CLI logger.
	logger *zap.Logger
	// ownerID is stamped on emitted events.
	ownerID string
}

// openApp opens the stores described by cfg and builds a capture engine.
// Close must be called when done.
func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if cfg == nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Configuration not loaded", errors.New("config is nil"))
	}
	logger := opts.logger
	if logger == nil {
		logger = observability.CLILogger
	}

	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	versions, err := versionstore.OpenStore(ctx, versionstore.Config{
		Path:      cfg.Store.Path,
		URL:       cfg.Store.URL,
		AuthToken: cfg.Store.AuthToken,
	})
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open recipe store", err)
	}
	a.versions = versions
	a.cleanup = append(a.cleanup, func() { _ = versions.Close() })

	jobs := jobregistry.NewStore(cfg.Jobs.Dir)
	a.jobs = jobs

	allowlist, err := fetch.NewAllowlist(cfg.Fetch.AllowedHosts)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid fetch.allowed_hosts", err)
	}
	fetcher := fetch.NewHTTPFetcher(nil, allowlist, fetch.Config{
		Timeout:      cfg.Fetch.Timeout,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		RatePerHost:  cfg.Fetch.RatePerHost,
		UserAgent:    cfg.Fetch.UserAgent,
	})

	photos, err := openPhotoStore(ctx, cfg.Photos)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open photo store", err)
	}
	a.photos = photos

	extractors, err := buildExtractors(cfg.Vision, photos)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid vision configuration", err)
	}

	events, closeEvents, err := createEventWriter(eventsPath, opts.ownerID)
	if err != nil {
		return nil, exitError(foundry.ExitFileWriteError, "Failed to open event output", err)
	}
	a.events = events
	a.cleanup = append(a.cleanup, closeEvents)

	workers := cfg.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}
	engine, err := capture.New(capture.Config{
		Workers:        workers,
		ExtractTimeout: cfg.Extract.Timeout,
		Inline:         opts.inline,
	}, capture.Deps{
		Jobs:       jobs,
		Versions:   versions,
		Fetcher:    fetcher,
		Allowlist:  allowlist,
		Extractors: extractors,
		Photos:     photos,
		Logger:     logger,
		Events:     events,
	})
	if err != nil {
		return nil, fmt.Errorf("create capture engine: %w", err)
	}
	a.engine = engine

	ok = true
	return a, nil
}

// Close stops the engine, waiting for running jobs, then closes the stores
// in reverse order of opening.
func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

func openPhotoStore(ctx context.Context, cfg config.PhotosConfig) (photostore.Store, error) {
	switch cfg.Backend {
	case "", "file":
		store, err := file.New(file.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		store, err := s3.New(ctx, s3.Config{
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
			Profile:  cfg.S3.Profile,
			// S3-compatible services (MinIO, R2) need path-style URLs.
			ForcePathStyle: cfg.S3.ForcePathStyle || cfg.S3.Endpoint != "",
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown photo backend %q", cfg.Backend)
	}
}

// buildExtractors wires the HTML extractors and, when a vision provider is
// configured, the photo extractor. Without one, photo imports fail at
// parsing with "no extractor configured".
func buildExtractors(cfg config.VisionConfig, photos photostore.Store) (extract.Set, error) {
	set := extract.Set{
		HTML:        extract.HTML{},
		PreSupplied: extract.PreSupplied{HTML: extract.HTML{}},
	}
	if strings.TrimSpace(cfg.Provider) == "" {
		return set, nil
	}
	model, err := extract.NewChatModel(extract.ModelConfig{
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		APIKey:     cfg.APIKey,
		OllamaHost: cfg.OllamaHost,
	})
	if err != nil {
		return extract.Set{}, err
	}
	set.Vision = &extract.Vision{Model: model, Photos: photos, MaxTokens: cfg.MaxTokens}
	return set, nil
}

// createEventWriter opens the JSONL event stream selected by --events.
// Returns the writer and a cleanup function.
func createEventWriter(dest, ownerID string) (output.Writer, func(), error) {
	switch dest {
	case "":
		return output.Discard, func() {}, nil
	case "-", "stderr":
		w := output.NewJSONLWriter(os.Stderr, ownerID)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event file %s: %w", path, err)
	}
	w := output.NewJSONLWriter(f, ownerID)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
