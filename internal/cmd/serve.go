package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/ramekin/internal/observability"
	"github.com/3leaps/ramekin/internal/server"
	"github.com/3leaps/ramekin/internal/server/handlers"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API for capture jobs and recipe history.

Jobs run on a bounded worker pool in the background; clients poll
GET /api/scrape/{id}. Requests must carry the X-Owner-ID header set by the
authenticating proxy in front of ramekin.

Jobs left unfinished by a previous process are resumed at startup.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := *appConfig
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := openApp(ctx, &cfg, appOptions{logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()

	handlers.InitHealthManager(versionInfo.Version)
	if cfg.Health.Enabled {
		hm := handlers.GetHealthManager()
		if id := GetAppIdentity(); id != nil {
			hm.RegisterChecker("identity", identityHealthChecker{
				binaryName: id.BinaryName,
				envPrefix:  id.EnvPrefix,
				configName: id.ConfigName,
			})
		}
		hm.RegisterChecker("store", storeHealthChecker{store: a.versions})
		hm.RegisterChecker("jobs", dirHealthChecker{dir: cfg.Jobs.Dir})
		if cfg.Photos.Backend == "file" {
			hm.RegisterChecker("photos", dirHealthChecker{dir: cfg.Photos.Dir, optional: true})
		}
	}

	resumed, err := a.engine.Resume(ctx)
	if err != nil {
		logger.Warn("failed to resume interrupted jobs", zap.Error(err))
	} else if resumed > 0 {
		logger.Info("resumed interrupted jobs", zap.Int("count", resumed))
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithCapture(a.engine),
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown requested", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitError(foundry.ExitSignalInt, "Shutdown incomplete", err)
	}
	if err := <-errCh; err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}

	// Running jobs finish before the stores close.
	a.engine.Wait()
	stats := a.engine.Stats()
	logger.Info("server stopped",
		zap.Int64("jobs_created", stats.Created),
		zap.Int64("jobs_completed", stats.Completed),
		zap.Int64("jobs_failed", stats.Failed))
	return nil
}

// identityHealthChecker reports an incomplete application identity.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("identity: missing env prefix")
	case c.configName == "":
		return errors.New("identity: missing config name")
	}
	return nil
}

// pinger is the part of versionstore.Store the store check needs.
type pinger interface {
	Ping(ctx context.Context) error
}

// storeHealthChecker pings the recipe database.
type storeHealthChecker struct {
	store pinger
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	if c.store == nil {
		return errors.New("store: not initialized")
	}
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// dirHealthChecker verifies a data directory exists. Optional directories
// may be absent until first written.
type dirHealthChecker struct {
	dir      string
	optional bool
}

func (c dirHealthChecker) CheckHealth(context.Context) error {
	info, err := os.Stat(c.dir)
	if err != nil {
		if c.optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("dir %s: %w", c.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("dir %s: not a directory", c.dir)
	}
	return nil
}

var (
	_ handlers.HealthChecker = identityHealthChecker{}
	_ handlers.HealthChecker = storeHealthChecker{}
	_ handlers.HealthChecker = dirHealthChecker{}
)
