// Package cmd implements the ramekin command-line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/ramekin/internal/config"
	"github.com/3leaps/ramekin/internal/observability"
	"github.com/3leaps/ramekin/internal/server/handlers"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// appIdentity is set by PersistentPreRunE before any command runs.
var appIdentity *config.Identity

// appConfig is the configuration loaded for the running command.
var appConfig *config.Config

var (
	cfgFile    string
	verbose    bool
	logLevel   string
	dataDir    string
	eventsPath string
)

var rootCmd = &cobra.Command{
	Use:   "ramekin",
	Short: "Capture recipes from web pages, saved HTML and photos",
	Long: `ramekin captures recipes into a versioned, per-owner store.

A capture job fetches a page (or accepts pre-supplied HTML or photos),
extracts the recipe and stores it as a new version. Every edit or rescrape
appends a version; history is never rewritten.

Run "ramekin serve" for the HTTP API or use the capture commands directly.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initCLI,
}

func init() {
	setDefaults()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./ramekin.yaml or user config dir)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&logLevel, "log-level", "", "Server log level (debug, info, warn, error)")
	pf.StringVar(&dataDir, "data-dir", "", "Directory for the recipe database, job records and local photos")
	pf.StringVar(&eventsPath, "events", "", "Write JSONL job events to a file ('-' for stderr)")
	pf.String("owner", "", "Owner id to act as (env: RAMEKIN_OWNER)")
	pf.StringP("output", "o", "json", "Result format: json, yaml or table")

	bindGlobalFlags()
}

// bindGlobalFlags binds the persistent flags read through viper.
func bindGlobalFlags() {
	pf := rootCmd.PersistentFlags()
	_ = viper.BindPFlag("owner", pf.Lookup("owner"))
	_ = viper.BindPFlag("output", pf.Lookup("output"))
}

// setDefaults seeds the CLI-level keys held in the global viper instance.
// Application settings live in the config package.
func setDefaults() {
	viper.SetDefault("owner", "")
	viper.SetDefault("output", "json")
}

// SetVersionInfo records build metadata for the version command and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity in use, or nil before initialization.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// Execute runs the root command and exits with the code carried by the
// returned error.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ExitWithCode(observability.CLILogger, exitCodeOf(err), "Command failed", err)
	}
}

func initCLI(cmd *cobra.Command, _ []string) error {
	if appIdentity == nil {
		id := config.DefaultIdentity
		appIdentity = &id
	}
	config.SetAppIdentity(*appIdentity)
	observability.InitCLILogger(appIdentity.BinaryName, verbose)

	_ = viper.BindEnv("owner", appIdentity.EnvPrefix+"_OWNER")

	config.SetConfigFile(cfgFile)
	overrides := map[string]any{}
	if cmd.Flags().Changed("data-dir") {
		overrides["data_dir"] = dataDir
	}
	if cmd.Flags().Changed("log-level") {
		overrides["logging"] = map[string]any{"level": logLevel}
	}

	cfg, err := config.Load(commandContext(cmd), overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg

	observability.CLILogger.Debug("configuration loaded",
		zap.String("data_dir", cfg.DataDir),
		zap.String("store_path", cfg.Store.Path),
		zap.String("photos_backend", cfg.Photos.Backend))
	return nil
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// resolveOwner returns the owner id from --owner or RAMEKIN_OWNER.
func resolveOwner() (string, error) {
	owner := strings.TrimSpace(viper.GetString("owner"))
	if owner == "" {
		return "", exitError(foundry.ExitInvalidArgument, "Owner required",
			errors.New("set --owner or "+envName("OWNER")))
	}
	return owner, nil
}

func envName(suffix string) string {
	prefix := config.DefaultIdentity.EnvPrefix
	if appIdentity != nil {
		prefix = appIdentity.EnvPrefix
	}
	return prefix + "_" + suffix
}

// exitError wraps err with a message and the process exit code Execute
// should use.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

var exitCodePattern = regexp.MustCompile(`\(exit code (\d+)\)`)

// exitCodeOf extracts the outermost exit code from err, defaulting to 1.
func exitCodeOf(err error) int {
	m := exitCodePattern.FindAllStringSubmatch(err.Error(), -1)
	if len(m) == 0 {
		return 1
	}
	code, convErr := strconv.Atoi(m[len(m)-1][1])
	if convErr != nil {
		return 1
	}
	return code
}

// ExitWithCode logs err and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
	_ = logger.Sync()
	os.Exit(code)
}
