package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/3leaps/ramekin/internal/errors"
	"github.com/3leaps/ramekin/internal/observability"
	"github.com/3leaps/ramekin/pkg/extract"
	"github.com/3leaps/ramekin/pkg/fetch"
	"github.com/3leaps/ramekin/pkg/versionstore"
)

var (
	doctorPhotos string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment and configuration and suggest
fixes for common issues.

Examples:
  ramekin doctor               # Full environment check
  ramekin doctor --photos s3   # Also check AWS credentials for the S3 photo store`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorPhotos, "photos", "", "Run photo-backend checks (s3); defaults to the configured backend")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	backend := strings.ToLower(strings.TrimSpace(doctorPhotos))
	if backend == "" && appConfig != nil {
		backend = appConfig.Photos.Backend
	}

	allChecks := true
	checkNum := 1
	totalChecks := 7

	// S3 adds credential and source checks
	if backend == "s3" {
		totalChecks = 9
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Gofulmen and Crucible
	version := crucible.GetVersion()
	if version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen... ✅ v%s (crucible v%s)", checkNum, totalChecks, version.Gofulmen, version.Crucible),
			zap.String("gofulmen_version", version.Gofulmen),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen... ❌ Cannot read Gofulmen version", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	if appConfig == nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration not loaded",
			errwrap.NewBadRequest("configuration is required for diagnostics"))
	}
	cfg := appConfig

	// Check 3: Data directory
	if err := checkWritableDir(cfg.DataDir); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ %s", checkNum, totalChecks, cfg.DataDir),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ %s", checkNum, totalChecks, cfg.DataDir),
			zap.String("data_dir", cfg.DataDir))
	}
	checkNum++

	// Check 4: Recipe store
	storeTarget := cfg.Store.Path
	if cfg.Store.URL != "" {
		storeTarget = cfg.Store.URL
	}
	if err := checkStore(ctx, cfg.Store.Path, cfg.Store.URL, cfg.Store.AuthToken); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking recipe store... ❌ %s", checkNum, totalChecks, storeTarget),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking recipe store... ✅ %s", checkNum, totalChecks, storeTarget),
			zap.String("store", storeTarget))
	}
	checkNum++

	// Check 5: Fetch allowlist
	allowlist, err := fetch.NewAllowlist(cfg.Fetch.AllowedHosts)
	switch {
	case err != nil:
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking fetch allowlist... ❌ invalid pattern", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	case len(allowlist.Patterns()) == 0:
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking fetch allowlist... ⚠️  empty (every host may be fetched)", checkNum, totalChecks))
	default:
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking fetch allowlist... ✅ %d pattern(s)", checkNum, totalChecks, len(allowlist.Patterns())),
			zap.Strings("allowed_hosts", allowlist.Patterns()))
	}
	checkNum++

	// Check 6: Vision model
	if strings.TrimSpace(cfg.Vision.Provider) == "" {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking vision model... ⚠️  not configured (photo imports disabled)", checkNum, totalChecks))
	} else if _, err := extract.NewChatModel(extract.ModelConfig{
		Provider:   cfg.Vision.Provider,
		Model:      cfg.Vision.Model,
		APIKey:     cfg.Vision.APIKey,
		OllamaHost: cfg.Vision.OllamaHost,
	}); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking vision model... ❌ %s", checkNum, totalChecks, cfg.Vision.Provider),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking vision model... ✅ %s %s", checkNum, totalChecks, cfg.Vision.Provider, cfg.Vision.Model),
			zap.String("provider", cfg.Vision.Provider),
			zap.String("model", cfg.Vision.Model))
	}
	checkNum++

	// Check 7: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	// S3-specific checks
	if backend == "s3" {
		allChecks = runS3Checks(ctx, checkNum, totalChecks, allChecks)
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")

	if !allChecks {
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed",
			errwrap.NewExternalServiceError("one or more checks failed"))
	}
	return nil
}

// checkWritableDir creates dir if needed and verifies a file can be written
// in it.
func checkWritableDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("directory is not set")
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor.*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// checkStore opens and migrates the recipe database, then pings it.
func checkStore(ctx context.Context, path, url, authToken string) error {
	store, err := versionstore.OpenStore(ctx, versionstore.Config{Path: path, URL: url, AuthToken: authToken})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return store.Ping(ctx)
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Photo Store Checks:")

	// Check 8: AWS credentials
	var opts []func(*config.LoadOptions) error
	if appConfig != nil && appConfig.Photos.S3.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(appConfig.Photos.S3.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	// Mask the access key for display
	maskedKey := maskAccessKey(creds.AccessKeyID)
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskedKey),
		zap.String("source", creds.Source))
	checkNum++

	// Check 9: Credential source info
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))

	return allChecks
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials for the photo store:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' and set photos.s3.profile, or")
	observability.CLILogger.Info("  3. Use an IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, R2, etc.), also set:")
	observability.CLILogger.Info("  - photos.s3.endpoint (RAMEKIN_PHOTOS_S3_ENDPOINT)")
	observability.CLILogger.Info("")
}
