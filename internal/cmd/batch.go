package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/ramekin/internal/observability"
	"github.com/3leaps/ramekin/pkg/capture"
	"github.com/3leaps/ramekin/pkg/jobregistry"
	"github.com/3leaps/ramekin/pkg/manifest"
	"github.com/3leaps/ramekin/pkg/output"
)

var batchDryRun bool

var batchCmd = &cobra.Command{
	Use:   "batch <manifest>",
	Short: "Capture every source listed in a batch manifest",
	Long: `Run capture jobs for every source in a YAML or JSON batch manifest.

Sources are submitted in order and run on a bounded worker pool (manifest
"workers", else the configured worker count). Sources rejected by validation
are reported and skipped; they never create a job. The command waits for all
jobs and prints each job's final state plus a summary.

Use --events to also stream JSONL job events while the batch runs.

Examples:
  ramekin batch weekend.yaml --owner alice
  ramekin batch weekend.yaml --dry-run
  ramekin batch weekend.yaml --events batch.jsonl -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "Validate the manifest and list its sources without running anything")
}

// batchRejection is a source that never became a job.
type batchRejection struct {
	Index  int    `json:"index"`
	Source string `json:"source"`
	Error  string `json:"error"`
}

// batchReport is the printed result of a batch run.
type batchReport struct {
	Jobs     []*jobregistry.Job    `json:"jobs"`
	Rejected []batchRejection      `json:"rejected"`
	Summary  *output.SummaryRecord `json:"summary"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	m, err := manifest.Load(args[0])
	if err != nil {
		return manifestError(err)
	}

	if batchDryRun {
		return printDryRun(cmd, m)
	}

	owner := strings.TrimSpace(viper.GetString("owner"))
	if owner == "" {
		owner = strings.TrimSpace(m.Owner)
	}
	if owner == "" {
		return exitError(foundry.ExitInvalidArgument, "Owner required",
			errors.New("set --owner, "+envName("OWNER")+" or the manifest owner"))
	}
	ctx := commandContext(cmd)

	a, err := openApp(ctx, appConfig, appOptions{workers: m.Workers, ownerID: owner})
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	report := batchReport{Jobs: []*jobregistry.Job{}, Rejected: []batchRejection{}}
	var submitted []string

	for i, entry := range m.Sources {
		job, err := submitEntry(cmd, a, m, owner, entry)
		if err != nil {
			observability.CLILogger.Warn("Source rejected",
				zap.Int("index", i),
				zap.String("source", entry.Describe()),
				zap.Error(err))
			report.Rejected = append(report.Rejected, batchRejection{
				Index:  i,
				Source: entry.Describe(),
				Error:  err.Error(),
			})
			_ = a.events.WriteError(ctx, &output.ErrorRecord{
				Code:    rejectionCode(err),
				Message: err.Error(),
				Details: map[string]any{"index": i, "source": entry.Describe()},
			})
			continue
		}
		submitted = append(submitted, job.ID)
	}

	a.engine.Wait()

	for _, id := range submitted {
		job, err := a.engine.GetJob(ctx, owner, id)
		if err != nil {
			return jobError("Failed to read job", err)
		}
		report.Jobs = append(report.Jobs, job)
	}

	stats := a.engine.Stats()
	duration := time.Since(start)
	report.Summary = &output.SummaryRecord{
		Jobs:          stats.Created,
		Completed:     stats.Completed,
		Failed:        stats.Failed,
		Errors:        stats.Errors + int64(len(report.Rejected)),
		Duration:      duration,
		DurationHuman: duration.Round(time.Millisecond).String(),
	}
	_ = a.events.WriteSummary(ctx, report.Summary)

	observability.CLILogger.Info("Batch finished",
		zap.Int64("jobs", stats.Created),
		zap.Int64("completed", stats.Completed),
		zap.Int64("failed", stats.Failed),
		zap.Int("rejected", len(report.Rejected)),
		zap.Duration("duration", duration))

	if err := printResult(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if stats.Failed > 0 || stats.Errors > 0 || len(report.Rejected) > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "Batch completed with failures",
			fmt.Errorf("failed=%d rejected=%d errors=%d", stats.Failed, len(report.Rejected), stats.Errors))
	}
	return nil
}

func submitEntry(cmd *cobra.Command, a *app, m *manifest.Manifest, owner string, entry manifest.SourceEntry) (*jobregistry.Job, error) {
	ctx := commandContext(cmd)
	if entry.Kind() == "rescrape" {
		return a.engine.Rescrape(ctx, owner, entry.Rescrape)
	}
	source, err := m.JobSource(entry)
	if err != nil {
		return nil, err
	}
	return a.engine.CreateJob(ctx, owner, source)
}

func rejectionCode(err error) string {
	switch {
	case capture.IsNotFound(err):
		return output.ErrCodeNotFound
	case capture.IsClientError(err):
		return output.ErrCodeInvalidSource
	default:
		return output.ErrCodeInternal
	}
}

func manifestError(err error) error {
	switch {
	case errors.Is(err, manifest.ErrManifestNotFound):
		return exitError(foundry.ExitFileNotFound, "Manifest not found", err)
	case errors.Is(err, manifest.ErrValidationFailed):
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	default:
		return exitError(foundry.ExitFileReadError, "Failed to load manifest", err)
	}
}

// dryRunSource describes one manifest entry for --dry-run.
type dryRunSource struct {
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	Source string `json:"source"`
}

func printDryRun(cmd *cobra.Command, m *manifest.Manifest) error {
	sources := make([]dryRunSource, 0, len(m.Sources))
	for i, e := range m.Sources {
		sources = append(sources, dryRunSource{Index: i, Kind: e.Kind(), Source: e.Describe()})
	}
	return printResult(cmd.OutOrStdout(), map[string]any{
		"version": m.Version,
		"owner":   m.Owner,
		"workers": m.Workers,
		"sources": sources,
	})
}
