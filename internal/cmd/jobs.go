package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/3leaps/ramekin/pkg/jobregistry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and retry capture jobs",
	Long: `Inspect capture jobs for the owner.

Jobs are stored on disk under the data directory with stable ids, so they
can be listed, inspected and retried from later invocations.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List capture jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job_id>",
	Short: "Retry a failed job from the step it failed at",
	Long: `Retry a failed job. A job that failed at scraping is fetched again; a job
that failed at parsing reuses the stored content and only re-runs
extraction.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsRetry,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsRetryCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	owner, err := resolveOwner()
	if err != nil {
		return err
	}
	format, err := listFormat(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	a, err := openApp(ctx, appConfig, appOptions{inline: true, ownerID: owner})
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.engine.ListJobs(ctx, owner)
	if err != nil {
		return jobError("Failed to list jobs", err)
	}

	out := cmd.OutOrStdout()
	if format != formatTable {
		if jobs == nil {
			jobs = []jobregistry.Job{}
		}
		return writeFormatted(out, format, map[string]any{"jobs": jobs})
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tOPERATION\tSTATUS\tRECIPE\tRETRIES\tCREATED\tERROR")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(j.ID),
			j.Operation,
			j.Status(),
			orDash(shortID(j.RecipeID())),
			j.RetryCount,
			formatTime(j.CreatedAt),
			orDash(j.ErrorMessage()),
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	owner, err := resolveOwner()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	a, err := openApp(ctx, appConfig, appOptions{inline: true, ownerID: owner})
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.engine.GetJob(ctx, owner, args[0])
	if err != nil {
		return jobError("Failed to read job", err)
	}
	return printResult(cmd.OutOrStdout(), job)
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	owner, err := resolveOwner()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	a, err := openApp(ctx, appConfig, appOptions{inline: true, ownerID: owner})
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.engine.RetryJob(ctx, owner, args[0])
	if job == nil {
		return jobError("Retry rejected", err)
	}
	if printErr := printResult(cmd.OutOrStdout(), job); printErr != nil {
		return printErr
	}
	if err != nil {
		return jobError("Retry did not finish", err)
	}
	return failedJobError(job)
}
