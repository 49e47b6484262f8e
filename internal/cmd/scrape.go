package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/ramekin/internal/observability"
	"github.com/3leaps/ramekin/pkg/capture"
	"github.com/3leaps/ramekin/pkg/jobregistry"
)

var (
	captureFile      string
	captureSourceURL string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Fetch a recipe page and store the extracted recipe",
	Long: `Fetch a recipe page, extract its schema.org recipe and store it as a new
recipe for the owner.

The job runs to completion before the command returns and the finished job
is printed. A job that fails at scraping or parsing exits non-zero and can
be retried with "ramekin jobs retry".

Examples:
  ramekin scrape https://example.com/recipes/apple-pie --owner alice
  RAMEKIN_OWNER=alice ramekin scrape https://example.com/stew -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runScrape,
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Store a recipe from HTML you already have",
	Long: `Extract a recipe from pre-captured HTML, for example a page saved from
behind a login. No network request is made; --source-url records where the
HTML came from.

Examples:
  ramekin capture --file stew.html --source-url https://members.example.com/stew
  curl -s https://example.com/pie | ramekin capture --file - --source-url https://example.com/pie`,
	Args: cobra.NoArgs,
	RunE: runCapture,
}

var importPhotosCmd = &cobra.Command{
	Use:   "import-photos <photo-id>...",
	Short: "Extract a recipe from stored photos of a recipe card",
	Long: `Extract a recipe from one or more photos already in the owner's photo
store using the configured vision model. Upload photos first with
"ramekin photos put".

Examples:
  ramekin import-photos card-front card-back --owner alice`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImportPhotos,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(importPhotosCmd)

	captureCmd.Flags().StringVarP(&captureFile, "file", "f", "", "HTML file to capture ('-' for stdin)")
	captureCmd.Flags().StringVar(&captureSourceURL, "source-url", "", "URL the HTML was captured from")
	_ = captureCmd.MarkFlagRequired("file")
	_ = captureCmd.MarkFlagRequired("source-url")
}

func runScrape(cmd *cobra.Command, args []string) error {
	return createAndReport(cmd, jobregistry.URLSource{URL: strings.TrimSpace(args[0])})
}

func runCapture(cmd *cobra.Command, _ []string) error {
	html, err := readHTMLInput(cmd.InOrStdin(), captureFile)
	if err != nil {
		return err
	}
	return createAndReport(cmd, jobregistry.HTMLSource{Content: html, SourceURL: strings.TrimSpace(captureSourceURL)})
}

func runImportPhotos(cmd *cobra.Command, args []string) error {
	return createAndReport(cmd, jobregistry.PhotosSource{PhotoIDs: args})
}

// createAndReport runs one capture job inline and prints the finished job.
func createAndReport(cmd *cobra.Command, source jobregistry.Source) error {
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

	job, err := a.engine.CreateJob(ctx, owner, source)
	if job == nil {
		return jobError("Capture rejected", err)
	}
	if printErr := printResult(cmd.OutOrStdout(), job); printErr != nil {
		return printErr
	}
	if err != nil {
		return jobError("Capture did not finish", err)
	}
	return failedJobError(job)
}

// jobError maps engine errors to exit codes.
func jobError(message string, err error) error {
	switch {
	case capture.IsClientError(err):
		return exitError(foundry.ExitInvalidArgument, message, err)
	case capture.IsNotFound(err):
		return exitError(foundry.ExitFileNotFound, message, err)
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, message, err)
	}
}

// failedJobError returns an error when job ended in the failed state.
func failedJobError(job *jobregistry.Job) error {
	if job.Status() != jobregistry.StatusFailed {
		observability.CLILogger.Info("Capture job finished",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status())),
			zap.String("recipe_id", job.RecipeID()))
		return nil
	}
	return exitError(foundry.ExitExternalServiceUnavailable,
		fmt.Sprintf("Job %s failed at %s", job.ID, job.FailedAtStep()),
		errors.New(job.ErrorMessage()))
}

// readHTMLInput reads path, or stdin when path is "-".
func readHTMLInput(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
		if err != nil {
			return "", exitError(foundry.ExitFileReadError, "Failed to read stdin", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", exitError(foundry.ExitFileNotFound, "HTML file not found", err)
			}
			return "", exitError(foundry.ExitFileReadError, "Failed to read HTML file", err)
		}
	}
	return string(data), nil
}
