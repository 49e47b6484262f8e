package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/ramekin/internal/observability"
	"github.com/3leaps/ramekin/pkg/recipe"
)

var (
	recipeVersionID string
	recipeEditFile  string
	recipeDeleteYes bool
)

var recipesCmd = &cobra.Command{
	Use:     "recipes",
	Aliases: []string{"recipe"},
	Short:   "Browse, edit and rescrape stored recipes",
	Long: `Browse the owner's recipes and their version history.

Every capture, edit and rescrape appends an immutable version and makes it
current. Older versions stay readable by id.`,
}

var recipesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recipes, most recently updated first",
	Args:  cobra.NoArgs,
	RunE:  runRecipesList,
}

var recipesShowCmd = &cobra.Command{
	Use:   "show <recipe_id>",
	Short: "Show the current version of a recipe (or --version)",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecipesShow,
}

var recipesVersionsCmd = &cobra.Command{
	Use:   "versions <recipe_id>",
	Short: "List a recipe's versions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecipesVersions,
}

var recipesEditCmd = &cobra.Command{
	Use:   "edit <recipe_id>",
	Short: "Save edited content as a new user version",
	Long: `Save recipe content from a YAML or JSON file as a new version with source
"user". The file holds the recipe content fields (title, instructions,
ingredients, ...), for example the "content" section printed by
"ramekin recipes show -o yaml".

Examples:
  ramekin recipes show 3f2c6a0e -o yaml > pie.yaml   # edit the content section
  ramekin recipes edit 3f2c6a0e --file pie.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRecipesEdit,
}

var recipesRescrapeCmd = &cobra.Command{
	Use:   "rescrape <recipe_id>",
	Short: "Re-fetch a recipe's source page and append the result as a version",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecipesRescrape,
}

var recipesDeleteCmd = &cobra.Command{
	Use:   "delete <recipe_id>",
	Short: "Delete a recipe and its entire version history",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecipesDelete,
}

func init() {
	rootCmd.AddCommand(recipesCmd)
	recipesCmd.AddCommand(recipesListCmd)
	recipesCmd.AddCommand(recipesShowCmd)
	recipesCmd.AddCommand(recipesVersionsCmd)
	recipesCmd.AddCommand(recipesEditCmd)
	recipesCmd.AddCommand(recipesRescrapeCmd)
	recipesCmd.AddCommand(recipesDeleteCmd)

	recipesListCmd.Flags().Bool("json", false, "Output as JSON")
	recipesVersionsCmd.Flags().Bool("json", false, "Output as JSON")
	recipesShowCmd.Flags().StringVar(&recipeVersionID, "version", "", "Version id (default: current)")
	recipesEditCmd.Flags().StringVarP(&recipeEditFile, "file", "f", "", "YAML or JSON file with the recipe content ('-' for stdin)")
	_ = recipesEditCmd.MarkFlagRequired("file")
	recipesDeleteCmd.Flags().BoolVarP(&recipeDeleteYes, "yes", "y", false, "Confirm deletion")
}

func runRecipesList(cmd *cobra.Command, _ []string) error {
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

	recipes, err := a.engine.ListRecipes(ctx, owner)
	if err != nil {
		return jobError("Failed to list recipes", err)
	}

	out := cmd.OutOrStdout()
	if format != formatTable {
		if recipes == nil {
			recipes = []recipe.Recipe{}
		}
		return writeFormatted(out, format, map[string]any{"recipes": recipes})
	}
	if len(recipes) == 0 {
		_, _ = fmt.Fprintln(out, "No recipes found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "RECIPE ID\tTITLE\tCURRENT VERSION\tUPDATED")
	for _, r := range recipes {
		title := "-"
		if v, err := a.engine.GetRecipeVersion(ctx, owner, r.ID, r.CurrentVersionID); err == nil {
			title = orDash(v.Content.Title)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.ID,
			title,
			shortID(r.CurrentVersionID),
			formatTime(r.UpdatedAt),
		)
	}
	return nil
}

func runRecipesShow(cmd *cobra.Command, args []string) error {
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

	v, err := a.engine.GetRecipeVersion(ctx, owner, args[0], recipeVersionID)
	if err != nil {
		return jobError("Failed to read recipe", err)
	}
	return printResult(cmd.OutOrStdout(), v)
}

func runRecipesVersions(cmd *cobra.Command, args []string) error {
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

	versions, err := a.engine.ListVersions(ctx, owner, args[0])
	if err != nil {
		return jobError("Failed to list versions", err)
	}

	out := cmd.OutOrStdout()
	if format != formatTable {
		return writeFormatted(out, format, map[string]any{"versions": versions})
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "VERSION\tVERSION ID\tSOURCE\tCURRENT\tCREATED\tTITLE")
	for _, v := range versions {
		current := ""
		if v.IsCurrent {
			current = "*"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			v.Number,
			v.ID,
			v.Source,
			current,
			formatTime(v.CreatedAt),
			orDash(v.Content.Title),
		)
	}
	return nil
}

func runRecipesEdit(cmd *cobra.Command, args []string) error {
	owner, err := resolveOwner()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	draft, err := readDraft(cmd.InOrStdin(), recipeEditFile)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, appConfig, appOptions{inline: true, ownerID: owner})
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.engine.SaveUserVersion(ctx, owner, args[0], *draft)
	if err != nil {
		return jobError("Failed to save version", err)
	}
	observability.CLILogger.Info("Version saved",
		zap.String("recipe_id", v.RecipeID),
		zap.Int("version_number", v.Number))
	return printResult(cmd.OutOrStdout(), v)
}

func runRecipesRescrape(cmd *cobra.Command, args []string) error {
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

	job, err := a.engine.Rescrape(ctx, owner, args[0])
	if job == nil {
		return jobError("Rescrape rejected", err)
	}
	if printErr := printResult(cmd.OutOrStdout(), job); printErr != nil {
		return printErr
	}
	if err != nil {
		return jobError("Rescrape did not finish", err)
	}
	return failedJobError(job)
}

func runRecipesDelete(cmd *cobra.Command, args []string) error {
	owner, err := resolveOwner()
	if err != nil {
		return err
	}
	if !recipeDeleteYes {
		return exitError(foundry.ExitInvalidArgument, "Refusing to delete without --yes",
			fmt.Errorf("recipe %s and all of its versions would be removed", args[0]))
	}
	ctx := commandContext(cmd)

	a, err := openApp(ctx, appConfig, appOptions{inline: true, ownerID: owner})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.DeleteRecipe(ctx, owner, args[0]); err != nil {
		return jobError("Failed to delete recipe", err)
	}
	observability.CLILogger.Info("Recipe deleted", zap.String("recipe_id", args[0]))
	return nil
}

// readDraft decodes recipe content from a YAML or JSON file. JSON is valid
// YAML, so one decoder serves both. Unknown fields are rejected.
func readDraft(stdin io.Reader, path string) (*recipe.Draft, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(foundry.ExitFileNotFound, "Recipe file not found", err)
		}
		return nil, exitError(foundry.ExitFileReadError, "Failed to read recipe file", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var draft recipe.Draft
	if err := dec.Decode(&draft); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, exitError(foundry.ExitInvalidArgument, "Recipe file is empty", err)
		}
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid recipe file", err)
	}
	return &draft, nil
}
