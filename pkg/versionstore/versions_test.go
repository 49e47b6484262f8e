package versionstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/ramekin/pkg/recipe"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db))
	return New(db)
}

func sampleDraft(title string) recipe.Draft {
	rating := 4
	return recipe.Draft{
		Title:        title,
		Description:  "A weeknight staple.",
		Instructions: "Mix.\n\nBake.",
		Ingredients: []recipe.Ingredient{
			{Item: "flour", Measurements: []recipe.Measurement{{Amount: "2", Unit: "cup"}}},
			{Item: "salt", Note: "to taste"},
		},
		Tags:      []string{"bread"},
		SourceURL: "https://example.com/bread",
		Rating:    &rating,
		ImageURLs: []string{"https://example.com/bread.jpg"},
	}
}

func TestCreateRecipe(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	v, err := store.CreateRecipe(ctx, "owner-1", sampleDraft("Bread"), recipe.SourceImport)
	require.NoError(t, err)
	require.NotEmpty(t, v.RecipeID)
	assert.Equal(t, 1, v.Number)
	assert.True(t, v.IsCurrent)

	got, err := store.GetVersion(ctx, v.RecipeID, "owner-1", "")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, recipe.SourceImport, got.Source)
	assert.Equal(t, "Bread", got.Content.Title)
	assert.Equal(t, sampleDraft("Bread").Ingredients, got.Content.Ingredients)
	assert.Equal(t, []string{"bread"}, got.Content.Tags)
	require.NotNil(t, got.Content.Rating)
	assert.Equal(t, 4, *got.Content.Rating)
	assert.WithinDuration(t, v.CreatedAt, got.CreatedAt, time.Millisecond)

	r, err := store.GetRecipe(ctx, v.RecipeID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, v.ID, r.CurrentVersionID)
}

func TestCreateRecipe_Validation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.CreateRecipe(ctx, "", sampleDraft("Bread"), recipe.SourceUser)
	assert.Error(t, err)

	_, err = store.CreateRecipe(ctx, "owner-1", sampleDraft("Bread"), recipe.VersionSource("scrape"))
	assert.Error(t, err)
}

func TestAppendVersion(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first, err := store.CreateRecipe(ctx, "owner-1", sampleDraft("v1"), recipe.SourceImport)
	require.NoError(t, err)

	second, err := store.AppendVersion(ctx, first.RecipeID, "owner-1", sampleDraft("v2"), recipe.SourceRescrape)
	require.NoError(t, err)
	third, err := store.AppendVersion(ctx, first.RecipeID, "owner-1", sampleDraft("v3"), recipe.SourceRescrape)
	require.NoError(t, err)

	versions, err := store.ListVersions(ctx, first.RecipeID, "owner-1")
	require.NoError(t, err)
	require.Len(t, versions, 3)

	assert.Equal(t, []string{third.ID, second.ID, first.ID},
		[]string{versions[0].ID, versions[1].ID, versions[2].ID})
	assert.True(t, versions[0].IsCurrent)
	assert.False(t, versions[1].IsCurrent)
	assert.False(t, versions[2].IsCurrent)
	assert.Equal(t, "v3", versions[0].Content.Title)

	n, err := store.CountCurrent(ctx, first.RecipeID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := store.GetVersion(ctx, first.RecipeID, "owner-1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", old.Content.Title)
	assert.False(t, old.IsCurrent)

	r, err := store.GetRecipe(ctx, first.RecipeID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, third.ID, r.CurrentVersionID)
}

func TestAppendVersion_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first, err := store.CreateRecipe(ctx, "owner-1", sampleDraft("v1"), recipe.SourceImport)
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AppendVersion(ctx, first.RecipeID, "owner-1", sampleDraft("edit"), recipe.SourceUser)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := store.CountCurrent(ctx, first.RecipeID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	versions, err := store.ListVersions(ctx, first.RecipeID, "owner-1")
	require.NoError(t, err)
	assert.Len(t, versions, writers+1)
	assert.Equal(t, writers+1, versions[0].Number)
}

func TestOwnership(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	v, err := store.CreateRecipe(ctx, "owner-1", sampleDraft("Bread"), recipe.SourceImport)
	require.NoError(t, err)

	t.Run("get version", func(t *testing.T) {
		_, err := store.GetVersion(ctx, v.RecipeID, "owner-2", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("list versions", func(t *testing.T) {
		_, err := store.ListVersions(ctx, v.RecipeID, "owner-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("append", func(t *testing.T) {
		_, err := store.AppendVersion(ctx, v.RecipeID, "owner-2", sampleDraft("x"), recipe.SourceUser)
		assert.ErrorIs(t, err, ErrNotFound)

		n, err := store.CountCurrent(ctx, v.RecipeID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
	t.Run("delete", func(t *testing.T) {
		assert.ErrorIs(t, store.DeleteRecipe(ctx, v.RecipeID, "owner-2"), ErrNotFound)
	})
	t.Run("unknown recipe", func(t *testing.T) {
		_, err := store.GetRecipe(ctx, "missing", "owner-1")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.AppendVersion(ctx, "missing", "owner-1", sampleDraft("x"), recipe.SourceUser)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDeleteRecipe(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	v, err := store.CreateRecipe(ctx, "owner-1", sampleDraft("Bread"), recipe.SourceImport)
	require.NoError(t, err)
	_, err = store.AppendVersion(ctx, v.RecipeID, "owner-1", sampleDraft("Bread 2"), recipe.SourceUser)
	require.NoError(t, err)

	require.NoError(t, store.DeleteRecipe(ctx, v.RecipeID, "owner-1"))

	_, err = store.GetRecipe(ctx, v.RecipeID, "owner-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetVersion(ctx, v.RecipeID, "owner-1", v.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := store.CountCurrent(ctx, v.RecipeID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestVersionForJob(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.VersionForJob(ctx, "job-1", "owner-1")
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := store.CreateRecipe(ctx, "owner-1", sampleDraft("Bread"), recipe.SourceImport, ForJob("job-1"))
	require.NoError(t, err)
	second, err := store.AppendVersion(ctx, v.RecipeID, "owner-1", sampleDraft("Bread 2"), recipe.SourceRescrape, ForJob("job-2"))
	require.NoError(t, err)

	got, err := store.VersionForJob(ctx, "job-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	got, err = store.VersionForJob(ctx, "job-2", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = store.VersionForJob(ctx, "job-1", "owner-2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.VersionForJob(ctx, "", "owner-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Untagged writes never match a job lookup.
	_, err = store.AppendVersion(ctx, v.RecipeID, "owner-1", sampleDraft("Bread 3"), recipe.SourceUser)
	require.NoError(t, err)
	_, err = store.VersionForJob(ctx, "job-3", "owner-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRecipe_SameJobTwiceFails(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.CreateRecipe(ctx, "owner-1", sampleDraft("Bread"), recipe.SourceImport, ForJob("job-1"))
	require.NoError(t, err)
	_, err = store.CreateRecipe(ctx, "owner-1", sampleDraft("Bread"), recipe.SourceImport, ForJob("job-1"))
	require.Error(t, err)

	recipes, err := store.ListRecipes(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, recipes, 1)
}

func TestMigrate_AddsJobColumnToVersionOneDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	for _, stmt := range []string{
		`CREATE TABLE schema_meta (id INTEGER PRIMARY KEY CHECK (id = 1), schema_version INTEGER NOT NULL)`,
		`INSERT INTO schema_meta (id, schema_version) VALUES (1, 1)`,
		`CREATE TABLE recipes (recipe_id TEXT PRIMARY KEY, owner_id TEXT NOT NULL,
			current_version_id TEXT NOT NULL, created_at TEXT NOT NULL, updated_at TEXT NOT NULL)`,
		`CREATE TABLE recipe_versions (version_id TEXT PRIMARY KEY, recipe_id TEXT NOT NULL,
			version_number INTEGER NOT NULL, is_current INTEGER NOT NULL DEFAULT 0,
			version_source TEXT NOT NULL, title TEXT NOT NULL, description TEXT,
			instructions TEXT NOT NULL, ingredients TEXT NOT NULL, tags TEXT, source_url TEXT,
			source_name TEXT, servings TEXT, prep_time TEXT, cook_time TEXT, total_time TEXT,
			rating INTEGER, difficulty TEXT, nutritional_info TEXT, notes TEXT, image_urls TEXT,
			created_at TEXT NOT NULL)`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))

	var version int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)

	store := New(db)
	v, err := store.CreateRecipe(ctx, "owner-1", sampleDraft("Bread"), recipe.SourceImport, ForJob("job-1"))
	require.NoError(t, err)
	got, err := store.VersionForJob(ctx, "job-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
}

func TestListRecipes(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, Migrate(ctx, db))
	store := New(db, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	a, err := store.CreateRecipe(ctx, "owner-1", sampleDraft("A"), recipe.SourceImport)
	require.NoError(t, err)
	b, err := store.CreateRecipe(ctx, "owner-1", sampleDraft("B"), recipe.SourceImport)
	require.NoError(t, err)
	_, err = store.CreateRecipe(ctx, "owner-2", sampleDraft("C"), recipe.SourceImport)
	require.NoError(t, err)
	_, err = store.AppendVersion(ctx, a.RecipeID, "owner-1", sampleDraft("A2"), recipe.SourceUser)
	require.NoError(t, err)

	recipes, err := store.ListRecipes(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, recipes, 2)
	assert.Equal(t, a.RecipeID, recipes[0].ID)
	assert.Equal(t, b.RecipeID, recipes[1].ID)
}

func TestOpenStore_FilePath(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ramekin.db")

	store, err := OpenStore(ctx, Config{Path: path})
	require.NoError(t, err)
	v, err := store.CreateRecipe(ctx, "owner-1", sampleDraft("Bread"), recipe.SourceImport)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenStore(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetVersion(ctx, v.RecipeID, "owner-1", "")
	require.NoError(t, err)
	assert.Equal(t, "Bread", got.Content.Title)
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "ramekin.db")

	tests := []struct {
		name       string
		cfg        Config
		want       string
		wantRemote bool
		wantErr    bool
	}{
		{name: "memory", cfg: Config{Path: ":memory:"}, want: ":memory:"},
		{name: "plain path", cfg: Config{Path: nested}, want: "file:" + nested},
		{name: "url with token", cfg: Config{URL: "libsql://db.example.io", AuthToken: "tok"}, want: "libsql://db.example.io?authToken=tok", wantRemote: true},
		{name: "url keeps existing token", cfg: Config{URL: "libsql://db.example.io?authToken=a", AuthToken: "b"}, want: "libsql://db.example.io?authToken=a", wantRemote: true},
		{name: "url wins over path", cfg: Config{URL: "libsql://db.example.io", Path: nested}, want: "libsql://db.example.io", wantRemote: true},
		{name: "empty", cfg: Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolve(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.dsn)
			assert.Equal(t, tt.wantRemote, got.remote)
		})
	}

	_, err := os.Stat(filepath.Dir(nested))
	assert.NoError(t, err, "parent directory of a local database is created")
}
