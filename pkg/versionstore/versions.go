package versionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/ramekin/pkg/recipe"
)

// ErrNotFound is returned when a recipe or version does not exist or is not
// owned by the requesting owner. Callers cannot tell the two apart.
var ErrNotFound = errors.New("recipe not found")

// Store reads and writes recipe version history.
type Store struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps an open, migrated database.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenStore opens the database described by cfg and applies migrations.
func OpenStore(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, opts...), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WriteOption tags a version write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	jobID string
}

// ForJob records the capture job that produced the version. A job writes at
// most one version; a second write for the same job fails.
func ForJob(jobID string) WriteOption {
	return func(o *writeOptions) { o.jobID = strings.TrimSpace(jobID) }
}

func applyWriteOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CreateRecipe creates a recipe whose first version holds draft. The recipe
// row and its current version are written in one transaction.
func (s *Store) CreateRecipe(ctx context.Context, ownerID string, draft recipe.Draft, source recipe.VersionSource, opts ...WriteOption) (*recipe.Version, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.New("owner id is required")
	}
	if !source.Valid() {
		return nil, fmt.Errorf("invalid version source %q", source)
	}

	now := s.now()
	v := &recipe.Version{
		ID:        s.newID(),
		RecipeID:  s.newID(),
		Number:    1,
		IsCurrent: true,
		Source:    source,
		Content:   draft,
		CreatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := formatTime(now)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO recipes (recipe_id, owner_id, current_version_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		v.RecipeID, ownerID, v.ID, ts, ts); err != nil {
		return nil, fmt.Errorf("insert recipe: %w", err)
	}
	if err := insertVersion(ctx, tx, v, applyWriteOptions(opts).jobID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return v, nil
}

// AppendVersion makes draft the new current version of an existing recipe.
//
// Ownership check, demotion of the prior current version, insertion and the
// recipe pointer update happen in a single transaction: no reader observes
// zero or two current versions.
func (s *Store) AppendVersion(ctx context.Context, recipeID, ownerID string, draft recipe.Draft, source recipe.VersionSource, opts ...WriteOption) (*recipe.Version, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !source.Valid() {
		return nil, fmt.Errorf("invalid version source %q", source)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := checkOwner(ctx, tx, recipeID, ownerID); err != nil {
		return nil, err
	}

	var maxNumber int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM recipe_versions WHERE recipe_id = ?`,
		recipeID).Scan(&maxNumber); err != nil {
		return nil, fmt.Errorf("read version number: %w", err)
	}

	now := s.now()
	v := &recipe.Version{
		ID:        s.newID(),
		RecipeID:  recipeID,
		Number:    maxNumber + 1,
		IsCurrent: true,
		Source:    source,
		Content:   draft,
		CreatedAt: now,
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE recipe_versions SET is_current = 0 WHERE recipe_id = ? AND is_current = 1`,
		recipeID); err != nil {
		return nil, fmt.Errorf("demote current version: %w", err)
	}
	if err := insertVersion(ctx, tx, v, applyWriteOptions(opts).jobID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE recipes SET current_version_id = ?, updated_at = ? WHERE recipe_id = ?`,
		v.ID, formatTime(now), recipeID); err != nil {
		return nil, fmt.Errorf("update recipe: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return v, nil
}

// GetVersion returns one version of a recipe. An empty versionID selects the
// current version.
func (s *Store) GetVersion(ctx context.Context, recipeID, ownerID, versionID string) (*recipe.Version, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT ` + versionColumns + `
		FROM recipe_versions v JOIN recipes r ON r.recipe_id = v.recipe_id
		WHERE v.recipe_id = ? AND r.owner_id = ?`
	args := []any{recipeID, ownerID}
	if versionID == "" {
		query += ` AND v.is_current = 1`
	} else {
		query += ` AND v.version_id = ?`
		args = append(args, versionID)
	}

	v, err := scanVersion(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// VersionForJob returns the version written by a capture job, if any.
func (s *Store) VersionForJob(ctx context.Context, jobID, ownerID string) (*recipe.Version, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(jobID) == "" {
		return nil, ErrNotFound
	}

	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+`
		 FROM recipe_versions v JOIN recipes r ON r.recipe_id = v.recipe_id
		 WHERE v.job_id = ? AND r.owner_id = ?`,
		jobID, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job version: %w", err)
	}
	return v, nil
}

// ListVersions returns every version of a recipe, newest first.
func (s *Store) ListVersions(ctx context.Context, recipeID, ownerID string) ([]recipe.Version, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+`
		 FROM recipe_versions v JOIN recipes r ON r.recipe_id = v.recipe_id
		 WHERE v.recipe_id = ? AND r.owner_id = ?
		 ORDER BY v.version_number DESC`,
		recipeID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []recipe.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return versions, nil
}

// GetRecipe returns the recipe row.
func (s *Store) GetRecipe(ctx context.Context, recipeID, ownerID string) (*recipe.Recipe, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var r recipe.Recipe
	var createdRaw, updatedRaw string
	err := s.db.QueryRowContext(ctx,
		`SELECT recipe_id, owner_id, current_version_id, created_at, updated_at
		 FROM recipes WHERE recipe_id = ? AND owner_id = ?`,
		recipeID, ownerID).Scan(&r.ID, &r.OwnerID, &r.CurrentVersionID, &createdRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipe: %w", err)
	}
	if r.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRecipes returns an owner's recipes, most recently updated first.
func (s *Store) ListRecipes(ctx context.Context, ownerID string) ([]recipe.Recipe, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT recipe_id, owner_id, current_version_id, created_at, updated_at
		 FROM recipes WHERE owner_id = ?
		 ORDER BY updated_at DESC, recipe_id`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list recipes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recipes []recipe.Recipe
	for rows.Next() {
		var r recipe.Recipe
		var createdRaw, updatedRaw string
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.CurrentVersionID, &createdRaw, &updatedRaw); err != nil {
			return nil, fmt.Errorf("scan recipe: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdRaw); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTime(updatedRaw); err != nil {
			return nil, err
		}
		recipes = append(recipes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipes: %w", err)
	}
	return recipes, nil
}

// DeleteRecipe removes a recipe and all of its versions.
func (s *Store) DeleteRecipe(ctx context.Context, recipeID, ownerID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := checkOwner(ctx, tx, recipeID, ownerID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_versions WHERE recipe_id = ?`, recipeID); err != nil {
		return fmt.Errorf("delete versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM recipes WHERE recipe_id = ?`, recipeID); err != nil {
		return fmt.Errorf("delete recipe: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CountCurrent returns how many versions of a recipe are flagged current.
// Used by doctor checks and tests; it should always be 1 for an existing recipe.
func (s *Store) CountCurrent(ctx context.Context, recipeID string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipe_versions WHERE recipe_id = ? AND is_current = 1`,
		recipeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count current versions: %w", err)
	}
	return n, nil
}

func checkOwner(ctx context.Context, tx *sql.Tx, recipeID, ownerID string) error {
	var owner string
	err := tx.QueryRowContext(ctx, `SELECT owner_id FROM recipes WHERE recipe_id = ?`, recipeID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read recipe owner: %w", err)
	}
	if owner != ownerID {
		return ErrNotFound
	}
	return nil
}

const versionColumns = `v.version_id, v.recipe_id, v.version_number, v.is_current, v.version_source,
	v.title, v.description, v.instructions, v.ingredients, v.tags, v.source_url, v.source_name,
	v.servings, v.prep_time, v.cook_time, v.total_time, v.rating, v.difficulty,
	v.nutritional_info, v.notes, v.image_urls, v.created_at`

func insertVersion(ctx context.Context, tx *sql.Tx, v *recipe.Version, jobID string) error {
	ingredients, err := json.Marshal(nonNilIngredients(v.Content.Ingredients))
	if err != nil {
		return fmt.Errorf("encode ingredients: %w", err)
	}
	tags, err := encodeStrings(v.Content.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	images, err := encodeStrings(v.Content.ImageURLs)
	if err != nil {
		return fmt.Errorf("encode image urls: %w", err)
	}

	var rating any
	if v.Content.Rating != nil {
		rating = *v.Content.Rating
	}

	c := v.Content
	_, err = tx.ExecContext(ctx,
		`INSERT INTO recipe_versions
		 (version_id, recipe_id, version_number, is_current, version_source,
		  title, description, instructions, ingredients, tags, source_url, source_name,
		  servings, prep_time, cook_time, total_time, rating, difficulty,
		  nutritional_info, notes, image_urls, created_at, job_id)
		 VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.RecipeID, v.Number, string(v.Source),
		c.Title, nullString(c.Description), c.Instructions, string(ingredients), tags,
		nullString(c.SourceURL), nullString(c.SourceName),
		nullString(c.Servings), nullString(c.PrepTime), nullString(c.CookTime), nullString(c.TotalTime),
		rating, nullString(c.Difficulty), nullString(c.NutritionalInfo), nullString(c.Notes),
		images, formatTime(v.CreatedAt), nullString(jobID))
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*recipe.Version, error) {
	var (
		v                                             recipe.Version
		isCurrent                                     int
		source, ingredientsRaw, createdRaw            string
		description, tags, sourceURL, sourceName      sql.NullString
		servings, prepTime, cookTime, totalTime       sql.NullString
		difficulty, nutritionalInfo, notes, imagesRaw sql.NullString
		rating                                        sql.NullInt64
	)
	if err := row.Scan(&v.ID, &v.RecipeID, &v.Number, &isCurrent, &source,
		&v.Content.Title, &description, &v.Content.Instructions, &ingredientsRaw, &tags,
		&sourceURL, &sourceName, &servings, &prepTime, &cookTime, &totalTime,
		&rating, &difficulty, &nutritionalInfo, &notes, &imagesRaw, &createdRaw); err != nil {
		return nil, err
	}

	v.IsCurrent = isCurrent == 1
	v.Source = recipe.VersionSource(source)
	v.Content.Description = description.String
	v.Content.SourceURL = sourceURL.String
	v.Content.SourceName = sourceName.String
	v.Content.Servings = servings.String
	v.Content.PrepTime = prepTime.String
	v.Content.CookTime = cookTime.String
	v.Content.TotalTime = totalTime.String
	v.Content.Difficulty = difficulty.String
	v.Content.NutritionalInfo = nutritionalInfo.String
	v.Content.Notes = notes.String
	if rating.Valid {
		r := int(rating.Int64)
		v.Content.Rating = &r
	}

	if err := json.Unmarshal([]byte(ingredientsRaw), &v.Content.Ingredients); err != nil {
		return nil, fmt.Errorf("decode ingredients: %w", err)
	}
	var err error
	if v.Content.Tags, err = decodeStrings(tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if v.Content.ImageURLs, err = decodeStrings(imagesRaw); err != nil {
		return nil, fmt.Errorf("decode image urls: %w", err)
	}
	if v.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, err
	}
	return &v, nil
}

func nonNilIngredients(in []recipe.Ingredient) []recipe.Ingredient {
	if in == nil {
		return []recipe.Ingredient{}
	}
	return in
}

func encodeStrings(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeStrings(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}
