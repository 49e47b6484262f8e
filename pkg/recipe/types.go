// Package recipe defines the recipe content model shared by the capture
// pipeline, the extractors and the version store.
package recipe

import (
	"errors"
	"strings"
	"time"
)

// VersionSource records what produced a recipe version.
type VersionSource string

const (
	SourceUser     VersionSource = "user"
	SourceRescrape VersionSource = "rescrape"
	SourceImport   VersionSource = "import"
	SourcePhoto    VersionSource = "photo"
)

// Valid reports whether s is one of the known version sources.
func (s VersionSource) Valid() bool {
	switch s {
	case SourceUser, SourceRescrape, SourceImport, SourcePhoto:
		return true
	default:
		return false
	}
}

// Measurement is a single amount/unit pair. Amount is kept as written
// ("1 1/2", "2-3") since the parser does not do arithmetic.
type Measurement struct {
	Amount string `json:"amount,omitempty" yaml:"amount,omitempty"`
	Unit   string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Ingredient is one line of an ingredient list.
type Ingredient struct {
	Item         string        `json:"item" yaml:"item"`
	Measurements []Measurement `json:"measurements,omitempty" yaml:"measurements,omitempty"`
	Note         string        `json:"note,omitempty" yaml:"note,omitempty"`
}

// Draft is the editable content of a recipe. Extractors produce drafts and
// every stored version carries one.
type Draft struct {
	Title           string       `json:"title" yaml:"title"`
	Description     string       `json:"description,omitempty" yaml:"description,omitempty"`
	Instructions    string       `json:"instructions" yaml:"instructions"`
	Ingredients     []Ingredient `json:"ingredients" yaml:"ingredients"`
	Tags            []string     `json:"tags,omitempty" yaml:"tags,omitempty"`
	SourceURL       string       `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	SourceName      string       `json:"source_name,omitempty" yaml:"source_name,omitempty"`
	Servings        string       `json:"servings,omitempty" yaml:"servings,omitempty"`
	PrepTime        string       `json:"prep_time,omitempty" yaml:"prep_time,omitempty"`
	CookTime        string       `json:"cook_time,omitempty" yaml:"cook_time,omitempty"`
	TotalTime       string       `json:"total_time,omitempty" yaml:"total_time,omitempty"`
	Rating          *int         `json:"rating,omitempty" yaml:"rating,omitempty"`
	Difficulty      string       `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	NutritionalInfo string       `json:"nutritional_info,omitempty" yaml:"nutritional_info,omitempty"`
	Notes           string       `json:"notes,omitempty" yaml:"notes,omitempty"`
	ImageURLs       []string     `json:"image_urls,omitempty" yaml:"image_urls,omitempty"`
}

var (
	// ErrNoContent means the draft has neither ingredients nor instructions.
	ErrNoContent = errors.New("recipe has no ingredients and no instructions")

	// ErrMissingTitle means the draft has no title.
	ErrMissingTitle = errors.New("recipe title is empty")

	// ErrMissingInstructions means the draft has ingredients but no instructions.
	ErrMissingInstructions = errors.New("recipe instructions are empty")
)

// Validate checks the minimum content a draft needs before it can become a
// version. ErrNoContent is reported ahead of the other checks so callers can
// tell "nothing found" apart from "found something broken".
func (d *Draft) Validate() error {
	if d == nil {
		return ErrNoContent
	}
	hasInstructions := strings.TrimSpace(d.Instructions) != ""
	if len(d.Ingredients) == 0 && !hasInstructions {
		return ErrNoContent
	}
	if strings.TrimSpace(d.Title) == "" {
		return ErrMissingTitle
	}
	if !hasInstructions {
		return ErrMissingInstructions
	}
	return nil
}

// Normalize trims whitespace and drops empty ingredients, tags and image URLs.
func (d *Draft) Normalize() {
	if d == nil {
		return
	}
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.Instructions = strings.TrimSpace(d.Instructions)
	d.Notes = strings.TrimSpace(d.Notes)

	ingredients := d.Ingredients[:0]
	for _, ing := range d.Ingredients {
		ing.Item = strings.TrimSpace(ing.Item)
		ing.Note = strings.TrimSpace(ing.Note)
		if ing.Item == "" {
			continue
		}
		ingredients = append(ingredients, ing)
	}
	d.Ingredients = ingredients
	d.Tags = compact(d.Tags)
	d.ImageURLs = compact(d.ImageURLs)
}

func compact(values []string) []string {
	if len(values) == 0 {
		return values
	}
	out := values[:0]
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Version is an immutable snapshot of a recipe's content.
type Version struct {
	ID        string        `json:"id" yaml:"id"`
	RecipeID  string        `json:"recipe_id" yaml:"recipe_id"`
	Number    int           `json:"version_number" yaml:"version_number"`
	IsCurrent bool          `json:"is_current" yaml:"is_current"`
	Source    VersionSource `json:"version_source" yaml:"version_source"`
	Content   Draft         `json:"content" yaml:"content"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
}

// Recipe is the stable identity a version history hangs off.
type Recipe struct {
	ID               string    `json:"id" yaml:"id"`
	OwnerID          string    `json:"owner_id" yaml:"owner_id"`
	CurrentVersionID string    `json:"current_version_id" yaml:"current_version_id"`
	CreatedAt        time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" yaml:"updated_at"`
}
