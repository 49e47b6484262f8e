package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/3leaps/ramekin/pkg/recipe"
)

// HTML extracts recipes from schema.org JSON-LD blocks and falls back to
// schema.org microdata when no JSON-LD recipe is present.
type HTML struct{}

var _ Extractor = HTML{}

// Extract parses content.HTML and attributes the draft to content.SourceURL.
func (HTML) Extract(ctx context.Context, content Content) (*recipe.Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content.HTML) == "" {
		return nil, noData("page is empty")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content.HTML))
	if err != nil {
		return nil, malformed("parse html", err)
	}

	draft, ok := fromJSONLD(doc)
	if !ok {
		draft, ok = fromMicrodata(doc)
	}
	if !ok {
		return nil, noData("no structured recipe data found")
	}

	draft.SourceURL = content.SourceURL
	draft.SourceName = SourceName(content.SourceURL)
	return Finish(draft)
}

// fromJSONLD returns the first Recipe found in any ld+json block. Blocks
// that do not parse are skipped.
func fromJSONLD(doc *goquery.Document) (*recipe.Draft, bool) {
	var found map[string]any
	doc.Find(`script[type*="ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var v any
		if err := json.Unmarshal([]byte(sanitizeJSON(s.Text())), &v); err != nil {
			return true
		}
		found = findRecipe(v)
		return found == nil
	})
	if found == nil {
		return nil, false
	}
	return mapRecipe(found), true
}

// sanitizeJSON escapes raw newlines and tabs inside JSON strings and drops
// other control characters there. Some sites emit them unescaped.
func sanitizeJSON(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	inString, escaped := false, false
	for _, r := range raw {
		if !inString {
			if r == '"' {
				inString = true
			}
			b.WriteRune(r)
			continue
		}
		switch {
		case escaped:
			escaped = false
			b.WriteRune(r)
		case r == '\\':
			escaped = true
			b.WriteRune(r)
		case r == '"':
			inString = false
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// findRecipe walks a decoded JSON-LD value depth first. Object keys are
// visited in sorted order so the result does not depend on map iteration.
func findRecipe(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		if isRecipeType(t["@type"]) {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			if r := findRecipe(graph); r != nil {
				return r
			}
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			if k != "@graph" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if r := findRecipe(t[k]); r != nil {
				return r
			}
		}
	case []any:
		for _, item := range t {
			if r := findRecipe(item); r != nil {
				return r
			}
		}
	}
	return nil
}

func isRecipeType(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "Recipe" || strings.HasSuffix(t, "schema.org/Recipe")
	case []any:
		for _, item := range t {
			if isRecipeType(item) {
				return true
			}
		}
	}
	return false
}

func mapRecipe(r map[string]any) *recipe.Draft {
	d := &recipe.Draft{
		Title:           cleanText(stringValue(r["name"])),
		Description:     cleanText(stringValue(r["description"])),
		Instructions:    instructionsValue(r["recipeInstructions"]),
		Servings:        cleanText(stringValue(r["recipeYield"])),
		PrepTime:        HumanizeDuration(stringValue(r["prepTime"])),
		CookTime:        HumanizeDuration(stringValue(r["cookTime"])),
		TotalTime:       HumanizeDuration(stringValue(r["totalTime"])),
		NutritionalInfo: nutritionValue(r["nutrition"]),
		ImageURLs:       imageValues(r["image"]),
	}
	if ar, ok := r["aggregateRating"].(map[string]any); ok {
		d.Rating = roundRating(ar["ratingValue"])
	}

	lines := stringValues(r["recipeIngredient"])
	if len(lines) == 0 {
		lines = stringValues(r["ingredients"])
	}
	for i := range lines {
		lines[i] = cleanText(lines[i])
	}
	d.Ingredients = recipe.ParseIngredientLines(lines)

	for _, key := range []string{"recipeCategory", "recipeCuisine", "keywords"} {
		for _, v := range stringValues(r[key]) {
			for _, tag := range strings.Split(v, ",") {
				d.Tags = append(d.Tags, strings.ToLower(strings.TrimSpace(tag)))
			}
		}
	}
	return d
}

// stringValue reads a scalar, the first element of an array, or the
// "@value"/"name"/"text" of an object.
func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		for _, item := range t {
			if s := stringValue(item); s != "" {
				return s
			}
		}
	case map[string]any:
		for _, k := range []string{"@value", "name", "text"} {
			if s := stringValue(t[k]); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringValues(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := stringValue(item); strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case nil:
		return nil
	default:
		if s := stringValue(t); s != "" {
			return []string{s}
		}
		return nil
	}
}

// instructionsValue flattens recipeInstructions. Steps are separated by a
// blank line; the steps of one HowToSection are separated by a newline.
func instructionsValue(v any) string {
	switch t := v.(type) {
	case string:
		return cleanBlock(t)
	case []any:
		steps := make([]string, 0, len(t))
		for _, item := range t {
			if s := stepText(item); s != "" {
				steps = append(steps, s)
			}
		}
		return strings.Join(steps, "\n\n")
	case map[string]any:
		return stepText(t)
	}
	return ""
}

func stepText(v any) string {
	switch t := v.(type) {
	case string:
		return cleanText(t)
	case map[string]any:
		if s := cleanText(stringValue(t["text"])); s != "" {
			return s
		}
		if items, ok := t["itemListElement"].([]any); ok {
			var section []string
			for _, item := range items {
				if s := stepText(item); s != "" {
					section = append(section, s)
				}
			}
			return strings.Join(section, "\n")
		}
		return cleanText(stringValue(t["name"]))
	}
	return ""
}

func imageValues(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, imageValues(item)...)
		}
		return out
	case map[string]any:
		if s, ok := t["url"].(string); ok {
			return []string{s}
		}
		if s, ok := t["contentUrl"].(string); ok {
			return []string{s}
		}
	}
	return nil
}

var nutritionLabels = []struct{ key, label string }{
	{"calories", "Calories"},
	{"fatContent", "Fat"},
	{"saturatedFatContent", "Saturated fat"},
	{"carbohydrateContent", "Carbohydrates"},
	{"sugarContent", "Sugar"},
	{"fiberContent", "Fiber"},
	{"proteinContent", "Protein"},
	{"cholesterolContent", "Cholesterol"},
	{"sodiumContent", "Sodium"},
}

func nutritionValue(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	var lines []string
	for _, nl := range nutritionLabels {
		if s := cleanText(stringValue(m[nl.key])); s != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", nl.label, s))
		}
	}
	return strings.Join(lines, "\n")
}

// cleanText strips markup that some sites leave inside JSON-LD strings and
// collapses whitespace.
func cleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// cleanBlock is cleanText applied per paragraph, keeping blank-line breaks.
func cleanBlock(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	parts := strings.Split(s, "\n")
	out := parts[:0]
	for _, p := range parts {
		if p = cleanText(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

// roundRating converts an aggregate rating value to the nearest integer.
func roundRating(v any) *int {
	s := stringValue(v)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return nil
	}
	n := int(math.Round(f))
	return &n
}
