package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/3leaps/ramekin/pkg/recipe"
)

const (
	microdataRecipe       = `[itemtype="http://schema.org/Recipe"], [itemtype="https://schema.org/Recipe"]`
	microdataIngredients  = `[itemprop="recipeIngredient"], [itemprop="ingredients"]`
	microdataSteps        = `[itemprop="recipeInstructions"], [itemprop="instructions"], [itemtype*="HowToStep"]`
	microformatDirections = `.e-instructions, .instructions, .recipe-instructions, .jetpack-recipe-directions, .recipe-directions`
)

// fromMicrodata reads the first schema.org Recipe item scope.
func fromMicrodata(doc *goquery.Document) (*recipe.Draft, bool) {
	root := doc.Find(microdataRecipe).First()
	if root.Length() == 0 {
		return nil, false
	}

	d := &recipe.Draft{
		Title:        itemprop(root, "name"),
		Description:  itemprop(root, "description"),
		Instructions: microdataInstructions(root),
		Servings:     itemprop(root, "recipeYield"),
		PrepTime:     HumanizeDuration(itemprop(root, "prepTime")),
		CookTime:     HumanizeDuration(itemprop(root, "cookTime")),
		TotalTime:    HumanizeDuration(itemprop(root, "totalTime")),
	}

	var lines []string
	root.Find(microdataIngredients).Each(func(_ int, s *goquery.Selection) {
		if text := cleanText(s.Text()); text != "" {
			lines = append(lines, text)
		}
	})
	d.Ingredients = recipe.ParseIngredientLines(lines)

	root.Find(`[itemprop="image"]`).Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"src", "href", "content"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				d.ImageURLs = append(d.ImageURLs, strings.TrimSpace(v))
				return
			}
		}
	})
	return d, true
}

// itemprop returns the first matching property, preferring a content
// attribute (meta tags) over element text.
func itemprop(root *goquery.Selection, prop string) string {
	s := root.Find(`[itemprop="` + prop + `"]`).First()
	if s.Length() == 0 {
		return ""
	}
	if v, ok := s.Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	if v, ok := s.Attr("datetime"); ok {
		return strings.TrimSpace(v)
	}
	return cleanText(s.Text())
}

// microdataInstructions collects the innermost step elements so a container
// and the steps inside it are not both counted. Falls back to h-recipe
// direction classes.
func microdataInstructions(root *goquery.Selection) string {
	var steps []string
	root.Find(microdataSteps).Each(func(_ int, s *goquery.Selection) {
		if s.Find(microdataSteps).Length() > 0 {
			return
		}
		text := s.Find(`[itemprop="text"]`).First()
		if text.Length() == 0 {
			text = s
		}
		if t := cleanText(text.Text()); t != "" {
			steps = append(steps, t)
		}
	})
	if len(steps) == 0 {
		root.Find(microformatDirections).Each(func(_ int, s *goquery.Selection) {
			if t := cleanText(s.Text()); t != "" {
				steps = append(steps, t)
			}
		})
	}
	return strings.Join(steps, "\n\n")
}
