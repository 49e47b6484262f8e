package recipe

import (
	"html"
	"regexp"
	"strings"
	"unicode"
)

var unicodeFractions = map[rune]string{
	'½': "1/2", '⅓': "1/3", '⅔': "2/3", '¼': "1/4", '¾': "3/4",
	'⅕': "1/5", '⅖': "2/5", '⅗': "3/5", '⅘': "4/5", '⅙': "1/6",
	'⅚': "5/6", '⅛': "1/8", '⅜': "3/8", '⅝': "5/8", '⅞': "7/8",
}

// canonicalUnits maps spellings to the unit stored on a Measurement.
// Keys are lower-case and without a trailing period.
var canonicalUnits = map[string]string{
	"teaspoon": "tsp", "teaspoons": "tsp", "tsp": "tsp", "ts": "tsp",
	"tablespoon": "tbsp", "tablespoons": "tbsp", "tbsp": "tbsp", "tbs": "tbsp", "tb": "tbsp",
	"cup": "cup", "cups": "cup", "c": "cup",
	"fluid ounce": "fl oz", "fluid ounces": "fl oz", "fl oz": "fl oz",
	"pint": "pint", "pints": "pint", "pt": "pint",
	"quart": "quart", "quarts": "quart", "qt": "quart",
	"gallon": "gallon", "gallons": "gallon", "gal": "gallon",
	"milliliter": "ml", "milliliters": "ml", "ml": "ml",
	"liter": "l", "liters": "l", "litre": "l", "litres": "l", "l": "l",
	"ounce": "oz", "ounces": "oz", "oz": "oz",
	"pound": "lb", "pounds": "lb", "lb": "lb", "lbs": "lb",
	"gram": "g", "grams": "g", "g": "g",
	"kilogram": "kg", "kilograms": "kg", "kg": "kg",
	"milligram": "mg", "milligrams": "mg", "mg": "mg",
	"clove": "clove", "cloves": "clove",
	"pinch": "pinch", "pinches": "pinch",
	"dash": "dash", "dashes": "dash",
	"slice": "slice", "slices": "slice",
	"sprig": "sprig", "sprigs": "sprig",
	"stalk": "stalk", "stalks": "stalk",
	"stick": "stick", "sticks": "stick",
	"can": "can", "cans": "can",
	"jar": "jar", "jars": "jar",
	"package": "package", "packages": "package", "pkg": "package",
	"bunch": "bunch", "bunches": "bunch",
	"handful": "handful", "handfuls": "handful",
	"piece": "piece", "pieces": "piece",
	"head": "head", "heads": "head",
}

var (
	// 1, 1.5, 1/2, 1 1/2, 2-3, 2 to 3
	amountPattern = regexp.MustCompile(`^(\d+/\d+|\d+(?:\.\d+)?(?:\s+\d+/\d+)?)(?:\s*(?:-|–|to)\s*(\d+/\d+|\d+(?:\.\d+)?(?:\s+\d+/\d+)?))?`)
	listMarker    = regexp.MustCompile(`^(?:[-*•▢□]\s*|\d+[.)]\s+)`)
	digitLetter   = regexp.MustCompile(`^(\d+(?:\.\d+)?)([a-zA-Z])`)
	parenNote     = regexp.MustCompile(`\(([^)]*)\)`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

// ParseIngredientLines parses free-text ingredient lines, skipping blanks.
func ParseIngredientLines(lines []string) []Ingredient {
	out := make([]Ingredient, 0, len(lines))
	for _, line := range lines {
		ing, ok := ParseIngredient(line)
		if !ok {
			continue
		}
		out = append(out, ing)
	}
	return out
}

// ParseIngredient splits "1 1/2 cups flour, sifted" into item, measurements
// and note. It returns false for lines with no item text.
func ParseIngredient(raw string) (Ingredient, bool) {
	s := normalizeLine(raw)
	if s == "" {
		return Ingredient{}, false
	}

	var notes []string
	if lower := strings.ToLower(s); strings.HasPrefix(lower, "optional:") {
		s = strings.TrimSpace(s[len("optional:"):])
		notes = append(notes, "optional")
	}

	var measurements []Measurement
	if m, rest, ok := takeMeasurement(s); ok {
		measurements = append(measurements, m)
		s = rest
	}

	// Parentheticals either carry an alternate measurement ("(200 g)") or a note.
	s = parenNote.ReplaceAllStringFunc(s, func(match string) string {
		inner := strings.TrimSpace(match[1 : len(match)-1])
		if inner == "" {
			return ""
		}
		if m, rest, ok := takeMeasurement(inner); ok && strings.TrimSpace(rest) == "" && m.Unit != "" {
			measurements = append(measurements, m)
			return ""
		}
		notes = append(notes, inner)
		return ""
	})

	if idx := strings.Index(s, ","); idx >= 0 {
		if note := strings.TrimSpace(s[idx+1:]); note != "" {
			notes = append(notes, note)
		}
		s = s[:idx]
	}

	item := strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	item = strings.TrimPrefix(item, "of ")
	if item == "" {
		return Ingredient{}, false
	}
	return Ingredient{
		Item:         item,
		Measurements: measurements,
		Note:         strings.Join(notes, "; "),
	}, true
}

func normalizeLine(raw string) string {
	s := html.UnescapeString(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		if frac, ok := unicodeFractions[r]; ok {
			if unicode.IsDigit(prev) {
				b.WriteByte(' ')
			}
			b.WriteString(frac)
			prev = r
			continue
		}
		if r == '\u00a0' {
			r = ' '
		}
		b.WriteRune(r)
		prev = r
	}
	s = listMarker.ReplaceAllString(strings.TrimSpace(b.String()), "")
	s = digitLetter.ReplaceAllString(s, "$1 $2")
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

func takeMeasurement(s string) (Measurement, string, bool) {
	loc := amountPattern.FindStringSubmatchIndex(s)
	if loc == nil {
		return Measurement{}, s, false
	}
	amount := s[loc[2]:loc[3]]
	if loc[4] >= 0 {
		amount = amount + "-" + s[loc[4]:loc[5]]
	}
	rest := strings.TrimSpace(s[loc[1]:])
	unit, rest := takeUnit(rest)
	return Measurement{Amount: amount, Unit: unit}, rest, true
}

func takeUnit(s string) (string, string) {
	words := strings.Fields(s)
	if len(words) == 0 {
		return "", s
	}
	if len(words) >= 2 {
		two := strings.ToLower(strings.TrimSuffix(words[0]+" "+words[1], "."))
		if unit, ok := canonicalUnits[two]; ok {
			return unit, strings.Join(words[2:], " ")
		}
	}
	one := strings.ToLower(strings.TrimSuffix(words[0], "."))
	if unit, ok := canonicalUnits[one]; ok {
		return unit, strings.Join(words[1:], " ")
	}
	return "", s
}
