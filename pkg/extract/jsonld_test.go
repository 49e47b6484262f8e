package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/ramekin/pkg/jobregistry"
	"github.com/3leaps/ramekin/pkg/recipe"
)

const graphPage = `<html><head>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"WebSite","name":"Site"}</script>
<script type="application/ld+json">{not json at all</script>
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"WebPage","name":"Pie page"},
  {"@type":["Recipe","NewsArticle"],
   "name":"Apple Pie",
   "description":"A <b>classic</b> pie.",
   "recipeIngredient":["2 cups flour","1 ½ tsp salt","3 apples, sliced"],
   "recipeInstructions":[
     {"@type":"HowToStep","text":"Make the crust."},
     {"@type":"HowToSection","name":"Filling","itemListElement":[
       {"@type":"HowToStep","text":"Slice apples."},
       {"@type":"HowToStep","text":"Fill the crust."}]}],
   "recipeYield":8,
   "prepTime":"PT30M","cookTime":"PT1H","totalTime":"PT1H30M",
   "recipeCategory":"Dessert",
   "keywords":"dessert, Baking",
   "image":[{"@type":"ImageObject","url":"https://example.com/pie.jpg"},"https://example.com/pie2.jpg"],
   "aggregateRating":{"@type":"AggregateRating","ratingValue":"4.6"},
   "nutrition":{"@type":"NutritionInformation","calories":"320 kcal","proteinContent":"4 g"}}
]}
</script></head><body><h1>Apple Pie</h1></body></html>`

func TestHTML_JSONLDGraph(t *testing.T) {
	d, err := HTML{}.Extract(context.Background(), Content{HTML: graphPage, SourceURL: "https://www.example.com/pie"})
	require.NoError(t, err)

	assert.Equal(t, "Apple Pie", d.Title)
	assert.Equal(t, "A classic pie.", d.Description)
	assert.Equal(t, []recipe.Ingredient{
		{Item: "flour", Measurements: []recipe.Measurement{{Amount: "2", Unit: "cup"}}},
		{Item: "salt", Measurements: []recipe.Measurement{{Amount: "1 1/2", Unit: "tsp"}}},
		{Item: "apples", Measurements: []recipe.Measurement{{Amount: "3"}}, Note: "sliced"},
	}, d.Ingredients)
	assert.Equal(t, "Make the crust.\n\nSlice apples.\nFill the crust.", d.Instructions)
	assert.Equal(t, "8", d.Servings)
	assert.Equal(t, "30 min", d.PrepTime)
	assert.Equal(t, "1 hr", d.CookTime)
	assert.Equal(t, "1 hr 30 min", d.TotalTime)
	assert.Equal(t, []string{"dessert", "baking"}, d.Tags)
	assert.Equal(t, []string{"https://example.com/pie.jpg", "https://example.com/pie2.jpg"}, d.ImageURLs)
	require.NotNil(t, d.Rating)
	assert.Equal(t, 5, *d.Rating)
	assert.Equal(t, "Calories: 320 kcal\nProtein: 4 g", d.NutritionalInfo)
	assert.Equal(t, "https://www.example.com/pie", d.SourceURL)
	assert.Equal(t, "Example.com", d.SourceName)
}

func TestHTML_SanitizesRawNewlines(t *testing.T) {
	page := "<script type=\"application/ld+json\">{\"@type\":\"Recipe\",\"name\":\"Soup\"," +
		"\"recipeIngredient\":[\"1 cup water\"],\"recipeInstructions\":\"Boil.\nServe.\"}</script>"

	d, err := HTML{}.Extract(context.Background(), Content{HTML: page, SourceURL: "https://soup.test/"})
	require.NoError(t, err)
	assert.Equal(t, "Boil.\n\nServe.", d.Instructions)
	assert.Equal(t, "Soup.test", d.SourceName)
}

func TestSanitizeJSON(t *testing.T) {
	assert.Equal(t, "{\"a\":\"x\\ty\"}\n", sanitizeJSON("{\"a\":\"x\ty\"}\n"))
	assert.Equal(t, `{"a":"say \"hi\"\n"}`, sanitizeJSON("{\"a\":\"say \\\"hi\\\"\n\"}"))
	assert.Equal(t, `{"a":"bell"}`, sanitizeJSON("{\"a\":\"be\x07ll\"}"))
}

const microdataPage = `<html><body>
<div itemscope itemtype="https://schema.org/Recipe">
  <h1 itemprop="name">Pancakes</h1>
  <meta itemprop="prepTime" content="PT10M">
  <span itemprop="recipeYield">4 servings</span>
  <ul>
    <li itemprop="recipeIngredient">1 cup milk</li>
    <li itemprop="recipeIngredient">2   eggs</li>
  </ul>
  <div itemprop="recipeInstructions">
    <div itemprop="step" itemscope itemtype="https://schema.org/HowToStep"><p itemprop="text">Whisk everything.</p></div>
    <div itemscope itemtype="https://schema.org/HowToStep"><p itemprop="text">Fry in butter.</p></div>
  </div>
  <img itemprop="image" src="https://example.com/p.jpg">
</div>
</body></html>`

func TestHTML_MicrodataFallback(t *testing.T) {
	d, err := HTML{}.Extract(context.Background(), Content{HTML: microdataPage, SourceURL: "https://example.com/pancakes"})
	require.NoError(t, err)

	assert.Equal(t, "Pancakes", d.Title)
	assert.Equal(t, "10 min", d.PrepTime)
	assert.Equal(t, "4 servings", d.Servings)
	assert.Equal(t, []recipe.Ingredient{
		{Item: "milk", Measurements: []recipe.Measurement{{Amount: "1", Unit: "cup"}}},
		{Item: "eggs", Measurements: []recipe.Measurement{{Amount: "2"}}},
	}, d.Ingredients)
	assert.Equal(t, "Whisk everything.\n\nFry in butter.", d.Instructions)
	assert.Equal(t, []string{"https://example.com/p.jpg"}, d.ImageURLs)
}

func TestHTML_Failures(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		noData    bool
		malformed bool
	}{
		{name: "empty page", html: "  ", noData: true},
		{name: "no structured data", html: "<html><body><p>Just a blog post</p></body></html>", noData: true},
		{name: "only invalid json-ld", html: `<script type="application/ld+json">{oops</script>`, noData: true},
		{
			name:   "recipe without content",
			html:   `<script type="application/ld+json">{"@type":"Recipe","name":"Nothing"}</script>`,
			noData: true,
		},
		{
			name:      "recipe without instructions",
			html:      `<script type="application/ld+json">{"@type":"Recipe","name":"Half","recipeIngredient":["1 egg"]}</script>`,
			malformed: true,
		},
		{
			name:      "recipe without title",
			html:      `<script type="application/ld+json">{"@type":"Recipe","recipeInstructions":"Stir."}</script>`,
			malformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HTML{}.Extract(context.Background(), Content{HTML: tt.html, SourceURL: "https://example.com/"})
			require.Error(t, err)
			assert.Equal(t, tt.noData, IsNoData(err), err.Error())
			assert.Equal(t, tt.malformed, IsMalformed(err), err.Error())
		})
	}
}

func TestHTML_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := HTML{}.Extract(ctx, Content{HTML: graphPage})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPreSupplied(t *testing.T) {
	p := PreSupplied{}

	d, err := p.Extract(context.Background(), Content{HTML: graphPage, SourceURL: "https://blog.cooking.test/pie"})
	require.NoError(t, err)
	assert.Equal(t, "https://blog.cooking.test/pie", d.SourceURL)
	assert.Equal(t, "Blog.cooking.test", d.SourceName)

	_, err = p.Extract(context.Background(), Content{HTML: "", SourceURL: "https://x.test/"})
	assert.True(t, IsNoData(err))
}

func TestFinish(t *testing.T) {
	d, err := Finish(&recipe.Draft{Title: " Toast ", Instructions: " Toast it. "})
	require.NoError(t, err)
	assert.Equal(t, "Toast", d.Title)

	_, err = Finish(&recipe.Draft{Title: "Nothing"})
	assert.True(t, IsNoData(err))
	assert.ErrorIs(t, err, recipe.ErrNoContent)

	_, err = Finish(&recipe.Draft{Title: "Half", Ingredients: []recipe.Ingredient{{Item: "egg"}}})
	assert.True(t, IsMalformed(err))
	assert.ErrorIs(t, err, recipe.ErrMissingInstructions)

	_, err = Finish(nil)
	assert.True(t, IsNoData(err))
}

func TestHumanizeDuration(t *testing.T) {
	tests := map[string]string{
		"PT1H30M":         "1 hr 30 min",
		"PT20M":           "20 min",
		"pt45m":           "45 min",
		"PT90M":           "1 hr 30 min",
		"P1DT2H":          "1 day 2 hr",
		"P2D":             "2 days",
		"PT30S":           "30 sec",
		"PT0S":            "",
		"P0DT0H0M":        "",
		"":                "",
		" about 20 mins ": "about 20 mins",
		"P":               "P",
		"PT":              "PT",
	}
	for in, want := range tests {
		assert.Equal(t, want, HumanizeDuration(in), in)
	}
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "Seriouseats.com", SourceName("https://www.seriouseats.com/recipes/x"))
	assert.Equal(t, "Localhost", SourceName("http://localhost:8080/"))
	assert.Equal(t, "Example.com", SourceName("https://WWW.Example.com"))
	assert.Equal(t, "", SourceName(""))
	assert.Equal(t, "", SourceName("/relative"))
}

func TestSetFor(t *testing.T) {
	s := Set{HTML: HTML{}, PreSupplied: PreSupplied{}}

	ex, err := s.For(jobregistry.SourceKindURL)
	require.NoError(t, err)
	assert.IsType(t, HTML{}, ex)

	ex, err = s.For(jobregistry.SourceKindHTML)
	require.NoError(t, err)
	assert.IsType(t, PreSupplied{}, ex)

	_, err = s.For(jobregistry.SourceKindPhotos)
	assert.Error(t, err)
	_, err = s.For("ftp")
	assert.Error(t, err)
}
