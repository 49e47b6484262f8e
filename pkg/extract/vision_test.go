package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/3leaps/ramekin/pkg/photostore"
	"github.com/3leaps/ramekin/pkg/recipe"
)

type fakePhotos map[string]*photostore.Photo

func (f fakePhotos) Head(ctx context.Context, ownerID, photoID string) (*photostore.Meta, error) {
	p, err := f.Get(ctx, ownerID, photoID)
	if err != nil {
		return nil, err
	}
	return &p.Meta, nil
}

func (f fakePhotos) Get(_ context.Context, ownerID, photoID string) (*photostore.Photo, error) {
	p, ok := f[photoID]
	if !ok || p.OwnerID != ownerID {
		return nil, &photostore.Error{Op: "Get", Backend: photostore.BackendFile, Key: ownerID + "/" + photoID, Err: photostore.ErrNotFound}
	}
	return p, nil
}

type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
	calls    int
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func testPhotos() fakePhotos {
	return fakePhotos{
		"p1": {Meta: photostore.Meta{ID: "p1", OwnerID: "owner-1", ContentType: "image/png"}, Data: []byte("png-bytes")},
		"p2": {Meta: photostore.Meta{ID: "p2", OwnerID: "owner-1"}, Data: []byte("jpeg-bytes")},
		"p3": {Meta: photostore.Meta{ID: "p3", OwnerID: "owner-2", ContentType: "image/png"}, Data: []byte("other")},
	}
}

const visionJSON = `{
  "title": "Grandma's Scones",
  "description": null,
  "ingredients": "2 cups flour\n1 tbsp baking powder\n\n½ cup cream",
  "instructions": "Mix.\n\nBake at 220C for 12 minutes.",
  "servings": "8 scones",
  "prep_time": "15 minutes",
  "cook_time": null,
  "total_time": null,
  "notes": "Best warm."
}`

func TestVision_Extract(t *testing.T) {
	model := &fakeModel{reply: "```json\n" + visionJSON + "\n```"}
	v := &Vision{Model: model, Photos: testPhotos()}

	d, err := v.Extract(context.Background(), Content{OwnerID: "owner-1", PhotoIDs: []string{"p1", "p2"}})
	require.NoError(t, err)

	assert.Equal(t, "Grandma's Scones", d.Title)
	assert.Empty(t, d.Description)
	assert.Equal(t, "Mix.\n\nBake at 220C for 12 minutes.", d.Instructions)
	assert.Equal(t, "8 scones", d.Servings)
	assert.Equal(t, "15 minutes", d.PrepTime)
	assert.Equal(t, "Best warm.", d.Notes)
	assert.Equal(t, []recipe.Ingredient{
		{Item: "flour", Measurements: []recipe.Measurement{{Amount: "2", Unit: "cup"}}},
		{Item: "baking powder", Measurements: []recipe.Measurement{{Amount: "1", Unit: "tbsp"}}},
		{Item: "cream", Measurements: []recipe.Measurement{{Amount: "1/2", Unit: "cup"}}},
	}, d.Ingredients)

	require.Equal(t, 1, model.calls)
	require.Len(t, model.messages, 1)
	parts := model.messages[0].Parts
	require.Len(t, parts, 3)
	assert.IsType(t, llms.TextContent{}, parts[0])
	first, ok := parts[1].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", first.MIMEType)
	assert.Equal(t, []byte("png-bytes"), first.Data)
	second, ok := parts[2].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", second.MIMEType)
}

func TestVision_IngredientArray(t *testing.T) {
	model := &fakeModel{reply: `{"title":"Toast","ingredients":["1 slice bread","butter"],"instructions":["Toast.","Butter."]}`}
	v := &Vision{Model: model, Photos: testPhotos()}

	d, err := v.Extract(context.Background(), Content{OwnerID: "owner-1", PhotoIDs: []string{"p1"}})
	require.NoError(t, err)
	assert.Len(t, d.Ingredients, 2)
	assert.Equal(t, "Toast.\n\nButter.", d.Instructions)
}

func TestVision_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("photo of another owner", func(t *testing.T) {
		model := &fakeModel{reply: visionJSON}
		v := &Vision{Model: model, Photos: testPhotos()}
		_, err := v.Extract(ctx, Content{OwnerID: "owner-1", PhotoIDs: []string{"p1", "p3"}})
		assert.True(t, IsNoData(err))
		assert.Zero(t, model.calls)
	})

	t.Run("no photos", func(t *testing.T) {
		v := &Vision{Model: &fakeModel{}, Photos: testPhotos()}
		_, err := v.Extract(ctx, Content{OwnerID: "owner-1"})
		assert.True(t, IsNoData(err))
	})

	t.Run("reply is not json", func(t *testing.T) {
		v := &Vision{Model: &fakeModel{reply: "I could not read this."}, Photos: testPhotos()}
		_, err := v.Extract(ctx, Content{OwnerID: "owner-1", PhotoIDs: []string{"p1"}})
		assert.True(t, IsMalformed(err))
	})

	t.Run("reply has no recipe", func(t *testing.T) {
		v := &Vision{Model: &fakeModel{reply: `{"title":"","ingredients":"","instructions":""}`}, Photos: testPhotos()}
		_, err := v.Extract(ctx, Content{OwnerID: "owner-1", PhotoIDs: []string{"p1"}})
		assert.True(t, IsNoData(err))
	})

	t.Run("model error", func(t *testing.T) {
		boom := errors.New("rate limited")
		v := &Vision{Model: &fakeModel{err: boom}, Photos: testPhotos()}
		_, err := v.Extract(ctx, Content{OwnerID: "owner-1", PhotoIDs: []string{"p1"}})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("not configured", func(t *testing.T) {
		var v *Vision
		_, err := v.Extract(ctx, Content{OwnerID: "owner-1", PhotoIDs: []string{"p1"}})
		assert.True(t, IsMalformed(err))
	})
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("  {\"a\":1} "))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}```"))
}

func TestNewChatModel_Validation(t *testing.T) {
	_, err := NewChatModel(ModelConfig{Provider: "anthropic"})
	assert.Error(t, err)
	_, err = NewChatModel(ModelConfig{Provider: "openai"})
	assert.Error(t, err)
	_, err = NewChatModel(ModelConfig{Provider: "bard"})
	assert.Error(t, err)

	m, err := NewChatModel(ModelConfig{Provider: "ollama", Model: "llava", OllamaHost: "http://127.0.0.1:11434"})
	require.NoError(t, err)
	assert.NotNil(t, m)
}
