package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/3leaps/ramekin/pkg/photostore"
	"github.com/3leaps/ramekin/pkg/recipe"
)

// ChatModel is the part of llms.Model the vision extractor needs.
type ChatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// DefaultVisionMaxTokens bounds the model reply.
const DefaultVisionMaxTokens = 4096

const visionPrompt = `You are a recipe extraction assistant. You are given one or more photos of a recipe from a cookbook or printed page.

Extract the complete recipe from the photos and return it as JSON with this exact structure:
{
  "title": "Recipe Title",
  "description": "Brief description, or null",
  "ingredients": "Each ingredient on its own line, exactly as written",
  "instructions": "Full instructions, preserving paragraph breaks with double newlines",
  "servings": "Servings, or null",
  "prep_time": "Prep time, or null",
  "cook_time": "Cook time, or null",
  "total_time": "Total time, or null",
  "notes": "Notes, tips or variations, or null"
}

Rules:
- Copy the text exactly as written; do not paraphrase
- Put each ingredient on its own line
- Keep the original step numbering and paragraph structure
- Use null for anything not present in the photos
- Return only the JSON`

// Vision extracts a recipe from owner photos with a multimodal model.
type Vision struct {
	Model     ChatModel
	Photos    photostore.Store
	MaxTokens int
}

var _ Extractor = (*Vision)(nil)

type visionReply struct {
	Title        string          `json:"title"`
	Description  *string         `json:"description"`
	Ingredients  json.RawMessage `json:"ingredients"`
	Instructions json.RawMessage `json:"instructions"`
	Servings     *string         `json:"servings"`
	PrepTime     *string         `json:"prep_time"`
	CookTime     *string         `json:"cook_time"`
	TotalTime    *string         `json:"total_time"`
	Notes        *string         `json:"notes"`
}

// Extract loads every photo in order and asks the model for one recipe.
func (v *Vision) Extract(ctx context.Context, content Content) (*recipe.Draft, error) {
	if v == nil || v.Model == nil || v.Photos == nil {
		return nil, malformed("vision extraction is not configured", nil)
	}
	if len(content.PhotoIDs) == 0 {
		return nil, noData("no photos supplied")
	}

	parts := []llms.ContentPart{llms.TextPart(visionPrompt)}
	for _, id := range content.PhotoIDs {
		photo, err := v.Photos.Get(ctx, content.OwnerID, id)
		if err != nil {
			if photostore.IsNotFound(err) {
				return nil, &Error{Kind: KindNoData, Message: fmt.Sprintf("photo %s not found", id), Err: err}
			}
			return nil, fmt.Errorf("load photo %s: %w", id, err)
		}
		mime := photo.ContentType
		if mime == "" || mime == "application/octet-stream" {
			mime = "image/jpeg"
		}
		parts = append(parts, llms.BinaryPart(mime, photo.Data))
	}

	maxTokens := v.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultVisionMaxTokens
	}

	resp, err := v.Model.GenerateContent(ctx,
		[]llms.MessageContent{{Role: llms.ChatMessageTypeHuman, Parts: parts}},
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(0.1),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, fmt.Errorf("vision model: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, malformed("vision model returned no choices", nil)
	}

	var reply visionReply
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Choices[0].Content)), &reply); err != nil {
		return nil, malformed("decode vision reply", err)
	}

	d := &recipe.Draft{
		Title:        reply.Title,
		Description:  deref(reply.Description),
		Instructions: joinedText(reply.Instructions, "\n\n"),
		Servings:     deref(reply.Servings),
		PrepTime:     deref(reply.PrepTime),
		CookTime:     deref(reply.CookTime),
		TotalTime:    deref(reply.TotalTime),
		Notes:        deref(reply.Notes),
	}
	d.Ingredients = recipe.ParseIngredientLines(strings.Split(joinedText(reply.Ingredients, "\n"), "\n"))
	return Finish(d)
}

// stripCodeFence removes a ```json fence some models wrap replies in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// joinedText accepts a JSON string or an array of strings.
func joinedText(raw json.RawMessage, sep string) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, sep)
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
