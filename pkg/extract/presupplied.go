package extract

import (
	"context"
	"strings"

	"github.com/3leaps/ramekin/pkg/recipe"
)

// PreSupplied extracts from HTML the caller captured (for example a browser
// extension saving a page behind a login). Parsing is delegated to HTML;
// the draft is attributed to the caller's source URL.
type PreSupplied struct {
	HTML Extractor
}

var _ Extractor = PreSupplied{}

func (p PreSupplied) Extract(ctx context.Context, content Content) (*recipe.Draft, error) {
	if strings.TrimSpace(content.HTML) == "" {
		return nil, noData("captured html is empty")
	}
	inner := p.HTML
	if inner == nil {
		inner = HTML{}
	}
	d, err := inner.Extract(ctx, content)
	if err != nil {
		return nil, err
	}
	d.SourceURL = content.SourceURL
	d.SourceName = SourceName(content.SourceURL)
	return d, nil
}
