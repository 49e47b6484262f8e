// Package extract turns captured content into recipe drafts.
//
// Three extractors share one contract: HTML pages (JSON-LD with a microdata
// fallback), caller-supplied HTML, and recipe photos read by a multimodal
// model. Extractors never touch job state; failures come back as *Error so
// the capture engine can record them against the parsing step.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/3leaps/ramekin/pkg/jobregistry"
	"github.com/3leaps/ramekin/pkg/recipe"
)

// Content is the input to an extractor. HTML extractors read HTML and
// SourceURL; the vision extractor reads OwnerID and PhotoIDs.
type Content struct {
	OwnerID   string
	HTML      string
	SourceURL string
	PhotoIDs  []string
}

// Extractor produces a validated draft from content.
type Extractor interface {
	Extract(ctx context.Context, content Content) (*recipe.Draft, error)
}

// Kind classifies extraction failures.
type Kind string

const (
	// KindNoData means no recipe was found in the content.
	KindNoData Kind = "no_data"

	// KindMalformed means a recipe was found but could not be used.
	KindMalformed Kind = "malformed"
)

// Error is returned by every extractor on failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNoData reports whether err is a no_data extraction failure.
func IsNoData(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Kind == KindNoData
}

// IsMalformed reports whether err is a malformed extraction failure.
func IsMalformed(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Kind == KindMalformed
}

func noData(msg string) *Error {
	return &Error{Kind: KindNoData, Message: msg}
}

func malformed(msg string, err error) *Error {
	return &Error{Kind: KindMalformed, Message: msg, Err: err}
}

// Finish normalizes and validates a draft, mapping validation failures onto
// extraction error kinds: a draft with neither ingredients nor instructions
// is KindNoData, any other gap is KindMalformed.
func Finish(d *recipe.Draft) (*recipe.Draft, error) {
	d.Normalize()
	switch err := d.Validate(); {
	case err == nil:
		return d, nil
	case errors.Is(err, recipe.ErrNoContent):
		return nil, &Error{Kind: KindNoData, Message: "recipe has no ingredients or instructions", Err: err}
	default:
		return nil, malformed("recipe is incomplete", err)
	}
}

// Set selects an extractor by job source kind.
type Set struct {
	HTML        Extractor
	PreSupplied Extractor
	Vision      Extractor
}

// For returns the extractor for kind.
func (s Set) For(kind jobregistry.SourceKind) (Extractor, error) {
	var ex Extractor
	switch kind {
	case jobregistry.SourceKindURL:
		ex = s.HTML
	case jobregistry.SourceKindHTML:
		ex = s.PreSupplied
	case jobregistry.SourceKindPhotos:
		ex = s.Vision
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
	if ex == nil {
		return nil, fmt.Errorf("no extractor configured for %s sources", kind)
	}
	return ex, nil
}

// SourceName derives a display name from a page URL: the host without a
// leading "www.", first letter upper-cased.
func SourceName(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	r, size := utf8.DecodeRuneInString(host)
	return string(unicode.ToUpper(r)) + host[size:]
}
