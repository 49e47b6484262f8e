package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	schemasassets "github.com/3leaps/ramekin/internal/assets/schemas"
	"github.com/fulmenhq/gofulmen/schema"
)

// SchemaID is the schema identifier for batch manifests.
const SchemaID = "ramekin/v1.0.0/batch-manifest"

var (
	// ErrManifestNotFound indicates the manifest file does not exist.
	ErrManifestNotFound = errors.New("manifest file not found")

	// ErrSchemaNotFound indicates the embedded schema is missing.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed is wrapped by every ValidationErrors.
	ErrValidationFailed = errors.New("manifest validation failed")
)

var (
	compileOnce sync.Once
	compiled    *schema.Validator
	compileErr  error
)

// ValidationError is one problem with a manifest, located by JSON pointer.
type ValidationError struct {
	// Path is e.g. "/sources/0/url".
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors lists every problem found in one manifest.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "validation failed"
	case 1:
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks a manifest built in code: the schema first, then the
// source rules the schema cannot express. Unknown fields cannot be detected
// here; use ValidateRaw on input documents.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("serialize manifest for validation: %w", err)
	}
	if err := ValidateRaw(data); err != nil {
		return err
	}
	if errs := checkSources(m.Sources); len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateRaw checks a JSON document against the embedded batch manifest
// schema.
func ValidateRaw(jsonData []byte) error {
	v, err := manifestSchema()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// checkSources applies the rules a schema-valid manifest can still break.
// URLs must be absolute http(s). A page url or rescrape target may appear
// once per manifest, since a second entry would only capture the same page
// again. Photo ids must be unique within an entry.
func checkSources(sources []SourceEntry) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]int)

	claim := func(key string, i int, field string) {
		if first, ok := seen[key]; ok {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("/sources/%d/%s", i, field),
				Message: fmt.Sprintf("duplicates /sources/%d", first),
			})
			return
		}
		seen[key] = i
	}

	for i, e := range sources {
		switch e.Kind() {
		case "url":
			if msg := checkPageURL(e.URL); msg != "" {
				errs = append(errs, ValidationError{Path: fmt.Sprintf("/sources/%d/url", i), Message: msg})
				continue
			}
			claim("url "+strings.TrimSpace(e.URL), i, "url")
		case "html":
			if msg := checkPageURL(e.SourceURL); msg != "" {
				errs = append(errs, ValidationError{Path: fmt.Sprintf("/sources/%d/source_url", i), Message: msg})
			}
		case "photos":
			ids := make(map[string]bool, len(e.Photos))
			for k, id := range e.Photos {
				id = strings.TrimSpace(id)
				if ids[id] {
					errs = append(errs, ValidationError{
						Path:    fmt.Sprintf("/sources/%d/photos/%d", i, k),
						Message: fmt.Sprintf("duplicate photo id %q", id),
					})
				}
				ids[id] = true
			}
		case "rescrape":
			claim("rescrape "+strings.TrimSpace(e.Rescrape), i, "rescrape")
		}
	}
	return errs
}

func checkPageURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "must be an absolute http or https URL"
	}
	return ""
}

func manifestSchema() (*schema.Validator, error) {
	compileOnce.Do(func() {
		if len(schemasassets.BatchManifestSchema) == 0 {
			compileErr = fmt.Errorf("%w: embedded batch-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		compiled, compileErr = schema.NewValidator(schemasassets.BatchManifestSchema)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile manifest schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}
