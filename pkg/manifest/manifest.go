// Package manifest provides loading and validation of ramekin batch manifests.
//
// A batch manifest is a YAML or JSON file listing recipe sources to capture
// in one run. Each source is exactly one of a page URL, a saved HTML file
// with the URL it came from, a list of photo ids, or a recipe id to
// rescrape.
//
// Manifests are validated against an embedded JSON Schema before anything
// runs. The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	owner: alice
//	workers: 2
//	sources:
//	  - url: https://example.com/recipes/apple-pie
//	  - html_file: saved/members-only-stew.html
//	    source_url: https://members.example.com/stew
//	  - photos: [card-front, card-back]
//	  - rescrape: 3f2c6a0e-5b7d-4b8e-9f0a-1c2d3e4f5a6b
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/3leaps/ramekin/pkg/jobregistry"
)

// Manifest is a validated batch manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Owner is the owner id jobs are created for. The CLI --owner flag
	// takes precedence.
	Owner string `json:"owner,omitempty" yaml:"owner,omitempty"`

	// Workers overrides the configured worker count for this run.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Sources lists what to capture, in order.
	Sources []SourceEntry `json:"sources" yaml:"sources"`

	// baseDir resolves relative html_file paths. Set by Load.
	baseDir string
}

// SourceEntry is one capture request. Exactly one of URL, HTMLFile, Photos
// or Rescrape is set; SourceURL accompanies HTMLFile.
type SourceEntry struct {
	URL       string   `json:"url,omitempty" yaml:"url,omitempty"`
	HTMLFile  string   `json:"html_file,omitempty" yaml:"html_file,omitempty"`
	SourceURL string   `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	Photos    []string `json:"photos,omitempty" yaml:"photos,omitempty"`
	Rescrape  string   `json:"rescrape,omitempty" yaml:"rescrape,omitempty"`
}

// Kind names the entry variant.
func (e SourceEntry) Kind() string {
	switch {
	case e.URL != "":
		return "url"
	case e.HTMLFile != "":
		return "html"
	case len(e.Photos) > 0:
		return "photos"
	case e.Rescrape != "":
		return "rescrape"
	default:
		return ""
	}
}

// Describe returns a short label for logs.
func (e SourceEntry) Describe() string {
	switch e.Kind() {
	case "url":
		return e.URL
	case "html":
		return e.HTMLFile
	case "photos":
		return fmt.Sprintf("%d photo(s)", len(e.Photos))
	case "rescrape":
		return "rescrape " + e.Rescrape
	default:
		return "empty source"
	}
}

// ApplyDefaults fills optional fields. Workers stays zero when unset so the
// configured value applies.
func (m *Manifest) ApplyDefaults() {
	if m.Version == "" {
		m.Version = "1.0"
	}
}

// HTMLPath resolves an html_file entry against the manifest's directory.
func (m *Manifest) HTMLPath(e SourceEntry) string {
	if e.HTMLFile == "" || filepath.IsAbs(e.HTMLFile) || m.baseDir == "" {
		return e.HTMLFile
	}
	return filepath.Join(m.baseDir, e.HTMLFile)
}

// JobSource converts a non-rescrape entry into a job source, reading the
// HTML file for html entries.
func (m *Manifest) JobSource(e SourceEntry) (jobregistry.Source, error) {
	switch e.Kind() {
	case "url":
		return jobregistry.URLSource{URL: e.URL}, nil
	case "html":
		data, err := os.ReadFile(m.HTMLPath(e))
		if err != nil {
			return nil, fmt.Errorf("read html file: %w", err)
		}
		return jobregistry.HTMLSource{Content: string(data), SourceURL: e.SourceURL}, nil
	case "photos":
		return jobregistry.PhotosSource{PhotoIDs: append([]string(nil), e.Photos...)}, nil
	case "rescrape":
		return nil, fmt.Errorf("rescrape entries have no job source")
	default:
		return nil, fmt.Errorf("source entry is empty")
	}
}
