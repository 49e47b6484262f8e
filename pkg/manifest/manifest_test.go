package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/ramekin/pkg/jobregistry"
)

// validManifestYAML returns a minimal valid manifest in YAML format.
func validManifestYAML() string {
	return `version: "1.0"
sources:
  - url: https://example.com/pie
`
}

// validManifestJSON returns a minimal valid manifest in JSON format.
func validManifestJSON() string {
	return `{
  "version": "1.0",
  "sources": [
    {"url": "https://example.com/pie"}
  ]
}`
}

// fullManifestYAML returns a manifest using every source kind.
func fullManifestYAML() string {
	return `$schema: https://schemas.3leaps.dev/ramekin/v1.0.0/batch-manifest.schema.json
version: "1.0"
owner: alice
workers: 2
sources:
  - url: https://example.com/pie
  - html_file: saved/stew.html
    source_url: https://members.example.com/stew
  - photos: [card-front, card-back]
  - rescrape: recipe-123
`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("valid YAML", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "batch.yaml", validManifestYAML())

		m, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "1.0", m.Version)
		require.Len(t, m.Sources, 1)
		assert.Equal(t, "url", m.Sources[0].Kind())
		assert.Zero(t, m.Workers)
	})

	t.Run("valid JSON", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "batch.json", validManifestJSON())

		m, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/pie", m.Sources[0].URL)
	})

	t.Run("unknown extension reads JSON", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "batch.manifest", validManifestJSON())

		m, err := Load(path)
		require.NoError(t, err)
		assert.Len(t, m.Sources, 1)
	})

	t.Run("full manifest", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "batch.yml", fullManifestYAML())

		m, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "alice", m.Owner)
		assert.Equal(t, 2, m.Workers)

		kinds := make([]string, 0, len(m.Sources))
		for _, s := range m.Sources {
			kinds = append(kinds, s.Kind())
		}
		assert.Equal(t, []string{"url", "html", "photos", "rescrape"}, kinds)
		assert.Equal(t, []string{"card-front", "card-back"}, m.Sources[2].Photos)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrManifestNotFound))
	})

	t.Run("empty file", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "batch.yaml", "  \n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("malformed YAML", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "batch.yaml", "version: [1.0\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid YAML")
	})

	t.Run("malformed JSON", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "batch.json", `{"version":`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid JSON")
	})
}

func TestLoadFromBytes_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing version", "sources:\n  - url: https://example.com\n"},
		{"wrong version", "version: \"2.0\"\nsources:\n  - url: https://example.com\n"},
		{"missing sources", "version: \"1.0\"\n"},
		{"empty sources", "version: \"1.0\"\nsources: []\n"},
		{"unknown top-level field", "version: \"1.0\"\nbucket: x\nsources:\n  - url: https://example.com\n"},
		{"unknown source field", "version: \"1.0\"\nsources:\n  - link: https://example.com\n"},
		{"two kinds in one entry", "version: \"1.0\"\nsources:\n  - url: https://example.com\n    rescrape: r1\n"},
		{"html without source url", "version: \"1.0\"\nsources:\n  - html_file: a.html\n"},
		{"source url without html", "version: \"1.0\"\nsources:\n  - url: https://example.com\n    source_url: https://example.com\n"},
		{"empty photo list", "version: \"1.0\"\nsources:\n  - photos: []\n"},
		{"workers out of range", "version: \"1.0\"\nworkers: 0\nsources:\n  - url: https://example.com\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.doc), "batch.yaml")
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %T: %v", err, err)
			assert.True(t, errors.Is(err, ErrValidationFailed))
		})
	}
}

func TestLoadFromBytes_SourceRules(t *testing.T) {
	tests := []struct {
		name     string
		sources  string
		wantPath string
		wantMsg  string
	}{
		{
			name:     "relative url",
			sources:  "  - url: /recipes/pie\n",
			wantPath: "/sources/0/url",
			wantMsg:  "absolute http or https",
		},
		{
			name:     "ftp url",
			sources:  "  - url: ftp://example.com/pie\n",
			wantPath: "/sources/0/url",
			wantMsg:  "absolute http or https",
		},
		{
			name:     "html source url without scheme",
			sources:  "  - html_file: a.html\n    source_url: example.com/stew\n",
			wantPath: "/sources/0/source_url",
			wantMsg:  "absolute http or https",
		},
		{
			name:     "same url twice",
			sources:  "  - url: https://example.com/pie\n  - photos: [a]\n  - url: https://example.com/pie\n",
			wantPath: "/sources/2/url",
			wantMsg:  "duplicates /sources/0",
		},
		{
			name:     "same rescrape twice",
			sources:  "  - rescrape: r1\n  - rescrape: r1\n",
			wantPath: "/sources/1/rescrape",
			wantMsg:  "duplicates /sources/0",
		},
		{
			name:     "repeated photo id",
			sources:  "  - photos: [front, back, front]\n",
			wantPath: "/sources/0/photos/2",
			wantMsg:  `duplicate photo id "front"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "version: \"1.0\"\nsources:\n" + tt.sources
			_, err := LoadFromBytes([]byte(doc), "batch.yaml")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidationFailed))

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.wantPath, verrs[0].Path)
			assert.Contains(t, verrs[0].Message, tt.wantMsg)
		})
	}
}

func TestLoadFromBytes_ReportsEverySourceProblem(t *testing.T) {
	doc := `version: "1.0"
sources:
  - url: https://example.com/pie
  - url: https://example.com/pie
  - url: pie
  - photos: [x, x]
`
	_, err := LoadFromBytes([]byte(doc), "batch.yaml")
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 3)
	assert.Contains(t, err.Error(), "3 errors")
}

func TestLoadFromReader(t *testing.T) {
	m, err := LoadFromReader(strings.NewReader(validManifestYAML()), "")
	require.NoError(t, err)
	assert.Len(t, m.Sources, 1)
}

func TestValidate(t *testing.T) {
	m := &Manifest{Version: "1.0", Sources: []SourceEntry{{URL: "https://example.com"}}}
	assert.NoError(t, Validate(m))

	m.Sources = nil
	assert.Error(t, Validate(m))

	m.Sources = []SourceEntry{{Rescrape: "r1"}, {Rescrape: "r1"}}
	err := Validate(m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))
	assert.Contains(t, err.Error(), "/sources/1/rescrape")
}

func TestValidationErrorsFormatting(t *testing.T) {
	single := ValidationErrors{{Path: "/sources/0", Message: "bad"}}
	assert.Equal(t, "/sources/0: bad", single.Error())

	multi := ValidationErrors{{Path: "/version", Message: "wrong"}, {Message: "missing sources"}}
	assert.Contains(t, multi.Error(), "2 errors")
	assert.Contains(t, multi.Error(), "  - missing sources")

	assert.Equal(t, "validation failed", ValidationErrors{}.Error())
}

func TestJobSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "saved/stew.html", "<html>stew</html>")
	path := writeFile(t, dir, "batch.yaml", fullManifestYAML())

	m, err := Load(path)
	require.NoError(t, err)

	src, err := m.JobSource(m.Sources[0])
	require.NoError(t, err)
	assert.Equal(t, jobregistry.URLSource{URL: "https://example.com/pie"}, src)

	src, err = m.JobSource(m.Sources[1])
	require.NoError(t, err)
	assert.Equal(t, jobregistry.HTMLSource{Content: "<html>stew</html>", SourceURL: "https://members.example.com/stew"}, src)

	src, err = m.JobSource(m.Sources[2])
	require.NoError(t, err)
	assert.Equal(t, jobregistry.PhotosSource{PhotoIDs: []string{"card-front", "card-back"}}, src)

	_, err = m.JobSource(m.Sources[3])
	assert.Error(t, err)

	assert.Equal(t, filepath.Join(dir, "saved/stew.html"), m.HTMLPath(m.Sources[1]))
	assert.Equal(t, "rescrape recipe-123", m.Sources[3].Describe())
}

func TestJobSource_MissingHTMLFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "batch.yaml", fullManifestYAML())
	m, err := Load(path)
	require.NoError(t, err)

	_, err = m.JobSource(m.Sources[1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read html file")
}
