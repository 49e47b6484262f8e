package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/ramekin/internal/errors"
	"github.com/3leaps/ramekin/pkg/capture"
	"github.com/3leaps/ramekin/pkg/jobregistry"
	"github.com/3leaps/ramekin/pkg/recipe"
)

// stubService keeps jobs and versions in maps and records the last call.
type stubService struct {
	jobs     map[string]*jobregistry.Job
	versions map[string][]recipe.Version

	lastOwner  string
	lastSource jobregistry.Source
	lastDraft  recipe.Draft
	deleted    []string
}

func newStubService() *stubService {
	return &stubService{
		jobs:     make(map[string]*jobregistry.Job),
		versions: make(map[string][]recipe.Version),
	}
}

func (s *stubService) CreateJob(_ context.Context, ownerID string, source jobregistry.Source) (*jobregistry.Job, error) {
	s.lastOwner = ownerID
	s.lastSource = source
	if u, ok := source.(jobregistry.URLSource); ok && u.URL == "" {
		return nil, &capture.ValidationError{Field: "url", Reason: "url is required"}
	}
	job := &jobregistry.Job{
		ID:        "job-1",
		OwnerID:   ownerID,
		Operation: jobregistry.OperationScrape,
		Source:    source,
		State:     jobregistry.Pending{},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *stubService) GetJob(_ context.Context, ownerID, jobID string) (*jobregistry.Job, error) {
	s.lastOwner = ownerID
	job, ok := s.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return nil, capture.ErrNotFound
	}
	return job, nil
}

func (s *stubService) ListJobs(_ context.Context, ownerID string) ([]jobregistry.Job, error) {
	var out []jobregistry.Job
	for _, j := range s.jobs {
		if j.OwnerID == ownerID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *stubService) RetryJob(ctx context.Context, ownerID, jobID string) (*jobregistry.Job, error) {
	job, err := s.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if !job.CanRetry() {
		return nil, capture.ErrInvalidState
	}
	job.State = jobregistry.Pending{}
	job.RetryCount++
	return job, nil
}

func (s *stubService) Rescrape(_ context.Context, ownerID, recipeID string) (*jobregistry.Job, error) {
	vs, ok := s.versions[recipeID]
	if !ok {
		return nil, capture.ErrNotFound
	}
	if vs[0].Content.SourceURL == "" {
		return nil, capture.ErrMissingSourceURL
	}
	return &jobregistry.Job{
		ID:             "job-r",
		OwnerID:        ownerID,
		Operation:      jobregistry.OperationRescrape,
		Source:         jobregistry.URLSource{URL: vs[0].Content.SourceURL},
		State:          jobregistry.Pending{},
		TargetRecipeID: recipeID,
	}, nil
}

func (s *stubService) GetRecipeVersion(_ context.Context, _, recipeID, versionID string) (*recipe.Version, error) {
	for _, v := range s.versions[recipeID] {
		if (versionID == "" && v.IsCurrent) || v.ID == versionID {
			v := v
			return &v, nil
		}
	}
	return nil, capture.ErrNotFound
}

func (s *stubService) ListVersions(_ context.Context, _, recipeID string) ([]recipe.Version, error) {
	vs, ok := s.versions[recipeID]
	if !ok {
		return nil, capture.ErrNotFound
	}
	return vs, nil
}

func (s *stubService) ListRecipes(context.Context, string) ([]recipe.Recipe, error) {
	return nil, nil
}

func (s *stubService) SaveUserVersion(_ context.Context, _, recipeID string, draft recipe.Draft) (*recipe.Version, error) {
	s.lastDraft = draft
	if strings.TrimSpace(draft.Title) == "" {
		return nil, &capture.ValidationError{Field: "content", Reason: "title is required"}
	}
	if _, ok := s.versions[recipeID]; !ok {
		return nil, capture.ErrNotFound
	}
	v := recipe.Version{ID: "v-user", RecipeID: recipeID, Number: len(s.versions[recipeID]) + 1, IsCurrent: true, Source: recipe.SourceUser, Content: draft}
	return &v, nil
}

func (s *stubService) DeleteRecipe(_ context.Context, _, recipeID string) error {
	if _, ok := s.versions[recipeID]; !ok {
		return capture.ErrNotFound
	}
	s.deleted = append(s.deleted, recipeID)
	return nil
}

func newAPI(svc CaptureService) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", NewCaptureHandler(svc).Routes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("X-Owner-ID", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestCaptureHandler_CreateJobs(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		source jobregistry.Source
	}{
		{"scrape", "/api/scrape", `{"url":"https://example.com/pie"}`, jobregistry.URLSource{URL: "https://example.com/pie"}},
		{"capture", "/api/scrape/capture", `{"html":"<html></html>","source_url":"https://example.com/pie"}`,
			jobregistry.HTMLSource{Content: "<html></html>", SourceURL: "https://example.com/pie"}},
		{"photos", "/api/import/photos", `{"photo_ids":["p1","p2"]}`, jobregistry.PhotosSource{PhotoIDs: []string{"p1", "p2"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStubService()
			rec := do(t, newAPI(svc), http.MethodPost, tt.path, tt.body)

			assert.Equal(t, http.StatusCreated, rec.Code)
			assert.Equal(t, "alice", svc.lastOwner)
			assert.Equal(t, tt.source, svc.lastSource)

			var job map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
			assert.Equal(t, "job-1", job["job_id"])
			assert.Equal(t, "pending", job["status"])
			assert.Equal(t, false, job["can_retry"])
		})
	}
}

func TestCaptureHandler_BadRequests(t *testing.T) {
	api := newAPI(newStubService())

	rec := do(t, api, http.MethodPost, "/api/scrape", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeBadRequest, errorCode(t, rec))

	rec = do(t, api, http.MethodPost, "/api/scrape", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, api, http.MethodPost, "/api/scrape", `{"url":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidSource, errorCode(t, rec))
}

func TestCaptureHandler_MissingOwner(t *testing.T) {
	svc := newStubService()

	req := httptest.NewRequest(http.MethodPost, "/api/scrape", strings.NewReader(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	newAPI(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, svc.lastSource)
}

func TestCaptureHandler_JobLifecycle(t *testing.T) {
	svc := newStubService()
	api := newAPI(svc)

	svc.jobs["failed"] = &jobregistry.Job{
		ID:        "failed",
		OwnerID:   "alice",
		Operation: jobregistry.OperationScrape,
		Source:    jobregistry.URLSource{URL: "https://example.com"},
		State:     jobregistry.Failed{Step: jobregistry.StepScraping, Error: "connection refused"},
	}
	svc.jobs["other"] = &jobregistry.Job{
		ID:      "other",
		OwnerID: "bob",
		Source:  jobregistry.URLSource{URL: "https://example.com"},
		State:   jobregistry.Pending{},
	}

	rec := do(t, api, http.MethodGet, "/api/scrape/failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "failed", view["status"])
	assert.Equal(t, "scraping", view["failed_at_step"])
	assert.Equal(t, "connection refused", view["error"])
	assert.Equal(t, true, view["can_retry"])

	rec = do(t, api, http.MethodGet, "/api/scrape/other", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, api, http.MethodPost, "/api/scrape/failed/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "pending", view["status"])
	assert.Equal(t, float64(1), view["retry_count"])

	rec = do(t, api, http.MethodPost, "/api/scrape/failed/retry", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidState, errorCode(t, rec))

	rec = do(t, api, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Jobs []map[string]any `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Jobs, 1)
}

func TestCaptureHandler_Recipes(t *testing.T) {
	svc := newStubService()
	api := newAPI(svc)

	svc.versions["r1"] = []recipe.Version{
		{ID: "v2", RecipeID: "r1", Number: 2, IsCurrent: true, Source: recipe.SourceRescrape,
			Content: recipe.Draft{Title: "Pie", SourceURL: "https://example.com/pie"}},
		{ID: "v1", RecipeID: "r1", Number: 1, Source: recipe.SourceImport,
			Content: recipe.Draft{Title: "Pie", SourceURL: "https://example.com/pie"}},
	}
	svc.versions["typed"] = []recipe.Version{
		{ID: "t1", RecipeID: "typed", Number: 1, IsCurrent: true, Source: recipe.SourceUser, Content: recipe.Draft{Title: "Soup"}},
	}

	rec := do(t, api, http.MethodGet, "/api/recipes/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v recipe.Version
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "v2", v.ID)

	rec = do(t, api, http.MethodGet, "/api/recipes/r1/versions/v1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 1, v.Number)

	rec = do(t, api, http.MethodGet, "/api/recipes/r1/versions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var versions struct {
		Versions []recipe.Version `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &versions))
	require.Len(t, versions.Versions, 2)
	assert.Equal(t, 2, versions.Versions[0].Number)

	rec = do(t, api, http.MethodPost, "/api/recipes/r1/rescrape", "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, api, http.MethodPost, "/api/recipes/typed/rescrape", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeMissingSourceURL, errorCode(t, rec))

	rec = do(t, api, http.MethodPut, "/api/recipes/r1", `{"title":"Better Pie","instructions":"Bake.","ingredients":[{"item":"flour"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Better Pie", svc.lastDraft.Title)

	rec = do(t, api, http.MethodPut, "/api/recipes/r1", `{"title":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, api, http.MethodDelete, "/api/recipes/r1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"r1"}, svc.deleted)

	rec = do(t, api, http.MethodGet, "/api/recipes/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, errorCode(t, rec))

	rec = do(t, api, http.MethodGet, "/api/recipes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"recipes":[]}`, rec.Body.String())
}
