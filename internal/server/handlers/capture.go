package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/ramekin/internal/errors"
	"github.com/3leaps/ramekin/internal/server/middleware"
	"github.com/3leaps/ramekin/pkg/jobregistry"
	"github.com/3leaps/ramekin/pkg/recipe"
)

// maxRequestBody bounds JSON request bodies; captured pages can be large.
const maxRequestBody = 16 << 20

// CaptureService is the part of the capture engine served over HTTP.
type CaptureService interface {
	CreateJob(ctx context.Context, ownerID string, source jobregistry.Source) (*jobregistry.Job, error)
	GetJob(ctx context.Context, ownerID, jobID string) (*jobregistry.Job, error)
	ListJobs(ctx context.Context, ownerID string) ([]jobregistry.Job, error)
	RetryJob(ctx context.Context, ownerID, jobID string) (*jobregistry.Job, error)
	Rescrape(ctx context.Context, ownerID, recipeID string) (*jobregistry.Job, error)
	GetRecipeVersion(ctx context.Context, ownerID, recipeID, versionID string) (*recipe.Version, error)
	ListVersions(ctx context.Context, ownerID, recipeID string) ([]recipe.Version, error)
	ListRecipes(ctx context.Context, ownerID string) ([]recipe.Recipe, error)
	SaveUserVersion(ctx context.Context, ownerID, recipeID string, draft recipe.Draft) (*recipe.Version, error)
	DeleteRecipe(ctx context.Context, ownerID, recipeID string) error
}

// CaptureHandler serves the /api routes.
type CaptureHandler struct {
	svc CaptureService
}

// NewCaptureHandler creates a handler backed by svc.
func NewCaptureHandler(svc CaptureService) *CaptureHandler {
	return &CaptureHandler{svc: svc}
}

// Routes mounts the API under r. Every route requires an owner.
func (h *CaptureHandler) Routes(r chi.Router) {
	r.Use(middleware.RequireOwner)

	r.Post("/scrape", h.Scrape)
	r.Post("/scrape/capture", h.Capture)
	r.Get("/scrape/{id}", h.GetJob)
	r.Post("/scrape/{id}/retry", h.RetryJob)
	r.Post("/import/photos", h.ImportPhotos)
	r.Get("/jobs", h.ListJobs)

	r.Get("/recipes", h.ListRecipes)
	r.Get("/recipes/{id}", h.GetRecipe)
	r.Put("/recipes/{id}", h.UpdateRecipe)
	r.Delete("/recipes/{id}", h.DeleteRecipe)
	r.Post("/recipes/{id}/rescrape", h.Rescrape)
	r.Get("/recipes/{id}/versions", h.ListVersions)
	r.Get("/recipes/{id}/versions/{versionID}", h.GetVersion)
}

type scrapeRequest struct {
	URL string `json:"url"`
}

type captureRequest struct {
	HTML      string `json:"html"`
	SourceURL string `json:"source_url"`
}

type importPhotosRequest struct {
	PhotoIDs []string `json:"photo_ids"`
}

type jobListResponse struct {
	Jobs []jobregistry.Job `json:"jobs"`
}

type versionListResponse struct {
	Versions []recipe.Version `json:"versions"`
}

type recipeListResponse struct {
	Recipes []recipe.Recipe `json:"recipes"`
}

// Scrape handles POST /api/scrape.
func (h *CaptureHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	h.createJob(w, r, jobregistry.URLSource{URL: req.URL})
}

// Capture handles POST /api/scrape/capture.
func (h *CaptureHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	h.createJob(w, r, jobregistry.HTMLSource{Content: req.HTML, SourceURL: req.SourceURL})
}

// ImportPhotos handles POST /api/import/photos.
func (h *CaptureHandler) ImportPhotos(w http.ResponseWriter, r *http.Request) {
	var req importPhotosRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	h.createJob(w, r, jobregistry.PhotosSource{PhotoIDs: req.PhotoIDs})
}

func (h *CaptureHandler) createJob(w http.ResponseWriter, r *http.Request, source jobregistry.Source) {
	job, err := h.svc.CreateJob(r.Context(), middleware.OwnerFromContext(r.Context()), source)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, job)
}

// GetJob handles GET /api/scrape/{id}.
func (h *CaptureHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, job)
}

// RetryJob handles POST /api/scrape/{id}/retry.
func (h *CaptureHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.RetryJob(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs.
func (h *CaptureHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.ListJobs(r.Context(), middleware.OwnerFromContext(r.Context()))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []jobregistry.Job{}
	}
	apperrors.WriteJSON(w, http.StatusOK, jobListResponse{Jobs: jobs})
}

// Rescrape handles POST /api/recipes/{id}/rescrape.
func (h *CaptureHandler) Rescrape(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Rescrape(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, job)
}

// ListRecipes handles GET /api/recipes.
func (h *CaptureHandler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := h.svc.ListRecipes(r.Context(), middleware.OwnerFromContext(r.Context()))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if recipes == nil {
		recipes = []recipe.Recipe{}
	}
	apperrors.WriteJSON(w, http.StatusOK, recipeListResponse{Recipes: recipes})
}

// GetRecipe handles GET /api/recipes/{id} and returns the current version.
func (h *CaptureHandler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.GetRecipeVersion(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "id"), "")
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, v)
}

// UpdateRecipe handles PUT /api/recipes/{id}. The body is the full recipe
// content and becomes a new user version.
func (h *CaptureHandler) UpdateRecipe(w http.ResponseWriter, r *http.Request) {
	var draft recipe.Draft
	if err := decodeBody(r, &draft); err != nil {
		respondWithError(w, r, err)
		return
	}
	v, err := h.svc.SaveUserVersion(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "id"), draft)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, v)
}

// DeleteRecipe handles DELETE /api/recipes/{id}.
func (h *CaptureHandler) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteRecipe(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListVersions handles GET /api/recipes/{id}/versions.
func (h *CaptureHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.ListVersions(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if versions == nil {
		versions = []recipe.Version{}
	}
	apperrors.WriteJSON(w, http.StatusOK, versionListResponse{Versions: versions})
}

// GetVersion handles GET /api/recipes/{id}/versions/{versionID}.
func (h *CaptureHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.GetRecipeVersion(r.Context(), middleware.OwnerFromContext(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "versionID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, v)
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperrors.NewBadRequest("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return apperrors.NewBadRequest("request body is required")
		}
		return apperrors.Wrap(err, apperrors.CodeBadRequest, http.StatusBadRequest,
			fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
