package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"dhs-api/internal/analysis"
	"dhs-api/internal/config"
	"dhs-api/internal/models"
	"dhs-api/internal/service"

	"github.com/go-chi/chi/v5"
)

// Query parameters consumed by the handlers themselves. Everything else is
// handed to the indicator as an option parameter.
var reservedParams = map[string]bool{
	"survey":  true,
	"country": true,
	"year":    true,
	"region":  true,
}

type Handler struct {
	Config     *config.Config
	Indicators *service.IndicatorService
	Loader     *service.Loader
	Profiler   *analysis.DataQualityProfiler
}

func NewHandler(cfg *config.Config, indicators *service.IndicatorService, loader *service.Loader) *Handler {
	return &Handler{
		Config:     cfg,
		Indicators: indicators,
		Loader:     loader,
		Profiler:   analysis.NewDataQualityProfiler(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.HealthCheck)

	r.Get("/indicators", h.ListRecords)
	r.Get("/indicators/{id}", h.GetIndicator)

	// Chapter routes
	for _, ch := range h.Indicators.Catalog().ChapterNumbers() {
		r.Get(fmt.Sprintf("/chapter%d/{id}", ch), h.chapterIndicator(ch))
	}
	r.Get("/chapter1/assets/{asset_type}", h.GetAsset)
	r.Get("/chapter4/contraception-methods", h.GetContraceptionMethods)

	// Metadata
	r.Get("/meta/surveys", h.ListSurveys)
	r.Get("/meta/provinces", h.ListProvinces)
	r.Get("/meta/districts", h.ListDistricts)
	r.Get("/meta/datasets", h.ListDatasets)
	r.Get("/meta/datasets/{name}/profile", h.ProfileDataset)
	r.Get("/meta/indicators", h.ListIndicators)
	r.Get("/meta/catalog", h.GetCatalog)
	r.Get("/meta/cache", h.GetCacheInfo)
	r.Delete("/meta/cache", h.ClearCache)
}

// ============================================================================
// Root & Health
// ============================================================================

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	catalog := h.Indicators.Catalog()
	chapters := make(map[string]string)
	for _, ch := range catalog.ChapterNumbers() {
		chapters["chapter"+strconv.Itoa(ch)] = catalog.ChapterTitle(ch)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "Welcome to the " + h.Config.API.Title,
		"version":       h.Config.API.Version,
		"documentation": "/meta/catalog",
		"chapters":      chapters,
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: "healthy", Service: h.Config.API.Title})
}

// ============================================================================
// Indicators
// ============================================================================

// ListRecords answers GET /indicators with indicator records filtered by
// country, year, indicator, variant, level and region.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := intParam(r, "year")
	if err != nil {
		writeError(w, err)
		return
	}
	region, err := intParam(r, "region")
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := h.Indicators.Records(r.Context(), service.Query{
		Country:   strings.TrimSpace(q.Get("country")),
		Year:      year,
		Indicator: strings.TrimSpace(q.Get("indicator")),
		Variant:   strings.TrimSpace(q.Get("variant")),
		Level:     strings.ToLower(strings.TrimSpace(q.Get("level"))),
		Region:    region,
	})
	if errors.Is(err, service.ErrUnknownIndicator) {
		// a filter value, not a resource
		writeErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.RecordsResponse{Count: len(records), Records: records})
}

// GetIndicator answers GET /indicators/{id}.
func (h *Handler) GetIndicator(w http.ResponseWriter, r *http.Request) {
	h.computeIndicator(w, r, chi.URLParam(r, "id"), nil)
}

func (h *Handler) chapterIndicator(chapter int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ind, ok := h.Indicators.Catalog().Get(id)
		if !ok || ind.Chapter != chapter {
			writeErrorStatus(w, http.StatusNotFound, fmt.Errorf("%w: chapter %d has no indicator %s", service.ErrUnknownIndicator, chapter, id))
			return
		}
		h.computeIndicator(w, r, id, nil)
	}
}

// GetAsset answers GET /chapter1/assets/{asset_type}.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	h.computeIndicator(w, r, "household-assets", map[string]string{"asset": chi.URLParam(r, "asset_type")})
}

func (h *Handler) GetContraceptionMethods(w http.ResponseWriter, r *http.Request) {
	h.computeIndicator(w, r, "contraception-methods", nil)
}

func (h *Handler) computeIndicator(w http.ResponseWriter, r *http.Request, id string, override map[string]string) {
	req, err := indicatorRequest(r, id)
	if err != nil {
		writeError(w, err)
		return
	}
	for k, v := range override {
		req.Params[k] = v
	}

	ind, ok := h.Indicators.Catalog().Get(id)
	if ok && ind.Kind == service.KindBreakdown {
		resp, err := h.Indicators.ComputeBreakdown(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp, err := h.Indicators.Compute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func indicatorRequest(r *http.Request, id string) (service.Request, error) {
	q := r.URL.Query()
	year, err := intParam(r, "year")
	if err != nil {
		return service.Request{}, err
	}
	region, err := intParam(r, "region")
	if err != nil {
		return service.Request{}, err
	}

	params := make(map[string]string)
	for k, v := range q {
		if !reservedParams[k] && len(v) > 0 {
			params[k] = v[0]
		}
	}
	return service.Request{
		Survey:    strings.TrimSpace(q.Get("survey")),
		Country:   strings.TrimSpace(q.Get("country")),
		Year:      year,
		Indicator: id,
		Region:    region,
		Params:    params,
	}, nil
}

// ============================================================================
// Helpers
// ============================================================================

// intParam reads an optional integer query parameter, 0 when absent.
func intParam(r *http.Request, name string) (int, error) {
	valStr := strings.TrimSpace(r.URL.Query().Get(name))
	if valStr == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", service.ErrInvalidParam, name, valStr)
	}
	return val, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidParam):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnknownIndicator),
		errors.Is(err, service.ErrUnknownSurvey),
		errors.Is(err, service.ErrUnknownDataset),
		errors.Is(err, service.ErrDatasetNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, statusFor(err), err)
}

func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Printf("Request failed: %v", err)
	}

	resp := models.ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	}
	var pe *service.ParamError
	if errors.As(err, &pe) {
		resp.Details = map[string]interface{}{
			"param":   pe.Param,
			"value":   pe.Value,
			"options": pe.Options,
		}
	}
	writeJSON(w, status, resp)
}
