package api

import (
	"net/http"
	"strings"

	"dhs-api/internal/config"
	"dhs-api/internal/models"
	"dhs-api/internal/service"

	"github.com/go-chi/chi/v5"
)

// survey resolves the survey addressed by the survey, country and year
// query parameters.
func (h *Handler) survey(r *http.Request) (*config.Survey, error) {
	year, err := intParam(r, "year")
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	return h.Indicators.ResolveSurvey(strings.TrimSpace(q.Get("survey")), strings.TrimSpace(q.Get("country")), year)
}

func (h *Handler) ListSurveys(w http.ResponseWriter, r *http.Request) {
	surveys := make([]models.SurveyInfo, 0, len(h.Config.Surveys))
	for _, s := range h.Config.Surveys {
		var datasets []string
		for _, name := range h.Config.DatasetNames() {
			if s.Source.Type != config.SourceCSV || len(s.Files) == 0 {
				datasets = append(datasets, name)
				continue
			}
			if _, ok := s.Files[name]; ok {
				datasets = append(datasets, name)
			}
		}
		surveys = append(surveys, models.SurveyInfo{
			ID:          s.ID,
			Country:     s.Country,
			CountryCode: s.CountryCode,
			Year:        s.Year,
			Label:       s.Label,
			Source:      s.Source.Type,
			Datasets:    datasets,
			Default:     s.ID == h.Config.DefaultSurvey,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"surveys": surveys})
}

func (h *Handler) ListProvinces(w http.ResponseWriter, r *http.Request) {
	s, err := h.survey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"survey":         s.ID,
		"default_region": s.DefaultRegion,
		"provinces":      s.Provinces,
	})
}

// ListDistricts lists the districts of a survey, optionally of one province.
func (h *Handler) ListDistricts(w http.ResponseWriter, r *http.Request) {
	s, err := h.survey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	region, err := intParam(r, "region")
	if err != nil {
		writeError(w, err)
		return
	}

	if region != 0 {
		if _, ok := s.Province(region); !ok {
			writeError(w, service.RegionError(s, region))
			return
		}
	}

	districts := []config.District{}
	for _, p := range s.Provinces {
		if region == 0 || region == p.Code {
			districts = append(districts, s.DistrictsOf(p.Code)...)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"survey":    s.ID,
		"districts": districts,
	})
}

func (h *Handler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	s, err := h.survey(r)
	if err != nil {
		writeError(w, err)
		return
	}

	datasets := make([]models.DatasetInfo, 0, len(h.Config.Datasets))
	for _, d := range h.Config.Datasets {
		datasets = append(datasets, models.DatasetInfo{
			Name:        d.Name,
			Description: d.Description,
			Table:       s.Table(d.Name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"survey":   s.ID,
		"datasets": datasets,
	})
}

// ProfileDataset reports per-column data quality of a loaded dataset.
func (h *Handler) ProfileDataset(w http.ResponseWriter, r *http.Request) {
	s, err := h.survey(r)
	if err != nil {
		writeError(w, err)
		return
	}

	name := chi.URLParam(r, "name")
	df, err := h.Loader.Load(r.Context(), s.ID, name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.DatasetProfile{
		Survey:  s.ID,
		Dataset: name,
		Rows:    df.Len(),
		Columns: h.Profiler.ProfileAllColumns(df),
	})
}

func (h *Handler) ListIndicators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Indicators.IndicatorIDsByChapter())
}

func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Indicators.Catalog())
}

func (h *Handler) GetCacheInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Loader.CacheInfo())
}

func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	n := h.Loader.ClearCache()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "cleared",
		"cleared": n,
	})
}
