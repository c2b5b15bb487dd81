package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"

	"dhs-api/internal/config"
	"dhs-api/internal/models"
	"dhs-api/internal/state"

	"golang.org/x/sync/errgroup"
)

// Maximum number of indicator evaluations run at once by Records.
const recordWorkers = 4

// IndicatorService computes catalog indicators from survey microdata.
type IndicatorService struct {
	cfg     *config.Config
	catalog *Catalog
	loader  *Loader
}

func NewIndicatorService(cfg *config.Config, catalog *Catalog, loader *Loader) *IndicatorService {
	return &IndicatorService{cfg: cfg, catalog: catalog, loader: loader}
}

// Request selects one indicator value set. Survey wins over Country and
// Year; with none of them the default survey is used. Region 0 means the
// survey's default region.
type Request struct {
	Survey    string
	Country   string
	Year      int
	Indicator string
	Region    int
	Params    map[string]string
}

// Query filters the indicator records table.
type Query struct {
	Country   string
	Year      int
	Indicator string
	Variant   string
	Level     string
	Region    int
}

// ResolveSurvey picks the survey addressed by id, or by country and year.
func (s *IndicatorService) ResolveSurvey(id, country string, year int) (*config.Survey, error) {
	if id != "" {
		sv, ok := s.cfg.Survey(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSurvey, id)
		}
		return sv, nil
	}
	if country != "" || year != 0 {
		found := s.cfg.FindSurveys(country, year)
		if len(found) == 0 {
			return nil, fmt.Errorf("%w: no survey for country %q and year %d", ErrUnknownSurvey, country, year)
		}
		return found[0], nil
	}
	return s.cfg.Default(), nil
}

// Compute returns the indicator at national, province and district level.
func (s *IndicatorService) Compute(ctx context.Context, req Request) (*models.IndicatorResponse, error) {
	sv, r, region, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	if r.Kind == KindBreakdown {
		return nil, fmt.Errorf("%w: %s is a breakdown indicator", ErrInvalidParam, r.ID)
	}

	ev, err := s.prepare(ctx, sv, r)
	if err != nil {
		return nil, err
	}

	resp := &models.IndicatorResponse{
		IndicatorID:       r.ID,
		Indicator:         r.Title,
		Unit:              r.Unit,
		PopulationType:    r.Population,
		Country:           sv.Country,
		Year:              sv.Year,
		Survey:            sv.ID,
		Params:            r.Params,
		Districts:         []models.DistrictData{},
		Provinces:         []models.ProvinceData{},
		DataSource:        sv.Label,
		CalculationMethod: calculationMethod(r),
	}

	value, n := ev.compute(ev.universe)
	resp.National = &models.NationalData{Value: value, SampleSize: n}

	province, _ := sv.Province(region)
	value, n = ev.compute(ev.provinceRows(region))
	resp.Provinces = append(resp.Provinces, models.ProvinceData{
		ProvinceCode: province.Code,
		ProvinceName: province.Name,
		Value:        value,
		SampleSize:   n,
	})

	for _, d := range sv.DistrictsOf(region) {
		rows := ev.districtRows(region, d.Code)
		if len(rows) == 0 {
			continue
		}
		value, n = ev.compute(rows)
		resp.Districts = append(resp.Districts, models.DistrictData{
			DistrictCode: d.Code,
			DistrictName: d.Name,
			Value:        value,
			SampleSize:   n,
		})
	}
	return resp, nil
}

// ComputeBreakdown returns every category share of a breakdown indicator
// within one province.
func (s *IndicatorService) ComputeBreakdown(ctx context.Context, req Request) (*models.MultiIndicatorResponse, error) {
	sv, r, region, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	if r.Kind != KindBreakdown {
		return nil, fmt.Errorf("%w: %s is not a breakdown indicator", ErrInvalidParam, r.ID)
	}

	ev, err := s.prepare(ctx, sv, r)
	if err != nil {
		return nil, err
	}

	rows := ev.provinceRows(region)
	weights := gather(ev.weights, rows)
	out := make(map[string]float64, len(r.Items))
	for _, item := range r.Items {
		pred := item.Numerator.compile(ev.frame, r.Prefix)
		ind := make([]float64, len(rows))
		for k, i := range rows {
			if pred(i) {
				ind[k] = 1
			}
		}
		out[item.Key] = WeightedPercentage(ind, weights)
	}

	province, _ := sv.Province(region)
	return &models.MultiIndicatorResponse{
		Indicators:   out,
		Location:     province.Name,
		LocationCode: province.Code,
		Survey:       sv.ID,
		SampleSize:   len(rows),
	}, nil
}

// Records returns indicator records of every survey matching the query's
// country and year. Indicators whose dataset is absent from a survey's
// source are left out.
func (s *IndicatorService) Records(ctx context.Context, q Query) ([]models.IndicatorRecord, error) {
	switch q.Level {
	case "", models.LevelNational, models.LevelProvince, models.LevelDistrict:
	default:
		return nil, &ParamError{
			Param:   "level",
			Value:   q.Level,
			Options: []string{models.LevelNational, models.LevelProvince, models.LevelDistrict},
		}
	}

	indicators, err := s.selectIndicators(q)
	if err != nil {
		return nil, err
	}

	surveys := s.cfg.FindSurveys(q.Country, q.Year)
	if q.Region != 0 {
		for _, sv := range surveys {
			if _, ok := sv.Province(q.Region); !ok {
				return nil, RegionError(sv, q.Region)
			}
		}
	}

	type job struct {
		survey *config.Survey
		ind    *Resolved
	}
	var jobs []job
	for _, sv := range surveys {
		for _, r := range indicators {
			jobs = append(jobs, job{survey: sv, ind: r})
		}
	}

	results := make([][]models.IndicatorRecord, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recordWorkers)
	for idx, j := range jobs {
		idx, j := idx, j
		g.Go(func() error {
			recs, err := s.records(gctx, j.survey, j.ind, q)
			if errors.Is(err, ErrDatasetNotFound) {
				log.Printf("Skipping %s for %s: %v", j.ind.ID, j.survey.ID, err)
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s/%s: %w", j.survey.ID, j.ind.ID, err)
			}
			results[idx] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []models.IndicatorRecord{}
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out, nil
}

// selectIndicators resolves the indicators a record query asks for. A
// variant applies to each indicator's first parameter; without an explicit
// indicator, indicators lacking that variant are left out.
func (s *IndicatorService) selectIndicators(q Query) ([]*Resolved, error) {
	if q.Indicator != "" {
		ind, ok := s.catalog.Get(q.Indicator)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownIndicator, q.Indicator)
		}
		if ind.Kind == KindBreakdown {
			return nil, fmt.Errorf("%w: %s is a breakdown indicator", ErrInvalidParam, ind.ID)
		}
		if q.Variant != "" && len(ind.Params) == 0 {
			return nil, &ParamError{Param: "variant", Value: q.Variant}
		}
		r, err := ind.Resolve(variantParams(ind, q.Variant))
		if err != nil {
			var pe *ParamError
			if errors.As(err, &pe) {
				pe.Param = "variant"
			}
			return nil, err
		}
		return []*Resolved{r}, nil
	}

	var out []*Resolved
	for _, ind := range s.catalog.Indicators {
		if ind.Kind == KindBreakdown {
			continue
		}
		if q.Variant != "" {
			if len(ind.Params) == 0 {
				continue
			}
			if _, ok := ind.Params[0].option(q.Variant); !ok {
				continue
			}
		}
		r, err := ind.Resolve(variantParams(ind, q.Variant))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func variantParams(ind *Indicator, variant string) map[string]string {
	if variant == "" || len(ind.Params) == 0 {
		return nil
	}
	return map[string]string{ind.Params[0].Param: variant}
}

func (s *IndicatorService) records(ctx context.Context, sv *config.Survey, r *Resolved, q Query) ([]models.IndicatorRecord, error) {
	ev, err := s.prepare(ctx, sv, r)
	if err != nil {
		return nil, err
	}

	base := models.IndicatorRecord{
		Country:     sv.Country,
		CountryCode: sv.CountryCode,
		Year:        sv.Year,
		Survey:      sv.ID,
		Indicator:   r.ID,
		Name:        r.Title,
		Variant:     r.Variant,
		Chapter:     r.Chapter,
		Unit:        r.Unit,
	}
	var out []models.IndicatorRecord
	add := func(level string, code int, name string, rows []int) {
		rec := base
		rec.Level = level
		rec.LocationCode = code
		rec.LocationName = name
		rec.Value, rec.SampleSize = ev.compute(rows)
		out = append(out, rec)
	}

	if q.Level == "" || q.Level == models.LevelNational {
		add(models.LevelNational, 0, sv.Country, ev.universe)
	}

	var provinces []config.Province
	for _, p := range sv.Provinces {
		if q.Region == 0 || q.Region == p.Code {
			provinces = append(provinces, p)
		}
	}
	if q.Level == "" || q.Level == models.LevelProvince {
		for _, p := range provinces {
			add(models.LevelProvince, p.Code, p.Name, ev.provinceRows(p.Code))
		}
	}
	if q.Level == "" || q.Level == models.LevelDistrict {
		for _, p := range provinces {
			for _, d := range sv.DistrictsOf(p.Code) {
				rows := ev.districtRows(p.Code, d.Code)
				if len(rows) == 0 {
					continue
				}
				add(models.LevelDistrict, d.Code, d.Name, rows)
			}
		}
	}
	return out, nil
}

// resolve validates a request against the configuration and the catalog.
func (s *IndicatorService) resolve(req Request) (*config.Survey, *Resolved, int, error) {
	sv, err := s.ResolveSurvey(req.Survey, req.Country, req.Year)
	if err != nil {
		return nil, nil, 0, err
	}

	ind, ok := s.catalog.Get(req.Indicator)
	if !ok {
		return nil, nil, 0, fmt.Errorf("%w: %s", ErrUnknownIndicator, req.Indicator)
	}
	r, err := ind.Resolve(req.Params)
	if err != nil {
		return nil, nil, 0, err
	}

	region := req.Region
	if region == 0 {
		region = sv.DefaultRegion
	}
	if _, ok := sv.Province(region); !ok {
		return nil, nil, 0, RegionError(sv, region)
	}
	return sv, r, region, nil
}

// RegionError reports a province code the survey does not define.
func RegionError(sv *config.Survey, region int) error {
	codes := make([]string, len(sv.Provinces))
	for i, p := range sv.Provinces {
		codes[i] = strconv.Itoa(p.Code)
	}
	return &ParamError{Param: "region", Value: strconv.Itoa(region), Options: codes}
}

// evaluation is a resolved indicator bound to the loaded dataset.
type evaluation struct {
	ind      *Resolved
	frame    *state.Frame
	weights  []float64
	region   []float64
	district []float64
	values   []float64
	universe []int
}

func (s *IndicatorService) prepare(ctx context.Context, sv *config.Survey, r *Resolved) (*evaluation, error) {
	frame, err := s.loader.Load(ctx, sv.ID, r.Dataset)
	if err != nil {
		return nil, err
	}
	def, _ := s.cfg.Dataset(r.Dataset)

	ev := &evaluation{
		ind:      r,
		frame:    frame,
		weights:  frame.Column(frame.Resolve(def.Weight)),
		region:   frame.Column(frame.Resolve(def.Region)),
		district: districtCodes(frame, def, sv),
	}

	universe := compileAll(r.Universe, frame, r.Prefix)
	for i := 0; i < frame.Len(); i++ {
		in := true
		for _, p := range universe {
			if !p(i) {
				in = false
				break
			}
		}
		if in {
			ev.universe = append(ev.universe, i)
		}
	}

	switch r.Kind {
	case KindPercentage:
		if r.Numerator != nil {
			pred := r.Numerator.compile(frame, r.Prefix)
			ev.values = make([]float64, frame.Len())
			for _, i := range ev.universe {
				if pred(i) {
					ev.values[i] = 1
				}
			}
		} else {
			ev.values = valueColumn(frame, r)
		}
	case KindMedian, KindMean:
		ev.values = valueColumn(frame, r)
	}
	return ev, nil
}

// valueColumn reads the indicator's value column with its missing codes
// turned into NaN.
func valueColumn(f *state.Frame, r *Resolved) []float64 {
	read := columnReader(f, r.Value, r.Prefix)
	out := make([]float64, f.Len())
	for i := range out {
		v := read(i)
		for _, m := range r.Missing {
			if v == m {
				v = math.NaN()
				break
			}
		}
		out[i] = v
	}
	return out
}

// districtCodes assigns each row a district. Where the dataset has a
// strata column and the survey maps strata to districts, the mapping wins
// over the district column.
func districtCodes(f *state.Frame, def config.DatasetDef, sv *config.Survey) []float64 {
	out := make([]float64, f.Len())
	col := f.Column(f.Resolve(def.District))
	var strata []float64
	if def.Strata != "" && len(sv.StrataDistricts) > 0 {
		strata = f.Column(f.Resolve(def.Strata))
	}

	for i := range out {
		out[i] = math.NaN()
		if col != nil {
			out[i] = col[i]
		}
		if strata != nil && !math.IsNaN(strata[i]) {
			if d, ok := sv.StrataDistricts[int(strata[i])]; ok {
				out[i] = float64(d)
			}
		}
	}
	return out
}

func (ev *evaluation) provinceRows(code int) []int {
	if ev.region == nil {
		return nil
	}
	var rows []int
	for _, i := range ev.universe {
		if ev.region[i] == float64(code) {
			rows = append(rows, i)
		}
	}
	return rows
}

func (ev *evaluation) districtRows(province, district int) []int {
	var rows []int
	for _, i := range ev.provinceRows(province) {
		if ev.district[i] == float64(district) {
			rows = append(rows, i)
		}
	}
	return rows
}

// compute returns the indicator value over rows and the number of rows
// that contributed to it.
func (ev *evaluation) compute(rows []int) (float64, int) {
	if ev.ind.Kind == KindTFR {
		return TotalFertilityRate(ev.frame, rows, ev.weights, ev.ind.Wanted), len(rows)
	}

	values := gather(ev.values, rows)
	weights := gather(ev.weights, rows)
	n := 0
	for k, v := range values {
		if !math.IsNaN(v) && (weights == nil || !math.IsNaN(weights[k])) {
			n++
		}
	}

	switch ev.ind.Kind {
	case KindMedian:
		return roundTo(WeightedMedian(values, weights), 1), n
	case KindMean:
		return roundTo(WeightedMean(values, weights), 1), n
	}
	return WeightedPercentage(values, weights), n
}

func gather(src []float64, rows []int) []float64 {
	if src == nil {
		return nil
	}
	out := make([]float64, len(rows))
	for k, i := range rows {
		out[k] = src[i]
	}
	return out
}

func calculationMethod(r *Resolved) string {
	if r.Method != "" {
		return r.Method
	}
	switch r.Kind {
	case KindMedian:
		return "Weighted median (DHS sample weights / 1,000,000)"
	case KindMean:
		return "Weighted mean (DHS sample weights / 1,000,000)"
	}
	return "Weighted percentage (DHS sample weights / 1,000,000), rounded half up"
}

// IndicatorIDsByChapter lists indicator ids keyed "chapterN".
func (s *IndicatorService) IndicatorIDsByChapter() map[string][]string {
	out := make(map[string][]string)
	for ch, inds := range s.catalog.ByChapter() {
		ids := make([]string, len(inds))
		for i, ind := range inds {
			ids[i] = ind.ID
		}
		out["chapter"+strconv.Itoa(ch)] = ids
	}
	return out
}

// Catalog exposes the indicator catalog.
func (s *IndicatorService) Catalog() *Catalog {
	return s.catalog
}
