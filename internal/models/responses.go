package models

// DistrictData is a district-level indicator value
type DistrictData struct {
	DistrictCode int     `json:"district_code"`
	DistrictName string  `json:"district_name"`
	Value        float64 `json:"value"`
	SampleSize   int     `json:"sample_size"`
}

// ProvinceData is a province-level indicator value
type ProvinceData struct {
	ProvinceCode int     `json:"province_code"`
	ProvinceName string  `json:"province_name"`
	Value        float64 `json:"value"`
	SampleSize   int     `json:"sample_size"`
}

// NationalData is the national aggregate of an indicator
type NationalData struct {
	Value      float64 `json:"value"`
	SampleSize int     `json:"sample_size"`
}

// IndicatorResponse is returned by every single-indicator endpoint.
// It carries the value at district, province and national level.
type IndicatorResponse struct {
	IndicatorID       string            `json:"indicator_id"`
	Indicator         string            `json:"indicator"`
	Unit              string            `json:"unit"`
	PopulationType    string            `json:"population_type,omitempty"`
	Country           string            `json:"country"`
	Year              int               `json:"year"`
	Survey            string            `json:"survey"`
	Params            map[string]string `json:"params,omitempty"`
	Districts         []DistrictData    `json:"districts"`
	Provinces         []ProvinceData    `json:"provinces"`
	National          *NationalData     `json:"national"`
	DataSource        string            `json:"data_source"`
	CalculationMethod string            `json:"calculation_method,omitempty"`
}

// MultiIndicatorResponse holds several values for one location
type MultiIndicatorResponse struct {
	Indicators   map[string]float64 `json:"indicators"`
	Location     string             `json:"location"`
	LocationCode int                `json:"location_code,omitempty"`
	Survey       string             `json:"survey"`
	SampleSize   int                `json:"sample_size"`
}

// Geographic levels of an IndicatorRecord
const (
	LevelNational = "national"
	LevelProvince = "province"
	LevelDistrict = "district"
)

// IndicatorRecord is one row of the /indicators table: the value of one
// indicator for one survey at one location.
type IndicatorRecord struct {
	Country      string  `json:"country"`
	CountryCode  string  `json:"country_code"`
	Year         int     `json:"year"`
	Survey       string  `json:"survey"`
	Indicator    string  `json:"indicator"`
	Name         string  `json:"name"`
	Variant      string  `json:"variant,omitempty"`
	Chapter      int     `json:"chapter"`
	Level        string  `json:"level"`
	LocationCode int     `json:"location_code,omitempty"`
	LocationName string  `json:"location_name"`
	Value        float64 `json:"value"`
	Unit         string  `json:"unit"`
	SampleSize   int     `json:"sample_size"`
}

// RecordsResponse is returned by /indicators
type RecordsResponse struct {
	Count   int               `json:"count"`
	Records []IndicatorRecord `json:"records"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse for /health
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// SurveyInfo for /meta/surveys
type SurveyInfo struct {
	ID          string   `json:"id"`
	Country     string   `json:"country"`
	CountryCode string   `json:"country_code"`
	Year        int      `json:"year"`
	Label       string   `json:"label"`
	Source      string   `json:"source"`
	Datasets    []string `json:"datasets"`
	Default     bool     `json:"default"`
}

// DatasetInfo for /meta/datasets
type DatasetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Table       string `json:"table"`
}

// ColumnProfile describes data quality of one microdata column
type ColumnProfile struct {
	ColumnName    string  `json:"column_name"`
	TotalRows     int     `json:"total_rows"`
	NonNullRows   int     `json:"non_null_rows"`
	NullRate      float64 `json:"null_rate"`
	DistinctCount int     `json:"distinct_count"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Mean          float64 `json:"mean"`
	Entropy       float64 `json:"entropy"`
	QualityScore  float64 `json:"quality_score"` // 0-1
}

// DatasetProfile for /meta/datasets/{name}/profile
type DatasetProfile struct {
	Survey  string          `json:"survey"`
	Dataset string          `json:"dataset"`
	Rows    int             `json:"rows"`
	Columns []ColumnProfile `json:"columns"`
}
