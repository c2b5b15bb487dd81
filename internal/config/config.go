package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

//go:embed default.yaml
var defaultConfig []byte

const (
	SourceCSV        = "csv"
	SourcePostgres   = "postgres"
	SourceClickHouse = "clickhouse"
)

// Config is the root of the service configuration.
type Config struct {
	API           APIConfig    `yaml:"api" json:"api"`
	Server        ServerConfig `yaml:"server" json:"server"`
	DefaultSurvey string       `yaml:"default_survey" json:"default_survey"`
	Datasets      []DatasetDef `yaml:"datasets" json:"datasets"`
	Surveys       []*Survey    `yaml:"surveys" json:"surveys"`
}

type APIConfig struct {
	Title       string `yaml:"title" json:"title"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description" json:"description"`
}

type ServerConfig struct {
	Port        string   `yaml:"port" json:"port"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// DatasetDef describes a DHS recode file and the columns that carry its
// sampling weight and geography. Column fields accept alternatives
// separated by "|"; the first one present in the data wins.
type DatasetDef struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Weight      string `yaml:"weight" json:"weight"`
	Region      string `yaml:"region" json:"region"`
	District    string `yaml:"district" json:"district"`
	Strata      string `yaml:"strata,omitempty" json:"strata,omitempty"`
}

// SourceConfig tells the loader where a survey's microdata lives.
type SourceConfig struct {
	Type        string `yaml:"type" json:"type"` // "csv", "postgres", "clickhouse"
	Dir         string `yaml:"dir,omitempty" json:"dir,omitempty"`
	DSN         string `yaml:"dsn,omitempty" json:"-"`
	TablePrefix string `yaml:"table_prefix,omitempty" json:"table_prefix,omitempty"`
}

type Province struct {
	Code int    `yaml:"code" json:"code"`
	Key  string `yaml:"key" json:"key"`
	Name string `yaml:"name" json:"name"`
}

type District struct {
	Code     int    `yaml:"code" json:"code"`
	Province int    `yaml:"province" json:"province"`
	Name     string `yaml:"name" json:"name"`
}

// Survey is one DHS survey round of one country.
type Survey struct {
	ID              string            `yaml:"id" json:"id"`
	CountryCode     string            `yaml:"country_code" json:"country_code"`
	Country         string            `yaml:"country" json:"country"`
	Year            int               `yaml:"year" json:"year"`
	Label           string            `yaml:"label" json:"label"`
	DefaultRegion   int               `yaml:"default_region" json:"default_region"`
	Source          SourceConfig      `yaml:"source" json:"source"`
	Files           map[string]string `yaml:"files" json:"files"`
	Provinces       []Province        `yaml:"provinces" json:"provinces"`
	Districts       []District        `yaml:"districts" json:"-"`
	StrataDistricts map[int]int       `yaml:"strata_districts,omitempty" json:"-"`
}

// Load reads the YAML config at path, or the embedded default when path is
// empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	data := defaultConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		data = b
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// Parse decodes and validates a YAML config document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
	if origins := os.Getenv("DHS_CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = splitList(origins)
	}
	if dir := os.Getenv("DHS_DATA_DIR"); dir != "" {
		for _, s := range c.Surveys {
			if s.Source.Type == SourceCSV {
				s.Source.Dir = dir
			}
		}
	}
}

func (c *Config) validate() error {
	if len(c.Surveys) == 0 {
		return fmt.Errorf("config: no surveys defined")
	}
	if c.Server.Port == "" {
		c.Server.Port = "8000"
	}

	seen := make(map[string]bool)
	for _, s := range c.Surveys {
		if s.ID == "" {
			return fmt.Errorf("config: survey without id")
		}
		if seen[s.ID] {
			return fmt.Errorf("config: duplicate survey id %q", s.ID)
		}
		seen[s.ID] = true

		switch s.Source.Type {
		case SourceCSV, SourcePostgres, SourceClickHouse:
		case "":
			s.Source.Type = SourceCSV
		default:
			return fmt.Errorf("config: survey %s: unknown source type %q", s.ID, s.Source.Type)
		}

		provinces := make(map[int]bool)
		for _, p := range s.Provinces {
			provinces[p.Code] = true
		}
		for _, d := range s.Districts {
			if !provinces[d.Province] {
				return fmt.Errorf("config: survey %s: district %s references unknown province %d", s.ID, d.Name, d.Province)
			}
		}
		if s.DefaultRegion == 0 && len(s.Provinces) > 0 {
			s.DefaultRegion = s.Provinces[0].Code
		}
		if s.DefaultRegion != 0 && !provinces[s.DefaultRegion] {
			return fmt.Errorf("config: survey %s: default region %d is not a province", s.ID, s.DefaultRegion)
		}
	}

	if c.DefaultSurvey == "" {
		c.DefaultSurvey = c.Surveys[0].ID
	}
	if !seen[c.DefaultSurvey] {
		return fmt.Errorf("config: default survey %q not defined", c.DefaultSurvey)
	}

	names := make(map[string]bool)
	for _, d := range c.Datasets {
		if d.Name == "" {
			return fmt.Errorf("config: dataset without name")
		}
		if names[d.Name] {
			return fmt.Errorf("config: duplicate dataset %q", d.Name)
		}
		names[d.Name] = true
	}
	return nil
}

// Survey returns the survey with the given id (case-insensitive).
func (c *Config) Survey(id string) (*Survey, bool) {
	for _, s := range c.Surveys {
		if strings.EqualFold(s.ID, id) {
			return s, true
		}
	}
	return nil, false
}

// Default returns the default survey.
func (c *Config) Default() *Survey {
	s, _ := c.Survey(c.DefaultSurvey)
	return s
}

// FindSurveys returns the surveys matching a country (code or name,
// case-insensitive, empty = any) and a year (0 = any).
func (c *Config) FindSurveys(country string, year int) []*Survey {
	var out []*Survey
	for _, s := range c.Surveys {
		if country != "" && !strings.EqualFold(s.CountryCode, country) && !strings.EqualFold(s.Country, country) {
			continue
		}
		if year != 0 && s.Year != year {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Dataset returns the dataset definition with the given name.
func (c *Config) Dataset(name string) (DatasetDef, bool) {
	for _, d := range c.Datasets {
		if d.Name == name {
			return d, true
		}
	}
	return DatasetDef{}, false
}

// DatasetNames lists configured dataset names in definition order.
func (c *Config) DatasetNames() []string {
	names := make([]string, 0, len(c.Datasets))
	for _, d := range c.Datasets {
		names = append(names, d.Name)
	}
	return names
}

// Province looks up a province by code.
func (s *Survey) Province(code int) (Province, bool) {
	for _, p := range s.Provinces {
		if p.Code == code {
			return p, true
		}
	}
	return Province{}, false
}

// DistrictsOf returns the districts of a province ordered by code.
func (s *Survey) DistrictsOf(province int) []District {
	var out []District
	for _, d := range s.Districts {
		if d.Province == province {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// DistrictName resolves a district code, falling back to "District <code>".
func (s *Survey) DistrictName(code int) string {
	for _, d := range s.Districts {
		if d.Code == code {
			return d.Name
		}
	}
	return fmt.Sprintf("District %d", code)
}

// Table returns the file name (csv) or table name (databases) of a dataset.
func (s *Survey) Table(dataset string) string {
	if s.Source.Type == SourceCSV {
		if f, ok := s.Files[dataset]; ok {
			return f
		}
		return dataset + ".csv"
	}
	return s.Source.TablePrefix + dataset
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
