package service

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"dhs-api/internal/config"
	"dhs-api/internal/state"

	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
api:
  title: Test API
  version: 0.0.1
default_survey: TS2020
datasets:
  - {name: household, weight: hv005, region: hv024, district: shdistrict}
  - {name: person, weight: hv005, region: hv024, district: shdistrict}
  - {name: women, weight: v005, region: v024, district: sdistrict}
  - {name: men, weight: mv005, region: mv024, district: smdistrict}
  - {name: children, weight: v005, region: v024, district: sdistrict, strata: v023}
surveys:
  - id: TS2020
    country_code: TS
    country: Testland
    year: 2020
    label: Testland DHS 2020
    default_region: 2
    source: {type: csv, dir: testdata-missing}
    files: {household: hh.csv, person: pr.csv, women: ir.csv, men: mr.csv, children: kr.csv}
    provinces:
      - {code: 1, key: north, name: North}
      - {code: 2, key: south, name: South}
    districts:
      - {code: 11, province: 1, name: Alpha}
      - {code: 21, province: 2, name: Beta}
      - {code: 22, province: 2, name: Gamma}
    strata_districts: {5: 22}
  - id: TS2015
    country_code: TS
    country: Testland
    year: 2015
    label: Testland DHS 2015
    default_region: 1
    source: {type: csv, dir: testdata-missing}
    provinces:
      - {code: 1, key: north, name: North}
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfigYAML))
	require.NoError(t, err)
	return cfg
}

func frame(headers []string, columns ...[]float64) *state.Frame {
	return state.NewFrame("", headers, columns)
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1000000
	}
	return out
}

// testFrames is the microdata of survey TS2020 keyed by table name.
func testFrames() map[string]*state.Frame {
	nan := math.NaN()
	return map[string]*state.Frame{
		"hh.csv": frame(
			[]string{"hv005", "hv015", "hv024", "shdistrict", "hv206", "hv230a"},
			ones(4),
			[]float64{1, 1, 1, 1},
			[]float64{1, 2, 2, 2},
			[]float64{11, 21, 22, 22},
			[]float64{1, 0, 1, 9},
			[]float64{1, 3, 2, nan},
		),
		"ir.csv": frame(
			[]string{"v005", "v024", "sdistrict", "v502", "v012", "v312", "v313", "v481"},
			ones(4),
			[]float64{2, 2, 2, 1},
			[]float64{21, 22, 22, 11},
			[]float64{1, 1, 1, 1},
			[]float64{20, 30, 40, 25},
			[]float64{1, 3, 0, nan},
			[]float64{3, 3, 0, 0},
			[]float64{1, 0, 1, 1},
		),
		"mr.csv": frame(
			[]string{"mv005", "mv024", "smdistrict", "mv509"},
			ones(5),
			[]float64{2, 2, 2, 2, 1},
			[]float64{21, 21, 22, 22, 11},
			[]float64{20, 25, 0, nan, 30},
		),
		"kr.csv": frame(
			[]string{"v005", "v024", "sdistrict", "v023", "b5", "b19", "h11"},
			ones(3),
			[]float64{2, 2, 2},
			[]float64{21, 21, nan},
			[]float64{1, 5, 5},
			[]float64{1, 1, 1},
			[]float64{10, 20, 30},
			[]float64{1, 0, 2},
		),
	}
}

// countingSource counts table loads of the wrapped source.
type countingSource struct {
	DataSource
	loads atomic.Int32
}

func (c *countingSource) Load(ctx context.Context, table string) (*state.Frame, error) {
	c.loads.Add(1)
	return c.DataSource.Load(ctx, table)
}

func testService(t *testing.T) (*IndicatorService, *Loader) {
	t.Helper()
	cfg := testConfig(t)
	catalog, err := LoadCatalog()
	require.NoError(t, err)

	loader := NewLoader(cfg)
	loader.SetSource("TS2020", NewMemoryDataSource(testFrames()))
	return NewIndicatorService(cfg, catalog, loader), loader
}
