package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dhs-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const householdCSV = `hv005,hv015,hv024,shdistrict,hv206,hv230a
1000000,1,1,11,1,1
1000000,1,2,21,0,3
1000000,1,2,22,1,2
1000000,1,2,22,1,
`

// writeFixture writes a config with one CSV survey and returns its path.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hh.csv"), []byte(householdCSV), 0o644))

	cfg := `
api: {title: Test DHS API, version: 0.1.0}
datasets:
  - {name: household, weight: hv005, region: hv024, district: shdistrict}
  - {name: women, weight: v005, region: v024, district: sdistrict}
surveys:
  - id: TS2020
    country_code: TS
    country: Testland
    year: 2020
    label: Testland DHS 2020
    default_region: 2
    source: {type: csv, dir: ` + dir + `}
    files: {household: hh.csv, women: ir.csv}
    provinces:
      - {code: 1, key: north, name: North}
      - {code: 2, key: south, name: South}
    districts:
      - {code: 11, province: 1, name: Alpha}
      - {code: 21, province: 2, name: Beta}
      - {code: 22, province: 2, name: Gamma}
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestComputeCmd(t *testing.T) {
	path := writeFixture(t)

	out, err := run(t, "compute", "handwashing", "--config", path, "--region", "0", "--survey", "TS2020")
	require.NoError(t, err)

	var resp models.IndicatorResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "Handwashing Facilities", resp.Indicator)
	assert.Equal(t, 50.0, resp.National.Value)
	assert.Equal(t, "South", resp.Provinces[0].ProvinceName)
	assert.Equal(t, 33.0, resp.Provinces[0].Value)

	out, err = run(t, "compute", "household-assets", "--config", path, "--survey", "TS2020", "--region", "1", "--param", "asset=electricity")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "Household Electricity Access", resp.Indicator)
	assert.Equal(t, 100.0, resp.Provinces[0].Value)
}

func TestComputeCmdErrors(t *testing.T) {
	path := writeFixture(t)

	_, err := run(t, "compute", "nope", "--config", path, "--survey", "TS2020", "--region", "0")
	assert.Error(t, err)

	_, err = run(t, "compute", "insurance", "--config", path, "--survey", "TS2020", "--region", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset not found")

	_, err = run(t, "compute")
	assert.Error(t, err)
}

func TestQueryCmd(t *testing.T) {
	path := writeFixture(t)

	out, err := run(t, "query", "--config", path, "--country", "TS", "--year", "2020", "--indicator", "handwashing", "--level", "province", "--region", "0")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "North")
	assert.Contains(t, lines[2], "South")
	assert.Equal(t, "2 records", lines[3])
}

func TestIndicatorsCmd(t *testing.T) {
	out, err := run(t, "indicators")
	require.NoError(t, err)
	assert.Contains(t, out, "Chapter 1: Household Characteristics & Assets")
	assert.Contains(t, out, "asset=electricity|mobile|radio|tv|computer (default electricity)")
	assert.Contains(t, out, "Chapter 10: Gender & Women's Empowerment")
}

func TestProfileCmd(t *testing.T) {
	path := writeFixture(t)

	out, err := run(t, "profile", "household", "--config", path, "--survey", "TS2020")
	require.NoError(t, err)
	assert.Contains(t, out, "TS2020/household: 4 rows, 6 columns")
	assert.Contains(t, out, "hv230a")

	_, err = run(t, "profile", "couples", "--config", path, "--survey", "TS2020")
	assert.Error(t, err)
}

func TestImportCmdRequiresDSN(t *testing.T) {
	_, err := run(t, "import", "--target", "postgres")
	assert.Error(t, err)
}
