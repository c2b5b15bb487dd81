package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"dhs-api/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryTarget records what an import writes.
type memoryTarget struct {
	columns map[string][]string
	rows    map[string][][]interface{}
	runs    []ImportRun
	failOn  string
}

func newMemoryTarget() *memoryTarget {
	return &memoryTarget{columns: make(map[string][]string), rows: make(map[string][][]interface{})}
}

func (m *memoryTarget) CreateTable(ctx context.Context, table string, columns []string) error {
	if table == m.failOn {
		return errors.New("permission denied")
	}
	m.columns[table] = columns
	m.rows[table] = nil
	return nil
}

func (m *memoryTarget) WriteRows(ctx context.Context, table string, f *state.Frame, start, end int) error {
	for i := start; i < end; i++ {
		m.rows[table] = append(m.rows[table], rowValues(f, i))
	}
	return nil
}

func (m *memoryTarget) RecordRun(ctx context.Context, run ImportRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memoryTarget) Close() error { return nil }

type recordingProgress struct {
	totals map[string]int
	added  map[string][]int
	done   []string
}

func (p *recordingProgress) Begin(dataset string, rows int) { p.totals[dataset] = rows }
func (p *recordingProgress) Add(dataset string, n int)      { p.added[dataset] = append(p.added[dataset], n) }
func (p *recordingProgress) Done(dataset string)            { p.done = append(p.done, dataset) }

func TestImport(t *testing.T) {
	cfg := testConfig(t)
	sv, _ := cfg.Survey("TS2020")
	target := newMemoryTarget()
	progress := &recordingProgress{totals: map[string]int{}, added: map[string][]int{}}

	im := &Importer{
		Source:    NewMemoryDataSource(testFrames()),
		Target:    target,
		Progress:  progress,
		BatchSize: 2,
	}
	runs, err := im.Import(context.Background(), sv, cfg.DatasetNames(), "ts2020_")
	require.NoError(t, err)

	// person has no extract
	require.Len(t, runs, 4)
	var tables []string
	for _, r := range runs {
		tables = append(tables, r.Table)
		assert.NotEqual(t, uuid.Nil, r.ID)
		assert.Equal(t, "TS2020", r.Survey)
		assert.False(t, r.FinishedAt.Before(r.StartedAt))
	}
	assert.Equal(t, []string{"ts2020_household", "ts2020_women", "ts2020_men", "ts2020_children"}, tables)
	assert.Equal(t, runs, target.runs)

	assert.Equal(t, []string{"mv005", "mv024", "smdistrict", "mv509"}, target.columns["ts2020_men"])
	require.Len(t, target.rows["ts2020_men"], 5)
	assert.Equal(t, []interface{}{1000000.0, 2.0, 22.0, nil}, target.rows["ts2020_men"][3])

	assert.Equal(t, 5, progress.totals["men"])
	assert.Equal(t, []int{2, 2, 1}, progress.added["men"])
	assert.Equal(t, []string{"household", "women", "men", "children"}, progress.done)
}

func TestImportStopsOnTargetError(t *testing.T) {
	cfg := testConfig(t)
	sv, _ := cfg.Survey("TS2020")
	target := newMemoryTarget()
	target.failOn = "women"

	im := &Importer{Source: NewMemoryDataSource(testFrames()), Target: target}
	runs, err := im.Import(context.Background(), sv, []string{"household", "women", "men"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating women")
	require.Len(t, runs, 1)
	assert.Equal(t, "household", runs[0].Table)
}

func TestImportTableName(t *testing.T) {
	assert.Equal(t, "rw2020_women", ImportTableName("RW2020_", "women"))
	assert.Equal(t, "zm_ir_2018", ImportTableName("zm-ir ", "2018"))
	assert.Equal(t, "x__drop_table", ImportTableName("", "x; drop table"))
}

func TestRowValues(t *testing.T) {
	f := frame([]string{"a", "b"}, []float64{1, math.NaN()}, []float64{math.NaN(), 4})
	assert.Equal(t, []interface{}{1.0, nil}, rowValues(f, 0))
	assert.Equal(t, []interface{}{nil, 4.0}, rowValues(f, 1))
}

func TestOpenImportTargetUnknown(t *testing.T) {
	_, err := OpenImportTarget(context.Background(), "sqlite", "file.db")
	assert.Error(t, err)
}
