package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"dhs-api/internal/analysis"
	"dhs-api/internal/config"
	"dhs-api/internal/state"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/lib/pq"
)

// DataSource is where survey microdata is read from
type DataSource interface {
	Load(ctx context.Context, table string) (*state.Frame, error)
	ListTables(ctx context.Context) ([]string, error)
	Close() error
}

// Open connects to the source described by cfg.
func Open(ctx context.Context, cfg config.SourceConfig) (DataSource, error) {
	switch cfg.Type {
	case config.SourceCSV, "":
		return NewCSVDataSource(cfg.Dir), nil
	case config.SourcePostgres:
		ds := &PostgresDataSource{}
		if err := ds.Connect(ctx, cfg.DSN); err != nil {
			return nil, err
		}
		return ds, nil
	case config.SourceClickHouse:
		ds := &ClickHouseDataSource{}
		if err := ds.Connect(ctx, cfg.DSN); err != nil {
			return nil, err
		}
		return ds, nil
	}
	return nil, fmt.Errorf("unsupported source type %q", cfg.Type)
}

// CSVDataSource reads CSV extracts from a directory
type CSVDataSource struct {
	Dir string
	csv *analysis.CSVService
}

func NewCSVDataSource(dir string) *CSVDataSource {
	return &CSVDataSource{Dir: dir, csv: analysis.NewCSVService()}
}

func (c *CSVDataSource) Load(ctx context.Context, table string) (*state.Frame, error) {
	path := filepath.Join(c.Dir, filepath.Base(table))
	df, err := c.csv.ParseFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: data file not found: %s", ErrDatasetNotFound, path)
	}
	return df, err
}

func (c *CSVDataSource) ListTables(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.Dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, filepath.Base(m))
	}
	sort.Strings(tables)
	return tables, nil
}

func (c *CSVDataSource) Close() error {
	return nil
}

// PostgresDataSource reads recodes stored one table per dataset
type PostgresDataSource struct {
	db *sql.DB
}

func (p *PostgresDataSource) Connect(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}

	p.db = db
	return nil
}

func (p *PostgresDataSource) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *PostgresDataSource) ListTables(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		ORDER BY table_name;
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		tables = append(tables, tableName)
	}
	return tables, rows.Err()
}

func (p *PostgresDataSource) Load(ctx context.Context, table string) (*state.Frame, error) {
	if err := requireTable(ctx, p, table); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, "SELECT * FROM "+pq.QuoteIdentifier(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	headers, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	columns := make([][]float64, len(headers))
	values := make([]interface{}, len(headers))
	valuePtrs := make([]interface{}, len(headers))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			columns[i] = append(columns[i], toFloat(v))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return state.NewFrame(table, headers, columns), nil
}

// ClickHouseDataSource reads recodes from ClickHouse over the native protocol
type ClickHouseDataSource struct {
	conn driver.Conn
}

func (c *ClickHouseDataSource) Connect(ctx context.Context, dsn string) error {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return err
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return err
	}
	c.conn = conn
	return nil
}

func (c *ClickHouseDataSource) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *ClickHouseDataSource) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.conn.Query(ctx, "SELECT name FROM system.tables WHERE database = currentDatabase() ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (c *ClickHouseDataSource) Load(ctx context.Context, table string) (*state.Frame, error) {
	if err := requireTable(ctx, c, table); err != nil {
		return nil, err
	}

	rows, err := c.conn.Query(ctx, "SELECT * FROM "+quoteClickHouse(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := rows.ColumnTypes()
	headers := rows.Columns()
	columns := make([][]float64, len(headers))
	dest := make([]interface{}, len(types))
	for rows.Next() {
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, d := range dest {
			columns[i] = append(columns[i], toFloat(reflect.ValueOf(d).Elem().Interface()))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return state.NewFrame(table, headers, columns), nil
}

// MemoryDataSource serves frames held in memory
type MemoryDataSource struct {
	mu     sync.RWMutex
	frames map[string]*state.Frame
}

func NewMemoryDataSource(frames map[string]*state.Frame) *MemoryDataSource {
	if frames == nil {
		frames = make(map[string]*state.Frame)
	}
	return &MemoryDataSource{frames: frames}
}

func (m *MemoryDataSource) Put(table string, f *state.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames[table] = f
}

func (m *MemoryDataSource) Load(ctx context.Context, table string) (*state.Frame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.frames[table]
	if !ok {
		return nil, fmt.Errorf("%w: table %s", ErrDatasetNotFound, table)
	}
	return f, nil
}

func (m *MemoryDataSource) ListTables(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tables := make([]string, 0, len(m.frames))
	for t := range m.frames {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables, nil
}

func (m *MemoryDataSource) Close() error {
	return nil
}

// requireTable checks the table against the source's own table list so
// that only known identifiers reach a query string.
func requireTable(ctx context.Context, ds DataSource, table string) error {
	tables, err := ds.ListTables(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if t == table {
			return nil
		}
	}
	return fmt.Errorf("%w: table %s", ErrDatasetNotFound, table)
}

func quoteClickHouse(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

// toFloat converts a driver value to float64. Values that are not numeric
// read as missing.
func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case nil:
		return math.NaN()
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case []byte:
		return state.ParseNumeric(string(x))
	case string:
		return state.ParseNumeric(x)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return math.NaN()
		}
		return toFloat(rv.Elem().Interface())
	}
	return math.NaN()
}
