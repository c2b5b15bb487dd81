package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"dhs-api/internal/config"
	"dhs-api/internal/state"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultImportBatch = 10000
	importAuditTable   = "dhs_imports"
)

// ImportRun is one dataset written to a database, as recorded in the
// audit table.
type ImportRun struct {
	ID         uuid.UUID `json:"id"`
	Survey     string    `json:"survey"`
	Dataset    string    `json:"dataset"`
	Table      string    `json:"table"`
	Rows       int       `json:"rows"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ImportTarget is a database that receives microdata tables.
type ImportTarget interface {
	// CreateTable replaces table with an empty one of nullable float columns.
	CreateTable(ctx context.Context, table string, columns []string) error
	// WriteRows appends rows [start, end) of f to table.
	WriteRows(ctx context.Context, table string, f *state.Frame, start, end int) error
	RecordRun(ctx context.Context, run ImportRun) error
	Close() error
}

// ImportProgress is told how far each dataset has been written.
type ImportProgress interface {
	Begin(dataset string, rows int)
	Add(dataset string, n int)
	Done(dataset string)
}

// Importer copies a survey's CSV extracts into a database.
type Importer struct {
	Source    DataSource
	Target    ImportTarget
	Progress  ImportProgress
	BatchSize int
}

// Import writes every listed dataset of sv to the target as
// <tablePrefix><dataset>. Datasets without an extract are skipped.
func (im *Importer) Import(ctx context.Context, sv *config.Survey, datasets []string, tablePrefix string) ([]ImportRun, error) {
	batch := im.BatchSize
	if batch <= 0 {
		batch = defaultImportBatch
	}

	var runs []ImportRun
	for _, dataset := range datasets {
		f, err := im.Source.Load(ctx, sv.Table(dataset))
		if errors.Is(err, ErrDatasetNotFound) {
			log.Printf("Skipping %s/%s: %v", sv.ID, dataset, err)
			continue
		}
		if err != nil {
			return runs, fmt.Errorf("reading %s/%s: %w", sv.ID, dataset, err)
		}

		run := ImportRun{
			ID:        uuid.New(),
			Survey:    sv.ID,
			Dataset:   dataset,
			Table:     ImportTableName(tablePrefix, dataset),
			Rows:      f.Len(),
			StartedAt: time.Now().UTC(),
		}
		if err := im.Target.CreateTable(ctx, run.Table, f.Headers); err != nil {
			return runs, fmt.Errorf("creating %s: %w", run.Table, err)
		}

		if im.Progress != nil {
			im.Progress.Begin(dataset, f.Len())
		}
		for start := 0; start < f.Len(); start += batch {
			end := start + batch
			if end > f.Len() {
				end = f.Len()
			}
			if err := im.Target.WriteRows(ctx, run.Table, f, start, end); err != nil {
				return runs, fmt.Errorf("writing %s rows %d-%d: %w", run.Table, start, end, err)
			}
			if im.Progress != nil {
				im.Progress.Add(dataset, end-start)
			}
		}
		if im.Progress != nil {
			im.Progress.Done(dataset)
		}

		run.FinishedAt = time.Now().UTC()
		if err := im.Target.RecordRun(ctx, run); err != nil {
			return runs, fmt.Errorf("recording import of %s: %w", run.Table, err)
		}
		log.Printf("Imported %s/%s into %s (%d rows, run %s)", sv.ID, dataset, run.Table, run.Rows, run.ID)
		runs = append(runs, run)
	}
	return runs, nil
}

// ImportTableName builds a lower-case identifier made of letters, digits
// and underscores.
func ImportTableName(prefix, dataset string) string {
	name := strings.ToLower(prefix + dataset)
	var b strings.Builder
	for _, c := range name {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// rowValues returns row i of f with missing values as nil (SQL NULL).
func rowValues(f *state.Frame, i int) []interface{} {
	row := make([]interface{}, len(f.Headers))
	for j, h := range f.Headers {
		if v := f.Value(h, i); !math.IsNaN(v) {
			row[j] = v
		}
	}
	return row
}

// OpenImportTarget connects to the database of the given type.
func OpenImportTarget(ctx context.Context, target, dsn string) (ImportTarget, error) {
	switch target {
	case config.SourcePostgres:
		return NewPostgresTarget(ctx, dsn)
	case config.SourceClickHouse:
		return NewClickHouseTarget(ctx, dsn)
	}
	return nil, fmt.Errorf("unsupported import target %q", target)
}

// PostgresTarget bulk-loads tables with COPY.
type PostgresTarget struct {
	pool *pgxpool.Pool
}

func NewPostgresTarget(ctx context.Context, dsn string) (*PostgresTarget, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+importAuditTable+` (
			id          uuid PRIMARY KEY,
			survey      text NOT NULL,
			dataset     text NOT NULL,
			table_name  text NOT NULL,
			rows        bigint NOT NULL,
			started_at  timestamptz NOT NULL,
			finished_at timestamptz NOT NULL
		)`)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresTarget{pool: pool}, nil
}

func (p *PostgresTarget) CreateTable(ctx context.Context, table string, columns []string) error {
	ident := pgx.Identifier{table}.Sanitize()
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pgx.Identifier{c}.Sanitize() + " double precision"
	}

	if _, err := p.pool.Exec(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, "CREATE TABLE "+ident+" ("+strings.Join(defs, ", ")+")")
	return err
}

func (p *PostgresTarget) WriteRows(ctx context.Context, table string, f *state.Frame, start, end int) error {
	_, err := p.pool.CopyFrom(ctx, pgx.Identifier{table}, f.Headers,
		pgx.CopyFromSlice(end-start, func(i int) ([]interface{}, error) {
			return rowValues(f, start+i), nil
		}))
	return err
}

func (p *PostgresTarget) RecordRun(ctx context.Context, run ImportRun) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO `+importAuditTable+` (id, survey, dataset, table_name, rows, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID.String(), run.Survey, run.Dataset, run.Table, run.Rows, run.StartedAt, run.FinishedAt)
	return err
}

func (p *PostgresTarget) Close() error {
	p.pool.Close()
	return nil
}

// ClickHouseTarget loads tables through native protocol batches.
type ClickHouseTarget struct {
	conn driver.Conn
}

func NewClickHouseTarget(ctx context.Context, dsn string) (*ClickHouseTarget, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+importAuditTable+` (
			id          UUID,
			survey      String,
			dataset     String,
			table_name  String,
			rows        UInt64,
			started_at  DateTime64(3),
			finished_at DateTime64(3)
		) ENGINE = MergeTree ORDER BY started_at`)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &ClickHouseTarget{conn: conn}, nil
}

func (c *ClickHouseTarget) CreateTable(ctx context.Context, table string, columns []string) error {
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = quoteClickHouse(col) + " Nullable(Float64)"
	}

	if err := c.conn.Exec(ctx, "DROP TABLE IF EXISTS "+quoteClickHouse(table)); err != nil {
		return err
	}
	return c.conn.Exec(ctx, "CREATE TABLE "+quoteClickHouse(table)+" ("+strings.Join(defs, ", ")+") ENGINE = MergeTree ORDER BY tuple()")
}

func (c *ClickHouseTarget) WriteRows(ctx context.Context, table string, f *state.Frame, start, end int) error {
	// PrepareBatch appends rows in table column order
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+quoteClickHouse(table))
	if err != nil {
		return err
	}
	for i := start; i < end; i++ {
		if err := batch.Append(rowValues(f, i)...); err != nil {
			batch.Abort()
			return err
		}
	}
	return batch.Send()
}

func (c *ClickHouseTarget) RecordRun(ctx context.Context, run ImportRun) error {
	return c.conn.Exec(ctx,
		"INSERT INTO "+importAuditTable+" (id, survey, dataset, table_name, rows, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		run.ID, run.Survey, run.Dataset, run.Table, uint64(run.Rows), run.StartedAt, run.FinishedAt)
}

func (c *ClickHouseTarget) Close() error {
	return c.conn.Close()
}
