// Package engine owns the embedded DuckDB instance: the connection pool,
// the parse/deparse bridge into the engine's serialized AST, and the
// conversion of result rows into Arrow batches.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb driver
	"github.com/tealflight/tealflight/sqlast"
)

// Pool is the process-wide engine connection pool.
type Pool struct {
	db *sql.DB
}

// Open opens the engine. An empty path gives an in-memory database.
func Open(path string) (*Pool, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &Pool{db: db}, nil
}

// NewPool wraps an existing database handle; tests use it with their own
// fixtures.
func NewPool(db *sql.DB) *Pool {
	return &Pool{db: db}
}

// DB exposes the underlying handle for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

func (p *Pool) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Pool) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.db.ExecContext(ctx, query, args...)
}

func (p *Pool) Close() error {
	return p.db.Close()
}

// Parse turns SQL text into the engine's JSON parse tree.
func (p *Pool) Parse(ctx context.Context, query string) (sqlast.Node, error) {
	var serialized string
	row := p.db.QueryRowContext(ctx, "SELECT json_serialize_sql(?::VARCHAR)::VARCHAR", query)
	if err := row.Scan(&serialized); err != nil {
		return nil, fmt.Errorf("serialize sql: %w", err)
	}
	return sqlast.ParseDocument([]byte(serialized))
}

// Deparse converts a (possibly rewritten) parse tree back to SQL text.
func (p *Pool) Deparse(ctx context.Context, doc sqlast.Node) (string, error) {
	data, err := sqlast.MarshalDocument(doc)
	if err != nil {
		return "", fmt.Errorf("marshal parse tree: %w", err)
	}
	var query string
	row := p.db.QueryRowContext(ctx, "SELECT json_deserialize_sql(?::JSON)", string(data))
	if err := row.Scan(&query); err != nil {
		return "", fmt.Errorf("deserialize sql: %w", err)
	}
	return query, nil
}

// QuerySchema discovers the result schema of a read-only statement without
// executing it, by running it with LIMIT 0.
func (p *Pool) QuerySchema(ctx context.Context, query string) ([]ColumnType, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(query), ";")
	if !SupportsLimit(trimmed) {
		return nil, fmt.Errorf("schema inference only supports read-only query statements")
	}
	rows, err := p.db.QueryContext(ctx, "SELECT * FROM ("+trimmed+") LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	out := make([]ColumnType, len(colTypes))
	for i, ct := range colTypes {
		out[i] = ColumnType{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
	}
	return out, nil
}

// ColumnType is the name and engine type of one result column.
type ColumnType struct {
	Name         string
	DatabaseType string
}

// SupportsLimit reports whether a statement can be wrapped in a LIMIT 0
// probe for schema discovery.
func SupportsLimit(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(upper, "SELECT") ||
		strings.HasPrefix(upper, "WITH") ||
		strings.HasPrefix(upper, "VALUES") ||
		strings.HasPrefix(upper, "TABLE") ||
		strings.HasPrefix(upper, "FROM")
}
