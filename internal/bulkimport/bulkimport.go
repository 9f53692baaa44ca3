/*
Copyright (C) 2026  nodekv contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package bulkimport seeds the store from an external MySQL or Postgres
// table, one SET per row, generalizing storage/mysql_import.go onto the
// key-value domain: a row's value columns become a JSON-encoded record,
// its key columns (or a generated id if none are named) become the key.
package bulkimport

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/nodekv/nodekv/internal/kernel"
)

// Dialect selects the driver and identifier-quoting/placeholder rules
// for the source database.
type Dialect uint8

const (
	MySQL Dialect = iota
	Postgres
)

func (d Dialect) driverName() string {
	if d == Postgres {
		return "postgres"
	}
	return "mysql"
}

// quoteIdent quotes a schema/table/column identifier the way each
// dialect's own clients would: backticks for MySQL, double quotes for
// Postgres.
func (d Dialect) quoteIdent(name string) string {
	if d == Postgres {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Source describes how to reach the external database. DSN is the
// driver-native connection string (e.g. "user:pass@tcp(host:3306)/db"
// for MySQL, "host=... dbname=... sslmode=disable" for Postgres) —
// bulkimport does not attempt to assemble one, since the two dialects'
// formats have nothing in common worth abstracting over.
type Source struct {
	Dialect Dialect
	DSN     string
}

// Open connects, bounds the connection pool the same way
// storage/mysql_import.go's openMySQL does (30 minute max lifetime, 8
// max open/idle conns — a bulk import is a background batch job, not a
// query-serving pool), and verifies reachability with PingContext.
func Open(ctx context.Context, src Source) (*sql.DB, error) {
	db, err := sql.Open(src.Dialect.driverName(), src.DSN)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// TableSpec names one source table and how its rows map to keys.
type TableSpec struct {
	// Schema is the source database/schema name; required for Postgres
	// (qualifies the table), optional for MySQL (DSN already selects a
	// database, but an explicit Schema overrides it for a cross-schema
	// import).
	Schema string
	Table  string

	// KeyColumns are joined with ':' (after KeyPrefix) to form the
	// store key. Left empty, each row gets a generated key of
	// KeyPrefix+a random UUID, since not every source table has a
	// single-column natural key simple enough to reuse directly.
	KeyColumns []string
	KeyPrefix  string
}

func (spec TableSpec) qualifiedTable(d Dialect) string {
	if spec.Schema == "" {
		return d.quoteIdent(spec.Table)
	}
	return d.quoteIdent(spec.Schema) + "." + d.quoteIdent(spec.Table)
}

// Result tallies one table import.
type Result struct {
	Table string
	Rows  int64
}

// Importer copies rows into store, one Upsert per row, across a small
// fixed worker pool — the same shape as
// storage/mysql_import.go's initMySQLImport: a bounded job channel, a
// WaitGroup, and a mutex-guarded "first error wins" accumulator, rather
// than one goroutine per table which would let an import of hundreds of
// tables spawn hundreds of concurrent DB connections.
type Importer struct {
	store   *kernel.Kernel
	workers int
}

// NewImporter returns an Importer writing into store. workers <= 0
// defaults to GOMAXPROCS, clamped to the teacher's own [1, 8] range.
func NewImporter(store *kernel.Kernel, workers int) *Importer {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		workers = 1
	}
	if workers > 8 {
		workers = 8
	}
	return &Importer{store: store, workers: workers}
}

// ImportTables opens one connection to src and imports every spec
// concurrently across the worker pool, returning one Result per table
// in spec order (regardless of completion order) and the first error
// encountered across all tables, if any.
func (imp *Importer) ImportTables(ctx context.Context, src Source, specs []TableSpec) ([]Result, error) {
	db, err := Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	type job struct {
		index int
		spec  TableSpec
	}
	jobs := make(chan job, len(specs))
	results := make([]Result, len(specs))

	var wg sync.WaitGroup
	var firstErrMu sync.Mutex
	var firstErr error

	for i := 0; i < imp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				n, err := imp.importTable(ctx, db, src.Dialect, j.spec)
				results[j.index] = Result{Table: j.spec.Table, Rows: n}
				if err != nil {
					firstErrMu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("bulkimport: table %s: %w", j.spec.Table, err)
					}
					firstErrMu.Unlock()
				}
			}
		}()
	}
	for i, spec := range specs {
		jobs <- job{index: i, spec: spec}
	}
	close(jobs)
	wg.Wait()

	firstErrMu.Lock()
	err = firstErr
	firstErrMu.Unlock()
	return results, err
}

// ImportTable imports a single table; a thin convenience wrapper
// around ImportTables for the common one-table case.
func (imp *Importer) ImportTable(ctx context.Context, src Source, spec TableSpec) (Result, error) {
	results, err := imp.ImportTables(ctx, src, []TableSpec{spec})
	return results[0], err
}

func (imp *Importer) importTable(ctx context.Context, db *sql.DB, dialect Dialect, spec TableSpec) (int64, error) {
	query := "SELECT * FROM " + spec.qualifiedTable(dialect)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}

	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	var count int64
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if err := rows.Scan(ptrs...); err != nil {
			return count, err
		}

		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[col] = normalizeValue(raw[i])
		}

		key, err := rowKey(spec, record)
		if err != nil {
			return count, err
		}
		value, err := json.Marshal(record)
		if err != nil {
			return count, err
		}
		if _, err := imp.store.Upsert(key, value); err != nil {
			return count, err
		}
		count++
	}
	return count, rows.Err()
}

func rowKey(spec TableSpec, record map[string]any) ([]byte, error) {
	if len(spec.KeyColumns) == 0 {
		return []byte(spec.KeyPrefix + uuid.NewString()), nil
	}
	parts := make([]string, len(spec.KeyColumns))
	for i, col := range spec.KeyColumns {
		v, ok := record[col]
		if !ok {
			return nil, fmt.Errorf("key column %q not present in row", col)
		}
		parts[i] = fmt.Sprint(v)
	}
	return []byte(spec.KeyPrefix + strings.Join(parts, ":")), nil
}

// normalizeValue turns driver-specific scan results (notably []byte for
// both drivers' TEXT/VARCHAR/BLOB columns) into JSON-friendly values,
// following the same case switch storage/mysql_import.go's
// mysqlToScmer uses, adapted from scm.Scmer construction to plain Go
// values for json.Marshal.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02T15:04:05Z07:00")
	default:
		return x
	}
}
