// Package engine owns the embedded analytical engine: it materializes the
// fact-table snapshot into DuckDB exactly once and runs queries against it on
// per-query connections.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcboeker/go-duckdb/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/cobenefit-atlas/internal/catalog"
	"github.com/sells-group/cobenefit-atlas/internal/fetcher"
	"github.com/sells-group/cobenefit-atlas/internal/query"
)

// Opener creates an empty engine database.
type Opener func() (*sql.DB, error)

// OpenDuckDB opens an in-memory DuckDB database.
func OpenDuckDB() (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, eris.Wrap(err, "engine: open duckdb")
	}
	return db, nil
}

// Options configures an Executor.
type Options struct {
	// Snapshot is the parquet snapshot location: an http(s) URL or a local path.
	Snapshot    string
	Table       string
	TempDir     string
	InitTimeout time.Duration
	Open        Opener
	Cache       *ResultCache
	Catalog     *catalog.Catalog
}

// Column describes one fact-table column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Executor holds the single engine instance. The zero value is not usable;
// construct with New.
type Executor struct {
	fetch    fetcher.Fetcher
	opts     Options
	compiler query.Compiler

	group singleflight.Group

	mu      sync.Mutex
	db      *sql.DB
	columns []Column

	registrations atomic.Int64
}

// New creates an executor. Nothing is fetched until the first Init.
func New(f fetcher.Fetcher, opts Options) (*Executor, error) {
	if opts.Snapshot == "" {
		return nil, eris.New("engine: snapshot location is required")
	}
	compiler, err := query.NewCompiler(opts.Table)
	if err != nil {
		return nil, eris.Wrap(err, "engine: table name")
	}
	if opts.InitTimeout == 0 {
		opts.InitTimeout = 2 * time.Minute
	}
	if opts.Open == nil {
		opts.Open = OpenDuckDB
	}
	if opts.Cache == nil {
		opts.Cache = NewResultCache(256, 15*time.Minute)
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	return &Executor{fetch: f, opts: opts, compiler: compiler}, nil
}

// Table returns the name the snapshot is registered under.
func (e *Executor) Table() string { return e.compiler.Table() }

// Compiler returns the SQL compiler bound to the executor's table.
func (e *Executor) Compiler() query.Compiler { return e.compiler }

// Catalog returns the catalog specs are validated against.
func (e *Executor) Catalog() *catalog.Catalog { return e.opts.Catalog }

// Registrations reports how many times the snapshot has been registered.
func (e *Executor) Registrations() int64 { return e.registrations.Load() }

// CacheStats reports result cache statistics.
func (e *Executor) CacheStats() CacheStats { return e.opts.Cache.Stats() }

// Ready reports whether the engine has been initialized.
func (e *Executor) Ready() bool { return e.handle() != nil }

func (e *Executor) handle() *sql.DB {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db
}

// Init returns the engine, bootstrapping it on first use. Concurrent first
// callers share a single bootstrap. A failed bootstrap is not cached, so the
// next call retries. The bootstrap itself is bounded by the init timeout and
// is not cancelled when an individual caller gives up.
func (e *Executor) Init(ctx context.Context) (*sql.DB, error) {
	if db := e.handle(); db != nil {
		return db, nil
	}

	ch := e.group.DoChan("init", func() (any, error) {
		if db := e.handle(); db != nil {
			return db, nil
		}
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.InitTimeout)
		defer cancel()

		db, cols, err := e.bootstrap(bctx)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.db, e.columns = db, cols
		e.mu.Unlock()
		return db, nil
	})

	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "engine: wait for init")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sql.DB), nil
	}
}

func (e *Executor) bootstrap(ctx context.Context) (*sql.DB, []Column, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "engine"), zap.String("snapshot", e.opts.Snapshot))
	log.Info("engine: bootstrapping")

	path := strings.TrimPrefix(e.opts.Snapshot, "file://")
	if fetcher.IsRemote(e.opts.Snapshot) {
		tmp, err := os.CreateTemp(e.opts.TempDir, "snapshot-*.parquet")
		if err != nil {
			return nil, nil, eris.Wrap(err, "engine: create temp file")
		}
		path = tmp.Name()
		_ = tmp.Close()
		defer os.Remove(path) //nolint:errcheck

		n, err := e.fetch.DownloadToFile(ctx, e.opts.Snapshot, path)
		if err != nil {
			log.Warn("engine: snapshot fetch failed", zap.Error(err))
			return nil, nil, eris.Wrap(err, "engine: fetch snapshot")
		}
		log.Debug("engine: snapshot fetched", zap.Int64("bytes", n))
	}

	db, err := e.opts.Open()
	if err != nil {
		return nil, nil, err
	}

	create := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM read_parquet(%s)", e.Table(), sqlString(path))
	if _, err := db.ExecContext(ctx, create); err != nil {
		_ = db.Close()
		return nil, nil, eris.Wrap(err, "engine: register snapshot")
	}
	e.registrations.Add(1)

	schema, err := query.NewSchema(e.opts.Catalog, query.Params{})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	rows, err := queryRows(ctx, db, e.compiler.Compile(schema))
	if err != nil {
		_ = db.Close()
		return nil, nil, eris.Wrap(err, "engine: read schema")
	}
	cols := make([]Column, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, Column{Name: r.String("column_name"), Type: r.String("data_type")})
	}

	log.Info("engine: ready",
		zap.String("table", e.Table()),
		zap.Int("columns", len(cols)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return db, cols, nil
}

// Query runs sqlText on a connection acquired for this call only.
func (e *Executor) Query(ctx context.Context, sqlText string) ([]query.Row, error) {
	db, err := e.Init(ctx)
	if err != nil {
		return nil, err
	}
	return queryRows(ctx, db, sqlText)
}

// Run compiles and executes a spec, serving repeated queries from the cache,
// and checks the rows against the query's column contract.
func (e *Executor) Run(ctx context.Context, s query.Spec) ([]query.Row, error) {
	sqlText := e.compiler.Compile(s)
	if rows, ok := e.opts.Cache.Get(sqlText); ok {
		return rows, nil
	}

	start := time.Now()
	rows, err := e.Query(ctx, sqlText)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: run %s", s.Kind())
	}
	if err := query.Validate(s, rows); err != nil {
		return nil, err
	}
	zap.L().Debug("engine: query complete",
		zap.String("kind", string(s.Kind())),
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", time.Since(start)),
	)

	e.opts.Cache.Put(sqlText, rows)
	return rows, nil
}

// Columns returns the fact-table schema.
func (e *Executor) Columns(ctx context.Context) ([]Column, error) {
	if _, err := e.Init(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Column(nil), e.columns...), nil
}

// Close releases the engine. A later Init bootstraps a fresh instance.
func (e *Executor) Close() error {
	e.mu.Lock()
	db := e.db
	e.db, e.columns = nil, nil
	e.mu.Unlock()

	e.opts.Cache.Purge()
	if db == nil {
		return nil
	}
	return eris.Wrap(db.Close(), "engine: close")
}

func queryRows(ctx context.Context, db *sql.DB, sqlText string) ([]query.Row, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: acquire connection")
	}
	defer conn.Close() //nolint:errcheck

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, eris.Wrap(err, "engine: query")
	}
	defer rows.Close() //nolint:errcheck

	names, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "engine: result columns")
	}

	var out []query.Row
	vals := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "engine: scan row")
		}
		r := make(query.Row, len(names))
		for i, name := range names {
			r[name] = normalize(vals[i])
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "engine: iterate rows")
	}
	return out, nil
}

// normalize converts engine-specific scan types to plain values: wide
// integers and decimals become float64, byte slices become strings.
func normalize(v any) any {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case duckdb.Decimal:
		return x.Float64()
	case []byte:
		return string(x)
	default:
		return v
	}
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
