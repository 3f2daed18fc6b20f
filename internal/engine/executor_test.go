package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cobenefit-atlas/internal/catalog"
	"github.com/sells-group/cobenefit-atlas/internal/fetcher"
	"github.com/sells-group/cobenefit-atlas/internal/query"
)

type zoneFixture struct {
	zone, lad, nation string
	pop, hh           int
	noise, dampness   float64
	under35           float64
	epc               int
}

// Zones A and B share a local authority but differ wildly in population so
// that the ratio of sums and the mean of ratios diverge.
var fixtureZones = []zoneFixture{
	{"A", "L1", "England", 100, 40, 6, 4, 0.2, 3},
	{"B", "L1", "England", 1, 1, 0.5, 0.5, 0.4, 3},
	{"C", "L2", "England", 50, 20, 3, 2, 0.1, 5},
	{"D", "W1", "Wales", 30, 12, 1, 1, 0.3, 4},
}

const fixtureDDL = `CREATE TABLE facts (
	Lookup_Value VARCHAR, LAD VARCHAR, Nation VARCHAR, scenario VARCHAR,
	co_benefit_type VARCHAR, Population BIGINT, HH BIGINT, total DOUBLE,
	Y2025_2029 DOUBLE, Y2030_2034 DOUBLE, Y2035_2039 DOUBLE, Y2040_2044 DOUBLE, Y2045_2050 DOUBLE,
	Under_35 DOUBLE, Over_65 DOUBLE, Unemployment DOUBLE,
	EPC INTEGER, Tenure INTEGER, Typology INTEGER, Fuel_Type INTEGER, Gas_flag INTEGER, Number_cars INTEGER
)`

func fixtureRow(z zoneFixture, scenario, cb string, total float64) string {
	w := total / 5
	return fmt.Sprintf("('%s','%s','%s','%s','%s',%d,%d,%g,%g,%g,%g,%g,%g,%g,0.15,0.05,%d,1,2,1,1,1)",
		z.zone, z.lad, z.nation, scenario, cb, z.pop, z.hh, total, w, w, w, w, w, z.under35, z.epc)
}

// writeSnapshot materializes the fixture as a parquet file and returns its path.
func writeSnapshot(t *testing.T) string {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(fixtureDDL)
	require.NoError(t, err)

	var values []string
	for _, scenario := range []string{"BNZ", "Headwinds"} {
		scale := 1.0
		if scenario == "Headwinds" {
			scale = 0.5
		}
		for _, z := range fixtureZones {
			values = append(values,
				fixtureRow(z, scenario, "Noise", z.noise*scale),
				fixtureRow(z, scenario, "Dampness", z.dampness*scale),
				fixtureRow(z, scenario, "Total", (z.noise+z.dampness)*scale),
			)
		}
	}
	_, err = db.Exec("INSERT INTO facts VALUES " + strings.Join(values, ",\n"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "database.parquet")
	_, err = db.Exec(fmt.Sprintf("COPY facts TO '%s' (FORMAT PARQUET)", path))
	require.NoError(t, err)
	return path
}

// snapshotServer serves the parquet file, counting requests. While gate is
// non-nil, handlers block until it is closed.
type snapshotServer struct {
	*httptest.Server
	hits   atomic.Int32
	failN  int32
	gate   chan struct{}
	status int
}

func newSnapshotServer(t *testing.T, path string) *snapshotServer {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	s := &snapshotServer{status: http.StatusServiceUnavailable}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.hits.Add(1)
		if s.gate != nil {
			<-s.gate
		}
		if n <= s.failN {
			w.WriteHeader(s.status)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

func newExecutor(t *testing.T, snapshot string) *Executor {
	t.Helper()
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, Timeout: 10 * time.Second})
	e, err := New(f, Options{Snapshot: snapshot, TempDir: t.TempDir(), Cache: NewResultCache(32, time.Hour)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func run(t *testing.T, e *Executor, kind query.Kind, p query.Params) []query.Row {
	t.Helper()
	s, err := query.Build(catalog.Default(), kind, p)
	require.NoError(t, err)
	rows, err := e.Run(context.Background(), s)
	require.NoError(t, err)
	return rows
}

func float(t *testing.T, r query.Row, col string) float64 {
	t.Helper()
	v, ok := r.Float(col)
	require.True(t, ok, "column %s in %v", col, r)
	return v
}

func TestInit_ConcurrentCallersShareOneBootstrap(t *testing.T) {
	srv := newSnapshotServer(t, writeSnapshot(t))
	srv.gate = make(chan struct{})
	e := newExecutor(t, srv.URL+"/database.parquet")

	const n = 16
	var wg sync.WaitGroup
	dbs := make([]*sql.DB, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dbs[i], errs[i] = e.Init(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(srv.gate)
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Same(t, dbs[0], dbs[i])
	}
	assert.Equal(t, int32(1), srv.hits.Load())
	assert.Equal(t, int64(1), e.Registrations())

	// Later calls reuse the engine without fetching again.
	_, err := e.Init(context.Background())
	require.NoError(t, err)
	rows, err := e.Query(context.Background(), "SELECT COUNT(*) AS n FROM cobenefits")
	require.NoError(t, err)
	assert.Equal(t, float64(24), float(t, rows[0], "n"))
	assert.Equal(t, int32(1), srv.hits.Load())
	assert.Equal(t, int64(1), e.Registrations())
}

func TestInit_FetchFailureIsNotCached(t *testing.T) {
	srv := newSnapshotServer(t, writeSnapshot(t))
	srv.failN = 1
	e := newExecutor(t, srv.URL+"/database.parquet")

	_, err := e.Init(context.Background())
	require.Error(t, err)
	var se *fetcher.StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.False(t, e.Ready())
	assert.Equal(t, int64(0), e.Registrations())

	_, err = e.Init(context.Background())
	require.NoError(t, err)
	assert.True(t, e.Ready())
	assert.Equal(t, int32(2), srv.hits.Load())
	assert.Equal(t, int64(1), e.Registrations())
}

func TestInit_WaiterHonoursOwnContext(t *testing.T) {
	srv := newSnapshotServer(t, writeSnapshot(t))
	srv.gate = make(chan struct{})
	e := newExecutor(t, srv.URL+"/database.parquet")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Init(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The shared bootstrap keeps going and a patient caller gets the engine.
	close(srv.gate)
	_, err = e.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.hits.Load())
	assert.Equal(t, int64(1), e.Registrations())
}

func TestInit_LocalSnapshot(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))
	cols, err := e.Columns(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, cols)
	assert.Equal(t, Column{Name: "Lookup_Value", Type: "VARCHAR"}, cols[0])
}

func TestRun_LADSumReconcilesWithNationSum(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))

	for _, cbs := range [][]string{nil, {"Noise"}, {"Noise", "Dampness"}} {
		p := query.Params{CoBenefits: cbs, Scenario: "BNZ", Nation: "England"}
		var ladTotal float64
		for _, r := range run(t, e, query.KindLADSum, p) {
			ladTotal += float(t, r, "val")
		}
		nation := run(t, e, query.KindNationSum, p)
		require.Len(t, nation, 1)
		assert.InDelta(t, float(t, nation[0], "val"), ladTotal, 1e-9, "co-benefits %v", cbs)
	}
}

func TestRun_PerCapitaFromAggregatedSums(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))
	rows := run(t, e, query.KindLADSum, query.Params{Scenario: "BNZ", Nation: "England"})

	var l1 query.Row
	for _, r := range rows {
		if r.String("Lookup_Value") == "L1" {
			l1 = r
		}
	}
	require.NotNil(t, l1)
	assert.InDelta(t, 11.0, float(t, l1, "val"), 1e-9)
	assert.InDelta(t, 11.0/101.0, float(t, l1, "value_per_capita"), 1e-9)
	assert.NotInDelta(t, 0.55, float(t, l1, "value_per_capita"), 0.1)
}

func TestRun_CategorySelectionCountsPopulationOnce(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))
	rows := run(t, e, query.KindNationSum, query.Params{
		CoBenefits: []string{"Noise", "Dampness"},
		Scenario:   "BNZ",
		Nation:     "Wales",
	})
	require.Len(t, rows, 1)
	assert.InDelta(t, 2.0/30.0, float(t, rows[0], "value_per_capita"), 1e-9)
}

func TestRun_PercentFactorScaled(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))
	rows := run(t, e, query.KindFactorValues, query.Params{Factor: "Under_35", Scenario: "BNZ"})
	require.Len(t, rows, len(fixtureZones))
	for _, r := range rows {
		if r.String("Lookup_Value") == "A" {
			assert.InDelta(t, 20.0, float(t, r, "val"), 1e-9)
		}
	}

	rows = run(t, e, query.KindFactorValues, query.Params{Factor: "EPC", Scenario: "BNZ"})
	for _, r := range rows {
		if r.String("Lookup_Value") == "C" {
			assert.InDelta(t, 5.0, float(t, r, "val"), 1e-9)
		}
	}
}

func TestRun_CategoricalFactorUsesMode(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))
	rows := run(t, e, query.KindFactorByLAD, query.Params{Factor: "EPC", Scenario: "BNZ"})
	byLAD := map[string]float64{}
	for _, r := range rows {
		byLAD[r.String("Lookup_Value")] = float(t, r, "val")
	}
	assert.Equal(t, map[string]float64{"L1": 3, "L2": 5, "W1": 4}, byLAD)
}

func TestRun_TopLADsAndRankings(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))

	rows := run(t, e, query.KindTopLADs, query.Params{Limit: 2, Scenario: "BNZ"})
	require.Len(t, rows, 2)
	assert.Equal(t, "L1", rows[0].String("LAD"))
	assert.InDelta(t, 0.011, float(t, rows[0], "total_value"), 1e-9)

	rows = run(t, e, query.KindHouseholdRanking, query.Params{Scenario: "BNZ", SortBy: query.SortTotal})
	require.Len(t, rows, 3)
	assert.InDelta(t, 11.0/41.0*1000, float(t, rows[0], "value_per_household"), 1e-6)

	rows = run(t, e, query.KindTotalAggregation, query.Params{Scenario: "BNZ", LAD: "L2"})
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.005, float(t, rows[0], "total_value"), 1e-9)
	assert.InDelta(t, 100.0, float(t, rows[0], "total_value_per_capita"), 1e-9)
}

func TestRun_FactorFacets(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))
	rows := run(t, e, query.KindFactorFacets, query.Params{CoBenefit: "Noise", Scenario: "BNZ", ByLAD: true})
	assert.Len(t, rows, 3*len(catalog.Default().Factors))
}

func TestRun_FactorFacetsPerZone(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))
	rows := run(t, e, query.KindFactorFacets, query.Params{CoBenefit: "Noise", Scenario: "BNZ"})
	require.Len(t, rows, len(fixtureZones)*len(catalog.Default().Factors))

	se := make(map[string]float64, len(rows))
	totals := make(map[string]float64)
	for _, r := range rows {
		se[r.String("factor")+"/"+r.String(query.ColZone)] = float(t, r, "SE")
		totals[r.String(query.ColZone)] = float(t, r, query.ColTotal)
		assert.Equal(t, r.String(query.ColZone) == "D", r.String(query.ColLAD) == "W1")
	}

	// Percent factors are stored as fractions and scaled.
	assert.InDelta(t, 20, se["Under_35/A"], 1e-9)
	assert.InDelta(t, 40, se["Under_35/B"], 1e-9)
	assert.InDelta(t, 15, se["Over_65/C"], 1e-9)
	assert.InDelta(t, 5, se["Unemployment/D"], 1e-9)

	// Categorical factors keep their level codes.
	assert.Equal(t, 3.0, se["EPC/A"])
	assert.Equal(t, 5.0, se["EPC/C"])
	assert.Equal(t, 4.0, se["EPC/D"])
	assert.Equal(t, 2.0, se["Typology/B"])
	assert.Equal(t, 1.0, se["Tenure/C"])

	assert.Equal(t, map[string]float64{"A": 6, "B": 0.5, "C": 3, "D": 1}, totals)
}

func TestRun_LookupsAndDetails(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))

	rows := run(t, e, query.KindZoneCount, query.Params{})
	assert.Equal(t, 4.0, float(t, rows[0], "distinct_lookup_count"))

	rows = run(t, e, query.KindDistinct, query.Params{Column: "Nation"})
	require.Len(t, rows, 2)
	assert.Equal(t, "England", rows[0].String("Nation"))

	rows = run(t, e, query.KindZoneTotals, query.Params{Zone: "A"})
	assert.Len(t, rows, 6)

	rows = run(t, e, query.KindAreaDetail, query.Params{LAD: "L1", PerCoBenefit: true})
	assert.Len(t, rows, 8)

	rows = run(t, e, query.KindPreview, query.Params{Limit: 3})
	assert.Len(t, rows, 3)
}

func TestRun_ServesRepeatsFromCache(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))
	p := query.Params{Scenario: "BNZ"}
	first := run(t, e, query.KindLADSum, p)
	second := run(t, e, query.KindLADSum, p)
	assert.ElementsMatch(t, first, second)

	stats := e.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestQuery_NormalizesWideIntegers(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))
	rows, err := e.Query(context.Background(),
		"SELECT SUM(Population) AS pop, CAST(1.25 AS DECIMAL(10,2)) AS d, CAST('x' AS BLOB) AS b FROM cobenefits")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.IsType(t, float64(0), rows[0]["pop"])
	assert.Equal(t, 1.25, rows[0]["d"])
	assert.Equal(t, "x", rows[0]["b"])
}

func TestQuery_Error(t *testing.T) {
	e := newExecutor(t, writeSnapshot(t))
	_, err := e.Query(context.Background(), "SELECT nope FROM cobenefits")
	require.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)
	_, err = New(nil, Options{Snapshot: "x.parquet", Table: "bad name"})
	require.Error(t, err)
}

func TestClose_AllowsFreshInit(t *testing.T) {
	srv := newSnapshotServer(t, writeSnapshot(t))
	e := newExecutor(t, srv.URL)
	_, err := e.Init(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Close())
	assert.False(t, e.Ready())

	_, err = e.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Registrations())
}
