// Package archetype loads the archetype measures and the per-scenario
// co-benefit tables, joins them by zone code and flattens them into
// per-co-benefit cost records. It reads CSV files directly and never touches
// the analytical engine.
package archetype

import (
	"context"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cobenefit-atlas/internal/catalog"
	"github.com/sells-group/cobenefit-atlas/internal/fetcher"
)

// ZoneColumn holds the zone code in every joined record. The scenario tables
// leave this column unnamed.
const ZoneColumn = "LSOA.DZ.CD"

// ScenarioColumn tags each scenario row with its 1-based scenario number.
const ScenarioColumn = "scenario"

// Default locations, relative to the dataset base.
const DefaultMeasuresPath = "UK_Archetypes_global_measures.csv"

// DefaultScenarioPaths lists the scenario tables in scenario order.
var DefaultScenarioPaths = []string{
	"coBenefits/S1_BNZ.csv",
	"coBenefits/S2_WI.csv",
	"coBenefits/S3_WE.csv",
	"coBenefits/S4_TW.csv",
	"coBenefits/S5_HW.csv",
}

// Record is one CSV row keyed by column name.
type Record map[string]string

// Cost is one co-benefit value of one zone under one scenario.
type Cost struct {
	CoBenefit catalog.CoBenefit `json:"coBenefit"`
	Cost      float64           `json:"cost"`
	Scenario  string            `json:"scenario"`
}

// Options configures a Loader.
type Options struct {
	BaseURL       string
	MeasuresPath  string
	ScenarioPaths []string
}

// Loader reads the archetype CSVs through a fetcher.
type Loader struct {
	fetcher fetcher.Fetcher
	catalog *catalog.Catalog
	opts    Options
}

// NewLoader creates a Loader. Empty paths take the defaults.
func NewLoader(f fetcher.Fetcher, cat *catalog.Catalog, opts Options) *Loader {
	if opts.MeasuresPath == "" {
		opts.MeasuresPath = DefaultMeasuresPath
	}
	if len(opts.ScenarioPaths) == 0 {
		opts.ScenarioPaths = DefaultScenarioPaths
	}
	if cat == nil {
		cat = catalog.Default()
	}
	return &Loader{fetcher: f, catalog: cat, opts: opts}
}

// Dataset is the joined archetype data.
type Dataset struct {
	// Measures holds the global measures by zone code.
	Measures map[string]Record
	// Rows holds every scenario row, in scenario order, with its zone's
	// measures merged in.
	Rows []Record
}

// Load reads the measures and every scenario table concurrently and joins
// them.
func (l *Loader) Load(ctx context.Context) (*Dataset, error) {
	start := time.Now()
	var measures []Record
	scenarios := make([][]Record, len(l.opts.ScenarioPaths))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := l.read(gCtx, l.opts.MeasuresPath, "")
		if err != nil {
			return err
		}
		measures = recs
		return nil
	})
	for i, p := range l.opts.ScenarioPaths {
		g.Go(func() error {
			recs, err := l.read(gCtx, p, ZoneColumn)
			if err != nil {
				return err
			}
			tag := strconv.Itoa(i + 1)
			for _, r := range recs {
				r[ScenarioColumn] = tag
			}
			scenarios[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byZone := IndexByZone(measures)
	var rows []Record
	for _, recs := range scenarios {
		rows = append(rows, Join(recs, byZone)...)
	}

	zap.L().Info("archetype: loaded",
		zap.Int("measures", len(byZone)),
		zap.Int("scenarios", len(scenarios)),
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Dataset{Measures: byZone, Rows: rows}, nil
}

func (l *Loader) read(ctx context.Context, p, emptyHeader string) ([]Record, error) {
	location := fetcher.Resolve(l.opts.BaseURL, p)
	rc, err := l.fetcher.Open(ctx, location)
	if err != nil {
		return nil, eris.Wrapf(err, "archetype: fetch %s", location)
	}
	defer rc.Close() //nolint:errcheck

	recs, err := fetcher.ReadCSV(ctx, rc, fetcher.CSVOptions{TrimSpace: true, EmptyHeader: emptyHeader})
	if err != nil {
		return nil, eris.Wrapf(err, "archetype: parse %s", location)
	}
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = Record(r.Fields)
	}
	return out, nil
}

// IndexByZone keys records by their zone code. The first record of a zone
// wins; records without a code are dropped.
func IndexByZone(recs []Record) map[string]Record {
	out := make(map[string]Record, len(recs))
	for _, r := range recs {
		code := strings.TrimSpace(r[ZoneColumn])
		if code == "" {
			continue
		}
		if _, ok := out[code]; !ok {
			out[code] = r
		}
	}
	return out
}

// Join merges each row with its zone's measures. Every row is kept; row
// fields win over measure fields of the same name. Inputs are not modified.
func Join(rows []Record, measures map[string]Record) []Record {
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		m := measures[strings.TrimSpace(r[ZoneColumn])]
		merged := make(Record, len(r)+len(m))
		maps.Copy(merged, m)
		maps.Copy(merged, r)
		out = append(out, merged)
	}
	return out
}

// PerCoBenefit flattens every row into one cost per catalog co-benefit,
// reading each from its archetype column. Missing or non-numeric cells are
// skipped.
func (d *Dataset) PerCoBenefit(cat *catalog.Catalog) []Cost {
	defs := cat.CoBenefits
	out := make([]Cost, 0, len(d.Rows)*len(defs))
	skipped := 0
	for _, r := range d.Rows {
		for _, def := range defs {
			raw, ok := r[def.Column()]
			if !ok {
				skipped++
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				skipped++
				continue
			}
			out = append(out, Cost{CoBenefit: def.ID, Cost: v, Scenario: r[ScenarioColumn]})
		}
	}
	if skipped > 0 {
		zap.L().Debug("archetype: skipped empty co-benefit cells", zap.Int("skipped", skipped))
	}
	return out
}

// Scenario returns the rows of one scenario number.
func (d *Dataset) Scenario(n int) []Record {
	tag := strconv.Itoa(n)
	var out []Record
	for _, r := range d.Rows {
		if r[ScenarioColumn] == tag {
			out = append(out, r)
		}
	}
	return out
}

// LoadCosts loads the dataset and flattens it against the loader's catalog.
func (l *Loader) LoadCosts(ctx context.Context) ([]Cost, error) {
	ds, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return ds.PerCoBenefit(l.catalog), nil
}
