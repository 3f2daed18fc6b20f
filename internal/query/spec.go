// Package query builds analytical queries against the co-benefit fact table.
//
// A query is described by a Spec value. Specs can only be obtained through
// constructors that validate every identifier against the closed catalog, so
// rendering never has to escape anything. Compile turns a Spec into DuckDB SQL.
package query

import (
	"encoding/json"
	"regexp"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cobenefit-atlas/internal/catalog"
)

// DefaultTable is the name the snapshot is registered under.
const DefaultTable = "cobenefits"

// Kind names a query variant.
type Kind string

// Spec is a validated query description. The set of implementations is closed.
type Spec interface {
	Kind() Kind
	// Columns lists the result columns the caller may rely on. Nil means the
	// shape is not fixed (previews).
	Columns() []string
	render(table string) string
}

// Params carries every parameter any variant accepts. Each constructor reads
// the subset it needs.
type Params struct {
	CoBenefits   []string `json:"co_benefits,omitempty"`
	CoBenefit    string   `json:"co_benefit,omitempty"`
	Scenario     string   `json:"scenario,omitempty"`
	Time         string   `json:"time,omitempty"`
	Nation       string   `json:"nation,omitempty"`
	Factor       string   `json:"factor,omitempty"`
	Zone         string   `json:"zone,omitempty"`
	LAD          string   `json:"lad,omitempty"`
	PerCoBenefit bool     `json:"per_co_benefit,omitempty"`
	ByLAD        bool     `json:"by_lad,omitempty"`
	Column       string   `json:"column,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	SortBy       string   `json:"sort_by,omitempty"`
}

// ErrInvalidParams is wrapped by constructors on structurally bad parameters.
var ErrInvalidParams = eris.New("query: invalid parameters")

var tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Compiler renders specs against a named table.
type Compiler struct {
	table string
}

// NewCompiler returns a compiler for the given table name.
func NewCompiler(table string) (Compiler, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tablePattern.MatchString(table) {
		return Compiler{}, eris.Wrapf(ErrInvalidParams, "table name %q", table)
	}
	return Compiler{table: table}, nil
}

// Table returns the target table name.
func (c Compiler) Table() string {
	if c.table == "" {
		return DefaultTable
	}
	return c.table
}

// Compile renders a spec to SQL.
func (c Compiler) Compile(s Spec) string {
	return s.render(c.Table())
}

// Compile renders a spec against DefaultTable.
func Compile(s Spec) string {
	return s.render(DefaultTable)
}

// Constructor builds a spec from parameters.
type Constructor func(c *catalog.Catalog, p Params) (Spec, error)

var registry = map[Kind]Constructor{}

func register(k Kind, fn Constructor) {
	registry[k] = fn
}

func wrap[S Spec](fn func(*catalog.Catalog, Params) (S, error)) Constructor {
	return func(c *catalog.Catalog, p Params) (Spec, error) {
		s, err := fn(c, p)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Kinds returns the registered variant names in sorted order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Build constructs a spec of the named kind.
func Build(c *catalog.Catalog, kind Kind, p Params) (Spec, error) {
	fn, ok := registry[kind]
	if !ok {
		return nil, &catalog.UnknownIDError{Kind: "query kind", ID: string(kind)}
	}
	return fn(c, p)
}

// Decode constructs a spec from a JSON parameter object.
func Decode(c *catalog.Catalog, kind Kind, raw json.RawMessage) (Spec, error) {
	var p Params
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, eris.Wrap(ErrInvalidParams, err.Error())
		}
	}
	return Build(c, kind, p)
}

// selection is the validated filter shared by the value views.
type selection struct {
	coBenefits []catalog.CoBenefit
	scenario   catalog.Scenario
	time       catalog.TimeWindow
	nation     catalog.Nation
}

func newSelection(c *catalog.Catalog, p Params) (selection, error) {
	var (
		sel selection
		err error
	)
	if sel.coBenefits, err = c.CoBenefitList(p.CoBenefits); err != nil {
		return sel, err
	}
	if sel.scenario, err = c.Scenario(p.Scenario); err != nil {
		return sel, err
	}
	if sel.time, err = c.TimeWindow(p.Time); err != nil {
		return sel, err
	}
	if sel.nation, err = c.Nation(p.Nation); err != nil {
		return sel, err
	}
	return sel, nil
}

// zoneSource yields one row per zone and scenario carrying a value and a
// population. Total rows are read as-is; category rows are summed per zone
// first so that population is counted once per zone.
type zoneSource struct {
	from  string
	where []string
	value string
	pop   string
}

func (sel selection) source(table string) zoneSource {
	if len(sel.coBenefits) == 0 {
		return zoneSource{
			from:  table,
			where: []string{selectionFilter(nil), nationFilter(sel.nation), scenarioFilter(sel.scenario)},
			value: timeColumn(sel.time),
			pop:   ColPopulation,
		}
	}

	inner := selectStmt{
		cols: []string{
			ColZone, ColLAD, ColNation, ColScenario,
			as("SUM("+timeColumn(sel.time)+")", "val"),
			as("MAX("+ColPopulation+")", ColPopulation),
		},
		from:    table,
		where:   []string{selectionFilter(sel.coBenefits), nationFilter(sel.nation), scenarioFilter(sel.scenario)},
		groupBy: []string{ColZone, ColLAD, ColNation, ColScenario},
	}
	return zoneSource{
		from:  "(" + inner.String() + ") AS zones",
		value: "val",
		pop:   ColPopulation,
	}
}

func invalid(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidParams, format, args...)
}
