package query

import (
	"github.com/sells-group/cobenefit-atlas/internal/catalog"
)

// Value views over the co-benefit selection.
const (
	KindZoneValues        Kind = "zone_values"
	KindLADAverage        Kind = "lad_average"
	KindLADSum            Kind = "lad_sum"
	KindLADSumByCoBenefit Kind = "lad_sum_by_co_benefit"
	KindNationSum         Kind = "nation_sum"
)

func init() {
	register(KindZoneValues, wrap(NewZoneValues))
	register(KindLADAverage, wrap(NewLADAverage))
	register(KindLADSum, wrap(NewLADSum))
	register(KindLADSumByCoBenefit, wrap(NewLADSumByCoBenefit))
	register(KindNationSum, wrap(NewNationSum))
}

// ZoneValues returns the selected value and its per-capita ratio for every
// fine-grained zone.
type ZoneValues struct{ sel selection }

// NewZoneValues reads CoBenefits, Scenario, Time and Nation.
func NewZoneValues(c *catalog.Catalog, p Params) (ZoneValues, error) {
	sel, err := newSelection(c, p)
	return ZoneValues{sel: sel}, err
}

// Kind implements Spec.
func (ZoneValues) Kind() Kind { return KindZoneValues }

// Columns implements Spec.
func (ZoneValues) Columns() []string {
	return []string{"val", "value_per_capita", ColScenario, ColZone}
}

func (v ZoneValues) render(table string) string {
	src := v.sel.source(table)
	return selectStmt{
		cols: []string{
			as(src.value, "val"),
			as(src.value+" / "+src.pop, "value_per_capita"),
			ColScenario,
			ColZone,
		},
		from:  src.from,
		where: src.where,
	}.String()
}

// LADAverage averages per-zone values over each local authority.
type LADAverage struct{ sel selection }

// NewLADAverage reads CoBenefits, Scenario, Time and Nation.
func NewLADAverage(c *catalog.Catalog, p Params) (LADAverage, error) {
	sel, err := newSelection(c, p)
	return LADAverage{sel: sel}, err
}

// Kind implements Spec.
func (LADAverage) Kind() Kind { return KindLADAverage }

// Columns implements Spec.
func (LADAverage) Columns() []string {
	return []string{ColScenario, "val", ColZone}
}

func (v LADAverage) render(table string) string {
	src := v.sel.source(table)
	return selectStmt{
		cols: []string{
			ColScenario,
			as("AVG("+src.value+")", "val"),
			as(ColLAD, ColZone),
		},
		from:    src.from,
		where:   src.where,
		groupBy: []string{ColLAD, ColScenario},
	}.String()
}

// LADSum sums values over each local authority.
type LADSum struct{ sel selection }

// NewLADSum reads CoBenefits, Scenario, Time and Nation.
func NewLADSum(c *catalog.Catalog, p Params) (LADSum, error) {
	sel, err := newSelection(c, p)
	return LADSum{sel: sel}, err
}

// Kind implements Spec.
func (LADSum) Kind() Kind { return KindLADSum }

// Columns implements Spec.
func (LADSum) Columns() []string {
	return []string{ColScenario, "val", "value_per_capita", ColZone}
}

func (v LADSum) render(table string) string {
	src := v.sel.source(table)
	return selectStmt{
		cols: []string{
			ColScenario,
			as("SUM("+src.value+")", "val"),
			as(perCapita(src.value, src.pop), "value_per_capita"),
			as(ColLAD, ColZone),
		},
		from:    src.from,
		where:   src.where,
		groupBy: []string{ColLAD, ColScenario},
	}.String()
}

// NationSum sums values over every zone matching the nation filter, one row
// per scenario. Re-summing LADSum over all authorities yields the same value.
type NationSum struct{ sel selection }

// NewNationSum reads CoBenefits, Scenario, Time and Nation.
func NewNationSum(c *catalog.Catalog, p Params) (NationSum, error) {
	sel, err := newSelection(c, p)
	return NationSum{sel: sel}, err
}

// Kind implements Spec.
func (NationSum) Kind() Kind { return KindNationSum }

// Columns implements Spec.
func (NationSum) Columns() []string {
	return []string{ColScenario, "val", "value_per_capita"}
}

func (v NationSum) render(table string) string {
	src := v.sel.source(table)
	return selectStmt{
		cols: []string{
			ColScenario,
			as("SUM("+src.value+")", "val"),
			as(perCapita(src.value, src.pop), "value_per_capita"),
		},
		from:    src.from,
		where:   src.where,
		groupBy: []string{ColScenario},
		orderBy: []string{ColScenario},
	}.String()
}

// LADSumByCoBenefit sums every category separately for each local authority.
type LADSumByCoBenefit struct {
	all      []catalog.CoBenefit
	time     catalog.TimeWindow
	nation   catalog.Nation
	scenario catalog.Scenario
}

// NewLADSumByCoBenefit reads Time, Nation and Scenario.
func NewLADSumByCoBenefit(c *catalog.Catalog, p Params) (LADSumByCoBenefit, error) {
	sel, err := newSelection(c, Params{Scenario: p.Scenario, Time: p.Time, Nation: p.Nation})
	if err != nil {
		return LADSumByCoBenefit{}, err
	}
	return LADSumByCoBenefit{
		all:      c.CoBenefitIDs(),
		time:     sel.time,
		nation:   sel.nation,
		scenario: sel.scenario,
	}, nil
}

// Kind implements Spec.
func (LADSumByCoBenefit) Kind() Kind { return KindLADSumByCoBenefit }

// Columns implements Spec.
func (LADSumByCoBenefit) Columns() []string {
	return []string{"val", ColZone, ColCoBenefit}
}

func (v LADSumByCoBenefit) render(table string) string {
	return selectStmt{
		cols: []string{
			as("SUM("+timeColumn(v.time)+")", "val"),
			as(ColLAD, ColZone),
			ColCoBenefit,
		},
		from:    table,
		where:   []string{selectionFilter(v.all), nationFilter(v.nation), scenarioFilter(v.scenario)},
		groupBy: []string{ColLAD, ColCoBenefit},
	}.String()
}
