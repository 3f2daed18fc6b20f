package query

import (
	"github.com/sells-group/cobenefit-atlas/internal/catalog"
)

// Rankings, national aggregates and lookups.
const (
	KindTopLADs          Kind = "top_lads"
	KindHouseholdRanking Kind = "household_ranking"
	KindBenefitBreakdown Kind = "benefit_breakdown"
	KindTotalAggregation Kind = "total_aggregation"
	KindTotalPerPathway  Kind = "total_per_pathway"
	KindTotalPerBenefit  Kind = "total_per_benefit"
	KindDistinct         Kind = "distinct"
	KindLADRegions       Kind = "lad_regions"
	KindZoneCount        Kind = "zone_count"
	KindPreview          Kind = "preview"
	KindSchema           Kind = "schema"
)

// Sort keys accepted by TopLADs and HouseholdRanking.
const (
	SortTotal        = "total"
	SortPerCapita    = "per_capita"
	SortPerHousehold = "per_household"
)

const (
	defaultTopLimit     = 12
	defaultPreviewLimit = 10
	maxLimit            = 10000
)

func init() {
	register(KindTopLADs, wrap(NewTopLADs))
	register(KindHouseholdRanking, wrap(NewHouseholdRanking))
	register(KindBenefitBreakdown, wrap(NewBenefitBreakdown))
	register(KindTotalAggregation, wrap(NewTotalAggregation))
	register(KindTotalPerPathway, wrap(NewTotalPerPathway))
	register(KindTotalPerBenefit, wrap(NewTotalPerBenefit))
	register(KindDistinct, wrap(NewDistinct))
	register(KindLADRegions, wrap(NewLADRegions))
	register(KindZoneCount, wrap(NewZoneCount))
	register(KindPreview, wrap(NewPreview))
	register(KindSchema, wrap(NewSchema))
}

func limitOr(limit, def int) (int, error) {
	switch {
	case limit == 0:
		return def, nil
	case limit < 0 || limit > maxLimit:
		return 0, invalid("limit %d out of range", limit)
	}
	return limit, nil
}

// TopLADs ranks local authorities by total value (thousands) or by value
// per million residents.
type TopLADs struct {
	limit    int
	sortBy   string
	region   catalog.Nation
	scenario catalog.Scenario
}

// NewTopLADs reads Limit (default 12), SortBy, Nation and Scenario.
func NewTopLADs(c *catalog.Catalog, p Params) (TopLADs, error) {
	limit, err := limitOr(p.Limit, defaultTopLimit)
	if err != nil {
		return TopLADs{}, err
	}
	sortBy := p.SortBy
	switch sortBy {
	case "":
		sortBy = SortTotal
	case SortTotal, SortPerCapita:
	default:
		return TopLADs{}, invalid("sort key %q", p.SortBy)
	}
	n, err := c.Nation(p.Nation)
	if err != nil {
		return TopLADs{}, err
	}
	s, err := c.Scenario(p.Scenario)
	if err != nil {
		return TopLADs{}, err
	}
	return TopLADs{limit: limit, sortBy: sortBy, region: n, scenario: s}, nil
}

// Kind implements Spec.
func (TopLADs) Kind() Kind { return KindTopLADs }

// Columns implements Spec.
func (TopLADs) Columns() []string {
	return []string{ColLAD, ColNation, "total_value", "total_population", "value_per_capita"}
}

func (v TopLADs) render(table string) string {
	order := "total_value DESC"
	if v.sortBy == SortPerCapita {
		order = "value_per_capita DESC"
	}
	return selectStmt{
		cols: []string{
			ColLAD,
			ColNation,
			as("SUM("+ColTotal+") / 1000", "total_value"),
			as("SUM("+ColPopulation+")", "total_population"),
			as(perCapita(ColTotal, ColPopulation)+" * 1000000", "value_per_capita"),
		},
		from: table,
		where: []string{
			totalRows(),
			ColPopulation + " IS NOT NULL",
			nationFilter(v.region),
			scenarioFilter(v.scenario),
		},
		groupBy: []string{ColLAD, ColNation},
		orderBy: []string{order},
		limit:   v.limit,
	}.String()
}

// HouseholdRanking ranks local authorities by total value or by value per
// household. A zero limit returns every authority.
type HouseholdRanking struct {
	limit    int
	sortBy   string
	scenario catalog.Scenario
}

// NewHouseholdRanking reads Limit, SortBy and Scenario.
func NewHouseholdRanking(c *catalog.Catalog, p Params) (HouseholdRanking, error) {
	if p.Limit < 0 || p.Limit > maxLimit {
		return HouseholdRanking{}, invalid("limit %d out of range", p.Limit)
	}
	sortBy := p.SortBy
	switch sortBy {
	case "":
		sortBy = SortPerHousehold
	case SortTotal, SortPerHousehold:
	default:
		return HouseholdRanking{}, invalid("sort key %q", p.SortBy)
	}
	s, err := c.Scenario(p.Scenario)
	if err != nil {
		return HouseholdRanking{}, err
	}
	return HouseholdRanking{limit: p.Limit, sortBy: sortBy, scenario: s}, nil
}

// Kind implements Spec.
func (HouseholdRanking) Kind() Kind { return KindHouseholdRanking }

// Columns implements Spec.
func (HouseholdRanking) Columns() []string {
	return []string{ColLAD, "total_value", "total_households", "value_per_household"}
}

func (v HouseholdRanking) render(table string) string {
	order := "value_per_household DESC"
	if v.sortBy == SortTotal {
		order = "total_value DESC"
	}
	return selectStmt{
		cols: []string{
			ColLAD,
			as("SUM("+ColTotal+")", "total_value"),
			as("SUM("+householdsExpr+")", "total_households"),
			as(perCapita(ColTotal, householdsExpr)+" * 1000", "value_per_household"),
		},
		from:    table,
		where:   []string{totalRows(), ColHouseholds + " IS NOT NULL", scenarioFilter(v.scenario)},
		groupBy: []string{ColLAD},
		orderBy: []string{order},
		limit:   v.limit,
	}.String()
}

// BenefitBreakdown totals each category nationally, in thousands and per
// million residents.
type BenefitBreakdown struct {
	scenario catalog.Scenario
	nation   catalog.Nation
}

// NewBenefitBreakdown reads Scenario and Nation.
func NewBenefitBreakdown(c *catalog.Catalog, p Params) (BenefitBreakdown, error) {
	sel, err := newSelection(c, Params{Scenario: p.Scenario, Nation: p.Nation})
	if err != nil {
		return BenefitBreakdown{}, err
	}
	return BenefitBreakdown{scenario: sel.scenario, nation: sel.nation}, nil
}

// Kind implements Spec.
func (BenefitBreakdown) Kind() Kind { return KindBenefitBreakdown }

// Columns implements Spec.
func (BenefitBreakdown) Columns() []string {
	return []string{ColCoBenefit, "total_value", "value_per_capita"}
}

func (v BenefitBreakdown) render(table string) string {
	return selectStmt{
		cols: []string{
			ColCoBenefit,
			as("SUM("+ColTotal+") / 1000", "total_value"),
			as(perCapita(ColTotal, ColPopulation)+" * 1000000", "value_per_capita"),
		},
		from: table,
		where: []string{
			categoryRows(),
			ColPopulation + " IS NOT NULL",
			nationFilter(v.nation),
			scenarioFilter(v.scenario),
		},
		groupBy: []string{ColCoBenefit},
		orderBy: []string{ColCoBenefit},
	}.String()
}

// TotalAggregation is the grand total (thousands) and total per thousand
// residents, nationally or for one local authority. It reads Total rows so
// that population is counted once per zone and scenario.
type TotalAggregation struct {
	lad      string
	scenario catalog.Scenario
}

// NewTotalAggregation reads LAD (optional) and Scenario.
func NewTotalAggregation(c *catalog.Catalog, p Params) (TotalAggregation, error) {
	var v TotalAggregation
	if p.LAD != "" {
		lad, err := catalog.ZoneCode(p.LAD)
		if err != nil {
			return TotalAggregation{}, err
		}
		v.lad = lad
	}
	s, err := c.Scenario(p.Scenario)
	if err != nil {
		return TotalAggregation{}, err
	}
	v.scenario = s
	return v, nil
}

// Kind implements Spec.
func (TotalAggregation) Kind() Kind { return KindTotalAggregation }

// Columns implements Spec.
func (TotalAggregation) Columns() []string {
	return []string{"total_value", "total_value_per_capita"}
}

func (v TotalAggregation) render(table string) string {
	where := []string{totalRows(), ColPopulation + " IS NOT NULL", scenarioFilter(v.scenario)}
	if v.lad != "" {
		where = append(where, equals(ColLAD, v.lad))
	}
	return selectStmt{
		cols: []string{
			as("SUM("+ColTotal+") / 1000", "total_value"),
			as(perCapita(ColTotal, ColPopulation)+" * 1000", "total_value_per_capita"),
		},
		from:  table,
		where: where,
	}.String()
}

// TotalPerPathway lists the Total row of every zone and scenario.
type TotalPerPathway struct{}

// NewTotalPerPathway takes no parameters.
func NewTotalPerPathway(*catalog.Catalog, Params) (TotalPerPathway, error) {
	return TotalPerPathway{}, nil
}

// Kind implements Spec.
func (TotalPerPathway) Kind() Kind { return KindTotalPerPathway }

// Columns implements Spec.
func (TotalPerPathway) Columns() []string {
	return []string{ColTotal, ColScenario, ColZone}
}

func (v TotalPerPathway) render(table string) string {
	return selectStmt{cols: v.Columns(), from: table, where: []string{totalRows()}}.String()
}

// TotalPerBenefit lists the total of every category row.
type TotalPerBenefit struct{}

// NewTotalPerBenefit takes no parameters.
func NewTotalPerBenefit(*catalog.Catalog, Params) (TotalPerBenefit, error) {
	return TotalPerBenefit{}, nil
}

// Kind implements Spec.
func (TotalPerBenefit) Kind() Kind { return KindTotalPerBenefit }

// Columns implements Spec.
func (TotalPerBenefit) Columns() []string {
	return []string{ColTotal, ColCoBenefit}
}

func (v TotalPerBenefit) render(table string) string {
	return selectStmt{cols: v.Columns(), from: table, where: []string{categoryRows()}}.String()
}

// distinctColumns are the columns Distinct may enumerate.
var distinctColumns = map[string]bool{ColLAD: true, ColNation: true, ColHouseholds: true}

// Distinct enumerates the distinct non-null values of LAD, Nation or HH.
type Distinct struct {
	column string
	limit  int
}

// NewDistinct reads Column and Limit.
func NewDistinct(_ *catalog.Catalog, p Params) (Distinct, error) {
	if !distinctColumns[p.Column] {
		return Distinct{}, &catalog.UnknownIDError{Kind: "distinct column", ID: p.Column}
	}
	if p.Limit < 0 || p.Limit > maxLimit {
		return Distinct{}, invalid("limit %d out of range", p.Limit)
	}
	return Distinct{column: p.Column, limit: p.Limit}, nil
}

// Kind implements Spec.
func (Distinct) Kind() Kind { return KindDistinct }

// Columns implements Spec.
func (v Distinct) Columns() []string { return []string{v.column} }

func (v Distinct) render(table string) string {
	return selectStmt{
		distinct: true,
		cols:     []string{v.column},
		from:     table,
		where:    []string{v.column + " IS NOT NULL"},
		orderBy:  []string{v.column},
		limit:    v.limit,
	}.String()
}

// LADRegions maps every local authority to its nation.
type LADRegions struct{}

// NewLADRegions takes no parameters.
func NewLADRegions(*catalog.Catalog, Params) (LADRegions, error) { return LADRegions{}, nil }

// Kind implements Spec.
func (LADRegions) Kind() Kind { return KindLADRegions }

// Columns implements Spec.
func (LADRegions) Columns() []string { return []string{ColLAD, ColNation} }

func (v LADRegions) render(table string) string {
	return selectStmt{
		distinct: true,
		cols:     v.Columns(),
		from:     table,
		where:    []string{ColLAD + " IS NOT NULL", ColNation + " IS NOT NULL"},
		orderBy:  []string{ColLAD},
	}.String()
}

// ZoneCount counts distinct fine-grained zones.
type ZoneCount struct{}

// NewZoneCount takes no parameters.
func NewZoneCount(*catalog.Catalog, Params) (ZoneCount, error) { return ZoneCount{}, nil }

// Kind implements Spec.
func (ZoneCount) Kind() Kind { return KindZoneCount }

// Columns implements Spec.
func (ZoneCount) Columns() []string { return []string{"distinct_lookup_count"} }

func (ZoneCount) render(table string) string {
	return selectStmt{
		cols:  []string{as("COUNT(DISTINCT "+ColZone+")", "distinct_lookup_count")},
		from:  table,
		where: []string{ColZone + " IS NOT NULL"},
	}.String()
}

// Preview returns the first rows of the table unchanged.
type Preview struct{ limit int }

// NewPreview reads Limit (default 10).
func NewPreview(_ *catalog.Catalog, p Params) (Preview, error) {
	limit, err := limitOr(p.Limit, defaultPreviewLimit)
	if err != nil {
		return Preview{}, err
	}
	return Preview{limit: limit}, nil
}

// Kind implements Spec.
func (Preview) Kind() Kind { return KindPreview }

// Columns implements Spec.
func (Preview) Columns() []string { return nil }

func (v Preview) render(table string) string {
	return selectStmt{cols: []string{"*"}, from: table, limit: v.limit}.String()
}

// Schema describes the fact table columns.
type Schema struct{}

// NewSchema takes no parameters.
func NewSchema(*catalog.Catalog, Params) (Schema, error) { return Schema{}, nil }

// Kind implements Spec.
func (Schema) Kind() Kind { return KindSchema }

// Columns implements Spec.
func (Schema) Columns() []string { return []string{"column_name", "data_type"} }

func (Schema) render(table string) string {
	return selectStmt{
		cols:    []string{"column_name", "data_type"},
		from:    "information_schema.columns",
		where:   []string{"table_name = " + literal(table)},
		orderBy: []string{"ordinal_position"},
	}.String()
}

