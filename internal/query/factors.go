package query

import (
	"github.com/sells-group/cobenefit-atlas/internal/catalog"
)

// Socio-economic factor views.
const (
	KindFactorValues Kind = "factor_values"
	KindFactorByLAD  Kind = "factor_by_lad"
	KindFactorFacets Kind = "factor_facets"
)

func init() {
	register(KindFactorValues, wrap(NewFactorValues))
	register(KindFactorByLAD, wrap(NewFactorByLAD))
	register(KindFactorFacets, wrap(NewFactorFacets))
}

// FactorValues pairs a factor with the zone total, per zone. With
// PerCoBenefit set it returns one row per category instead of the Total row.
type FactorValues struct {
	factor       catalog.FactorDef
	scenario     catalog.Scenario
	perCoBenefit bool
}

// NewFactorValues reads Factor, Scenario and PerCoBenefit.
func NewFactorValues(c *catalog.Catalog, p Params) (FactorValues, error) {
	f, err := c.Factor(p.Factor)
	if err != nil {
		return FactorValues{}, err
	}
	s, err := c.Scenario(p.Scenario)
	if err != nil {
		return FactorValues{}, err
	}
	return FactorValues{factor: f, scenario: s, perCoBenefit: p.PerCoBenefit}, nil
}

// Kind implements Spec.
func (FactorValues) Kind() Kind { return KindFactorValues }

// Columns implements Spec.
func (v FactorValues) Columns() []string {
	cols := []string{"val", ColTotal, "total_per_capita", ColZone, ColScenario}
	if v.perCoBenefit {
		cols = append(cols, ColCoBenefit)
	}
	return cols
}

func (v FactorValues) render(table string) string {
	s := selectStmt{
		cols: []string{
			as(factorValue(v.factor), "val"),
			ColTotal,
			as(ColTotal+" / "+ColPopulation, "total_per_capita"),
			ColZone,
			ColScenario,
		},
		from:  table,
		where: []string{totalRows(), scenarioFilter(v.scenario)},
	}
	if v.perCoBenefit {
		s.cols = append(s.cols, ColCoBenefit)
		s.where[0] = categoryRows()
	}
	return s.String()
}

// FactorByLAD summarises a factor over each local authority: mean for
// continuous factors, mode for categorical ones.
type FactorByLAD struct {
	factor       catalog.FactorDef
	scenario     catalog.Scenario
	perCoBenefit bool
}

// NewFactorByLAD reads Factor, Scenario and PerCoBenefit.
func NewFactorByLAD(c *catalog.Catalog, p Params) (FactorByLAD, error) {
	fv, err := NewFactorValues(c, p)
	if err != nil {
		return FactorByLAD{}, err
	}
	return FactorByLAD(fv), nil
}

// Kind implements Spec.
func (FactorByLAD) Kind() Kind { return KindFactorByLAD }

// Columns implements Spec.
func (v FactorByLAD) Columns() []string {
	return FactorValues(v).Columns()
}

func (v FactorByLAD) render(table string) string {
	s := selectStmt{
		cols: []string{
			as(factorAggregate(v.factor), "val"),
			as("AVG("+ColTotal+")", ColTotal),
			as(perCapita(ColTotal, ColPopulation), "total_per_capita"),
			as(ColLAD, ColZone),
			ColScenario,
		},
		from:    table,
		where:   []string{totalRows(), scenarioFilter(v.scenario)},
		groupBy: []string{ColLAD, ColScenario},
	}
	if v.perCoBenefit {
		s.cols = append(s.cols, ColCoBenefit)
		s.where[0] = categoryRows()
		s.groupBy = append(s.groupBy, ColCoBenefit)
	}
	return s.String()
}

// FactorFacets stacks every factor against one co-benefit for faceted charts.
// With ByLAD set the totals are per household and averaged by authority.
type FactorFacets struct {
	factors   []catalog.FactorDef
	coBenefit catalog.CoBenefit
	scenario  catalog.Scenario
	byLAD     bool
}

// NewFactorFacets reads CoBenefit, Scenario and ByLAD.
func NewFactorFacets(c *catalog.Catalog, p Params) (FactorFacets, error) {
	cb, err := c.CoBenefit(p.CoBenefit)
	if err != nil {
		return FactorFacets{}, err
	}
	s, err := c.Scenario(p.Scenario)
	if err != nil {
		return FactorFacets{}, err
	}
	return FactorFacets{factors: c.Factors, coBenefit: cb, scenario: s, byLAD: p.ByLAD}, nil
}

// Kind implements Spec.
func (FactorFacets) Kind() Kind { return KindFactorFacets }

// Columns implements Spec.
func (v FactorFacets) Columns() []string {
	if v.byLAD {
		return []string{ColTotal, ColLAD, "SE", "factor"}
	}
	return []string{ColTotal, ColZone, ColLAD, "SE", "factor"}
}

func (v FactorFacets) render(table string) string {
	stmts := make([]selectStmt, 0, len(v.factors))
	for _, f := range v.factors {
		where := []string{coBenefitIs(v.coBenefit), scenarioFilter(v.scenario)}
		if v.byLAD {
			stmts = append(stmts, selectStmt{
				cols: []string{
					as("AVG("+ColTotal+" / NULLIF("+householdsExpr+", 0))", ColTotal),
					ColLAD,
					as(factorAggregate(f), "SE"),
					as(literal(string(f.ID)), "factor"),
				},
				from:    table,
				where:   where,
				groupBy: []string{ColLAD},
			})
			continue
		}
		stmts = append(stmts, selectStmt{
			cols: []string{
				ColTotal,
				ColZone,
				ColLAD,
				as(factorValue(f), "SE"),
				as(literal(string(f.ID)), "factor"),
			},
			from:  table,
			where: where,
		})
	}
	return unionAll(stmts)
}
