package query

import (
	"fmt"
	"strings"

	"github.com/sells-group/cobenefit-atlas/internal/catalog"
)

// Fact table columns.
const (
	ColZone       = "Lookup_Value"
	ColLAD        = "LAD"
	ColNation     = "Nation"
	ColScenario   = "scenario"
	ColCoBenefit  = "co_benefit_type"
	ColPopulation = "Population"
	ColHouseholds = "HH"
	ColTotal      = "total"
)

// householdsExpr parses the households column, which some snapshots store as
// text with a trailing bigint marker.
const householdsExpr = `TRY_CAST(REPLACE(CAST(HH AS TEXT), 'n', '') AS DOUBLE)`

// selectStmt is the single statement shape every spec renders to.
type selectStmt struct {
	distinct bool
	cols     []string
	from     string
	where    []string
	groupBy  []string
	orderBy  []string
	limit    int
}

func (s selectStmt) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(s.cols, ", "))
	b.WriteString("\nFROM ")
	b.WriteString(s.from)

	var where []string
	for _, w := range s.where {
		if w != "" {
			where = append(where, w)
		}
	}
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, "\n  AND "))
	}
	if len(s.groupBy) > 0 {
		b.WriteString("\nGROUP BY ")
		b.WriteString(strings.Join(s.groupBy, ", "))
	}
	if len(s.orderBy) > 0 {
		b.WriteString("\nORDER BY ")
		b.WriteString(strings.Join(s.orderBy, ", "))
	}
	if s.limit > 0 {
		fmt.Fprintf(&b, "\nLIMIT %d", s.limit)
	}
	return b.String()
}

// unionAll joins statements with UNION ALL.
func unionAll(stmts []selectStmt) string {
	parts := make([]string, len(stmts))
	for i, s := range stmts {
		parts[i] = s.String()
	}
	return strings.Join(parts, "\nUNION ALL\n")
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func literal(s string) string {
	return "'" + s + "'"
}

func as(expr, alias string) string {
	return expr + " AS " + alias
}

// timeColumn renders a value column. Window names start with a letter but are
// quoted anyway so the same path serves "total".
func timeColumn(t catalog.TimeWindow) string {
	return quoteIdent(string(t))
}

// selectionFilter picks the precomputed Total rows for an empty list and the
// listed category rows otherwise.
func selectionFilter(cbs []catalog.CoBenefit) string {
	if len(cbs) == 0 {
		return ColCoBenefit + " = " + literal(string(catalog.Total))
	}
	lits := make([]string, len(cbs))
	for i, cb := range cbs {
		lits[i] = literal(string(cb))
	}
	return ColCoBenefit + " IN (" + strings.Join(lits, ", ") + ")"
}

func totalRows() string {
	return ColCoBenefit + " = " + literal(string(catalog.Total))
}

func categoryRows() string {
	return ColCoBenefit + " != " + literal(string(catalog.Total))
}

func coBenefitIs(cb catalog.CoBenefit) string {
	return ColCoBenefit + " = " + literal(string(cb))
}

func nationFilter(n catalog.Nation) string {
	if n == "" || n == catalog.UK {
		return ""
	}
	return ColNation + " = " + literal(string(n))
}

func scenarioFilter(s catalog.Scenario) string {
	if s == "" {
		return ""
	}
	return ColScenario + " = " + literal(string(s))
}

func equals(col, value string) string {
	return col + " = " + literal(value)
}

// factorValue renders a factor column, scaling stored fractions to percent.
func factorValue(f catalog.FactorDef) string {
	if f.Percent {
		return "(" + string(f.ID) + " * 100)"
	}
	return string(f.ID)
}

// factorAggregate summarises a factor over a group according to its kind.
func factorAggregate(f catalog.FactorDef) string {
	switch f.Kind.Aggregation() {
	case catalog.Mode:
		return "MODE() WITHIN GROUP (ORDER BY " + string(f.ID) + ")"
	default:
		return "AVG(" + factorValue(f) + ")"
	}
}

// perCapita divides aggregated sums. Averaging per-zone ratios would weight
// small zones as heavily as large ones.
func perCapita(value, population string) string {
	return "SUM(" + value + ") / SUM(" + population + ")"
}

func factorColumns(c *catalog.Catalog) []string {
	ids := c.FactorIDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func timeColumns(c *catalog.Catalog) []string {
	ids := c.TimeWindowIDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = timeColumn(id)
	}
	return out
}

func timeNames(c *catalog.Catalog) []string {
	ids := c.TimeWindowIDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
