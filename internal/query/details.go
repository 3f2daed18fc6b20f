package query

import (
	"github.com/sells-group/cobenefit-atlas/internal/catalog"
)

// Row-level views for detail pages and downloads.
const (
	KindZoneTotals    Kind = "zone_totals"
	KindAreaDetail    Kind = "area_detail"
	KindCoBenefitRows Kind = "co_benefit_rows"
	KindAllZones      Kind = "all_zones"
)

func init() {
	register(KindZoneTotals, wrap(NewZoneTotals))
	register(KindAreaDetail, wrap(NewAreaDetail))
	register(KindCoBenefitRows, wrap(NewCoBenefitRows))
	register(KindAllZones, wrap(NewAllZones))
}

// ZoneTotals lists every row of one fine-grained zone.
type ZoneTotals struct {
	zone string
}

// NewZoneTotals reads Zone.
func NewZoneTotals(_ *catalog.Catalog, p Params) (ZoneTotals, error) {
	z, err := catalog.ZoneCode(p.Zone)
	if err != nil {
		return ZoneTotals{}, err
	}
	return ZoneTotals{zone: z}, nil
}

// Kind implements Spec.
func (ZoneTotals) Kind() Kind { return KindZoneTotals }

// Columns implements Spec.
func (ZoneTotals) Columns() []string {
	return []string{ColTotal, ColZone, ColScenario, ColCoBenefit}
}

func (v ZoneTotals) render(table string) string {
	return selectStmt{
		cols:  ZoneTotals{}.Columns(),
		from:  table,
		where: []string{equals(ColZone, v.zone)},
	}.String()
}

// AreaDetail lists the zones of one local authority or one nation with their
// time windows and factors. PerCoBenefit switches from Total rows to category rows.
type AreaDetail struct {
	lad          string
	nation       catalog.Nation
	perCoBenefit bool
	factors      []string
	times        []string
	timeNames    []string
}

// NewAreaDetail reads exactly one of LAD or Nation, plus PerCoBenefit.
func NewAreaDetail(c *catalog.Catalog, p Params) (AreaDetail, error) {
	v := AreaDetail{
		perCoBenefit: p.PerCoBenefit,
		factors:      factorColumns(c),
		times:        timeColumns(c),
		timeNames:    timeNames(c),
	}
	switch {
	case p.LAD != "" && p.Nation != "":
		return AreaDetail{}, invalid("area detail takes a LAD or a nation, not both")
	case p.LAD != "":
		lad, err := catalog.ZoneCode(p.LAD)
		if err != nil {
			return AreaDetail{}, err
		}
		v.lad = lad
	case p.Nation != "":
		n, err := c.Nation(p.Nation)
		if err != nil {
			return AreaDetail{}, err
		}
		if n == catalog.UK {
			return AreaDetail{}, invalid("area detail needs a single nation")
		}
		v.nation = n
	default:
		return AreaDetail{}, invalid("area detail needs a LAD or a nation")
	}
	return v, nil
}

// Kind implements Spec.
func (AreaDetail) Kind() Kind { return KindAreaDetail }

// Columns implements Spec.
func (v AreaDetail) Columns() []string {
	cols := []string{ColTotal, "total_per_capita", ColZone, ColCoBenefit, ColLAD, ColNation, ColScenario}
	cols = append(cols, v.timeNames...)
	return append(cols, v.factors...)
}

func (v AreaDetail) render(table string) string {
	cols := []string{
		ColTotal,
		as(ColTotal+" / "+ColPopulation, "total_per_capita"),
		ColZone, ColCoBenefit, ColLAD, ColNation, ColScenario,
	}
	cols = append(cols, v.times...)
	cols = append(cols, v.factors...)

	area := equals(ColLAD, v.lad)
	if v.nation != "" {
		area = nationFilter(v.nation)
	}
	rows := totalRows()
	if v.perCoBenefit {
		rows = categoryRows()
	}
	return selectStmt{cols: cols, from: table, where: []string{area, rows}}.String()
}

// CoBenefitRows lists every zone row of one co-benefit category.
type CoBenefitRows struct {
	coBenefit catalog.CoBenefit
	scenario  catalog.Scenario
	factors   []string
	times     []string
	timeNames []string
}

// NewCoBenefitRows reads CoBenefit and Scenario.
func NewCoBenefitRows(c *catalog.Catalog, p Params) (CoBenefitRows, error) {
	cb, err := c.CoBenefit(p.CoBenefit)
	if err != nil {
		return CoBenefitRows{}, err
	}
	s, err := c.Scenario(p.Scenario)
	if err != nil {
		return CoBenefitRows{}, err
	}
	return CoBenefitRows{
		coBenefit: cb,
		scenario:  s,
		factors:   factorColumns(c),
		times:     timeColumns(c),
		timeNames: timeNames(c),
	}, nil
}

// Kind implements Spec.
func (CoBenefitRows) Kind() Kind { return KindCoBenefitRows }

// Columns implements Spec.
func (v CoBenefitRows) Columns() []string {
	cols := []string{ColTotal, ColZone, ColScenario, ColCoBenefit, ColLAD}
	cols = append(cols, v.factors...)
	return append(cols, v.timeNames...)
}

func (v CoBenefitRows) render(table string) string {
	cols := []string{ColTotal, ColZone, ColScenario, ColCoBenefit, ColLAD}
	cols = append(cols, v.factors...)
	cols = append(cols, v.times...)
	return selectStmt{
		cols:  cols,
		from:  table,
		where: []string{coBenefitIs(v.coBenefit), scenarioFilter(v.scenario)},
	}.String()
}

// AllZones lists one row per zone and scenario (or per category with
// PerCoBenefit), optionally restricted to a nation.
type AllZones struct {
	nation       catalog.Nation
	perCoBenefit bool
	factors      []string
	times        []string
	timeNames    []string
}

// NewAllZones reads Nation and PerCoBenefit.
func NewAllZones(c *catalog.Catalog, p Params) (AllZones, error) {
	n, err := c.Nation(p.Nation)
	if err != nil {
		return AllZones{}, err
	}
	return AllZones{
		nation:       n,
		perCoBenefit: p.PerCoBenefit,
		factors:      factorColumns(c),
		times:        timeColumns(c),
		timeNames:    timeNames(c),
	}, nil
}

// Kind implements Spec.
func (AllZones) Kind() Kind { return KindAllZones }

// Columns implements Spec.
func (v AllZones) Columns() []string {
	cols := []string{ColTotal, ColZone, ColScenario, ColCoBenefit, ColLAD, "Households"}
	cols = append(cols, v.factors...)
	return append(cols, v.timeNames...)
}

func (v AllZones) render(table string) string {
	cols := []string{ColTotal, ColZone, ColScenario, ColCoBenefit, ColLAD, as(ColHouseholds, "Households")}
	cols = append(cols, v.factors...)
	cols = append(cols, v.times...)
	rows := totalRows()
	if v.perCoBenefit {
		rows = categoryRows()
	}
	return selectStmt{
		cols:  cols,
		from:  table,
		where: []string{rows, nationFilter(v.nation)},
	}.String()
}
