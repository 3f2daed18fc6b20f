// Package catalog holds the closed enumerations the query layer is allowed to
// interpolate: co-benefits, scenarios, time windows, nations and
// socio-economic factors.
package catalog

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed definitions.yaml
var definitionsYAML []byte

// CoBenefit identifies one co-benefit category, or the Total sentinel.
type CoBenefit string

// Total is the pre-aggregated co-benefit row present once per zone and scenario.
const Total CoBenefit = "Total"

// Scenario identifies one of the retrofit pathways.
type Scenario string

// TimeWindow names a value column of the fact table.
type TimeWindow string

// TotalWindow selects the precomputed total column.
const TotalWindow TimeWindow = "total"

// Nation filters rows by the Nation column. UK disables the filter.
type Nation string

// UK covers every nation.
const UK Nation = "UK"

// Factor identifies a socio-economic factor column.
type Factor string

// FactorKind separates numeric factors from coded categories.
type FactorKind int

// Factor kinds.
const (
	Continuous FactorKind = iota
	Categorical
)

// String implements fmt.Stringer.
func (k FactorKind) String() string {
	if k == Categorical {
		return "categorical"
	}
	return "continuous"
}

// MarshalText renders the kind for JSON responses.
func (k FactorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalYAML decodes "continuous" or "categorical".
func (k *FactorKind) UnmarshalYAML(value *yaml.Node) error {
	switch strings.ToLower(value.Value) {
	case "continuous", "":
		*k = Continuous
	case "categorical":
		*k = Categorical
	default:
		return eris.Errorf("catalog: unknown factor type %q", value.Value)
	}
	return nil
}

// Aggregate is the SQL aggregate used to summarise a factor over a group.
type Aggregate string

// Aggregates.
const (
	Mean Aggregate = "AVG"
	Mode Aggregate = "MODE"
)

// Aggregation maps a factor kind to its group aggregate. Averaging coded
// categories yields meaningless values, so categorical factors use the mode.
func (k FactorKind) Aggregation() Aggregate {
	if k == Categorical {
		return Mode
	}
	return Mean
}

// CoBenefitDef describes a co-benefit category.
type CoBenefitDef struct {
	ID    CoBenefit `yaml:"id" json:"id"`
	Label string    `yaml:"label" json:"label"`
	Def   string    `yaml:"def" json:"def"`
	Color string    `yaml:"color" json:"color"`
	// ArchetypeColumn names the column in the archetype CSVs when it differs
	// from ID.
	ArchetypeColumn string `yaml:"archetype_column" json:"archetype_column,omitempty"`
}

// Column returns the archetype CSV column holding this co-benefit.
func (d CoBenefitDef) Column() string {
	if d.ArchetypeColumn != "" {
		return d.ArchetypeColumn
	}
	return string(d.ID)
}

// ScenarioDef describes a scenario.
type ScenarioDef struct {
	ID    Scenario `yaml:"id" json:"id"`
	Label string   `yaml:"label" json:"label"`
}

// TimeDef describes a time window column.
type TimeDef struct {
	ID    TimeWindow `yaml:"id" json:"id"`
	Label string     `yaml:"label" json:"label"`
}

// FactorDef describes a socio-economic factor.
type FactorDef struct {
	ID      Factor         `yaml:"id" json:"id"`
	Label   string         `yaml:"label" json:"label"`
	Kind    FactorKind     `yaml:"type" json:"type"`
	Units   string         `yaml:"units" json:"units,omitempty"`
	Percent bool           `yaml:"percent" json:"percent"`
	Def     string         `yaml:"def" json:"def"`
	Levels  map[int]string `yaml:"levels" json:"levels,omitempty"`
}

// Catalog is the full set of closed enumerations.
type Catalog struct {
	CoBenefits  []CoBenefitDef `yaml:"co_benefits" json:"co_benefits"`
	Scenarios   []ScenarioDef  `yaml:"scenarios" json:"scenarios"`
	TimeWindows []TimeDef      `yaml:"time_windows" json:"time_windows"`
	Nations     []Nation       `yaml:"nations" json:"nations"`
	Factors     []FactorDef    `yaml:"factors" json:"factors"`

	coBenefits map[CoBenefit]int
	scenarios  map[Scenario]int
	times      map[TimeWindow]int
	nations    map[Nation]int
	factors    map[Factor]int
}

// UnknownIDError reports an identifier outside a closed catalog.
type UnknownIDError struct {
	Kind string
	ID   string
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("catalog: unknown %s %q", e.Kind, e.ID)
}

// Parse decodes a catalog definition document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "catalog: decode definitions")
	}

	c.coBenefits = make(map[CoBenefit]int, len(c.CoBenefits))
	for i, d := range c.CoBenefits {
		if d.ID == Total {
			return nil, eris.New("catalog: Total is reserved")
		}
		if strings.ContainsAny(string(d.ID), `'"\`) {
			return nil, eris.Errorf("catalog: co-benefit id %q contains a quote", d.ID)
		}
		c.coBenefits[d.ID] = i
	}
	c.scenarios = make(map[Scenario]int, len(c.Scenarios))
	for i, d := range c.Scenarios {
		c.scenarios[d.ID] = i
	}
	c.times = make(map[TimeWindow]int, len(c.TimeWindows))
	for i, d := range c.TimeWindows {
		c.times[d.ID] = i
	}
	c.nations = make(map[Nation]int, len(c.Nations))
	for i, n := range c.Nations {
		c.nations[n] = i
	}
	c.factors = make(map[Factor]int, len(c.Factors))
	for i, d := range c.Factors {
		if !identPattern.MatchString(string(d.ID)) {
			return nil, eris.Errorf("catalog: factor id %q is not a plain identifier", d.ID)
		}
		c.factors[d.ID] = i
	}
	for _, d := range c.TimeWindows {
		if !identPattern.MatchString(string(d.ID)) {
			return nil, eris.Errorf("catalog: time window %q is not a plain identifier", d.ID)
		}
	}

	return &c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(definitionsYAML)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// CoBenefit validates a co-benefit id. Total is not a category and is rejected.
func (c *Catalog) CoBenefit(id string) (CoBenefit, error) {
	cb := CoBenefit(id)
	if _, ok := c.coBenefits[cb]; !ok {
		return "", &UnknownIDError{Kind: "co-benefit", ID: id}
	}
	return cb, nil
}

// CoBenefitList validates every id and preserves order.
func (c *Catalog) CoBenefitList(ids []string) ([]CoBenefit, error) {
	out := make([]CoBenefit, 0, len(ids))
	for _, id := range ids {
		cb, err := c.CoBenefit(id)
		if err != nil {
			return nil, err
		}
		out = append(out, cb)
	}
	return out, nil
}

// CoBenefitIDs returns all category ids in catalog order.
func (c *Catalog) CoBenefitIDs() []CoBenefit {
	out := make([]CoBenefit, len(c.CoBenefits))
	for i, d := range c.CoBenefits {
		out[i] = d.ID
	}
	return out
}

// CoBenefitIndex returns the catalog position of a co-benefit, used for
// consistent ordering and coloring.
func (c *Catalog) CoBenefitIndex(id CoBenefit) (int, bool) {
	i, ok := c.coBenefits[id]
	return i, ok
}

// Scenario validates a scenario id. The empty string means "all scenarios".
func (c *Catalog) Scenario(id string) (Scenario, error) {
	if id == "" {
		return "", nil
	}
	s := Scenario(id)
	if _, ok := c.scenarios[s]; !ok {
		return "", &UnknownIDError{Kind: "scenario", ID: id}
	}
	return s, nil
}

// TimeWindow validates a time window id. The empty string and "total" select
// the precomputed total column.
func (c *Catalog) TimeWindow(id string) (TimeWindow, error) {
	if id == "" || id == string(TotalWindow) {
		return TotalWindow, nil
	}
	t := TimeWindow(id)
	if _, ok := c.times[t]; !ok {
		return "", &UnknownIDError{Kind: "time window", ID: id}
	}
	return t, nil
}

// TimeWindowIDs returns the window columns in order, excluding total.
func (c *Catalog) TimeWindowIDs() []TimeWindow {
	out := make([]TimeWindow, len(c.TimeWindows))
	for i, d := range c.TimeWindows {
		out[i] = d.ID
	}
	return out
}

// Nation validates a nation. The empty string, "UK" and "All" disable the filter.
func (c *Catalog) Nation(id string) (Nation, error) {
	if id == "" || id == string(UK) || id == "All" {
		return UK, nil
	}
	n := Nation(id)
	if _, ok := c.nations[n]; !ok {
		return "", &UnknownIDError{Kind: "nation", ID: id}
	}
	return n, nil
}

// Factor validates a socio-economic factor id.
func (c *Catalog) Factor(id string) (FactorDef, error) {
	i, ok := c.factors[Factor(id)]
	if !ok {
		return FactorDef{}, &UnknownIDError{Kind: "factor", ID: id}
	}
	return c.Factors[i], nil
}

// FactorIDs returns all factor ids in catalog order.
func (c *Catalog) FactorIDs() []Factor {
	out := make([]Factor, len(c.Factors))
	for i, d := range c.Factors {
		out[i] = d.ID
	}
	return out
}

// LevelLabel returns the display label of a categorical factor level.
func (d FactorDef) LevelLabel(level int) (string, bool) {
	l, ok := d.Levels[level]
	return l, ok
}

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	codePattern  = regexp.MustCompile(`^[A-Za-z0-9]{1,16}$`)
)

// ZoneCode validates a zone or local-authority code such as E01000001 or
// S12000033. Codes are open-ended, so only their shape is checked.
func ZoneCode(code string) (string, error) {
	if !codePattern.MatchString(code) {
		return "", &UnknownIDError{Kind: "zone code", ID: code}
	}
	return code, nil
}
