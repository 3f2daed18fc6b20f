// Package geo holds the immutable zone geometry for both granularities and
// decodes it from TopoJSON, GeoJSON and shapefile sources.
package geo

import (
	"maps"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Granularity selects the fine-grained zones or the coarse local authorities.
type Granularity int

// Granularities.
const (
	Fine Granularity = iota
	Coarse
)

// String implements fmt.Stringer.
func (g Granularity) String() string {
	if g == Coarse {
		return "coarse"
	}
	return "fine"
}

// MarshalText renders the granularity for JSON documents.
func (g Granularity) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText accepts fine/lsoa and coarse/lad.
func (g *Granularity) UnmarshalText(b []byte) error {
	v, err := ParseGranularity(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// ParseGranularity accepts fine, lsoa, coarse and lad, case-insensitively.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(s) {
	case "fine", "lsoa", "":
		return Fine, nil
	case "coarse", "lad":
		return Coarse, nil
	}
	return Fine, eris.Errorf("geo: unknown granularity %q", s)
}

// Property fallbacks, tried in order.
var (
	fineCodeKeys   = []string{"DZ2021_cd", "DataZone", "LSOA21CD"}
	coarseCodeKeys = []string{"LAD22CD"}
	fineNameKeys   = []string{"LSOA21NM", "DZ2021_nm", "Name"}
	coarseNameKeys = []string{"LAD22NM"}
)

// CodeKeys returns the properties holding a zone's identifier.
func CodeKeys(g Granularity) []string {
	if g == Coarse {
		return coarseCodeKeys
	}
	return fineCodeKeys
}

// NameKeys returns the properties holding a zone's display name.
func NameKeys(g Granularity) []string {
	if g == Coarse {
		return coarseNameKeys
	}
	return fineNameKeys
}

// Zone is one polygon of a layer. Zones are values; their properties are
// only reachable through copies.
type Zone struct {
	Index    int
	Code     string
	Name     string
	Centroid geom.Coord
	Geometry geom.T
	props    map[string]any
}

// Properties returns a copy of the source properties.
func (z Zone) Properties() map[string]any {
	return maps.Clone(z.props)
}

// Property returns one source property.
func (z Zone) Property(key string) (any, bool) {
	v, ok := z.props[key]
	return v, ok
}

// Feature is a decoded polygon before it is indexed into a layer.
type Feature struct {
	Geometry   geom.T
	Properties map[string]any
}

// Layer is the immutable zone set of one granularity.
type Layer struct {
	granularity Granularity
	zones       []Zone
	byCode      map[string]int
	bounds      *geom.Bounds
}

// NewLayer indexes features. Feature order defines zone indexes.
func NewLayer(g Granularity, features []Feature) *Layer {
	l := &Layer{
		granularity: g,
		zones:       make([]Zone, 0, len(features)),
		byCode:      make(map[string]int, len(features)),
		bounds:      geom.NewBounds(geom.XY),
	}
	for _, f := range features {
		props := maps.Clone(f.Properties)
		if props == nil {
			props = map[string]any{}
		}
		z := Zone{
			Index:    len(l.zones),
			Code:     firstString(props, CodeKeys(g)),
			Name:     firstString(props, NameKeys(g)),
			Geometry: f.Geometry,
			props:    props,
		}
		z.Centroid = centroid(f.Geometry, props)
		if f.Geometry != nil {
			l.bounds.Extend(f.Geometry)
		}
		if z.Code != "" {
			if _, dup := l.byCode[z.Code]; !dup {
				l.byCode[z.Code] = z.Index
			}
		}
		l.zones = append(l.zones, z)
	}
	return l
}

// Granularity returns the layer's granularity.
func (l *Layer) Granularity() Granularity { return l.granularity }

// Len returns the number of zones.
func (l *Layer) Len() int { return len(l.zones) }

// At returns the zone with index i.
func (l *Layer) At(i int) Zone { return l.zones[i] }

// Zones returns the zones in index order.
func (l *Layer) Zones() []Zone { return append([]Zone(nil), l.zones...) }

// Zone looks a zone up by code.
func (l *Layer) Zone(code string) (Zone, bool) {
	i, ok := l.byCode[code]
	if !ok {
		return Zone{}, false
	}
	return l.zones[i], true
}

// Bounds returns the extent of every zone.
func (l *Layer) Bounds() *geom.Bounds { return l.bounds.Clone() }

// ErrLayerMissing is returned when an atlas lacks the requested granularity.
var ErrLayerMissing = eris.New("geo: layer not loaded")

// Atlas carries both layers.
type Atlas struct {
	Fine   *Layer
	Coarse *Layer
}

// Layer returns the layer of granularity g.
func (a *Atlas) Layer(g Granularity) (*Layer, error) {
	l := a.Fine
	if g == Coarse {
		l = a.Coarse
	}
	if l == nil {
		return nil, eris.Wrapf(ErrLayerMissing, "geo: %s layer", g)
	}
	return l, nil
}

func firstString(props map[string]any, keys []string) string {
	for _, k := range keys {
		if s := propString(props[k]); s != "" {
			return s
		}
	}
	return ""
}

func propString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}

func propFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// centroid prefers the published LONG/LAT pair, then the area centroid, then
// the bounding-box center.
func centroid(g geom.T, props map[string]any) geom.Coord {
	lon, okLon := propFloat(props["LONG"])
	lat, okLat := propFloat(props["LAT"])
	if okLon && okLat {
		return geom.Coord{lon, lat}
	}
	if g == nil {
		return nil
	}
	if c, err := xy.Centroid(g); err == nil && len(c) >= 2 {
		return geom.Coord{c[0], c[1]}
	}
	b := g.Bounds()
	if b.IsEmpty() {
		return nil
	}
	return geom.Coord{(b.Min(0) + b.Max(0)) / 2, (b.Min(1) + b.Max(1)) / 2}
}
