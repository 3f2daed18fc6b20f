package choropleth

import (
	"strconv"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/cobenefit-atlas/internal/geo"
	"github.com/sells-group/cobenefit-atlas/internal/query"
)

// ValueProperty is the feature property the fill expression reads.
const ValueProperty = "value"

// Overlay maps zone codes to joined values. It never touches the base
// geometry; features are stamped only when a render set is built.
type Overlay struct {
	values map[string]float64
}

// JoinRows builds an overlay from result rows. A later row for the same zone
// replaces an earlier one; a row without a numeric value leaves the zone
// absent.
func JoinRows(rows []query.Row, zoneKey, dataKey string) Overlay {
	o := Overlay{values: make(map[string]float64, len(rows))}
	for _, r := range rows {
		code := r.String(zoneKey)
		if code == "" {
			continue
		}
		v, ok := r.Float(dataKey)
		if !ok {
			delete(o.values, code)
			continue
		}
		o.values[code] = v
	}
	return o
}

// highlightOverlay gives code the value 1 and every other zone 0.
func highlightOverlay(layer *geo.Layer, code string) Overlay {
	o := Overlay{values: make(map[string]float64, layer.Len())}
	for _, z := range layer.Zones() {
		if z.Code == "" {
			continue
		}
		o.values[z.Code] = 0
		if z.Code == code {
			o.values[z.Code] = 1
		}
	}
	return o
}

// Value returns the joined value of a zone.
func (o Overlay) Value(code string) (float64, bool) {
	v, ok := o.values[code]
	return v, ok
}

// Len returns the number of zones with a value.
func (o Overlay) Len() int { return len(o.values) }

// RenderFeature is one zone retained in the render set.
type RenderFeature struct {
	Zone  geo.Zone
	Value float64
}

// RenderSet joins the overlay onto layer. Absent zones are always dropped;
// zero-valued zones are dropped unless keepZeros is set.
func (o Overlay) RenderSet(layer *geo.Layer, keepZeros bool) []RenderFeature {
	out := make([]RenderFeature, 0, min(layer.Len(), len(o.values)))
	for _, z := range layer.Zones() {
		v, ok := o.values[z.Code]
		if !ok || z.Code == "" {
			continue
		}
		if v == 0 && !keepZeros {
			continue
		}
		out = append(out, RenderFeature{Zone: z, Value: v})
	}
	return out
}

// FeatureID is the renderer id of a zone: its index in the layer.
func FeatureID(z geo.Zone) string { return strconv.Itoa(z.Index) }

// FeatureCollection renders the set as GeoJSON. Every feature gets freshly
// copied properties carrying the stamped value.
func FeatureCollection(set []RenderFeature) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(set))}
	for _, rf := range set {
		props := rf.Zone.Properties()
		props[ValueProperty] = rf.Value
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         FeatureID(rf.Zone),
			Geometry:   rf.Zone.Geometry,
			Properties: props,
		})
	}
	return fc
}
