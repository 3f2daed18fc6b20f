package geo

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// DecodeGeoJSON reads a FeatureCollection as a layer. Features that are not
// polygons are skipped.
func DecodeGeoJSON(r io.Reader, g Granularity) (*Layer, error) {
	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "geo: decode feature collection")
	}
	features := make([]Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		switch f.Geometry.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
			features = append(features, Feature{Geometry: f.Geometry, Properties: f.Properties})
		}
	}
	return NewLayer(g, features), nil
}
