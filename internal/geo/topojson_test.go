package geo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

// Two unit squares sharing the edge x=1. Arc 0 is the shared edge.
const sharedEdgeTopology = `{
  "type": "Topology",
  "arcs": [
    [[1,0],[1,1]],
    [[1,1],[0,1],[0,0],[1,0]],
    [[1,0],[2,0],[2,1],[1,1]]
  ],
  "objects": {
    "zones": {
      "type": "GeometryCollection",
      "geometries": [
        {"type": "Polygon", "arcs": [[0, 1]], "properties": {"LSOA21CD": "E01", "LSOA21NM": "Alpha"}},
        {"type": "GeometryCollection", "geometries": [
          {"type": "MultiPolygon", "arcs": [[[2, -1]]], "properties": {"DZ2021_cd": "S01", "DZ2021_nm": "Beta", "LONG": -3.2, "LAT": 55.9}},
          {"type": "Point", "coordinates": [0, 0]}
        ]}
      ]
    }
  }
}`

func TestDecodeTopoJSON(t *testing.T) {
	layer, err := DecodeTopoJSON(strings.NewReader(sharedEdgeTopology), "zones", Fine)
	require.NoError(t, err)
	require.Equal(t, 2, layer.Len())

	a := layer.At(0)
	assert.Equal(t, "E01", a.Code)
	assert.Equal(t, "Alpha", a.Name)
	poly, ok := a.Geometry.(*geom.Polygon)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 0, 1, 1, 0, 1, 0, 0, 1, 0}, poly.FlatCoords())
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, []float64(a.Centroid), 1e-9)

	b := layer.At(1)
	assert.Equal(t, "S01", b.Code)
	assert.Equal(t, "Beta", b.Name)
	mp, ok := b.Geometry.(*geom.MultiPolygon)
	require.True(t, ok)
	require.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, []float64{1, 0, 2, 0, 2, 1, 1, 1, 1, 0}, mp.Polygon(0).FlatCoords())
	assert.InDeltaSlice(t, []float64{-3.2, 55.9}, []float64(b.Centroid), 1e-9)
}

func TestDecodeTopoJSON_Errors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		object string
		want   string
	}{
		{"malformed", `{`, "zones", "decode topology"},
		{"not a topology", `{"type":"FeatureCollection"}`, "zones", "expected a Topology"},
		{"missing object", sharedEdgeTopology, "lad", `no object "lad"`},
		{"arc out of range", `{"type":"Topology","arcs":[],"objects":{"z":{"type":"Polygon","arcs":[[3]]}}}`, "z", "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTopoJSON(strings.NewReader(tt.doc), tt.object, Fine)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodeArcs_Quantized(t *testing.T) {
	arcs := [][][]float64{{{0, 0}, {2, 0}, {0, 2}, {-2, 0}, {0, -2}}}
	got := decodeArcs(arcs, &topoTransform{Scale: [2]float64{0.5, 0.5}, Translate: [2]float64{10, 20}})
	require.Len(t, got, 1)
	assert.Equal(t, []float64{10, 20, 11, 20, 11, 21, 10, 21, 10, 20}, got[0])
}

func TestDecodeTopoJSON_QuantizedPolygon(t *testing.T) {
	doc := `{
	  "type": "Topology",
	  "transform": {"scale": [0.5, 0.5], "translate": [10, 20]},
	  "arcs": [[[0,0],[2,0],[0,2],[-2,0],[0,-2]]],
	  "objects": {"lad": {"type": "Polygon", "arcs": [[0]], "properties": {"LAD22CD": "E06000001"}}}
	}`
	layer, err := DecodeTopoJSON(strings.NewReader(doc), "lad", Coarse)
	require.NoError(t, err)
	require.Equal(t, 1, layer.Len())
	z, ok := layer.Zone("E06000001")
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{10.5, 20.5}, []float64(z.Centroid), 1e-9)
}

func TestReversePositions(t *testing.T) {
	assert.Equal(t, []float64{5, 6, 3, 4, 1, 2}, reversePositions([]float64{1, 2, 3, 4, 5, 6}))
	assert.Empty(t, reversePositions(nil))
}
