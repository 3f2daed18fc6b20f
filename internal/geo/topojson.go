package geo

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

type topology struct {
	Type      string                     `json:"type"`
	Transform *topoTransform             `json:"transform"`
	Objects   map[string]json.RawMessage `json:"objects"`
	Arcs      [][][]float64              `json:"arcs"`
}

type topoTransform struct {
	Scale     [2]float64 `json:"scale"`
	Translate [2]float64 `json:"translate"`
}

type topoGeometry struct {
	Type       string          `json:"type"`
	Arcs       json.RawMessage `json:"arcs"`
	Geometries []topoGeometry  `json:"geometries"`
	Properties map[string]any  `json:"properties"`
}

// DecodeTopoJSON reads the named object of a topology as a layer. Polygon and
// MultiPolygon geometries become zones; other geometry types are skipped.
func DecodeTopoJSON(r io.Reader, object string, g Granularity) (*Layer, error) {
	var topo topology
	if err := json.NewDecoder(r).Decode(&topo); err != nil {
		return nil, eris.Wrap(err, "geo: decode topology")
	}
	if topo.Type != "Topology" {
		return nil, eris.Errorf("geo: expected a Topology document, got %q", topo.Type)
	}
	raw, ok := topo.Objects[object]
	if !ok {
		return nil, eris.Errorf("geo: topology has no object %q", object)
	}
	var root topoGeometry
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, eris.Wrapf(err, "geo: decode object %q", object)
	}

	d := topoDecoder{arcs: decodeArcs(topo.Arcs, topo.Transform)}
	var features []Feature
	skipped := 0
	var walk func(tg topoGeometry) error
	walk = func(tg topoGeometry) error {
		switch tg.Type {
		case "GeometryCollection":
			for _, child := range tg.Geometries {
				if err := walk(child); err != nil {
					return err
				}
			}
			return nil
		case "Polygon":
			var rings [][]int
			if err := json.Unmarshal(tg.Arcs, &rings); err != nil {
				return eris.Wrap(err, "geo: polygon arcs")
			}
			poly, err := d.polygon(rings)
			if err != nil {
				return err
			}
			features = append(features, Feature{Geometry: poly, Properties: tg.Properties})
		case "MultiPolygon":
			var polys [][][]int
			if err := json.Unmarshal(tg.Arcs, &polys); err != nil {
				return eris.Wrap(err, "geo: multipolygon arcs")
			}
			mp := geom.NewMultiPolygon(geom.XY)
			for _, rings := range polys {
				poly, err := d.polygon(rings)
				if err != nil {
					return err
				}
				if err := mp.Push(poly); err != nil {
					return eris.Wrap(err, "geo: push polygon")
				}
			}
			features = append(features, Feature{Geometry: mp, Properties: tg.Properties})
		default:
			skipped++
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}

	if skipped > 0 {
		zap.L().Debug("geo: skipped non-polygon topology geometries",
			zap.String("object", object),
			zap.Int("skipped", skipped),
		)
	}
	return NewLayer(g, features), nil
}

// decodeArcs turns quantized, delta-encoded arcs into absolute positions.
func decodeArcs(arcs [][][]float64, t *topoTransform) [][]float64 {
	out := make([][]float64, len(arcs))
	for i, arc := range arcs {
		flat := make([]float64, 0, 2*len(arc))
		var x, y float64
		for _, pos := range arc {
			if len(pos) < 2 {
				continue
			}
			if t == nil {
				flat = append(flat, pos[0], pos[1])
				continue
			}
			x += pos[0]
			y += pos[1]
			flat = append(flat, x*t.Scale[0]+t.Translate[0], y*t.Scale[1]+t.Translate[1])
		}
		out[i] = flat
	}
	return out
}

type topoDecoder struct {
	arcs [][]float64
}

// ring stitches arcs into one closed ring. A negative index ~i walks arc i in
// reverse; each arc after the first drops its leading position, which repeats
// the previous arc's last.
func (d topoDecoder) ring(indexes []int) ([]float64, error) {
	var flat []float64
	for n, idx := range indexes {
		reversed := idx < 0
		if reversed {
			idx = ^idx
		}
		if idx >= len(d.arcs) {
			return nil, eris.Errorf("geo: arc index %d out of range", idx)
		}
		arc := d.arcs[idx]
		if reversed {
			arc = reversePositions(arc)
		}
		if n > 0 && len(arc) >= 2 {
			arc = arc[2:]
		}
		flat = append(flat, arc...)
	}
	return flat, nil
}

func (d topoDecoder) polygon(rings [][]int) (*geom.Polygon, error) {
	poly := geom.NewPolygon(geom.XY)
	for _, idx := range rings {
		flat, err := d.ring(idx)
		if err != nil {
			return nil, err
		}
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			return nil, eris.Wrap(err, "geo: push ring")
		}
	}
	return poly, nil
}

func reversePositions(flat []float64) []float64 {
	out := make([]float64, len(flat))
	n := len(flat) / 2
	for i := range n {
		j := n - 1 - i
		out[2*i], out[2*i+1] = flat[2*j], flat[2*j+1]
	}
	return out
}
