package choropleth

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
)

// Renderer is the declarative boundary to the interactive map renderer.
type Renderer interface {
	AddSource(id string, data *geojson.FeatureCollection) error
	SetSourceData(id string, data *geojson.FeatureCollection) error
	AddLayer(layer LayerSpec) error
	RemoveLayer(id string) error
	SetPaintProperty(layerID, name string, value any) error
	SetFeatureState(source, featureID string, state map[string]any) error
	// MoveLayer moves a layer to the top of the stack.
	MoveLayer(id string) error
	Layers() []LayerSpec
	// QueryRenderedFeatures returns the features under p, topmost first,
	// drawn by the named layers (all layers when none are named).
	QueryRenderedFeatures(p geom.Coord, layerIDs ...string) []*geojson.Feature
	SetCenter(center geom.Coord) error
}

// LayerSpec is one style layer.
type LayerSpec struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source,omitempty"`
	Paint  map[string]any `json:"paint,omitempty"`
	Layout map[string]any `json:"layout,omitempty"`
}

// Renderer errors.
var (
	ErrSourceExists  = eris.New("choropleth: source already exists")
	ErrUnknownSource = eris.New("choropleth: unknown source")
	ErrLayerExists   = eris.New("choropleth: layer already exists")
	ErrUnknownLayer  = eris.New("choropleth: unknown layer")
)

// StyleDocument is an in-memory Renderer that serializes to a MapLibre style
// fragment for the browser.
type StyleDocument struct {
	mu       sync.Mutex
	styleURL string
	center   geom.Coord
	zoom     float64
	sources  map[string]*geojson.FeatureCollection
	layers   []LayerSpec
	state    map[string]map[string]map[string]any
}

// NewStyleDocument returns a document on top of base, the layers of the
// background style.
func NewStyleDocument(styleURL string, zoom float64, base ...LayerSpec) *StyleDocument {
	return &StyleDocument{
		styleURL: styleURL,
		zoom:     zoom,
		sources:  make(map[string]*geojson.FeatureCollection),
		layers:   slices.Clone(base),
		state:    make(map[string]map[string]map[string]any),
	}
}

// AddSource implements Renderer.
func (d *StyleDocument) AddSource(id string, data *geojson.FeatureCollection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sources[id]; ok {
		return eris.Wrapf(ErrSourceExists, "choropleth: add source %q", id)
	}
	d.sources[id] = data
	return nil
}

// SetSourceData implements Renderer.
func (d *StyleDocument) SetSourceData(id string, data *geojson.FeatureCollection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sources[id]; !ok {
		return eris.Wrapf(ErrUnknownSource, "choropleth: set data on %q", id)
	}
	d.sources[id] = data
	delete(d.state, id)
	return nil
}

// Source returns the data of a source.
func (d *StyleDocument) Source(id string) (*geojson.FeatureCollection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fc, ok := d.sources[id]
	return fc, ok
}

// AddLayer implements Renderer.
func (d *StyleDocument) AddLayer(layer LayerSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.indexOf(layer.ID) >= 0 {
		return eris.Wrapf(ErrLayerExists, "choropleth: add layer %q", layer.ID)
	}
	if layer.Source != "" {
		if _, ok := d.sources[layer.Source]; !ok {
			return eris.Wrapf(ErrUnknownSource, "choropleth: layer %q source %q", layer.ID, layer.Source)
		}
	}
	layer.Paint = maps.Clone(layer.Paint)
	d.layers = append(d.layers, layer)
	return nil
}

// RemoveLayer implements Renderer.
func (d *StyleDocument) RemoveLayer(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.indexOf(id)
	if i < 0 {
		return eris.Wrapf(ErrUnknownLayer, "choropleth: remove layer %q", id)
	}
	d.layers = slices.Delete(d.layers, i, i+1)
	return nil
}

// SetPaintProperty implements Renderer.
func (d *StyleDocument) SetPaintProperty(layerID, name string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.indexOf(layerID)
	if i < 0 {
		return eris.Wrapf(ErrUnknownLayer, "choropleth: set %s on %q", name, layerID)
	}
	if d.layers[i].Paint == nil {
		d.layers[i].Paint = map[string]any{}
	}
	d.layers[i].Paint[name] = value
	return nil
}

// SetFeatureState implements Renderer. State keys merge into the feature's
// existing state.
func (d *StyleDocument) SetFeatureState(source, featureID string, state map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sources[source]; !ok {
		return eris.Wrapf(ErrUnknownSource, "choropleth: feature state on %q", source)
	}
	bySource := d.state[source]
	if bySource == nil {
		bySource = map[string]map[string]any{}
		d.state[source] = bySource
	}
	cur := bySource[featureID]
	if cur == nil {
		cur = map[string]any{}
		bySource[featureID] = cur
	}
	maps.Copy(cur, state)
	return nil
}

// FeatureState returns a copy of a feature's state.
func (d *StyleDocument) FeatureState(source, featureID string) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.state[source][featureID])
}

// MoveLayer implements Renderer.
func (d *StyleDocument) MoveLayer(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.indexOf(id)
	if i < 0 {
		return eris.Wrapf(ErrUnknownLayer, "choropleth: move layer %q", id)
	}
	layer := d.layers[i]
	d.layers = append(slices.Delete(d.layers, i, i+1), layer)
	return nil
}

// Layers implements Renderer. Layers are listed bottom to top.
func (d *StyleDocument) Layers() []LayerSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]LayerSpec, len(d.layers))
	for i, l := range d.layers {
		l.Paint = maps.Clone(l.Paint)
		out[i] = l
	}
	return out
}

// QueryRenderedFeatures implements Renderer for fill layers.
func (d *StyleDocument) QueryRenderedFeatures(p geom.Coord, layerIDs ...string) []*geojson.Feature {
	d.mu.Lock()
	defer d.mu.Unlock()

	var hits []*geojson.Feature
	for i := len(d.layers) - 1; i >= 0; i-- {
		l := d.layers[i]
		if l.Type != "fill" {
			continue
		}
		if len(layerIDs) > 0 && !slices.Contains(layerIDs, l.ID) {
			continue
		}
		fc := d.sources[l.Source]
		if fc == nil {
			continue
		}
		for j := len(fc.Features) - 1; j >= 0; j-- {
			if f := fc.Features[j]; contains(f.Geometry, p) {
				hits = append(hits, f)
			}
		}
	}
	return hits
}

// SetCenter implements Renderer.
func (d *StyleDocument) SetCenter(center geom.Coord) error {
	if len(center) < 2 {
		return eris.New("choropleth: center needs longitude and latitude")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.center = geom.Coord{center[0], center[1]}
	return nil
}

// Center returns the current map center.
func (d *StyleDocument) Center() geom.Coord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.center)
}

type styleSource struct {
	Type string                     `json:"type"`
	Data *geojson.FeatureCollection `json:"data"`
}

type styleJSON struct {
	Version  int                    `json:"version"`
	Center   []float64              `json:"center,omitempty"`
	Zoom     float64                `json:"zoom"`
	Sources  map[string]styleSource `json:"sources"`
	Layers   []LayerSpec            `json:"layers"`
	Metadata map[string]any         `json:"metadata,omitempty"`
}

// MarshalJSON renders the document as a MapLibre style fragment.
func (d *StyleDocument) MarshalJSON() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := styleJSON{
		Version: 8,
		Center:  d.center,
		Zoom:    d.zoom,
		Sources: make(map[string]styleSource, len(d.sources)),
		Layers:  d.layers,
	}
	if d.styleURL != "" {
		out.Metadata = map[string]any{"base_style": d.styleURL}
	}
	for id, fc := range d.sources {
		out.Sources[id] = styleSource{Type: "geojson", Data: fc}
	}
	return json.Marshal(out)
}

func (d *StyleDocument) indexOf(id string) int {
	return slices.IndexFunc(d.layers, func(l LayerSpec) bool { return l.ID == id })
}

func contains(g geom.T, p geom.Coord) bool {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonContains(t, p)
	case *geom.MultiPolygon:
		for i := range t.NumPolygons() {
			if polygonContains(t.Polygon(i), p) {
				return true
			}
		}
	}
	return false
}

func polygonContains(poly *geom.Polygon, p geom.Coord) bool {
	if poly.NumLinearRings() == 0 {
		return false
	}
	if !xy.IsPointInRing(poly.Layout(), p, poly.LinearRing(0).FlatCoords()) {
		return false
	}
	for i := 1; i < poly.NumLinearRings(); i++ {
		if xy.IsPointInRing(poly.Layout(), p, poly.LinearRing(i).FlatCoords()) {
			return false
		}
	}
	return true
}
