// Package choropleth joins query results to zone polygons, derives the color
// scale, and drives a map renderer through load, interaction and update.
//
// A Map is not safe for concurrent use. Maps sharing an atlas never observe
// each other's values.
package choropleth

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/cobenefit-atlas/internal/geo"
	"github.com/sells-group/cobenefit-atlas/internal/query"
)

// Renderer ids.
const (
	SourceID      = "datazones"
	FillLayerID   = "fill"
	BorderLayerID = "state-borders"
)

// Defaults.
const (
	DefaultTitle   = "Cobenefits (Millions of £)"
	DefaultZoom    = 4
	DefaultDataKey = "val"
	DefaultZoneKey = "Lookup_Value"
)

// DefaultCenter is the initial map center.
var DefaultCenter = geom.Coord{-3.54785, 54.79648}

// State is the lifecycle stage of a Map.
type State int

// States, in order.
const (
	Uninitialized State = iota
	DataLoaded
	LayersLoaded
	Interactive
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case DataLoaded:
		return "data-loaded"
	case LayersLoaded:
		return "layers-loaded"
	case Interactive:
		return "interactive"
	}
	return "uninitialized"
}

// MarshalText renders the state for JSON documents.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Map errors.
var (
	ErrHighlightGranularity = eris.New("choropleth: single-zone highlight needs coarse granularity")
	ErrInvalidTransition    = eris.New("choropleth: invalid state transition")
	ErrLayersNotLoaded      = eris.New("choropleth: layers not loaded")
)

// Data is what a Map displays: Rows or a Highlight.
type Data interface {
	isData()
}

// Rows joins query results by zone code.
type Rows []query.Row

// Highlight paints a single coarse zone.
type Highlight string

func (Rows) isData()      {}
func (Highlight) isData() {}

// Options configures a Map. Zero values take the defaults.
type Options struct {
	Granularity geo.Granularity
	DataKey     string
	ZoneKey     string
	Border      bool
	ColorRange  []string
	// KeepZeros renders zones whose joined value is zero. Zones without a
	// value are never rendered.
	KeepZeros bool
	Formatter ValueFormatter
	BasePath  string
	Center    geom.Coord
	Navigator Navigator
}

// Map is one choropleth instance bound to a renderer.
type Map struct {
	id       uuid.UUID
	layer    *geo.Layer
	renderer Renderer
	opts     Options

	state     State
	overlay   Overlay
	highlight bool
	scale     Scale
	set       []RenderFeature
	center    geom.Coord

	hover     HoverTracker
	tooltip   Tooltip
	tooltipOn bool
	clickOn   bool
}

// New creates a map over the atlas layer of opts.Granularity and centers the
// renderer.
func New(atlas *geo.Atlas, r Renderer, opts Options) (*Map, error) {
	layer, err := atlas.Layer(opts.Granularity)
	if err != nil {
		return nil, err
	}
	if opts.DataKey == "" {
		opts.DataKey = DefaultDataKey
	}
	if opts.ZoneKey == "" {
		opts.ZoneKey = DefaultZoneKey
	}
	if len(opts.ColorRange) == 0 {
		opts.ColorRange = DefaultColorRange
	}
	if opts.Formatter == nil {
		opts.Formatter = DefaultFormatter
	}
	if len(opts.Center) < 2 {
		opts.Center = DefaultCenter
	}
	if _, err := parseColors(opts.ColorRange); err != nil {
		return nil, err
	}

	m := &Map{
		id:       uuid.New(),
		layer:    layer,
		renderer: r,
		opts:     opts,
		center:   geom.Coord{opts.Center[0], opts.Center[1]},
		hover:    HoverTracker{source: SourceID},
	}
	if err := r.SetCenter(m.center); err != nil {
		return nil, eris.Wrap(err, "choropleth: center map")
	}
	return m, nil
}

// ID identifies the instance in logs and documents.
func (m *Map) ID() string { return m.id.String() }

// State returns the lifecycle stage.
func (m *Map) State() State { return m.state }

// Granularity returns the zone layer the map draws.
func (m *Map) Granularity() geo.Granularity { return m.layer.Granularity() }

// Center returns the current center.
func (m *Map) Center() geom.Coord { return geom.Coord{m.center[0], m.center[1]} }

// Scale returns the current color scale.
func (m *Map) Scale() Scale { return m.scale }

// LoadData joins d onto the zones and derives the color scale. It moves an
// uninitialized map to data-loaded; later calls keep the current state.
func (m *Map) LoadData(d Data) error {
	switch v := d.(type) {
	case Rows:
		m.highlight = false
		m.overlay = JoinRows(v, m.opts.ZoneKey, m.opts.DataKey)
		values := make([]float64, 0, len(v))
		for _, r := range v {
			if f, ok := r.Float(m.opts.DataKey); ok {
				values = append(values, f)
			}
		}
		scale, err := NewScale(m.opts.ColorRange, values)
		if err != nil {
			return err
		}
		m.scale = scale
		m.set = m.overlay.RenderSet(m.layer, m.opts.KeepZeros)
	case Highlight:
		if m.layer.Granularity() != geo.Coarse {
			return eris.Wrapf(ErrHighlightGranularity, "choropleth: highlight %q on %s zones", string(v), m.layer.Granularity())
		}
		m.highlight = true
		m.overlay = highlightOverlay(m.layer, string(v))
		m.scale = HighlightScale()
		m.set = m.overlay.RenderSet(m.layer, m.opts.KeepZeros)
		if z, ok := m.layer.Zone(string(v)); ok && len(z.Centroid) >= 2 {
			if err := m.recenter(z.Centroid); err != nil {
				return err
			}
		}
	default:
		return eris.Errorf("choropleth: unsupported data %T", d)
	}

	if m.state == Uninitialized {
		m.state = DataLoaded
	}
	zap.L().Debug("choropleth: data loaded",
		zap.String("map_id", m.ID()),
		zap.Stringer("granularity", m.layer.Granularity()),
		zap.Bool("highlight", m.highlight),
		zap.Int("joined", m.overlay.Len()),
		zap.Int("rendered", len(m.set)),
	)
	return nil
}

// CenterOn re-centers the map on a zone's centroid.
func (m *Map) CenterOn(code string) error {
	z, ok := m.layer.Zone(code)
	if !ok || len(z.Centroid) < 2 {
		return eris.Errorf("choropleth: no centroid for zone %q", code)
	}
	return m.recenter(z.Centroid)
}

func (m *Map) recenter(c geom.Coord) error {
	m.center = geom.Coord{c[0], c[1]}
	return eris.Wrap(m.renderer.SetCenter(m.center), "choropleth: center map")
}

// Document returns the current render set as GeoJSON.
func (m *Map) Document() *geojson.FeatureCollection {
	return FeatureCollection(m.set)
}

// LoadLayers hands the render set and the fill and border layers to the
// renderer, then lifts label layers above them. Reloading replaces the
// existing layers.
func (m *Map) LoadLayers() error {
	if m.state == Uninitialized {
		return eris.Wrap(ErrInvalidTransition, "choropleth: load layers before data")
	}

	doc := m.Document()
	if m.state >= LayersLoaded {
		if err := m.removeLayers(); err != nil {
			return err
		}
		if err := m.renderer.SetSourceData(SourceID, doc); err != nil {
			return eris.Wrap(err, "choropleth: replace source")
		}
	} else if err := m.renderer.AddSource(SourceID, doc); err != nil {
		return eris.Wrap(err, "choropleth: add source")
	}

	baseWidth := 0.0
	if m.opts.Border {
		baseWidth = 0.2
	}
	layers := []LayerSpec{
		{
			ID:     FillLayerID,
			Type:   "fill",
			Source: SourceID,
			Paint: map[string]any{
				"fill-color":   m.scale.Expression(),
				"fill-opacity": 1,
			},
		},
		{
			ID:     BorderLayerID,
			Type:   "line",
			Source: SourceID,
			Paint: map[string]any{
				"line-color": "#000000",
				"line-width": []any{
					"case",
					[]any{"boolean", []any{"feature-state", "hover"}, false},
					2,
					baseWidth,
				},
			},
		},
	}
	for _, l := range layers {
		if err := m.renderer.AddLayer(l); err != nil {
			return eris.Wrapf(err, "choropleth: add layer %s", l.ID)
		}
	}

	for _, l := range m.renderer.Layers() {
		if l.Type == "symbol" && !strings.Contains(l.ID, "highway") {
			if err := m.renderer.MoveLayer(l.ID); err != nil {
				return eris.Wrapf(err, "choropleth: raise label layer %s", l.ID)
			}
		}
	}

	if m.state == DataLoaded {
		m.state = LayersLoaded
	}
	return nil
}

func (m *Map) removeLayers() error {
	for _, l := range m.renderer.Layers() {
		if l.Source != SourceID {
			continue
		}
		if err := m.renderer.RemoveLayer(l.ID); err != nil {
			return eris.Wrapf(err, "choropleth: remove layer %s", l.ID)
		}
	}
	return nil
}

// EnableInteraction turns on the tooltip and click navigation. Only a
// layers-loaded map may become interactive.
func (m *Map) EnableInteraction(tooltip, click bool) error {
	if m.state != LayersLoaded {
		return eris.Wrapf(ErrInvalidTransition, "choropleth: %s to %s", m.state, Interactive)
	}
	m.tooltipOn, m.clickOn = tooltip, click
	m.state = Interactive
	return nil
}

// Update re-joins d, optionally rebuilds the layers, and pushes the new
// geometry and fill expression into the live renderer.
func (m *Map) Update(d Data, reload bool, colorRange []string) error {
	if m.state < LayersLoaded {
		return eris.Wrapf(ErrLayersNotLoaded, "choropleth: update in state %s", m.state)
	}
	if len(colorRange) > 0 {
		if _, err := parseColors(colorRange); err != nil {
			return err
		}
		m.opts.ColorRange = colorRange
	}
	if err := m.LoadData(d); err != nil {
		return err
	}
	if reload {
		if err := m.LoadLayers(); err != nil {
			return err
		}
	}
	if err := m.renderer.SetSourceData(SourceID, m.Document()); err != nil {
		return eris.Wrap(err, "choropleth: push source data")
	}
	if err := m.renderer.SetPaintProperty(FillLayerID, "fill-color", m.scale.Expression()); err != nil {
		return eris.Wrap(err, "choropleth: push fill color")
	}
	// Source data replacement drops feature state.
	m.hover = HoverTracker{source: SourceID}
	return nil
}

// PointerMove resolves the topmost filled zone under the pointer, updates the
// hover state and returns the tooltip.
func (m *Map) PointerMove(ev PointerEvent) (Tooltip, error) {
	if m.state != Interactive || !m.tooltipOn {
		return m.tooltip, nil
	}
	hits := m.renderer.QueryRenderedFeatures(geom.Coord{ev.Lon, ev.Lat}, FillLayerID)
	if len(hits) == 0 {
		m.tooltip = Tooltip{}
		return m.tooltip, m.hover.Leave(m.renderer)
	}

	f := hits[0]
	value, _ := propNumber(f.Properties[ValueProperty])
	m.tooltip = Tooltip{
		Visible: true,
		HTML:    tooltipHTML(m.featureName(f), m.opts.Formatter(value)),
		Left:    ev.X + tooltipOffset,
		Top:     ev.Y + tooltipOffset,
	}
	return m.tooltip, m.hover.Enter(m.renderer, f.ID)
}

// PointerLeave hides the tooltip and clears the hover state.
func (m *Map) PointerLeave() error {
	m.tooltip = Tooltip{}
	return m.hover.Leave(m.renderer)
}

// Tooltip returns the current tooltip.
func (m *Map) Tooltip() Tooltip { return m.tooltip }

// Hovered returns the hovered feature id.
func (m *Map) Hovered() (string, bool) { return m.hover.Current() }

// Click navigates to the detail view of the local authority under the
// pointer. It reports the target, or false when nothing navigable was hit.
func (m *Map) Click(ev PointerEvent) (string, bool, error) {
	if m.state != Interactive || !m.clickOn {
		return "", false, nil
	}
	hits := m.renderer.QueryRenderedFeatures(geom.Coord{ev.Lon, ev.Lat}, FillLayerID)
	if len(hits) == 0 {
		return "", false, nil
	}
	code := firstProp(hits[0].Properties, geo.CodeKeys(geo.Coarse))
	if code == "" {
		return "", false, nil
	}
	target := LocationURL(m.opts.BasePath, code)
	if m.opts.Navigator != nil {
		if err := m.opts.Navigator.Navigate(target); err != nil {
			return target, false, eris.Wrapf(err, "choropleth: navigate to %s", target)
		}
	}
	return target, true, nil
}

// Legend describes the current scale.
type Legend struct {
	Title string `json:"title"`
	Stops []Stop `json:"stops"`
}

// Legend returns the legend of the current scale. An empty title takes the
// default.
func (m *Map) Legend(title string) Legend {
	if title == "" {
		title = DefaultTitle
	}
	return Legend{Title: title, Stops: m.scale.Stops()}
}

func (m *Map) featureName(f *geojson.Feature) string {
	return firstProp(f.Properties, geo.NameKeys(m.layer.Granularity()))
}

func firstProp(props map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := props[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func propNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}
