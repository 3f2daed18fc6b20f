package choropleth

import (
	"fmt"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/rotisserie/eris"
)

// DefaultColorRange is the diverging palette for co-benefit maps.
var DefaultColorRange = []string{"red", "white", "black"}

// highlightRange paints the selected zone against a white background.
var highlightRange = []string{"white", "dimgray"}

// Stop is one domain breakpoint and its color.
type Stop struct {
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// Scale maps values onto a palette by piecewise-linear RGB interpolation.
type Scale struct {
	domain []float64
	colors []colorful.Color
}

// NewScale derives the domain for colorRange from the data extent.
//
// A palette whose first color is red is diverging: the domain is
// {min, 0, max}, with min clamped to -1 when the data has no negatives. Any
// other palette of N colors gets N equally spaced breakpoints between min and
// max.
func NewScale(colorRange []string, values []float64) (Scale, error) {
	if len(colorRange) == 0 {
		colorRange = DefaultColorRange
	}
	colors, err := parseColors(colorRange)
	if err != nil {
		return Scale{}, err
	}

	lo, hi, ok := extent(values)
	if !ok {
		lo, hi = 0, 0
	}

	var domain []float64
	if strings.EqualFold(strings.TrimSpace(colorRange[0]), "red") {
		if lo >= 0 {
			lo = -1
		}
		domain = []float64{lo, 0, hi}
	} else {
		n := len(colorRange)
		domain = make([]float64, n)
		for i := range n {
			if n == 1 {
				domain[i] = lo
				continue
			}
			domain[i] = lo + float64(i)/float64(n-1)*(hi-lo)
		}
	}
	return Scale{domain: domain, colors: colors}, nil
}

// HighlightScale is the fixed [0, 1] white to dimgray scale of single-zone
// highlight mode.
func HighlightScale() Scale {
	colors, _ := parseColors(highlightRange)
	return Scale{domain: []float64{0, 1}, colors: colors}
}

// Domain returns the breakpoints as derived, including any that do not
// ascend.
func (s Scale) Domain() []float64 { return append([]float64(nil), s.domain...) }

// Range returns the palette as hex colors.
func (s Scale) Range() []string {
	out := make([]string, len(s.colors))
	for i, c := range s.colors {
		out[i] = c.Hex()
	}
	return out
}

// Stops pairs breakpoints with colors. Breakpoints that do not strictly
// ascend are dropped, since the renderer rejects them.
func (s Scale) Stops() []Stop {
	n := min(len(s.domain), len(s.colors))
	stops := make([]Stop, 0, n)
	last := math.Inf(-1)
	for i := range n {
		d := s.domain[i]
		if d <= last {
			continue
		}
		stops = append(stops, Stop{Value: d, Color: s.colors[i].Hex()})
		last = d
	}
	return stops
}

// Color returns the color for v, clamped to the ends of the domain.
func (s Scale) Color(v float64) string {
	n := min(len(s.domain), len(s.colors))
	if n == 0 {
		return ""
	}
	idx := make([]int, 0, n)
	last := math.Inf(-1)
	for i := range n {
		if s.domain[i] > last {
			idx = append(idx, i)
			last = s.domain[i]
		}
	}
	first, end := idx[0], idx[len(idx)-1]
	if v <= s.domain[first] {
		return s.colors[first].Hex()
	}
	if v >= s.domain[end] {
		return s.colors[end].Hex()
	}
	for k := 1; k < len(idx); k++ {
		a, b := idx[k-1], idx[k]
		if v <= s.domain[b] {
			t := (v - s.domain[a]) / (s.domain[b] - s.domain[a])
			return s.colors[a].BlendRgb(s.colors[b], t).Clamped().Hex()
		}
	}
	return s.colors[end].Hex()
}

// Expression renders the fill-color paint expression over the value property.
func (s Scale) Expression() []any {
	expr := []any{"interpolate", []any{"linear"}, []any{"get", ValueProperty}}
	for _, st := range s.Stops() {
		expr = append(expr, st.Value, st.Color)
	}
	return expr
}

func extent(values []float64) (lo, hi float64, ok bool) {
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, ok
}

// namedColors covers the CSS names the dashboard palettes use.
var namedColors = map[string]string{
	"black":     "#000000",
	"white":     "#ffffff",
	"red":       "#ff0000",
	"green":     "#008000",
	"blue":      "#0000ff",
	"yellow":    "#ffff00",
	"orange":    "#ffa500",
	"purple":    "#800080",
	"gray":      "#808080",
	"grey":      "#808080",
	"dimgray":   "#696969",
	"dimgrey":   "#696969",
	"darkgray":  "#a9a9a9",
	"lightgray": "#d3d3d3",
	"silver":    "#c0c0c0",
	"navy":      "#000080",
	"teal":      "#008080",
	"steelblue": "#4682b4",
	"maroon":    "#800000",
	"olive":     "#808000",
}

func parseColors(names []string) ([]colorful.Color, error) {
	out := make([]colorful.Color, len(names))
	for i, n := range names {
		c, err := parseColor(n)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func parseColor(s string) (colorful.Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if hex, ok := namedColors[s]; ok {
		s = hex
	}
	if strings.HasPrefix(s, "rgb(") {
		var r, g, b uint8
		if _, err := fmt.Sscanf(strings.ReplaceAll(s, " ", ""), "rgb(%d,%d,%d)", &r, &g, &b); err != nil {
			return colorful.Color{}, eris.Wrapf(err, "choropleth: parse color %q", s)
		}
		return colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}, nil
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return colorful.Color{}, eris.Wrapf(err, "choropleth: parse color %q", s)
	}
	return c, nil
}
