package choropleth

import (
	"fmt"
	"html"
	"math"
	"net/url"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ValueFormatter renders a zone value for the tooltip.
type ValueFormatter func(v float64) string

// DefaultFormatter shows the raw value to five decimal places.
func DefaultFormatter(v float64) string {
	return fmt.Sprintf("Value: <strong>%.5f</strong>", v)
}

// CurrencyFormatter renders values as grouped currency amounts in the given
// locale, e.g. "£1,234.57m".
func CurrencyFormatter(tag language.Tag, symbol, suffix string, decimals int) ValueFormatter {
	p := message.NewPrinter(tag)
	format := fmt.Sprintf("%%.%df", decimals)
	return func(v float64) string {
		sign := ""
		if v < 0 {
			sign = "-"
			v = math.Abs(v)
		}
		return sign + symbol + p.Sprintf(format, v) + suffix
	}
}

// Tooltip is the hover label state.
type Tooltip struct {
	Visible bool    `json:"visible"`
	HTML    string  `json:"html,omitempty"`
	Left    float64 `json:"left,omitempty"`
	Top     float64 `json:"top,omitempty"`
}

// tooltipOffset keeps the label clear of the pointer.
const tooltipOffset = 5

func tooltipHTML(name, formatted string) string {
	return "Zone: <strong>" + html.EscapeString(name) + "</strong><br><strong>" + formatted + "</strong>"
}

// PointerEvent is a pointer position in map and screen coordinates.
type PointerEvent struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

// HoverTracker holds the single hovered feature and mirrors it into the
// renderer's hover feature state.
type HoverTracker struct {
	source string
	id     string
	active bool
}

// Enter marks id hovered, clearing the previous feature first.
func (h *HoverTracker) Enter(r Renderer, id string) error {
	if h.active && h.id == id {
		return nil
	}
	if err := h.Leave(r); err != nil {
		return err
	}
	if err := r.SetFeatureState(h.source, id, map[string]any{"hover": true}); err != nil {
		return err
	}
	h.id, h.active = id, true
	return nil
}

// Leave clears the hovered feature, if any.
func (h *HoverTracker) Leave(r Renderer) error {
	if !h.active {
		return nil
	}
	if err := r.SetFeatureState(h.source, h.id, map[string]any{"hover": false}); err != nil {
		return err
	}
	h.id, h.active = "", false
	return nil
}

// Current returns the hovered feature id.
func (h *HoverTracker) Current() (string, bool) { return h.id, h.active }

// Navigator performs click navigation.
type Navigator interface {
	Navigate(target string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string) error

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(target string) error { return f(target) }

// LocationURL is the detail route for one local authority.
func LocationURL(basePath, code string) string {
	return strings.TrimRight(basePath, "/") + "/location?location=" + url.QueryEscape(code)
}
