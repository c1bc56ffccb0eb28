package heat

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// StyleLayer describes one basemap style layer as reported by the renderer
// when it becomes ready. Layout carries the layer's layout properties
// verbatim; only text-field is inspected here.
type StyleLayer struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Layout map[string]any `json:"layout,omitempty"`
}

// LayerSpec is a style layer definition handed to the renderer. Paint and
// Layout hold renderer style expressions verbatim.
type LayerSpec struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Paint  map[string]any `json:"paint,omitempty"`
	Layout map[string]any `json:"layout,omitempty"`
}

// PointerEvent is a pointer-move over an interactive layer. Features holds
// the renderer's hit-test result in its native stacking order, top-most
// first. Point is the geographic pointer position.
type PointerEvent struct {
	Features []*geojson.Feature
	Point    orb.Point
}

// PointerHandler consumes pointer-move events for one layer.
type PointerHandler func(PointerEvent)

// Overlay is a single position-anchored popup owned by the renderer.
// SetPosition and SetHTML may be called before or after Attach; Remove
// detaches the overlay for good.
type Overlay interface {
	SetPosition(p orb.Point)
	SetHTML(html string)
	Attach()
	Remove()
}

// Renderer is the opaque basemap engine the pipeline drives. All methods
// must be safe to call from multiple goroutines; implementations serialize
// their own I/O.
type Renderer interface {
	// OnReady registers fn to run once the basemap style has loaded. A
	// renderer that is already ready invokes fn immediately.
	OnReady(fn func())
	// StyleLayers returns the basemap's style layers in draw order,
	// bottom-most first.
	StyleLayers() []StyleLayer

	SourceExists(id string) bool
	AddSource(id string, data *geojson.FeatureCollection) error
	SetSourceData(id string, data *geojson.FeatureCollection) error

	LayerExists(id string) bool
	// AddLayer inserts a layer, beneath beforeID when non-empty and on top
	// of everything otherwise.
	AddLayer(spec LayerSpec, beforeID string) error

	OnPointerMove(layerID string, fn PointerHandler)
	OnPointerLeave(layerID string, fn func())
	// DetachPointerHandlers drops both pointer handlers for layerID.
	DetachPointerHandlers(layerID string)

	NewOverlay() Overlay
}

// FirstLabelLayerID returns the id of the lowest basemap label layer: the
// first symbol layer with a configured text-field. ok is false when the
// style has none, in which case new layers belong on top.
func FirstLabelLayerID(layers []StyleLayer) (string, bool) {
	for _, l := range layers {
		if l.Type != "symbol" {
			continue
		}
		tf, present := l.Layout["text-field"]
		if present && tf != nil && tf != "" {
			return l.ID, true
		}
	}
	return "", false
}
