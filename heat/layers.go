package heat

import "fmt"

// Renderer ids for the single geo source and its two layers.
const (
	SourceID           = "incidents"
	DensityLayerID     = "incidents-heat"
	InteractionLayerID = "incidents-points"
)

// DensityLayerSpec builds the heatmap layer bound to source. Weight comes
// from each feature's weight property. Intensity and radius both scale up
// with zoom so the surface reads the same whether points are visually
// clustered (low zoom) or spread out (high zoom). The color ramp runs
// transparent blue through cyan, lime and yellow to opaque red, and the
// fixed sub-1 opacity keeps the basemap visible underneath.
func DensityLayerSpec(source string) LayerSpec {
	return LayerSpec{
		ID:     DensityLayerID,
		Type:   "heatmap",
		Source: source,
		Paint: map[string]any{
			"heatmap-weight": []any{"get", PropWeight},
			"heatmap-intensity": []any{
				"interpolate", []any{"linear"}, []any{"zoom"},
				0, 0.6,
				9, 1.2,
				15, 3,
			},
			"heatmap-radius": []any{
				"interpolate", []any{"linear"}, []any{"zoom"},
				0, 4,
				9, 18,
				15, 36,
			},
			"heatmap-color": []any{
				"interpolate", []any{"linear"}, []any{"heatmap-density"},
				0, "rgba(0, 0, 255, 0)",
				0.25, "rgb(0, 255, 255)",
				0.5, "rgb(0, 255, 0)",
				0.75, "rgb(255, 255, 0)",
				1, "rgb(255, 0, 0)",
			},
			"heatmap-opacity": 0.8,
		},
	}
}

// InteractionLayerSpec builds the invisible hit-target layer: a small
// fully transparent circle per feature whose only job is to give the hover
// controller precise per-feature pointer events.
func InteractionLayerSpec(source string) LayerSpec {
	return LayerSpec{
		ID:     InteractionLayerID,
		Type:   "circle",
		Source: source,
		Paint: map[string]any{
			"circle-radius":  9,
			"circle-opacity": 0,
		},
	}
}

// LayerProvisioner creates the density and interaction layers exactly once
// per view. It tracks provisioning itself so repeated Ensure calls never
// touch the renderer again, which also means hover handlers bound to the
// interaction layer are never disturbed by later snapshots.
type LayerProvisioner struct {
	renderer    Renderer
	source      string
	provisioned bool
}

// NewLayerProvisioner returns a provisioner for the given source id.
func NewLayerProvisioner(r Renderer, source string) *LayerProvisioner {
	return &LayerProvisioner{renderer: r, source: source}
}

// Ensure creates both layers unless this provisioner already has. The
// density layer is inserted beneath the basemap's first label layer so
// place names stay legible, or on top when the style has no labels; the
// interaction layer always goes on top. Within the first pass each add is
// additionally guarded by LayerExists, so a pipeline restarted against a
// style that kept its layers takes them over instead of duplicating them.
func (p *LayerProvisioner) Ensure() error {
	if p.provisioned {
		return nil
	}

	if !p.renderer.LayerExists(DensityLayerID) {
		before, _ := FirstLabelLayerID(p.renderer.StyleLayers())
		if err := p.renderer.AddLayer(DensityLayerSpec(p.source), before); err != nil {
			return fmt.Errorf("adding density layer: %w", err)
		}
	}
	if !p.renderer.LayerExists(InteractionLayerID) {
		if err := p.renderer.AddLayer(InteractionLayerSpec(p.source), ""); err != nil {
			return fmt.Errorf("adding interaction layer: %w", err)
		}
	}

	p.provisioned = true
	return nil
}

// Provisioned reports whether this provisioner has created the layers.
func (p *LayerProvisioner) Provisioned() bool {
	return p.provisioned
}
