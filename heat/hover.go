package heat

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// tooltipTmpl renders the fixed tooltip body. Going through html/template
// escapes county/time/title, which originate from an untrusted feed.
var tooltipTmpl = template.Must(template.New("tooltip").Parse(
	`<div class="incident-tooltip"><strong>{{.County}}</strong><br>{{.Time}}<br>{{.Title}}</div>`))

// TooltipHTML builds the overlay body for one feature.
func TooltipHTML(f *geojson.Feature) string {
	data := struct {
		County string
		Time   string
		Title  string
	}{
		County: f.Properties.MustString(PropCounty, MissingText),
		Time:   f.Properties.MustString(PropTime, MissingText),
		Title:  f.Properties.MustString(PropTitle, MissingText),
	}

	var buf bytes.Buffer
	if err := tooltipTmpl.Execute(&buf, data); err != nil {
		log.Printf("[HOVER] rendering tooltip: %v", err)
		return ""
	}
	return buf.String()
}

// HoverController keeps at most one tooltip overlay alive as the pointer
// moves across the interaction layer. It is either idle (shown == nil) or
// showing exactly one feature; the single field makes a second concurrent
// overlay impossible by construction.
type HoverController struct {
	renderer Renderer

	mu    sync.Mutex
	shown *shownTooltip
}

type shownTooltip struct {
	key     string
	overlay Overlay
}

// NewHoverController returns an idle controller for the given renderer.
func NewHoverController(r Renderer) *HoverController {
	return &HoverController{renderer: r}
}

// Bind attaches the controller to layerID's pointer events. Call once per
// view: rebinding on every snapshot would stack duplicate handlers and
// duplicate tooltips.
func (h *HoverController) Bind(layerID string) {
	h.renderer.OnPointerMove(layerID, h.pointerMove)
	h.renderer.OnPointerLeave(layerID, h.pointerLeave)
}

// pointerMove shows the tooltip for the top-most hit feature. Moving
// within the same feature is a no-op. Moving onto a different feature
// removes the old overlay and attaches the new one inside the same call,
// so no intermediate idle state is observable. An event with no hit
// features should not occur for moves over the interaction layer and is
// ignored.
func (h *HoverController) pointerMove(ev PointerEvent) {
	if len(ev.Features) == 0 {
		return
	}
	f := ev.Features[0]
	key := featureKey(f)
	if key == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shown != nil && h.shown.key == key {
		return
	}
	if h.shown != nil {
		h.shown.overlay.Remove()
		h.shown = nil
		OverlayRemovesTotal.Inc()
	}

	pos, ok := f.Geometry.(orb.Point)
	if !ok {
		return
	}
	overlay := h.renderer.NewOverlay()
	overlay.SetPosition(pos)
	overlay.SetHTML(TooltipHTML(f))
	overlay.Attach()
	h.shown = &shownTooltip{key: key, overlay: overlay}
	OverlayCreatesTotal.Inc()
}

// pointerLeave removes the tooltip when the pointer exits the layer.
func (h *HoverController) pointerLeave() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shown == nil {
		return
	}
	h.shown.overlay.Remove()
	h.shown = nil
	OverlayRemovesTotal.Inc()
}

// Showing returns the key of the feature whose tooltip is up, or "" when
// the controller is idle.
func (h *HoverController) Showing() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shown == nil {
		return ""
	}
	return h.shown.key
}

// Reset removes any overlay and returns to idle. Called at teardown.
func (h *HoverController) Reset() {
	h.pointerLeave()
}

// featureKey identifies a feature for hover comparisons: the record id
// when present, otherwise the stringified position.
func featureKey(f *geojson.Feature) string {
	if f == nil {
		return ""
	}
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	if p, ok := f.Geometry.(orb.Point); ok {
		return fmt.Sprintf("@%v,%v", p[0], p[1])
	}
	return ""
}
