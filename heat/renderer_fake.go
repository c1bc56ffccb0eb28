package heat

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// AddedLayer records one AddLayer call on the fake renderer.
type AddedLayer struct {
	Spec   LayerSpec
	Before string
}

// FakeRenderer is an in-memory Renderer for tests. It mirrors sources and
// layers, records every mutation, and lets tests fire ready and pointer
// events by hand.
type FakeRenderer struct {
	mu sync.Mutex

	ready    bool
	readyFns []func()

	styleLayers []StyleLayer

	sources      map[string]*geojson.FeatureCollection
	setDataCalls []string
	addedLayers  []AddedLayer

	moveHandlers  map[string]PointerHandler
	leaveHandlers map[string]func()

	overlays []*FakeOverlay
	attaches int
	removes  int

	mutations int

	addSourceErr error
	setDataErr   error
	addLayerErr  error
}

// NewFakeRenderer returns a fake that is not yet ready and has no style
// layers.
func NewFakeRenderer() *FakeRenderer {
	return &FakeRenderer{
		sources:       make(map[string]*geojson.FeatureCollection),
		moveHandlers:  make(map[string]PointerHandler),
		leaveHandlers: make(map[string]func()),
	}
}

// SetStyleLayers replaces the basemap layers the fake reports.
func (f *FakeRenderer) SetStyleLayers(layers []StyleLayer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.styleLayers = layers
}

// SetAddSourceError makes AddSource fail.
func (f *FakeRenderer) SetAddSourceError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addSourceErr = err
}

// SetSourceDataError makes SetSourceData fail.
func (f *FakeRenderer) SetSourceDataError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setDataErr = err
}

// SetAddLayerError makes AddLayer fail.
func (f *FakeRenderer) SetAddLayerError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addLayerErr = err
}

// FireReady marks the fake ready and runs pending OnReady callbacks.
func (f *FakeRenderer) FireReady() {
	f.mu.Lock()
	if f.ready {
		f.mu.Unlock()
		return
	}
	f.ready = true
	fns := f.readyFns
	f.readyFns = nil
	f.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// FirePointerMove delivers a pointer event to the layer's move handler, if
// one is bound.
func (f *FakeRenderer) FirePointerMove(layerID string, ev PointerEvent) {
	f.mu.Lock()
	fn := f.moveHandlers[layerID]
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// FirePointerLeave delivers a leave event to the layer's leave handler, if
// one is bound.
func (f *FakeRenderer) FirePointerLeave(layerID string) {
	f.mu.Lock()
	fn := f.leaveHandlers[layerID]
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *FakeRenderer) OnReady(fn func()) {
	f.mu.Lock()
	if f.ready {
		f.mu.Unlock()
		fn()
		return
	}
	f.readyFns = append(f.readyFns, fn)
	f.mu.Unlock()
}

func (f *FakeRenderer) StyleLayers() []StyleLayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	layers := make([]StyleLayer, len(f.styleLayers))
	copy(layers, f.styleLayers)
	return layers
}

func (f *FakeRenderer) SourceExists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sources[id]
	return ok
}

func (f *FakeRenderer) AddSource(id string, data *geojson.FeatureCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addSourceErr != nil {
		return f.addSourceErr
	}
	if _, ok := f.sources[id]; ok {
		return fmt.Errorf("source %s already exists", id)
	}
	f.sources[id] = data
	f.mutations++
	return nil
}

func (f *FakeRenderer) SetSourceData(id string, data *geojson.FeatureCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setDataErr != nil {
		return f.setDataErr
	}
	if _, ok := f.sources[id]; !ok {
		return fmt.Errorf("source %s does not exist", id)
	}
	f.sources[id] = data
	f.setDataCalls = append(f.setDataCalls, id)
	f.mutations++
	return nil
}

func (f *FakeRenderer) LayerExists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.addedLayers {
		if l.Spec.ID == id {
			return true
		}
	}
	return false
}

func (f *FakeRenderer) AddLayer(spec LayerSpec, beforeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addLayerErr != nil {
		return f.addLayerErr
	}
	for _, l := range f.addedLayers {
		if l.Spec.ID == spec.ID {
			return fmt.Errorf("layer %s already exists", spec.ID)
		}
	}
	f.addedLayers = append(f.addedLayers, AddedLayer{Spec: spec, Before: beforeID})
	f.mutations++
	return nil
}

func (f *FakeRenderer) OnPointerMove(layerID string, fn PointerHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moveHandlers[layerID] = fn
}

func (f *FakeRenderer) OnPointerLeave(layerID string, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveHandlers[layerID] = fn
}

func (f *FakeRenderer) DetachPointerHandlers(layerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.moveHandlers, layerID)
	delete(f.leaveHandlers, layerID)
}

func (f *FakeRenderer) NewOverlay() Overlay {
	o := &FakeOverlay{renderer: f}
	f.mu.Lock()
	f.overlays = append(f.overlays, o)
	f.mu.Unlock()
	return o
}

// SourceData returns the collection last pushed to the source.
func (f *FakeRenderer) SourceData(id string) (*geojson.FeatureCollection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc, ok := f.sources[id]
	return fc, ok
}

// SetDataCalls returns the source ids of every SetSourceData call in order.
func (f *FakeRenderer) SetDataCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]string, len(f.setDataCalls))
	copy(calls, f.setDataCalls)
	return calls
}

// AddedLayers returns every AddLayer call in order.
func (f *FakeRenderer) AddedLayers() []AddedLayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	layers := make([]AddedLayer, len(f.addedLayers))
	copy(layers, f.addedLayers)
	return layers
}

// HasPointerHandlers reports whether any pointer handler is bound to the
// layer.
func (f *FakeRenderer) HasPointerHandlers(layerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, move := f.moveHandlers[layerID]
	_, leave := f.leaveHandlers[layerID]
	return move || leave
}

// Overlays returns every overlay handed out by NewOverlay.
func (f *FakeRenderer) Overlays() []*FakeOverlay {
	f.mu.Lock()
	defer f.mu.Unlock()
	overlays := make([]*FakeOverlay, len(f.overlays))
	copy(overlays, f.overlays)
	return overlays
}

// AttachCount returns the number of overlay Attach calls.
func (f *FakeRenderer) AttachCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attaches
}

// RemoveCount returns the number of overlay Remove calls.
func (f *FakeRenderer) RemoveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removes
}

// MutationCount returns how many times the fake was mutated via AddSource,
// SetSourceData or AddLayer.
func (f *FakeRenderer) MutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

// FakeOverlay records the overlay calls made by the hover controller.
type FakeOverlay struct {
	renderer *FakeRenderer

	mu       sync.Mutex
	pos      orb.Point
	html     string
	attached bool
}

func (o *FakeOverlay) SetPosition(p orb.Point) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pos = p
}

func (o *FakeOverlay) SetHTML(html string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.html = html
}

func (o *FakeOverlay) Attach() {
	o.mu.Lock()
	o.attached = true
	o.mu.Unlock()

	o.renderer.mu.Lock()
	o.renderer.attaches++
	o.renderer.mu.Unlock()
}

func (o *FakeOverlay) Remove() {
	o.mu.Lock()
	o.attached = false
	o.mu.Unlock()

	o.renderer.mu.Lock()
	o.renderer.removes++
	o.renderer.mu.Unlock()
}

// Position returns the overlay's staged anchor.
func (o *FakeOverlay) Position() orb.Point {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pos
}

// HTML returns the overlay's staged body.
func (o *FakeOverlay) HTML() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.html
}

// Attached reports whether the overlay is currently shown.
func (o *FakeOverlay) Attached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attached
}
