package heat

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// bridgeOp is one renderer operation sent to the map client. Overlay ids
// start at 1 so omitempty never swallows a real id.
type bridgeOp struct {
	Op      string          `json:"op"`
	ID      string          `json:"id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Layer   *LayerSpec      `json:"layer,omitempty"`
	Before  string          `json:"before,omitempty"`
	Overlay int             `json:"overlay,omitempty"`
	LngLat  *[2]float64     `json:"lngLat,omitempty"`
	HTML    string          `json:"html,omitempty"`
}

// bridgeEvent is one renderer event received from the map client.
type bridgeEvent struct {
	Event    string          `json:"event"`
	Layer    string          `json:"layer,omitempty"`
	Layers   []StyleLayer    `json:"layers,omitempty"`
	LngLat   [2]float64      `json:"lngLat,omitempty"`
	Features json.RawMessage `json:"features,omitempty"`
}

// RemoteRenderer drives the basemap engine running in a browser over one
// websocket connection. Operations go out as JSON ops; ready and pointer
// events come back on the read loop. Source and layer existence are
// answered from a local mirror of what this renderer has added, never by a
// round-trip.
type RemoteRenderer struct {
	conn *websocket.Conn

	// gorilla permits one concurrent writer per connection
	writeMu sync.Mutex

	mu            sync.RWMutex
	ready         bool
	readyFns      []func()
	styleLayers   []StyleLayer
	sources       map[string]bool
	layers        map[string]bool
	moveHandlers  map[string]PointerHandler
	leaveHandlers map[string]func()
	boundLayers   map[string]bool
	nextOverlay   int
}

// NewRemoteRenderer wraps an established websocket connection. Call Run to
// start the event loop.
func NewRemoteRenderer(conn *websocket.Conn) *RemoteRenderer {
	return &RemoteRenderer{
		conn:          conn,
		sources:       make(map[string]bool),
		layers:        make(map[string]bool),
		moveHandlers:  make(map[string]PointerHandler),
		leaveHandlers: make(map[string]func()),
		boundLayers:   make(map[string]bool),
		nextOverlay:   1,
	}
}

// Run reads client events until the connection drops and returns the read
// error. The caller owns closing the connection.
func (r *RemoteRenderer) Run() error {
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return err
		}
		r.handleEvent(data)
	}
}

func (r *RemoteRenderer) handleEvent(data []byte) {
	var ev bridgeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("[BRIDGE] parsing client event: %v", err)
		return
	}

	switch ev.Event {
	case "ready":
		r.mu.Lock()
		if r.ready {
			r.mu.Unlock()
			return
		}
		r.ready = true
		r.styleLayers = ev.Layers
		fns := r.readyFns
		r.readyFns = nil
		r.mu.Unlock()
		for _, fn := range fns {
			fn()
		}

	case "pointermove":
		r.mu.RLock()
		fn := r.moveHandlers[ev.Layer]
		r.mu.RUnlock()
		if fn == nil {
			return
		}
		var features []*geojson.Feature
		if len(ev.Features) > 0 {
			if err := json.Unmarshal(ev.Features, &features); err != nil {
				log.Printf("[BRIDGE] parsing hit features: %v", err)
				return
			}
		}
		fn(PointerEvent{
			Features: features,
			Point:    orb.Point{ev.LngLat[0], ev.LngLat[1]},
		})

	case "pointerleave":
		r.mu.RLock()
		fn := r.leaveHandlers[ev.Layer]
		r.mu.RUnlock()
		if fn != nil {
			fn()
		}

	default:
		log.Printf("[DEBUG] bridge: unknown client event %q", ev.Event)
	}
}

func (r *RemoteRenderer) send(op bridgeOp) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.WriteJSON(op); err != nil {
		return fmt.Errorf("sending %s op: %w", op.Op, err)
	}
	return nil
}

// OnReady runs fn once the client has reported its style loaded. A
// renderer that is already ready invokes fn immediately.
func (r *RemoteRenderer) OnReady(fn func()) {
	r.mu.Lock()
	if r.ready {
		r.mu.Unlock()
		fn()
		return
	}
	r.readyFns = append(r.readyFns, fn)
	r.mu.Unlock()
}

// StyleLayers returns the basemap layers reported by the ready event.
func (r *RemoteRenderer) StyleLayers() []StyleLayer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	layers := make([]StyleLayer, len(r.styleLayers))
	copy(layers, r.styleLayers)
	return layers
}

// SourceExists reports whether this renderer has added the source.
func (r *RemoteRenderer) SourceExists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[id]
}

// AddSource creates a geojson source on the client.
func (r *RemoteRenderer) AddSource(id string, data *geojson.FeatureCollection) error {
	r.mu.Lock()
	if r.sources[id] {
		r.mu.Unlock()
		return fmt.Errorf("source %s already exists", id)
	}
	r.sources[id] = true
	r.mu.Unlock()

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling source data: %w", err)
	}
	return r.send(bridgeOp{Op: "addSource", ID: id, Data: payload})
}

// SetSourceData replaces the source's data wholesale.
func (r *RemoteRenderer) SetSourceData(id string, data *geojson.FeatureCollection) error {
	r.mu.RLock()
	exists := r.sources[id]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("source %s does not exist", id)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling source data: %w", err)
	}
	return r.send(bridgeOp{Op: "setData", ID: id, Data: payload})
}

// LayerExists reports whether this renderer has added the layer.
func (r *RemoteRenderer) LayerExists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.layers[id]
}

// AddLayer adds a style layer, beneath beforeID when non-empty.
func (r *RemoteRenderer) AddLayer(spec LayerSpec, beforeID string) error {
	r.mu.Lock()
	if r.layers[spec.ID] {
		r.mu.Unlock()
		return fmt.Errorf("layer %s already exists", spec.ID)
	}
	r.layers[spec.ID] = true
	r.mu.Unlock()

	return r.send(bridgeOp{Op: "addLayer", Layer: &spec, Before: beforeID})
}

// OnPointerMove registers the move handler for a layer. The first handler
// on a layer tells the client to start forwarding its pointer events.
func (r *RemoteRenderer) OnPointerMove(layerID string, fn PointerHandler) {
	r.mu.Lock()
	r.moveHandlers[layerID] = fn
	r.mu.Unlock()
	r.bindLayer(layerID)
}

// OnPointerLeave registers the leave handler for a layer.
func (r *RemoteRenderer) OnPointerLeave(layerID string, fn func()) {
	r.mu.Lock()
	r.leaveHandlers[layerID] = fn
	r.mu.Unlock()
	r.bindLayer(layerID)
}

// DetachPointerHandlers drops both pointer handlers for a layer and stops
// the client forwarding its events.
func (r *RemoteRenderer) DetachPointerHandlers(layerID string) {
	r.mu.Lock()
	delete(r.moveHandlers, layerID)
	delete(r.leaveHandlers, layerID)
	bound := r.boundLayers[layerID]
	delete(r.boundLayers, layerID)
	r.mu.Unlock()

	if bound {
		if err := r.send(bridgeOp{Op: "unbindPointer", ID: layerID}); err != nil {
			log.Printf("[DEBUG] bridge: unbind %s: %v", layerID, err)
		}
	}
}

func (r *RemoteRenderer) bindLayer(layerID string) {
	r.mu.Lock()
	if r.boundLayers[layerID] {
		r.mu.Unlock()
		return
	}
	r.boundLayers[layerID] = true
	r.mu.Unlock()

	if err := r.send(bridgeOp{Op: "bindPointer", ID: layerID}); err != nil {
		log.Printf("[DEBUG] bridge: bind %s: %v", layerID, err)
	}
}

// NewOverlay allocates a client-side overlay handle.
func (r *RemoteRenderer) NewOverlay() Overlay {
	r.mu.Lock()
	id := r.nextOverlay
	r.nextOverlay++
	r.mu.Unlock()
	return &RemoteOverlay{renderer: r, id: id}
}

// RemoteOverlay is a popup living in the map client. Position and content
// are staged until Attach; after Attach, updates are pushed immediately.
type RemoteOverlay struct {
	renderer *RemoteRenderer
	id       int

	mu       sync.Mutex
	pos      orb.Point
	html     string
	attached bool
}

// SetPosition stages or updates the anchor position.
func (o *RemoteOverlay) SetPosition(p orb.Point) {
	o.mu.Lock()
	o.pos = p
	attached := o.attached
	lngLat := [2]float64{p[0], p[1]}
	o.mu.Unlock()

	if attached {
		o.sendOp(bridgeOp{Op: "overlayUpdate", Overlay: o.id, LngLat: &lngLat})
	}
}

// SetHTML stages or updates the overlay body.
func (o *RemoteOverlay) SetHTML(html string) {
	o.mu.Lock()
	o.html = html
	attached := o.attached
	o.mu.Unlock()

	if attached {
		o.sendOp(bridgeOp{Op: "overlayUpdate", Overlay: o.id, HTML: html})
	}
}

// Attach shows the overlay on the client.
func (o *RemoteOverlay) Attach() {
	o.mu.Lock()
	o.attached = true
	lngLat := [2]float64{o.pos[0], o.pos[1]}
	html := o.html
	o.mu.Unlock()

	o.sendOp(bridgeOp{Op: "overlayShow", Overlay: o.id, LngLat: &lngLat, HTML: html})
}

// Remove removes the overlay from the client.
func (o *RemoteOverlay) Remove() {
	o.mu.Lock()
	o.attached = false
	o.mu.Unlock()

	o.sendOp(bridgeOp{Op: "overlayRemove", Overlay: o.id})
}

// sendOp logs rather than propagates; overlay ops race connection
// shutdown and a failed write on a dying socket is not actionable.
func (o *RemoteOverlay) sendOp(op bridgeOp) {
	if err := o.renderer.send(op); err != nil {
		log.Printf("[DEBUG] bridge: overlay %d: %v", o.id, err)
	}
}
