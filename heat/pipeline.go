package heat

import (
	"log"
	"sync"
)

// Pipeline wires one view: once the renderer is ready it subscribes to the
// snapshot feed and runs validate -> sync -> (first time) layer
// provisioning -> (first time) hover binding for every snapshot.
// Construct with NewPipeline, call Start, and always Close when the view
// goes away.
type Pipeline struct {
	feed     SnapshotSource
	renderer Renderer
	path     string

	source *SourceSync
	layers *LayerProvisioner
	hover  *HoverController

	mu     sync.Mutex
	sub    Subscription
	bound  bool
	closed bool
}

// NewPipeline builds a pipeline around injected collaborators. Nothing is
// touched until Start.
func NewPipeline(feed SnapshotSource, renderer Renderer, path string) *Pipeline {
	return &Pipeline{
		feed:     feed,
		renderer: renderer,
		path:     path,
		source:   NewSourceSync(renderer, SourceID),
		layers:   NewLayerProvisioner(renderer, SourceID),
		hover:    NewHoverController(renderer),
	}
}

// Start registers the renderer-ready hook. Subscribing only from the ready
// callback guarantees the renderer is never asked for sources or layers
// before it can accept them.
func (p *Pipeline) Start() {
	p.renderer.OnReady(p.onReady)
}

func (p *Pipeline) onReady() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.sub != nil {
		return
	}
	sub, err := p.feed.Subscribe(p.path, p.handleSnapshot)
	if err != nil {
		log.Printf("[PIPELINE] subscribing to %s: %v", p.path, err)
		return
	}
	p.sub = sub
}

// handleSnapshot runs one snapshot through the chain. The mutex keeps
// snapshots processed one at a time in delivery order and fences off
// callbacks that arrive after Close.
func (p *Pipeline) handleSnapshot(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	fc := ValidateSnapshot(snap)
	SnapshotsTotal.Inc()
	RecordsValidatedTotal.Add(float64(len(fc.Features)))
	if dropped := len(snap) - len(fc.Features); dropped > 0 {
		RecordsDroppedTotal.Add(float64(dropped))
		log.Printf("[DEBUG] pipeline: dropped %d of %d records", dropped, len(snap))
	}
	FeaturesActive.Set(float64(len(fc.Features)))

	if err := p.source.Sync(fc); err != nil {
		log.Printf("[PIPELINE] syncing %d features: %v", len(fc.Features), err)
		return
	}
	if err := p.layers.Ensure(); err != nil {
		log.Printf("[PIPELINE] provisioning layers: %v", err)
		return
	}
	if !p.bound {
		p.hover.Bind(InteractionLayerID)
		p.bound = true
	}
}

// Hover exposes the view's hover controller, mainly for inspection.
func (p *Pipeline) Hover() *HoverController {
	return p.hover
}

// Close cancels the feed subscription, detaches the pipeline's pointer
// handlers and removes any tooltip. Safe to call more than once; after
// Close returns, a snapshot or pointer callback still in flight has no
// effect.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sub := p.sub
	p.sub = nil
	bound := p.bound
	p.mu.Unlock()

	// Cancel outside the mutex: the feed may be mid-delivery into
	// handleSnapshot, which needs the mutex to observe closed.
	if sub != nil {
		if err := sub.Cancel(); err != nil {
			log.Printf("[PIPELINE] cancelling subscription to %s: %v", p.path, err)
		}
	}
	if bound {
		p.renderer.DetachPointerHandlers(InteractionLayerID)
	}
	p.hover.Reset()
}
