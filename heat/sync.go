package heat

import "github.com/paulmach/orb/geojson"

// SourceSync owns the single geo source for one view. The first Sync
// creates the source on the renderer; every later Sync replaces its data
// wholesale. There is no diffing or removal tracking: whatever the new
// collection holds is the whole truth.
type SourceSync struct {
	renderer Renderer
	source   string
	created  bool
}

// NewSourceSync returns a synchronizer for the given source id.
func NewSourceSync(r Renderer, source string) *SourceSync {
	return &SourceSync{renderer: r, source: source}
}

// Sync pushes the collection to the renderer. A nil collection is treated
// as empty so a cleared feed renders nothing rather than failing. When the
// source somehow survived a previous pipeline on the same style, Sync
// adopts it with a data replace instead of a duplicate add.
func (s *SourceSync) Sync(fc *geojson.FeatureCollection) error {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}

	if s.created {
		return s.renderer.SetSourceData(s.source, fc)
	}

	if s.renderer.SourceExists(s.source) {
		s.created = true
		return s.renderer.SetSourceData(s.source, fc)
	}
	if err := s.renderer.AddSource(s.source, fc); err != nil {
		return err
	}
	s.created = true
	return nil
}

// Created reports whether the source has been bound to the renderer.
func (s *SourceSync) Created() bool {
	return s.created
}
