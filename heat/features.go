package heat

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Property keys attached to every validated feature.
const (
	PropCounty = "county"
	PropTime   = "time"
	PropTitle  = "title"
	PropWeight = "weight"
)

// MissingText is the display default for absent county/time/title values.
const MissingText = "N/A"

// ValidateSnapshot filters a raw snapshot into renderable point features.
// A record is kept iff both its lat and lon parse to finite numbers; the
// geometry is emitted in (longitude, latitude) axis order. Absent
// county/time/title values fall back to "N/A" and every feature carries
// weight 1. Malformed records are dropped without error, and a nil or
// empty snapshot yields an empty collection, which is valid input
// downstream.
//
// Records are emitted in sorted id order so identical snapshots always
// produce identical collections.
func ValidateSnapshot(snap Snapshot) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, id := range sortedIDs(snap) {
		rec := snap[id]
		lat, ok := parseCoordinate(rec["lat"])
		if !ok {
			continue
		}
		lon, ok := parseCoordinate(rec["lon"])
		if !ok {
			continue
		}

		f := geojson.NewFeature(orb.Point{lon, lat})
		f.ID = id
		f.Properties[PropCounty] = textField(rec, PropCounty)
		f.Properties[PropTime] = textField(rec, PropTime)
		f.Properties[PropTitle] = textField(rec, PropTitle)
		f.Properties[PropWeight] = 1
		fc.Append(f)
	}

	return fc
}

// parseCoordinate converts a raw lat/lon value to a finite float64. The
// feed delivers numbers and numeric strings interchangeably; NaN and the
// infinities are rejected in both forms.
func parseCoordinate(v any) (float64, bool) {
	var f float64

	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// textField returns the record's display text for key, or "N/A" when the
// field is absent or empty. Non-string values are stringified rather than
// dropped since they only feed the tooltip.
func textField(rec RawRecord, key string) string {
	v, ok := rec[key]
	if !ok || v == nil {
		return MissingText
	}
	if s, isStr := v.(string); isStr {
		if s == "" {
			return MissingText
		}
		return s
	}
	return fmt.Sprint(v)
}

func sortedIDs(snap Snapshot) []string {
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CollectionBounds returns the bounding box over all point features.
// ok is false when the collection has no points.
func CollectionBounds(fc *geojson.FeatureCollection) (orb.Bound, bool) {
	var bound orb.Bound
	found := false

	if fc == nil {
		return bound, false
	}
	for _, f := range fc.Features {
		p, isPoint := f.Geometry.(orb.Point)
		if !isPoint {
			continue
		}
		if !found {
			bound = p.Bound()
			found = true
			continue
		}
		bound = bound.Union(p.Bound())
	}

	return bound, found
}
