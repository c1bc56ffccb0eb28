package heat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
)

// SnapshotHandler consumes each full snapshot delivered by a feed.
type SnapshotHandler func(Snapshot)

// Subscription is one live feed registration. Cancel releases it; after
// Cancel returns, no further snapshots are delivered to the handler.
type Subscription interface {
	Cancel() error
}

// SnapshotSource delivers the current full snapshot to a handler on
// subscribe and again on every subsequent change.
type SnapshotSource interface {
	Subscribe(path string, fn SnapshotHandler) (Subscription, error)
}

// DecodeSnapshot parses a feed payload. JSON null and empty payloads mean
// "no data yet" and decode to an empty snapshot, not an error.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Snapshot{}, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(trimmed, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot JSON: %w", err)
	}
	if snap == nil {
		return Snapshot{}, nil
	}
	return snap, nil
}

// ReadSnapshotFile loads a snapshot from a JSON file on disk.
func ReadSnapshotFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return DecodeSnapshot(data)
}

// SnapshotSummary reports what validation makes of one snapshot.
type SnapshotSummary struct {
	Records   int
	Features  int
	Dropped   int
	Bounds    orb.Bound
	HasBounds bool
}

// Summarize validates a snapshot and gathers the headline numbers.
func Summarize(snap Snapshot) SnapshotSummary {
	fc := ValidateSnapshot(snap)
	summary := SnapshotSummary{
		Records:  len(snap),
		Features: len(fc.Features),
	}
	summary.Dropped = summary.Records - summary.Features
	summary.Bounds, summary.HasBounds = CollectionBounds(fc)
	return summary
}
