package heat

import (
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestSnapshotHub_Run(t *testing.T) {
	feed := &stubFeed{}
	hub := NewSnapshotHub(feed, "incidents/topic")

	if err := hub.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := feed.liveHandlers(); got != 1 {
		t.Errorf("liveHandlers = %d, want 1", got)
	}
	if paths := feed.subscribedPaths(); len(paths) != 1 || paths[0] != "incidents/topic" {
		t.Errorf("subscribedPaths = %v, want [incidents/topic]", paths)
	}

	if err := hub.Run(); err == nil {
		t.Error("second Run succeeded, want error")
	}
}

func TestSnapshotHub_RunUpstreamError(t *testing.T) {
	feed := &stubFeed{subErr: errTest("broker unavailable")}
	hub := NewSnapshotHub(feed, "incidents/topic")

	if err := hub.Run(); err == nil {
		t.Fatal("Run succeeded with failing upstream, want error")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

// ---------------------------------------------------------------------------
// Subscribe and fan-out
// ---------------------------------------------------------------------------

func TestSnapshotHub_CachedSnapshotDeliveredOnSubscribe(t *testing.T) {
	feed := &stubFeed{}
	hub := NewSnapshotHub(feed, "incidents/topic")
	if err := hub.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	feed.deliver(Snapshot{"a": {"lat": "1", "lon": "2"}})

	var got Snapshot
	calls := 0
	sub, err := hub.Subscribe("", func(snap Snapshot) {
		got = snap
		calls++
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel()

	// Delivery happens before Subscribe returns.
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (cached snapshot delivered synchronously)", calls)
	}
	if len(got) != 1 {
		t.Errorf("len(snapshot) = %d, want 1", len(got))
	}
}

func TestSnapshotHub_NoSnapshotNoImmediateDelivery(t *testing.T) {
	feed := &stubFeed{}
	hub := NewSnapshotHub(feed, "incidents/topic")
	if err := hub.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := 0
	sub, err := hub.Subscribe("", func(Snapshot) { calls++ })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel()

	if calls != 0 {
		t.Errorf("calls = %d before any upstream snapshot, want 0", calls)
	}

	if _, ok := hub.Last(); ok {
		t.Error("Last() ok = true before any snapshot, want false")
	}
}

func TestSnapshotHub_FanOutInRegistrationOrder(t *testing.T) {
	feed := &stubFeed{}
	hub := NewSnapshotHub(feed, "incidents/topic")
	if err := hub.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var mu sync.Mutex
	var order []string
	subscribe := func(name string) Subscription {
		sub, err := hub.Subscribe("", func(Snapshot) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Subscribe %s: %v", name, err)
		}
		return sub
	}

	first := subscribe("first")
	second := subscribe("second")
	third := subscribe("third")
	defer first.Cancel()
	defer second.Cancel()
	defer third.Cancel()

	if got := hub.Subscribers(); got != 3 {
		t.Fatalf("Subscribers() = %d, want 3", got)
	}

	feed.deliver(Snapshot{"a": {"lat": "1", "lon": "2"}})

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("len(order) = %d, want 3", len(order))
	}
	for i, want := range []string{"first", "second", "third"} {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestSnapshotHub_CancelStopsDelivery(t *testing.T) {
	feed := &stubFeed{}
	hub := NewSnapshotHub(feed, "incidents/topic")
	if err := hub.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := 0
	sub, err := hub.Subscribe("", func(Snapshot) { calls++ })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	feed.deliver(Snapshot{"a": {"lat": "1", "lon": "2"}})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	if err := sub.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := hub.Subscribers(); got != 0 {
		t.Errorf("Subscribers() = %d after Cancel, want 0", got)
	}

	feed.deliver(Snapshot{"b": {"lat": "3", "lon": "4"}})
	if calls != 1 {
		t.Errorf("calls = %d after Cancel, want 1", calls)
	}

	// The hub still caches for future subscribers.
	if snap, ok := hub.Last(); !ok || len(snap) != 1 {
		t.Errorf("Last() = %v, %v; want cached single-record snapshot", snap, ok)
	}
}

func TestSnapshotHub_NilHandlerRejected(t *testing.T) {
	hub := NewSnapshotHub(&stubFeed{}, "incidents/topic")
	if _, err := hub.Subscribe("", nil); err == nil {
		t.Error("Subscribe(nil) succeeded, want error")
	}
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

func TestSnapshotHub_Close(t *testing.T) {
	feed := &stubFeed{}
	hub := NewSnapshotHub(feed, "incidents/topic")
	if err := hub.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := 0
	if _, err := hub.Subscribe("", func(Snapshot) { calls++ }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	hub.Close()

	if got := feed.cancelCount(); got != 1 {
		t.Errorf("cancelCount = %d, want 1 (upstream released)", got)
	}
	if got := hub.Subscribers(); got != 0 {
		t.Errorf("Subscribers() = %d after Close, want 0", got)
	}

	// Late upstream delivery is dropped.
	feed.deliver(Snapshot{"a": {"lat": "1", "lon": "2"}})
	if calls != 0 {
		t.Errorf("calls = %d after Close, want 0", calls)
	}

	if _, err := hub.Subscribe("", func(Snapshot) {}); err == nil {
		t.Error("Subscribe after Close succeeded, want error")
	}
	if err := hub.Run(); err == nil {
		t.Error("Run after Close succeeded, want error")
	}

	// Close again is a no-op.
	hub.Close()
	if got := feed.cancelCount(); got != 1 {
		t.Errorf("cancelCount = %d after second Close, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// concurrency
// ---------------------------------------------------------------------------

func TestSnapshotHub_ConcurrentAccess(t *testing.T) {
	feed := &stubFeed{}
	hub := NewSnapshotHub(feed, "incidents/topic")
	if err := hub.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	const goroutines = 50
	const iterations = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				switch (id + i) % 4 {
				case 0:
					sub, err := hub.Subscribe("", func(Snapshot) {})
					if err == nil {
						_ = sub.Cancel()
					}
				case 1:
					feed.deliver(Snapshot{
						"r": {"lat": "1", "lon": "2"},
					})
				case 2:
					hub.Last()
				case 3:
					hub.Subscribers()
				}
			}
		}(g)
	}

	wg.Wait()

	// Sanity: every transient subscriber cancelled itself.
	if got := hub.Subscribers(); got != 0 {
		t.Errorf("Subscribers() = %d after hammer, want 0", got)
	}
	if snap, ok := hub.Last(); !ok || len(snap) != 1 {
		t.Errorf("Last() = %v, %v; want the delivered snapshot", snap, ok)
	}
}
