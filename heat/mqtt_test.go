package heat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func feedConfig(broker string) *Config {
	return &Config{
		MQTT: MQTTConfig{Broker: broker},
		Feed: FeedConfig{Topic: "incidents/snapshot"},
	}
}

func TestNewMQTTFeed_NilConfig(t *testing.T) {
	_, err := NewMQTTFeed(nil)
	assert.Error(t, err)
}

func TestNewMQTTFeed_NoBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	_, err := NewMQTTFeed(feedConfig(""))
	assert.Error(t, err)
}

func TestNewMQTTFeed_BrokerFromEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://localhost:1883")

	feed, err := NewMQTTFeed(feedConfig(""))
	if err != nil {
		t.Fatalf("NewMQTTFeed with env broker: %v", err)
	}
	feed.Disconnect()
}

// TestNewMQTTFeed_ReturnsImmediately ensures construction doesn't block on
// the broker; connection happens in a background goroutine.
func TestNewMQTTFeed_ReturnsImmediately(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	start := time.Now()
	feed, err := NewMQTTFeed(feedConfig("tcp://localhost:1883"))
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("NewMQTTFeed: %v", err)
	}
	if duration > 100*time.Millisecond {
		t.Errorf("NewMQTTFeed took %v, should return immediately", duration)
	}
	feed.Disconnect()
}

func TestMQTTFeed_IsConnected(t *testing.T) {
	feed := newMQTTFeedWithMock(NewMockClient(), feedConfig("tcp://test:1883"))

	assert.False(t, feed.IsConnected(), "new feed should not be connected")

	feed.setConnected(true)
	assert.True(t, feed.IsConnected())

	feed.setConnected(false)
	assert.False(t, feed.IsConnected())
}

func TestMQTTFeed_SubscribeValidation(t *testing.T) {
	feed := newMQTTFeedWithMock(NewMockClient(), feedConfig("tcp://test:1883"))

	_, err := feed.Subscribe("", func(Snapshot) {})
	assert.Error(t, err, "empty topic must be rejected")

	_, err = feed.Subscribe("incidents/snapshot", nil)
	assert.Error(t, err, "nil handler must be rejected")

	sub, err := feed.Subscribe("incidents/snapshot", func(Snapshot) {})
	assert.NoError(t, err)
	defer sub.Cancel()

	_, err = feed.Subscribe("incidents/snapshot", func(Snapshot) {})
	assert.Error(t, err, "duplicate topic must be rejected")
}

func TestMQTTFeed_SubscribeWhileConnected(t *testing.T) {
	mockClient := NewMockClient()
	mockClient.SetConnected(true)

	feed := newMQTTFeedWithMock(mockClient, feedConfig("tcp://test:1883"))
	feed.setConnected(true)

	var mu sync.Mutex
	var got Snapshot
	sub, err := feed.Subscribe("incidents/snapshot", func(snap Snapshot) {
		mu.Lock()
		got = snap
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel()

	topics := mockClient.SubscribedTopics()
	if len(topics) != 1 || topics[0] != "incidents/snapshot" {
		t.Fatalf("SubscribedTopics = %v, want [incidents/snapshot]", topics)
	}
	// Snapshots ride QoS 1: retained delivery must survive broker restarts.
	qos, ok := mockClient.SubscribedQoS("incidents/snapshot")
	if !ok || qos != 1 {
		t.Errorf("QoS = %d (present %v), want 1", qos, ok)
	}

	mockClient.SimulateMessage("incidents/snapshot",
		[]byte(`{"a": {"lat": "1.0", "lon": "2.0", "county": "X"}}`))

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("handler not called")
	}
	if len(got) != 1 {
		t.Errorf("len(snapshot) = %d, want 1", len(got))
	}
	if got["a"]["county"] != "X" {
		t.Errorf("a.county = %v, want %q", got["a"]["county"], "X")
	}
}

func TestMQTTFeed_SubscribeBeforeConnect(t *testing.T) {
	mockClient := NewMockClient()
	feed := newMQTTFeedWithMock(mockClient, feedConfig("tcp://test:1883"))

	called := false
	sub, err := feed.Subscribe("incidents/snapshot", func(Snapshot) { called = true })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel()

	// Not connected yet: nothing reaches the broker.
	if topics := mockClient.SubscribedTopics(); len(topics) != 0 {
		t.Fatalf("SubscribedTopics = %v before connect, want none", topics)
	}

	// onConnect picks up the registered topic.
	mockClient.SetConnected(true)
	feed.onConnect(mockClient)

	topics := mockClient.SubscribedTopics()
	if len(topics) != 1 || topics[0] != "incidents/snapshot" {
		t.Fatalf("SubscribedTopics = %v after connect, want [incidents/snapshot]", topics)
	}

	mockClient.SimulateMessage("incidents/snapshot", []byte(`{}`))
	assert.True(t, called, "handler not called after deferred subscription")
}

func TestMQTTFeed_MalformedPayloadDropped(t *testing.T) {
	mockClient := NewMockClient()
	mockClient.SetConnected(true)

	feed := newMQTTFeedWithMock(mockClient, feedConfig("tcp://test:1883"))
	feed.setConnected(true)

	calls := 0
	sub, err := feed.Subscribe("incidents/snapshot", func(Snapshot) { calls++ })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel()

	mockClient.SimulateMessage("incidents/snapshot", []byte(`{"broken`))
	if calls != 0 {
		t.Errorf("calls = %d after malformed payload, want 0", calls)
	}

	// The next good snapshot goes through.
	mockClient.SimulateMessage("incidents/snapshot", []byte(`{"a": {"lat": "1", "lon": "2"}}`))
	if calls != 1 {
		t.Errorf("calls = %d after good payload, want 1", calls)
	}
}

func TestMQTTFeed_NullPayloadMeansEmpty(t *testing.T) {
	mockClient := NewMockClient()
	mockClient.SetConnected(true)

	feed := newMQTTFeedWithMock(mockClient, feedConfig("tcp://test:1883"))
	feed.setConnected(true)

	var got Snapshot
	called := false
	sub, err := feed.Subscribe("incidents/snapshot", func(snap Snapshot) {
		got = snap
		called = true
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel()

	// A retained null is "no data yet": delivered as empty, not dropped.
	mockClient.SimulateMessage("incidents/snapshot", []byte(`null`))

	if !called {
		t.Fatal("handler not called for null payload")
	}
	if got == nil || len(got) != 0 {
		t.Errorf("snapshot = %v, want empty", got)
	}
}

func TestMQTTSubscription_Cancel(t *testing.T) {
	mockClient := NewMockClient()
	mockClient.SetConnected(true)

	feed := newMQTTFeedWithMock(mockClient, feedConfig("tcp://test:1883"))
	feed.setConnected(true)

	calls := 0
	sub, err := feed.Subscribe("incidents/snapshot", func(Snapshot) { calls++ })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := sub.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	unsubscribed := mockClient.Unsubscribed()
	if len(unsubscribed) != 1 || unsubscribed[0] != "incidents/snapshot" {
		t.Errorf("Unsubscribed = %v, want [incidents/snapshot]", unsubscribed)
	}

	mockClient.SimulateMessage("incidents/snapshot", []byte(`{}`))
	if calls != 0 {
		t.Errorf("calls = %d after Cancel, want 0", calls)
	}

	// A reconnect must not resurrect the cancelled topic.
	feed.onConnect(mockClient)
	if topics := mockClient.SubscribedTopics(); len(topics) != 0 {
		t.Errorf("SubscribedTopics = %v after reconnect, want none", topics)
	}

	// Idempotent.
	if err := sub.Cancel(); err != nil {
		t.Errorf("second Cancel: %v", err)
	}
	if got := len(mockClient.Unsubscribed()); got != 1 {
		t.Errorf("len(Unsubscribed) = %d after second Cancel, want 1", got)
	}
}

func TestMQTTSubscription_CancelWhileDisconnected(t *testing.T) {
	mockClient := NewMockClient()
	feed := newMQTTFeedWithMock(mockClient, feedConfig("tcp://test:1883"))

	sub, err := feed.Subscribe("incidents/snapshot", func(Snapshot) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Disconnected: the handler is dropped locally, no broker call.
	if err := sub.Cancel(); err != nil {
		t.Fatalf("Cancel while disconnected: %v", err)
	}
	if got := mockClient.Unsubscribed(); len(got) != 0 {
		t.Errorf("Unsubscribed = %v, want none", got)
	}

	mockClient.SetConnected(true)
	feed.onConnect(mockClient)
	if topics := mockClient.SubscribedTopics(); len(topics) != 0 {
		t.Errorf("SubscribedTopics = %v, want none (cancelled before connect)", topics)
	}
}

func TestMQTTFeed_ReconnectResubscribes(t *testing.T) {
	mockClient := NewMockClient()
	mockClient.SetConnected(true)

	feed := newMQTTFeedWithMock(mockClient, feedConfig("tcp://test:1883"))
	feed.setConnected(true)

	sub, err := feed.Subscribe("incidents/snapshot", func(Snapshot) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel()

	feed.onConnectionLost(mockClient, assert.AnError)
	assert.False(t, feed.IsConnected())

	feed.onConnect(mockClient)
	assert.True(t, feed.IsConnected())

	topics := mockClient.SubscribedTopics()
	if len(topics) != 1 || topics[0] != "incidents/snapshot" {
		t.Errorf("SubscribedTopics = %v after reconnect, want [incidents/snapshot]", topics)
	}
}

func TestMQTTFeed_ConcurrentConnectionState(t *testing.T) {
	feed := newMQTTFeedWithMock(NewMockClient(), feedConfig("tcp://test:1883"))

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				feed.setConnected(j%2 == 0)
				_ = feed.IsConnected()
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	// No race = success
}

func BenchmarkMakeMessageHandler(b *testing.B) {
	feed := newMQTTFeedWithMock(NewMockClient(), feedConfig("tcp://test:1883"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = feed.makeMessageHandler("incidents/snapshot")
	}
}
