package heat

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher pushes incident snapshots to the feed topic. Messages go out
// retained so a subscriber arriving later still receives the current
// state immediately. Used by the -simulate mode and by tests.
type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
	retain bool
}

// NewPublisher creates a publisher for the given topic.
func NewPublisher(client mqtt.Client, topic string) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		qos:    1,
		retain: true,
	}
}

// PublishSnapshot marshals and publishes the full snapshot.
func (p *Publisher) PublishSnapshot(snap Snapshot) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("publish snapshot: not connected")
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	token := p.client.Publish(p.topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing snapshot to %s: %w", p.topic, token.Error())
	}
	return nil
}

// Clear publishes an empty retained payload, which deletes the retained
// snapshot from the broker.
func (p *Publisher) Clear() error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("clear snapshot: not connected")
	}

	token := p.client.Publish(p.topic, p.qos, true, []byte{})
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("clearing retained snapshot on %s: %w", p.topic, token.Error())
	}
	return nil
}
