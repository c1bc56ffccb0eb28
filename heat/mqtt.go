package heat

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTFeed delivers incident snapshots published to MQTT topics. It
// implements SnapshotSource. Snapshot publishers set the retained bit, so
// a fresh subscriber receives the current state as soon as the broker
// accepts the subscription.
type MQTTFeed struct {
	client mqtt.Client
	config *Config

	mu          sync.RWMutex
	isConnected bool
	handlers    map[string]SnapshotHandler
}

// NewMQTTFeed builds the feed client and starts connecting in the
// background with exponential backoff. Environment variables MQTT_BROKER,
// MQTT_CLIENT_ID, MQTT_USERNAME and MQTT_PASSWORD override the config
// file.
func NewMQTTFeed(config *Config) (*MQTTFeed, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = config.MQTT.Broker
	}
	if broker == "" {
		return nil, fmt.Errorf("mqtt.broker is required")
	}

	feed := &MQTTFeed{
		config:   config,
		handlers: make(map[string]SnapshotHandler),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = DefaultClientID
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	// Connection settings
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // Preserve subscriptions on reconnect
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(feed.onConnect)
	opts.SetConnectionLostHandler(feed.onConnectionLost)
	opts.SetReconnectingHandler(feed.onReconnecting)

	feed.client = mqtt.NewClient(opts)

	go feed.connectWithRetry()

	return feed, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (f *MQTTFeed) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := f.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				f.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// Subscribe registers fn for the topic and returns its cancellation
// handle. One handler per topic; fan-out to several consumers is the
// SnapshotHub's job.
func (f *MQTTFeed) Subscribe(path string, fn SnapshotHandler) (Subscription, error) {
	if path == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("handler is required")
	}

	f.mu.Lock()
	if _, exists := f.handlers[path]; exists {
		f.mu.Unlock()
		return nil, fmt.Errorf("already subscribed to %s", path)
	}
	f.handlers[path] = fn
	connected := f.isConnected
	f.mu.Unlock()

	if connected {
		f.subscribeTopic(path)
	}
	// Not connected yet: onConnect picks the topic up from the handler map.

	return &mqttSubscription{feed: f, topic: path}, nil
}

// subscribeTopic issues the broker subscription for an already-registered topic.
func (f *MQTTFeed) subscribeTopic(topic string) {
	log.Printf("[MQTT] subscribing to %s", topic)
	token := f.client.Subscribe(topic, 1, f.makeMessageHandler(topic))
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
	}
}

// makeMessageHandler decodes each payload on topic and hands the snapshot
// to the registered handler. Undecodable payloads are logged and dropped;
// the next good snapshot supersedes them anyway.
func (f *MQTTFeed) makeMessageHandler(topic string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("[DEBUG] mqtt: snapshot on %s (%d bytes)", msg.Topic(), len(payload))

		snap, err := DecodeSnapshot(payload)
		if err != nil {
			log.Printf("[MQTT] decoding snapshot on %s: %v", msg.Topic(), err)
			return
		}

		f.mu.RLock()
		fn := f.handlers[topic]
		f.mu.RUnlock()
		if fn != nil {
			fn(snap)
		}
	}
}

// onConnect is called on every (re)connect and (re)subscribes all
// registered topics.
func (f *MQTTFeed) onConnect(client mqtt.Client) {
	f.setConnected(true)

	f.mu.RLock()
	topics := make([]string, 0, len(f.handlers))
	for topic := range f.handlers {
		topics = append(topics, topic)
	}
	f.mu.RUnlock()

	if len(topics) > 0 {
		log.Printf("[MQTT] connected, subscribing to %d topic(s)", len(topics))
	}
	for _, topic := range topics {
		f.subscribeTopic(topic)
	}
}

// onConnectionLost is typically transient; auto-reconnect retries.
func (f *MQTTFeed) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	f.setConnected(false)
}

func (f *MQTTFeed) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

// IsConnected returns true if the feed is connected to the broker.
func (f *MQTTFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.isConnected
}

func (f *MQTTFeed) setConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isConnected = connected
}

// Client returns the underlying MQTT client for publishing.
func (f *MQTTFeed) Client() mqtt.Client {
	return f.client
}

// Disconnect gracefully closes the MQTT connection.
func (f *MQTTFeed) Disconnect() {
	if f.client != nil && f.client.IsConnected() {
		log.Println("[MQTT] disconnecting...")
		f.client.Disconnect(250) // 250ms quiesce time
		f.setConnected(false)
	}
}

// mqttSubscription cancels one topic registration.
type mqttSubscription struct {
	feed  *MQTTFeed
	topic string

	mu       sync.Mutex
	canceled bool
}

// Cancel unsubscribes from the broker and drops the handler so a
// reconnect does not resurrect the subscription. Idempotent.
func (s *mqttSubscription) Cancel() error {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return nil
	}
	s.canceled = true
	s.mu.Unlock()

	s.feed.mu.Lock()
	delete(s.feed.handlers, s.topic)
	connected := s.feed.isConnected
	s.feed.mu.Unlock()

	if !connected {
		return nil
	}
	token := s.feed.client.Unsubscribe(s.topic)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("unsubscribing from %s: %w", s.topic, token.Error())
	}
	return nil
}

// newMQTTFeedWithMock creates an MQTTFeed with a provided mqtt.Client.
// This is used for testing with mock clients.
func newMQTTFeedWithMock(client mqtt.Client, config *Config) *MQTTFeed {
	return &MQTTFeed{
		client:   client,
		config:   config,
		handlers: make(map[string]SnapshotHandler),
	}
}
