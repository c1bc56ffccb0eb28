package heat

// RawRecord is the unvalidated key/value payload for one incident as it
// arrives from the backend feed. The fields of interest are lat, lon,
// county, time and title; anything else rides along untouched.
type RawRecord map[string]any

// Snapshot is the full keyed record set the feed delivers on every change.
// It is always the whole truth, never a delta. Nil means "no data yet".
type Snapshot map[string]RawRecord

// Config represents the full configuration file
type Config struct {
	MQTT MQTTConfig `yaml:"mqtt" json:"mqtt"`
	Feed FeedConfig `yaml:"feed" json:"feed"`
	HTTP HTTPConfig `yaml:"http" json:"http"`
	Map  MapConfig  `yaml:"map" json:"map"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker   string `yaml:"broker,omitempty" json:"broker,omitempty"`
	ClientID string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// FeedConfig describes where the incident snapshot feed comes from.
// Topic is the MQTT topic carrying the snapshot JSON (published retained).
// URL and PollSeconds configure the HTTP polling fallback used when no
// broker is configured.
type FeedConfig struct {
	Topic       string `yaml:"topic,omitempty" json:"topic,omitempty"`
	URL         string `yaml:"url,omitempty" json:"url,omitempty"`
	PollSeconds int    `yaml:"pollSeconds,omitempty" json:"pollSeconds,omitempty"`
}

// HTTPConfig holds the embedded HTTP server settings
type HTTPConfig struct {
	Port int `yaml:"port,omitempty" json:"port,omitempty"`
}

// MapConfig holds the initial client view: basemap style URL plus the
// starting center and zoom. Center is (longitude, latitude).
type MapConfig struct {
	StyleURL string     `yaml:"styleUrl,omitempty" json:"styleUrl,omitempty"`
	Center   [2]float64 `yaml:"center,omitempty" json:"center,omitempty"`
	Zoom     float64    `yaml:"zoom,omitempty" json:"zoom,omitempty"`
}

// UsesMQTT reports whether the snapshot feed runs over MQTT. When false
// the HTTP polling fallback is used instead.
func (c *Config) UsesMQTT() bool {
	return c.MQTT.Broker != ""
}

// FeedPath returns the subscription path for the configured transport:
// the MQTT topic, or the poll URL for the HTTP fallback.
func (c *Config) FeedPath() string {
	if c.UsesMQTT() {
		return c.Feed.Topic
	}
	return c.Feed.URL
}
