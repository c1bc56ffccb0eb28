package heat

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadConfig when the file leaves them unset.
const (
	DefaultHTTPPort    = 8080
	DefaultClientID    = "incidentmap"
	DefaultPollSeconds = 10
	DefaultStyleURL    = "https://demotiles.maplibre.org/style.json"
	DefaultZoom        = 9
)

// LoadConfig loads the configuration from a YAML file, applies defaults
// and validates that exactly the fields the configured transport needs are
// present.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&config)

	// Validate required fields
	if config.MQTT.Broker == "" && config.Feed.URL == "" {
		return nil, fmt.Errorf("either mqtt.broker or feed.url is required")
	}
	if config.MQTT.Broker != "" && config.Feed.Topic == "" {
		return nil, fmt.Errorf("feed.topic is required when mqtt.broker is set")
	}
	if config.HTTP.Port <= 0 || config.HTTP.Port > 65535 {
		return nil, fmt.Errorf("http.port %d is out of range", config.HTTP.Port)
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

func applyDefaults(config *Config) {
	if config.HTTP.Port == 0 {
		config.HTTP.Port = DefaultHTTPPort
	}
	if config.MQTT.ClientID == "" {
		config.MQTT.ClientID = DefaultClientID
	}
	if config.Feed.PollSeconds <= 0 {
		config.Feed.PollSeconds = DefaultPollSeconds
	}
	if config.Map.StyleURL == "" {
		config.Map.StyleURL = DefaultStyleURL
	}
	if config.Map.Zoom == 0 {
		config.Map.Zoom = DefaultZoom
	}
}
