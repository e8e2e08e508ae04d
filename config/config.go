// Package config loads and validates the bridge configuration from YAML.
// Configuration errors are fatal at startup only; nothing here is reloaded
// at runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mawinkler/astrolive/errors"
	"github.com/mawinkler/astrolive/observatory"
)

// Duration wraps time.Duration with YAML string parsing ("5s", "1m30s")
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete bridge configuration
type Config struct {
	Observatory ObservatoryConfig `yaml:"observatory"`
	Alpaca      AlpacaConfig      `yaml:"alpaca"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Components  []ComponentConfig `yaml:"components"`
}

// ObservatoryConfig identifies the site
type ObservatoryConfig struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Elevation float64 `yaml:"elevation"`
}

// AlpacaConfig describes the device API endpoint
type AlpacaConfig struct {
	BaseURL  string   `yaml:"base_url"`
	ClientID int      `yaml:"client_id"`
	Timeout  Duration `yaml:"timeout"`
}

// MQTTConfig describes the bus broker connection
type MQTTConfig struct {
	Broker          string        `yaml:"broker"`
	ClientID        string        `yaml:"client_id"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	TLS             MQTTTLSConfig `yaml:"tls"`
	DiscoveryPrefix string        `yaml:"discovery_prefix"`
	// QoS is a pointer so an explicit 0 survives defaulting
	QoS     *byte    `yaml:"qos"`
	Timeout Duration `yaml:"timeout"`
}

// QoSLevel returns the configured QoS, or the default before defaulting ran
func (m MQTTConfig) QoSLevel() byte {
	if m.QoS == nil {
		return defaultQoS
	}
	return *m.QoS
}

// MQTTTLSConfig describes broker TLS options
type MQTTTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CAFile   string `yaml:"ca_file"`
	Insecure bool   `yaml:"insecure"`
}

// MetricsConfig describes the Prometheus exposition endpoint
type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// ComponentConfig describes one device to bridge
type ComponentConfig struct {
	ID             string   `yaml:"id"`
	Kind           string   `yaml:"kind"`
	DeviceNumber   int      `yaml:"device_number"`
	FriendlyName   string   `yaml:"friendly_name"`
	UpdateInterval Duration `yaml:"update_interval"`
	// Monitor is the watched directory root for camera_file components
	Monitor string `yaml:"monitor"`
}

// Default values applied before validation
const (
	defaultAlpacaBaseURL  = "http://localhost:11111/api/v1"
	defaultAlpacaTimeout  = 30 * time.Second
	defaultMQTTTimeout    = 10 * time.Second
	defaultUpdateInterval = 30 * time.Second
	defaultPrefix         = "homeassistant"
	defaultQoS            = 1
)

// Load reads, defaults and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "reading configuration file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "parsing configuration file")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Alpaca.BaseURL == "" {
		c.Alpaca.BaseURL = defaultAlpacaBaseURL
	}
	if c.Alpaca.ClientID == 0 {
		c.Alpaca.ClientID = 1
	}
	if c.Alpaca.Timeout == 0 {
		c.Alpaca.Timeout = Duration(defaultAlpacaTimeout)
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "astrolive"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = defaultPrefix
	}
	if c.MQTT.QoS == nil {
		qos := byte(defaultQoS)
		c.MQTT.QoS = &qos
	}
	if c.MQTT.Timeout == 0 {
		c.MQTT.Timeout = Duration(defaultMQTTTimeout)
	}
	for i := range c.Components {
		if c.Components[i].UpdateInterval == 0 {
			c.Components[i].UpdateInterval = Duration(defaultUpdateInterval)
		}
		if c.Components[i].FriendlyName == "" {
			c.Components[i].FriendlyName = c.Components[i].ID
		}
	}
}

// Validate checks the configuration for startup-fatal problems
func (c *Config) Validate() error {
	if c.Observatory.Name == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "observatory name")
	}
	if c.MQTT.Broker == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "mqtt broker address")
	}
	if len(c.Components) == 0 {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "component list")
	}
	if c.MQTT.QoSLevel() > 2 {
		return errors.WrapFatal(
			fmt.Errorf("mqtt qos %d out of range [0, 2]", c.MQTT.QoSLevel()),
			"config", "Validate", "mqtt qos")
	}

	seen := make(map[string]struct{}, len(c.Components))
	for _, comp := range c.Components {
		kind := observatory.Kind(comp.Kind)
		if !kind.Valid() {
			return errors.WrapFatal(
				fmt.Errorf("component %q: unknown kind %q", comp.ID, comp.Kind),
				"config", "Validate", "component kind")
		}
		if comp.ID == "" {
			return errors.WrapFatal(
				fmt.Errorf("component of kind %q has no id", comp.Kind),
				"config", "Validate", "component id")
		}
		if _, dup := seen[comp.ID]; dup {
			return errors.WrapFatal(
				fmt.Errorf("duplicate component id %q", comp.ID),
				"config", "Validate", "component id uniqueness")
		}
		seen[comp.ID] = struct{}{}

		if kind == observatory.KindCameraFile && comp.Monitor == "" {
			return errors.WrapFatal(
				fmt.Errorf("component %q: camera_file requires a monitor directory", comp.ID),
				"config", "Validate", "monitor directory")
		}
		if comp.UpdateInterval.Std() < time.Second {
			return errors.WrapFatal(
				fmt.Errorf("component %q: update_interval below 1s", comp.ID),
				"config", "Validate", "update interval")
		}
	}
	return nil
}

// BuildObservatory constructs the immutable device tree from configuration
func (c *Config) BuildObservatory() (*observatory.Observatory, error) {
	obs := &observatory.Observatory{
		Name: c.Observatory.Name,
		Location: observatory.Location{
			Latitude:  c.Observatory.Latitude,
			Longitude: c.Observatory.Longitude,
			Elevation: c.Observatory.Elevation,
		},
	}
	for _, comp := range c.Components {
		component, err := observatory.NewComponent(
			comp.ID,
			observatory.Kind(comp.Kind),
			comp.DeviceNumber,
			comp.FriendlyName,
			comp.UpdateInterval.Std(),
		)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "BuildObservatory", "component construction")
		}
		component.MonitorPath = comp.Monitor
		obs.Components = append(obs.Components, component)
	}
	return obs, nil
}
