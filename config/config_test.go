package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mawinkler/astrolive/errors"
	"github.com/mawinkler/astrolive/observatory"
)

const validYAML = `
observatory:
  name: Backyard Observatory
  latitude: 48.137
  longitude: 11.575
  elevation: 520
alpaca:
  base_url: http://astro.local:11111/api/v1
  client_id: 7
  timeout: 15s
mqtt:
  broker: ssl://broker.local:8883
  username: astro
  password: secret
  tls:
    enabled: true
    ca_file: /etc/astrolive/ca.pem
  discovery_prefix: homeassistant
  qos: 1
  timeout: 5s
metrics:
  listen_address: ":9090"
components:
  - id: telescope.main
    kind: telescope
    device_number: 0
    friendly_name: Main Telescope
    update_interval: 10s
  - id: camera.gallery
    kind: camera_file
    monitor: /data/images
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "Backyard Observatory", cfg.Observatory.Name)
	assert.InDelta(t, 48.137, cfg.Observatory.Latitude, 1e-9)
	assert.Equal(t, "http://astro.local:11111/api/v1", cfg.Alpaca.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Alpaca.Timeout.Std())
	assert.Equal(t, "ssl://broker.local:8883", cfg.MQTT.Broker)
	assert.True(t, cfg.MQTT.TLS.Enabled)
	require.Len(t, cfg.Components, 2)
	assert.Equal(t, 10*time.Second, cfg.Components[0].UpdateInterval.Std())
	assert.Equal(t, "/data/images", cfg.Components[1].Monitor)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
observatory:
  name: Minimal
mqtt:
  broker: tcp://localhost:1883
components:
  - id: focuser1
    kind: focuser
`))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11111/api/v1", cfg.Alpaca.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Alpaca.Timeout.Std())
	assert.Equal(t, "homeassistant", cfg.MQTT.DiscoveryPrefix)
	assert.Equal(t, byte(1), cfg.MQTT.QoSLevel())
	assert.Equal(t, "astrolive", cfg.MQTT.ClientID)
	assert.Equal(t, 30*time.Second, cfg.Components[0].UpdateInterval.Std())
	assert.Equal(t, "focuser1", cfg.Components[0].FriendlyName, "friendly name defaults to id")
}

func TestLoadKeepsExplicitQoSZero(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
observatory:
  name: Minimal
mqtt:
  broker: tcp://localhost:1883
  qos: 0
components:
  - id: focuser1
    kind: focuser
`))
	require.NoError(t, err)
	assert.Equal(t, byte(0), cfg.MQTT.QoSLevel(), "explicit qos 0 must not be coerced to the default")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "observatory: [unclosed"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
observatory:
  name: Minimal
mqtt:
  broker: tcp://localhost:1883
components:
  - id: focuser1
    kind: focuser
    update_interval: soon
`))
	require.Error(t, err)
}

func TestValidateFailures(t *testing.T) {
	base := func() *Config {
		return &Config{
			Observatory: ObservatoryConfig{Name: "Site"},
			MQTT:        MQTTConfig{Broker: "tcp://localhost:1883"},
			Components: []ComponentConfig{
				{ID: "focuser1", Kind: "focuser", UpdateInterval: Duration(10 * time.Second)},
			},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing observatory name", func(c *Config) { c.Observatory.Name = "" }},
		{"missing broker", func(c *Config) { c.MQTT.Broker = "" }},
		{"no components", func(c *Config) { c.Components = nil }},
		{"unknown kind", func(c *Config) { c.Components[0].Kind = "teleporter" }},
		{"missing component id", func(c *Config) { c.Components[0].ID = "" }},
		{"duplicate component id", func(c *Config) {
			c.Components = append(c.Components, c.Components[0])
		}},
		{"camera_file without monitor", func(c *Config) {
			c.Components[0].Kind = "camera_file"
			c.Components[0].Monitor = ""
		}},
		{"sub-second interval", func(c *Config) {
			c.Components[0].UpdateInterval = Duration(100 * time.Millisecond)
		}},
		{"qos above 2", func(c *Config) {
			qos := byte(3)
			c.MQTT.QoS = &qos
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err), "configuration problems are startup-fatal")
		})
	}

	t.Run("valid baseline passes", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})
}

func TestBuildObservatory(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	obs, err := cfg.BuildObservatory()
	require.NoError(t, err)

	assert.Equal(t, "Backyard Observatory", obs.Name)
	assert.Equal(t, "backyard_observatory", obs.NodeID())
	require.Len(t, obs.Components, 2)

	telescope, ok := obs.ComponentByID("telescope.main")
	require.True(t, ok)
	assert.Equal(t, observatory.KindTelescope, telescope.Kind)
	assert.Equal(t, "Main Telescope", telescope.FriendlyName)
	assert.Equal(t, 10*time.Second, telescope.UpdateInterval)

	gallery, ok := obs.ComponentByID("camera.gallery")
	require.True(t, ok)
	assert.Equal(t, observatory.KindCameraFile, gallery.Kind)
	assert.Equal(t, "/data/images", gallery.MonitorPath)
}
