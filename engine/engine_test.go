package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mawinkler/astrolive/config"
	"github.com/mawinkler/astrolive/errors"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	qos := byte(1)
	cfg := &config.Config{
		Observatory: config.ObservatoryConfig{Name: "Test Site"},
		Alpaca: config.AlpacaConfig{
			BaseURL: "http://localhost:11111/api/v1",
			Timeout: config.Duration(5 * time.Second),
		},
		MQTT: config.MQTTConfig{
			Broker:          "tcp://localhost:1883",
			ClientID:        "astrolive-test",
			DiscoveryPrefix: "homeassistant",
			QoS:             &qos,
			Timeout:         config.Duration(5 * time.Second),
		},
		Components: []config.ComponentConfig{
			{ID: "telescope1", Kind: "telescope", UpdateInterval: config.Duration(10 * time.Second)},
			{ID: "focuser1", Kind: "focuser", UpdateInterval: config.Duration(10 * time.Second)},
			{ID: "gallery", Kind: "camera_file", Monitor: t.TempDir(), UpdateInterval: config.Duration(10 * time.Second)},
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestInitializeBuildsOneTaskPerComponent(t *testing.T) {
	bridge, err := New(testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, bridge.Initialize())

	assert.Len(t, bridge.pollers, 3)
	// Device handles exist for device-backed components only
	assert.Len(t, bridge.devices, 2)
	assert.Contains(t, bridge.devices, "telescope1")
	assert.NotContains(t, bridge.devices, "gallery")
	assert.NotNil(t, bridge.router)
	assert.NotNil(t, bridge.metricsSrv)
}

func TestStartBeforeInitialize(t *testing.T) {
	bridge, err := New(testConfig(t), nil)
	require.NoError(t, err)

	err = bridge.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestStopWithoutStartIsNoOp(t *testing.T) {
	bridge, err := New(testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, bridge.Initialize())
	assert.NoError(t, bridge.Stop(time.Second))
}
