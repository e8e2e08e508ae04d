package busclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mawinkler/astrolive/errors"
)

func TestNewClientRequiresBroker(t *testing.T) {
	_, err := NewClient(Options{})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestNewClientDefaultsTimeout(t *testing.T) {
	client, err := NewClient(Options{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, client.opts.Timeout)
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestPublishWithoutConnection(t *testing.T) {
	client, err := NewClient(Options{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)

	err = client.Publish(context.Background(), "some/topic", 1, false, []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err), "drop and let the next cycle retry")
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}

func TestSubscribeBeforeConnectIsDeferred(t *testing.T) {
	client, err := NewClient(Options{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)

	// Registered now, replayed by the connect handler later
	err = client.Subscribe("astrolive/command", 1, func(string, []byte) {})
	assert.NoError(t, err)
}

func TestGenerationStartsAtZero(t *testing.T) {
	client, err := NewClient(Options{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	assert.Zero(t, client.Generation())
	assert.False(t, client.Connected())
}

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestTLSConfigRejectsMissingCAFile(t *testing.T) {
	client, err := NewClient(Options{
		Broker:     "ssl://localhost:8883",
		TLSEnabled: true,
		TLSCAFile:  "/nonexistent/ca.pem",
	})
	require.NoError(t, err)

	_, err = client.tlsConfig()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestTLSConfigInsecureOptIn(t *testing.T) {
	client, err := NewClient(Options{Broker: "ssl://localhost:8883", TLSEnabled: true, TLSInsecure: true})
	require.NoError(t, err)

	cfg, err := client.tlsConfig()
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
}
