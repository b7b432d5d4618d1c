package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonathanMoss/OpenRailDataGateway/errors"
	"github.com/JonathanMoss/OpenRailDataGateway/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Nil(t, client.Conn())
}

func TestConnectionStatus_String(t *testing.T) {
	tests := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusClosed:         "closed",
		ConnectionStatus(42): "unknown",
	}
	for status, want := range tests {
		assert.Equal(t, want, status.String())
	}
}

func TestClient_ConnectionOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithCredentials("user", "pass"),
		WithToken("tok"),
		WithName("gateway"),
		WithTLSConfig(nil),
	)
	require.NoError(t, err)

	var o nats.Options
	for _, opt := range client.ConnectionOptions() {
		require.NoError(t, opt(&o))
	}
	assert.False(t, o.AllowReconnect)
	assert.Equal(t, "user", o.User)
	assert.Equal(t, "pass", o.Password)
	assert.Equal(t, "tok", o.Token)
	assert.Equal(t, "gateway", o.Name)
	assert.False(t, o.Secure)
}

func TestClient_NotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.PublishMsg(ctx, nats.NewMsg("x"))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.JetStream()
	assert.True(t, errors.IsTransient(err))

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_ConnectCancelled(t *testing.T) {
	// Nothing listens on port 1, but a cancelled ctx must win regardless.
	client, err := NewClient("nats://127.0.0.1:1", WithTimeout(2*time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestClient_CloseTwice(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()))
	assert.Equal(t, StatusClosed, client.Status())
	assert.ErrorIs(t, client.Connect(context.Background()), ErrClosed)
}

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics(nil)
	assert.NoError(t, err)
	assert.Nil(t, m)

	// Nil metrics are safe to use.
	m.recordError("publish")
	m.recordAck(nil)
	m.UpdateStats(context.Background())
	m.StartPoller(context.Background(), time.Second)()

	registry := metric.NewMetricsRegistry()
	m, err = NewMetrics(registry)
	require.NoError(t, err)
	require.NotNil(t, m)

	_, err = NewMetrics(registry)
	assert.True(t, errors.IsInvalid(err), "second registration is a duplicate")
}
