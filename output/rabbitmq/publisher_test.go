package rabbitmq

import (
	"context"
	stderrors "errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonathanMoss/OpenRailDataGateway/bridge"
	"github.com/JonathanMoss/OpenRailDataGateway/config"
	"github.com/JonathanMoss/OpenRailDataGateway/errors"
	"github.com/JonathanMoss/OpenRailDataGateway/metric"
	"github.com/JonathanMoss/OpenRailDataGateway/pkg/security"
)

type fakeConfirmation struct {
	acked bool
	err   error
	block bool
}

func (c fakeConfirmation) WaitContext(ctx context.Context) (bool, error) {
	if c.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return c.acked, c.err
}

type published struct {
	exchange  string
	key       string
	mandatory bool
	msg       amqp.Publishing
}

type fakeChannel struct {
	confirm    fakeConfirmation
	publishErr error
	closeErr   error
	sent       []published
	returns    chan amqp.Return
}

func (c *fakeChannel) publish(_ context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (confirmation, error) {
	if c.publishErr != nil {
		return nil, c.publishErr
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, mandatory: mandatory, msg: msg})
	if c.returns != nil {
		c.returns <- amqp.Return{ReplyCode: 312, ReplyText: "NO_ROUTE", RoutingKey: key}
	}
	return c.confirm, nil
}

func (c *fakeChannel) Close() error { return c.closeErr }

func testPublisher(t *testing.T, ch *fakeChannel, cfg config.AMQPConfig) (*Publisher, *Metrics) {
	t.Helper()
	metrics, err := newMetrics(metric.NewMetricsRegistry())
	require.NoError(t, err)

	var returns <-chan amqp.Return
	if ch.returns != nil {
		returns = ch.returns
	}
	p := newPublisher(ch, nil, returns, cfg, metrics, slog.Default())
	return p, metrics
}

func testRequest() bridge.PublishRequest {
	return bridge.PublishRequest{
		RoutingKey:  "TS",
		ContentType: bridge.ContentTypeText,
		Persistent:  true,
		Body:        []byte("<Pport/>"),
		MessageID:   "ID:feed-1",
		Timestamp:   time.UnixMilli(1700000000123).UTC(),
	}
}

func TestPublisher_PublishAcked(t *testing.T) {
	ch := &fakeChannel{confirm: fakeConfirmation{acked: true}}
	p, metrics := testPublisher(t, ch, config.AMQPConfig{
		Exchange:   "darwin",
		Mandatory:  false,
		Expiration: "60000",
	})

	require.NoError(t, p.Publish(context.Background(), testRequest()))

	require.Len(t, ch.sent, 1)
	sent := ch.sent[0]
	assert.Equal(t, "darwin", sent.exchange)
	assert.Equal(t, "TS", sent.key)
	assert.False(t, sent.mandatory)
	assert.Equal(t, bridge.ContentTypeText, sent.msg.ContentType)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)
	assert.Equal(t, []byte("<Pport/>"), sent.msg.Body)
	assert.Equal(t, "ID:feed-1", sent.msg.MessageId)
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), sent.msg.Timestamp)
	assert.Equal(t, "60000", sent.msg.Expiration)
	assert.Equal(t, AppID, sent.msg.AppId)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.confirms.WithLabelValues(outcomeAck)))
}

func TestPublisher_TransientDelivery(t *testing.T) {
	ch := &fakeChannel{confirm: fakeConfirmation{acked: true}}
	p, _ := testPublisher(t, ch, config.AMQPConfig{Exchange: "darwin"})

	req := testRequest()
	req.Persistent = false
	require.NoError(t, p.Publish(context.Background(), req))
	assert.Equal(t, amqp.Transient, ch.sent[0].msg.DeliveryMode)
}

func TestPublisher_Faults(t *testing.T) {
	tests := []struct {
		name    string
		channel *fakeChannel
		outcome string
		wantMsg string
	}{
		{
			name:    "nack",
			channel: &fakeChannel{confirm: fakeConfirmation{acked: false}},
			outcome: outcomeNack,
			wantMsg: "nacked",
		},
		{
			name: "channel closed by broker",
			channel: &fakeChannel{publishErr: &amqp.Error{
				Code:   404,
				Reason: "NOT_FOUND - no exchange 'darwin'",
			}},
			outcome: outcomeError,
			wantMsg: "NOT_FOUND",
		},
		{
			name:    "confirm lost",
			channel: &fakeChannel{confirm: fakeConfirmation{err: amqp.ErrClosed}},
			outcome: outcomeError,
			wantMsg: "channel/connection is not open",
		},
		{
			name: "unroutable",
			channel: &fakeChannel{
				confirm: fakeConfirmation{acked: true},
				returns: make(chan amqp.Return, 1),
			},
			outcome: outcomeReturned,
			wantMsg: "NO_ROUTE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, metrics := testPublisher(t, tt.channel, config.AMQPConfig{Exchange: "darwin", Mandatory: true})

			err := p.Publish(context.Background(), testRequest())
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrBrokerFault)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Contains(t, err.Error(), `"TS"`)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.confirms.WithLabelValues(tt.outcome)))
			assert.Equal(t, 0.0, testutil.ToFloat64(metrics.confirms.WithLabelValues(outcomeAck)))
		})
	}
}

func TestPublisher_ConfirmStall(t *testing.T) {
	ch := &fakeChannel{confirm: fakeConfirmation{block: true}}
	p, _ := testPublisher(t, ch, config.AMQPConfig{Exchange: "darwin"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Publish(ctx, testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBrokerFault)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublisher_Close(t *testing.T) {
	p, _ := testPublisher(t, &fakeChannel{closeErr: amqp.ErrClosed}, config.AMQPConfig{})
	assert.NoError(t, p.Close(), "already closed is not an error")

	boom := stderrors.New("boom")
	p, _ = testPublisher(t, &fakeChannel{closeErr: boom}, config.AMQPConfig{})
	assert.ErrorIs(t, p.Close(), boom)
}

func TestNewDialer(t *testing.T) {
	d, err := NewDialer(config.AMQPConfig{Host: "rabbit", Port: 5672}, Deps{})
	require.NoError(t, err)
	assert.Nil(t, d.metrics)
	assert.Equal(t, "amqp://rabbit:5672/", d.Address())
	assert.Equal(t, "/", d.vhost())
	assert.Equal(t, DefaultConnectTimeout, d.connectTimeout())

	registry := metric.NewMetricsRegistry()
	_, err = NewDialer(config.AMQPConfig{Host: "rabbit", Port: 5672}, Deps{MetricsRegistry: registry})
	require.NoError(t, err)
	_, err = NewDialer(config.AMQPConfig{Host: "rabbit", Port: 5672}, Deps{MetricsRegistry: registry})
	assert.Error(t, err, "metrics register once per registry")
}

func TestNewDialer_BadTLS(t *testing.T) {
	_, err := NewDialer(config.AMQPConfig{
		Host: "rabbit",
		Port: 5671,
		TLS:  security.ClientTLSConfig{Enabled: true, CAFiles: []string{"/does/not/exist.pem"}},
	}, Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestDialer_DialFailures(t *testing.T) {
	d, err := NewDialer(config.AMQPConfig{
		Host:           "127.0.0.1",
		Port:           1,
		ConnectTimeout: time.Second,
	}, Deps{})
	require.NoError(t, err)

	_, err = d.Dial(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBrokerFault)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Dial(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
