package rabbitmq

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/JonathanMoss/OpenRailDataGateway/bridge"
	"github.com/JonathanMoss/OpenRailDataGateway/config"
	"github.com/JonathanMoss/OpenRailDataGateway/errors"
)

var (
	errNacked       = stderrors.New("broker nacked the message")
	errNotConfirmed = stderrors.New("channel is not in confirm mode")
)

// confirmation is satisfied by *amqp.DeferredConfirmation
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// channel is the slice of *amqp.Channel the publisher needs
type channel interface {
	publish(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (confirmation, error)
	Close() error
}

type channelAdapter struct {
	*amqp.Channel
}

func (c channelAdapter) publish(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errNotConfirmed
	}
	return dc, nil
}

// Publisher publishes bridge requests to one exchange and waits for the
// broker confirm of each before returning.
type Publisher struct {
	ch         channel
	conn       interface{ Close() error }
	returns    <-chan amqp.Return
	exchange   string
	mandatory  bool
	expiration string
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func newPublisher(ch channel, conn interface{ Close() error }, returns <-chan amqp.Return,
	cfg config.AMQPConfig, metrics *Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{
		ch:         ch,
		conn:       conn,
		returns:    returns,
		exchange:   cfg.Exchange,
		mandatory:  cfg.Mandatory,
		expiration: cfg.Expiration,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Publish sends req and blocks until the broker acks it, ctx ends, or the
// channel fails. Anything but an ack is an errors.ErrBrokerFault.
func (p *Publisher) Publish(ctx context.Context, req bridge.PublishRequest) error {
	msg := amqp.Publishing{
		ContentType: req.ContentType,
		Body:        req.Body,
		MessageId:   req.MessageID,
		Timestamp:   req.Timestamp,
		Expiration:  p.expiration,
		AppId:       AppID,
	}
	if req.Persistent {
		msg.DeliveryMode = amqp.Persistent
	} else {
		msg.DeliveryMode = amqp.Transient
	}

	started := p.now()
	dc, err := p.ch.publish(ctx, p.exchange, req.RoutingKey, p.mandatory, msg)
	if err != nil {
		p.metrics.recordConfirm(outcomeError, 0)
		return p.fault(err, req.RoutingKey)
	}

	acked, err := dc.WaitContext(ctx)
	waited := p.now().Sub(started)
	if err != nil {
		p.metrics.recordConfirm(outcomeError, 0)
		return p.fault(err, req.RoutingKey)
	}
	if !acked {
		p.metrics.recordConfirm(outcomeNack, waited)
		return p.fault(errNacked, req.RoutingKey)
	}

	// A basic.return precedes the ack of the same message.
	select {
	case ret, ok := <-p.returns:
		if ok {
			p.metrics.recordConfirm(outcomeReturned, waited)
			return p.fault(fmt.Errorf("unroutable: %d %s", ret.ReplyCode, ret.ReplyText), req.RoutingKey)
		}
	default:
	}

	p.metrics.recordConfirm(outcomeAck, waited)
	return nil
}

func (p *Publisher) fault(err error, routingKey string) error {
	return errors.Fault(errors.ErrBrokerFault, err, "Publisher", "Publish",
		fmt.Sprintf("publish to exchange %q with routing key %q", p.exchange, routingKey))
}

// Close closes the channel and the connection
func (p *Publisher) Close() error {
	chErr := p.ch.Close()
	if p.conn == nil {
		return ignoreClosed(chErr)
	}
	return stderrors.Join(ignoreClosed(chErr), ignoreClosed(p.conn.Close()))
}

func ignoreClosed(err error) error {
	if stderrors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

// watchClose logs the reason the broker closed the connection
func (p *Publisher) watchClose(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		p.logger.Warn("AMQP connection closed by broker",
			"code", err.Code,
			"reason", err.Reason,
			"server", err.Server)
	}
}
