// Package mq forwards workflow events to a RabbitMQ topic exchange and reads
// them back for external consumers.
package mq

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/example/prodflow/backend/internal/events"
	"github.com/example/prodflow/backend/internal/logging"
)

// Routing patterns bound by consumers.
var eventBindings = []string{"activity.*", "reprint.*"}

// Publisher defines a minimal interface for publishing events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Forward returns a bus handler that publishes every event under its type.
func Forward(pub Publisher) events.Handler {
	return func(ctx context.Context, evt events.Event) error {
		if pub == nil {
			return nil
		}
		return pub.Publish(ctx, string(evt.Type), evt)
	}
}

// Decode parses a delivery body into an event.
func Decode(body []byte) (events.Event, error) {
	var evt events.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return events.Event{}, errors.Wrap(err, "decode event")
	}
	if evt.Type == "" {
		return events.Event{}, errors.New("decode event: missing type")
	}
	return evt, nil
}

// RabbitPublisher publishes JSON events to a RabbitMQ exchange.
type RabbitPublisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      *zap.Logger
}

func dialExchange(url, exchange string) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	return conn, ch, nil
}

// NewRabbitPublisher creates a publisher connecting to RabbitMQ.
func NewRabbitPublisher(url, exchange string, log *zap.Logger) (*RabbitPublisher, error) {
	conn, ch, err := dialExchange(url, exchange)
	if err != nil {
		return nil, err
	}
	return &RabbitPublisher{conn: conn, channel: ch, exchange: exchange, log: logging.OrNop(log).Named("mq")}, nil
}

// Publish serializes the payload to JSON and sends it to the exchange.
func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         body,
	})
	return errors.Wrapf(err, "publish %s", routingKey)
}

// Close terminates the connection.
func (p *RabbitPublisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		p.log.Warn("close channel", zap.Error(err))
	}
	return p.conn.Close()
}

// RabbitConsumer consumes events from a queue bound to the event exchange.
type RabbitConsumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
	log     *zap.Logger
}

// NewRabbitConsumer sets up queue bindings and returns a consumer.
func NewRabbitConsumer(url, exchange, queue string, log *zap.Logger) (*RabbitConsumer, error) {
	conn, ch, err := dialExchange(url, exchange)
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	for _, key := range eventBindings {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "bind %s", key)
		}
	}
	return &RabbitConsumer{conn: conn, channel: ch, queue: q.Name, log: logging.OrNop(log).Named("mq")}, nil
}

// Consume delivers decoded events to handler until ctx ends or the channel
// closes. Messages are acked on success; undecodable or failed ones are
// dropped without requeue.
func (c *RabbitConsumer) Consume(ctx context.Context, handler func(events.Event) error) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "consume %s", c.queue)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			evt, err := Decode(msg.Body)
			if err == nil {
				err = handler(evt)
			}
			if err != nil {
				c.log.Warn("drop event", zap.String("routing_key", msg.RoutingKey), zap.Error(err))
				_ = msg.Nack(false, false)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

// Close closes the consumer resources.
func (c *RabbitConsumer) Close() error {
	if c == nil {
		return nil
	}
	if err := c.channel.Close(); err != nil {
		c.log.Warn("close channel", zap.Error(err))
	}
	return c.conn.Close()
}
