package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/pkg/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

const triggerQueue = "crm.sync.dispatch.triggers"

// TriggerConsumer turns dispatch.trigger messages into wake-ups for the workers
type TriggerConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

func NewTriggerConsumer(url string, logger *slog.Logger) (*TriggerConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &TriggerConsumer{conn: conn, channel: ch, logger: logger}, nil
}

// Listen binds the trigger queue and forwards each trigger's kind to out.
// A wake-up already pending for the same worker is enough, so sends never block.
func (c *TriggerConsumer) Listen(ctx context.Context, out map[models.JobKind]chan struct{}) error {
	if err := c.channel.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := c.channel.QueueDeclare(triggerQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(q.Name, TriggerKeyPrefix+"#", Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Trigger consumer is online", "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handle(d, out)
		}
	}
}

type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *TriggerConsumer) handle(d amqp.Delivery, out map[models.JobKind]chan struct{}) {
	c.deliver(d.Body, d.MessageId, &d, out)
}

func (c *TriggerConsumer) deliver(body []byte, id string, d acker, out map[models.JobKind]chan struct{}) {
	var t Trigger
	if err := json.Unmarshal(body, &t); err != nil {
		metrics.TriggersConsumed.WithLabelValues("malformed").Inc()
		c.logger.Error("Failed to unmarshal trigger", "message_id", id, "error", err)
		d.Nack(false, false)
		return
	}

	ch, ok := out[t.Kind]
	if !ok {
		metrics.TriggersConsumed.WithLabelValues("unknown_kind").Inc()
		c.logger.Warn("Trigger for unknown queue dropped", "kind", t.Kind)
		d.Nack(false, false)
		return
	}

	select {
	case ch <- struct{}{}:
		metrics.TriggersConsumed.WithLabelValues("delivered").Inc()
	default:
		metrics.TriggersConsumed.WithLabelValues("coalesced").Inc()
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to Ack trigger", "message_id", id, "error", err)
	}
}

// Close gracefully terminates RabbitMQ resources
func (c *TriggerConsumer) Close() {
	c.logger.Info("Shutting down RabbitMQ consumer")
	c.channel.Close()
	c.conn.Close()
}
