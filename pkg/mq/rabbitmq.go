package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"order-mailer/pkg/order"
	"order-mailer/pkg/trigger"
)

const (
	EventsExchange   = "orders.events"
	OutcomesExchange = "orders.mail.outcomes"
	TriggerQueue     = "orders.mail.triggers"
)

// Routing keys on EventsExchange that wake the reconciler.
const (
	KeyOrderClosed     = "order.closed"
	KeyDocumentUpdated = "order.document.updated"
)

var triggerKeys = []string{KeyOrderClosed, KeyDocumentUpdated}

type Client struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

func New(url string, logger *slog.Logger) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &Client{conn: conn, ch: ch, logger: logger}, nil
}

// SetupTopology declares the exchanges and the trigger queue. Idempotent.
func (c *Client) SetupTopology() error {
	if err := c.ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", EventsExchange, err)
	}
	if err := c.ch.ExchangeDeclare(OutcomesExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", OutcomesExchange, err)
	}

	// Triggers carry nothing the cycle needs, so a backlog can drop its oldest.
	_, err := c.ch.QueueDeclare(TriggerQueue, true, false, false, false, amqp.Table{
		"x-max-length": int32(100),
		"x-overflow":   "drop-head",
	})
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", TriggerQueue, err)
	}
	for _, key := range triggerKeys {
		if err := c.ch.QueueBind(TriggerQueue, key, EventsExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", TriggerQueue, key, err)
		}
	}
	return nil
}

// ConsumeTriggers turns every message on the trigger queue into a broker
// event. Messages are acked once handed to the queue; the cycle reads the
// ledger itself, so the payload is only logged.
func (c *Client) ConsumeTriggers(ctx context.Context, q *trigger.Queue) error {
	deliveries, err := c.ch.Consume(
		TriggerQueue,
		"order-mailer", // consumer
		false,          // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming triggers: %w", err)
	}
	c.logger.Info("consuming broker triggers", "queue", TriggerQueue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("trigger delivery channel closed")
			}
			queued := q.Submit(trigger.Event{Source: trigger.SourceBroker, At: msg.Timestamp})
			c.logger.Info("broker trigger received", "routing_key", msg.RoutingKey, "message_id", msg.MessageId, "queued", queued)
			if err := msg.Ack(false); err != nil {
				c.logger.Warn("failed to ack trigger", "error", err)
			}
		}
	}
}

// NotifyOutcome publishes a committed outcome as JSON, routed by kind.
func (c *Client) NotifyOutcome(ctx context.Context, ev order.OutcomeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode outcome event: %w", err)
	}
	return c.ch.PublishWithContext(ctx,
		OutcomesExchange,
		RoutingKey(ev.Outcome),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		})
}

// TriggerMessage is the body of an order event on EventsExchange.
type TriggerMessage struct {
	OrderNumber int64     `json:"order_number"`
	At          time.Time `json:"at"`
}

// PublishTrigger announces an order event. Used by tooling that feeds the
// trigger queue; the reconciler itself only consumes.
func (c *Client) PublishTrigger(ctx context.Context, routingKey string, orderNumber int64) error {
	body, err := json.Marshal(TriggerMessage{OrderNumber: orderNumber, At: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode trigger: %w", err)
	}
	return c.ch.PublishWithContext(ctx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   uuid.NewString(),
			Timestamp:   time.Now(),
			Body:        body,
		})
}

// RoutingKey is the outcome exchange key for an outcome kind.
func RoutingKey(kind order.OutcomeKind) string {
	return "outcome." + string(kind)
}

func (c *Client) Close() {
	c.ch.Close()
	c.conn.Close()
}
