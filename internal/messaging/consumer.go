package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery. A nil error acks it. An error wrapped in
// Permanent drops the message and any other error requeues it.
type Handler func(ctx context.Context, msg amqp091.Delivery) error

type Consumer struct {
	conn     *amqp091.Connection
	queue    string
	prefetch int
	logger   *slog.Logger
}

func NewRabbitConsumer(url, exchange, queue string, logger *slog.Logger) (*Consumer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	if err := declareExchange(conn, exchange); err != nil {
		conn.Close()
		return nil, err
	}
	if err := bindQueue(conn, exchange, queue); err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{
		conn:     conn,
		queue:    queue,
		prefetch: 16,
		logger:   logger,
	}, nil
}

func bindQueue(conn *amqp091.Connection, exchange, queue string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, "", exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	return nil
}

// Start consumes until ctx is done or the broker closes the channel.
func (c *Consumer) Start(ctx context.Context, handle Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume queue: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = ch.Cancel("", false)
		ch.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("consumer channel closed", "queue", c.queue)
				return nil
			}
			c.settle(msg, handle(ctx, msg))
		}
	}
}

func (c *Consumer) settle(msg amqp091.Delivery, err error) {
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case IsPermanent(err):
		c.logger.Error("message dropped", "queue", c.queue, "message_id", msg.MessageId, "err", err)
		_ = msg.Nack(false, false)
	default:
		c.logger.Warn("message requeued", "queue", c.queue, "message_id", msg.MessageId, "err", err)
		_ = msg.Nack(false, true)
	}
}

func (c *Consumer) Close() error {
	return c.conn.Close()
}
