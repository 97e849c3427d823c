package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"mailtriage/pkg/otel"
	"mailtriage/pkg/trace"
	"mailtriage/pkg/util"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	logger     *zap.Logger
}

// NewConsumer creates a consumer for a specific routing key. Messages the handler rejects
// for good end up in <queueName>.dlq.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &Consumer{
		conn:       conn,
		channel:    ch,
		routingKey: routingKey,
		logger:     logger,
	}

	if err := c.declare(queueName); err != nil {
		c.Close()
		return nil, err
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return c, nil
}

func (c *Consumer) declare(queueName string) error {
	if err := DeclareExchange(c.channel); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(c.channel); err != nil {
		return fmt.Errorf("failed to declare dlq exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(c.channel, queueName, c.routingKey); err != nil {
		return err
	}

	q, err := c.channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		deadLetterArgs(),
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(q.Name, c.routingKey, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.queue = q
	return nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming blocks until ctx is done or the delivery channel closes.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.ConsumeWithContext(
		ctx,
		c.queue.Name,
		"",
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopped", zap.String("queue", c.queue.Name))
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", c.queue.Name)
			}
			c.handle(ctx, msg)
		}
	}
}

// handle 保证每条消息都会被 ack 或 nack
func (c *Consumer) handle(ctx context.Context, msg amqp091.Delivery) {
	if traceID, ok := msg.Headers[TraceHeader].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	} else {
		ctx = trace.WithContext(ctx, trace.GenerateTraceID())
	}
	ctx, span := otel.MQConsumeSpan(ctx, msg.Headers, c.queue.Name, c.routingKey)
	log := c.logger.With(
		zap.String("trace_id", trace.FromContext(ctx)),
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	// Panic 恢复：直接进入死信队列，避免毒消息无限循环
	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			otel.EndSpan(span, fmt.Errorf("handler panic: %v", r))
			if err := msg.Nack(false, false); err != nil {
				log.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	err := c.handler(ctx, msg.Body)
	otel.EndSpan(span, err)
	if err == nil {
		if err := msg.Ack(false); err != nil {
			log.Error("Failed to ack message", zap.Error(err))
		}
		return
	}

	retryable, errorType := util.IsRetryableError(err)
	// 可重试错误只重新入队一次，再失败进入死信队列
	requeue := retryable && !msg.Redelivered
	log.Error("Handler error",
		zap.String("error_type", errorType),
		zap.Bool("requeue", requeue),
		zap.Error(err),
	)
	if err := msg.Nack(false, requeue); err != nil {
		log.Error("Failed to nack message", zap.Error(err))
	}
}
