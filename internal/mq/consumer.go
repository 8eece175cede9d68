package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает одно доставленное сообщение. Возвращённая
// ошибка возвращает сообщение в очередь.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленный сигнал с ручным подтверждением.
//
// Сигналы идемпотентны (истина о миграции — в БД), поэтому повторная
// доставка после nack или разрыва соединения безопасна.
type Delivery struct {
	// Message — распарсенный конверт сигнала.
	Message Message

	// Raw — исходное AMQP-сообщение.
	Raw amqp.Delivery
}

// Ack подтверждает обработку сигнала.
func (d *Delivery) Ack() error {
	return d.Raw.Ack(false)
}

// Nack отклоняет сигнал. requeue=true — вернуть в очередь,
// false — отдать в DLQ.
func (d *Delivery) Nack(requeue bool) error {
	return d.Raw.Nack(false, requeue)
}

// Consumer читает сигналы из очереди и переживает разрывы соединения:
// при обрыве канала доставки он дожидается переподключения Connection
// и подписывается заново.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Handler — обработчик сигналов.
	Handler Handler

	// Prefetch — сколько сигналов держать в полёте на процесс.
	Prefetch int
}

// NewConsumer создаёт Consumer. Потребление начинается в Start.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start блокирует вызывающего и читает сигналы до отмены контекста
// или Stop.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("cannot subscribe to queue", "queue", c.queue, "error", err)
			// линия лежит — ждём, пока Connection её поднимет
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				c.logger.Info("broker is back, resubscribing", "queue", c.queue)
				continue
			}
		}

		c.logger.Info("consuming queue", "queue", c.queue, "prefetch", c.prefetch)

		if err := c.drain(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("delivery stream broke, waiting for redial", "queue", c.queue)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				continue
			}
		}
	}
}

// subscribe выставляет prefetch и подписывается на очередь.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// auto-ack выключен: сигнал подтверждается только после обработки
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

// drain читает поток доставки до его закрытия.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}

			c.dispatch(ctx, raw)
		}
	}
}

// dispatch разбирает конверт и передаёт сигнал обработчику.
func (c *Consumer) dispatch(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message",
			"queue", c.queue,
			"error", err,
			"body", string(raw.Body),
		)
		// битый конверт некуда возвращать — в DLQ
		raw.Nack(false, false)
		return
	}

	c.logger.Debug("signal received",
		"queue", c.queue,
		"message_id", msg.ID,
		"type", msg.Type,
	)

	if err := c.handler(ctx, &Delivery{Message: msg, Raw: raw}); err != nil {
		c.logger.Error("handler failed",
			"queue", c.queue,
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err,
		)
		// инфраструктурная ошибка — сигнал вернётся и будет повторён
		raw.Nack(false, true)
		return
	}

	raw.Ack(false)
}

// Stop прерывает потребление.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// ParsePayload парсит payload конверта в конкретный тип сигнала.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// payload к этому моменту уже распарсен в any — прогоняем через
	// JSON ещё раз, чтобы получить типизированную структуру
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
