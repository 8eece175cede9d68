package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeMigrations Exchange = "migrata.migrations"
	ExchangeDLQ        Exchange = "migrata.dlq"
)

// Queues — имена очередей.
const (
	QueueMigrationsStep Queue = "migrations.step"
	QueueDLQMigrations  Queue = "dlq.migrations"
)

// Routing keys.
const (
	RoutingKeyStep          RoutingKey = "step"
	RoutingKeyDLQMigrations RoutingKey = "migrations"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeMigrations, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQMigrations),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// migrations.step — с DLQ (битые сообщения уходят в DLQ,
		// счётчик попыток самой миграции ведёт движок в БД)
		{QueueMigrationsStep, dlqArgs},

		// dlq.migrations — сама DLQ очередь
		{QueueDLQMigrations, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueMigrationsStep, RoutingKeyStep, ExchangeMigrations},
		{QueueDLQMigrations, RoutingKeyDLQMigrations, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Migrata RabbitMQ Topology:

    migrata.migrations (direct)
    └── migrations.step [routing: step]
            Consumer: Worker
            DLQ: dlq.migrations

    migrata.dlq (direct)
    └── dlq.migrations [routing: migrations]
            Manual processing
  `
}
