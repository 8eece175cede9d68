// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - migration.step — миграция готова к выполнению очередного шага
//
// Exchanges:
//   - migrata.migrations — события миграций
//   - migrata.dlq        — dead letter queue
//
// Очередь не является источником истины: запись в БД первична, а
// сообщение — лишь сигнал «пора сделать шаг». Потерянное сообщение
// восстанавливается следующим проходом Scheduler'а.
package mq
