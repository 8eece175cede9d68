// Package runner выполняет ровно один шаг одной миграции.
//
// Runner получает запись в статусе RUNNING (переход ENQUEUED → RUNNING —
// ответственность Scheduler'а), опрашивает throttle-хук, берёт следующую
// порцию работы у batch/cursor-движка (data) либо выполняет единственный
// DDL-statement на нужном соединении (schema) и персистит результат —
// побочные эффекты сохраняются всегда, в том числе при ошибке.
//
// Запросы паузы и отмены кооперативные: Runner замечает их только на
// границе шага, выполняющийся шаг никогда не прерывается.
package runner
