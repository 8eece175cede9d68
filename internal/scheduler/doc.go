// Package scheduler реализует периодический проход по записям миграций.
//
// Scheduler не владеет миграциями между проходами: каждый Tick заново
// выбирает кандидатов из БД, арбитрирует доступ advisory-локами и либо
// выполняет шаг сам (inline-режим), либо публикует задание воркеру
// через RabbitMQ. Падение процесса между проходами ничего не теряет —
// весь прогресс живёт в записи.
package scheduler
