// Package domain содержит основные сущности Migrata.
//
// Центральная сущность — Migration: одна единица фоновой работы
// (data-миграция или schema-миграция). Миграция живёт в таблице
// migrations и мутируется только Runner'ом и Scheduler'ом.
//
// Статусы и допустимые переходы описаны в status.go. Правило
// агрегации для composite-миграций (parent + дети по шардам) — в
// composite.go.
package domain
