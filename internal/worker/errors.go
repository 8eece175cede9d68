package worker

import "errors"

// Ошибки worker.
var (
	// ErrMigrationNotFound — запись миграции не найдена в БД.
	ErrMigrationNotFound = errors.New("migration not found")

	// ErrMigrationNotActive — миграция не в активном статусе,
	// шаг выполнять нечего.
	ErrMigrationNotActive = errors.New("migration is not active")
)
