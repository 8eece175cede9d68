package domain

import "errors"

// Ошибки валидации. Отклоняются до записи в БД и никогда не ретраятся.
var (
	// ErrInvalidTransition — недопустимый переход статуса.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidMigration — некорректная конфигурация миграции.
	ErrInvalidMigration = errors.New("invalid migration")

	// ErrInvalidAggregate — статус composite-родителя противоречит
	// статусам его детей.
	ErrInvalidAggregate = errors.New("invalid composite status")
)
