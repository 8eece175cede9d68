package domain

import "fmt"

// MigrationStatus — статус миграции.
//
// Жизненный цикл:
//
//	ENQUEUED → RUNNING → SUCCEEDED
//	                   ↘ FAILED → ENQUEUED (retry)
//	RUNNING → PAUSING → PAUSED → ENQUEUED (resume)
//	RUNNING → CANCELLING → CANCELLED
//
// PAUSING и CANCELLING — кооперативные переходные состояния: Runner
// замечает их только на границе шага, выполняющийся шаг никогда не
// прерывается.
type MigrationStatus string

const (
	// StatusEnqueued — миграция создана и ждёт, когда Scheduler её заберёт.
	StatusEnqueued MigrationStatus = "ENQUEUED"

	// StatusRunning — миграция выполняется по шагам.
	StatusRunning MigrationStatus = "RUNNING"

	// StatusPausing — запрошена пауза; вступит в силу на границе шага.
	StatusPausing MigrationStatus = "PAUSING"

	// StatusPaused — миграция приостановлена оператором.
	StatusPaused MigrationStatus = "PAUSED"

	// StatusCancelling — запрошена отмена; вступит в силу на границе шага.
	StatusCancelling MigrationStatus = "CANCELLING"

	// StatusCancelled — миграция отменена.
	StatusCancelled MigrationStatus = "CANCELLED"

	// StatusSucceeded — вся работа выполнена.
	StatusSucceeded MigrationStatus = "SUCCEEDED"

	// StatusFailed — попытки исчерпаны, миграция завершилась с ошибкой.
	StatusFailed MigrationStatus = "FAILED"
)

// validTransitions — таблица допустимых переходов статусов.
//
// PAUSED возвращается в ENQUEUED, а не сразу в RUNNING: возобновлённая
// миграция снова проходит через обычный отбор Scheduler'а и его
// exclusivity-проверки.
var validTransitions = map[MigrationStatus][]MigrationStatus{
	StatusEnqueued:   {StatusRunning},
	StatusRunning:    {StatusSucceeded, StatusFailed, StatusPausing, StatusCancelling},
	StatusPausing:    {StatusPaused},
	StatusPaused:     {StatusEnqueued},
	StatusCancelling: {StatusCancelled},
	StatusFailed:     {StatusEnqueued},
}

// IsTerminal возвращает true, если статус финальный.
func (s MigrationStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive возвращает true для статусов, в которых миграцией владеет
// какой-то процесс. Именно в этих статусах миграция может «застрять»,
// если владеющий процесс умер.
func (s MigrationStatus) IsActive() bool {
	switch s {
	case StatusRunning, StatusPausing, StatusCancelling:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет допустимость перехода s → to.
func (s MigrationStatus) CanTransitionTo(to MigrationStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// checkTransition возвращает ошибку валидации для недопустимого перехода.
func checkTransition(from, to MigrationStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}
