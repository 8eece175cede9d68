package runner

// Outcome — результат одного вызова Runner.Run.
type Outcome string

const (
	// OutcomeStepped — шаг выполнен, работа осталась.
	OutcomeStepped Outcome = "STEPPED"

	// OutcomeCompleted — работы не осталось, миграция SUCCEEDED.
	OutcomeCompleted Outcome = "COMPLETED"

	// OutcomeThrottled — шаг отложен throttle-хуком, прогресса нет.
	OutcomeThrottled Outcome = "THROTTLED"

	// OutcomeErrored — шаг упал, ошибка записана, попытки остались.
	OutcomeErrored Outcome = "ERRORED"

	// OutcomeFailed — попытки исчерпаны, миграция в терминальном FAILED.
	OutcomeFailed Outcome = "FAILED"

	// OutcomePaused — замечен запрос паузы, миграция PAUSED.
	OutcomePaused Outcome = "PAUSED"

	// OutcomeCancelled — замечен запрос отмены, миграция CANCELLED.
	OutcomeCancelled Outcome = "CANCELLED"

	// OutcomeSkipped — шаг не выполнялся (precondition не выполнен).
	OutcomeSkipped Outcome = "SKIPPED"
)
