package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Migrata/internal/domain"
	"github.com/shaiso/Migrata/internal/migrate"
)

// runDataStep выполняет один шаг data-миграции:
// следующая порция по cursor → пользовательский Process → персист
// cursor/прогресса → кооперативная пауза → проверка сигналов.
func (r *Runner) runDataStep(ctx context.Context, m *domain.Migration) (Outcome, error) {
	def, err := r.registry.Get(m.Name)
	if err != nil {
		return r.recordFailure(ctx, m, err)
	}

	q, err := r.db.Querier(m.ConnectionName)
	if err != nil {
		return r.recordFailure(ctx, m, err)
	}

	// разовая оценка объёма для прогресса
	if m.TickTotal == nil {
		if countable, ok := def.(migrate.Countable); ok {
			total, err := countable.Count(ctx, q, m.Arguments)
			if err != nil {
				r.logger.Warn("failed to estimate tick total",
					"migration_id", m.ID, "error", err)
			} else if total > 0 {
				m.TickTotal = &total
			}
		}
	}

	unit, err := def.NextUnit(ctx, q, m.Arguments, migrate.Cursor(m.Cursor), r.cfg.BatchSize)
	if err != nil {
		return r.recordFailure(ctx, m, fmt.Errorf("next unit: %w", err))
	}

	if unit == nil {
		if err := m.MarkSucceeded(); err != nil {
			return OutcomeSkipped, err
		}
		if err := r.store.Update(ctx, m); err != nil {
			return OutcomeSkipped, fmt.Errorf("persist succeeded: %w", err)
		}
		r.notifier.Completed(m)
		return OutcomeCompleted, nil
	}

	start := time.Now()
	if err := def.Process(ctx, q, m.Arguments, unit); err != nil {
		return r.recordFailure(ctx, m, fmt.Errorf("process unit: %w", err))
	}

	m.RecordStep(unit.Cursor, unit.Ticks, time.Since(start))
	if err := r.store.Update(ctx, m); err != nil {
		return OutcomeSkipped, fmt.Errorf("persist step: %w", err)
	}
	r.notifier.StepRun(m)

	// кооперативная пауза между шагами (load-shedding)
	if r.cfg.BatchPause > 0 {
		select {
		case <-time.After(r.cfg.BatchPause):
		case <-ctx.Done():
			return OutcomeStepped, ctx.Err()
		}
	}

	// запрос паузы/отмены, пришедший во время шага
	if outcome, done := r.checkSignal(ctx, m); done {
		return outcome, nil
	}

	return OutcomeStepped, nil
}
