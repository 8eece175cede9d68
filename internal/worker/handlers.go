package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Migrata/internal/mq"
	"github.com/shaiso/Migrata/internal/repo"
)

// handleStepReady обрабатывает событие migration.step из очереди.
func (w *Worker) handleStepReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.StepReadyPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse migration.step payload", "error", err)
		return err
	}

	w.logger.Debug("received migration.step event",
		"migration_id", payload.MigrationID,
	)

	if err := w.processStep(ctx, payload.MigrationID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrMigrationNotFound) || errors.Is(err, ErrMigrationNotActive) {
			w.logger.Debug("step not processed",
				"migration_id", payload.MigrationID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process step",
			"migration_id", payload.MigrationID, "error", err)
		return err
	}

	return nil
}

// processStep загружает миграцию из БД, захватывает лок и выполняет
// ровно один шаг.
//
// Счётчик попыток ведёт движок в записи, а не очередь: ошибки шага
// уже записаны runner'ом к моменту возврата, поэтому сообщение
// подтверждается. В очередь возвращаются только инфраструктурные
// ошибки (недоступна БД, недоступен лок-пул).
func (w *Worker) processStep(ctx context.Context, migrationID uuid.UUID) error {
	m, err := w.store.GetByID(ctx, migrationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrMigrationNotFound, migrationID)
		}
		return fmt.Errorf("get migration: %w", err)
	}

	if !m.Status.IsActive() {
		return fmt.Errorf("%w: %s is %s", ErrMigrationNotActive, m.ID, m.Status)
	}

	release, ok, err := w.locker.TryAcquire(ctx, m.ResourceKey())
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		// шаг уже выполняется другим процессом; сообщение гасим,
		// следующий проход Scheduler'а опубликует новое
		w.logger.Debug("migration is locked, skipping",
			"migration_id", m.ID, "resource", m.ResourceKey())
		return nil
	}
	defer release()

	// Первая загрузка прошла до захвата лока: владевший локом процесс
	// мог шагнуть или завершить миграцию, пока мы ждали. Перечитываем
	// под локом и шагаем от свежего состояния.
	m, err = w.store.GetByID(ctx, migrationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrMigrationNotFound, migrationID)
		}
		return fmt.Errorf("reload migration: %w", err)
	}
	if !m.Status.IsActive() {
		return fmt.Errorf("%w: %s is %s", ErrMigrationNotActive, m.ID, m.Status)
	}

	outcome, runErr := w.runner.Run(ctx, m)
	if runErr != nil {
		// ошибка уже записана в запись; в фоновом режиме гасим
		w.logger.Warn("migration step errored",
			"migration_id", m.ID,
			"name", m.Name,
			"outcome", outcome,
			"error", runErr,
		)
		return nil
	}

	w.logger.Debug("migration step processed",
		"migration_id", m.ID,
		"name", m.Name,
		"outcome", outcome,
		"status", m.Status,
	)
	return nil
}
