package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shaiso/Migrata/internal/domain"
	"github.com/shaiso/Migrata/internal/migrate"
	"github.com/shaiso/Migrata/internal/telemetry"
)

// Store — персистентность, нужная Runner'у.
// Реализуется repo.MigrationRepo.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Migration, error)
	Update(ctx context.Context, m *domain.Migration) error
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.Migration, error)
}

// DB — доступ к целевым БД по имени соединения.
type DB interface {
	// Querier возвращает пул для data-шагов.
	Querier(name string) (migrate.Querier, error)

	// WithConn выполняет fn на выделенном соединении: schema-шагу нужен
	// session-level statement_timeout, а CREATE INDEX CONCURRENTLY
	// нельзя выполнять в транзакции.
	WithConn(ctx context.Context, name string, fn func(conn migrate.Querier) error) error
}

// Runner выполняет по одному шагу миграций.
type Runner struct {
	store    Store
	db       DB
	registry *migrate.Registry
	cfg      *migrate.Config
	notifier Notifier
	logger   *slog.Logger
}

// Config — конфигурация Runner'а.
type Config struct {
	Store    Store
	DB       DB
	Registry *migrate.Registry
	Engine   *migrate.Config
	Notifier Notifier // опционально; по умолчанию LogNotifier
	Logger   *slog.Logger
}

// New создаёт новый Runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	registry := cfg.Registry
	if registry == nil {
		registry = migrate.NewRegistry()
	}

	return &Runner{
		store:    cfg.Store,
		db:       cfg.DB,
		registry: registry,
		cfg:      cfg.Engine,
		notifier: notifier,
		logger:   logger,
	}
}

// Run выполняет ровно один шаг миграции m.
//
// Precondition: m в статусе RUNNING (либо PAUSING/CANCELLING — тогда
// Runner завершает кооперативный переход и шага не делает). Состояние
// записи персистится до возврата при любом исходе.
//
// Ошибка выполнения возвращается вызывающему всегда; в inline-режиме
// вызывающий пробрасывает её дальше, в фоновом — логирует и гасит.
func (r *Runner) Run(ctx context.Context, m *domain.Migration) (Outcome, error) {
	if m.Composite {
		return OutcomeSkipped, fmt.Errorf("%w: %s", ErrCompositeMigration, m.ID)
	}

	switch m.Status {
	case domain.StatusPausing, domain.StatusCancelling:
		return r.finalizeSignal(ctx, m)
	case domain.StatusRunning:
	default:
		return OutcomeSkipped, fmt.Errorf("%w: %s is %s", ErrNotRunnable, m.ID, m.Status)
	}

	if r.cfg.Throttled() {
		r.notifier.Throttled(m)
		return OutcomeThrottled, nil
	}

	start := time.Now()
	var outcome Outcome
	var err error

	switch m.Kind {
	case domain.KindSchema:
		outcome, err = r.runSchemaStep(ctx, m)
	default:
		outcome, err = r.runDataStep(ctx, m)
	}

	telemetry.StepDuration.WithLabelValues(string(m.Kind)).Observe(time.Since(start).Seconds())

	if m.Status.IsTerminal() && m.ParentID != nil {
		r.syncParent(ctx, m)
	}
	return outcome, err
}

// finalizeSignal завершает кооперативный переход PAUSING → PAUSED или
// CANCELLING → CANCELLED на границе шага.
func (r *Runner) finalizeSignal(ctx context.Context, m *domain.Migration) (Outcome, error) {
	switch m.Status {
	case domain.StatusPausing:
		if err := m.MarkPaused(); err != nil {
			return OutcomeSkipped, err
		}
		if err := r.store.Update(ctx, m); err != nil {
			return OutcomeSkipped, fmt.Errorf("persist paused: %w", err)
		}
		r.logger.Info("migration paused", "migration_id", m.ID, "name", m.Name)
		return OutcomePaused, nil

	case domain.StatusCancelling:
		if err := m.MarkCancelled(); err != nil {
			return OutcomeSkipped, err
		}
		if err := r.store.Update(ctx, m); err != nil {
			return OutcomeSkipped, fmt.Errorf("persist cancelled: %w", err)
		}
		r.logger.Info("migration cancelled", "migration_id", m.ID, "name", m.Name)
		if m.ParentID != nil {
			r.syncParent(ctx, m)
		}
		return OutcomeCancelled, nil
	}

	return OutcomeSkipped, fmt.Errorf("%w: %s is %s", ErrNotRunnable, m.ID, m.Status)
}

// recordFailure персистит failure payload и решает судьбу записи:
// попытки исчерпаны → терминальный FAILED + внешний error-хук (ровно
// один раз), иначе запись остаётся RUNNING и будет переизбрана
// Scheduler'ом.
func (r *Runner) recordFailure(ctx context.Context, m *domain.Migration, execErr error) (Outcome, error) {
	telemetry.StepFailuresTotal.WithLabelValues(string(m.Kind)).Inc()

	class, message := classifyError(execErr)
	backtrace := telemetry.Backtrace()
	if r.cfg.CleanBacktrace != nil {
		backtrace = r.cfg.CleanBacktrace(backtrace)
	}

	exhausted := m.RecordError(class, message, backtrace)

	if !exhausted {
		if err := r.store.Update(ctx, m); err != nil {
			return OutcomeErrored, errors.Join(execErr, fmt.Errorf("persist failure: %w", err))
		}
		r.logger.Warn("migration step failed",
			"migration_id", m.ID,
			"name", m.Name,
			"attempts", m.Attempts,
			"max_attempts", m.MaxAttempts,
			"error", execErr,
		)
		return OutcomeErrored, execErr
	}

	if err := m.MarkFailed(); err != nil {
		return OutcomeErrored, errors.Join(execErr, err)
	}
	if err := r.store.Update(ctx, m); err != nil {
		return OutcomeErrored, errors.Join(execErr, fmt.Errorf("persist failed: %w", err))
	}

	r.logger.Error("migration failed",
		"migration_id", m.ID,
		"name", m.Name,
		"attempts", m.Attempts,
		"error_class", m.ErrorClass,
		"error", execErr,
	)

	if r.cfg.OnError != nil {
		r.cfg.OnError(execErr, m)
	}
	return OutcomeFailed, execErr
}

// checkSignal перечитывает запись и завершает запрошенную паузу/отмену,
// если она появилась, пока выполнялся шаг.
func (r *Runner) checkSignal(ctx context.Context, m *domain.Migration) (Outcome, bool) {
	fresh, err := r.store.GetByID(ctx, m.ID)
	if err != nil {
		r.logger.Warn("failed to re-check migration status", "migration_id", m.ID, "error", err)
		return OutcomeSkipped, false
	}

	if fresh.Status != domain.StatusPausing && fresh.Status != domain.StatusCancelling {
		return OutcomeSkipped, false
	}

	// свежая запись несёт внешний запрос, но прогресс шага уже в m
	m.Status = fresh.Status
	outcome, err := r.finalizeSignal(ctx, m)
	if err != nil {
		r.logger.Warn("failed to finalize pause/cancel", "migration_id", m.ID, "error", err)
		return OutcomeSkipped, false
	}
	return outcome, true
}

// syncParent подтягивает статус composite-родителя после терминального
// перехода ребёнка. Ошибки синхронизации не валят шаг: следующий проход
// Scheduler'а повторит агрегацию.
func (r *Runner) syncParent(ctx context.Context, child *domain.Migration) {
	parent, err := r.store.GetByID(ctx, *child.ParentID)
	if err != nil {
		r.logger.Warn("failed to load composite parent", "parent_id", child.ParentID, "error", err)
		return
	}

	children, err := r.store.ListChildren(ctx, parent.ID)
	if err != nil {
		r.logger.Warn("failed to list children", "parent_id", parent.ID, "error", err)
		return
	}

	changed, err := parent.SyncAggregate(children)
	if err != nil {
		r.logger.Warn("composite aggregation rejected", "parent_id", parent.ID, "error", err)
		return
	}
	if !changed {
		return
	}

	if err := r.store.Update(ctx, parent); err != nil {
		r.logger.Warn("failed to persist composite parent", "parent_id", parent.ID, "error", err)
		return
	}

	if parent.Status == domain.StatusSucceeded {
		r.notifier.Completed(parent)
	}
}

// classifyError выделяет класс и сообщение ошибки для failure payload.
func classifyError(err error) (class, message string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return "pgerror:" + pgErr.Code, pgErr.Message
	}
	return fmt.Sprintf("%T", err), err.Error()
}
