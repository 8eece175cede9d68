package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Migrata/internal/domain"
	"github.com/shaiso/Migrata/internal/migrate"
	"github.com/shaiso/Migrata/internal/repo"
	"github.com/shaiso/Migrata/internal/runner"
	"github.com/shaiso/Migrata/internal/telemetry"
)

// Store — персистентность, нужная Scheduler'у.
// Реализуется repo.MigrationRepo.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Migration, error)
	Update(ctx context.Context, m *domain.Migration) error
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	ListCandidates(ctx context.Context, shard string, limit int) ([]domain.Migration, error)
	ListRetryable(ctx context.Context, before time.Time, limit int) ([]domain.Migration, error)
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]domain.Migration, error)
	HasActiveSchemaOnTable(ctx context.Context, table string, excludeID uuid.UUID) (bool, error)
}

// Locker арбитрирует доступ к миграции между процессами.
type Locker interface {
	TryAcquire(ctx context.Context, resourceKey string) (release func(), ok bool, err error)
}

// StepRunner выполняет один шаг миграции (inline-режим).
type StepRunner interface {
	Run(ctx context.Context, m *domain.Migration) (runner.Outcome, error)
}

// Publisher отдаёт задание воркеру (фоновый режим).
type Publisher interface {
	PublishStepReady(ctx context.Context, migrationID uuid.UUID) error
}

// Scheduler — планировщик проходов по миграциям.
type Scheduler struct {
	store    Store
	locker   Locker
	runner   StepRunner
	pub      Publisher
	cfg      *migrate.Config
	notifier runner.Notifier
	logger   *slog.Logger
}

// Config — конфигурация Scheduler.
type Config struct {
	Store  Store
	Locker Locker

	// Runner обязателен в inline-режиме, Publisher — в фоновом.
	Runner    StepRunner
	Publisher Publisher

	Engine   *migrate.Config
	Notifier runner.Notifier // опционально; по умолчанию LogNotifier
	Logger   *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = runner.NewLogNotifier(logger)
	}

	return &Scheduler{
		store:    cfg.Store,
		locker:   cfg.Locker,
		runner:   cfg.Runner,
		pub:      cfg.Publisher,
		cfg:      cfg.Engine,
		notifier: notifier,
		logger:   logger,
	}
}

// Tick выполняет один проход планировщика.
//
// 1. Возвращает отлежавшиеся FAILED миграции в очередь (авто-retry)
// 2. Детектирует брошенные активные миграции
// 3. Выбирает кандидатов (по одному на «семью», с учётом таблиц)
// 4. Для каждого: лок → claim → шаг (inline) или публикация (фон)
//
// shard фильтрует кандидатов по метке шарда; пустая строка — все.
// Ошибки одного кандидата не блокируют остальных; в inline-режиме
// они накапливаются и возвращаются вызывающему.
func (s *Scheduler) Tick(ctx context.Context, shard string) error {
	started := time.Now()
	defer func() {
		telemetry.TickDuration.Observe(time.Since(started).Seconds())
	}()

	now := time.Now()

	if s.cfg.RetryFailedAfter > 0 {
		s.requeueFailed(ctx, now)
	}
	s.reportStuck(ctx, now)

	candidates, err := s.store.ListCandidates(ctx, shard, s.cfg.TickBatch)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	s.logger.Debug("found migration candidates", "count", len(candidates))

	var processed int
	var runErrs []error
	for i := range candidates {
		m := &candidates[i]

		err := s.processCandidate(ctx, m)
		if err != nil {
			s.logger.Error("failed to process migration",
				"migration_id", m.ID,
				"name", m.Name,
				"error", err,
			)
			if s.cfg.Inline {
				runErrs = append(runErrs, err)
			}
			continue
		}
		processed++
	}

	s.logger.Info("scheduler tick completed",
		"candidates", len(candidates),
		"processed", processed,
	)

	return errors.Join(runErrs...)
}

// processCandidate обрабатывает одного кандидата за проход.
func (s *Scheduler) processCandidate(ctx context.Context, m *domain.Migration) error {
	release, ok, err := s.locker.TryAcquire(ctx, m.ResourceKey())
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		// кем-то выполняется прямо сейчас — не ошибка
		s.logger.Debug("migration is locked, skipping",
			"migration_id", m.ID, "resource", m.ResourceKey())
		return nil
	}
	defer release()

	// Кандидат выбран до захвата лока: между выборкой и локом другой
	// процесс мог шагнуть или завершить запись. Работаем только со
	// свежей копией, прочитанной под локом.
	fresh, err := s.store.GetByID(ctx, m.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reload candidate: %w", err)
	}
	m = fresh
	if m.Status != domain.StatusEnqueued && !m.Status.IsActive() {
		s.logger.Debug("candidate no longer steppable, skipping",
			"migration_id", m.ID, "status", m.Status)
		return nil
	}

	if m.Status == domain.StatusEnqueued {
		// Занятость таблицы проверяется ещё раз под локом: выборка
		// кандидатов могла пройти до того, как конкурирующую
		// schema-миграцию той же таблицы забрали в работу.
		if m.Kind == domain.KindSchema {
			busy, err := s.store.HasActiveSchemaOnTable(ctx, m.TableName, m.ID)
			if err != nil {
				return fmt.Errorf("check table exclusivity: %w", err)
			}
			if busy {
				s.logger.Debug("table is busy, skipping schema migration",
					"migration_id", m.ID, "table", m.TableName)
				return nil
			}
		}

		claimed, err := s.store.Claim(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("claim: %w", err)
		}
		if !claimed {
			// гонка с другим процессом, запись заберут на его стороне
			return nil
		}
		if err := m.MarkRunning(); err != nil {
			return err
		}
		if m.ParentID != nil {
			s.promoteParent(ctx, *m.ParentID)
		}
		s.notifier.Started(m)
	}

	if s.cfg.Inline {
		if s.runner == nil {
			return errors.New("inline mode requires a step runner")
		}
		_, err := s.runner.Run(ctx, m)
		return err
	}

	if s.pub == nil {
		return errors.New("background mode requires a publisher")
	}
	if err := s.pub.PublishStepReady(ctx, m.ID); err != nil {
		// не фатально: запись остаётся в БД, следующий проход повторит
		s.logger.Warn("failed to publish step ready",
			"migration_id", m.ID, "error", err)
	}
	return nil
}

// requeueFailed возвращает FAILED миграции, отлежавшиеся дольше
// RetryFailedAfter, обратно в очередь с нуля.
func (s *Scheduler) requeueFailed(ctx context.Context, now time.Time) {
	before := now.Add(-s.cfg.RetryFailedAfter)

	failed, err := s.store.ListRetryable(ctx, before, s.cfg.TickBatch)
	if err != nil {
		s.logger.Warn("failed to list retryable migrations", "error", err)
		return
	}

	for i := range failed {
		m := &failed[i]
		if err := m.ResetForRetry(); err != nil {
			s.logger.Warn("cannot reset migration for retry",
				"migration_id", m.ID, "error", err)
			continue
		}
		if err := s.store.Update(ctx, m); err != nil {
			s.logger.Warn("failed to requeue migration",
				"migration_id", m.ID, "error", err)
			continue
		}
		s.logger.Info("requeued failed migration",
			"migration_id", m.ID,
			"name", m.Name,
			"shard", m.Shard,
		)
	}
}

// reportStuck детектирует брошенные активные миграции. Восстановление
// отдельного действия не требует: advisory-лок умершего владельца уже
// снят Postgres'ом, и следующий проход заберёт запись как кандидата.
func (s *Scheduler) reportStuck(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.cfg.StuckTimeout)

	stuck, err := s.store.ListStuck(ctx, cutoff, s.cfg.TickBatch)
	if err != nil {
		s.logger.Warn("failed to list stuck migrations", "error", err)
		return
	}

	for i := range stuck {
		m := &stuck[i]
		telemetry.StuckTotal.Inc()
		s.logger.Warn("stuck migration detected",
			"migration_id", m.ID,
			"name", m.Name,
			"status", m.Status,
			"last_step_at", m.LastStepAt,
		)
	}
}

// promoteParent переводит composite-родителя ENQUEUED → RUNNING при
// старте первого ребёнка. Ошибки не валят проход: агрегация родителя
// синхронизируется и по терминальным переходам детей.
func (s *Scheduler) promoteParent(ctx context.Context, parentID uuid.UUID) {
	parent, err := s.store.GetByID(ctx, parentID)
	if err != nil {
		s.logger.Warn("failed to load composite parent",
			"parent_id", parentID, "error", err)
		return
	}
	if parent.Status != domain.StatusEnqueued {
		return
	}
	if err := parent.MarkRunning(); err != nil {
		s.logger.Warn("cannot promote composite parent",
			"parent_id", parentID, "error", err)
		return
	}
	if err := s.store.Update(ctx, parent); err != nil {
		s.logger.Warn("failed to persist composite parent",
			"parent_id", parentID, "error", err)
	}
}
