package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Migrata/internal/domain"
	"github.com/shaiso/Migrata/internal/repo"
)

// App — собранные зависимости CLI-команд: пулы БД и репозиторий.
type App struct {
	Pools  *repo.Pools
	Repo   *repo.MigrationRepo
	Logger *slog.Logger
}

// NewApp подключается к БД по окружению (DB_URL, DB_URL_<SHARD>).
func NewApp(ctx context.Context, logger *slog.Logger) (*App, error) {
	pools, err := repo.NewPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	return &App{
		Pools:  pools,
		Repo:   repo.NewMigrationRepo(pools.Default()),
		Logger: logger,
	}, nil
}

// Close закрывает соединения.
func (a *App) Close() {
	a.Pools.Close()
}

// signal применяет переход статуса к записи; для composite-родителя —
// к каждому ребёнку, которому переход доступен.
func (a *App) signal(ctx context.Context, id uuid.UUID, to domain.MigrationStatus) (int, error) {
	m, err := a.Repo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}

	if !m.Composite {
		if err := a.transitionOne(ctx, m, to); err != nil {
			return 0, err
		}
		return 1, nil
	}

	children, err := a.Repo.ListChildren(ctx, m.ID)
	if err != nil {
		return 0, err
	}

	var applied int
	for i := range children {
		child := &children[i]
		if !child.Status.CanTransitionTo(to) {
			continue
		}
		if err := a.transitionOne(ctx, child, to); err != nil {
			return applied, err
		}
		applied++
	}
	if applied == 0 {
		return 0, fmt.Errorf("no children of %s can transition to %s", m.ID, to)
	}
	return applied, nil
}

// transitionOne выполняет переход и персистит запись.
func (a *App) transitionOne(ctx context.Context, m *domain.Migration, to domain.MigrationStatus) error {
	switch {
	case to == domain.StatusEnqueued && m.Status == domain.StatusFailed:
		// retry стартует работу заново, с чистым прогрессом
		if err := m.ResetForRetry(); err != nil {
			return err
		}
	default:
		// resume (PAUSED → ENQUEUED) сохраняет cursor и прогресс
		if err := m.Transition(to); err != nil {
			return err
		}
	}
	return a.Repo.Update(ctx, m)
}
