package retrier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgLockNotAvailable — SQLSTATE lock_not_available.
const pgLockNotAvailable = "55P03"

// Default configuration values.
const (
	DefaultAttempts    = 10
	DefaultBaseDelay   = 100 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultLockTimeout = time.Second
)

// Beginner открывает транзакции. Реализуется pgxpool.Pool и pgx.Conn.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config — конфигурация retry-цикла.
type Config struct {
	// Attempts — максимум попыток.
	Attempts int

	// BaseDelay — задержка после первой неудачи.
	BaseDelay time.Duration

	// MaxDelay — потолок экспоненциальной задержки.
	MaxDelay time.Duration

	// LockTimeout — lock_timeout каждой попытки.
	LockTimeout time.Duration

	// Logger — опционально.
	Logger *slog.Logger
}

// normalize заполняет нулевые поля значениями по умолчанию.
func (c *Config) normalize() {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WithRetries выполняет fn в транзакции с коротким lock_timeout,
// повторяя по lock-таймауту до исчерпания попыток. Любая другая ошибка
// возвращается сразу.
func WithRetries(ctx context.Context, db Beginner, cfg Config, fn func(tx pgx.Tx) error) error {
	cfg.normalize()

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		lastErr = runAttempt(ctx, db, cfg.LockTimeout, fn)
		if lastErr == nil {
			return nil
		}
		if !isLockTimeout(lastErr) {
			return lastErr
		}

		if attempt == cfg.Attempts {
			break
		}

		delay := backoff(attempt, cfg.BaseDelay, cfg.MaxDelay)
		cfg.Logger.Debug("lock timeout, retrying",
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("lock not acquired after %d attempts: %w", cfg.Attempts, lastErr)
}

// runAttempt — одна попытка: транзакция + SET LOCAL lock_timeout + fn.
func runAttempt(ctx context.Context, db Beginner, lockTimeout time.Duration, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock_timeout: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// isLockTimeout распознаёт SQLSTATE 55P03.
func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}

// backoff считает экспоненциальную задержку с потолком.
func backoff(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
