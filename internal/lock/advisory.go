package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// keyNamespace отделяет локи движка от чужих advisory-локов той же БД.
const keyNamespace = "migrata:"

// Locker захватывает advisory-локи по строковому ключу ресурса.
type Locker struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewLocker создаёт Locker поверх пула координирующей БД.
func NewLocker(pool *pgxpool.Pool, logger *slog.Logger) *Locker {
	return &Locker{pool: pool, logger: logger}
}

// TryAcquire пытается захватить лок для ключа ресурса.
//
// Возвращает release-функцию и ok=true при успехе; ok=false, если лок
// уже удерживается другим процессом (это не ошибка). release обязана
// быть вызвана в конце попытки независимо от исхода работы.
func (l *Locker) TryAcquire(ctx context.Context, resourceKey string) (release func(), ok bool, err error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire conn: %w", err)
	}

	key := HashKey(resourceKey)

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}

	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	l.logger.Debug("advisory lock acquired", "resource", resourceKey, "key", key)

	release = func() {
		// unlock на том же соединении; при обрыве соединения Postgres
		// снимет лок сам
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key); err != nil {
			l.logger.Warn("advisory unlock failed", "resource", resourceKey, "error", err)
		}
		conn.Release()
	}
	return release, true, nil
}

// HashKey сворачивает строковый ключ ресурса в 64-битный ключ
// pg_advisory_lock. Детерминирован между процессами.
func HashKey(resourceKey string) int64 {
	h := fnv.New64a()
	h.Write([]byte(keyNamespace + resourceKey))
	return int64(h.Sum64())
}
