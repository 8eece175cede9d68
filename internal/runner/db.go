package runner

import (
	"context"
	"fmt"

	"github.com/shaiso/Migrata/internal/migrate"
	"github.com/shaiso/Migrata/internal/repo"
)

// PoolDB — адаптер repo.Pools к интерфейсу DB.
type PoolDB struct {
	pools *repo.Pools
}

// NewPoolDB создаёт PoolDB.
func NewPoolDB(pools *repo.Pools) *PoolDB {
	return &PoolDB{pools: pools}
}

// Querier возвращает пул целевой БД.
func (d *PoolDB) Querier(name string) (migrate.Querier, error) {
	return d.pools.Get(name)
}

// WithConn выполняет fn на выделенном соединении пула.
func (d *PoolDB) WithConn(ctx context.Context, name string, fn func(conn migrate.Querier) error) error {
	pool, err := d.pools.Get(name)
	if err != nil {
		return err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	return fn(conn)
}
