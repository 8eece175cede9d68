package migrate

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Cursor — непрозрачная сериализуемая позиция возобновления.
type Cursor = json.RawMessage

// Querier — минимальный интерфейс БД, который видят data-миграции.
// Реализуется pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WorkUnit — одна ограниченная порция работы.
type WorkUnit struct {
	// Cursor — позиция возобновления ПОСЛЕ выполнения этой порции.
	Cursor Cursor

	// Ticks — сколько тиков прогресса даёт порция (обычно число строк).
	Ticks int64

	// Payload — данные порции, передаются в Process как есть.
	Payload any
}

// Definition — пользовательская data-миграция.
//
// Движок полиморфен по этому интерфейсу; два встроенных варианта —
// RowRange (граничный запрос по ключу) и CollectionSource (ленивая
// последовательность элементов).
type Definition interface {
	// NextUnit возвращает следующую порцию работы после cursor.
	// nil означает, что работы не осталось. Результат обязан быть
	// детерминированным по (данные, cursor): возобновление с
	// сохранённого cursor даёт ту же последовательность оставшихся
	// порций, что и непрерывный прогон.
	NextUnit(ctx context.Context, db Querier, args []any, cursor Cursor, limit int) (*WorkUnit, error)

	// Process выполняет одну порцию. Обязан быть идемпотентным.
	Process(ctx context.Context, db Querier, args []any, unit *WorkUnit) error
}

// Countable — опциональная оценка общего объёма работы (tick_total).
type Countable interface {
	Count(ctx context.Context, db Querier, args []any) (int64, error)
}
