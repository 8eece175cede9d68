package migrate

import (
	"context"
	"encoding/json"
	"fmt"
)

// RowRange — вариант «row-range»: порции нарезаются граничным запросом
// по монотонному ключу (обычно первичному). Update выполняется одним
// statement'ом на диапазон.
//
// Update получает границы диапазона как $1 (начало, включительно) и
// $2 (конец, включительно), например:
//
//	UPDATE users SET plan = 'free' WHERE id BETWEEN $1 AND $2 AND plan IS NULL
type RowRange struct {
	// Table — таблица, по которой нарезаются диапазоны.
	Table string

	// KeyColumn — монотонный ключ (обычно id).
	KeyColumn string

	// Where — опциональный фильтр строк при нарезке и подсчёте.
	Where string

	// Update — statement, применяемый к диапазону ($1, $2 — границы).
	Update string
}

// rangeCursor — сериализуемая позиция RowRange: последний обработанный ключ.
type rangeCursor struct {
	LastKey int64 `json:"last_key"`
}

// rangeUnit — payload порции: границы диапазона.
type rangeUnit struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// NextUnit выбирает следующий диапазон ключей после cursor.
func (r *RowRange) NextUnit(ctx context.Context, db Querier, args []any, cursor Cursor, limit int) (*WorkUnit, error) {
	var after int64
	if len(cursor) > 0 {
		var c rangeCursor
		if err := json.Unmarshal(cursor, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadCursor, err)
		}
		after = c.LastKey
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s > $1%s ORDER BY %s ASC LIMIT $2",
		r.KeyColumn, r.Table, r.KeyColumn, r.andWhere(), r.KeyColumn,
	)

	rows, err := db.Query(ctx, query, after, limit)
	if err != nil {
		return nil, fmt.Errorf("select next key range: %w", err)
	}
	defer rows.Close()

	var keys []int64
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		return nil, nil
	}

	next, err := json.Marshal(rangeCursor{LastKey: keys[len(keys)-1]})
	if err != nil {
		return nil, fmt.Errorf("marshal cursor: %w", err)
	}

	return &WorkUnit{
		Cursor:  next,
		Ticks:   int64(len(keys)),
		Payload: rangeUnit{Start: keys[0], End: keys[len(keys)-1]},
	}, nil
}

// Process применяет Update к диапазону порции.
func (r *RowRange) Process(ctx context.Context, db Querier, args []any, unit *WorkUnit) error {
	u, ok := unit.Payload.(rangeUnit)
	if !ok {
		return fmt.Errorf("row range: unexpected unit payload %T", unit.Payload)
	}

	if _, err := db.Exec(ctx, r.Update, u.Start, u.End); err != nil {
		return fmt.Errorf("apply range [%d, %d]: %w", u.Start, u.End, err)
	}
	return nil
}

// Count возвращает общее количество строк под миграцией.
func (r *RowRange) Count(ctx context.Context, db Querier, args []any) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE TRUE%s", r.Table, r.andWhere())

	var count int64
	if err := db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return count, nil
}

func (r *RowRange) andWhere() string {
	if r.Where == "" {
		return ""
	}
	return " AND (" + r.Where + ")"
}
