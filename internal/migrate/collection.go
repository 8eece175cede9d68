package migrate

import (
	"context"
	"fmt"
)

// CollectionSource — вариант «iterable-collection»: пользователь отдаёт
// ленивую конечную последовательность элементов с опциональной оценкой
// размера, а движок обрабатывает её поэлементными порциями.
//
// Next обязан быть детерминированным по cursor: один и тот же cursor
// всегда даёт одну и ту же оставшуюся последовательность.
type CollectionSource struct {
	// Next возвращает до limit элементов после cursor и новый cursor.
	// Пустой срез означает конец последовательности.
	Next func(ctx context.Context, db Querier, args []any, cursor Cursor, limit int) ([]any, Cursor, error)

	// ProcessElement обрабатывает один элемент. Обязан быть идемпотентным.
	ProcessElement func(ctx context.Context, db Querier, args []any, element any) error

	// Size — опциональная оценка общего числа элементов.
	Size func(ctx context.Context, db Querier, args []any) (int64, error)
}

// NextUnit упаковывает очередную порцию элементов в WorkUnit.
func (c *CollectionSource) NextUnit(ctx context.Context, db Querier, args []any, cursor Cursor, limit int) (*WorkUnit, error) {
	elements, next, err := c.Next(ctx, db, args, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("next elements: %w", err)
	}
	if len(elements) == 0 {
		return nil, nil
	}

	return &WorkUnit{
		Cursor:  next,
		Ticks:   int64(len(elements)),
		Payload: elements,
	}, nil
}

// Process обрабатывает элементы порции по одному.
func (c *CollectionSource) Process(ctx context.Context, db Querier, args []any, unit *WorkUnit) error {
	elements, ok := unit.Payload.([]any)
	if !ok {
		return fmt.Errorf("collection: unexpected unit payload %T", unit.Payload)
	}

	for _, element := range elements {
		if err := c.ProcessElement(ctx, db, args, element); err != nil {
			return err
		}
	}
	return nil
}

// Count возвращает оценку размера, если пользователь её предоставил.
func (c *CollectionSource) Count(ctx context.Context, db Querier, args []any) (int64, error) {
	if c.Size == nil {
		return 0, nil
	}
	return c.Size(ctx, db, args)
}
