package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AggregateStatus вычисляет статус composite-родителя как чистую
// функцию статусов его детей.
//
// Правило:
//   - все дети SUCCEEDED → SUCCEEDED
//   - хотя бы один ребёнок FAILED → FAILED
//   - хотя бы один ребёнок CANCELLED (и нет FAILED) → CANCELLED
//   - иначе, пока хоть один ребёнок ещё не стартовал или не завершился,
//     родитель остаётся ENQUEUED/RUNNING
func AggregateStatus(children []MigrationStatus) MigrationStatus {
	if len(children) == 0 {
		return StatusEnqueued
	}

	allSucceeded := true
	allEnqueued := true
	anyFailed := false
	anyCancelled := false

	for _, st := range children {
		if st != StatusSucceeded {
			allSucceeded = false
		}
		if st != StatusEnqueued {
			allEnqueued = false
		}
		switch st {
		case StatusFailed:
			anyFailed = true
		case StatusCancelled:
			anyCancelled = true
		}
	}

	switch {
	case allSucceeded:
		return StatusSucceeded
	case anyFailed:
		return StatusFailed
	case anyCancelled:
		return StatusCancelled
	case allEnqueued:
		return StatusEnqueued
	default:
		return StatusRunning
	}
}

// ValidateAggregate проверяет, что статус to для composite-родителя не
// противоречит статусам детей. Терминальный статус родителя допустим
// только когда его требует правило агрегации.
func ValidateAggregate(to MigrationStatus, children []MigrationStatus) error {
	if !to.IsTerminal() {
		return nil
	}
	if agg := AggregateStatus(children); agg != to {
		return fmt.Errorf("%w: children require %s, not %s", ErrInvalidAggregate, agg, to)
	}
	return nil
}

// SyncAggregate подтягивает статус composite-родителя к статусам детей.
// Возвращает true, если статус изменился.
func (m *Migration) SyncAggregate(children []Migration) (bool, error) {
	if !m.Composite {
		return false, fmt.Errorf("%w: not a composite migration", ErrInvalidAggregate)
	}

	statuses := make([]MigrationStatus, len(children))
	for i := range children {
		statuses[i] = children[i].Status
	}

	target := AggregateStatus(statuses)
	if target == m.Status {
		return false, nil
	}

	// RUNNING→ENQUEUED агрегат вернуть не может; ENQUEUED-родитель при
	// первом стартовавшем ребёнке идёт через обычный переход в RUNNING.
	// CANCELLED достижим только через CANCELLING — проходим обе дуги.
	if target == StatusCancelled && m.Status == StatusRunning {
		if err := m.Transition(StatusCancelling); err != nil {
			return false, err
		}
	}
	if err := m.Transition(target); err != nil {
		return false, err
	}
	if target.IsTerminal() {
		now := time.Now()
		m.FinishedAt = &now
	}
	return true, nil
}

// CompositeProgress возвращает прогресс composite-родителя: среднее
// арифметическое прогрессов детей с равными весами (не по размеру).
// Завершённый ребёнок вносит 1, незавершённый — свою текущую долю.
func CompositeProgress(children []Migration) (float64, bool) {
	if len(children) == 0 {
		return 0, false
	}

	var sum float64
	known := false
	for i := range children {
		p, ok := children[i].Progress()
		if ok {
			known = true
		}
		sum += p
	}
	return sum / float64(len(children)), known
}

// BuildSharded строит parent + по одному ребёнку на шард для
// шардированной миграции. Дети никогда не composite — глубина дерева
// ограничена единицей по построению.
func BuildSharded(proto Migration, shards []string) (*Migration, []Migration, error) {
	if len(shards) == 0 {
		return nil, nil, fmt.Errorf("%w: sharded migration requires at least one shard", ErrInvalidMigration)
	}

	now := time.Now()

	parent := proto
	parent.ID = uuid.New()
	parent.Composite = true
	parent.ParentID = nil
	parent.Shard = ""
	parent.Status = StatusEnqueued
	parent.CreatedAt = now
	parent.UpdatedAt = now
	if err := parent.Validate(); err != nil {
		return nil, nil, err
	}

	children := make([]Migration, len(shards))
	for i, shard := range shards {
		child := proto
		child.ID = uuid.New()
		child.Composite = false
		parentID := parent.ID
		child.ParentID = &parentID
		child.Shard = shard
		child.ConnectionName = shard
		child.Status = StatusEnqueued
		child.CreatedAt = now
		child.UpdatedAt = now
		if err := child.Validate(); err != nil {
			return nil, nil, err
		}
		children[i] = child
	}

	return &parent, children, nil
}
