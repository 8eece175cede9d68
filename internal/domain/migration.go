package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MigrationKind — вид миграции.
type MigrationKind string

const (
	// KindData — data-миграция: обработка набора строк порциями.
	KindData MigrationKind = "DATA"

	// KindSchema — schema-миграция: один DDL-statement.
	KindSchema MigrationKind = "SCHEMA"
)

// Migration — одна единица фоновой работы.
//
// Создаётся при enqueue (одна запись, либо parent + по одному ребёнку
// на шард), мутируется только Runner'ом и Scheduler'ом. Движок никогда
// не удаляет записи — cleanup остаётся за оператором.
//
// Инвариант: тройка (Name, Arguments, Shard) уникальна — защита от
// повторного enqueue той же логической работы. Повторный запуск
// требует удаления старой записи оператором.
type Migration struct {
	// ID — уникальный идентификатор миграции.
	ID uuid.UUID `json:"id"`

	// Name — логическое имя миграции. Для data-миграций — ключ
	// в migrate.Registry, для schema-миграций — имя операции.
	Name string `json:"name"`

	// Arguments — упорядоченные аргументы, различающие экземпляры
	// одной и той же миграции.
	Arguments []any `json:"arguments,omitempty"`

	// Shard — метка шарда (пустая для нешардированной работы).
	Shard string `json:"shard,omitempty"`

	// Kind — DATA или SCHEMA.
	Kind MigrationKind `json:"kind"`

	// Composite — true для parent-записи шардированной миграции.
	// Composite-запись сама не выполняет шагов, только агрегирует
	// статусы детей. Глубина дерева ограничена единицей: ребёнок
	// не может быть composite.
	Composite bool `json:"composite"`

	// ParentID — ссылка на composite-родителя (для детей).
	ParentID *uuid.UUID `json:"parent_id,omitempty"`

	// --- payload data-миграции ---

	// Cursor — непрозрачная сериализуемая позиция возобновления.
	Cursor json.RawMessage `json:"cursor,omitempty"`

	// TickCount — количество выполненных шагов.
	TickCount int64 `json:"tick_count"`

	// TickTotal — оценка общего количества шагов (nil = неизвестно).
	TickTotal *int64 `json:"tick_total,omitempty"`

	// TimeRunning — суммарное чистое время выполнения шагов.
	TimeRunning time.Duration `json:"time_running"`

	// --- payload schema-миграции ---

	// Statement — единственный DDL-statement.
	Statement string `json:"statement,omitempty"`

	// StatementTimeout — statement-level таймаут для DDL.
	StatementTimeout time.Duration `json:"statement_timeout,omitempty"`

	// TableName — целевая таблица (она же ключ exclusivity-лока).
	TableName string `json:"table_name,omitempty"`

	// ConnectionName — против какой БД/шарда выполнять.
	ConnectionName string `json:"connection_name,omitempty"`

	// --- execution bookkeeping ---

	// Status — текущий статус (см. status.go).
	Status MigrationStatus `json:"status"`

	// Attempts — количество неудачных попыток.
	Attempts int `json:"attempts"`

	// MaxAttempts — после скольких попыток миграция становится FAILED.
	MaxAttempts int `json:"max_attempts"`

	// StartedAt — время первого шага.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время финального перехода.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// LastStepAt — время последнего выполненного шага.
	// Используется для детекции застрявших миграций.
	LastStepAt *time.Time `json:"last_step_at,omitempty"`

	// --- failure payload (только при терминальном FAILED) ---

	// ErrorClass — классификация ошибки.
	ErrorClass string `json:"error_class,omitempty"`

	// ErrorMessage — текст ошибки.
	ErrorMessage string `json:"error_message,omitempty"`

	// Backtrace — очищенный стек вызовов.
	Backtrace []string `json:"backtrace,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последней модификации.
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition переводит миграцию в новый статус, валидируя переход по
// таблице из status.go.
func (m *Migration) Transition(to MigrationStatus) error {
	if err := checkTransition(m.Status, to); err != nil {
		return err
	}
	m.Status = to
	return nil
}

// MarkRunning переводит миграцию в RUNNING и фиксирует начало работы.
func (m *Migration) MarkRunning() error {
	if err := m.Transition(StatusRunning); err != nil {
		return err
	}
	now := time.Now()
	if m.StartedAt == nil {
		m.StartedAt = &now
	}
	m.LastStepAt = &now
	return nil
}

// MarkSucceeded переводит миграцию в SUCCEEDED.
func (m *Migration) MarkSucceeded() error {
	if err := m.Transition(StatusSucceeded); err != nil {
		return err
	}
	now := time.Now()
	m.FinishedAt = &now
	return nil
}

// MarkFailed переводит миграцию в терминальный FAILED.
// Вызывается только когда попытки исчерпаны.
func (m *Migration) MarkFailed() error {
	if err := m.Transition(StatusFailed); err != nil {
		return err
	}
	now := time.Now()
	m.FinishedAt = &now
	return nil
}

// MarkPaused завершает кооперативную паузу: PAUSING → PAUSED.
func (m *Migration) MarkPaused() error {
	return m.Transition(StatusPaused)
}

// MarkCancelled завершает кооперативную отмену: CANCELLING → CANCELLED.
func (m *Migration) MarkCancelled() error {
	if err := m.Transition(StatusCancelled); err != nil {
		return err
	}
	now := time.Now()
	m.FinishedAt = &now
	return nil
}

// RecordError сохраняет failure payload и увеличивает счётчик попыток.
// Возвращает true, если попытки исчерпаны и миграцию пора переводить
// в FAILED.
func (m *Migration) RecordError(class, message string, backtrace []string) bool {
	m.ErrorClass = class
	m.ErrorMessage = message
	m.Backtrace = backtrace
	m.Attempts++
	return m.Attempts >= m.MaxAttempts
}

// RecordStep фиксирует выполненный шаг data-миграции.
func (m *Migration) RecordStep(cursor json.RawMessage, ticks int64, elapsed time.Duration) {
	m.Cursor = cursor
	m.TickCount += ticks
	m.TimeRunning += elapsed
	now := time.Now()
	m.LastStepAt = &now
}

// ResetForRetry возвращает FAILED миграцию в ENQUEUED: сбрасывает
// попытки, cursor и прогресс, очищает failure payload.
func (m *Migration) ResetForRetry() error {
	if err := m.Transition(StatusEnqueued); err != nil {
		return err
	}
	m.Attempts = 0
	m.Cursor = nil
	m.TickCount = 0
	m.TimeRunning = 0
	m.StartedAt = nil
	m.FinishedAt = nil
	m.LastStepAt = nil
	m.ErrorClass = ""
	m.ErrorMessage = ""
	m.Backtrace = nil
	return nil
}

// CanRetry проверяет, остались ли попытки.
func (m *Migration) CanRetry() bool {
	return m.Attempts < m.MaxAttempts
}

// IsStuck возвращает true, если миграция находится в активном статусе,
// но не делала шагов дольше liveness-таймаута. Такая миграция считается
// брошенной (владеющий процесс, скорее всего, умер) и подлежит retry.
func (m *Migration) IsStuck(timeout time.Duration, now time.Time) bool {
	if !m.Status.IsActive() {
		return false
	}
	last := m.UpdatedAt
	if m.LastStepAt != nil && m.LastStepAt.After(last) {
		last = *m.LastStepAt
	}
	return now.Sub(last) > timeout
}

// Progress возвращает долю выполненной работы в диапазоне [0, 1].
// ok=false, если оценка объёма неизвестна. Для composite-родителя
// см. CompositeProgress.
func (m *Migration) Progress() (float64, bool) {
	if m.Status == StatusSucceeded {
		return 1, true
	}
	if m.TickTotal == nil || *m.TickTotal <= 0 {
		return 0, false
	}
	p := float64(m.TickCount) / float64(*m.TickTotal)
	if p > 1 {
		p = 1
	}
	return p, true
}

// ResourceKey возвращает ключ exclusivity-лока.
//
// Для schema-миграций — имя таблицы: конфликтующие изменения одной
// таблицы сериализуются, несвязанные таблицы идут параллельно.
// Для data-миграций — идентичность самой записи: записи работают с
// непересекающимися наборами строк, нужна только защита от двойного
// захвата одной записи двумя воркерами.
func (m *Migration) ResourceKey() string {
	if m.Kind == KindSchema {
		return "table:" + m.TableName
	}
	return "migration:" + m.ID.String()
}

// Identity возвращает логическую идентичность (Name, Arguments, Shard)
// в каноничном строковом виде.
func (m *Migration) Identity() string {
	args, _ := json.Marshal(m.Arguments)
	return fmt.Sprintf("%s(%s)@%s", m.Name, args, m.Shard)
}

// Validate проверяет конфигурацию миграции перед записью в БД.
func (m *Migration) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidMigration)
	}
	if m.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max_attempts must be positive", ErrInvalidMigration)
	}
	switch m.Kind {
	case KindData:
	case KindSchema:
		if !m.Composite {
			if m.Statement == "" {
				return fmt.Errorf("%w: schema migration requires a statement", ErrInvalidMigration)
			}
			if m.TableName == "" {
				return fmt.Errorf("%w: schema migration requires a table name", ErrInvalidMigration)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMigration, m.Kind)
	}
	if m.Composite && m.ParentID != nil {
		return fmt.Errorf("%w: a composite migration cannot have a parent", ErrInvalidMigration)
	}
	return nil
}
