package migrate

import (
	"time"

	"github.com/shaiso/Migrata/internal/domain"
)

// Default configuration values.
const (
	DefaultBatchSize        = 1000
	DefaultBatchPause       = 100 * time.Millisecond
	DefaultStatementTimeout = time.Hour
	DefaultMaxAttempts      = 5
	DefaultStuckTimeout     = 5 * time.Minute
	DefaultTickBatch        = 10
)

// Config — явная конфигурация движка.
//
// Конструируется один раз при старте процесса и передаётся по ссылке
// в конструкторы Runner'а и Scheduler'а. Глобального изменяемого
// состояния у движка нет.
type Config struct {
	// BatchSize — строк (элементов) на одну порцию data-миграции.
	BatchSize int

	// BatchPause — кооперативная пауза между шагами data-миграции
	// (load-shedding). 0 — без паузы.
	BatchPause time.Duration

	// StatementTimeout — таймаут по умолчанию для DDL schema-миграций.
	StatementTimeout time.Duration

	// MaxAttempts — попыток по умолчанию до терминального FAILED.
	MaxAttempts int

	// StuckTimeout — liveness-таймаут: активная миграция без шагов
	// дольше этого срока считается брошенной.
	StuckTimeout time.Duration

	// TickBatch — максимум кандидатов за один проход Scheduler'а.
	TickBatch int

	// RetryFailedAfter — авто-retry FAILED миграций спустя этот срок.
	// 0 — автоматический retry выключен, только явный.
	RetryFailedAfter time.Duration

	// Inline — синхронный режим (dev/test): шаг выполняется прямо в
	// проходе Scheduler'а, ошибки выполнения пробрасываются вызывающему
	// после записи. В фоновом режиме ошибки записываются и гасятся:
	// счётчик попыток ведёт движок, а не внешняя очередь.
	Inline bool

	// Throttle — внешний хук дросселирования: true = пропустить шаг,
	// не считая это ошибкой. Опрашивается перед каждым шагом.
	Throttle func() bool

	// OnError — внешний обработчик терминальных ошибок; вызывается
	// ровно один раз на переход в FAILED.
	OnError func(err error, m *domain.Migration)

	// CleanBacktrace — очистка стека перед сохранением.
	CleanBacktrace func(raw []string) []string
}

// Normalize заполняет нулевые поля значениями по умолчанию.
func (c *Config) Normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchPause < 0 {
		c.BatchPause = DefaultBatchPause
	}
	if c.StatementTimeout <= 0 {
		c.StatementTimeout = DefaultStatementTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.StuckTimeout <= 0 {
		c.StuckTimeout = DefaultStuckTimeout
	}
	if c.TickBatch <= 0 {
		c.TickBatch = DefaultTickBatch
	}
}

// Throttled сообщает, просит ли внешний хук отложить шаг.
func (c *Config) Throttled() bool {
	return c.Throttle != nil && c.Throttle()
}
