package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Migrata/internal/domain"
	"github.com/shaiso/Migrata/internal/mq"
	"github.com/shaiso/Migrata/internal/runner"
)

// Default configuration values.
const (
	defaultPrefetch = 5
)

// Store — персистентность, нужная Worker'у.
// Реализуется repo.MigrationRepo.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Migration, error)
}

// Locker арбитрирует доступ к миграции между процессами.
type Locker interface {
	TryAcquire(ctx context.Context, resourceKey string) (release func(), ok bool, err error)
}

// StepRunner выполняет один шаг миграции.
type StepRunner interface {
	Run(ctx context.Context, m *domain.Migration) (runner.Outcome, error)
}

// Worker потребляет сигналы о готовых шагах и выполняет их.
type Worker struct {
	store  Store
	locker Locker
	runner StepRunner

	conn     *mq.Connection
	consumer *mq.Consumer
	prefetch int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Store  Store
	Locker Locker
	Runner StepRunner

	// MQ
	Conn *mq.Connection

	// Prefetch — количество сообщений для предварительной загрузки.
	Prefetch int

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		store:    cfg.Store,
		locker:   cfg.Locker,
		runner:   cfg.Runner,
		conn:     cfg.Conn,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Start запускает Worker: consumer очереди migrations.step.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker", "prefetch", w.prefetch)

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueMigrationsStep),
		Handler:  w.handleStepReady,
		Prefetch: w.prefetch,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("step consumer error", "error", err)
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}
