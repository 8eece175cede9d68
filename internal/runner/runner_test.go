package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shaiso/Migrata/internal/domain"
	"github.com/shaiso/Migrata/internal/migrate"
	"github.com/shaiso/Migrata/internal/repo"
)

// --- Fakes ---

type fakeStore struct {
	migrations map[uuid.UUID]*domain.Migration
	updates    int
}

func newFakeStore(ms ...*domain.Migration) *fakeStore {
	s := &fakeStore{migrations: make(map[uuid.UUID]*domain.Migration)}
	for _, m := range ms {
		s.put(m)
	}
	return s
}

func (s *fakeStore) put(m *domain.Migration) {
	copied := *m
	s.migrations[m.ID] = &copied
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Migration, error) {
	m, ok := s.migrations[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *fakeStore) Update(ctx context.Context, m *domain.Migration) error {
	existing, ok := s.migrations[m.ID]
	if !ok {
		return repo.ErrNotFound
	}
	s.updates++
	copied := *m
	// повторяет семантику репозитория: запись RUNNING не перетирает
	// конкурентно запрошенную паузу/отмену
	if copied.Status == domain.StatusRunning &&
		(existing.Status == domain.StatusPausing || existing.Status == domain.StatusCancelling) {
		copied.Status = existing.Status
	}
	s.migrations[m.ID] = &copied
	return nil
}

func (s *fakeStore) ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.Migration, error) {
	var children []domain.Migration
	for _, m := range s.migrations {
		if m.ParentID != nil && *m.ParentID == parentID {
			children = append(children, *m)
		}
	}
	return children, nil
}

// fakeConn запоминает выполненные statement'ы.
type fakeConn struct {
	execs        []string
	failOn       string
	failWith     error
	invalidIndex bool
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, sql)
	if c.failOn != "" && sql == c.failOn {
		return pgconn.CommandTag{}, c.failWith
	}
	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return boolRow{value: c.invalidIndex}
}

type boolRow struct {
	value bool
}

func (r boolRow) Scan(dest ...any) error {
	*(dest[0].(*bool)) = r.value
	return nil
}

type fakeDB struct {
	conn *fakeConn
}

func (d *fakeDB) Querier(name string) (migrate.Querier, error) {
	return d.conn, nil
}

func (d *fakeDB) WithConn(ctx context.Context, name string, fn func(conn migrate.Querier) error) error {
	return fn(d.conn)
}

type recordingNotifier struct {
	started, stepped, completed, throttled int
}

func (n *recordingNotifier) Started(m *domain.Migration)   { n.started++ }
func (n *recordingNotifier) StepRun(m *domain.Migration)   { n.stepped++ }
func (n *recordingNotifier) Completed(m *domain.Migration) { n.completed++ }
func (n *recordingNotifier) Throttled(m *domain.Migration) { n.throttled++ }

// --- Helpers ---

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runningData(name string) *domain.Migration {
	m := &domain.Migration{
		ID:          uuid.New(),
		Name:        name,
		Kind:        domain.KindData,
		Status:      domain.StatusEnqueued,
		MaxAttempts: 3,
	}
	if err := m.MarkRunning(); err != nil {
		panic(err)
	}
	return m
}

// countingSource — data-миграция по числам 0..total-1.
func countingSource(total int) *migrate.CollectionSource {
	var sink []any
	return countingSourceInto(total, &sink)
}

func countingSourceInto(total int, processed *[]any) *migrate.CollectionSource {
	return &migrate.CollectionSource{
		Next: func(ctx context.Context, db migrate.Querier, args []any, cursor migrate.Cursor, limit int) ([]any, migrate.Cursor, error) {
			start := 0
			if len(cursor) > 0 {
				if _, err := fmt.Sscanf(string(cursor), "%d", &start); err != nil {
					return nil, nil, err
				}
			}
			var page []any
			for i := start; i < total && len(page) < limit; i++ {
				page = append(page, i)
			}
			return page, migrate.Cursor(fmt.Sprintf("%d", start+len(page))), nil
		},
		ProcessElement: func(ctx context.Context, db migrate.Querier, args []any, element any) error {
			*processed = append(*processed, element)
			return nil
		},
		Size: func(ctx context.Context, db migrate.Querier, args []any) (int64, error) {
			return int64(total), nil
		},
	}
}

func newTestRunner(store *fakeStore, reg *migrate.Registry, engine *migrate.Config, notifier Notifier) *Runner {
	if engine == nil {
		engine = &migrate.Config{}
	}
	engine.BatchSize = 2
	engine.Normalize()
	engine.BatchPause = 0

	return New(Config{
		Store:    store,
		DB:       &fakeDB{conn: &fakeConn{}},
		Registry: reg,
		Engine:   engine,
		Notifier: notifier,
		Logger:   quietLogger(),
	})
}

// --- Data Step Tests ---

func TestRun_DataStep_Progresses(t *testing.T) {
	m := runningData("backfill")
	store := newFakeStore(m)
	reg := migrate.NewRegistry()
	reg.Register("backfill", countingSource(3))
	notifier := &recordingNotifier{}
	r := newTestRunner(store, reg, nil, notifier)
	ctx := context.Background()

	// первый шаг: 2 элемента из 3
	current, _ := store.GetByID(ctx, m.ID)
	outcome, err := r.Run(ctx, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeStepped {
		t.Fatalf("outcome: got %s, want STEPPED", outcome)
	}

	saved, _ := store.GetByID(ctx, m.ID)
	if saved.TickCount != 2 {
		t.Errorf("tick count: got %d, want 2", saved.TickCount)
	}
	if saved.TickTotal == nil || *saved.TickTotal != 3 {
		t.Error("tick total should be estimated on the first step")
	}
	if string(saved.Cursor) != "2" {
		t.Errorf("cursor: got %s, want 2", saved.Cursor)
	}
	if notifier.stepped != 1 {
		t.Errorf("step events: got %d, want 1", notifier.stepped)
	}

	// второй шаг: оставшийся элемент
	outcome, err = r.Run(ctx, saved)
	if err != nil || outcome != OutcomeStepped {
		t.Fatalf("second step: got %s/%v", outcome, err)
	}

	// третий запуск: последовательность исчерпана, миграция завершается
	saved, _ = store.GetByID(ctx, m.ID)
	outcome, err = r.Run(ctx, saved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome: got %s, want COMPLETED", outcome)
	}

	saved, _ = store.GetByID(ctx, m.ID)
	if saved.Status != domain.StatusSucceeded {
		t.Errorf("status: got %s, want SUCCEEDED", saved.Status)
	}
	if saved.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
	if notifier.completed != 1 {
		t.Errorf("completed events: got %d, want 1", notifier.completed)
	}
}

func TestRun_Throttled(t *testing.T) {
	m := runningData("backfill")
	store := newFakeStore(m)
	reg := migrate.NewRegistry()
	reg.Register("backfill", countingSource(3))
	notifier := &recordingNotifier{}

	throttle := true
	engine := &migrate.Config{Throttle: func() bool { return throttle }}
	r := newTestRunner(store, reg, engine, notifier)
	ctx := context.Background()

	outcome, err := r.Run(ctx, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeThrottled {
		t.Fatalf("outcome: got %s, want THROTTLED", outcome)
	}
	if notifier.throttled != 1 {
		t.Errorf("throttle events: got %d, want 1", notifier.throttled)
	}
	if store.updates != 0 {
		t.Error("a throttled step must not touch the record")
	}

	// после отпускания троттла шаг выполняется
	throttle = false
	outcome, err = r.Run(ctx, m)
	if err != nil || outcome != OutcomeStepped {
		t.Fatalf("after release: got %s/%v", outcome, err)
	}
}

func TestRun_FailureCountsAttempts(t *testing.T) {
	m := runningData("broken")
	m.MaxAttempts = 2
	store := newFakeStore(m)

	boom := errors.New("boom")
	reg := migrate.NewRegistry()
	reg.Register("broken", &migrate.CollectionSource{
		Next: func(ctx context.Context, db migrate.Querier, args []any, cursor migrate.Cursor, limit int) ([]any, migrate.Cursor, error) {
			return []any{1}, migrate.Cursor("1"), nil
		},
		ProcessElement: func(ctx context.Context, db migrate.Querier, args []any, element any) error {
			return boom
		},
	})

	var onErrorCalls int
	engine := &migrate.Config{
		OnError: func(err error, failed *domain.Migration) { onErrorCalls++ },
	}
	r := newTestRunner(store, reg, engine, &recordingNotifier{})
	ctx := context.Background()

	// первая ошибка: попытка записана, запись остаётся RUNNING
	current, _ := store.GetByID(ctx, m.ID)
	outcome, err := r.Run(ctx, current)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if outcome != OutcomeErrored {
		t.Fatalf("outcome: got %s, want ERRORED", outcome)
	}

	saved, _ := store.GetByID(ctx, m.ID)
	if saved.Status != domain.StatusRunning {
		t.Errorf("status: got %s, want RUNNING", saved.Status)
	}
	if saved.Attempts != 1 {
		t.Errorf("attempts: got %d, want 1", saved.Attempts)
	}
	if saved.ErrorMessage == "" || saved.ErrorClass == "" {
		t.Error("failure payload should be recorded")
	}
	if onErrorCalls != 0 {
		t.Error("OnError must not fire before attempts are exhausted")
	}

	// вторая ошибка: попытки исчерпаны, терминальный FAILED, хук срабатывает один раз
	outcome, err = r.Run(ctx, saved)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome: got %s, want FAILED", outcome)
	}

	saved, _ = store.GetByID(ctx, m.ID)
	if saved.Status != domain.StatusFailed {
		t.Errorf("status: got %s, want FAILED", saved.Status)
	}
	if onErrorCalls != 1 {
		t.Errorf("OnError calls: got %d, want exactly 1", onErrorCalls)
	}
}

func TestRun_FinalizesPause(t *testing.T) {
	m := runningData("backfill")
	if err := m.Transition(domain.StatusPausing); err != nil {
		t.Fatal(err)
	}
	store := newFakeStore(m)
	r := newTestRunner(store, migrate.NewRegistry(), nil, &recordingNotifier{})

	outcome, err := r.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomePaused {
		t.Fatalf("outcome: got %s, want PAUSED", outcome)
	}

	saved, _ := store.GetByID(context.Background(), m.ID)
	if saved.Status != domain.StatusPaused {
		t.Errorf("status: got %s, want PAUSED", saved.Status)
	}
}

func TestRun_FinalizesCancel(t *testing.T) {
	m := runningData("backfill")
	if err := m.Transition(domain.StatusCancelling); err != nil {
		t.Fatal(err)
	}
	store := newFakeStore(m)
	r := newTestRunner(store, migrate.NewRegistry(), nil, &recordingNotifier{})

	outcome, err := r.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCancelled {
		t.Fatalf("outcome: got %s, want CANCELLED", outcome)
	}

	saved, _ := store.GetByID(context.Background(), m.ID)
	if saved.Status != domain.StatusCancelled {
		t.Errorf("status: got %s, want CANCELLED", saved.Status)
	}
	if saved.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
}

func TestRun_PauseRequestedMidStep(t *testing.T) {
	m := runningData("backfill")
	store := newFakeStore(m)

	// store переводит запись в PAUSING, пока выполняется шаг
	reg := migrate.NewRegistry()
	reg.Register("backfill", &migrate.CollectionSource{
		Next: func(ctx context.Context, db migrate.Querier, args []any, cursor migrate.Cursor, limit int) ([]any, migrate.Cursor, error) {
			return []any{1}, migrate.Cursor("1"), nil
		},
		ProcessElement: func(ctx context.Context, db migrate.Querier, args []any, element any) error {
			fresh := store.migrations[m.ID]
			fresh.Status = domain.StatusPausing
			return nil
		},
	})
	r := newTestRunner(store, reg, nil, &recordingNotifier{})

	outcome, err := r.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomePaused {
		t.Fatalf("outcome: got %s, want PAUSED", outcome)
	}

	saved, _ := store.GetByID(context.Background(), m.ID)
	if saved.Status != domain.StatusPaused {
		t.Errorf("status: got %s, want PAUSED", saved.Status)
	}
	// шаг, выполненный до паузы, не должен потеряться
	if saved.TickCount != 1 {
		t.Errorf("tick count: got %d, want 1", saved.TickCount)
	}
}

func TestRun_RejectsComposite(t *testing.T) {
	m := &domain.Migration{ID: uuid.New(), Composite: true, Status: domain.StatusRunning}
	r := newTestRunner(newFakeStore(m), migrate.NewRegistry(), nil, &recordingNotifier{})

	_, err := r.Run(context.Background(), m)
	if !errors.Is(err, ErrCompositeMigration) {
		t.Fatalf("expected ErrCompositeMigration, got %v", err)
	}
}

func TestRun_RejectsNonRunnable(t *testing.T) {
	m := &domain.Migration{ID: uuid.New(), Status: domain.StatusEnqueued}
	r := newTestRunner(newFakeStore(m), migrate.NewRegistry(), nil, &recordingNotifier{})

	_, err := r.Run(context.Background(), m)
	if !errors.Is(err, ErrNotRunnable) {
		t.Fatalf("expected ErrNotRunnable, got %v", err)
	}
}

func TestRun_UnknownMigrationBurnsAttempt(t *testing.T) {
	m := runningData("missing")
	m.MaxAttempts = 1
	store := newFakeStore(m)
	r := newTestRunner(store, migrate.NewRegistry(), nil, &recordingNotifier{})

	outcome, err := r.Run(context.Background(), m)
	if !errors.Is(err, migrate.ErrUnknownMigration) {
		t.Fatalf("expected ErrUnknownMigration, got %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome: got %s, want FAILED", outcome)
	}
}

// --- Composite Parent Sync ---

func TestRun_LastChildFlipsParent(t *testing.T) {
	parent := &domain.Migration{
		ID:        uuid.New(),
		Name:      "backfill",
		Kind:      domain.KindData,
		Composite: true,
		Status:    domain.StatusRunning,
	}
	parentID := parent.ID

	done := &domain.Migration{
		ID: uuid.New(), Name: "backfill", Kind: domain.KindData,
		ParentID: &parentID, Shard: "eu", Status: domain.StatusSucceeded,
	}
	last := runningData("backfill")
	last.ParentID = &parentID
	last.Shard = "us"

	store := newFakeStore(parent, done, last)
	reg := migrate.NewRegistry()
	reg.Register("backfill", countingSource(0)) // работы нет, завершается сразу
	notifier := &recordingNotifier{}
	r := newTestRunner(store, reg, nil, notifier)

	outcome, err := r.Run(context.Background(), last)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome: got %s, want COMPLETED", outcome)
	}

	savedParent, _ := store.GetByID(context.Background(), parent.ID)
	if savedParent.Status != domain.StatusSucceeded {
		t.Errorf("parent status: got %s, want SUCCEEDED", savedParent.Status)
	}
	// завершение ребёнка + завершение родителя
	if notifier.completed != 2 {
		t.Errorf("completed events: got %d, want 2", notifier.completed)
	}
}

func TestRun_EarlyChildLeavesParentRunning(t *testing.T) {
	parent := &domain.Migration{
		ID:        uuid.New(),
		Name:      "backfill",
		Kind:      domain.KindData,
		Composite: true,
		Status:    domain.StatusRunning,
	}
	parentID := parent.ID

	first := runningData("backfill")
	first.ParentID = &parentID
	first.Shard = "eu"
	pending := &domain.Migration{
		ID: uuid.New(), Name: "backfill", Kind: domain.KindData,
		ParentID: &parentID, Shard: "us", Status: domain.StatusEnqueued,
	}

	store := newFakeStore(parent, first, pending)
	reg := migrate.NewRegistry()
	reg.Register("backfill", countingSource(0))
	r := newTestRunner(store, reg, nil, &recordingNotifier{})

	if _, err := r.Run(context.Background(), first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	savedParent, _ := store.GetByID(context.Background(), parent.ID)
	if savedParent.Status != domain.StatusRunning {
		t.Errorf("parent status: got %s, want RUNNING", savedParent.Status)
	}
}
