package runner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/Migrata/internal/domain"
	"github.com/shaiso/Migrata/internal/migrate"
)

func runningSchema(statement string) *domain.Migration {
	m := runningData("add_users_index")
	m.Kind = domain.KindSchema
	m.Statement = statement
	m.TableName = "users"
	return m
}

func newSchemaRunner(store *fakeStore, conn *fakeConn) *Runner {
	engine := &migrate.Config{}
	engine.Normalize()

	return New(Config{
		Store:    store,
		DB:       &fakeDB{conn: conn},
		Registry: migrate.NewRegistry(),
		Engine:   engine,
		Notifier: &recordingNotifier{},
		Logger:   quietLogger(),
	})
}

// --- Schema Step Tests ---

func TestRun_SchemaStep_Succeeds(t *testing.T) {
	statement := `CREATE INDEX CONCURRENTLY idx_users_email ON users (email)`
	m := runningSchema(statement)
	store := newFakeStore(m)
	conn := &fakeConn{}
	r := newSchemaRunner(store, conn)

	outcome, err := r.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome: got %s, want COMPLETED", outcome)
	}

	// установка таймаута, сам statement, сброс таймаута
	if len(conn.execs) != 3 {
		t.Fatalf("execs: got %v", conn.execs)
	}
	if !strings.HasPrefix(conn.execs[0], "SET statement_timeout") {
		t.Errorf("first exec should set the timeout, got %q", conn.execs[0])
	}
	if conn.execs[1] != statement {
		t.Errorf("statement: got %q", conn.execs[1])
	}
	if conn.execs[2] != "RESET statement_timeout" {
		t.Errorf("last exec should reset the timeout, got %q", conn.execs[2])
	}

	saved, _ := store.GetByID(context.Background(), m.ID)
	if saved.Status != domain.StatusSucceeded {
		t.Errorf("status: got %s, want SUCCEEDED", saved.Status)
	}
	if saved.TickCount != 1 {
		t.Errorf("tick count: got %d, want 1", saved.TickCount)
	}
}

func TestRun_SchemaStep_FailureCountsAttempt(t *testing.T) {
	statement := `ALTER TABLE users ADD COLUMN plan text`
	m := runningSchema(statement)
	m.MaxAttempts = 3
	store := newFakeStore(m)
	conn := &fakeConn{failOn: statement, failWith: errors.New("deadlock detected")}
	r := newSchemaRunner(store, conn)

	outcome, err := r.Run(context.Background(), m)
	if err == nil {
		t.Fatal("expected an error")
	}
	if outcome != OutcomeErrored {
		t.Fatalf("outcome: got %s, want ERRORED", outcome)
	}

	saved, _ := store.GetByID(context.Background(), m.ID)
	if saved.Status != domain.StatusRunning {
		t.Errorf("status: got %s, want RUNNING", saved.Status)
	}
	if saved.Attempts != 1 {
		t.Errorf("attempts: got %d, want 1", saved.Attempts)
	}
}

func TestRun_SchemaStep_DropsInvalidIndexOnRetry(t *testing.T) {
	statement := `CREATE UNIQUE INDEX CONCURRENTLY IF NOT EXISTS idx_users_email ON users (email)`
	m := runningSchema(statement)
	m.Attempts = 1 // предыдущая попытка упала
	store := newFakeStore(m)
	conn := &fakeConn{invalidIndex: true}
	r := newSchemaRunner(store, conn)

	if _, err := r.Run(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var dropped bool
	for _, sql := range conn.execs {
		if strings.HasPrefix(sql, `DROP INDEX CONCURRENTLY IF EXISTS "idx_users_email"`) {
			dropped = true
		}
		if sql == statement && !dropped {
			t.Fatal("the invalid index must be dropped before re-running the statement")
		}
	}
	if !dropped {
		t.Fatalf("no DROP INDEX issued: %v", conn.execs)
	}
}

func TestRun_SchemaStep_SkipsDropWhenIndexValid(t *testing.T) {
	m := runningSchema(`CREATE INDEX CONCURRENTLY idx_users_email ON users (email)`)
	m.Attempts = 1
	store := newFakeStore(m)
	conn := &fakeConn{invalidIndex: false}
	r := newSchemaRunner(store, conn)

	if _, err := r.Run(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, sql := range conn.execs {
		if strings.HasPrefix(sql, "DROP INDEX") {
			t.Fatalf("unexpected drop: %v", conn.execs)
		}
	}
}

func TestRun_SchemaStep_RetryWithoutConcurrentIndex(t *testing.T) {
	// retry обычного DDL не трогает pg_index
	m := runningSchema(`ALTER TABLE users ADD COLUMN plan text`)
	m.Attempts = 2
	store := newFakeStore(m)
	conn := &fakeConn{invalidIndex: true}
	r := newSchemaRunner(store, conn)

	if _, err := r.Run(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, sql := range conn.execs {
		if strings.HasPrefix(sql, "DROP INDEX") {
			t.Fatalf("unexpected drop: %v", conn.execs)
		}
	}
}

func TestCreateIndexRe(t *testing.T) {
	cases := []struct {
		statement string
		index     string
	}{
		{`CREATE INDEX CONCURRENTLY idx_a ON t (a)`, "idx_a"},
		{`create unique index concurrently idx_b on t (b)`, "idx_b"},
		{`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_c ON t (c)`, "idx_c"},
		{`CREATE INDEX CONCURRENTLY "idx_d" ON t (d)`, "idx_d"},
		{`CREATE INDEX idx_plain ON t (a)`, ""},
		{`ALTER TABLE t ADD COLUMN a int`, ""},
	}

	for _, tc := range cases {
		match := createIndexRe.FindStringSubmatch(tc.statement)
		got := ""
		if match != nil {
			got = match[1]
		}
		if got != tc.index {
			t.Errorf("%q: got %q, want %q", tc.statement, got, tc.index)
		}
	}
}
