package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestAggregateStatus(t *testing.T) {
	cases := []struct {
		name     string
		children []MigrationStatus
		want     MigrationStatus
	}{
		{"no children", nil, StatusEnqueued},
		{"all enqueued", []MigrationStatus{StatusEnqueued, StatusEnqueued}, StatusEnqueued},
		{"all succeeded", []MigrationStatus{StatusSucceeded, StatusSucceeded}, StatusSucceeded},
		{"one failed wins", []MigrationStatus{StatusSucceeded, StatusFailed, StatusCancelled}, StatusFailed},
		{"cancelled without failed", []MigrationStatus{StatusSucceeded, StatusCancelled}, StatusCancelled},
		{"mixed progress", []MigrationStatus{StatusSucceeded, StatusEnqueued}, StatusRunning},
		{"one running", []MigrationStatus{StatusRunning, StatusEnqueued}, StatusRunning},
		{"paused child keeps parent running", []MigrationStatus{StatusSucceeded, StatusPaused}, StatusRunning},
	}

	for _, tc := range cases {
		if got := AggregateStatus(tc.children); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestValidateAggregate(t *testing.T) {
	children := []MigrationStatus{StatusSucceeded, StatusRunning}

	// нетерминальные целевые статусы допустимы всегда
	if err := ValidateAggregate(StatusRunning, children); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	// терминальный статус, противоречащий детям, отклоняется
	if err := ValidateAggregate(StatusSucceeded, children); !errors.Is(err, ErrInvalidAggregate) {
		t.Errorf("expected ErrInvalidAggregate, got %v", err)
	}

	if err := ValidateAggregate(StatusSucceeded, []MigrationStatus{StatusSucceeded}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSyncAggregate(t *testing.T) {
	parent := &Migration{
		ID:          uuid.New(),
		Name:        "backfill",
		Kind:        KindData,
		Composite:   true,
		Status:      StatusRunning,
		MaxAttempts: 1,
	}
	children := []Migration{
		{Status: StatusSucceeded},
		{Status: StatusSucceeded},
	}

	changed, err := parent.SyncAggregate(children)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("status should change")
	}
	if parent.Status != StatusSucceeded {
		t.Errorf("status: got %s, want SUCCEEDED", parent.Status)
	}
	if parent.FinishedAt == nil {
		t.Error("FinishedAt should be set on a terminal aggregate")
	}

	// повторная синхронизация идемпотентна
	changed, err = parent.SyncAggregate(children)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Error("second sync should be a no-op")
	}
}

func TestSyncAggregate_CancelledChildren(t *testing.T) {
	parent := &Migration{
		ID:        uuid.New(),
		Name:      "backfill",
		Kind:      KindData,
		Composite: true,
		Status:    StatusRunning,
	}
	children := []Migration{
		{Status: StatusSucceeded},
		{Status: StatusCancelled},
	}

	changed, err := parent.SyncAggregate(children)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed || parent.Status != StatusCancelled {
		t.Errorf("status: got %s, want CANCELLED", parent.Status)
	}
}

func TestSyncAggregate_RejectsNonComposite(t *testing.T) {
	m := &Migration{Status: StatusRunning}

	if _, err := m.SyncAggregate(nil); !errors.Is(err, ErrInvalidAggregate) {
		t.Fatalf("expected ErrInvalidAggregate, got %v", err)
	}
}

func TestCompositeProgress(t *testing.T) {
	ten := int64(10)
	children := []Migration{
		{Status: StatusSucceeded},                             // 1.0
		{Status: StatusRunning, TickCount: 5, TickTotal: &ten}, // 0.5
	}

	p, ok := CompositeProgress(children)
	if !ok {
		t.Fatal("progress should be known")
	}
	if p != 0.75 {
		t.Errorf("progress: got %v, want 0.75", p)
	}

	if _, ok := CompositeProgress(nil); ok {
		t.Error("no children means unknown progress")
	}
}

func TestBuildSharded(t *testing.T) {
	proto := Migration{
		Name:        "backfill_users",
		Kind:        KindData,
		MaxAttempts: 3,
	}

	parent, children, err := BuildSharded(proto, []string{"eu", "us"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !parent.Composite {
		t.Error("parent should be composite")
	}
	if parent.Shard != "" {
		t.Error("parent should carry no shard label")
	}
	if len(children) != 2 {
		t.Fatalf("children: got %d, want 2", len(children))
	}

	for i, shard := range []string{"eu", "us"} {
		c := &children[i]
		if c.Composite {
			t.Error("a child can never be composite")
		}
		if c.ParentID == nil || *c.ParentID != parent.ID {
			t.Error("child should point at the parent")
		}
		if c.Shard != shard {
			t.Errorf("child shard: got %s, want %s", c.Shard, shard)
		}
		if c.ConnectionName != shard {
			t.Errorf("child connection: got %s, want %s", c.ConnectionName, shard)
		}
		if c.Status != StatusEnqueued {
			t.Errorf("child status: got %s, want ENQUEUED", c.Status)
		}
	}
}

func TestBuildSharded_RequiresShards(t *testing.T) {
	proto := Migration{Name: "x", Kind: KindData, MaxAttempts: 1}

	if _, _, err := BuildSharded(proto, nil); !errors.Is(err, ErrInvalidMigration) {
		t.Fatalf("expected ErrInvalidMigration, got %v", err)
	}
}
