package analyze

import (
	"strings"
	"testing"
)

// --- Structured Operation Tests ---

func TestCheck_CreateIndex(t *testing.T) {
	unsafeOp := Operation{
		Kind:      OpCreateIndex,
		Table:     "users",
		Index:     "idx_users_email",
		Statement: "CREATE INDEX idx_users_email ON users (email)",
	}

	v := Check(unsafeOp)
	if v.Safe {
		t.Fatal("CREATE INDEX without CONCURRENTLY must be rejected")
	}
	if !strings.Contains(v.Suggestion, "CREATE INDEX CONCURRENTLY idx_users_email") {
		t.Errorf("suggestion should rewrite the statement, got %q", v.Suggestion)
	}

	safeOp := unsafeOp
	safeOp.Statement = "CREATE INDEX CONCURRENTLY idx_users_email ON users (email)"
	if v := Check(safeOp); !v.Safe {
		t.Errorf("concurrent index build should pass: %s", v.Reason)
	}
}

func TestCheck_CreateUniqueIndexSuggestion(t *testing.T) {
	v := Check(Operation{
		Kind:      OpCreateIndex,
		Table:     "users",
		Statement: "CREATE UNIQUE INDEX idx_users_email ON users (email)",
	})
	if v.Safe {
		t.Fatal("expected a rejection")
	}
	if !strings.Contains(v.Suggestion, "CREATE UNIQUE INDEX CONCURRENTLY") {
		t.Errorf("UNIQUE must survive the rewrite, got %q", v.Suggestion)
	}
}

func TestCheck_AddColumn(t *testing.T) {
	cases := []struct {
		def  string
		safe bool
	}{
		{"", true},
		{"0", true},
		{"'free'", true},
		{"now()", false},
		{"NOW()", false},
		{"gen_random_uuid()", false},
		{"random()", false},
	}

	for _, tc := range cases {
		v := Check(Operation{Kind: OpAddColumn, Table: "users", Column: "plan", Default: tc.def})
		if v.Safe != tc.safe {
			t.Errorf("default %q: safe=%v, want %v (%s)", tc.def, v.Safe, tc.safe, v.Reason)
		}
		if !v.Safe && !strings.Contains(v.Suggestion, "backfill") {
			t.Errorf("default %q: suggestion should point at a backfill, got %q", tc.def, v.Suggestion)
		}
	}
}

func TestCheck_RenameAndTypeChangeAlwaysUnsafe(t *testing.T) {
	for _, kind := range []OperationKind{OpRenameColumn, OpChangeColumnType} {
		v := Check(Operation{Kind: kind, Table: "users", Column: "email"})
		if v.Safe {
			t.Errorf("%s must always be rejected", kind)
		}
		if !strings.Contains(v.Suggestion, "dual-write") {
			t.Errorf("%s: suggestion should describe the dual-write path, got %q", kind, v.Suggestion)
		}
	}
}

func TestCheck_Constraints(t *testing.T) {
	for _, kind := range []OperationKind{OpAddForeignKey, OpAddCheckConstraint} {
		unsafeOp := Operation{
			Kind:      kind,
			Table:     "orders",
			Statement: "ALTER TABLE orders ADD CONSTRAINT fk_user FOREIGN KEY (user_id) REFERENCES users (id)",
		}
		v := Check(unsafeOp)
		if v.Safe {
			t.Errorf("%s without NOT VALID must be rejected", kind)
		}
		if !strings.Contains(v.Suggestion, "NOT VALID") {
			t.Errorf("%s: suggestion should add NOT VALID, got %q", kind, v.Suggestion)
		}

		safeOp := unsafeOp
		safeOp.Statement += " NOT VALID"
		if v := Check(safeOp); !v.Safe {
			t.Errorf("%s with NOT VALID should pass: %s", kind, v.Reason)
		}
	}
}

func TestCheck_UnknownKind(t *testing.T) {
	if v := Check(Operation{Kind: "drop_database"}); v.Safe {
		t.Fatal("unknown kinds must be rejected")
	}
}

// --- Raw SQL Heuristics ---

func TestCheck_RawSQL(t *testing.T) {
	cases := []struct {
		name      string
		statement string
		safe      bool
	}{
		{"plain index", "CREATE INDEX idx_a ON t (a)", false},
		{"unique index", "create unique index idx_a on t (a)", false},
		{"concurrent index", "CREATE INDEX CONCURRENTLY idx_a ON t (a)", true},
		{"rename column", "ALTER TABLE users RENAME COLUMN email TO mail", false},
		{"column type", "ALTER TABLE users ALTER COLUMN id TYPE bigint", false},
		{"set data type", "ALTER TABLE users ALTER COLUMN id SET DATA TYPE bigint", false},
		{"fk without not valid", "ALTER TABLE orders ADD CONSTRAINT fk FOREIGN KEY (uid) REFERENCES users (id)", false},
		{"fk not valid", "ALTER TABLE orders ADD CONSTRAINT fk FOREIGN KEY (uid) REFERENCES users (id) NOT VALID", true},
		{"check without not valid", "ALTER TABLE users ADD CONSTRAINT plan_ok CHECK (plan <> '')", false},
		{"check not valid", "ALTER TABLE users ADD CONSTRAINT plan_ok CHECK (plan <> '') NOT VALID", true},
		{"vacuum full", "VACUUM FULL users", false},
		{"plain vacuum", "VACUUM users", true},
		{"add column", "ALTER TABLE users ADD COLUMN plan text", true},
		{"harmless select", "SELECT 1", true},
	}

	for _, tc := range cases {
		v := Check(Operation{Kind: OpRawSQL, Statement: tc.statement})
		if v.Safe != tc.safe {
			t.Errorf("%s: safe=%v, want %v (%s)", tc.name, v.Safe, tc.safe, v.Reason)
		}
		if !v.Safe && v.Suggestion == "" {
			t.Errorf("%s: every rejection should carry a suggestion", tc.name)
		}
	}
}
