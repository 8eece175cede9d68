package runner

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/shaiso/Migrata/internal/domain"
	"github.com/shaiso/Migrata/internal/migrate"
)

// createIndexRe извлекает имя индекса из CREATE INDEX CONCURRENTLY.
var createIndexRe = regexp.MustCompile(
	`(?i)CREATE\s+(?:UNIQUE\s+)?INDEX\s+CONCURRENTLY\s+(?:IF\s+NOT\s+EXISTS\s+)?"?([A-Za-z0-9_]+)"?`,
)

// runSchemaStep выполняет schema-миграцию: единственный DDL-statement
// на выделенном соединении нужной БД под statement-таймаутом.
//
// Statement выполняется вне транзакции: CREATE INDEX CONCURRENTLY и
// DROP INDEX CONCURRENTLY внутри транзакции запрещены.
func (r *Runner) runSchemaStep(ctx context.Context, m *domain.Migration) (Outcome, error) {
	timeout := m.StatementTimeout
	if timeout <= 0 {
		timeout = r.cfg.StatementTimeout
	}

	execErr := r.db.WithConn(ctx, m.ConnectionName, func(conn migrate.Querier) error {
		if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", timeout.Milliseconds())); err != nil {
			return fmt.Errorf("set statement_timeout: %w", err)
		}
		// соединение вернётся в пул — таймаут не должен протечь дальше
		defer conn.Exec(ctx, "RESET statement_timeout")

		// упавший CREATE INDEX CONCURRENTLY оставляет невалидный индекс
		// с целевым именем; без зачистки каждый retry упрётся в
		// duplicate-name
		if m.Attempts > 0 {
			if err := r.dropInvalidIndex(ctx, conn, m); err != nil {
				return err
			}
		}

		if _, err := conn.Exec(ctx, m.Statement); err != nil {
			return err
		}
		return nil
	})

	if execErr != nil {
		return r.recordFailure(ctx, m, execErr)
	}

	m.RecordStep(nil, 1, time.Duration(0))
	if err := m.MarkSucceeded(); err != nil {
		return OutcomeSkipped, err
	}
	if err := r.store.Update(ctx, m); err != nil {
		return OutcomeSkipped, fmt.Errorf("persist succeeded: %w", err)
	}
	r.notifier.Completed(m)
	return OutcomeCompleted, nil
}

// dropInvalidIndex убирает невалидный индекс, оставшийся от прошлой
// неудачной попытки конкурентного построения.
func (r *Runner) dropInvalidIndex(ctx context.Context, conn migrate.Querier, m *domain.Migration) error {
	match := createIndexRe.FindStringSubmatch(m.Statement)
	if match == nil {
		return nil
	}
	indexName := match[1]

	var invalid bool
	err := conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pg_index i
			JOIN pg_class c ON c.oid = i.indexrelid
			WHERE c.relname = $1 AND NOT i.indisvalid
		)
	`, indexName).Scan(&invalid)
	if err != nil {
		return fmt.Errorf("check invalid index %s: %w", indexName, err)
	}
	if !invalid {
		return nil
	}

	r.logger.Warn("dropping invalid index left by a previous attempt",
		"migration_id", m.ID,
		"index", indexName,
		"table", m.TableName,
	)

	if _, err := conn.Exec(ctx, fmt.Sprintf(`DROP INDEX CONCURRENTLY IF EXISTS %q`, indexName)); err != nil {
		return fmt.Errorf("drop invalid index %s: %w", indexName, err)
	}
	return nil
}
