package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Migrata/internal/domain"
)

// migrationColumns — список колонок для SELECT (порядок совпадает со scan).
const migrationColumns = `
	id, name, arguments, shard, kind, composite, parent_id,
	cursor, tick_count, tick_total, time_running_ms,
	statement, statement_timeout_ms, table_name, connection_name,
	status, attempts, max_attempts,
	started_at, finished_at, last_step_at,
	error_class, error_message, backtrace,
	created_at, updated_at`

// MigrationRepo — репозиторий для работы с записями миграций.
type MigrationRepo struct {
	pool *pgxpool.Pool
}

// NewMigrationRepo создаёт новый MigrationRepo.
func NewMigrationRepo(pool *pgxpool.Pool) *MigrationRepo {
	return &MigrationRepo{pool: pool}
}

// Create создаёт новую запись миграции.
// Конфликт уникальности (name, arguments, shard) → ErrAlreadyExists.
func (r *MigrationRepo) Create(ctx context.Context, m *domain.Migration) error {
	argsJSON, err := json.Marshal(m.Arguments)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	backtraceJSON, err := json.Marshal(m.Backtrace)
	if err != nil {
		return fmt.Errorf("marshal backtrace: %w", err)
	}

	query := `
		INSERT INTO migrations (
			id, name, arguments, shard, kind, composite, parent_id,
			cursor, tick_count, tick_total, time_running_ms,
			statement, statement_timeout_ms, table_name, connection_name,
			status, attempts, max_attempts,
			started_at, finished_at, last_step_at,
			error_class, error_message, backtrace,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`
	_, err = r.pool.Exec(ctx, query,
		m.ID,
		m.Name,
		argsJSON,
		m.Shard,
		m.Kind,
		m.Composite,
		m.ParentID,
		nullJSON(m.Cursor),
		m.TickCount,
		m.TickTotal,
		m.TimeRunning.Milliseconds(),
		m.Statement,
		m.StatementTimeout.Milliseconds(),
		m.TableName,
		m.ConnectionName,
		m.Status,
		m.Attempts,
		m.MaxAttempts,
		m.StartedAt,
		m.FinishedAt,
		m.LastStepAt,
		m.ErrorClass,
		m.ErrorMessage,
		backtraceJSON,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, m.Identity())
		}
		return fmt.Errorf("insert migration: %w", err)
	}
	return nil
}

// CreateSharded создаёт composite-родителя и его детей одной транзакцией.
func (r *MigrationRepo) CreateSharded(ctx context.Context, parent *domain.Migration, children []domain.Migration) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := func(m *domain.Migration) error {
		argsJSON, err := json.Marshal(m.Arguments)
		if err != nil {
			return fmt.Errorf("marshal arguments: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO migrations (
				id, name, arguments, shard, kind, composite, parent_id,
				statement, statement_timeout_ms, table_name, connection_name,
				status, max_attempts, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			m.ID, m.Name, argsJSON, m.Shard, m.Kind, m.Composite, m.ParentID,
			m.Statement, m.StatementTimeout.Milliseconds(), m.TableName, m.ConnectionName,
			m.Status, m.MaxAttempts, m.CreatedAt, m.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, m.Identity())
			}
			return fmt.Errorf("insert migration: %w", err)
		}
		return nil
	}

	if err := insert(parent); err != nil {
		return err
	}
	for i := range children {
		if err := insert(&children[i]); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetByID возвращает миграцию по ID.
func (r *MigrationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Migration, error) {
	query := `SELECT ` + migrationColumns + ` FROM migrations WHERE id = $1`
	return scanMigration(r.pool.QueryRow(ctx, query, id))
}

// List возвращает список миграций с фильтрацией.
func (r *MigrationRepo) List(ctx context.Context, filter Filter) ([]domain.Migration, error) {
	query := `
		SELECT ` + migrationColumns + `
		FROM migrations
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR shard = $2)
		  AND ($3::text IS NULL OR name = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Status)),
		nullString(filter.Shard),
		nullString(filter.Name),
		filter.limitOrDefault(),
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	return collectMigrations(rows)
}

// Update обновляет изменяемые поля миграции.
//
// Статус в БД защищён от записи из устаревшего снимка:
//   - RUNNING не перетирает конкурентно выставленный PAUSING/CANCELLING,
//     иначе персист прогресса шага терял бы внешний запрос паузы/отмены
//     (Runner перечитывает запись после персиста и видит сигнал);
//   - запись поверх терминального статуса отбрасывается целиком —
//     устаревший снимок не может «оживить» завершённую миграцию.
//     Единственное исключение: FAILED → ENQUEUED (retry оператором
//     или авто-retry планировщика).
func (r *MigrationRepo) Update(ctx context.Context, m *domain.Migration) error {
	backtraceJSON, err := json.Marshal(m.Backtrace)
	if err != nil {
		return fmt.Errorf("marshal backtrace: %w", err)
	}

	query := `
		UPDATE migrations
		SET status = CASE
		        WHEN $2 = 'RUNNING' AND status IN ('PAUSING', 'CANCELLING')
		        THEN status
		        ELSE $2::text
		    END,
		    attempts = $3,
		    cursor = $4, tick_count = $5, tick_total = $6, time_running_ms = $7,
		    started_at = $8, finished_at = $9, last_step_at = $10,
		    error_class = $11, error_message = $12, backtrace = $13,
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('SUCCEEDED', 'CANCELLED')
		  AND NOT (status = 'FAILED' AND $2::text <> 'ENQUEUED')
	`
	result, err := r.pool.Exec(ctx, query,
		m.ID,
		m.Status,
		m.Attempts,
		nullJSON(m.Cursor),
		m.TickCount,
		m.TickTotal,
		m.TimeRunning.Milliseconds(),
		m.StartedAt,
		m.FinishedAt,
		m.LastStepAt,
		m.ErrorClass,
		m.ErrorMessage,
		backtraceJSON,
	)
	if err != nil {
		return fmt.Errorf("update migration: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM migrations WHERE id = $1)`, m.ID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		// запись уже терминальна — снимок вызывающего устарел
	}
	return nil
}

// Claim атомарно переводит миграцию ENQUEUED → RUNNING.
// Возвращает false, если запись уже забрал другой процесс.
func (r *MigrationRepo) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE migrations
		SET status = 'RUNNING',
		    started_at = COALESCE(started_at, now()),
		    last_step_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status = 'ENQUEUED'
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim migration: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListCandidates возвращает кандидатов для одного прохода Scheduler'а.
//
// SQL выбирает все не-composite записи в ENQUEUED либо активном статусе
// (рабочее множество ограничено числом миграций в полёте), правила
// отбора применяет SelectCandidates.
func (r *MigrationRepo) ListCandidates(ctx context.Context, shard string, limit int) ([]domain.Migration, error) {
	query := `
		SELECT ` + migrationColumns + `
		FROM migrations
		WHERE composite = FALSE
		  AND status IN ('ENQUEUED', 'RUNNING', 'PAUSING', 'CANCELLING')
		  AND ($1::text IS NULL OR shard = $1)
		ORDER BY COALESCE(parent_id, id), created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, nullString(shard))
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	records, err := collectMigrations(rows)
	if err != nil {
		return nil, err
	}
	return SelectCandidates(records, limit), nil
}

// HasActiveSchemaOnTable проверяет, выполняется ли сейчас другая
// schema-миграция над таблицей table. excludeID исключает саму
// проверяемую запись.
func (r *MigrationRepo) HasActiveSchemaOnTable(ctx context.Context, table string, excludeID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM migrations
			WHERE kind = 'SCHEMA'
			  AND table_name = $1
			  AND id <> $2
			  AND status IN ('RUNNING', 'PAUSING', 'CANCELLING')
		)
	`
	var busy bool
	if err := r.pool.QueryRow(ctx, query, table, excludeID).Scan(&busy); err != nil {
		return false, fmt.Errorf("check active schema on table: %w", err)
	}
	return busy, nil
}

// ListRetryable возвращает FAILED миграции, завершившиеся до before
// (кандидаты на автоматический retry).
func (r *MigrationRepo) ListRetryable(ctx context.Context, before time.Time, limit int) ([]domain.Migration, error) {
	query := `
		SELECT ` + migrationColumns + `
		FROM migrations
		WHERE composite = FALSE
		  AND status = 'FAILED'
		  AND finished_at IS NOT NULL
		  AND finished_at <= $1
		ORDER BY finished_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable: %w", err)
	}
	defer rows.Close()

	return collectMigrations(rows)
}

// ListStuck возвращает активные миграции без шагов с момента cutoff:
// их владеющий процесс, скорее всего, умер.
func (r *MigrationRepo) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]domain.Migration, error) {
	query := `
		SELECT ` + migrationColumns + `
		FROM migrations
		WHERE composite = FALSE
		  AND status IN ('RUNNING', 'PAUSING', 'CANCELLING')
		  AND GREATEST(COALESCE(last_step_at, 'epoch'), updated_at) < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck: %w", err)
	}
	defer rows.Close()

	return collectMigrations(rows)
}

// ListChildren возвращает детей composite-родителя в порядке создания.
func (r *MigrationRepo) ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.Migration, error) {
	query := `
		SELECT ` + migrationColumns + `
		FROM migrations
		WHERE parent_id = $1
		ORDER BY created_at ASC, shard ASC
	`
	rows, err := r.pool.Query(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	return collectMigrations(rows)
}

// Delete удаляет запись (cleanup оператором). Дети composite-родителя
// удаляются каскадно по FK.
func (r *MigrationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM migrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete migration: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

// Filter — параметры фильтрации миграций.
type Filter struct {
	Status domain.MigrationStatus
	Shard  string
	Name   string
	Limit  int
	Offset int
}

func (f Filter) limitOrDefault() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// scanMigration сканирует одну строку в Migration.
func scanMigration(row pgx.Row) (*domain.Migration, error) {
	var m domain.Migration
	var argsJSON, cursorJSON, backtraceJSON []byte
	var timeRunningMs, statementTimeoutMs int64

	err := row.Scan(
		&m.ID,
		&m.Name,
		&argsJSON,
		&m.Shard,
		&m.Kind,
		&m.Composite,
		&m.ParentID,
		&cursorJSON,
		&m.TickCount,
		&m.TickTotal,
		&timeRunningMs,
		&m.Statement,
		&statementTimeoutMs,
		&m.TableName,
		&m.ConnectionName,
		&m.Status,
		&m.Attempts,
		&m.MaxAttempts,
		&m.StartedAt,
		&m.FinishedAt,
		&m.LastStepAt,
		&m.ErrorClass,
		&m.ErrorMessage,
		&backtraceJSON,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan migration: %w", err)
	}

	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &m.Arguments); err != nil {
			return nil, fmt.Errorf("unmarshal arguments: %w", err)
		}
	}
	if len(cursorJSON) > 0 {
		m.Cursor = json.RawMessage(cursorJSON)
	}
	if len(backtraceJSON) > 0 {
		if err := json.Unmarshal(backtraceJSON, &m.Backtrace); err != nil {
			return nil, fmt.Errorf("unmarshal backtrace: %w", err)
		}
	}
	m.TimeRunning = time.Duration(timeRunningMs) * time.Millisecond
	m.StatementTimeout = time.Duration(statementTimeoutMs) * time.Millisecond

	return &m, nil
}

// collectMigrations сканирует все строки результата.
func collectMigrations(rows pgx.Rows) ([]domain.Migration, error) {
	var migrations []domain.Migration
	for rows.Next() {
		m, err := scanMigration(rows)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, *m)
	}
	return migrations, rows.Err()
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON возвращает nil для пустого JSON-значения.
func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
