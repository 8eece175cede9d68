package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Migrata/internal/analyze"
	"github.com/shaiso/Migrata/internal/domain"
	"github.com/shaiso/Migrata/internal/lock"
	"github.com/shaiso/Migrata/internal/migrate"
	"github.com/shaiso/Migrata/internal/repo"
	"github.com/shaiso/Migrata/internal/runner"
	"github.com/shaiso/Migrata/internal/scheduler"
)

// AppFn лениво собирает App: соединение с БД открывается только
// командами, которым оно нужно.
type AppFn func(cmd *cobra.Command) (*App, error)

// NewMigrationCmd создаёт группу команд для управления миграциями.
func NewMigrationCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migration",
		Short: "Manage background migrations",
	}

	cmd.AddCommand(
		newListCmd(appFn, outputFn),
		newShowCmd(appFn, outputFn),
		newEnqueueDataCmd(appFn, outputFn),
		newEnqueueSchemaCmd(appFn, outputFn),
		newSignalCmd(appFn, outputFn, "pause", "Request a pause at the next step boundary", domain.StatusPausing),
		newSignalCmd(appFn, outputFn, "resume", "Re-enqueue a paused migration", domain.StatusEnqueued),
		newSignalCmd(appFn, outputFn, "cancel", "Request cancellation at the next step boundary", domain.StatusCancelling),
		newRetryCmd(appFn, outputFn),
		newDeleteCmd(appFn, outputFn),
		newCheckCmd(outputFn),
		newRunPassCmd(appFn, outputFn),
	)

	return cmd
}

func newListCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	var status, shard, name string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFn(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			migrations, err := app.Repo.List(cmd.Context(), repo.Filter{
				Status: domain.MigrationStatus(status),
				Shard:  shard,
				Name:   name,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "KIND", "SHARD", "STATUS", "PROGRESS", "ATTEMPTS", "CREATED"}
			rows := make([][]string, len(migrations))
			for i := range migrations {
				m := &migrations[i]
				rows[i] = []string{
					m.ID.String(),
					m.Name,
					string(m.Kind),
					m.Shard,
					string(m.Status),
					formatProgress(m),
					strconv.Itoa(m.Attempts),
					m.CreatedAt.Format(time.RFC3339),
				}
			}

			out.Print(headers, rows, migrations)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (ENQUEUED, RUNNING, PAUSED, FAILED, ...)")
	cmd.Flags().StringVar(&shard, "shard", "", "Filter by shard")
	cmd.Flags().StringVar(&name, "name", "", "Filter by migration name")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newShowCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show migration details (and children for sharded ones)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid migration id: %w", err)
			}

			app, err := appFn(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			m, err := app.Repo.GetByID(cmd.Context(), id)
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "KIND", "SHARD", "STATUS", "PROGRESS", "ATTEMPTS", "ERROR"}
			rows := [][]string{{
				m.ID.String(), m.Name, string(m.Kind), m.Shard, string(m.Status),
				formatProgress(m), strconv.Itoa(m.Attempts), m.ErrorMessage,
			}}

			if m.Composite {
				children, err := app.Repo.ListChildren(cmd.Context(), m.ID)
				if err != nil {
					return err
				}
				for i := range children {
					c := &children[i]
					rows = append(rows, []string{
						c.ID.String(), c.Name, string(c.Kind), c.Shard, string(c.Status),
						formatProgress(c), strconv.Itoa(c.Attempts), c.ErrorMessage,
					})
				}
				if p, ok := domain.CompositeProgress(children); ok {
					rows[0][5] = fmt.Sprintf("%.0f%%", p*100)
				}
				out.Print(headers, rows, struct {
					Migration *domain.Migration  `json:"migration"`
					Children  []domain.Migration `json:"children"`
				}{m, children})
				return nil
			}

			out.Print(headers, rows, m)
			return nil
		},
	}
}

func newEnqueueDataCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	var args []string
	var shards []string
	var connection string
	var maxAttempts int

	cmd := &cobra.Command{
		Use:   "enqueue NAME",
		Short: "Enqueue a data migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			app, err := appFn(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			proto := domain.Migration{
				Name:           cmdArgs[0],
				Arguments:      parseArguments(args),
				Kind:           domain.KindData,
				ConnectionName: connection,
				MaxAttempts:    orDefault(maxAttempts, migrate.DefaultMaxAttempts),
			}

			return enqueue(cmd, app, out, proto, shards)
		},
	}

	cmd.Flags().StringSliceVar(&args, "arg", nil, "Migration argument, JSON or raw string (repeatable)")
	cmd.Flags().StringSliceVar(&shards, "shards", nil, "Shard labels; creates a composite parent with one child per shard")
	cmd.Flags().StringVar(&connection, "connection", "", "Target connection name (default: coordinating database)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempts before the migration is marked FAILED")

	return cmd
}

func newEnqueueSchemaCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	var statement, table, connection string
	var timeout time.Duration
	var shards []string
	var maxAttempts int
	var force bool

	cmd := &cobra.Command{
		Use:   "enqueue-schema NAME",
		Short: "Enqueue a schema migration (a single DDL statement)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			if !force {
				verdict := analyze.Check(analyze.Operation{
					Kind:      analyze.OpRawSQL,
					Table:     table,
					Statement: statement,
				})
				if !verdict.Safe {
					return fmt.Errorf("unsafe statement: %s (suggestion: %s); use --force to enqueue anyway",
						verdict.Reason, verdict.Suggestion)
				}
			}

			app, err := appFn(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			proto := domain.Migration{
				Name:             cmdArgs[0],
				Kind:             domain.KindSchema,
				Statement:        statement,
				StatementTimeout: timeout,
				TableName:        table,
				ConnectionName:   connection,
				MaxAttempts:      orDefault(maxAttempts, migrate.DefaultMaxAttempts),
			}

			return enqueue(cmd, app, out, proto, shards)
		},
	}

	cmd.Flags().StringVar(&statement, "statement", "", "DDL statement to execute (required)")
	cmd.Flags().StringVar(&table, "table", "", "Target table, used as the exclusivity key (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Statement timeout (default: engine setting)")
	cmd.Flags().StringSliceVar(&shards, "shards", nil, "Shard labels; creates a composite parent with one child per shard")
	cmd.Flags().StringVar(&connection, "connection", "", "Target connection name")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempts before the migration is marked FAILED")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the safety analyzer")
	cmd.MarkFlagRequired("statement")
	cmd.MarkFlagRequired("table")

	return cmd
}

// enqueue создаёт запись (или parent+детей для шардированной миграции).
func enqueue(cmd *cobra.Command, app *App, out *Output, proto domain.Migration, shards []string) error {
	ctx := cmd.Context()

	if len(shards) > 0 {
		parent, children, err := domain.BuildSharded(proto, shards)
		if err != nil {
			return err
		}
		if err := app.Repo.CreateSharded(ctx, parent, children); err != nil {
			return err
		}
		out.Success(fmt.Sprintf("Enqueued sharded migration %s (%d shards): %s",
			parent.Name, len(children), parent.ID))
		return nil
	}

	now := time.Now()
	proto.ID = uuid.New()
	proto.Status = domain.StatusEnqueued
	proto.CreatedAt = now
	proto.UpdatedAt = now
	if err := proto.Validate(); err != nil {
		return err
	}
	if err := app.Repo.Create(ctx, &proto); err != nil {
		return err
	}
	out.Success(fmt.Sprintf("Enqueued migration %s: %s", proto.Name, proto.ID))
	return nil
}

func newSignalCmd(appFn AppFn, outputFn func() *Output, use, short string, to domain.MigrationStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid migration id: %w", err)
			}

			app, err := appFn(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			applied, err := app.signal(cmd.Context(), id, to)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Applied %s to %d migration(s)", use, applied))
			return nil
		},
	}
}

func newRetryCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID",
		Short: "Re-enqueue a failed migration from scratch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid migration id: %w", err)
			}

			app, err := appFn(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			applied, err := app.signal(cmd.Context(), id, domain.StatusEnqueued)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Requeued %d migration(s)", applied))
			return nil
		},
	}
}

func newDeleteCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a migration record (children are deleted too)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid migration id: %w", err)
			}

			app, err := appFn(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			if err := app.Repo.Delete(cmd.Context(), id); err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Deleted migration %s", id))
			return nil
		},
	}
}

func newCheckCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "check STATEMENT",
		Short: "Check a DDL statement against the safety analyzer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			verdict := analyze.Check(analyze.Operation{
				Kind:      analyze.OpRawSQL,
				Statement: args[0],
			})
			if verdict.Safe {
				out.Success("Statement looks safe")
				return nil
			}
			out.Print(
				[]string{"SAFE", "REASON", "SUGGESTION"},
				[][]string{{"no", verdict.Reason, verdict.Suggestion}},
				verdict,
			)
			return fmt.Errorf("unsafe statement")
		},
	}
}

func newRunPassCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	var shard string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one inline scheduler pass (dev/test; schema migrations only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFn(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			engine := &migrate.Config{Inline: true}
			engine.Normalize()

			r := runner.New(runner.Config{
				Store:  app.Repo,
				DB:     runner.NewPoolDB(app.Pools),
				Engine: engine,
				Logger: app.Logger,
			})
			sched := scheduler.New(scheduler.Config{
				Store:  app.Repo,
				Locker: lock.NewLocker(app.Pools.Default(), app.Logger),
				Runner: r,
				Engine: engine,
				Logger: app.Logger,
			})

			if err := sched.Tick(cmd.Context(), shard); err != nil {
				return err
			}
			out.Success("Scheduler pass completed")
			return nil
		},
	}

	cmd.Flags().StringVar(&shard, "shard", "", "Only process migrations of this shard")

	return cmd
}

// --- Helpers ---

// parseArguments разбирает аргументы миграции: каждый — JSON-значение,
// нераспознанный JSON трактуется как строка.
func parseArguments(raw []string) []any {
	if len(raw) == 0 {
		return nil
	}
	args := make([]any, len(raw))
	for i, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		args[i] = v
	}
	return args
}

// formatProgress возвращает прогресс в процентах либо прочерк.
func formatProgress(m *domain.Migration) string {
	p, ok := m.Progress()
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", p*100)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
