// Migrata CLI — инструмент командной строки для управления фоновыми
// миграциями напрямую через координирующую БД.
//
// Использование:
//
//	migrata [--json] migration <subcommand> [flags]
//
// Команды:
//
//	migration  Управление миграциями (enqueue, list, show, pause, ...)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Migrata/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "migrata",
		Short:         "Migrata CLI — background migration tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	// лог CLI в stderr, чтобы не мешать табличному/JSON выводу
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	appFn := func(cmd *cobra.Command) (*cli.App, error) {
		return cli.NewApp(cmd.Context(), logger)
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewMigrationCmd(appFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
