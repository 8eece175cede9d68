// Migrata Worker — выполняет шаги миграций.
//
// Worker:
//   - Получает сигналы migration.step из RabbitMQ
//   - Перечитывает запись из БД и захватывает advisory-лок
//   - Выполняет ровно один шаг через runner
//
// Data-миграции регистрируются в migrate.Registry при сборке
// собственного бинаря поверх этого скелета.
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Migrata/internal/lock"
	"github.com/shaiso/Migrata/internal/migrate"
	"github.com/shaiso/Migrata/internal/mq"
	"github.com/shaiso/Migrata/internal/repo"
	"github.com/shaiso/Migrata/internal/runner"
	"github.com/shaiso/Migrata/internal/telemetry"
	"github.com/shaiso/Migrata/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting migrata-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pools (координирующая БД + шарды)
	pools, err := repo.NewPools(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pools.Close()
	logger.Info("database connected", "connections", pools.Names())

	migrationRepo := repo.NewMigrationRepo(pools.Default())
	locker := lock.NewLocker(pools.Default(), logger)

	engine := &migrate.Config{}
	engine.Normalize()

	// RabbitMQ обязателен: воркер живёт на очереди
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Warn("failed to setup topology", "error", err)
	}

	w := worker.New(worker.Config{
		Store:  migrationRepo,
		Locker: locker,
		Runner: runner.New(runner.Config{
			Store:    migrationRepo,
			DB:       runner.NewPoolDB(pools),
			Registry: migrate.NewRegistry(),
			Engine:   engine,
			Logger:   logger,
		}),
		Conn:   mqConn,
		Logger: logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("WORKER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	w.Stop()
	logger.Info("migrata-worker stopped")
}
