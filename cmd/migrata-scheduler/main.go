// Migrata Scheduler — периодический проход по записям миграций.
//
// Каждый тик:
//   - возвращает отлежавшиеся FAILED миграции в очередь
//   - детектирует застрявшие активные миграции
//   - выбирает кандидатов и публикует задания воркерам
//
// Без RabbitMQ работает в inline-режиме: шаги выполняются прямо в тике.
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
	"github.com/shaiso/Migrata/internal/scheduler"
	"github.com/shaiso/Migrata/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting migrata-scheduler")

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

	// Каденс тика: duration либо cron-выражение
	tick := os.Getenv("MIGRATA_TICK")
	if tick == "" {
		tick = "10s"
	}
	cadence, err := scheduler.ParseCadence(tick)
	if err != nil {
		logger.Error("invalid MIGRATA_TICK", "error", err)
		os.Exit(1)
	}

	// RabbitMQ: без него переключаемся в inline-режим
	var publisher *mq.Publisher
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in inline mode", "error", err)
		engine.Inline = true
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = mq.NewPublisher(mqConn, logger)
	}

	schedCfg := scheduler.Config{
		Store:  migrationRepo,
		Locker: locker,
		Runner: runner.New(runner.Config{
			Store:  migrationRepo,
			DB:     runner.NewPoolDB(pools),
			Engine: engine,
			Logger: logger,
		}),
		Engine: engine,
		Logger: logger,
	}
	if publisher != nil {
		schedCfg.Publisher = publisher
	}
	sched := scheduler.New(schedCfg)

	// scheduler loop
	go func() {
		shard := os.Getenv("MIGRATA_SHARD")
		if err := sched.RunLoop(ctx, cadence, shard); err != nil && ctx.Err() == nil {
			logger.Error("scheduler loop stopped", "error", err)
			cancel()
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
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
	logger.Info("migrata-scheduler stopped")
}
