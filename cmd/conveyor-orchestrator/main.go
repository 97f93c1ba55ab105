// Conveyor Orchestrator — выполняет runs.
//
// Orchestrator:
//   - Получает новые runs из RabbitMQ (и polling'ом из БД)
//   - Разворачивает матрицу и выполняет job'ы через Coordinator
//   - Сохраняет результаты job'ов и итог run
//   - Отменяет runs по запросу из runs.cancel
//   - Публикует run.completed
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/report"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/runner"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting conveyor-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// RabbitMQ
	var publisher orchestrator.CompletionPublisher
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, "conveyor-orchestrator", logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	coordinator := orchestrator.NewCoordinator(orchestrator.CoordinatorConfig{
		Runner: runner.New(runner.Config{
			WorkDir: cfg.WorkDir,
			Logger:  logger,
		}),
		Reporter: report.New(report.Config{
			URL:    cfg.CollectorURL,
			Token:  cfg.CollectorToken,
			Logger: logger,
		}),
		Store:       repo.NewJobRepo(pool),
		MaxParallel: cfg.MaxParallel,
		Logger:      logger,
	})

	// Создаём orchestrator
	orch := orchestrator.New(orchestrator.Config{
		Runs:         repo.NewRunRepo(pool),
		Publisher:    publisher,
		Conn:         mqConn,
		Coordinator:  coordinator,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})

	// Запускаем orchestrator
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok active_runs=%d", orch.ActiveRunsCount())
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := config.Addr(cfg.OrchPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем orchestrator: активные runs завершаются как CANCELLED
	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	logger.Info("conveyor-orchestrator stopped")
}
