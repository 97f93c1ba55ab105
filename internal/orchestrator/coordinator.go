package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/report"
	"github.com/shaiso/Conveyor/internal/runner"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

const defaultMaxParallel = 4

// JobStore сохраняет результаты job'ов по мере их завершения.
type JobStore interface {
	Save(ctx context.Context, runID uuid.UUID, result *domain.JobResult) error
}

// Coordinator выполняет один run целиком.
//
// Coordinator:
//   - Разворачивает матрицу workflow в job'ы
//   - Запускает job'ы на errgroup с лимитом max_parallel
//   - При fail_fast первый упавший job отменяет остальные
//   - После всех job'ов вызывает Reporter
//   - Финализирует run (SUCCEEDED/FAILED/CANCELLED)
type Coordinator struct {
	runner      *runner.Runner
	reporter    *report.Reporter
	store       JobStore
	maxParallel int
	output      func(runID string, job domain.JobSpec) io.Writer
	logger      *slog.Logger
}

// CoordinatorConfig — конфигурация Coordinator.
type CoordinatorConfig struct {
	// Runner — исполнитель шагов (если nil — runner.New с настройками по умолчанию).
	Runner *runner.Runner

	// Reporter — Artifact Reporter (если nil — без collector'а).
	Reporter *report.Reporter

	// Store — хранилище результатов job'ов (опционально).
	Store JobStore

	// MaxParallel — лимит параллельных job'ов, если workflow его не задаёт (default: 4).
	MaxParallel int

	// Output — поток вывода шагов для job'а (опционально).
	Output func(runID string, job domain.JobSpec) io.Writer

	// Logger
	Logger *slog.Logger
}

// NewCoordinator создаёт новый Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := cfg.Runner
	if r == nil {
		r = runner.New(runner.Config{Logger: logger})
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = report.New(report.Config{Logger: logger})
	}

	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}

	return &Coordinator{
		runner:      r,
		reporter:    reporter,
		store:       cfg.Store,
		maxParallel: maxParallel,
		output:      cfg.Output,
		logger:      logger,
	}
}

// RunResult — итог выполнения run.
type RunResult struct {
	Run    *domain.Run
	Jobs   []*domain.JobResult
	Report *report.Report

	// ReportErr — ошибка строгого (fail_loudly) отчёта.
	ReportErr error
}

// ExitCode возвращает код выхода run: 0 только при SUCCEEDED.
func (r *RunResult) ExitCode() int {
	return r.Run.ExitCode
}

// MaxParallel возвращает фактический лимит параллельных job'ов для workflow.
func (c *Coordinator) MaxParallel(wf *domain.Workflow) int {
	if wf.Strategy.MaxParallel > 0 {
		return wf.Strategy.MaxParallel
	}
	return c.maxParallel
}

// Execute выполняет run и возвращает его итог.
func (c *Coordinator) Execute(ctx context.Context, run *domain.Run) (*RunResult, error) {
	return c.ExecuteState(ctx, NewRunState(run))
}

// ExecuteState выполняет run, отражая прогресс в state.
//
// Ошибка возвращается только если run не удалось начать (невалидная
// матрица); упавшие job'ы и отчёт отражаются в статусе run.
// Отмена ctx — отмена run'а оператором: job'ы останавливаются на
// границе шагов, run получает статус CANCELLED.
func (c *Coordinator) ExecuteState(ctx context.Context, state *RunState) (*RunResult, error) {
	run := state.Run
	result := &RunResult{Run: run}
	logger := telemetry.WithWorkflow(telemetry.WithRunID(c.logger, run.ID.String()), run.Workflow.Name)

	specs, err := engine.ExpandWorkflow(&run.Workflow)
	if err == nil {
		err = state.Initialize(specs)
	}
	if err != nil {
		run.MarkFailed(fmt.Sprintf("expand matrix: %v", err))
		telemetry.RunsTotal.WithLabelValues(string(run.Status)).Inc()
		logger.Error("run failed to start", "error", err)
		return result, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}

	if run.Status == domain.RunStatusPending {
		run.MarkRunning()
	}
	telemetry.ActiveRuns.Inc()
	defer telemetry.ActiveRuns.Dec()

	limit := c.MaxParallel(&run.Workflow)
	failFast := run.Workflow.Strategy.FailFast

	logger.Info("run started",
		"jobs", len(specs),
		"max_parallel", limit,
		"fail_fast", failFast,
	)

	// gctx отменяется либо оператором (ctx), либо первым упавшим
	// job'ом при fail_fast.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, spec := range specs {
		g.Go(func() error {
			return c.runJob(gctx, ctx, logger, state, spec, failFast)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("fail-fast triggered, remaining jobs cancelled", "reason", err)
	}

	result.Jobs = state.Results()

	if ctx.Err() != nil {
		run.MarkCancelled()
		run.Error = "cancelled"
		c.finish(logger, state, result)
		return result, nil
	}

	rep, repErr := c.reporter.Report(ctx, run, run.Workflow.Report, result.Jobs)
	result.Report = rep
	result.ReportErr = repErr

	switch {
	case state.HasFailed():
		run.MarkFailed("jobs failed: " + strings.Join(state.FailedJobs(), "; "))
	case repErr != nil:
		run.MarkFailed(fmt.Sprintf("report: %v", repErr))
	default:
		run.MarkSucceeded()
	}

	c.finish(logger, state, result)
	return result, nil
}

// runJob выполняет один job и записывает его результат.
func (c *Coordinator) runJob(
	gctx, runCtx context.Context,
	logger *slog.Logger,
	state *RunState,
	spec domain.JobSpec,
	failFast bool,
) error {
	key := spec.Key()
	run := state.Run

	if err := state.MarkJobStarted(key); err != nil {
		logger.Error("job cannot start", "job", key, "error", err)
		return nil
	}

	var out io.Writer
	if c.output != nil {
		out = c.output(run.ID.String(), spec)
	}

	res := c.runner.RunJob(gctx, &runner.JobRequest{
		RunID:    run.ID.String(),
		Workflow: &run.Workflow,
		Job:      spec,
		Ref:      run.Ref,
		Output:   out,
	})

	if err := state.Complete(res); err != nil {
		logger.Error("job result rejected", "job", key, "error", err)
	}

	if c.store != nil {
		// Результат сохраняется даже если run отменён.
		if err := c.store.Save(context.WithoutCancel(runCtx), run.ID, res); err != nil {
			logger.Error("failed to save job result", "job", key, "error", err)
		}
	}

	if failFast && res.Status == domain.JobStatusFailed {
		return fmt.Errorf("%w: %s", ErrJobFailed, key)
	}
	return nil
}

// finish логирует итог и обновляет метрики.
func (c *Coordinator) finish(logger *slog.Logger, state *RunState, result *RunResult) {
	run := result.Run
	stats := state.Stats()

	telemetry.RunsTotal.WithLabelValues(string(run.Status)).Inc()

	attrs := []any{
		"status", run.Status,
		"exit_code", run.ExitCode,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration", run.Duration(),
	}
	if run.Status == domain.RunStatusSucceeded {
		logger.Info("run finished", attrs...)
		return
	}
	logger.Warn("run finished", append(attrs, "error", run.Error)...)
}
