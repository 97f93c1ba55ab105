package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// RunPending запускает run из события run.pending.
func (o *Orchestrator) RunPending(ctx context.Context, payload mq.RunPendingPayload) error {
	o.logger.Debug("received run.pending event", "run_id", payload.RunID)

	if o.isRunActive(payload.RunID) {
		o.logger.Debug("run already active, skipping", "run_id", payload.RunID)
		return nil
	}

	if err := o.processRun(ctx, payload.RunID); err != nil {
		switch {
		case errors.Is(err, ErrRunNotPending), errors.Is(err, ErrRunAlreadyActive):
			o.logger.Debug("run not processed", "run_id", payload.RunID, "reason", err)
			return nil
		case errors.Is(err, ErrRunNotFound):
			return mq.Permanent(err)
		}
		o.logger.Error("failed to process run", "run_id", payload.RunID, "error", err)
		return err
	}

	return nil
}

// RunCancel обрабатывает запрос на отмену run.
//
// Активный run отменяется через его context: job'ы останавливаются
// на границе шагов. PENDING run отменяется сразу в БД.
func (o *Orchestrator) RunCancel(ctx context.Context, payload mq.RunCancelPayload) error {
	if o.cancelActiveRun(payload.RunID) {
		o.logger.Info("run cancellation requested", "run_id", payload.RunID)
		return nil
	}

	run, err := o.runs.GetByID(ctx, payload.RunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			o.logger.Warn("cancel for unknown run", "run_id", payload.RunID)
			return nil
		}
		return fmt.Errorf("get run: %w", err)
	}

	// Run выполняется другим экземпляром или уже завершён
	if run.Status != domain.RunStatusPending {
		o.logger.Debug("run not cancellable here", "run_id", run.ID, "status", run.Status)
		return nil
	}

	run.MarkCancelled()
	run.Error = "cancelled before start"
	if err := o.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("update run to cancelled: %w", err)
	}

	o.logger.Info("pending run cancelled", "run_id", run.ID)
	o.publishCompleted(ctx, run)

	return nil
}

// processRun забирает pending run и запускает его выполнение.
func (o *Orchestrator) processRun(ctx context.Context, runID uuid.UUID) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}

	// 1. Загружаем run из БД
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	// 2. Проверяем статус
	if run.Status != domain.RunStatusPending {
		return ErrRunNotPending
	}

	// 3. Регистрируем как активный
	runCtx, cancel := context.WithCancel(o.runCtx)
	state := NewRunState(run)
	if err := o.addActiveRun(runID, &activeRun{state: state, cancel: cancel}); err != nil {
		cancel()
		return err
	}

	// 4. Переводим run в RUNNING
	run.MarkRunning()
	if err := o.runs.Update(ctx, run); err != nil {
		o.removeActiveRun(runID)
		cancel()
		return fmt.Errorf("update run to running: %w", err)
	}

	// 5. Выполняем в фоне
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.execute(runCtx, state)
	}()

	return nil
}

// execute выполняет run и сохраняет его итог.
func (o *Orchestrator) execute(ctx context.Context, state *RunState) {
	run := state.Run
	defer o.removeActiveRun(run.ID)

	if _, err := o.coordinator.ExecuteState(ctx, state); err != nil {
		o.logger.Warn("run failed to start", "run_id", run.ID, "error", err)
	}

	// Итог сохраняется даже при остановке сервиса
	saveCtx := context.WithoutCancel(ctx)
	if err := o.runs.Update(saveCtx, run); err != nil {
		o.logger.Error("failed to save run result", "run_id", run.ID, "error", err)
	}

	o.publishCompleted(saveCtx, run)
}

// publishCompleted публикует run.completed. Ошибка публикации не фатальна.
func (o *Orchestrator) publishCompleted(ctx context.Context, run *domain.Run) {
	if o.publisher == nil {
		return
	}

	err := o.publisher.PublishRunCompleted(ctx, mq.RunCompletedPayload{
		RunID:    run.ID,
		Workflow: run.Workflow.Name,
		Status:   string(run.Status),
		ExitCode: run.ExitCode,
		Error:    run.Error,
	})
	if err != nil {
		o.logger.Warn("failed to publish run.completed", "run_id", run.ID, "error", err)
	}
}
