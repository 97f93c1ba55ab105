package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// TriggerEvent принимает событие и создаёт по run на каждый workflow,
// который на него подписан.
// POST /api/v1/events
func (h *Handler) TriggerEvent(w http.ResponseWriter, r *http.Request) {
	var req TriggerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	// schedule создаётся только scheduler'ом
	if req.Event != domain.EventPullRequest && req.Event != domain.EventWorkflowDispatch {
		BadRequest(w, "event must be pull_request or workflow_dispatch")
		return
	}

	workflows := h.catalog.ForEvent(req.Event, req.Action)
	if req.Workflow != "" {
		if _, err := h.catalog.Get(req.Workflow); WriteError(w, h.logger, err, "workflow not found") {
			return
		}
		workflows = filterByName(workflows, req.Workflow)
		if len(workflows) == 0 {
			InvalidState(w, "workflow is not triggered by "+string(req.Event))
			return
		}
	}

	result := make([]RunResponse, 0, len(workflows))
	created := 0

	for _, wf := range workflows {
		run, isNew, err := h.createRun(r, wf, req)
		if err != nil {
			InternalError(w, h.logger, err)
			return
		}
		if isNew {
			created++
		}
		result = append(result, RunFromDomain(*run))
	}

	h.logger.Info("event accepted",
		"event", req.Event,
		"action", req.Action,
		"matched", len(workflows),
		"created", created,
	)

	if created == 0 {
		List(w, result, len(result))
		return
	}
	CreatedList(w, result, len(result))
}

// createRun создаёт run для workflow и публикует run.pending.
// Для повторного события с тем же ключом возвращает существующий run.
func (h *Handler) createRun(r *http.Request, wf *domain.Workflow, req TriggerEventRequest) (*domain.Run, bool, error) {
	ctx := r.Context()

	run := domain.NewRun(*wf, req.Event, req.Action, req.Ref)
	if req.IdempotencyKey != "" {
		run.IdempotencyKey = wf.Name + "_" + req.IdempotencyKey

		existing, err := h.runs.GetByIdempotencyKey(ctx, run.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, false, err
		}
	}

	if err := h.runs.Create(ctx, run); err != nil {
		// Гонка двух одинаковых событий: побеждает первый
		if errors.Is(err, repo.ErrAlreadyExists) && run.IdempotencyKey != "" {
			existing, getErr := h.runs.GetByIdempotencyKey(ctx, run.IdempotencyKey)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	// Публикуем событие в очередь; оркестратор подхватит run и polling'ом
	if h.publisher != nil {
		if err := h.publisher.PublishRunPending(ctx, run.ID, wf.Name); err != nil {
			h.logger.Warn("failed to publish run.pending", "run_id", run.ID, "error", err)
		}
	}

	return run, true, nil
}

func filterByName(workflows []*domain.Workflow, name string) []*domain.Workflow {
	for _, wf := range workflows {
		if wf.Name == name {
			return []*domain.Workflow{wf}
		}
	}
	return nil
}
