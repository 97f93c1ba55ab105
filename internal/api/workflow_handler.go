package api

import (
	"net/http"

	"github.com/shaiso/Conveyor/internal/engine"
)

// ListWorkflows возвращает workflows из каталога.
// GET /api/v1/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows := h.catalog.List()

	result := make([]WorkflowResponse, len(workflows))
	for i, wf := range workflows {
		result[i] = WorkflowFromDomain(wf)
	}

	List(w, result, len(result))
}

// GetWorkflow возвращает workflow по имени.
// GET /api/v1/workflows/{name}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.catalog.Get(r.PathValue("name"))
	if WriteError(w, h.logger, err, "workflow not found") {
		return
	}

	Success(w, wf)
}

// GetWorkflowMatrix разворачивает матрицу workflow и показывает,
// какие шаги выполнит каждый job.
// GET /api/v1/workflows/{name}/matrix
func (h *Handler) GetWorkflowMatrix(w http.ResponseWriter, r *http.Request) {
	wf, err := h.catalog.Get(r.PathValue("name"))
	if WriteError(w, h.logger, err, "workflow not found") {
		return
	}

	plan, err := engine.Plan(wf)
	if err != nil {
		InvalidState(w, err.Error())
		return
	}

	result := make([]MatrixJobResponse, len(plan))
	for i, p := range plan {
		steps := make([]string, len(p.Steps))
		for j, idx := range p.Steps {
			steps[j] = wf.Steps[idx].DisplayName(idx)
		}

		result[i] = MatrixJobResponse{
			Index:   i,
			Key:     p.Job.Key(),
			Name:    p.Job.Name(),
			Matrix:  p.Job.Map(),
			Steps:   steps,
			Reports: p.Reports,
		}
	}

	List(w, result, len(result))
}
