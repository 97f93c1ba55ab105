package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?workflow=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repo.RunFilter{
		Workflow: query.Get("workflow"),
		Limit:    50,
	}

	if status := query.Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
		if !filter.Status.IsValid() {
			BadRequest(w, "invalid status")
			return
		}
	}

	var ok bool
	if filter.Limit, ok = intParam(w, query.Get("limit"), "limit", filter.Limit); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, query.Get("offset"), "offset", 0); !ok {
		return
	}

	runs, err := h.runs.List(r.Context(), filter)
	if WriteError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if WriteError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// ListRunJobs возвращает результаты job'ов run в порядке матрицы.
// GET /api/v1/runs/{id}/jobs
func (h *Handler) ListRunJobs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	// Проверяем, что run существует
	if _, err := h.runs.GetByID(r.Context(), id); WriteError(w, h.logger, err, "run not found") {
		return
	}

	if h.jobs == nil {
		Unavailable(w, "job results are not available")
		return
	}

	jobs, err := h.jobs.ListByRunID(r.Context(), id)
	if WriteError(w, h.logger, err, "") {
		return
	}

	result := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		result[i] = JobFromDomain(j)
	}

	List(w, result, len(result))
}

// CancelRun запрашивает отмену run.
//
// Отмену выполняет оркестратор: API только публикует run.cancel,
// поэтому ответ — 202 Accepted с текущим состоянием run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if WriteError(w, h.logger, err, "run not found") {
		return
	}

	if run.IsFinished() {
		InvalidState(w, "run is already finished")
		return
	}

	if h.publisher == nil {
		Unavailable(w, "message broker is not configured")
		return
	}

	if err := h.publisher.PublishRunCancel(r.Context(), run.ID); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("run cancellation requested", "run_id", run.ID)
	Accepted(w, RunFromDomain(*run))
}

// intParam парсит неотрицательный query-параметр.
// При ошибке отправляет 400 и возвращает false.
func intParam(w http.ResponseWriter, raw, name string, defaultVal int) (int, bool) {
	if raw == "" {
		return defaultVal, true
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		BadRequest(w, "invalid "+name)
		return 0, false
	}
	return n, true
}
