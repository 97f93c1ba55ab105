package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// Event DTOs

// TriggerEventRequest — входящее событие, запускающее workflows.
type TriggerEventRequest struct {
	// Event — "pull_request" или "workflow_dispatch".
	Event domain.Event `json:"event"`

	// Action — действие pull request ("opened", "synchronize", ...).
	Action string `json:"action,omitempty"`

	// Ref — ветка или sha.
	Ref string `json:"ref,omitempty"`

	// Workflow — ограничить запуск одним workflow.
	Workflow string `json:"workflow,omitempty"`

	// IdempotencyKey — повтор с тем же ключом вернёт уже созданные runs.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Run DTOs

// RunResponse — ответ с run.
type RunResponse struct {
	ID             uuid.UUID        `json:"id"`
	Workflow       string           `json:"workflow"`
	Event          domain.Event     `json:"event"`
	Action         string           `json:"action,omitempty"`
	Ref            string           `json:"ref,omitempty"`
	Status         domain.RunStatus `json:"status"`
	ExitCode       int              `json:"exit_code"`
	Jobs           int              `json:"jobs"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
	Error          string           `json:"error,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	jobs := 1
	if len(r.Workflow.Strategy.Matrix) > 0 {
		jobs = engine.MatrixSize(r.Workflow.Strategy.Matrix)
	}

	return RunResponse{
		ID:             r.ID,
		Workflow:       r.Workflow.Name,
		Event:          r.Event,
		Action:         r.Action,
		Ref:            r.Ref,
		Status:         r.Status,
		ExitCode:       r.ExitCode,
		Jobs:           jobs,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Error:          r.Error,
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
	}
}

// Job DTOs

// JobResponse — ответ с результатом job'а.
type JobResponse struct {
	Key        string              `json:"key"`
	Name       string              `json:"name"`
	Matrix     map[string]string   `json:"matrix"`
	Status     domain.JobStatus    `json:"status"`
	FailedStep int                 `json:"failed_step"`
	ExitCode   int                 `json:"exit_code"`
	Steps      []domain.StepResult `json:"steps,omitempty"`
	Artifacts  map[string]string   `json:"artifacts,omitempty"`
	DurationMs int64               `json:"duration_ms"`
	Error      string              `json:"error,omitempty"`
}

// JobFromDomain конвертирует domain.JobResult в JobResponse.
func JobFromDomain(j domain.JobResult) JobResponse {
	return JobResponse{
		Key:        j.Job.Key(),
		Name:       j.Job.Name(),
		Matrix:     j.Job.Map(),
		Status:     j.Status,
		FailedStep: j.FailedStep,
		ExitCode:   j.ExitCode,
		Steps:      j.Steps,
		Artifacts:  j.Artifacts,
		DurationMs: j.Duration().Milliseconds(),
		Error:      j.Error,
	}
}

// Workflow DTOs

// WorkflowResponse — краткое описание workflow из каталога.
type WorkflowResponse struct {
	Name        string        `json:"name"`
	Triggers    []string      `json:"triggers"`
	Matrix      domain.Matrix `json:"matrix,omitempty"`
	Jobs        int           `json:"jobs"`
	Steps       int           `json:"steps"`
	FailFast    bool          `json:"fail_fast"`
	MaxParallel int           `json:"max_parallel,omitempty"`
	Reports     bool          `json:"reports"`
}

// WorkflowFromDomain конвертирует domain.Workflow в WorkflowResponse.
func WorkflowFromDomain(wf *domain.Workflow) WorkflowResponse {
	var triggers []string
	if wf.On.PullRequest != nil {
		triggers = append(triggers, string(domain.EventPullRequest))
	}
	if wf.On.WorkflowDispatch != nil {
		triggers = append(triggers, string(domain.EventWorkflowDispatch))
	}
	for _, s := range wf.On.Schedule {
		triggers = append(triggers, string(domain.EventSchedule)+" "+s.Cron)
	}

	jobs := 1
	if len(wf.Strategy.Matrix) > 0 {
		jobs = engine.MatrixSize(wf.Strategy.Matrix)
	}

	return WorkflowResponse{
		Name:        wf.Name,
		Triggers:    triggers,
		Matrix:      wf.Strategy.Matrix,
		Jobs:        jobs,
		Steps:       len(wf.Steps),
		FailFast:    wf.Strategy.FailFast,
		MaxParallel: wf.Strategy.MaxParallel,
		Reports:     wf.Report != nil,
	}
}

// MatrixJobResponse — один job развёрнутой матрицы.
type MatrixJobResponse struct {
	Index   int               `json:"index"`
	Key     string            `json:"key"`
	Name    string            `json:"name"`
	Matrix  map[string]string `json:"matrix"`
	Steps   []string          `json:"steps"`
	Reports bool              `json:"reports"`
}
