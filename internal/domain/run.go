package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Event — тип события, запускающего workflow.
type Event string

const (
	// EventPullRequest — pull request открыт или обновлён.
	EventPullRequest Event = "pull_request"

	// EventWorkflowDispatch — ручной запуск.
	EventWorkflowDispatch Event = "workflow_dispatch"

	// EventSchedule — запуск по расписанию.
	EventSchedule Event = "schedule"
)

// IsValid проверяет, что событие известно.
func (e Event) IsValid() bool {
	switch e {
	case EventPullRequest, EventWorkflowDispatch, EventSchedule:
		return true
	default:
		return false
	}
}

// Matches проверяет, запускает ли событие workflow.
//
// pull_request и workflow_dispatch обрабатываются одинаково — полный
// прогон матрицы; для pull_request дополнительно фильтруется action,
// если в workflow перечислены types.
func (t Triggers) Matches(event Event, action string) bool {
	switch event {
	case EventPullRequest:
		if t.PullRequest == nil {
			return false
		}
		if len(t.PullRequest.Types) == 0 || action == "" {
			return true
		}
		return slices.Contains(t.PullRequest.Types, action)
	case EventWorkflowDispatch:
		return t.WorkflowDispatch != nil
	case EventSchedule:
		return len(t.Schedule) > 0
	default:
		return false
	}
}

// Run — один прогон workflow, вызванный одним событием.
//
// Run создаётся когда:
// - Приходит событие pull_request или workflow_dispatch (через API/CLI)
// - Scheduler срабатывает по cron
//
// Run хранит снапшот workflow, поэтому изменение файла после создания
// run'а не влияет на уже поставленный прогон.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// Workflow — снапшот определения workflow.
	Workflow Workflow `json:"workflow"`

	// Event — событие, вызвавшее run.
	Event Event `json:"event"`

	// Action — действие события (например, "opened" для pull_request).
	Action string `json:"action,omitempty"`

	// Ref — ссылка на ревизию (ветка, sha), передаётся шагам как CONVEYOR_REF.
	Ref string `json:"ref,omitempty"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// ExitCode — 0 при SUCCEEDED, иначе 1.
	ExitCode int `json:"exit_code"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ идемпотентности (для scheduled runs:
	// "{workflow}_{due_unix}").
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт run в статусе PENDING.
func NewRun(wf Workflow, event Event, action, ref string) *Run {
	return &Run{
		ID:        uuid.New(),
		Workflow:  wf,
		Event:     event,
		Action:    action,
		Ref:       ref,
		Status:    RunStatusPending,
		CreatedAt: time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
	r.ExitCode = 0
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.ExitCode = 1
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
	r.ExitCode = 1
}
