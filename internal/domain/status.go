package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — job'ы run'а выполняются.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все job'ы успешны, отчёт (если строгий) отправлен.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — упал хотя бы один job или строгий отчёт.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён оператором.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s RunStatus) IsValid() bool {
	return s == RunStatusPending || s == RunStatusRunning || s.IsTerminal()
}

// JobStatus — статус job'а.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	PENDING → SKIPPED (job не стартовал: отмена или fail-fast)
//
// Финальные статусы не меняются, повторов нет.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusSkipped   JobStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusSkipped:
		return true
	default:
		return false
	}
}

// CanTransition проверяет допустимость перехода между статусами job'а.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusPending:
		return to == JobStatusRunning || to == JobStatusSkipped
	case JobStatusRunning:
		return to == JobStatusSucceeded || to == JobStatusFailed
	default:
		return false
	}
}

// StepStatus — статус шага внутри job'а.
type StepStatus string

const (
	// StepStatusSucceeded — действие выполнено успешно.
	StepStatusSucceeded StepStatus = "SUCCEEDED"

	// StepStatusFailed — действие вернуло ошибку или ненулевой код.
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusSkipped — guard вычислился в false, действие не запускалось.
	StepStatusSkipped StepStatus = "SKIPPED"

	// StepStatusNotRun — шаг не дошёл до выполнения (упал предыдущий или отмена).
	StepStatusNotRun StepStatus = "NOT_RUN"
)
