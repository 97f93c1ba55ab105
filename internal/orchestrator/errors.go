package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunAlreadyActive — run уже обрабатывается.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotPending — run не в статусе PENDING.
	ErrRunNotPending = errors.New("run is not in PENDING status")

	// ErrJobNotFound — job с таким ключом не принадлежит run'у.
	ErrJobNotFound = errors.New("job not found in run")

	// ErrDuplicateJob — матрица дала два одинаковых job'а.
	ErrDuplicateJob = errors.New("duplicate job in run")

	// ErrInvalidTransition — недопустимый переход статуса job'а.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrJobFailed — job упал; при fail_fast отменяет соседей.
	ErrJobFailed = errors.New("job failed")

	// ErrInvalidWorkflow — workflow run'а не удалось развернуть в job'ы.
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
