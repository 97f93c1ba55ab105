package runner

import "errors"

// Ошибки исполнителя шагов.
var (
	// ErrStepFailed — действие шага вернуло ошибку или ненулевой код.
	ErrStepFailed = errors.New("step failed")

	// ErrStepTimeout — шаг превысил timeout_sec.
	ErrStepTimeout = errors.New("step timeout")

	// ErrJobTimeout — job превысил strategy.job_timeout_sec.
	ErrJobTimeout = errors.New("job timeout")

	// ErrJobCancelled — run отменён, job остановлен на границе шага.
	ErrJobCancelled = errors.New("cancelled")

	// ErrUnknownAction — нет действия для типа шага.
	ErrUnknownAction = errors.New("unknown step action")

	// ErrStepStart — процесс шага не удалось запустить.
	ErrStepStart = errors.New("step could not start")

	// ErrWorkspace — не удалось подготовить workspace job'а.
	ErrWorkspace = errors.New("prepare workspace")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrInvalidCommandFile — строка в $CONVEYOR_ENV не в формате KEY=VALUE.
	ErrInvalidCommandFile = errors.New("invalid command file line")
)
