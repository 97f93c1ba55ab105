package engine

import "errors"

// Ошибки матрицы.
var (
	// ErrEmptyAxis — ось матрицы объявлена без значений.
	ErrEmptyAxis = errors.New("matrix axis has no values")

	// ErrDuplicateAxis — ось объявлена дважды.
	ErrDuplicateAxis = errors.New("duplicate matrix axis")

	// ErrDuplicateAxisValue — значение повторяется в пределах оси.
	ErrDuplicateAxisValue = errors.New("duplicate matrix axis value")

	// ErrNoAxes — матрица не содержит осей.
	ErrNoAxes = errors.New("matrix has no axes")

	// ErrEmptyAxisName — ось без имени.
	ErrEmptyAxisName = errors.New("matrix axis has empty name")
)

// Ошибки валидации workflow.
var (
	// ErrEmptyWorkflowName — workflow без имени.
	ErrEmptyWorkflowName = errors.New("workflow has empty name")

	// ErrEmptySteps — workflow не содержит шагов.
	ErrEmptySteps = errors.New("workflow has no steps")

	// ErrNoTriggers — workflow не реагирует ни на одно событие.
	ErrNoTriggers = errors.New("workflow has no triggers")

	// ErrUnknownAction — неизвестный тип действия шага.
	ErrUnknownAction = errors.New("unknown step action")

	// ErrEmptyRun — shell-шаг без команды.
	ErrEmptyRun = errors.New("shell step has empty run")

	// ErrInvalidTimeout — отрицательный таймаут.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidReport — некорректная секция report.
	ErrInvalidReport = errors.New("invalid report section")

	// ErrWorkflowNotFound — workflow с таким именем не загружен.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrDuplicateWorkflow — два файла объявляют workflow с одним именем.
	ErrDuplicateWorkflow = errors.New("duplicate workflow name")
)

// Ошибки guard-выражений.
var (
	// ErrGuardSyntax — синтаксическая ошибка в guard-выражении.
	ErrGuardSyntax = errors.New("guard syntax error")

	// ErrUnknownAxis — guard ссылается на несуществующую ось.
	ErrUnknownAxis = errors.New("guard references unknown matrix axis")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Step    string // имя или индекс шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Step != "" {
		return "step " + e.Step + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(step, field, message string, err error) *ValidationError {
	return &ValidationError{
		Step:    step,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
