package engine

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Допустимые типы действий шага.
var validActions = map[string]bool{
	"shell": true,
	"http":  true,
	"delay": true,
}

// Допустимые интерпретаторы shell-шага.
var validShells = map[string]bool{
	"":     true,
	"sh":   true,
	"bash": true,
	"pwsh": true,
	"cmd":  true,
}

// cronParser — стандартный 5-польный cron, как у scheduler'а.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseWorkflow разбирает workflow из YAML и валидирует его.
func ParseWorkflow(data []byte) (*domain.Workflow, error) {
	var wf domain.Workflow

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}

	if err := Validate(&wf); err != nil {
		return nil, err
	}

	return &wf, nil
}

// LoadWorkflow читает и разбирает workflow из файла.
func LoadWorkflow(path string) (*domain.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}

	wf, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return wf, nil
}

// Validate выполняет полную валидацию Workflow.
//
// Проверяет:
// - Имя и наличие триггеров
// - Оси матрицы (непустые, без дубликатов)
// - Шаги: тип действия, обязательные поля, таймауты
// - Guard'ы шагов и отчёта (синтаксис и ссылки на оси)
// - Cron-выражения расписаний
func Validate(wf *domain.Workflow) error {
	if wf == nil {
		return ErrEmptySteps
	}

	if wf.Name == "" {
		return ErrEmptyWorkflowName
	}

	if wf.On.PullRequest == nil && wf.On.WorkflowDispatch == nil && len(wf.On.Schedule) == 0 {
		return ErrNoTriggers
	}

	for _, s := range wf.On.Schedule {
		if _, err := cronParser.Parse(s.Cron); err != nil {
			return NewValidationError("", "on.schedule",
				fmt.Sprintf("invalid cron expression %q: %v", s.Cron, err), err)
		}
	}

	if len(wf.Strategy.Matrix) > 0 {
		if err := ValidateMatrix(wf.Strategy.Matrix); err != nil {
			return NewValidationError("", "strategy.matrix", err.Error(), err)
		}
	}

	if wf.Strategy.MaxParallel < 0 {
		return NewValidationError("", "strategy.max_parallel",
			"max_parallel must not be negative", ErrInvalidTimeout)
	}
	if wf.Strategy.JobTimeoutSec < 0 {
		return NewValidationError("", "strategy.job_timeout_sec",
			"job timeout must not be negative", ErrInvalidTimeout)
	}

	if len(wf.Steps) == 0 {
		return ErrEmptySteps
	}

	for i := range wf.Steps {
		if err := ValidateStep(&wf.Steps[i], i, wf.Strategy.Matrix); err != nil {
			return err
		}
	}

	if wf.Report != nil {
		if err := validateReport(wf.Report, wf); err != nil {
			return err
		}
	}

	return nil
}

// ValidateStep валидирует один шаг.
func ValidateStep(step *domain.Step, index int, axes domain.Matrix) error {
	id := step.DisplayName(index)
	if step.Name == "" {
		id = strconv.Itoa(index)
	}

	action := step.Action()
	if !validActions[action] {
		return NewValidationError(id, "uses",
			fmt.Sprintf("unknown action: %s", action), ErrUnknownAction)
	}

	switch action {
	case "shell":
		if step.Run == "" {
			return NewValidationError(id, "run", "shell step has empty run", ErrEmptyRun)
		}
		if !validShells[step.Shell] {
			return NewValidationError(id, "shell",
				fmt.Sprintf("unsupported shell: %s", step.Shell), ErrUnknownAction)
		}
	case "http":
		if step.With["url"] == "" {
			return NewValidationError(id, "with.url", "http step requires url", ErrUnknownAction)
		}
	}

	if step.TimeoutSec < 0 {
		return NewValidationError(id, "timeout_sec",
			"timeout must not be negative", ErrInvalidTimeout)
	}

	expr, err := ParseGuard(step.If)
	if err != nil {
		return NewValidationError(id, "if", err.Error(), err)
	}
	if err := ValidateGuard(expr, axes); err != nil {
		return NewValidationError(id, "if", err.Error(), err)
	}

	return nil
}

// validateReport проверяет секцию report.
func validateReport(r *domain.ReportSpec, wf *domain.Workflow) error {
	if r.Artifact == "" {
		return NewValidationError("", "report.artifact",
			"report requires artifact name", ErrInvalidReport)
	}

	// Без условия отчёт выбрал бы каждый job матрицы
	if len(wf.Strategy.Matrix) > 0 && strings.TrimSpace(r.If) == "" {
		return NewValidationError("", "report.if",
			"report requires a condition selecting one job of the matrix", ErrInvalidReport)
	}

	expr, err := ParseGuard(r.If)
	if err != nil {
		return NewValidationError("", "report.if", err.Error(), err)
	}
	if err := ValidateGuard(expr, wf.Strategy.Matrix); err != nil {
		return NewValidationError("", "report.if", err.Error(), err)
	}

	// Артефакт должен объявляться хотя бы одним шагом
	for i := range wf.Steps {
		if _, ok := wf.Steps[i].Artifacts[r.Artifact]; ok {
			return nil
		}
	}

	return NewValidationError("", "report.artifact",
		fmt.Sprintf("no step declares artifact %q", r.Artifact), ErrInvalidReport)
}

// IsValidAction проверяет, является ли тип действия допустимым.
func IsValidAction(action string) bool {
	return validActions[action]
}
