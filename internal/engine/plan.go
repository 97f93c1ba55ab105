package engine

import (
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// PlannedJob — job матрицы и шаги, которые он выполнит.
type PlannedJob struct {
	Job domain.JobSpec

	// Steps — индексы шагов, чей guard истинен для Job.
	Steps []int

	// Reports — job выбран guard'ом отчёта.
	Reports bool
}

// Plan разворачивает матрицу и вычисляет guard'ы без выполнения шагов.
// Показывает, какие шаги пропустит каждый job и какой job отправит отчёт.
func Plan(wf *domain.Workflow) ([]PlannedJob, error) {
	jobs, err := ExpandWorkflow(wf)
	if err != nil {
		return nil, err
	}

	guards := make([]*Expr, len(wf.Steps))
	for i := range wf.Steps {
		if guards[i], err = ParseGuard(wf.Steps[i].If); err != nil {
			return nil, fmt.Errorf("step %s: %w", wf.Steps[i].DisplayName(i), err)
		}
	}

	var reportGuard *Expr
	if wf.Report != nil {
		if reportGuard, err = ParseGuard(wf.Report.If); err != nil {
			return nil, fmt.Errorf("report: %w", err)
		}
	}

	plan := make([]PlannedJob, len(jobs))
	for i, job := range jobs {
		steps := make([]int, 0, len(wf.Steps))
		for j, guard := range guards {
			if guard.Eval(job) {
				steps = append(steps, j)
			}
		}
		plan[i] = PlannedJob{
			Job:     job,
			Steps:   steps,
			Reports: wf.Report != nil && reportGuard.Eval(job),
		}
	}

	return plan, nil
}
