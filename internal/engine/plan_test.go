package engine

import (
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func TestPlan_CoverageOnOneJob(t *testing.T) {
	coverage := "matrix.os == 'ubuntu' && matrix.python-version == '3.11'"
	wf := &domain.Workflow{
		Name:     "test-examples",
		Strategy: domain.Strategy{Matrix: exampleMatrix()},
		Steps: []domain.Step{
			{Name: "test", Run: "pytest"},
			{Name: "coverage", If: coverage, Run: "coverage xml"},
		},
		Report: &domain.ReportSpec{If: coverage, Artifact: "coverage"},
	}

	plan, err := Plan(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 12 {
		t.Fatalf("expected 12 jobs, got %d", len(plan))
	}

	var withCoverage, reporting int
	for _, p := range plan {
		if len(p.Steps) == 0 || p.Steps[0] != 0 {
			t.Errorf("%s: unguarded step must always run: %v", p.Job, p.Steps)
		}
		if len(p.Steps) == 2 {
			withCoverage++
		}
		if p.Reports {
			reporting++
			if p.Job.Key() != "os=ubuntu,python-version=3.11" {
				t.Errorf("report selected on %s", p.Job.Key())
			}
		}
	}
	if withCoverage != 1 || reporting != 1 {
		t.Errorf("coverage jobs = %d, reporting jobs = %d, want 1 and 1", withCoverage, reporting)
	}
}

func TestPlan_BadGuard(t *testing.T) {
	wf := &domain.Workflow{
		Name:  "broken",
		Steps: []domain.Step{{Name: "x", If: "matrix.os ==", Run: "true"}},
	}
	if _, err := Plan(wf); err == nil {
		t.Error("expected guard syntax error")
	}
}
