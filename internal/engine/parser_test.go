package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

const exampleYAML = `
name: test-examples
on:
  pull_request:
    types: [opened, synchronize, reopened, ready_for_review]
  workflow_dispatch:
env:
  QT_QPA_PLATFORM: offscreen
strategy:
  matrix:
    os: [macos, ubuntu, windows]
    python-version: ["3.8", "3.9", 3.10, "3.11"]
steps:
  - name: Install dependencies
    run: pip install -e .
  - name: Run tests
    if: "!(matrix.os == 'ubuntu' && matrix.python-version == '3.11')"
    run: pytest
  - name: Run tests with coverage
    if: matrix.os == 'ubuntu' && matrix.python-version == '3.11'
    run: pytest --cov --cov-report=xml
    artifacts:
      coverage: coverage.xml
report:
  if: matrix.os == 'ubuntu' && matrix.python-version == '3.11'
  artifact: coverage
  token_env: CODECOV_TOKEN
  flags: [unittests]
`

func TestParseWorkflow_Example(t *testing.T) {
	wf, err := ParseWorkflow([]byte(exampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if wf.Name != "test-examples" {
		t.Errorf("Name = %q", wf.Name)
	}
	if wf.On.PullRequest == nil || len(wf.On.PullRequest.Types) != 4 {
		t.Errorf("pull_request trigger not parsed: %+v", wf.On.PullRequest)
	}
	if wf.On.WorkflowDispatch == nil {
		t.Error("empty workflow_dispatch key must enable the trigger")
	}

	axes := wf.Strategy.Matrix
	if len(axes) != 2 || axes[0].Name != "os" || axes[1].Name != "python-version" {
		t.Fatalf("matrix axes order not preserved: %+v", axes)
	}
	if axes[1].Values[2] != "3.10" {
		t.Errorf("unquoted 3.10 must keep its text, got %q", axes[1].Values[2])
	}

	if len(wf.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(wf.Steps))
	}
	if wf.Steps[0].Action() != "shell" {
		t.Errorf("default action = %q, want shell", wf.Steps[0].Action())
	}
	if wf.Steps[2].Artifacts["coverage"] != "coverage.xml" {
		t.Errorf("artifact not parsed: %v", wf.Steps[2].Artifacts)
	}
	if wf.Report == nil || wf.Report.Artifact != "coverage" || wf.Report.FailLoudly {
		t.Errorf("report not parsed: %+v", wf.Report)
	}
}

func TestParseWorkflow_TriggerForms(t *testing.T) {
	tests := []struct {
		name     string
		on       string
		pr       bool
		dispatch bool
	}{
		{"scalar", "on: workflow_dispatch", false, true},
		{"list", "on: [pull_request, workflow_dispatch]", true, true},
		{"mapping", "on:\n  pull_request:\n", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := "name: x\n" + tt.on + "\nsteps:\n  - run: echo hi\n"
			wf, err := ParseWorkflow([]byte(src))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (wf.On.PullRequest != nil) != tt.pr {
				t.Errorf("pull_request enabled = %v, want %v", wf.On.PullRequest != nil, tt.pr)
			}
			if (wf.On.WorkflowDispatch != nil) != tt.dispatch {
				t.Errorf("workflow_dispatch enabled = %v, want %v", wf.On.WorkflowDispatch != nil, tt.dispatch)
			}
		})
	}
}

func TestParseWorkflow_UnknownField(t *testing.T) {
	src := "name: x\non: workflow_dispatch\nsteps:\n  - run: echo\n    retries: 3\n"

	if _, err := ParseWorkflow([]byte(src)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseWorkflow_UnknownEvent(t *testing.T) {
	src := "name: x\non: push\nsteps:\n  - run: echo\n"

	if _, err := ParseWorkflow([]byte(src)); err == nil {
		t.Fatal("expected error for unknown event")
	}
}

func validWorkflow() *domain.Workflow {
	return &domain.Workflow{
		Name: "ci",
		On:   domain.Triggers{WorkflowDispatch: &domain.DispatchTrigger{}},
		Strategy: domain.Strategy{
			Matrix: exampleMatrix(),
		},
		Steps: []domain.Step{
			{Name: "build", Run: "make"},
		},
	}
}

func TestParseWorkflow_ReportNeedsCondition(t *testing.T) {
	src := `
name: cov
on:
  workflow_dispatch:
strategy:
  matrix:
    os: [macos, ubuntu, windows]
steps:
  - run: pytest --cov
    artifacts:
      coverage: coverage.xml
report:
  artifact: coverage
`
	_, err := ParseWorkflow([]byte(src))
	if !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("expected ErrInvalidReport, got %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "report.if" {
		t.Errorf("expected report.if validation error, got %v", err)
	}
}

func TestValidate_ReportWithoutMatrix(t *testing.T) {
	wf := validWorkflow()
	wf.Strategy.Matrix = nil
	wf.Steps[0].Artifacts = map[string]string{"coverage": "coverage.xml"}
	wf.Report = &domain.ReportSpec{Artifact: "coverage"}

	if err := Validate(wf); err != nil {
		t.Fatalf("single job needs no report condition: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(wf *domain.Workflow)
		want   error
	}{
		{"empty name", func(wf *domain.Workflow) { wf.Name = "" }, ErrEmptyWorkflowName},
		{"no triggers", func(wf *domain.Workflow) { wf.On = domain.Triggers{} }, ErrNoTriggers},
		{"no steps", func(wf *domain.Workflow) { wf.Steps = nil }, ErrEmptySteps},
		{"empty axis", func(wf *domain.Workflow) { wf.Strategy.Matrix[0].Values = nil }, ErrEmptyAxis},
		{"unknown action", func(wf *domain.Workflow) { wf.Steps[0].Uses = "docker" }, ErrUnknownAction},
		{"empty run", func(wf *domain.Workflow) { wf.Steps[0].Run = "" }, ErrEmptyRun},
		{"bad shell", func(wf *domain.Workflow) { wf.Steps[0].Shell = "fish" }, ErrUnknownAction},
		{"negative timeout", func(wf *domain.Workflow) { wf.Steps[0].TimeoutSec = -1 }, ErrInvalidTimeout},
		{"guard syntax", func(wf *domain.Workflow) { wf.Steps[0].If = "matrix.os ==" }, ErrGuardSyntax},
		{"guard unknown axis", func(wf *domain.Workflow) { wf.Steps[0].If = "matrix.arch == x" }, ErrUnknownAxis},
		{"report without artifact", func(wf *domain.Workflow) {
			wf.Report = &domain.ReportSpec{If: "true"}
		}, ErrInvalidReport},
		{"report undeclared artifact", func(wf *domain.Workflow) {
			wf.Report = &domain.ReportSpec{If: "matrix.os == 'ubuntu'", Artifact: "coverage"}
		}, ErrInvalidReport},
		{"report without condition", func(wf *domain.Workflow) {
			wf.Steps[0].Artifacts = map[string]string{"coverage": "coverage.xml"}
			wf.Report = &domain.ReportSpec{Artifact: "coverage"}
		}, ErrInvalidReport},
		{"http without url", func(wf *domain.Workflow) {
			wf.Steps[0] = domain.Step{Uses: "http"}
		}, ErrUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := validWorkflow()
			tt.mutate(wf)

			err := Validate(wf)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ValidationErrorContext(t *testing.T) {
	wf := validWorkflow()
	wf.Steps = append(wf.Steps, domain.Step{Name: "test", If: "matrix.arch == x", Run: "pytest"})

	err := Validate(wf)

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	if vErr.Step != "test" || vErr.Field != "if" {
		t.Errorf("unexpected context: step=%q field=%q", vErr.Step, vErr.Field)
	}
}

func TestValidate_InvalidCron(t *testing.T) {
	wf := validWorkflow()
	wf.On.Schedule = []domain.ScheduleTrigger{{Cron: "not a cron"}}

	var vErr *ValidationError
	if err := Validate(wf); !errors.As(err, &vErr) || vErr.Field != "on.schedule" {
		t.Errorf("expected on.schedule validation error, got %v", err)
	}

	wf.On.Schedule = []domain.ScheduleTrigger{{Cron: "0 3 * * *"}}
	if err := Validate(wf); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("examples.yml", exampleYAML)
	write("nightly.yaml", "name: nightly\non:\n  schedule:\n    - cron: '0 3 * * *'\nsteps:\n  - run: make e2e\n")
	write("README.md", "not a workflow")

	catalog, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if catalog.Len() != 2 {
		t.Fatalf("expected 2 workflows, got %d", catalog.Len())
	}

	list := catalog.List()
	if list[0].Name != "nightly" || list[1].Name != "test-examples" {
		t.Errorf("List() not sorted: %s, %s", list[0].Name, list[1].Name)
	}

	if _, err := catalog.Get("missing"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound, got %v", err)
	}

	pr := catalog.ForEvent(domain.EventPullRequest, "opened")
	if len(pr) != 1 || pr[0].Name != "test-examples" {
		t.Errorf("ForEvent(pull_request, opened) = %v", pr)
	}
	if got := catalog.ForEvent(domain.EventPullRequest, "closed"); len(got) != 0 {
		t.Errorf("closed action must not trigger, got %d workflows", len(got))
	}
	if got := catalog.ForEvent(domain.EventSchedule, ""); len(got) != 1 || got[0].Name != "nightly" {
		t.Errorf("ForEvent(schedule) = %v", got)
	}
}

func TestLoadDir_Duplicate(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(exampleYAML), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := LoadDir(dir); !errors.Is(err, ErrDuplicateWorkflow) {
		t.Errorf("expected ErrDuplicateWorkflow, got %v", err)
	}
}

func TestLoadDir_ShippedWorkflows(t *testing.T) {
	catalog, err := LoadDir(filepath.Join("..", "..", ".conveyor", "workflows"))
	if err != nil {
		t.Fatalf("shipped workflows must be valid: %v", err)
	}

	wf, err := catalog.Get("test-examples")
	if err != nil {
		t.Fatal(err)
	}
	if MatrixSize(wf.Strategy.Matrix) != 12 {
		t.Errorf("test-examples should expand to 12 jobs")
	}
	for _, key := range []string{"QT_DEBUG_PLUGINS", "QT_QPA_PLATFORM", "PYTHONFAULTHANDLER", "DISPLAY"} {
		if wf.Env[key] == "" {
			t.Errorf("test-examples env lacks %s", key)
		}
	}

	if got := catalog.ForEvent(domain.EventSchedule, ""); len(got) != 1 || got[0].Name != "nightly" {
		t.Errorf("scheduled workflows = %v", got)
	}
}
