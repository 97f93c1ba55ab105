package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// fakeAction записывает вызовы и возвращает результат fn.
type fakeAction struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, req *StepRequest) (*StepOutcome, error)
}

func (a *fakeAction) Execute(ctx context.Context, req *StepRequest) (*StepOutcome, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req.Name)
	a.mu.Unlock()

	if a.fn != nil {
		return a.fn(ctx, req)
	}
	return &StepOutcome{}, nil
}

func (a *fakeAction) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func newTestRunner(t *testing.T, action Action) *Runner {
	t.Helper()

	registry := NewRegistry()
	if action != nil {
		registry.Register("fake", action)
	}

	return New(Config{
		Registry: registry,
		WorkDir:  t.TempDir(),
		HostEnv:  []string{"PATH=" + os.Getenv("PATH")},
	})
}

func ubuntu311() domain.JobSpec {
	return domain.NewJobSpec([]domain.AxisValue{
		{Axis: "os", Value: "ubuntu"},
		{Axis: "python-version", Value: "3.11"},
	})
}

func windows39() domain.JobSpec {
	return domain.NewJobSpec([]domain.AxisValue{
		{Axis: "os", Value: "windows"},
		{Axis: "python-version", Value: "3.9"},
	})
}

func fakeSteps(names ...string) []domain.Step {
	steps := make([]domain.Step, len(names))
	for i, name := range names {
		steps[i] = domain.Step{Name: name, Uses: "fake"}
	}
	return steps
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell tests require sh")
	}
}

func TestRunJob_StepsInOrder(t *testing.T) {
	action := &fakeAction{}
	r := newTestRunner(t, action)

	wf := &domain.Workflow{Steps: fakeSteps("checkout", "install", "test")}

	result := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: wf, Job: ubuntu311()})

	if result.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", result.Status, result.Error)
	}
	if result.FailedStep != -1 || result.ExitCode != 0 {
		t.Errorf("FailedStep=%d ExitCode=%d, want -1/0", result.FailedStep, result.ExitCode)
	}

	calls := action.Calls()
	if strings.Join(calls, ",") != "checkout,install,test" {
		t.Errorf("unexpected call order: %v", calls)
	}
	for _, s := range result.Steps {
		if s.Status != domain.StepStatusSucceeded {
			t.Errorf("step %d status = %s", s.Index, s.Status)
		}
	}
	if result.StartedAt == nil || result.FinishedAt == nil {
		t.Error("timestamps should be set")
	}
}

func TestRunJob_HaltsOnFirstFailure(t *testing.T) {
	action := &fakeAction{
		fn: func(_ context.Context, req *StepRequest) (*StepOutcome, error) {
			if req.Name == "install dependencies" {
				return &StepOutcome{ExitCode: 3, Error: "exit status 3"}, nil
			}
			return &StepOutcome{}, nil
		},
	}
	r := newTestRunner(t, action)

	wf := &domain.Workflow{Steps: fakeSteps("checkout", "install dependencies", "test", "coverage")}

	result := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: wf, Job: windows39()})

	if result.Status != domain.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	if result.FailedStep != 1 {
		t.Errorf("FailedStep = %d, want 1", result.FailedStep)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if calls := action.Calls(); len(calls) != 2 {
		t.Errorf("steps after failure must not run, calls=%v", calls)
	}
	if result.Steps[2].Status != domain.StepStatusNotRun || result.Steps[3].Status != domain.StepStatusNotRun {
		t.Errorf("remaining steps should be NOT_RUN: %+v", result.Steps)
	}
}

func TestRunJob_GuardSkipsWithoutSideEffect(t *testing.T) {
	action := &fakeAction{}
	r := newTestRunner(t, action)

	wf := &domain.Workflow{Steps: []domain.Step{
		{Name: "install", Uses: "fake"},
		{Name: "test", Uses: "fake", If: "!(matrix.os == 'ubuntu' && matrix.python-version == '3.11')"},
		{Name: "coverage", Uses: "fake", If: "matrix.os == 'ubuntu' && matrix.python-version == '3.11'"},
		{Name: "windows only", Uses: "fake", If: "matrix.os == windows"},
	}}

	result := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: wf, Job: ubuntu311()})

	if result.Status != domain.JobStatusSucceeded {
		t.Fatalf("skipped steps are not failures, got %s (%s)", result.Status, result.Error)
	}
	if got := strings.Join(action.Calls(), ","); got != "install,coverage" {
		t.Errorf("executed steps = %s, want install,coverage", got)
	}
	if result.Steps[1].Status != domain.StepStatusSkipped || result.Steps[3].Status != domain.StepStatusSkipped {
		t.Errorf("guarded steps should be SKIPPED: %+v", result.Steps)
	}
}

func TestRunJob_CancelledBeforeStart(t *testing.T) {
	action := &fakeAction{}
	r := newTestRunner(t, action)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := r.RunJob(ctx, &JobRequest{RunID: "run-1", Workflow: &domain.Workflow{Steps: fakeSteps("a")}, Job: ubuntu311()})

	if result.Status != domain.JobStatusSkipped {
		t.Fatalf("expected SKIPPED, got %s", result.Status)
	}
	if len(action.Calls()) != 0 {
		t.Error("no step should run")
	}
	if result.StartedAt != nil {
		t.Error("skipped job must not have StartedAt")
	}
}

func TestRunJob_CancelStopsAtStepBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stepCtxErr error
	action := &fakeAction{
		fn: func(stepCtx context.Context, req *StepRequest) (*StepOutcome, error) {
			if req.Name == "long" {
				cancel()
				// Отмена run'а не должна доходить до выполняющегося шага
				stepCtxErr = stepCtx.Err()
			}
			return &StepOutcome{}, nil
		},
	}
	r := newTestRunner(t, action)

	wf := &domain.Workflow{Steps: fakeSteps("long", "next")}
	result := r.RunJob(ctx, &JobRequest{RunID: "run-1", Workflow: wf, Job: ubuntu311()})

	if stepCtxErr != nil {
		t.Errorf("in-flight step saw cancellation: %v", stepCtxErr)
	}
	if result.Status != domain.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	if result.Error != ErrJobCancelled.Error() {
		t.Errorf("Error = %q, want %q", result.Error, ErrJobCancelled.Error())
	}
	if result.FailedStep != 1 {
		t.Errorf("FailedStep = %d, want 1", result.FailedStep)
	}
	if result.Steps[0].Status != domain.StepStatusSucceeded {
		t.Errorf("first step should complete, got %s", result.Steps[0].Status)
	}
	if got := action.Calls(); len(got) != 1 {
		t.Errorf("next step must not run, calls=%v", got)
	}
}

func TestRunJob_StepTimeout(t *testing.T) {
	action := &fakeAction{
		fn: func(ctx context.Context, _ *StepRequest) (*StepOutcome, error) {
			<-ctx.Done()
			return &StepOutcome{ExitCode: 1, Error: "killed"}, nil
		},
	}
	r := newTestRunner(t, action)

	wf := &domain.Workflow{Steps: []domain.Step{{Name: "hang", Uses: "fake", TimeoutSec: 1}}}

	start := time.Now()
	result := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: wf, Job: ubuntu311()})

	if time.Since(start) > 10*time.Second {
		t.Fatal("timeout did not fire")
	}
	if result.Status != domain.JobStatusFailed || result.FailedStep != 0 {
		t.Fatalf("expected FAILED at 0, got %s at %d", result.Status, result.FailedStep)
	}
	if !strings.Contains(result.Error, ErrStepTimeout.Error()) {
		t.Errorf("Error = %q, want step timeout", result.Error)
	}
}

func TestRunJob_UnknownAction(t *testing.T) {
	r := newTestRunner(t, nil)

	wf := &domain.Workflow{Steps: []domain.Step{{Name: "x", Uses: "docker"}}}
	result := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: wf, Job: ubuntu311()})

	if result.Status != domain.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	if !strings.Contains(result.Error, ErrUnknownAction.Error()) {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestRunJob_ActionStartError(t *testing.T) {
	action := &fakeAction{
		fn: func(context.Context, *StepRequest) (*StepOutcome, error) {
			return nil, errors.New("boom")
		},
	}
	r := newTestRunner(t, action)

	result := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: &domain.Workflow{Steps: fakeSteps("a")}, Job: ubuntu311()})

	if result.Status != domain.JobStatusFailed || result.ExitCode != 1 {
		t.Fatalf("expected FAILED with exit 1, got %s/%d", result.Status, result.ExitCode)
	}
}

func TestWorkspace_DistinctForSimilarValues(t *testing.T) {
	r := New(Config{WorkDir: t.TempDir()})

	specs := []domain.JobSpec{
		domain.NewJobSpec([]domain.AxisValue{{Axis: "os", Value: "a/b"}}),
		domain.NewJobSpec([]domain.AxisValue{{Axis: "os", Value: "a_b"}}),
		domain.NewJobSpec([]domain.AxisValue{{Axis: "os", Value: "a:b"}}),
		domain.NewJobSpec([]domain.AxisValue{{Axis: "os", Value: "a b"}}),
		domain.NewJobSpec(nil),
	}

	seen := make(map[string]string)
	for _, spec := range specs {
		dir := r.Workspace("run", spec)
		if prev, ok := seen[dir]; ok {
			t.Fatalf("jobs %q and %q share workspace %s", prev, spec.Key(), dir)
		}
		seen[dir] = spec.Key()

		if filepath.Dir(dir) != filepath.Join(r.workDir, "run") {
			t.Errorf("workspace %s escapes run directory", dir)
		}
	}

	if r.Workspace("run", specs[0]) != r.Workspace("run", specs[0]) {
		t.Error("workspace is not stable for the same job")
	}
}

func TestRunJob_WorkspacePerJob(t *testing.T) {
	r := newTestRunner(t, &fakeAction{})
	wf := &domain.Workflow{Steps: fakeSteps("a")}

	a := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: wf, Job: ubuntu311()})
	b := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: wf, Job: windows39()})

	if a.Workspace == b.Workspace {
		t.Fatalf("jobs share workspace %s", a.Workspace)
	}
	if !strings.HasPrefix(filepath.Base(a.Workspace), "os-ubuntu_python-version-3.11-") {
		t.Errorf("unexpected workspace name %s", filepath.Base(a.Workspace))
	}
	if _, err := os.Stat(a.Workspace); err != nil {
		t.Errorf("workspace not created: %v", err)
	}
}

func TestRunJob_Shell_ExitCode(t *testing.T) {
	requireShell(t)
	r := newTestRunner(t, nil)

	wf := &domain.Workflow{Steps: []domain.Step{
		{Name: "ok", Run: "echo hello"},
		{Name: "fail", Run: "echo boom >&2; exit 42"},
	}}

	result := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: wf, Job: windows39()})

	if result.Status != domain.JobStatusFailed || result.FailedStep != 1 {
		t.Fatalf("expected FAILED at step 1, got %s at %d", result.Status, result.FailedStep)
	}
	if result.ExitCode != 42 {
		t.Errorf("ExitCode = %d, want 42", result.ExitCode)
	}
	if !strings.Contains(result.Steps[0].Output, "hello") {
		t.Errorf("output not captured: %q", result.Steps[0].Output)
	}
	if !strings.Contains(result.Steps[1].Output, "boom") {
		t.Errorf("stderr not captured: %q", result.Steps[1].Output)
	}
}

func TestRunJob_Shell_EnvPropagation(t *testing.T) {
	requireShell(t)
	r := newTestRunner(t, nil)

	wf := &domain.Workflow{
		Env: map[string]string{"QT_QPA_PLATFORM": "offscreen"},
		Steps: []domain.Step{
			{Name: "setup", Run: `mkdir -p tools && echo "VENV=active" >> "$CONVEYOR_ENV" && echo "$CONVEYOR_WORKSPACE/tools" >> "$CONVEYOR_PATH"`},
			{Name: "check env", Run: `test "$VENV" = active && test "$QT_QPA_PLATFORM" = offscreen`},
			{Name: "check path", Run: `case "$PATH" in "$CONVEYOR_WORKSPACE/tools"*) ;; *) exit 7;; esac`},
			{Name: "check matrix", Run: `test "$MATRIX_PYTHON_VERSION" = 3.11 && test "{{ .Matrix.os }}" = ubuntu`},
		},
	}

	result := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: wf, Job: ubuntu311()})
	if result.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s at step %d: %s", result.Status, result.FailedStep, result.Error)
	}

	// Окружение одного job'а не видно другому
	other := &domain.Workflow{Steps: []domain.Step{{Name: "isolated", Run: `test -z "$VENV"`}}}
	result = r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: other, Job: windows39()})
	if result.Status != domain.JobStatusSucceeded {
		t.Fatalf("env leaked between jobs: %s", result.Error)
	}
}

func TestRunJob_Shell_Artifacts(t *testing.T) {
	requireShell(t)
	r := newTestRunner(t, nil)

	wf := &domain.Workflow{Steps: []domain.Step{
		{
			Name:      "coverage",
			Run:       "echo '<coverage/>' > coverage.xml",
			Artifacts: map[string]string{"coverage": "coverage.xml", "missing": "nope.xml"},
		},
	}}

	result := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: wf, Job: ubuntu311()})
	if result.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s: %s", result.Status, result.Error)
	}

	path, ok := result.Artifacts["coverage"]
	if !ok {
		t.Fatalf("coverage artifact not captured: %v", result.Artifacts)
	}
	if path != filepath.Join(result.Workspace, "coverage.xml") {
		t.Errorf("artifact path = %s", path)
	}
	if _, ok := result.Artifacts["missing"]; ok {
		t.Error("missing file must not be recorded as artifact")
	}
}

func TestRunJob_Shell_WorkingDirectory(t *testing.T) {
	requireShell(t)
	r := newTestRunner(t, nil)

	wf := &domain.Workflow{Steps: []domain.Step{
		{Name: "mk", Run: "mkdir -p pkg/{{ .Matrix.os }}"},
		{Name: "in dir", Run: `test "$(basename "$(pwd)")" = ubuntu`, WorkingDirectory: "pkg/{{ .Matrix.os }}"},
	}}

	result := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: wf, Job: ubuntu311()})
	if result.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s: %s", result.Status, result.Error)
	}
}

func TestRunJob_JobTimeout(t *testing.T) {
	action := &fakeAction{
		fn: func(ctx context.Context, _ *StepRequest) (*StepOutcome, error) {
			<-ctx.Done()
			return &StepOutcome{ExitCode: 1, Error: "killed"}, nil
		},
	}
	r := newTestRunner(t, action)

	wf := &domain.Workflow{
		Strategy: domain.Strategy{JobTimeoutSec: 1},
		Steps:    fakeSteps("slow", "after"),
	}

	result := r.RunJob(context.Background(), &JobRequest{RunID: "run-1", Workflow: wf, Job: ubuntu311()})

	if result.Status != domain.JobStatusFailed || result.FailedStep != 0 {
		t.Fatalf("expected FAILED at 0, got %s at %d", result.Status, result.FailedStep)
	}
	if !strings.Contains(result.Error, ErrJobTimeout.Error()) {
		t.Errorf("Error = %q, want job timeout", result.Error)
	}
	if len(action.Calls()) != 1 {
		t.Errorf("step after job timeout must not run")
	}
}
