package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Переменные окружения, которые Runner выставляет каждому шагу.
const (
	EnvWorkspace = "CONVEYOR_WORKSPACE"
	EnvJob       = "CONVEYOR_JOB"
	EnvRunID     = "CONVEYOR_RUN_ID"
	EnvRef       = "CONVEYOR_REF"
	EnvStepIndex = "CONVEYOR_STEP"
	EnvFile      = "CONVEYOR_ENV"
	EnvPathFile  = "CONVEYOR_PATH"
)

// Runner — Conditional Step Executor: выполняет шаги одного job'а.
//
// Runner не хранит состояния между вызовами RunJob и безопасен
// для параллельного использования из нескольких job'ов.
type Runner struct {
	registry *Registry
	workDir  string
	hostEnv  []string
	keepWork bool
	logger   *slog.Logger
}

// Config — конфигурация Runner.
type Config struct {
	// Registry — реестр действий (опционально; если nil — NewRegistry()).
	Registry *Registry

	// WorkDir — корень workspace'ов: <WorkDir>/<run-id>/<job-key>.
	// Если пусто — os.TempDir()/conveyor.
	WorkDir string

	// HostEnv — базовое окружение job'а (если nil — os.Environ()).
	HostEnv []string

	// OutputLimit — сколько байт вывода шага хранить в результате.
	OutputLimit int

	// KeepWorkspace — не удалять command-файлы после job'а (отладка).
	KeepWorkspace bool

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Runner.
func New(cfg Config) *Runner {
	outputLimit := cfg.OutputLimit
	if outputLimit <= 0 {
		outputLimit = defaultOutputLimit
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
		registry.Register("shell", &ShellAction{OutputLimit: outputLimit})
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "conveyor")
	}

	hostEnv := cfg.HostEnv
	if hostEnv == nil {
		hostEnv = os.Environ()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		registry: registry,
		workDir:  workDir,
		hostEnv:  hostEnv,
		keepWork: cfg.KeepWorkspace,
		logger:   logger,
	}
}

// JobRequest — всё, что нужно для выполнения одного job'а.
type JobRequest struct {
	// RunID — идентификатор run'а (каталог workspace и CONVEYOR_RUN_ID).
	RunID string

	// Workflow — определение workflow (env и шаги).
	Workflow *domain.Workflow

	// Job — назначение матрицы.
	Job domain.JobSpec

	// Ref — ревизия, передаётся шагам как CONVEYOR_REF.
	Ref string

	// Output — поток вывода шагов (может быть nil).
	Output io.Writer
}

// Workspace возвращает каталог job'а.
func (r *Runner) Workspace(runID string, job domain.JobSpec) string {
	return filepath.Join(r.workDir, runID, workspaceName(job.Key()))
}

// RunJob выполняет шаги job'а по порядку и возвращает результат.
//
// Алгоритм:
//  1. Если ctx уже отменён — job SKIPPED (так и не стартовал)
//  2. Готовит workspace и Env (host env + workflow env + MATRIX_*)
//  3. Для каждого шага: guard false → SKIPPED; иначе выполняет действие
//  4. Первый упавший шаг завершает job: FAILED, остальные шаги NOT_RUN
//  5. Отмена ctx проверяется только между шагами
//
// Ошибки шагов не возвращаются: они отражены в JobResult.
func (r *Runner) RunJob(ctx context.Context, req *JobRequest) *domain.JobResult {
	result := domain.NewJobResult(req.Job)
	logger := telemetry.WithJob(telemetry.WithRunID(r.logger, req.RunID), req.Job.Key())

	if ctx.Err() != nil {
		result.MarkSkipped(ErrJobCancelled.Error())
		telemetry.JobsTotal.WithLabelValues(string(domain.JobStatusSkipped)).Inc()
		logger.Info("job skipped", "reason", result.Error)
		return result
	}

	steps := req.Workflow.Steps
	result.Steps = make([]domain.StepResult, len(steps))
	for i := range steps {
		result.Steps[i] = domain.StepResult{
			Index:  i,
			Name:   steps[i].DisplayName(i),
			Status: domain.StepStatusNotRun,
		}
	}

	result.MarkRunning()
	logger.Info("job started", "steps", len(steps))

	// Guard'ы разбираются до первого шага: ошибка в guard не должна
	// проявиться после выполнения части шагов.
	guards := make([]*engine.Expr, len(steps))
	for i := range steps {
		expr, err := engine.ParseGuard(steps[i].If)
		if err != nil {
			r.fail(logger, result, i, 1, fmt.Errorf("step %d guard: %w", i, err))
			return result
		}
		guards[i] = expr
	}

	workspace := r.Workspace(req.RunID, req.Job)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		r.fail(logger, result, -1, 1, fmt.Errorf("%w: %v", ErrWorkspace, err))
		return result
	}
	result.Workspace = workspace

	cmdDir, err := os.MkdirTemp(filepath.Dir(workspace), ".cmd-*")
	if err != nil {
		r.fail(logger, result, -1, 1, fmt.Errorf("%w: %v", ErrWorkspace, err))
		return result
	}
	if !r.keepWork {
		defer os.RemoveAll(cmdDir)
	}

	env, err := r.buildEnv(req, workspace)
	if err != nil {
		r.fail(logger, result, -1, 1, err)
		return result
	}

	// Шаги не прерываются отменой run'а; таймаут job'а — прерывает.
	jobCtx := context.WithoutCancel(ctx)
	if sec := req.Workflow.Strategy.JobTimeoutSec; sec > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, time.Duration(sec)*time.Second)
		defer cancel()
	}

	for i := range steps {
		step := &steps[i]

		if ctx.Err() != nil {
			r.fail(logger, result, i, 1, ErrJobCancelled)
			return result
		}
		if jobCtx.Err() != nil {
			r.fail(logger, result, i, 1, ErrJobTimeout)
			return result
		}

		if !guards[i].Eval(req.Job) {
			result.Steps[i].Status = domain.StepStatusSkipped
			telemetry.StepsTotal.WithLabelValues(string(domain.StepStatusSkipped)).Inc()
			logger.Debug("step skipped by guard", "index", i, "step", result.Steps[i].Name)
			continue
		}

		stepRes, err := r.runStep(jobCtx, req, step, i, env, workspace, cmdDir, result)
		result.Steps[i] = stepRes

		if err != nil {
			exitCode := stepRes.ExitCode
			if jobCtx.Err() != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrStepTimeout) {
				err = fmt.Errorf("%w: %w", ErrJobTimeout, err)
			}
			r.fail(logger, result, i, exitCode, err)
			return result
		}
	}

	result.MarkSucceeded()
	telemetry.JobsTotal.WithLabelValues(string(domain.JobStatusSucceeded)).Inc()
	logger.Info("job succeeded", "duration", result.Duration())

	return result
}

// runStep выполняет один шаг и применяет его побочные эффекты к Env.
func (r *Runner) runStep(
	ctx context.Context,
	req *JobRequest,
	step *domain.Step,
	index int,
	env *Env,
	workspace, cmdDir string,
	result *domain.JobResult,
) (res domain.StepResult, err error) {
	res = domain.StepResult{
		Index:  index,
		Name:   step.DisplayName(index),
		Status: domain.StepStatusFailed,
	}
	logger := telemetry.WithJob(telemetry.WithRunID(r.logger, req.RunID), req.Job.Key()).
		With("index", index, "step", res.Name)

	start := time.Now()
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
		telemetry.StepsTotal.WithLabelValues(string(res.Status)).Inc()
		telemetry.StepDuration.WithLabelValues(step.Action()).Observe(time.Since(start).Seconds())
	}()

	stepReq, envFile, pathFile, err := r.prepareStep(req, step, index, env, workspace, cmdDir)
	if err != nil {
		res.ExitCode = 1
		res.Error = err.Error()
		return res, fmt.Errorf("step %d: %w", index, err)
	}

	action, err := r.registry.Get(step.Action())
	if err != nil {
		res.ExitCode = 1
		res.Error = err.Error()
		return res, fmt.Errorf("step %d: %w", index, err)
	}

	stepCtx := ctx
	if step.TimeoutSec > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSec)*time.Second)
		defer cancel()
	}

	logger.Info("step started", "action", step.Action())
	if req.Output != nil {
		fmt.Fprintf(req.Output, "::step %d %s\n", index, res.Name)
	}

	outcome, err := action.Execute(stepCtx, stepReq)
	if err != nil {
		res.ExitCode = 1
		res.Error = err.Error()
		logger.Warn("step could not run", "error", err)
		return res, fmt.Errorf("step %d: %w", index, err)
	}

	res.ExitCode = outcome.ExitCode
	res.Output = outcome.Output

	if step.TimeoutSec > 0 && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		if res.ExitCode == 0 {
			res.ExitCode = 1
		}
		res.Error = fmt.Sprintf("timed out after %ds", step.TimeoutSec)
		logger.Warn("step timed out", "timeout_sec", step.TimeoutSec)
		return res, fmt.Errorf("step %d: %w", index, ErrStepTimeout)
	}

	if outcome.Failed() {
		if res.ExitCode == 0 {
			res.ExitCode = 1
		}
		res.Error = outcome.Error
		logger.Warn("step failed", "exit_code", res.ExitCode, "error", outcome.Error)
		return res, fmt.Errorf("step %d: %w: %s", index, ErrStepFailed, outcome.Error)
	}

	// Побочные эффекты успешного шага: окружение и артефакты
	if err := env.ApplyEnvFile(envFile); err != nil {
		res.ExitCode = 1
		res.Error = err.Error()
		return res, fmt.Errorf("step %d: %w", index, err)
	}
	if err := env.ApplyPathFile(pathFile); err != nil {
		res.ExitCode = 1
		res.Error = err.Error()
		return res, fmt.Errorf("step %d: %w", index, err)
	}

	r.collectArtifacts(logger, step, workspace, env, req, result)

	res.Status = domain.StepStatusSucceeded
	logger.Info("step succeeded")

	return res, nil
}

// prepareStep рендерит строки шага и собирает StepRequest.
func (r *Runner) prepareStep(
	req *JobRequest,
	step *domain.Step,
	index int,
	env *Env,
	workspace, cmdDir string,
) (*StepRequest, string, string, error) {
	tctx := engine.NewContext(req.Job, req.RunID)
	tctx.Env = env.Map()

	run, err := engine.Render(step.Run, tctx)
	if err != nil {
		return nil, "", "", fmt.Errorf("render run: %w", err)
	}

	with, err := engine.RenderMap(step.With, tctx)
	if err != nil {
		return nil, "", "", fmt.Errorf("render with: %w", err)
	}

	stepVars, err := engine.RenderMap(step.Env, tctx)
	if err != nil {
		return nil, "", "", fmt.Errorf("render env: %w", err)
	}

	dir := workspace
	if step.WorkingDirectory != "" {
		wd, err := engine.Render(step.WorkingDirectory, tctx)
		if err != nil {
			return nil, "", "", fmt.Errorf("render working_directory: %w", err)
		}
		dir = resolvePath(workspace, wd)
	}

	envFile := filepath.Join(cmdDir, "env-"+strconv.Itoa(index))
	pathFile := filepath.Join(cmdDir, "path-"+strconv.Itoa(index))

	stepEnv := env.Clone()
	stepEnv.SetAll(stepVars)
	stepEnv.Set(EnvStepIndex, strconv.Itoa(index))
	stepEnv.Set(EnvFile, envFile)
	stepEnv.Set(EnvPathFile, pathFile)

	return &StepRequest{
		Index:   index,
		Name:    step.DisplayName(index),
		Run:     run,
		Shell:   step.Shell,
		With:    with,
		Env:     stepEnv.Environ(),
		WorkDir: dir,
		Output:  req.Output,
	}, envFile, pathFile, nil
}

// buildEnv собирает окружение job'а.
func (r *Runner) buildEnv(req *JobRequest, workspace string) (*Env, error) {
	env := NewEnv(r.hostEnv)

	env.setMatrix(req.Job)
	env.Set(EnvWorkspace, workspace)
	env.Set(EnvJob, req.Job.Key())
	env.Set(EnvRunID, req.RunID)
	if req.Ref != "" {
		env.Set(EnvRef, req.Ref)
	}

	// Workflow env может ссылаться на матрицу: {{ .Matrix.os }}
	tctx := engine.NewContext(req.Job, req.RunID)
	tctx.Env = env.Map()
	vars, err := engine.RenderMap(req.Workflow.Env, tctx)
	if err != nil {
		return nil, fmt.Errorf("render workflow env: %w", err)
	}
	env.SetAll(vars)

	return env, nil
}

// collectArtifacts записывает объявленные шагом артефакты, которые
// действительно появились на диске.
func (r *Runner) collectArtifacts(
	logger *slog.Logger,
	step *domain.Step,
	workspace string,
	env *Env,
	req *JobRequest,
	result *domain.JobResult,
) {
	if len(step.Artifacts) == 0 {
		return
	}

	tctx := engine.NewContext(req.Job, req.RunID)
	tctx.Env = env.Map()

	for name, raw := range step.Artifacts {
		rel, err := engine.Render(raw, tctx)
		if err != nil {
			logger.Warn("artifact path render failed", "artifact", name, "error", err)
			continue
		}

		path := resolvePath(workspace, rel)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			logger.Warn("declared artifact not found", "artifact", name, "path", path)
			continue
		}

		result.Artifacts[name] = path
		logger.Debug("artifact captured", "artifact", name, "path", path, "size", info.Size())
	}
}

// fail завершает job со статусом FAILED.
func (r *Runner) fail(logger *slog.Logger, result *domain.JobResult, index, exitCode int, err error) {
	result.MarkFailed(index, exitCode, err.Error())
	telemetry.JobsTotal.WithLabelValues(string(domain.JobStatusFailed)).Inc()
	logger.Warn("job failed",
		"failed_step", index,
		"exit_code", result.ExitCode,
		"error", err,
	)
}

func resolvePath(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

// workspaceName строит имя каталога job'а из читаемой части ключа и
// короткого хеша полного ключа: "os=a/b" и "os=a_b" дают одинаковую
// читаемую часть, но разные каталоги.
func workspaceName(key string) string {
	sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()[:8]
	return sanitizeKey(key) + "-" + sum
}

// sanitizeKey превращает ключ job'а в читаемое имя:
// "os=ubuntu,python-version=3.11" → "os-ubuntu_python-version-3.11".
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '=':
			return '-'
		case r == ',':
			return '_'
		case r == '/' || r == '\\' || r == ':' || r == ' ':
			return '_'
		default:
			return r
		}
	}, key)
}
