package cli

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/report"
	"github.com/shaiso/Conveyor/internal/runner"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// ExitError — завершение команды с ненулевым кодом без текста ошибки.
// Используется exec, чтобы код выхода процесса совпадал с кодом run.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "exit status " + strconv.Itoa(e.Code)
}

// ExecOptions — параметры локального выполнения workflow.
type ExecOptions struct {
	ConfigPath     string
	Event          string
	Action         string
	Ref            string
	WorkDir        string
	MaxParallel    int
	CollectorURL   string
	CollectorToken string
	KeepWorkspace  bool
	LogLevel       string
	Quiet          bool
}

// NewExecCmd создаёт команду локального выполнения workflow.
//
// exec не обращается к API: матрица разворачивается и выполняется
// в текущем процессе тем же Coordinator'ом, что и в оркестраторе.
func NewExecCmd(outputFn func() *Output) *cobra.Command {
	var opts ExecOptions

	cmd := &cobra.Command{
		Use:   "exec FILE",
		Short: "Run a workflow file locally",
		Long: `Expand the workflow matrix and run every job on this machine.
Step output is streamed to stderr prefixed with the job name. The process
exits with 0 only if the run succeeded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := Exec(cmd, args[0], opts, outputFn())
			if err != nil {
				return err
			}
			if code := res.ExitCode(); code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Config file (default: $CONVEYOR_CONFIG or ./conveyor.yaml)")
	cmd.Flags().StringVar(&opts.Event, "event", string(domain.EventWorkflowDispatch), "Event to simulate")
	cmd.Flags().StringVar(&opts.Action, "action", "", "Pull request action")
	cmd.Flags().StringVar(&opts.Ref, "ref", "", "Git ref passed to steps as CONVEYOR_REF")
	cmd.Flags().StringVar(&opts.WorkDir, "workdir", "", "Root for job workspaces")
	cmd.Flags().IntVar(&opts.MaxParallel, "max-parallel", 0, "Parallel jobs when the workflow sets none")
	cmd.Flags().StringVar(&opts.CollectorURL, "collector-url", "", "Artifact collector URL")
	cmd.Flags().StringVar(&opts.CollectorToken, "collector-token", "", "Artifact collector token")
	cmd.Flags().BoolVar(&opts.KeepWorkspace, "keep-workspace", false, "Keep step command files for debugging")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Do not stream step output")

	return cmd
}

// Exec выполняет workflow из файла и печатает итог по job'ам.
func Exec(cmd *cobra.Command, path string, opts ExecOptions, out *Output) (*orchestrator.RunResult, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyExecFlags(cmd, cfg, opts)

	wf, err := engine.LoadWorkflow(path)
	if err != nil {
		return nil, err
	}

	event := domain.Event(opts.Event)
	if !event.IsValid() {
		return nil, fmt.Errorf("unknown event %q", opts.Event)
	}
	if !wf.On.Matches(event, opts.Action) {
		return nil, fmt.Errorf("workflow %s is not triggered by %s", wf.Name, event)
	}

	// Логи в stderr, чтобы stdout оставался для итоговой таблицы
	logger := telemetry.NewLogger(out.ErrWriter(), cfg.LogLevel, "text")

	coordinator := orchestrator.NewCoordinator(orchestrator.CoordinatorConfig{
		Runner: runner.New(runner.Config{
			WorkDir:       cfg.WorkDir,
			KeepWorkspace: opts.KeepWorkspace,
			Logger:        logger,
		}),
		Reporter: report.New(report.Config{
			URL:    cfg.CollectorURL,
			Token:  cfg.CollectorToken,
			Logger: logger,
		}),
		MaxParallel: cfg.MaxParallel,
		Output:      jobOutput(out.ErrWriter(), opts.Quiet),
		Logger:      logger,
	})

	run := domain.NewRun(*wf, event, opts.Action, opts.Ref)
	res, err := coordinator.Execute(cmd.Context(), run)
	if err != nil {
		return nil, err
	}

	printRunResult(out, res)
	return res, nil
}

// applyExecFlags накладывает явно заданные флаги поверх конфигурации.
func applyExecFlags(cmd *cobra.Command, cfg *config.Config, opts ExecOptions) {
	flags := cmd.Flags()
	if flags.Changed("workdir") {
		cfg.WorkDir = opts.WorkDir
	}
	if flags.Changed("max-parallel") && opts.MaxParallel > 0 {
		cfg.MaxParallel = opts.MaxParallel
	}
	if flags.Changed("collector-url") {
		cfg.CollectorURL = opts.CollectorURL
	}
	if flags.Changed("collector-token") {
		cfg.CollectorToken = opts.CollectorToken
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.LogLevel
	}
}

func printRunResult(out *Output, res *orchestrator.RunResult) {
	if out.JSONMode() {
		out.JSON(map[string]any{
			"run":  res.Run,
			"jobs": res.Jobs,
		})
		return
	}

	headers := []string{"JOB", "STATUS", "FAILED_STEP", "EXIT", "DURATION", "ERROR"}
	rows := make([][]string, len(res.Jobs))
	for i, j := range res.Jobs {
		failed := "-"
		if j.FailedStep >= 0 {
			failed = strconv.Itoa(j.FailedStep)
		}
		rows[i] = []string{
			j.Job.Name(),
			string(j.Status),
			failed,
			strconv.Itoa(j.ExitCode),
			formatMillis(j.Duration().Milliseconds()),
			j.Error,
		}
	}
	out.Table(headers, rows)

	if res.Report != nil && res.Report.Forwarded() > 0 {
		out.Success(fmt.Sprintf("Report: forwarded %d artifact(s)", res.Report.Forwarded()))
	}
	if res.ReportErr != nil {
		out.Error("report: " + res.ReportErr.Error())
	}

	msg := fmt.Sprintf("Run %s: %s", res.Run.Workflow.Name, res.Run.Status)
	if res.Run.Error != "" {
		msg += " (" + res.Run.Error + ")"
	}
	out.Success(msg)
}

// jobOutput возвращает фабрику потоков вывода шагов с префиксом job'а.
func jobOutput(w io.Writer, quiet bool) func(string, domain.JobSpec) io.Writer {
	if quiet {
		return nil
	}
	var mu sync.Mutex
	return func(_ string, job domain.JobSpec) io.Writer {
		return &prefixWriter{w: w, mu: &mu, prefix: "[" + job.Name() + "] "}
	}
}

// prefixWriter пишет строки с префиксом; общий mu не даёт строкам
// параллельных job'ов перемешиваться.
type prefixWriter struct {
	w      io.Writer
	mu     *sync.Mutex
	prefix string
	buf    bytes.Buffer
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	p.buf.Write(b)

	for {
		line, err := p.buf.ReadBytes('\n')
		if err != nil {
			// Неполная строка ждёт следующей записи
			p.buf.Write(line)
			break
		}
		p.mu.Lock()
		_, werr := io.WriteString(p.w, p.prefix+string(line))
		p.mu.Unlock()
		if werr != nil {
			return len(b), werr
		}
	}

	return len(b), nil
}

// NewMatrixCmd создаёт команду просмотра развёрнутой матрицы.
func NewMatrixCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "matrix FILE",
		Short: "Show the jobs a workflow expands to and the steps each one runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			wf, err := engine.LoadWorkflow(args[0])
			if err != nil {
				return err
			}

			plan, err := engine.Plan(wf)
			if err != nil {
				return err
			}

			type planJSON struct {
				Key     string            `json:"key"`
				Matrix  map[string]string `json:"matrix"`
				Steps   []string          `json:"steps"`
				Reports bool              `json:"reports"`
			}

			headers := []string{"#", "JOB", "STEPS", "REPORT"}
			rows := make([][]string, len(plan))
			data := make([]planJSON, len(plan))
			for i, p := range plan {
				names := make([]string, len(p.Steps))
				for j, idx := range p.Steps {
					names[j] = wf.Steps[idx].DisplayName(idx)
				}
				reports := ""
				if p.Reports {
					reports = "yes"
				}
				rows[i] = []string{strconv.Itoa(i), p.Job.Name(), strings.Join(names, ", "), reports}
				data[i] = planJSON{Key: p.Job.Key(), Matrix: p.Job.Map(), Steps: names, Reports: p.Reports}
			}

			out.Print(headers, rows, data)
			return nil
		},
	}
}

// NewValidateCmd создаёт команду проверки workflow-файлов.
func NewValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate workflow files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			var failed int
			for _, path := range args {
				wf, err := engine.LoadWorkflow(path)
				if err != nil {
					out.Error(err.Error())
					failed++
					continue
				}
				out.Success(fmt.Sprintf("%s: ok (%s, %d jobs)", path, wf.Name, engine.MatrixSize(wf.Strategy.Matrix)))
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d workflow(s) invalid", failed, len(args))
			}
			return nil
		},
	}
}
