package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Reporter — Artifact Reporter.
type Reporter struct {
	collector Collector
	token     string
	getenv    func(string) string
	logger    *slog.Logger
}

// Config — конфигурация Reporter.
type Config struct {
	// Collector — collector по умолчанию. Если nil и задан URL —
	// создаётся HTTPCollector.
	Collector Collector

	// URL — адрес collector'а по умолчанию (COLLECTOR_URL).
	URL string

	// Token — токен по умолчанию (COLLECTOR_TOKEN).
	Token string

	// Getenv — источник переменных для report.token_env (default: os.Getenv).
	Getenv func(string) string

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Reporter.
func New(cfg Config) *Reporter {
	collector := cfg.Collector
	if collector == nil && cfg.URL != "" {
		collector = NewHTTPCollector(cfg.URL, cfg.Token)
	}

	getenv := cfg.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reporter{
		collector: collector,
		token:     cfg.Token,
		getenv:    getenv,
		logger:    logger,
	}
}

// Outcome — результат обработки одного подходящего job'а.
type Outcome struct {
	Job       string `json:"job"`
	Forwarded bool   `json:"forwarded"`
	Reason    string `json:"reason,omitempty"`
}

// Report — итог работы Reporter'а для run'а.
type Report struct {
	// Matched — сколько job'ов удовлетворили guard'у.
	Matched int `json:"matched"`

	// Outcomes — результат по каждому подходящему job'у.
	Outcomes []Outcome `json:"outcomes,omitempty"`

	// Err — ошибка отправки (в том числе проглоченная).
	Err error `json:"-"`
}

// Forwarded возвращает количество отправленных артефактов.
func (r *Report) Forwarded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Forwarded {
			n++
		}
	}
	return n
}

// Report выбирает job'ы по guard'у и отправляет их артефакт.
//
// Для каждого job'а, чей JobSpec удовлетворяет spec.If:
//   - job не SUCCEEDED — отправки нет, это не ошибка
//   - артефакт не собран — ErrArtifactMissing
//   - иначе артефакт отправляется в collector ровно один раз
//
// Ошибка возвращается только при spec.FailLoudly; без него она
// логируется и сохраняется в Report.Err.
func (r *Reporter) Report(ctx context.Context, run *domain.Run, spec *domain.ReportSpec, results []*domain.JobResult) (*Report, error) {
	rep := &Report{}
	if spec == nil {
		return rep, nil
	}

	logger := telemetry.WithRunID(r.logger, run.ID.String()).With("artifact", spec.Artifact)

	guard, err := engine.ParseGuard(spec.If)
	if err != nil {
		return rep, r.finish(logger, rep, spec, fmt.Errorf("report guard: %w", err))
	}

	var matched []*domain.JobResult
	for _, res := range results {
		if guard.Eval(res.Job) {
			matched = append(matched, res)
		}
	}
	rep.Matched = len(matched)

	switch {
	case len(matched) == 0:
		logger.Info("no job matches report condition")
		telemetry.ReportsTotal.WithLabelValues("no_match").Inc()
		return rep, nil
	case len(matched) > 1:
		logger.Warn("report condition matches several jobs, all will be processed", "matched", len(matched))
	}

	var errs []error
	for _, res := range matched {
		outcome, err := r.forward(ctx, logger, run, spec, res)
		rep.Outcomes = append(rep.Outcomes, outcome)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return rep, r.finish(logger, rep, spec, errors.Join(errs...))
}

// forward обрабатывает один подходящий job.
func (r *Reporter) forward(
	ctx context.Context,
	logger *slog.Logger,
	run *domain.Run,
	spec *domain.ReportSpec,
	res *domain.JobResult,
) (Outcome, error) {
	key := res.Job.Key()
	logger = telemetry.WithJob(logger, key)
	outcome := Outcome{Job: key}

	if !res.Succeeded() {
		outcome.Reason = "job " + string(res.Status)
		logger.Info("report skipped, job did not succeed", "status", res.Status)
		telemetry.ReportsTotal.WithLabelValues("skipped").Inc()
		return outcome, nil
	}

	path, ok := res.Artifacts[spec.Artifact]
	if !ok {
		outcome.Reason = "artifact not captured"
		telemetry.ReportsTotal.WithLabelValues("failed").Inc()
		return outcome, fmt.Errorf("job %s: %w: %s", key, ErrArtifactMissing, spec.Artifact)
	}

	collector, err := r.collectorFor(spec)
	if err != nil {
		outcome.Reason = err.Error()
		telemetry.ReportsTotal.WithLabelValues("failed").Inc()
		return outcome, err
	}

	f, err := os.Open(path)
	if err != nil {
		outcome.Reason = "artifact unreadable"
		telemetry.ReportsTotal.WithLabelValues("failed").Inc()
		return outcome, fmt.Errorf("job %s: %w: %v", key, ErrArtifactMissing, err)
	}
	defer f.Close()

	err = collector.Upload(ctx, &Upload{
		RunID:    run.ID.String(),
		Workflow: run.Workflow.Name,
		Job:      key,
		Name:     spec.Artifact,
		Flags:    spec.Flags,
		Filename: path,
		Body:     f,
	})
	if err != nil {
		outcome.Reason = err.Error()
		telemetry.ReportsTotal.WithLabelValues("failed").Inc()
		return outcome, fmt.Errorf("job %s: %w", key, err)
	}

	outcome.Forwarded = true
	telemetry.ReportsTotal.WithLabelValues("forwarded").Inc()
	logger.Info("artifact forwarded", "path", path)

	return outcome, nil
}

// collectorFor выбирает collector: report.url из workflow важнее
// адреса из конфигурации сервиса.
func (r *Reporter) collectorFor(spec *domain.ReportSpec) (Collector, error) {
	token := r.token
	if spec.TokenEnv != "" {
		token = r.getenv(spec.TokenEnv)
	}

	if spec.URL != "" {
		return NewHTTPCollector(spec.URL, token), nil
	}

	if r.collector == nil {
		return nil, ErrNoCollector
	}

	if hc, ok := r.collector.(*HTTPCollector); ok && spec.TokenEnv != "" {
		return NewHTTPCollector(hc.url, token), nil
	}

	return r.collector, nil
}

// finish применяет политику fail_loudly к ошибке отправки.
func (r *Reporter) finish(logger *slog.Logger, rep *Report, spec *domain.ReportSpec, err error) error {
	if err == nil {
		return nil
	}

	rep.Err = err

	if spec.FailLoudly {
		logger.Error("report failed", "error", err)
		return err
	}

	logger.Warn("report failed, ignoring", "error", err)
	return nil
}
