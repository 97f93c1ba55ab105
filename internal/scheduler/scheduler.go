package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/repo"
)

// RunStore — операции над runs, нужные Scheduler (реализуется repo.RunRepo).
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
}

// Publisher публикует run.pending (реализуется mq.Publisher).
type Publisher interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID, workflow string) error
}

// Scheduler — планировщик, запускающий workflows по cron.
//
// Расписания берутся из on.schedule каталога. Время следующего
// срабатывания хранится в памяти; от повторов при рестарте или
// нескольких экземплярах защищает ключ идемпотентности run'а.
type Scheduler struct {
	runs      RunStore
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	entries []*entry
}

// entry — одно cron-расписание одного workflow.
type entry struct {
	workflow *domain.Workflow
	expr     string
	schedule cron.Schedule
	nextDue  time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Catalog   *engine.Catalog
	Runs      RunStore
	Publisher Publisher // опционально
	Logger    *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт Scheduler и вычисляет первое срабатывание каждого расписания.
func New(cfg Config) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Scheduler{
		runs:      cfg.Runs,
		publisher: cfg.Publisher,
		logger:    logger,
		now:       now,
	}

	if cfg.Catalog == nil {
		return s, nil
	}

	start := now()
	for _, wf := range cfg.Catalog.ForEvent(domain.EventSchedule, "") {
		for _, trigger := range wf.On.Schedule {
			schedule, err := ParseCron(trigger.Cron)
			if err != nil {
				return nil, fmt.Errorf("workflow %s: %w", wf.Name, err)
			}
			s.entries = append(s.entries, &entry{
				workflow: wf,
				expr:     trigger.Cron,
				schedule: schedule,
				nextDue:  schedule.Next(start).UTC(),
			})
		}
	}

	return s, nil
}

// Len возвращает количество расписаний.
func (s *Scheduler) Len() int {
	return len(s.entries)
}

// NextDue возвращает ближайшее срабатывание по каждому workflow.
func (s *Scheduler) NextDue() map[string]time.Time {
	out := make(map[string]time.Time, len(s.entries))
	for _, e := range s.entries {
		if cur, ok := out[e.workflow.Name]; !ok || e.nextDue.Before(cur) {
			out[e.workflow.Name] = e.nextDue
		}
	}
	return out
}

// Tick выполняет один тик планировщика.
//
// 1. Находит расписания с next_due <= now
// 2. Для каждого создаёт run с ключом "{workflow}_{due_unix}"
// 3. Публикует run.pending в RabbitMQ
// 4. Сдвигает next_due
//
// Ошибки одного расписания не блокируют обработку остальных.
// Пропущенные за время простоя срабатывания не догоняются: запускается
// одно, следующее считается от текущего времени.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	var due []*entry
	for _, e := range s.entries {
		if !e.nextDue.After(now) {
			due = append(due, e)
		}
	}

	if len(due) == 0 {
		return nil
	}

	// Стабильный порядок: по времени, затем по имени
	sort.SliceStable(due, func(i, j int) bool {
		if !due[i].nextDue.Equal(due[j].nextDue) {
			return due[i].nextDue.Before(due[j].nextDue)
		}
		return due[i].workflow.Name < due[j].workflow.Name
	})

	s.logger.Debug("found due schedules", "count", len(due))

	var processed, created int
	var errs []error
	for _, e := range due {
		runCreated, err := s.fire(ctx, e, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"workflow", e.workflow.Name,
				"cron", e.expr,
				"error", err,
			)
			errs = append(errs, err)
			// Продолжаем обработку остальных
			continue
		}

		processed++
		if runCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(due),
		"processed", processed,
		"runs_created", created,
	)

	return errors.Join(errs...)
}

// fire создаёт run для одного срабатывания.
// Возвращает true, если run был создан (не был дубликатом).
func (s *Scheduler) fire(ctx context.Context, e *entry, now time.Time) (bool, error) {
	// Ключ гарантирует один run на workflow и время срабатывания
	idempKey := fmt.Sprintf("%s_%d", e.workflow.Name, e.nextDue.Unix())

	run := domain.NewRun(*e.workflow, domain.EventSchedule, "", "")
	run.IdempotencyKey = idempKey

	runCreated := true
	if err := s.runs.Create(ctx, run); err != nil {
		if !errors.Is(err, repo.ErrAlreadyExists) {
			// next_due не сдвигаем: повторим на следующем тике
			return false, fmt.Errorf("create run: %w", err)
		}
		s.logger.Debug("run already exists (idempotency)",
			"workflow", e.workflow.Name,
			"idempotency_key", idempKey,
		)
		runCreated = false
	}

	e.nextDue = e.schedule.Next(now).UTC()

	if !runCreated {
		return false, nil
	}

	s.logger.Info("created run from schedule",
		"run_id", run.ID,
		"workflow", e.workflow.Name,
		"cron", e.expr,
		"next_due", e.nextDue,
	)

	if s.publisher != nil {
		if err := s.publisher.PublishRunPending(ctx, run.ID, e.workflow.Name); err != nil {
			// Не фатальная ошибка — run уже создан в БД
			// Orchestrator может забрать его через polling
			s.logger.Warn("failed to publish run.pending",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	return true, nil
}

// Run вызывает Tick с интервалом, пока процесс остаётся лидером.
// Если locker nil, процесс считается единственным экземпляром.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, locker Locker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if locker != nil {
		defer locker.Release(context.WithoutCancel(ctx))
	}

	var leader bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if locker != nil {
			ok, err := locker.TryAcquire(ctx)
			if err != nil {
				s.logger.Warn("leader lock failed", "error", err)
				continue
			}
			if ok != leader {
				s.logger.Info("leadership changed", "leader", ok)
				leader = ok
			}
			if !ok {
				// не лидер — пропускаем тик
				continue
			}
		}

		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
	}
}
