package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
	consumerPrefetch    = 10
)

// RunStore — хранилище runs, нужное Orchestrator (реализуется repo.RunRepo).
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error
	ListPending(ctx context.Context, limit int) ([]domain.Run, error)
}

// CompletionPublisher публикует итог run (реализуется mq.Publisher).
type CompletionPublisher interface {
	PublishRunCompleted(ctx context.Context, payload mq.RunCompletedPayload) error
}

// Orchestrator управляет выполнением runs.
//
// Orchestrator — сервис, который:
//   - Получает новые runs из очереди RabbitMQ (реализует mq.RunHandler)
//   - Периодически проверяет pending runs в БД (polling fallback)
//   - Выполняет каждый run через Coordinator в отдельной горутине
//   - Отменяет активные runs по запросу из runs.cancel
//   - Сохраняет итог run и публикует run.completed
type Orchestrator struct {
	runs        RunStore
	publisher   CompletionPublisher
	conn        *mq.Connection
	coordinator *Coordinator

	// Active runs — runs в процессе выполнения (runID → state)
	activeRuns map[uuid.UUID]*activeRun
	mu         sync.RWMutex

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	runCtx     context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

var _ mq.RunHandler = (*Orchestrator)(nil)

// activeRun — run, выполняющийся в этом процессе.
type activeRun struct {
	state  *RunState
	cancel context.CancelFunc
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Runs — хранилище runs.
	Runs RunStore

	// Publisher — публикация run.completed (опционально).
	Publisher CompletionPublisher

	// Conn — соединение с RabbitMQ. Если nil — работает только polling.
	Conn *mq.Connection

	// Coordinator — исполнитель runs.
	Coordinator *Coordinator

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 100)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	coordinator := cfg.Coordinator
	if coordinator == nil {
		coordinator = NewCoordinator(CoordinatorConfig{Logger: logger})
	}

	return &Orchestrator{
		runs:         cfg.Runs,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		coordinator:  coordinator,
		activeRuns:   make(map[uuid.UUID]*activeRun),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для runs.pending
//   - Consumer для runs.cancel
//   - Polling горутину для fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.runCtx = ctx
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
	)

	if o.conn != nil {
		for _, queue := range []mq.Queue{mq.QueueRunsPending, mq.QueueRunsCancel} {
			consumer := mq.NewRunConsumer(o.conn, queue, o, consumerPrefetch, o.logger)
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					o.logger.Error("consumer error", "queue", queue, "error", err)
				}
			}()
		}
	}

	// Запускаем polling
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
// Активные runs отменяются и завершаются со статусом CANCELLED.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...", "active_runs", o.ActiveRunsCount())

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	// Ждём завершения горутин, включая выполняющиеся runs
	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (o *Orchestrator) poll(ctx context.Context) {
	runs, err := o.runs.ListPending(ctx, o.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Error("failed to list pending runs", "error", err)
		}
		return
	}

	if len(runs) == 0 {
		return
	}

	o.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		run := &runs[i]

		if o.isRunActive(run.ID) {
			continue
		}

		if err := o.processRun(ctx, run.ID); err != nil {
			if errors.Is(err, ErrRunNotPending) || errors.Is(err, ErrRunAlreadyActive) {
				continue
			}
			o.logger.Error("failed to process run from poll",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
}

// isRunActive проверяет, находится ли run в обработке.
func (o *Orchestrator) isRunActive(runID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeRuns[runID]
	return exists
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(runID uuid.UUID, active *activeRun) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[runID]; exists {
		return ErrRunAlreadyActive
	}

	o.activeRuns[runID] = active
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// cancelActiveRun отменяет run, если он выполняется в этом процессе.
func (o *Orchestrator) cancelActiveRun(runID uuid.UUID) bool {
	o.mu.RLock()
	active, exists := o.activeRuns[runID]
	o.mu.RUnlock()

	if !exists {
		return false
	}
	active.cancel()
	return true
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// GetActiveRunStats возвращает статистику по активному run.
func (o *Orchestrator) GetActiveRunStats(runID uuid.UUID) (RunStats, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	active, exists := o.activeRuns[runID]
	if !exists {
		return RunStats{}, false
	}

	return active.state.Stats(), true
}
