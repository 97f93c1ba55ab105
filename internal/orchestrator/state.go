package orchestrator

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// RunState — состояние выполнения одного run в памяти.
//
// RunState создаётся когда начинается выполнение run и удаляется когда
// run завершается. Хранит по одному JobResult на каждый job матрицы
// и следит, чтобы статусы job'ов менялись только допустимыми переходами.
type RunState struct {
	// Run — данные run.
	Run *domain.Run

	// order — ключи job'ов в порядке перечисления матрицы.
	order []string

	// jobs — результаты job'ов (key → result).
	jobs map[string]*domain.JobResult

	// started — job'ы, переданные исполнителю, но ещё не завершённые.
	started map[string]bool

	// mu — мьютекс для потокобезопасного доступа.
	mu sync.RWMutex
}

// NewRunState создаёт новый RunState.
func NewRunState(run *domain.Run) *RunState {
	return &RunState{
		Run:     run,
		jobs:    make(map[string]*domain.JobResult),
		started: make(map[string]bool),
	}
}

// RunID возвращает ID run'а.
func (s *RunState) RunID() uuid.UUID {
	return s.Run.ID
}

// Initialize заводит PENDING-результат для каждого job'а.
func (s *RunState) Initialize(specs []domain.JobSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = make([]string, 0, len(specs))
	s.jobs = make(map[string]*domain.JobResult, len(specs))
	s.started = make(map[string]bool)

	for _, spec := range specs {
		key := spec.Key()
		if _, exists := s.jobs[key]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, key)
		}
		s.order = append(s.order, key)
		s.jobs[key] = domain.NewJobResult(spec)
	}

	return nil
}

// MarkJobStarted помечает job как переданный исполнителю.
func (s *RunState) MarkJobStarted(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	if cur.Status != domain.JobStatusPending {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, key, cur.Status)
	}

	s.started[key] = true
	return nil
}

// Complete записывает финальный результат job'а.
//
// Допустимые пути: PENDING → SKIPPED и PENDING → RUNNING → {SUCCEEDED, FAILED}.
// Финальный статус изменить нельзя.
func (s *RunState) Complete(res *domain.JobResult) error {
	key := res.Job.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}

	from := cur.Status
	if from == domain.JobStatusPending && res.Status != domain.JobStatusSkipped {
		if !from.CanTransition(domain.JobStatusRunning) {
			return fmt.Errorf("%w: %s %s → %s", ErrInvalidTransition, key, from, domain.JobStatusRunning)
		}
		from = domain.JobStatusRunning
	}
	if !from.CanTransition(res.Status) {
		return fmt.Errorf("%w: %s %s → %s", ErrInvalidTransition, key, cur.Status, res.Status)
	}

	delete(s.started, key)
	s.jobs[key] = res
	return nil
}

// Job возвращает результат job'а по ключу.
func (s *RunState) Job(key string) (*domain.JobResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.jobs[key]
	return res, ok
}

// Results возвращает результаты в порядке перечисления матрицы.
func (s *RunState) Results() []*domain.JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*domain.JobResult, 0, len(s.order))
	for _, key := range s.order {
		results = append(results, s.jobs[key])
	}
	return results
}

// IsComplete проверяет, все ли job'ы в финальном статусе.
func (s *RunState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, res := range s.jobs {
		if !res.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// HasFailed проверяет, есть ли упавшие job'ы.
func (s *RunState) HasFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, res := range s.jobs {
		if res.Status == domain.JobStatusFailed {
			return true
		}
	}
	return false
}

// FailedJobs возвращает ключи упавших job'ов в порядке матрицы.
func (s *RunState) FailedJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for _, key := range s.order {
		if s.jobs[key].Status == domain.JobStatusFailed {
			keys = append(keys, key)
		}
	}
	return keys
}

// RunStats — статистика по run.
type RunStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Stats возвращает статистику по run.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{Total: len(s.order)}
	for key, res := range s.jobs {
		switch res.Status {
		case domain.JobStatusPending:
			if s.started[key] {
				stats.Running++
			} else {
				stats.Pending++
			}
		case domain.JobStatusRunning:
			stats.Running++
		case domain.JobStatusSucceeded:
			stats.Succeeded++
		case domain.JobStatusFailed:
			stats.Failed++
		case domain.JobStatusSkipped:
			stats.Skipped++
		}
	}
	return stats
}
