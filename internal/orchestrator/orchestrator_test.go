package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/runner"
)

// memRunStore хранит копии runs в памяти.
type memRunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]domain.Run
}

func newMemRunStore(runs ...*domain.Run) *memRunStore {
	s := &memRunStore{runs: make(map[uuid.UUID]domain.Run)}
	for _, r := range runs {
		s.runs[r.ID] = *r
	}
	return s
}

func (s *memRunStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &run, nil
}

func (s *memRunStore) Update(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return repo.ErrNotFound
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *memRunStore) ListPending(_ context.Context, limit int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Run
	for _, run := range s.runs {
		if run.Status == domain.RunStatusPending && len(out) < limit {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *memRunStore) Status(id uuid.UUID) domain.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id].Status
}

type memPublisher struct {
	completed chan mq.RunCompletedPayload
}

func (p *memPublisher) PublishRunCompleted(_ context.Context, payload mq.RunCompletedPayload) error {
	p.completed <- payload
	return nil
}

func newTestOrchestrator(t *testing.T, store RunStore, action runner.Action) (*Orchestrator, *memPublisher) {
	t.Helper()

	publisher := &memPublisher{completed: make(chan mq.RunCompletedPayload, 8)}
	o := New(Config{
		Runs:         store,
		Publisher:    publisher,
		Coordinator:  newTestCoordinator(t, action, nil, nil),
		PollInterval: 10 * time.Millisecond,
		Logger:       quietLogger(),
	})
	return o, publisher
}

func waitCompleted(t *testing.T, p *memPublisher) mq.RunCompletedPayload {
	t.Helper()

	select {
	case payload := <-p.completed:
		return payload
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run.completed")
		return mq.RunCompletedPayload{}
	}
}

// command кодирует сообщение так же, как Publisher.
func command(t *testing.T, msgType mq.MessageType, payload any) []byte {
	t.Helper()
	body, err := json.Marshal(mq.NewMessage(msgType, payload))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func cancelCommand(t *testing.T, runID uuid.UUID) []byte {
	return command(t, mq.MessageTypeRunCancel, mq.RunCancelPayload{RunID: runID})
}

func TestOrchestrator_PollsAndExecutesPendingRun(t *testing.T) {
	run := domain.NewRun(linearWorkflow(3), domain.EventWorkflowDispatch, "", "")
	store := newMemRunStore(run)

	o, publisher := newTestOrchestrator(t, store, newTestAction(nil))
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	payload := waitCompleted(t, publisher)

	if payload.RunID != run.ID || payload.Status != string(domain.RunStatusSucceeded) || payload.ExitCode != 0 {
		t.Errorf("unexpected completion: %+v", payload)
	}
	if got := store.Status(run.ID); got != domain.RunStatusSucceeded {
		t.Errorf("stored status = %s, want SUCCEEDED", got)
	}
}

func TestOrchestrator_FailedRunPersisted(t *testing.T) {
	run := domain.NewRun(linearWorkflow(2), domain.EventWorkflowDispatch, "", "")
	store := newMemRunStore(run)

	action := newTestAction(func(_ context.Context, _ *runner.StepRequest) (*runner.StepOutcome, error) {
		return &runner.StepOutcome{ExitCode: 2}, nil
	})

	o, publisher := newTestOrchestrator(t, store, action)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	payload := waitCompleted(t, publisher)
	if payload.Status != string(domain.RunStatusFailed) || payload.ExitCode != 1 {
		t.Errorf("unexpected completion: %+v", payload)
	}
}

func TestOrchestrator_CancelActiveRun(t *testing.T) {
	run := domain.NewRun(linearWorkflow(2), domain.EventWorkflowDispatch, "", "")
	run.Workflow.Strategy.MaxParallel = 1
	store := newMemRunStore(run)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	action := newTestAction(func(_ context.Context, req *runner.StepRequest) (*runner.StepOutcome, error) {
		if req.Name == "work" {
			once.Do(func() { close(started) })
			<-release
		}
		return &runner.StepOutcome{}, nil
	})

	o, publisher := newTestOrchestrator(t, store, action)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	<-started

	if stats, ok := o.GetActiveRunStats(run.ID); !ok || stats.Total != 2 {
		t.Errorf("active run stats = %+v, %v", stats, ok)
	}

	if err := mq.Dispatch(context.Background(), o, cancelCommand(t, run.ID)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(release)

	payload := waitCompleted(t, publisher)
	if payload.Status != string(domain.RunStatusCancelled) {
		t.Errorf("status = %s, want CANCELLED", payload.Status)
	}
	if got := store.Status(run.ID); got != domain.RunStatusCancelled {
		t.Errorf("stored status = %s", got)
	}
}

func TestOrchestrator_CancelPendingRun(t *testing.T) {
	run := domain.NewRun(linearWorkflow(1), domain.EventWorkflowDispatch, "", "")
	store := newMemRunStore(run)

	// Не запускаем: run остаётся PENDING
	o, publisher := newTestOrchestrator(t, store, newTestAction(nil))

	if err := mq.Dispatch(context.Background(), o, cancelCommand(t, run.ID)); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	payload := waitCompleted(t, publisher)
	if payload.Status != string(domain.RunStatusCancelled) || payload.ExitCode != 1 {
		t.Errorf("unexpected completion: %+v", payload)
	}
	if got := store.Status(run.ID); got != domain.RunStatusCancelled {
		t.Errorf("stored status = %s", got)
	}
}

func TestOrchestrator_CancelUnknownRun(t *testing.T) {
	o, _ := newTestOrchestrator(t, newMemRunStore(), newTestAction(nil))

	if err := mq.Dispatch(context.Background(), o, cancelCommand(t, uuid.New())); err != nil {
		t.Errorf("unknown run should be acknowledged, got %v", err)
	}
}

func TestOrchestrator_PendingForUnknownRunIsPermanent(t *testing.T) {
	o, _ := newTestOrchestrator(t, newMemRunStore(), newTestAction(nil))
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	body := command(t, mq.MessageTypeRunPending, mq.RunPendingPayload{RunID: uuid.New()})
	err := mq.Dispatch(context.Background(), o, body)
	if err == nil {
		t.Fatal("expected error for unknown run")
	}
	if !errors.Is(err, mq.ErrPermanent) {
		t.Errorf("unknown run must not be requeued: %v", err)
	}
}
