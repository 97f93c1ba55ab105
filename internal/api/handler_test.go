package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/repo"
)

type memRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]domain.Run
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[uuid.UUID]domain.Run)}
}

func (m *memRuns) Create(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.runs {
		if run.IdempotencyKey != "" && r.IdempotencyKey == run.IdempotencyKey {
			return repo.ErrAlreadyExists
		}
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &run, nil
}

func (m *memRuns) GetByIdempotencyKey(_ context.Context, key string) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.runs {
		if r.IdempotencyKey == key {
			return &r, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memRuns) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Run
	for _, r := range m.runs {
		if filter.Workflow != "" && r.Workflow.Name != filter.Workflow {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type memJobs struct {
	jobs map[uuid.UUID][]domain.JobResult
}

func (m *memJobs) ListByRunID(_ context.Context, runID uuid.UUID) ([]domain.JobResult, error) {
	return m.jobs[runID], nil
}

type memPublisher struct {
	mu        sync.Mutex
	pending   []uuid.UUID
	cancelled []uuid.UUID
}

func (p *memPublisher) PublishRunPending(_ context.Context, runID uuid.UUID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, runID)
	return nil
}

func (p *memPublisher) PublishRunCancel(_ context.Context, runID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, runID)
	return nil
}

func testWorkflows() []*domain.Workflow {
	return []*domain.Workflow{
		{
			Name: "test-examples",
			On: domain.Triggers{
				PullRequest:      &domain.PullRequestTrigger{Types: []string{"opened", "synchronize"}},
				WorkflowDispatch: &domain.DispatchTrigger{},
			},
			Strategy: domain.Strategy{Matrix: domain.Matrix{
				{Name: "os", Values: []string{"macos", "ubuntu", "windows"}},
				{Name: "python-version", Values: []string{"3.8", "3.9", "3.10", "3.11"}},
			}},
			Steps: []domain.Step{
				{Name: "test", Run: "pytest"},
				{Name: "coverage", If: "matrix.os == 'ubuntu' && matrix.python-version == '3.11'", Run: "coverage xml"},
			},
		},
		{
			Name:  "nightly",
			On:    domain.Triggers{Schedule: []domain.ScheduleTrigger{{Cron: "0 3 * * *"}}},
			Steps: []domain.Step{{Name: "build", Run: "make"}},
		},
	}
}

type testServer struct {
	runs      *memRuns
	jobs      *memJobs
	publisher *memPublisher
	mux       *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	catalog, err := engine.NewCatalog(testWorkflows()...)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	s := &testServer{
		runs:      newMemRuns(),
		jobs:      &memJobs{jobs: make(map[uuid.UUID][]domain.JobResult)},
		publisher: &memPublisher{},
		mux:       http.NewServeMux(),
	}

	h := NewHandler(Config{
		Catalog:   catalog,
		Runs:      s.runs,
		Jobs:      s.jobs,
		Publisher: s.publisher,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.RegisterRoutes(s.mux)

	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeList[T any](t *testing.T, rec *httptest.ResponseRecorder) []T {
	t.Helper()

	var resp struct {
		Data []T `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Data
}

func TestTriggerEvent_PullRequestCreatesRun(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/events", TriggerEventRequest{
		Event:  domain.EventPullRequest,
		Action: "opened",
		Ref:    "refs/pull/7/head",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("response should carry X-Request-ID")
	}

	runs := decodeList[RunResponse](t, rec)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.Workflow != "test-examples" || run.Status != domain.RunStatusPending || run.Jobs != 12 {
		t.Errorf("unexpected run: %+v", run)
	}
	if len(s.publisher.pending) != 1 || s.publisher.pending[0] != run.ID {
		t.Errorf("run.pending not published: %v", s.publisher.pending)
	}
}

func TestTriggerEvent_UnmatchedAction(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/events", TriggerEventRequest{
		Event:  domain.EventPullRequest,
		Action: "closed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if runs := decodeList[RunResponse](t, rec); len(runs) != 0 {
		t.Errorf("closed PR should not trigger runs, got %d", len(runs))
	}
}

func TestTriggerEvent_Idempotent(t *testing.T) {
	s := newTestServer(t)

	req := TriggerEventRequest{Event: domain.EventWorkflowDispatch, IdempotencyKey: "abc"}

	first := decodeList[RunResponse](t, s.do(t, http.MethodPost, "/api/v1/events", req))
	rec := s.do(t, http.MethodPost, "/api/v1/events", req)
	if rec.Code != http.StatusOK {
		t.Errorf("repeat should return 200, got %d", rec.Code)
	}
	second := decodeList[RunResponse](t, rec)

	if len(first) != 1 || len(second) != 1 || first[0].ID != second[0].ID {
		t.Fatalf("repeat event must return the same run: %v / %v", first, second)
	}
	if first[0].IdempotencyKey != "test-examples_abc" {
		t.Errorf("idempotency key = %q", first[0].IdempotencyKey)
	}
	if len(s.publisher.pending) != 1 {
		t.Errorf("run.pending published %d times", len(s.publisher.pending))
	}
}

func TestTriggerEvent_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		req  TriggerEventRequest
		code int
	}{
		{"schedule rejected", TriggerEventRequest{Event: domain.EventSchedule}, http.StatusBadRequest},
		{"unknown event", TriggerEventRequest{Event: "push"}, http.StatusBadRequest},
		{"unknown workflow", TriggerEventRequest{Event: domain.EventWorkflowDispatch, Workflow: "nope"}, http.StatusNotFound},
		{"workflow not subscribed", TriggerEventRequest{Event: domain.EventWorkflowDispatch, Workflow: "nightly"}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := s.do(t, http.MethodPost, "/api/v1/events", tt.req); rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}

func TestWorkflowMatrix(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/workflows/test-examples/matrix", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	jobs := decodeList[MatrixJobResponse](t, rec)
	if len(jobs) != 12 {
		t.Fatalf("expected 12 jobs, got %d", len(jobs))
	}

	withCoverage := 0
	for _, j := range jobs {
		if len(j.Steps) == 2 {
			withCoverage++
			if j.Matrix["os"] != "ubuntu" || j.Matrix["python-version"] != "3.11" {
				t.Errorf("coverage selected on wrong job: %v", j.Matrix)
			}
		}
	}
	if withCoverage != 1 {
		t.Errorf("coverage should run on exactly one job, got %d", withCoverage)
	}

	if rec := s.do(t, http.MethodGet, "/api/v1/workflows/missing/matrix", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing workflow: status = %d", rec.Code)
	}
}

func TestListWorkflows(t *testing.T) {
	s := newTestServer(t)

	workflows := decodeList[WorkflowResponse](t, s.do(t, http.MethodGet, "/api/v1/workflows", nil))
	if len(workflows) != 2 {
		t.Fatalf("expected 2 workflows, got %d", len(workflows))
	}
}

func TestRunJobs(t *testing.T) {
	s := newTestServer(t)

	run := domain.NewRun(*testWorkflows()[0], domain.EventWorkflowDispatch, "", "")
	if err := s.runs.Create(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	res := domain.NewJobResult(domain.NewJobSpec([]domain.AxisValue{{Axis: "os", Value: "ubuntu"}}))
	res.MarkRunning()
	res.MarkFailed(1, 2, "exit status 2")
	s.jobs.jobs[run.ID] = []domain.JobResult{*res}

	rec := s.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	jobs := decodeList[JobResponse](t, rec)
	if len(jobs) != 1 || jobs[0].Status != domain.JobStatusFailed || jobs[0].FailedStep != 1 || jobs[0].ExitCode != 2 {
		t.Errorf("unexpected jobs: %+v", jobs)
	}

	if rec := s.do(t, http.MethodGet, "/api/v1/runs/"+uuid.NewString()+"/jobs", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown run: status = %d", rec.Code)
	}
}

func TestCancelRun(t *testing.T) {
	s := newTestServer(t)

	active := domain.NewRun(*testWorkflows()[0], domain.EventWorkflowDispatch, "", "")
	finished := domain.NewRun(*testWorkflows()[0], domain.EventWorkflowDispatch, "", "")
	finished.MarkSucceeded()
	for _, r := range []*domain.Run{active, finished} {
		if err := s.runs.Create(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}

	if rec := s.do(t, http.MethodPost, "/api/v1/runs/"+active.ID.String()+"/cancel", nil); rec.Code != http.StatusAccepted {
		t.Errorf("active run: status = %d", rec.Code)
	}
	if len(s.publisher.cancelled) != 1 || s.publisher.cancelled[0] != active.ID {
		t.Errorf("run.cancel not published: %v", s.publisher.cancelled)
	}

	if rec := s.do(t, http.MethodPost, "/api/v1/runs/"+finished.ID.String()+"/cancel", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("finished run: status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/runs/not-a-uuid/cancel", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid id: status = %d", rec.Code)
	}
}

func TestListRuns_Filters(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(t, http.MethodGet, "/api/v1/runs?status=BOGUS", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/runs?limit=-1", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/runs?workflow=test-examples&status=PENDING", nil); rec.Code != http.StatusOK {
		t.Errorf("valid filter: %d", rec.Code)
	}
}

func TestRecovery(t *testing.T) {
	handler := Chain(RequestID(), Recovery(slog.New(slog.NewTextHandler(io.Discard, nil))))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestWriteError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody ErrorCode
		wantMsg  string
	}{
		{"run not found", fmt.Errorf("get run: %w", repo.ErrNotFound), http.StatusNotFound, ErrCodeNotFound, "run not found"},
		{"workflow not found", engine.ErrWorkflowNotFound, http.StatusNotFound, ErrCodeNotFound, "run not found"},
		{"duplicate", repo.ErrAlreadyExists, http.StatusConflict, ErrCodeConflict, repo.ErrAlreadyExists.Error()},
		{"invalid state", repo.ErrInvalidState, http.StatusUnprocessableEntity, ErrCodeInvalidState, repo.ErrInvalidState.Error()},
		{"other", errors.New("connection refused"), http.StatusInternalServerError, ErrCodeInternalError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			if !WriteError(rec, logger, tt.err, "run not found") {
				t.Fatal("expected error to be written")
			}
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != tt.wantBody || resp.Error.Message != tt.wantMsg {
				t.Errorf("error = %+v", resp.Error)
			}
		})
	}

	if WriteError(httptest.NewRecorder(), logger, nil, "") {
		t.Error("nil error must not be written")
	}
}
