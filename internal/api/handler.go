package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/repo"
)

// RunStore — операции над runs, нужные API (реализуется repo.RunRepo).
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// JobStore — чтение результатов job'ов (реализуется repo.JobRepo).
type JobStore interface {
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.JobResult, error)
}

// Publisher — публикация событий runs (реализуется mq.Publisher).
type Publisher interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID, workflow string) error
	PublishRunCancel(ctx context.Context, runID uuid.UUID) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	catalog   *engine.Catalog
	runs      RunStore
	jobs      JobStore
	publisher Publisher
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Catalog   *engine.Catalog
	Runs      RunStore
	Jobs      JobStore
	Publisher Publisher
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	catalog := cfg.Catalog
	if catalog == nil {
		catalog, _ = engine.NewCatalog()
	}

	return &Handler{
		catalog:   catalog,
		runs:      cfg.Runs,
		jobs:      cfg.Jobs,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}
