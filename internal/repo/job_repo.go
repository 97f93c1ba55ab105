package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// JobRepo — репозиторий результатов job'ов.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// Save сохраняет результат job'а (upsert по run_id + job_key).
func (r *JobRepo) Save(ctx context.Context, runID uuid.UUID, res *domain.JobResult) error {
	specJSON, err := json.Marshal(res.Job)
	if err != nil {
		return fmt.Errorf("marshal job spec: %w", err)
	}
	stepsJSON, err := json.Marshal(res.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	artifactsJSON, err := json.Marshal(res.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	query := `
		INSERT INTO jobs (run_id, job_key, spec, status, failed_step, exit_code, steps,
		                  artifacts, workspace, started_at, finished_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id, job_key) DO UPDATE
		SET status = EXCLUDED.status,
		    failed_step = EXCLUDED.failed_step,
		    exit_code = EXCLUDED.exit_code,
		    steps = EXCLUDED.steps,
		    artifacts = EXCLUDED.artifacts,
		    workspace = EXCLUDED.workspace,
		    started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at,
		    error = EXCLUDED.error
	`
	_, err = r.pool.Exec(ctx, query,
		runID,
		res.Job.Key(),
		specJSON,
		res.Status,
		res.FailedStep,
		res.ExitCode,
		stepsJSON,
		artifactsJSON,
		nullString(res.Workspace),
		res.StartedAt,
		res.FinishedAt,
		nullString(res.Error),
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// ListByRunID возвращает результаты всех job'ов run.
func (r *JobRepo) ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.JobResult, error) {
	query := `
		SELECT spec, status, failed_step, exit_code, steps, artifacts, workspace,
		       started_at, finished_at, error
		FROM jobs
		WHERE run_id = $1
		ORDER BY job_key ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.JobResult
	for rows.Next() {
		var res domain.JobResult
		var specJSON, stepsJSON, artifactsJSON []byte
		var workspace, jobError *string

		if err := rows.Scan(
			&specJSON,
			&res.Status,
			&res.FailedStep,
			&res.ExitCode,
			&stepsJSON,
			&artifactsJSON,
			&workspace,
			&res.StartedAt,
			&res.FinishedAt,
			&jobError,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}

		if err := json.Unmarshal(specJSON, &res.Job); err != nil {
			return nil, fmt.Errorf("unmarshal job spec: %w", err)
		}
		if stepsJSON != nil {
			if err := json.Unmarshal(stepsJSON, &res.Steps); err != nil {
				return nil, fmt.Errorf("unmarshal steps: %w", err)
			}
		}
		if artifactsJSON != nil {
			if err := json.Unmarshal(artifactsJSON, &res.Artifacts); err != nil {
				return nil, fmt.Errorf("unmarshal artifacts: %w", err)
			}
		}
		res.Workspace = deref(workspace)
		res.Error = deref(jobError)

		jobs = append(jobs, res)
	}
	return jobs, rows.Err()
}
