package postgres

import (
	"context"
	"fmt"

	"github.com/framelift/framelift/internal/domain/entity"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RunRepository struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// Upsert writes the run keyed on (source_key, stage). Upserting rather than
// inserting keeps redeliveries of the same event on a single ledger row.
func (r *RunRepository) Upsert(ctx context.Context, run *entity.PipelineRun) error {
	query := `
		INSERT INTO pipeline_runs (
			id, source_key, stage, status, attempt, max_attempts,
			frame_count, archive_key, error_message,
			created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (source_key, stage) DO UPDATE SET
			status=EXCLUDED.status, attempt=EXCLUDED.attempt,
			frame_count=EXCLUDED.frame_count, archive_key=EXCLUDED.archive_key,
			error_message=EXCLUDED.error_message,
			updated_at=EXCLUDED.updated_at, completed_at=EXCLUDED.completed_at`

	_, err := r.pool.Exec(ctx, query,
		run.ID, run.SourceKey, string(run.Stage), string(run.Status),
		run.Attempt, run.MaxAttempts, run.FrameCount, run.ArchiveKey,
		run.ErrorMessage, run.CreatedAt, run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pipeline run: %w", err)
	}
	return nil
}

func (r *RunRepository) FindBySource(ctx context.Context, sourceKey string, stage entity.Stage) (*entity.PipelineRun, error) {
	query := `
		SELECT id, source_key, stage, status, attempt, max_attempts,
			frame_count, archive_key, error_message,
			created_at, updated_at, completed_at
		FROM pipeline_runs WHERE source_key=$1 AND stage=$2`

	run := &entity.PipelineRun{}
	var stageStr, status string
	err := r.pool.QueryRow(ctx, query, sourceKey, string(stage)).Scan(
		&run.ID, &run.SourceKey, &stageStr, &status,
		&run.Attempt, &run.MaxAttempts, &run.FrameCount, &run.ArchiveKey,
		&run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("find pipeline run: %w", err)
	}
	run.Stage = entity.Stage(stageStr)
	run.Status = entity.RunStatus(status)
	return run, nil
}
