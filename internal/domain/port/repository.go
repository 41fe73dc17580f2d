package port

import (
	"context"

	"github.com/framelift/framelift/internal/domain/entity"
)

// RunRepository persists the per-(source key, stage) pipeline ledger.
type RunRepository interface {
	Upsert(ctx context.Context, run *entity.PipelineRun) error
	FindBySource(ctx context.Context, sourceKey string, stage entity.Stage) (*entity.PipelineRun, error)
}
