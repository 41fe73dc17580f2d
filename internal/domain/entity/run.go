package entity

import (
	"time"

	"github.com/google/uuid"
)

// Stage identifies which half of the pipeline a run belongs to.
type Stage string

const (
	StageExtraction  Stage = "extraction"
	StageCompression Stage = "compression"
)

type RunStatus string

const (
	RunStatusPending      RunStatus = "PENDING"
	RunStatusProcessing   RunStatus = "PROCESSING"
	RunStatusCompleted    RunStatus = "COMPLETED"
	RunStatusFailed       RunStatus = "FAILED"
	RunStatusDeadLettered RunStatus = "DEAD_LETTERED"
)

// PipelineRun is the persistent ledger entry for one (source key, stage)
// pair. It backs the idempotency short-circuit on redelivery and keeps the
// forensic trail for dead-lettered events.
type PipelineRun struct {
	ID           uuid.UUID
	SourceKey    string
	Stage        Stage
	Status       RunStatus
	Attempt      int
	MaxAttempts  int
	FrameCount   int
	ArchiveKey   string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

func NewPipelineRun(sourceKey string, stage Stage, maxAttempts int) *PipelineRun {
	now := time.Now().UTC()
	return &PipelineRun{
		ID:          uuid.New(),
		SourceKey:   sourceKey,
		Stage:       stage,
		Status:      RunStatusPending,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *PipelineRun) MarkProcessing(attempt int) {
	r.Status = RunStatusProcessing
	r.Attempt = attempt
	r.UpdatedAt = time.Now().UTC()
}

func (r *PipelineRun) MarkCompleted(frameCount int, archiveKey string) {
	now := time.Now().UTC()
	r.Status = RunStatusCompleted
	r.FrameCount = frameCount
	r.ArchiveKey = archiveKey
	r.ErrorMessage = ""
	r.UpdatedAt = now
	r.CompletedAt = &now
}

func (r *PipelineRun) MarkFailed(errMsg string) {
	r.Status = RunStatusFailed
	r.ErrorMessage = errMsg
	r.UpdatedAt = time.Now().UTC()
}

func (r *PipelineRun) MarkDeadLettered(errMsg string) {
	r.Status = RunStatusDeadLettered
	r.ErrorMessage = errMsg
	r.UpdatedAt = time.Now().UTC()
}

// Completed reports whether this run already reached its success terminal
// state. Redeliveries of a completed run are no-ops apart from re-emitting
// the notification.
func (r *PipelineRun) Completed() bool {
	return r.Status == RunStatusCompleted
}
