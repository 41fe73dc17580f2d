package usecase

import (
	"context"
	"testing"

	"github.com/framelift/framelift/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name        string
		kind        entity.FailureKind
		attempt     int
		maxAttempts int
		want        Action
	}{
		{"permanent on first attempt", entity.FailurePermanent, 1, 3, ActionDeadLetter},
		{"permanent with attempts left", entity.FailurePermanent, 1, 100, ActionDeadLetter},
		{"transient with attempts left", entity.FailureTransient, 1, 3, ActionRetry},
		{"transient on second-to-last attempt", entity.FailureTransient, 2, 3, ActionRetry},
		{"transient exhausted", entity.FailureTransient, 3, 3, ActionDeadLetter},
		{"transient past exhaustion", entity.FailureTransient, 4, 3, ActionDeadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.kind, tt.attempt, tt.maxAttempts))
		})
	}
}

func TestRetrierSchedulesTransient(t *testing.T) {
	retries := &captureRetries{}
	dlq := &captureDeadLetters{}
	r := NewRetrier(retries, dlq, nil, 3, zap.NewNop())

	env, err := entity.WrapUploadEvent(entity.UploadEvent{ObjectKey: "clip.mp4"})
	require.NoError(t, err)

	action, err := r.HandleFailure(context.Background(), env, entity.StageExtraction, entity.Transientf("download", "store unavailable"))
	require.NoError(t, err)

	assert.Equal(t, ActionRetry, action)
	require.Len(t, retries.scheduled, 1)
	assert.Equal(t, 2, retries.scheduled[0].Attempt)
	assert.Empty(t, dlq.parked)
}

func TestRetrierDeadLettersPermanent(t *testing.T) {
	retries := &captureRetries{}
	dlq := &captureDeadLetters{}
	r := NewRetrier(retries, dlq, nil, 3, zap.NewNop())

	env, err := entity.WrapUploadEvent(entity.UploadEvent{ObjectKey: "clip.txt"})
	require.NoError(t, err)

	action, err := r.HandleFailure(context.Background(), env, entity.StageExtraction, entity.Permanentf("validate", "unsupported format"))
	require.NoError(t, err)

	assert.Equal(t, ActionDeadLetter, action)
	assert.Empty(t, retries.scheduled, "permanent failures never retry")
	require.Len(t, dlq.parked, 1)
	assert.Contains(t, dlq.reasons[0], "unsupported format")
}

func TestRetrierDeadLettersExhausted(t *testing.T) {
	retries := &captureRetries{}
	dlq := &captureDeadLetters{}
	r := NewRetrier(retries, dlq, nil, 2, zap.NewNop())

	env, err := entity.WrapUploadEvent(entity.UploadEvent{ObjectKey: "clip.mp4"})
	require.NoError(t, err)
	env = env.Next() // attempt 2 of 2

	action, err := r.HandleFailure(context.Background(), env, entity.StageExtraction, entity.Transientf("decode", "still failing"))
	require.NoError(t, err)

	assert.Equal(t, ActionDeadLetter, action)
	assert.Empty(t, retries.scheduled)
	require.Len(t, dlq.parked, 1)
	assert.Equal(t, 2, dlq.parked[0].Attempt)
}
