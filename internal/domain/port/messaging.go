package port

import (
	"context"

	"github.com/framelift/framelift/internal/domain/entity"
)

// CompletionPublisher emits stage-one terminal outcomes on the notification
// channel. Delivery is at-least-once; consumers must tolerate duplicates.
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, n entity.CompletionNotification) error
}

// ArchivePublisher emits the final pipeline outcome.
type ArchivePublisher interface {
	PublishArchive(ctx context.Context, n entity.ArchiveNotification) error
}

// RetryScheduler redrives a failed envelope to its stage queue for another
// attempt.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, env *entity.RetryEnvelope) error
}

// DeadLetterPublisher parks an exhausted or permanently failed envelope where
// an operator can inspect it. Dead letters are never silently dropped.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, env *entity.RetryEnvelope, reason string) error
}
