package usecase

import (
	"context"
	"strconv"

	"github.com/framelift/framelift/internal/domain/entity"
	"github.com/framelift/framelift/internal/domain/port"
	"github.com/framelift/framelift/internal/infra/metrics"
	"go.uber.org/zap"
)

// Action is the redelivery decision for one failed event.
type Action int

const (
	ActionRetry Action = iota
	ActionDeadLetter
)

// Decide maps a classified failure to its redelivery action. It is a pure
// function of the error kind and attempt count: permanent failures and
// exhausted envelopes dead-letter, everything else retries.
func Decide(kind entity.FailureKind, attempt, maxAttempts int) Action {
	if kind == entity.FailurePermanent {
		return ActionDeadLetter
	}
	if attempt >= maxAttempts {
		return ActionDeadLetter
	}
	return ActionRetry
}

// Retrier executes redelivery decisions: it republishes retryable envelopes
// with an incremented attempt and parks the rest in the dead-letter queue,
// alerting the operator.
type Retrier struct {
	scheduler   port.RetryScheduler
	deadLetters port.DeadLetterPublisher
	notifier    port.OperatorNotifier
	maxAttempts int
	logger      *zap.Logger
}

func NewRetrier(
	scheduler port.RetryScheduler,
	deadLetters port.DeadLetterPublisher,
	notifier port.OperatorNotifier,
	maxAttempts int,
	logger *zap.Logger,
) *Retrier {
	return &Retrier{
		scheduler:   scheduler,
		deadLetters: deadLetters,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// MaxAttempts is the configured redelivery bound.
func (r *Retrier) MaxAttempts() int { return r.maxAttempts }

// HandleFailure routes one failed envelope. The returned action tells the
// caller whether this attempt was terminal (dead-lettered) or will be
// redriven. The error return is reserved for scheduling infrastructure
// failures, which the consumer turns into a broker-level redelivery.
func (r *Retrier) HandleFailure(ctx context.Context, env *entity.RetryEnvelope, stage entity.Stage, cause error) (Action, error) {
	kind := entity.Classify(cause)
	action := Decide(kind, env.Attempt, r.maxAttempts)

	log := r.logger.With(
		zap.String("stage", string(stage)),
		zap.String("payload_kind", string(env.Kind)),
		zap.Int("attempt", env.Attempt),
		zap.String("failure_kind", string(kind)),
	)

	switch action {
	case ActionRetry:
		metrics.RetriesTotal.WithLabelValues(string(stage), strconv.Itoa(env.Attempt)).Inc()
		log.Warn("scheduling retry", zap.Error(cause))
		if err := r.scheduler.ScheduleRetry(ctx, env.Next()); err != nil {
			return action, err
		}
	case ActionDeadLetter:
		metrics.DeadLettersTotal.WithLabelValues(string(stage)).Inc()
		log.Error("dead-lettering event", zap.Error(cause))
		if err := r.deadLetters.PublishDeadLetter(ctx, env, cause.Error()); err != nil {
			return action, err
		}
		if r.notifier != nil {
			if err := r.notifier.NotifyDeadLetter(ctx, sourceKeyOf(env), string(stage), cause.Error()); err != nil {
				log.Warn("operator notification failed", zap.Error(err))
			}
		}
	}
	return action, nil
}

func sourceKeyOf(env *entity.RetryEnvelope) string {
	switch env.Kind {
	case entity.KindUploadEvent:
		if ev, err := env.UploadEvent(); err == nil {
			return ev.ObjectKey
		}
	case entity.KindCompletion:
		if n, err := env.Completion(); err == nil {
			return n.SourceKey
		}
	}
	return "unknown"
}
