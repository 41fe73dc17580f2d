package port

import "context"

// OperatorNotifier alerts a human when an event is dead-lettered.
type OperatorNotifier interface {
	NotifyDeadLetter(ctx context.Context, sourceKey, stage, reason string) error
}
