package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/framelift/framelift/internal/domain/entity"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys on the pipeline exchange.
const (
	RouteExtraction = "pipeline.extraction"
	RouteCompletion = "pipeline.completion"
	RouteArchived   = "pipeline.archived"
	RouteFailed     = "pipeline.failed"
)

type Publisher struct {
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange}, nil
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	return p.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
		},
	)
}

// NotificationPublisher fans pipeline outcomes out on the topic exchange.
// Success and failure land on distinct routing keys so observers can
// subscribe selectively.
type NotificationPublisher struct {
	pub *Publisher
}

func NewNotificationPublisher(pub *Publisher) *NotificationPublisher {
	return &NotificationPublisher{pub: pub}
}

func (np *NotificationPublisher) PublishCompletion(ctx context.Context, n entity.CompletionNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal completion notification: %w", err)
	}
	return np.pub.publish(ctx, np.pub.exchange, RouteCompletion, body, nil)
}

func (np *NotificationPublisher) PublishArchive(ctx context.Context, n entity.ArchiveNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal archive notification: %w", err)
	}
	route := RouteArchived
	if n.Status == entity.StatusFailure {
		route = RouteFailed
	}
	return np.pub.publish(ctx, np.pub.exchange, route, body, nil)
}

// RetryPublisher redrives envelopes to a stage queue after an exponential
// backoff. The wait happens in the publishing worker, which is acceptable at
// this prefetch depth and keeps the broker topology plain.
type RetryPublisher struct {
	pub        *Publisher
	routingKey string
	baseDelay  time.Duration
}

func NewRetryPublisher(pub *Publisher, routingKey string, baseDelay time.Duration) *RetryPublisher {
	return &RetryPublisher{pub: pub, routingKey: routingKey, baseDelay: baseDelay}
}

func (rp *RetryPublisher) ScheduleRetry(ctx context.Context, env *entity.RetryEnvelope) error {
	delay := backoff(rp.baseDelay, env.Attempt)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal retry envelope: %w", err)
	}
	return rp.pub.publish(ctx, rp.pub.exchange, rp.routingKey, body, amqp.Table{
		"x-attempt": int32(env.Attempt),
	})
}

// backoff doubles per attempt from the base delay, capped at one minute.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

// DeadLetterPublisher parks exhausted envelopes on the stage's DLQ via the
// default exchange.
type DeadLetterPublisher struct {
	pub   *Publisher
	queue string
}

func NewDeadLetterPublisher(pub *Publisher, dlqQueue string) *DeadLetterPublisher {
	return &DeadLetterPublisher{pub: pub, queue: dlqQueue}
}

func (dp *DeadLetterPublisher) PublishDeadLetter(ctx context.Context, env *entity.RetryEnvelope, reason string) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal dead-letter envelope: %w", err)
	}
	return dp.pub.publish(ctx, "", dp.queue, body, amqp.Table{
		"x-dlq-reason": reason,
		"x-attempt":    int32(env.Attempt),
	})
}
