package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// IdempotencyStore guards at-most-once processing. TryBeginProcessing must be
// a single atomic storage operation (unique constraint + insert-or-detect
// conflict); a check-then-insert implementation loses the concurrent
// duplicate race.
type IdempotencyStore interface {
	TryBeginProcessing(
		ctx context.Context,
		eventID string,
		provider Provider,
		correlationID string,
	) (ClaimResult, error)
	// MarkProcessing re-asserts the processing state when a worker picks the
	// job up (first attempt, retry, or post-reclaim) and refreshes the claim
	// timestamp. It reports false when the row is missing or already
	// processed, in which case the worker must not run the handler.
	MarkProcessing(ctx context.Context, eventID string, provider Provider) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, provider Provider) error
	// MarkFailed increments retry_count atomically and returns the new count.
	MarkFailed(ctx context.Context, eventID string, provider Provider, errorMessage string) (int, error)
	Get(ctx context.Context, eventID string, provider Provider) (WebhookEvent, error)
	// ReclaimStuck flips rows stuck in processing longer than olderThan back
	// to pending so another worker may claim them.
	ReclaimStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

// WorkQueue is the durable job queue between ingress and the worker pool.
// Redelivery by the queue is expected and tolerated; exactly-once effect is
// the idempotency store's job, not the queue's.
type WorkQueue interface {
	Enqueue(ctx context.Context, job Job) error
	// ClaimBatch atomically moves up to limit due jobs to in-flight state and
	// returns them.
	ClaimBatch(ctx context.Context, limit int) ([]Job, error)
	Ack(ctx context.Context, eventID string, provider Provider) error
	// Retry schedules the job for a future attempt; a zero nextAttemptAt
	// parks it as exhausted.
	Retry(ctx context.Context, eventID string, provider Provider, cause error, nextAttemptAt time.Time) error
	// ReclaimStuck returns in-flight jobs held longer than olderThan to the
	// pending state. Pairs with IdempotencyStore.ReclaimStuck to recover
	// from crashed workers.
	ReclaimStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

type DeadLetterStore interface {
	Store(ctx context.Context, in DeadLetterInput) error
	Get(ctx context.Context, eventID string, provider Provider) (DeadLetterEntry, error)
	List(ctx context.Context, limit int, offset int) ([]DeadLetterEntry, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, record AuditRecord) error
}

// EventHandler is the external business collaborator: appointment-booking,
// payment reconciliation, and friends. A returned error classified via
// NonRetryable skips remaining retries and dead-letters immediately.
type EventHandler interface {
	Handle(ctx context.Context, provider Provider, payload []byte) error
}

type EventHandlerFunc func(ctx context.Context, provider Provider, payload []byte) error

func (fn EventHandlerFunc) Handle(ctx context.Context, provider Provider, payload []byte) error {
	return fn(ctx, provider, payload)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
