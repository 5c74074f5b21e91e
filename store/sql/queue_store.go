package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-webhook-ingest/core"
)

const (
	jobStatusPending   = "pending"
	jobStatusInFlight  = "in_flight"
	jobStatusExhausted = "exhausted"
)

// QueueStore is the DB-backed work queue. Delayed retries are scheduled via
// next_attempt_at rather than worker-side sleeps, and ClaimBatch moves due
// jobs to in_flight inside a single statement so concurrent workers never
// double-claim.
type QueueStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookJobRecord]
}

func NewQueueStore(db *bun.DB) (*QueueStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookJobRecord](db, webhookJobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook job repository wiring: %w", err)
		}
	}
	return &QueueStore{db: db, repo: repo}, nil
}

func (s *QueueStore) Enqueue(ctx context.Context, job core.Job) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: queue store is not configured")
	}
	eventID := strings.TrimSpace(job.EventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: job event id is required")
	}

	now := time.Now().UTC()
	record := &webhookJobRecord{
		ID:            uuid.NewString(),
		EventID:       eventID,
		Provider:      job.Provider.String(),
		Payload:       append([]byte(nil), job.Payload...),
		CorrelationID: strings.TrimSpace(job.CorrelationID),
		Status:        jobStatusPending,
		Attempts:      job.Attempts,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if job.NextAttemptAt != nil {
		next := job.NextAttemptAt.UTC()
		record.NextAttemptAt = &next
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			// The event is already queued; the idempotency store is the
			// authority on processing, so a double-enqueue is a no-op.
			return nil
		}
		return err
	}
	return nil
}

func (s *QueueStore) ClaimBatch(ctx context.Context, limit int) ([]core.Job, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: queue store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	var records []webhookJobRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM webhook_jobs
	WHERE status = ?
	  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
	ORDER BY created_at ASC
	LIMIT ?
)
UPDATE webhook_jobs
SET status = ?, attempts = attempts + 1, claimed_at = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status = ?
RETURNING
	id,
	event_id,
	provider,
	payload,
	correlation_id,
	status,
	attempts,
	next_attempt_at,
	claimed_at,
	last_error,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			jobStatusPending,
			now,
			limit,
			jobStatusInFlight,
			now,
			now,
			jobStatusPending,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]core.Job, 0, len(records))
	for _, record := range records {
		jobs = append(jobs, jobRecordToDomain(record))
	}
	return jobs, nil
}

func (s *QueueStore) Ack(ctx context.Context, eventID string, provider core.Provider) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: queue store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	_, err := s.db.NewDelete().
		Model((*webhookJobRecord)(nil)).
		Where("event_id = ?", eventID).
		Where("provider = ?", provider.String()).
		Exec(ctx)
	return err
}

func (s *QueueStore) Retry(
	ctx context.Context,
	eventID string,
	provider core.Provider,
	cause error,
	nextAttemptAt time.Time,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: queue store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}

	status := jobStatusPending
	var next *time.Time
	if nextAttemptAt.IsZero() {
		status = jobStatusExhausted
	} else {
		value := nextAttemptAt.UTC()
		next = &value
	}
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}

	_, err := s.db.NewUpdate().
		Model((*webhookJobRecord)(nil)).
		Set("status = ?", status).
		Set("next_attempt_at = ?", next).
		Set("claimed_at = NULL").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", time.Now().UTC()).
		Where("event_id = ?", eventID).
		Where("provider = ?", provider.String()).
		Exec(ctx)
	return err
}

func (s *QueueStore) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: queue store is not configured")
	}
	if olderThan <= 0 {
		return 0, fmt.Errorf("sqlstore: reclaim window must be positive")
	}
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*webhookJobRecord)(nil)).
		Set("status = ?", jobStatusPending).
		Set("claimed_at = NULL").
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", now).
		Where("status = ?", jobStatusInFlight).
		Where("claimed_at <= ?", now.Add(-olderThan)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func jobRecordToDomain(record webhookJobRecord) core.Job {
	job := core.Job{
		EventID:       record.EventID,
		Provider:      core.Provider(record.Provider),
		Payload:       append([]byte(nil), record.Payload...),
		CorrelationID: record.CorrelationID,
		Attempts:      record.Attempts,
	}
	if record.NextAttemptAt != nil {
		value := *record.NextAttemptAt
		job.NextAttemptAt = &value
	}
	return job
}
