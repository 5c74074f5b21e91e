package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-webhook-ingest/core"
)

// IdempotencyStore is the durable event ledger. The unique constraint on
// (provider, event_id) is the at-most-once mechanism: TryBeginProcessing
// races on the insert and the loser reads back the winner's row.
type IdempotencyStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookEventRecord]
}

func NewIdempotencyStore(db *bun.DB) (*IdempotencyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookEventRecord](db, webhookEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook event repository wiring: %w", err)
		}
	}
	return &IdempotencyStore{db: db, repo: repo}, nil
}

func (s *IdempotencyStore) TryBeginProcessing(
	ctx context.Context,
	eventID string,
	provider core.Provider,
	correlationID string,
) (core.ClaimResult, error) {
	if s == nil || s.db == nil {
		return core.ClaimResult{}, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.ClaimResult{}, fmt.Errorf("sqlstore: event id is required")
	}

	now := time.Now().UTC()
	record := &webhookEventRecord{
		ID:            uuid.NewString(),
		EventID:       eventID,
		Provider:      provider.String(),
		Status:        string(core.EventStatusProcessing),
		ReceivedAt:    now,
		CorrelationID: strings.TrimSpace(correlationID),
		UpdatedAt:     now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if !isUniqueViolation(err) {
			return core.ClaimResult{}, err
		}
		existing, getErr := s.Get(ctx, eventID, provider)
		if getErr != nil {
			return core.ClaimResult{}, getErr
		}
		if existing.Status == core.EventStatusProcessed {
			return core.ClaimResult{AlreadyProcessed: true}, nil
		}
		return core.ClaimResult{AlreadyProcessing: true}, nil
	}
	return core.ClaimResult{Claimed: true}, nil
}

func (s *IdempotencyStore) MarkProcessing(
	ctx context.Context,
	eventID string,
	provider core.Provider,
) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("status = ?", string(core.EventStatusProcessing)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Where("provider = ?", provider.String()).
		Where("status != ?", string(core.EventStatusProcessed)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *IdempotencyStore) MarkProcessed(
	ctx context.Context,
	eventID string,
	provider core.Provider,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("status = ?", string(core.EventStatusProcessed)).
		Set("processed_at = ?", now).
		Set("error_message = ?", "").
		Set("updated_at = ?", now).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Where("provider = ?", provider.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf(
			"sqlstore: webhook event not found for provider %q event %q",
			provider,
			eventID,
		)
	}
	return nil
}

func (s *IdempotencyStore) MarkFailed(
	ctx context.Context,
	eventID string,
	provider core.Provider,
	errorMessage string,
) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	var retryCount int
	query := `
UPDATE webhook_idempotency
SET status = ?, retry_count = retry_count + 1, error_message = ?, updated_at = ?
WHERE event_id = ? AND provider = ?
RETURNING retry_count
`
	err := s.db.NewRaw(
		query,
		string(core.EventStatusFailed),
		strings.TrimSpace(errorMessage),
		time.Now().UTC(),
		strings.TrimSpace(eventID),
		provider.String(),
	).Scan(ctx, &retryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf(
				"sqlstore: webhook event not found for provider %q event %q",
				provider,
				eventID,
			)
		}
		return 0, err
	}
	return retryCount, nil
}

func (s *IdempotencyStore) Get(
	ctx context.Context,
	eventID string,
	provider core.Provider,
) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	record := &webhookEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Where("?TableAlias.provider = ?", provider.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookEvent{}, fmt.Errorf(
				"sqlstore: webhook event not found for provider %q event %q",
				provider,
				eventID,
			)
		}
		return core.WebhookEvent{}, err
	}
	return webhookEventToDomain(record), nil
}

func (s *IdempotencyStore) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	if olderThan <= 0 {
		return 0, fmt.Errorf("sqlstore: reclaim window must be positive")
	}
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("status = ?", string(core.EventStatusPending)).
		Set("updated_at = ?", now).
		Where("status = ?", string(core.EventStatusProcessing)).
		Where("updated_at <= ?", now.Add(-olderThan)).
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

func webhookEventToDomain(record *webhookEventRecord) core.WebhookEvent {
	if record == nil {
		return core.WebhookEvent{}
	}
	event := core.WebhookEvent{
		EventID:       record.EventID,
		Provider:      core.Provider(record.Provider),
		Status:        core.EventStatus(record.Status),
		ReceivedAt:    record.ReceivedAt,
		CorrelationID: record.CorrelationID,
		ErrorMessage:  record.ErrorMessage,
		RetryCount:    record.RetryCount,
		UpdatedAt:     record.UpdatedAt,
	}
	if record.ProcessedAt != nil {
		value := *record.ProcessedAt
		event.ProcessedAt = &value
	}
	return event
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
