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

// DeadLetterStore holds permanently-failed events for manual recovery. The
// payload column only ever sees ciphertext: encryption happens here, before
// the insert, through the injected secret provider.
type DeadLetterStore struct {
	db      *bun.DB
	repo    repository.Repository[*deadLetterRecord]
	secrets core.SecretProvider
}

func NewDeadLetterStore(db *bun.DB, secrets core.SecretProvider) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("sqlstore: dead-letter secret provider is required")
	}
	repo := repository.NewRepository[*deadLetterRecord](db, deadLetterHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dead letter repository wiring: %w", err)
		}
	}
	return &DeadLetterStore{db: db, repo: repo, secrets: secrets}, nil
}

func (s *DeadLetterStore) Store(ctx context.Context, in core.DeadLetterInput) error {
	if s == nil || s.db == nil || s.secrets == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	eventID := strings.TrimSpace(in.EventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: dead-letter event id is required")
	}

	sealed, err := s.secrets.Encrypt(ctx, in.Payload)
	if err != nil {
		return fmt.Errorf("sqlstore: encrypt dead-letter payload: %w", err)
	}

	now := time.Now().UTC()
	receivedAt := in.ReceivedAt.UTC()
	if in.ReceivedAt.IsZero() {
		receivedAt = now
	}
	record := &deadLetterRecord{
		ID:               uuid.NewString(),
		EventID:          eventID,
		Provider:         in.Provider.String(),
		ReceivedAt:       receivedAt,
		CorrelationID:    strings.TrimSpace(in.CorrelationID),
		PayloadEncrypted: sealed,
		ErrorMessage:     strings.TrimSpace(in.ErrorMessage),
		RetryCount:       in.RetryCount,
		FailedAt:         now,
		CreatedAt:        now,
	}
	// An event can be parked twice (ingress fallback, then a replayed run
	// exhausting again); the later failure wins.
	_, err = s.db.NewInsert().
		Model(record).
		On("CONFLICT (provider, event_id) DO UPDATE").
		Set("payload_encrypted = EXCLUDED.payload_encrypted").
		Set("error_message = EXCLUDED.error_message").
		Set("retry_count = EXCLUDED.retry_count").
		Set("correlation_id = EXCLUDED.correlation_id").
		Set("failed_at = EXCLUDED.failed_at").
		Exec(ctx)
	return err
}

func (s *DeadLetterStore) Get(
	ctx context.Context,
	eventID string,
	provider core.Provider,
) (core.DeadLetterEntry, error) {
	if s == nil || s.db == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	record := &deadLetterRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Where("?TableAlias.provider = ?", provider.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.DeadLetterEntry{}, fmt.Errorf(
				"sqlstore: dead-letter entry not found for provider %q event %q",
				provider,
				eventID,
			)
		}
		return core.DeadLetterEntry{}, err
	}
	return deadLetterToDomain(record), nil
}

func (s *DeadLetterStore) List(
	ctx context.Context,
	limit int,
	offset int,
) ([]core.DeadLetterEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var records []deadLetterRecord
	err := s.db.NewSelect().
		Model(&records).
		Order("failed_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]core.DeadLetterEntry, 0, len(records))
	for i := range records {
		entries = append(entries, deadLetterToDomain(&records[i]))
	}
	return entries, nil
}

func deadLetterToDomain(record *deadLetterRecord) core.DeadLetterEntry {
	if record == nil {
		return core.DeadLetterEntry{}
	}
	return core.DeadLetterEntry{
		EventID:          record.EventID,
		Provider:         core.Provider(record.Provider),
		ReceivedAt:       record.ReceivedAt,
		CorrelationID:    record.CorrelationID,
		PayloadEncrypted: append([]byte(nil), record.PayloadEncrypted...),
		ErrorMessage:     record.ErrorMessage,
		RetryCount:       record.RetryCount,
		FailedAt:         record.FailedAt,
	}
}
