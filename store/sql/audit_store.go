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

// AuditStore appends metadata-only trail rows. Payload content never lands
// here; callers pass event id and provider in the metadata map.
type AuditStore struct {
	db   *bun.DB
	repo repository.Repository[*auditLogRecord]
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditLogRecord](db, auditLogHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit log repository wiring: %w", err)
		}
	}
	return &AuditStore{db: db, repo: repo}, nil
}

func (s *AuditStore) Record(ctx context.Context, record core.AuditRecord) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	resourceType := strings.TrimSpace(record.ResourceType)
	if resourceType == "" {
		resourceType = core.AuditResourceWebhook
	}
	action := strings.TrimSpace(string(record.Action))
	if action == "" {
		return fmt.Errorf("sqlstore: audit action is required")
	}

	createdAt := record.CreatedAt.UTC()
	if record.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := &auditLogRecord{
		ID:            uuid.NewString(),
		ResourceType:  resourceType,
		Action:        action,
		CorrelationID: strings.TrimSpace(record.CorrelationID),
		Metadata:      RedactMetadata(record.Metadata),
		Status:        string(record.Status),
		ErrorMessage:  strings.TrimSpace(record.ErrorMessage),
		CreatedAt:     createdAt,
	}
	_, err := s.repo.Create(ctx, row)
	return err
}

// ListByCorrelation returns the trail for one delivery, oldest first, for
// operator tooling.
func (s *AuditStore) ListByCorrelation(
	ctx context.Context,
	correlationID string,
) ([]core.AuditRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: audit store is not configured")
	}
	var records []auditLogRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.correlation_id = ?", strings.TrimSpace(correlationID)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditRecord, 0, len(records))
	for _, record := range records {
		out = append(out, core.AuditRecord{
			ResourceType:  record.ResourceType,
			Action:        core.AuditAction(record.Action),
			CorrelationID: record.CorrelationID,
			Metadata:      copyAnyMap(record.Metadata),
			Status:        core.AuditStatus(record.Status),
			ErrorMessage:  record.ErrorMessage,
			CreatedAt:     record.CreatedAt,
		})
	}
	return out, nil
}

func copyAnyMap(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
