package query

import (
	"context"

	"github.com/goliatone/go-webhook-ingest/core"
)

type WebhookEventReader interface {
	Get(ctx context.Context, eventID string, provider core.Provider) (core.WebhookEvent, error)
}

type DeadLetterReader interface {
	Get(ctx context.Context, eventID string, provider core.Provider) (core.DeadLetterEntry, error)
	List(ctx context.Context, limit int, offset int) ([]core.DeadLetterEntry, error)
}

type AuditTrailReader interface {
	ListByCorrelation(ctx context.Context, correlationID string) ([]core.AuditRecord, error)
}

type GetWebhookEventQuery struct {
	reader WebhookEventReader
}

func NewGetWebhookEventQuery(reader WebhookEventReader) *GetWebhookEventQuery {
	return &GetWebhookEventQuery{reader: reader}
}

func (q *GetWebhookEventQuery) Query(ctx context.Context, msg GetWebhookEventMessage) (core.WebhookEvent, error) {
	if q == nil || q.reader == nil {
		return core.WebhookEvent{}, queryDependencyError("query: webhook event reader is required")
	}
	return q.reader.Get(ctx, msg.EventID, msg.Provider)
}

type GetDeadLetterQuery struct {
	reader DeadLetterReader
}

func NewGetDeadLetterQuery(reader DeadLetterReader) *GetDeadLetterQuery {
	return &GetDeadLetterQuery{reader: reader}
}

func (q *GetDeadLetterQuery) Query(ctx context.Context, msg GetDeadLetterMessage) (core.DeadLetterEntry, error) {
	if q == nil || q.reader == nil {
		return core.DeadLetterEntry{}, queryDependencyError("query: dead letter reader is required")
	}
	return q.reader.Get(ctx, msg.EventID, msg.Provider)
}

type ListDeadLettersQuery struct {
	reader DeadLetterReader
}

func NewListDeadLettersQuery(reader DeadLetterReader) *ListDeadLettersQuery {
	return &ListDeadLettersQuery{reader: reader}
}

func (q *ListDeadLettersQuery) Query(
	ctx context.Context,
	msg ListDeadLettersMessage,
) ([]core.DeadLetterEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: dead letter reader is required")
	}
	return q.reader.List(ctx, msg.Limit, msg.Offset)
}

type ListAuditTrailQuery struct {
	reader AuditTrailReader
}

func NewListAuditTrailQuery(reader AuditTrailReader) *ListAuditTrailQuery {
	return &ListAuditTrailQuery{reader: reader}
}

func (q *ListAuditTrailQuery) Query(
	ctx context.Context,
	msg ListAuditTrailMessage,
) ([]core.AuditRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: audit trail reader is required")
	}
	return q.reader.ListByCorrelation(ctx, msg.CorrelationID)
}
