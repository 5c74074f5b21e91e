package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-webhook-ingest/core"
)

var (
	_ gocmd.Querier[GetWebhookEventMessage, core.WebhookEvent]    = (*GetWebhookEventQuery)(nil)
	_ gocmd.Querier[GetDeadLetterMessage, core.DeadLetterEntry]   = (*GetDeadLetterQuery)(nil)
	_ gocmd.Querier[ListDeadLettersMessage, []core.DeadLetterEntry] = (*ListDeadLettersQuery)(nil)
	_ gocmd.Querier[ListAuditTrailMessage, []core.AuditRecord]    = (*ListAuditTrailQuery)(nil)
)
