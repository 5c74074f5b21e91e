package sqlstore

import "github.com/goliatone/go-webhook-ingest/core"

var (
	_ core.IdempotencyStore = (*IdempotencyStore)(nil)
	_ core.WorkQueue        = (*QueueStore)(nil)
	_ core.DeadLetterStore  = (*DeadLetterStore)(nil)
	_ core.AuditRecorder    = (*AuditStore)(nil)
)
