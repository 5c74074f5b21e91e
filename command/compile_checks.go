package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[IngestWebhookMessage]    = (*IngestWebhookCommand)(nil)
	_ gocmd.Commander[RunWorkerPassMessage]    = (*RunWorkerPassCommand)(nil)
	_ gocmd.Commander[ReclaimStuckMessage]     = (*ReclaimStuckCommand)(nil)
	_ gocmd.Commander[ReplayDeadLetterMessage] = (*ReplayDeadLetterCommand)(nil)
)
