package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-webhook-ingest/core"
)

const (
	TypeIngestWebhook    = "webhookingest.command.ingest"
	TypeRunWorkerPass    = "webhookingest.command.worker.run_pass"
	TypeReclaimStuck     = "webhookingest.command.worker.reclaim_stuck"
	TypeReplayDeadLetter = "webhookingest.command.dead_letter.replay"
)

type IngestWebhookMessage struct {
	Request core.WebhookRequest
}

func (IngestWebhookMessage) Type() string { return TypeIngestWebhook }

func (m IngestWebhookMessage) Validate() error {
	if _, err := core.ParseProvider(m.Request.Provider.String()); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	if len(m.Request.Body) == 0 {
		return fmt.Errorf("command: request body is required")
	}
	return nil
}

type RunWorkerPassMessage struct{}

func (RunWorkerPassMessage) Type() string { return TypeRunWorkerPass }

func (RunWorkerPassMessage) Validate() error { return nil }

type ReclaimStuckMessage struct{}

func (ReclaimStuckMessage) Type() string { return TypeReclaimStuck }

func (ReclaimStuckMessage) Validate() error { return nil }

type ReplayDeadLetterMessage struct {
	EventID  string
	Provider core.Provider
}

func (ReplayDeadLetterMessage) Type() string { return TypeReplayDeadLetter }

func (m ReplayDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("command: event id is required")
	}
	if _, err := core.ParseProvider(m.Provider.String()); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}
