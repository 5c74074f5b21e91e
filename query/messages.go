package query

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-webhook-ingest/core"
)

const (
	TypeGetWebhookEvent = "webhookingest.query.event.get"
	TypeGetDeadLetter   = "webhookingest.query.dead_letter.get"
	TypeListDeadLetters = "webhookingest.query.dead_letter.list"
	TypeListAuditTrail  = "webhookingest.query.audit.list"
)

type GetWebhookEventMessage struct {
	EventID  string
	Provider core.Provider
}

func (GetWebhookEventMessage) Type() string { return TypeGetWebhookEvent }

func (m GetWebhookEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("query: event id is required")
	}
	if _, err := core.ParseProvider(m.Provider.String()); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

type GetDeadLetterMessage struct {
	EventID  string
	Provider core.Provider
}

func (GetDeadLetterMessage) Type() string { return TypeGetDeadLetter }

func (m GetDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("query: event id is required")
	}
	if _, err := core.ParseProvider(m.Provider.String()); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

type ListDeadLettersMessage struct {
	Limit  int
	Offset int
}

func (ListDeadLettersMessage) Type() string { return TypeListDeadLetters }

func (m ListDeadLettersMessage) Validate() error {
	if m.Limit < 0 {
		return fmt.Errorf("query: limit must be >= 0")
	}
	if m.Offset < 0 {
		return fmt.Errorf("query: offset must be >= 0")
	}
	return nil
}

type ListAuditTrailMessage struct {
	CorrelationID string
}

func (ListAuditTrailMessage) Type() string { return TypeListAuditTrail }

func (m ListAuditTrailMessage) Validate() error {
	if strings.TrimSpace(m.CorrelationID) == "" {
		return fmt.Errorf("query: correlation id is required")
	}
	return nil
}
