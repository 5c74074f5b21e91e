package core

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies the upstream webhook source. Event ids are only unique
// per provider, so the pair (event_id, provider) is the composite identity
// everywhere in this module.
type Provider string

const (
	ProviderFacebook  Provider = "facebook"
	ProviderInstagram Provider = "instagram"
	ProviderWhatsApp  Provider = "whatsapp"
	ProviderRazorpay  Provider = "razorpay"
	ProviderPayPal    Provider = "paypal"
)

func KnownProviders() []Provider {
	return []Provider{
		ProviderFacebook,
		ProviderInstagram,
		ProviderWhatsApp,
		ProviderRazorpay,
		ProviderPayPal,
	}
}

func ParseProvider(value string) (Provider, error) {
	normalized := Provider(strings.TrimSpace(strings.ToLower(value)))
	switch normalized {
	case ProviderFacebook, ProviderInstagram, ProviderWhatsApp, ProviderRazorpay, ProviderPayPal:
		return normalized, nil
	}
	return "", fmt.Errorf("core: unknown provider %q", value)
}

func (p Provider) String() string {
	return string(p)
}

// IsMetaFamily reports whether the provider uses the Meta platform webhook
// envelope and X-Hub-Signature-256 signing scheme.
func (p Provider) IsMetaFamily() bool {
	switch p {
	case ProviderFacebook, ProviderInstagram, ProviderWhatsApp:
		return true
	default:
		return false
	}
}

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusProcessed  EventStatus = "processed"
	EventStatusFailed     EventStatus = "failed"
)

// WebhookEvent is the idempotency record: the single source of truth for
// whether a given delivery has had a business effect. Rows are never deleted
// by the pipeline; retention is an external concern.
type WebhookEvent struct {
	EventID       string
	Provider      Provider
	Status        EventStatus
	ReceivedAt    time.Time
	ProcessedAt   *time.Time
	CorrelationID string
	ErrorMessage  string
	RetryCount    int
	UpdatedAt     time.Time
}

// DeadLetterEntry holds a permanently failed delivery for manual recovery.
// PayloadEncrypted is always a sealed envelope; the store never persists the
// plaintext payload.
type DeadLetterEntry struct {
	EventID          string
	Provider         Provider
	ReceivedAt       time.Time
	CorrelationID    string
	PayloadEncrypted []byte
	ErrorMessage     string
	RetryCount       int
	FailedAt         time.Time
}

// DeadLetterInput carries the plaintext payload into the dead-letter store,
// which encrypts before persisting.
type DeadLetterInput struct {
	EventID       string
	Provider      Provider
	ReceivedAt    time.Time
	CorrelationID string
	Payload       []byte
	ErrorMessage  string
	RetryCount    int
}

const AuditResourceWebhook = "webhook"

type AuditAction string

const (
	AuditActionReceived  AuditAction = "webhook_received"
	AuditActionProcessed AuditAction = "webhook_processed"
	AuditActionFailed    AuditAction = "webhook_failed"
)

type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
)

// AuditRecord is an append-only lifecycle entry. Metadata carries identifiers
// only, never payload content.
type AuditRecord struct {
	ResourceType  string
	Action        AuditAction
	CorrelationID string
	Metadata      map[string]any
	Status        AuditStatus
	ErrorMessage  string
	CreatedAt     time.Time
}

// Job is the transient unit of work handed to the queue. The payload exists
// only in queue storage and in dead-letter (encrypted); the WebhookEvent row
// stays authoritative for processing state.
type Job struct {
	EventID       string
	Provider      Provider
	Payload       []byte
	CorrelationID string
	Attempts      int
	NextAttemptAt *time.Time
}

// WebhookRequest is the transport-agnostic inbound delivery. Body must be the
// raw, unmodified request bytes; signature verification is byte-exact and a
// re-serialized body breaks it.
type WebhookRequest struct {
	Provider      Provider
	Headers       map[string]string
	Body          []byte
	CorrelationID string
	Metadata      map[string]any
}

// IngestResult is what the hosting HTTP layer translates into a response.
// Upstream providers only ever observe 200 or 401; 5xx is reserved for the
// case where neither the queue nor dead-letter could record the event.
type IngestResult struct {
	Accepted     bool
	StatusCode   int
	EventID      string
	Deduped      bool
	DeadLettered bool
	Metadata     map[string]any
}

// ClaimResult reports the outcome of the atomic insert-if-absent claim.
type ClaimResult struct {
	Claimed           bool
	AlreadyProcessed  bool
	AlreadyProcessing bool
}
