package ingress

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-webhook-ingest/core"
	"github.com/goliatone/go-webhook-ingest/identity"
	"github.com/goliatone/go-webhook-ingest/verify"
)

// Handler drives the accept path: received -> signature verified -> dedup
// checked -> enqueued -> acknowledged, with exits to unauthorized and
// idempotent-duplicate.
type Handler struct {
	verifiers   *verify.Registry
	extractor   *identity.Extractor
	store       core.IdempotencyStore
	queue       core.WorkQueue
	deadLetters core.DeadLetterStore
	audit       core.AuditRecorder
	observer    *core.Observer

	now           func() time.Time
	correlationID func() string
}

type HandlerOption func(*Handler)

func WithObserver(observer *core.Observer) HandlerOption {
	return func(h *Handler) { h.observer = observer }
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func WithCorrelationIDFactory(factory func() string) HandlerOption {
	return func(h *Handler) {
		if factory != nil {
			h.correlationID = factory
		}
	}
}

func NewHandler(
	verifiers *verify.Registry,
	extractor *identity.Extractor,
	store core.IdempotencyStore,
	queue core.WorkQueue,
	deadLetters core.DeadLetterStore,
	audit core.AuditRecorder,
	options ...HandlerOption,
) (*Handler, error) {
	if verifiers == nil {
		return nil, ingressInternal("ingress: verifier registry is required", nil)
	}
	if extractor == nil {
		extractor = identity.NewExtractor()
	}
	if store == nil {
		return nil, ingressInternal("ingress: idempotency store is required", nil)
	}
	if queue == nil {
		return nil, ingressInternal("ingress: work queue is required", nil)
	}
	if deadLetters == nil {
		return nil, ingressInternal("ingress: dead letter store is required", nil)
	}
	handler := &Handler{
		verifiers:     verifiers,
		extractor:     extractor,
		store:         store,
		queue:         queue,
		deadLetters:   deadLetters,
		audit:         audit,
		observer:      core.NewObserver(nil, nil),
		now:           time.Now,
		correlationID: uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(handler)
		}
	}
	return handler, nil
}

// Ingest processes one inbound delivery. The returned IngestResult always
// carries the status code the HTTP layer should answer with, including the
// error exits.
func (h *Handler) Ingest(ctx context.Context, req core.WebhookRequest) (core.IngestResult, error) {
	startedAt := h.now()

	provider, err := core.ParseProvider(req.Provider.String())
	if err != nil {
		return rejected(http.StatusUnauthorized), ingressUnauthorized(err, map[string]any{
			"provider": req.Provider.String(),
		})
	}

	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		correlationID = h.correlationID()
	}

	verifier, err := h.verifiers.For(provider)
	if err != nil {
		// Delivery for a provider without a configured secret: reject, do
		// not reveal whether routing or verification failed.
		h.observer.Observe(ctx, startedAt, "ingest.reject", err, rejectionFields(provider, correlationID, req))
		return rejected(http.StatusUnauthorized), ingressUnauthorized(err, map[string]any{
			"provider":       provider.String(),
			"correlation_id": correlationID,
		})
	}
	if err := verifier.Verify(ctx, req); err != nil {
		// Metadata only: the payload never touches logs or storage on the
		// unauthorized path.
		h.observer.Observe(ctx, startedAt, "ingest.reject", err, rejectionFields(provider, correlationID, req))
		return rejected(http.StatusUnauthorized), ingressUnauthorized(err, map[string]any{
			"provider":       provider.String(),
			"correlation_id": correlationID,
		})
	}

	eventID, err := h.extractor.EventID(provider, req.Body)
	if err != nil {
		// Authenticated but unparseable. The event is still durably parked
		// in dead-letter under a content-derived id so nothing is lost.
		return h.parkAtIngress(ctx, startedAt, provider, rawContentID(req.Body), correlationID, req.Body, err)
	}

	claim, err := h.store.TryBeginProcessing(ctx, eventID, provider, correlationID)
	if err != nil {
		return h.parkAtIngress(ctx, startedAt, provider, eventID, correlationID, req.Body, err)
	}
	if claim.AlreadyProcessed || claim.AlreadyProcessing {
		result := core.IngestResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			EventID:    eventID,
			Deduped:    true,
			Metadata: map[string]any{
				"provider":       provider.String(),
				"correlation_id": correlationID,
			},
		}
		h.observer.Observe(ctx, startedAt, "ingest.duplicate", nil, map[string]any{
			"provider":       provider.String(),
			"event_id":       eventID,
			"correlation_id": correlationID,
		})
		return result, nil
	}

	job := core.Job{
		EventID:       eventID,
		Provider:      provider,
		Payload:       req.Body,
		CorrelationID: correlationID,
	}
	if err := h.queue.Enqueue(ctx, job); err != nil {
		return h.parkAtIngress(ctx, startedAt, provider, eventID, correlationID, req.Body, err)
	}

	h.recordAudit(ctx, core.AuditRecord{
		ResourceType:  core.AuditResourceWebhook,
		Action:        core.AuditActionReceived,
		CorrelationID: correlationID,
		Metadata: map[string]any{
			"event_id": eventID,
			"provider": provider.String(),
		},
		Status:    core.AuditStatusSuccess,
		CreatedAt: h.now(),
	})
	h.observer.Observe(ctx, startedAt, "ingest.accept", nil, map[string]any{
		"provider":       provider.String(),
		"event_id":       eventID,
		"correlation_id": correlationID,
	})

	return core.IngestResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		EventID:    eventID,
		Metadata: map[string]any{
			"provider":       provider.String(),
			"correlation_id": correlationID,
		},
	}, nil
}

// SubscriptionChallenge serves the Meta webhook registration GET handshake
// for providers that require it.
func (h *Handler) SubscriptionChallenge(
	provider core.Provider,
	cfg core.ProviderConfig,
	query map[string]string,
) (string, error) {
	if !provider.IsMetaFamily() {
		return "", ingressError(
			"ingress: subscription handshake is only served for meta-family providers",
			goerrors.CategoryBadInput,
			http.StatusNotFound,
			core.IngestErrorBadPayload,
			map[string]any{"provider": provider.String()},
		)
	}
	challenge, err := verify.SubscriptionChallenge(cfg.VerifyToken, query)
	if err != nil {
		return "", ingressUnauthorized(err, map[string]any{"provider": provider.String()})
	}
	return challenge, nil
}

// parkAtIngress is the queue-or-store unavailable fallback: write the event
// to dead-letter so it can be recovered manually, and still ack the
// provider. Only a dead-letter failure surfaces a 5xx.
func (h *Handler) parkAtIngress(
	ctx context.Context,
	startedAt time.Time,
	provider core.Provider,
	eventID string,
	correlationID string,
	payload []byte,
	cause error,
) (core.IngestResult, error) {
	input := core.DeadLetterInput{
		EventID:       eventID,
		Provider:      provider,
		ReceivedAt:    h.now(),
		CorrelationID: correlationID,
		Payload:       payload,
		ErrorMessage:  cause.Error(),
	}
	if err := h.deadLetters.Store(ctx, input); err != nil {
		h.observer.Observe(ctx, startedAt, "ingest.unavailable", err, map[string]any{
			"provider":       provider.String(),
			"event_id":       eventID,
			"correlation_id": correlationID,
		})
		return rejected(http.StatusInternalServerError), ingressUnavailable(
			err,
			"ingress: event could not be recorded in queue or dead letter",
			map[string]any{
				"provider":       provider.String(),
				"event_id":       eventID,
				"correlation_id": correlationID,
			},
		)
	}

	h.recordAudit(ctx, core.AuditRecord{
		ResourceType:  core.AuditResourceWebhook,
		Action:        core.AuditActionReceived,
		CorrelationID: correlationID,
		Metadata: map[string]any{
			"event_id": eventID,
			"provider": provider.String(),
		},
		Status:       core.AuditStatusFailure,
		ErrorMessage: cause.Error(),
		CreatedAt:    h.now(),
	})
	h.observer.Observe(ctx, startedAt, "ingest.parked", cause, map[string]any{
		"provider":       provider.String(),
		"event_id":       eventID,
		"correlation_id": correlationID,
	})

	return core.IngestResult{
		Accepted:     true,
		StatusCode:   http.StatusOK,
		EventID:      eventID,
		DeadLettered: true,
		Metadata: map[string]any{
			"provider":       provider.String(),
			"correlation_id": correlationID,
		},
	}, nil
}

func (h *Handler) recordAudit(ctx context.Context, record core.AuditRecord) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, record); err != nil {
		h.observer.LogError(ctx, "ingress: audit record failed", map[string]any{
			"action":         string(record.Action),
			"correlation_id": record.CorrelationID,
			"error":          err.Error(),
		})
	}
}

func rejected(statusCode int) core.IngestResult {
	return core.IngestResult{Accepted: false, StatusCode: statusCode}
}

func rejectionFields(provider core.Provider, correlationID string, req core.WebhookRequest) map[string]any {
	fields := map[string]any{
		"provider":       provider.String(),
		"correlation_id": correlationID,
	}
	if ip, ok := req.Metadata["remote_ip"]; ok {
		fields["remote_ip"] = ip
	}
	return fields
}

// rawContentID names an unparseable payload by its content hash so parked
// duplicates collapse onto one dead-letter identity.
func rawContentID(body []byte) string {
	sum := sha256.Sum256(body)
	return "raw-" + hex.EncodeToString(sum[:])
}
