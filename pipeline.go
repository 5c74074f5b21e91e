// Package ingest assembles the webhook ingestion pipeline: signature-verified
// ingress, durable idempotent dedup, a work queue consumed by a bounded
// worker pool, encrypted dead-letter parking, and a metadata-only audit
// trail. The sub-packages carry the parts; this package wires them from one
// Config plus functional options.
package ingest

import (
	"context"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-webhook-ingest/adapters/gologger"
	"github.com/goliatone/go-webhook-ingest/core"
	"github.com/goliatone/go-webhook-ingest/identity"
	"github.com/goliatone/go-webhook-ingest/ingress"
	"github.com/goliatone/go-webhook-ingest/security"
	sqlstore "github.com/goliatone/go-webhook-ingest/store/sql"
	"github.com/goliatone/go-webhook-ingest/verify"
	"github.com/goliatone/go-webhook-ingest/worker"
)

type Config = core.Config

type ProviderConfig = core.ProviderConfig

type WebhookRequest = core.WebhookRequest

type IngestResult = core.IngestResult

type EventHandler = core.EventHandler

type EventHandlerFunc = core.EventHandlerFunc

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type Option func(*pipelineDeps)

type pipelineDeps struct {
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	configProvider core.ConfigProvider

	store       core.IdempotencyStore
	queue       core.WorkQueue
	deadLetters core.DeadLetterStore
	audit       core.AuditRecorder
	handler     core.EventHandler
	secrets     core.SecretProvider
	clock       func() time.Time
}

func WithLogger(logger core.Logger) Option {
	return func(d *pipelineDeps) { d.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(d *pipelineDeps) { d.loggerProvider = provider }
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(d *pipelineDeps) { d.metrics = metrics }
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(d *pipelineDeps) { d.configProvider = provider }
}

func WithIdempotencyStore(store core.IdempotencyStore) Option {
	return func(d *pipelineDeps) { d.store = store }
}

func WithWorkQueue(queue core.WorkQueue) Option {
	return func(d *pipelineDeps) { d.queue = queue }
}

func WithDeadLetterStore(store core.DeadLetterStore) Option {
	return func(d *pipelineDeps) { d.deadLetters = store }
}

func WithAuditRecorder(recorder core.AuditRecorder) Option {
	return func(d *pipelineDeps) { d.audit = recorder }
}

func WithEventHandler(handler core.EventHandler) Option {
	return func(d *pipelineDeps) { d.handler = handler }
}

// WithSecretProvider overrides the dead-letter payload cipher derived from
// config; used to plug an external KMS-style provider.
func WithSecretProvider(secrets core.SecretProvider) Option {
	return func(d *pipelineDeps) { d.secrets = secrets }
}

// WithRepositoryFactory wires all four durable stores from the sql factory.
// Individual With*Store options applied after it still win.
func WithRepositoryFactory(factory *sqlstore.RepositoryFactory) Option {
	return func(d *pipelineDeps) {
		if factory == nil {
			return
		}
		if store := factory.IdempotencyStore(); store != nil {
			d.store = store
		}
		if queue := factory.QueueStore(); queue != nil {
			d.queue = queue
		}
		if deadLetters := factory.DeadLetterStore(); deadLetters != nil {
			d.deadLetters = deadLetters
		}
		if audit := factory.AuditStore(); audit != nil {
			d.audit = audit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *pipelineDeps) {
		if now != nil {
			d.clock = now
		}
	}
}

// Pipeline is the assembled ingestion service. One instance serves both the
// ingress path (Ingest, SubscriptionChallenge) and the consumption path
// (RunWorkerPass, RunWorker, ReclaimStuck, ReplayDeadLetter).
type Pipeline struct {
	config   core.Config
	observer *core.Observer

	verifiers   *verify.Registry
	extractor   *identity.Extractor
	store       core.IdempotencyStore
	queue       core.WorkQueue
	deadLetters core.DeadLetterStore
	audit       core.AuditRecorder
	secrets     core.SecretProvider

	ingress *ingress.Handler
	workers *worker.Pool
}

// New validates configuration, derives the dead-letter cipher, and wires the
// ingress handler and worker pool. Misconfiguration fails here, never at the
// first delivery: an enabled dead-letter with a bad key refuses to start.
func New(cfg Config, options ...Option) (*Pipeline, error) {
	deps := pipelineDeps{clock: time.Now}
	for _, option := range options {
		if option != nil {
			option(&deps)
		}
	}

	if deps.configProvider != nil {
		loaded, err := deps.configProvider.Load(context.Background(), cfg)
		if err != nil {
			return nil, configurationFatal(err, "ingest: configuration load failed")
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, configurationFatal(err, "ingest: configuration is invalid")
	}
	if deps.handler == nil {
		return nil, configurationFatal(nil, "ingest: event handler is required")
	}

	secrets := deps.secrets
	if secrets == nil && cfg.DeadLetter.Enabled {
		cipher, err := security.NewPayloadCipherFromString(cfg.DeadLetter.EncryptionKey)
		if err != nil {
			return nil, configurationFatal(err, "ingest: dead-letter encryption key is unusable")
		}
		secrets = cipher
	}

	_, logger := gologger.Resolve(cfg.ServiceName, deps.loggerProvider, deps.logger)
	observer := core.NewObserver(logger, deps.metrics)

	store := deps.store
	if store == nil {
		store = core.NewInMemoryIdempotencyStore()
	}
	queue := deps.queue
	if queue == nil {
		queue = core.NewInMemoryWorkQueue()
	}
	deadLetters := deps.deadLetters
	if deadLetters == nil {
		if cfg.DeadLetter.Enabled {
			memStore, err := core.NewInMemoryDeadLetterStore(secrets)
			if err != nil {
				return nil, configurationFatal(err, "ingest: dead-letter store could not be built")
			}
			deadLetters = memStore
		} else {
			deadLetters = core.DisabledDeadLetterStore{}
		}
	}
	audit := deps.audit
	if audit == nil {
		audit = core.NewInMemoryAuditRecorder()
	}

	verifiers, err := verify.NewRegistry(cfg)
	if err != nil {
		return nil, configurationFatal(err, "ingest: provider verification setup failed")
	}
	extractor := identity.NewExtractor()

	ingressHandler, err := ingress.NewHandler(
		verifiers,
		extractor,
		store,
		queue,
		deadLetters,
		audit,
		ingress.WithObserver(observer),
		ingress.WithClock(deps.clock),
	)
	if err != nil {
		return nil, err
	}

	pool, err := worker.NewPool(
		store,
		queue,
		deadLetters,
		audit,
		deps.handler,
		cfg.Retry,
		cfg.Worker,
		worker.WithObserver(observer),
		worker.WithClock(deps.clock),
	)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		config:      cfg,
		observer:    observer,
		verifiers:   verifiers,
		extractor:   extractor,
		store:       store,
		queue:       queue,
		deadLetters: deadLetters,
		audit:       audit,
		secrets:     secrets,
		ingress:     ingressHandler,
		workers:     pool,
	}, nil
}

func (p *Pipeline) Config() core.Config {
	if p == nil {
		return core.Config{}
	}
	return p.config
}

// Ingest runs one inbound delivery through verification, dedup, and
// enqueueing. See ingress.Handler.Ingest for the status-code contract.
func (p *Pipeline) Ingest(ctx context.Context, req core.WebhookRequest) (core.IngestResult, error) {
	if p == nil || p.ingress == nil {
		return core.IngestResult{}, pipelineNotReady()
	}
	return p.ingress.Ingest(ctx, req)
}

// SubscriptionChallenge answers the Meta webhook registration handshake.
func (p *Pipeline) SubscriptionChallenge(provider core.Provider, query map[string]string) (string, error) {
	if p == nil || p.ingress == nil {
		return "", pipelineNotReady()
	}
	providerCfg, ok := p.config.ProviderFor(provider)
	if !ok {
		return "", goerrors.New("ingest: provider is not configured", goerrors.CategoryAuth).
			WithCode(http.StatusUnauthorized).
			WithTextCode(core.IngestErrorUnauthorized).
			WithMetadata(map[string]any{"provider": provider.String()})
	}
	return p.ingress.SubscriptionChallenge(provider, providerCfg, query)
}

// RunWorkerPass claims and processes one batch of due jobs, returning the
// number processed.
func (p *Pipeline) RunWorkerPass(ctx context.Context) (int, error) {
	if p == nil || p.workers == nil {
		return 0, pipelineNotReady()
	}
	return p.workers.RunPass(ctx)
}

// RunWorker blocks, polling the queue and sweeping stuck claims until ctx is
// cancelled.
func (p *Pipeline) RunWorker(ctx context.Context, pollInterval time.Duration) error {
	if p == nil || p.workers == nil {
		return pipelineNotReady()
	}
	return p.workers.Run(ctx, pollInterval)
}

// ReclaimStuck returns rows and jobs held in a claimed state past the claim
// timeout to the pending pool.
func (p *Pipeline) ReclaimStuck(ctx context.Context) (int, error) {
	if p == nil || p.workers == nil {
		return 0, pipelineNotReady()
	}
	return p.workers.ReclaimStuck(ctx)
}

// ReplayDeadLetter decrypts a parked payload and re-enqueues it for
// processing. The idempotency row keeps its history; the worker's
// MarkProcessing transition decides whether the replay may run, so replaying
// an already-processed event is a harmless no-op.
func (p *Pipeline) ReplayDeadLetter(ctx context.Context, eventID string, provider core.Provider) error {
	if p == nil || p.queue == nil || p.deadLetters == nil {
		return pipelineNotReady()
	}
	if p.secrets == nil {
		return goerrors.New("ingest: replay requires the dead-letter cipher", goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.IngestErrorConfiguration)
	}

	entry, err := p.deadLetters.Get(ctx, eventID, provider)
	if err != nil {
		return err
	}
	payload, err := p.secrets.Decrypt(ctx, entry.PayloadEncrypted)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "ingest: dead-letter payload could not be decrypted").
			WithTextCode(core.IngestErrorInternal).
			WithMetadata(map[string]any{"event_id": eventID, "provider": provider.String()})
	}

	if err := p.queue.Enqueue(ctx, core.Job{
		EventID:       entry.EventID,
		Provider:      entry.Provider,
		Payload:       payload,
		CorrelationID: entry.CorrelationID,
	}); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "ingest: replay enqueue failed").
			WithTextCode(core.IngestErrorInfrastructure).
			WithMetadata(map[string]any{"event_id": eventID, "provider": provider.String()})
	}

	p.observer.LogInfo(ctx, "ingest: dead letter replayed", map[string]any{
		"event_id":       entry.EventID,
		"provider":       entry.Provider.String(),
		"correlation_id": entry.CorrelationID,
	})
	return nil
}

// IdempotencyStore exposes the durable event-state reader, e.g. for the
// query layer.
func (p *Pipeline) IdempotencyStore() core.IdempotencyStore {
	if p == nil {
		return nil
	}
	return p.store
}

func (p *Pipeline) DeadLetterStore() core.DeadLetterStore {
	if p == nil {
		return nil
	}
	return p.deadLetters
}

func (p *Pipeline) AuditRecorder() core.AuditRecorder {
	if p == nil {
		return nil
	}
	return p.audit
}

func configurationFatal(cause error, message string) error {
	if cause == nil {
		return goerrors.New(message, goerrors.CategoryValidation).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.IngestErrorConfiguration)
	}
	return goerrors.Wrap(cause, goerrors.CategoryValidation, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.IngestErrorConfiguration)
}

func pipelineNotReady() error {
	return goerrors.New("ingest: pipeline is not initialized", goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.IngestErrorInternal)
}
