package ingest

import (
	"fmt"

	ingestcommand "github.com/goliatone/go-webhook-ingest/command"
	ingestquery "github.com/goliatone/go-webhook-ingest/query"
)

// Commands bundles the mutating message handlers for dispatcher wiring.
type Commands struct {
	IngestWebhook    *ingestcommand.IngestWebhookCommand
	RunWorkerPass    *ingestcommand.RunWorkerPassCommand
	ReclaimStuck     *ingestcommand.ReclaimStuckCommand
	ReplayDeadLetter *ingestcommand.ReplayDeadLetterCommand
}

// Queries bundles the read-side handlers.
type Queries struct {
	GetWebhookEvent *ingestquery.GetWebhookEventQuery
	GetDeadLetter   *ingestquery.GetDeadLetterQuery
	ListDeadLetters *ingestquery.ListDeadLettersQuery
	ListAuditTrail  *ingestquery.ListAuditTrailQuery
}

// Facade exposes the pipeline as go-command commands and queries.
type Facade struct {
	pipeline *Pipeline
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	auditReader ingestquery.AuditTrailReader
}

// WithAuditTrailReader overrides the audit reader resolved from the
// pipeline's recorder.
func WithAuditTrailReader(reader ingestquery.AuditTrailReader) FacadeOption {
	return func(options *facadeOptions) {
		options.auditReader = reader
	}
}

func NewFacade(pipeline *Pipeline, opts ...FacadeOption) (*Facade, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("ingest: pipeline is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	auditReader := cfg.auditReader
	if auditReader == nil {
		// The sql audit store and the in-memory recorder both answer
		// correlation lookups; a bare Record-only recorder leaves the query
		// unresolved and it fails with a dependency error when used.
		if reader, ok := pipeline.AuditRecorder().(ingestquery.AuditTrailReader); ok {
			auditReader = reader
		}
	}

	facade := &Facade{pipeline: pipeline}
	facade.commands = Commands{
		IngestWebhook:    ingestcommand.NewIngestWebhookCommand(pipeline),
		RunWorkerPass:    ingestcommand.NewRunWorkerPassCommand(pipeline),
		ReclaimStuck:     ingestcommand.NewReclaimStuckCommand(pipeline),
		ReplayDeadLetter: ingestcommand.NewReplayDeadLetterCommand(pipeline),
	}
	facade.queries = Queries{
		GetWebhookEvent: ingestquery.NewGetWebhookEventQuery(pipeline.IdempotencyStore()),
		GetDeadLetter:   ingestquery.NewGetDeadLetterQuery(pipeline.DeadLetterStore()),
		ListDeadLetters: ingestquery.NewListDeadLettersQuery(pipeline.DeadLetterStore()),
		ListAuditTrail:  ingestquery.NewListAuditTrailQuery(auditReader),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Pipeline() *Pipeline {
	if f == nil {
		return nil
	}
	return f.pipeline
}
