package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-webhook-ingest/core"
)

// PipelineService is the mutating surface the commands drive. The root
// package's Pipeline satisfies it.
type PipelineService interface {
	Ingest(ctx context.Context, req core.WebhookRequest) (core.IngestResult, error)
	RunWorkerPass(ctx context.Context) (int, error)
	ReclaimStuck(ctx context.Context) (int, error)
	ReplayDeadLetter(ctx context.Context, eventID string, provider core.Provider) error
}

type IngestWebhookCommand struct {
	service PipelineService
}

func NewIngestWebhookCommand(service PipelineService) *IngestWebhookCommand {
	return &IngestWebhookCommand{service: service}
}

func (c *IngestWebhookCommand) Execute(ctx context.Context, msg IngestWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ingest service is required")
	}
	out, err := c.service.Ingest(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RunWorkerPassCommand struct {
	service PipelineService
}

func NewRunWorkerPassCommand(service PipelineService) *RunWorkerPassCommand {
	return &RunWorkerPassCommand{service: service}
}

func (c *RunWorkerPassCommand) Execute(ctx context.Context, _ RunWorkerPassMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: worker service is required")
	}
	out, err := c.service.RunWorkerPass(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReclaimStuckCommand struct {
	service PipelineService
}

func NewReclaimStuckCommand(service PipelineService) *ReclaimStuckCommand {
	return &ReclaimStuckCommand{service: service}
}

func (c *ReclaimStuckCommand) Execute(ctx context.Context, _ ReclaimStuckMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: reclaim service is required")
	}
	out, err := c.service.ReclaimStuck(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReplayDeadLetterCommand struct {
	service PipelineService
}

func NewReplayDeadLetterCommand(service PipelineService) *ReplayDeadLetterCommand {
	return &ReplayDeadLetterCommand{service: service}
}

func (c *ReplayDeadLetterCommand) Execute(ctx context.Context, msg ReplayDeadLetterMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: replay service is required")
	}
	return c.service.ReplayDeadLetter(ctx, msg.EventID, msg.Provider)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
