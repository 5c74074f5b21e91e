package adapters_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-webhook-ingest/adapters/gocommand"
	"github.com/goliatone/go-webhook-ingest/adapters/gojob"
	"github.com/goliatone/go-webhook-ingest/adapters/gologger"
	ingestcommand "github.com/goliatone/go-webhook-ingest/command"
	"github.com/goliatone/go-webhook-ingest/core"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	ctx := context.Background()

	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, _, jobProvider, jobLogger := gologger.ResolveForJob("webhook-ingest", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	enqueueProbe := &compatEnqueuer{}
	enqueueAdapter := gojob.NewEnqueuerAdapter(enqueueProbe)
	if err := enqueueAdapter.Enqueue(ctx, gojob.ExecutionMessageForJob(core.Job{
		EventID:       "evt_compat_1",
		Provider:      core.ProviderRazorpay,
		CorrelationID: "corr_compat_1",
	})); err != nil {
		t.Fatalf("enqueue via gojob adapter: %v", err)
	}
	if enqueueProbe.last == nil || enqueueProbe.last.JobID != gojob.JobIDProcessWebhook {
		t.Fatalf("expected go-job message mapping through enqueuer adapter")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := commandAdapter.RegisterCommand(command.CommandFunc[compatMessage](func(context.Context, compatMessage) error {
		return nil
	})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get("webhookingest.compat.command"); !ok {
		t.Fatalf("expected command resolver hook to mirror command into go-job queue registry")
	}
}

func TestRuntimeCompatibility_CommandDispatchThroughWrappers(t *testing.T) {
	svc := &compatPipelineService{}
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())

	ingestSub, err := gocommand.RegisterAndSubscribe(adapter, ingestcommand.NewIngestWebhookCommand(svc))
	if err != nil {
		t.Fatalf("register ingest wrapper: %v", err)
	}
	defer ingestSub.Unsubscribe()

	replaySub, err := gocommand.RegisterAndSubscribe(adapter, ingestcommand.NewReplayDeadLetterCommand(svc))
	if err != nil {
		t.Fatalf("register replay wrapper: %v", err)
	}
	defer replaySub.Unsubscribe()

	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize adapter: %v", err)
	}

	err = gocommand.Dispatch(context.Background(), ingestcommand.IngestWebhookMessage{Request: core.WebhookRequest{
		Provider: core.ProviderRazorpay,
		Body:     []byte(`{"event":"payment.captured"}`),
	}})
	if err != nil {
		t.Fatalf("dispatch ingest message: %v", err)
	}
	if svc.ingestCalls != 1 || svc.lastIngestProvider != core.ProviderRazorpay {
		t.Fatalf("expected ingest wrapper invocation through dispatch")
	}

	err = gocommand.Dispatch(context.Background(), ingestcommand.ReplayDeadLetterMessage{
		EventID:  "evt_dead_1",
		Provider: core.ProviderPayPal,
	})
	if err != nil {
		t.Fatalf("dispatch replay message: %v", err)
	}
	if svc.replayCalls != 1 || svc.lastReplayEventID != "evt_dead_1" {
		t.Fatalf("expected replay wrapper invocation through dispatch")
	}
}

type compatMessage struct{}

func (compatMessage) Type() string { return "webhookingest.compat.command" }

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	e.last = msg
	return nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }

type compatPipelineService struct {
	ingestCalls        int
	lastIngestProvider core.Provider
	replayCalls        int
	lastReplayEventID  string
}

func (s *compatPipelineService) Ingest(_ context.Context, req core.WebhookRequest) (core.IngestResult, error) {
	s.ingestCalls++
	s.lastIngestProvider = req.Provider
	return core.IngestResult{Accepted: true, StatusCode: 200}, nil
}

func (s *compatPipelineService) RunWorkerPass(context.Context) (int, error) {
	return 0, nil
}

func (s *compatPipelineService) ReclaimStuck(context.Context) (int, error) {
	return 0, nil
}

func (s *compatPipelineService) ReplayDeadLetter(_ context.Context, eventID string, _ core.Provider) error {
	s.replayCalls++
	s.lastReplayEventID = eventID
	return nil
}
