package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-webhook-ingest/core"
)

// Pool consumes claimed jobs with bounded concurrency. One Pool instance is
// safe to share; RunPass and Run may be called from multiple goroutines.
type Pool struct {
	store       core.IdempotencyStore
	queue       core.WorkQueue
	deadLetters core.DeadLetterStore
	audit       core.AuditRecorder
	handler     core.EventHandler
	observer    *core.Observer

	retry  core.RetryConfig
	config core.WorkerConfig
	now    func() time.Time
}

type PoolOption func(*Pool)

func WithObserver(observer *core.Observer) PoolOption {
	return func(p *Pool) { p.observer = observer }
}

func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPool(
	store core.IdempotencyStore,
	queue core.WorkQueue,
	deadLetters core.DeadLetterStore,
	audit core.AuditRecorder,
	handler core.EventHandler,
	retry core.RetryConfig,
	config core.WorkerConfig,
	options ...PoolOption,
) (*Pool, error) {
	if store == nil {
		return nil, workerInternal("worker: idempotency store is required", nil)
	}
	if queue == nil {
		return nil, workerInternal("worker: work queue is required", nil)
	}
	if deadLetters == nil {
		return nil, workerInternal("worker: dead letter store is required", nil)
	}
	if handler == nil {
		return nil, workerInternal("worker: event handler is required", nil)
	}
	if config.Width <= 0 {
		config.Width = 5
	}
	if config.ClaimBatchSize <= 0 {
		config.ClaimBatchSize = config.Width * 2
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 8 * time.Second
	}
	if config.ClaimTimeout <= 0 {
		config.ClaimTimeout = 10 * time.Minute
	}
	if retry.MaxRetries <= 0 {
		retry.MaxRetries = 3
	}
	pool := &Pool{
		store:       store,
		queue:       queue,
		deadLetters: deadLetters,
		audit:       audit,
		handler:     handler,
		retry:       retry,
		config:      config,
		observer:    core.NewObserver(nil, nil),
		now:         time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(pool)
		}
	}
	return pool, nil
}

// RunPass claims one batch of due jobs and processes it across the pool
// width. It returns the number of jobs processed; zero means the queue had
// nothing due.
func (p *Pool) RunPass(ctx context.Context) (int, error) {
	jobs, err := p.queue.ClaimBatch(ctx, p.config.ClaimBatchSize)
	if err != nil {
		return 0, workerWrapUnavailable(err, "worker: claim batch failed")
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	slots := make(chan struct{}, p.config.Width)
	var wg sync.WaitGroup
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		slots <- struct{}{}
		wg.Add(1)
		go func(job core.Job) {
			defer wg.Done()
			defer func() { <-slots }()
			p.ProcessOne(ctx, job)
		}(job)
	}
	wg.Wait()
	return len(jobs), nil
}

// Run polls the queue until the context is cancelled, sleeping pollInterval
// between empty passes and sweeping stuck claims once per claim-timeout
// window.
func (p *Pool) Run(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(p.config.ClaimTimeout)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			if _, err := p.ReclaimStuck(ctx); err != nil {
				p.observer.LogError(ctx, "worker: reclaim sweep failed", map[string]any{
					"error": err.Error(),
				})
			}
		case <-ticker.C:
			if _, err := p.RunPass(ctx); err != nil {
				p.observer.LogError(ctx, "worker: pass failed", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
}

// ProcessOne runs a single claimed job through its full state machine. Every
// exit path lands the idempotency row in a definite state; a panic in the
// business handler is treated as a retryable failure.
func (p *Pool) ProcessOne(ctx context.Context, job core.Job) {
	startedAt := p.now()
	fields := map[string]any{
		"provider":       job.Provider.String(),
		"event_id":       job.EventID,
		"correlation_id": job.CorrelationID,
	}

	claimed, err := p.store.MarkProcessing(ctx, job.EventID, job.Provider)
	if err != nil {
		// Store unreachable: leave the job in flight so the reclaim sweep
		// redelivers it once the store recovers.
		p.observer.Observe(ctx, startedAt, "worker.claim", err, fields)
		return
	}
	if !claimed {
		// Already processed (or the row vanished): the queue redelivered a
		// job whose effect already happened. Drop it.
		if err := p.queue.Ack(ctx, job.EventID, job.Provider); err != nil {
			p.observer.LogError(ctx, "worker: ack of settled job failed", fields)
		}
		p.observer.Observe(ctx, startedAt, "worker.skip", nil, fields)
		return
	}

	handlerErr := p.invokeHandler(ctx, job)
	if handlerErr == nil {
		p.settleSuccess(ctx, startedAt, job, fields)
		return
	}
	p.settleFailure(ctx, startedAt, job, handlerErr, fields)
}

// ReclaimStuck sweeps both the idempotency store and the queue for claims
// older than the configured ceiling, so a crashed worker never strands an
// event in processing forever.
func (p *Pool) ReclaimStuck(ctx context.Context) (int, error) {
	rows, err := p.store.ReclaimStuck(ctx, p.config.ClaimTimeout)
	if err != nil {
		return 0, workerWrapUnavailable(err, "worker: reclaim idempotency rows failed")
	}
	jobs, err := p.queue.ReclaimStuck(ctx, p.config.ClaimTimeout)
	if err != nil {
		return rows, workerWrapUnavailable(err, "worker: reclaim queue jobs failed")
	}
	if rows > 0 || jobs > 0 {
		p.observer.LogInfo(ctx, "worker: reclaimed stuck claims", map[string]any{
			"rows": rows,
			"jobs": jobs,
		})
	}
	return rows + jobs, nil
}

func (p *Pool) invokeHandler(ctx context.Context, job core.Job) (err error) {
	handlerCtx, cancel := context.WithTimeout(ctx, p.config.HandlerTimeout)
	defer cancel()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = goerrors.New(
				fmt.Sprintf("worker: handler panicked: %v", recovered),
				goerrors.CategoryInternal,
			).WithTextCode(core.IngestErrorRetryable)
		}
	}()
	return p.handler.Handle(handlerCtx, job.Provider, job.Payload)
}

func (p *Pool) settleSuccess(ctx context.Context, startedAt time.Time, job core.Job, fields map[string]any) {
	if err := p.store.MarkProcessed(ctx, job.EventID, job.Provider); err != nil {
		// The effect happened but the row did not settle; keep the job so a
		// redelivery can retry the transition. MarkProcessing will refuse the
		// handler rerun once the row eventually reads processed.
		p.observer.Observe(ctx, startedAt, "worker.settle", err, fields)
		return
	}
	if err := p.queue.Ack(ctx, job.EventID, job.Provider); err != nil {
		p.observer.LogError(ctx, "worker: ack after success failed", fields)
	}
	p.recordAudit(ctx, job, core.AuditActionProcessed, core.AuditStatusSuccess, "")
	p.observer.Observe(ctx, startedAt, "worker.processed", nil, fields)
}

func (p *Pool) settleFailure(
	ctx context.Context,
	startedAt time.Time,
	job core.Job,
	handlerErr error,
	fields map[string]any,
) {
	retryCount, err := p.store.MarkFailed(ctx, job.EventID, job.Provider, handlerErr.Error())
	if err != nil {
		p.observer.Observe(ctx, startedAt, "worker.settle", err, fields)
		return
	}

	if core.IsNonRetryable(handlerErr) {
		p.deadLetter(ctx, startedAt, job, handlerErr, retryCount, fields)
		return
	}
	if retryCount >= p.retry.MaxRetries {
		p.deadLetter(ctx, startedAt, job, handlerErr, retryCount, fields)
		return
	}

	nextAttemptAt := p.now().Add(p.retry.RetryDelay(retryCount))
	if err := p.queue.Retry(ctx, job.EventID, job.Provider, handlerErr, nextAttemptAt); err != nil {
		p.observer.LogError(ctx, "worker: retry scheduling failed", fields)
	}
	p.observer.Observe(ctx, startedAt, "worker.retry", handlerErr, fields)
}

func (p *Pool) deadLetter(
	ctx context.Context,
	startedAt time.Time,
	job core.Job,
	cause error,
	retryCount int,
	fields map[string]any,
) {
	input := core.DeadLetterInput{
		EventID:       job.EventID,
		Provider:      job.Provider,
		ReceivedAt:    p.now(),
		CorrelationID: job.CorrelationID,
		Payload:       job.Payload,
		ErrorMessage:  cause.Error(),
		RetryCount:    retryCount,
	}
	if err := p.deadLetters.Store(ctx, input); err != nil {
		// Could not dead-letter: leave the exhausted job in the queue so the
		// reclaim sweep surfaces it again rather than dropping the payload.
		p.observer.Observe(ctx, startedAt, "worker.deadletter", err, fields)
		return
	}
	if err := p.queue.Ack(ctx, job.EventID, job.Provider); err != nil {
		p.observer.LogError(ctx, "worker: ack after dead-letter failed", fields)
	}
	p.recordAudit(ctx, job, core.AuditActionFailed, core.AuditStatusFailure, cause.Error())
	p.observer.Observe(ctx, startedAt, "worker.deadlettered", cause, fields)
}

func (p *Pool) recordAudit(
	ctx context.Context,
	job core.Job,
	action core.AuditAction,
	status core.AuditStatus,
	errorMessage string,
) {
	if p.audit == nil {
		return
	}
	record := core.AuditRecord{
		ResourceType:  core.AuditResourceWebhook,
		Action:        action,
		CorrelationID: job.CorrelationID,
		Metadata: map[string]any{
			"event_id": job.EventID,
			"provider": job.Provider.String(),
		},
		Status:       status,
		ErrorMessage: errorMessage,
		CreatedAt:    p.now(),
	}
	if err := p.audit.Record(ctx, record); err != nil {
		p.observer.LogError(ctx, "worker: audit record failed", map[string]any{
			"action":         string(action),
			"event_id":       job.EventID,
			"provider":       job.Provider.String(),
			"correlation_id": job.CorrelationID,
			"error":          err.Error(),
		})
	}
}
