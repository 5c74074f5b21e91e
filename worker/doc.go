// Package worker drains the work queue with a bounded pool, runs the
// business handler under a timeout, and converts every outcome into an
// idempotency-store transition. Failures are classified: retryable ones are
// rescheduled on the business backoff schedule until the retry ceiling,
// non-retryable ones dead-letter immediately. A periodic reclaim sweep
// recovers rows and jobs abandoned by crashed workers.
package worker
