package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// In-memory store implementations back unit tests and single-process
// deployments. They honor the same state machine as the SQL stores but are
// not durable; production deployments use store/sql.

type InMemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*WebhookEvent
	Now     func() time.Time
}

func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		entries: map[string]*WebhookEvent{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func eventKey(eventID string, provider Provider) string {
	return provider.String() + ":" + strings.TrimSpace(eventID)
}

func (s *InMemoryIdempotencyStore) TryBeginProcessing(
	_ context.Context,
	eventID string,
	provider Provider,
	correlationID string,
) (ClaimResult, error) {
	if s == nil {
		return ClaimResult{}, fmt.Errorf("core: idempotency store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return ClaimResult{}, fmt.Errorf("core: event id is required")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	key := eventKey(eventID, provider)
	if existing, ok := s.entries[key]; ok {
		if existing.Status == EventStatusProcessed {
			return ClaimResult{AlreadyProcessed: true}, nil
		}
		return ClaimResult{AlreadyProcessing: true}, nil
	}
	s.entries[key] = &WebhookEvent{
		EventID:       eventID,
		Provider:      provider,
		Status:        EventStatusProcessing,
		ReceivedAt:    now,
		CorrelationID: strings.TrimSpace(correlationID),
		UpdatedAt:     now,
	}
	return ClaimResult{Claimed: true}, nil
}

func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, eventID string, provider Provider) error {
	if s == nil {
		return fmt.Errorf("core: idempotency store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[eventKey(eventID, provider)]
	if !ok {
		return fmt.Errorf("core: webhook event not found for provider %q event %q", provider, eventID)
	}
	now := s.now()
	entry.Status = EventStatusProcessed
	entry.ProcessedAt = &now
	entry.ErrorMessage = ""
	entry.UpdatedAt = now
	return nil
}

func (s *InMemoryIdempotencyStore) MarkFailed(
	_ context.Context,
	eventID string,
	provider Provider,
	errorMessage string,
) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("core: idempotency store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[eventKey(eventID, provider)]
	if !ok {
		return 0, fmt.Errorf("core: webhook event not found for provider %q event %q", provider, eventID)
	}
	entry.Status = EventStatusFailed
	entry.ErrorMessage = strings.TrimSpace(errorMessage)
	entry.RetryCount++
	entry.UpdatedAt = s.now()
	return entry.RetryCount, nil
}

func (s *InMemoryIdempotencyStore) Get(_ context.Context, eventID string, provider Provider) (WebhookEvent, error) {
	if s == nil {
		return WebhookEvent{}, fmt.Errorf("core: idempotency store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[eventKey(eventID, provider)]
	if !ok {
		return WebhookEvent{}, fmt.Errorf("core: webhook event not found for provider %q event %q", provider, eventID)
	}
	return *entry, nil
}

func (s *InMemoryIdempotencyStore) ReclaimStuck(_ context.Context, olderThan time.Duration) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("core: idempotency store is not configured")
	}
	if olderThan <= 0 {
		return 0, fmt.Errorf("core: reclaim window must be positive")
	}
	cutoff := s.now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()
	reclaimed := 0
	for _, entry := range s.entries {
		if entry.Status != EventStatusProcessing {
			continue
		}
		if entry.UpdatedAt.After(cutoff) {
			continue
		}
		entry.Status = EventStatusPending
		entry.UpdatedAt = s.now()
		reclaimed++
	}
	return reclaimed, nil
}

func (s *InMemoryIdempotencyStore) MarkProcessing(_ context.Context, eventID string, provider Provider) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("core: idempotency store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[eventKey(eventID, provider)]
	if !ok {
		return false, nil
	}
	if entry.Status == EventStatusProcessed {
		return false, nil
	}
	entry.Status = EventStatusProcessing
	entry.UpdatedAt = s.now()
	return true, nil
}

func (s *InMemoryIdempotencyStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type memoryQueueEntry struct {
	job       Job
	inFlight  bool
	dead      bool
	claimedAt time.Time
}

type InMemoryWorkQueue struct {
	mu      sync.Mutex
	entries map[string]*memoryQueueEntry
	Now     func() time.Time
}

func NewInMemoryWorkQueue() *InMemoryWorkQueue {
	return &InMemoryWorkQueue{
		entries: map[string]*memoryQueueEntry{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (q *InMemoryWorkQueue) Enqueue(_ context.Context, job Job) error {
	if q == nil {
		return fmt.Errorf("core: work queue is not configured")
	}
	job.EventID = strings.TrimSpace(job.EventID)
	if job.EventID == "" {
		return fmt.Errorf("core: job event id is required")
	}
	job.Payload = append([]byte(nil), job.Payload...)

	q.mu.Lock()
	defer q.mu.Unlock()
	key := eventKey(job.EventID, job.Provider)
	if _, exists := q.entries[key]; exists {
		return fmt.Errorf("core: job already enqueued for provider %q event %q", job.Provider, job.EventID)
	}
	q.entries[key] = &memoryQueueEntry{job: job}
	return nil
}

func (q *InMemoryWorkQueue) ClaimBatch(_ context.Context, limit int) ([]Job, error) {
	if q == nil {
		return nil, fmt.Errorf("core: work queue is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]string, 0, len(q.entries))
	for key := range q.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	claimed := make([]Job, 0, limit)
	for _, key := range keys {
		if len(claimed) >= limit {
			break
		}
		entry := q.entries[key]
		if entry.inFlight || entry.dead {
			continue
		}
		if entry.job.NextAttemptAt != nil && now.Before(*entry.job.NextAttemptAt) {
			continue
		}
		entry.inFlight = true
		entry.claimedAt = now
		entry.job.Attempts++
		claimed = append(claimed, entry.job)
	}
	return claimed, nil
}

func (q *InMemoryWorkQueue) Ack(_ context.Context, eventID string, provider Provider) error {
	if q == nil {
		return fmt.Errorf("core: work queue is not configured")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, eventKey(eventID, provider))
	return nil
}

func (q *InMemoryWorkQueue) Retry(
	_ context.Context,
	eventID string,
	provider Provider,
	_ error,
	nextAttemptAt time.Time,
) error {
	if q == nil {
		return fmt.Errorf("core: work queue is not configured")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.entries[eventKey(eventID, provider)]
	if !ok {
		return fmt.Errorf("core: job not found for provider %q event %q", provider, eventID)
	}
	entry.inFlight = false
	if nextAttemptAt.IsZero() {
		entry.dead = true
		entry.job.NextAttemptAt = nil
		return nil
	}
	next := nextAttemptAt.UTC()
	entry.job.NextAttemptAt = &next
	return nil
}

func (q *InMemoryWorkQueue) ReclaimStuck(_ context.Context, olderThan time.Duration) (int, error) {
	if q == nil {
		return 0, fmt.Errorf("core: work queue is not configured")
	}
	if olderThan <= 0 {
		return 0, fmt.Errorf("core: reclaim window must be positive")
	}
	cutoff := q.now().Add(-olderThan)

	q.mu.Lock()
	defer q.mu.Unlock()
	reclaimed := 0
	for _, entry := range q.entries {
		if !entry.inFlight || entry.dead {
			continue
		}
		if entry.claimedAt.After(cutoff) {
			continue
		}
		entry.inFlight = false
		entry.job.NextAttemptAt = nil
		reclaimed++
	}
	return reclaimed, nil
}

func (q *InMemoryWorkQueue) now() time.Time {
	if q != nil && q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

type InMemoryDeadLetterStore struct {
	mu      sync.Mutex
	secrets SecretProvider
	entries map[string]DeadLetterEntry
	Now     func() time.Time
}

func NewInMemoryDeadLetterStore(secrets SecretProvider) (*InMemoryDeadLetterStore, error) {
	if secrets == nil {
		return nil, fmt.Errorf("core: dead-letter secret provider is required")
	}
	return &InMemoryDeadLetterStore{
		secrets: secrets,
		entries: map[string]DeadLetterEntry{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *InMemoryDeadLetterStore) Store(ctx context.Context, in DeadLetterInput) error {
	if s == nil || s.secrets == nil {
		return fmt.Errorf("core: dead-letter store is not configured")
	}
	in.EventID = strings.TrimSpace(in.EventID)
	if in.EventID == "" {
		return fmt.Errorf("core: dead-letter event id is required")
	}
	sealed, err := s.secrets.Encrypt(ctx, in.Payload)
	if err != nil {
		return fmt.Errorf("core: encrypt dead-letter payload: %w", err)
	}

	now := s.now()
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[eventKey(in.EventID, in.Provider)] = DeadLetterEntry{
		EventID:          in.EventID,
		Provider:         in.Provider,
		ReceivedAt:       receivedAt,
		CorrelationID:    strings.TrimSpace(in.CorrelationID),
		PayloadEncrypted: sealed,
		ErrorMessage:     strings.TrimSpace(in.ErrorMessage),
		RetryCount:       in.RetryCount,
		FailedAt:         now,
	}
	return nil
}

func (s *InMemoryDeadLetterStore) Get(_ context.Context, eventID string, provider Provider) (DeadLetterEntry, error) {
	if s == nil {
		return DeadLetterEntry{}, fmt.Errorf("core: dead-letter store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[eventKey(eventID, provider)]
	if !ok {
		return DeadLetterEntry{}, fmt.Errorf(
			"core: dead-letter entry not found for provider %q event %q",
			provider,
			eventID,
		)
	}
	return entry, nil
}

func (s *InMemoryDeadLetterStore) List(_ context.Context, limit int, offset int) ([]DeadLetterEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("core: dead-letter store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if offset >= len(keys) {
		return nil, nil
	}
	keys = keys[offset:]
	if len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]DeadLetterEntry, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.entries[key])
	}
	return out, nil
}

func (s *InMemoryDeadLetterStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// DisabledDeadLetterStore backs configurations that turn dead-lettering off.
// Writes fail so callers fall through to their no-capacity path instead of
// silently dropping payloads; reads report not-found.
type DisabledDeadLetterStore struct{}

func (DisabledDeadLetterStore) Store(context.Context, DeadLetterInput) error {
	return fmt.Errorf("core: dead-letter storage is disabled")
}

func (DisabledDeadLetterStore) Get(_ context.Context, eventID string, provider Provider) (DeadLetterEntry, error) {
	return DeadLetterEntry{}, fmt.Errorf(
		"core: dead-letter entry not found for provider %q event %q: storage is disabled",
		provider,
		eventID,
	)
}

func (DisabledDeadLetterStore) List(context.Context, int, int) ([]DeadLetterEntry, error) {
	return nil, nil
}

type InMemoryAuditRecorder struct {
	mu      sync.Mutex
	records []AuditRecord
	Now     func() time.Time
}

func NewInMemoryAuditRecorder() *InMemoryAuditRecorder {
	return &InMemoryAuditRecorder{
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (r *InMemoryAuditRecorder) Record(_ context.Context, record AuditRecord) error {
	if r == nil {
		return fmt.Errorf("core: audit recorder is not configured")
	}
	if record.ResourceType == "" {
		record.ResourceType = AuditResourceWebhook
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

// ListByCorrelation returns the recorded trail for one correlation id in
// insertion order.
func (r *InMemoryAuditRecorder) ListByCorrelation(_ context.Context, correlationID string) ([]AuditRecord, error) {
	if r == nil {
		return nil, fmt.Errorf("core: audit recorder is not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AuditRecord
	for _, record := range r.records {
		if record.CorrelationID == correlationID {
			out = append(out, record)
		}
	}
	return out, nil
}

// Records returns a copy of everything recorded so far.
func (r *InMemoryAuditRecorder) Records() []AuditRecord {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuditRecord(nil), r.records...)
}

func (r *InMemoryAuditRecorder) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

var (
	_ IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
	_ WorkQueue        = (*InMemoryWorkQueue)(nil)
	_ DeadLetterStore  = (*InMemoryDeadLetterStore)(nil)
	_ DeadLetterStore  = DisabledDeadLetterStore{}
	_ AuditRecorder    = (*InMemoryAuditRecorder)(nil)
)
