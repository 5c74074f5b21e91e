package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-webhook-ingest/core"
)

type stubIdempotencyStore struct {
	mu           sync.Mutex
	event        core.WebhookEvent
	getCalls     int
	markedCalls  int
	getErr       error
	failedCounts int
}

func (s *stubIdempotencyStore) TryBeginProcessing(_ context.Context, eventID string, provider core.Provider, correlationID string) (core.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event = core.WebhookEvent{
		EventID:       eventID,
		Provider:      provider,
		Status:        core.EventStatusProcessing,
		CorrelationID: correlationID,
		ReceivedAt:    time.Now().UTC(),
	}
	return core.ClaimResult{Claimed: true}, nil
}

func (s *stubIdempotencyStore) MarkProcessing(_ context.Context, _ string, _ core.Provider) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event.Status = core.EventStatusProcessing
	return true, nil
}

func (s *stubIdempotencyStore) MarkProcessed(_ context.Context, _ string, _ core.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markedCalls++
	s.event.Status = core.EventStatusProcessed
	return nil
}

func (s *stubIdempotencyStore) MarkFailed(_ context.Context, _ string, _ core.Provider, errorMessage string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedCounts++
	s.event.Status = core.EventStatusFailed
	s.event.ErrorMessage = errorMessage
	s.event.RetryCount = s.failedCounts
	return s.failedCounts, nil
}

func (s *stubIdempotencyStore) Get(_ context.Context, _ string, _ core.Provider) (core.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return core.WebhookEvent{}, s.getErr
	}
	return s.event, nil
}

func (s *stubIdempotencyStore) ReclaimStuck(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

func (s *stubIdempotencyStore) baseGetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func newTestWebhookEventCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func TestCachedIdempotencyStore_Get_MissFetchThenHit(t *testing.T) {
	cacheService := newTestWebhookEventCacheService(t)
	base := &stubIdempotencyStore{
		event: core.WebhookEvent{
			EventID:    "evt_cache_1",
			Provider:   core.ProviderRazorpay,
			Status:     core.EventStatusProcessed,
			ReceivedAt: time.Now().UTC(),
		},
	}

	store, err := NewCachedIdempotencyStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached idempotency store: %v", err)
	}

	if _, err := store.Get(context.Background(), "evt_cache_1", core.ProviderRazorpay); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if got := base.baseGetCalls(); got != 1 {
		t.Fatalf("expected first get to fetch base store once, got %d", got)
	}

	if _, err := store.Get(context.Background(), "evt_cache_1", core.ProviderRazorpay); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if got := base.baseGetCalls(); got != 1 {
		t.Fatalf("expected second get to be cache hit, base get calls=%d", got)
	}
}

func TestCachedIdempotencyStore_WritesInvalidateCachedRow(t *testing.T) {
	cacheService := newTestWebhookEventCacheService(t)
	base := &stubIdempotencyStore{
		event: core.WebhookEvent{
			EventID:  "evt_cache_2",
			Provider: core.ProviderWhatsApp,
			Status:   core.EventStatusProcessing,
		},
	}

	store, err := NewCachedIdempotencyStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached idempotency store: %v", err)
	}

	if _, err := store.Get(context.Background(), "evt_cache_2", core.ProviderWhatsApp); err != nil {
		t.Fatalf("prime cache with get: %v", err)
	}
	if got := base.baseGetCalls(); got != 1 {
		t.Fatalf("expected one base read after cache prime, got %d", got)
	}

	if err := store.MarkProcessed(context.Background(), "evt_cache_2", core.ProviderWhatsApp); err != nil {
		t.Fatalf("mark processed through cached store: %v", err)
	}

	event, err := store.Get(context.Background(), "evt_cache_2", core.ProviderWhatsApp)
	if err != nil {
		t.Fatalf("get after invalidation: %v", err)
	}
	if got := base.baseGetCalls(); got != 2 {
		t.Fatalf("expected invalidated key to force second base read, got %d", got)
	}
	if event.Status != core.EventStatusProcessed {
		t.Fatalf("expected refreshed status %q, got %q", core.EventStatusProcessed, event.Status)
	}
}

func TestCachedIdempotencyStore_MarkFailedInvalidates(t *testing.T) {
	cacheService := newTestWebhookEventCacheService(t)
	base := &stubIdempotencyStore{
		event: core.WebhookEvent{
			EventID:  "evt_cache_3",
			Provider: core.ProviderFacebook,
			Status:   core.EventStatusProcessing,
		},
	}

	store, err := NewCachedIdempotencyStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached idempotency store: %v", err)
	}

	if _, err := store.Get(context.Background(), "evt_cache_3", core.ProviderFacebook); err != nil {
		t.Fatalf("prime cache with get: %v", err)
	}

	retryCount, err := store.MarkFailed(context.Background(), "evt_cache_3", core.ProviderFacebook, "handler timeout")
	if err != nil {
		t.Fatalf("mark failed through cached store: %v", err)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", retryCount)
	}

	event, err := store.Get(context.Background(), "evt_cache_3", core.ProviderFacebook)
	if err != nil {
		t.Fatalf("get after failed invalidation: %v", err)
	}
	if event.Status != core.EventStatusFailed || event.RetryCount != 1 {
		t.Fatalf("expected refreshed failed row with retry count 1, got status=%q retries=%d", event.Status, event.RetryCount)
	}
}

func TestWebhookEventCacheKey_Contract(t *testing.T) {
	key, err := WebhookEventCacheKey("wamid.HBgM/ABC 123", core.ProviderWhatsApp)
	if err != nil {
		t.Fatalf("build cache key: %v", err)
	}

	const expected = "go-webhook-ingest::webhook_event::v1::whatsapp::wamid.HBgM%2FABC%20123"
	if key != expected {
		t.Fatalf("unexpected cache key contract: got %q want %q", key, expected)
	}

	if _, err := WebhookEventCacheKey("  ", core.ProviderWhatsApp); err == nil {
		t.Fatal("expected error for blank event id")
	}
}

func TestCachedIdempotencyStore_PropagatesBaseErrors(t *testing.T) {
	cacheService := newTestWebhookEventCacheService(t)
	base := &stubIdempotencyStore{getErr: errors.New("sqlstore: webhook event not found")}

	store, err := NewCachedIdempotencyStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached idempotency store: %v", err)
	}

	if _, err := store.Get(context.Background(), "evt_missing", core.ProviderPayPal); err == nil {
		t.Fatal("expected base error propagation")
	}
}
