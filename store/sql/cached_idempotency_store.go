package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-webhook-ingest/core"
)

const webhookEventCacheKeyPrefix = "go-webhook-ingest::webhook_event::v1"

// CachedIdempotencyStore layers a read cache over the durable store. The
// cache is a non-authoritative fast path for Get only: every write goes to
// the base store first and then drops the cached row, so correctness never
// depends on cache state.
type CachedIdempotencyStore struct {
	base  core.IdempotencyStore
	cache repositorycache.CacheService
}

func NewCachedIdempotencyStore(
	base core.IdempotencyStore,
	cacheService repositorycache.CacheService,
) (*CachedIdempotencyStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base idempotency store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: idempotency cache service is required")
	}
	return &CachedIdempotencyStore{base: base, cache: cacheService}, nil
}

// WebhookEventCacheKey returns the deterministic cache key for an event row:
// go-webhook-ingest::webhook_event::v1::<provider>::<event_id> with each
// segment URL-path escaped.
func WebhookEventCacheKey(eventID string, provider core.Provider) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", fmt.Errorf("sqlstore: event id is required")
	}
	segments := []string{provider.String(), eventID}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(append([]string{webhookEventCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedIdempotencyStore) TryBeginProcessing(
	ctx context.Context,
	eventID string,
	provider core.Provider,
	correlationID string,
) (core.ClaimResult, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.ClaimResult{}, fmt.Errorf("sqlstore: cached idempotency store is not configured")
	}
	claim, err := s.base.TryBeginProcessing(ctx, eventID, provider, correlationID)
	if err != nil {
		return core.ClaimResult{}, err
	}
	if err := s.invalidate(ctx, eventID, provider); err != nil {
		return core.ClaimResult{}, err
	}
	return claim, nil
}

func (s *CachedIdempotencyStore) MarkProcessing(
	ctx context.Context,
	eventID string,
	provider core.Provider,
) (bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return false, fmt.Errorf("sqlstore: cached idempotency store is not configured")
	}
	claimed, err := s.base.MarkProcessing(ctx, eventID, provider)
	if err != nil {
		return false, err
	}
	if err := s.invalidate(ctx, eventID, provider); err != nil {
		return false, err
	}
	return claimed, nil
}

func (s *CachedIdempotencyStore) MarkProcessed(
	ctx context.Context,
	eventID string,
	provider core.Provider,
) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached idempotency store is not configured")
	}
	if err := s.base.MarkProcessed(ctx, eventID, provider); err != nil {
		return err
	}
	return s.invalidate(ctx, eventID, provider)
}

func (s *CachedIdempotencyStore) MarkFailed(
	ctx context.Context,
	eventID string,
	provider core.Provider,
	errorMessage string,
) (int, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return 0, fmt.Errorf("sqlstore: cached idempotency store is not configured")
	}
	retryCount, err := s.base.MarkFailed(ctx, eventID, provider, errorMessage)
	if err != nil {
		return 0, err
	}
	if err := s.invalidate(ctx, eventID, provider); err != nil {
		return 0, err
	}
	return retryCount, nil
}

func (s *CachedIdempotencyStore) Get(
	ctx context.Context,
	eventID string,
	provider core.Provider,
) (core.WebhookEvent, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: cached idempotency store is not configured")
	}
	cacheKey, err := WebhookEventCacheKey(eventID, provider)
	if err != nil {
		return core.WebhookEvent{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.WebhookEvent, error) {
		return s.base.Get(ctx, eventID, provider)
	})
}

func (s *CachedIdempotencyStore) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	if s == nil || s.base == nil {
		return 0, fmt.Errorf("sqlstore: cached idempotency store is not configured")
	}
	// The sweep touches an unknown set of rows; stale cached reads age out
	// on their own TTL rather than being enumerated here.
	return s.base.ReclaimStuck(ctx, olderThan)
}

func (s *CachedIdempotencyStore) invalidate(ctx context.Context, eventID string, provider core.Provider) error {
	cacheKey, err := WebhookEventCacheKey(eventID, provider)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.IdempotencyStore = (*CachedIdempotencyStore)(nil)
