package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-webhook-ingest/core"
	"github.com/goliatone/go-webhook-ingest/migrations"
	"github.com/goliatone/go-webhook-ingest/security"
	sqlstore "github.com/goliatone/go-webhook-ingest/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-webhook-ingest-tests"
}

func newSQLiteFactory(t *testing.T) (*sqlstore.RepositoryFactory, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:webhook-ingest-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{driver: "sqlite3", server: dsn}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = migrations.Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.DialectSQLite)
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	cipher, err := security.NewPayloadCipherFromString("0123456789abcdef0123456789abcdef")
	if err != nil {
		_ = client.Close()
		t.Fatalf("new payload cipher: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, cipher)
	if err != nil {
		_ = client.Close()
		t.Fatalf("new repository factory: %v", err)
	}
	return factory, func() {
		_ = client.Close()
	}
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	factory, cleanup := newSQLiteFactory(t)
	defer cleanup()

	for _, table := range []string{
		"webhook_idempotency",
		"webhook_jobs",
		"webhook_dead_letter",
		"webhook_audit_log",
	} {
		var name string
		if err := factory.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &name); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if name != table {
			t.Fatalf("expected table %q, got %q", table, name)
		}
	}
}

func TestIdempotencyStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newSQLiteFactory(t)
	defer cleanup()
	store := factory.IdempotencyStore()

	claim, err := store.TryBeginProcessing(ctx, "pay_1", core.ProviderRazorpay, "corr-1")
	if err != nil {
		t.Fatalf("TryBeginProcessing: %v", err)
	}
	if !claim.Claimed {
		t.Fatalf("expected fresh claim, got %+v", claim)
	}

	claim, err = store.TryBeginProcessing(ctx, "pay_1", core.ProviderRazorpay, "corr-2")
	if err != nil {
		t.Fatalf("TryBeginProcessing duplicate: %v", err)
	}
	if !claim.AlreadyProcessing {
		t.Fatalf("expected duplicate-in-flight, got %+v", claim)
	}

	// Same event id under a different provider is a distinct identity.
	claim, err = store.TryBeginProcessing(ctx, "pay_1", core.ProviderPayPal, "corr-3")
	if err != nil {
		t.Fatalf("TryBeginProcessing other provider: %v", err)
	}
	if !claim.Claimed {
		t.Fatalf("expected independent claim per provider, got %+v", claim)
	}

	retryCount, err := store.MarkFailed(ctx, "pay_1", core.ProviderRazorpay, "handler failed")
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", retryCount)
	}
	retryCount, err = store.MarkFailed(ctx, "pay_1", core.ProviderRazorpay, "handler failed again")
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if retryCount != 2 {
		t.Fatalf("expected retry_count 2, got %d", retryCount)
	}

	claimed, err := store.MarkProcessing(ctx, "pay_1", core.ProviderRazorpay)
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if !claimed {
		t.Fatal("expected failed row to be claimable")
	}

	if err := store.MarkProcessed(ctx, "pay_1", core.ProviderRazorpay); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	event, err := store.Get(ctx, "pay_1", core.ProviderRazorpay)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if event.Status != core.EventStatusProcessed || event.ProcessedAt == nil {
		t.Fatalf("expected processed row with timestamp, got %+v", event)
	}
	if event.RetryCount != 2 {
		t.Fatalf("expected preserved retry_count, got %d", event.RetryCount)
	}

	claim, err = store.TryBeginProcessing(ctx, "pay_1", core.ProviderRazorpay, "corr-4")
	if err != nil {
		t.Fatalf("TryBeginProcessing after processed: %v", err)
	}
	if !claim.AlreadyProcessed {
		t.Fatalf("expected already-processed, got %+v", claim)
	}

	claimed, err = store.MarkProcessing(ctx, "pay_1", core.ProviderRazorpay)
	if err != nil {
		t.Fatalf("MarkProcessing after processed: %v", err)
	}
	if claimed {
		t.Fatal("expected processed row to refuse re-claim")
	}
}

func TestIdempotencyStoreConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newSQLiteFactory(t)
	defer cleanup()
	store := factory.IdempotencyStore()

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]core.ClaimResult, attempts)
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.TryBeginProcessing(ctx, "evt-race", core.ProviderWhatsApp, fmt.Sprintf("corr-%d", i))
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("TryBeginProcessing goroutine %d: %v", i, errs[i])
		}
		if results[i].Claimed {
			winners++
		} else if !results[i].AlreadyProcessing && !results[i].AlreadyProcessed {
			t.Fatalf("goroutine %d saw no claim outcome: %+v", i, results[i])
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestIdempotencyStoreReclaimStuck(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newSQLiteFactory(t)
	defer cleanup()
	store := factory.IdempotencyStore()

	if _, err := store.TryBeginProcessing(ctx, "evt-stuck", core.ProviderFacebook, "corr-1"); err != nil {
		t.Fatalf("TryBeginProcessing: %v", err)
	}

	// Backdate the claim past the ceiling, as if the worker crashed.
	stale := time.Now().UTC().Add(-time.Hour)
	if _, err := factory.DB().NewRaw(
		"UPDATE webhook_idempotency SET updated_at = ? WHERE event_id = ?",
		stale,
		"evt-stuck",
	).Exec(ctx); err != nil {
		t.Fatalf("backdate row: %v", err)
	}

	reclaimed, err := store.ReclaimStuck(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStuck: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected one reclaimed row, got %d", reclaimed)
	}

	event, err := store.Get(ctx, "evt-stuck", core.ProviderFacebook)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if event.Status != core.EventStatusPending {
		t.Fatalf("expected pending after reclaim, got %q", event.Status)
	}
}

func TestQueueStoreClaimRetryAck(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newSQLiteFactory(t)
	defer cleanup()
	queue := factory.QueueStore()

	job := core.Job{
		EventID:       "evt-q1",
		Provider:      core.ProviderWhatsApp,
		Payload:       []byte(`{"entry":[]}`),
		CorrelationID: "corr-q1",
	}
	if err := queue.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Double-enqueue of the same event is a no-op.
	if err := queue.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue duplicate: %v", err)
	}

	claimed, err := queue.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(claimed) != 1 || claimed[0].EventID != "evt-q1" || claimed[0].Attempts != 1 {
		t.Fatalf("expected single claimed job with attempts=1, got %+v", claimed)
	}

	// In-flight jobs are invisible to a second claim.
	claimed, err = queue.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimBatch second: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no claimable jobs, got %+v", claimed)
	}

	// Retry with a future eligibility keeps the job parked until due.
	if err := queue.Retry(ctx, "evt-q1", core.ProviderWhatsApp, fmt.Errorf("flaky"), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	claimed, err = queue.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimBatch not due: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected delayed job to stay parked, got %+v", claimed)
	}

	if _, err := factory.DB().NewRaw(
		"UPDATE webhook_jobs SET next_attempt_at = ? WHERE event_id = ?",
		time.Now().UTC().Add(-time.Minute),
		"evt-q1",
	).Exec(ctx); err != nil {
		t.Fatalf("backdate next_attempt_at: %v", err)
	}
	claimed, err = queue.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimBatch due: %v", err)
	}
	if len(claimed) != 1 || claimed[0].Attempts != 2 {
		t.Fatalf("expected due job with attempts=2, got %+v", claimed)
	}

	if err := queue.Ack(ctx, "evt-q1", core.ProviderWhatsApp); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	claimed, err = queue.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimBatch after ack: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected empty queue after ack, got %+v", claimed)
	}
}

func TestQueueStoreExhaustedJobIsParked(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newSQLiteFactory(t)
	defer cleanup()
	queue := factory.QueueStore()

	if err := queue.Enqueue(ctx, core.Job{
		EventID:  "evt-exhausted",
		Provider: core.ProviderPayPal,
		Payload:  []byte(`{"id":"WH-1"}`),
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := queue.ClaimBatch(ctx, 1); err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if err := queue.Retry(ctx, "evt-exhausted", core.ProviderPayPal, fmt.Errorf("done"), time.Time{}); err != nil {
		t.Fatalf("Retry exhausted: %v", err)
	}

	claimed, err := queue.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected exhausted job unclaimable, got %+v", claimed)
	}
}

func TestQueueStoreReclaimStuck(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newSQLiteFactory(t)
	defer cleanup()
	queue := factory.QueueStore()

	if err := queue.Enqueue(ctx, core.Job{
		EventID:  "evt-held",
		Provider: core.ProviderInstagram,
		Payload:  []byte(`{}`),
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := queue.ClaimBatch(ctx, 1); err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}

	if _, err := factory.DB().NewRaw(
		"UPDATE webhook_jobs SET claimed_at = ? WHERE event_id = ?",
		time.Now().UTC().Add(-time.Hour),
		"evt-held",
	).Exec(ctx); err != nil {
		t.Fatalf("backdate claimed_at: %v", err)
	}

	reclaimed, err := queue.ReclaimStuck(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStuck: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected one reclaimed job, got %d", reclaimed)
	}

	claimed, err := queue.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimBatch after reclaim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected reclaimed job claimable, got %+v", claimed)
	}
}

func TestDeadLetterStoreEncryptsAtRest(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newSQLiteFactory(t)
	defer cleanup()
	deadLetters := factory.DeadLetterStore()

	payload := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_DLQ"}}}}`)
	if err := deadLetters.Store(ctx, core.DeadLetterInput{
		EventID:       "pay_DLQ",
		Provider:      core.ProviderRazorpay,
		CorrelationID: "corr-dlq",
		Payload:       payload,
		ErrorMessage:  "retries exhausted",
		RetryCount:    3,
	}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	var stored []byte
	if err := factory.DB().NewRaw(
		"SELECT payload_encrypted FROM webhook_dead_letter WHERE event_id = ?",
		"pay_DLQ",
	).Scan(ctx, &stored); err != nil {
		t.Fatalf("read raw payload: %v", err)
	}
	if string(stored) == string(payload) {
		t.Fatal("payload stored in plaintext")
	}

	entry, err := deadLetters.Get(ctx, "pay_DLQ", core.ProviderRazorpay)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.RetryCount != 3 || entry.ErrorMessage != "retries exhausted" {
		t.Fatalf("unexpected entry %+v", entry)
	}

	cipher, err := security.NewPayloadCipherFromString("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("new payload cipher: %v", err)
	}
	opened, err := cipher.Decrypt(ctx, entry.PayloadEncrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(opened) != string(payload) {
		t.Fatalf("decrypted payload mismatch: %q", opened)
	}

	// Re-parking the same event updates in place rather than duplicating.
	if err := deadLetters.Store(ctx, core.DeadLetterInput{
		EventID:      "pay_DLQ",
		Provider:     core.ProviderRazorpay,
		Payload:      payload,
		ErrorMessage: "replay exhausted",
		RetryCount:   6,
	}); err != nil {
		t.Fatalf("Store upsert: %v", err)
	}
	entries, err := deadLetters.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].RetryCount != 6 {
		t.Fatalf("expected single updated entry, got %+v", entries)
	}
}

func TestAuditStoreTrail(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newSQLiteFactory(t)
	defer cleanup()
	audit := factory.AuditStore()

	for _, action := range []core.AuditAction{
		core.AuditActionReceived,
		core.AuditActionProcessed,
	} {
		if err := audit.Record(ctx, core.AuditRecord{
			Action:        action,
			CorrelationID: "corr-trail",
			Metadata: map[string]any{
				"event_id": "evt-audit",
				"provider": "facebook",
			},
			Status: core.AuditStatusSuccess,
		}); err != nil {
			t.Fatalf("Record %s: %v", action, err)
		}
	}

	trail, err := audit.ListByCorrelation(ctx, "corr-trail")
	if err != nil {
		t.Fatalf("ListByCorrelation: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected two trail rows, got %d", len(trail))
	}
	if trail[0].Action != core.AuditActionReceived || trail[1].Action != core.AuditActionProcessed {
		t.Fatalf("unexpected trail order: %+v", trail)
	}
	if trail[0].ResourceType != core.AuditResourceWebhook {
		t.Fatalf("expected webhook resource type, got %q", trail[0].ResourceType)
	}
	if _, hasPayload := trail[0].Metadata["payload"]; hasPayload {
		t.Fatal("audit metadata must not carry payload content")
	}
}
