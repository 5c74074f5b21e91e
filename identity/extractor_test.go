package identity

import (
	"testing"
	"time"

	"github.com/goliatone/go-webhook-ingest/core"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestEventIDFacebookMessageID(t *testing.T) {
	extractor := NewExtractor()
	payload := []byte(`{"object":"page","entry":[{"id":"page-9","messaging":[{"message":{"mid":"m_abc123"}}]}]}`)

	id, err := extractor.EventID(core.ProviderFacebook, payload)
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	if id != "m_abc123" {
		t.Fatalf("expected message mid, got %q", id)
	}
}

func TestEventIDFacebookEntryFallback(t *testing.T) {
	extractor := NewExtractor()
	payload := []byte(`{"object":"page","entry":[{"id":"page-9","changes":[]}]}`)

	id, err := extractor.EventID(core.ProviderFacebook, payload)
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	if id != "page-9" {
		t.Fatalf("expected entry id fallback, got %q", id)
	}
}

func TestEventIDInstagramChangesPath(t *testing.T) {
	extractor := NewExtractor()
	payload := []byte(`{"entry":[{"id":"ig-1","changes":[{"field":"comments","value":{}},{"field":"messages","value":{"message":{"mid":"ig_m_42"}}}]}]}`)

	id, err := extractor.EventID(core.ProviderInstagram, payload)
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	if id != "ig_m_42" {
		t.Fatalf("expected changes message mid, got %q", id)
	}
}

func TestEventIDWhatsApp(t *testing.T) {
	extractor := NewExtractor()
	payload := []byte(`{"entry":[{"changes":[{"value":{"messages":[{"id":"wamid.XYZ"}]}}]}]}`)

	id, err := extractor.EventID(core.ProviderWhatsApp, payload)
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	if id != "wamid.XYZ" {
		t.Fatalf("expected whatsapp message id, got %q", id)
	}
}

func TestEventIDRazorpay(t *testing.T) {
	extractor := NewExtractor()
	payload := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_ABC123"}}}}`)

	id, err := extractor.EventID(core.ProviderRazorpay, payload)
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	if id != "pay_ABC123" {
		t.Fatalf("expected payment entity id, got %q", id)
	}

	id, err = extractor.EventID(core.ProviderRazorpay, []byte(`{"event":"payout.initiated"}`))
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	if id != "payout.initiated" {
		t.Fatalf("expected event name fallback, got %q", id)
	}
}

func TestEventIDPayPal(t *testing.T) {
	extractor := NewExtractor()

	id, err := extractor.EventID(core.ProviderPayPal, []byte(`{"id":"WH-58D329510W468432D","resource":{"id":"5O190127TN364715T"}}`))
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	if id != "WH-58D329510W468432D" {
		t.Fatalf("expected webhook event id, got %q", id)
	}

	id, err = extractor.EventID(core.ProviderPayPal, []byte(`{"resource":{"id":"5O190127TN364715T"}}`))
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	if id != "5O190127TN364715T" {
		t.Fatalf("expected resource id fallback, got %q", id)
	}
}

func TestEventIDFallbackStableWithinBucket(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	extractor := &Extractor{Now: fixedClock(base)}

	first, err := extractor.EventID(core.ProviderWhatsApp, []byte(`{"entry":[{"changes":[{"value":{"statuses":[{"status":"sent"}]}}]}],"timestamp":1}`))
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}

	// Same logical payload with mutated envelope metadata still collapses.
	extractor.Now = fixedClock(base.Add(2 * time.Minute))
	second, err := extractor.EventID(core.ProviderWhatsApp, []byte(`{"entry":[{"changes":[{"value":{"statuses":[{"status":"sent"}]}}]}],"timestamp":2,"delivery_attempt":3}`))
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable fallback id within bucket: %q vs %q", first, second)
	}
}

func TestEventIDFallbackChangesAcrossBuckets(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	payload := []byte(`{"entry":[{"changes":[{"value":{"statuses":[{"status":"sent"}]}}]}]}`)

	extractor := &Extractor{Now: fixedClock(base)}
	first, err := extractor.EventID(core.ProviderWhatsApp, payload)
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}

	extractor.Now = fixedClock(base.Add(bucketWindow))
	second, err := extractor.EventID(core.ProviderWhatsApp, payload)
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	if first == second {
		t.Fatal("expected fallback id to change in the next bucket")
	}
}

func TestEventIDInvalidJSON(t *testing.T) {
	extractor := NewExtractor()
	if _, err := extractor.EventID(core.ProviderFacebook, []byte("not-json")); err == nil {
		t.Fatal("expected malformed payload to fail")
	}
}
