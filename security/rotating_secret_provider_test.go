package security

import (
	"context"
	"strings"
	"testing"
)

func newTestCipher(t *testing.T, key, keyID string, version int) *PayloadCipher {
	t.Helper()
	cipher, err := NewPayloadCipherFromString(key, WithKeyID(keyID), WithKeyVersion(version))
	if err != nil {
		t.Fatalf("new payload cipher: %v", err)
	}
	return cipher
}

func TestRotatingSecretProvider_DecryptsAcrossRotation(t *testing.T) {
	ctx := context.Background()
	old := newTestCipher(t, "0123456789abcdef0123456789abcdef", "dl-2026-01", 1)
	next := newTestCipher(t, "fedcba9876543210fedcba9876543210", "dl-2026-02", 2)

	provider, err := NewRotatingSecretProvider(old)
	if err != nil {
		t.Fatalf("new rotating provider: %v", err)
	}

	sealed, err := provider.Encrypt(ctx, []byte(`{"entity":"payment"}`))
	if err != nil {
		t.Fatalf("encrypt under old key: %v", err)
	}

	if err := provider.Rotate(next); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if got := provider.CurrentKeyID(); got != "dl-2026-02" {
		t.Fatalf("current key id = %q, want dl-2026-02", got)
	}

	plaintext, err := provider.Decrypt(ctx, sealed)
	if err != nil {
		t.Fatalf("decrypt pre-rotation ciphertext: %v", err)
	}
	if string(plaintext) != `{"entity":"payment"}` {
		t.Fatalf("plaintext = %q", plaintext)
	}

	resealed, err := provider.Encrypt(ctx, []byte("fresh"))
	if err != nil {
		t.Fatalf("encrypt under new key: %v", err)
	}
	if !strings.Contains(string(resealed), `"kid":"dl-2026-02"`) {
		t.Fatalf("new ciphertext not sealed under current key: %s", resealed)
	}
}

func TestRotatingSecretProvider_UnknownKeyID(t *testing.T) {
	ctx := context.Background()
	current := newTestCipher(t, "0123456789abcdef0123456789abcdef", "dl-2026-02", 2)
	stranger := newTestCipher(t, "aaaabbbbccccddddeeeeffff00001111", "dl-2019-09", 1)

	provider, err := NewRotatingSecretProvider(current)
	if err != nil {
		t.Fatalf("new rotating provider: %v", err)
	}

	sealed, err := stranger.Encrypt(ctx, []byte("orphaned"))
	if err != nil {
		t.Fatalf("encrypt with stranger cipher: %v", err)
	}

	if _, err := provider.Decrypt(ctx, sealed); err == nil {
		t.Fatal("expected decrypt failure for unknown key id")
	} else if !strings.Contains(err.Error(), "dl-2019-09") {
		t.Fatalf("error should name the missing key id, got: %v", err)
	}
}

func TestRotatingSecretProvider_Validation(t *testing.T) {
	if _, err := NewRotatingSecretProvider(nil); err == nil {
		t.Fatal("expected error for nil current cipher")
	}

	current := newTestCipher(t, "0123456789abcdef0123456789abcdef", "dl-2026-02", 2)
	dup := newTestCipher(t, "fedcba9876543210fedcba9876543210", "dl-2026-02", 3)
	if _, err := NewRotatingSecretProvider(current, dup); err == nil {
		t.Fatal("expected error for retired cipher sharing the current key id")
	}

	provider, err := NewRotatingSecretProvider(current)
	if err != nil {
		t.Fatalf("new rotating provider: %v", err)
	}
	if err := provider.Rotate(nil); err == nil {
		t.Fatal("expected error for nil next cipher")
	}
	if err := provider.Rotate(dup); err == nil {
		t.Fatal("expected error rotating to the same key id")
	}
}
