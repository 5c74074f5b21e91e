package security

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-webhook-ingest/core"
)

// RotatingSecretProvider wraps a current PayloadCipher plus zero or more
// retired ciphers so operators can rotate the dead-letter encryption key
// without losing the ability to replay entries sealed under older keys.
// Encrypt always uses the current key; Decrypt dispatches on the envelope's
// key id and falls back to trying every retired key when the envelope does
// not carry one.
type RotatingSecretProvider struct {
	mu      sync.RWMutex
	current *PayloadCipher
	retired map[string]*PayloadCipher
}

func NewRotatingSecretProvider(current *PayloadCipher, retired ...*PayloadCipher) (*RotatingSecretProvider, error) {
	if current == nil {
		return nil, fmt.Errorf("security: current payload cipher is required")
	}
	provider := &RotatingSecretProvider{
		current: current,
		retired: map[string]*PayloadCipher{},
	}
	for _, cipher := range retired {
		if cipher == nil {
			continue
		}
		if cipher.KeyID() == current.KeyID() {
			return nil, fmt.Errorf("security: retired cipher %q collides with the current key id", cipher.KeyID())
		}
		provider.retired[cipher.KeyID()] = cipher
	}
	return provider, nil
}

// Rotate promotes next to the current key and retires the previous one.
func (r *RotatingSecretProvider) Rotate(next *PayloadCipher) error {
	if r == nil {
		return fmt.Errorf("security: rotating secret provider is nil")
	}
	if next == nil {
		return fmt.Errorf("security: next payload cipher is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if next.KeyID() == r.current.KeyID() {
		return fmt.Errorf("security: next cipher %q collides with the current key id", next.KeyID())
	}
	r.retired[r.current.KeyID()] = r.current
	delete(r.retired, next.KeyID())
	r.current = next
	return nil
}

func (r *RotatingSecretProvider) CurrentKeyID() string {
	if r == nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.KeyID()
}

func (r *RotatingSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("security: rotating secret provider is nil")
	}
	r.mu.RLock()
	current := r.current
	r.mu.RUnlock()
	return current.Encrypt(ctx, plaintext)
}

func (r *RotatingSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("security: rotating secret provider is nil")
	}
	keyID, err := envelopeKeyID(ciphertext)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	current := r.current
	candidates := make([]*PayloadCipher, 0, len(r.retired))
	if keyID != "" {
		if cipher, ok := r.retired[keyID]; ok {
			candidates = append(candidates, cipher)
		}
	} else {
		for _, cipher := range r.retired {
			candidates = append(candidates, cipher)
		}
	}
	r.mu.RUnlock()

	plaintext, err := current.Decrypt(ctx, ciphertext)
	if err == nil {
		return plaintext, nil
	}
	for _, cipher := range candidates {
		if plaintext, retryErr := cipher.Decrypt(ctx, ciphertext); retryErr == nil {
			return plaintext, nil
		}
	}
	if keyID != "" && keyID != current.KeyID() {
		if _, ok := r.retired[keyID]; !ok {
			return nil, fmt.Errorf("security: no cipher available for key id %q", keyID)
		}
	}
	return nil, err
}

func envelopeKeyID(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", fmt.Errorf("security: ciphertext is required")
	}
	payload := strings.TrimPrefix(string(ciphertext), envelopePrefix)
	var parsed envelope
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return "", fmt.Errorf("security: decode envelope: %w", err)
	}
	return strings.TrimSpace(parsed.KeyID), nil
}

var _ core.SecretProvider = (*RotatingSecretProvider)(nil)
