package verify

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-webhook-ingest/core"
)

const (
	MetaSignatureHeader     = "X-Hub-Signature-256"
	RazorpaySignatureHeader = "X-Razorpay-Signature"
	PayPalSignatureHeader   = "Paypal-Transmission-Sig"
)

// ForProvider returns the built-in verifier for a provider. Meta-family
// providers share the X-Hub-Signature-256 scheme; Razorpay signs the raw
// body hex-encoded without a prefix; PayPal transmissions carry a base64
// signature. Deployments needing PayPal's webhook-id verification call can
// install a custom verifier through Registry.Register.
func ForProvider(provider core.Provider, cfg core.ProviderConfig) (Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, fmt.Errorf("verify: signing secret for provider %q is required", provider)
	}
	switch provider {
	case core.ProviderFacebook, core.ProviderInstagram, core.ProviderWhatsApp:
		return HeaderHMACVerifier{
			Header:   MetaSignatureHeader,
			Prefix:   "sha256=",
			Secret:   secret,
			Encoding: "hex",
		}, nil
	case core.ProviderRazorpay:
		return HeaderHMACVerifier{
			Header:   RazorpaySignatureHeader,
			Secret:   secret,
			Encoding: "hex",
		}, nil
	case core.ProviderPayPal:
		return HeaderHMACVerifier{
			Header:   PayPalSignatureHeader,
			Secret:   secret,
			Encoding: "base64",
		}, nil
	default:
		return nil, fmt.Errorf("verify: unsupported provider %q", provider)
	}
}

// Registry holds one verifier per enabled provider, resolved once at
// construction so a missing secret surfaces at startup rather than on the
// first delivery.
type Registry struct {
	verifiers map[core.Provider]Verifier
}

func NewRegistry(cfg core.Config) (*Registry, error) {
	registry := &Registry{verifiers: map[core.Provider]Verifier{}}
	for name, providerCfg := range cfg.Providers {
		provider, err := core.ParseProvider(name)
		if err != nil {
			return nil, err
		}
		verifier, err := ForProvider(provider, providerCfg)
		if err != nil {
			return nil, err
		}
		registry.verifiers[provider] = verifier
	}
	return registry, nil
}

// Register installs or replaces the verifier for a provider.
func (r *Registry) Register(provider core.Provider, verifier Verifier) error {
	if r == nil {
		return fmt.Errorf("verify: registry is nil")
	}
	if verifier == nil {
		return fmt.Errorf("verify: verifier is nil")
	}
	if _, err := core.ParseProvider(provider.String()); err != nil {
		return err
	}
	r.verifiers[provider] = verifier
	return nil
}

// For resolves the verifier for a provider; unknown providers fail closed.
func (r *Registry) For(provider core.Provider) (Verifier, error) {
	if r == nil || len(r.verifiers) == 0 {
		return nil, fmt.Errorf("verify: no verifiers configured")
	}
	verifier, ok := r.verifiers[provider]
	if !ok {
		return nil, fmt.Errorf("verify: provider %q is not enabled", provider)
	}
	return verifier, nil
}

// SubscriptionChallenge answers the Meta webhook registration handshake:
// when mode is "subscribe" and the token matches, the caller must echo the
// returned challenge with a 200.
func SubscriptionChallenge(verifyToken string, query map[string]string) (string, error) {
	expected := strings.TrimSpace(verifyToken)
	if expected == "" {
		return "", fmt.Errorf("verify: subscription verify token is required")
	}
	mode := strings.TrimSpace(query["hub.mode"])
	if mode != "subscribe" {
		return "", fmt.Errorf("verify: unsupported hub.mode %q", mode)
	}
	if strings.TrimSpace(query["hub.verify_token"]) != expected {
		return "", fmt.Errorf("verify: subscription token mismatch")
	}
	challenge := strings.TrimSpace(query["hub.challenge"])
	if challenge == "" {
		return "", fmt.Errorf("verify: hub.challenge is required")
	}
	return challenge, nil
}
