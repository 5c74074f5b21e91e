package core

import (
	"fmt"
	"strings"
	"time"
)

// ProviderConfig holds the per-provider verification surface. Secret signs
// the raw body HMAC; VerifyToken answers the Meta subscription handshake and
// is ignored for payment providers.
type ProviderConfig struct {
	Secret      string `koanf:"secret" mapstructure:"secret"`
	VerifyToken string `koanf:"verify_token" mapstructure:"verify_token"`
}

type RetryConfig struct {
	// MaxRetries bounds business-handler attempts before dead-lettering.
	MaxRetries int `koanf:"max_retries" mapstructure:"max_retries"`
	// BackoffSchedule spaces business-logic retries; slower than transport
	// backoff on purpose. Attempts past the schedule reuse the last delay.
	BackoffSchedule []time.Duration `koanf:"backoff_schedule" mapstructure:"backoff_schedule"`
}

type WorkerConfig struct {
	Width          int           `koanf:"width" mapstructure:"width"`
	ClaimBatchSize int           `koanf:"claim_batch_size" mapstructure:"claim_batch_size"`
	HandlerTimeout time.Duration `koanf:"handler_timeout" mapstructure:"handler_timeout"`
	// ClaimTimeout is how long a row may sit in processing before the
	// reclaim sweep hands it to another worker.
	ClaimTimeout time.Duration `koanf:"claim_timeout" mapstructure:"claim_timeout"`
}

type DeadLetterConfig struct {
	Enabled bool `koanf:"enabled" mapstructure:"enabled"`
	// EncryptionKey is mandatory whenever dead-letter is enabled; a missing
	// key is a startup-fatal misconfiguration, never a silent plaintext
	// fallback.
	EncryptionKey string `koanf:"encryption_key" mapstructure:"encryption_key"`
}

type Config struct {
	ServiceName string                    `koanf:"service_name" mapstructure:"service_name"`
	Providers   map[string]ProviderConfig `koanf:"providers" mapstructure:"providers"`
	Retry       RetryConfig               `koanf:"retry" mapstructure:"retry"`
	Worker      WorkerConfig              `koanf:"worker" mapstructure:"worker"`
	DeadLetter  DeadLetterConfig          `koanf:"dead_letter" mapstructure:"dead_letter"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "webhook-ingest",
		Providers:   map[string]ProviderConfig{},
		Retry: RetryConfig{
			MaxRetries:      3,
			BackoffSchedule: []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		},
		Worker: WorkerConfig{
			Width:          5,
			ClaimBatchSize: 10,
			HandlerTimeout: 8 * time.Second,
			ClaimTimeout:   10 * time.Minute,
		},
		DeadLetter: DeadLetterConfig{
			Enabled: true,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("core: retry.max_retries must be >= 1")
	}
	if len(c.Retry.BackoffSchedule) == 0 {
		return fmt.Errorf("core: retry.backoff_schedule is required")
	}
	for i, delay := range c.Retry.BackoffSchedule {
		if delay <= 0 {
			return fmt.Errorf("core: retry.backoff_schedule[%d] must be positive", i)
		}
	}
	if c.Worker.Width < 1 {
		return fmt.Errorf("core: worker.width must be >= 1")
	}
	if c.Worker.ClaimBatchSize < 1 {
		return fmt.Errorf("core: worker.claim_batch_size must be >= 1")
	}
	if c.Worker.HandlerTimeout <= 0 {
		return fmt.Errorf("core: worker.handler_timeout must be positive")
	}
	if c.Worker.ClaimTimeout <= 0 {
		return fmt.Errorf("core: worker.claim_timeout must be positive")
	}
	for name := range c.Providers {
		if _, err := ParseProvider(name); err != nil {
			return fmt.Errorf("core: providers key %q: %w", name, err)
		}
	}
	if c.DeadLetter.Enabled && len(strings.TrimSpace(c.DeadLetter.EncryptionKey)) < 16 {
		return fmt.Errorf("core: dead_letter.encryption_key must be at least 16 bytes when dead-letter is enabled")
	}
	return nil
}

// ProviderFor resolves the configured verification material for a provider.
func (c Config) ProviderFor(provider Provider) (ProviderConfig, bool) {
	if len(c.Providers) == 0 {
		return ProviderConfig{}, false
	}
	cfg, ok := c.Providers[provider.String()]
	return cfg, ok
}

// RetryDelay returns the business backoff for the given 1-based attempt,
// clamping past the end of the schedule.
func (c RetryConfig) RetryDelay(attempt int) time.Duration {
	if len(c.BackoffSchedule) == 0 {
		return time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(c.BackoffSchedule) {
		attempt = len(c.BackoffSchedule)
	}
	return c.BackoffSchedule[attempt-1]
}
