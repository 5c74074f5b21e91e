package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:webhook_idempotency,alias:wi"`

	ID            string     `bun:"id,pk"`
	EventID       string     `bun:"event_id,notnull"`
	Provider      string     `bun:"provider,notnull"`
	Status        string     `bun:"status,notnull"`
	ReceivedAt    time.Time  `bun:"received_at,nullzero,notnull"`
	ProcessedAt   *time.Time `bun:"processed_at,nullzero"`
	CorrelationID string     `bun:"correlation_id"`
	ErrorMessage  string     `bun:"error_message"`
	RetryCount    int        `bun:"retry_count,notnull"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookJobRecord struct {
	bun.BaseModel `bun:"table:webhook_jobs,alias:wj"`

	ID            string     `bun:"id,pk"`
	EventID       string     `bun:"event_id,notnull"`
	Provider      string     `bun:"provider,notnull"`
	Payload       []byte     `bun:"payload,notnull"`
	CorrelationID string     `bun:"correlation_id"`
	Status        string     `bun:"status,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	ClaimedAt     *time.Time `bun:"claimed_at,nullzero"`
	LastError     string     `bun:"last_error"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deadLetterRecord struct {
	bun.BaseModel `bun:"table:webhook_dead_letter,alias:wdl"`

	ID               string    `bun:"id,pk"`
	EventID          string    `bun:"event_id,notnull"`
	Provider         string    `bun:"provider,notnull"`
	ReceivedAt       time.Time `bun:"received_at,nullzero,notnull"`
	CorrelationID    string    `bun:"correlation_id"`
	PayloadEncrypted []byte    `bun:"payload_encrypted,notnull"`
	ErrorMessage     string    `bun:"error_message"`
	RetryCount       int       `bun:"retry_count,notnull"`
	FailedAt         time.Time `bun:"failed_at,nullzero,notnull"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type auditLogRecord struct {
	bun.BaseModel `bun:"table:webhook_audit_log,alias:wal"`

	ID            string         `bun:"id,pk"`
	ResourceType  string         `bun:"resource_type,notnull"`
	Action        string         `bun:"action,notnull"`
	CorrelationID string         `bun:"correlation_id"`
	Metadata      map[string]any `bun:"metadata,type:jsonb,notnull"`
	Status        string         `bun:"status,notnull"`
	ErrorMessage  string         `bun:"error_message"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
