package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-webhook-ingest/core"
)

// RepositoryFactory wires the four durable stores over one bun DB handle.
type RepositoryFactory struct {
	db      *bun.DB
	secrets core.SecretProvider

	idempotencyStore *IdempotencyStore
	queueStore       *QueueStore
	deadLetterStore  *DeadLetterStore
	auditStore       *AuditStore
}

func NewRepositoryFactory(secrets core.SecretProvider) *RepositoryFactory {
	return &RepositoryFactory{secrets: secrets}
}

func NewRepositoryFactoryFromPersistence(
	client *persistence.Client,
	secrets core.SecretProvider,
) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(secrets)
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, secrets core.SecretProvider) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(secrets)
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.idempotencyStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) IdempotencyStore() *IdempotencyStore {
	if f == nil {
		return nil
	}
	return f.idempotencyStore
}

func (f *RepositoryFactory) QueueStore() *QueueStore {
	if f == nil {
		return nil
	}
	return f.queueStore
}

func (f *RepositoryFactory) DeadLetterStore() *DeadLetterStore {
	if f == nil {
		return nil
	}
	return f.deadLetterStore
}

func (f *RepositoryFactory) AuditStore() *AuditStore {
	if f == nil {
		return nil
	}
	return f.auditStore
}

func (f *RepositoryFactory) initStores() error {
	idempotencyStore, err := NewIdempotencyStore(f.db)
	if err != nil {
		return err
	}
	f.idempotencyStore = idempotencyStore
	queueStore, err := NewQueueStore(f.db)
	if err != nil {
		return err
	}
	f.queueStore = queueStore
	if f.secrets != nil {
		deadLetterStore, err := NewDeadLetterStore(f.db, f.secrets)
		if err != nil {
			return err
		}
		f.deadLetterStore = deadLetterStore
	}
	auditStore, err := NewAuditStore(f.db)
	if err != nil {
		return err
	}
	f.auditStore = auditStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
