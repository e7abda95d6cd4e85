package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/private-symposium-go/internal/config"
	"github.com/private-symposium-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Collections
const (
	CollectionUsers         = "users"
	CollectionConversations = "conversations"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document modified concurrently")
)

// maxTxAttempts bounds optimistic transaction retries
const maxTxAttempts = 5

// TxFunc receives the current document (nil when absent) and returns the
// fields to merge-write, or nil to write nothing. It may run more than once
// when the document changes underneath it, so it must not have side effects.
type TxFunc func(current Document) (Document, error)

// Store is a document store over named collections
type Store interface {
	// Read returns ErrNotFound when the document does not exist
	Read(ctx context.Context, collection, id string) (Document, error)
	// Write upserts patch. With merge only the given fields change;
	// without it the document is replaced.
	Write(ctx context.Context, collection, id string, patch Document, merge bool) error
	// Increment atomically adds delta to an integer field and returns the new value
	Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error)
	// BatchUpdate merges patch into every listed document in one atomic batch
	BatchUpdate(ctx context.Context, collection string, ids []string, patch Document) error
	// Transact runs a read-check-write on one document atomically
	Transact(ctx context.Context, collection, id string, fn TxFunc) error
	// Query returns ids whose field equals one of values; "" matches an absent field
	Query(ctx context.Context, collection, field string, values []string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// OperationRecorder observes storage calls
type OperationRecorder interface {
	RecordStorageOperation(operation, status string, duration time.Duration)
}

// Manager selects a storage backend and classifies its failures as store errors
type Manager struct {
	storage  Store
	logger   *logrus.Logger
	recorder OperationRecorder
}

// NewManager creates a new storage manager
func NewManager(cfg *config.Config, logger *logrus.Logger, recorder OperationRecorder) (*Manager, error) {
	var storage Store

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(&cfg.Storage.Redis, logger)
		if err != nil {
			return nil, err
		}
		storage = redisStorage
	case "memory":
		storage = NewMemoryStorage(&cfg.Storage.Memory)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	logger.WithField("type", cfg.Storage.Type).Info("Storage initialized")

	return NewManagerWithStore(storage, logger, recorder), nil
}

// NewManagerWithStore wraps an already constructed backend
func NewManagerWithStore(storage Store, logger *logrus.Logger, recorder OperationRecorder) *Manager {
	return &Manager{
		storage:  storage,
		logger:   logger,
		recorder: recorder,
	}
}

func (m *Manager) observe(operation string, started time.Time, err error) error {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	if m.recorder != nil {
		m.recorder.RecordStorageOperation(operation, status, time.Since(started))
	}
	if err == nil {
		return nil
	}

	// Absence is not a failure, and classified errors raised inside a
	// transaction callback pass through
	if status == "not_found" || models.KindOf(err) != "" {
		return err
	}
	m.logger.WithError(err).WithField("operation", operation).Error("Storage operation failed")
	return models.NewError(models.KindStore, operation, err)
}

func (m *Manager) Read(ctx context.Context, collection, id string) (Document, error) {
	started := time.Now()
	doc, err := m.storage.Read(ctx, collection, id)
	return doc, m.observe("read", started, err)
}

func (m *Manager) Write(ctx context.Context, collection, id string, patch Document, merge bool) error {
	started := time.Now()
	return m.observe("write", started, m.storage.Write(ctx, collection, id, patch, merge))
}

func (m *Manager) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	started := time.Now()
	v, err := m.storage.Increment(ctx, collection, id, field, delta)
	return v, m.observe("increment", started, err)
}

func (m *Manager) BatchUpdate(ctx context.Context, collection string, ids []string, patch Document) error {
	started := time.Now()
	return m.observe("batch_update", started, m.storage.BatchUpdate(ctx, collection, ids, patch))
}

func (m *Manager) Transact(ctx context.Context, collection, id string, fn TxFunc) error {
	started := time.Now()
	return m.observe("transact", started, m.storage.Transact(ctx, collection, id, fn))
}

func (m *Manager) Query(ctx context.Context, collection, field string, values []string) ([]string, error) {
	started := time.Now()
	ids, err := m.storage.Query(ctx, collection, field, values)
	return ids, m.observe("query", started, err)
}

func (m *Manager) Ping(ctx context.Context) error {
	started := time.Now()
	return m.observe("ping", started, m.storage.Ping(ctx))
}

func (m *Manager) Close() error {
	return m.storage.Close()
}
