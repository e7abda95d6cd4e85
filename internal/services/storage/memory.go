package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/private-symposium-go/internal/config"
)

// MemoryStorage implements Store in process. A single mutex serializes
// writers so increments and transactions are atomic.
type MemoryStorage struct {
	mu   sync.Mutex
	docs *cache.Cache
}

func NewMemoryStorage(cfg *config.MemoryConfig) *MemoryStorage {
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &MemoryStorage{
		docs: cache.New(cache.NoExpiration, cleanup),
	}
}

func memoryKey(collection, id string) string {
	return collection + "/" + id
}

func (m *MemoryStorage) get(key string) Document {
	if val, found := m.docs.Get(key); found {
		return val.(Document)
	}
	return nil
}

func (m *MemoryStorage) Read(ctx context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.get(memoryKey(collection, id))
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *MemoryStorage) Write(ctx context.Context, collection, id string, patch Document, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.write(memoryKey(collection, id), patch, merge)
	return nil
}

func (m *MemoryStorage) write(key string, patch Document, merge bool) {
	doc := Document{}
	if merge {
		if existing := m.get(key); existing != nil {
			doc = existing.Clone()
		}
	}
	for k, v := range patch {
		doc[k] = v
	}
	if len(doc) == 0 {
		m.docs.Delete(key)
		return
	}
	m.docs.Set(key, doc, cache.NoExpiration)
}

func (m *MemoryStorage) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(collection, id)
	doc := m.get(key)
	current, err := doc.Int64(field)
	if err != nil {
		return 0, err
	}
	next := current + delta
	m.write(key, Document{field: FormatInt(next)}, true)
	return next, nil
}

func (m *MemoryStorage) BatchUpdate(ctx context.Context, collection string, ids []string, patch Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		m.write(memoryKey(collection, id), patch, true)
	}
	return nil
}

func (m *MemoryStorage) Transact(ctx context.Context, collection, id string, fn TxFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(collection, id)
	patch, err := fn(m.get(key).Clone())
	if err != nil {
		return err
	}
	if len(patch) > 0 {
		m.write(key, patch, true)
	}
	return nil
}

func (m *MemoryStorage) Query(ctx context.Context, collection, field string, values []string) ([]string, error) {
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[v] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := collection + "/"
	var ids []string
	for key, item := range m.docs.Items() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		doc := item.Object.(Document)
		if want[doc[field]] {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}
	}
	return ids, nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStorage) Close() error {
	m.docs.Flush()
	return nil
}
