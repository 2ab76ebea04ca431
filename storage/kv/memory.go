package kv

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/jrife/versionkv/storage/kv/keys"
)

var _ Store = (*MemoryBackend)(nil)

// MemoryBackend is an in-memory implementation of
// Backend. Each database is a sorted tree map.
type MemoryBackend struct {
	mu     sync.RWMutex
	dbs    map[string]*treemap.Map
	closed bool
}

// NewMemoryBackend creates a new MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{dbs: map[string]*treemap.Map{}}
}

// Get implements Backend.Get
func (backend *MemoryBackend) Get(ctx context.Context, db string, key string) (string, error) {
	backend.mu.RLock()
	defer backend.mu.RUnlock()

	if backend.closed {
		return "", ErrClosed
	}

	m, ok := backend.dbs[db]

	if !ok {
		return "", ErrNotFound
	}

	value, ok := m.Get(key)

	if !ok {
		return "", ErrNotFound
	}

	return value.(string), nil
}

// List implements Backend.List
func (backend *MemoryBackend) List(ctx context.Context, db string, params ListParams) ([]Entry, error) {
	backend.mu.RLock()
	defer backend.mu.RUnlock()

	if backend.closed {
		return nil, ErrClosed
	}

	entries := []Entry{}
	m, ok := backend.dbs[db]

	if !ok {
		return entries, nil
	}

	r := params.Range()

	// Each step seeks to the smallest key above the last one
	for from := string(r.Min); ; {
		key, value := m.Ceiling(from)

		if key == nil || !r.Contains([]byte(key.(string))) {
			break
		}

		entries = append(entries, Entry{Key: key.(string), Value: value.(string)})

		if params.Limit > 0 && len(entries) == params.Limit {
			break
		}

		from = string(keys.After([]byte(key.(string))))
	}

	return entries, nil
}

// Batch implements Backend.Batch
func (backend *MemoryBackend) Batch(ctx context.Context, db string, ops []Op) error {
	if err := ValidateOps(ops); err != nil {
		return err
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()

	if backend.closed {
		return ErrClosed
	}

	m, ok := backend.dbs[db]

	if !ok {
		m = treemap.NewWithStringComparator()
		backend.dbs[db] = m
	}

	for _, op := range ops {
		switch op.Type {
		case OpPut:
			m.Put(op.Key, op.Value)
		case OpDelete:
			m.Remove(op.Key)
		}
	}

	if m.Empty() {
		delete(backend.dbs, db)
	}

	return nil
}

// Close implements Store.Close
func (backend *MemoryBackend) Close() error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	backend.closed = true

	return nil
}

// Delete implements Store.Delete
func (backend *MemoryBackend) Delete() error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	backend.closed = true
	backend.dbs = map[string]*treemap.Map{}

	return nil
}

// MemoryPlugin exposes MemoryBackend as a plugin
type MemoryPlugin struct {
}

// Name implements Plugin.Name
func (plugin *MemoryPlugin) Name() string {
	return "memory"
}

// NewStore implements Plugin.NewStore
func (plugin *MemoryPlugin) NewStore(options PluginOptions) (Store, error) {
	return NewMemoryBackend(), nil
}

// NewTempStore implements Plugin.NewTempStore
func (plugin *MemoryPlugin) NewTempStore() (Store, error) {
	return NewMemoryBackend(), nil
}
