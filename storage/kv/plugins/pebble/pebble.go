package pebble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/jrife/versionkv/storage/kv"
	"github.com/jrife/versionkv/utils/uuid"
)

const (
	DriverName = "pebble"
)

func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&PebblePlugin{},
	}
}

type PebblePlugin struct {
}

func (plugin *PebblePlugin) Name() string {
	return DriverName
}

func (plugin *PebblePlugin) NewStore(options kv.PluginOptions) (kv.Store, error) {
	var config PebbleStoreConfig

	if path, ok := options["path"]; !ok {
		return nil, fmt.Errorf("\"path\" is required")
	} else if pathString, ok := path.(string); !ok {
		return nil, fmt.Errorf("\"path\" must be a string")
	} else {
		config.Path = pathString
	}

	if syncOption, ok := options["sync"]; ok {
		if syncBool, ok := syncOption.(bool); !ok {
			return nil, fmt.Errorf("\"sync\" must be a bool")
		} else {
			config.NoSync = !syncBool
		}
	}

	return New(config)
}

func (plugin *PebblePlugin) NewTempStore() (kv.Store, error) {
	return plugin.NewStore(kv.PluginOptions{
		"path": filepath.Join(os.TempDir(), fmt.Sprintf("pebble-%s", uuid.MustUUID())),
		"sync": false,
	})
}

type PebbleStoreConfig struct {
	Path string
	// NoSync commits batches without waiting for the WAL
	// to be synced to disk
	NoSync bool
}

var _ kv.Store = (*PebbleStore)(nil)

// New opens a pebble store at the configured path. All
// databases share one keyspace: every key is prefixed with
// the 2-byte big-endian length of its database name followed
// by the name itself.
func New(config PebbleStoreConfig) (*PebbleStore, error) {
	db, err := pebble.Open(config.Path, &pebble.Options{})

	if err != nil {
		return nil, fmt.Errorf("could not open pebble store at %s: %w", config.Path, err)
	}

	writeOptions := pebble.Sync

	if config.NoSync {
		writeOptions = pebble.NoSync
	}

	return &PebbleStore{db: db, path: config.Path, writeOptions: writeOptions}, nil
}

// PebbleStore implements kv.Store on top of pebble.
// pebble panics when used after Close so every call
// holds mu for reading while it touches the db.
type PebbleStore struct {
	mu           sync.RWMutex
	db           *pebble.DB
	path         string
	writeOptions *pebble.WriteOptions
	closed       bool
}

func namespace(db string) ([]byte, error) {
	if len(db) > math.MaxUint16 {
		return nil, fmt.Errorf("database name is too long: %d bytes", len(db))
	}

	ns := make([]byte, 2+len(db))
	binary.BigEndian.PutUint16(ns, uint16(len(db)))
	copy(ns[2:], db)

	return ns, nil
}

func namespacedKey(ns []byte, key string) []byte {
	k := make([]byte, 0, len(ns)+len(key))
	k = append(k, ns...)
	k = append(k, key...)

	return k
}

func (store *PebbleStore) Get(ctx context.Context, db string, key string) (string, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.closed {
		return "", kv.ErrClosed
	}

	ns, err := namespace(db)

	if err != nil {
		return "", err
	}

	value, closer, err := store.db.Get(namespacedKey(ns, key))

	if err != nil {
		return "", wrapError("could not read key", err)
	}

	defer closer.Close()

	return string(value), nil
}

func (store *PebbleStore) List(ctx context.Context, db string, params kv.ListParams) ([]kv.Entry, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.closed {
		return nil, kv.ErrClosed
	}

	ns, err := namespace(db)

	if err != nil {
		return nil, err
	}

	r := params.Range().Namespace(ns)

	if r.Empty() {
		return []kv.Entry{}, nil
	}

	iter, err := store.db.NewIter(&pebble.IterOptions{
		LowerBound: r.Min,
		UpperBound: r.Max,
	})

	if err != nil {
		return nil, wrapError("could not create iterator", err)
	}

	defer iter.Close()

	entries := []kv.Entry{}

	for iter.First(); iter.Valid(); iter.Next() {
		entries = append(entries, kv.Entry{
			Key:   string(iter.Key()[len(ns):]),
			Value: string(iter.Value()),
		})

		if params.Limit > 0 && len(entries) == params.Limit {
			break
		}
	}

	if err := iter.Error(); err != nil {
		return nil, wrapError("iteration error", err)
	}

	return entries, nil
}

func (store *PebbleStore) Batch(ctx context.Context, db string, ops []kv.Op) error {
	if err := kv.ValidateOps(ops); err != nil {
		return err
	}

	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.closed {
		return kv.ErrClosed
	}

	ns, err := namespace(db)

	if err != nil {
		return err
	}

	batch := store.db.NewBatch()
	defer batch.Close()

	for _, op := range ops {
		switch op.Type {
		case kv.OpPut:
			err = batch.Set(namespacedKey(ns, op.Key), []byte(op.Value), nil)
		case kv.OpDelete:
			err = batch.Delete(namespacedKey(ns, op.Key), nil)
		}

		if err != nil {
			return fmt.Errorf("could not apply %s to %q: %w", op.Type, op.Key, err)
		}
	}

	return wrapError("could not commit batch", batch.Commit(store.writeOptions))
}

func (store *PebbleStore) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return nil
	}

	store.closed = true

	return store.db.Close()
}

func (store *PebbleStore) Delete() error {
	if err := store.Close(); err != nil {
		return fmt.Errorf("could not close store: %w", err)
	}

	if err := os.RemoveAll(store.path); err != nil {
		return fmt.Errorf("could not remove path %s: %w", store.path, err)
	}

	return nil
}

func wrapError(wrap string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pebble.ErrNotFound):
		return kv.ErrNotFound
	case errors.Is(err, pebble.ErrClosed):
		return kv.ErrClosed
	}

	return fmt.Errorf("%s: %w", wrap, err)
}
