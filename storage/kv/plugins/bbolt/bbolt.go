package bbolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrife/versionkv/storage/kv"
	"github.com/jrife/versionkv/utils/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	DriverName = "bbolt"
)

func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&BBoltPlugin{},
	}
}

type BBoltPlugin struct {
}

func (plugin *BBoltPlugin) Name() string {
	return DriverName
}

func (plugin *BBoltPlugin) NewStore(options kv.PluginOptions) (kv.Store, error) {
	var config BBoltStoreConfig

	if path, ok := options["path"]; !ok {
		return nil, fmt.Errorf("\"path\" is required")
	} else if pathString, ok := path.(string); !ok {
		return nil, fmt.Errorf("\"path\" must be a string")
	} else {
		config.Path = pathString
	}

	store, err := New(config)

	if err != nil {
		return nil, err
	}

	return store, nil
}

func (plugin *BBoltPlugin) NewTempStore() (kv.Store, error) {
	return plugin.NewStore(kv.PluginOptions{
		"path": filepath.Join(os.TempDir(), fmt.Sprintf("bbolt-%s", uuid.MustUUID())),
	})
}

type BBoltStoreConfig struct {
	Path string
}

var _ kv.Store = (*BBoltStore)(nil)

// New opens a bbolt store at the configured path. Every
// database is a top-level bucket created on first write.
func New(config BBoltStoreConfig) (*BBoltStore, error) {
	db, err := bolt.Open(config.Path, 0666, nil)

	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %w", config.Path, err)
	}

	return &BBoltStore{db: db}, nil
}

type BBoltStore struct {
	db *bolt.DB
}

func (store *BBoltStore) Get(ctx context.Context, db string, key string) (string, error) {
	var value string

	err := store.db.View(func(txn *bolt.Tx) error {
		bucket := txn.Bucket([]byte(db))

		if bucket == nil {
			return kv.ErrNotFound
		}

		v := bucket.Get([]byte(key))

		if v == nil {
			return kv.ErrNotFound
		}

		// v is only valid for the life of the transaction
		value = string(v)

		return nil
	})

	return value, wrapError("could not read key", err)
}

func (store *BBoltStore) List(ctx context.Context, db string, params kv.ListParams) ([]kv.Entry, error) {
	entries := []kv.Entry{}
	r := params.Range()

	err := store.db.View(func(txn *bolt.Tx) error {
		bucket := txn.Bucket([]byte(db))

		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()

		var k, v []byte

		if r.Min == nil {
			k, v = cursor.First()
		} else {
			k, v = cursor.Seek(r.Min)
		}

		for ; k != nil; k, v = cursor.Next() {
			if r.Max != nil && bytes.Compare(k, r.Max) >= 0 {
				break
			}

			entries = append(entries, kv.Entry{Key: string(k), Value: string(v)})

			if params.Limit > 0 && len(entries) == params.Limit {
				break
			}
		}

		return nil
	})

	if err != nil {
		return nil, wrapError("could not list keys", err)
	}

	return entries, nil
}

func (store *BBoltStore) Batch(ctx context.Context, db string, ops []kv.Op) error {
	if err := kv.ValidateOps(ops); err != nil {
		return err
	}

	err := store.db.Update(func(txn *bolt.Tx) error {
		bucket, err := txn.CreateBucketIfNotExists([]byte(db))

		if err != nil {
			return fmt.Errorf("could not ensure bucket exists: %w", err)
		}

		for _, op := range ops {
			switch op.Type {
			case kv.OpPut:
				err = bucket.Put([]byte(op.Key), []byte(op.Value))
			case kv.OpDelete:
				err = bucket.Delete([]byte(op.Key))
			}

			if err != nil {
				return fmt.Errorf("could not apply %s to %q: %w", op.Type, op.Key, err)
			}
		}

		return nil
	})

	return wrapError("could not apply batch", err)
}

func (store *BBoltStore) Close() error {
	return store.db.Close()
}

func (store *BBoltStore) Delete() error {
	path := store.db.Path()

	if err := store.Close(); err != nil {
		return fmt.Errorf("could not close store: %w", err)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("could not remove path %s: %w", path, err)
	}

	return nil
}

func wrapError(wrap string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kv.ErrNotFound):
		return kv.ErrNotFound
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return kv.ErrClosed
	}

	return fmt.Errorf("%s: %w", wrap, err)
}
