package kv

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates that the requested key does not exist
	ErrNotFound = errors.New("key not found")
	// ErrClosed indicates that the backend was closed
	ErrClosed = errors.New("backend was closed")
	// ErrEmptyKey indicates that an operation referenced an empty key
	ErrEmptyKey = errors.New("key must not be empty")
)

// OpType describes the kind of write performed by an Op
type OpType int

const (
	// OpPut creates or overwrites a key
	OpPut OpType = iota
	// OpDelete deletes a key
	OpDelete
)

func (opType OpType) String() string {
	switch opType {
	case OpPut:
		return "put"
	case OpDelete:
		return "del"
	}

	return "unknown"
}

// Op is a single write inside a batch
type Op struct {
	Key   string
	Value string
	Type  OpType
}

// Put returns an op that writes value to key
func Put(key, value string) Op {
	return Op{Key: key, Value: value, Type: OpPut}
}

// Delete returns an op that deletes key
func Delete(key string) Op {
	return Op{Key: key, Type: OpDelete}
}

// Entry is a key-value pair returned by a listing
type Entry struct {
	Key   string
	Value string
}

// ListParams selects a key range for a listing.
// Empty bounds are ignored. When both Gt and Gte
// are set (or Lt and Lte) the tighter bound wins.
// Limit <= 0 means no limit.
type ListParams struct {
	Gt    string
	Gte   string
	Lt    string
	Lte   string
	Limit int
}

// Backend is the storage contract consumed by the
// versioning layer. A database is an independent
// keyspace. Implementations must make each call atomic:
// a batch is applied entirely or not at all and a list
// observes a consistent state.
type Backend interface {
	// Get returns the value stored at key in db. It must
	// return ErrNotFound if the key does not exist.
	Get(ctx context.Context, db string, key string) (string, error)
	// List returns the entries of db whose keys are inside
	// the range described by params in ascending
	// lexicographical order.
	List(ctx context.Context, db string, params ListParams) ([]Entry, error)
	// Batch applies ops to db atomically. Later ops for the
	// same key override earlier ones. Deleting a key that
	// does not exist has no effect.
	Batch(ctx context.Context, db string, ops []Op) error
}

// Store is a Backend that owns resources which
// must be released
type Store interface {
	Backend
	// Close releases the store's resources. Calls made after
	// Close returns must return ErrClosed.
	Close() error
	// Delete closes then deletes this store and all its contents.
	Delete() error
}

// PluginOptions is a generic structure
// to pass configuration to a storage plugin
type PluginOptions map[string]interface{}

// Plugin represents a kv storage plugin
type Plugin interface {
	// Name returns the name of the storage plugin
	Name() string
	// NewStore returns an instance of the plugin store
	NewStore(options PluginOptions) (Store, error)
	// NewTempStore returns an instance of the plugin store
	// initialized with some sane defaults. It is meant for
	// tests that need an initialized instance of the plugin's
	// store without knowing how to initialize it
	NewTempStore() (Store, error)
}

// IsNotFound returns true if err signals a missing key
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
