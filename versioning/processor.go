// Package versioning implements object versioning on top of a
// flat key-value store.
//
// Every object has a master key holding its current version.
// Each version is also stored under its own version key and
// the null version of an object lives in the object's null key.
// Version ids sort newest first so the newest version of an
// object is the first version key after its master key.
//
// Deleting the current version replaces the master with a
// placeholder for deletion (PHD). A read that finds a PHD lists
// the versions of the object to find the new current version
// and repairs the master in the background.
package versioning

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jrife/versionkv/storage/kv"
	"github.com/jrife/versionkv/utils/keylock"
	"github.com/jrife/versionkv/utils/log"
	"github.com/jrife/versionkv/utils/waitqueue"
	"github.com/jrife/versionkv/versioning/versionid"
	"go.uber.org/zap"
)

const (
	// DefaultRepairDelay is how long a PHD may remain
	// in place before it is repaired by a timer
	DefaultRepairDelay = 15 * time.Second
)

var (
	// ErrClosed indicates that the processor was closed
	ErrClosed = errors.New("versioning request processor was closed")
	// ErrInvalidKey indicates that an object key contains SEP
	ErrInvalidKey = errors.New("object key must not contain the version separator")
)

// Config contains configuration
// for a Processor
type Config struct {
	Logger *zap.Logger
	// Cache serves reads that must observe in-flight writes
	// and receives every write, typically a *writecache.Cache
	Cache kv.Backend
	// Gatherer serves version listings, typically
	// the *wgm.Manager behind Cache
	Gatherer kv.Backend
	// ReplicationGroupID is embedded in every version id.
	// It is ignored if Generator is set.
	ReplicationGroupID string
	Generator          *versionid.Generator
	// RepairDelay bounds how long a PHD survives when no
	// read repairs it. Zero selects DefaultRepairDelay.
	RepairDelay time.Duration
}

// Options select the version targeted by a request
type Options struct {
	// VersionID targets a specific version. NullVersionID
	// targets the null version.
	VersionID string
}

// GetRequest is a request to read an object
type GetRequest struct {
	DB      string
	Key     string
	Options Options
}

// PutOptions controls how a put creates or updates versions
type PutOptions struct {
	// Versioning creates a new version
	Versioning bool
	// VersionID, if set, writes a specific version. An empty
	// version id refreshes the master with a new version id.
	VersionID *string
	// IsNull, if set, marks the version as the null version
	// or clears that mark
	IsNull *bool
	// DeleteNullKey removes the null key when refreshing
	// the master with a new version id
	DeleteNullKey bool
}

// PutRequest is a request to write an object
type PutRequest struct {
	DB      string
	Key     string
	Value   string
	Options PutOptions
}

// DeleteOptions select the version removed by a delete
type DeleteOptions struct {
	VersionID string
	// IsNull deletes the null version slot
	IsNull bool
}

// DeleteRequest is a request to delete an object
// or one of its versions
type DeleteRequest struct {
	DB      string
	Key     string
	Options DeleteOptions
}

// Processor serves versioned reads and writes
type Processor struct {
	logger      *zap.Logger
	cache       kv.Backend
	gatherer    kv.Backend
	generator   *versionid.Generator
	repairDelay time.Duration
	locks       *keylock.LockMap
	listings    *waitqueue.Queue
	mu          sync.Mutex
	closed      bool
	timers      map[string]*time.Timer
	background  sync.WaitGroup
}

// New creates a Processor
func New(config Config) *Processor {
	processor := &Processor{
		logger:      config.Logger,
		cache:       config.Cache,
		gatherer:    config.Gatherer,
		generator:   config.Generator,
		repairDelay: config.RepairDelay,
		locks:       keylock.New(),
		listings:    waitqueue.New(),
		timers:      map[string]*time.Timer{},
	}

	if processor.logger == nil {
		processor.logger = zap.L()
	}

	if processor.generator == nil {
		processor.generator = versionid.NewGenerator(config.ReplicationGroupID)
	}

	if processor.gatherer == nil {
		processor.gatherer = processor.cache
	}

	if processor.repairDelay <= 0 {
		processor.repairDelay = DefaultRepairDelay
	}

	return processor
}

// Close stops all repair timers and waits for background
// work to finish. It must be called before the cache and
// gatherer are closed.
func (processor *Processor) Close() error {
	processor.mu.Lock()

	if processor.closed {
		processor.mu.Unlock()

		return nil
	}

	processor.closed = true

	for queueKey, timer := range processor.timers {
		timer.Stop()
		delete(processor.timers, queueKey)
	}

	processor.mu.Unlock()
	processor.background.Wait()

	return nil
}

func (processor *Processor) isClosed() bool {
	processor.mu.Lock()
	defer processor.mu.Unlock()

	return processor.closed
}

// goBackground runs fn in a goroutine tracked by Close.
// It returns false if the processor is closed.
func (processor *Processor) goBackground(fn func()) bool {
	processor.mu.Lock()
	defer processor.mu.Unlock()

	if processor.closed {
		return false
	}

	processor.background.Add(1)

	go func() {
		defer processor.background.Done()

		fn()
	}()

	return true
}

// requestLogger prefers a logger carried by ctx over
// the processor's own logger
func (processor *Processor) requestLogger(ctx context.Context, operation string, db string, key string) *zap.Logger {
	logger, _ := log.LoggerFromContext(ctx, processor.logger)

	return log.WithContext(ctx, logger).With(zap.String("operation", operation), zap.String("db", db), zap.String("key", key))
}

func validateKey(key string) error {
	if strings.Contains(key, SEP) {
		return ErrInvalidKey
	}

	return nil
}

func (processor *Processor) lock(db string, key string) func() {
	queueKey := queueKey(db, key)
	processor.locks.Lock(queueKey)

	return func() { processor.locks.Unlock(queueKey) }
}

// write applies ops to the versions of key while
// holding the lock of key
func (processor *Processor) write(ctx context.Context, db string, key string, ops ...kv.Op) error {
	unlock := processor.lock(db, key)
	defer unlock()

	return processor.cache.Batch(ctx, db, ops)
}

type versionReply struct {
	VersionID string `json:"versionId,omitempty"`
}

// reply returns the envelope sent back for a versioned write
// of versionID. The null version has no version id.
func reply(versionID string) string {
	if versionID == NullVersionID {
		versionID = ""
	}

	encoded, err := json.Marshal(versionReply{VersionID: versionID})

	if err != nil {
		panic(err)
	}

	return string(encoded)
}
