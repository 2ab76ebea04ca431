// Package writecache provides read-after-write isolation on top
// of a write gatherer. While a write is in flight its values
// are served from memory so that a read which follows the write
// never observes an older value. Concurrent misses for the same
// key share a single backend read.
package writecache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/jrife/versionkv/storage/kv"
	"github.com/jrife/versionkv/utils/log"
	"github.com/jrife/versionkv/utils/waitqueue"
	"go.uber.org/zap"
)

const (
	shardCount = 64
	// sep separates the database from the key in cache keys
	sep = "\x00"
)

var _ kv.Backend = (*Cache)(nil)

// Config contains configuration
// for a Cache
type Config struct {
	Logger *zap.Logger
	// Gatherer receives reads and writes that are not
	// served from the cache, typically a *wgm.Manager
	Gatherer kv.Backend
}

// Cache is a write cache. Entries exist only while
// a write or a read that may race with it is in flight.
type Cache struct {
	logger    *zap.Logger
	gatherer  kv.Backend
	signature atomic.Uint64
	shards    [shardCount]*shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
	fetches *waitqueue.Queue
}

// entry is the most recent write to a key
type entry struct {
	signature uint64
	value     string
	present   bool
	// writing is true until the write that
	// stamped this entry completes
	writing bool
}

func (e *entry) result() waitqueue.Result {
	if !e.present {
		return waitqueue.Result{Err: kv.ErrNotFound}
	}

	return waitqueue.Result{Value: e.value}
}

// New creates a Cache
func New(config Config) *Cache {
	cache := &Cache{
		logger:   config.Logger,
		gatherer: config.Gatherer,
	}

	if cache.logger == nil {
		cache.logger = zap.L()
	}

	for i := range cache.shards {
		cache.shards[i] = &shard{entries: map[string]*entry{}, fetches: waitqueue.New()}
	}

	return cache
}

func cacheKey(db string, key string) string {
	return db + sep + sep + key
}

func (cache *Cache) shard(ck string) *shard {
	return cache.shards[xxhash.Sum64String(ck)%shardCount]
}

// Get implements kv.Backend.Get. A key with a write in
// flight is served from memory. Otherwise the first caller
// for a key reads it through the gatherer and everyone
// waiting on that key receives the freshest value known
// when the read completes.
func (cache *Cache) Get(ctx context.Context, db string, key string) (string, error) {
	ck := cacheKey(db, key)
	s := cache.shard(ck)

	s.mu.Lock()

	if e, ok := s.entries[ck]; ok {
		result := e.result()
		s.mu.Unlock()

		return result.Value, result.Err
	}

	ch, first := s.fetches.Enqueue(ck)
	s.mu.Unlock()

	if first {
		go cache.fetch(context.WithoutCancel(ctx), s, db, key, ck)
	}

	select {
	case result := <-ch:
		return result.Value, result.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (cache *Cache) fetch(ctx context.Context, s *shard, db string, key string, ck string) {
	value, err := cache.gatherer.Get(ctx, db, key)

	if err != nil && !kv.IsNotFound(err) {
		logger, _ := log.LoggerFromContext(ctx, cache.logger)
		log.WithContext(ctx, logger).Debug("could not read key", zap.String("db", db), zap.String("key", key), zap.Error(err))
	}

	result := waitqueue.Result{Value: value, Err: err}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[ck]; ok {
		// A write landed while the read was in flight
		result = e.result()

		if !e.writing {
			delete(s.entries, ck)
		}
	}

	s.fetches.Dequeue(ck, result)
}

// List implements kv.Backend.List. Listings are
// not cached.
func (cache *Cache) List(ctx context.Context, db string, params kv.ListParams) ([]kv.Entry, error) {
	return cache.gatherer.List(ctx, db, params)
}

// Batch implements kv.Backend.Batch. The values of ops are
// visible to Get as soon as Batch is called and stay visible
// until the write completes. Batch waits for the write to
// complete even if ctx is cancelled so that the cache is
// never cleared while the write may still land.
func (cache *Cache) Batch(ctx context.Context, db string, ops []kv.Op) error {
	stamps := make(map[string]uint64, len(ops))

	for _, op := range ops {
		ck := cacheKey(db, op.Key)
		s := cache.shard(ck)
		e := &entry{
			signature: cache.signature.Add(1),
			value:     op.Value,
			present:   op.Type == kv.OpPut,
			writing:   true,
		}

		s.mu.Lock()
		s.entries[ck] = e
		s.fetches.Resolve(ck, e.result())
		s.mu.Unlock()

		stamps[ck] = e.signature
	}

	err := cache.gatherer.Batch(context.WithoutCancel(ctx), db, ops)

	for ck, signature := range stamps {
		s := cache.shard(ck)

		s.mu.Lock()

		if e, ok := s.entries[ck]; ok && e.signature == signature {
			if s.fetches.InProgress(ck) {
				// The read in flight clears the entry when it completes
				e.writing = false
			} else {
				delete(s.entries, ck)
			}
		}

		s.mu.Unlock()
	}

	return err
}

// Len returns the number of keys that have a
// cache entry or a read in flight
func (cache *Cache) Len() int {
	n := 0

	for _, s := range cache.shards {
		s.mu.Lock()
		n += s.fetches.Len()

		for ck := range s.entries {
			if !s.fetches.InProgress(ck) {
				n++
			}
		}

		s.mu.Unlock()
	}

	return n
}
