package writecache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jrife/versionkv/storage/kv"
	"github.com/jrife/versionkv/storage/writecache"
	"go.uber.org/zap/zaptest"
)

// slowBackend holds reads until their gate is closed. A read
// samples the stored value before waiting so that it returns
// what the backend held when the read was issued.
type slowBackend struct {
	*kv.MemoryBackend
	mu       sync.Mutex
	gets     int
	readGate chan struct{}
	started  chan struct{}
	batchErr error
}

func newSlowBackend() *slowBackend {
	return &slowBackend{
		MemoryBackend: kv.NewMemoryBackend(),
		started:       make(chan struct{}, 1000),
	}
}

func (backend *slowBackend) Get(ctx context.Context, db string, key string) (string, error) {
	value, err := backend.MemoryBackend.Get(ctx, db, key)

	backend.mu.Lock()
	backend.gets++
	gate := backend.readGate
	backend.mu.Unlock()

	backend.started <- struct{}{}

	if gate != nil {
		<-gate
	}

	return value, err
}

func (backend *slowBackend) Batch(ctx context.Context, db string, ops []kv.Op) error {
	backend.mu.Lock()
	err := backend.batchErr
	backend.mu.Unlock()

	if err != nil {
		return err
	}

	return backend.MemoryBackend.Batch(ctx, db, ops)
}

func (backend *slowBackend) holdReads() chan struct{} {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	backend.readGate = make(chan struct{})

	return backend.readGate
}

func (backend *slowBackend) readCount() int {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	return backend.gets
}

func (backend *slowBackend) waitRead(t *testing.T) {
	t.Helper()

	select {
	case <-backend.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a backend read")
	}
}

type getResult struct {
	value string
	err   error
}

func startGets(cache *writecache.Cache, n int, db string, key string) chan getResult {
	results := make(chan getResult, n)

	for i := 0; i < n; i++ {
		go func() {
			value, err := cache.Get(context.Background(), db, key)
			results <- getResult{value: value, err: err}
		}()
	}

	return results
}

func receive(t *testing.T, results chan getResult) getResult {
	t.Helper()

	select {
	case result := <-results:
		return result
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a read")
	}

	return getResult{}
}

func waitEmpty(t *testing.T, cache *writecache.Cache) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for cache.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected cache to drain, %d keys remain", cache.Len())
		}

		time.Sleep(time.Millisecond)
	}
}

func TestCacheCoalescesMisses(t *testing.T) {
	backend := newSlowBackend()

	if err := backend.MemoryBackend.Batch(context.Background(), "db", []kv.Op{kv.Put("k", "v1")}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	cache := writecache.New(writecache.Config{Logger: zaptest.NewLogger(t), Gatherer: backend})
	gate := backend.holdReads()
	results := startGets(cache, 10, "db", "k")
	backend.waitRead(t)

	// Give the remaining readers a chance to queue behind the first
	time.Sleep(10 * time.Millisecond)
	close(gate)

	for i := 0; i < 10; i++ {
		result := receive(t, results)

		if result.err != nil {
			t.Fatalf("expected err to be nil, got %#v", result.err)
		}

		if result.value != "v1" {
			t.Fatalf("expected v1, got %s", result.value)
		}
	}

	// Readers that arrived after the first read completed
	// issue their own read, never a concurrent one
	if reads := backend.readCount(); reads < 1 || reads > 10 {
		t.Fatalf("unexpected number of backend reads %d", reads)
	}

	waitEmpty(t, cache)
}

func TestCacheReadersQueuedBeforeWriteSeeTheWrite(t *testing.T) {
	backend := newSlowBackend()

	if err := backend.MemoryBackend.Batch(context.Background(), "db", []kv.Op{kv.Put("k", "old")}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	cache := writecache.New(writecache.Config{Logger: zaptest.NewLogger(t), Gatherer: backend})
	gate := backend.holdReads()
	results := startGets(cache, 5, "db", "k")
	// The backend read has sampled "old" and is now held
	backend.waitRead(t)
	time.Sleep(10 * time.Millisecond)

	if err := cache.Batch(context.Background(), "db", []kv.Op{kv.Put("k", "new")}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	for i := 0; i < 5; i++ {
		result := receive(t, results)

		if result.err != nil {
			t.Fatalf("expected err to be nil, got %#v", result.err)
		}

		if result.value != "new" {
			t.Fatalf("expected queued reader to observe the write, got %s", result.value)
		}
	}

	// The held read is still in flight so the entry is kept for it
	value, err := cache.Get(context.Background(), "db", "k")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if value != "new" {
		t.Fatalf("expected new, got %s", value)
	}

	if reads := backend.readCount(); reads != 1 {
		t.Fatalf("expected exactly one backend read, got %d", reads)
	}

	close(gate)
	waitEmpty(t, cache)

	value, err = cache.Get(context.Background(), "db", "k")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if value != "new" {
		t.Fatalf("expected new, got %s", value)
	}
}

func TestCacheDeleteIsVisibleToQueuedReaders(t *testing.T) {
	backend := newSlowBackend()

	if err := backend.MemoryBackend.Batch(context.Background(), "db", []kv.Op{kv.Put("k", "old")}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	cache := writecache.New(writecache.Config{Logger: zaptest.NewLogger(t), Gatherer: backend})
	gate := backend.holdReads()
	results := startGets(cache, 3, "db", "k")
	backend.waitRead(t)
	time.Sleep(10 * time.Millisecond)

	if err := cache.Batch(context.Background(), "db", []kv.Op{kv.Delete("k")}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	for i := 0; i < 3; i++ {
		if result := receive(t, results); !kv.IsNotFound(result.err) {
			t.Fatalf("expected not found, got %#v", result)
		}
	}

	close(gate)
	waitEmpty(t, cache)
}

func TestCacheFailedWriteIsCleared(t *testing.T) {
	backend := newSlowBackend()
	failure := errors.New("store unavailable")
	backend.batchErr = failure
	cache := writecache.New(writecache.Config{Logger: zaptest.NewLogger(t), Gatherer: backend})

	if err := cache.Batch(context.Background(), "db", []kv.Op{kv.Put("k", "v")}); err != failure {
		t.Fatalf("expected %#v, got %#v", failure, err)
	}

	if cache.Len() != 0 {
		t.Fatalf("expected cache to be empty, got %d", cache.Len())
	}

	if _, err := cache.Get(context.Background(), "db", "k"); !kv.IsNotFound(err) {
		t.Fatalf("expected not found, got %#v", err)
	}
}

func TestCacheCancelledReader(t *testing.T) {
	backend := newSlowBackend()
	cache := writecache.New(writecache.Config{Logger: zaptest.NewLogger(t), Gatherer: backend})
	gate := backend.holdReads()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)

	go func() {
		_, err := cache.Get(ctx, "db", "k")
		result <- err
	}()

	backend.waitRead(t)
	cancel()

	select {
	case err := <-result:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %#v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for cancelled read")
	}

	close(gate)
	waitEmpty(t, cache)
}

func TestCacheKeysAreScopedByDatabase(t *testing.T) {
	backend := newSlowBackend()
	cache := writecache.New(writecache.Config{Logger: zaptest.NewLogger(t), Gatherer: backend})

	if err := cache.Batch(context.Background(), "a", []kv.Op{kv.Put("k", "va")}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, err := cache.Get(context.Background(), "b", "k"); !kv.IsNotFound(err) {
		t.Fatalf("expected not found, got %#v", err)
	}

	value, err := cache.Get(context.Background(), "a", "k")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if value != "va" {
		t.Fatalf("expected va, got %s", value)
	}
}
