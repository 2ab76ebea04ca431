// Package keylock provides mutual exclusion scoped
// to a single key.
package keylock

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 256

// LockMap hands out one mutex per key. Mutexes exist only
// while some goroutine holds or waits for them.
type LockMap struct {
	shards [shardCount]shard
}

type shard struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty LockMap
func New() *LockMap {
	lm := &LockMap{}

	for i := range lm.shards {
		lm.shards[i].locks = map[string]*refLock{}
	}

	return lm
}

func (lm *LockMap) shard(key string) *shard {
	return &lm.shards[xxhash.Sum64String(key)%shardCount]
}

// Lock blocks until the mutex for key is held
func (lm *LockMap) Lock(key string) {
	s := lm.shard(key)

	s.mu.Lock()
	l, ok := s.locks[key]

	if !ok {
		l = &refLock{}
		s.locks[key] = l
	}

	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the mutex for key. It panics
// if the mutex is not held.
func (lm *LockMap) Unlock(key string) {
	s := lm.shard(key)

	s.mu.Lock()
	l, ok := s.locks[key]

	if !ok {
		s.mu.Unlock()

		panic(fmt.Sprintf("Precondition failed: Mutex for %q is not held", key))
	}

	l.refs--

	if l.refs == 0 {
		delete(s.locks, key)
	}

	s.mu.Unlock()

	l.mu.Unlock()
}

// Len returns the number of keys whose mutex is
// currently held or waited for
func (lm *LockMap) Len() int {
	n := 0

	for i := range lm.shards {
		lm.shards[i].mu.Lock()
		n += len(lm.shards[i].locks)
		lm.shards[i].mu.Unlock()
	}

	return n
}
