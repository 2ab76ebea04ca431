// Package wgm gathers concurrent writes to the same database
// into batches so that many small writes cost one physical
// write.
//
// For each database the manager is in one of these states:
//
//	idle -> accumulating -> committing -> idle
//	                            |
//	                            +-> accumulating (writes arrived during the commit)
//
// At most one physical batch is in flight per database.
// Writes arriving while a batch commits accumulate into the
// next batch, which is committed as soon as the running one
// completes. Reads are passed through to the backend.
package wgm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jrife/versionkv/storage/kv"
	"github.com/jrife/versionkv/utils/log"
	"go.uber.org/zap"
)

const (
	// DefaultWindow is how long writes accumulate before a
	// batch is committed
	DefaultWindow = 5 * time.Millisecond
)

var (
	// ErrClosed indicates that the manager was closed
	ErrClosed = errors.New("write gathering manager was closed")
)

var _ kv.Backend = (*Manager)(nil)

// Config contains configuration
// for a Manager
type Config struct {
	Logger  *zap.Logger
	Backend kv.Backend
	// Window is how long writes accumulate before
	// a batch is committed. Zero selects DefaultWindow.
	Window time.Duration
}

// Manager gathers writes per database. It implements
// kv.Backend so it can stand in for the backend it wraps.
type Manager struct {
	logger  *zap.Logger
	backend kv.Backend
	window  time.Duration
	mu      sync.Mutex
	dbs     map[string]*gathering
	closed  bool
	batches sync.WaitGroup
}

// gathering is the batching state of one database
type gathering struct {
	db         string
	pending    *batch
	committing bool
	timer      *time.Timer
	timerSeq   uint64
}

type batch struct {
	ops     []kv.Op
	replies []chan error
}

// New creates a Manager
func New(config Config) *Manager {
	manager := &Manager{
		logger:  config.Logger,
		backend: config.Backend,
		window:  config.Window,
		dbs:     map[string]*gathering{},
	}

	if manager.logger == nil {
		manager.logger = zap.L()
	}

	if manager.window <= 0 {
		manager.window = DefaultWindow
	}

	return manager
}

// Get implements kv.Backend.Get
func (manager *Manager) Get(ctx context.Context, db string, key string) (string, error) {
	return manager.backend.Get(ctx, db, key)
}

// List implements kv.Backend.List
func (manager *Manager) List(ctx context.Context, db string, params kv.ListParams) ([]kv.Entry, error) {
	return manager.backend.List(ctx, db, params)
}

// Batch implements kv.Backend.Batch. ops are appended to the
// database's next batch and Batch returns the result of the
// physical write that contains them. If ctx is done first
// Batch returns ctx.Err() but the write still happens.
func (manager *Manager) Batch(ctx context.Context, db string, ops []kv.Op) error {
	reply, err := manager.enqueue(db, ops)

	if err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (manager *Manager) enqueue(db string, ops []kv.Op) (chan error, error) {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	if manager.closed {
		return nil, ErrClosed
	}

	g, ok := manager.dbs[db]

	if !ok {
		g = &gathering{db: db}
		manager.dbs[db] = g
	}

	if g.pending == nil {
		g.pending = &batch{}
		manager.batches.Add(1)
	}

	reply := make(chan error, 1)
	g.pending.ops = append(g.pending.ops, ops...)
	g.pending.replies = append(g.pending.replies, reply)

	if g.timer == nil {
		g.timerSeq++
		seq := g.timerSeq
		g.timer = time.AfterFunc(manager.window, func() { manager.flush(g, seq) })
	}

	return reply, nil
}

// flush runs when the window of a database expires.
// seq identifies the timer so that a timer which fired
// after it was replaced does nothing.
func (manager *Manager) flush(g *gathering, seq uint64) {
	manager.mu.Lock()

	if g.timer == nil || g.timerSeq != seq {
		manager.mu.Unlock()

		return
	}

	g.timer = nil
	b := manager.takePending(g)
	manager.mu.Unlock()

	if b != nil {
		manager.commit(g, b)
	}
}

// takePending starts a commit of the pending batch unless
// one is already running, in which case the running commit
// picks up the pending batch when it completes.
// manager.mu must be held.
func (manager *Manager) takePending(g *gathering) *batch {
	if g.committing || g.pending == nil {
		return nil
	}

	b := g.pending
	g.pending = nil
	g.committing = true

	return b
}

func (manager *Manager) commit(g *gathering, b *batch) {
	for b != nil {
		logger := manager.logger.With(zap.String("db", g.db), zap.Int("ops", len(b.ops)), zap.Int("writers", len(b.replies)))
		logger.Debug("committing batch")

		// Not bound to the context of any one writer
		err := manager.backend.Batch(context.Background(), g.db, b.ops)

		if err != nil {
			logger.Error("could not commit batch", zap.Error(err))
		}

		manager.mu.Lock()
		g.committing = false
		var failed *batch

		if err != nil {
			// Writes that gathered during a failed commit fail with it
			failed = g.pending
			g.pending = nil

			if g.timer != nil {
				g.timer.Stop()
				g.timer = nil
			}
		}

		next := manager.takePending(g)

		if next != nil && g.timer != nil {
			g.timer.Stop()
			g.timer = nil
		}

		if !g.committing && g.pending == nil && g.timer == nil && manager.dbs[g.db] == g {
			delete(manager.dbs, g.db)
		}

		manager.mu.Unlock()

		b.reply(err)
		manager.batches.Done()

		if failed != nil {
			failed.reply(err)
			manager.batches.Done()
		}

		b = next
	}
}

func (b *batch) reply(err error) {
	for _, reply := range b.replies {
		reply <- err
	}
}

// Close stops accepting writes. Pending batches are
// committed and Close waits until every batch is resolved.
func (manager *Manager) Close(ctx context.Context) error {
	logger, ctx := log.LoggerFromContext(ctx, manager.logger)
	logger = log.WithContext(ctx, logger).With(zap.String("operation", "Close"))
	logger.Debug("closing write gathering manager")

	manager.mu.Lock()
	manager.closed = true
	flush := map[*gathering]uint64{}

	for _, g := range manager.dbs {
		if g.timer != nil && g.timer.Stop() {
			flush[g] = g.timerSeq
		}
	}

	manager.mu.Unlock()

	for g, seq := range flush {
		manager.flush(g, seq)
	}

	done := make(chan struct{})

	go func() {
		manager.batches.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
