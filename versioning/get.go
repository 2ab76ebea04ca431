package versioning

import (
	"context"

	"github.com/jrife/versionkv/storage/kv"
	"github.com/jrife/versionkv/utils/waitqueue"
	"github.com/jrife/versionkv/versioning/version"
	"github.com/jrife/versionkv/versioning/versionid"
	"go.uber.org/zap"
)

// Get returns the value of a specific version of an object
// or, without a version id, its current version. It returns
// kv.ErrNotFound if there is no such version.
func (processor *Processor) Get(ctx context.Context, request GetRequest) (string, error) {
	logger := processor.requestLogger(ctx, "Get", request.DB, request.Key)
	logger.Debug("start")
	defer logger.Debug("return")

	if processor.isClosed() {
		return "", ErrClosed
	}

	if err := validateKey(request.Key); err != nil {
		return "", err
	}

	if request.Options.VersionID != "" {
		versionKey := VersionKey(request.Key, request.Options.VersionID)

		if request.Options.VersionID == NullVersionID {
			versionKey = NullKey(request.Key)
		}

		return processor.cache.Get(ctx, request.DB, versionKey)
	}

	master, err := processor.cache.Get(ctx, request.DB, request.Key)

	if err != nil {
		return "", err
	}

	if !version.IsPHD(master) {
		return master, nil
	}

	logger.Debug("master is a placeholder, listing versions")

	return processor.getByListing(ctx, request.DB, request.Key)
}

// repairPlan is the write that replaces a PHD master
// with the current version of an object
type repairPlan struct {
	db  string
	key string
	// phd is the master value the plan was computed from
	phd string
	ops []kv.Op
}

// getByListing finds the current version of key by listing its
// versions. Concurrent calls for the same key share one listing.
// If the master is a PHD a repair is started in the background.
func (processor *Processor) getByListing(ctx context.Context, db string, key string) (string, error) {
	queueKey := queueKey(db, key)
	ch, first := processor.listings.Enqueue(queueKey)

	if first {
		listCtx := context.WithoutCancel(ctx)

		if !processor.goBackground(func() { processor.list(listCtx, db, key) }) {
			processor.listings.Dequeue(queueKey, waitqueue.Result{Err: ErrClosed})
		}
	}

	select {
	case result := <-ch:
		return result.Value, result.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (processor *Processor) list(ctx context.Context, db string, key string) {
	logger := processor.requestLogger(ctx, "getByListing", db, key)
	entries, err := processor.gatherer.List(ctx, db, versionRange(key))

	if err != nil {
		logger.Error("could not list versions", zap.Error(err))
		processor.listings.Dequeue(queueKey(db, key), waitqueue.Result{Err: err})

		return
	}

	result, plan := processor.resolveListing(db, key, entries)
	processor.listings.Dequeue(queueKey(db, key), result)

	if plan == nil {
		return
	}

	logger.Debug("scheduling repair", zap.Int("ops", len(plan.ops)))
	processor.goBackground(func() { processor.repairMaster(ctx, plan) })
}

// resolveListing picks the current version of key from a
// listing of its master followed by its version keys
func (processor *Processor) resolveListing(db string, key string, entries []kv.Entry) (waitqueue.Result, *repairPlan) {
	if len(entries) == 0 || entries[0].Key != key {
		return waitqueue.Result{Err: kv.ErrNotFound}, nil
	}

	master := entries[0].Value

	if !version.IsPHD(master) {
		return waitqueue.Result{Value: master}, nil
	}

	plan := &repairPlan{db: db, key: key, phd: master}
	var current *kv.Entry
	var currentVersionID string

	for i := range entries[1:] {
		entry := &entries[i+1]
		versionID, ok := versionIDOf(key, entry.Key)

		if !ok {
			continue
		}

		if versionID == "" {
			// The null key sorts first but belongs wherever
			// its own version id places it
			versionID = processor.nullKeyVersionID(entry.Value)
		}

		if current == nil || versionID < currentVersionID {
			current = entry
			currentVersionID = versionID
		}
	}

	if current == nil {
		plan.ops = []kv.Op{kv.Delete(key)}

		return waitqueue.Result{Err: kv.ErrNotFound}, plan
	}

	value := current.Value

	if current.Key == NullKey(key) {
		// The null version moves back into the master
		if v, err := version.Parse(value); err == nil {
			value = v.SetNull(false).String()
		}

		plan.ops = []kv.Op{kv.Put(key, value), kv.Delete(current.Key)}
	} else {
		plan.ops = []kv.Op{kv.Put(key, value)}
	}

	return waitqueue.Result{Value: value}, plan
}

// nullKeyVersionID returns the version id recorded in a null
// key. A null version without a version id predates versioning
// and is older than every other version.
func (processor *Processor) nullKeyVersionID(value string) string {
	v, err := version.Parse(value)

	if err != nil || !v.HasVersionID() {
		return versionid.InfiniteID(processor.generator.ReplicationGroupID())
	}

	return v.VersionID()
}
