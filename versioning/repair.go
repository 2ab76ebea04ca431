package versioning

import (
	"context"
	"time"

	"github.com/jrife/versionkv/storage/kv"
	"github.com/jrife/versionkv/utils/log"
	"github.com/jrife/versionkv/versioning/version"
	"go.uber.org/zap"
)

// repairMaster applies plan if the master of the object
// is still the PHD the plan was computed from. If a different
// PHD replaced it the versions are listed again. Failures are
// logged and dropped.
func (processor *Processor) repairMaster(ctx context.Context, plan *repairPlan) {
	logger := processor.requestLogger(ctx, "repairMaster", plan.db, plan.key)
	unlock := processor.lock(plan.db, plan.key)
	master, err := processor.cache.Get(ctx, plan.db, plan.key)

	if kv.IsNotFound(err) {
		unlock()
		logger.Debug("master is gone, nothing to repair")

		return
	} else if err != nil {
		unlock()
		logger.Error("could not read master", zap.Error(err))

		return
	}

	if !version.IsPHD(master) {
		unlock()
		logger.Debug("master was already repaired")

		return
	}

	if master != plan.phd {
		unlock()
		logger.Debug("master was replaced by another placeholder, listing again")

		if _, err := processor.getByListing(ctx, plan.db, plan.key); err != nil && !kv.IsNotFound(err) {
			logger.Error("could not list versions", zap.Error(err))
		}

		return
	}

	logger.Info("repairing master", zap.Int("ops", len(plan.ops)))
	err = processor.cache.Batch(ctx, plan.db, plan.ops)
	unlock()

	if err != nil {
		logger.Error("could not repair master", zap.Error(err))

		return
	}

	processor.disarmRepair(plan.db, plan.key)
}

// armRepair makes sure the master of key is repaired within
// the repair delay even if nothing reads it. It replaces any
// timer already armed for key.
func (processor *Processor) armRepair(ctx context.Context, db string, key string) {
	queueKey := queueKey(db, key)
	repairCtx := log.WithFields(context.WithoutCancel(ctx), zap.String("trigger", "timer"))

	processor.mu.Lock()
	defer processor.mu.Unlock()

	if processor.closed {
		return
	}

	if timer, ok := processor.timers[queueKey]; ok {
		timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(processor.repairDelay, func() {
		processor.mu.Lock()

		if processor.closed || processor.timers[queueKey] != timer {
			processor.mu.Unlock()

			return
		}

		delete(processor.timers, queueKey)
		processor.mu.Unlock()

		logger := processor.requestLogger(repairCtx, "repairTimer", db, key)
		logger.Debug("repair delay expired")

		if _, err := processor.getByListing(repairCtx, db, key); err != nil && !kv.IsNotFound(err) && err != ErrClosed {
			logger.Error("could not list versions", zap.Error(err))
		}
	})
	processor.timers[queueKey] = timer
}

func (processor *Processor) disarmRepair(db string, key string) {
	queueKey := queueKey(db, key)

	processor.mu.Lock()
	defer processor.mu.Unlock()

	if timer, ok := processor.timers[queueKey]; ok {
		timer.Stop()
		delete(processor.timers, queueKey)
	}
}

// pendingRepairs returns the number of armed repair timers
func (processor *Processor) pendingRepairs() int {
	processor.mu.Lock()
	defer processor.mu.Unlock()

	return len(processor.timers)
}
