package versioning

import (
	"context"

	"github.com/jrife/versionkv/storage/kv"
	"github.com/jrife/versionkv/versioning/version"
	"github.com/jrife/versionkv/versioning/versionid"
	"go.uber.org/zap"
)

// Put writes an object. With a version id it writes that
// version, with versioning it creates a new version and
// otherwise it overwrites the master. Versioned writes return
// a JSON envelope carrying the version id that was written.
func (processor *Processor) Put(ctx context.Context, request PutRequest) (string, error) {
	logger := processor.requestLogger(ctx, "Put", request.DB, request.Key)
	logger.Debug("start")
	defer logger.Debug("return")

	if processor.isClosed() {
		return "", ErrClosed
	}

	if err := validateKey(request.Key); err != nil {
		return "", err
	}

	if request.Options.VersionID != nil {
		return processor.processVersionSpecificPut(ctx, logger, request)
	}

	if request.Options.Versioning {
		return processor.processNewVersionPut(ctx, request)
	}

	if err := processor.write(ctx, request.DB, request.Key, kv.Put(request.Key, request.Value)); err != nil {
		return "", err
	}

	return "", nil
}

// processNewVersionPut stores value as a new version which
// becomes the current version
func (processor *Processor) processNewVersionPut(ctx context.Context, request PutRequest) (string, error) {
	unlock := processor.lock(request.DB, request.Key)
	defer unlock()

	versionID := processor.generator.Generate("")
	value, err := version.AppendVersionID(request.Value, versionID)

	if err != nil {
		return "", err
	}

	ops := []kv.Op{
		kv.Put(request.Key, value),
		kv.Put(VersionKey(request.Key, versionID), value),
	}

	if err := processor.cache.Batch(ctx, request.DB, ops); err != nil {
		return "", err
	}

	return reply(versionID), nil
}

func (processor *Processor) processVersionSpecificPut(ctx context.Context, logger *zap.Logger, request PutRequest) (string, error) {
	versionID := *request.Options.VersionID

	switch versionID {
	case "":
		return processor.refreshMaster(ctx, request)
	case NullVersionID:
		if err := processor.write(ctx, request.DB, request.Key, kv.Put(NullKey(request.Key), request.Value)); err != nil {
			return "", err
		}

		return reply(NullVersionID), nil
	}

	unlock := processor.lock(request.DB, request.Key)
	defer unlock()

	ops, err := processor.planVersionPut(ctx, logger, request, versionID)

	if err != nil {
		return "", err
	}

	if err := processor.cache.Batch(ctx, request.DB, ops); err != nil {
		return "", err
	}

	return reply(versionID), nil
}

// refreshMaster overwrites the master with a new version id
// without creating a version key
func (processor *Processor) refreshMaster(ctx context.Context, request PutRequest) (string, error) {
	unlock := processor.lock(request.DB, request.Key)
	defer unlock()

	versionID := processor.generator.Generate("")
	value, err := version.AppendVersionID(request.Value, versionID)

	if err != nil {
		return "", err
	}

	ops := []kv.Op{kv.Put(request.Key, value)}

	if request.Options.DeleteNullKey {
		ops = append(ops, kv.Delete(NullKey(request.Key)))
	}

	if err := processor.cache.Batch(ctx, request.DB, ops); err != nil {
		return "", err
	}

	return reply(versionID), nil
}

// planVersionPut computes the write of a specific version.
// The version always gets its own slot. It replaces the master
// only if it is at least as new as the current version. A
// master holding a legacy null version, one without isNull2,
// is moved into the null key so that it stays ordered against
// other versions.
func (processor *Processor) planVersionPut(ctx context.Context, logger *zap.Logger, request PutRequest, versionID string) ([]kv.Op, error) {
	key := request.Key
	written, err := version.Parse(request.Value)

	if err != nil {
		return nil, err
	}

	written.SetVersionID(versionID)
	isNull := request.Options.IsNull != nil && *request.Options.IsNull

	if request.Options.IsNull != nil {
		if isNull {
			written.SetNull(true)
		} else {
			written.ClearNull()
		}
	}

	value := written.String()
	ops := []kv.Op{}

	if isNull {
		ops = append(ops, kv.Put(NullKey(key), value), kv.Delete(VersionKey(key, versionID)))
	} else {
		ops = append(ops, kv.Put(VersionKey(key, versionID), value))
	}

	masterValue, err := processor.cache.Get(ctx, request.DB, key)

	if kv.IsNotFound(err) {
		return append(ops, kv.Put(key, value)), nil
	} else if err != nil {
		return nil, err
	}

	master, err := version.Parse(masterValue)

	if err != nil {
		return nil, err
	}

	// A master without a version id predates versioning
	// and counts as a legacy null version
	legacyNull := (master.IsNull() && !master.IsNull2()) || !master.HasVersionID()
	masterVersionID := master.VersionID()

	if !master.HasVersionID() {
		masterVersionID = versionid.InfiniteID(processor.generator.ReplicationGroupID())
	}

	if versionID <= masterVersionID {
		logger.Debug("version replaces master", zap.String("versionId", versionID), zap.String("masterVersionId", masterVersionID))

		if masterVersionID == versionID || isNull {
			return append(ops, kv.Put(key, value)), nil
		}

		if legacyNull {
			ops = append(ops, processor.materializeNull(key, master, masterVersionID)...)
		}

		if legacyNull || master.IsNull() {
			value, err = version.UpdateOrAppendNullVersionID(value, masterVersionID)

			if err != nil {
				return nil, err
			}
		}

		return append(ops, kv.Put(key, value)), nil
	}

	logger.Debug("version is older than master", zap.String("versionId", versionID), zap.String("masterVersionId", masterVersionID))

	if legacyNull && !isNull {
		ops = append(ops, processor.materializeNull(key, master, masterVersionID)...)
		ops = append(ops, kv.Put(key, master.String()))
	}

	return ops, nil
}

// materializeNull copies the legacy null version held by
// master into the null key and marks master as a null
// version that has a null key
func (processor *Processor) materializeNull(key string, master *version.Version, masterVersionID string) []kv.Op {
	nullVersion := master.SetVersionID(masterVersionID).SetNull(true)
	ops := []kv.Op{kv.Put(NullKey(key), nullVersion.String())}

	if masterVersionID != versionid.InfiniteID(processor.generator.ReplicationGroupID()) {
		ops = append(ops, kv.Delete(VersionKey(key, masterVersionID)))
	}

	return ops
}
