package versioning

import (
	"context"

	"github.com/jrife/versionkv/storage/kv"
	"github.com/jrife/versionkv/versioning/version"
	"go.uber.org/zap"
)

// Delete removes an object's master or, with a version id,
// one version of the object. If the removed version was the
// current version the master is replaced by a PHD.
func (processor *Processor) Delete(ctx context.Context, request DeleteRequest) (string, error) {
	logger := processor.requestLogger(ctx, "Delete", request.DB, request.Key)
	logger.Debug("start")
	defer logger.Debug("return")

	if processor.isClosed() {
		return "", ErrClosed
	}

	if err := validateKey(request.Key); err != nil {
		return "", err
	}

	if request.Options.VersionID == "" && !request.Options.IsNull {
		if err := processor.write(ctx, request.DB, request.Key, kv.Delete(request.Key)); err != nil {
			return "", err
		}

		return "", nil
	}

	return processor.processVersionSpecificDelete(ctx, logger, request)
}

func (processor *Processor) processVersionSpecificDelete(ctx context.Context, logger *zap.Logger, request DeleteRequest) (string, error) {
	key := request.Key
	versionID := request.Options.VersionID
	nullTarget := request.Options.IsNull || versionID == NullVersionID
	target := VersionKey(key, versionID)

	if nullTarget {
		target = NullKey(key)
	}

	unlock := processor.lock(request.DB, key)
	defer unlock()

	ops := []kv.Op{kv.Delete(target)}
	masterValue, err := processor.cache.Get(ctx, request.DB, key)

	if err != nil && !kv.IsNotFound(err) {
		return "", err
	}

	replaceMaster := false

	if err == nil {
		master, err := version.Parse(masterValue)

		if err != nil {
			return "", err
		}

		replaceMaster = master.IsPHD() ||
			(nullTarget && (master.IsNull() || !master.HasVersionID())) ||
			(versionID != "" && versionID != NullVersionID && master.VersionID() == versionID)
	}

	if replaceMaster {
		logger.Debug("deleting current version, writing placeholder")
		ops = append(ops, kv.Put(key, version.GeneratePHD(processor.generator.Generate(""))))
	}

	if err := processor.cache.Batch(ctx, request.DB, ops); err != nil {
		return "", err
	}

	if replaceMaster {
		processor.armRepair(ctx, request.DB, key)
	}

	return reply(versionID), nil
}
