package versioning

import (
	"strings"

	"github.com/jrife/versionkv/storage/kv"
	"github.com/jrife/versionkv/storage/kv/keys"
)

const (
	// SEP separates an object key from a version id in
	// version keys. It sorts below every character that
	// may appear in an object key.
	SEP = "\x00"
	// NullVersionID selects the null version slot of a key
	NullVersionID = "null"
	// listingLimit covers the master, the null key and
	// the newest version key
	listingLimit = 3
)

// VersionKey returns the key under which versionID of
// key is stored
func VersionKey(key string, versionID string) string {
	return key + SEP + versionID
}

// NullKey returns the key of the null version slot of key
func NullKey(key string) string {
	return VersionKey(key, "")
}

// versionIDOf returns the version id part of a version key
// of key. ok is false if versionKey is not one of key's
// version keys.
func versionIDOf(key string, versionKey string) (string, bool) {
	if !strings.HasPrefix(versionKey, key+SEP) {
		return "", false
	}

	return versionKey[len(key)+len(SEP):], true
}

// queueKey identifies key inside db for request
// deduplication and per-key serialization
func queueKey(db string, key string) string {
	return db + SEP + SEP + key
}

// versionRange lists the master of key followed by
// its version keys in order
func versionRange(key string) kv.ListParams {
	return kv.ListParams{
		Gte:   key,
		Lt:    keys.PrefixUpperBound(key + SEP),
		Limit: listingLimit,
	}
}
