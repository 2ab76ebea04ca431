// Package versionid generates and encodes version identifiers.
//
// A version id in its internal form is the concatenation of
//
//   - 14 decimal digits: MaxTimestamp minus the unix time in milliseconds
//   - 6 decimal digits: MaxSequence minus a per-millisecond sequence number
//   - 7 bytes: the replication group id, right padded with spaces
//   - an optional free-form info suffix
//
// Both numeric fields are inverted so that ids sort in reverse
// chronological order: an id that compares lower is newer.
// Callers outside this module only ever see the external
// encodings produced by Encode.
package versionid

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// LengthTimestamp is the number of digits in the timestamp field
	LengthTimestamp = 14
	// LengthSequence is the number of digits in the sequence field
	LengthSequence = 6
	// LengthReplicationGroupID is the number of bytes in the replication group field
	LengthReplicationGroupID = 7
	// Length is the length of an id without info suffix
	Length = LengthTimestamp + LengthSequence + LengthReplicationGroupID
	// MaxTimestamp is the largest timestamp that can be encoded
	MaxTimestamp int64 = 99999999999999
	// MaxSequence is the largest sequence number that can be encoded
	MaxSequence int64 = 999999
)

// maxStartupWait bounds the wait for the
// first millisecond boundary
const maxStartupWait = 10 * time.Millisecond

// Option configures a Generator
type Option func(*Generator)

// WithClock replaces the wall clock used by the generator.
// The startup wait for the next millisecond gives up after
// maxStartupWait of real time, so a clock that never advances
// still works: the generator then skips the current millisecond.
func WithClock(now func() time.Time) Option {
	return func(generator *Generator) {
		generator.now = now
	}
}

// Generator mints version ids for one replication group.
// It must be shared by everything that mints ids in a
// process for that group: ordering is only guaranteed between
// ids minted by the same Generator.
type Generator struct {
	mu                 sync.Mutex
	replicationGroupID string
	now                func() time.Time
	started            bool
	lastTimestamp      int64
	lastSequence       int64
}

// NewGenerator creates a Generator for replicationGroupID
func NewGenerator(replicationGroupID string, opts ...Option) *Generator {
	generator := &Generator{
		replicationGroupID: formatReplicationGroupID(replicationGroupID),
		now:                time.Now,
	}

	for _, opt := range opts {
		opt(generator)
	}

	return generator
}

// ReplicationGroupID returns the padded replication group id
// embedded in every id minted by this generator
func (generator *Generator) ReplicationGroupID() string {
	return generator.replicationGroupID
}

// Generate returns a new id that compares lower than every
// id previously returned by this generator. info is appended
// verbatim.
func (generator *Generator) Generate(info string) string {
	generator.mu.Lock()
	defer generator.mu.Unlock()

	if !generator.started {
		// A previous process for this replication group may have
		// minted ids during the current millisecond right before it
		// exited. Its sequence numbers are unknown, so start in a
		// fresh millisecond.
		current := generator.millis()

		if !generator.waitForNextMillisecond(current) {
			// Mark every sequence number of the current
			// millisecond as used
			generator.lastTimestamp = current
			generator.lastSequence = MaxSequence
		}

		generator.started = true
	}

	timestamp := generator.millis()
	sequence := int64(0)

	if timestamp <= generator.lastTimestamp {
		timestamp = generator.lastTimestamp
		sequence = generator.lastSequence + 1

		if sequence > MaxSequence {
			timestamp++
			sequence = 0
		}
	}

	generator.lastTimestamp = timestamp
	generator.lastSequence = sequence

	return format(MaxTimestamp-timestamp, MaxSequence-sequence, generator.replicationGroupID, info)
}

func (generator *Generator) millis() int64 {
	return generator.now().UnixNano() / int64(time.Millisecond)
}

// waitForNextMillisecond returns false if the clock did not
// move past current within maxStartupWait
func (generator *Generator) waitForNextMillisecond(current int64) bool {
	deadline := time.Now().Add(maxStartupWait)

	for generator.millis() <= current {
		if time.Now().After(deadline) {
			return false
		}

		time.Sleep(50 * time.Microsecond)
	}

	return true
}

// InfiniteID returns the largest id possible for replicationGroupID.
// It stands for objects written before versioning existed and
// compares as older than every generated id.
func InfiniteID(replicationGroupID string) string {
	return format(MaxTimestamp, MaxSequence, formatReplicationGroupID(replicationGroupID), "")
}

// Valid returns true if id is in internal form
func Valid(id string) bool {
	return len(id) >= Length && isDigits(id[:LengthTimestamp+LengthSequence])
}

func format(timestamp int64, sequence int64, replicationGroupID string, info string) string {
	var builder strings.Builder

	builder.Grow(Length + len(info))
	builder.WriteString(padLeft(strconv.FormatInt(timestamp, 10), LengthTimestamp))
	builder.WriteString(padLeft(strconv.FormatInt(sequence, 10), LengthSequence))
	builder.WriteString(replicationGroupID)
	builder.WriteString(info)

	return builder.String()
}

func formatReplicationGroupID(replicationGroupID string) string {
	if len(replicationGroupID) >= LengthReplicationGroupID {
		return replicationGroupID[:LengthReplicationGroupID]
	}

	return replicationGroupID + strings.Repeat(" ", LengthReplicationGroupID-len(replicationGroupID))
}

func padLeft(s string, length int) string {
	if len(s) >= length {
		return s
	}

	return strings.Repeat("0", length-len(s)) + s
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return true
}
