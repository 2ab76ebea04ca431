// Package kv defines the storage contract consumed by the
// versioning layer and provides implementations of it.
//
// A backend holds any number of databases. Each database is a
// flat, sorted keyspace of string keys and string values that
// supports three atomic calls:
//
//  - Get reads a single key and reports ErrNotFound if it is absent
//  - List reads a half-open range of keys in ascending order
//  - Batch applies a list of puts and deletes all at once
//
// The versioning layer never needs anything else from storage:
// versions, masters and placeholders are all encoded in keys and
// values on top of this contract.
//
// Drivers are exposed as plugins (see package plugins) so that a
// store can be selected by name from configuration. The in-memory
// backend in this package is used by tests and as a default.
package kv
