// Package version reads and writes the metadata flags
// carried by a stored object value.
//
// A stored value is a flat JSON object. Besides the caller's
// own fields it may carry versionId, nullVersionId, isNull,
// isNull2, isDeleteMarker and isPHD. Version is the safe way
// to inspect and change them: it keeps the caller's fields in
// their original order and values byte for byte. The functions
// in fast.go do the same changes with string surgery on the
// write path and produce the same bytes for compact input.
package version

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// FieldVersionID holds the id of the version
	FieldVersionID = "versionId"
	// FieldNullVersionID holds the id of the null version
	// that the version replaced as current version
	FieldNullVersionID = "nullVersionId"
	// FieldIsNull marks the null version
	FieldIsNull = "isNull"
	// FieldIsNull2 marks a null version that is also
	// stored in the null key
	FieldIsNull2 = "isNull2"
	// FieldIsDeleteMarker marks a delete marker
	FieldIsDeleteMarker = "isDeleteMarker"
	// FieldIsPHD marks a placeholder for deletion
	FieldIsPHD = "isPHD"
)

var (
	// ErrNotObject indicates that a value is not a JSON object
	ErrNotObject = errors.New("value is not a JSON object")
)

type field struct {
	name  string
	value json.RawMessage
}

// Version is a parsed object value
type Version struct {
	fields []field
}

// New returns an empty Version
func New() *Version {
	return &Version{}
}

// Parse parses text which must be a JSON object
func Parse(text string) (*Version, error) {
	decoder := json.NewDecoder(strings.NewReader(text))
	token, err := decoder.Token()

	if err != nil {
		return nil, fmt.Errorf("could not parse version: %w", err)
	}

	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, ErrNotObject
	}

	version := &Version{}

	for decoder.More() {
		token, err := decoder.Token()

		if err != nil {
			return nil, fmt.Errorf("could not parse version: %w", err)
		}

		name, ok := token.(string)

		if !ok {
			return nil, fmt.Errorf("could not parse version: unexpected token %v", token)
		}

		var value json.RawMessage

		if err := decoder.Decode(&value); err != nil {
			return nil, fmt.Errorf("could not parse field %q: %w", name, err)
		}

		version.fields = append(version.fields, field{name: name, value: value})
	}

	if _, err := decoder.Token(); err != nil {
		return nil, fmt.Errorf("could not parse version: %w", err)
	}

	if _, err := decoder.Token(); err != io.EOF {
		return nil, fmt.Errorf("could not parse version: trailing data after object")
	}

	return version, nil
}

func (version *Version) index(name string) int {
	for i := len(version.fields) - 1; i >= 0; i-- {
		if version.fields[i].name == name {
			return i
		}
	}

	return -1
}

// Get returns the raw JSON value of a field. If the
// field appears more than once the last one wins.
func (version *Version) Get(name string) (json.RawMessage, bool) {
	i := version.index(name)

	if i < 0 {
		return nil, false
	}

	return version.fields[i].value, true
}

// Set replaces the value of a field in place or appends
// the field if it does not exist
func (version *Version) Set(name string, value interface{}) error {
	raw, err := marshal(value)

	if err != nil {
		return fmt.Errorf("could not marshal field %q: %w", name, err)
	}

	version.setRaw(name, raw)

	return nil
}

func (version *Version) setRaw(name string, raw []byte) {
	if i := version.index(name); i >= 0 {
		version.fields[i].value = raw

		return
	}

	version.fields = append(version.fields, field{name: name, value: raw})
}

// Delete removes every occurrence of a field
func (version *Version) Delete(name string) {
	fields := version.fields[:0]

	for _, f := range version.fields {
		if f.name != name {
			fields = append(fields, f)
		}
	}

	version.fields = fields
}

func (version *Version) flag(name string) bool {
	raw, ok := version.Get(name)

	if !ok {
		return false
	}

	var b bool

	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}

	return b
}

func (version *Version) stringField(name string) string {
	raw, ok := version.Get(name)

	if !ok {
		return ""
	}

	var s string

	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}

	return s
}

// IsPHD returns true if this is a placeholder for deletion
func (version *Version) IsPHD() bool {
	return version.flag(FieldIsPHD)
}

// IsDeleteMarker returns true if this is a delete marker
func (version *Version) IsDeleteMarker() bool {
	return version.flag(FieldIsDeleteMarker)
}

// IsNull returns true if this is the null version
func (version *Version) IsNull() bool {
	return version.flag(FieldIsNull)
}

// IsNull2 returns true if this null version is stored
// in the null key rather than only in the master key
func (version *Version) IsNull2() bool {
	return version.flag(FieldIsNull2)
}

// HasVersionID returns true if the value carries a version id
func (version *Version) HasVersionID() bool {
	return version.stringField(FieldVersionID) != ""
}

// VersionID returns the version id or "" if there is none
func (version *Version) VersionID() string {
	return version.stringField(FieldVersionID)
}

// NullVersionID returns the id of the null version recorded
// in a master value or "" if there is none
func (version *Version) NullVersionID() string {
	return version.stringField(FieldNullVersionID)
}

// SetVersionID sets the version id
func (version *Version) SetVersionID(versionID string) *Version {
	version.setRaw(FieldVersionID, quote(versionID))

	return version
}

// SetNullVersionID sets the id of the null version
func (version *Version) SetNullVersionID(nullVersionID string) *Version {
	version.setRaw(FieldNullVersionID, quote(nullVersionID))

	return version
}

// SetNull marks this as the null version. isNull2 records
// that the null version is also stored in the null key.
func (version *Version) SetNull(isNull2 bool) *Version {
	version.setRaw(FieldIsNull, []byte("true"))

	if isNull2 {
		version.setRaw(FieldIsNull2, []byte("true"))
	} else {
		version.Delete(FieldIsNull2)
	}

	return version
}

// ClearNull removes the null version flags
func (version *Version) ClearNull() *Version {
	version.Delete(FieldIsNull)
	version.Delete(FieldIsNull2)

	return version
}

// SetDeleteMarker marks this as a delete marker
func (version *Version) SetDeleteMarker() *Version {
	version.setRaw(FieldIsDeleteMarker, []byte("true"))

	return version
}

// SetPHD marks this as a placeholder for deletion
func (version *Version) SetPHD() *Version {
	version.setRaw(FieldIsPHD, []byte("true"))

	return version
}

// String serializes the version as a compact JSON object.
// Field order is preserved and values are written as they
// were parsed.
func (version *Version) String() string {
	var buffer bytes.Buffer

	buffer.WriteByte('{')

	for i, f := range version.fields {
		if i > 0 {
			buffer.WriteByte(',')
		}

		buffer.Write(quote(f.name))
		buffer.WriteByte(':')
		buffer.Write(f.value)
	}

	buffer.WriteByte('}')

	return buffer.String()
}

func marshal(value interface{}) ([]byte, error) {
	var buffer bytes.Buffer

	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(value); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buffer.Bytes(), "\n"), nil
}

// quote returns s as a JSON string literal
func quote(s string) []byte {
	// strings always marshal
	raw, _ := marshal(s)

	return raw
}
