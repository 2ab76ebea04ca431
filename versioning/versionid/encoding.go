package versionid

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// EncodedLength is the length of a base62 encoded id
	EncodedLength = 32
	// each half of the numeric part is 10 decimal digits which
	// fits in 6 base62 digits
	base62HalfDigits  = (LengthTimestamp + LengthSequence) / 2
	base62HalfLength  = 6
	base62MaxHalf     = 9999999999
	base62GroupLength = EncodedLength - 2*base62HalfLength
)

// ErrInvalidVersionID is the target of errors.Is for every DecodeError
var ErrInvalidVersionID = errors.New("invalid version id")

// DecodeError reports an external version id that cannot be decoded
type DecodeError struct {
	Input  string
	Reason string
}

func (err *DecodeError) Error() string {
	return fmt.Sprintf("invalid version id %q: %s", err.Input, err.Reason)
}

// Is makes errors.Is(err, ErrInvalidVersionID) true
func (err *DecodeError) Is(target error) bool {
	return target == ErrInvalidVersionID
}

// Encoding selects an external encoding
type Encoding int

const (
	// EncodingBase62 encodes ids without info suffix in 32 base62
	// characters and falls back to hex for everything else
	EncodingBase62 Encoding = iota
	// EncodingHex always encodes in hex
	EncodingHex
)

// Encoder encodes ids with a fixed encoding
type Encoder struct {
	Encoding Encoding
}

// Encode encodes id
func (encoder Encoder) Encode(id string) string {
	if encoder.Encoding == EncodingHex {
		return EncodeHex(id)
	}

	return Encode(id)
}

// Decode decodes an encoded id. Decoding does not depend
// on the encoder's encoding.
func (encoder Encoder) Decode(encoded string) (string, error) {
	return Decode(encoded)
}

// Encode returns the external form of id. Ids in internal
// form without an info suffix are encoded in base62, anything
// else in hex.
func Encode(id string) string {
	if encoded, err := EncodeBase62(id); err == nil {
		return encoded
	}

	return EncodeHex(id)
}

// Decode returns the internal form of an encoded id. The
// encoding is selected by length: exactly EncodedLength
// characters is base62, more is hex.
func Decode(encoded string) (string, error) {
	switch {
	case len(encoded) == EncodedLength:
		return DecodeBase62(encoded)
	case len(encoded) > EncodedLength:
		return DecodeHex(encoded)
	}

	return "", &DecodeError{Input: encoded, Reason: fmt.Sprintf("length %d is too short", len(encoded))}
}

// EncodeHex encodes the bytes of id in lowercase hex
func EncodeHex(id string) string {
	return hex.EncodeToString([]byte(id))
}

// DecodeHex reverses EncodeHex
func DecodeHex(encoded string) (string, error) {
	decoded, err := hex.DecodeString(encoded)

	if err != nil {
		return "", &DecodeError{Input: encoded, Reason: err.Error()}
	}

	return string(decoded), nil
}

// EncodeBase62 encodes an id in internal form without
// info suffix in exactly EncodedLength characters.
func EncodeBase62(id string) (string, error) {
	if len(id) != Length || !Valid(id) {
		return "", fmt.Errorf("%q cannot be encoded in base62: %w", id, ErrInvalidVersionID)
	}

	high, _ := strconv.ParseUint(id[:base62HalfDigits], 10, 64)
	low, _ := strconv.ParseUint(id[base62HalfDigits:2*base62HalfDigits], 10, 64)
	group := hex.EncodeToString([]byte(id[2*base62HalfDigits:]))

	var builder strings.Builder

	builder.Grow(EncodedLength)
	builder.WriteString(encodeBase62Uint(high, base62HalfLength))
	builder.WriteString(encodeBase62Uint(low, base62HalfLength))
	builder.WriteString(strings.Repeat("0", base62GroupLength-len(group)))
	builder.WriteString(group)

	return builder.String(), nil
}

// DecodeBase62 reverses EncodeBase62
func DecodeBase62(encoded string) (string, error) {
	if len(encoded) != EncodedLength {
		return "", &DecodeError{Input: encoded, Reason: fmt.Sprintf("base62 ids must be %d characters", EncodedLength)}
	}

	high, err := decodeBase62Uint(encoded[:base62HalfLength])

	if err != nil {
		return "", &DecodeError{Input: encoded, Reason: err.Error()}
	}

	low, err := decodeBase62Uint(encoded[base62HalfLength : 2*base62HalfLength])

	if err != nil {
		return "", &DecodeError{Input: encoded, Reason: err.Error()}
	}

	groupPadding := base62GroupLength - 2*LengthReplicationGroupID
	padding := encoded[2*base62HalfLength : 2*base62HalfLength+groupPadding]

	if strings.Trim(padding, "0") != "" {
		return "", &DecodeError{Input: encoded, Reason: "malformed replication group padding"}
	}

	group, err := hex.DecodeString(encoded[2*base62HalfLength+groupPadding:])

	if err != nil {
		return "", &DecodeError{Input: encoded, Reason: err.Error()}
	}

	return fmt.Sprintf("%0*d%0*d%s", base62HalfDigits, high, base62HalfDigits, low, group), nil
}

func encodeBase62Uint(n uint64, length int) string {
	digits := make([]byte, length)

	for i := length - 1; i >= 0; i-- {
		digits[i] = base62Alphabet[n%62]
		n /= 62
	}

	return string(digits)
}

func decodeBase62Uint(s string) (uint64, error) {
	var n uint64

	for i := 0; i < len(s); i++ {
		digit := strings.IndexByte(base62Alphabet, s[i])

		if digit < 0 {
			return 0, fmt.Errorf("invalid base62 character %q", s[i])
		}

		n = n*62 + uint64(digit)
	}

	if n > base62MaxHalf {
		return 0, fmt.Errorf("base62 value %q is out of range", s)
	}

	return n, nil
}
