package versionid_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/jrife/versionkv/versioning/versionid"
)

func TestRoundTrip(t *testing.T) {
	generator := versionid.NewGenerator("PARIS")

	testCases := map[string]struct {
		id            string
		encodedLength int
	}{
		"canonical": {
			id:            generator.Generate(""),
			encodedLength: 32,
		},
		"with-info": {
			id:            generator.Generate("some info"),
			encodedLength: 2 * (27 + len("some info")),
		},
		"infinite": {
			id:            versionid.InfiniteID("PARIS"),
			encodedLength: 32,
		},
		"zeroes": {
			id:            "00000000000000000000\x00\x01\x02abcd",
			encodedLength: 32,
		},
		"not-canonical": {
			id:            "abcdefghijklmnopqrstuvwxyz0",
			encodedLength: 54,
		},
		"unicode": {
			id:            generator.Generate("✓"),
			encodedLength: 2 * (27 + len("✓")),
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			encoded := versionid.Encode(testCase.id)

			if len(encoded) != testCase.encodedLength {
				t.Fatalf("expected encoded length %d, got %d", testCase.encodedLength, len(encoded))
			}

			decoded, err := versionid.Decode(encoded)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if decoded != testCase.id {
				t.Fatalf("expected %q, got %q", testCase.id, decoded)
			}

			hexDecoded, err := versionid.Decode(versionid.Encoder{Encoding: versionid.EncodingHex}.Encode(testCase.id))

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if hexDecoded != testCase.id {
				t.Fatalf("expected %q, got %q", testCase.id, hexDecoded)
			}
		})
	}
}

func TestRoundTripMany(t *testing.T) {
	generator := versionid.NewGenerator("RG")

	for i := 0; i < 10000; i++ {
		id := generator.Generate("")
		decoded, err := versionid.Decode(versionid.Encode(id))

		if err != nil || decoded != id {
			t.Fatalf("round trip of %q failed: %q, %v", id, decoded, err)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	valid := versionid.Encode(versionid.InfiniteID("PARIS"))

	testCases := map[string]string{
		"empty":              "",
		"too-short":          "abc",
		"one-short":          valid[:31],
		"base62-bad-char":    "!" + valid[1:],
		"base62-overflow":    "zzzzzz" + valid[6:],
		"base62-bad-padding": valid[:12] + "1" + valid[13:],
		"base62-bad-group":   valid[:31] + "g",
		"hex-bad-char":       strings.Repeat("zz", 20),
		"hex-odd-length":     strings.Repeat("a", 33),
	}

	for name, encoded := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := versionid.Decode(encoded)

			if !errors.Is(err, versionid.ErrInvalidVersionID) {
				t.Fatalf("expected ErrInvalidVersionID, got %#v", err)
			}

			var decodeError *versionid.DecodeError

			if !errors.As(err, &decodeError) {
				t.Fatalf("expected a DecodeError, got %#v", err)
			}

			if decodeError.Input != encoded {
				t.Fatalf("expected the input to be reported, got %q", decodeError.Input)
			}
		})
	}
}

func TestEncodeBase62RejectsNonCanonical(t *testing.T) {
	if _, err := versionid.EncodeBase62("too short"); !errors.Is(err, versionid.ErrInvalidVersionID) {
		t.Fatalf("expected ErrInvalidVersionID, got %#v", err)
	}
}
