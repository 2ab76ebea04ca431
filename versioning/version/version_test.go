package version_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/versionkv/versioning/version"
)

func parseMap(t *testing.T, text string) map[string]interface{} {
	var m map[string]interface{}

	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("%q is not valid JSON: %s", text, err)
	}

	return m
}

func mustParse(t *testing.T, text string) *version.Version {
	v, err := version.Parse(text)

	if err != nil {
		t.Fatalf("could not parse %q: %s", text, err)
	}

	return v
}

func TestParse(t *testing.T) {
	v := mustParse(t, `{ "versionId": "v1", "isNull": true, "isNull2": false, "owner": "me", "tags": {"a": [1, 2]} }`)

	if v.VersionID() != "v1" {
		t.Fatalf("expected v1, got %q", v.VersionID())
	}

	if !v.IsNull() || v.IsNull2() || v.IsPHD() || v.IsDeleteMarker() {
		t.Fatalf("unexpected flags")
	}

	if expected := `{"versionId":"v1","isNull":true,"isNull2":false,"owner":"me","tags":{"a": [1, 2]}}`; v.String() != expected {
		t.Fatalf("expected %s, got %s", expected, v.String())
	}
}

func TestParseErrors(t *testing.T) {
	testCases := map[string]struct {
		text        string
		notAnObject bool
	}{
		"empty":          {text: ""},
		"array":          {text: `["a"]`, notAnObject: true},
		"string":         {text: `"a"`, notAnObject: true},
		"truncated":      {text: `{"a":"b"`},
		"trailing-data":  {text: `{"a":"b"} {}`},
		"bad-value":      {text: `{"a":}`},
		"unquoted-field": {text: `{a:"b"}`},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := version.Parse(testCase.text)

			if err == nil {
				t.Fatalf("expected an error")
			}

			if testCase.notAnObject && !errors.Is(err, version.ErrNotObject) {
				t.Fatalf("expected ErrNotObject, got %#v", err)
			}
		})
	}
}

func TestSetters(t *testing.T) {
	v := mustParse(t, `{"a":"1","isNull2":true}`)

	v.SetVersionID("v1").SetNullVersionID("n1").SetNull(false).SetDeleteMarker()

	if expected := `{"a":"1","versionId":"v1","nullVersionId":"n1","isNull":true,"isDeleteMarker":true}`; v.String() != expected {
		t.Fatalf("expected %s, got %s", expected, v.String())
	}

	v.SetNull(true).SetVersionID("v2")

	if !v.IsNull2() || v.VersionID() != "v2" {
		t.Fatalf("expected isNull2 and versionId v2, got %s", v.String())
	}

	v.ClearNull()

	if v.IsNull() || v.IsNull2() {
		t.Fatalf("expected null flags to be cleared, got %s", v.String())
	}

	if err := v.Set("size", 12); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if raw, _ := v.Get("size"); string(raw) != "12" {
		t.Fatalf("expected 12, got %s", raw)
	}
}

func TestIsPHD(t *testing.T) {
	testCases := map[string]struct {
		text   string
		result bool
	}{
		"generated":       {text: version.GeneratePHD("v1"), result: true},
		"spaced":          {text: `{ "isPHD": true, "versionId": "v1" }`, result: true},
		"absent":          {text: `{"versionId":"v1"}`},
		"false":           {text: `{"isPHD":false}`},
		"inside-a-string": {text: `{"comment":"\"isPHD\":true is set on placeholders"}`},
		"name-as-value":   {text: `{"comment":"isPHD"}`},
		"malformed":       {text: `{"isPHD":true`},
		"empty":           {text: ``},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			if result := version.IsPHD(testCase.text); result != testCase.result {
				t.Fatalf("expected %t, got %t", testCase.result, result)
			}
		})
	}
}

func TestIsDeleteMarker(t *testing.T) {
	if !version.IsDeleteMarker(`{"isDeleteMarker":true,"versionId":"v1"}`) {
		t.Fatalf("expected a delete marker")
	}

	if version.IsDeleteMarker(`{"key":"isDeleteMarker"}`) {
		t.Fatalf("expected the flag name inside a value to be ignored")
	}
}

func TestGeneratePHDMatchesSafePath(t *testing.T) {
	safe := version.New().SetPHD().SetVersionID("v1").String()

	if fast := version.GeneratePHD("v1"); fast != safe {
		t.Fatalf("expected %s, got %s", safe, fast)
	}
}

func TestAppendVersionID(t *testing.T) {
	testCases := map[string]string{
		"empty-object":   `{}`,
		"spaced-empty":   `{ }`,
		"one-field":      `{"a":"1"}`,
		"spaced":         `{ "a": "1", "b": "2" }`,
		"trailing-space": "{\"a\":\"1\"}\n",
		"nested":         `{"a":{"b":"c"},"d":[1,2]}`,
	}

	for name, text := range testCases {
		t.Run(name, func(t *testing.T) {
			fast, err := version.AppendVersionID(text, "v1")

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			safe := mustParse(t, text).SetVersionID("v1").String()

			if diff := cmp.Diff(parseMap(t, safe), parseMap(t, fast)); diff != "" {
				t.Fatalf("fast path diverges from safe path: %s", diff)
			}
		})
	}
}

func TestAppendVersionIDTwiceDuplicatesField(t *testing.T) {
	text, _ := version.AppendVersionID(`{"a":"1"}`, "v1")
	text, _ = version.AppendVersionID(text, "v2")

	if strings.Count(text, `"versionId"`) != 2 {
		t.Fatalf("expected two versionId fields in %s", text)
	}

	if v := mustParse(t, text); v.VersionID() != "v2" {
		t.Fatalf("expected the last versionId to win, got %q", v.VersionID())
	}
}

func TestUpdateOrAppendNullVersionID(t *testing.T) {
	testCases := map[string]string{
		"absent":          `{"a":"1"}`,
		"present":         `{"a":"1","nullVersionId":"old","b":"2"}`,
		"present-spaced":  `{ "nullVersionId" : "old" }`,
		"present-escaped": `{"nullVersionId":"o\"ld","b":"2"}`,
		"empty-object":    `{}`,
	}

	for name, text := range testCases {
		t.Run(name, func(t *testing.T) {
			fast, err := version.UpdateOrAppendNullVersionID(text, "n1")

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			safe := mustParse(t, text).SetNullVersionID("n1").String()

			if diff := cmp.Diff(parseMap(t, safe), parseMap(t, fast)); diff != "" {
				t.Fatalf("fast path diverges from safe path: %s", diff)
			}

			twice, _ := version.UpdateOrAppendNullVersionID(fast, "n2")

			if strings.Count(twice, `"nullVersionId"`) != 1 {
				t.Fatalf("expected exactly one nullVersionId field in %s", twice)
			}

			if v := mustParse(t, twice); v.NullVersionID() != "n2" {
				t.Fatalf("expected n2, got %q", v.NullVersionID())
			}
		})
	}
}

func TestFastPathRejectsNonObjects(t *testing.T) {
	for _, text := range []string{"", `"a"`, `[1]`, `{"a":"1"`} {
		if _, err := version.AppendVersionID(text, "v1"); !errors.Is(err, version.ErrNotObject) {
			t.Fatalf("expected ErrNotObject for %q, got %#v", text, err)
		}
	}
}

// Compact flat objects of string fields are what the safe path
// produces, so the fast path must reproduce it byte for byte.
func TestFastPathByteEquivalence(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	alphabet := []rune(`abcXYZ019 -_/"\<>&é✓`)

	randomString := func() string {
		runes := make([]rune, r.Intn(8))

		for i := range runes {
			runes[i] = alphabet[r.Intn(len(alphabet))]
		}

		return string(runes)
	}

	for i := 0; i < 500; i++ {
		v := version.New()

		for j := r.Intn(6); j > 0; j-- {
			if err := v.Set(fmt.Sprintf("field%d", j), randomString()); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}
		}

		if r.Intn(2) == 0 {
			v.SetNullVersionID(randomString())
		}

		text := v.String()
		versionID := randomString()
		nullVersionID := randomString()

		fast, err := version.AppendVersionID(text, versionID)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if safe := mustParse(t, text).SetVersionID(versionID).String(); fast != safe {
			t.Fatalf("AppendVersionID(%s): expected %s, got %s", text, safe, fast)
		}

		fast, err = version.UpdateOrAppendNullVersionID(text, nullVersionID)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if safe := mustParse(t, text).SetNullVersionID(nullVersionID).String(); fast != safe {
			t.Fatalf("UpdateOrAppendNullVersionID(%s): expected %s, got %s", text, safe, fast)
		}
	}
}
