package version

import (
	"regexp"
	"strings"
)

var nullVersionIDPattern = regexp.MustCompile(`"nullVersionId"\s*:\s*"(?:[^"\\]|\\.)*"`)

// IsPHD returns true if text is a placeholder for deletion.
// It only parses text if the flag name appears in it.
func IsPHD(text string) bool {
	return hasFlag(text, FieldIsPHD)
}

// IsDeleteMarker returns true if text is a delete marker.
// It only parses text if the flag name appears in it.
func IsDeleteMarker(text string) bool {
	return hasFlag(text, FieldIsDeleteMarker)
}

func hasFlag(text string, name string) bool {
	if !strings.Contains(text, `"`+name+`"`) {
		return false
	}

	version, err := Parse(text)

	if err != nil {
		return false
	}

	return version.flag(name)
}

// GeneratePHD returns a placeholder for deletion value
func GeneratePHD(versionID string) string {
	return `{"isPHD":true,"versionId":` + string(quote(versionID)) + `}`
}

// AppendVersionID appends a versionId field to the object
// in text. It does not look for an existing versionId field:
// calling it on a value that already has one produces a
// duplicate field.
func AppendVersionID(text string, versionID string) (string, error) {
	return appendField(text, FieldVersionID, versionID)
}

// UpdateOrAppendNullVersionID replaces the nullVersionId field
// of the object in text or appends one if there is none
func UpdateOrAppendNullVersionID(text string, nullVersionID string) (string, error) {
	if loc := nullVersionIDPattern.FindStringIndex(text); loc != nil {
		return text[:loc[0]] + `"nullVersionId":` + string(quote(nullVersionID)) + text[loc[1]:], nil
	}

	return appendField(text, FieldNullVersionID, nullVersionID)
}

func appendField(text string, name string, value string) (string, error) {
	trimmed := strings.TrimRight(text, " \t\r\n")

	if !strings.HasPrefix(strings.TrimLeft(trimmed, " \t\r\n"), "{") || !strings.HasSuffix(trimmed, "}") {
		return "", ErrNotObject
	}

	body := trimmed[:len(trimmed)-1]
	separator := ","

	if strings.HasSuffix(strings.TrimRight(body, " \t\r\n"), "{") {
		separator = ""
	}

	return body + separator + string(quote(name)) + ":" + string(quote(value)) + "}", nil
}
