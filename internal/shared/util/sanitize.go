package util

import (
	"errors"
	"strings"
)

// SanitizeFileName removes path separators and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}

// FileExtension returns the lowercase extension of a blob key without the dot.
func FileExtension(key string) string {
	idx := strings.LastIndex(key, ".")
	if idx < 0 || idx == len(key)-1 {
		return ""
	}
	return strings.ToLower(key[idx+1:])
}

// CapRunes limits s to max characters, cutting on a rune boundary so the
// result is always valid UTF-8.
func CapRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// Truncate limits s to max characters, appending the marker when truncated.
func Truncate(s string, max int, marker string) string {
	if max <= 0 {
		return s
	}
	capped := CapRunes(s, max)
	if len(capped) == len(s) {
		return s
	}
	return capped + marker
}
