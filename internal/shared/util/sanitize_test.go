package util

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCapRunesCountsCharacters(t *testing.T) {
	s := "x" + strings.Repeat("á", 10000)

	capped := CapRunes(s, 15000)
	if capped != s {
		t.Fatal("text under the cap must come back unchanged")
	}

	capped = CapRunes(s, 5000)
	if got := utf8.RuneCountInString(capped); got != 5000 {
		t.Fatalf("rune count = %d, want 5000", got)
	}
	if !utf8.ValidString(capped) {
		t.Fatal("capped text is not valid UTF-8")
	}
}

func TestCapRunesZeroMax(t *testing.T) {
	if got := CapRunes("abc", 0); got != "" {
		t.Fatalf("CapRunes(0) = %q, want empty", got)
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	const marker = "[corte]"
	s := strings.Repeat("ñ", 200)

	out := Truncate(s, 150, marker)
	if !utf8.ValidString(out) {
		t.Fatal("truncated text is not valid UTF-8")
	}
	if !strings.HasSuffix(out, marker) {
		t.Fatalf("missing marker in %q", out[len(out)-20:])
	}
	if got := utf8.RuneCountInString(strings.TrimSuffix(out, marker)); got != 150 {
		t.Fatalf("rune count = %d, want 150", got)
	}

	if got := Truncate(s, 200, marker); got != s {
		t.Fatal("text at the cap must not gain a marker")
	}
}

func TestSanitizeFileNameRejectsTraversal(t *testing.T) {
	if _, err := SanitizeFileName("../../etc/passwd"); err == nil {
		t.Fatal("expected traversal rejection")
	}
	got, err := SanitizeFileName("informe social.pdf")
	if err != nil {
		t.Fatalf("SanitizeFileName: %v", err)
	}
	if got != "informe social.pdf" {
		t.Fatalf("got %q", got)
	}
}
