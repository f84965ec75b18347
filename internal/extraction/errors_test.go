package extraction

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestUserMessageTranslations(t *testing.T) {
	cases := []struct {
		err  string
		want string
	}{
		{"UnsupportedDocumentException: bad format", "El formato del documento no es compatible"},
		{"InvalidParameterException", "El documento está dañado"},
		{"ThrottlingException: slow down", "temporalmente sobrecargado"},
		{"context deadline exceeded", "tardando más de lo esperado"},
		{"AccessDenied for object", "Error de permisos"},
		{"bedrock invoke failed", "procesamiento avanzado"},
		{"something else entirely", "Error al procesar el documento: something else entirely"},
	}
	for _, tc := range cases {
		got := UserMessage(errors.New(tc.err))
		if !strings.Contains(got, tc.want) {
			t.Errorf("UserMessage(%q) = %q, want substring %q", tc.err, got, tc.want)
		}
	}
}

func TestUserMessageCapsAccentedDetail(t *testing.T) {
	got := UserMessage(errors.New(strings.Repeat("ó", 2000)))
	if !utf8.ValidString(got) {
		t.Fatal("message is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != maxErrorMessageLen {
		t.Fatalf("rune count = %d, want %d", n, maxErrorMessageLen)
	}
}
