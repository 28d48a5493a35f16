package rag

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSnippet(t *testing.T) {
	content := strings.Repeat("x", 300) + "MATCH" + strings.Repeat("y", 300)

	got := snippet(content, 300, 5)
	if !strings.Contains(got, "MATCH") {
		t.Fatalf("snippet lost the match: %q", got)
	}
	if len(got) > 5+2*snippetWindow {
		t.Errorf("snippet too long: %d bytes", len(got))
	}
}

func TestSnippetAtContentEdges(t *testing.T) {
	content := "short note"
	if got := snippet(content, 0, len(content)); got != content {
		t.Errorf("snippet = %q, want whole content", got)
	}
	if got := snippet(content, 500, 10); got != "" {
		t.Errorf("out-of-range snippet = %q", got)
	}
}

func TestSnippetRespectsRuneBoundaries(t *testing.T) {
	// Multi-byte runes surround the match so naive byte slicing would
	// split one.
	pad := strings.Repeat("日本語テキスト", 20)
	content := pad + "MATCH" + pad

	got := snippet(content, len(pad), 5)
	if !utf8.ValidString(got) {
		t.Errorf("snippet split a rune: %q", got)
	}
	if !strings.Contains(got, "MATCH") {
		t.Errorf("snippet lost the match: %q", got)
	}
}
