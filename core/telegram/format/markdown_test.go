package format

import "testing"

func TestEscapeMarkdown(t *testing.T) {
	got, err := EscapeMarkdown("a_b*c`d[e", MarkdownV1)
	if err != nil || got != "a\\_b\\*c\\`d\\[e" {
		t.Fatalf("v1 = %q, %v", got, err)
	}
	got, err = EscapeMarkdown("1.5 (x)!", MarkdownV2)
	if err != nil || got != "1\\.5 \\(x\\)\\!" {
		t.Fatalf("v2 = %q, %v", got, err)
	}
	if _, err := EscapeMarkdown("x", 3); err == nil {
		t.Fatal("expected error for unknown version")
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("Neo", "", "neo", 1); got != "Neo" {
		t.Fatalf("got %q", got)
	}
	if got := DisplayName("", "", "neo", 1); got != "@neo" {
		t.Fatalf("got %q", got)
	}
	if got := DisplayName("", "", "", 42); got != "42" {
		t.Fatalf("got %q", got)
	}
}
