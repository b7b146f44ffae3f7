package language

import "testing"

func TestNormalizeAliases(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Golang":   "go",
		" JS ":     "javascript",
		"Python3":  "python",
		"C++":      "cpp",
		"Rust":     "rust",
		"Elixir":   "elixir",
		"":         "",
		"   ":      "",
		"node.js":  "javascript",
		"Postgres": "sql",
	}

	for input, want := range cases {
		if got := Normalize(input); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeOptional(t *testing.T) {
	t.Parallel()

	if got := NormalizeOptional(nil); got != nil {
		t.Fatalf("expected nil passthrough, got %v", got)
	}

	blank := "   "
	if got := NormalizeOptional(&blank); got != nil {
		t.Fatalf("expected blank value to normalize to nil, got %q", *got)
	}

	raw := "TypeScript"
	got := NormalizeOptional(&raw)
	if got == nil || *got != "typescript" {
		t.Fatalf("unexpected normalized value: %v", got)
	}
}
