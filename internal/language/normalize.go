package language

import "strings"

// aliases folds common shorthand and vendor spellings into canonical
// lowercase programming-language names used for analytics grouping.
var aliases = map[string]string{
	"golang":     "go",
	"js":         "javascript",
	"node":       "javascript",
	"nodejs":     "javascript",
	"node.js":    "javascript",
	"ts":         "typescript",
	"py":         "python",
	"python3":    "python",
	"python2":    "python",
	"rb":         "ruby",
	"c++":        "cpp",
	"cplusplus":  "cpp",
	"c#":         "csharp",
	"objective-c": "objc",
	"objectivec": "objc",
	"shell":      "bash",
	"sh":         "bash",
	"postgres":   "sql",
	"postgresql": "sql",
	"mysql":      "sql",
	"kt":         "kotlin",
	"rs":         "rust",
}

// Normalize returns the canonical lowercase name for a programming
// language, folding known aliases. Unknown values pass through
// lowercased and trimmed; empty input stays empty.
func Normalize(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if lowered == "" {
		return ""
	}
	if canonical, exists := aliases[lowered]; exists {
		return canonical
	}
	return lowered
}

// NormalizeOptional keeps nil pointers nil and drops values that
// normalize to empty.
func NormalizeOptional(raw *string) *string {
	if raw == nil {
		return nil
	}
	normalized := Normalize(*raw)
	if normalized == "" {
		return nil
	}
	return &normalized
}
