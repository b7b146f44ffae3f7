package embedding

import "strings"

const stackTraceLines = 5

// TextFields is the subset of issue fields that feed the composite
// embedding text. Optional fields are represented by the empty value
// and omitted from the output; ErrorType and ErrorMessage always
// render, even when empty.
type TextFields struct {
	ErrorType    string
	ErrorMessage string
	StackTrace   string
	Tags         []string
	Language     string
	Framework    string
}

// BuildText renders the composite string fed to the embedding model.
// The output is deterministic: the same fields always produce the
// identical string, because the stored value is compared and rewritten
// when fields change.
func BuildText(fields TextFields) string {
	components := []string{
		"Error Type: " + fields.ErrorType,
		"Message: " + fields.ErrorMessage,
	}

	if fields.StackTrace != "" {
		lines := strings.Split(fields.StackTrace, "\n")
		if len(lines) > stackTraceLines {
			lines = lines[:stackTraceLines]
		}
		components = append(components, "Stack: "+strings.Join(lines, " "))
	}

	if len(fields.Tags) > 0 {
		components = append(components, "Tags: "+strings.Join(fields.Tags, ", "))
	}

	if fields.Language != "" {
		components = append(components, "Language: "+fields.Language)
	}

	if fields.Framework != "" {
		components = append(components, "Framework: "+fields.Framework)
	}

	return strings.Join(components, " | ")
}
