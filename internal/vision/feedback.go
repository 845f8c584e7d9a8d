package vision

import (
	"strings"

	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

// FormatFeedback renders a validation result as corrective feedback for the
// model. Pure: no side effects, deterministic for a given result.
//
// Returns the empty string exactly when the result is valid and carries
// zero issues; callers use that to skip rendering a feedback block.
func FormatFeedback(result *schema.ValidationResult) string {
	if result == nil || (result.Valid && len(result.Issues) == 0) {
		return ""
	}

	var b strings.Builder
	b.WriteString("The rendered diagram has the following issues:\n")

	for _, iss := range result.CriticalFirst() {
		b.WriteString("- ")
		if iss.Severity == schema.SeverityCritical {
			b.WriteString("(critical) ")
		}
		b.WriteString("[" + iss.Type + "] " + iss.Description + "\n")
	}

	if len(result.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range result.Suggestions {
			b.WriteString("- " + s + "\n")
		}
	}

	b.WriteString("\nPlease regenerate the diagram with a corrected layout addressing the issues above.")
	return b.String()
}
