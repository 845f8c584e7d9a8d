package schema

// IssueSeverity indicates whether a visual issue blocks acceptance.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityWarning  IssueSeverity = "warning"
)

// Issue is a single visual problem reported by the validation backend.
type Issue struct {
	Type        string        `json:"type"`
	Severity    IssueSeverity `json:"severity"`
	Description string        `json:"description"`
}

// ValidationResult aggregates the verdict of one visual validation pass.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Issues      []Issue  `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// HasCritical returns true if any issue carries critical severity.
func (r *ValidationResult) HasCritical() bool {
	for _, iss := range r.Issues {
		if iss.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Normalize enforces the verdict invariant: a result with no critical
// issues is valid, a result with any critical issue is not, regardless of
// what the model claimed.
func (r *ValidationResult) Normalize() {
	r.Valid = !r.HasCritical()
}

// AddIssue appends an issue in report order.
func (r *ValidationResult) AddIssue(issueType string, severity IssueSeverity, description string) {
	r.Issues = append(r.Issues, Issue{Type: issueType, Severity: severity, Description: description})
}

// CriticalFirst returns the issues reordered with critical severity first,
// preserving relative order within each severity group.
func (r *ValidationResult) CriticalFirst() []Issue {
	ordered := make([]Issue, 0, len(r.Issues))
	for _, iss := range r.Issues {
		if iss.Severity == SeverityCritical {
			ordered = append(ordered, iss)
		}
	}
	for _, iss := range r.Issues {
		if iss.Severity != SeverityCritical {
			ordered = append(ordered, iss)
		}
	}
	return ordered
}
