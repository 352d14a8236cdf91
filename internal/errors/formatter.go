package errors

import (
	"fmt"
	"strings"
)

// FormatError returns a human-readable error message for terminal output
func FormatError(e *Error) string {
	var b strings.Builder

	fmt.Fprintf(&b, "❌ %s error [%s]", categoryDisplayName(e.Category), e.Code)
	if loc := location(e); loc != "" {
		fmt.Fprintf(&b, " at %s", loc)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %s\n", e.Message)

	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\n💡 %s\n", e.Suggestion)
	}

	return b.String()
}

// FormatList returns a formatted string of all errors
func FormatList(list List) string {
	if len(list) == 0 {
		return "no errors"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d error(s)\n\n", len(list))
	for i, e := range list {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatCompact(e))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatCompact returns a compact one-line error format
func FormatCompact(e *Error) string {
	loc := location(e)
	if loc == "" {
		return fmt.Sprintf("%s: %s [%s]", e.Category, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s [%s]", loc, e.Category, e.Message, e.Code)
}

// location joins the identifying parts of an error, most specific last
func location(e *Error) string {
	var parts []string
	if e.Source != "" {
		parts = append(parts, e.Source)
	}
	if e.Element != "" {
		parts = append(parts, e.Element)
	}
	if e.Step != "" {
		parts = append(parts, "step "+e.Step)
	}
	if e.Path != "" && e.Path != e.Source {
		parts = append(parts, e.Path)
	}
	return strings.Join(parts, ": ")
}

func categoryDisplayName(category ErrorCategory) string {
	switch category {
	case CategoryValidation:
		return "Validation"
	case CategoryPlan:
		return "Plan"
	case CategoryRender:
		return "Render"
	case CategoryMerge:
		return "Merge"
	case CategoryLoop:
		return "Build loop"
	case CategoryConfig:
		return "Config"
	default:
		return "Generation"
	}
}
