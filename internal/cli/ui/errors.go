package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	generr "github.com/conduit-lang/svcgen/internal/errors"
)

// ErrorLevel represents the severity of an error message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Location     string
	Suggestions  []string
	Hint         string
	HelpCommands []string
	NoColor      bool
}

// FormatError creates a standardized error message with suggestions and help commands
//
// Example output:
//
//	❌ VALIDATION FAILED: event "OrderPlacd" is not declared
//	   at orders.yml: policies[0].on
//
//	   Did you mean: OrderPlaced?
//
//	   → Check the document: svcgen validate --metadata orders.yml
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	var headerColor, bodyColor *color.Color
	var symbol string

	switch opts.Level {
	case ErrorLevelError:
		headerColor = color.New(color.FgRed, color.Bold)
		bodyColor = color.New(color.FgRed)
		symbol = "❌"
	case ErrorLevelWarning:
		headerColor = color.New(color.FgYellow, color.Bold)
		bodyColor = color.New(color.FgYellow)
		symbol = "⚠️"
	default:
		headerColor = color.New(color.FgCyan, color.Bold)
		bodyColor = color.New(color.FgCyan)
		symbol = "ℹ️"
	}

	if opts.NoColor {
		headerColor.DisableColor()
		bodyColor.DisableColor()
	}

	if opts.Context != "" {
		headerColor.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		headerColor.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if opts.Location != "" {
		bodyColor.Fprintf(&b, "   at %s\n", opts.Location)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		yellow := color.New(color.FgYellow)
		if opts.NoColor {
			yellow.DisableColor()
		}
		yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	} else if opts.Hint != "" {
		b.WriteString("\n")
		fmt.Fprintf(&b, "   💡 %s\n", opts.Hint)
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := color.New(color.FgCyan)
		if opts.NoColor {
			cyan.DisableColor()
		}
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}

	return b.String()
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// PipelineError renders any error returned by the pipeline. Structured errors
// get their stage, location, and suggestions; anything else is shown as-is.
func PipelineError(err error, noColor bool) string {
	if list, ok := err.(generr.List); ok && len(list) > 1 {
		var b strings.Builder
		for _, e := range list {
			b.WriteString(PipelineError(e, noColor))
		}
		return b.String()
	}

	e, ok := generr.As(err)
	if !ok {
		return FormatError(ErrorOptions{
			Level:   ErrorLevelError,
			Context: "GENERATION FAILED",
			Problem: err.Error(),
			NoColor: noColor,
		})
	}

	location := e.Element
	if e.Source != "" && location != "" {
		location = e.Source + ": " + location
	}
	if e.Step != "" {
		location = strings.TrimPrefix(location+", step "+e.Step, ", ")
	}
	if e.Path != "" && e.Path != e.Source {
		location = strings.TrimPrefix(location+", "+e.Path, ", ")
	}

	return FormatError(ErrorOptions{
		Level:        ErrorLevelError,
		Context:      contextFor(e.Category),
		Problem:      fmt.Sprintf("%s [%s]", e.Message, e.Code),
		Location:     location,
		Suggestions:  e.Candidates,
		Hint:         e.Suggestion,
		HelpCommands: helpFor(e.Category),
		NoColor:      noColor,
	})
}

func contextFor(category generr.ErrorCategory) string {
	switch category {
	case generr.CategoryValidation:
		return "VALIDATION FAILED"
	case generr.CategoryPlan:
		return "PLAN FAILED"
	case generr.CategoryRender:
		return "RENDER FAILED"
	case generr.CategoryMerge:
		return "MERGE FAILED"
	case generr.CategoryLoop:
		return "BUILD LOOP FAILED"
	case generr.CategoryConfig:
		return "CONFIGURATION ERROR"
	default:
		return "GENERATION FAILED"
	}
}

func helpFor(category generr.ErrorCategory) []string {
	switch category {
	case generr.CategoryValidation, generr.CategoryPlan:
		return []string{"Check the document: svcgen validate --metadata <path>"}
	case generr.CategoryLoop:
		return []string{"Review past runs: svcgen history"}
	case generr.CategoryConfig:
		return []string{"View config: cat svcgen.yml"}
	default:
		return nil
	}
}
