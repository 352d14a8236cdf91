// Package errors provides structured error handling for the svcgen pipeline.
// It defines error codes, categories, and formatting for both human-readable
// terminal output and machine-parseable JSON for tooling and fixers.
package errors

import (
	"encoding/json"
	stderrors "errors"
)

// ErrorCode represents a unique error code in the generation pipeline
type ErrorCode string

// ErrorCategory represents the pipeline stage that produced an error
type ErrorCategory string

const (
	// CategoryValidation represents metadata validation errors (VAL100-199)
	CategoryValidation ErrorCategory = "validation"
	// CategoryPlan represents plan construction errors (PLN200-299)
	CategoryPlan ErrorCategory = "plan"
	// CategoryRender represents template rendering errors (RND300-399)
	CategoryRender ErrorCategory = "render"
	// CategoryMerge represents file writer merge errors (MRG400-499)
	CategoryMerge ErrorCategory = "merge"
	// CategoryLoop represents build-test-fix loop errors (LOP500-599)
	CategoryLoop ErrorCategory = "loop"
	// CategoryConfig represents configuration errors (CFG600-699)
	CategoryConfig ErrorCategory = "config"
)

// Error is a structured pipeline error. Every fatal error names the metadata
// element, step, or artifact path responsible for it.
type Error struct {
	// Code is the unique error code (e.g., "VAL101")
	Code ErrorCode `json:"code"`
	// Type is a machine-readable error type identifier
	Type string `json:"type"`
	// Category is the pipeline stage category
	Category ErrorCategory `json:"category"`
	// Message is the primary error message
	Message string `json:"message"`
	// Source is the metadata document the error was found in (optional)
	Source string `json:"source,omitempty"`
	// Element is the metadata element path, e.g. "policies[0].on" (optional)
	Element string `json:"element,omitempty"`
	// Step is the generation step ID (optional)
	Step string `json:"step,omitempty"`
	// Path is the artifact path (optional)
	Path string `json:"path,omitempty"`
	// Suggestion provides a hint for fixing the error (optional)
	Suggestion string `json:"suggestion,omitempty"`
	// Candidates lists similar known names for unresolved references (optional)
	Candidates []string `json:"candidates,omitempty"`

	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	return FormatCompact(e)
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// Format returns a human-readable error message for terminal output
func (e *Error) Format() string {
	return FormatError(e)
}

// ToJSON returns the error as a JSON string
func (e *Error) ToJSON() (string, error) {
	bytes, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// WithSource sets the metadata document name
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

// WithElement sets the metadata element path
func (e *Error) WithElement(element string) *Error {
	e.Element = element
	return e
}

// WithStep sets the generation step ID
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// WithPath sets the artifact path
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithSuggestion sets a suggestion for fixing the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// WithCandidates sets similar known names
func (e *Error) WithCandidates(candidates ...string) *Error {
	e.Candidates = candidates
	return e
}

// WithCause attaches an underlying error
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// List is a collection of pipeline errors from a single stage
type List []*Error

// Error implements the error interface
func (l List) Error() string {
	if len(l) == 0 {
		return "no errors"
	}
	return FormatList(l)
}

// Unwrap exposes the individual errors to errors.Is / errors.As
func (l List) Unwrap() []error {
	errs := make([]error, len(l))
	for i, e := range l {
		errs[i] = e
	}
	return errs
}

// ErrOrNil returns nil for an empty list
func (l List) ErrOrNil() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// ToJSON returns all errors as a JSON array
func (l List) ToJSON() (string, error) {
	bytes, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// As finds the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CategoryOf returns the category of the first structured error in err's chain
func CategoryOf(err error) (ErrorCategory, bool) {
	e, ok := As(err)
	if !ok {
		return "", false
	}
	return e.Category, true
}

// ExitCode maps an error to the CLI exit code for its category.
// nil maps to 0 and unstructured errors map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	e, ok := As(err)
	if !ok {
		return 1
	}
	switch e.Category {
	case CategoryValidation:
		return 2
	case CategoryPlan:
		return 3
	case CategoryRender:
		return 4
	case CategoryMerge:
		return 5
	case CategoryLoop:
		if e.Code == ErrExhaustedRetries {
			return 6
		}
		return 1
	default:
		return 1
	}
}

func newError(code ErrorCode, typ string, category ErrorCategory, message string) *Error {
	return &Error{
		Code:     code,
		Type:     typ,
		Category: category,
		Message:  message,
	}
}
