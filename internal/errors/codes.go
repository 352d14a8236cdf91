package errors

import (
	"fmt"
	"strings"
)

// Validation error codes (VAL100-199)
const (
	// ErrMalformedDocument indicates the metadata document could not be decoded
	ErrMalformedDocument ErrorCode = "VAL100"
	// ErrMissingField indicates a required field is absent
	ErrMissingField ErrorCode = "VAL101"
	// ErrInvalidIdentifier indicates a name that is not a valid identifier
	ErrInvalidIdentifier ErrorCode = "VAL102"
	// ErrDuplicateName indicates a name declared more than once
	ErrDuplicateName ErrorCode = "VAL103"
	// ErrUnresolvedEvent indicates a reference to an undeclared event
	ErrUnresolvedEvent ErrorCode = "VAL104"
	// ErrUnresolvedAggregate indicates a reference to an undeclared aggregate
	ErrUnresolvedAggregate ErrorCode = "VAL105"
	// ErrUnresolvedValueObject indicates a reference to an undeclared value object
	ErrUnresolvedValueObject ErrorCode = "VAL106"
	// ErrInvalidInclude indicates an unknown service include kind
	ErrInvalidInclude ErrorCode = "VAL107"
	// ErrInvalidValue indicates a value outside its allowed range or form
	ErrInvalidValue ErrorCode = "VAL108"
)

// Plan error codes (PLN200-299)
const (
	// ErrOwnershipCycle indicates a cycle in value-object ownership
	ErrOwnershipCycle ErrorCode = "PLN200"
	// ErrAggregateAsValueObject indicates a value object that is itself an aggregate
	ErrAggregateAsValueObject ErrorCode = "PLN201"
	// ErrOrderViolation indicates a plan that breaks dependency order
	ErrOrderViolation ErrorCode = "PLN202"
)

// Render error codes (RND300-399)
const (
	// ErrUnboundPlaceholder indicates a template placeholder with no binding
	ErrUnboundPlaceholder ErrorCode = "RND300"
	// ErrTemplateSyntax indicates a template that fails to parse
	ErrTemplateSyntax ErrorCode = "RND301"
	// ErrNoTemplate indicates a step kind with no registered template
	ErrNoTemplate ErrorCode = "RND302"
	// ErrUnsafePath indicates a rendered path outside the output tree
	ErrUnsafePath ErrorCode = "RND303"
)

// Merge error codes (MRG400-499)
const (
	// ErrMergeTargetMissing indicates an append-route target that does not exist
	ErrMergeTargetMissing ErrorCode = "MRG400"
	// ErrMergeUnparsable indicates a shared artifact that cannot be parsed
	ErrMergeUnparsable ErrorCode = "MRG401"
	// ErrWriteFailed indicates a filesystem write failure
	ErrWriteFailed ErrorCode = "MRG402"
	// ErrLockFailed indicates a shared-artifact lock could not be acquired
	ErrLockFailed ErrorCode = "MRG403"
)

// Loop error codes (LOP500-599)
const (
	// ErrExhaustedRetries indicates the build-test-fix loop ran out of iterations
	ErrExhaustedRetries ErrorCode = "LOP500"
	// ErrToolFailed indicates the build/test tool could not be invoked
	ErrToolFailed ErrorCode = "LOP501"
	// ErrFixFailed indicates the fixer could not be invoked
	ErrFixFailed ErrorCode = "LOP502"
)

// Config error codes (CFG600-699)
const (
	// ErrInvalidConfig indicates an invalid configuration value
	ErrInvalidConfig ErrorCode = "CFG600"
	// ErrSkipTestsForbidden indicates a test command that skips tests
	ErrSkipTestsForbidden ErrorCode = "CFG601"
)

// NewMalformedDocument creates a VAL100 error
func NewMalformedDocument(source string, cause error) *Error {
	return newError(
		ErrMalformedDocument,
		"malformed_document",
		CategoryValidation,
		fmt.Sprintf("metadata document could not be decoded: %v", cause),
	).WithSource(source).WithCause(cause)
}

// NewMissingField creates a VAL101 error
func NewMissingField(element string) *Error {
	return newError(
		ErrMissingField,
		"missing_field",
		CategoryValidation,
		fmt.Sprintf("required field %s is missing", element),
	).WithElement(element)
}

// NewInvalidIdentifier creates a VAL102 error
func NewInvalidIdentifier(element, value string) *Error {
	return newError(
		ErrInvalidIdentifier,
		"invalid_identifier",
		CategoryValidation,
		fmt.Sprintf("%q is not a valid identifier", value),
	).WithElement(element).
		WithSuggestion("Use letters, digits and underscores, starting with a letter")
}

// NewDuplicateName creates a VAL103 error
func NewDuplicateName(element, name, firstAt string) *Error {
	return newError(
		ErrDuplicateName,
		"duplicate_name",
		CategoryValidation,
		fmt.Sprintf("name %q is already declared at %s", name, firstAt),
	).WithElement(element)
}

// NewUnresolvedEvent creates a VAL104 error
func NewUnresolvedEvent(element, name string, candidates []string) *Error {
	return newUnresolved(ErrUnresolvedEvent, "unresolved_event", "event", element, name, candidates)
}

// NewUnresolvedAggregate creates a VAL105 error
func NewUnresolvedAggregate(element, name string, candidates []string) *Error {
	return newUnresolved(ErrUnresolvedAggregate, "unresolved_aggregate", "aggregate", element, name, candidates)
}

// NewUnresolvedValueObject creates a VAL106 error
func NewUnresolvedValueObject(element, name string, candidates []string) *Error {
	return newUnresolved(ErrUnresolvedValueObject, "unresolved_value_object", "value object", element, name, candidates)
}

func newUnresolved(code ErrorCode, typ, kind, element, name string, candidates []string) *Error {
	e := newError(
		code,
		typ,
		CategoryValidation,
		fmt.Sprintf("%s %q is not declared", kind, name),
	).WithElement(element)
	if len(candidates) > 0 {
		e.WithCandidates(candidates...).
			WithSuggestion(fmt.Sprintf("Did you mean %s?", strings.Join(candidates, ", ")))
	}
	return e
}

// NewInvalidInclude creates a VAL107 error
func NewInvalidInclude(element, kind string, allowed []string) *Error {
	return newError(
		ErrInvalidInclude,
		"invalid_include",
		CategoryValidation,
		fmt.Sprintf("unknown include kind %q", kind),
	).WithElement(element).
		WithSuggestion("Allowed kinds: " + strings.Join(allowed, ", "))
}

// NewInvalidValue creates a VAL108 error
func NewInvalidValue(element, reason string) *Error {
	return newError(
		ErrInvalidValue,
		"invalid_value",
		CategoryValidation,
		fmt.Sprintf("%s %s", element, reason),
	).WithElement(element)
}

// NewOwnershipCycle creates a PLN200 error
func NewOwnershipCycle(members []string) *Error {
	return newError(
		ErrOwnershipCycle,
		"ownership_cycle",
		CategoryPlan,
		fmt.Sprintf("value-object ownership cycle: %s", strings.Join(members, " -> ")),
	).WithElement("valueObjects")
}

// NewAggregateAsValueObject creates a PLN201 error
func NewAggregateAsValueObject(element, name string) *Error {
	return newError(
		ErrAggregateAsValueObject,
		"aggregate_as_value_object",
		CategoryPlan,
		fmt.Sprintf("%q is an aggregate and cannot be owned as a value object", name),
	).WithElement(element)
}

// NewOrderViolation creates a PLN202 error
func NewOrderViolation(step, mustFollow string) *Error {
	return newError(
		ErrOrderViolation,
		"order_violation",
		CategoryPlan,
		fmt.Sprintf("step %s precedes its dependency %s", step, mustFollow),
	).WithStep(step)
}

// NewUnboundPlaceholder creates a RND300 error
func NewUnboundPlaceholder(step, template, placeholder string) *Error {
	return newError(
		ErrUnboundPlaceholder,
		"unbound_placeholder",
		CategoryRender,
		fmt.Sprintf("placeholder %q in %s has no binding", placeholder, template),
	).WithStep(step).WithPath(template).
		WithSuggestion("Declare the value in the metadata document; svcgen never guesses defaults")
}

// NewTemplateSyntax creates a RND301 error
func NewTemplateSyntax(step, template string, cause error) *Error {
	return newError(
		ErrTemplateSyntax,
		"template_syntax",
		CategoryRender,
		fmt.Sprintf("template %s could not be parsed: %v", template, cause),
	).WithStep(step).WithPath(template).WithCause(cause)
}

// NewNoTemplate creates a RND302 error
func NewNoTemplate(step, kind string) *Error {
	return newError(
		ErrNoTemplate,
		"no_template",
		CategoryRender,
		fmt.Sprintf("no template registered for step kind %q", kind),
	).WithStep(step)
}

// NewUnsafePath creates a RND303 error
func NewUnsafePath(step, path string) *Error {
	return newError(
		ErrUnsafePath,
		"unsafe_path",
		CategoryRender,
		fmt.Sprintf("artifact path %s escapes the output tree", path),
	).WithStep(step).WithPath(path)
}

// NewMergeTargetMissing creates a MRG400 error
func NewMergeTargetMissing(path string) *Error {
	return newError(
		ErrMergeTargetMissing,
		"merge_target_missing",
		CategoryMerge,
		fmt.Sprintf("shared artifact %s does not exist", path),
	).WithPath(path)
}

// NewMergeUnparsable creates a MRG401 error
func NewMergeUnparsable(path, reason string) *Error {
	return newError(
		ErrMergeUnparsable,
		"merge_unparsable",
		CategoryMerge,
		fmt.Sprintf("shared artifact %s cannot be merged: %s", path, reason),
	).WithPath(path)
}

// NewWriteFailed creates a MRG402 error
func NewWriteFailed(path string, cause error) *Error {
	return newError(
		ErrWriteFailed,
		"write_failed",
		CategoryMerge,
		fmt.Sprintf("failed to write %s: %v", path, cause),
	).WithPath(path).WithCause(cause)
}

// NewLockFailed creates a MRG403 error
func NewLockFailed(path string, cause error) *Error {
	return newError(
		ErrLockFailed,
		"lock_failed",
		CategoryMerge,
		fmt.Sprintf("failed to lock shared artifact %s: %v", path, cause),
	).WithPath(path).WithCause(cause)
}

// NewExhaustedRetries creates a LOP500 error
func NewExhaustedRetries(tree string, iterations, failures int) *Error {
	return newError(
		ErrExhaustedRetries,
		"exhausted_retries",
		CategoryLoop,
		fmt.Sprintf("build still failing after %d iteration(s) with %d failed result(s)", iterations, failures),
	).WithPath(tree).
		WithSuggestion("Inspect the failure history and fix the generated tree manually")
}

// NewToolFailed creates a LOP501 error
func NewToolFailed(phase string, cause error) *Error {
	return newError(
		ErrToolFailed,
		"tool_failed",
		CategoryLoop,
		fmt.Sprintf("%s tool could not be invoked: %v", phase, cause),
	).WithCause(cause)
}

// NewFixFailed creates a LOP502 error
func NewFixFailed(iteration int, cause error) *Error {
	return newError(
		ErrFixFailed,
		"fix_failed",
		CategoryLoop,
		fmt.Sprintf("fixer failed after iteration %d: %v", iteration, cause),
	).WithCause(cause)
}

// NewInvalidConfig creates a CFG600 error
func NewInvalidConfig(key, reason string) *Error {
	return newError(
		ErrInvalidConfig,
		"invalid_config",
		CategoryConfig,
		fmt.Sprintf("%s: %s", key, reason),
	).WithElement(key)
}

// NewSkipTestsForbidden creates a CFG601 error
func NewSkipTestsForbidden(command, flag string) *Error {
	return newError(
		ErrSkipTestsForbidden,
		"skip_tests_forbidden",
		CategoryConfig,
		fmt.Sprintf("test command %q skips tests (%s)", command, flag),
	).WithElement("loop.test_command").
		WithSuggestion("Remove the skip flag; failing tests must be fixed, not suppressed")
}
