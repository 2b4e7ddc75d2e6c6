package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseConfig      Phase = "config"      // configuration
	PhaseLoad        Phase = "load"        // reading module bytes
	PhaseCompile     Phase = "compile"     // wazero compilation
	PhaseInstantiate Phase = "instantiate" // host imports and instantiation
	PhaseBind        Phase = "bind"        // export lookup
	PhaseAlloc       Phase = "alloc"       // guest malloc/free
	PhaseEncode      Phase = "encode"      // Go to WASM
	PhaseInvoke      Phase = "invoke"      // guest operation
	PhaseDecode      Phase = "decode"      // WASM to Go
	PhaseValidate    Phase = "validate"    // input validation
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindInvalidUTF8       Kind = "invalid_utf8"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindOverflow          Kind = "overflow"
	KindAllocation        Kind = "allocation"
	KindOperation         Kind = "operation_failed"
	KindTrap              Kind = "trap"
	KindMissingExport     Kind = "missing_export"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindMissingImport     Kind = "missing_import"
	KindInstantiation     Kind = "instantiation"
	KindNotInitialized    Kind = "not_initialized"
	KindInvalidConfig     Kind = "invalid_config"
	KindInvalidData       Kind = "invalid_data"
)

// Error is the structured error type used throughout the library.
// Op names the facade operation ("sha256", "base64-encode", ...) and
// Foreign carries the guest's last-error text when one was available.
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Op      string
	Foreign string
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}

	switch {
	case e.Foreign != "":
		b.WriteString(": ")
		b.WriteString(e.Foreign)
	case e.Detail != "":
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Message returns the single human-readable message for the error: the
// foreign diagnostic when present, the detail otherwise.
func (e *Error) Message() string {
	if e.Foreign != "" {
		return e.Foreign
	}
	return e.Detail
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// HasKind reports whether err is, or wraps, an *Error of the given kind.
func HasKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the facade operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Foreign sets the guest's diagnostic text
func (b *Builder) Foreign(msg string) *Builder {
	b.err.Foreign = msg
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, op string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Op:     op,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Value:  size,
		Cause:  cause,
	}
}

// OutOfBounds creates an out of bounds error for a guest memory range
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) outside linear memory", offset, uint64(offset)+uint64(length)),
		Value:  offset,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, value any, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("value %v overflows %s", value, target),
		Value:  value,
	}
}

// OperationFailed creates the error for a guest operation that returned a
// failure code. foreign is the last-error text, fallback is used when the
// guest recorded nothing.
func OperationFailed(op, foreign, fallback string) *Error {
	e := &Error{
		Phase:   PhaseInvoke,
		Kind:    KindOperation,
		Op:      op,
		Foreign: foreign,
	}
	if foreign == "" {
		e.Detail = fallback
	}
	return e
}

// Trap creates an error for a guest call that aborted instead of returning.
func Trap(op, export string, cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindTrap,
		Op:     op,
		Detail: fmt.Sprintf("call %s", export),
		Cause:  cause,
	}
}

// MissingExport creates an error for a required export the module lacks
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseBind,
		Kind:   KindMissingExport,
		Detail: fmt.Sprintf("export %q not found", name),
		Value:  name,
	}
}

// SignatureMismatch creates an error for an export with an unexpected type
func SignatureMismatch(name, want, got string) *Error {
	return &Error{
		Phase:  PhaseBind,
		Kind:   KindSignatureMismatch,
		Detail: fmt.Sprintf("export %q has signature %s, want %s", name, got, want),
		Value:  name,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Module   string // e.g., "env"
	Function string // e.g., "emscripten_notify_memory_growth"
}

// MissingImportsError is returned when instantiation fails because the
// module imports functions no registered host module provides.
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, fn, _ := strings.Cut(imp, "#")
		result.Imports = append(result.Imports, MissingImport{
			Module:   mod,
			Function: fn,
		})
	}
	return result
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[instantiate] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d host function(s):\n", len(e.Imports)))

	// Group by module for cleaner output
	byMod := make(map[string][]string)
	var modOrder []string
	for _, imp := range e.Imports {
		if _, exists := byMod[imp.Module]; !exists {
			modOrder = append(modOrder, imp.Module)
		}
		byMod[imp.Module] = append(byMod[imp.Module], imp.Function)
	}

	for _, mod := range modOrder {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, fn := range byMod[mod] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}

// NotInitialized creates a not-initialized error for a missing module handle
func NotInitialized(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", what),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(op, detail string) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindInvalidInput,
		Op:     op,
		Detail: detail,
	}
}

// Instantiation creates an instantiation error
func Instantiation(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidConfig creates a configuration error
func InvalidConfig(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidConfig,
		Detail: detail,
		Cause:  cause,
	}
}
