// Package faults defines the classified errors surfaced by magebox.
// Every terminal condition of a provisioning run maps to one Class so the CLI
// can print the captured tool output together with operation-specific guidance.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Class represents the classification of a terminal error.
type Class string

const (
	// ClassLaunch indicates an external tool could not be invoked at all.
	ClassLaunch Class = "launch"

	// ClassProcessFailure indicates a supervised operation exited non-zero.
	ClassProcessFailure Class = "process_failure"

	// ClassTimeout indicates an operation did not exit within its budget.
	ClassTimeout Class = "timeout"

	// ClassPrecondition indicates a required collaborator state was missing,
	// e.g. the synchronization container is not up.
	ClassPrecondition Class = "precondition"

	// ClassSyncFailure indicates the synchronization session never reached
	// a fully synced state.
	ClassSyncFailure Class = "sync_failure"

	// ClassMutation indicates a configuration rewrite was rejected.
	ClassMutation Class = "mutation"
)

// Error represents a classified error with diagnostic context.
type Error struct {
	// Class is the error classification.
	Class Class `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Output is the captured tool output (stderr, or stdout when stderr is empty).
	Output string `json:"output,omitempty"`

	// Hint is operation-specific guidance shown to the user.
	Hint []string `json:"hint,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	if e.Operation != "" {
		fmt.Fprintf(&b, " (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithOutput attaches captured tool output.
func (e *Error) WithOutput(output string) *Error {
	e.Output = strings.TrimSpace(output)
	return e
}

// WithHint appends guidance lines.
func (e *Error) WithHint(lines ...string) *Error {
	e.Hint = append(e.Hint, lines...)
	return e
}

func newError(class Class, message string, err error) *Error {
	return &Error{
		Class:   class,
		Message: message,
		Err:     err,
	}
}

// NewLaunchError creates a new launch error.
func NewLaunchError(message string, err error) *Error {
	return newError(ClassLaunch, message, err)
}

// NewProcessFailure creates a new process failure.
func NewProcessFailure(message string, err error) *Error {
	return newError(ClassProcessFailure, message, err)
}

// NewTimeout creates a new timeout error.
func NewTimeout(message string, err error) *Error {
	return newError(ClassTimeout, message, err)
}

// NewPreconditionError creates a new precondition error.
func NewPreconditionError(message string, err error) *Error {
	return newError(ClassPrecondition, message, err)
}

// NewSyncFailure creates a new synchronization failure.
func NewSyncFailure(message string, err error) *Error {
	return newError(ClassSyncFailure, message, err)
}

// NewMutationError creates a new mutation error.
func NewMutationError(message string, err error) *Error {
	return newError(ClassMutation, message, err)
}

// ClassOf returns the class of the first *Error in err's chain, or "" when
// err is not classified.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

func hasClass(err error, class Class) bool {
	return err != nil && ClassOf(err) == class
}

// IsLaunch returns true if the error is classified as a launch error.
func IsLaunch(err error) bool { return hasClass(err, ClassLaunch) }

// IsProcessFailure returns true if the error is classified as a process failure.
func IsProcessFailure(err error) bool { return hasClass(err, ClassProcessFailure) }

// IsTimeout returns true if the error is classified as a timeout.
func IsTimeout(err error) bool { return hasClass(err, ClassTimeout) }

// IsPrecondition returns true if the error is classified as a precondition error.
func IsPrecondition(err error) bool { return hasClass(err, ClassPrecondition) }

// IsSyncFailure returns true if the error is classified as a sync failure.
func IsSyncFailure(err error) bool { return hasClass(err, ClassSyncFailure) }

// IsMutation returns true if the error is classified as a mutation error.
func IsMutation(err error) bool { return hasClass(err, ClassMutation) }

// Describe renders err for the terminal: message, captured output and hints.
func Describe(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}

	var b strings.Builder
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	if e.Output != "" {
		b.WriteString("\n\n")
		b.WriteString(e.Output)
	}
	for _, h := range e.Hint {
		b.WriteString("\n  ! ")
		b.WriteString(h)
	}
	return b.String()
}
