// pkg/horae_err/classification.go
//
// Error classification with exit codes for the CLI boundary.

package horae_err

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors for appropriate handling
type ErrorCategory int

const (
	// CategorySystem - OS/daemon issues (exit 1)
	CategorySystem ErrorCategory = iota
	// CategoryStructural - invalid dependency graph or configuration (exit 2)
	CategoryStructural
	// CategoryDependency - a required service did not come up (exit 1)
	CategoryDependency
	// CategoryNetwork - Network/connectivity issues (exit 1)
	CategoryNetwork
	// CategoryUser - User cancelled/interrupted (exit 130)
	CategoryUser
	// CategoryInternal - Bugs in horae itself (exit 3)
	CategoryInternal
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryStructural:
		return "structural"
	case CategoryDependency:
		return "dependency"
	case CategoryNetwork:
		return "network"
	case CategoryUser:
		return "user"
	case CategoryInternal:
		return "internal"
	default:
		return "system"
	}
}

// ClassifiedError wraps an error with category and remediation info
type ClassifiedError struct {
	Category    ErrorCategory
	Message     string
	Cause       error
	Remediation []string
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Cause != nil && e.Cause.Error() != e.Message {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error category
func (e *ClassifiedError) ExitCode() int {
	switch e.Category {
	case CategoryUser:
		return 130 // Standard for SIGINT (Ctrl-C)
	case CategoryStructural:
		return 2
	case CategoryInternal:
		return 3
	default:
		return 1
	}
}

// Describe renders the error with numbered remediation steps for terminals.
func (e *ClassifiedError) Describe() string {
	var sb strings.Builder
	sb.WriteString(e.Error())
	if len(e.Remediation) > 0 {
		sb.WriteString("\n\nHow to fix:")
		for i, step := range e.Remediation {
			sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, step))
		}
	}
	return sb.String()
}

// GetExitCode extracts exit code from any error
// Returns 0 for nil and for expected user errors, the category code for
// classified errors, 1 for everything else.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}
	if IsExpectedUserError(err) {
		return 0
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.ExitCode()
	}
	return 1
}

// NewStructuralError is for graphs and configuration that can never work
// without an edit.
func NewStructuralError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryStructural,
		Message:     message,
		Cause:       cause,
		Remediation: remediation,
	}
}

// NewDependencyError is for required services that failed validation.
func NewDependencyError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryDependency,
		Message:     message,
		Cause:       cause,
		Remediation: remediation,
	}
}

// NewNetworkError creates an error for network issues
func NewNetworkError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryNetwork,
		Message:     message,
		Cause:       cause,
		Remediation: remediation,
	}
}

// NewInternalError creates an error for horae bugs
func NewInternalError(message string, cause error) error {
	return &ClassifiedError{
		Category: CategoryInternal,
		Message:  message,
		Cause:    cause,
		Remediation: []string{
			"This is likely a bug in horae",
			"Include this error message and the telemetry trace id when reporting it",
		},
	}
}

// NewUserCancelledError creates an error for user-initiated cancellation
func NewUserCancelledError(operation string) error {
	return &ClassifiedError{
		Category:    CategoryUser,
		Message:     fmt.Sprintf("operation cancelled by user: %s", operation),
		Remediation: []string{"Run the command again to retry"},
	}
}

// Classify infers a category from an unclassified error's message.
// Already classified errors are returned unchanged.
func Classify(context string, err error) error {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return err
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "context canceled"), strings.Contains(errStr, "interrupt"):
		return &ClassifiedError{Category: CategoryUser, Message: context + " interrupted", Cause: err}

	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "network unreachable"),
		strings.Contains(errStr, "no such host"):
		return NewNetworkError(
			fmt.Sprintf("%s: network error", context),
			err,
			"Check that the service endpoint is reachable",
			"Verify the configured URL or DSN",
		)

	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "malformed"),
		strings.Contains(errStr, "unknown service"),
		strings.Contains(errStr, "unknown environment"):
		return NewStructuralError(
			fmt.Sprintf("%s: invalid input", context),
			err,
			"Check the value against 'horae graph' output",
		)

	default:
		return &ClassifiedError{Category: CategorySystem, Message: context + " failed", Cause: err}
	}
}
