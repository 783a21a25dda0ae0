// pkg/orchestrator/errors.go
package orchestrator

import (
	"fmt"
	"strings"

	cerr "github.com/cockroachdb/errors"
)

// ErrOrchestrationActive rejects a startup request while another is running
// on the same orchestrator. Requests are never queued.
var ErrOrchestrationActive = cerr.WithHint(
	cerr.New("orchestration already active"),
	"wait for the running orchestration to finish, then retry",
)

// StageError provides detailed error information with remediation suggestions
type StageError struct {
	Stage       State          `json:"stage" yaml:"stage"`
	Component   string         `json:"component,omitempty" yaml:"component,omitempty"`
	Message     string         `json:"message" yaml:"message"`
	Original    error          `json:"-" yaml:"-"`
	Remediation string         `json:"remediation" yaml:"remediation"`
	Details     map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// Error implements the error interface
func (e *StageError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s failed", e.Stage))
	if e.Component != "" {
		sb.WriteString(fmt.Sprintf(" for '%s'", e.Component))
	}
	sb.WriteString(fmt.Sprintf(": %s", e.Message))
	if e.Original != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Original))
	}
	return sb.String()
}

// Unwrap returns the wrapped error
func (e *StageError) Unwrap() error {
	return e.Original
}

// NewStageError creates a stage error with an automatic remediation hint.
func NewStageError(stage State, component, message string, original error) *StageError {
	text := message
	if original != nil {
		text += " " + original.Error()
	}
	return &StageError{
		Stage:       stage,
		Component:   component,
		Message:     message,
		Original:    original,
		Remediation: suggestedRemediation(stage, text),
		Details:     make(map[string]any),
	}
}

func suggestedRemediation(stage State, message string) string {
	message = strings.ToLower(message)
	switch {
	case strings.Contains(message, "connection refused"):
		return "Check if the service is running and network connectivity is available"
	case strings.Contains(message, "circuit breaker"):
		return "Wait for the breaker cooldown or use 'horae restart <service>' to reset it"
	case strings.Contains(message, "timed out"), strings.Contains(message, "deadline exceeded"):
		return "Check service responsiveness and raise orchestration.timeout if necessary"
	case strings.Contains(message, "readiness"):
		return "Run 'horae status' to see which services became unhealthy after startup"
	case strings.Contains(message, "panic"):
		return "This is a bug; report it with the telemetry trace id"
	default:
		return fmt.Sprintf("Review %s output above", strings.ToLower(string(stage)))
	}
}

// ErrorChain collects the stage errors of one orchestration run.
type ErrorChain struct {
	Errors []*StageError `json:"errors"`
}

// Error implements the error interface
func (ec *ErrorChain) Error() string {
	if len(ec.Errors) == 0 {
		return "no errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("orchestration failed with %d error(s):", len(ec.Errors)))
	for i, err := range ec.Errors {
		sb.WriteString(fmt.Sprintf("\n%d. %s", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the chain
func (ec *ErrorChain) Add(err *StageError) {
	ec.Errors = append(ec.Errors, err)
}

// HasErrors returns true if the chain contains any errors
func (ec *ErrorChain) HasErrors() bool {
	return len(ec.Errors) > 0
}

// GetByStage returns all errors recorded for stage.
func (ec *ErrorChain) GetByStage(stage State) []*StageError {
	var out []*StageError
	for _, err := range ec.Errors {
		if err.Stage == stage {
			out = append(out, err)
		}
	}
	return out
}

// ErrOrNil returns the chain as an error, or nil when it is empty.
func (ec *ErrorChain) ErrOrNil() error {
	if ec == nil || !ec.HasErrors() {
		return nil
	}
	return ec
}
