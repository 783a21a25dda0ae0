// pkg/orchestrator/types.go

package orchestrator

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/depcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/integration"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
)

// State is a step of the orchestration state machine.
type State string

const (
	StateIdle                    State = "IDLE"
	StateContainerCoordination   State = "CONTAINER_COORDINATION"
	StateDependencyValidation    State = "DEPENDENCY_VALIDATION"
	StateIntegrationCoordination State = "INTEGRATION_COORDINATION"
	StateFinalReadiness          State = "FINAL_READINESS"
	StateDone                    State = "DONE"
)

// stageBudgets carve each stage's deadline out of the overall timeout.
var stageBudgets = []struct {
	state State
	share float64
}{
	{StateContainerCoordination, 0.15},
	{StateDependencyValidation, 0.60},
	{StateIntegrationCoordination, 0.15},
	{StateFinalReadiness, 0.10},
}

// StageBudget returns the share of total allotted to stage, or 0 for states
// that are not stages.
func StageBudget(stage State, total time.Duration) time.Duration {
	for _, b := range stageBudgets {
		if b.state == stage {
			return time.Duration(float64(total) * b.share)
		}
	}
	return 0
}

// Transition is one recorded state change.
type Transition struct {
	RunID string    `json:"run_id" yaml:"run_id"`
	From  State     `json:"from" yaml:"from"`
	To    State     `json:"to" yaml:"to"`
	At    time.Time `json:"at" yaml:"at"`
}

// Request selects what to start.
type Request struct {
	Services          []registry.ServiceType
	IncludeGoldenPath bool
	// Timeout overrides the orchestrator's overall budget when positive.
	Timeout time.Duration
}

// StartupOrchestrationResult is filled in stage by stage during one run and
// always describes every stage that ran, including partial success.
type StartupOrchestrationResult struct {
	RunID                string                               `json:"run_id" yaml:"run_id"`
	Success              bool                                 `json:"success" yaml:"success"`
	Ready                bool                                 `json:"ready" yaml:"ready"`
	StagesCompleted      []State                              `json:"stages_completed" yaml:"stages_completed"`
	PhasesCompleted      []registry.DependencyPhase           `json:"phases_completed" yaml:"phases_completed"`
	ServicesStarted      []registry.ServiceType               `json:"services_started" yaml:"services_started"`
	ServicesFailed       []registry.ServiceType               `json:"services_failed" yaml:"services_failed"`
	Containers           *integration.ContainerResult         `json:"containers,omitempty" yaml:"containers,omitempty"`
	DependencyValidation *depcheck.DependencyValidationResult `json:"dependency_validation,omitempty" yaml:"dependency_validation,omitempty"`
	Integration          *integration.IntegrationResult       `json:"integration,omitempty" yaml:"integration,omitempty"`
	Readiness            *depcheck.StatusSummary              `json:"readiness,omitempty" yaml:"readiness,omitempty"`
	Errors               []*StageError                        `json:"errors" yaml:"errors"`
	Warnings             []string                             `json:"warnings" yaml:"warnings"`
	StartedAt            time.Time                            `json:"started_at" yaml:"started_at"`
	Duration             time.Duration                        `json:"duration" yaml:"duration"`
}

// Err returns the recorded stage errors as one error, or nil.
func (r *StartupOrchestrationResult) Err() error {
	if r == nil {
		return nil
	}
	return (&ErrorChain{Errors: r.Errors}).ErrOrNil()
}

func (r *StartupOrchestrationResult) addError(err *StageError) {
	r.Errors = append(r.Errors, err)
}
