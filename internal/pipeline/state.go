package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// RunState represents the state of a training pipeline run
type RunState string

const (
	StateProcessing  RunState = "PROCESSING"
	StateTraining    RunState = "TRAINING"
	StateEvaluating  RunState = "EVALUATING"
	StateRegistering RunState = "REGISTERING"
	StateCompleted   RunState = "COMPLETED"
	StateRejected    RunState = "REJECTED"
	StateFailed      RunState = "FAILED"
)

var (
	// ErrInvalidStateTransition is returned when a state transition is not allowed
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrRunNotFound is returned when a pipeline run is not found
	ErrRunNotFound = errors.New("pipeline run not found")
)

// validTransitions defines allowed state transitions.
// Key is current state, value is list of allowed next states.
var validTransitions = map[RunState][]RunState{
	StateProcessing:  {StateTraining, StateFailed},
	StateTraining:    {StateEvaluating, StateFailed},
	StateEvaluating:  {StateRegistering, StateRejected, StateFailed},
	StateRegistering: {StateCompleted, StateFailed},
	StateCompleted:   {}, // Terminal state
	StateRejected:    {}, // Terminal state
	StateFailed:      {}, // Terminal state
}

// IsTerminal returns true if the state is a terminal state
func (s RunState) IsTerminal() bool {
	return s == StateCompleted || s == StateRejected || s == StateFailed
}

// IsValid returns true if the state is a valid run state
func (s RunState) IsValid() bool {
	_, exists := validTransitions[s]
	return exists
}

// CanTransitionTo returns true if transition to the target state is allowed
func (s RunState) CanTransitionTo(target RunState) bool {
	allowedStates, exists := validTransitions[s]
	if !exists {
		return false
	}
	for _, allowed := range allowedStates {
		if allowed == target {
			return true
		}
	}
	return false
}

// Run is a single end-to-end training pipeline execution for one tenant
// dataset drop. A run that rejects its model is not a failure: REJECTED
// retains the evaluation report and promotes nothing.
type Run struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenant_id"`
	Tier          domain.Tier `json:"tier"`
	TargetVersion int64       `json:"target_version"`
	// SourceKey is the object key of the dataset drop that started the
	// run. Redelivered drops are matched against it.
	SourceKey string   `json:"source_key,omitempty"`
	State     RunState `json:"state"`
	PreviousState RunState    `json:"previous_state,omitempty"`

	TrainingJobName string   `json:"training_job_name,omitempty"`
	ModelDataPath   string   `json:"model_data_path,omitempty"`
	ModelPackageARN string   `json:"model_package_arn,omitempty"`
	MSE             *float64 `json:"mse,omitempty"`

	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Transition records one state change of a run, for the audit trail.
type Transition struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	FromState RunState  `json:"from_state"`
	ToState   RunState  `json:"to_state"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunStore interface for persisting pipeline runs
type RunStore interface {
	// SaveRun persists a new run
	SaveRun(ctx context.Context, run *Run) error
	// GetRun retrieves a run by ID
	GetRun(ctx context.Context, id string) (*Run, error)
	// UpdateRun updates an existing run
	UpdateRun(ctx context.Context, run *Run) error
	// SaveTransition persists a state transition
	SaveTransition(ctx context.Context, transition *Transition) error
	// GetTransitions retrieves all transitions for a run
	GetTransitions(ctx context.Context, runID string) ([]Transition, error)
	// GetRunsByState retrieves runs by state
	GetRunsByState(ctx context.Context, state RunState, limit int) ([]*Run, error)
	// GetRunsByTenant retrieves runs for a tenant, newest first
	GetRunsByTenant(ctx context.Context, tenantID string, limit int) ([]*Run, error)
}

// RunMachine manages state transitions for pipeline runs
type RunMachine struct {
	store RunStore
}

// NewRunMachine creates a new run state machine
func NewRunMachine(store RunStore) *RunMachine {
	return &RunMachine{store: store}
}

// CreateRun creates a new run in PROCESSING state
func (m *RunMachine) CreateRun(ctx context.Context, tenantID string, tier domain.Tier, targetVersion int64, sourceKey string) (*Run, error) {
	now := time.Now()
	run := &Run{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		Tier:          tier,
		TargetVersion: targetVersion,
		SourceKey:     sourceKey,
		State:         StateProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}
	return run, nil
}

// TransitionTo transitions the run to a new state
func (m *RunMachine) TransitionTo(ctx context.Context, runID string, newState RunState, reason string) (*Run, error) {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if !run.State.CanTransitionTo(newState) {
		return nil, fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStateTransition, run.State, newState)
	}

	transition := &Transition{
		ID:        uuid.New().String(),
		RunID:     runID,
		FromState: run.State,
		ToState:   newState,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	if err := m.store.SaveTransition(ctx, transition); err != nil {
		return nil, fmt.Errorf("failed to save transition: %w", err)
	}

	run.PreviousState = run.State
	run.State = newState
	run.UpdatedAt = time.Now()

	if newState.IsTerminal() {
		now := time.Now()
		run.CompletedAt = &now
	}

	if err := m.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}
	return run, nil
}

// MarkTraining transitions the run to TRAINING with the submitted job name
func (m *RunMachine) MarkTraining(ctx context.Context, runID, jobName string) (*Run, error) {
	run, err := m.TransitionTo(ctx, runID, StateTraining, "Training job submitted")
	if err != nil {
		return nil, err
	}
	run.TrainingJobName = jobName
	if err := m.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to update training job name: %w", err)
	}
	return run, nil
}

// MarkEvaluating transitions the run to EVALUATING with the trained model path
func (m *RunMachine) MarkEvaluating(ctx context.Context, runID, modelDataPath string) (*Run, error) {
	run, err := m.TransitionTo(ctx, runID, StateEvaluating, "Training finished, evaluating")
	if err != nil {
		return nil, err
	}
	run.ModelDataPath = modelDataPath
	if err := m.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to update model data path: %w", err)
	}
	return run, nil
}

// MarkRegistering transitions the run to REGISTERING with the evaluation score
func (m *RunMachine) MarkRegistering(ctx context.Context, runID string, mse float64) (*Run, error) {
	run, err := m.TransitionTo(ctx, runID, StateRegistering, fmt.Sprintf("Evaluation passed, mse=%g", mse))
	if err != nil {
		return nil, err
	}
	run.MSE = &mse
	if err := m.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to update evaluation score: %w", err)
	}
	return run, nil
}

// MarkRejected ends the run in REJECTED, retaining the evaluation score
func (m *RunMachine) MarkRejected(ctx context.Context, runID string, mse float64) (*Run, error) {
	run, err := m.TransitionTo(ctx, runID, StateRejected, fmt.Sprintf("Evaluation failed, mse=%g", mse))
	if err != nil {
		return nil, err
	}
	run.MSE = &mse
	if err := m.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to update evaluation score: %w", err)
	}
	return run, nil
}

// MarkCompleted transitions the run to COMPLETED with the registered package
func (m *RunMachine) MarkCompleted(ctx context.Context, runID, modelPackageARN string) (*Run, error) {
	run, err := m.TransitionTo(ctx, runID, StateCompleted, "Model registered and promoted")
	if err != nil {
		return nil, err
	}
	run.ModelPackageARN = modelPackageARN
	if err := m.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to update model package: %w", err)
	}
	return run, nil
}

// MarkFailed transitions the run to FAILED with an error message.
// FAILED is reachable from any non-terminal state.
func (m *RunMachine) MarkFailed(ctx context.Context, runID, errorMessage string) (*Run, error) {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run.State.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot transition from terminal state %s", ErrInvalidStateTransition, run.State)
	}

	run, err = m.TransitionTo(ctx, runID, StateFailed, errorMessage)
	if err != nil {
		return nil, err
	}
	run.ErrorMessage = errorMessage
	if err := m.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to update error message: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (m *RunMachine) GetRun(ctx context.Context, runID string) (*Run, error) {
	return m.store.GetRun(ctx, runID)
}

// LatestRun returns the tenant's most recent run, or nil when none exist
func (m *RunMachine) LatestRun(ctx context.Context, tenantID string) (*Run, error) {
	runs, err := m.store.GetRunsByTenant(ctx, tenantID, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// GetTransitionHistory retrieves all transitions for a run
func (m *RunMachine) GetTransitionHistory(ctx context.Context, runID string) ([]Transition, error) {
	return m.store.GetTransitions(ctx, runID)
}
