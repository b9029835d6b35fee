package pipeline

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// PostgresRunStore implements RunStore using PostgreSQL
type PostgresRunStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRunStore creates a new PostgreSQL-based run store
func NewPostgresRunStore(pool *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{pool: pool}
}

const runColumns = `id, tenant_id, tier, target_version, source_key, state, previous_state,
	   training_job_name, model_data_path, model_package_arn, mse,
	   error_message, created_at, updated_at, completed_at`

// SaveRun persists a new pipeline run
func (s *PostgresRunStore) SaveRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO pipeline_runs (
			id, tenant_id, tier, target_version, source_key, state, previous_state,
			training_job_name, model_data_path, model_package_arn, mse,
			error_message, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := s.pool.Exec(ctx, query,
		run.ID,
		run.TenantID,
		run.Tier.String(),
		run.TargetVersion,
		nullable(run.SourceKey),
		string(run.State),
		nullableState(run.PreviousState),
		nullable(run.TrainingJobName),
		nullable(run.ModelDataPath),
		nullable(run.ModelPackageARN),
		run.MSE,
		nullable(run.ErrorMessage),
		run.CreatedAt,
		run.UpdatedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *PostgresRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id = $1`
	return scanRun(s.pool.QueryRow(ctx, query, id))
}

// UpdateRun updates an existing pipeline run
func (s *PostgresRunStore) UpdateRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE pipeline_runs
		SET state = $2,
			previous_state = $3,
			training_job_name = $4,
			model_data_path = $5,
			model_package_arn = $6,
			mse = $7,
			error_message = $8,
			updated_at = $9,
			completed_at = $10
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		run.ID,
		string(run.State),
		nullableState(run.PreviousState),
		nullable(run.TrainingJobName),
		nullable(run.ModelDataPath),
		nullable(run.ModelPackageARN),
		run.MSE,
		nullable(run.ErrorMessage),
		run.UpdatedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// SaveTransition persists a state transition
func (s *PostgresRunStore) SaveTransition(ctx context.Context, transition *Transition) error {
	query := `
		INSERT INTO pipeline_run_transitions (id, run_id, from_state, to_state, reason, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		transition.ID,
		transition.RunID,
		string(transition.FromState),
		string(transition.ToState),
		nullable(transition.Reason),
		transition.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save transition: %w", err)
	}
	return nil
}

// GetTransitions retrieves all transitions for a run
func (s *PostgresRunStore) GetTransitions(ctx context.Context, runID string) ([]Transition, error) {
	query := `
		SELECT id, run_id, from_state, to_state, reason, timestamp
		FROM pipeline_run_transitions
		WHERE run_id = $1
		ORDER BY timestamp ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transitions: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		var fromState, toState string
		var reason *string

		if err := rows.Scan(&t.ID, &t.RunID, &fromState, &toState, &reason, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}

		t.FromState = RunState(fromState)
		t.ToState = RunState(toState)
		if reason != nil {
			t.Reason = *reason
		}
		transitions = append(transitions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}
	return transitions, nil
}

// GetRunsByState retrieves runs by state
func (s *PostgresRunStore) GetRunsByState(ctx context.Context, state RunState, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE state = $1 ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryRuns(ctx, query, string(state))
}

// GetRunsByTenant retrieves runs for a tenant, newest first
func (s *PostgresRunStore) GetRunsByTenant(ctx context.Context, tenantID string, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE tenant_id = $1 ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryRuns(ctx, query, tenantID)
}

func (s *PostgresRunStore) queryRuns(ctx context.Context, query string, arg interface{}) ([]*Run, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var tier, state string
	var sourceKey, previousState, trainingJobName, modelDataPath, modelPackageARN, errorMessage *string

	err := row.Scan(
		&run.ID,
		&run.TenantID,
		&tier,
		&run.TargetVersion,
		&sourceKey,
		&state,
		&previousState,
		&trainingJobName,
		&modelDataPath,
		&modelPackageARN,
		&run.MSE,
		&errorMessage,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Tier = domain.Tier(tier)
	run.State = RunState(state)
	if sourceKey != nil {
		run.SourceKey = *sourceKey
	}
	if previousState != nil {
		run.PreviousState = RunState(*previousState)
	}
	if trainingJobName != nil {
		run.TrainingJobName = *trainingJobName
	}
	if modelDataPath != nil {
		run.ModelDataPath = *modelDataPath
	}
	if modelPackageARN != nil {
		run.ModelPackageARN = *modelPackageARN
	}
	if errorMessage != nil {
		run.ErrorMessage = *errorMessage
	}
	return &run, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableState(s RunState) *string {
	if s == "" {
		return nil
	}
	str := string(s)
	return &str
}
