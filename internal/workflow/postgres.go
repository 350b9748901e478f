package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"server/internal/infra"
	"server/internal/sqlinline"
)

// PostgresStore persists instances in the workflow_instances table. Step
// commits are single-row jsonb merges, so commit-then-advance holds without
// application-level locking; claiming relies on FOR UPDATE SKIP LOCKED.
type PostgresStore struct {
	sql infra.SQLExecutor
}

func NewPostgresStore(sql infra.SQLExecutor) *PostgresStore {
	return &PostgresStore{sql: sql}
}

// EnsureSchema creates the backing tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QEnsureWorkflowInstances); err != nil {
		return fmt.Errorf("ensure workflow_instances: %w", err)
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QEnsureIntegrationTokens); err != nil {
		return fmt.Errorf("ensure integration_tokens: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, inst *Instance) (*Instance, error) {
	_, err := s.sql.Exec(ctx, sqlinline.QInsertWorkflowInstance, inst.ID, inst.UID, inst.FaceKeys, inst.OfficeKeys)
	if err != nil {
		return nil, fmt.Errorf("insert instance: %w", err)
	}
	// The insert is a no-op on conflict; read back whichever instance owns
	// the id so duplicate submissions re-attach to the live run.
	return s.Get(ctx, inst.ID)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Instance, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectWorkflowInstance, id)
	inst, err := scanInstance(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *PostgresStore) ClaimQueued(ctx context.Context) (*Instance, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QClaimWorkflowInstance)
	inst, err := scanInstance(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrNoneQueued
		}
		return nil, err
	}
	return inst, nil
}

func (s *PostgresStore) CommitStep(ctx context.Context, id, step, result string) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QCommitWorkflowStep, id, step, result)
	if err != nil {
		return fmt.Errorf("commit step %s: %w", step, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, output []string) error {
	if output == nil {
		output = []string{}
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QCompleteWorkflowInstance, id, raw); err != nil {
		return fmt.Errorf("complete instance: %w", err)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id, message string) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QFailWorkflowInstance, id, message); err != nil {
		return fmt.Errorf("fail instance: %w", err)
	}
	return nil
}

func (s *PostgresStore) Terminate(ctx context.Context, id string) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QTerminateWorkflowInstance, id)
	if err != nil {
		return fmt.Errorf("terminate instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the id is unknown or the instance already reached a
		// terminal status; only the former is an error.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func scanInstance(row pgx.Row) (*Instance, error) {
	var (
		inst        Instance
		status      string
		stepResults []byte
		output      []byte
		createdAt   time.Time
		updatedAt   time.Time
	)
	err := row.Scan(&inst.ID, &inst.UID, &inst.FaceKeys, &inst.OfficeKeys, &status, &stepResults, &output, &inst.Error, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	inst.Status = Status(status)
	inst.CreatedAt = createdAt
	inst.UpdatedAt = updatedAt
	inst.StepResults = make(map[string]string)
	if len(stepResults) > 0 {
		if err := json.Unmarshal(stepResults, &inst.StepResults); err != nil {
			return nil, fmt.Errorf("decode step results: %w", err)
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &inst.Output); err != nil {
			return nil, fmt.Errorf("decode output: %w", err)
		}
	}
	return &inst, nil
}

var _ Store = (*PostgresStore)(nil)
