package executor

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// RunsStore persists external_action_runs. Every call inserts exactly one
// new row; rows are never updated, matching the append-only invariant on
// ExternalActionRun.
type RunsStore interface {
	Record(ctx context.Context, run Run) (int64, error)
}

type runsStore struct {
	db *sqlx.DB
}

// NewRunsStore builds a Postgres-backed RunsStore.
func NewRunsStore(db *sqlx.DB) RunsStore {
	return &runsStore{db: db}
}

func (s *runsStore) Record(ctx context.Context, run Run) (int64, error) {
	payload := run.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	result := run.Result
	if result == nil {
		result = json.RawMessage("{}")
	}

	const q = `
		INSERT INTO external_action_runs (action_id, job_id, action_type, provider, status, payload, result, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING run_id`
	var id int64
	row := s.db.QueryRowxContext(ctx, q, run.ActionID, run.JobID, run.ActionType, run.Provider, run.Status, payload, result, nullableString(run.Error))
	if err := row.Scan(&id); err != nil {
		return 0, errors.Wrap(err, "failed to record external action run")
	}
	return id, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
