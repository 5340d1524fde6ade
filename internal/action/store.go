package action

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Store persists and mutates autonomous_actions rows. Every mutating method
// accepts a *sqlx.Tx so the coordinator can compose it into the same
// transaction that reads/writes the checkpoint row.
type Store interface {
	Create(ctx context.Context, tx *sqlx.Tx, a *Action) (int64, error)
	Get(ctx context.Context, q sqlx.QueryerContext, actionID int64) (*Action, error)
	SetStatus(ctx context.Context, tx *sqlx.Tx, actionID int64, status Status, isApproved bool) error
	SetDraftAndStatus(ctx context.Context, tx *sqlx.Tx, actionID int64, draftContent string, status Status) error
}

type store struct {
	db *sqlx.DB
}

// NewStore builds a Postgres-backed action Store.
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

func (s *store) Create(ctx context.Context, tx *sqlx.Tx, a *Action) (int64, error) {
	const q = `
		INSERT INTO autonomous_actions (proposal_id, action_type, draft_content, status, is_approved)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING action_id`
	var id int64
	exec := queryerFromTx(tx, s.db)
	row := exec.QueryRowxContext(ctx, q, a.ProposalID, a.ActionType, a.DraftContent, a.Status, a.IsApproved)
	if err := row.Scan(&id); err != nil {
		return 0, errors.Wrap(err, "failed to insert action")
	}
	return id, nil
}

func (s *store) Get(ctx context.Context, q sqlx.QueryerContext, actionID int64) (*Action, error) {
	if q == nil {
		q = s.db
	}
	const query = `
		SELECT action_id, proposal_id, action_type, draft_content, status, is_approved, created_at, updated_at
		FROM autonomous_actions
		WHERE action_id = $1`
	var a Action
	err := sqlx.GetContext(ctx, q, &a, query, actionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load action")
	}
	return &a, nil
}

func (s *store) SetStatus(ctx context.Context, tx *sqlx.Tx, actionID int64, status Status, isApproved bool) error {
	const q = `
		UPDATE autonomous_actions
		SET status = $1, is_approved = $2, updated_at = now()
		WHERE action_id = $3`
	_, err := tx.ExecContext(ctx, q, status, isApproved, actionID)
	if err != nil {
		return errors.Wrap(err, "failed to update action status")
	}
	return nil
}

func (s *store) SetDraftAndStatus(ctx context.Context, tx *sqlx.Tx, actionID int64, draftContent string, status Status) error {
	const q = `
		UPDATE autonomous_actions
		SET draft_content = $1, status = $2, updated_at = now()
		WHERE action_id = $3`
	_, err := tx.ExecContext(ctx, q, draftContent, status, actionID)
	if err != nil {
		return errors.Wrap(err, "failed to update action draft")
	}
	return nil
}

// queryerFromTx lets Create run either inside a caller-supplied transaction
// (the watchdog passes the one it opens around action creation) or, when tx
// is nil, directly against the pool.
func queryerFromTx(tx *sqlx.Tx, db *sqlx.DB) interface {
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
} {
	if tx != nil {
		return tx
	}
	return db
}
