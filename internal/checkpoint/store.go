package checkpoint

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Store persists checkpoints and the two secondary indexes that resolve an
// approval_request_id or a (channel, thread_ts) pair back to a thread
// without scanning metadata. Every index mutation happens inside the same
// transaction as the checkpoint write it accompanies, so the indexes can
// never drift from the primary record.
type Store interface {
	// BeginTx starts a transaction for a single coordinator operation.
	BeginTx(ctx context.Context) (*sqlx.Tx, error)

	// LoadForUpdate loads a checkpoint row with SELECT ... FOR UPDATE,
	// taking a row lock that serializes concurrent mutations of the same
	// thread. Returns (nil, nil) if the thread does not exist yet.
	LoadForUpdate(ctx context.Context, tx *sqlx.Tx, threadID string) (*Checkpoint, error)

	// Save upserts the checkpoint row and refreshes both secondary indexes
	// to match cp.Metadata.ApprovalRequestID and cp.Metadata.ChatHandle.
	Save(ctx context.Context, tx *sqlx.Tx, cp *Checkpoint) error

	// FindByApprovalRequestID resolves a thread_id via the approval index,
	// then loads the checkpoint with a row lock for mutation.
	FindByApprovalRequestID(ctx context.Context, tx *sqlx.Tx, approvalRequestID string) (*Checkpoint, error)

	// FindByThreadHandle resolves a thread_id via the (channel, thread_ts)
	// index -- used when a chat reply arrives with no approval_request_id.
	FindByThreadHandle(ctx context.Context, tx *sqlx.Tx, channel, threadTS string) (*Checkpoint, error)

	// Load is a read-only, non-locking fetch for status/history queries.
	Load(ctx context.Context, threadID string) (*Checkpoint, error)

	// ListAll returns every checkpoint, newest first, for the history
	// endpoint.
	ListAll(ctx context.Context, limit int) ([]*Checkpoint, error)
}

type store struct {
	db *sqlx.DB
}

// NewStore builds a Postgres-backed checkpoint Store.
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

func (s *store) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	return tx, nil
}

func (s *store) LoadForUpdate(ctx context.Context, tx *sqlx.Tx, threadID string) (*Checkpoint, error) {
	const q = `
		SELECT thread_id, state, metadata, updated_at
		FROM langgraph_checkpoints
		WHERE thread_id = $1
		FOR UPDATE`
	return s.scanOne(tx, tx.QueryRowxContext(ctx, q, threadID))
}

func (s *store) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	const q = `
		SELECT thread_id, state, metadata, updated_at
		FROM langgraph_checkpoints
		WHERE thread_id = $1`
	return s.scanOne(nil, s.db.QueryRowxContext(ctx, q, threadID))
}

func (s *store) scanOne(tx *sqlx.Tx, row *sqlx.Row) (*Checkpoint, error) {
	var (
		threadID  string
		stateRaw  []byte
		metaRaw   []byte
		updatedAt sql.NullTime
	)
	if err := row.Scan(&threadID, &stateRaw, &metaRaw, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to load checkpoint")
	}
	cp := &Checkpoint{ThreadID: threadID}
	if updatedAt.Valid {
		cp.UpdatedAt = updatedAt.Time
	}
	if err := UnmarshalState(stateRaw, &cp.State); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint state")
	}
	if err := UnmarshalMetadata(metaRaw, &cp.Metadata); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint metadata")
	}
	return cp, nil
}

func (s *store) Save(ctx context.Context, tx *sqlx.Tx, cp *Checkpoint) error {
	stateRaw, err := MarshalState(cp.State)
	if err != nil {
		return errors.Wrap(err, "failed to encode checkpoint state")
	}
	metaRaw, err := MarshalMetadata(cp.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to encode checkpoint metadata")
	}

	const upsert = `
		INSERT INTO langgraph_checkpoints (thread_id, state, metadata, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (thread_id) DO UPDATE
		SET state = EXCLUDED.state, metadata = EXCLUDED.metadata, updated_at = now()`
	if _, err := tx.ExecContext(ctx, upsert, cp.ThreadID, stateRaw, metaRaw); err != nil {
		return errors.Wrap(err, "failed to upsert checkpoint")
	}

	if cp.Metadata.ApprovalRequestID != "" {
		const upsertApprovalIdx = `
			INSERT INTO checkpoint_approval_index (approval_request_id, thread_id)
			VALUES ($1, $2)
			ON CONFLICT (approval_request_id) DO UPDATE SET thread_id = EXCLUDED.thread_id`
		if _, err := tx.ExecContext(ctx, upsertApprovalIdx, cp.Metadata.ApprovalRequestID, cp.ThreadID); err != nil {
			return errors.Wrap(err, "failed to update approval index")
		}
	}

	if h := cp.Metadata.ChatHandle; h != nil && h.Channel != "" && h.ThreadTS != "" {
		const upsertThreadIdx = `
			INSERT INTO checkpoint_thread_index (channel, thread_ts, thread_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (channel, thread_ts) DO UPDATE SET thread_id = EXCLUDED.thread_id`
		if _, err := tx.ExecContext(ctx, upsertThreadIdx, h.Channel, h.ThreadTS, cp.ThreadID); err != nil {
			return errors.Wrap(err, "failed to update thread index")
		}
	}

	return nil
}

func (s *store) FindByApprovalRequestID(ctx context.Context, tx *sqlx.Tx, approvalRequestID string) (*Checkpoint, error) {
	const q = `SELECT thread_id FROM checkpoint_approval_index WHERE approval_request_id = $1`
	var threadID string
	err := tx.QueryRowxContext(ctx, q, approvalRequestID).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve approval index")
	}
	return s.LoadForUpdate(ctx, tx, threadID)
}

func (s *store) FindByThreadHandle(ctx context.Context, tx *sqlx.Tx, channel, threadTS string) (*Checkpoint, error) {
	const q = `SELECT thread_id FROM checkpoint_thread_index WHERE channel = $1 AND thread_ts = $2`
	var threadID string
	err := tx.QueryRowxContext(ctx, q, channel, threadTS).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve thread index")
	}
	return s.LoadForUpdate(ctx, tx, threadID)
}

func (s *store) ListAll(ctx context.Context, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT thread_id, state, metadata, updated_at
		FROM langgraph_checkpoints
		ORDER BY updated_at DESC
		LIMIT $1`
	rows, err := s.db.QueryxContext(ctx, q, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list checkpoints")
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var (
			threadID  string
			stateRaw  []byte
			metaRaw   []byte
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&threadID, &stateRaw, &metaRaw, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan checkpoint row")
		}
		cp := &Checkpoint{ThreadID: threadID}
		if updatedAt.Valid {
			cp.UpdatedAt = updatedAt.Time
		}
		if err := UnmarshalState(stateRaw, &cp.State); err != nil {
			return nil, errors.Wrap(err, "failed to decode checkpoint state")
		}
		if err := UnmarshalMetadata(metaRaw, &cp.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to decode checkpoint metadata")
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}
