package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrimrv/backend/internal/apperr"
	"github.com/agrimrv/backend/internal/domain/anchor"
)

const anchorColumns = `id, profile_hash, farmer_id, profile_revision, state, COALESCE(tx_ref, ''), chain_id, payload,
  retry_count, poll_errors, confirmations, COALESCE(last_error, ''), error_kind, next_poll_at, verified_at,
  version, created_at, updated_at`

type AnchorRepository struct {
	pool *pgxpool.Pool
}

func NewAnchorRepository(pool *pgxpool.Pool) *AnchorRepository {
	return &AnchorRepository{pool: pool}
}

func scanAnchor(row pgx.Row) (*anchor.Record, error) {
	out := &anchor.Record{}
	var state, kind string
	err := row.Scan(
		&out.ID, &out.ProfileHash, &out.FarmerID, &out.ProfileRevision, &state, &out.TxRef, &out.ChainID, &out.Payload,
		&out.RetryCount, &out.PollErrors, &out.Confirmations, &out.LastError, &kind, &out.NextPollAt, &out.VerifiedAt,
		&out.Version, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, anchor.ErrNotFound
		}
		return nil, err
	}
	out.State = anchor.State(state)
	out.ErrorKind = apperr.Kind(kind)
	return out, nil
}

func (r *AnchorRepository) GetByID(ctx context.Context, id string) (*anchor.Record, error) {
	if !isUUID(id) {
		return nil, anchor.ErrNotFound
	}
	q := `SELECT ` + anchorColumns + ` FROM anchor_records WHERE id = $1`
	return scanAnchor(r.pool.QueryRow(ctx, q, id))
}

func (r *AnchorRepository) GetActive(ctx context.Context, hash []byte) (*anchor.Record, error) {
	q := `SELECT ` + anchorColumns + ` FROM anchor_records
WHERE profile_hash = $1 AND state IN ('submitting', 'pending_confirmation')`
	return scanAnchor(r.pool.QueryRow(ctx, q, hash))
}

func (r *AnchorRepository) GetLatest(ctx context.Context, hash []byte) (*anchor.Record, error) {
	q := `SELECT ` + anchorColumns + ` FROM anchor_records WHERE profile_hash = $1 ORDER BY seq DESC LIMIT 1`
	return scanAnchor(r.pool.QueryRow(ctx, q, hash))
}

func (r *AnchorRepository) GetLatestByFarmer(ctx context.Context, farmerID string) (*anchor.Record, error) {
	if !isUUID(farmerID) {
		return nil, anchor.ErrNotFound
	}
	q := `SELECT ` + anchorColumns + ` FROM anchor_records WHERE farmer_id = $1 ORDER BY seq DESC LIMIT 1`
	return scanAnchor(r.pool.QueryRow(ctx, q, farmerID))
}

// CreateIfAbsent relies on the partial unique index over non-terminal states;
// a conflicting insert returns no row.
func (r *AnchorRepository) CreateIfAbsent(ctx context.Context, rec *anchor.Record) (*anchor.Record, error) {
	if rec.State != anchor.StateSubmitting {
		return nil, fmt.Errorf("new anchor record must be %s, got %s", anchor.StateSubmitting, rec.State)
	}
	var out *anchor.Record
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		q := `
INSERT INTO anchor_records (
  id, profile_hash, farmer_id, profile_revision, state, tx_ref, chain_id, payload,
  retry_count, poll_errors, confirmations, last_error, error_kind, next_poll_at, verified_at,
  version, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,$11,NULLIF($12,''),$13,$14,$15,1,$16,$17)
ON CONFLICT (profile_hash) WHERE state IN ('submitting', 'pending_confirmation') DO NOTHING
RETURNING ` + anchorColumns
		created, err := scanAnchor(tx.QueryRow(ctx, q,
			rec.ID, rec.ProfileHash, rec.FarmerID, rec.ProfileRevision, string(rec.State), rec.TxRef, rec.ChainID, rec.Payload,
			rec.RetryCount, rec.PollErrors, rec.Confirmations, rec.LastError, string(rec.ErrorKind), rec.NextPollAt, rec.VerifiedAt,
			rec.CreatedAt, rec.UpdatedAt,
		))
		if errors.Is(err, anchor.ErrNotFound) {
			return anchor.ErrActiveExists
		}
		if err != nil {
			return err
		}
		if err := insertTransition(ctx, tx, anchor.Transition{
			RecordID:  created.ID,
			Version:   created.Version,
			FromState: anchor.StateUnanchored,
			ToState:   created.State,
			At:        created.CreatedAt,
		}); err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AnchorRepository) Update(ctx context.Context, rec *anchor.Record, expectedVersion int64) (*anchor.Record, error) {
	if !rec.State.Valid() {
		return nil, fmt.Errorf("invalid anchor state %q", rec.State)
	}
	var out *anchor.Record
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var prevState string
		var prevVersion int64
		err := tx.QueryRow(ctx, `SELECT state, version FROM anchor_records WHERE id = $1 FOR UPDATE`, rec.ID).
			Scan(&prevState, &prevVersion)
		if errors.Is(err, pgx.ErrNoRows) {
			return anchor.ErrNotFound
		}
		if err != nil {
			return err
		}
		if prevVersion != expectedVersion || anchor.State(prevState).IsTerminal() {
			return anchor.ErrStaleWrite
		}

		q := `
UPDATE anchor_records SET
  state = $3, tx_ref = NULLIF($4, ''), chain_id = $5, retry_count = $6, poll_errors = $7,
  confirmations = $8, last_error = NULLIF($9, ''), error_kind = $10, next_poll_at = $11,
  verified_at = $12, updated_at = $13, version = version + 1
WHERE id = $1 AND version = $2
RETURNING ` + anchorColumns
		updated, err := scanAnchor(tx.QueryRow(ctx, q,
			rec.ID, expectedVersion, string(rec.State), rec.TxRef, rec.ChainID, rec.RetryCount, rec.PollErrors,
			rec.Confirmations, rec.LastError, string(rec.ErrorKind), rec.NextPollAt,
			rec.VerifiedAt, updatedAt(rec.UpdatedAt),
		))
		if errors.Is(err, anchor.ErrNotFound) {
			return anchor.ErrStaleWrite
		}
		if err != nil {
			return err
		}
		if updated.State != anchor.State(prevState) {
			if err := insertTransition(ctx, tx, anchor.Transition{
				RecordID:  updated.ID,
				Version:   updated.Version,
				FromState: anchor.State(prevState),
				ToState:   updated.State,
				TxRef:     updated.TxRef,
				LastError: updated.LastError,
				At:        updated.UpdatedAt,
			}); err != nil {
				return err
			}
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func insertTransition(ctx context.Context, tx pgx.Tx, t anchor.Transition) error {
	q := `
INSERT INTO anchor_transitions (record_id, version, from_state, to_state, tx_ref, last_error, at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
`
	_, err := tx.Exec(ctx, q, t.RecordID, t.Version, string(t.FromState), string(t.ToState), t.TxRef, t.LastError, t.At)
	return err
}

func (r *AnchorRepository) ListByProfile(ctx context.Context, hash []byte) ([]anchor.Record, error) {
	q := `SELECT ` + anchorColumns + ` FROM anchor_records WHERE profile_hash = $1 ORDER BY seq DESC`
	return r.list(ctx, q, hash)
}

func (r *AnchorRepository) ListByFarmer(ctx context.Context, farmerID string, limit int32) ([]anchor.Record, error) {
	if !isUUID(farmerID) {
		return []anchor.Record{}, nil
	}
	q := `SELECT ` + anchorColumns + ` FROM anchor_records WHERE farmer_id = $1 ORDER BY seq DESC LIMIT $2`
	return r.list(ctx, q, farmerID, limit)
}

func (r *AnchorRepository) ListDue(ctx context.Context, state anchor.State, before time.Time, limit int32) ([]anchor.Record, error) {
	dueColumn := "next_poll_at"
	if state == anchor.StateSubmitting {
		dueColumn = "updated_at"
	}
	q := `SELECT ` + anchorColumns + ` FROM anchor_records
WHERE state = $1 AND ` + dueColumn + ` <= $2
ORDER BY ` + dueColumn + ` ASC, id ASC
LIMIT $3`
	return r.list(ctx, q, string(state), before, limit)
}

func (r *AnchorRepository) list(ctx context.Context, q string, args ...any) ([]anchor.Record, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]anchor.Record, 0)
	for rows.Next() {
		rec, err := scanAnchor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *AnchorRepository) ListTransitions(ctx context.Context, recordID string) ([]anchor.Transition, error) {
	if !isUUID(recordID) {
		return []anchor.Transition{}, nil
	}
	q := `
SELECT record_id, version, from_state, to_state, COALESCE(tx_ref, ''), COALESCE(last_error, ''), at
FROM anchor_transitions
WHERE record_id = $1
ORDER BY version ASC
`
	rows, err := r.pool.Query(ctx, q, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]anchor.Transition, 0)
	for rows.Next() {
		var t anchor.Transition
		var from, to string
		if err := rows.Scan(&t.RecordID, &t.Version, &from, &to, &t.TxRef, &t.LastError, &t.At); err != nil {
			return nil, err
		}
		t.FromState = anchor.State(from)
		t.ToState = anchor.State(to)
		out = append(out, t)
	}
	return out, rows.Err()
}
