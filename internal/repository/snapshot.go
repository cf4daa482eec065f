package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trick-room-server/internal/model"
	"trick-room-server/internal/session"
)

// ErrSnapshotNotFound is returned when a room has no stored session.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotRepository stores one session snapshot per room as JSONB.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new SnapshotRepository instance.
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Save upserts the room's snapshot. A write carrying an older sequence number
// for the same session is ignored, so a late retry never rolls a room back.
func (r *SnapshotRepository) Save(ctx context.Context, snap *session.Snapshot) error {
	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	const query = `
		INSERT INTO session_snapshots (room_code, session_id, variant_id, phase, round, seq, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (room_code) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			variant_id = EXCLUDED.variant_id,
			phase = EXCLUDED.phase,
			round = EXCLUDED.round,
			seq = EXCLUDED.seq,
			state = EXCLUDED.state,
			updated_at = NOW()
		WHERE session_snapshots.session_id <> EXCLUDED.session_id
			OR session_snapshots.seq <= EXCLUDED.seq
	`
	_, err = r.pool.Exec(ctx, query,
		snap.RoomCode,
		snap.SessionID,
		snap.VariantID,
		string(snap.Phase),
		snap.Round,
		int64(snap.Seq),
		state,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Get returns the stored row for a room.
func (r *SnapshotRepository) Get(ctx context.Context, roomCode string) (*model.SessionSnapshot, error) {
	const query = `
		SELECT room_code, session_id::text, variant_id, phase, round, seq, state, updated_at
		FROM session_snapshots
		WHERE room_code = $1
	`

	var row model.SessionSnapshot
	err := r.pool.QueryRow(ctx, query, roomCode).Scan(
		&row.RoomCode,
		&row.SessionID,
		&row.VariantID,
		&row.Phase,
		&row.Round,
		&row.Seq,
		&row.State,
		&row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &row, nil
}

// Load returns the decoded snapshot for a room.
// Returns ErrSnapshotNotFound if the room has none.
func (r *SnapshotRepository) Load(ctx context.Context, roomCode string) (*session.Snapshot, error) {
	row, err := r.Get(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	var snap session.Snapshot
	if err := json.Unmarshal(row.State, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for room %s: %w", roomCode, err)
	}
	return &snap, nil
}

// Delete removes a room's snapshot. Deleting a missing snapshot is not an error.
func (r *SnapshotRepository) Delete(ctx context.Context, roomCode string) error {
	const query = `DELETE FROM session_snapshots WHERE room_code = $1`

	if _, err := r.pool.Exec(ctx, query, roomCode); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
