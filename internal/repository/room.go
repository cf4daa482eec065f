// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trick-room-server/internal/model"
)

// Common errors for room operations.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room code already taken")
	ErrRoomFull     = errors.New("room is full")
)

// RoomRepository handles room and seat persistence.
type RoomRepository struct {
	pool *pgxpool.Pool
}

// NewRoomRepository creates a new RoomRepository instance.
func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

// Create inserts an empty room. Returns ErrRoomExists if the code is taken.
func (r *RoomRepository) Create(ctx context.Context, code string) (*model.Room, error) {
	const query = `
		INSERT INTO rooms (code, variant_id, created_at, updated_at)
		VALUES ($1, '', NOW(), NOW())
		ON CONFLICT (code) DO NOTHING
		RETURNING code, variant_id, created_at, updated_at
	`

	var room model.Room
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&room.Code,
		&room.VariantID,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomExists
		}
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return &room, nil
}

// Get retrieves a room by code.
// Returns ErrRoomNotFound if the room does not exist.
func (r *RoomRepository) Get(ctx context.Context, code string) (*model.Room, error) {
	const query = `
		SELECT code, variant_id, created_at, updated_at
		FROM rooms
		WHERE code = $1
	`

	var room model.Room
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&room.Code,
		&room.VariantID,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	return &room, nil
}

// SetVariant records the variant the room picked.
func (r *RoomRepository) SetVariant(ctx context.Context, code, variantID string) error {
	const query = `
		UPDATE rooms
		SET variant_id = $2, updated_at = NOW()
		WHERE code = $1
	`

	tag, err := r.pool.Exec(ctx, query, code, variantID)
	if err != nil {
		return fmt.Errorf("failed to set variant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// AddPlayer seats a player in the next free seat. Joining twice returns the
// existing seat. The room row is locked so concurrent joins get distinct seats.
func (r *RoomRepository) AddPlayer(ctx context.Context, code, playerID, name string, maxPlayers int) (*model.RoomPlayer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var locked string
	err = tx.QueryRow(ctx, `SELECT code FROM rooms WHERE code = $1 FOR UPDATE`, code).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to lock room: %w", err)
	}

	var player model.RoomPlayer
	err = tx.QueryRow(ctx, `
		SELECT room_code, player_id, name, seat, joined_at
		FROM room_players
		WHERE room_code = $1 AND player_id = $2
	`, code, playerID).Scan(&player.RoomCode, &player.PlayerID, &player.Name, &player.Seat, &player.JoinedAt)
	if err == nil {
		return &player, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up player: %w", err)
	}

	var seats int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM room_players WHERE room_code = $1`, code).Scan(&seats); err != nil {
		return nil, fmt.Errorf("failed to count players: %w", err)
	}
	if seats >= maxPlayers {
		return nil, ErrRoomFull
	}

	const insert = `
		INSERT INTO room_players (room_code, player_id, name, seat, joined_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING room_code, player_id, name, seat, joined_at
	`
	err = tx.QueryRow(ctx, insert, code, playerID, name, seats).Scan(
		&player.RoomCode,
		&player.PlayerID,
		&player.Name,
		&player.Seat,
		&player.JoinedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add player: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit join: %w", err)
	}
	return &player, nil
}

// ListPlayers returns the room's players in seat order.
func (r *RoomRepository) ListPlayers(ctx context.Context, code string) ([]model.RoomPlayer, error) {
	const query = `
		SELECT room_code, player_id, name, seat, joined_at
		FROM room_players
		WHERE room_code = $1
		ORDER BY seat
	`

	rows, err := r.pool.Query(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []model.RoomPlayer
	for rows.Next() {
		var p model.RoomPlayer
		if err := rows.Scan(&p.RoomCode, &p.PlayerID, &p.Name, &p.Seat, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate players: %w", err)
	}

	return players, nil
}
