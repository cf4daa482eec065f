// Package model defines the data models for rooms and persisted sessions.
package model

import (
	"encoding/json"
	"time"
)

// Room is a table of players. VariantID is empty until the room picks a game.
type Room struct {
	Code      string    `db:"code" json:"code"`
	VariantID string    `db:"variant_id" json:"variant"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// RoomPlayer is a seat in a room. Seat order is turn order.
type RoomPlayer struct {
	RoomCode string    `db:"room_code" json:"room"`
	PlayerID string    `db:"player_id" json:"id"`
	Name     string    `db:"name" json:"name"`
	Seat     int       `db:"seat" json:"seat"`
	JoinedAt time.Time `db:"joined_at" json:"joinedAt"`
}

// SessionSnapshot is the stored copy of a room's session.
type SessionSnapshot struct {
	RoomCode  string          `db:"room_code"`
	SessionID string          `db:"session_id"`
	VariantID string          `db:"variant_id"`
	Phase     string          `db:"phase"`
	Round     int             `db:"round"`
	Seq       int64           `db:"seq"`
	State     json.RawMessage `db:"state"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Room limits.
const (
	MaxPlayersPerRoom = 10
	MaxNameLength     = 32
	RoomCodeLength    = 6
)
