// Package service provides the session manager and the room collaborator
// that feeds it.
package service

import (
	"context"
	"errors"

	"trick-room-server/internal/game/card"
	"trick-room-server/internal/session"
)

// Common errors for session management.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrNoVariantSelected = errors.New("no variant selected for room")
	ErrSessionBroken     = errors.New("session discarded after an internal error")
	ErrRoomClosed        = errors.New("room is shutting down, retry")
	ErrManagerClosed     = errors.New("session manager closed")
	ErrUnknownAction     = errors.New("unknown action")
)

// Action names a command applied to a session.
type Action string

const (
	ActionPlaceBet  Action = "place-bet"
	ActionPlayCard  Action = "play-card"
	ActionSkipRound Action = "skip-round"
)

// Command is an external request against a room's session.
type Command struct {
	Action   Action     `json:"action"`
	PlayerID string     `json:"playerId"`
	Value    int        `json:"value,omitempty"`
	Card     *card.Card `json:"card,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Result is what a successful command returns to its caller.
type Result struct {
	Events []session.Event    `json:"events"`
	State  session.PublicView `json:"state"`
}

// Batch is everything the broadcast side needs after one command: the events
// in order, the public view and each player's private view after the command.
type Batch struct {
	RoomCode string
	Events   []session.Event
	Public   session.PublicView
	Private  map[string]session.PlayerView
}

// Publisher fans a batch out to room members. Publish returns once the public
// messages are queued for every connection.
type Publisher interface {
	Publish(ctx context.Context, batch Batch) error
}

// RoomDirectory is the room membership collaborator.
type RoomDirectory interface {
	// GetPlayers returns the room's players in seat order.
	GetPlayers(ctx context.Context, code string) ([]session.PlayerInfo, error)
	// GetSelectedVariant returns "" when the room has not picked a variant.
	GetSelectedVariant(ctx context.Context, code string) (string, error)
}

// SnapshotLoader reads persisted sessions. It returns
// repository.ErrSnapshotNotFound when the room has none.
type SnapshotLoader interface {
	Load(ctx context.Context, code string) (*session.Snapshot, error)
}

// SnapshotWriter mirrors sessions to storage without blocking the caller.
// *persistence.Writer satisfies it.
type SnapshotWriter interface {
	Enqueue(snap *session.Snapshot)
	EnqueueDelete(code string)
	// Latest returns a write storage may not reflect yet; a nil snapshot
	// with ok set is a pending delete.
	Latest(code string) (snap *session.Snapshot, ok bool)
}
