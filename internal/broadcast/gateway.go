// Package broadcast delivers session events to the members of a room.
//
// The gateway turns a command's batch of events into wire messages. Public
// messages go to every sink for the whole room; dealt hands and player views
// only go to their owner.
package broadcast

import (
	"context"
	"errors"
	"fmt"

	"trick-room-server/internal/game/card"
	"trick-room-server/internal/service"
	"trick-room-server/internal/session"
)

// Message types beyond the session event kinds.
const (
	TypeHandDealt   = "hand-dealt"
	TypeState       = "state"
	TypePlayerState = "player-state"
	TypeError       = "error"
)

// Message is the envelope written to clients.
type Message struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Seq     uint64 `json:"seq,omitempty"`
	Round   int    `json:"round,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// HandDealtPayload is the private half of a round-started event.
type HandDealtPayload struct {
	Hand []card.Card `json:"hand"`
}

// ErrorPayload reports a rejected command to the player who sent it.
type ErrorPayload struct {
	Action string `json:"action,omitempty"`
	Error  string `json:"error"`
}

// Sink delivers messages. SendRoom goes to every member of a room, SendPlayer to
// one member only.
type Sink interface {
	SendRoom(ctx context.Context, room string, msg Message) error
	SendPlayer(ctx context.Context, room, playerID string, msg Message) error
}

// Gateway implements service.Publisher over a set of sinks.
type Gateway struct {
	sinks []Sink
}

// NewGateway creates a gateway writing to sinks in order. Nil sinks are skipped.
func NewGateway(sinks ...Sink) *Gateway {
	g := &Gateway{}
	for _, s := range sinks {
		if s != nil {
			g.sinks = append(g.sinks, s)
		}
	}
	return g
}

var _ service.Publisher = (*Gateway)(nil)

// Publish sends each event in order, then the room's state and each player's
// private state. Delivery failures do not stop the remaining messages; they
// are joined into the returned error.
func (g *Gateway) Publish(ctx context.Context, batch service.Batch) error {
	var errs []error
	room := func(msg Message) {
		for _, s := range g.sinks {
			if err := s.SendRoom(ctx, batch.RoomCode, msg); err != nil {
				errs = append(errs, fmt.Errorf("%s to room: %w", msg.Type, err))
			}
		}
	}
	player := func(id string, msg Message) {
		for _, s := range g.sinks {
			if err := s.SendPlayer(ctx, batch.RoomCode, id, msg); err != nil {
				errs = append(errs, fmt.Errorf("%s to %s: %w", msg.Type, id, err))
			}
		}
	}

	for _, e := range batch.Events {
		msg := Message{Type: string(e.Kind), Room: batch.RoomCode, Seq: e.Seq, Round: e.Round, Payload: e.Payload}

		dealt, ok := e.Payload.(session.RoundStartedPayload)
		if !ok {
			room(msg)
			continue
		}
		hands := dealt.Hands
		dealt.Hands = nil
		msg.Payload = dealt
		room(msg)
		for id, hand := range hands {
			player(id, Message{Type: TypeHandDealt, Room: batch.RoomCode, Seq: e.Seq, Round: e.Round, Payload: HandDealtPayload{Hand: hand}})
		}
	}

	room(Message{Type: TypeState, Room: batch.RoomCode, Seq: batch.Public.Seq, Round: batch.Public.Round, Payload: batch.Public})
	for id, view := range batch.Private {
		player(id, Message{Type: TypePlayerState, Room: batch.RoomCode, Seq: view.Public.Seq, Round: view.Public.Round, Payload: view})
	}
	return errors.Join(errs...)
}
