package session

import (
	"trick-room-server/internal/game"
	"trick-room-server/internal/game/card"
)

// EventKind identifies a state change emitted by a session.
type EventKind string

const (
	EventRoundStarted    EventKind = "round-started"
	EventBetPlaced       EventKind = "bet-placed"
	EventRoundVoided     EventKind = "round-voided"
	EventCardPlayed      EventKind = "card-played"
	EventTrickResolved   EventKind = "trick-resolved"
	EventRoundSettled    EventKind = "round-settled"
	EventSessionFinished EventKind = "session-finished"
)

// Event is one state change. Seq increases by one per event over the whole
// lifetime of a session, so consumers can detect gaps and order events.
type Event struct {
	Seq      uint64    `json:"seq"`
	Kind     EventKind `json:"kind"`
	RoomCode string    `json:"room"`
	Round    int       `json:"round"`
	Payload  any       `json:"payload"`
}

// RoundStartedPayload carries freshly dealt hands. Hands are private: the
// broadcast layer must only deliver each hand to its owner.
type RoundStartedPayload struct {
	StarterIndex int                    `json:"starterIndex"`
	HandSize     int                    `json:"handSize"`
	Hands        map[string][]card.Card `json:"hands,omitempty"`
}

// BetPlacedPayload is emitted for every accepted bet.
type BetPlacedPayload struct {
	PlayerID      string `json:"playerId"`
	Value         int    `json:"value"`
	NextTurnIndex int    `json:"nextTurnIndex"`
}

// RoundVoidedPayload is emitted when a round is thrown in without scoring.
type RoundVoidedPayload struct {
	Reason   string `json:"reason"`
	BetTotal int    `json:"betTotal"`
	Required int    `json:"required"`
}

// CardPlayedPayload is emitted for every accepted card.
type CardPlayedPayload struct {
	PlayerID      string    `json:"playerId"`
	Card          card.Card `json:"card"`
	NextTurnIndex int       `json:"nextTurnIndex"`
}

// TrickResolvedPayload is emitted once a trick is complete.
type TrickResolvedPayload struct {
	WinnerID    string     `json:"winnerId"`
	Trick       game.Trick `json:"trick"`
	TrickNumber int        `json:"trickNumber"`
	TricksWon   int        `json:"tricksWon"`
}

// RoundSettledPayload is emitted after a round's deltas are applied.
type RoundSettledPayload struct {
	Bets      map[string]int `json:"bets"`
	TricksWon map[string]int `json:"tricksWon"`
	Deltas    map[string]int `json:"deltas"`
	Scores    map[string]int `json:"scores"`
}

// SessionFinishedPayload is the terminal event.
type SessionFinishedPayload struct {
	Winner     string         `json:"winner"`
	Players    []string       `json:"players"`
	FinalScore int            `json:"finalScore"`
	Scores     map[string]int `json:"scores"`
}
