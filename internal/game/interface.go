// Package game defines the variant descriptors for trick-taking games and the
// registry that catalogues them.
//
// A variant is plain data plus pure functions: the session engine never
// subclasses a variant, it looks one up by ID and calls its rules.
package game

import (
	"errors"
	"fmt"

	"trick-room-server/internal/game/card"
)

// Scoring selects how the score ledger is keyed.
type Scoring int

const (
	// ScoreIndividual keeps one ledger entry per player, keyed by player ID.
	ScoreIndividual Scoring = iota
	// ScoreTeams keeps one ledger entry per team, keyed by TeamKey.
	ScoreTeams
)

// Play is one card laid into a trick.
type Play struct {
	PlayerID string    `json:"playerId"`
	Card     card.Card `json:"card"`
}

// Trick is the ordered sequence of plays in the current trick.
type Trick []Play

// LeadSuit returns the suit of the first card, or card.NoSuit for an empty trick.
func (t Trick) LeadSuit() card.Suit {
	if len(t) == 0 {
		return card.NoSuit
	}
	return t[0].Card.Suit
}

// Has reports whether playerID already played into the trick.
func (t Trick) Has(playerID string) bool {
	for _, p := range t {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

// State is the variant-specific state a session carries between commands.
// TrumpBroken resets every round; Bags persist for the whole game.
type State struct {
	TrumpBroken bool           `json:"trumpBroken"`
	Bags        map[string]int `json:"bags,omitempty"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{TrumpBroken: s.TrumpBroken}
	if s.Bags != nil {
		out.Bags = make(map[string]int, len(s.Bags))
		for k, v := range s.Bags {
			out.Bags[k] = v
		}
	}
	return out
}

// RoundInput carries everything a scoring function may look at.
type RoundInput struct {
	Players   []string       // turn order
	Bets      map[string]int // player ID -> bet
	TricksWon map[string]int // player ID -> tricks won this round
	Scores    map[string]int // ledger before this round
	State     State
}

// RoundResult is the outcome of scoring one round.
type RoundResult struct {
	Deltas map[string]int // ledger key -> delta
	State  State          // carried state after the round
}

// Standings is the input to win detection.
type Standings struct {
	Players []string
	Scores  map[string]int
}

// Win describes a finished game.
type Win struct {
	Winner     string   `json:"winner"`     // ledger key: a player ID or a team key
	Players    []string `json:"players"`    // winning player IDs
	FinalScore int      `json:"finalScore"` // winner's aggregate score
}

// Descriptor bundles the rules of one variant.
type Descriptor struct {
	ID          string
	Name        string
	Description string
	MinPlayers  int
	MaxPlayers  int

	// Trump is card.NoSuit for variants without a trump suit.
	Trump card.Suit
	// TrumpMustBreak forbids leading trump until it was played off-suit,
	// unless the leader holds nothing but trump.
	TrumpMustBreak bool

	// Teams lists seat indexes per team. Nil for individual play.
	Teams   [][]int
	Scoring Scoring

	// SuitOrder is the display order for sorted hands.
	SuitOrder []card.Suit

	HandSize        func(players int) int
	MinimumBid      func(score int) int
	MinimumTotalBid func(maxScore int) int
	IsValidPlay     func(c card.Card, hand []card.Card, trick Trick, state State) error
	TrickWinner     func(trick Trick) string
	RoundScore      func(in RoundInput) RoundResult
	CheckWin        func(s Standings) *Win
}

// Info is the public catalogue entry for a variant.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MinPlayers  int    `json:"minPlayers"`
	MaxPlayers  int    `json:"maxPlayers"`
	Trump       string `json:"trump"`
	Teams       bool   `json:"teams"`
}

// Info returns the public catalogue entry for d.
func (d *Descriptor) Info() Info {
	return Info{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		MinPlayers:  d.MinPlayers,
		MaxPlayers:  d.MaxPlayers,
		Trump:       d.Trump.String(),
		Teams:       len(d.Teams) > 0,
	}
}

// Validate checks that every rule function is present and the player bounds make sense.
func (d *Descriptor) Validate() error {
	if d == nil {
		return errors.New("nil descriptor")
	}
	if d.ID == "" {
		return errors.New("variant id cannot be empty")
	}
	if d.MinPlayers < 1 || d.MaxPlayers < d.MinPlayers {
		return fmt.Errorf("variant %s: invalid player bounds %d..%d", d.ID, d.MinPlayers, d.MaxPlayers)
	}
	if d.HandSize == nil || d.MinimumBid == nil || d.MinimumTotalBid == nil ||
		d.IsValidPlay == nil || d.TrickWinner == nil || d.RoundScore == nil || d.CheckWin == nil {
		return fmt.Errorf("variant %s: missing rule function", d.ID)
	}
	if d.Scoring == ScoreTeams && len(d.Teams) == 0 {
		return fmt.Errorf("variant %s: team scoring without teams", d.ID)
	}
	if d.HandSize(d.MaxPlayers)*d.MaxPlayers > card.DeckSize {
		return fmt.Errorf("variant %s: hand size exceeds deck", d.ID)
	}
	return nil
}

// AllowsPlayers reports whether n players can start this variant.
func (d *Descriptor) AllowsPlayers(n int) bool {
	return n >= d.MinPlayers && n <= d.MaxPlayers
}

// MaxBet is the highest legal bet: every trick of the round.
func (d *Descriptor) MaxBet(handSize int) int {
	return handSize
}

// LedgerKeys returns the keys of the score ledger for the given turn order.
func (d *Descriptor) LedgerKeys(players []string) []string {
	if d.Scoring == ScoreTeams {
		keys := make([]string, len(d.Teams))
		for i := range d.Teams {
			keys[i] = TeamKey(i)
		}
		return keys
	}
	keys := make([]string, len(players))
	copy(keys, players)
	return keys
}

// LedgerKeyFor returns the ledger key that holds the given seat's score.
func (d *Descriptor) LedgerKeyFor(players []string, seat int) string {
	if d.Scoring == ScoreTeams {
		if team := d.TeamOf(seat); team >= 0 {
			return TeamKey(team)
		}
	}
	return players[seat]
}

// TeamOf returns the team index for seat, or -1 in individual play.
func (d *Descriptor) TeamOf(seat int) int {
	for i, seats := range d.Teams {
		for _, s := range seats {
			if s == seat {
				return i
			}
		}
	}
	return -1
}

// TeamKey is the ledger key for team i ("team-1", "team-2", ...).
func TeamKey(i int) string {
	return fmt.Sprintf("team-%d", i+1)
}
