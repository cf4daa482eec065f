package game

import (
	"errors"
	"fmt"

	"trick-room-server/internal/game/card"
)

// Rule violations returned by IsValidPlay implementations.
var (
	ErrMustFollowSuit = errors.New("must follow suit")
	ErrTrumpNotBroken = errors.New("trump has not been broken")
)

// FollowSuit enforces the follow-suit rule: a player holding the lead suit must play it.
func FollowSuit(c card.Card, hand []card.Card, trick Trick) error {
	if len(trick) == 0 {
		return nil
	}
	lead := trick.LeadSuit()
	if c.Suit == lead {
		return nil
	}
	if card.HasSuit(hand, lead) {
		return fmt.Errorf("%w: play %s", ErrMustFollowSuit, lead)
	}
	return nil
}

// StandardValidPlay builds the usual validity check: follow suit, and when
// mustBreak is set, no trump lead before trump is broken unless the hand is all trump.
func StandardValidPlay(trump card.Suit, mustBreak bool) func(card.Card, []card.Card, Trick, State) error {
	return func(c card.Card, hand []card.Card, trick Trick, state State) error {
		if len(trick) == 0 {
			if mustBreak && trump.Valid() && c.Suit == trump && !state.TrumpBroken && !card.OnlySuit(hand, trump) {
				return fmt.Errorf("%w: cannot lead %s yet", ErrTrumpNotBroken, trump)
			}
			return nil
		}
		return FollowSuit(c, hand, trick)
	}
}

// StandardTrickWinner returns the winner function shared by all catalogued variants.
// If any trump was played the highest trump wins; otherwise the highest card of the
// lead suit wins. With trump == card.NoSuit only the lead suit counts.
func StandardTrickWinner(trump card.Suit) func(Trick) string {
	return func(trick Trick) string {
		if len(trick) == 0 {
			return ""
		}
		target := trick.LeadSuit()
		if trump.Valid() {
			for _, p := range trick {
				if p.Card.Suit == trump {
					target = trump
					break
				}
			}
		}

		winner := ""
		var best card.Rank
		for _, p := range trick {
			if p.Card.Suit != target {
				continue
			}
			if winner == "" || p.Card.Rank > best {
				winner = p.PlayerID
				best = p.Card.Rank
			}
		}
		return winner
	}
}

// NoteCardPlayed updates the round state after a card is accepted.
func NoteCardPlayed(state *State, trump card.Suit, c card.Card) {
	if trump.Valid() && c.Suit == trump {
		state.TrumpBroken = true
	}
}

// TeamTotals sums the ledger per team for variants that score players individually
// but win as partnerships.
func TeamTotals(teams [][]int, s Standings) []int {
	totals := make([]int, len(teams))
	for i, seats := range teams {
		for _, seat := range seats {
			if seat < len(s.Players) {
				totals[i] += s.Scores[s.Players[seat]]
			}
		}
	}
	return totals
}

// TeamPlayers returns the player IDs seated on team i.
func TeamPlayers(teams [][]int, players []string, i int) []string {
	out := make([]string, 0, len(teams[i]))
	for _, seat := range teams[i] {
		if seat < len(players) {
			out = append(out, players[seat])
		}
	}
	return out
}

// UniqueBest returns the index of the strictly highest value among candidates
// (indexes into values), or -1 when the top value is shared or there are no candidates.
func UniqueBest(values []int, candidates []int) int {
	best := -1
	tied := false
	for _, i := range candidates {
		switch {
		case best < 0 || values[i] > values[best]:
			best = i
			tied = false
		case values[i] == values[best]:
			tied = true
		}
	}
	if tied {
		return -1
	}
	return best
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
