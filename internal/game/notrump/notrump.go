// Package notrump implements an individual no-trump bidding game for 3 to 10
// players. Only the lead suit can win a trick; a player who takes exactly the
// number of tricks they bid scores ten plus the bid.
package notrump

import (
	"trick-room-server/internal/game"
	"trick-room-server/internal/game/card"
)

// ID is the variant ID.
const ID = "no-trump"

const (
	DefaultWinScore = 100
	MinPlayers      = 3
	MaxPlayers      = 10
	MaxHandSize     = 13
	ExactBonus      = 10
)

// Config holds the tunable parts of the game.
type Config struct {
	WinScore int
}

// New builds the no-trump descriptor.
func New(cfg *Config) *game.Descriptor {
	winScore := DefaultWinScore
	if cfg != nil && cfg.WinScore > 0 {
		winScore = cfg.WinScore
	}

	return &game.Descriptor{
		ID:              ID,
		Name:            "No Trump",
		Description:     "Individual bidding game for 3-10 players without a trump suit. Exact bids score 10 plus the bid.",
		MinPlayers:      MinPlayers,
		MaxPlayers:      MaxPlayers,
		Trump:           card.NoSuit,
		Scoring:         game.ScoreIndividual,
		SuitOrder:       []card.Suit{card.Clubs, card.Diamonds, card.Spades, card.Hearts},
		HandSize:        HandSize,
		MinimumBid:      func(int) int { return 0 },
		MinimumTotalBid: func(int) int { return 0 },
		IsValidPlay:     game.StandardValidPlay(card.NoSuit, false),
		TrickWinner:     game.StandardTrickWinner(card.NoSuit),
		RoundScore: func(in game.RoundInput) game.RoundResult {
			deltas := make(map[string]int, len(in.Players))
			for _, id := range in.Players {
				deltas[id] = ScoreDelta(in.Bets[id], in.TricksWon[id])
			}
			return game.RoundResult{Deltas: deltas, State: in.State}
		},
		CheckWin: func(s game.Standings) *game.Win {
			return CheckWin(s, winScore)
		},
	}
}

// HandSize deals as many cards as the deck allows, capped at 13.
func HandSize(players int) int {
	if players <= 0 {
		return 0
	}
	return min(MaxHandSize, card.DeckSize/players)
}

// ScoreDelta scores an exact bid with ExactBonus plus the bid and anything else with zero.
func ScoreDelta(bet, tricksWon int) int {
	if bet == tricksWon {
		return ExactBonus + bet
	}
	return 0
}

// CheckWin returns the unique top scorer once that player has reached winScore.
func CheckWin(s game.Standings, winScore int) *game.Win {
	values := make([]int, len(s.Players))
	all := make([]int, len(s.Players))
	for i, id := range s.Players {
		values[i] = s.Scores[id]
		all[i] = i
	}
	best := game.UniqueBest(values, all)
	if best < 0 || values[best] < winScore {
		return nil
	}
	return &game.Win{
		Winner:     s.Players[best],
		Players:    []string{s.Players[best]},
		FinalScore: values[best],
	}
}
