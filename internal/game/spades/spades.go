// Package spades implements partnership Spades with nil bids and bags.
package spades

import (
	"trick-room-server/internal/game"
	"trick-room-server/internal/game/card"
)

// ID is the variant ID.
const ID = "spades"

// Scoring constants.
const (
	DefaultWinScore  = 500
	DefaultLoseScore = -200
	HandSize         = 13
	NilBonus         = 100
	BagLimit         = 10
	BagPenalty       = 100
	TrickValue       = 10
)

// Config holds the tunable parts of the game.
type Config struct {
	WinScore  int
	LoseScore int
}

var teams = [][]int{{0, 2}, {1, 3}}

// New builds the spades descriptor.
func New(cfg *Config) *game.Descriptor {
	c := Config{WinScore: DefaultWinScore, LoseScore: DefaultLoseScore}
	if cfg != nil {
		if cfg.WinScore > 0 {
			c.WinScore = cfg.WinScore
		}
		if cfg.LoseScore < 0 {
			c.LoseScore = cfg.LoseScore
		}
	}

	return &game.Descriptor{
		ID:              ID,
		Name:            "Spades",
		Description:     "Partnership Spades with nil bids and bags. Spades cannot lead until broken.",
		MinPlayers:      4,
		MaxPlayers:      4,
		Trump:           card.Spades,
		TrumpMustBreak:  true,
		Teams:           teams,
		Scoring:         game.ScoreTeams,
		SuitOrder:       []card.Suit{card.Clubs, card.Diamonds, card.Hearts, card.Spades},
		HandSize:        func(int) int { return HandSize },
		MinimumBid:      func(int) int { return 0 },
		MinimumTotalBid: func(int) int { return 0 },
		IsValidPlay:     game.StandardValidPlay(card.Spades, true),
		TrickWinner:     game.StandardTrickWinner(card.Spades),
		RoundScore:      RoundScore,
		CheckWin: func(s game.Standings) *game.Win {
			return CheckWin(s, c.WinScore, c.LoseScore)
		},
	}
}

// RoundScore scores each team. A nil bid (0) is worth +100 if the bidder takes no
// tricks and -100 otherwise; tricks taken by a nil bidder count as bags. Non-nil
// bets form the team contract: making it scores 10 per bid trick plus one per
// overtrick (bag), failing it costs 10 per bid trick. Every 10 accumulated bags
// cost 100 points.
func RoundScore(in game.RoundInput) game.RoundResult {
	state := in.State.Clone()
	if state.Bags == nil {
		state.Bags = make(map[string]int, len(teams))
	}

	deltas := make(map[string]int, len(teams))
	for i := range teams {
		key := game.TeamKey(i)
		contract, taken, bags, delta := 0, 0, 0, 0

		for _, id := range game.TeamPlayers(teams, in.Players, i) {
			bet, won := in.Bets[id], in.TricksWon[id]
			if bet == 0 {
				if won == 0 {
					delta += NilBonus
				} else {
					delta -= NilBonus
					bags += won
				}
				continue
			}
			contract += bet
			taken += won
		}

		if contract > 0 {
			if taken >= contract {
				delta += contract*TrickValue + (taken - contract)
				bags += taken - contract
			} else {
				delta -= contract * TrickValue
			}
		}

		state.Bags[key] += bags
		for state.Bags[key] >= BagLimit {
			delta -= BagPenalty
			state.Bags[key] -= BagLimit
		}
		deltas[key] = delta
	}
	return game.RoundResult{Deltas: deltas, State: state}
}

// CheckWin declares a winner once a team reaches winScore (the higher team if
// both do, nobody on a tie) or once a team sinks to loseScore, which hands the
// game to the other team.
func CheckWin(s game.Standings, winScore, loseScore int) *game.Win {
	totals := []int{s.Scores[game.TeamKey(0)], s.Scores[game.TeamKey(1)]}

	var qualified []int
	for i, total := range totals {
		if total >= winScore {
			qualified = append(qualified, i)
		}
	}
	best := game.UniqueBest(totals, qualified)

	if best < 0 && len(qualified) == 0 {
		switch {
		case totals[0] <= loseScore && totals[1] > loseScore:
			best = 1
		case totals[1] <= loseScore && totals[0] > loseScore:
			best = 0
		}
	}
	if best < 0 {
		return nil
	}
	return &game.Win{
		Winner:     game.TeamKey(best),
		Players:    game.TeamPlayers(teams, s.Players, best),
		FinalScore: totals[best],
	}
}
