// Package fourhundred implements the 400 partnership trick-taking game:
// four players, partners sit opposite (seats 0+2 against 1+3), hearts are trump,
// every player bets individually and a team wins once its combined score reaches
// the target while neither partner is negative.
package fourhundred

import (
	"trick-room-server/internal/game"
	"trick-room-server/internal/game/card"
)

// Variant IDs.
const (
	ID      = "trump-hearts"
	FixedID = "trump-hearts-fixed"
)

const (
	// DefaultWinScore is the team aggregate needed to win.
	DefaultWinScore = 41
	// HandSize is the number of cards per player (the whole deck).
	HandSize = 13
	// BaseMinimumBid is the minimum bet for a player at or below ten points.
	BaseMinimumBid = 2
	// BaseMinimumTotalBid is the lowest bet total that lets a round be played.
	BaseMinimumTotalBid = 11
	// ScaleFromScore is the score at which multiplier thresholds start to climb.
	ScaleFromScore = 30
)

// Thresholds are the minimum bets that double, triple or quadruple a bet's value.
// A zero threshold disables that multiplier.
type Thresholds struct {
	Double    int
	Triple    int
	Quadruple int
	// ScaleWithScore raises every threshold by floor(score/10)-2 once the
	// player has ScaleFromScore points.
	ScaleWithScore bool
}

// ScaledThresholds is the canonical rule set.
var ScaledThresholds = Thresholds{Double: 6, Triple: 8, Quadruple: 10, ScaleWithScore: true}

// FixedThresholds doubles at 6 and triples at 8 regardless of score.
var FixedThresholds = Thresholds{Double: 6, Triple: 8}

// Config holds the tunable parts of the game.
type Config struct {
	WinScore   int
	Thresholds Thresholds
}

var teams = [][]int{{0, 2}, {1, 3}}

// New builds the canonical trump-hearts descriptor.
func New(cfg *Config) *game.Descriptor {
	c := withDefaults(cfg, ScaledThresholds)
	return build(ID, "400", "Partnership game for 4 players. Hearts are trump, first team to 41 with both partners positive wins.", c)
}

// NewFixed builds the fixed-threshold descriptor.
func NewFixed(cfg *Config) *game.Descriptor {
	c := withDefaults(cfg, FixedThresholds)
	return build(FixedID, "400 (fixed multipliers)", "400 where bets of 6+ double and 8+ triple at any score.", c)
}

func withDefaults(cfg *Config, th Thresholds) Config {
	c := Config{WinScore: DefaultWinScore, Thresholds: th}
	if cfg != nil {
		if cfg.WinScore > 0 {
			c.WinScore = cfg.WinScore
		}
		if cfg.Thresholds != (Thresholds{}) {
			c.Thresholds = cfg.Thresholds
		}
	}
	return c
}

func build(id, name, description string, c Config) *game.Descriptor {
	return &game.Descriptor{
		ID:              id,
		Name:            name,
		Description:     description,
		MinPlayers:      4,
		MaxPlayers:      4,
		Trump:           card.Hearts,
		Teams:           teams,
		Scoring:         game.ScoreIndividual,
		SuitOrder:       []card.Suit{card.Clubs, card.Diamonds, card.Spades, card.Hearts},
		HandSize:        func(int) int { return HandSize },
		MinimumBid:      MinimumBid,
		MinimumTotalBid: MinimumTotalBid,
		IsValidPlay:     game.StandardValidPlay(card.Hearts, false),
		TrickWinner:     game.StandardTrickWinner(card.Hearts),
		RoundScore: func(in game.RoundInput) game.RoundResult {
			deltas := make(map[string]int, len(in.Players))
			for _, id := range in.Players {
				deltas[id] = ScoreDelta(in.Bets[id], in.TricksWon[id], in.Scores[id], c.Thresholds)
			}
			return game.RoundResult{Deltas: deltas, State: in.State}
		},
		CheckWin: func(s game.Standings) *game.Win {
			return CheckWin(s, c.WinScore)
		},
	}
}

// MinimumBid is 2 plus one per full ten points. Negative scores use the base minimum.
func MinimumBid(score int) int {
	return BaseMinimumBid + max(score, 0)/10
}

// MinimumTotalBid is 11 plus one per full ten points of the leading score.
func MinimumTotalBid(maxScore int) int {
	return BaseMinimumTotalBid + max(maxScore, 0)/10
}

// Multiplier returns the bet multiplier for a bet given the player's score.
func Multiplier(bet, score int, th Thresholds) int {
	shift := 0
	if th.ScaleWithScore && score >= ScaleFromScore {
		shift = game.FloorDiv(score, 10) - 2
	}
	switch {
	case th.Quadruple > 0 && bet >= th.Quadruple+shift:
		return 4
	case th.Triple > 0 && bet >= th.Triple+shift:
		return 3
	case th.Double > 0 && bet >= th.Double+shift:
		return 2
	default:
		return 1
	}
}

// ScoreDelta is +bet*multiplier for a made bet and -bet*multiplier for a failed one.
func ScoreDelta(bet, tricksWon, score int, th Thresholds) int {
	delta := bet * Multiplier(bet, score, th)
	if tricksWon < bet {
		return -delta
	}
	return delta
}

// CheckWin reports the winning team once a team totals winScore with both
// partners at zero or above. If both teams qualify the higher total wins; an
// exact tie keeps the game going.
func CheckWin(s game.Standings, winScore int) *game.Win {
	if len(s.Players) != 4 {
		return nil
	}
	totals := game.TeamTotals(teams, s)

	var qualified []int
	for i := range teams {
		members := game.TeamPlayers(teams, s.Players, i)
		ok := totals[i] >= winScore
		for _, id := range members {
			if s.Scores[id] < 0 {
				ok = false
			}
		}
		if ok {
			qualified = append(qualified, i)
		}
	}

	best := game.UniqueBest(totals, qualified)
	if best < 0 {
		return nil
	}
	return &game.Win{
		Winner:     game.TeamKey(best),
		Players:    game.TeamPlayers(teams, s.Players, best),
		FinalScore: totals[best],
	}
}
