package session

import (
	"fmt"

	"trick-room-server/internal/game"
	"trick-room-server/internal/game/card"
)

// PublicPlayer is what every room member may see about a player.
type PublicPlayer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Seat      int    `json:"seat"`
	Team      int    `json:"team"`
	CardCount int    `json:"cardCount"`
	Bet       *int   `json:"bet"`
	TricksWon int    `json:"tricksWon"`
}

// PublicView is the state broadcast to the whole room. It never contains hands.
type PublicView struct {
	SessionID    string         `json:"sessionId"`
	RoomCode     string         `json:"room"`
	Variant      string         `json:"variant"`
	Phase        Phase          `json:"phase"`
	Round        int            `json:"round"`
	HandSize     int            `json:"handSize"`
	Players      []PublicPlayer `json:"players"`
	Scores       map[string]int `json:"scores"`
	TurnIndex    int            `json:"turnIndex"`
	TurnPlayerID string         `json:"turnPlayerId,omitempty"`
	StarterIndex int            `json:"starterIndex"`
	LeaderIndex  int            `json:"leaderIndex"`
	Trump        string         `json:"trump"`
	TrumpBroken  bool           `json:"trumpBroken"`
	LeadSuit     string         `json:"leadSuit"`
	Trick        game.Trick     `json:"trick"`
	LastTrick    game.Trick     `json:"lastTrick,omitempty"`
	TricksPlayed int            `json:"tricksPlayed"`
	BetTotal     int            `json:"betTotal"`
	MinTotalBid  int            `json:"minTotalBid"`
	Bags         map[string]int `json:"bags,omitempty"`
	VoidedRounds int            `json:"voidedRounds"`
	Winner       *game.Win      `json:"winner,omitempty"`
	Seq          uint64         `json:"seq"`
}

// PlayerView is the private state of one player plus the public view.
type PlayerView struct {
	PlayerID   string      `json:"playerId"`
	Seat       int         `json:"seat"`
	Hand       []card.Card `json:"hand"`
	YourTurn   bool        `json:"yourTurn"`
	MinimumBid int         `json:"minimumBid"`
	MaximumBid int         `json:"maximumBid"`
	// Playable lists the cards in Hand that would be accepted right now.
	Playable []card.Card `json:"playable"`
	Public   PublicView  `json:"public"`
}

// PublicView builds the room-wide view of the current state.
func (s *Session) PublicView() PublicView {
	v := PublicView{
		SessionID:    s.id.String(),
		RoomCode:     s.roomCode,
		Variant:      s.variant.ID,
		Phase:        s.phase,
		Round:        s.round,
		HandSize:     s.handSize,
		Players:      make([]PublicPlayer, len(s.players)),
		Scores:       copyScores(s.scores),
		TurnIndex:    s.turnSeat(),
		StarterIndex: s.starter,
		LeaderIndex:  s.leader,
		Trump:        s.variant.Trump.String(),
		TrumpBroken:  s.state.TrumpBroken,
		LeadSuit:     s.trick.LeadSuit().String(),
		Trick:        append(game.Trick{}, s.trick...),
		LastTrick:    append(game.Trick(nil), s.lastTrick...),
		TricksPlayed: s.tricksPlayed,
		VoidedRounds: s.voided,
		Winner:       s.win,
		Seq:          s.seq,
	}
	if v.TurnIndex >= 0 {
		v.TurnPlayerID = s.players[v.TurnIndex].id
	}
	if s.phase != PhaseLobby {
		v.MinTotalBid = s.variant.MinimumTotalBid(s.maxScore())
	}
	if len(s.state.Bags) > 0 {
		v.Bags = s.state.Clone().Bags
	}

	for i, p := range s.players {
		pp := PublicPlayer{
			ID:        p.id,
			Name:      p.name,
			Seat:      i,
			Team:      s.variant.TeamOf(i),
			CardCount: len(p.hand),
			TricksWon: p.tricksWon,
		}
		if p.bet != nil {
			bet := *p.bet
			pp.Bet = &bet
			v.BetTotal += bet
		}
		v.Players[i] = pp
	}
	return v
}

// PlayerView builds the private view for playerID.
func (s *Session) PlayerView(playerID string) (PlayerView, error) {
	seat, ok := s.index[playerID]
	if !ok {
		return PlayerView{}, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	p := s.players[seat]

	v := PlayerView{
		PlayerID: playerID,
		Seat:     seat,
		Hand:     append([]card.Card{}, p.hand...),
		YourTurn: s.turnSeat() == seat,
		Playable: []card.Card{},
		Public:   s.PublicView(),
	}
	if s.phase != PhaseLobby {
		v.MinimumBid = s.variant.MinimumBid(s.scoreFor(seat))
		v.MaximumBid = s.variant.MaxBet(s.handSize)
	}
	if s.phase == PhasePlaying && v.YourTurn {
		for _, c := range p.hand {
			if s.variant.IsValidPlay(c, p.hand, s.trick, s.state) == nil {
				v.Playable = append(v.Playable, c)
			}
		}
	}
	return v, nil
}
