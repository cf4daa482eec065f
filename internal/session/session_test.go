package session

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trick-room-server/internal/game"
	"trick-room-server/internal/game/card"
	"trick-room-server/internal/game/fourhundred"
	"trick-room-server/internal/game/spades"
)

func testPlayers(n int) []PlayerInfo {
	players := make([]PlayerInfo, n)
	for i := range players {
		players[i] = PlayerInfo{ID: fmt.Sprintf("p%d", i+1), Name: fmt.Sprintf("Player %d", i+1)}
	}
	return players
}

func newStarted(t *testing.T, v *game.Descriptor, n int, seed int64) *Session {
	t.Helper()
	s, err := New("ROOM1", v, testPlayers(n), WithRand(rand.New(rand.NewSource(seed))))
	require.NoError(t, err)
	_, err = s.Start()
	require.NoError(t, err)
	return s
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func turnPlayer(s *Session) string {
	return s.PublicView().TurnPlayerID
}

// playOutRound plays legal cards until the round is over.
func playOutRound(t *testing.T, s *Session, pick func(seat int, playable []card.Card) card.Card) []Event {
	t.Helper()
	var events []Event
	for s.Phase() == PhasePlaying {
		id := turnPlayer(s)
		pv, err := s.PlayerView(id)
		require.NoError(t, err)
		require.NotEmpty(t, pv.Playable, "player %s has no legal card", id)

		evs, err := s.PlayCard(id, pick(pv.Seat, pv.Playable))
		require.NoError(t, err)
		events = append(events, evs...)
	}
	return events
}

func firstCard(_ int, playable []card.Card) card.Card {
	return playable[0]
}

// ============================================
// Construction and start
// ============================================

func TestNew_RejectsBadInput(t *testing.T) {
	v := fourhundred.New(nil)

	_, err := New("", v, testPlayers(4))
	assert.Error(t, err)

	_, err = New("ROOM1", nil, testPlayers(4))
	assert.Error(t, err)

	_, err = New("ROOM1", v, []PlayerInfo{{ID: "a"}, {ID: "a"}, {ID: "b"}, {ID: "c"}})
	assert.Error(t, err)

	_, err = New("ROOM1", v, []PlayerInfo{{ID: "a"}, {ID: ""}})
	assert.Error(t, err)
}

func TestStart_WrongPlayerCount(t *testing.T) {
	s, err := New("ROOM1", fourhundred.New(nil), testPlayers(3))
	require.NoError(t, err)

	_, err = s.Start()
	require.ErrorIs(t, err, ErrInvalidPlayerCount)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "exactly 4 players, have 3")
	assert.Equal(t, PhaseLobby, s.Phase())
}

func TestStart_DealsFullDeck(t *testing.T) {
	s, err := New("ROOM1", fourhundred.New(nil), testPlayers(4), WithRand(rand.New(rand.NewSource(7))))
	require.NoError(t, err)

	events, err := s.Start()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventRoundStarted, events[0].Kind)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, 1, events[0].Round)

	payload := events[0].Payload.(RoundStartedPayload)
	seen := make(map[card.Card]bool)
	for _, id := range s.PlayerIDs() {
		require.Len(t, payload.Hands[id], 13)
		for _, c := range payload.Hands[id] {
			assert.False(t, seen[c], "duplicate card %s", c)
			seen[c] = true
		}
	}
	assert.Len(t, seen, card.DeckSize)

	view := s.PublicView()
	assert.Equal(t, PhaseBetting, view.Phase)
	assert.Equal(t, 0, view.TurnIndex)
	assert.Equal(t, "p1", view.TurnPlayerID)
	assert.Equal(t, map[string]int{"p1": 0, "p2": 0, "p3": 0, "p4": 0}, view.Scores)
	assert.Equal(t, 11, view.MinTotalBid)

	_, err = s.Start()
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

// ============================================
// Betting
// ============================================

func TestPlaceBet_Validation(t *testing.T) {
	s := newStarted(t, fourhundred.New(nil), 4, 1)
	before := s.Snapshot()

	tests := []struct {
		name   string
		player string
		value  int
		err    error
		msg    string
	}{
		{"off turn", "p2", 3, ErrNotYourTurn, "waiting for Player 1"},
		{"below minimum", "p1", 1, ErrInvalidBet, "bet below minimum of 2"},
		{"above maximum", "p1", 14, ErrInvalidBet, "bet above maximum of 13"},
		{"unknown player", "ghost", 3, ErrPlayerNotFound, "ghost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.PlaceBet(tt.player, tt.value)
			require.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Equal(t, before, s.Snapshot(), "rejected bet must not change state")
		})
	}

	_, err := s.PlayCard("p1", s.players[0].hand[0])
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestPlaceBet_AdvancesTurn(t *testing.T) {
	s := newStarted(t, fourhundred.New(nil), 4, 1)

	events, err := s.PlaceBet("p1", 3)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventBetPlaced, events[0].Kind)
	assert.Equal(t, BetPlacedPayload{PlayerID: "p1", Value: 3, NextTurnIndex: 1}, events[0].Payload)

	view := s.PublicView()
	assert.Equal(t, 1, view.TurnIndex)
	require.NotNil(t, view.Players[0].Bet)
	assert.Equal(t, 3, *view.Players[0].Bet)
	assert.Nil(t, view.Players[1].Bet)
	assert.Equal(t, 3, view.BetTotal)
}

func TestPlaceBet_AllBetsEnterPlay(t *testing.T) {
	s := newStarted(t, fourhundred.New(nil), 4, 1)

	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		_, err := s.PlaceBet(id, 3)
		require.NoError(t, err)
	}

	assert.Equal(t, PhasePlaying, s.Phase())
	assert.Equal(t, 0, s.PublicView().TurnIndex)
}

// Four players at zero whose bets total 10 fall short of the minimum of 11:
// the round is voided, redealt, and no score moves.
func TestPlaceBet_VoidRound(t *testing.T) {
	s := newStarted(t, fourhundred.New(nil), 4, 3)
	oldHands := s.Snapshot().Players

	var events []Event
	for i, bet := range []int{2, 2, 3, 3} {
		evs, err := s.PlaceBet(fmt.Sprintf("p%d", i+1), bet)
		require.NoError(t, err)
		events = evs
	}

	assert.Equal(t, []EventKind{EventBetPlaced, EventRoundVoided, EventRoundStarted}, kinds(events))
	voided := events[1].Payload.(RoundVoidedPayload)
	assert.Equal(t, 10, voided.BetTotal)
	assert.Equal(t, 11, voided.Required)
	assert.Contains(t, voided.Reason, "below minimum of 11")

	view := s.PublicView()
	assert.Equal(t, PhaseBetting, view.Phase)
	assert.Equal(t, 1, view.Round, "a void round is not a scored round")
	assert.Equal(t, 1, view.StarterIndex)
	assert.Equal(t, 1, view.TurnIndex)
	assert.Equal(t, 1, view.VoidedRounds)
	assert.Equal(t, map[string]int{"p1": 0, "p2": 0, "p3": 0, "p4": 0}, view.Scores)
	for i, p := range view.Players {
		assert.Nil(t, p.Bet)
		assert.Equal(t, 13, p.CardCount)
		assert.NotEqual(t, oldHands[i].Hand, s.players[i].hand, "hands are redealt")
	}

	// Events keep a gap-free sequence across the redeal.
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Seq+1, events[i].Seq)
	}
}

// ============================================
// Playing
// ============================================

// lateRound restores a trump-hearts session with two cards left per player.
func lateRound(t *testing.T, scores map[string]int) *Session {
	t.Helper()
	bet := func(v int) *int { return &v }
	c := card.MustParse

	snap := &Snapshot{
		Version:   SnapshotVersion,
		RoomCode:  "LATE",
		VariantID: fourhundred.ID,
		Phase:     PhasePlaying,
		Players: []PlayerSnapshot{
			{ID: "n", Name: "North", Hand: []card.Card{c("ace_of_spades"), c("2_of_hearts")}, Bet: bet(2), TricksWon: 1},
			{ID: "e", Name: "East", Hand: []card.Card{c("king_of_spades"), c("3_of_clubs")}, Bet: bet(2), TricksWon: 4},
			{ID: "s", Name: "South", Hand: []card.Card{c("5_of_spades"), c("4_of_hearts")}, Bet: bet(2), TricksWon: 3},
			{ID: "w", Name: "West", Hand: []card.Card{c("3_of_diamonds"), c("9_of_clubs")}, Bet: bet(2), TricksWon: 3},
		},
		Round:        3,
		HandSize:     13,
		Scores:       scores,
		BetsPlaced:   4,
		TricksPlayed: 11,
		Seq:          100,
	}
	s, err := Restore(snap, testRegistry(t), WithRand(rand.New(rand.NewSource(5))))
	require.NoError(t, err)
	return s
}

func testRegistry(t *testing.T) *game.Registry {
	t.Helper()
	reg := game.NewRegistry()
	require.NoError(t, reg.Register(fourhundred.New(nil)))
	require.NoError(t, reg.Register(fourhundred.NewFixed(nil)))
	require.NoError(t, reg.Register(spades.New(nil)))
	return reg
}

func TestPlayCard_Validation(t *testing.T) {
	s := lateRound(t, map[string]int{"n": 10, "e": 5, "s": 0, "w": 0})
	c := card.MustParse

	_, err := s.PlayCard("e", c("king_of_spades"))
	assert.ErrorIs(t, err, ErrNotYourTurn)

	_, err = s.PlayCard("n", c("queen_of_hearts"))
	assert.ErrorIs(t, err, ErrInvalidPlay)
	assert.Contains(t, err.Error(), "not in your hand")

	events, err := s.PlayCard("n", c("ace_of_spades"))
	require.NoError(t, err)
	assert.Equal(t, CardPlayedPayload{PlayerID: "n", Card: c("ace_of_spades"), NextTurnIndex: 1}, events[0].Payload)
	assert.Equal(t, uint64(101), events[0].Seq)

	before := s.Snapshot()
	_, err = s.PlayCard("e", c("3_of_clubs"))
	require.ErrorIs(t, err, ErrInvalidPlay)
	assert.ErrorIs(t, err, game.ErrMustFollowSuit)
	assert.True(t, IsValidation(err))
	assert.Equal(t, before, s.Snapshot())

	pv, err := s.PlayerView("e")
	require.NoError(t, err)
	assert.True(t, pv.YourTurn)
	assert.Equal(t, []card.Card{c("king_of_spades")}, pv.Playable)

	_, err = s.PlaceBet("e", 3)
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestPlayCard_ResolvesTricksAndSettles(t *testing.T) {
	s := lateRound(t, map[string]int{"n": 10, "e": 5, "s": 0, "w": 0})
	c := card.MustParse

	play := func(id, name string) []Event {
		evs, err := s.PlayCard(id, c(name))
		require.NoError(t, err)
		return evs
	}

	play("n", "ace_of_spades")
	play("e", "king_of_spades")
	play("s", "5_of_spades")
	events := play("w", "3_of_diamonds")

	require.Equal(t, []EventKind{EventCardPlayed, EventTrickResolved}, kinds(events))
	assert.Equal(t, 0, events[0].Payload.(CardPlayedPayload).NextTurnIndex)
	resolved := events[1].Payload.(TrickResolvedPayload)
	assert.Equal(t, "n", resolved.WinnerID)
	assert.Equal(t, 12, resolved.TrickNumber)
	assert.Equal(t, 2, resolved.TricksWon)
	assert.Len(t, resolved.Trick, 4)

	view := s.PublicView()
	assert.Empty(t, view.Trick)
	assert.Len(t, view.LastTrick, 4)
	assert.Equal(t, "n", view.TurnPlayerID)

	play("n", "2_of_hearts")
	play("e", "3_of_clubs")
	play("s", "4_of_hearts")
	events = play("w", "9_of_clubs")

	require.Equal(t, []EventKind{EventCardPlayed, EventTrickResolved, EventRoundSettled, EventRoundStarted}, kinds(events))
	assert.Equal(t, "s", events[1].Payload.(TrickResolvedPayload).WinnerID, "highest trump wins")

	settled := events[2].Payload.(RoundSettledPayload)
	assert.Equal(t, map[string]int{"n": 2, "e": 4, "s": 4, "w": 3}, settled.TricksWon)
	assert.Equal(t, map[string]int{"n": 2, "e": 2, "s": 2, "w": 2}, settled.Deltas)
	assert.Equal(t, map[string]int{"n": 12, "e": 7, "s": 2, "w": 2}, settled.Scores)
	assert.Equal(t, 3, events[2].Round)
	assert.Equal(t, 4, events[3].Round)

	view = s.PublicView()
	assert.Equal(t, PhaseBetting, view.Phase)
	assert.Equal(t, 4, view.Round)
	assert.Equal(t, 1, view.StarterIndex)
	assert.Equal(t, "e", view.TurnPlayerID)
	assert.Equal(t, 0, view.TricksPlayed)
	for _, p := range view.Players {
		assert.Equal(t, 13, p.CardCount)
		assert.Equal(t, 0, p.TricksWon)
	}
}

// Once a winner is declared no further bet or card is accepted.
func TestPlayCard_WinFinishesSession(t *testing.T) {
	s := lateRound(t, map[string]int{"n": 20, "e": 0, "s": 19, "w": 0})
	c := card.MustParse

	var events []Event
	for _, mv := range [][2]string{
		{"n", "ace_of_spades"}, {"e", "king_of_spades"}, {"s", "5_of_spades"}, {"w", "3_of_diamonds"},
		{"n", "2_of_hearts"}, {"e", "3_of_clubs"}, {"s", "4_of_hearts"}, {"w", "9_of_clubs"},
	} {
		evs, err := s.PlayCard(mv[0], c(mv[1]))
		require.NoError(t, err)
		events = evs
	}

	require.Equal(t, []EventKind{EventCardPlayed, EventTrickResolved, EventRoundSettled, EventSessionFinished}, kinds(events))
	finished := events[3].Payload.(SessionFinishedPayload)
	assert.Equal(t, "team-1", finished.Winner)
	assert.Equal(t, []string{"n", "s"}, finished.Players)
	assert.Equal(t, 43, finished.FinalScore)

	assert.Equal(t, PhaseFinished, s.Phase())
	require.NotNil(t, s.Winner())
	assert.Equal(t, "team-1", s.PublicView().Winner.Winner)
	assert.Equal(t, -1, s.PublicView().TurnIndex)

	_, err := s.PlaceBet("e", 3)
	assert.ErrorIs(t, err, ErrInvalidPhase)
	_, err = s.PlayCard("e", c("king_of_hearts"))
	assert.ErrorIs(t, err, ErrInvalidPhase)
	_, err = s.SkipRound("")
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestPlayCard_TrumpMustBeBroken(t *testing.T) {
	bet := func(v int) *int { return &v }
	c := card.MustParse
	snap := &Snapshot{
		Version:   SnapshotVersion,
		RoomCode:  "SPADES",
		VariantID: spades.ID,
		Phase:     PhasePlaying,
		Players: []PlayerSnapshot{
			{ID: "n", Hand: []card.Card{c("ace_of_spades"), c("2_of_hearts")}, Bet: bet(3), TricksWon: 3},
			{ID: "e", Hand: []card.Card{c("3_of_spades"), c("7_of_clubs")}, Bet: bet(3), TricksWon: 3},
			{ID: "s", Hand: []card.Card{c("5_of_hearts"), c("4_of_diamonds")}, Bet: bet(3), TricksWon: 3},
			{ID: "w", Hand: []card.Card{c("3_of_diamonds"), c("9_of_clubs")}, Bet: bet(2), TricksWon: 2},
		},
		Round:        1,
		HandSize:     13,
		Scores:       map[string]int{"team-1": 0, "team-2": 0},
		BetsPlaced:   4,
		TricksPlayed: 11,
	}
	s, err := Restore(snap, testRegistry(t))
	require.NoError(t, err)

	_, err = s.PlayCard("n", c("ace_of_spades"))
	require.ErrorIs(t, err, game.ErrTrumpNotBroken)
	assert.Contains(t, err.Error(), "cannot lead spades yet")

	for _, mv := range [][2]string{{"n", "2_of_hearts"}, {"e", "3_of_spades"}, {"s", "5_of_hearts"}, {"w", "9_of_clubs"}} {
		_, err := s.PlayCard(mv[0], c(mv[1]))
		require.NoError(t, err)
	}
	view := s.PublicView()
	assert.True(t, view.TrumpBroken)
	assert.Equal(t, "e", view.TurnPlayerID, "trump wins the trick")

	for _, mv := range [][2]string{{"e", "7_of_clubs"}, {"s", "4_of_diamonds"}, {"w", "3_of_diamonds"}, {"n", "ace_of_spades"}} {
		_, err := s.PlayCard(mv[0], c(mv[1]))
		require.NoError(t, err)
	}
	view = s.PublicView()
	assert.Equal(t, PhaseBetting, view.Phase)
	assert.False(t, view.TrumpBroken, "trump breaking resets every round")
	assert.Equal(t, 2, view.Round)
}

// ============================================
// Skipping
// ============================================

func TestSkipRound(t *testing.T) {
	s := newStarted(t, fourhundred.New(nil), 4, 9)
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		_, err := s.PlaceBet(id, 3)
		require.NoError(t, err)
	}
	_, err := s.PlayCard("p1", s.players[0].hand[0])
	require.NoError(t, err)

	events, err := s.SkipRound("player left")
	require.NoError(t, err)
	require.Equal(t, []EventKind{EventRoundVoided, EventRoundStarted}, kinds(events))
	assert.Equal(t, "player left", events[0].Payload.(RoundVoidedPayload).Reason)
	assert.Equal(t, 12, events[0].Payload.(RoundVoidedPayload).BetTotal)

	view := s.PublicView()
	assert.Equal(t, PhaseBetting, view.Phase)
	assert.Equal(t, 1, view.StarterIndex)
	assert.Empty(t, view.Trick)
	assert.Equal(t, map[string]int{"p1": 0, "p2": 0, "p3": 0, "p4": 0}, view.Scores)

	lobby, err := New("ROOM2", fourhundred.New(nil), testPlayers(4))
	require.NoError(t, err)
	_, err = lobby.SkipRound("")
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

// ============================================
// Full game
// ============================================

// Four players play trump-hearts to the end. Seats 0 and 2 play their strongest
// card and seats 1 and 3 their weakest, so the game drifts toward a result.
func TestSession_FullGame(t *testing.T) {
	v := fourhundred.New(nil)
	s := newStarted(t, v, 4, 2024)

	strong := func(seat int, playable []card.Card) card.Card {
		best := playable[0]
		for _, c := range playable[1:] {
			if seat%2 == 0 {
				if (c.Suit == card.Hearts) != (best.Suit == card.Hearts) {
					if c.Suit == card.Hearts {
						best = c
					}
					continue
				}
				if c.Rank > best.Rank {
					best = c
				}
			} else {
				if (c.Suit == card.Hearts) != (best.Suit == card.Hearts) {
					if best.Suit == card.Hearts {
						best = c
					}
					continue
				}
				if c.Rank < best.Rank {
					best = c
				}
			}
		}
		return best
	}

	// First round: everyone bets 3, which clears the minimum total of 11.
	for _, id := range s.PlayerIDs() {
		_, err := s.PlaceBet(id, 3)
		require.NoError(t, err)
	}
	require.Equal(t, PhasePlaying, s.Phase())

	events := playOutRound(t, s, strong)
	tricks := 0
	var settled *RoundSettledPayload
	for _, e := range events {
		switch e.Kind {
		case EventTrickResolved:
			tricks++
		case EventRoundSettled:
			p := e.Payload.(RoundSettledPayload)
			settled = &p
		}
	}
	assert.Equal(t, 13, tricks)
	require.NotNil(t, settled)
	for id, won := range settled.TricksWon {
		assert.Equal(t, fourhundred.ScoreDelta(3, won, 0, fourhundred.ScaledThresholds), settled.Deltas[id])
	}

	for rounds := 0; s.Phase() != PhaseFinished && rounds < 2000; rounds++ {
		for i := 0; i < 4 && s.Phase() == PhaseBetting; i++ {
			pv, err := s.PlayerView(turnPlayer(s))
			require.NoError(t, err)
			bet := max(pv.MinimumBid, 3)
			if i == 3 {
				bet = max(bet, pv.Public.MinTotalBid-pv.Public.BetTotal)
			}
			_, err = s.PlaceBet(pv.PlayerID, min(bet, pv.MaximumBid))
			require.NoError(t, err)
		}
		playOutRound(t, s, strong)
	}

	require.Equal(t, PhaseFinished, s.Phase())
	win := s.Winner()
	require.NotNil(t, win)
	scores := s.Scores()
	total := 0
	for _, id := range win.Players {
		assert.GreaterOrEqual(t, scores[id], 0)
		total += scores[id]
	}
	assert.GreaterOrEqual(t, total, 41)
	assert.Equal(t, total, win.FinalScore)

	_, err := s.PlaceBet("p1", 3)
	assert.True(t, errors.Is(err, ErrInvalidPhase))
}
