package session

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"trick-room-server/internal/game"
	"trick-room-server/internal/game/card"
)

// SnapshotVersion is bumped whenever the snapshot layout changes incompatibly.
const SnapshotVersion = 1

// PlayerSnapshot is the persisted form of one player.
type PlayerSnapshot struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Hand      []card.Card `json:"hand"`
	Bet       *int        `json:"bet,omitempty"`
	TricksWon int         `json:"tricksWon"`
}

// Snapshot is everything needed to resume a session after a restart.
type Snapshot struct {
	Version      int              `json:"version"`
	SessionID    uuid.UUID        `json:"sessionId"`
	RoomCode     string           `json:"room"`
	VariantID    string           `json:"variant"`
	Phase        Phase            `json:"phase"`
	Players      []PlayerSnapshot `json:"players"`
	Round        int              `json:"round"`
	HandSize     int              `json:"handSize"`
	Scores       map[string]int   `json:"scores"`
	State        game.State       `json:"state"`
	Starter      int              `json:"starter"`
	BetTurn      int              `json:"betTurn"`
	BetsPlaced   int              `json:"betsPlaced"`
	Leader       int              `json:"leader"`
	Trick        game.Trick       `json:"trick"`
	TricksPlayed int              `json:"tricksPlayed"`
	LastTrick    game.Trick       `json:"lastTrick,omitempty"`
	Voided       int              `json:"voided"`
	Winner       *game.Win        `json:"winner,omitempty"`
	Seq          uint64           `json:"seq"`
}

// Snapshot captures the current state. The result shares no memory with the session.
func (s *Session) Snapshot() *Snapshot {
	snap := &Snapshot{
		Version:      SnapshotVersion,
		SessionID:    s.id,
		RoomCode:     s.roomCode,
		VariantID:    s.variant.ID,
		Phase:        s.phase,
		Players:      make([]PlayerSnapshot, len(s.players)),
		Round:        s.round,
		HandSize:     s.handSize,
		Scores:       copyScores(s.scores),
		State:        s.state.Clone(),
		Starter:      s.starter,
		BetTurn:      s.betTurn,
		BetsPlaced:   s.betsPlaced,
		Leader:       s.leader,
		Trick:        append(game.Trick(nil), s.trick...),
		TricksPlayed: s.tricksPlayed,
		LastTrick:    append(game.Trick(nil), s.lastTrick...),
		Voided:       s.voided,
		Seq:          s.seq,
	}
	if s.win != nil {
		w := *s.win
		w.Players = append([]string(nil), s.win.Players...)
		snap.Winner = &w
	}
	for i, p := range s.players {
		ps := PlayerSnapshot{
			ID:        p.id,
			Name:      p.name,
			Hand:      append([]card.Card{}, p.hand...),
			TricksWon: p.tricksWon,
		}
		if p.bet != nil {
			bet := *p.bet
			ps.Bet = &bet
		}
		snap.Players[i] = ps
	}
	return snap
}

// VariantLookup resolves a variant by ID. *game.Registry satisfies it.
type VariantLookup interface {
	Lookup(id string) (*game.Descriptor, error)
}

// Restore rebuilds a session from a snapshot. Phase, bet and trick indices
// and round counters are checked before the session is handed back.
func Restore(snap *Snapshot, variants VariantLookup, opts ...Option) (*Session, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrInvalidSnapshot, snap.Version, SnapshotVersion)
	}
	variant, err := variants.Lookup(snap.VariantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	infos := make([]PlayerInfo, len(snap.Players))
	for i, p := range snap.Players {
		infos[i] = PlayerInfo{ID: p.ID, Name: p.Name}
	}
	s, err := New(snap.RoomCode, variant, infos, append([]Option{WithID(snap.SessionID)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if err := checkSnapshot(snap, variant); err != nil {
		return nil, err
	}

	for i, ps := range snap.Players {
		p := s.players[i]
		p.hand = append([]card.Card{}, ps.Hand...)
		p.tricksWon = ps.TricksWon
		if ps.Bet != nil {
			bet := *ps.Bet
			p.bet = &bet
		}
	}
	s.phase = snap.Phase
	s.round = snap.Round
	s.handSize = snap.HandSize
	s.scores = copyScores(snap.Scores)
	s.state = snap.State.Clone()
	s.starter = snap.Starter
	s.betTurn = snap.BetTurn
	s.betsPlaced = snap.BetsPlaced
	s.leader = snap.Leader
	s.trick = append(game.Trick(nil), snap.Trick...)
	s.tricksPlayed = snap.TricksPlayed
	s.lastTrick = append(game.Trick(nil), snap.LastTrick...)
	s.voided = snap.Voided
	s.seq = snap.Seq
	if snap.Winner != nil {
		w := *snap.Winner
		s.win = &w
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s, nil
}

func checkSnapshot(snap *Snapshot, variant *game.Descriptor) error {
	n := len(snap.Players)
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidSnapshot}, args...)...)
	}

	if !snap.Phase.Valid() || snap.Phase == PhaseRoundSettling {
		return bad("cannot resume phase %q", snap.Phase)
	}
	if snap.Phase == PhaseLobby {
		return nil
	}
	if !variant.AllowsPlayers(n) {
		return bad("%d players for %s", n, variant.ID)
	}
	if snap.HandSize != variant.HandSize(n) {
		return bad("hand size %d, want %d", snap.HandSize, variant.HandSize(n))
	}
	for _, idx := range []int{snap.Starter, snap.BetTurn, snap.Leader} {
		if idx < 0 || idx >= n {
			return bad("seat index %d out of range", idx)
		}
	}
	if snap.Round < 1 || snap.BetsPlaced < 0 || snap.BetsPlaced > n {
		return bad("round %d with %d bets", snap.Round, snap.BetsPlaced)
	}
	if len(snap.Trick) >= n || snap.TricksPlayed < 0 || snap.TricksPlayed > snap.HandSize {
		return bad("trick of %d after %d tricks", len(snap.Trick), snap.TricksPlayed)
	}
	for _, key := range variant.LedgerKeys(playerIDs(snap.Players)) {
		if _, ok := snap.Scores[key]; !ok {
			return bad("missing score for %s", key)
		}
	}

	switch snap.Phase {
	case PhaseBetting:
		if (snap.Starter+snap.BetsPlaced)%n != snap.BetTurn {
			return bad("bet turn %d does not follow starter %d", snap.BetTurn, snap.Starter)
		}
		bets := 0
		for _, p := range snap.Players {
			if p.Bet != nil {
				bets++
			}
		}
		if bets != snap.BetsPlaced || snap.TricksPlayed != 0 || len(snap.Trick) != 0 {
			return bad("betting state is inconsistent")
		}
	case PhasePlaying:
		for _, p := range snap.Players {
			if p.Bet == nil {
				return bad("%s has no bet during play", p.ID)
			}
		}
	}

	if snap.Phase == PhaseBetting || snap.Phase == PhasePlaying {
		seats := make(map[string]int, n)
		for i, p := range snap.Players {
			seats[p.ID] = i
		}
		inTrick := make(map[string]bool, len(snap.Trick))
		for i, play := range snap.Trick {
			seat, ok := seats[play.PlayerID]
			if !ok {
				return bad("trick card from unseated player %s", play.PlayerID)
			}
			if want := (snap.Leader + i) % n; seat != want {
				return bad("trick play %d by seat %d, want seat %d", i, seat, want)
			}
			inTrick[play.PlayerID] = true
		}
		for _, p := range snap.Players {
			want := snap.HandSize - snap.TricksPlayed
			if inTrick[p.ID] {
				want--
			}
			if len(p.Hand) != want {
				return bad("%s holds %d cards, want %d", p.ID, len(p.Hand), want)
			}
		}
	}

	seen := make(map[card.Card]bool)
	for _, p := range snap.Players {
		for _, c := range p.Hand {
			if !c.Valid() || seen[c] {
				return bad("card %s is invalid or duplicated", c)
			}
			seen[c] = true
		}
	}
	for _, play := range snap.Trick {
		if seen[play.Card] {
			return bad("card %s is both in a hand and on the table", play.Card)
		}
		seen[play.Card] = true
	}
	return nil
}

func playerIDs(players []PlayerSnapshot) []string {
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	return ids
}
