// Package session implements the per-room state machine of a trick-taking game.
//
// A Session is not safe for concurrent use. The service layer owns one
// goroutine per room and feeds it commands one at a time; every command either
// fails validation without touching state or applies completely and returns
// the events it produced.
package session

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"trick-room-server/internal/game"
	"trick-room-server/internal/game/card"
)

// Phase is a state of the session state machine.
type Phase string

const (
	PhaseLobby         Phase = "lobby"
	PhaseBetting       Phase = "betting"
	PhasePlaying       Phase = "playing"
	PhaseRoundSettling Phase = "round_settling"
	PhaseFinished      Phase = "finished"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseLobby, PhaseBetting, PhasePlaying, PhaseRoundSettling, PhaseFinished:
		return true
	}
	return false
}

// PlayerInfo identifies a participant when a session is created.
type PlayerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type player struct {
	id        string
	name      string
	hand      []card.Card
	bet       *int
	tricksWon int
}

// Session is the authoritative state of one room's game.
type Session struct {
	id       uuid.UUID
	roomCode string
	variant  *game.Descriptor

	phase   Phase
	players []*player
	index   map[string]int

	round    int
	handSize int
	scores   map[string]int
	state    game.State

	starter    int // seat that bets first and leads the first trick
	betTurn    int
	betsPlaced int

	leader       int // seat that led the current trick
	trick        game.Trick
	tricksPlayed int
	lastTrick    game.Trick

	voided int
	win    *game.Win
	seq    uint64

	rng *rand.Rand
}

// Option configures a Session.
type Option func(*Session)

// WithRand sets the shuffle source. Tests use it for deterministic deals.
func WithRand(rng *rand.Rand) Option {
	return func(s *Session) {
		s.rng = rng
	}
}

// WithID sets the session ID instead of generating one.
func WithID(id uuid.UUID) Option {
	return func(s *Session) {
		s.id = id
	}
}

// New creates a session in the lobby phase. Player order is turn order and
// never changes for the lifetime of the session.
func New(roomCode string, variant *game.Descriptor, players []PlayerInfo, opts ...Option) (*Session, error) {
	if roomCode == "" {
		return nil, errors.New("room code cannot be empty")
	}
	if err := variant.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		roomCode: roomCode,
		variant:  variant,
		phase:    PhaseLobby,
		index:    make(map[string]int, len(players)),
	}
	for i, p := range players {
		if p.ID == "" {
			return nil, fmt.Errorf("player at seat %d has no id", i)
		}
		if _, dup := s.index[p.ID]; dup {
			return nil, fmt.Errorf("player %s joined twice", p.ID)
		}
		s.index[p.ID] = i
		s.players = append(s.players, &player{id: p.ID, name: p.Name})
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.id == uuid.Nil {
		s.id = uuid.New()
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() uuid.UUID { return s.id }

// RoomCode returns the room the session belongs to.
func (s *Session) RoomCode() string { return s.roomCode }

// Variant returns the rules in play.
func (s *Session) Variant() *game.Descriptor { return s.variant }

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase }

// Round returns the current round number, starting at 1.
func (s *Session) Round() int { return s.round }

// Seq returns the sequence number of the last emitted event.
func (s *Session) Seq() uint64 { return s.seq }

// Winner returns the win record once the session is finished.
func (s *Session) Winner() *game.Win { return s.win }

// PlayerIDs returns the player IDs in turn order.
func (s *Session) PlayerIDs() []string {
	ids := make([]string, len(s.players))
	for i, p := range s.players {
		ids[i] = p.id
	}
	return ids
}

// Scores returns a copy of the score ledger.
func (s *Session) Scores() map[string]int {
	return copyScores(s.scores)
}

// HasPlayer reports whether playerID is seated in this session.
func (s *Session) HasPlayer(playerID string) bool {
	_, ok := s.index[playerID]
	return ok
}

// Start leaves the lobby and deals the first round.
func (s *Session) Start() ([]Event, error) {
	if s.phase != PhaseLobby {
		return nil, fmt.Errorf("%w: session already started", ErrInvalidPhase)
	}
	n := len(s.players)
	if !s.variant.AllowsPlayers(n) {
		if s.variant.MinPlayers == s.variant.MaxPlayers {
			return nil, fmt.Errorf("%w: %s needs exactly %d players, have %d",
				ErrInvalidPlayerCount, s.variant.Name, s.variant.MinPlayers, n)
		}
		return nil, fmt.Errorf("%w: %s needs %d to %d players, have %d",
			ErrInvalidPlayerCount, s.variant.Name, s.variant.MinPlayers, s.variant.MaxPlayers, n)
	}

	handSize := s.variant.HandSize(n)
	if handSize <= 0 || handSize*n > card.DeckSize {
		return nil, fmt.Errorf("%w: hand size %d for %d players", ErrInvariantViolation, handSize, n)
	}

	s.handSize = handSize
	s.scores = make(map[string]int)
	for _, key := range s.variant.LedgerKeys(s.PlayerIDs()) {
		s.scores[key] = 0
	}
	s.state = game.State{}
	s.starter = 0

	var events []Event
	if err := s.startRound(true, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// PlaceBet records playerID's bet. Once every player has bet, the round either
// moves to play or, when the total is below the variant minimum, is voided and
// redealt with the next seat betting first.
func (s *Session) PlaceBet(playerID string, value int) ([]Event, error) {
	if s.phase != PhaseBetting {
		return nil, fmt.Errorf("%w: cannot bet while %s", ErrInvalidPhase, s.phase)
	}
	seat, ok := s.index[playerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	if seat != s.betTurn {
		return nil, fmt.Errorf("%w: waiting for %s to bet", ErrNotYourTurn, s.players[s.betTurn].name)
	}
	minBet := s.variant.MinimumBid(s.scoreFor(seat))
	if value < minBet {
		return nil, fmt.Errorf("%w: bet below minimum of %d", ErrInvalidBet, minBet)
	}
	if maxBet := s.variant.MaxBet(s.handSize); value > maxBet {
		return nil, fmt.Errorf("%w: bet above maximum of %d", ErrInvalidBet, maxBet)
	}

	bet := value
	s.players[seat].bet = &bet
	s.betsPlaced++
	s.betTurn = (s.betTurn + 1) % len(s.players)

	events := []Event{s.emit(EventBetPlaced, BetPlacedPayload{
		PlayerID:      playerID,
		Value:         value,
		NextTurnIndex: s.betTurn,
	})}

	if s.betsPlaced < len(s.players) {
		return events, nil
	}

	total := 0
	for _, p := range s.players {
		total += *p.bet
	}
	required := s.variant.MinimumTotalBid(s.maxScore())
	if total < required {
		reason := fmt.Sprintf("bets total %d, below minimum of %d", total, required)
		if err := s.voidRound(reason, total, required, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	s.phase = PhasePlaying
	s.leader = s.starter
	return events, nil
}

// PlayCard plays c from playerID's hand into the current trick.
func (s *Session) PlayCard(playerID string, c card.Card) ([]Event, error) {
	if s.phase != PhasePlaying {
		return nil, fmt.Errorf("%w: cannot play a card while %s", ErrInvalidPhase, s.phase)
	}
	seat, ok := s.index[playerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	if turn := s.turnSeat(); seat != turn {
		return nil, fmt.Errorf("%w: waiting for %s to play", ErrNotYourTurn, s.players[turn].name)
	}
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlay, card.ErrInvalidCard)
	}
	p := s.players[seat]
	if !card.Contains(p.hand, c) {
		return nil, fmt.Errorf("%w: %s is not in your hand", ErrInvalidPlay, c)
	}
	if err := s.variant.IsValidPlay(c, p.hand, s.trick, s.state); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlay, err)
	}
	if s.trick.Has(playerID) || len(s.trick) >= len(s.players) {
		return nil, fmt.Errorf("%w: trick already holds a card from %s", ErrInvariantViolation, playerID)
	}

	p.hand, _ = card.Remove(p.hand, c)
	s.trick = append(s.trick, game.Play{PlayerID: playerID, Card: c})
	game.NoteCardPlayed(&s.state, s.variant.Trump, c)

	if len(s.trick) < len(s.players) {
		return []Event{s.emit(EventCardPlayed, CardPlayedPayload{
			PlayerID:      playerID,
			Card:          c,
			NextTurnIndex: s.turnSeat(),
		})}, nil
	}

	winnerID := s.variant.TrickWinner(s.trick)
	winner, ok := s.index[winnerID]
	if !ok {
		return nil, fmt.Errorf("%w: trick winner %q is not seated", ErrInvariantViolation, winnerID)
	}

	events := []Event{s.emit(EventCardPlayed, CardPlayedPayload{
		PlayerID:      playerID,
		Card:          c,
		NextTurnIndex: winner,
	})}

	s.players[winner].tricksWon++
	s.tricksPlayed++
	s.lastTrick = s.trick
	s.trick = nil
	s.leader = winner

	events = append(events, s.emit(EventTrickResolved, TrickResolvedPayload{
		WinnerID:    winnerID,
		Trick:       s.lastTrick,
		TrickNumber: s.tricksPlayed,
		TricksWon:   s.players[winner].tricksWon,
	}))

	if s.tricksPlayed < s.handSize {
		return events, nil
	}
	if err := s.settle(&events); err != nil {
		return nil, err
	}
	return events, nil
}

// SkipRound throws in the current round without scoring and redeals, with the
// next seat betting first.
func (s *Session) SkipRound(reason string) ([]Event, error) {
	if s.phase != PhaseBetting && s.phase != PhasePlaying {
		return nil, fmt.Errorf("%w: cannot skip a round while %s", ErrInvalidPhase, s.phase)
	}
	if reason == "" {
		reason = "round skipped"
	}
	total := 0
	for _, p := range s.players {
		if p.bet != nil {
			total += *p.bet
		}
	}

	var events []Event
	if err := s.voidRound(reason, total, s.variant.MinimumTotalBid(s.maxScore()), &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Session) settle(events *[]Event) error {
	s.phase = PhaseRoundSettling

	ids := s.PlayerIDs()
	bets := make(map[string]int, len(s.players))
	won := make(map[string]int, len(s.players))
	for _, p := range s.players {
		if p.bet == nil {
			return fmt.Errorf("%w: %s has no bet at settlement", ErrInvariantViolation, p.id)
		}
		bets[p.id] = *p.bet
		won[p.id] = p.tricksWon
	}

	res := s.variant.RoundScore(game.RoundInput{
		Players:   ids,
		Bets:      bets,
		TricksWon: won,
		Scores:    copyScores(s.scores),
		State:     s.state.Clone(),
	})
	for key := range res.Deltas {
		if _, ok := s.scores[key]; !ok {
			return fmt.Errorf("%w: score delta for unknown ledger key %q", ErrInvariantViolation, key)
		}
	}
	for key, delta := range res.Deltas {
		s.scores[key] += delta
	}
	s.state = res.State.Clone()

	*events = append(*events, s.emit(EventRoundSettled, RoundSettledPayload{
		Bets:      bets,
		TricksWon: won,
		Deltas:    res.Deltas,
		Scores:    copyScores(s.scores),
	}))

	if win := s.variant.CheckWin(game.Standings{Players: ids, Scores: copyScores(s.scores)}); win != nil {
		s.win = win
		s.phase = PhaseFinished
		*events = append(*events, s.emit(EventSessionFinished, SessionFinishedPayload{
			Winner:     win.Winner,
			Players:    win.Players,
			FinalScore: win.FinalScore,
			Scores:     copyScores(s.scores),
		}))
		return nil
	}

	s.starter = (s.starter + 1) % len(s.players)
	return s.startRound(true, events)
}

func (s *Session) voidRound(reason string, total, required int, events *[]Event) error {
	*events = append(*events, s.emit(EventRoundVoided, RoundVoidedPayload{
		Reason:   reason,
		BetTotal: total,
		Required: required,
	}))
	s.voided++
	s.starter = (s.starter + 1) % len(s.players)
	return s.startRound(false, events)
}

// startRound deals a fresh round. A void redeal keeps the round number.
func (s *Session) startRound(next bool, events *[]Event) error {
	ids := s.PlayerIDs()
	hands, err := card.Deal(card.ShuffledDeck(s.rng), ids, s.handSize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}

	if next {
		s.round++
	}
	for _, p := range s.players {
		card.Sort(hands[p.id], s.variant.SuitOrder)
		p.hand = hands[p.id]
		p.bet = nil
		p.tricksWon = 0
	}
	s.phase = PhaseBetting
	s.betTurn = s.starter
	s.betsPlaced = 0
	s.leader = s.starter
	s.trick = nil
	s.lastTrick = nil
	s.tricksPlayed = 0
	s.state.TrumpBroken = false

	dealt := make(map[string][]card.Card, len(hands))
	for id, h := range hands {
		dealt[id] = append([]card.Card(nil), h...)
	}
	*events = append(*events, s.emit(EventRoundStarted, RoundStartedPayload{
		StarterIndex: s.starter,
		HandSize:     s.handSize,
		Hands:        dealt,
	}))
	return nil
}

func (s *Session) emit(kind EventKind, payload any) Event {
	s.seq++
	return Event{
		Seq:      s.seq,
		Kind:     kind,
		RoomCode: s.roomCode,
		Round:    s.round,
		Payload:  payload,
	}
}

// turnSeat is the seat expected to act in the current phase, or -1.
func (s *Session) turnSeat() int {
	switch s.phase {
	case PhaseBetting:
		return s.betTurn
	case PhasePlaying:
		return (s.leader + len(s.trick)) % len(s.players)
	}
	return -1
}

func (s *Session) scoreFor(seat int) int {
	return s.scores[s.variant.LedgerKeyFor(s.PlayerIDs(), seat)]
}

func (s *Session) maxScore() int {
	first := true
	best := 0
	for _, v := range s.scores {
		if first || v > best {
			best = v
			first = false
		}
	}
	return best
}

func copyScores(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
