// Package bot posts game results to a Telegram chat and answers standings
// queries there.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"trick-room-server/internal/broadcast"
	"trick-room-server/internal/config"
	"trick-room-server/internal/session"
)

// StandingsReader looks up a room's public state.
// *service.SessionManager satisfies it.
type StandingsReader interface {
	PublicState(ctx context.Context, code string) (session.PublicView, error)
}

// Settings configures the announcer. URL is only set in tests.
type Settings struct {
	Token     string
	ChatID    int64
	URL       string
	Offline   bool
	QueueSize int
}

// SettingsFrom builds Settings from the telegram config section.
func SettingsFrom(cfg config.TelegramConfig) Settings {
	return Settings{Token: cfg.Token, ChatID: cfg.ChatID}
}

// Announcer is a broadcast sink that posts round results and winners to one
// chat. Posting happens on its own goroutine so a slow Telegram API never
// holds up a room.
type Announcer struct {
	bot       *tele.Bot
	chat      tele.ChatID
	standings StandingsReader
	queue     chan string

	mu     sync.Mutex
	names  map[string]map[string]string // room -> player ID -> name
	closed bool

	polling atomic.Bool
	wg      sync.WaitGroup
}

var _ broadcast.Sink = (*Announcer)(nil)

// New creates an Announcer. standings may be nil, which disables /standings.
func New(s Settings, standings StandingsReader) (*Announcer, error) {
	if s.Token == "" {
		return nil, errors.New("bot token is required")
	}
	if s.ChatID == 0 {
		return nil, errors.New("announcement chat id is required")
	}
	if s.QueueSize <= 0 {
		s.QueueSize = 64
	}

	pref := tele.Settings{
		Token:       s.Token,
		URL:         s.URL,
		Offline:     s.Offline,
		Synchronous: true,
		Poller:      &tele.LongPoller{Timeout: 10 * time.Second},
	}
	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	a := &Announcer{
		bot:       teleBot,
		chat:      tele.ChatID(s.ChatID),
		standings: standings,
		queue:     make(chan string, s.QueueSize),
		names:     make(map[string]map[string]string),
	}

	a.bot.Use(ChatMiddleware(s.ChatID))
	a.bot.Use(LoggingMiddleware())
	a.bot.Use(RecoveryMiddleware())
	a.bot.Handle("/standings", a.HandleStandings)

	a.wg.Add(1)
	go a.run()
	return a, nil
}

// SetStandings wires the /standings lookup after construction.
func (a *Announcer) SetStandings(s StandingsReader) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.standings = s
}

// Start starts polling for commands. It blocks until Stop.
func (a *Announcer) Start() {
	log.Info().Int64("chat_id", int64(a.chat)).Msg("Starting announcer bot...")
	a.polling.Store(true)
	a.bot.Start()
}

// Stop stops polling and drains queued announcements.
func (a *Announcer) Stop() {
	log.Info().Msg("Stopping announcer bot...")
	if a.polling.Load() {
		a.bot.Stop()
	}

	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Announcer) run() {
	defer a.wg.Done()
	for text := range a.queue {
		if _, err := a.bot.Send(a.chat, text); err != nil {
			log.Warn().Err(err).Int64("chat_id", int64(a.chat)).Msg("Failed to post announcement")
		}
	}
}

// SendRoom implements broadcast.Sink. Only settled rounds and finished games
// are announced; state messages refresh the player names used in them.
func (a *Announcer) SendRoom(_ context.Context, room string, msg broadcast.Message) error {
	var text string
	switch p := msg.Payload.(type) {
	case session.PublicView:
		a.remember(room, p.Players)
		return nil
	case session.RoundSettledPayload:
		text = a.formatRound(room, msg.Round, p)
	case session.SessionFinishedPayload:
		text = a.formatFinished(room, p)
	default:
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- text:
	default:
		log.Warn().Str("room", room).Str("type", msg.Type).Msg("Announcement queue full, dropping")
	}
	return nil
}

// SendPlayer implements broadcast.Sink. Private messages are never posted.
func (a *Announcer) SendPlayer(context.Context, string, string, broadcast.Message) error {
	return nil
}

// HandleStandings handles /standings <room>.
func (a *Announcer) HandleStandings(c tele.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("Usage: /standings <room code>")
	}
	a.mu.Lock()
	standings := a.standings
	a.mu.Unlock()
	if standings == nil {
		return c.Reply("Standings are not available")
	}

	code := strings.ToUpper(args[0])
	view, err := standings.PublicState(context.Background(), code)
	if err != nil {
		log.Debug().Err(err).Str("room", code).Msg("Standings lookup failed")
		return c.Reply(fmt.Sprintf("No game in room %s", code))
	}
	a.remember(code, view.Players)
	return c.Reply(a.formatStandings(code, view))
}

func (a *Announcer) remember(room string, players []session.PublicPlayer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make(map[string]string, len(players))
	for _, p := range players {
		names[p.ID] = p.Name
	}
	a.names[room] = names
}

// name resolves a ledger key: a player ID or a team key.
func (a *Announcer) name(room, key string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n, ok := a.names[room][key]; ok {
		return n
	}
	return key
}

func (a *Announcer) formatScores(room string, scores map[string]int, deltas map[string]int) string {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if scores[keys[i]] != scores[keys[j]] {
			return scores[keys[i]] > scores[keys[j]]
		}
		return keys[i] < keys[j]
	})

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %d", a.name(room, k), scores[k])
		if d, ok := deltas[k]; ok {
			fmt.Fprintf(&b, " (%+d)", d)
		}
	}
	return b.String()
}

func (a *Announcer) formatRound(room string, round int, p session.RoundSettledPayload) string {
	return fmt.Sprintf("Room %s, round %d settled%s", room, round, a.formatScores(room, p.Scores, p.Deltas))
}

func (a *Announcer) formatFinished(room string, p session.SessionFinishedPayload) string {
	winners := make([]string, len(p.Players))
	for i, id := range p.Players {
		winners[i] = a.name(room, id)
	}
	return fmt.Sprintf("Room %s: %s won with %d (%s)%s",
		room, a.name(room, p.Winner), p.FinalScore, strings.Join(winners, ", "), a.formatScores(room, p.Scores, nil))
}

func (a *Announcer) formatStandings(room string, v session.PublicView) string {
	header := fmt.Sprintf("Room %s, %s, round %d (%s)", room, v.Variant, v.Round, v.Phase)
	if v.Winner != nil {
		header += fmt.Sprintf(", won by %s", a.name(room, v.Winner.Winner))
	}
	return header + a.formatScores(room, v.Scores, nil)
}
