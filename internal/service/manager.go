package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"trick-room-server/internal/game"
	"trick-room-server/internal/pkg/lock"
	"trick-room-server/internal/repository"
	"trick-room-server/internal/session"
)

// ManagerConfig tunes the session manager.
type ManagerConfig struct {
	// CommandTimeout bounds how long a caller waits for its command to run.
	CommandTimeout time.Duration
	// LockTimeout bounds how long a caller waits to build a room's session.
	LockTimeout time.Duration
	// QueueSize is the per-room command buffer.
	QueueSize int
	// SessionOptions are passed to every new or restored session.
	SessionOptions []session.Option
}

// Dependencies bundles the manager's collaborators. Snapshots, Writer and
// Publisher are optional.
type Dependencies struct {
	Variants  *game.Registry
	Rooms     RoomDirectory
	Snapshots SnapshotLoader
	Writer    SnapshotWriter
	Publisher Publisher
}

// SessionManager maps room codes to sessions. Every room gets one goroutine
// that applies its commands one at a time in arrival order; rooms never wait
// on each other.
type SessionManager struct {
	deps  Dependencies
	cfg   ManagerConfig
	locks *lock.KeyLock

	mu     sync.RWMutex
	rooms  map[string]*room
	closed bool
	wg     sync.WaitGroup
}

// NewSessionManager creates a new SessionManager instance.
func NewSessionManager(deps Dependencies, cfg ManagerConfig) *SessionManager {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 3 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	return &SessionManager{
		deps:  deps,
		cfg:   cfg,
		locks: lock.NewKeyLock(),
		rooms: make(map[string]*room),
	}
}

// room is the actor owning one session. sess and dead are only touched by the
// room goroutine. A live room always has a session.
type room struct {
	code  string
	sess  *session.Session
	dead  bool
	inbox chan job
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

type job struct {
	ctx     context.Context
	fn      func(r *room) error
	started chan struct{}
	reply   chan error
}

func (m *SessionManager) run(r *room) {
	defer close(r.done)
	defer r.drain()
	for {
		select {
		case <-r.quit:
			return
		case j := <-r.inbox:
			select {
			case <-r.quit:
				j.reply <- ErrRoomClosed
				return
			default:
			}

			close(j.started)
			if err := j.ctx.Err(); err != nil {
				j.reply <- err
				continue
			}
			err := r.apply(j)
			if errors.Is(err, session.ErrInvariantViolation) {
				log.Error().Err(err).Str("room", r.code).Msg("Session invariant violated, discarding session")
				m.retire(r)
				err = fmt.Errorf("%w: %w", ErrSessionBroken, err)
			}
			j.reply <- err
		}
	}
}

func (r *room) apply(j job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", session.ErrInvariantViolation, p)
		}
	}()
	return j.fn(r)
}

// drain fails every job still queued once the room has stopped.
func (r *room) drain() {
	for {
		select {
		case j := <-r.inbox:
			j.reply <- ErrRoomClosed
		default:
			return
		}
	}
}

func (r *room) stop() {
	r.once.Do(func() { close(r.quit) })
}

// do runs fn on the room goroutine and waits for it. A job that has started
// runs to completion, and its outcome is reported even if ctx expires first.
func (r *room) do(ctx context.Context, fn func(r *room) error) error {
	j := job{ctx: ctx, fn: fn, started: make(chan struct{}), reply: make(chan error, 1)}
	select {
	case r.inbox <- j:
	case <-r.quit:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.reply:
		return err
	case <-r.done:
		return r.settle(j)
	case <-ctx.Done():
	}
	select {
	case <-j.started:
	default:
		// The room checks ctx before starting, so this job will be skipped.
		return ctx.Err()
	}
	select {
	case err := <-j.reply:
		return err
	case <-r.done:
		return r.settle(j)
	}
}

// settle reads j's reply after the room goroutine exited. Replies are sent
// before done is closed, so a missing one means the job never ran.
func (r *room) settle(j job) error {
	select {
	case err := <-j.reply:
		return err
	default:
		return ErrRoomClosed
	}
}

func (m *SessionManager) lookup(code string) (*room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	return m.rooms[code], nil
}

// builder makes the session a new room actor starts with when storage has none.
type builder func(ctx context.Context) (*session.Session, error)

// lobby builds a lobby session for the room's selected variant.
func (m *SessionManager) lobby(code string) builder {
	return func(ctx context.Context) (*session.Session, error) {
		return m.fresh(ctx, code, "")
	}
}

// room returns the actor for code, starting one if needed. A new actor is
// seeded from the newest snapshot, or from build when there is none. No actor
// is started for a room that cannot produce a session.
func (m *SessionManager) room(ctx context.Context, code string, build builder) (*room, error) {
	r, err := m.lookup(code)
	if err != nil || r != nil {
		return r, err
	}

	err = m.locks.WithLockContext(ctx, code, m.cfg.LockTimeout, func() error {
		existing, err := m.lookup(code)
		if err != nil || existing != nil {
			r = existing
			return err
		}

		sess := m.restore(ctx, code)
		restored := sess != nil
		if !restored {
			if sess, err = build(ctx); err != nil {
				return err
			}
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return ErrManagerClosed
		}
		r = &room{
			code:  code,
			sess:  sess,
			inbox: make(chan job, m.cfg.QueueSize),
			quit:  make(chan struct{}),
			done:  make(chan struct{}),
		}
		m.rooms[code] = r
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.run(r)
		}()
		log.Debug().Str("room", code).Bool("restored", restored).Msg("Room actor started")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// restore loads the room's newest snapshot: a write still queued in the
// writer wins over storage. Storage is best effort: any failure is logged and
// the room starts without one.
func (m *SessionManager) restore(ctx context.Context, code string) *session.Session {
	snap, err := m.latest(ctx, code)
	if err != nil {
		if !errors.Is(err, repository.ErrSnapshotNotFound) {
			log.Warn().Err(err).Str("room", code).Msg("Failed to load session snapshot")
		}
		return nil
	}
	sess, err := session.Restore(snap, m.deps.Variants, m.cfg.SessionOptions...)
	if err != nil {
		log.Warn().Err(err).Str("room", code).Msg("Discarding unusable session snapshot")
		return nil
	}
	log.Info().
		Str("room", code).
		Str("variant", snap.VariantID).
		Str("phase", string(snap.Phase)).
		Uint64("seq", snap.Seq).
		Msg("Session restored from snapshot")
	return sess
}

func (m *SessionManager) latest(ctx context.Context, code string) (*session.Snapshot, error) {
	if m.deps.Writer != nil {
		if snap, ok := m.deps.Writer.Latest(code); ok {
			if snap == nil {
				return nil, repository.ErrSnapshotNotFound
			}
			return snap, nil
		}
	}
	if m.deps.Snapshots == nil {
		return nil, repository.ErrSnapshotNotFound
	}
	return m.deps.Snapshots.Load(ctx, code)
}

// fresh builds a lobby session from the room's current players and variant.
func (m *SessionManager) fresh(ctx context.Context, code, variantID string) (*session.Session, error) {
	if variantID == "" {
		selected, err := m.deps.Rooms.GetSelectedVariant(ctx, code)
		if err != nil {
			return nil, err
		}
		if selected == "" {
			return nil, fmt.Errorf("%w: pick a game for room %s first", ErrNoVariantSelected, code)
		}
		variantID = selected
	}
	variant, err := m.deps.Variants.Lookup(variantID)
	if err != nil {
		return nil, err
	}
	players, err := m.deps.Rooms.GetPlayers(ctx, code)
	if err != nil {
		return nil, err
	}
	return session.New(code, variant, players, m.cfg.SessionOptions...)
}

// exec runs fn on the room's actor. A job turned away because the actor was
// retired under it is tried once more against the room's next actor.
func (m *SessionManager) exec(ctx context.Context, code string, build builder, fn func(r *room) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		r, err := m.room(ctx, code, build)
		if err != nil {
			return err
		}
		err = r.do(ctx, fn)
		if errors.Is(err, ErrRoomClosed) && attempt == 0 {
			continue
		}
		return err
	}
}

// retire ends the room's session and schedules its snapshot for deletion. It
// runs on the room goroutine, so no later job can see the session.
func (m *SessionManager) retire(r *room) {
	r.sess = nil
	r.dead = true

	m.mu.Lock()
	if m.rooms[r.code] == r {
		delete(m.rooms, r.code)
	}
	m.mu.Unlock()

	r.stop()
	if m.deps.Writer != nil {
		m.deps.Writer.EnqueueDelete(r.code)
	}
}

// commit publishes the events of a successful command and hands a snapshot to
// the writer. Publishing happens before the caller sees success.
func (m *SessionManager) commit(ctx context.Context, r *room, events []session.Event) *Result {
	if r.dead {
		return &Result{Events: events}
	}
	public := r.sess.PublicView()
	res := &Result{Events: events, State: public}
	if len(events) == 0 {
		return res
	}

	if m.deps.Publisher != nil {
		batch := Batch{
			RoomCode: r.code,
			Events:   events,
			Public:   public,
			Private:  make(map[string]session.PlayerView),
		}
		for _, id := range r.sess.PlayerIDs() {
			if view, err := r.sess.PlayerView(id); err == nil {
				batch.Private[id] = view
			}
		}
		if err := m.deps.Publisher.Publish(ctx, batch); err != nil {
			log.Warn().Err(err).Str("room", r.code).Uint64("seq", r.sess.Seq()).Msg("Broadcast incomplete")
		}
	}
	if m.deps.Writer != nil {
		m.deps.Writer.Enqueue(r.sess.Snapshot())
	}
	return res
}

// GetOrCreate returns the room's session view, building the session if needed:
// from memory, then from the newest snapshot, then fresh in the lobby.
// Concurrent callers always share one session per room.
func (m *SessionManager) GetOrCreate(ctx context.Context, code string) (session.PublicView, error) {
	var view session.PublicView
	err := m.exec(ctx, code, m.lobby(code), func(r *room) error {
		view = r.sess.PublicView()
		return nil
	})
	return view, err
}

// StartSession deals the first round. An empty variantID uses the room's
// selection. A finished session is replaced by a fresh one ("play again"), as
// is a lobby session; a game in progress is left alone.
func (m *SessionManager) StartSession(ctx context.Context, code, variantID string) (*Result, error) {
	var (
		res   *Result
		built *session.Session
	)
	build := func(ctx context.Context) (*session.Session, error) {
		sess, err := m.fresh(ctx, code, variantID)
		built = sess
		return sess, err
	}

	err := m.exec(ctx, code, build, func(r *room) error {
		switch r.sess.Phase() {
		case session.PhaseBetting, session.PhasePlaying, session.PhaseRoundSettling:
			return fmt.Errorf("%w: a game is already in progress in room %s", session.ErrInvalidPhase, code)
		}

		// The actor may have been started with exactly this lobby session.
		sess := r.sess
		if sess != built {
			var err error
			if sess, err = m.fresh(ctx, code, variantID); err != nil {
				return err
			}
		}
		events, err := sess.Start()
		if err != nil {
			return err
		}
		r.sess = sess

		log.Info().
			Str("room", code).
			Str("variant", sess.Variant().ID).
			Str("session", sess.ID().String()).
			Int("players", len(sess.PlayerIDs())).
			Msg("Session started")
		res = m.commit(ctx, r, events)
		return nil
	})
	return res, err
}

// Dispatch applies one command to the room's session.
func (m *SessionManager) Dispatch(ctx context.Context, code string, cmd Command) (*Result, error) {
	var res *Result
	err := m.exec(ctx, code, m.lobby(code), func(r *room) error {
		var (
			events []session.Event
			err    error
		)
		switch cmd.Action {
		case ActionPlaceBet:
			events, err = r.sess.PlaceBet(cmd.PlayerID, cmd.Value)
		case ActionPlayCard:
			if cmd.Card == nil {
				return fmt.Errorf("%w: no card given", session.ErrInvalidPlay)
			}
			events, err = r.sess.PlayCard(cmd.PlayerID, *cmd.Card)
		case ActionSkipRound:
			if !r.sess.HasPlayer(cmd.PlayerID) {
				return fmt.Errorf("%w: %s", session.ErrPlayerNotFound, cmd.PlayerID)
			}
			events, err = r.sess.SkipRound(cmd.Reason)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
		}
		if err != nil {
			if session.IsValidation(err) {
				log.Debug().Err(err).Str("room", code).Str("player", cmd.PlayerID).Str("action", string(cmd.Action)).Msg("Command rejected")
			}
			return err
		}

		res = m.commit(ctx, r, events)
		if r.sess.Phase() == session.PhaseFinished {
			win := r.sess.Winner()
			log.Info().Str("room", code).Str("winner", win.Winner).Int("score", win.FinalScore).Msg("Session finished")
		}
		return nil
	})
	return res, err
}

// PublicState returns the room-wide view.
func (m *SessionManager) PublicState(ctx context.Context, code string) (session.PublicView, error) {
	return m.GetOrCreate(ctx, code)
}

// PlayerState returns playerID's private view.
func (m *SessionManager) PlayerState(ctx context.Context, code, playerID string) (session.PlayerView, error) {
	var view session.PlayerView
	err := m.exec(ctx, code, m.lobby(code), func(r *room) error {
		v, err := r.sess.PlayerView(playerID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	return view, err
}

// Discard ends the room's session and deletes its snapshot. It queues behind
// the room's pending commands; commands queued after it are turned away and
// retried against a new lobby session. Discarding a room without a session is
// a no-op apart from the delete.
func (m *SessionManager) Discard(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()

	// Holding the key lock keeps a new actor from starting before the
	// delete is queued.
	err := m.locks.WithLockContext(ctx, code, m.cfg.LockTimeout, func() error {
		r, err := m.lookup(code)
		if err != nil {
			return err
		}
		if r == nil {
			if m.deps.Writer != nil {
				m.deps.Writer.EnqueueDelete(code)
			}
			return nil
		}
		err = r.do(ctx, func(r *room) error {
			m.retire(r)
			return nil
		})
		if errors.Is(err, ErrRoomClosed) {
			// Retired already, or the manager is shutting down.
			_, err = m.lookup(code)
		}
		return err
	})
	if err != nil {
		return err
	}
	log.Info().Str("room", code).Msg("Session discarded")
	return nil
}

// Active returns the number of rooms with a running actor.
func (m *SessionManager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Close stops every room and waits for their goroutines. Commands already
// running finish; queued ones fail with ErrRoomClosed.
func (m *SessionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	rooms := m.rooms
	m.rooms = make(map[string]*room)
	m.mu.Unlock()

	for _, r := range rooms {
		r.stop()
	}
	m.wg.Wait()
	log.Info().Int("rooms", len(rooms)).Int("pending_locks", m.locks.Len()).Msg("Session manager closed")
}
