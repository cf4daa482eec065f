// Package persistence mirrors session snapshots to durable storage in the
// background. Gameplay never waits for it: Enqueue returns immediately, the
// latest snapshot per room wins, and failed writes are retried with
// exponential backoff until they succeed or the retry budget runs out.
package persistence

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"trick-room-server/internal/session"
)

// ErrWriterClosed is returned by Flush after Close.
var ErrWriterClosed = errors.New("persistence writer closed")

// Store is the durable side. *repository.SnapshotRepository satisfies it.
type Store interface {
	Save(ctx context.Context, snap *session.Snapshot) error
	Delete(ctx context.Context, roomCode string) error
}

// Config tunes the writer.
type Config struct {
	Workers         int
	WriteTimeout    time.Duration
	MaxRetryElapsed time.Duration
	InitialInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxRetryElapsed <= 0 {
		c.MaxRetryElapsed = time.Minute
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	return c
}

type op struct {
	code string
	snap *session.Snapshot // nil means delete
}

// shard owns a subset of rooms. One worker drains it, so writes for a room
// happen in enqueue order.
type shard struct {
	mu      sync.Mutex
	pending map[string]op
	order   []string
	current *op // being written
	wake    chan struct{}
}

func (s *shard) put(o op) (added bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[o.code]; !ok {
		s.order = append(s.order, o.code)
		added = true
	}
	s.pending[o.code] = o

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return added
}

func (s *shard) next() (op, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return op{}, false
	}
	code := s.order[0]
	s.order = s.order[1:]
	o := s.pending[code]
	delete(s.pending, code)
	s.current = &o
	return o, true
}

func (s *shard) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

func (s *shard) latest(code string) (op, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.pending[code]; ok {
		return o, true
	}
	if s.current != nil && s.current.code == code {
		return *s.current, true
	}
	return op{}, false
}

// Writer is the asynchronous snapshot writer.
type Writer struct {
	store  Store
	cfg    Config
	shards []*shard

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	outstanding atomic.Int64
	failures    atomic.Int64
	closed      atomic.Bool
}

// NewWriter starts cfg.Workers background workers.
func NewWriter(store Store, cfg Config) *Writer {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	w := &Writer{
		store:  store,
		cfg:    cfg,
		shards: make([]*shard, cfg.Workers),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := range w.shards {
		sh := &shard{pending: make(map[string]op), wake: make(chan struct{}, 1)}
		w.shards[i] = sh
		w.wg.Add(1)
		go w.run(sh)
	}
	return w
}

// Enqueue schedules a save. A snapshot still waiting for its room is replaced.
func (w *Writer) Enqueue(snap *session.Snapshot) {
	if snap == nil {
		return
	}
	w.put(op{code: snap.RoomCode, snap: snap})
}

// EnqueueDelete schedules removal of a room's snapshot.
func (w *Writer) EnqueueDelete(roomCode string) {
	w.put(op{code: roomCode})
}

func (w *Writer) put(o op) {
	if w.closed.Load() {
		log.Warn().Str("room", o.code).Msg("Persistence writer closed, dropping snapshot")
		return
	}
	// Count first so Flush never observes a queued write as done.
	w.outstanding.Add(1)
	if !w.shardFor(o.code).put(o) {
		w.outstanding.Add(-1)
	}
}

// Latest reports the newest write for roomCode that storage may not reflect
// yet. ok is false when nothing is queued or in flight for the room; a nil
// snapshot with ok set means the room's snapshot is being deleted.
func (w *Writer) Latest(roomCode string) (snap *session.Snapshot, ok bool) {
	o, ok := w.shardFor(roomCode).latest(roomCode)
	return o.snap, ok
}

// Pending returns the number of rooms with an unwritten snapshot.
func (w *Writer) Pending() int {
	return int(w.outstanding.Load())
}

// Failures returns how many writes were abandoned after exhausting retries.
func (w *Writer) Failures() int64 {
	return w.failures.Load()
}

// Flush waits until everything enqueued so far has been written or abandoned.
func (w *Writer) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for w.outstanding.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.ctx.Done():
			return ErrWriterClosed
		case <-ticker.C:
		}
	}
	return nil
}

// Close drains pending writes until ctx is done, then stops the workers.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed.Swap(true) {
		return nil
	}
	err := w.Flush(ctx)
	w.cancel()
	w.wg.Wait()
	return err
}

func (w *Writer) shardFor(code string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(code))
	return w.shards[h.Sum32()%uint32(len(w.shards))]
}

func (w *Writer) run(sh *shard) {
	defer w.wg.Done()

	for {
		o, ok := sh.next()
		if !ok {
			select {
			case <-sh.wake:
				continue
			case <-w.ctx.Done():
				return
			}
		}
		w.write(o)
		sh.finish()
		w.outstanding.Add(-1)
	}
}

func (w *Writer) write(o op) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialInterval
	b.MaxElapsedTime = w.cfg.MaxRetryElapsed

	attempt := func() error {
		ctx, cancel := context.WithTimeout(w.ctx, w.cfg.WriteTimeout)
		defer cancel()
		if o.snap == nil {
			return w.store.Delete(ctx, o.code)
		}
		return w.store.Save(ctx, o.snap)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Str("room", o.code).
			Dur("retry_in", wait).
			Msg("Snapshot write failed, retrying")
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(b, w.ctx), notify); err != nil {
		w.failures.Add(1)
		ev := log.Error().Err(err).Str("room", o.code).Bool("delete", o.snap == nil)
		if o.snap != nil {
			ev = ev.Uint64("seq", o.snap.Seq)
		}
		ev.Msg("Persistence write failure, giving up")
	}
}
