package broadcast

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trick-room-server/internal/game/fourhundred"
	"trick-room-server/internal/service"
	"trick-room-server/internal/session"
)

type sent struct {
	player string // "" for room-wide
	msg    Message
}

type recordingSink struct {
	mu   sync.Mutex
	out  []sent
	fail error
}

func (s *recordingSink) SendRoom(_ context.Context, _ string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, sent{msg: msg})
	return s.fail
}

func (s *recordingSink) SendPlayer(_ context.Context, _ string, playerID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, sent{player: playerID, msg: msg})
	return nil
}

func (s *recordingSink) public() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.out {
		if m.player == "" {
			out = append(out, m.msg)
		}
	}
	return out
}

func (s *recordingSink) private(playerID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.out {
		if m.player == playerID {
			out = append(out, m.msg)
		}
	}
	return out
}

func startBatch(t *testing.T) (service.Batch, *session.Session) {
	t.Helper()
	players := []session.PlayerInfo{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}, {ID: "c", Name: "C"}, {ID: "d", Name: "D"}}
	s, err := session.New("ROOM01", fourhundred.New(nil), players, session.WithRand(rand.New(rand.NewSource(5))))
	require.NoError(t, err)
	events, err := s.Start()
	require.NoError(t, err)

	batch := service.Batch{RoomCode: "ROOM01", Events: events, Public: s.PublicView(), Private: make(map[string]session.PlayerView)}
	for _, id := range s.PlayerIDs() {
		v, err := s.PlayerView(id)
		require.NoError(t, err)
		batch.Private[id] = v
	}
	return batch, s
}

func TestGateway_HandsOnlyReachTheirOwner(t *testing.T) {
	sink := &recordingSink{}
	batch, s := startBatch(t)

	require.NoError(t, NewGateway(sink).Publish(context.Background(), batch))

	public := sink.public()
	require.Len(t, public, 2)
	assert.Equal(t, string(session.EventRoundStarted), public[0].Type)
	payload := public[0].Payload.(session.RoundStartedPayload)
	assert.Nil(t, payload.Hands)
	assert.Equal(t, TypeState, public[1].Type)

	// The event carried the hands before publishing; stripping must not alter it.
	assert.Len(t, batch.Events[0].Payload.(session.RoundStartedPayload).Hands, 4)

	for _, id := range s.PlayerIDs() {
		private := sink.private(id)
		require.Len(t, private, 2)
		assert.Equal(t, TypeHandDealt, private[0].Type)
		want, _ := s.PlayerView(id)
		assert.Equal(t, want.Hand, private[0].Payload.(HandDealtPayload).Hand)
		assert.Equal(t, TypePlayerState, private[1].Type)
		assert.Equal(t, id, private[1].Payload.(session.PlayerView).PlayerID)
	}
}

func TestGateway_EventsInOrder(t *testing.T) {
	sink := &recordingSink{}
	_, s := startBatch(t)

	id := s.PublicView().TurnPlayerID
	events, err := s.PlaceBet(id, 3)
	require.NoError(t, err)

	batch := service.Batch{RoomCode: "ROOM01", Events: events, Public: s.PublicView()}
	require.NoError(t, NewGateway(sink).Publish(context.Background(), batch))

	public := sink.public()
	require.Len(t, public, 2)
	assert.Equal(t, string(session.EventBetPlaced), public[0].Type)
	assert.Equal(t, events[0].Seq, public[0].Seq)
	assert.Equal(t, s.Seq(), public[1].Seq)
}

func TestGateway_ContinuesPastFailingSink(t *testing.T) {
	broken := &recordingSink{fail: errors.New("socket closed")}
	healthy := &recordingSink{}
	batch, _ := startBatch(t)

	err := NewGateway(broken, nil, healthy).Publish(context.Background(), batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket closed")

	assert.Len(t, healthy.public(), 2)
	assert.Len(t, healthy.private("a"), 2)
}
