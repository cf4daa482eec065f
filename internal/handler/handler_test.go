package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trick-room-server/internal/game"
	"trick-room-server/internal/game/fourhundred"
	"trick-room-server/internal/game/spades"
	"trick-room-server/internal/model"
	"trick-room-server/internal/pkg/lock"
	"trick-room-server/internal/service"
	"trick-room-server/internal/session"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeRooms struct {
	room    *model.Room
	players []model.RoomPlayer
	err     error
	joined  string
	variant string
}

func (f *fakeRooms) CreateRoom(context.Context) (*model.Room, error) {
	return f.room, f.err
}

func (f *fakeRooms) Join(_ context.Context, code, name string) (*model.RoomPlayer, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.joined = name
	return &model.RoomPlayer{RoomCode: code, PlayerID: "pid-1", Name: name}, nil
}

func (f *fakeRooms) SelectVariant(_ context.Context, _ string, variantID string) error {
	f.variant = variantID
	return f.err
}

func (f *fakeRooms) Room(context.Context, string) (*model.Room, error) {
	return f.room, f.err
}

func (f *fakeRooms) Players(context.Context, string) ([]model.RoomPlayer, error) {
	return f.players, f.err
}

type fakeSessions struct {
	err      error
	lastCode string
	lastCmd  service.Command
	variant  string
	discards int
}

func (f *fakeSessions) StartSession(_ context.Context, code, variantID string) (*service.Result, error) {
	f.lastCode, f.variant = code, variantID
	if f.err != nil {
		return nil, f.err
	}
	return &service.Result{State: session.PublicView{RoomCode: code, Phase: session.PhaseBetting}}, nil
}

func (f *fakeSessions) Dispatch(_ context.Context, code string, cmd service.Command) (*service.Result, error) {
	f.lastCode, f.lastCmd = code, cmd
	if f.err != nil {
		return nil, f.err
	}
	return &service.Result{State: session.PublicView{RoomCode: code, Seq: 3}}, nil
}

func (f *fakeSessions) PublicState(_ context.Context, code string) (session.PublicView, error) {
	f.lastCode = code
	return session.PublicView{RoomCode: code, Phase: session.PhasePlaying}, f.err
}

func (f *fakeSessions) PlayerState(_ context.Context, code, playerID string) (session.PlayerView, error) {
	f.lastCode = code
	return session.PlayerView{PlayerID: playerID}, f.err
}

func (f *fakeSessions) Discard(_ context.Context, code string) error {
	f.lastCode = code
	f.discards++
	return f.err
}

type fakeSockets struct {
	served string
}

func (f *fakeSockets) ServeWS(w http.ResponseWriter, _ *http.Request, room, playerID string) {
	f.served = room + "/" + playerID
	w.WriteHeader(http.StatusSwitchingProtocols)
}

type fixture struct {
	rooms    *fakeRooms
	sessions *fakeSessions
	sockets  *fakeSockets
	router   http.Handler
}

func newFixture(t *testing.T, allowed func(string) bool) *fixture {
	t.Helper()
	reg := game.NewRegistry()
	require.NoError(t, reg.Register(fourhundred.New(nil)))
	require.NoError(t, reg.Register(spades.New(nil)))

	f := &fixture{
		rooms:    &fakeRooms{room: &model.Room{Code: "ROOM01", CreatedAt: time.Now()}},
		sessions: &fakeSessions{},
		sockets:  &fakeSockets{},
	}
	f.router = New(f.rooms, f.sessions, f.sockets, reg, nil).Routes(allowed)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

// ============================================================================
// Routes
// ============================================================================

func TestHealthAndVariants(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/variants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []game.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	assert.Len(t, infos, 2)
}

func TestHealth_Unavailable(t *testing.T) {
	reg := game.NewRegistry()
	h := New(&fakeRooms{}, &fakeSessions{}, nil, reg, func(context.Context) error { return errors.New("db down") })
	rec := httptest.NewRecorder()
	h.Routes(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRoomEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/rooms", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "ROOM01")

	rec = f.do(http.MethodPost, "/rooms/room01/players", `{"name":"Ann"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Ann", f.rooms.joined)

	rec = f.do(http.MethodPost, "/rooms/ROOM01/players", `{"name":"Ann","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/rooms/ROOM01/variant", `{"variant":"spades"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "spades", f.rooms.variant)

	f.rooms.players = []model.RoomPlayer{{PlayerID: "pid-1", Name: "Ann"}}
	rec = f.do(http.MethodGet, "/rooms/ROOM01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"players":[{`)
}

func TestSessionEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/rooms/room01/session", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ROOM01", f.sessions.lastCode)
	assert.Empty(t, f.sessions.variant)

	rec = f.do(http.MethodPost, "/rooms/ROOM01/session", `{"variant":"spades"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "spades", f.sessions.variant)

	rec = f.do(http.MethodGet, "/rooms/ROOM01/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view session.PublicView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, session.PhasePlaying, view.Phase)

	rec = f.do(http.MethodGet, "/rooms/ROOM01/session/players/pid-2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"playerId":"pid-2"`)

	rec = f.do(http.MethodDelete, "/rooms/ROOM01/session", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, f.sessions.discards)
}

func TestCommandEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/rooms/ROOM01/session/bets", `{"playerId":"p1","value":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.Command{Action: service.ActionPlaceBet, PlayerID: "p1", Value: 0}, f.sessions.lastCmd)

	rec = f.do(http.MethodPost, "/rooms/ROOM01/session/bets", `{"playerId":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorBody(t, rec), "value is required")

	rec = f.do(http.MethodPost, "/rooms/ROOM01/session/plays", `{"playerId":"p1","card":"10_of_hearts"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.sessions.lastCmd.Card)
	assert.Equal(t, "10_of_hearts", f.sessions.lastCmd.Card.String())

	rec = f.do(http.MethodPost, "/rooms/ROOM01/session/plays", `{"playerId":"p1","card":"11_of_hearts"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/rooms/ROOM01/session/skip", `{"playerId":"p1","reason":"p3 left"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ActionSkipRound, f.sessions.lastCmd.Action)
	assert.Equal(t, "p3 left", f.sessions.lastCmd.Reason)
}

func TestWebSocketRequiresMembership(t *testing.T) {
	f := newFixture(t, nil)
	f.rooms.players = []model.RoomPlayer{{PlayerID: "pid-1", Name: "Ann"}}

	rec := f.do(http.MethodGet, "/rooms/ROOM01/ws", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/rooms/ROOM01/ws?player=stranger", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.sockets.served)

	f.do(http.MethodGet, "/rooms/room01/ws?player=pid-1", "")
	assert.Equal(t, "ROOM01/pid-1", f.sockets.served)
}

func TestOriginAllowlist(t *testing.T) {
	f := newFixture(t, func(origin string) bool { return origin == "https://cards.example" })

	req := httptest.NewRequest(http.MethodGet, "/variants", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/variants", nil)
	req.Header.Set("Origin", "https://cards.example")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://cards.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/rooms/ROOM01/session/bets", nil)
	req.Header.Set("Origin", "https://cards.example")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Non-browser clients send no Origin.
	rec = f.do(http.MethodGet, "/variants", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ============================================================================
// Error mapping
// ============================================================================

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"not your turn", fmt.Errorf("%w: waiting for Bob to bet", session.ErrNotYourTurn), http.StatusConflict, "waiting for Bob to bet"},
		{"wrong phase", fmt.Errorf("%w: round is in betting", session.ErrInvalidPhase), http.StatusConflict, "round is in betting"},
		{"invalid bet", fmt.Errorf("%w: bet below minimum of 3", session.ErrInvalidBet), http.StatusBadRequest, "bet below minimum of 3"},
		{"invalid play", fmt.Errorf("%w: must follow suit: play hearts", session.ErrInvalidPlay), http.StatusBadRequest, "must follow suit"},
		{"player count", fmt.Errorf("%w: needs exactly 4 players, have 3", session.ErrInvalidPlayerCount), http.StatusBadRequest, "exactly 4 players"},
		{"unknown action", service.ErrUnknownAction, http.StatusBadRequest, "unknown action"},
		{"unknown variant", fmt.Errorf("%w: %q", game.ErrUnknownVariant, "go-fish"), http.StatusBadRequest, "go-fish"},
		{"room missing", service.ErrRoomNotFound, http.StatusNotFound, "room not found"},
		{"player missing", session.ErrPlayerNotFound, http.StatusNotFound, "player"},
		{"no variant", service.ErrNoVariantSelected, http.StatusPreconditionFailed, "no variant"},
		{"room full", service.ErrRoomFull, http.StatusConflict, "full"},
		{"lock timeout", lock.ErrLockTimeout, http.StatusServiceUnavailable, ""},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, ""},
		{"broken", fmt.Errorf("%w: %w", service.ErrSessionBroken, session.ErrInvariantViolation), http.StatusInternalServerError, "session discarded"},
		{"other", errors.New("pq: connection reset"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.sessions.err = tt.err

			rec := f.do(http.MethodPost, "/rooms/ROOM01/session/bets", `{"playerId":"p1","value":3}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, errorBody(t, rec), tt.body)
		})
	}
}
