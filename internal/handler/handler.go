// Package handler provides the HTTP and websocket API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"trick-room-server/internal/game"
	"trick-room-server/internal/game/card"
	"trick-room-server/internal/model"
	"trick-room-server/internal/service"
	"trick-room-server/internal/session"
)

const maxBodyBytes = 64 << 10

// Rooms is the room collaborator. *service.RoomService satisfies it.
type Rooms interface {
	CreateRoom(ctx context.Context) (*model.Room, error)
	Join(ctx context.Context, code, name string) (*model.RoomPlayer, error)
	SelectVariant(ctx context.Context, code, variantID string) error
	Room(ctx context.Context, code string) (*model.Room, error)
	Players(ctx context.Context, code string) ([]model.RoomPlayer, error)
}

// Sessions is the session manager. *service.SessionManager satisfies it.
type Sessions interface {
	StartSession(ctx context.Context, code, variantID string) (*service.Result, error)
	Dispatch(ctx context.Context, code string, cmd service.Command) (*service.Result, error)
	PublicState(ctx context.Context, code string) (session.PublicView, error)
	PlayerState(ctx context.Context, code, playerID string) (session.PlayerView, error)
	Discard(ctx context.Context, code string) error
}

// Sockets serves websocket connections. *broadcast.Hub satisfies it.
type Sockets interface {
	ServeWS(w http.ResponseWriter, r *http.Request, room, playerID string)
}

// HealthFunc reports whether storage is reachable.
type HealthFunc func(ctx context.Context) error

// Handler serves the API.
type Handler struct {
	rooms    Rooms
	sessions Sessions
	sockets  Sockets
	variants *game.Registry
	health   HealthFunc
}

// New creates a Handler. sockets and health may be nil.
func New(rooms Rooms, sessions Sessions, sockets Sockets, variants *game.Registry, health HealthFunc) *Handler {
	return &Handler{
		rooms:    rooms,
		sessions: sessions,
		sockets:  sockets,
		variants: variants,
		health:   health,
	}
}

// Routes builds the router. allowed decides which browser origins may call
// the API; nil allows every origin.
func (h *Handler) Routes(allowed func(origin string) bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger())
	r.Use(Recoverer())
	r.Use(OriginAllowlist(allowed))

	r.Get("/health", h.Health)
	r.Get("/variants", h.ListVariants)

	r.Post("/rooms", h.CreateRoom)
	r.Route("/rooms/{code}", func(r chi.Router) {
		r.Get("/", h.GetRoom)
		r.Post("/players", h.JoinRoom)
		r.Put("/variant", h.SelectVariant)
		r.Get("/ws", h.WebSocket)

		r.Route("/session", func(r chi.Router) {
			r.Post("/", h.StartSession)
			r.Get("/", h.GetSession)
			r.Delete("/", h.DiscardSession)
			r.Get("/players/{playerID}", h.GetPlayerSession)
			r.Post("/bets", h.PlaceBet)
			r.Post("/plays", h.PlayCard)
			r.Post("/skip", h.SkipRound)
		})
	})
	return r
}

func roomCode(r *http.Request) string {
	return strings.ToUpper(chi.URLParam(r, "code"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health(ctx); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListVariants handles GET /variants.
func (h *Handler) ListVariants(w http.ResponseWriter, _ *http.Request) {
	list := h.variants.List()
	infos := make([]game.Info, len(list))
	for i, d := range list {
		infos[i] = d.Info()
	}
	writeJSON(w, http.StatusOK, infos)
}

// CreateRoom handles POST /rooms.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.CreateRoom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

type roomResponse struct {
	*model.Room
	Players []model.RoomPlayer `json:"players"`
}

// GetRoom handles GET /rooms/{code}.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	code := roomCode(r)
	room, err := h.rooms.Room(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	players, err := h.rooms.Players(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if players == nil {
		players = []model.RoomPlayer{}
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: room, Players: players})
}

type joinRequest struct {
	Name string `json:"name"`
}

// JoinRoom handles POST /rooms/{code}/players.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	player, err := h.rooms.Join(r.Context(), roomCode(r), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, player)
}

type variantRequest struct {
	Variant string `json:"variant"`
}

// SelectVariant handles PUT /rooms/{code}/variant.
func (h *Handler) SelectVariant(w http.ResponseWriter, r *http.Request) {
	var req variantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.rooms.SelectVariant(r.Context(), roomCode(r), req.Variant); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartSession handles POST /rooms/{code}/session. The body is optional; an
// empty variant uses the room's selection.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req variantRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	res, err := h.sessions.StartSession(r.Context(), roomCode(r), req.Variant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetSession handles GET /rooms/{code}/session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.PublicState(r.Context(), roomCode(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetPlayerSession handles GET /rooms/{code}/session/players/{playerID}.
func (h *Handler) GetPlayerSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.PlayerState(r.Context(), roomCode(r), chi.URLParam(r, "playerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DiscardSession handles DELETE /rooms/{code}/session.
func (h *Handler) DiscardSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Discard(r.Context(), roomCode(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type betRequest struct {
	PlayerID string `json:"playerId"`
	Value    *int   `json:"value"`
}

// PlaceBet handles POST /rooms/{code}/session/bets.
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req betRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Value == nil {
		writeError(w, r, fmt.Errorf("%w: value is required", session.ErrInvalidBet))
		return
	}
	h.dispatch(w, r, service.Command{Action: service.ActionPlaceBet, PlayerID: req.PlayerID, Value: *req.Value})
}

type playRequest struct {
	PlayerID string     `json:"playerId"`
	Card     *card.Card `json:"card"`
}

// PlayCard handles POST /rooms/{code}/session/plays.
func (h *Handler) PlayCard(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.dispatch(w, r, service.Command{Action: service.ActionPlayCard, PlayerID: req.PlayerID, Card: req.Card})
}

type skipRequest struct {
	PlayerID string `json:"playerId"`
	Reason   string `json:"reason"`
}

// SkipRound handles POST /rooms/{code}/session/skip.
func (h *Handler) SkipRound(w http.ResponseWriter, r *http.Request) {
	var req skipRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.dispatch(w, r, service.Command{Action: service.ActionSkipRound, PlayerID: req.PlayerID, Reason: req.Reason})
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, cmd service.Command) {
	res, err := h.sessions.Dispatch(r.Context(), roomCode(r), cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// WebSocket handles GET /rooms/{code}/ws?player=ID.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.sockets == nil {
		writeError(w, r, errors.New("websocket transport disabled"))
		return
	}
	code := roomCode(r)
	playerID := r.URL.Query().Get("player")
	if playerID == "" {
		writeError(w, r, fmt.Errorf("%w: player query parameter is required", errBadRequest))
		return
	}

	players, err := h.rooms.Players(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for _, p := range players {
		if p.PlayerID == playerID {
			h.sockets.ServeWS(w, r, code, playerID)
			return
		}
	}
	writeError(w, r, fmt.Errorf("%w: %s is not in room %s", session.ErrPlayerNotFound, playerID, code))
}
