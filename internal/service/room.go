package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"trick-room-server/internal/game"
	"trick-room-server/internal/model"
	"trick-room-server/internal/repository"
	"trick-room-server/internal/session"
)

// Room-related errors.
var (
	ErrInvalidName = errors.New("invalid player name")
	ErrRoomFull    = errors.New("room is full")
)

const (
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	maxCodeAttempts = 10
)

// RoomStore is the persistence the room service needs.
// *repository.RoomRepository satisfies it.
type RoomStore interface {
	Create(ctx context.Context, code string) (*model.Room, error)
	Get(ctx context.Context, code string) (*model.Room, error)
	SetVariant(ctx context.Context, code, variantID string) error
	AddPlayer(ctx context.Context, code, playerID, name string, maxPlayers int) (*model.RoomPlayer, error)
	ListPlayers(ctx context.Context, code string) ([]model.RoomPlayer, error)
}

// RoomService handles room creation, joining and variant selection.
type RoomService struct {
	store    RoomStore
	variants *game.Registry
}

// NewRoomService creates a new RoomService instance.
func NewRoomService(store RoomStore, variants *game.Registry) *RoomService {
	return &RoomService{store: store, variants: variants}
}

// CreateRoom opens a room under a fresh random code.
func (s *RoomService) CreateRoom(ctx context.Context) (*model.Room, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := newRoomCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate room code: %w", err)
		}
		room, err := s.store.Create(ctx, code)
		if errors.Is(err, repository.ErrRoomExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Info().Str("room", code).Msg("Room created")
		return room, nil
	}
	return nil, fmt.Errorf("failed to create room: no free code after %d attempts", maxCodeAttempts)
}

// Join seats a new player in the room and returns the issued player ID.
func (s *RoomService) Join(ctx context.Context, code, name string) (*model.RoomPlayer, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > model.MaxNameLength {
		return nil, fmt.Errorf("%w: must be 1 to %d characters", ErrInvalidName, model.MaxNameLength)
	}

	player, err := s.store.AddPlayer(ctx, code, uuid.NewString(), name, model.MaxPlayersPerRoom)
	switch {
	case errors.Is(err, repository.ErrRoomNotFound):
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	case errors.Is(err, repository.ErrRoomFull):
		return nil, fmt.Errorf("%w: at most %d players", ErrRoomFull, model.MaxPlayersPerRoom)
	case err != nil:
		return nil, err
	}

	log.Info().Str("room", code).Str("player", player.PlayerID).Int("seat", player.Seat).Msg("Player joined")
	return player, nil
}

// SelectVariant records which game the room will play next.
func (s *RoomService) SelectVariant(ctx context.Context, code, variantID string) error {
	if _, err := s.variants.Lookup(variantID); err != nil {
		return err
	}
	if err := s.store.SetVariant(ctx, code, variantID); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
		}
		return err
	}
	return nil
}

// Room returns the room record.
func (s *RoomService) Room(ctx context.Context, code string) (*model.Room, error) {
	room, err := s.store.Get(ctx, code)
	if errors.Is(err, repository.ErrRoomNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	return room, err
}

// Players returns the room's players in seat order.
func (s *RoomService) Players(ctx context.Context, code string) ([]model.RoomPlayer, error) {
	if _, err := s.Room(ctx, code); err != nil {
		return nil, err
	}
	return s.store.ListPlayers(ctx, code)
}

// GetPlayers implements RoomDirectory.
func (s *RoomService) GetPlayers(ctx context.Context, code string) ([]session.PlayerInfo, error) {
	players, err := s.Players(ctx, code)
	if err != nil {
		return nil, err
	}
	out := make([]session.PlayerInfo, len(players))
	for i, p := range players {
		out[i] = session.PlayerInfo{ID: p.PlayerID, Name: p.Name}
	}
	return out, nil
}

// GetSelectedVariant implements RoomDirectory.
func (s *RoomService) GetSelectedVariant(ctx context.Context, code string) (string, error) {
	room, err := s.Room(ctx, code)
	if err != nil {
		return "", err
	}
	return room.VariantID, nil
}

func newRoomCode() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < model.RoomCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
