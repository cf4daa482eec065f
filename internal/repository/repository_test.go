// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"fmt"
	"math/rand"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"trick-room-server/internal/game"
	"trick-room-server/internal/game/fourhundred"
	"trick-room-server/internal/pkg/db"
	"trick-room-server/internal/session"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a migrated connection pool.
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// ============================================================================
// RoomRepository Tests
// ============================================================================

func TestRoomRepository_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRoomRepository(pool)
	ctx := context.Background()

	room, err := repo.Create(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF", room.Code)
	assert.Empty(t, room.VariantID)
	assert.False(t, room.CreatedAt.IsZero())

	_, err = repo.Create(ctx, "ABCDEF")
	assert.ErrorIs(t, err, ErrRoomExists)

	got, err := repo.Get(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, room.Code, got.Code)

	_, err = repo.Get(ctx, "NOPE00")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomRepository_SetVariant(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRoomRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, "ROOM01")
	require.NoError(t, err)

	require.NoError(t, repo.SetVariant(ctx, "ROOM01", fourhundred.ID))
	room, err := repo.Get(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, fourhundred.ID, room.VariantID)

	assert.ErrorIs(t, repo.SetVariant(ctx, "NOPE00", fourhundred.ID), ErrRoomNotFound)
}

func TestRoomRepository_AddPlayer(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRoomRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, "ROOM01")
	require.NoError(t, err)

	p1, err := repo.AddPlayer(ctx, "ROOM01", "id-1", "Ann", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, p1.Seat)

	again, err := repo.AddPlayer(ctx, "ROOM01", "id-1", "Ann", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Seat, "joining twice keeps the seat")

	p2, err := repo.AddPlayer(ctx, "ROOM01", "id-2", "Bob", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, p2.Seat)

	_, err = repo.AddPlayer(ctx, "ROOM01", "id-3", "Cat", 2)
	assert.ErrorIs(t, err, ErrRoomFull)

	_, err = repo.AddPlayer(ctx, "NOPE00", "id-1", "Ann", 2)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	players, err := repo.ListPlayers(ctx, "ROOM01")
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, "Ann", players[0].Name)
	assert.Equal(t, "Bob", players[1].Name)
}

func TestRoomRepository_ConcurrentJoinsGetDistinctSeats(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRoomRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, "RACE01")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.AddPlayer(ctx, "RACE01", fmt.Sprintf("id-%d", i), fmt.Sprintf("P%d", i), 10)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	players, err := repo.ListPlayers(ctx, "RACE01")
	require.NoError(t, err)
	require.Len(t, players, 8)
	for i, p := range players {
		assert.Equal(t, i, p.Seat)
	}
}

// ============================================================================
// SnapshotRepository Tests
// ============================================================================

func startedSession(t *testing.T, code string) *session.Session {
	t.Helper()
	players := []session.PlayerInfo{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}, {ID: "c", Name: "C"}, {ID: "d", Name: "D"}}
	s, err := session.New(code, fourhundred.New(nil), players, session.WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	_, err = s.Start()
	require.NoError(t, err)
	return s
}

func TestSnapshotRepository_SaveLoadDelete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	rooms := NewRoomRepository(pool)
	repo := NewSnapshotRepository(pool)
	ctx := context.Background()

	_, err := rooms.Create(ctx, "SNAP01")
	require.NoError(t, err)

	_, err = repo.Load(ctx, "SNAP01")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	s := startedSession(t, "SNAP01")
	_, err = s.PlaceBet("a", 3)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s.Snapshot()))

	row, err := repo.Get(ctx, "SNAP01")
	require.NoError(t, err)
	assert.Equal(t, s.ID().String(), row.SessionID)
	assert.Equal(t, string(session.PhaseBetting), row.Phase)
	assert.Equal(t, int64(s.Seq()), row.Seq)

	loaded, err := repo.Load(ctx, "SNAP01")
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), loaded)

	reg := game.NewRegistry()
	require.NoError(t, reg.Register(fourhundred.New(nil)))
	restored, err := session.Restore(loaded, reg)
	require.NoError(t, err)
	assert.Equal(t, s.PublicView(), restored.PublicView())

	require.NoError(t, repo.Delete(ctx, "SNAP01"))
	_, err = repo.Load(ctx, "SNAP01")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	assert.NoError(t, repo.Delete(ctx, "SNAP01"))
}

func TestSnapshotRepository_IgnoresStaleWrites(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	rooms := NewRoomRepository(pool)
	repo := NewSnapshotRepository(pool)
	ctx := context.Background()

	_, err := rooms.Create(ctx, "SNAP02")
	require.NoError(t, err)

	s := startedSession(t, "SNAP02")
	old := s.Snapshot()
	_, err = s.PlaceBet("a", 3)
	require.NoError(t, err)
	newer := s.Snapshot()

	require.NoError(t, repo.Save(ctx, newer))
	require.NoError(t, repo.Save(ctx, old))

	row, err := repo.Get(ctx, "SNAP02")
	require.NoError(t, err)
	assert.Equal(t, int64(newer.Seq), row.Seq)

	// A new session for the same room replaces the old one whatever its sequence.
	fresh := startedSession(t, "SNAP02")
	require.NoError(t, repo.Save(ctx, fresh.Snapshot()))
	row, err = repo.Get(ctx, "SNAP02")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID().String(), row.SessionID)
}
