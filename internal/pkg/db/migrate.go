package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "rooms table",
		sql: `
			CREATE TABLE IF NOT EXISTS rooms (
				code VARCHAR(16) PRIMARY KEY,
				variant_id VARCHAR(64) NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "room_players table",
		sql: `
			CREATE TABLE IF NOT EXISTS room_players (
				room_code VARCHAR(16) NOT NULL REFERENCES rooms(code) ON DELETE CASCADE,
				player_id VARCHAR(64) NOT NULL,
				name VARCHAR(64) NOT NULL,
				seat INT NOT NULL,
				joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (room_code, player_id),
				UNIQUE (room_code, seat)
			);
		`,
	},
	{
		name: "session_snapshots table",
		sql: `
			CREATE TABLE IF NOT EXISTS session_snapshots (
				room_code VARCHAR(16) PRIMARY KEY REFERENCES rooms(code) ON DELETE CASCADE,
				session_id UUID NOT NULL,
				variant_id VARCHAR(64) NOT NULL,
				phase VARCHAR(32) NOT NULL,
				round INT NOT NULL,
				seq BIGINT NOT NULL,
				state JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_session_snapshots_updated ON session_snapshots(updated_at DESC);
		`,
	},
}

// Migrate creates the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Int("migration", i+1).Msg(m.name + " created")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
