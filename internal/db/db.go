// Package db provides a pgxpool-based connection pool with prepared statement
// registration, health checking and the embedded reference schema.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/huddle/internal/config"
)

// NotifyChannel is the LISTEN channel the schema triggers publish on.
const NotifyChannel = "document_changed"

// StoredChangeSQL reads back a game change whose rows did not fit in the
// NOTIFY payload. It runs on the listener's own connection, which has no
// prepared statements.
const StoredChangeSQL = "SELECT old_row, new_row FROM game_changes WHERE event_id = $1"

//go:embed schema.sql
var schemaSQL string

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// Schema returns the embedded reference schema.
func Schema() string {
	return schemaSQL
}

// Migrate applies the reference schema on a plain connection. Prepared
// statements reference the tables, so this must run before New on a fresh
// database.
func Migrate(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const gameColumns = "id, team_id, date_time, is_active, confirmations, reminder24_sent, reminder2h_sent, reminder1_sent"

// registerPreparedStatements registers every statement the Postgres store
// uses. Prepared statements eliminate parse overhead on every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Point reads
		"user_by_id":    "SELECT id, fcm_tokens, preferences FROM users WHERE id = $1",
		"team_by_id":    "SELECT id, name, member_ids, admin_id FROM teams WHERE id = $1",
		"game_by_id":    "SELECT " + gameColumns + " FROM games WHERE id = $1",
		"message_by_id": "SELECT team_id, id, sender_id, text FROM messages WHERE team_id = $1 AND id = $2",

		// Reminder window queries
		"due_games": "SELECT " + gameColumns + ` FROM games
			WHERE is_active AND date_time >= $1 AND date_time < $2
			ORDER BY date_time, id`,
		"due_games_unsent": "SELECT " + gameColumns + ` FROM games
			WHERE is_active AND date_time >= $1 AND date_time < $2
			  AND NOT CASE $3::text
			      WHEN 'reminder24Sent' THEN reminder24_sent
			      WHEN 'reminder2hSent' THEN reminder2h_sent
			      WHEN 'reminder1Sent'  THEN reminder1_sent
			  END
			ORDER BY date_time, id`,

		// Reminder flags: each touches only its own column
		"mark_reminder24": "UPDATE games SET reminder24_sent = TRUE, updated_at = NOW() WHERE id = $1",
		"mark_reminder2h": "UPDATE games SET reminder2h_sent = TRUE, updated_at = NOW() WHERE id = $1",
		"mark_reminder1":  "UPDATE games SET reminder1_sent = TRUE, updated_at = NOW() WHERE id = $1",

		// Token pruning
		"prune_tokens": `UPDATE users
			SET fcm_tokens = ARRAY(SELECT t FROM unnest(fcm_tokens) AS t WHERE t <> ALL($1::text[])),
			    updated_at = NOW()
			WHERE fcm_tokens && $1::text[]`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
