package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/huddle/internal/db"
	"github.com/albapepper/huddle/internal/store"
	"github.com/albapepper/huddle/internal/store/postgres"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// PGChange is the JSON payload from pg_notify('document_changed', ...).
// Stored changes carry no rows; see LoadStoredRows.
type PGChange struct {
	EventID    string            `json:"event_id"`
	Op         string            `json:"op"`
	Collection string            `json:"collection"`
	ID         string            `json:"id"`
	TeamID     string            `json:"team_id"`
	Stored     bool              `json:"stored"`
	Old        *postgres.GameRow `json:"old"`
	New        *postgres.GameRow `json:"new"`
}

// ParsePGChange unmarshals a NOTIFY payload.
func ParsePGChange(payload string) (PGChange, error) {
	var c PGChange
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return PGChange{}, fmt.Errorf("decode notify payload: %w", err)
	}
	return c, nil
}

// DecodePGChange classifies a NOTIFY payload. A stored game change decodes
// without document states until its rows are loaded.
func DecodePGChange(payload string) (Event, error) {
	c, err := ParsePGChange(payload)
	if err != nil {
		return Event{}, err
	}
	return c.Event()
}

// Event classifies the change.
func (c PGChange) Event() (Event, error) {
	switch {
	case c.Collection == store.GamesCollection && c.Op == "INSERT":
		ev := Event{ID: c.EventID, Kind: KindGameCreated, GameID: c.ID, TeamID: c.TeamID}
		if c.New != nil {
			g := c.New.Game()
			ev.After = &g
		}
		return ev, nil

	case c.Collection == store.GamesCollection && c.Op == "UPDATE":
		ev := Event{ID: c.EventID, Kind: KindGameUpdated, GameID: c.ID, TeamID: c.TeamID}
		if c.Old != nil {
			g := c.Old.Game()
			ev.Before = &g
		}
		if c.New != nil {
			g := c.New.Game()
			ev.After = &g
		}
		return ev, nil

	case c.Collection == store.MessagesCollection && c.Op == "INSERT":
		return Event{
			ID:        c.EventID,
			Kind:      KindChatMessageCreated,
			TeamID:    c.TeamID,
			MessageID: c.ID,
		}, nil
	}
	return Event{}, fmt.Errorf("%s %s: %w", c.Op, c.Collection, ErrIgnored)
}

// rowQuerier is the part of *pgx.Conn LoadStoredRows needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LoadStoredRows fills Old and New of a stored change from game_changes.
func LoadStoredRows(ctx context.Context, q rowQuerier, c *PGChange) error {
	var oldRaw, newRaw []byte
	err := q.QueryRow(ctx, db.StoredChangeSQL, c.EventID).Scan(&oldRaw, &newRaw)
	if err != nil {
		return fmt.Errorf("load stored change %s: %w", c.EventID, err)
	}
	return applyStoredRows(c, oldRaw, newRaw)
}

func applyStoredRows(c *PGChange, oldRaw, newRaw []byte) error {
	if len(oldRaw) > 0 {
		var r postgres.GameRow
		if err := json.Unmarshal(oldRaw, &r); err != nil {
			return fmt.Errorf("decode stored old row: %w", err)
		}
		c.Old = &r
	}
	if len(newRaw) > 0 {
		var r postgres.GameRow
		if err := json.Unmarshal(newRaw, &r); err != nil {
			return fmt.Errorf("decode stored new row: %w", err)
		}
		c.New = &r
	}
	return nil
}

// StartPGListener opens a dedicated connection and listens on the
// document_changed channel. It reconnects automatically on connection loss.
// Blocks until ctx is cancelled. Intended to be called with `go`.
func StartPGListener(ctx context.Context, dbURL string, d *Dispatcher, logger *slog.Logger) {
	runWithBackoff(ctx, "Postgres change listener", logger, func(ctx context.Context) error {
		return listenLoop(ctx, dbURL, d, logger)
	})
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, d *Dispatcher, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+db.NotifyChannel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", db.NotifyChannel, err)
	}
	logger.Info("Postgres change listener connected", "channel", db.NotifyChannel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		c, err := ParsePGChange(notification.Payload)
		if err != nil {
			logger.Warn("Change notification unreadable",
				"payload", notification.Payload, "error", err)
			continue
		}
		if c.Stored {
			if err := LoadStoredRows(ctx, conn, &c); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("Stored change not loaded, event dropped",
					"event_id", c.EventID, "game_id", c.ID, "error", err)
				continue
			}
		}
		ev, err := c.Event()
		if err != nil {
			logger.Debug("Change notification skipped",
				"payload", notification.Payload, "error", err)
			continue
		}

		// Process asynchronously to avoid blocking the listener
		go d.HandleLogged(ctx, "pglisten", ev)
	}
}

// runWithBackoff calls fn until ctx is cancelled, sleeping with exponential
// backoff between failed sessions.
func runWithBackoff(ctx context.Context, name string, logger *slog.Logger, fn func(context.Context) error) {
	backoff := reconnectBackoff

	for {
		err := fn(ctx)
		if ctx.Err() != nil {
			logger.Info(name + " stopped (context cancelled)")
			return
		}

		logger.Error(name+" disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}
