// Package postgres implements store.Store on the relational reference
// schema (see internal/db/schema.sql).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/huddle/internal/db"
	"github.com/albapepper/huddle/internal/store"
)

var markStatements = map[store.ReminderFlag]string{
	store.Reminder24h: "mark_reminder24",
	store.Reminder2h:  "mark_reminder2h",
	store.Reminder1h:  "mark_reminder1",
}

// Store reads documents through the pool's prepared statements.
type Store struct {
	pool *db.Pool
}

// New wraps an open pool.
func New(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	var (
		uid    string
		tokens []string
		prefs  map[string]interface{}
	)
	err := s.pool.QueryRow(ctx, "user_by_id", id).Scan(&uid, &tokens, &prefs)
	if err != nil {
		return nil, notFound(err, "user "+id)
	}
	u := userFromRow(uid, tokens, prefs)
	return &u, nil
}

// userFromRow builds a User from a users row. The preferences column holds
// whatever the client wrote, so its keys are normalized like the document
// backends do.
func userFromRow(id string, tokens []string, prefs map[string]interface{}) store.User {
	return store.User{
		ID:          id,
		Tokens:      tokens,
		Preferences: store.NormalizePreferences(prefs),
	}
}

func (s *Store) GetTeam(ctx context.Context, id string) (*store.Team, error) {
	var t store.Team
	err := s.pool.QueryRow(ctx, "team_by_id", id).Scan(&t.ID, &t.Name, &t.MemberIDs, &t.AdminID)
	if err != nil {
		return nil, notFound(err, "team "+id)
	}
	return &t, nil
}

func (s *Store) GetGame(ctx context.Context, id string) (*store.Game, error) {
	g, err := scanGame(s.pool.QueryRow(ctx, "game_by_id", id))
	if err != nil {
		return nil, notFound(err, "game "+id)
	}
	return &g, nil
}

func (s *Store) GetChatMessage(ctx context.Context, teamID, messageID string) (*store.ChatMessage, error) {
	var m store.ChatMessage
	err := s.pool.QueryRow(ctx, "message_by_id", teamID, messageID).
		Scan(&m.TeamID, &m.ID, &m.SenderID, &m.Text)
	if err != nil {
		return nil, notFound(err, "message "+teamID+"/"+messageID)
	}
	return &m, nil
}

func (s *Store) DueGames(ctx context.Context, q store.DueQuery) ([]store.Game, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if q.UnsentOnly {
		if !q.Flag.Valid() {
			return nil, fmt.Errorf("unknown reminder flag %q", q.Flag)
		}
		rows, err = s.pool.Query(ctx, "due_games_unsent", q.From, q.To, string(q.Flag))
	} else {
		rows, err = s.pool.Query(ctx, "due_games", q.From, q.To)
	}
	if err != nil {
		return nil, fmt.Errorf("query due games: %w", err)
	}
	defer rows.Close()

	var games []store.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (s *Store) MarkReminderSent(ctx context.Context, gameID string, flag store.ReminderFlag) error {
	stmt, ok := markStatements[flag]
	if !ok {
		return fmt.Errorf("unknown reminder flag %q", flag)
	}
	tag, err := s.pool.Exec(ctx, stmt, gameID)
	if err != nil {
		return fmt.Errorf("mark %s on game %s: %w", flag, gameID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("game %s: %w", gameID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) PruneTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, "prune_tokens", tokens); err != nil {
		return fmt.Errorf("prune tokens: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.HealthCheck(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanGame(row pgx.Row) (store.Game, error) {
	var (
		r    GameRow
		conf map[string]interface{}
	)
	err := row.Scan(&r.ID, &r.TeamID, &r.DateTime, &r.IsActive, &conf,
		&r.Reminder24Sent, &r.Reminder2hSent, &r.Reminder1Sent)
	if err != nil {
		return store.Game{}, err
	}
	r.Confirmations = conf
	return r.Game(), nil
}

// GameRow is a games row as scanned or as serialized by row_to_json in the
// change-notification payload.
type GameRow struct {
	ID             string                 `json:"id"`
	TeamID         string                 `json:"team_id"`
	DateTime       time.Time              `json:"date_time"`
	IsActive       bool                   `json:"is_active"`
	Confirmations  map[string]interface{} `json:"confirmations"`
	Reminder24Sent bool                   `json:"reminder24_sent"`
	Reminder2hSent bool                   `json:"reminder2h_sent"`
	Reminder1Sent  bool                   `json:"reminder1_sent"`
}

// Game converts the row to the shared document model.
func (r GameRow) Game() store.Game {
	g := store.Game{
		ID:       r.ID,
		TeamID:   r.TeamID,
		StartsAt: r.DateTime,
		Active:   r.IsActive,
	}
	if r.Confirmations != nil {
		g.Confirmations = make(map[string]string, len(r.Confirmations))
		for uid, v := range r.Confirmations {
			s, _ := v.(string)
			g.Confirmations[uid] = s
		}
	}
	sent := map[store.ReminderFlag]bool{
		store.Reminder24h: r.Reminder24Sent,
		store.Reminder2h:  r.Reminder2hSent,
		store.Reminder1h:  r.Reminder1Sent,
	}
	for f, v := range sent {
		if v {
			if g.RemindersSent == nil {
				g.RemindersSent = make(map[store.ReminderFlag]bool, len(sent))
			}
			g.RemindersSent[f] = true
		}
	}
	return g
}

var _ store.Store = (*Store)(nil)
