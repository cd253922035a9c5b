// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/albapepper/huddle/internal/store"
)

// MemStore is a thread-safe in-memory store.Store. Error hooks let tests
// inject failures per method; read counters let them assert store access.
type MemStore struct {
	mu       sync.Mutex
	users    map[string]store.User
	teams    map[string]store.Team
	games    map[string]store.Game
	messages map[string]store.ChatMessage // key teamID/messageID

	// Failure injection. Returning nil falls through to normal behavior.
	UserErr     func(id string) error
	TeamErr     func(id string) error
	DueGamesErr func(q store.DueQuery) error
	MarkErr     func(gameID string, flag store.ReminderFlag) error

	UserReads int
	TeamReads int
	DueCalls  []store.DueQuery
	Marks     []Mark
	Pruned    []string
}

// Mark records one MarkReminderSent call.
type Mark struct {
	GameID string
	Flag   store.ReminderFlag
}

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{
		users:    make(map[string]store.User),
		teams:    make(map[string]store.Team),
		games:    make(map[string]store.Game),
		messages: make(map[string]store.ChatMessage),
	}
}

func (m *MemStore) PutUser(u store.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemStore) PutTeam(t store.Team) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[t.ID] = t
}

func (m *MemStore) PutGame(g store.Game) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.ID] = g
}

func (m *MemStore) PutMessage(msg store.ChatMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.TeamID+"/"+msg.ID] = msg
}

// Game returns the stored copy of a game, for assertions.
func (m *MemStore) Game(id string) (store.Game, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	return g, ok
}

func (m *MemStore) GetUser(_ context.Context, id string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UserReads++
	if m.UserErr != nil {
		if err := m.UserErr(id); err != nil {
			return nil, err
		}
	}
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	u.Tokens = slices.Clone(u.Tokens)
	return &u, nil
}

func (m *MemStore) GetTeam(_ context.Context, id string) (*store.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TeamReads++
	if m.TeamErr != nil {
		if err := m.TeamErr(id); err != nil {
			return nil, err
		}
	}
	t, ok := m.teams[id]
	if !ok {
		return nil, fmt.Errorf("team %s: %w", id, store.ErrNotFound)
	}
	t.MemberIDs = slices.Clone(t.MemberIDs)
	return &t, nil
}

func (m *MemStore) GetGame(_ context.Context, id string) (*store.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, store.ErrNotFound)
	}
	g = cloneGame(g)
	return &g, nil
}

func (m *MemStore) GetChatMessage(_ context.Context, teamID, messageID string) (*store.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[teamID+"/"+messageID]
	if !ok {
		return nil, fmt.Errorf("message %s/%s: %w", teamID, messageID, store.ErrNotFound)
	}
	return &msg, nil
}

// DueGames returns matching games ordered by start time then id.
func (m *MemStore) DueGames(_ context.Context, q store.DueQuery) ([]store.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DueCalls = append(m.DueCalls, q)
	if m.DueGamesErr != nil {
		if err := m.DueGamesErr(q); err != nil {
			return nil, err
		}
	}

	var out []store.Game
	for _, g := range m.games {
		if !g.Active {
			continue
		}
		if g.StartsAt.Before(q.From) || !g.StartsAt.Before(q.To) {
			continue
		}
		if q.UnsentOnly && g.RemindersSent[q.Flag] {
			continue
		}
		out = append(out, cloneGame(g))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

// MarkReminderSent flips only the given flag, like a merge write.
func (m *MemStore) MarkReminderSent(_ context.Context, gameID string, flag store.ReminderFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Marks = append(m.Marks, Mark{GameID: gameID, Flag: flag})
	if m.MarkErr != nil {
		if err := m.MarkErr(gameID, flag); err != nil {
			return err
		}
	}
	g, ok := m.games[gameID]
	if !ok {
		return fmt.Errorf("game %s: %w", gameID, store.ErrNotFound)
	}
	sent := make(map[store.ReminderFlag]bool, len(g.RemindersSent)+1)
	for k, v := range g.RemindersSent {
		sent[k] = v
	}
	sent[flag] = true
	g.RemindersSent = sent
	m.games[gameID] = g
	return nil
}

func (m *MemStore) PruneTokens(_ context.Context, tokens []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pruned = append(m.Pruned, tokens...)
	for id, u := range m.users {
		u.Tokens = slices.DeleteFunc(slices.Clone(u.Tokens), func(t string) bool {
			return slices.Contains(tokens, t)
		})
		m.users[id] = u
	}
	return nil
}

// MarkCount returns how many times MarkReminderSent was called.
func (m *MemStore) MarkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Marks)
}

func (m *MemStore) Ping(context.Context) error { return nil }
func (m *MemStore) Close() error               { return nil }

func cloneGame(g store.Game) store.Game {
	if g.Confirmations != nil {
		c := make(map[string]string, len(g.Confirmations))
		for k, v := range g.Confirmations {
			c[k] = v
		}
		g.Confirmations = c
	}
	if g.RemindersSent != nil {
		r := make(map[store.ReminderFlag]bool, len(g.RemindersSent))
		for k, v := range g.RemindersSent {
			r[k] = v
		}
		g.RemindersSent = r
	}
	return g
}

var _ store.Store = (*MemStore)(nil)
