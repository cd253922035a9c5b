package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/albapepper/huddle/internal/store"
)

// FetchTeam returns the team, or nil without error when it does not exist.
func (n *Notifier) FetchTeam(ctx context.Context, teamID string) (*store.Team, error) {
	if teamID == "" {
		return nil, nil
	}
	t, err := n.store.GetTeam(ctx, teamID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch team %s: %w", teamID, err)
	}
	return t, nil
}

// FetchGame returns the game, or nil without error when it does not exist.
func (n *Notifier) FetchGame(ctx context.Context, gameID string) (*store.Game, error) {
	if gameID == "" {
		return nil, nil
	}
	g, err := n.store.GetGame(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch game %s: %w", gameID, err)
	}
	return g, nil
}

// TeamDisplayName falls back to fallback when the team has no name.
func TeamDisplayName(t *store.Team, fallback string) string {
	if t == nil || t.Name == "" {
		return fallback
	}
	return t.Name
}
