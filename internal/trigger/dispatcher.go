// Package trigger turns document change feeds into handler calls.
//
// Every source (Postgres LISTEN/NOTIFY, Pub/Sub-delivered Firestore events,
// Mongo change streams, HTTP push) decodes its payload into an Event and
// hands it to a Dispatcher, which deduplicates and routes it to the
// notifier. Handler errors are logged and the event is acknowledged; no
// source retries.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/albapepper/huddle/internal/dedup"
	"github.com/albapepper/huddle/internal/store"
)

// Kind identifies which handler an event routes to.
type Kind string

const (
	KindGameCreated        Kind = "game_created"
	KindGameUpdated        Kind = "game_updated"
	KindChatMessageCreated Kind = "chat_message_created"
)

// ErrIgnored marks a change no handler cares about (deletes, message edits,
// other collections).
var ErrIgnored = errors.New("change ignored")

// Event is one document change. Before/After/Message are optional; the
// dispatcher re-reads what it needs when a source cannot supply it.
type Event struct {
	ID        string // delivery-independent id used for deduplication
	Kind      Kind
	GameID    string
	TeamID    string
	MessageID string

	Before  *store.Game
	After   *store.Game
	Message *store.ChatMessage
}

// Handler is the notifier surface. Satisfied by *notify.Notifier.
type Handler interface {
	OnGameCreated(ctx context.Context, gameID string, game store.Game) error
	OnGameUpdated(ctx context.Context, gameID string, before, after store.Game) error
	OnChatMessageCreated(ctx context.Context, teamID, messageID string, msg store.ChatMessage) error
}

// Reader loads documents a source did not embed.
type Reader interface {
	GetGame(ctx context.Context, id string) (*store.Game, error)
	GetChatMessage(ctx context.Context, teamID, messageID string) (*store.ChatMessage, error)
}

// Dispatcher routes events to the handler.
type Dispatcher struct {
	handler Handler
	reader  Reader
	guard   dedup.Guard // optional
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. guard may be nil.
func NewDispatcher(h Handler, r Reader, guard dedup.Guard, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{handler: h, reader: r, guard: guard, logger: logger}
}

// Handle routes ev. Duplicate events (already claimed) return nil without
// calling the handler.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	if d.guard != nil && ev.ID != "" {
		claimed, err := d.guard.Claim(ctx, ev.ID)
		switch {
		case err != nil:
			d.logger.Warn("Event dedup unavailable, processing anyway", "event_id", ev.ID, "error", err)
		case !claimed:
			d.logger.Debug("Duplicate event skipped", "event_id", ev.ID, "kind", ev.Kind)
			return nil
		}
	}

	var err error
	switch ev.Kind {
	case KindGameCreated:
		err = d.gameCreated(ctx, ev)
	case KindGameUpdated:
		err = d.gameUpdated(ctx, ev)
	case KindChatMessageCreated:
		err = d.chatMessageCreated(ctx, ev)
	default:
		return fmt.Errorf("unknown event kind %q: %w", ev.Kind, ErrIgnored)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", ev.Kind, ev.ID, err)
	}
	return nil
}

// HandleLogged runs Handle and logs the outcome. Used by the feed loops,
// which acknowledge every event regardless.
func (d *Dispatcher) HandleLogged(ctx context.Context, source string, ev Event) {
	if err := d.Handle(ctx, ev); err != nil {
		d.logger.Warn("Event handler failed", "source", source, "kind", ev.Kind, "event_id", ev.ID, "error", err)
		return
	}
	d.logger.Debug("Event handled", "source", source, "kind", ev.Kind, "event_id", ev.ID)
}

func (d *Dispatcher) gameCreated(ctx context.Context, ev Event) error {
	game := ev.After
	if game == nil {
		g, err := d.loadGame(ctx, ev.GameID)
		if err != nil || g == nil {
			return err
		}
		game = g
	}
	return d.handler.OnGameCreated(ctx, ev.GameID, *game)
}

func (d *Dispatcher) gameUpdated(ctx context.Context, ev Event) error {
	if ev.Before == nil || ev.After == nil {
		// Without the prior state there is nothing to compare against.
		d.logger.Warn("Game update without both document states, skipped",
			"game_id", ev.GameID, "event_id", ev.ID)
		return nil
	}
	return d.handler.OnGameUpdated(ctx, ev.GameID, *ev.Before, *ev.After)
}

func (d *Dispatcher) chatMessageCreated(ctx context.Context, ev Event) error {
	msg := ev.Message
	if msg == nil {
		m, err := d.reader.GetChatMessage(ctx, ev.TeamID, ev.MessageID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load message: %w", err)
		}
		msg = m
	}
	return d.handler.OnChatMessageCreated(ctx, ev.TeamID, ev.MessageID, *msg)
}

func (d *Dispatcher) loadGame(ctx context.Context, id string) (*store.Game, error) {
	g, err := d.reader.GetGame(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load game: %w", err)
	}
	return g, nil
}
