// Package notify turns store changes into push notifications.
//
// Pipeline: change event → handler → recipient resolution (preferences,
// device tokens) → multicast dispatch. The reminder scheduler reuses the
// same resolver and dispatcher for time-driven notifications.
package notify

import (
	"context"
	"log/slog"

	"github.com/albapepper/huddle/internal/push"
	"github.com/albapepper/huddle/internal/store"
)

// Store is the subset of store.Store the notifier reads from.
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetTeam(ctx context.Context, id string) (*store.Team, error)
	GetGame(ctx context.Context, id string) (*store.Game, error)
	PruneTokens(ctx context.Context, tokens []string) error
}

// Options tunes optional notifier behavior.
type Options struct {
	// PruneUnregistered removes tokens the transport reports as
	// unregistered from user records after each dispatch.
	PruneUnregistered bool
}

// Notifier resolves recipients and dispatches notifications.
type Notifier struct {
	store  Store
	sender push.Sender
	opts   Options
	logger *slog.Logger
}

// New creates a Notifier with explicit dependencies.
func New(s Store, sender push.Sender, opts Options, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:  s,
		sender: sender,
		opts:   opts,
		logger: logger,
	}
}

// Dispatch sends msg to tokens. An empty token list is a no-op and never
// reaches the transport. Transport errors are logged and returned; they are
// not retried.
func (n *Notifier) Dispatch(ctx context.Context, tokens []string, msg push.Message) error {
	if len(tokens) == 0 {
		return nil
	}

	res, err := n.sender.SendMulticast(ctx, tokens, msg)
	if err != nil {
		n.logger.Warn("Push dispatch failed",
			"type", msg.Type(), "tokens", len(tokens), "error", err)
	} else {
		n.logger.Info("Notification dispatched",
			"type", msg.Type(), "tokens", len(tokens),
			"success", res.SuccessCount, "failure", res.FailureCount)
	}

	if n.opts.PruneUnregistered && len(res.Unregistered) > 0 {
		if perr := n.store.PruneTokens(ctx, res.Unregistered); perr != nil {
			n.logger.Warn("Failed to prune unregistered tokens",
				"count", len(res.Unregistered), "error", perr)
		} else {
			n.logger.Info("Pruned unregistered tokens", "count", len(res.Unregistered))
		}
	}
	return err
}
