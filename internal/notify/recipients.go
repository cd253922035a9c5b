package notify

import (
	"context"
	"errors"

	"github.com/albapepper/huddle/internal/store"
)

// ResolveTokens returns the device tokens of every user in userIDs that
// accepts category. Users are looked up once per occurrence, in order;
// tokens are concatenated without deduplication. Missing users are skipped
// silently and a failed lookup only drops that user.
func (n *Notifier) ResolveTokens(ctx context.Context, userIDs []string, category store.Category) []string {
	return n.resolve(ctx, userIDs, func(u *store.User) bool {
		return u.Allows(category)
	})
}

// ResolveAllTokens is ResolveTokens without preference filtering, for
// callers that have already filtered their recipients.
func (n *Notifier) ResolveAllTokens(ctx context.Context, userIDs []string) []string {
	return n.resolve(ctx, userIDs, nil)
}

func (n *Notifier) resolve(ctx context.Context, userIDs []string, accept func(*store.User) bool) []string {
	if len(userIDs) == 0 {
		return nil
	}

	var tokens []string
	for _, uid := range userIDs {
		u, err := n.store.GetUser(ctx, uid)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			n.logger.Warn("Recipient lookup failed", "user_id", uid, "error", err)
			continue
		}
		if accept != nil && !accept(u) {
			continue
		}
		tokens = append(tokens, u.Tokens...)
	}
	return tokens
}
