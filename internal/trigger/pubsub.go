package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
)

// StartPubSub receives Firestore document events from a Pub/Sub
// subscription. Every message is acked, including ones that fail to decode
// or handle. Blocks until ctx is cancelled. Intended to be called with `go`.
func StartPubSub(ctx context.Context, client *pubsub.Client, subscription string, d *Dispatcher, logger *slog.Logger) {
	runWithBackoff(ctx, "Pub/Sub event subscriber", logger, func(ctx context.Context) error {
		return receive(ctx, client.Subscription(subscription), d, logger)
	})
}

func receive(ctx context.Context, sub *pubsub.Subscription, d *Dispatcher, logger *slog.Logger) error {
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription %s: %w", sub.ID(), err)
	}
	if !exists {
		return fmt.Errorf("subscription %s does not exist", sub.ID())
	}
	logger.Info("Pub/Sub event subscriber listening", "subscription", sub.ID())

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()

		ev, err := DecodeFirestoreEvent(msg.Data, msg.ID)
		if errors.Is(err, ErrIgnored) {
			logger.Debug("Firestore event ignored", "message_id", msg.ID, "reason", err)
			return
		}
		if err != nil {
			logger.Warn("Failed to decode Firestore event", "message_id", msg.ID, "error", err)
			return
		}
		d.HandleLogged(ctx, "pubsub", ev)
	})
}
