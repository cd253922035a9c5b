package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/albapepper/huddle/internal/store"
	mongostore "github.com/albapepper/huddle/internal/store/mongo"
)

// MongoChange is the subset of a change stream event the dispatcher needs.
type MongoChange struct {
	ID            bson.Raw `bson:"_id"`
	OperationType string   `bson:"operationType"`
	NS            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             bson.Raw `bson:"fullDocument"`
	FullDocumentBeforeChange bson.Raw `bson:"fullDocumentBeforeChange"`
}

// changePipeline limits the stream to the changes handlers react to.
var changePipeline = mongo.Pipeline{
	{{Key: "$match", Value: bson.M{"$or": bson.A{
		bson.M{"ns.coll": store.GamesCollection, "operationType": bson.M{"$in": bson.A{"insert", "update", "replace"}}},
		bson.M{"ns.coll": store.MessagesCollection, "operationType": "insert"},
	}}}},
}

// DecodeMongoChange classifies a change stream event. The resume token
// doubles as the event id, which every watcher sees identically.
func DecodeMongoChange(c MongoChange) (Event, error) {
	eventID := ""
	if len(c.ID) > 0 {
		if data, ok := c.ID.Lookup("_data").StringValueOK(); ok {
			eventID = "mongo:" + data
		}
	}

	switch c.NS.Coll {
	case store.GamesCollection:
		ev := Event{ID: eventID, GameID: c.DocumentKey.ID}
		if len(c.FullDocument) > 0 {
			var d mongostore.GameDoc
			if err := bson.Unmarshal(c.FullDocument, &d); err != nil {
				return Event{}, fmt.Errorf("decode game %s: %w", c.DocumentKey.ID, err)
			}
			g := d.Game()
			ev.After, ev.TeamID = &g, g.TeamID
		}
		if c.OperationType == "insert" {
			ev.Kind = KindGameCreated
			return ev, nil
		}
		ev.Kind = KindGameUpdated
		if len(c.FullDocumentBeforeChange) > 0 {
			var d mongostore.GameDoc
			if err := bson.Unmarshal(c.FullDocumentBeforeChange, &d); err != nil {
				return Event{}, fmt.Errorf("decode prior game %s: %w", c.DocumentKey.ID, err)
			}
			g := d.Game()
			ev.Before = &g
		}
		return ev, nil

	case store.MessagesCollection:
		if c.OperationType != "insert" {
			return Event{}, fmt.Errorf("message %s: %w", c.OperationType, ErrIgnored)
		}
		ev := Event{ID: eventID, Kind: KindChatMessageCreated, MessageID: c.DocumentKey.ID}
		if len(c.FullDocument) > 0 {
			var d mongostore.MessageDoc
			if err := bson.Unmarshal(c.FullDocument, &d); err != nil {
				return Event{}, fmt.Errorf("decode message %s: %w", c.DocumentKey.ID, err)
			}
			m := d.Message()
			ev.Message, ev.TeamID = &m, m.TeamID
		}
		return ev, nil
	}
	return Event{}, fmt.Errorf("collection %s: %w", c.NS.Coll, ErrIgnored)
}

// StartMongoStream watches the database's change stream, resuming after the
// last seen event on reconnect. Pre-images (fullDocumentBeforeChange) must be
// enabled on the games collection for confirmation diffs; without them
// updates are skipped. Blocks until ctx is cancelled. Intended to be called
// with `go`.
func StartMongoStream(ctx context.Context, database *mongo.Database, d *Dispatcher, logger *slog.Logger) {
	var resume bson.Raw
	runWithBackoff(ctx, "Mongo change stream", logger, func(ctx context.Context) error {
		return watch(ctx, database, &resume, d, logger)
	})
}

func watch(ctx context.Context, database *mongo.Database, resume *bson.Raw, d *Dispatcher, logger *slog.Logger) error {
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)
	if len(*resume) > 0 {
		opts.SetResumeAfter(*resume)
	}

	cs, err := database.Watch(ctx, changePipeline, opts)
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}
	defer cs.Close(context.Background())
	logger.Info("Mongo change stream opened", "database", database.Name())

	for cs.Next(ctx) {
		*resume = cs.ResumeToken()

		var c MongoChange
		if err := cs.Decode(&c); err != nil {
			logger.Warn("Failed to decode change event", "error", err)
			continue
		}
		ev, err := DecodeMongoChange(c)
		if err != nil {
			logger.Debug("Change event skipped", "collection", c.NS.Coll, "error", err)
			continue
		}
		go d.HandleLogged(ctx, "mongostream", ev)
	}
	return cs.Err()
}
