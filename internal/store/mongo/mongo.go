// Package mongo implements store.Store on MongoDB using the same document
// layout and field names the mobile client writes to Firestore. Chat
// messages live in a flat "messages" collection keyed by _id with a teamId
// field.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/albapepper/huddle/internal/store"
)

const connectTimeout = 10 * time.Second

// Store reads and writes the users, teams, games and messages collections.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Database exposes the database for change streams.
func (s *Store) Database() *mongo.Database {
	return s.db
}

// --------------------------------------------------------------------------
// Documents
// --------------------------------------------------------------------------

type userDoc struct {
	ID          string                 `bson:"_id"`
	Tokens      []string               `bson:"fcmTokens"`
	Preferences map[string]interface{} `bson:"preferences"`
}

type teamDoc struct {
	ID        string   `bson:"_id"`
	Name      string   `bson:"name"`
	MemberIDs []string `bson:"memberIds"`
	AdminID   string   `bson:"adminId"`
}

// GameDoc is a games document. Exported for change-stream decoding.
type GameDoc struct {
	ID             string             `bson:"_id"`
	TeamID         string             `bson:"teamId"`
	DateTime       time.Time          `bson:"dateTime"`
	IsActive       bool               `bson:"isActive"`
	Confirmations  map[string]*string `bson:"confirmations"`
	Reminder24Sent bool               `bson:"reminder24Sent"`
	Reminder2hSent bool               `bson:"reminder2hSent"`
	Reminder1Sent  bool               `bson:"reminder1Sent"`
}

// Game converts the document to the shared model.
func (d GameDoc) Game() store.Game {
	g := store.Game{
		ID:       d.ID,
		TeamID:   d.TeamID,
		StartsAt: d.DateTime,
		Active:   d.IsActive,
	}
	if d.Confirmations != nil {
		g.Confirmations = make(map[string]string, len(d.Confirmations))
		for uid, v := range d.Confirmations {
			if v != nil {
				g.Confirmations[uid] = *v
			} else {
				g.Confirmations[uid] = ""
			}
		}
	}
	for f, sent := range map[store.ReminderFlag]bool{
		store.Reminder24h: d.Reminder24Sent,
		store.Reminder2h:  d.Reminder2hSent,
		store.Reminder1h:  d.Reminder1Sent,
	} {
		if sent {
			if g.RemindersSent == nil {
				g.RemindersSent = make(map[store.ReminderFlag]bool, 3)
			}
			g.RemindersSent[f] = true
		}
	}
	return g
}

// MessageDoc is a messages document. Exported for change-stream decoding.
type MessageDoc struct {
	ID       string `bson:"_id"`
	TeamID   string `bson:"teamId"`
	SenderID string `bson:"senderId"`
	Text     string `bson:"text"`
}

// Message converts the document to the shared model.
func (d MessageDoc) Message() store.ChatMessage {
	return store.ChatMessage{ID: d.ID, TeamID: d.TeamID, SenderID: d.SenderID, Text: d.Text}
}

// --------------------------------------------------------------------------
// store.Store
// --------------------------------------------------------------------------

func (s *Store) findOne(ctx context.Context, coll string, filter bson.M, out interface{}, what string) error {
	err := s.db.Collection(coll).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", what, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	var d userDoc
	if err := s.findOne(ctx, store.UsersCollection, bson.M{"_id": id}, &d, "user "+id); err != nil {
		return nil, err
	}
	return &store.User{ID: d.ID, Tokens: d.Tokens, Preferences: store.NormalizePreferences(d.Preferences)}, nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (*store.Team, error) {
	var d teamDoc
	if err := s.findOne(ctx, store.TeamsCollection, bson.M{"_id": id}, &d, "team "+id); err != nil {
		return nil, err
	}
	return &store.Team{ID: d.ID, Name: d.Name, MemberIDs: d.MemberIDs, AdminID: d.AdminID}, nil
}

func (s *Store) GetGame(ctx context.Context, id string) (*store.Game, error) {
	var d GameDoc
	if err := s.findOne(ctx, store.GamesCollection, bson.M{"_id": id}, &d, "game "+id); err != nil {
		return nil, err
	}
	g := d.Game()
	return &g, nil
}

func (s *Store) GetChatMessage(ctx context.Context, teamID, messageID string) (*store.ChatMessage, error) {
	var d MessageDoc
	filter := bson.M{"_id": messageID, "teamId": teamID}
	if err := s.findOne(ctx, store.MessagesCollection, filter, &d, "message "+teamID+"/"+messageID); err != nil {
		return nil, err
	}
	m := d.Message()
	return &m, nil
}

// DueFilter builds the window filter. With UnsentOnly, a missing flag field
// counts as unsent.
func DueFilter(q store.DueQuery) bson.M {
	filter := bson.M{
		"isActive": true,
		"dateTime": bson.M{"$gte": q.From, "$lt": q.To},
	}
	if q.UnsentOnly {
		filter[string(q.Flag)] = bson.M{"$ne": true}
	}
	return filter
}

func (s *Store) DueGames(ctx context.Context, q store.DueQuery) ([]store.Game, error) {
	opts := options.Find().SetSort(bson.D{{Key: "dateTime", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.db.Collection(store.GamesCollection).Find(ctx, DueFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("query due games: %w", err)
	}
	defer cur.Close(ctx)

	var docs []GameDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode due games: %w", err)
	}
	games := make([]store.Game, 0, len(docs))
	for _, d := range docs {
		games = append(games, d.Game())
	}
	return games, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, gameID string, flag store.ReminderFlag) error {
	if !flag.Valid() {
		return fmt.Errorf("unknown reminder flag %q", flag)
	}
	res, err := s.db.Collection(store.GamesCollection).UpdateOne(ctx,
		bson.M{"_id": gameID},
		bson.M{"$set": bson.M{string(flag): true}})
	if err != nil {
		return fmt.Errorf("mark %s on game %s: %w", flag, gameID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("game %s: %w", gameID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) PruneTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := s.db.Collection(store.UsersCollection).UpdateMany(ctx,
		bson.M{"fcmTokens": bson.M{"$in": tokens}},
		bson.M{"$pull": bson.M{"fcmTokens": bson.M{"$in": tokens}}})
	if err != nil {
		return fmt.Errorf("prune tokens: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ store.Store = (*Store)(nil)
