// Package firestore implements store.Store on Cloud Firestore, the
// document layout the mobile client writes to.
package firestore

import (
	"context"
	"errors"
	"fmt"

	fs "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/albapepper/huddle/internal/store"
)

// arrayContainsAnyLimit is Firestore's cap on array-contains-any values.
const arrayContainsAnyLimit = 30

// Store reads and writes the users, teams and games collections.
type Store struct {
	client *fs.Client
}

// New opens a Firestore client from an initialized Firebase app.
func New(ctx context.Context, app *firebase.App) (*Store, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *fs.Client) *Store {
	return &Store{client: client}
}

// Client exposes the underlying client for callers that need raw access.
func (s *Store) Client() *fs.Client {
	return s.client
}

func (s *Store) get(ctx context.Context, ref *fs.DocumentRef) (map[string]interface{}, error) {
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%s: %w", ref.Path, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref.Path, err)
	}
	if !snap.Exists() {
		return nil, fmt.Errorf("%s: %w", ref.Path, store.ErrNotFound)
	}
	return snap.Data(), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	data, err := s.get(ctx, s.client.Collection(store.UsersCollection).Doc(id))
	if err != nil {
		return nil, err
	}
	u := DecodeUser(id, data)
	return &u, nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (*store.Team, error) {
	data, err := s.get(ctx, s.client.Collection(store.TeamsCollection).Doc(id))
	if err != nil {
		return nil, err
	}
	t := DecodeTeam(id, data)
	return &t, nil
}

func (s *Store) GetGame(ctx context.Context, id string) (*store.Game, error) {
	data, err := s.get(ctx, s.client.Collection(store.GamesCollection).Doc(id))
	if err != nil {
		return nil, err
	}
	g := DecodeGame(id, data)
	return &g, nil
}

func (s *Store) GetChatMessage(ctx context.Context, teamID, messageID string) (*store.ChatMessage, error) {
	ref := s.client.Collection(store.TeamsCollection).Doc(teamID).
		Collection(store.MessagesCollection).Doc(messageID)
	data, err := s.get(ctx, ref)
	if err != nil {
		return nil, err
	}
	m := DecodeChatMessage(teamID, messageID, data)
	return &m, nil
}

// DueGames runs the window query. UnsentOnly is applied in memory:
// Firestore's equality filter never matches documents that lack the field,
// and games written before the flags existed have none.
func (s *Store) DueGames(ctx context.Context, q store.DueQuery) ([]store.Game, error) {
	docs, err := s.client.Collection(store.GamesCollection).
		Where(fieldActive, "==", true).
		Where(fieldDateTime, ">=", q.From).
		Where(fieldDateTime, "<", q.To).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query due games: %w", err)
	}

	games := make([]store.Game, 0, len(docs))
	for _, d := range docs {
		games = append(games, DecodeGame(d.Ref.ID, d.Data()))
	}
	if q.UnsentOnly {
		games = Unsent(games, q.Flag)
	}
	return games, nil
}

// Unsent drops games whose flag is set. A missing flag counts as unsent.
func Unsent(games []store.Game, flag store.ReminderFlag) []store.Game {
	out := games[:0]
	for _, g := range games {
		if !g.ReminderSent(flag) {
			out = append(out, g)
		}
	}
	return out
}

// MarkReminderSent merges {flag: true} into the game document.
func (s *Store) MarkReminderSent(ctx context.Context, gameID string, flag store.ReminderFlag) error {
	if !flag.Valid() {
		return fmt.Errorf("unknown reminder flag %q", flag)
	}
	_, err := s.client.Collection(store.GamesCollection).Doc(gameID).
		Set(ctx, map[string]interface{}{string(flag): true}, fs.MergeAll)
	if err != nil {
		return fmt.Errorf("mark %s on game %s: %w", flag, gameID, err)
	}
	return nil
}

// PruneTokens removes tokens from every user whose fcmTokens holds one.
func (s *Store) PruneTokens(ctx context.Context, tokens []string) error {
	var errs []error
	for start := 0; start < len(tokens); start += arrayContainsAnyLimit {
		end := min(start+arrayContainsAnyLimit, len(tokens))
		chunk := make([]interface{}, 0, end-start)
		for _, t := range tokens[start:end] {
			chunk = append(chunk, t)
		}

		docs, err := s.client.Collection(store.UsersCollection).
			Where(fieldTokens, "array-contains-any", chunk).
			Documents(ctx).GetAll()
		if err != nil {
			errs = append(errs, fmt.Errorf("find token holders: %w", err))
			continue
		}
		for _, d := range docs {
			_, err := d.Ref.Update(ctx, []fs.Update{{
				Path:  fieldTokens,
				Value: fs.ArrayRemove(chunk...),
			}})
			if err != nil {
				errs = append(errs, fmt.Errorf("prune tokens for user %s: %w", d.Ref.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Ping reads at most one game to verify connectivity and credentials.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.Collection(store.GamesCollection).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

var _ store.Store = (*Store)(nil)
