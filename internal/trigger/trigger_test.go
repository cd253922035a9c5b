package trigger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/albapepper/huddle/internal/dedup"
	"github.com/albapepper/huddle/internal/store"
	"github.com/albapepper/huddle/internal/store/storetest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockHandler records calls through optional func fields.
type mockHandler struct {
	created func(gameID string, g store.Game) error
	updated func(gameID string, before, after store.Game) error
	chat    func(teamID, messageID string, m store.ChatMessage) error
	calls   int
}

func (m *mockHandler) OnGameCreated(_ context.Context, gameID string, g store.Game) error {
	m.calls++
	if m.created != nil {
		return m.created(gameID, g)
	}
	return nil
}

func (m *mockHandler) OnGameUpdated(_ context.Context, gameID string, before, after store.Game) error {
	m.calls++
	if m.updated != nil {
		return m.updated(gameID, before, after)
	}
	return nil
}

func (m *mockHandler) OnChatMessageCreated(_ context.Context, teamID, messageID string, msg store.ChatMessage) error {
	m.calls++
	if m.chat != nil {
		return m.chat(teamID, messageID, msg)
	}
	return nil
}

func TestDispatcherRoutesGameCreatedFromStore(t *testing.T) {
	s := storetest.New()
	s.PutGame(store.Game{ID: "G1", TeamID: "T", Active: true})

	var gotTeam string
	h := &mockHandler{created: func(id string, g store.Game) error {
		gotTeam = g.TeamID
		return nil
	}}
	d := NewDispatcher(h, s, nil, quietLogger())

	if err := d.Handle(context.Background(), Event{Kind: KindGameCreated, GameID: "G1"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if gotTeam != "T" {
		t.Fatalf("team = %q, want T", gotTeam)
	}
}

func TestDispatcherMissingDocumentsAreNoops(t *testing.T) {
	h := &mockHandler{}
	d := NewDispatcher(h, storetest.New(), nil, quietLogger())
	ctx := context.Background()

	if err := d.Handle(ctx, Event{Kind: KindGameCreated, GameID: "gone"}); err != nil {
		t.Fatalf("game: %v", err)
	}
	if err := d.Handle(ctx, Event{Kind: KindChatMessageCreated, TeamID: "T", MessageID: "gone"}); err != nil {
		t.Fatalf("message: %v", err)
	}
	if h.calls != 0 {
		t.Fatalf("handler calls = %d, want 0", h.calls)
	}
}

func TestDispatcherLoadsChatMessage(t *testing.T) {
	s := storetest.New()
	s.PutMessage(store.ChatMessage{ID: "M1", TeamID: "T", SenderID: "A", Text: "hello"})

	var got store.ChatMessage
	h := &mockHandler{chat: func(teamID, messageID string, m store.ChatMessage) error {
		got = m
		return nil
	}}
	d := NewDispatcher(h, s, nil, quietLogger())

	if err := d.Handle(context.Background(), Event{Kind: KindChatMessageCreated, TeamID: "T", MessageID: "M1"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got.Text != "hello" || got.SenderID != "A" {
		t.Fatalf("message = %+v", got)
	}
}

func TestDispatcherSkipsUpdateWithoutBothStates(t *testing.T) {
	h := &mockHandler{}
	d := NewDispatcher(h, storetest.New(), nil, quietLogger())
	after := store.Game{ID: "G"}

	if err := d.Handle(context.Background(), Event{Kind: KindGameUpdated, GameID: "G", After: &after}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if h.calls != 0 {
		t.Fatal("handler called without prior state")
	}
}

func TestDispatcherDeduplicates(t *testing.T) {
	h := &mockHandler{}
	d := NewDispatcher(h, storetest.New(), dedup.NewMemoryGuard(time.Hour), quietLogger())
	g := store.Game{ID: "G", TeamID: "T"}
	ev := Event{ID: "evt-1", Kind: KindGameCreated, GameID: "G", After: &g}

	for i := 0; i < 3; i++ {
		if err := d.Handle(context.Background(), ev); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	if h.calls != 1 {
		t.Fatalf("handler calls = %d, want 1", h.calls)
	}
}

type failingGuard struct{}

func (failingGuard) Claim(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestDispatcherProceedsWhenGuardFails(t *testing.T) {
	h := &mockHandler{}
	d := NewDispatcher(h, storetest.New(), failingGuard{}, quietLogger())
	g := store.Game{ID: "G"}

	if err := d.Handle(context.Background(), Event{ID: "e", Kind: KindGameCreated, GameID: "G", After: &g}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if h.calls != 1 {
		t.Fatalf("handler calls = %d, want 1", h.calls)
	}
}

func TestDispatcherWrapsHandlerErrors(t *testing.T) {
	boom := errors.New("boom")
	h := &mockHandler{created: func(string, store.Game) error { return boom }}
	d := NewDispatcher(h, storetest.New(), nil, quietLogger())
	g := store.Game{ID: "G"}

	err := d.Handle(context.Background(), Event{Kind: KindGameCreated, GameID: "G", After: &g})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping boom", err)
	}
	if err := d.Handle(context.Background(), Event{Kind: "nope"}); !errors.Is(err, ErrIgnored) {
		t.Fatalf("unknown kind err = %v", err)
	}
}

// --------------------------------------------------------------------------
// Firestore events
// --------------------------------------------------------------------------

const gameUpdateEvent = `{
  "oldValue": {
    "name": "projects/huddle/databases/(default)/documents/games/G1",
    "fields": {
      "teamId": {"stringValue": "T"},
      "isActive": {"booleanValue": true},
      "dateTime": {"timestampValue": "2026-10-20T18:00:00Z"},
      "confirmations": {"mapValue": {"fields": {"A": {"stringValue": "confirmed"}}}}
    },
    "updateTime": "2026-10-19T10:00:00Z"
  },
  "value": {
    "name": "projects/huddle/databases/(default)/documents/games/G1",
    "fields": {
      "teamId": {"stringValue": "T"},
      "isActive": {"booleanValue": true},
      "dateTime": {"timestampValue": "2026-10-20T18:00:00Z"},
      "confirmations": {"mapValue": {"fields": {
        "A": {"stringValue": "confirmed"},
        "B": {"stringValue": "declined"},
        "C": {"nullValue": null}
      }}},
      "reminder24Sent": {"booleanValue": true}
    },
    "updateTime": "2026-10-19T10:05:00.123Z"
  },
  "updateMask": {"fieldPaths": ["confirmations"]}
}`

func TestDecodeFirestoreGameUpdate(t *testing.T) {
	ev, err := DecodeFirestoreEvent([]byte(gameUpdateEvent), "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != KindGameUpdated || ev.GameID != "G1" || ev.TeamID != "T" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.ID != "projects/huddle/databases/(default)/documents/games/G1@2026-10-19T10:05:00.123Z" {
		t.Fatalf("id = %q", ev.ID)
	}
	if len(ev.Before.Confirmations) != 1 || len(ev.After.Confirmations) != 3 {
		t.Fatalf("confirmations before=%v after=%v", ev.Before.Confirmations, ev.After.Confirmations)
	}
	if ev.After.Confirmations["C"] != "" || !ev.After.ReminderSent(store.Reminder24h) {
		t.Fatalf("after = %+v", ev.After)
	}
	want := time.Date(2026, 10, 20, 18, 0, 0, 0, time.UTC)
	if !ev.After.StartsAt.Equal(want) {
		t.Fatalf("StartsAt = %s, want %s", ev.After.StartsAt, want)
	}
}

func TestDecodeFirestoreGameCreate(t *testing.T) {
	body := `{"oldValue": {}, "value": {
		"name": "projects/p/databases/(default)/documents/games/G2",
		"fields": {"teamId": {"stringValue": "T"}, "isActive": {"booleanValue": true}}
	}}`
	ev, err := DecodeFirestoreEvent([]byte(body), "msg-42")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != KindGameCreated || ev.ID != "msg-42" || ev.Before != nil || ev.After.TeamID != "T" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDecodeFirestoreChatMessage(t *testing.T) {
	body := `{"value": {
		"name": "projects/p/databases/(default)/documents/teams/T/messages/M9",
		"fields": {"senderId": {"stringValue": "A"}, "text": {"stringValue": "Warm-up at 5"}}
	}}`
	ev, err := DecodeFirestoreEvent([]byte(body), "x")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != KindChatMessageCreated || ev.TeamID != "T" || ev.MessageID != "M9" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Message.Text != "Warm-up at 5" || ev.Message.SenderID != "A" {
		t.Fatalf("message = %+v", ev.Message)
	}
}

func TestDecodeFirestoreIgnored(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"delete", `{"oldValue": {"name": "projects/p/databases/d/documents/games/G"}, "value": {}}`},
		{"message edit", `{"oldValue": {"name": "projects/p/databases/d/documents/teams/T/messages/M"},
			"value": {"name": "projects/p/databases/d/documents/teams/T/messages/M"}}`},
		{"other collection", `{"value": {"name": "projects/p/databases/d/documents/users/U"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFirestoreEvent([]byte(tt.body), "id"); !errors.Is(err, ErrIgnored) {
				t.Fatalf("err = %v, want ErrIgnored", err)
			}
		})
	}
	if _, err := DecodeFirestoreEvent([]byte("not json"), ""); err == nil || errors.Is(err, ErrIgnored) {
		t.Fatalf("malformed body err = %v", err)
	}
}

func TestFirestoreValueTypes(t *testing.T) {
	n := "42"
	if got := (FirestoreValue{IntegerValue: &n}).Interface(); got != int64(42) {
		t.Fatalf("integer = %#v", got)
	}
	if got := (FirestoreValue{}).Interface(); got != nil {
		t.Fatalf("null = %#v", got)
	}
}

// --------------------------------------------------------------------------
// Postgres notifications
// --------------------------------------------------------------------------

func TestDecodePGChange(t *testing.T) {
	update := `{"event_id": "6f1c", "op": "UPDATE", "collection": "games", "id": "G1", "team_id": "T",
		"old": {"id": "G1", "team_id": "T", "date_time": "2026-10-20T18:00:00+00:00", "is_active": true, "confirmations": {}},
		"new": {"id": "G1", "team_id": "T", "date_time": "2026-10-20T18:00:00+00:00", "is_active": true, "confirmations": {"A": "confirmed"}}}`

	ev, err := DecodePGChange(update)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != KindGameUpdated || ev.ID != "6f1c" || ev.Before == nil || ev.After == nil {
		t.Fatalf("event = %+v", ev)
	}
	if ev.After.Confirmations["A"] != store.StatusConfirmed {
		t.Fatalf("after = %+v", ev.After)
	}

	msg, err := DecodePGChange(`{"event_id": "e2", "op": "INSERT", "collection": "messages", "id": "M", "team_id": "T"}`)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Kind != KindChatMessageCreated || msg.Message != nil || msg.TeamID != "T" || msg.MessageID != "M" {
		t.Fatalf("message event = %+v", msg)
	}

	if _, err := DecodePGChange(`{"op": "DELETE", "collection": "games", "id": "G"}`); !errors.Is(err, ErrIgnored) {
		t.Fatalf("delete err = %v", err)
	}
}

type storedRow struct {
	old, new []byte
	err      error
}

func (r storedRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*[]byte) = r.old
	*dest[1].(*[]byte) = r.new
	return nil
}

type storedChanges struct {
	rows map[string]storedRow
	args []any
}

func (q *storedChanges) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	q.args = args
	if r, ok := q.rows[args[0].(string)]; ok {
		return r
	}
	return storedRow{err: pgx.ErrNoRows}
}

func TestDecodePGChangeIDOnly(t *testing.T) {
	payload := `{"event_id": "e3", "op": "UPDATE", "collection": "games", "id": "G1", "team_id": "T", "stored": true}`

	c, err := ParsePGChange(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !c.Stored || c.Old != nil || c.New != nil {
		t.Fatalf("change = %+v", c)
	}

	ev, err := DecodePGChange(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != KindGameUpdated || ev.ID != "e3" || ev.GameID != "G1" || ev.TeamID != "T" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Before != nil || ev.After != nil {
		t.Fatalf("id-only payload produced states: %+v", ev)
	}
}

func TestLoadStoredRows(t *testing.T) {
	q := &storedChanges{rows: map[string]storedRow{
		"e3": {
			old: []byte(`{"id": "G1", "team_id": "T", "date_time": "2026-10-20T18:00:00+00:00", "is_active": true, "confirmations": {}}`),
			new: []byte(`{"id": "G1", "team_id": "T", "date_time": "2026-10-20T18:00:00+00:00", "is_active": true, "confirmations": {"A": "confirmed"}}`),
		},
		"e4": {new: []byte(`{"id": "G2", "team_id": "T", "date_time": "2026-10-21T18:00:00+00:00", "is_active": true}`)},
	}}

	c, _ := ParsePGChange(`{"event_id": "e3", "op": "UPDATE", "collection": "games", "id": "G1", "team_id": "T", "stored": true}`)
	if err := LoadStoredRows(context.Background(), q, &c); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(q.args) != 1 || q.args[0] != "e3" {
		t.Fatalf("query args = %v", q.args)
	}
	ev, err := c.Event()
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if ev.Before == nil || len(ev.Before.Confirmations) != 0 || ev.After == nil || ev.After.Confirmations["A"] != store.StatusConfirmed {
		t.Fatalf("event = %+v", ev)
	}

	created, _ := ParsePGChange(`{"event_id": "e4", "op": "INSERT", "collection": "games", "id": "G2", "team_id": "T", "stored": true}`)
	if err := LoadStoredRows(context.Background(), q, &created); err != nil {
		t.Fatalf("load insert: %v", err)
	}
	if created.Old != nil || created.New == nil || created.New.ID != "G2" {
		t.Fatalf("insert change = %+v", created)
	}

	missing, _ := ParsePGChange(`{"event_id": "gone", "op": "UPDATE", "collection": "games", "id": "G1", "stored": true}`)
	if err := LoadStoredRows(context.Background(), q, &missing); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("missing err = %v", err)
	}
}

// --------------------------------------------------------------------------
// Mongo change streams
// --------------------------------------------------------------------------

func mustRaw(t *testing.T, v interface{}) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestDecodeMongoChange(t *testing.T) {
	c := MongoChange{
		ID:            mustRaw(t, bson.M{"_data": "8263A1"}),
		OperationType: "update",
		FullDocument: mustRaw(t, bson.M{"_id": "G1", "teamId": "T", "isActive": true,
			"confirmations": bson.M{"A": "confirmed"}}),
		FullDocumentBeforeChange: mustRaw(t, bson.M{"_id": "G1", "teamId": "T", "isActive": true}),
	}
	c.NS.Coll = "games"
	c.DocumentKey.ID = "G1"

	ev, err := DecodeMongoChange(c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.ID != "mongo:8263A1" || ev.Kind != KindGameUpdated || ev.TeamID != "T" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Before == nil || len(ev.Before.Confirmations) != 0 || ev.After.Confirmations["A"] != store.StatusConfirmed {
		t.Fatalf("before=%+v after=%+v", ev.Before, ev.After)
	}

	msg := MongoChange{
		OperationType: "insert",
		FullDocument:  mustRaw(t, bson.M{"_id": "M1", "teamId": "T", "senderId": "A", "text": "hi"}),
	}
	msg.NS.Coll = "messages"
	msg.DocumentKey.ID = "M1"
	mev, err := DecodeMongoChange(msg)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if mev.Kind != KindChatMessageCreated || mev.TeamID != "T" || mev.Message.Text != "hi" {
		t.Fatalf("message event = %+v", mev)
	}
}
