package notify

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/albapepper/huddle/internal/push"
	"github.com/albapepper/huddle/internal/store"
	"github.com/albapepper/huddle/internal/store/storetest"
)

func testMessage() push.Message {
	return push.Message{Title: "t", Body: "b", Data: map[string]string{"type": "test"}}
}

// seedTeam stores team T with members U1, U2 (admin U1) and their devices.
func seedTeam(s *storetest.MemStore) {
	s.PutTeam(store.Team{ID: "T", Name: "Falcons", MemberIDs: []string{"U1", "U2"}, AdminID: "U1"})
	s.PutUser(store.User{ID: "U1", Tokens: []string{"u1-phone"}})
	s.PutUser(store.User{ID: "U2", Tokens: []string{"u2-phone", "u2-tablet"}})
}

func TestOnGameCreatedDispatchesToMembers(t *testing.T) {
	s := storetest.New()
	seedTeam(s)
	n, rec := newTestNotifier(s)

	game := store.Game{ID: "G1", TeamID: "T", StartsAt: time.Now().Add(72 * time.Hour), Active: true}
	if err := n.OnGameCreated(context.Background(), "G1", game); err != nil {
		t.Fatalf("OnGameCreated: %v", err)
	}

	calls := rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(calls))
	}
	c := calls[0]
	if !slices.Equal(c.Tokens, []string{"u1-phone", "u2-phone", "u2-tablet"}) {
		t.Fatalf("tokens = %v", c.Tokens)
	}
	want := map[string]string{"type": push.TypeGameCreated, "gameId": "G1", "teamId": "T"}
	for k, v := range want {
		if c.Message.Data[k] != v {
			t.Fatalf("data[%s] = %q, want %q", k, c.Message.Data[k], v)
		}
	}
	if c.Message.Title != "New game scheduled" {
		t.Fatalf("title = %q", c.Message.Title)
	}
}

func TestOnGameCreatedHonorsOptOut(t *testing.T) {
	s := storetest.New()
	seedTeam(s)
	s.PutUser(store.User{ID: "U2", Tokens: []string{"u2-phone"},
		Preferences: map[string]interface{}{string(store.CategoryTeamAnnouncements): false}})
	n, rec := newTestNotifier(s)

	if err := n.OnGameCreated(context.Background(), "G1", store.Game{TeamID: "T"}); err != nil {
		t.Fatalf("OnGameCreated: %v", err)
	}
	calls := rec.Calls()
	if len(calls) != 1 || !slices.Equal(calls[0].Tokens, []string{"u1-phone"}) {
		t.Fatalf("calls = %+v, want only u1-phone", calls)
	}
}

func TestOnGameCreatedNoops(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*storetest.MemStore)
	}{
		{"missing team", func(*storetest.MemStore) {}},
		{"no eligible tokens", func(s *storetest.MemStore) {
			s.PutTeam(store.Team{ID: "T", MemberIDs: []string{"U1"}})
			s.PutUser(store.User{ID: "U1", Preferences: map[string]interface{}{store.MasterSwitch: false}, Tokens: []string{"x"}})
		}},
		{"members without devices", func(s *storetest.MemStore) {
			s.PutTeam(store.Team{ID: "T", MemberIDs: []string{"U1", "ghost"}})
			s.PutUser(store.User{ID: "U1"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := storetest.New()
			tt.setup(s)
			n, rec := newTestNotifier(s)
			if err := n.OnGameCreated(context.Background(), "G1", store.Game{TeamID: "T"}); err != nil {
				t.Fatalf("OnGameCreated: %v", err)
			}
			if len(rec.Calls()) != 0 {
				t.Fatalf("dispatches = %d, want 0", len(rec.Calls()))
			}
		})
	}
}

func TestOnGameCreatedReturnsStoreErrors(t *testing.T) {
	s := storetest.New()
	s.TeamErr = func(string) error { return errors.New("unavailable") }
	n, rec := newTestNotifier(s)

	if err := n.OnGameCreated(context.Background(), "G1", store.Game{TeamID: "T"}); err == nil {
		t.Fatal("expected error")
	}
	if len(rec.Calls()) != 0 {
		t.Fatal("dispatched despite lookup failure")
	}
}

func TestOnGameUpdatedOnlyOnConfirmationChange(t *testing.T) {
	start := time.Date(2026, 10, 20, 18, 0, 0, 0, time.UTC)
	base := store.Game{ID: "G1", TeamID: "T", StartsAt: start, Active: true,
		Confirmations: map[string]string{"U2": store.StatusConfirmed}}

	tests := []struct {
		name   string
		mutate func(g *store.Game)
		want   int
	}{
		{"start time edit", func(g *store.Game) { g.StartsAt = start.Add(time.Hour) }, 0},
		{"reminder flag edit", func(g *store.Game) { g.RemindersSent = map[store.ReminderFlag]bool{store.Reminder24h: true} }, 0},
		{"same confirmations new map", func(g *store.Game) { g.Confirmations = map[string]string{"U2": store.StatusConfirmed} }, 0},
		{"status changed", func(g *store.Game) { g.Confirmations = map[string]string{"U2": store.StatusDeclined} }, 1},
		{"member added", func(g *store.Game) {
			g.Confirmations = map[string]string{"U2": store.StatusConfirmed, "U1": store.StatusConfirmed}
		}, 1},
		{"confirmations cleared", func(g *store.Game) { g.Confirmations = nil }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := storetest.New()
			seedTeam(s)
			n, rec := newTestNotifier(s)

			after := base
			after.Confirmations = map[string]string{"U2": store.StatusConfirmed}
			tt.mutate(&after)

			if err := n.OnGameUpdated(context.Background(), "G1", base, after); err != nil {
				t.Fatalf("OnGameUpdated: %v", err)
			}
			calls := rec.Calls()
			if len(calls) != tt.want {
				t.Fatalf("dispatches = %d, want %d", len(calls), tt.want)
			}
			if tt.want == 1 {
				if !slices.Equal(calls[0].Tokens, []string{"u1-phone"}) {
					t.Fatalf("tokens = %v, want admin only", calls[0].Tokens)
				}
				if calls[0].Message.Type() != push.TypeConfirmationChanged {
					t.Fatalf("type = %q", calls[0].Message.Type())
				}
			}
		})
	}
}

func TestOnGameUpdatedAdminOptedOut(t *testing.T) {
	s := storetest.New()
	seedTeam(s)
	s.PutUser(store.User{ID: "U1", Tokens: []string{"u1-phone"},
		Preferences: map[string]interface{}{store.MasterSwitch: false}})
	n, rec := newTestNotifier(s)

	before := store.Game{TeamID: "T"}
	after := store.Game{TeamID: "T", Confirmations: map[string]string{"U2": store.StatusConfirmed}}
	if err := n.OnGameUpdated(context.Background(), "G1", before, after); err != nil {
		t.Fatalf("OnGameUpdated: %v", err)
	}
	if len(rec.Calls()) != 0 {
		t.Fatal("admin with master switch off was notified")
	}
}

func TestConfirmationsChangedNilEqualsEmpty(t *testing.T) {
	if ConfirmationsChanged(nil, map[string]string{}) {
		t.Fatal("nil and empty maps should compare equal")
	}
	if !ConfirmationsChanged(nil, map[string]string{"a": ""}) {
		t.Fatal("added unset entry should count as a change")
	}
}

func TestOnChatMessageCreatedExcludesSender(t *testing.T) {
	s := storetest.New()
	seedTeam(s)
	s.PutTeam(store.Team{ID: "T", Name: "Falcons", MemberIDs: []string{"U1", "U2", "U3"}, AdminID: "U1"})
	s.PutUser(store.User{ID: "U3", Tokens: []string{"u3-phone"},
		Preferences: map[string]interface{}{string(store.CategoryChatMessages): false}})
	n, rec := newTestNotifier(s)

	msg := store.ChatMessage{ID: "M1", TeamID: "T", SenderID: "U1", Text: "Bring the orange bibs 🧡"}
	if err := n.OnChatMessageCreated(context.Background(), "T", "M1", msg); err != nil {
		t.Fatalf("OnChatMessageCreated: %v", err)
	}

	calls := rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(calls))
	}
	c := calls[0]
	if !slices.Equal(c.Tokens, []string{"u2-phone", "u2-tablet"}) {
		t.Fatalf("tokens = %v", c.Tokens)
	}
	if c.Message.Body != msg.Text {
		t.Fatalf("body = %q, want verbatim text", c.Message.Body)
	}
	if c.Message.Title != "New message in Falcons" {
		t.Fatalf("title = %q", c.Message.Title)
	}
	if c.Message.Data["type"] != push.TypeChatMessage || c.Message.Data["teamId"] != "T" || c.Message.Data["messageId"] != "M1" {
		t.Fatalf("data = %v", c.Message.Data)
	}
}

func TestOnChatMessageCreatedUnnamedTeamAndSoloSender(t *testing.T) {
	s := storetest.New()
	s.PutTeam(store.Team{ID: "T", MemberIDs: []string{"U1", "U2"}})
	s.PutUser(store.User{ID: "U1", Tokens: []string{"u1"}})
	s.PutUser(store.User{ID: "U2", Tokens: []string{"u2"}})
	n, rec := newTestNotifier(s)

	if err := n.OnChatMessageCreated(context.Background(), "T", "M1", store.ChatMessage{SenderID: "U2", Text: "hi"}); err != nil {
		t.Fatalf("OnChatMessageCreated: %v", err)
	}
	calls := rec.Calls()
	if len(calls) != 1 || calls[0].Message.Title != "New message in team chat" {
		t.Fatalf("calls = %+v", calls)
	}

	s.PutTeam(store.Team{ID: "solo", MemberIDs: []string{"U1"}})
	if err := n.OnChatMessageCreated(context.Background(), "solo", "M2", store.ChatMessage{SenderID: "U1", Text: "echo"}); err != nil {
		t.Fatalf("OnChatMessageCreated: %v", err)
	}
	if len(rec.Calls()) != 1 {
		t.Fatal("sender-only team should not dispatch")
	}
}

func TestFetchHelpersTreatMissingAsNil(t *testing.T) {
	n, _ := newTestNotifier(storetest.New())

	team, err := n.FetchTeam(context.Background(), "nope")
	if err != nil || team != nil {
		t.Fatalf("FetchTeam = %v, %v; want nil, nil", team, err)
	}
	game, err := n.FetchGame(context.Background(), "nope")
	if err != nil || game != nil {
		t.Fatalf("FetchGame = %v, %v; want nil, nil", game, err)
	}
}
