package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/albapepper/huddle/internal/store"
)

func TestGameRowFromNotifyPayload(t *testing.T) {
	payload := `{
		"id": "G1",
		"team_id": "T",
		"date_time": "2026-10-20T18:00:00+00:00",
		"is_active": true,
		"confirmations": {"A": "confirmed", "B": null},
		"reminder24_sent": true,
		"reminder2h_sent": false,
		"reminder1_sent": false,
		"updated_at": "2026-10-19T09:12:44.1234+00:00"
	}`

	var row GameRow
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	g := row.Game()

	want := time.Date(2026, 10, 20, 18, 0, 0, 0, time.UTC)
	if !g.StartsAt.Equal(want) {
		t.Fatalf("StartsAt = %s, want %s", g.StartsAt, want)
	}
	if g.ID != "G1" || g.TeamID != "T" || !g.Active {
		t.Fatalf("game = %+v", g)
	}
	if g.Confirmations["A"] != store.StatusConfirmed {
		t.Fatalf("confirmations = %v", g.Confirmations)
	}
	if _, ok := g.Confirmations["B"]; !ok {
		t.Fatal("null confirmation dropped")
	}
	if !g.ReminderSent(store.Reminder24h) || g.ReminderSent(store.Reminder2h) {
		t.Fatalf("flags = %v", g.RemindersSent)
	}
}

func TestGameRowNoFlagsLeavesMapNil(t *testing.T) {
	g := GameRow{ID: "G"}.Game()
	if g.RemindersSent != nil || g.Confirmations != nil {
		t.Fatalf("game = %+v", g)
	}
}

func TestMarkStatementsCoverEveryFlag(t *testing.T) {
	for _, f := range store.ReminderFlags {
		if _, ok := markStatements[f]; !ok {
			t.Fatalf("no statement for %s", f)
		}
	}
}

func TestUserFromRowNormalizesClientPreferences(t *testing.T) {
	u := userFromRow("U", []string{"tok"}, map[string]interface{}{
		"notificationsEnabled":      true,
		"notificationsChatMessages": false,
	})

	if u.Allows(store.CategoryChatMessages) {
		t.Fatal("chat allowed, want opted out via client key")
	}
	if !u.Allows(store.CategoryGameReminders) {
		t.Fatal("game reminders blocked, want allowed")
	}

	off := userFromRow("U", nil, map[string]interface{}{"notificationsEnabled": false})
	if off.Allows(store.CategoryTeamAnnouncements) {
		t.Fatal("master switch from client key ignored")
	}

	if none := userFromRow("U", nil, nil); !none.Allows(store.CategoryChatMessages) {
		t.Fatal("user without preferences should allow everything")
	}
}
