package firestore

import (
	"time"

	"github.com/albapepper/huddle/internal/store"
)

// Document field names as written by the mobile client.
const (
	fieldTokens        = "fcmTokens"
	fieldPreferences   = "preferences"
	fieldName          = "name"
	fieldMemberIDs     = "memberIds"
	fieldAdminID       = "adminId"
	fieldTeamID        = "teamId"
	fieldDateTime      = "dateTime"
	fieldActive        = "isActive"
	fieldConfirmations = "confirmations"
	fieldSenderID      = "senderId"
	fieldText          = "text"
)

// DecodeUser converts a users/{id} document into a store.User. Values are
// read leniently: wrong types are treated as absent.
func DecodeUser(id string, data map[string]interface{}) store.User {
	u := store.User{ID: id, Tokens: stringSlice(data[fieldTokens])}
	if prefs, ok := data[fieldPreferences].(map[string]interface{}); ok {
		u.Preferences = store.NormalizePreferences(prefs)
	}
	return u
}

// DecodeTeam converts a teams/{id} document.
func DecodeTeam(id string, data map[string]interface{}) store.Team {
	return store.Team{
		ID:        id,
		Name:      str(data[fieldName]),
		MemberIDs: stringSlice(data[fieldMemberIDs]),
		AdminID:   str(data[fieldAdminID]),
	}
}

// DecodeGame converts a games/{id} document.
func DecodeGame(id string, data map[string]interface{}) store.Game {
	g := store.Game{
		ID:     id,
		TeamID: str(data[fieldTeamID]),
	}
	if t, ok := data[fieldDateTime].(time.Time); ok {
		g.StartsAt = t
	}
	g.Active, _ = data[fieldActive].(bool)

	if conf, ok := data[fieldConfirmations].(map[string]interface{}); ok {
		g.Confirmations = make(map[string]string, len(conf))
		for uid, v := range conf {
			g.Confirmations[uid] = str(v)
		}
	}
	for _, f := range store.ReminderFlags {
		if sent, _ := data[string(f)].(bool); sent {
			if g.RemindersSent == nil {
				g.RemindersSent = make(map[store.ReminderFlag]bool, len(store.ReminderFlags))
			}
			g.RemindersSent[f] = true
		}
	}
	return g
}

// DecodeChatMessage converts a teams/{teamID}/messages/{id} document.
func DecodeChatMessage(teamID, id string, data map[string]interface{}) store.ChatMessage {
	return store.ChatMessage{
		ID:       id,
		TeamID:   teamID,
		SenderID: str(data[fieldSenderID]),
		Text:     str(data[fieldText]),
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func stringSlice(v interface{}) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []interface{}:
		out := make([]string, 0, len(vs))
		for _, x := range vs {
			if s, ok := x.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
