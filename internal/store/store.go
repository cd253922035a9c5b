// Package store defines the document model shared by every backend and the
// Store interface the notifier and reminder scheduler read from.
//
// Backends live in subpackages (firestore, postgres, mongo). All of them
// report a missing document as ErrNotFound and implement reminder flags as
// partial updates that leave every other field untouched.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned (possibly wrapped) when a referenced document does
// not exist.
var ErrNotFound = errors.New("document not found")

// Collection names, shared by the document backends.
const (
	UsersCollection    = "users"
	TeamsCollection    = "teams"
	GamesCollection    = "games"
	MessagesCollection = "messages" // subcollection of teams/{teamId}
)

// --------------------------------------------------------------------------
// Notification categories
// --------------------------------------------------------------------------

// Category names a class of notification a user can opt out of.
type Category string

const (
	CategoryTeamAnnouncements Category = "team_announcements"
	CategoryGameReminders     Category = "game_reminders"
	CategoryChatMessages      Category = "chat_messages"
)

// MasterSwitch is the preference key that disables every category at once.
const MasterSwitch = "notifications_enabled"

// clientPreferenceKeys maps the keys the mobile client writes onto the
// category names above.
var clientPreferenceKeys = map[string]string{
	"notificationsEnabled":           MasterSwitch,
	"notificationsTeamAnnouncements": string(CategoryTeamAnnouncements),
	"notificationsGameReminders":     string(CategoryGameReminders),
	"notificationsChatMessages":      string(CategoryChatMessages),
}

// NormalizePreferences returns a copy of prefs with client keys renamed to
// category names. Unknown keys are kept as they are.
func NormalizePreferences(prefs map[string]interface{}) map[string]interface{} {
	if prefs == nil {
		return nil
	}
	out := make(map[string]interface{}, len(prefs))
	for k, v := range prefs {
		if mapped, ok := clientPreferenceKeys[k]; ok {
			k = mapped
		}
		out[k] = v
	}
	return out
}

// --------------------------------------------------------------------------
// Reminder flags
// --------------------------------------------------------------------------

// ReminderFlag is the document field recording that one lead-time reminder
// was attempted for a game. Values are the field names stored on games.
type ReminderFlag string

const (
	Reminder24h ReminderFlag = "reminder24Sent"
	Reminder2h  ReminderFlag = "reminder2hSent"
	Reminder1h  ReminderFlag = "reminder1Sent"
)

// ReminderFlags lists every flag in lead order.
var ReminderFlags = []ReminderFlag{Reminder24h, Reminder2h, Reminder1h}

// Valid reports whether f is one of the known flags.
func (f ReminderFlag) Valid() bool {
	switch f {
	case Reminder24h, Reminder2h, Reminder1h:
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Documents
// --------------------------------------------------------------------------

// User is a registered app user. Read-only from this service's perspective,
// except for pruning dead push tokens.
type User struct {
	ID          string
	Tokens      []string
	Preferences map[string]interface{}
}

// Allows reports whether the user accepts notifications of category c.
// Only an explicit boolean false disables; missing or non-boolean values
// count as enabled.
func (u *User) Allows(c Category) bool {
	if isFalse(u.Preferences[MasterSwitch]) {
		return false
	}
	return !isFalse(u.Preferences[string(c)])
}

func isFalse(v interface{}) bool {
	b, ok := v.(bool)
	return ok && !b
}

// Team is a roster with one admin.
type Team struct {
	ID        string
	Name      string
	MemberIDs []string
	AdminID   string
}

// Attendance statuses stored in Game.Confirmations.
const (
	StatusConfirmed = "confirmed"
	StatusDeclined  = "declined"
)

// Game is a scheduled match for one team.
type Game struct {
	ID            string
	TeamID        string
	StartsAt      time.Time
	Active        bool
	Confirmations map[string]string
	RemindersSent map[ReminderFlag]bool
}

// ReminderSent reports whether the reminder for flag f was already attempted.
func (g *Game) ReminderSent(f ReminderFlag) bool {
	return g.RemindersSent[f]
}

// ConfirmedUserIDs returns the users whose status is exactly "confirmed".
// Map iteration order is not stable, so callers must not rely on ordering.
func (g *Game) ConfirmedUserIDs() []string {
	var ids []string
	for uid, status := range g.Confirmations {
		if status == StatusConfirmed {
			ids = append(ids, uid)
		}
	}
	return ids
}

// ChatMessage is a message posted to a team's chat.
type ChatMessage struct {
	ID       string
	TeamID   string
	SenderID string
	Text     string
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// DueQuery selects active games starting in [From, To). When UnsentOnly is
// set, games whose Flag is already true are excluded by the backend.
type DueQuery struct {
	From       time.Time
	To         time.Time
	Flag       ReminderFlag
	UnsentOnly bool
}

// --------------------------------------------------------------------------
// Interface
// --------------------------------------------------------------------------

// Store is the document store collaborator.
type Store interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetTeam(ctx context.Context, id string) (*Team, error)
	GetGame(ctx context.Context, id string) (*Game, error)
	GetChatMessage(ctx context.Context, teamID, messageID string) (*ChatMessage, error)

	// DueGames runs the reminder window query.
	DueGames(ctx context.Context, q DueQuery) ([]Game, error)

	// MarkReminderSent sets flag to true on the game with a merge write.
	MarkReminderSent(ctx context.Context, gameID string, flag ReminderFlag) error

	// PruneTokens removes the given push tokens from every user holding them.
	PruneTokens(ctx context.Context, tokens []string) error

	Ping(ctx context.Context) error
	Close() error
}
