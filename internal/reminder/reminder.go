// Package reminder runs the periodic game-reminder sweep.
//
// Each sweep checks three lead times (24h, 2h, 1h). For lead L a game is due
// when its start time falls in [now+L, now+L+interval), where interval is the
// polling period. After processing, the game's per-lead flag is set with a
// partial write so later sweeps skip it.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/albapepper/huddle/internal/push"
	"github.com/albapepper/huddle/internal/store"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultInterval = 5 * time.Minute
	defaultTeamName = "your team"
)

// --------------------------------------------------------------------------
// Lead times
// --------------------------------------------------------------------------

// Lead describes one reminder lead time.
type Lead struct {
	Name   string
	Offset time.Duration
	Flag   store.ReminderFlag
	Type   string
	Title  string
	body   string // format verb receives the team display name

	// Attendance restricts recipients to users who confirmed.
	Attendance bool
}

// Leads lists the lead times in processing order.
var Leads = []Lead{
	{
		Name:   "24h",
		Offset: 24 * time.Hour,
		Flag:   store.Reminder24h,
		Type:   push.TypeGameReminder24h,
		Title:  "Game tomorrow",
		body:   "You have a game with %s in 24 hours.",
	},
	{
		Name:       "2h",
		Offset:     2 * time.Hour,
		Flag:       store.Reminder2h,
		Type:       push.TypeGameReminder2h,
		Title:      "Game soon",
		body:       "Your game with %s starts in 2 hours.",
		Attendance: true,
	},
	{
		Name:   "1h",
		Offset: time.Hour,
		Flag:   store.Reminder1h,
		Type:   push.TypeGameReminder1h,
		Title:  "Game soon",
		body:   "Your game with %s starts in 1 hour.",
	},
}

// LeadByName returns the lead called name ("24h", "2h", "1h").
func LeadByName(name string) (Lead, error) {
	for _, l := range Leads {
		if l.Name == name {
			return l, nil
		}
	}
	return Lead{}, fmt.Errorf("unknown lead %q (want 24h, 2h or 1h)", name)
}

// Message builds the reminder payload for game. team may be nil.
func (l Lead) Message(game store.Game, team *store.Team) push.Message {
	name := defaultTeamName
	if team != nil && team.Name != "" {
		name = team.Name
	}
	return push.Message{
		Title: l.Title,
		Body:  fmt.Sprintf(l.body, name),
		Data: map[string]string{
			"type":   l.Type,
			"gameId": game.ID,
			"teamId": game.TeamID,
		},
	}
}

// Window returns the due window [now+offset, now+offset+interval).
func Window(now time.Time, offset, interval time.Duration) (from, to time.Time) {
	from = now.Add(offset)
	return from, from.Add(interval)
}

// --------------------------------------------------------------------------
// Scheduler
// --------------------------------------------------------------------------

// Store is the subset of store.Store the scheduler needs.
type Store interface {
	DueGames(ctx context.Context, q store.DueQuery) ([]store.Game, error)
	MarkReminderSent(ctx context.Context, gameID string, flag store.ReminderFlag) error
}

// Notifier resolves recipients and dispatches. Satisfied by *notify.Notifier.
type Notifier interface {
	FetchTeam(ctx context.Context, teamID string) (*store.Team, error)
	ResolveTokens(ctx context.Context, userIDs []string, category store.Category) []string
	Dispatch(ctx context.Context, tokens []string, msg push.Message) error
}

// Options controls sweep behavior. Zero values take defaults.
type Options struct {
	Interval   time.Duration // polling period and window width
	MaxCatchUp time.Duration // how far back a window may stretch after missed ticks; 0 disables
	Workers    int           // games processed concurrently per lead
	Timeout    time.Duration // bound on one sweep; 0 means none
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	if o.MaxCatchUp < 0 {
		o.MaxCatchUp = 0
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	return o
}

// Scheduler performs reminder sweeps.
type Scheduler struct {
	store    Store
	notifier Notifier
	opts     Options
	logger   *slog.Logger

	running  sync.Mutex // one sweep at a time
	mu       sync.Mutex
	lastHigh map[store.ReminderFlag]time.Time // upper window bound of the last successful query per lead
}

// New creates a Scheduler.
func New(s Store, n Notifier, opts Options, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		notifier: n,
		opts:     opts.withDefaults(),
		logger:   logger,
		lastHigh: make(map[store.ReminderFlag]time.Time),
	}
}

// Interval returns the effective polling period.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}
