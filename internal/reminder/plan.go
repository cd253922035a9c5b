package reminder

import (
	"time"

	"github.com/albapepper/huddle/internal/store"
)

// Reminder states reported by Plan.
const (
	StatePending  = "pending"
	StateDue      = "due"
	StateSent     = "sent"
	StateMissed   = "missed"
	StateInactive = "inactive"
)

// LeadStatus describes one lead's reminder for a game. A sweep at time t
// picks the game up when DueFrom < t <= DueUntil.
type LeadStatus struct {
	Lead     string    `json:"lead"`
	Flag     string    `json:"flag"`
	Sent     bool      `json:"sent"`
	State    string    `json:"state"`
	DueFrom  time.Time `json:"due_from"`
	DueUntil time.Time `json:"due_until"`
}

// Plan reports, for every lead, when the game's reminder falls due and
// whether its flag is already set.
func Plan(g store.Game, now time.Time, interval time.Duration) []LeadStatus {
	out := make([]LeadStatus, 0, len(Leads))
	for _, l := range Leads {
		until := g.StartsAt.Add(-l.Offset)
		st := LeadStatus{
			Lead:     l.Name,
			Flag:     string(l.Flag),
			Sent:     g.ReminderSent(l.Flag),
			DueFrom:  until.Add(-interval),
			DueUntil: until,
		}
		switch {
		case st.Sent:
			st.State = StateSent
		case !g.Active:
			st.State = StateInactive
		case now.After(st.DueUntil):
			st.State = StateMissed
		case now.After(st.DueFrom):
			st.State = StateDue
		default:
			st.State = StatePending
		}
		out = append(out, st)
	}
	return out
}
