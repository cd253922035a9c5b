package reminder

import (
	"fmt"
	"strings"
	"time"
)

// LeadResult tracks the outcome of one lead-time block of a sweep.
type LeadResult struct {
	Lead     string
	From     time.Time
	To       time.Time
	Fallback bool // the flag-filtered query failed and the broad query was used

	Found          int // games returned by the window query
	Skipped        int // already flagged (fallback path only)
	Dispatched     int // games whose reminder reached the transport
	DispatchFailed int
	NoRecipients   int // missing team, nobody confirmed, or no eligible tokens
	Marked         int
	Errors         []string
	Duration       time.Duration
}

// Summary returns a human-readable summary.
func (r *LeadResult) Summary() string {
	status := "ok"
	if len(r.Errors) > 0 {
		status = "ERRORS"
	}
	fb := ""
	if r.Fallback {
		fb = " fallback=true"
	}
	return fmt.Sprintf("lead=%s found=%d sent=%d send_failed=%d empty=%d skipped=%d marked=%d%s status=%s",
		r.Lead, r.Found, r.Dispatched, r.DispatchFailed, r.NoRecipients, r.Skipped, r.Marked, fb, status)
}

// SweepResult tracks the outcome of one full sweep.
type SweepResult struct {
	At       time.Time
	Leads    []LeadResult
	Duration time.Duration
}

// Lead returns the result for the named lead, or nil.
func (r *SweepResult) Lead(name string) *LeadResult {
	for i := range r.Leads {
		if r.Leads[i].Lead == name {
			return &r.Leads[i]
		}
	}
	return nil
}

// Errors flattens every lead's errors, prefixed with the lead name.
func (r *SweepResult) Errors() []string {
	var out []string
	for _, l := range r.Leads {
		for _, e := range l.Errors {
			out = append(out, l.Lead+": "+e)
		}
	}
	return out
}

// Summary returns a human-readable summary.
func (r *SweepResult) Summary() string {
	parts := make([]string, 0, len(r.Leads))
	found, sent, marked := 0, 0, 0
	for i := range r.Leads {
		l := &r.Leads[i]
		parts = append(parts, fmt.Sprintf("%s:%d/%d", l.Lead, l.Dispatched, l.Found))
		found += l.Found
		sent += l.Dispatched
		marked += l.Marked
	}
	return fmt.Sprintf("at=%s found=%d sent=%d marked=%d errors=%d leads=[%s] dur=%s",
		r.At.UTC().Format(time.RFC3339), found, sent, marked, len(r.Errors()),
		strings.Join(parts, " "), r.Duration.Round(time.Millisecond))
}
