package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/albapepper/huddle/internal/store"
)

type outcome int

const (
	outcomeNone outcome = iota
	outcomeSent
	outcomeSendFailed
	outcomeEmpty
)

// Sweep processes every lead time for the tick at now. Leads run in order
// and independently: a failure or panic in one is recorded in its
// LeadResult and the next lead still runs. Concurrent calls are serialized.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) SweepResult {
	s.running.Lock()
	defer s.running.Unlock()

	start := time.Now()
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	res := SweepResult{At: now}
	for _, l := range Leads {
		res.Leads = append(res.Leads, s.runLead(ctx, l, now))
	}
	res.Duration = time.Since(start)

	if errs := res.Errors(); len(errs) > 0 {
		s.logger.Warn("Reminder sweep finished with errors", "summary", res.Summary(), "errors", errs)
	} else {
		s.logger.Info("Reminder sweep complete", "summary", res.Summary())
	}
	return res
}

// Due returns the games the lead would notify for a sweep at now, without
// dispatching or writing flags. Gap bridging is not applied.
func (s *Scheduler) Due(ctx context.Context, l Lead, now time.Time) ([]store.Game, error) {
	from, to := Window(now, l.Offset, s.opts.Interval)
	games, _, err := s.query(ctx, l, from, to)
	if err != nil {
		return nil, err
	}
	out := games[:0]
	for _, g := range games {
		if !g.ReminderSent(l.Flag) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *Scheduler) runLead(ctx context.Context, l Lead, now time.Time) (res LeadResult) {
	start := time.Now()
	res.Lead = l.Name
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Reminder lead panicked", "lead", l.Name, "panic", r)
			res.Errors = append(res.Errors, fmt.Sprintf("panic: %v", r))
		}
		res.Duration = time.Since(start)
	}()

	from, to := s.window(l, now)
	res.From, res.To = from, to

	games, fallback, err := s.query(ctx, l, from, to)
	res.Fallback = fallback
	if err != nil {
		s.logger.Error("Reminder query failed", "lead", l.Name, "error", err)
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	res.Found = len(games)

	interrupted := false
	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(s.opts.Workers)

	for _, g := range games {
		// The fallback query does not filter on the flag.
		if g.ReminderSent(l.Flag) {
			mu.Lock()
			res.Skipped++
			mu.Unlock()
			continue
		}
		if err := ctx.Err(); err != nil {
			mu.Lock()
			res.Errors = append(res.Errors, fmt.Sprintf("interrupted: %v", err))
			mu.Unlock()
			interrupted = true
			break
		}
		eg.Go(func() error {
			out, err := s.safeProcess(ctx, l, g)

			mu.Lock()
			defer mu.Unlock()
			switch out {
			case outcomeSent:
				res.Dispatched++
			case outcomeSendFailed:
				res.DispatchFailed++
			case outcomeEmpty:
				res.NoRecipients++
			}
			if err != nil {
				s.logger.Warn("Reminder not recorded", "lead", l.Name, "game_id", g.ID, "error", err)
				res.Errors = append(res.Errors, fmt.Sprintf("game %s: %v", g.ID, err))
			} else {
				res.Marked++
			}
			return nil
		})
	}
	_ = eg.Wait()

	// An interrupted window is left for the next sweep to bridge.
	if !interrupted {
		s.advance(l.Flag, to)
	}
	return res
}

// window returns the due window for l, stretched back to the previous
// sweep's upper bound when ticks were missed (at most MaxCatchUp).
func (s *Scheduler) window(l Lead, now time.Time) (time.Time, time.Time) {
	from, to := Window(now, l.Offset, s.opts.Interval)
	if s.opts.MaxCatchUp == 0 {
		return from, to
	}

	s.mu.Lock()
	last, ok := s.lastHigh[l.Flag]
	s.mu.Unlock()
	if !ok || !last.Before(from) {
		return from, to
	}
	if floor := from.Add(-s.opts.MaxCatchUp); last.Before(floor) {
		last = floor
	}
	return last, to
}

func (s *Scheduler) advance(flag store.ReminderFlag, to time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastHigh[flag]; !ok || to.After(last) {
		s.lastHigh[flag] = to
	}
}

// query runs the flag-filtered window query, falling back to the window
// alone when the compound query fails.
func (s *Scheduler) query(ctx context.Context, l Lead, from, to time.Time) ([]store.Game, bool, error) {
	q := store.DueQuery{From: from, To: to, Flag: l.Flag, UnsentOnly: true}
	games, err := s.store.DueGames(ctx, q)
	if err == nil {
		return games, false, nil
	}
	s.logger.Warn("Reminder query failed, retrying without flag filter",
		"lead", l.Name, "error", err)

	q.UnsentOnly = false
	games, ferr := s.store.DueGames(ctx, q)
	if ferr != nil {
		return nil, true, fmt.Errorf("due games %s: %w", l.Name, errors.Join(err, ferr))
	}
	return games, true, nil
}

func (s *Scheduler) safeProcess(ctx context.Context, l Lead, g store.Game) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = outcomeNone, fmt.Errorf("panic: %v", r)
		}
	}()
	return s.processGame(ctx, l, g)
}

// processGame sends one reminder and sets its flag. The flag is written
// whether or not anything was sent; only a failed team read leaves it
// unset so a later tick inside the window can retry.
func (s *Scheduler) processGame(ctx context.Context, l Lead, g store.Game) (outcome, error) {
	team, err := s.notifier.FetchTeam(ctx, g.TeamID)
	if err != nil {
		return outcomeNone, err
	}

	out := outcomeEmpty
	if team != nil {
		var recipients []string
		if l.Attendance {
			recipients = g.ConfirmedUserIDs()
			sort.Strings(recipients)
		} else {
			recipients = team.MemberIDs
		}

		tokens := s.notifier.ResolveTokens(ctx, recipients, store.CategoryGameReminders)
		if len(tokens) > 0 {
			if err := s.notifier.Dispatch(ctx, tokens, l.Message(g, team)); err != nil {
				out = outcomeSendFailed
			} else {
				out = outcomeSent
			}
		}
	}

	if err := s.store.MarkReminderSent(ctx, g.ID, l.Flag); err != nil {
		return out, fmt.Errorf("mark %s: %w", l.Flag, err)
	}
	return out, nil
}
