package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/huddle/internal/api/respond"
	"github.com/albapepper/huddle/internal/reminder"
	"github.com/albapepper/huddle/internal/store"
)

type leadJSON struct {
	Lead           string    `json:"lead"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	Fallback       bool      `json:"fallback,omitempty"`
	Found          int       `json:"found"`
	Skipped        int       `json:"skipped"`
	Dispatched     int       `json:"dispatched"`
	DispatchFailed int       `json:"dispatch_failed"`
	NoRecipients   int       `json:"no_recipients"`
	Marked         int       `json:"marked"`
	Errors         []string  `json:"errors,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
}

type sweepJSON struct {
	At         time.Time  `json:"at"`
	Summary    string     `json:"summary"`
	Leads      []leadJSON `json:"leads"`
	Errors     []string   `json:"errors,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

func newSweepJSON(res reminder.SweepResult) sweepJSON {
	out := sweepJSON{
		At:         res.At,
		Summary:    res.Summary(),
		Errors:     res.Errors(),
		DurationMS: res.Duration.Milliseconds(),
		Leads:      make([]leadJSON, 0, len(res.Leads)),
	}
	for _, l := range res.Leads {
		out.Leads = append(out.Leads, leadJSON{
			Lead:           l.Lead,
			From:           l.From,
			To:             l.To,
			Fallback:       l.Fallback,
			Found:          l.Found,
			Skipped:        l.Skipped,
			Dispatched:     l.Dispatched,
			DispatchFailed: l.DispatchFailed,
			NoRecipients:   l.NoRecipients,
			Marked:         l.Marked,
			Errors:         l.Errors,
			DurationMS:     l.Duration.Milliseconds(),
		})
	}
	return out
}

// RunReminderSweep runs one reminder sweep. Target for an external
// scheduler when the in-process worker is disabled.
// @Summary Run reminder sweep
// @Tags tasks
// @Produce json
// @Param at query string false "Sweep time (RFC3339), defaults to now"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorBody
// @Security TaskToken
// @Router /tasks/reminders [post]
func (h *Handler) RunReminderSweep(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if at := r.URL.Query().Get("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			respond.ErrorDetail(w, http.StatusBadRequest, respond.CodeInvalidTime,
				"at must be an RFC3339 timestamp", err.Error())
			return
		}
		now = t
	}

	res := h.sweeper.Sweep(r.Context(), now)
	respond.JSON(w, http.StatusOK, newSweepJSON(res))
}

// GetGameReminders reports each lead's window and flag state for one game.
// @Summary Reminder status for a game
// @Tags reminders
// @Produce json
// @Param gameID path string true "Game ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} respond.ErrorBody
// @Security TaskToken
// @Router /api/v1/games/{gameID}/reminders [get]
func (h *Handler) GetGameReminders(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	g, err := h.store.GetGame(r.Context(), gameID)
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, respond.CodeNotFound, "Game not found: "+gameID)
		return
	}
	if err != nil {
		h.logger.Error("Failed to load game", "game_id", gameID, "error", err)
		respond.Error(w, http.StatusInternalServerError, respond.CodeStoreError, "Failed to load game")
		return
	}

	now := h.now()
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"game_id":   g.ID,
		"team_id":   g.TeamID,
		"starts_at": g.StartsAt,
		"active":    g.Active,
		"checked":   now.UTC(),
		"reminders": reminder.Plan(*g, now, h.sweeper.Interval()),
	})
}
