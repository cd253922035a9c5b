package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/albapepper/huddle/internal/api/respond"
	"github.com/albapepper/huddle/internal/trigger"
)

const maxEventBody = 1 << 20

// eventID returns the delivery id a pusher attached, if any. CloudEvents in
// binary mode carry it as ce-id.
func eventID(r *http.Request) string {
	if id := r.Header.Get("Ce-Id"); id != "" {
		return id
	}
	return r.Header.Get("X-Event-Id")
}

// FirestoreEvent accepts a pushed Firestore document event and dispatches
// it. Handler failures are logged and acknowledged with 200 so the pusher
// does not redeliver.
// @Summary Receive a Firestore document event
// @Tags events
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Success 202 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorBody
// @Security TaskToken
// @Router /events/firestore [post]
func (h *Handler) FirestoreEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidBody, "Failed to read request body")
		return
	}

	ev, err := trigger.DecodeFirestoreEvent(body, eventID(r))
	if errors.Is(err, trigger.ErrIgnored) {
		respond.JSON(w, http.StatusAccepted, map[string]interface{}{
			"status": "ignored",
			"reason": err.Error(),
		})
		return
	}
	if err != nil {
		respond.ErrorDetail(w, http.StatusBadRequest, respond.CodeInvalidEvent, "Malformed Firestore event", err.Error())
		return
	}

	status := "handled"
	if err := h.events.Handle(r.Context(), ev); err != nil {
		h.logger.Warn("Event handler failed", "source", "http", "kind", ev.Kind, "event_id", ev.ID, "error", err)
		status = "failed"
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"kind":     ev.Kind,
		"event_id": ev.ID,
	})
}
