// Package push delivers notification payloads to device tokens.
//
// The FCM sender is the production transport; LogSender stands in when push
// is disabled so the rest of the pipeline still runs end to end.
package push

import (
	"context"
	"log/slog"
)

// Payload type discriminators carried in Message.Data["type"].
const (
	TypeGameCreated         = "game_created"
	TypeGameReminder24h     = "game_reminder_24h"
	TypeGameReminder2h      = "game_reminder_2h"
	TypeGameReminder1h      = "game_reminder_1h"
	TypeConfirmationChanged = "confirmation_changed"
	TypeChatMessage         = "chat_message"
	TypeTest                = "test" // huddlectl push test
)

// Message is one notification: visible title/body plus a data map that
// always carries a "type" key.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// Type returns the payload discriminator.
func (m Message) Type() string {
	return m.Data["type"]
}

// Result summarizes a multicast send.
type Result struct {
	SuccessCount int
	FailureCount int
	// Unregistered lists tokens the transport reported as no longer valid.
	Unregistered []string
}

// Sender performs best-effort multicast delivery.
type Sender interface {
	SendMulticast(ctx context.Context, tokens []string, msg Message) (Result, error)
}

// LogSender logs sends instead of delivering them.
type LogSender struct {
	Logger *slog.Logger
}

// SendMulticast logs the message and reports every token as delivered.
func (s LogSender) SendMulticast(_ context.Context, tokens []string, msg Message) (Result, error) {
	s.Logger.Info("Push send (delivery disabled)",
		"type", msg.Type(), "tokens", len(tokens), "title", msg.Title, "body", msg.Body)
	return Result{SuccessCount: len(tokens)}, nil
}
