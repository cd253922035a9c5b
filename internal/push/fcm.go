package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
)

// fcmMaxTokens is the FCM limit on tokens per multicast request.
const fcmMaxTokens = 500

// multicaster is the subset of *messaging.Client used by FCMSender.
type multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMSender sends push notifications via Firebase Cloud Messaging.
type FCMSender struct {
	client multicaster
	logger *slog.Logger
}

// NewFCMSender wraps a messaging client obtained from the Firebase app.
func NewFCMSender(client *messaging.Client, logger *slog.Logger) *FCMSender {
	return &FCMSender{client: client, logger: logger}
}

// SendMulticast sends msg to every token, in chunks of at most 500. A chunk
// that fails outright is logged and counted as failed; the remaining chunks
// are still attempted. The returned error joins every chunk-level failure.
func (s *FCMSender) SendMulticast(ctx context.Context, tokens []string, msg Message) (Result, error) {
	var (
		result Result
		errs   []error
	)
	if len(tokens) == 0 {
		return result, nil
	}

	for start := 0; start < len(tokens); start += fcmMaxTokens {
		end := min(start+fcmMaxTokens, len(tokens))
		chunk := tokens[start:end]

		resp, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       chunk,
			Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
			Data:         msg.Data,
		})
		if err != nil {
			result.FailureCount += len(chunk)
			errs = append(errs, fmt.Errorf("send multicast chunk %d-%d: %w", start, end, err))
			continue
		}

		result.SuccessCount += resp.SuccessCount
		result.FailureCount += resp.FailureCount
		for i, r := range resp.Responses {
			if r.Success || i >= len(chunk) {
				continue
			}
			if messaging.IsUnregistered(r.Error) {
				result.Unregistered = append(result.Unregistered, chunk[i])
			}
			s.logger.Debug("FCM token send failed", "token", redact(chunk[i]), "error", r.Error)
		}
	}

	s.logger.Info("FCM multicast sent",
		"type", msg.Type(),
		"success", result.SuccessCount,
		"failure", result.FailureCount,
		"unregistered", len(result.Unregistered))
	return result, errors.Join(errs...)
}

func redact(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}
