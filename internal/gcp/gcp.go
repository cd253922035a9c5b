// Package gcp builds the Google Cloud clients shared by the Firestore
// backend, FCM and the Pub/Sub trigger from one set of credentials.
package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/albapepper/huddle/internal/config"
)

// ClientOptions returns the credentials option, if a file is configured.
// Without one the clients fall back to application default credentials.
func ClientOptions(cfg *config.Config) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}
	return opts
}

// NewApp initializes the Firebase app. The project id is taken from the
// credentials when FIREBASE_PROJECT_ID is unset.
func NewApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	var fbCfg *firebase.Config
	if cfg.FirebaseProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.FirebaseProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	return app, nil
}

// NewMessaging returns the FCM client for app.
func NewMessaging(ctx context.Context, app *firebase.App) (*messaging.Client, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}
	return client, nil
}

// NewPubSub creates a Pub/Sub client for the configured project.
func NewPubSub(ctx context.Context, cfg *config.Config) (*pubsub.Client, error) {
	project := cfg.FirebaseProjectID
	if project == "" {
		project = pubsub.DetectProjectID
	}
	client, err := pubsub.NewClient(ctx, project, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return client, nil
}
