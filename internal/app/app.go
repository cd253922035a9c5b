// Package app wires the configured store, push transport, notifier,
// reminder scheduler and trigger dispatcher. Shared by cmd/huddle and
// cmd/huddlectl so both run against the same components.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"

	"github.com/albapepper/huddle/internal/config"
	"github.com/albapepper/huddle/internal/db"
	"github.com/albapepper/huddle/internal/dedup"
	"github.com/albapepper/huddle/internal/gcp"
	"github.com/albapepper/huddle/internal/notify"
	"github.com/albapepper/huddle/internal/push"
	"github.com/albapepper/huddle/internal/reminder"
	"github.com/albapepper/huddle/internal/store"
	fsstore "github.com/albapepper/huddle/internal/store/firestore"
	mongostore "github.com/albapepper/huddle/internal/store/mongo"
	pgstore "github.com/albapepper/huddle/internal/store/postgres"
	"github.com/albapepper/huddle/internal/trigger"
)

// App holds the wired components.
type App struct {
	Config     *config.Config
	Store      store.Store
	Sender     push.Sender
	Notifier   *notify.Notifier
	Scheduler  *reminder.Scheduler
	Dispatcher *trigger.Dispatcher

	logger   *slog.Logger
	firebase *firebase.App
	mongo    *mongostore.Store
	closers  []func() error
}

// New connects the store and push transport and builds the service
// components on top of them. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openSender(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Notifier = notify.New(a.Store, a.Sender, notify.Options{
		PruneUnregistered: cfg.PruneUnregisteredTokens,
	}, logger)

	a.Scheduler = reminder.New(a.Store, a.Notifier, reminder.Options{
		Interval:   cfg.ReminderInterval,
		MaxCatchUp: cfg.ReminderMaxCatchUp,
		Workers:    cfg.ReminderWorkers,
		Timeout:    cfg.SweepTimeout,
	}, logger)

	a.Dispatcher = trigger.NewDispatcher(a.Notifier, a.Store, a.guard(ctx), logger)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.Store = pgstore.New(pool)
		a.logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)

	case config.BackendMongo:
		ms, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		a.Store, a.mongo = ms, ms
		a.logger.Info("Mongo connected", "database", cfg.MongoDatabase)

	default:
		fb, err := a.firebaseApp(ctx)
		if err != nil {
			return err
		}
		fs, err := fsstore.New(ctx, fb)
		if err != nil {
			return err
		}
		a.Store = fs
		a.logger.Info("Firestore connected", "project", cfg.FirebaseProjectID)
	}
	a.closers = append(a.closers, a.Store.Close)
	return nil
}

func (a *App) openSender(ctx context.Context) error {
	if !a.Config.PushEnabled {
		a.Sender = push.LogSender{Logger: a.logger}
		a.logger.Info("Push delivery disabled (PUSH_ENABLED=false), logging sends only")
		return nil
	}
	fb, err := a.firebaseApp(ctx)
	if err != nil {
		return err
	}
	client, err := gcp.NewMessaging(ctx, fb)
	if err != nil {
		return err
	}
	a.Sender = push.NewFCMSender(client, a.logger)
	return nil
}

func (a *App) firebaseApp(ctx context.Context) (*firebase.App, error) {
	if a.firebase != nil {
		return a.firebase, nil
	}
	fb, err := gcp.NewApp(ctx, a.Config)
	if err != nil {
		return nil, err
	}
	a.firebase = fb
	return fb, nil
}

// guard returns the Redis dedup guard, or an in-process one when Redis is
// not configured or unreachable.
func (a *App) guard(ctx context.Context) dedup.Guard {
	cfg := a.Config
	if cfg.RedisURL != "" {
		g, err := dedup.NewRedisGuard(ctx, cfg.RedisURL, cfg.EventDedupTTL)
		if err == nil {
			a.closers = append(a.closers, g.Close)
			a.logger.Info("Event dedup using Redis", "owner", g.Owner(), "ttl", cfg.EventDedupTTL)
			return g
		}
		a.logger.Warn("Redis unavailable, event dedup is per-process", "error", err)
	}
	return dedup.NewMemoryGuard(cfg.EventDedupTTL)
}

// StartTrigger starts the configured change feed in the background. The
// http source needs no feed; the API server receives pushed events.
func (a *App) StartTrigger(ctx context.Context) error {
	cfg := a.Config
	switch cfg.TriggerSource {
	case config.TriggerPGListen:
		go trigger.StartPGListener(ctx, cfg.DatabaseURL, a.Dispatcher, a.logger)

	case config.TriggerMongoStream:
		if a.mongo == nil {
			return errors.New("mongostream trigger requires the mongo backend")
		}
		go trigger.StartMongoStream(ctx, a.mongo.Database(), a.Dispatcher, a.logger)

	case config.TriggerPubSub:
		client, err := gcp.NewPubSub(ctx, cfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		go trigger.StartPubSub(ctx, client, cfg.PubSubSubscription, a.Dispatcher, a.logger)

	case config.TriggerHTTP:
		a.logger.Info("Document events accepted over HTTP", "path", "/events/firestore")

	default:
		a.logger.Info("Change triggers disabled (TRIGGER_SOURCE=none)")
	}
	return nil
}

// Close releases every connection in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
