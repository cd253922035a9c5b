// Command huddlectl is the operator CLI for the notification service.
//
// Usage:
//
//	huddlectl reminders sweep --at 2026-10-19T18:00:00Z
//	huddlectl reminders due --lead 2h
//	huddlectl events replay game-created --id G1
//	huddlectl events replay game-updated --id G1 --before '{"u1":"confirmed"}'
//	huddlectl events replay chat --team T1 --id M1
//	huddlectl db migrate
//	huddlectl push test --user U1
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/huddle/internal/app"
	"github.com/albapepper/huddle/internal/config"
	"github.com/albapepper/huddle/internal/db"
	"github.com/albapepper/huddle/internal/push"
	"github.com/albapepper/huddle/internal/reminder"
	"github.com/albapepper/huddle/internal/store"
	"github.com/albapepper/huddle/internal/trigger"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "huddlectl",
		Short:        "Huddle notification service CLI",
		SilenceUsage: true,
	}

	root.AddCommand(remindersCmd())
	root.AddCommand(eventsCmd())
	root.AddCommand(dbCmd())
	root.AddCommand(pushCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// parseAt returns now when at is empty.
func parseAt(at string) (time.Time, error) {
	if at == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be RFC3339: %w", err)
	}
	return t, nil
}

// --------------------------------------------------------------------------
// reminders command
// --------------------------------------------------------------------------

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Run or inspect the reminder sweep",
	}
	cmd.AddCommand(remindersSweepCmd())
	cmd.AddCommand(remindersDueCmd())
	return cmd
}

func remindersSweepCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reminder sweep (sends notifications and sets flags)",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			return runApp(func(ctx context.Context, a *app.App) error {
				result := a.Scheduler.Sweep(ctx, now)
				for i := range result.Leads {
					logger.Info("Lead finished", "summary", result.Leads[i].Summary())
				}
				logger.Info("Reminder sweep finished", "summary", result.Summary())
				for _, e := range result.Errors() {
					logger.Error("sweep error", "error", e)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Sweep time (RFC3339); default now")
	return cmd
}

func remindersDueCmd() *cobra.Command {
	var lead, at string
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List games a sweep would remind for, without sending",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := reminder.LeadByName(lead)
			if err != nil {
				return err
			}
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			return runApp(func(ctx context.Context, a *app.App) error {
				games, err := a.Scheduler.Due(ctx, l, now)
				if err != nil {
					return err
				}
				from, to := reminder.Window(now, l.Offset, a.Scheduler.Interval())
				logger.Info("Due games", "lead", l.Name, "from", from, "to", to, "count", len(games))
				for _, g := range games {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tteam=%s\tstarts=%s\tconfirmed=%d\n",
						g.ID, g.TeamID, g.StartsAt.UTC().Format(time.RFC3339), len(g.ConfirmedUserIDs()))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&lead, "lead", "24h", "Lead time (24h, 2h, 1h)")
	cmd.Flags().StringVar(&at, "at", "", "Sweep time (RFC3339); default now")
	return cmd
}

// --------------------------------------------------------------------------
// events command
// --------------------------------------------------------------------------

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Document change events",
	}
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Run a handler against a stored document, as if it had just changed",
	}
	replay.AddCommand(replayGameCreatedCmd())
	replay.AddCommand(replayGameUpdatedCmd())
	replay.AddCommand(replayChatCmd())
	cmd.AddCommand(replay)
	return cmd
}

func replayGameCreatedCmd() *cobra.Command {
	var gameID string
	cmd := &cobra.Command{
		Use:   "game-created",
		Short: "Announce a game to its team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if gameID == "" {
				return fmt.Errorf("--id is required")
			}
			return runApp(func(ctx context.Context, a *app.App) error {
				return replay(ctx, a, trigger.Event{Kind: trigger.KindGameCreated, GameID: gameID})
			})
		},
	}
	cmd.Flags().StringVar(&gameID, "id", "", "Game ID")
	return cmd
}

func replayGameUpdatedCmd() *cobra.Command {
	var gameID, before string
	cmd := &cobra.Command{
		Use:   "game-updated",
		Short: "Compare a game's confirmations against --before and notify the admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if gameID == "" {
				return fmt.Errorf("--id is required")
			}
			var prior map[string]string
			if before != "" {
				if err := json.Unmarshal([]byte(before), &prior); err != nil {
					return fmt.Errorf("--before must be a JSON object of user id to status: %w", err)
				}
			}
			return runApp(func(ctx context.Context, a *app.App) error {
				after, err := a.Store.GetGame(ctx, gameID)
				if err != nil {
					return err
				}
				prev := *after
				prev.Confirmations = prior
				return replay(ctx, a, trigger.Event{
					Kind:   trigger.KindGameUpdated,
					GameID: gameID,
					TeamID: after.TeamID,
					Before: &prev,
					After:  after,
				})
			})
		},
	}
	cmd.Flags().StringVar(&gameID, "id", "", "Game ID")
	cmd.Flags().StringVar(&before, "before", "", `Prior confirmations, e.g. '{"u1":"confirmed"}'; empty means none`)
	return cmd
}

func replayChatCmd() *cobra.Command {
	var teamID, messageID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Fan out a stored chat message to the team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" || messageID == "" {
				return fmt.Errorf("--team and --id are required")
			}
			return runApp(func(ctx context.Context, a *app.App) error {
				return replay(ctx, a, trigger.Event{
					Kind:      trigger.KindChatMessageCreated,
					TeamID:    teamID,
					MessageID: messageID,
				})
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	cmd.Flags().StringVar(&messageID, "id", "", "Message ID")
	return cmd
}

// replay dispatches ev without an event id, so deduplication never skips it.
func replay(ctx context.Context, a *app.App, ev trigger.Event) error {
	start := time.Now()
	if err := a.Dispatcher.Handle(ctx, ev); err != nil {
		return err
	}
	logger.Info("Event replayed", "kind", ev.Kind, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// --------------------------------------------------------------------------
// db command
// --------------------------------------------------------------------------

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Postgres backend schema",
	}
	var printOnly bool
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the reference schema and change-notification triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				fmt.Fprint(cmd.OutOrStdout(), db.Schema())
				return nil
			}
			url, err := config.DatabaseURL()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			if err := db.Migrate(ctx, url); err != nil {
				return err
			}
			logger.Info("Schema applied")
			return nil
		},
	}
	migrate.Flags().BoolVar(&printOnly, "print", false, "Print the schema instead of applying it")
	cmd.AddCommand(migrate)
	return cmd
}

// --------------------------------------------------------------------------
// push command
// --------------------------------------------------------------------------

func pushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push transport checks",
	}
	var userID, title, body string
	test := &cobra.Command{
		Use:   "test",
		Short: "Send a test notification to every device of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return runApp(func(ctx context.Context, a *app.App) error {
				u, err := a.Store.GetUser(ctx, userID)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("user %s not found", userID)
				}
				if err != nil {
					return err
				}
				if len(u.Tokens) == 0 {
					logger.Warn("User has no registered devices", "user_id", userID)
					return nil
				}
				msg := push.Message{
					Title: title,
					Body:  body,
					Data:  map[string]string{"type": push.TypeTest},
				}
				if err := a.Notifier.Dispatch(ctx, u.Tokens, msg); err != nil {
					return err
				}
				logger.Info("Test notification sent", "user_id", userID, "devices", len(u.Tokens))
				return nil
			})
		},
	}
	test.Flags().StringVar(&userID, "user", "", "User ID")
	test.Flags().StringVar(&title, "title", "Huddle", "Notification title")
	test.Flags().StringVar(&body, "body", "Test notification", "Notification body")
	cmd.AddCommand(test)
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// runApp handles config loading, component wiring and context cancellation.
func runApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = cfg.NewLogger()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
