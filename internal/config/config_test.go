package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/huddle")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TriggerSource != TriggerPGListen {
		t.Errorf("TriggerSource = %q, want %q", cfg.TriggerSource, TriggerPGListen)
	}
	if cfg.ReminderInterval != 5*time.Minute {
		t.Errorf("ReminderInterval = %s", cfg.ReminderInterval)
	}
	if cfg.ReminderMaxCatchUp != 30*time.Minute {
		t.Errorf("ReminderMaxCatchUp = %s", cfg.ReminderMaxCatchUp)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "text" {
		t.Errorf("logging = %v/%s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "MONGO")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("REMINDER_INTERVAL", "1m")
	t.Setenv("REMINDER_WORKERS", "0")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ALLOW_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendMongo || cfg.TriggerSource != TriggerMongoStream {
		t.Errorf("backend/trigger = %s/%s", cfg.StoreBackend, cfg.TriggerSource)
	}
	if cfg.ReminderInterval != time.Minute {
		t.Errorf("ReminderInterval = %s", cfg.ReminderInterval)
	}
	if cfg.ReminderWorkers != 1 {
		t.Errorf("ReminderWorkers = %d, want floor of 1", cfg.ReminderWorkers)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if len(cfg.CORSAllowOrigins) != 2 || cfg.CORSAllowOrigins[1] != "https://b.example" {
		t.Errorf("CORSAllowOrigins = %v", cfg.CORSAllowOrigins)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "unknown backend",
			env:  map[string]string{"STORE_BACKEND": "dynamo"},
			want: "unknown STORE_BACKEND",
		},
		{
			name: "firestore without project",
			env:  map[string]string{"STORE_BACKEND": "firestore"},
			want: "FIREBASE_PROJECT_ID",
		},
		{
			name: "postgres without url",
			env:  map[string]string{"STORE_BACKEND": "postgres"},
			want: "DATABASE_URL",
		},
		{
			name: "non-positive interval",
			env:  map[string]string{"STORE_BACKEND": "postgres", "DATABASE_URL": "x", "REMINDER_INTERVAL": "0s"},
			want: "REMINDER_INTERVAL",
		},
		{
			name: "mongostream on postgres",
			env:  map[string]string{"STORE_BACKEND": "postgres", "DATABASE_URL": "x", "TRIGGER_SOURCE": "mongostream"},
			want: "STORE_BACKEND=mongo",
		},
		{
			name: "pglisten without database",
			env:  map[string]string{"STORE_BACKEND": "mongo", "MONGO_URI": "x", "TRIGGER_SOURCE": "pglisten"},
			want: "DATABASE_URL",
		},
		{
			name: "unknown trigger",
			env:  map[string]string{"STORE_BACKEND": "mongo", "MONGO_URI": "x", "TRIGGER_SOURCE": "kafka"},
			want: "unknown TRIGGER_SOURCE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"FIREBASE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "FIREBASE_CREDENTIALS_FILE", "DATABASE_URL", "MONGO_URI"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestHTTPTriggerNeedsNoFeed(t *testing.T) {
	t.Setenv("STORE_BACKEND", "firestore")
	t.Setenv("FIREBASE_PROJECT_ID", "huddle-dev")
	t.Setenv("TRIGGER_SOURCE", "http")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TriggerSource != TriggerHTTP {
		t.Fatalf("TriggerSource = %q", cfg.TriggerSource)
	}
}

func TestDatabaseURLIgnoresBackendValidation(t *testing.T) {
	// The default firestore backend would fail Load without a project.
	t.Setenv("STORE_BACKEND", "firestore")
	t.Setenv("FIREBASE_PROJECT_ID", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("FIREBASE_CREDENTIALS_FILE", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/huddle")

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without a firebase project")
	}
	url, err := DatabaseURL()
	if err != nil || url != "postgres://localhost/huddle" {
		t.Fatalf("DatabaseURL = %q, %v", url, err)
	}

	t.Setenv("DATABASE_URL", "")
	if _, err := DatabaseURL(); err == nil {
		t.Fatal("empty DATABASE_URL accepted")
	}
}
