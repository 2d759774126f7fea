package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"STORE_DRIVER", "STORE_DSN", "MIGRATE_ON_START", "CRON_SCHEDULE", "TIMEZONE",
	"RUN_TIMEOUT", "RUN_RETRIES", "RETRY_BACKOFF", "BATCH_SIZE", "DEFAULT_DAYS_AHEAD",
	"HOLIDAY_FILE", "REDIS_ADDR", "REDIS_USERNAME", "REDIS_PASSWORD", "LEASE_TTL",
	"STATUS_ADDR", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every key for the duration of the test. Load treats empty
// values as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(envPrefix+key, "")
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {
	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)

		cfg, err := LoadFiles()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.StoreDriver != DriverSQLite || cfg.StoreDSN != defaultSQLiteDSN {
			t.Fatalf("unexpected default store %q %q", cfg.StoreDriver, cfg.StoreDSN)
		}
		if !cfg.MigrateOnStart {
			t.Fatalf("expected migrations on start by default")
		}
		if cfg.CronSchedule != "0 2 * * *" {
			t.Fatalf("unexpected default cron schedule %q", cfg.CronSchedule)
		}
		if cfg.Location == nil || cfg.Location.String() != "Europe/Stockholm" {
			t.Fatalf("unexpected default location %v", cfg.Location)
		}
		if cfg.RunTimeout != 9*time.Minute || cfg.RunRetries != 3 || cfg.RetryBackoff != 30*time.Second {
			t.Fatalf("unexpected retry defaults %s %d %s", cfg.RunTimeout, cfg.RunRetries, cfg.RetryBackoff)
		}
		if cfg.BatchSize != 400 || cfg.DefaultDaysAhead != 30 || cfg.LeaseTTL != 15*time.Minute {
			t.Fatalf("unexpected generation defaults %d %d %s", cfg.BatchSize, cfg.DefaultDaysAhead, cfg.LeaseTTL)
		}
		if cfg.RedisEnabled() {
			t.Fatalf("expected redis lease to be disabled by default")
		}
		if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
			t.Fatalf("unexpected log defaults %s %q", cfg.LogLevel, cfg.LogFormat)
		}
	})

	t.Run("parses explicit values", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STABLE_STORE_DRIVER", "Postgres")
		t.Setenv("STABLE_STORE_DSN", "postgres://stable@localhost/stable?sslmode=disable")
		t.Setenv("STABLE_MIGRATE_ON_START", "false")
		t.Setenv("STABLE_CRON_SCHEDULE", "30 3 * * *")
		t.Setenv("STABLE_TIMEZONE", "UTC")
		t.Setenv("STABLE_RUN_TIMEOUT", "5m")
		t.Setenv("STABLE_RUN_RETRIES", "0")
		t.Setenv("STABLE_BATCH_SIZE", "500")
		t.Setenv("STABLE_DEFAULT_DAYS_AHEAD", "60")
		t.Setenv("STABLE_REDIS_ADDR", "localhost:6379")
		t.Setenv("STABLE_STATUS_ADDR", ":8081")
		t.Setenv("STABLE_LOG_LEVEL", "debug")
		t.Setenv("STABLE_LOG_FORMAT", "text")

		cfg, err := LoadFiles()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.StoreDriver != DriverPostgres || cfg.MigrateOnStart {
			t.Fatalf("unexpected store settings %+v", cfg)
		}
		if cfg.CronSchedule != "30 3 * * *" || cfg.Location != time.UTC {
			t.Fatalf("unexpected schedule settings %q %v", cfg.CronSchedule, cfg.Location)
		}
		if cfg.RunTimeout != 5*time.Minute || cfg.RunRetries != 0 {
			t.Fatalf("unexpected run settings %s %d", cfg.RunTimeout, cfg.RunRetries)
		}
		if cfg.BatchSize != 500 || cfg.DefaultDaysAhead != 60 {
			t.Fatalf("unexpected generation settings %d %d", cfg.BatchSize, cfg.DefaultDaysAhead)
		}
		if !cfg.RedisEnabled() || cfg.StatusAddr != ":8081" {
			t.Fatalf("unexpected optional settings %+v", cfg)
		}
		if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
			t.Fatalf("unexpected log settings %s %q", cfg.LogLevel, cfg.LogFormat)
		}
	})

	t.Run("postgres requires a DSN", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STABLE_STORE_DRIVER", "postgres")

		_, err := LoadFiles()
		if err == nil {
			t.Fatalf("expected error when the DSN is missing")
		}
		expected := "config: missing required environment variables: STABLE_STORE_DSN"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STABLE_STORE_DRIVER", "firestore")
		t.Setenv("STABLE_CRON_SCHEDULE", "daily at two")
		t.Setenv("STABLE_TIMEZONE", "Mars/Olympus")
		t.Setenv("STABLE_BATCH_SIZE", "501")
		t.Setenv("STABLE_LEASE_TTL", "0s")
		t.Setenv("STABLE_MIGRATE_ON_START", "maybe")

		_, err := LoadFiles()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		for _, key := range []string{
			"STABLE_STORE_DRIVER",
			"STABLE_CRON_SCHEDULE",
			"STABLE_TIMEZONE",
			"STABLE_BATCH_SIZE",
			"STABLE_LEASE_TTL",
			"STABLE_MIGRATE_ON_START",
		} {
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s in %q", key, err.Error())
			}
		}
	})

	t.Run("reads dotenv files without overriding the environment", func(t *testing.T) {
		clearEnv(t)
		os.Unsetenv("STABLE_STATUS_ADDR")
		os.Unsetenv("STABLE_BATCH_SIZE")
		t.Cleanup(func() {
			os.Unsetenv("STABLE_STATUS_ADDR")
			os.Unsetenv("STABLE_BATCH_SIZE")
		})
		t.Setenv("STABLE_DEFAULT_DAYS_AHEAD", "14")

		path := filepath.Join(t.TempDir(), "generator.env")
		content := "STABLE_STATUS_ADDR=:9000\nSTABLE_BATCH_SIZE=250\nSTABLE_DEFAULT_DAYS_AHEAD=90\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write env file: %v", err)
		}

		cfg, err := LoadFiles(path, filepath.Join(t.TempDir(), "missing.env"))
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.StatusAddr != ":9000" || cfg.BatchSize != 250 {
			t.Fatalf("expected dotenv values, got %q %d", cfg.StatusAddr, cfg.BatchSize)
		}
		if cfg.DefaultDaysAhead != 14 {
			t.Fatalf("expected environment to win over dotenv, got %d", cfg.DefaultDaysAhead)
		}
	})
}
