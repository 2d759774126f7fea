package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/example/stable-scheduler/internal/logging"
	"github.com/example/stable-scheduler/internal/persistence"
)

const envPrefix = "STABLE_"

// Store drivers accepted by STABLE_STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const defaultSQLiteDSN = "file:stable.db?_pragma=foreign_keys(1)"

// Config captures environment driven configuration values for the generator.
type Config struct {
	StoreDriver      string
	StoreDSN         string
	MigrateOnStart   bool
	CronSchedule     string
	Location         *time.Location
	RunTimeout       time.Duration
	RunRetries       int
	RetryBackoff     time.Duration
	BatchSize        int
	DefaultDaysAhead int
	HolidayFile      string
	RedisAddr        string
	RedisUsername    string
	RedisPassword    string
	LeaseTTL         time.Duration
	StatusAddr       string
	LogLevel         slog.Level
	LogFormat        string
}

// RedisEnabled reports whether the Redis lease should be used.
func (c Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// Load reads an optional .env file from the working directory and then parses
// the process environment.
func Load() (Config, error) {
	return LoadFiles(".env")
}

// LoadFiles reads the given dotenv files, skipping ones that do not exist,
// and then parses the process environment. Variables already set in the
// environment win over file values.
//
// Defaults are applied for every unset key. All missing and invalid keys are
// collected and reported in a single error.
func LoadFiles(files ...string) (Config, error) {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	cfg := Config{
		StoreDriver:      DriverSQLite,
		MigrateOnStart:   true,
		CronSchedule:     "0 2 * * *",
		RunTimeout:       9 * time.Minute,
		RunRetries:       3,
		RetryBackoff:     30 * time.Second,
		BatchSize:        400,
		DefaultDaysAhead: 30,
		LeaseTTL:         15 * time.Minute,
		LogLevel:         slog.LevelInfo,
		LogFormat:        "json",
	}

	p := parser{}

	switch driver := strings.ToLower(p.lookup("STORE_DRIVER")); driver {
	case "":
	case DriverSQLite, DriverPostgres, DriverMemory:
		cfg.StoreDriver = driver
	default:
		p.invalidKey("STORE_DRIVER")
	}

	cfg.StoreDSN = p.lookup("STORE_DSN")
	if cfg.StoreDSN == "" {
		switch cfg.StoreDriver {
		case DriverSQLite:
			cfg.StoreDSN = defaultSQLiteDSN
		case DriverPostgres:
			p.missingKey("STORE_DSN")
		}
	}

	p.boolean("MIGRATE_ON_START", &cfg.MigrateOnStart)

	if spec := p.lookup("CRON_SCHEDULE"); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			p.invalidKey("CRON_SCHEDULE")
		} else {
			cfg.CronSchedule = spec
		}
	}

	tz := p.lookup("TIMEZONE")
	if tz == "" {
		tz = "Europe/Stockholm"
	}
	if loc, err := time.LoadLocation(tz); err != nil {
		p.invalidKey("TIMEZONE")
	} else {
		cfg.Location = loc
	}

	p.duration("RUN_TIMEOUT", &cfg.RunTimeout)
	p.integer("RUN_RETRIES", &cfg.RunRetries, 0, 10)
	p.duration("RETRY_BACKOFF", &cfg.RetryBackoff)
	p.integer("BATCH_SIZE", &cfg.BatchSize, 1, persistence.MaxBatchOperations)
	p.integer("DEFAULT_DAYS_AHEAD", &cfg.DefaultDaysAhead, 1, 3650)
	p.duration("LEASE_TTL", &cfg.LeaseTTL)

	cfg.HolidayFile = p.lookup("HOLIDAY_FILE")
	cfg.RedisAddr = p.lookup("REDIS_ADDR")
	cfg.RedisUsername = p.lookup("REDIS_USERNAME")
	cfg.RedisPassword = p.lookup("REDIS_PASSWORD")
	cfg.StatusAddr = p.lookup("STATUS_ADDR")

	if value := p.lookup("LOG_LEVEL"); value != "" {
		if level, err := logging.ParseLevel(value); err != nil {
			p.invalidKey("LOG_LEVEL")
		} else {
			cfg.LogLevel = level
		}
	}
	switch format := strings.ToLower(p.lookup("LOG_FORMAT")); format {
	case "":
	case "json", "text":
		cfg.LogFormat = format
	default:
		p.invalidKey("LOG_FORMAT")
	}

	if len(p.missing) > 0 {
		return Config{}, fmt.Errorf("config: missing required environment variables: %s", strings.Join(p.missing, ", "))
	}
	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("config: invalid environment variables: %s", strings.Join(p.invalid, ", "))
	}
	return cfg, nil
}

type parser struct {
	missing []string
	invalid []string
}

func (p *parser) lookup(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func (p *parser) missingKey(key string) {
	p.missing = append(p.missing, envPrefix+key)
}

func (p *parser) invalidKey(key string) {
	p.invalid = append(p.invalid, envPrefix+key)
}

func (p *parser) boolean(key string, dst *bool) {
	value := p.lookup(key)
	if value == "" {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		p.invalidKey(key)
		return
	}
	*dst = parsed
}

func (p *parser) integer(key string, dst *int, minValue, maxValue int) {
	value := p.lookup(key)
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < minValue || parsed > maxValue {
		p.invalidKey(key)
		return
	}
	*dst = parsed
}

func (p *parser) duration(key string, dst *time.Duration) {
	value := p.lookup(key)
	if value == "" {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		p.invalidKey(key)
		return
	}
	*dst = parsed
}
