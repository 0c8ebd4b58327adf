package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/wordparty/go/internal/room"
)

// Config is the gateway's process configuration, read from the environment.
type Config struct {
	Port     string
	LogLevel string

	WordsFile string
	Database  Database

	NATSURL        string
	AllowedOrigins []string

	ReconnectGrace time.Duration
	IntentRate     float64
	IntentBurst    int

	MaxRooms       int
	MaxCapacity    int
	RoundDuration  time.Duration
	SkipCooldown   time.Duration
	WinMode        room.WinMode
	WinTarget      int
	RoomCapacity   int
	DestroyOnEmpty bool
	DestroyOnEnd   bool
}

// Database holds the optional Postgres word source settings. URL wins over
// the individual DB_* fields when set.
type Database struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// Enabled reports whether words should be read from Postgres.
func (d Database) Enabled() bool {
	return d.URL != "" || d.Host != ""
}

// DSN returns the Postgres connection URL.
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// Load reads every setting from the environment, falling back to defaults
// for unset keys. Values that do not parse, or room defaults no room could be
// created with, are errors.
func Load() (Config, error) {
	def := room.DefaultConfig()
	e := &env{}
	cfg := Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		WordsFile: getEnv("WORDS_FILE", "words.yaml"),
		Database: Database{
			URL:      os.Getenv("WORDS_DATABASE_URL"),
			Host:     os.Getenv("DB_HOST"),
			Port:     e.getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "wordparty"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		NATSURL:        os.Getenv("NATS_URL"),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		ReconnectGrace: e.getEnvAsSeconds("RECONNECT_GRACE_SEC", 30*time.Second),
		IntentRate:     e.getEnvAsFloat("INTENT_RATE", 10),
		IntentBurst:    e.getEnvAsInt("INTENT_BURST", 20),
		MaxRooms:       e.getEnvAsInt("MAX_ROOMS", 0),
		MaxCapacity:    e.getEnvAsInt("ROOM_MAX_CAPACITY", 10),
		RoundDuration:  e.getEnvAsSeconds("ROUND_DURATION_SEC", def.RoundDuration),
		SkipCooldown:   e.getEnvAsSeconds("SKIP_COOLDOWN_SEC", def.SkipCooldown),
		WinMode:        room.WinMode(getEnv("WIN_MODE", string(def.Win.Mode))),
		WinTarget:      e.getEnvAsInt("WIN_TARGET", def.Win.Target),
		RoomCapacity:   e.getEnvAsInt("ROOM_CAPACITY", def.Capacity),
		DestroyOnEmpty: e.getEnvAsBool("DESTROY_ON_EMPTY", true),
		DestroyOnEnd:   e.getEnvAsBool("DESTROY_ON_END", true),
	}
	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}

	if cfg.ReconnectGrace < 0 {
		return Config{}, fmt.Errorf("RECONNECT_GRACE_SEC must not be negative")
	}
	if cfg.IntentRate <= 0 || cfg.IntentBurst < 1 {
		return Config{}, fmt.Errorf("INTENT_RATE and INTENT_BURST must be positive")
	}
	if cfg.MaxRooms < 0 {
		return Config{}, fmt.Errorf("MAX_ROOMS must not be negative")
	}
	if cfg.RoomCapacity > cfg.MaxCapacity {
		return Config{}, fmt.Errorf("ROOM_CAPACITY %d exceeds ROOM_MAX_CAPACITY %d", cfg.RoomCapacity, cfg.MaxCapacity)
	}
	if err := cfg.RoomDefaults().ValidateSettings(cfg.MaxCapacity); err != nil {
		return Config{}, fmt.Errorf("invalid room defaults: %w", err)
	}
	return cfg, nil
}

// RoomDefaults is the room config used when a createRoom intent omits fields.
func (c Config) RoomDefaults() room.Config {
	rc := room.DefaultConfig()
	rc.RoundDuration = c.RoundDuration
	rc.SkipCooldown = c.SkipCooldown
	rc.Win = room.WinCondition{Mode: c.WinMode, Target: c.WinTarget}
	rc.Capacity = c.RoomCapacity
	return rc
}

func (c Config) Registry() room.RegistryConfig {
	return room.RegistryConfig{
		MaxCapacity: c.MaxCapacity,
		MaxRooms:    c.MaxRooms,
		Destroy: room.DestroyPolicy{
			OnEmpty: c.DestroyOnEmpty,
			OnEnd:   c.DestroyOnEnd,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// env collects parse failures so Load can report every bad key at once.
type env struct {
	errs []error
}

func (e *env) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (e *env) getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return intValue
}

func (e *env) getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return f
}

func (e *env) getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return b
}

func (e *env) getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	secs, err := strconv.Atoi(value)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return time.Duration(secs) * time.Second
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
