// Package config loads raffled configuration from an optional YAML file and the
// environment. Environment variables override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/raffle/pkg/logger"
	automation "github.com/R3E-Network/raffle/packages/com.r3e.services.automation/service"
	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
	vrf "github.com/R3E-Network/raffle/packages/com.r3e.services.vrf"
)

// Config is the complete daemon configuration.
type Config struct {
	Raffle   RaffleConfig         `yaml:"raffle"`
	HTTP     HTTPConfig           `yaml:"http"`
	Database DatabaseConfig       `yaml:"database"`
	Redis    RedisConfig          `yaml:"redis"`
	Keeper   KeeperConfig         `yaml:"keeper"`
	VRF      VRFConfig            `yaml:"vrf"`
	Logging  logger.LoggingConfig `yaml:"logging"`
}

// RaffleConfig holds the engine's construction parameters.
type RaffleConfig struct {
	EntryFee             int64         `yaml:"entry_fee" env:"RAFFLE_ENTRY_FEE"`
	Interval             time.Duration `yaml:"interval" env:"RAFFLE_INTERVAL"`
	KeyHash              string        `yaml:"key_hash" env:"RAFFLE_KEY_HASH"`
	SubscriptionID       uint64        `yaml:"subscription_id" env:"RAFFLE_SUBSCRIPTION_ID"`
	RequestConfirmations uint16        `yaml:"request_confirmations" env:"RAFFLE_REQUEST_CONFIRMATIONS"`
	CallbackGasLimit     uint32        `yaml:"callback_gas_limit" env:"RAFFLE_CALLBACK_GAS_LIMIT"`
	NumWords             uint32        `yaml:"num_words" env:"RAFFLE_NUM_WORDS"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"RAFFLE_HTTP_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"RAFFLE_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"RAFFLE_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"RAFFLE_HTTP_SHUTDOWN_TIMEOUT"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" env:"RAFFLE_RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"RAFFLE_RATE_LIMIT_BURST"`
	// CallbackSecret signs service tokens for the randomness callback. Empty disables the
	// external callback route.
	CallbackSecret  string `yaml:"callback_secret" env:"RAFFLE_CALLBACK_SECRET"`
	CallbackClients List   `yaml:"callback_clients" env:"RAFFLE_CALLBACK_CLIENTS"`
	CORSOrigins     List   `yaml:"cors_origins" env:"RAFFLE_CORS_ORIGINS"`
}

// List is a string list read from a comma-separated environment variable.
type List []string

// Decode implements envdecode.Decoder.
func (l *List) Decode(value string) error {
	items := List{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	*l = items
	return nil
}

// DatabaseConfig selects postgres. An empty URL keeps state in memory.
type DatabaseConfig struct {
	URL             string        `yaml:"url" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

// RedisConfig enables event publishing to redis when URL is set.
type RedisConfig struct {
	URL     string `yaml:"url" env:"REDIS_URL"`
	Channel string `yaml:"channel" env:"REDIS_EVENTS_CHANNEL"`
}

// KeeperConfig drives the upkeep keeper.
type KeeperConfig struct {
	Enabled    bool          `yaml:"enabled" env:"RAFFLE_KEEPER_ENABLED"`
	Schedule   string        `yaml:"schedule" env:"RAFFLE_KEEPER_SCHEDULE"`
	StaleAfter time.Duration `yaml:"stale_after" env:"RAFFLE_KEEPER_STALE_AFTER"`
}

// VRFConfig configures the randomness coordinator.
type VRFConfig struct {
	MasterKey    string        `yaml:"master_key" env:"RAFFLE_VRF_MASTER_KEY"`
	KeyVersion   string        `yaml:"key_version" env:"RAFFLE_VRF_KEY_VERSION"`
	FulfilDelay  time.Duration `yaml:"fulfil_delay" env:"RAFFLE_VRF_FULFIL_DELAY"`
	PollInterval time.Duration `yaml:"poll_interval" env:"RAFFLE_VRF_POLL_INTERVAL"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Raffle: RaffleConfig{
			EntryFee:             10_000_000,
			Interval:             30 * time.Second,
			KeyHash:              "default",
			RequestConfirmations: lottery.DefaultMinConfirmations,
			CallbackGasLimit:     lottery.DefaultCallbackGasLimit,
			NumWords:             lottery.DefaultNumWords,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Redis:  RedisConfig{Channel: "raffle.events"},
		Keeper: KeeperConfig{Enabled: true, Schedule: automation.DefaultSchedule, StaleAfter: 5 * time.Minute},
		VRF:    VRFConfig{KeyVersion: vrf.DefaultKeyVersion, FulfilDelay: 2 * time.Second, PollInterval: time.Second},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadDotEnv loads path into the process environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads path (optional) over the defaults, applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	// StrictDecode reports ErrInvalidTarget when no variable is set.
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrInvalidTarget) {
		return Config{}, fmt.Errorf("apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Raffle.EntryFee <= 0 {
		errs = append(errs, errors.New("raffle.entry_fee must be positive"))
	}
	if c.Raffle.Interval <= 0 {
		errs = append(errs, errors.New("raffle.interval must be positive"))
	} else if c.Raffle.Interval%time.Millisecond != 0 {
		errs = append(errs, errors.New("raffle.interval must be a whole number of milliseconds"))
	}
	if c.Raffle.NumWords < 1 || c.Raffle.NumWords > vrf.MaxNumWords {
		errs = append(errs, fmt.Errorf("raffle.num_words must be between 1 and %d", vrf.MaxNumWords))
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RateLimitRPS < 0 || c.HTTP.RateLimitBurst < 0 {
		errs = append(errs, errors.New("http rate limit must not be negative"))
	}
	if c.Keeper.Enabled {
		if err := automation.ValidateSchedule(c.Keeper.Schedule); err != nil {
			errs = append(errs, err)
		}
	}
	if c.VRF.FulfilDelay < 0 {
		errs = append(errs, errors.New("vrf.fulfil_delay must not be negative"))
	}
	return errors.Join(errs...)
}

// EngineConfig converts the raffle section into the engine's configuration.
func (c Config) EngineConfig() lottery.Config {
	return lottery.Config{
		EntryFee: c.Raffle.EntryFee,
		Interval: c.Raffle.Interval,
		Request: lottery.RandomnessRequest{
			KeyHash:          c.Raffle.KeyHash,
			SubscriptionID:   c.Raffle.SubscriptionID,
			MinConfirmations: c.Raffle.RequestConfirmations,
			CallbackGasLimit: c.Raffle.CallbackGasLimit,
			NumWords:         c.Raffle.NumWords,
		},
	}
}
