// Package config loads the companion's configuration from environment
// variables (optionally seeded from a .env file) with an optional YAML
// overlay for the polling knobs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/iliyamo/bus-seat-hold/internal/availability"
)

// ErrMissing is wrapped by Load when a required variable is unset.
var ErrMissing = errors.New("missing required env var")

// Registry backends accepted by REGISTRY_BACKEND.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.
type Config struct {
	Env      string // APP_ENV (dev, prod)
	Addr     string // APP_ADDR, loopback address of the local API
	LogLevel string // LOG_LEVEL (debug, info, warn, error)

	APIBaseURL string        // API_BASE_URL, booking server root (required)
	APIToken   string        // API_TOKEN, bearer used when a request carries none
	APITimeout time.Duration // API_TIMEOUT

	RegistryBackend string // REGISTRY_BACKEND (file, redis, mysql, memory)
	RegistryPath    string // REGISTRY_PATH, file backend location
	DeviceIDPath    string // DEVICE_ID_PATH, where the client id is persisted

	DBUser string // DB_USER
	DBPass string // DB_PASS (empty allowed)
	DBHost string // DB_HOST
	DBPort string // DB_PORT
	DBName string // DB_NAME

	Redis     RedisConfig
	RateLimit RateLimitConfig

	RabbitMQURL  string // RABBITMQ_URL, empty disables lock events
	LockAuditDir string // LOCK_AUDIT_DIR, where cmd/lockaudit writes

	Poll         availability.PollConfig
	Availability availability.Options
}

// overlay is the shape of the optional YAML file named by CONFIG_FILE.
type overlay struct {
	Poll         availability.PollConfig `yaml:"poll"`
	Availability availability.Options    `yaml:"availability"`
}

// LoadEnvFile seeds the environment from path.  A missing file is not an
// error; variables already set win over the file.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from the environment.  Required variables are
// enforced by must; everything else falls back to a default.
func Load() (Config, error) {
	base, err := must("API_BASE_URL")
	if err != nil {
		return Config{}, err
	}
	state := stateDir()
	cfg := Config{
		Env:      envStr("APP_ENV", "dev"),
		Addr:     envStr("APP_ADDR", "127.0.0.1:7070"),
		LogLevel: envStr("LOG_LEVEL", "info"),

		APIBaseURL: strings.TrimRight(base, "/"),
		APIToken:   os.Getenv("API_TOKEN"),
		APITimeout: envDur("API_TIMEOUT", 10*time.Second),

		RegistryBackend: strings.ToLower(envStr("REGISTRY_BACKEND", BackendFile)),
		RegistryPath:    envStr("REGISTRY_PATH", filepath.Join(state, "registry.json")),
		DeviceIDPath:    envStr("DEVICE_ID_PATH", filepath.Join(state, "device-id")),

		DBUser: envStr("DB_USER", "root"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: envStr("DB_HOST", "127.0.0.1"),
		DBPort: envStr("DB_PORT", "3306"),
		DBName: envStr("DB_NAME", "seathold"),

		Redis:     LoadRedisConfig(),
		RateLimit: LoadRateLimitConfig(),

		RabbitMQURL:  os.Getenv("RABBITMQ_URL"),
		LockAuditDir: envStr("LOCK_AUDIT_DIR", "logs"),

		Poll: availability.PollConfig{
			Interval:   envDur("POLL_INTERVAL", 6*time.Second),
			MaxVisible: envInt("POLL_MAX_VISIBLE", 10),
		},
		Availability: availability.Options{
			TTL:      envDur("AVAIL_TTL", 8*time.Second),
			ForceTTL: envDur("AVAIL_FORCE_TTL", 2*time.Second),
			Backoff:  envDur("AVAIL_BACKOFF", 15*time.Second),
		},
	}

	switch cfg.RegistryBackend {
	case BackendFile, BackendRedis, BackendMySQL, BackendMemory:
	default:
		return Config{}, fmt.Errorf("invalid REGISTRY_BACKEND %q", cfg.RegistryBackend)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// ApplyFile overlays the poll and availability blocks from a YAML file.
// Keys absent from the file keep their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	ov := overlay{Poll: c.Poll, Availability: c.Availability}
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.Poll = ov.Poll
	c.Availability = ov.Availability
	return nil
}

// stateDir is where durable local state lives by default.
func stateDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".seathold")
	}
	return ".seathold"
}

// must retrieves the value of a required environment variable.
func must(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissing, key)
	}
	return v, nil
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
