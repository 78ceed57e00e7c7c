package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings are the process-level knobs, read from the environment (and an
// optional .env file) rather than the rules/jobs YAML.
type Settings struct {
	RadioURL       string        // websocket URL of the radio daemon
	ConfigPath     string        // rules/jobs YAML
	StatePath      string        // badger directory for scheduler state
	AuditPath      string        // sqlite audit database
	RedisAddr      string        // empty = in-memory rate limiting
	RedisPassword  string
	RedisDB        int
	SendsPerMinute int           // outbound pacing
	CallTimeout    time.Duration // per plugin call
	CommandTimeout time.Duration // per external command
	MaxCmdOutput   int           // bytes kept from command output
	Tick           time.Duration // scheduler tick
}

// LoadSettings reads .env (if present) and the environment, applying
// defaults suitable for a single-node gateway.
func LoadSettings() (*Settings, error) {
	// Missing .env is fine; explicit env always wins.
	_ = godotenv.Load()

	s := &Settings{
		RadioURL:       envString("MESHGATE_RADIO_URL", "ws://localhost:8765/mesh"),
		ConfigPath:     envString("MESHGATE_CONFIG", "meshgate.yaml"),
		StatePath:      envString("MESHGATE_STATE_DIR", "data/state"),
		AuditPath:      envString("MESHGATE_AUDIT_DB", "data/audit.db"),
		RedisAddr:      os.Getenv("MESHGATE_REDIS_ADDR"),
		RedisPassword:  os.Getenv("MESHGATE_REDIS_PASSWORD"),
		SendsPerMinute: 30,
		CallTimeout:    30 * time.Second,
		CommandTimeout: 30 * time.Second,
		MaxCmdOutput:   1000,
		Tick:           time.Second,
	}

	var err error
	if s.RedisDB, err = envInt("MESHGATE_REDIS_DB", 0); err != nil {
		return nil, err
	}
	if s.SendsPerMinute, err = envInt("MESHGATE_SENDS_PER_MINUTE", s.SendsPerMinute); err != nil {
		return nil, err
	}
	if s.MaxCmdOutput, err = envInt("MESHGATE_MAX_CMD_OUTPUT", s.MaxCmdOutput); err != nil {
		return nil, err
	}
	if s.CallTimeout, err = envDuration("MESHGATE_CALL_TIMEOUT", s.CallTimeout); err != nil {
		return nil, err
	}
	if s.CommandTimeout, err = envDuration("MESHGATE_COMMAND_TIMEOUT", s.CommandTimeout); err != nil {
		return nil, err
	}
	if s.Tick, err = envDuration("MESHGATE_TICK", s.Tick); err != nil {
		return nil, err
	}
	return s, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
