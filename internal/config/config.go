package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/weather-inference/internal/forecast"
	"github.com/i474232898/weather-inference/internal/forecast/operators"
)

type AppConfig struct {
	AppEnv   string
	LogLevel slog.Level
	Port     string

	// InputDir holds analysis files named input_<YYYY-MM-DD-HH-MM>.nc.
	InputDir string
	// OutputDir receives one directory of NetCDF files per run.
	OutputDir string
	// GridResolution in degrees; 0.25 is the production grid.
	GridResolution float64

	OperatorBackend operators.Backend
	OperatorURL     string
	OperatorSteps   []time.Duration
	OperatorTimeout time.Duration
	OperatorRetries int
	// StepTimeout bounds one operator step including retries; zero disables it.
	StepTimeout     time.Duration

	SchedulePolicy  forecast.Policy
	PartialAssembly bool

	// SQLitePath is the run ledger; empty keeps runs in memory.
	SQLitePath        string
	MaxConcurrentRuns int

	CycleEnabled  bool
	CycleInterval time.Duration
	CycleLag      time.Duration
	CycleHorizon  time.Duration

	// MQTTBroker empty disables event publication.
	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	cfg := &AppConfig{}
	var err error

	cfg.AppEnv = getenvDefault("APP_ENV", "dev")
	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return nil, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", cfg.AppEnv)
	}
	if cfg.LogLevel, err = ParseLogLevel(getenvDefault("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	cfg.Port = getenvDefault("PORT", "8080")

	cfg.InputDir = getenvDefault("INPUT_DIR", "data/input")
	cfg.OutputDir = getenvDefault("OUTPUT_DIR", "data/output")
	if cfg.GridResolution, err = getenvFloat("GRID_RESOLUTION", 0.25); err != nil {
		return nil, err
	}

	cfg.OperatorBackend = operators.Backend(getenvDefault("OPERATOR_BACKEND", string(operators.BackendRemote)))
	cfg.OperatorURL = getenvDefault("OPERATOR_URL", "http://localhost:9000")
	if cfg.OperatorSteps, err = parseSteps(getenvDefault("OPERATOR_STEPS", "1h,3h,6h,24h")); err != nil {
		return nil, err
	}
	if cfg.OperatorTimeout, err = getenvDuration("OPERATOR_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	cfg.OperatorRetries = getenvInt("OPERATOR_RETRIES", 2)
	if cfg.StepTimeout, err = getenvDuration("STEP_TIMEOUT", 15*time.Minute); err != nil {
		return nil, err
	}

	if cfg.SchedulePolicy, err = forecast.ParsePolicy(os.Getenv("SCHEDULE_POLICY")); err != nil {
		return nil, err
	}
	cfg.PartialAssembly = getenvBool("PARTIAL_ASSEMBLY", false)

	cfg.SQLitePath = os.Getenv("SQLITE_PATH")
	cfg.MaxConcurrentRuns = getenvInt("MAX_CONCURRENT_RUNS", 1)

	cfg.CycleEnabled = getenvBool("CYCLE_ENABLED", false)
	if cfg.CycleInterval, err = getenvDuration("CYCLE_INTERVAL", 6*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CycleLag, err = getenvDuration("CYCLE_LAG", 5*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CycleHorizon, err = getenvDuration("CYCLE_HORIZON", 7*24*time.Hour); err != nil {
		return nil, err
	}

	cfg.MQTTBroker = os.Getenv("MQTT_BROKER")
	cfg.MQTTPort = getenvInt("MQTT_PORT", 1883)
	cfg.MQTTClientID = getenvDefault("MQTT_CLIENT_ID", "weather-inference")
	cfg.MQTTTopicPrefix = getenvDefault("MQTT_TOPIC_PREFIX", "forecast")

	return cfg, nil
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func parseSteps(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid OPERATOR_STEPS entry %q", part)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("OPERATOR_STEPS is empty")
	}
	return out, nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
