package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/seantiz/examlens/internal/model"
)

const (
	envPrefix = "EXAMLENS"

	keyListenAddr      = "listen_addr"
	keyDBPath          = "db_path"
	keyLogLevel        = "log_level"
	keyRemoteURL       = "remote_url"
	keyPollInterval    = "poll_interval"
	keyPollConcurrency = "poll_concurrency"
	keyRemoteRPS       = "remote_rps"
	keyTaskTimeout     = "task_timeout"
	keyModelsFile      = "models_file"

	defaultListenAddr      = ":8080"
	defaultDBPath          = "examlens.db"
	defaultLogLevel        = "info"
	defaultPollInterval    = 1500 * time.Millisecond
	defaultPollConcurrency = 8
	defaultRemoteRPS       = 20.0
	defaultModelsFile      = "models.yaml"

	minPollInterval = time.Second
	maxPollInterval = 2 * time.Second

	maxTemperature = 2.0
)

// Config holds application configuration loaded from the environment.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level
	// RemoteURL is the base URL of the HTTP job service. Empty means only
	// the in-process memory service is registered.
	RemoteURL       string
	PollInterval    time.Duration
	PollConcurrency int
	RemoteRPS       float64
	// TaskTimeout of zero disables per-task expiry.
	TaskTimeout time.Duration
	ModelsFile  string
}

// Load reads configuration from a .env file, if present, and EXAMLENS_*
// environment variables with sensible defaults.
func Load() Config {
	// A missing .env is fine; the environment alone is enough.
	_ = godotenv.Load()
	return fromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault(keyListenAddr, defaultListenAddr)
	v.SetDefault(keyDBPath, defaultDBPath)
	v.SetDefault(keyLogLevel, defaultLogLevel)
	v.SetDefault(keyRemoteURL, "")
	v.SetDefault(keyPollInterval, defaultPollInterval)
	v.SetDefault(keyPollConcurrency, defaultPollConcurrency)
	v.SetDefault(keyRemoteRPS, defaultRemoteRPS)
	v.SetDefault(keyTaskTimeout, time.Duration(0))
	v.SetDefault(keyModelsFile, defaultModelsFile)
	return v
}

func fromViper(v *viper.Viper) Config {
	cfg := Config{
		ListenAddr:      v.GetString(keyListenAddr),
		DBPath:          v.GetString(keyDBPath),
		LogLevel:        parseLogLevel(v.GetString(keyLogLevel)),
		RemoteURL:       strings.TrimRight(v.GetString(keyRemoteURL), "/"),
		PollInterval:    clampPollInterval(v.GetDuration(keyPollInterval)),
		PollConcurrency: v.GetInt(keyPollConcurrency),
		RemoteRPS:       v.GetFloat64(keyRemoteRPS),
		TaskTimeout:     v.GetDuration(keyTaskTimeout),
		ModelsFile:      v.GetString(keyModelsFile),
	}

	// Empty variables count as unset.
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.ModelsFile == "" {
		cfg.ModelsFile = defaultModelsFile
	}
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = defaultPollConcurrency
	}
	if cfg.RemoteRPS < 0 {
		cfg.RemoteRPS = 0
	}
	if cfg.TaskTimeout < 0 {
		cfg.TaskTimeout = 0
	}
	return cfg
}

// clampPollInterval keeps the poll period within one to two seconds. Zero
// selects the default.
func clampPollInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return defaultPollInterval
	case d < minPollInterval:
		return minPollInterval
	case d > maxPollInterval:
		return maxPollInterval
	default:
		return d
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// ErrNoModels is returned when a models file lists no configurations.
var ErrNoModels = errors.New("no model configurations")

type modelsFile struct {
	Models []model.ModelConfig `yaml:"models"`
}

// LoadModels reads model configurations from a YAML file of the form
//
//	models:
//	  - id: 1
//	    label: gpt
//	    provider: auto
//
// and validates them.
func LoadModels(path string) ([]model.ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	return ParseModels(data)
}

// ParseModels decodes and validates a YAML models document.
func ParseModels(data []byte) ([]model.ModelConfig, error) {
	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse models: %w", err)
	}
	if err := ValidateModels(f.Models); err != nil {
		return nil, err
	}
	return f.Models, nil
}

// ValidateModels checks that IDs are unique, labels are set and
// temperatures are within [0, 2].
func ValidateModels(models []model.ModelConfig) error {
	if len(models) == 0 {
		return ErrNoModels
	}
	seen := make(map[int]bool, len(models))
	for i, m := range models {
		if seen[m.ID] {
			return fmt.Errorf("model %d: duplicate id %d", i, m.ID)
		}
		seen[m.ID] = true
		if strings.TrimSpace(m.Label) == "" {
			return fmt.Errorf("model %d: label is required", i)
		}
		if m.Temperature < 0 || m.Temperature > maxTemperature {
			return fmt.Errorf("model %q: temperature %.2f out of range [0, %.0f]", m.Label, m.Temperature, maxTemperature)
		}
	}
	return nil
}
