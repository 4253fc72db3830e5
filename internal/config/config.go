// Package config loads application configuration from an optional TOML file
// with environment-variable overrides, and constructs the process logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "scoreforge.db"
	defaultWorkers      = 2
	defaultJobTimeout   = 120 * time.Second
	defaultGracePeriod  = 5 * time.Second
	defaultRetention    = 15 * time.Minute
	defaultSweepEvery   = time.Minute
	defaultMaxCapture   = 64 << 10 // 64 KiB of stdout/stderr per invocation
	defaultMaxInput     = 20 << 20 // 20 MiB uploads
	defaultWorkspaceDir = "scoreforge"

	envConfigPath    = "SCOREFORGE_CONFIG"
	envListenAddr    = "SCOREFORGE_LISTEN_ADDR"
	envDBPath        = "SCOREFORGE_DB_PATH"
	envWorkspaceRoot = "SCOREFORGE_WORKSPACE_ROOT"
	envEngineBin     = "SCOREFORGE_ENGINE_BIN"
	envWorkers       = "SCOREFORGE_WORKERS"
	envJobTimeoutS   = "SCOREFORGE_JOB_TIMEOUT_S"
	envLogLevel      = "SCOREFORGE_LOG_LEVEL"
)

// engineCandidates are probed in order when no engine binary is configured.
var engineCandidates = []string{
	"/usr/bin/mscore3",
	"/usr/bin/musescore3",
	"/usr/bin/mscore",
	"/usr/local/bin/mscore",
}

// Config holds application configuration.
type Config struct {
	ListenAddr      string `toml:"listen_addr"`
	DBPath          string `toml:"db_path"`
	WorkspaceRoot   string `toml:"workspace_root"`
	EngineBin       string `toml:"engine_bin"`
	Workers         int    `toml:"workers"`
	JobTimeoutS     int    `toml:"job_timeout_s"`
	GracePeriodS    int    `toml:"grace_period_s"`
	RetentionS      int    `toml:"retention_s"`
	SweepIntervalS  int    `toml:"sweep_interval_s"`
	MaxCaptureBytes int    `toml:"max_capture_bytes"`
	MaxInputBytes   int64  `toml:"max_input_bytes"`
	LogLevelName    string `toml:"log_level"`
}

// Load reads configuration from the TOML file named by SCOREFORGE_CONFIG
// (if set), then applies environment-variable overrides on top of defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		WorkspaceRoot:   filepath.Join(os.TempDir(), defaultWorkspaceDir),
		Workers:         defaultWorkers,
		JobTimeoutS:     int(defaultJobTimeout / time.Second),
		GracePeriodS:    int(defaultGracePeriod / time.Second),
		RetentionS:      int(defaultRetention / time.Second),
		SweepIntervalS:  int(defaultSweepEvery / time.Second),
		MaxCaptureBytes: defaultMaxCapture,
		MaxInputBytes:   defaultMaxInput,
	}

	if path := os.Getenv(envConfigPath); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if cfg.EngineBin == "" {
		cfg.EngineBin = detectEngine()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return cfg, nil
}

// loadFile merges TOML settings from path into cfg. A missing file is not an
// error so a configured-but-absent path behaves like defaults.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envWorkspaceRoot); v != "" {
		cfg.WorkspaceRoot = v
	}
	if v := os.Getenv(envEngineBin); v != "" {
		cfg.EngineBin = v
	}
	if v := os.Getenv(envWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv(envJobTimeoutS); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.JobTimeoutS = n
		}
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevelName = v
	}
}

// detectEngine probes well-known install paths for the notation engine,
// falling back to resolution via PATH. Returns "" when no engine is found.
func detectEngine() string {
	for _, candidate := range engineCandidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if path, err := exec.LookPath("mscore"); err == nil {
		return path
	}
	return ""
}

// JobTimeout returns the per-job engine deadline.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutS) * time.Second
}

// GracePeriod returns the delay between the termination signal and force-kill.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodS) * time.Second
}

// Retention returns how long completed results are kept before eviction.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionS) * time.Second
}

// SweepInterval returns how often the result store runs its eviction sweep.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalS) * time.Second
}

// LogLevel parses the configured level name, defaulting to info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.LogLevelName) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
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
