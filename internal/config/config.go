package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/adaptive"
)

type Config struct {
	Server             ServerConfig
	Log                LogConfig
	Controller         ControllerConfig
	Adaptive           adaptive.Config
	AdaptiveConfigFile string
	DB                 DBConfig
	Redis              RedisConfig
	Recorder           RecorderConfig
	Alert              AlertConfig
	Tracing            TracingConfig
	RateLimit          RateLimitConfig
}

type ServerConfig struct {
	HTTPPort   int
	HealthPort int
}

type LogConfig struct {
	Level string
}

type ControllerConfig struct {
	DeviceID            string
	AutoModeEnabled     bool
	HistorySize         int
	HistoryResponseSize int
}

// DBConfig is optional; an empty URL disables the postgres sink.
type DBConfig struct {
	URL                 string
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	StatementTimeoutMS  int
	PoolStatsIntervalMS int
}

// RedisConfig is optional; an empty URL disables the stream sink.
type RedisConfig struct {
	URL             string
	StreamNamespace string
}

type RecorderConfig struct {
	BufferSize       int
	MaxAttempts      int
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

type AlertConfig struct {
	WebhookURL      string
	SlackWebhookURL string
	Cooldown        time.Duration
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type RateLimitConfig struct {
	Enabled bool
}

const (
	dbStatementTimeoutDefaultMS  = 10000
	dbPoolStatsIntervalDefaultMS = 15000
)

// LoadEnvFile exports the variables of a dotenv file into the process
// environment. Variables that are already set win. With an empty path it
// reads ./.env and a missing file is ignored.
func LoadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:   getEnvInt("HTTP_PORT", 5000),
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Controller: ControllerConfig{
			DeviceID:            getEnv("DEVICE_ID", "esp32-gen2"),
			AutoModeEnabled:     getEnvBool("AUTO_MODE_ENABLED", true),
			HistorySize:         getEnvInt("HISTORY_SIZE", 100),
			HistoryResponseSize: getEnvInt("HISTORY_RESPONSE_SIZE", 50),
		},
		Adaptive:           adaptive.DefaultConfig(),
		AdaptiveConfigFile: getEnv("ADAPTIVE_CONFIG_FILE", ""),
		DB: DBConfig{
			URL:                 getEnv("DB_URL", ""),
			MaxOpenConns:        getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:        getEnvInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime:     time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
			StatementTimeoutMS:  getEnvInt("DB_STATEMENT_TIMEOUT_MS", dbStatementTimeoutDefaultMS),
			PoolStatsIntervalMS: getEnvInt("DB_POOL_STATS_INTERVAL_MS", dbPoolStatsIntervalDefaultMS),
		},
		Redis: RedisConfig{
			URL:             getEnv("REDIS_URL", ""),
			StreamNamespace: getEnv("REDIS_STREAM_NAMESPACE", "traffic"),
		},
		Recorder: RecorderConfig{
			BufferSize:       getEnvInt("RECORDER_BUFFER_SIZE", 256),
			MaxAttempts:      getEnvInt("RECORDER_MAX_ATTEMPTS", 3),
			BreakerThreshold: getEnvInt("RECORDER_BREAKER_THRESHOLD", 5),
			BreakerTimeout:   time.Duration(getEnvInt("RECORDER_BREAKER_TIMEOUT_SEC", 30)) * time.Second,
		},
		Alert: AlertConfig{
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 300)) * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvBool("TRACING_INSECURE", true),
			SampleRatio: getEnvFloat("TRACING_SAMPLE_RATIO", 1.0),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		},
	}

	if cfg.AdaptiveConfigFile != "" {
		if err := loadAdaptiveFile(cfg.AdaptiveConfigFile, &cfg.Adaptive); err != nil {
			return nil, err
		}
	}
	applyAdaptiveEnv(&cfg.Adaptive)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be in 1..65535, got %d", c.Server.HTTPPort)
	}
	if c.Server.HealthPort <= 0 || c.Server.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT must be in 1..65535, got %d", c.Server.HealthPort)
	}
	if c.Server.HTTPPort == c.Server.HealthPort {
		return fmt.Errorf("HTTP_PORT and HEALTH_PORT must differ, both %d", c.Server.HTTPPort)
	}
	if strings.TrimSpace(c.Controller.DeviceID) == "" {
		return fmt.Errorf("DEVICE_ID is required")
	}
	if c.Controller.HistorySize <= 0 {
		return fmt.Errorf("HISTORY_SIZE must be positive, got %d", c.Controller.HistorySize)
	}
	if c.Controller.HistoryResponseSize <= 0 {
		return fmt.Errorf("HISTORY_RESPONSE_SIZE must be positive, got %d", c.Controller.HistoryResponseSize)
	}
	if c.Recorder.BufferSize <= 0 {
		return fmt.Errorf("RECORDER_BUFFER_SIZE must be positive, got %d", c.Recorder.BufferSize)
	}
	if c.Recorder.MaxAttempts <= 0 {
		return fmt.Errorf("RECORDER_MAX_ATTEMPTS must be positive, got %d", c.Recorder.MaxAttempts)
	}
	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		return fmt.Errorf("TRACING_ENDPOINT is required when TRACING_ENABLED is true")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be in [0,1], got %g", c.Tracing.SampleRatio)
	}
	if err := c.Adaptive.Validate(); err != nil {
		return fmt.Errorf("adaptive config: %w", err)
	}
	return nil
}

// adaptiveFile mirrors adaptive.Config for the YAML overlay. Absent keys keep
// the current value.
type adaptiveFile struct {
	AdjustmentPercentage    *float64       `yaml:"adjustment_percentage"`
	PedestrianWindow        *time.Duration `yaml:"pedestrian_window"`
	PedestrianHighThreshold *int           `yaml:"pedestrian_high_threshold"`
	PedestrianLowThreshold  *int           `yaml:"pedestrian_low_threshold"`
	PedestrianMinMs         *int           `yaml:"pedestrian_min_ms"`
	PedestrianMaxMs         *int           `yaml:"pedestrian_max_ms"`
	PedestrianBaseMs        *int           `yaml:"pedestrian_base_ms"`
	ImbalanceSampleCount    *int           `yaml:"imbalance_sample_count"`
	ImbalanceHighThreshold  *float64       `yaml:"imbalance_high_threshold"`
	ImbalanceLowThreshold   *float64       `yaml:"imbalance_low_threshold"`
	GreenMinMs              *int           `yaml:"green_min_ms"`
	GreenMaxMs              *int           `yaml:"green_max_ms"`
	GreenBaseMs             *int           `yaml:"green_base_ms"`
	CooldownDuration        *time.Duration `yaml:"cooldown"`
	PedestrianHistory       *int           `yaml:"pedestrian_history"`
	DecisionHistory         *int           `yaml:"decision_history"`
}

func loadAdaptiveFile(path string, cfg *adaptive.Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ADAPTIVE_CONFIG_FILE: %w", err)
	}
	var f adaptiveFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse ADAPTIVE_CONFIG_FILE %s: %w", path, err)
	}

	setFloat(&cfg.AdjustmentPercentage, f.AdjustmentPercentage)
	setDuration(&cfg.PedestrianWindow, f.PedestrianWindow)
	setInt(&cfg.PedestrianHighThreshold, f.PedestrianHighThreshold)
	setInt(&cfg.PedestrianLowThreshold, f.PedestrianLowThreshold)
	setInt(&cfg.PedestrianMinMs, f.PedestrianMinMs)
	setInt(&cfg.PedestrianMaxMs, f.PedestrianMaxMs)
	setInt(&cfg.PedestrianBaseMs, f.PedestrianBaseMs)
	setInt(&cfg.ImbalanceSampleCount, f.ImbalanceSampleCount)
	setFloat(&cfg.ImbalanceHighThreshold, f.ImbalanceHighThreshold)
	setFloat(&cfg.ImbalanceLowThreshold, f.ImbalanceLowThreshold)
	setInt(&cfg.GreenMinMs, f.GreenMinMs)
	setInt(&cfg.GreenMaxMs, f.GreenMaxMs)
	setInt(&cfg.GreenBaseMs, f.GreenBaseMs)
	setDuration(&cfg.CooldownDuration, f.CooldownDuration)
	setInt(&cfg.PedestrianHistory, f.PedestrianHistory)
	setInt(&cfg.DecisionHistory, f.DecisionHistory)
	return nil
}

// applyAdaptiveEnv layers ADAPTIVE_* variables over the file and defaults.
func applyAdaptiveEnv(cfg *adaptive.Config) {
	cfg.AdjustmentPercentage = getEnvFloat("ADAPTIVE_ADJUSTMENT_PERCENTAGE", cfg.AdjustmentPercentage)
	cfg.PedestrianWindow = getEnvDuration("ADAPTIVE_PEDESTRIAN_WINDOW", cfg.PedestrianWindow)
	cfg.PedestrianHighThreshold = getEnvInt("ADAPTIVE_PEDESTRIAN_HIGH_THRESHOLD", cfg.PedestrianHighThreshold)
	cfg.PedestrianLowThreshold = getEnvInt("ADAPTIVE_PEDESTRIAN_LOW_THRESHOLD", cfg.PedestrianLowThreshold)
	cfg.PedestrianMinMs = getEnvInt("ADAPTIVE_PEDESTRIAN_MIN_MS", cfg.PedestrianMinMs)
	cfg.PedestrianMaxMs = getEnvInt("ADAPTIVE_PEDESTRIAN_MAX_MS", cfg.PedestrianMaxMs)
	cfg.PedestrianBaseMs = getEnvInt("ADAPTIVE_PEDESTRIAN_BASE_MS", cfg.PedestrianBaseMs)
	cfg.ImbalanceSampleCount = getEnvInt("ADAPTIVE_IMBALANCE_SAMPLE_COUNT", cfg.ImbalanceSampleCount)
	cfg.ImbalanceHighThreshold = getEnvFloat("ADAPTIVE_IMBALANCE_HIGH_THRESHOLD", cfg.ImbalanceHighThreshold)
	cfg.ImbalanceLowThreshold = getEnvFloat("ADAPTIVE_IMBALANCE_LOW_THRESHOLD", cfg.ImbalanceLowThreshold)
	cfg.GreenMinMs = getEnvInt("ADAPTIVE_GREEN_MIN_MS", cfg.GreenMinMs)
	cfg.GreenMaxMs = getEnvInt("ADAPTIVE_GREEN_MAX_MS", cfg.GreenMaxMs)
	cfg.GreenBaseMs = getEnvInt("ADAPTIVE_GREEN_BASE_MS", cfg.GreenBaseMs)
	cfg.CooldownDuration = getEnvDuration("ADAPTIVE_COOLDOWN", cfg.CooldownDuration)
	cfg.PedestrianHistory = getEnvInt("ADAPTIVE_PEDESTRIAN_HISTORY", cfg.PedestrianHistory)
	cfg.DecisionHistory = getEnvInt("ADAPTIVE_DECISION_HISTORY", cfg.DecisionHistory)
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
