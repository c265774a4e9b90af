// Package config provides configuration management for facecheck.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides applied by ApplyEnv.
const (
	EnvPostgresDSN = "FACECHECK_POSTGRES_DSN"
	EnvRedisAddr   = "FACECHECK_REDIS_ADDR"
	EnvLogLevel    = "FACECHECK_LOG_LEVEL"
)

// Config holds all facecheck configuration.
type Config struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Enrollment  EnrollmentConfig  `yaml:"enrollment"`
	Storage     StorageConfig     `yaml:"storage"`
	Notify      NotifyConfig      `yaml:"notify"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// RecognitionConfig holds face recognition and matching settings.
type RecognitionConfig struct {
	ModelPath      string  `yaml:"model_path"`
	UseCNN         bool    `yaml:"use_cnn"`
	EmbeddingDim   int     `yaml:"embedding_dim"`
	MatchThreshold float64 `yaml:"match_threshold"`
	MinQuality     float64 `yaml:"min_quality"`
	PoseFilter     bool    `yaml:"pose_filter"`
	MinLuminance   float64 `yaml:"min_luminance"`
}

// HeadMovementConfig holds head movement detector settings.
type HeadMovementConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
	MinFrames int     `yaml:"min_frames"`
}

// LivenessConfig holds liveness session settings.
type LivenessConfig struct {
	SessionTimeout time.Duration      `yaml:"session_timeout"`
	MaxFrames      int                `yaml:"max_frames"`
	BlinkThreshold float64            `yaml:"blink_threshold"`
	SmileRatio     float64            `yaml:"smile_ratio"`
	HeadMovement   HeadMovementConfig `yaml:"head_movement"`
	Policy         string             `yaml:"policy"`
	PolicyMin      int                `yaml:"policy_min"`
	SweepInterval  time.Duration      `yaml:"sweep_interval"`
	Shards         int                `yaml:"shards"`
}

// DetectorCount is the number of detectors the settings switch on: blink
// and smile always, head movement when enabled. The landmark layout of
// the recognizer may rule some of them out at startup.
func (c LivenessConfig) DetectorCount() int {
	if c.HeadMovement.Enabled {
		return 3
	}
	return 2
}

// EnrollmentConfig holds enrollment coverage settings.
type EnrollmentConfig struct {
	RequiredPoses []string `yaml:"required_poses"`
	MinQuality    float64  `yaml:"min_quality"`
}

// StorageConfig holds gallery storage settings.
type StorageConfig struct {
	Driver            string `yaml:"driver"`
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
	PostgresDSN       string `yaml:"postgres_dsn"`
}

// NotifyConfig holds enrollment notification settings.
type NotifyConfig struct {
	Driver       string `yaml:"driver"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

var knownPoses = map[string]bool{"front": true, "left": true, "right": true, "up": true, "down": true}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Recognition: RecognitionConfig{
			ModelPath:      filepath.Join(homeDir, ".local/share/facecheck/models"),
			UseCNN:         false,
			EmbeddingDim:   128,
			MatchThreshold: 0.35,
			MinQuality:     35,
			PoseFilter:     false,
			MinLuminance:   50,
		},
		Liveness: LivenessConfig{
			SessionTimeout: 5 * time.Second,
			MaxFrames:      30,
			BlinkThreshold: 0.25,
			SmileRatio:     3.0,
			HeadMovement: HeadMovementConfig{
				Enabled:   false,
				Threshold: 6,
				MinFrames: 5,
			},
			Policy:        "any",
			PolicyMin:     1,
			SweepInterval: time.Second,
			Shards:        32,
		},
		Enrollment: EnrollmentConfig{
			RequiredPoses: []string{"front", "left", "right", "up", "down"},
			MinQuality:    35,
		},
		Storage: StorageConfig{
			Driver:            "file",
			DataDir:           filepath.Join(homeDir, ".local/share/facecheck"),
			EncryptionEnabled: true,
		},
		Notify: NotifyConfig{
			Driver:       "log",
			RedisChannel: "facecheck:enrollment",
		},
		Server: ServerConfig{
			Listen:         ":8080",
			ReadTimeout:    15 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	// Try system config first
	if _, err := os.Stat("/etc/facecheck/facecheck.yaml"); err == nil {
		return Load("/etc/facecheck/facecheck.yaml")
	}

	// Try user config
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facecheck/facecheck.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	// Return defaults
	return DefaultConfig(), nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() {
	if dsn := os.Getenv(EnvPostgresDSN); dsn != "" {
		c.Storage.PostgresDSN = dsn
		c.Storage.Driver = "postgres"
	}
	if addr := os.Getenv(EnvRedisAddr); addr != "" {
		c.Notify.RedisAddr = addr
		c.Notify.Driver = "redis"
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	// Validate recognition settings
	if c.Recognition.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive, got %d", c.Recognition.EmbeddingDim)
	}
	if c.Recognition.MatchThreshold <= 0 || c.Recognition.MatchThreshold > 2 {
		return fmt.Errorf("match_threshold must be in (0, 2], got %f", c.Recognition.MatchThreshold)
	}
	if c.Recognition.MinQuality < 0 || c.Recognition.MinQuality > 100 {
		return fmt.Errorf("min_quality must be between 0 and 100, got %f", c.Recognition.MinQuality)
	}
	if c.Recognition.MinLuminance < 0 || c.Recognition.MinLuminance > 255 {
		return fmt.Errorf("min_luminance must be between 0 and 255, got %f", c.Recognition.MinLuminance)
	}

	// Validate liveness settings
	if c.Liveness.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive, got %s", c.Liveness.SessionTimeout)
	}
	if c.Liveness.MaxFrames <= 0 {
		return fmt.Errorf("max_frames must be positive, got %d", c.Liveness.MaxFrames)
	}
	if c.Liveness.BlinkThreshold <= 0 || c.Liveness.BlinkThreshold >= 1 {
		return fmt.Errorf("blink_threshold must be between 0 and 1, got %f", c.Liveness.BlinkThreshold)
	}
	if c.Liveness.SmileRatio <= 0 {
		return fmt.Errorf("smile_ratio must be positive, got %f", c.Liveness.SmileRatio)
	}
	if c.Liveness.HeadMovement.Enabled && c.Liveness.HeadMovement.MinFrames < 2 {
		return fmt.Errorf("head_movement.min_frames must be at least 2, got %d", c.Liveness.HeadMovement.MinFrames)
	}
	validPolicies := map[string]bool{"any": true, "all": true, "at_least": true}
	if !validPolicies[c.Liveness.Policy] {
		return fmt.Errorf("invalid liveness policy: %s (must be any, all, or at_least)", c.Liveness.Policy)
	}
	if c.Liveness.Policy == "at_least" && c.Liveness.PolicyMin < 1 {
		return fmt.Errorf("policy_min must be at least 1, got %d", c.Liveness.PolicyMin)
	}
	if n := c.Liveness.DetectorCount(); c.Liveness.Policy == "at_least" && c.Liveness.PolicyMin > n {
		return fmt.Errorf("policy_min %d exceeds the %d configured liveness detectors", c.Liveness.PolicyMin, n)
	}
	if c.Liveness.Shards < 0 {
		return fmt.Errorf("shards must not be negative, got %d", c.Liveness.Shards)
	}

	// Validate enrollment settings
	if len(c.Enrollment.RequiredPoses) == 0 {
		return fmt.Errorf("required_poses must not be empty")
	}
	for _, p := range c.Enrollment.RequiredPoses {
		if !knownPoses[p] {
			return fmt.Errorf("invalid pose: %s (must be front, left, right, up, or down)", p)
		}
	}

	// Validate storage settings
	switch c.Storage.Driver {
	case "file":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("postgres storage requires postgres_dsn or %s", EnvPostgresDSN)
		}
	default:
		return fmt.Errorf("invalid storage driver: %s (must be file or postgres)", c.Storage.Driver)
	}

	// Validate notify settings
	switch c.Notify.Driver {
	case "log":
	case "redis":
		if c.Notify.RedisAddr == "" {
			return fmt.Errorf("redis notifier requires redis_addr or %s", EnvRedisAddr)
		}
	default:
		return fmt.Errorf("invalid notify driver: %s (must be log or redis)", c.Notify.Driver)
	}

	// Validate logging level
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if c.Storage.Driver == "file" {
		if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	// Create models directory
	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	// Create log directory
	if c.Logging.File != "" {
		logDir := filepath.Dir(c.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}
