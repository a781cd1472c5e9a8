package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the presentation pipeline service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"AUTOPRESENTER_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"AUTOPRESENTER_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	DataDir  string `env:"AUTOPRESENTER_DATA_DIR" envDefault:"./data"`

	// MaxUploadBytes limits the size of a submitted deck
	MaxUploadBytes int64 `env:"AUTOPRESENTER_MAX_UPLOAD_BYTES" envDefault:"104857600"`

	// Job record store
	Store StoreConfig

	// Redis configuration
	Redis RedisConfig

	// Artifact storage
	Artifacts ArtifactConfig

	// LLM configuration
	LLM LLMConfig

	// Speech synthesis
	TTS TTSConfig

	// External tools
	Tools ToolsConfig

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// StoreConfig selects the job record backend
type StoreConfig struct {
	Backend    string `env:"STORE_BACKEND" envDefault:"sqlite"`
	SQLitePath string `env:"STORE_SQLITE_PATH"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Events publishes job events on Redis Streams
	Events bool `env:"REDIS_EVENTS" envDefault:"false"`
}

// ArtifactConfig selects the artifact backend
type ArtifactConfig struct {
	Backend string `env:"ARTIFACT_BACKEND" envDefault:"filesystem"`
	Dir     string `env:"ARTIFACT_DIR"`

	// S3 settings
	Bucket          string `env:"ARTIFACT_S3_BUCKET"`
	Region          string `env:"ARTIFACT_S3_REGION"`
	Endpoint        string `env:"ARTIFACT_S3_ENDPOINT"`
	Prefix          string `env:"ARTIFACT_S3_PREFIX"`
	Profile         string `env:"ARTIFACT_S3_PROFILE"`
	AccessKeyID     string `env:"ARTIFACT_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"ARTIFACT_S3_SECRET_ACCESS_KEY"`
	ForcePathStyle  bool   `env:"ARTIFACT_S3_FORCE_PATH_STYLE" envDefault:"false"`
}

// LLMConfig holds narration model configuration
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"gemini"`
	APIKey   string `env:"LLM_API_KEY"`

	// Model is optional for gemini: the first available model from the
	// preferred list is chosen when empty
	Model     string `env:"LLM_MODEL"`
	MaxTokens int    `env:"LLM_MAX_TOKENS" envDefault:"1024"`
	MaxWords  int    `env:"LLM_MAX_WORDS" envDefault:"150"`

	// Rate limiting
	RequestsPerMinute float64 `env:"LLM_REQUESTS_PER_MINUTE" envDefault:"30"`
	Burst             int     `env:"LLM_BURST" envDefault:"3"`
}

// TTSConfig holds speech synthesis configuration
type TTSConfig struct {
	Command string `env:"TTS_COMMAND" envDefault:"tts"`
	Model   string `env:"TTS_MODEL" envDefault:"tts_models/en/ljspeech/vits"`
}

// ToolsConfig locates the external programs used by the executors
type ToolsConfig struct {
	SOffice  string `env:"TOOL_SOFFICE" envDefault:"soffice"`
	PDFToPPM string `env:"TOOL_PDFTOPPM" envDefault:"pdftoppm"`
	FFmpeg   string `env:"TOOL_FFMPEG" envDefault:"ffmpeg"`
	DPI      int    `env:"EXTRACT_DPI" envDefault:"300"`
	FPS      int    `env:"VIDEO_FPS" envDefault:"24"`
	WorkDir  string `env:"WORK_DIR"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize    int `env:"WORKER_POOL_SIZE" envDefault:"4"`
	PerJobLimit int `env:"WORKER_PER_JOB_LIMIT" envDefault:"2"`

	// Cross-job limits for the expensive stages
	ScriptLimit     int `env:"WORKER_SCRIPT_LIMIT" envDefault:"2"`
	SynthesizeLimit int `env:"WORKER_SYNTHESIZE_LIMIT" envDefault:"2"`
	AssembleLimit   int `env:"WORKER_ASSEMBLE_LIMIT" envDefault:"2"`

	MaxRetries          int           `env:"WORKER_MAX_RETRIES" envDefault:"3"`
	RetryDelay          time.Duration `env:"WORKER_RETRY_DELAY" envDefault:"5s"`
	MaxRetryDelay       time.Duration `env:"WORKER_MAX_RETRY_DELAY" envDefault:"2m"`
	TickInterval        time.Duration `env:"WORKER_TICK_INTERVAL" envDefault:"2s"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds per-stage execution timeouts
type TimeoutConfig struct {
	Extract         time.Duration `env:"TIMEOUT_EXTRACT" envDefault:"300s"`
	Script          time.Duration `env:"TIMEOUT_SCRIPT" envDefault:"120s"`
	Synthesize      time.Duration `env:"TIMEOUT_SYNTHESIZE" envDefault:"300s"`
	Assemble        time.Duration `env:"TIMEOUT_ASSEMBLE" envDefault:"300s"`
	Finalize        time.Duration `env:"TIMEOUT_FINALIZE" envDefault:"900s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Parse reads configuration from environment variables without
// validating it. Commands that only read the job store use it so they do
// not need the narration provider settings.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults derives paths that default to locations under DataDir
func (c *Config) applyDefaults() {
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(c.DataDir, "jobs.db")
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = filepath.Join(c.DataDir, "artifacts")
	}
	if c.Tools.WorkDir == "" {
		c.Tools.WorkDir = filepath.Join(c.DataDir, "work")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.MaxUploadBytes < 1 {
		return fmt.Errorf("max upload size must be positive")
	}

	// Validate store config
	switch c.Store.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis store")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s (must be sqlite, redis, or memory)", c.Store.Backend)
	}
	if c.Redis.Events && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required for redis events")
	}

	// Validate artifact config
	switch c.Artifacts.Backend {
	case "filesystem", "memory":
	case "s3":
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("S3 bucket is required for the s3 artifact backend")
		}
	default:
		return fmt.Errorf("unsupported artifact backend: %s (must be filesystem, s3, or memory)", c.Artifacts.Backend)
	}

	// Validate LLM config
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required")
	}
	if c.LLM.Provider != "gemini" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s (must be gemini or anthropic)", c.LLM.Provider)
	}
	if c.LLM.MaxWords < 1 {
		return fmt.Errorf("LLM max words must be at least 1")
	}

	// Validate tools
	if c.Tools.DPI < 72 {
		return fmt.Errorf("extract DPI must be at least 72")
	}
	if c.Tools.FPS < 1 {
		return fmt.Errorf("video FPS must be at least 1")
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.PerJobLimit < 1 {
		return fmt.Errorf("per-job limit must be at least 1")
	}
	if c.Workers.MaxRetries < 1 {
		return fmt.Errorf("worker max retries must be at least 1")
	}
	if c.Workers.TickInterval <= 0 {
		return fmt.Errorf("worker tick interval must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// LockPath returns the path of the single-instance lock file
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "autopresenter.lock")
}

// StageTimeout returns the execution timeout for a stage name
func (t TimeoutConfig) StageTimeout(stage string) time.Duration {
	switch stage {
	case "extract":
		return t.Extract
	case "script":
		return t.Script
	case "synthesize":
		return t.Synthesize
	case "assemble":
		return t.Assemble
	case "finalize":
		return t.Finalize
	default:
		return t.Assemble
	}
}
