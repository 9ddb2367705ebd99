package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	TrustProxy      bool          `yaml:"trust_proxy"`      // use X-Forwarded-For / X-Real-IP for client ids
	RequestTimeout  time.Duration `yaml:"request_timeout"`  // per-request handler deadline
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // grace period for in-flight work
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type UploadConfig struct {
	MaxFileSizeMB    int      `yaml:"max_file_size_mb"`
	AllowedMimeTypes []string `yaml:"allowed_mime_types"`
}

// MaxBytes is the upload ceiling in bytes.
func (u UploadConfig) MaxBytes() int64 {
	return int64(u.MaxFileSizeMB) * 1024 * 1024
}

type ExtractionConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	RetryFactor float64       `yaml:"retry_factor"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type AIConfig struct {
	Provider          string  `yaml:"provider"` // gemini|openai|noop; empty picks the first configured key
	GeminiKey         string  `yaml:"gemini_key"`
	GeminiURL         string  `yaml:"gemini_url"`
	GeminiModel       string  `yaml:"gemini_model"`
	OpenAIKey         string  `yaml:"openai_key"`
	OpenAIBaseURL     string  `yaml:"openai_base_url"`
	OpenAIModel       string  `yaml:"openai_model"`
	ConcurrentLimit   int     `yaml:"concurrent_limit"`    // max concurrent vision calls
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 disables
}

type StoreConfig struct {
	Backend       string        `yaml:"backend"` // memory|redis
	MaxStoredJobs int           `yaml:"max_stored_jobs"`
	JobExpiration time.Duration `yaml:"job_expiration"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RateLimitConfig struct {
	Backend         string        `yaml:"backend"` // redis|memory
	Window          time.Duration `yaml:"window"`
	MaxRequests     int           `yaml:"max_requests"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	BufferKey string `yaml:"buffer_key"` // AES key for receipt bytes held in redis; empty stores them as-is
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Upload     UploadConfig     `yaml:"upload"`
	Extraction ExtractionConfig `yaml:"extraction"`
	AI         AIConfig         `yaml:"ai"`
	Store      StoreConfig      `yaml:"store"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	CORS       CORSConfig       `yaml:"cors"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path (a missing file is fine, defaults
// apply), loads .env if present, applies environment overrides and fills
// defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env + defaults only
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.AI.GeminiKey, "GEMINI_API_KEY")
	setStr(&cfg.AI.OpenAIKey, "OPENAI_API_KEY")
	setStr(&cfg.AI.Provider, "AI_PROVIDER")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setStr(&cfg.Redis.BufferKey, "SCAN_BUFFER_KEY")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 3000
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Upload.MaxFileSizeMB <= 0 {
		cfg.Upload.MaxFileSizeMB = 10
	}
	if len(cfg.Upload.AllowedMimeTypes) == 0 {
		cfg.Upload.AllowedMimeTypes = []string{"image/jpeg", "image/png", "application/pdf"}
	}

	if cfg.Extraction.Timeout <= 0 {
		cfg.Extraction.Timeout = 30 * time.Second
	}
	if cfg.Extraction.MaxRetries <= 0 {
		cfg.Extraction.MaxRetries = 3
	}
	if cfg.Extraction.RetryDelay <= 0 {
		cfg.Extraction.RetryDelay = time.Second
	}
	if cfg.Extraction.RetryFactor <= 0 {
		cfg.Extraction.RetryFactor = 2
	}
	if cfg.Extraction.MaxDelay <= 0 {
		cfg.Extraction.MaxDelay = 30 * time.Second
	}

	if cfg.AI.GeminiModel == "" {
		cfg.AI.GeminiModel = "gemini-2.0-flash"
	}
	if cfg.AI.OpenAIModel == "" {
		cfg.AI.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 8
	}
	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.MaxStoredJobs <= 0 {
		cfg.Store.MaxStoredJobs = 1000
	}
	if cfg.Store.JobExpiration <= 0 {
		cfg.Store.JobExpiration = time.Hour
	}
	if cfg.Store.SweepInterval <= 0 {
		cfg.Store.SweepInterval = 10 * time.Minute
	}

	cfg.RateLimit.Backend = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend))
	if cfg.RateLimit.Backend == "" {
		if cfg.Redis.URL != "" {
			cfg.RateLimit.Backend = "redis"
		} else {
			cfg.RateLimit.Backend = "memory"
		}
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = 15 * time.Minute
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		cfg.RateLimit.MaxRequests = 50
	}
	if cfg.RateLimit.CleanupInterval <= 0 {
		cfg.RateLimit.CleanupInterval = time.Minute
	}

	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 4
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
}

// Validate performs the minimal consistency checks.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("store.backend=redis requires redis.url")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("rate_limit.backend=redis requires redis.url")
		}
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", c.RateLimit.Backend)
	}
	switch c.AI.Provider {
	case "", "gemini", "openai", "noop":
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}
	if n := len(c.Redis.BufferKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return fmt.Errorf("redis.buffer_key must be 16, 24 or 32 bytes; got %d", n)
	}
	if c.Extraction.RetryFactor < 1 {
		return errors.New("extraction.retry_factor must be >= 1")
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
