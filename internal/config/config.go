// Package config assembles the triage service configuration from the layered
// YAML files in config/ and the process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"mailtriage/internal/llm"
	"mailtriage/internal/retry"
	pkgconfig "mailtriage/pkg/config"
	"mailtriage/pkg/otel"
)

type Config struct {
	Log      LogConfig              `yaml:"log"`
	Server   pkgconfig.ServerConfig `yaml:"server"`
	DB       pkgconfig.DBConfig     `yaml:"db"`
	Redis    pkgconfig.RedisConfig  `yaml:"redis"`
	MQ       pkgconfig.MQConfig     `yaml:"mq"`
	JWT      pkgconfig.JWTConfig    `yaml:"jwt"`
	LLM      llm.Config             `yaml:"llm"`
	Analysis AnalysisConfig         `yaml:"analysis"`
	Outbox   OutboxConfig           `yaml:"outbox"`
	Ingest   IngestConfig           `yaml:"ingest"`
	OTel     otel.Config            `yaml:"otel"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// AnalysisConfig 批量分析与重试参数
type AnalysisConfig struct {
	BatchSize        int           `yaml:"batch_size"`
	MaxAttempts      int           `yaml:"max_attempts"`
	PacingDelay      time.Duration `yaml:"pacing_delay"`
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff"`
	MinBackoff       time.Duration `yaml:"min_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	ErrorBackoff     time.Duration `yaml:"error_backoff"`
	// LockTTL bounds how long a crashed process can hold the Redis batch lock.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

// IngestConfig names the queue that receives new emails from the mail ingestion side.
type IngestConfig struct {
	Queue      string `yaml:"queue"`
	RoutingKey string `yaml:"routing_key"`
}

// Load reads config/base.yaml, the env overlay and secrets, then applies
// environment overrides.
func Load(env, dir string) (*Config, error) {
	raw, err := pkgconfig.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := pkgconfig.Decode(raw, &cfg); err != nil {
		return nil, err
	}

	pkgconfig.OverrideServerFromEnv(&cfg.Server)
	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideJWTFromEnv(&cfg.JWT)
	overrideLLMFromEnv(&cfg.LLM)
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.OTel.Enabled = true
		cfg.OTel.Endpoint = endpoint
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overrideLLMFromEnv 从环境变量覆盖LLM配置. LLM_API_KEY wins over GROQ_API_KEY.
func overrideLLMFromEnv(cfg *llm.Config) {
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if url := os.Getenv("LLM_BASE_URL"); url != "" {
		cfg.BaseURL = url
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		cfg.Model = model
	}
	if timeout := os.Getenv("LLM_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Timeout = d
		}
	}
	if temp := os.Getenv("LLM_TEMPERATURE"); temp != "" {
		if f, err := strconv.ParseFloat(temp, 64); err == nil {
			cfg.Temperature = f
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.OTel.ServiceName == "" {
		c.OTel.ServiceName = "mailtriage"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = llm.DefaultBaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = llm.DefaultModel
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = llm.DefaultTimeout
	}

	def := retry.DefaultPolicy()
	a := &c.Analysis
	if a.BatchSize <= 0 {
		a.BatchSize = 5
	}
	if a.MaxAttempts <= 0 {
		a.MaxAttempts = def.MaxAttempts
	}
	if a.PacingDelay <= 0 {
		a.PacingDelay = 2 * time.Second
	}
	if a.RateLimitBackoff <= 0 {
		a.RateLimitBackoff = def.RateLimitBackoff
	}
	if a.MinBackoff <= 0 {
		a.MinBackoff = def.MinBackoff
	}
	if a.MaxBackoff <= 0 {
		a.MaxBackoff = def.MaxBackoff
	}
	if a.ErrorBackoff <= 0 {
		a.ErrorBackoff = def.ErrorBackoff
	}
	if a.LockTTL <= 0 {
		a.LockTTL = 15 * time.Minute
	}

	if c.Outbox.Interval <= 0 {
		c.Outbox.Interval = time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries <= 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Ingest.Queue == "" {
		c.Ingest.Queue = "mailtriage.email.received"
	}
	if c.Ingest.RoutingKey == "" {
		c.Ingest.RoutingKey = "email.received"
	}
}

// Validate rejects settings the service cannot run with. A missing API key is
// not an error here: reads still work and LLM calls fail per request.
func (c *Config) Validate() error {
	if c.Analysis.MinBackoff > c.Analysis.MaxBackoff {
		return fmt.Errorf("analysis.min_backoff (%s) exceeds analysis.max_backoff (%s)",
			c.Analysis.MinBackoff, c.Analysis.MaxBackoff)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2], got %v", c.LLM.Temperature)
	}
	return nil
}

// RetryPolicy builds the retry policy for LLM calls.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:      c.Analysis.MaxAttempts,
		RateLimitBackoff: c.Analysis.RateLimitBackoff,
		MinBackoff:       c.Analysis.MinBackoff,
		MaxBackoff:       c.Analysis.MaxBackoff,
		ErrorBackoff:     c.Analysis.ErrorBackoff,
	}
}
