// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	Inference() InferenceConfig
	Browser() BrowserConfig
	Engine() EngineConfig
	Database() DatabaseConfig
	Server() ServerConfig
	DataDir() string
	SQLitePath() string

	// Inference Setters
	SetInferenceModel(model string)
	SetInferenceContextSize(n int)

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserExecPath(path string)

	// Agent Setters
	SetAgentMaxSteps(n int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	AgentCfg     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	InferenceCfg InferenceConfig `mapstructure:"inference" yaml:"inference"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	EngineCfg    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	DatabaseCfg  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	ServerCfg    ServerConfig    `mapstructure:"server" yaml:"server"`
	DataDirCfg   string          `mapstructure:"data_dir" yaml:"data_dir"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Agent() AgentConfig         { return c.AgentCfg }
func (c *Config) Inference() InferenceConfig { return c.InferenceCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Engine() EngineConfig       { return c.EngineCfg }
func (c *Config) Database() DatabaseConfig   { return c.DatabaseCfg }
func (c *Config) Server() ServerConfig       { return c.ServerCfg }

// DataDir returns the data directory with a leading "~" expanded. If expansion
// fails the raw value is returned.
func (c *Config) DataDir() string {
	dir, err := homedir.Expand(c.DataDirCfg)
	if err != nil {
		return c.DataDirCfg
	}
	return dir
}

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetInferenceModel(model string) { c.InferenceCfg.Model = model }
func (c *Config) SetInferenceContextSize(n int)  { c.InferenceCfg.ContextSize = n }
func (c *Config) SetBrowserHeadless(b bool)      { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserExecPath(path string) { c.BrowserCfg.ExecPath = path }
func (c *Config) SetAgentMaxSteps(n int)         { c.AgentCfg.MaxSteps = n }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AgentConfig controls the plan/act/observe loop.
type AgentConfig struct {
	// MaxSteps is the hard ceiling on loop iterations for a single task.
	MaxSteps    int           `mapstructure:"max_steps" yaml:"max_steps"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	History     HistoryConfig `mapstructure:"history" yaml:"history"`
}

// HistoryConfig bounds the conversation window sent to the model.
type HistoryConfig struct {
	MaxTurns   int `mapstructure:"max_turns" yaml:"max_turns"`
	MaxChars   int `mapstructure:"max_chars" yaml:"max_chars"`
	KeepRecent int `mapstructure:"keep_recent" yaml:"keep_recent"`
}

// LLMProvider names an inference backend implementation.
type LLMProvider string

const (
	ProviderOllama LLMProvider = "ollama"
)

// ModelAuto asks the inference layer to pick a model tier from host memory.
const ModelAuto = "auto"

// InferenceConfig configures the local language-model backend.
type InferenceConfig struct {
	Provider       LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model          string        `mapstructure:"model" yaml:"model"`
	ContextSize    int           `mapstructure:"context_size" yaml:"context_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	PullOnStart    bool          `mapstructure:"pull_on_start" yaml:"pull_on_start"`
	ReadyAttempts  int           `mapstructure:"ready_attempts" yaml:"ready_attempts"`
	ReadyInterval  time.Duration `mapstructure:"ready_interval" yaml:"ready_interval"`
}

// BrowserConfig configures the Chromium instances driven over CDP.
type BrowserConfig struct {
	ExecPath           string        `mapstructure:"exec_path" yaml:"exec_path"`
	Headless           bool          `mapstructure:"headless" yaml:"headless"`
	DisableGPU         bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	DebugPort          int           `mapstructure:"debug_port" yaml:"debug_port"`
	Args               []string      `mapstructure:"args" yaml:"args"`
	UserAgent          string        `mapstructure:"user_agent" yaml:"user_agent"`
	ViewportWidth      int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight     int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	Sessions           int           `mapstructure:"sessions" yaml:"sessions"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout      time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	MaxExtractChars    int           `mapstructure:"max_extract_chars" yaml:"max_extract_chars"`
	CaptureScreenshots bool          `mapstructure:"capture_screenshots" yaml:"capture_screenshots"`
}

// EngineConfig configures concurrent task acceptance.
type EngineConfig struct {
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	QueueSize          int           `mapstructure:"queue_size" yaml:"queue_size"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout" yaml:"default_task_timeout"`
}

// DatabaseConfig selects and configures task persistence.
type DatabaseConfig struct {
	// Driver is one of "sqlite", "postgres" or "none".
	Driver     string `mapstructure:"driver" yaml:"driver"`
	URL        string `mapstructure:"url" yaml:"url"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// ServerConfig configures the HTTP/WebSocket API.
type ServerConfig struct {
	Addr               string        `mapstructure:"addr" yaml:"addr"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RateLimit          float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst          int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	StatusPollInterval time.Duration `mapstructure:"status_poll_interval" yaml:"status_poll_interval"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; failing here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "~/.palmtree")

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "palmtree")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Agent --
	v.SetDefault("agent.max_steps", 25)
	v.SetDefault("agent.temperature", 0.2)
	v.SetDefault("agent.history.max_turns", 40)
	v.SetDefault("agent.history.max_chars", 24000)
	v.SetDefault("agent.history.keep_recent", 12)

	// -- Inference --
	v.SetDefault("inference.provider", string(ProviderOllama))
	v.SetDefault("inference.endpoint", "http://127.0.0.1:11434")
	v.SetDefault("inference.model", ModelAuto)
	v.SetDefault("inference.context_size", 0)
	v.SetDefault("inference.request_timeout", "300s")
	v.SetDefault("inference.max_retries", 3)
	v.SetDefault("inference.initial_backoff", "1s")
	v.SetDefault("inference.max_backoff", "15s")
	v.SetDefault("inference.pull_on_start", false)
	v.SetDefault("inference.ready_attempts", 30)
	v.SetDefault("inference.ready_interval", "1s")

	// -- Browser --
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.debug_port", 0)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.sessions", 1)
	v.SetDefault("browser.connect_timeout", "20s")
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.max_extract_chars", 2000)
	v.SetDefault("browser.capture_screenshots", false)

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 1)
	v.SetDefault("engine.queue_size", 64)
	v.SetDefault("engine.default_task_timeout", "15m")

	// -- Database --
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "")

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8765")
	v.SetDefault("server.request_timeout", "15m")
	v.SetDefault("server.rate_limit", 2.0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.status_poll_interval", "500ms")
}

// NewConfigFromViper unmarshals the viper state into a validated Config.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries credentials; allow it from a dedicated variable.
	_ = v.BindEnv("database.url", "PALMTREE_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("inference.endpoint", "PALMTREE_INFERENCE_ENDPOINT", "OLLAMA_HOST")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// SQLitePath returns the sqlite database file, defaulting into the data directory.
func (c *Config) SQLitePath() string {
	if c.DatabaseCfg.SQLitePath != "" {
		p, err := homedir.Expand(c.DatabaseCfg.SQLitePath)
		if err == nil {
			return p
		}
		return c.DatabaseCfg.SQLitePath
	}
	return filepath.Join(c.DataDir(), "palmtree.db")
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.InferenceCfg.Validate(); err != nil {
		return fmt.Errorf("inference configuration invalid: %w", err)
	}
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if err := c.DatabaseCfg.Validate(); err != nil {
		return fmt.Errorf("database configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the agent loop bounds.
func (a *AgentConfig) Validate() error {
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	h := a.History
	if h.KeepRecent <= 0 {
		return fmt.Errorf("history.keep_recent must be a positive integer")
	}
	if h.MaxTurns > 0 && h.KeepRecent >= h.MaxTurns {
		return fmt.Errorf("history.keep_recent (%d) must be smaller than history.max_turns (%d)", h.KeepRecent, h.MaxTurns)
	}
	return nil
}

// Validate checks the inference backend settings.
func (i *InferenceConfig) Validate() error {
	if i.Provider != ProviderOllama {
		return fmt.Errorf("unsupported provider %q", i.Provider)
	}
	if i.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if i.Model == "" {
		return fmt.Errorf("model is required (use %q for hardware based selection)", ModelAuto)
	}
	if i.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if i.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}

// Validate checks the browser timeouts and pool size.
func (b *BrowserConfig) Validate() error {
	if b.Sessions <= 0 {
		return fmt.Errorf("sessions must be a positive integer")
	}
	if b.ActionTimeout <= 0 || b.NavigationTimeout <= 0 {
		return fmt.Errorf("action_timeout and navigation_timeout must be positive")
	}
	if b.ActionTimeout >= b.NavigationTimeout {
		return fmt.Errorf("action_timeout (%v) must be shorter than navigation_timeout (%v)", b.ActionTimeout, b.NavigationTimeout)
	}
	if b.MaxExtractChars <= 0 {
		return fmt.Errorf("max_extract_chars must be a positive integer")
	}
	return nil
}

// Validate checks the persistence driver selection.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "sqlite", "none":
		return nil
	case "postgres":
		if d.URL == "" {
			return fmt.Errorf("url is required for the postgres driver (hint: set PALMTREE_DATABASE_URL)")
		}
		return nil
	default:
		return fmt.Errorf("unknown driver %q", d.Driver)
	}
}
