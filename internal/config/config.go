package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultConfigPath        = "config.yaml"
	DefaultMaxBodySize int64 = 2 * 1024 * 1024 // 2MB
)

// ProviderConfig describes one OpenAI-compatible LLM provider.
type ProviderConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"-"` // From env: <PROVIDER>_API_KEY
	// DefaultModel is used when a preference names only the provider.
	DefaultModel string `yaml:"default_model"`
	// Models is the known model list; merged over models_config.json.
	Models []string `yaml:"models"`
	// SupportsResponseFormat gates forwarding of JSON-schema response_format.
	SupportsResponseFormat bool `yaml:"supports_response_format"`
	// Thinking marks reasoning models that stream slowly before the first token.
	Thinking bool `yaml:"thinking"`
}

// PlannerConfig holds the planner agent guards.
type PlannerConfig struct {
	IdleTimeout         time.Duration `yaml:"idle_timeout"`          // inter-chunk silence (default: 30s)
	FirstTokenTimeout   time.Duration `yaml:"first_token_timeout"`   // non-thinking models (default: 20s)
	ThinkingFirstToken  time.Duration `yaml:"thinking_first_token"`  // thinking models (default: 120s)
	MaxAttempts         int           `yaml:"max_attempts"`          // total attempts (default: 2)
	RetryDelay          time.Duration `yaml:"retry_delay"`           // fixed delay between attempts (default: 2s)
}

// SchedulerConfig holds the context scheduler windows and budgets.
type SchedulerConfig struct {
	FunctionWindow    int `yaml:"function_window"`     // ± lines for function fallback (default: 30)
	FileContextWindow int `yaml:"file_context_window"` // ± lines for file_context (default: 20)
	FullFileMaxLines  int `yaml:"full_file_max_lines"` // whole-file cutoff (default: 300)
	CallersMaxHits    int `yaml:"callers_max_hits"`    // ripgrep hit cap (default: 5)
	MaxCharsPerField  int `yaml:"max_chars_per_field"` // text budget (default: 8000)
}

// CollectorConfig holds diff collection thresholds.
type CollectorConfig struct {
	MergeGap       int `yaml:"merge_gap"`        // hunk merge distance (default: 20)
	ClusterGap     int `yaml:"cluster_gap"`      // smart expansion cluster gap (default: 10)
	DocDiffLines   int `yaml:"doc_diff_lines"`   // doc-light diff truncation (default: 60)
	DocContextLines int `yaml:"doc_context_lines"` // doc-light context truncation (default: 50)
}

// ToolsConfig configures the tool runtime.
type ToolsConfig struct {
	AutoApprove []string          `yaml:"auto_approve"` // tool names approved without asking
	MCPServers  []MCPServerConfig `yaml:"mcp_servers"`
}

// MCPServerConfig is one external MCP tool server bridged into the runtime.
type MCPServerConfig struct {
	Name       string        `yaml:"name"`
	Endpoint   string        `yaml:"endpoint"` // stdio://cmd args, http(s)://...
	Token      string        `yaml:"-"`        // From env: MCP_<NAME>_TOKEN
	AuthHeader string        `yaml:"auth_header"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ScannerConfig is one external static scanner driven in the background.
type ScannerConfig struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"` // argv; {file} is substituted
	Langs   []string `yaml:"langs"`   // languages it applies to; empty = all
}

// StorageConfig holds configuration for session persistence.
type StorageConfig struct {
	Driver  string        `yaml:"driver"` // sqlite
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"` // default: 5s
}

// Config holds the configuration for the review pipeline service.
type Config struct {
	Log struct {
		Level    string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
		Format   string `yaml:"format"` // text, json
		Output   string `yaml:"output"` // stdout, stderr, /path/to/file
		Rotation struct {
			MaxSize    int  `yaml:"max_size"` // Megabytes
			MaxBackups int  `yaml:"max_backups"`
			MaxAge     int  `yaml:"max_age"` // Days
			Compress   bool `yaml:"compress"`
		} `yaml:"rotation"`
	} `yaml:"log"`

	Server struct {
		Port             int           `yaml:"port"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxBodySize      int64         `yaml:"max_body_size"`
		ConcurrencyLimit int           `yaml:"concurrency_limit"` // parallel review sessions (default: 4)
	} `yaml:"server"`

	// DataDir is the root for persisted state (Analysis/ intent caches).
	DataDir string `yaml:"data_dir"`
	// LogDir is the root for session JSONL and human logs.
	LogDir string `yaml:"log_dir"`

	LLM struct {
		// DefaultProvider is used for "auto" preferences.
		DefaultProvider string                    `yaml:"default_provider"`
		Providers       map[string]ProviderConfig `yaml:"providers"`
		CallTimeout     time.Duration             `yaml:"call_timeout"` // per review-loop call (default: 120s)
		HTTPConnect     time.Duration             `yaml:"http_connect"` // connect timeout (default: 10s)
		MaxRounds       int                       `yaml:"max_rounds"`   // review loop cap (default: 20)
	} `yaml:"llm"`

	Git struct {
		CommandTimeout time.Duration `yaml:"command_timeout"` // per subprocess (default: 60s)
		BaseBranch     string        `yaml:"base_branch"`     // PR diff base (default: main)
	} `yaml:"git"`

	Planner   PlannerConfig   `yaml:"planner"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Collector CollectorConfig `yaml:"collector"`
	Tools     ToolsConfig     `yaml:"tools"`
	Scanners  []ScannerConfig `yaml:"scanners"`
	Storage   StorageConfig   `yaml:"storage"`
}

// GetLogLevel returns the slog.Level based on Log.Level string
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from YAML file and supplements with environment variables
func LoadConfig() *Config {
	cfg := &Config{}

	// Defaults before loading
	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	cfg.Log.Rotation.MaxSize = 100
	cfg.Log.Rotation.MaxBackups = 10
	cfg.Log.Rotation.MaxAge = 7
	cfg.Log.Rotation.Compress = true

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 0 // streaming responses must not be cut off
	cfg.Server.MaxBodySize = DefaultMaxBodySize
	cfg.Server.ConcurrencyLimit = 4

	cfg.DataDir = "data"
	cfg.LogDir = "log"

	cfg.LLM.DefaultProvider = "openai"
	cfg.LLM.CallTimeout = 120 * time.Second
	cfg.LLM.HTTPConnect = 10 * time.Second
	cfg.LLM.MaxRounds = 20

	cfg.Git.CommandTimeout = 60 * time.Second
	cfg.Git.BaseBranch = "main"

	cfg.Planner.IdleTimeout = 30 * time.Second
	cfg.Planner.FirstTokenTimeout = 20 * time.Second
	cfg.Planner.ThinkingFirstToken = 120 * time.Second
	cfg.Planner.MaxAttempts = 2
	cfg.Planner.RetryDelay = 2 * time.Second

	cfg.Scheduler.FunctionWindow = 30
	cfg.Scheduler.FileContextWindow = 20
	cfg.Scheduler.FullFileMaxLines = 300
	cfg.Scheduler.CallersMaxHits = 5
	cfg.Scheduler.MaxCharsPerField = 8000

	cfg.Collector.MergeGap = 20
	cfg.Collector.ClusterGap = 10
	cfg.Collector.DocDiffLines = 60
	cfg.Collector.DocContextLines = 50

	cfg.Storage.Timeout = 5 * time.Second

	// Try to load from YAML
	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("unmarshal config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config loaded", "path", configPath)
	} else {
		if !os.IsNotExist(err) {
			slog.Error("read config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config not found, using defaults", "path", configPath)
	}

	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]ProviderConfig{}
	}
	if _, ok := cfg.LLM.Providers["openai"]; !ok {
		cfg.LLM.Providers["openai"] = ProviderConfig{
			Endpoint:               "https://api.openai.com/v1",
			DefaultModel:           "gpt-4o",
			Models:                 []string{"gpt-4o", "gpt-4o-mini"},
			SupportsResponseFormat: true,
		}
	}

	// Supplement with environment variables for secrets and critical items
	for name, p := range cfg.LLM.Providers {
		envKey := strings.ToUpper(name) + "_API_KEY"
		p.APIKey = getEnv(envKey, getEnv("LLM_API_KEY", p.APIKey))
		cfg.LLM.Providers[name] = p
	}
	for i := range cfg.Tools.MCPServers {
		s := &cfg.Tools.MCPServers[i]
		s.Token = getEnv("MCP_"+strings.ToUpper(s.Name)+"_TOKEN", s.Token)
		if s.Timeout <= 0 {
			s.Timeout = 30 * time.Second
		}
	}

	if envPort := getEnvInt("PORT", 0); envPort != 0 {
		cfg.Server.Port = envPort
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Log.Output = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.LogDir = v
	}

	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}
	if c.LLM.DefaultProvider != "" {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("default provider %q not configured", c.LLM.DefaultProvider))
		}
	}
	for name, p := range c.LLM.Providers {
		if p.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("provider %q missing endpoint", name))
		}
	}
	for _, s := range c.Scanners {
		if len(s.Command) == 0 {
			errs = append(errs, fmt.Sprintf("scanner %q has no command", s.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ResolvePreference resolves "auto" | "<provider>" | "<provider>:<model>"
// into a concrete provider name, provider config and model name.
func (c *Config) ResolvePreference(pref string) (string, ProviderConfig, string, error) {
	name := c.LLM.DefaultProvider
	model := ""
	if pref != "" && pref != "auto" {
		name = pref
		if i := strings.IndexByte(pref, ':'); i >= 0 {
			name = pref[:i]
			model = pref[i+1:]
		}
	}
	p, ok := c.LLM.Providers[name]
	if !ok {
		return "", ProviderConfig{}, "", fmt.Errorf("unknown llm provider %q", name)
	}
	if model == "" {
		model = p.DefaultModel
		if model == "" && len(p.Models) > 0 {
			model = p.Models[0]
		}
	}
	if model == "" {
		return "", ProviderConfig{}, "", fmt.Errorf("provider %q has no model configured", name)
	}
	return name, p, model, nil
}

// Helper functions for reading environment variables

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
