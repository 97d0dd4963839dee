package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the deepscout research engine
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, openai-compatible
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for different stages
type LLMRoutingConfig struct {
	Clarification string `mapstructure:"clarification"` // clarify/brief structured stages
	Supervision   string `mapstructure:"supervision"`   // supervisor planning
	Research      string `mapstructure:"research"`      // researcher tool loop
	Compression   string `mapstructure:"compression"`   // per-researcher synthesis
	Report        string `mapstructure:"report"`        // final report generation
	Fallback      string `mapstructure:"fallback"`
}

// ResearchConfig carries the orchestration loop limits and per-stage token caps.
type ResearchConfig struct {
	AllowClarification         bool          `mapstructure:"allow_clarification"`
	MaxConcurrentResearchUnits int           `mapstructure:"max_concurrent_research_units"`
	MaxResearcherIterations    int           `mapstructure:"max_researcher_iterations"`
	MaxReactToolCalls          int           `mapstructure:"max_react_tool_calls"`
	MaxStructuredOutputRetries int           `mapstructure:"max_structured_output_retries"`
	MaxToolCallsPerTool        int           `mapstructure:"max_tool_calls_per_tool"`
	ModelCallTimeout           time.Duration `mapstructure:"model_call_timeout"` // 0 disables per-call timeouts

	ClarificationMaxTokens int `mapstructure:"clarification_max_tokens"`
	BriefMaxTokens         int `mapstructure:"brief_max_tokens"`
	CompressionMaxTokens   int `mapstructure:"compression_max_tokens"`
	FinalReportMaxTokens   int `mapstructure:"final_report_max_tokens"`
	ToolWrapperMaxTokens   int `mapstructure:"tool_wrapper_max_tokens"`
}

// Validate checks loop limits are sane.
func (r ResearchConfig) Validate() error {
	if r.MaxConcurrentResearchUnits <= 0 {
		return fmt.Errorf("research.max_concurrent_research_units must be > 0")
	}
	if r.MaxResearcherIterations <= 0 {
		return fmt.Errorf("research.max_researcher_iterations must be > 0")
	}
	if r.MaxReactToolCalls <= 0 {
		return fmt.Errorf("research.max_react_tool_calls must be > 0")
	}
	return nil
}

// ToolsConfig contains research tool configurations
type ToolsConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	WebFetch  WebFetchConfig  `mapstructure:"web_fetch"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	Provider     string        `mapstructure:"provider"` // brave, serper
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// WebFetchConfig contains page fetch settings
type WebFetchConfig struct {
	Fetcher   string        `mapstructure:"fetcher"` // chromedp, http
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxChars  int           `mapstructure:"max_chars"`
	UserAgent string        `mapstructure:"user_agent"`
}

// KnowledgeConfig controls the bleve-backed document index.
type KnowledgeConfig struct {
	IndexDir   string        `mapstructure:"index_dir"` // empty -> in-memory
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	MaxResults int           `mapstructure:"max_results"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN renders a postgres connection string from the configured parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "5m")
	viper.SetDefault("server.address", ":10011")
	viper.SetDefault("research.allow_clarification", true)
	viper.SetDefault("research.max_concurrent_research_units", 3)
	viper.SetDefault("research.max_researcher_iterations", 5)
	viper.SetDefault("research.max_react_tool_calls", 15)
	viper.SetDefault("research.max_structured_output_retries", 3)
	viper.SetDefault("research.max_tool_calls_per_tool", 4)
	viper.SetDefault("research.clarification_max_tokens", 2048)
	viper.SetDefault("research.brief_max_tokens", 4096)
	viper.SetDefault("research.compression_max_tokens", 8192)
	viper.SetDefault("research.final_report_max_tokens", 12000)
	viper.SetDefault("research.tool_wrapper_max_tokens", 4096)
	viper.SetDefault("tools.web_search.provider", "brave")
	viper.SetDefault("tools.web_search.max_results", 10)
	viper.SetDefault("tools.web_search.timeout", "20s")
	viper.SetDefault("tools.web_fetch.fetcher", "chromedp")
	viper.SetDefault("tools.web_fetch.timeout", "15s")
	viper.SetDefault("tools.web_fetch.max_chars", 20000)
	viper.SetDefault("tools.knowledge.session_ttl", "48h")
	viper.SetDefault("tools.knowledge.max_results", 8)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DEEPSCOUT")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Research.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &config
}
