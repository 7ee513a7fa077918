package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/productscribe/internal/common"
)

const defaultConfigFile = "config.yaml"

// Config is the root configuration loaded from YAML.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Generation GenerationConfig `yaml:"generation"`
	LLM        LLMConfig        `yaml:"llm"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	PublicBaseURL string        `yaml:"publicBaseUrl"` // prefix for issued upload URLs, e.g. https://cdn.example
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxUploadSize ByteSize      `yaml:"maxUploadSize"`
	StorageDir    string        `yaml:"storageDir"`
	APIKey        string        `yaml:"apiKey"`        // optional static API key header (X-API-Key) for /api routes
	DatabasePath  string        `yaml:"databasePath"`  // optional, overrides default storage_dir/productscribe.db
	ShutdownGrace time.Duration `yaml:"shutdownGrace"` // time to wait for in-flight requests
	SessionTTL    time.Duration `yaml:"sessionTtl"`    // idle form sessions are evicted after this
	LogLevel      string        `yaml:"logLevel"`      // debug|info|warn|error
}

// GenerationConfig points the form at the description endpoint.
type GenerationConfig struct {
	Endpoint string        `yaml:"endpoint"` // defaults to <publicBaseUrl>/api/generateDescriptions
	Timeout  time.Duration `yaml:"timeout"`
	APIKey   string        `yaml:"apiKey"` // sent as X-API-Key; defaults to server.apiKey
}

// LLMConfig selects provider and provider-specific options.
type LLMConfig struct {
	Provider    string          `yaml:"provider"`    // "mock", "aiproxy" or "openai"
	Concurrency int             `yaml:"concurrency"` // languages generated in parallel per request
	Mock        MockSettings    `yaml:"mock"`
	AIProxy     AIProxySettings `yaml:"aiproxy"`
	OpenAI      OpenAISettings  `yaml:"openai"`
}

// MockSettings config for the mock LLM.
type MockSettings struct {
	Delay  time.Duration `yaml:"delay"`
	Prefix string        `yaml:"prefix"`
}

// AIProxySettings config for the AI Proxy (OpenAI-compatible) LLM.
type AIProxySettings struct {
	BaseURL      string  `yaml:"baseUrl"`      // e.g. http://localhost:8900
	APIKey       string  `yaml:"apiKey"`       // optional
	Model        string  `yaml:"model"`        // e.g. gpt-5
	SystemPrompt string  `yaml:"systemPrompt"` // optional system message override
	Instructions string  `yaml:"instructions"` // optional user instruction override, may contain %s for the language
	Temperature  float32 `yaml:"temperature"`  // optional
	MaxTokens    int     `yaml:"maxTokens"`    // optional
}

// OpenAISettings config for the OpenAI SDK provider.
type OpenAISettings struct {
	BaseURL           string  `yaml:"baseUrl"` // optional, e.g. https://api.openai.com/v1/
	APIKey            string  `yaml:"apiKey"`
	Model             string  `yaml:"model"`
	SystemPrompt      string  `yaml:"systemPrompt"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"maxTokens"`
	RequestsPerMinute int     `yaml:"requestsPerMinute"`
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseByteSize(strings.TrimSpace(value.Value))
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	// Longer suffixes first so "KIB" is not read as "B".
	units := []unit{
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var PRODUCTSCRIBE_CONFIG, then default to "config.yaml".
// A missing default config.yaml is not an error; defaults apply.
func Load(path string) (*Config, error) {
	explicit := true
	if path == "" {
		if env := os.Getenv("PRODUCTSCRIBE_CONFIG"); env != "" {
			path = env
		} else {
			path = defaultConfigFile
			explicit = false
		}
	}

	var cfg Config
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 - reading sanitized config file path is expected
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case !explicit && errors.Is(err, fs.ErrNotExist):
		// run on defaults
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
		return nil, fmt.Errorf("ensure storage_dir: %w", err)
	}
	if cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = filepath.Join(cfg.Server.StorageDir, "productscribe.db")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if strings.TrimSpace(cfg.Server.PublicBaseURL) == "" {
		cfg.Server.PublicBaseURL = "http://" + hostFromAddr(cfg.Server.Addr)
	}
	cfg.Server.PublicBaseURL = strings.TrimRight(cfg.Server.PublicBaseURL, "/")
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 3 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(10 * 1024 * 1024) // 10 MiB default
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if cfg.Server.SessionTTL == 0 {
		cfg.Server.SessionTTL = 30 * time.Minute
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// Generation defaults
	if strings.TrimSpace(cfg.Generation.Endpoint) == "" {
		cfg.Generation.Endpoint = cfg.Server.PublicBaseURL + common.PathGenerate
	}
	if strings.TrimSpace(cfg.Generation.APIKey) == "" {
		cfg.Generation.APIKey = cfg.Server.APIKey
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 2 * time.Minute
	}

	// LLM defaults
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "mock"
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Concurrency <= 0 {
		cfg.LLM.Concurrency = common.DefaultConcurrency
	}
	if cfg.LLM.Mock.Delay == 0 {
		cfg.LLM.Mock.Delay = 500 * time.Millisecond
	}
	if cfg.LLM.Mock.Prefix == "" {
		cfg.LLM.Mock.Prefix = "Generated by Mock"
	}
	switch cfg.LLM.Provider {
	case "aiproxy":
		if strings.TrimSpace(cfg.LLM.AIProxy.BaseURL) == "" {
			cfg.LLM.AIProxy.BaseURL = "http://localhost:8900"
		}
		if strings.TrimSpace(cfg.LLM.AIProxy.Model) == "" {
			cfg.LLM.AIProxy.Model = "gpt-5"
		}
	case "openai":
		if strings.TrimSpace(cfg.LLM.OpenAI.Model) == "" {
			cfg.LLM.OpenAI.Model = "gpt-4o"
		}
		if cfg.LLM.OpenAI.RequestsPerMinute <= 0 {
			cfg.LLM.OpenAI.RequestsPerMinute = 20
		}
	}
}

func validate(cfg *Config) error {
	if _, err := url.ParseRequestURI(cfg.Server.PublicBaseURL); err != nil {
		return fmt.Errorf("server.publicBaseUrl is invalid: %w", err)
	}
	if _, err := url.ParseRequestURI(cfg.Generation.Endpoint); err != nil {
		return fmt.Errorf("generation.endpoint is invalid: %w", err)
	}
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.logLevel %q is not one of debug|info|warn|error", cfg.Server.LogLevel)
	}
	switch cfg.LLM.Provider {
	case "mock", "aiproxy":
	case "openai":
		if strings.TrimSpace(cfg.LLM.OpenAI.APIKey) == "" {
			return errors.New("llm.openai.apiKey is required")
		}
	default:
		return fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
	return nil
}

// SlogLevel maps logLevel to a slog level. Unknown values fall back to info.
func (s ServerConfig) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// hostFromAddr turns a listen address into something a browser can reach.
func hostFromAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	if strings.HasPrefix(addr, "0.0.0.0:") {
		return "localhost" + strings.TrimPrefix(addr, "0.0.0.0")
	}
	return addr
}
