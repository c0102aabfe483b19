package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Deployment environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Routing modes and fallback policies.
const (
	RoutingClassify = "classify"
	RoutingTools    = "tools"

	FallbackNone  = "none"
	FallbackLocal = "local"
)

// Config is the top-level application configuration.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	LLM       LLMConfig       `yaml:"llm"`
	A2A       A2AConfig       `yaml:"a2a"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Memory    MemoryConfig    `yaml:"memory"`
	Server    ServerConfig    `yaml:"server"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tools     ToolsConfig     `yaml:"tools"`
}

// AgentConfig holds the identity and routing behavior of this process.
type AgentConfig struct {
	Name           string        `yaml:"name"`            // orchestrator, vision, document, data, tool
	Model          string        `yaml:"model,omitempty"` // overrides the provider model for this agent
	Timeout        time.Duration `yaml:"timeout"`
	MaxIterations  int           `yaml:"max_iterations"` // tool routing loop bound
	RoutingMode    string        `yaml:"routing_mode"`   // classify | tools
	FallbackPolicy string        `yaml:"fallback_policy"`
	SystemPrompt   string        `yaml:"system_prompt,omitempty"` // empty = built-in prompt for Name
	RecentLimit    int           `yaml:"recent_limit"`
	SemanticLimit  int           `yaml:"semantic_limit"`
	MaxTokens      int           `yaml:"max_tokens"`
}

// FailoverConfig holds model failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	SuccessThreshold uint32        `yaml:"success_threshold"`
}

// RetryConfig holds retry settings.
type RetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // openai, ollama, bedrock
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// A2AConfig holds settings for calls between agents.
type A2AConfig struct {
	TextTimeout      time.Duration        `yaml:"text_timeout"`
	MediaTimeout     time.Duration        `yaml:"media_timeout"`
	ConnTimeout      time.Duration        `yaml:"conn_timeout"`
	MaxResponseBytes int64                `yaml:"max_response_bytes"`
	Retry            RetryConfig          `yaml:"retry"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuit_breaker"`
	Pool             PoolConfig           `yaml:"pool"`
}

// DiscoveryConfig maps agent names to base URLs.
type DiscoveryConfig struct {
	Environment string            `yaml:"environment"` // development | production
	Endpoints   map[string]string `yaml:"endpoints"`
}

// MemoryConfig holds memory store settings.
type MemoryConfig struct {
	Provider string        `yaml:"provider"` // noop, sqlite, redis
	DataDir  string        `yaml:"data_dir"`
	CacheTTL time.Duration `yaml:"cache_ttl"` // 0 disables the read cache
	Redis    RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password,omitempty"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// ServerConfig holds the inbound HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second per client IP, 0 = unlimited
	RateBurst    int           `yaml:"rate_burst"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PublicURL    string        `yaml:"public_url,omitempty"` // advertised in the agent card

	// TrustedProxies lists proxy addresses or CIDR prefixes whose
	// X-Forwarded-For is believed when rate limiting.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ToolsConfig holds settings for the tool specialist's utilities.
type ToolsConfig struct {
	Weather WeatherConfig `yaml:"weather"`
}

// WeatherConfig configures the OpenWeatherMap-backed weather tool. The API
// key may be an "enc:" secret.
type WeatherConfig struct {
	APIKey       string        `yaml:"api_key,omitempty"`
	GeocodingURL string        `yaml:"geocoding_url,omitempty"`
	OneCallURL   string        `yaml:"one_call_url,omitempty"`
	Timeout      time.Duration `yaml:"timeout"`
}

// defaultDataDir returns the persistent data directory under $HOME/.agentcore/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".agentcore", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:           "orchestrator",
			Timeout:        180 * time.Second,
			MaxIterations:  5,
			RoutingMode:    RoutingClassify,
			FallbackPolicy: FallbackNone,
			RecentLimit:    10,
			SemanticLimit:  5,
			MaxTokens:      4096,
		},
		LLM: LLMConfig{
			DefaultProvider: "bedrock",
			Providers: []ProviderConfig{{
				Name:   "bedrock",
				Type:   "bedrock",
				Model:  "amazon.nova-pro-v1:0",
				Region: "us-east-1",
			}},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				OpenTimeout:      60 * time.Second,
				SuccessThreshold: 2,
			},
		},
		A2A: A2AConfig{
			TextTimeout:      30 * time.Second,
			MediaTimeout:     120 * time.Second,
			ConnTimeout:      10 * time.Second,
			MaxResponseBytes: 10 * 1024 * 1024,
			Retry: RetryConfig{
				Enabled:     true,
				MaxAttempts: 3,
				BaseDelay:   time.Second,
				MaxDelay:    10 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				OpenTimeout:      60 * time.Second,
				SuccessThreshold: 2,
			},
		},
		Discovery: DiscoveryConfig{
			Environment: EnvDevelopment,
			Endpoints:   map[string]string{},
		},
		Memory: MemoryConfig{
			Provider: "noop",
			DataDir:  filepath.Join(defaultDataDir(), "memory"),
			CacheTTL: 30 * time.Second,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "agentcore",
				TTL:       30 * 24 * time.Hour,
			},
		},
		Server: ServerConfig{
			Addr:         ":9005",
			RateLimit:    10,
			RateBurst:    20,
			MaxBodyBytes: 32 * 1024 * 1024,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 200 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tools: ToolsConfig{
			Weather: WeatherConfig{Timeout: 10 * time.Second},
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error; defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := validatePermissions(path); err != nil {
				return nil, err
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("AGENTCORE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// endpointEnv maps deployment env vars to the agent they address.
var endpointEnv = map[string]string{
	"ORCHESTRATOR_URL":   "orchestrator",
	"VISION_AGENT_URL":   "vision",
	"DOCUMENT_AGENT_URL": "document",
	"DATA_AGENT_URL":     "data",
	"TOOL_AGENT_URL":     "tool",
}

// ApplyEnvOverrides maps AGENTCORE_* and deployment env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCORE_AGENT_NAME"); v != "" {
		cfg.Agent.Name = v
	}
	if v := os.Getenv("AGENTCORE_AGENT_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("AGENTCORE_ROUTING_MODE"); v != "" {
		cfg.Agent.RoutingMode = v
	}
	if v := os.Getenv("AGENTCORE_FALLBACK_POLICY"); v != "" {
		cfg.Agent.FallbackPolicy = v
	}
	if v := os.Getenv("WEATHER_API_KEY"); v != "" {
		cfg.Tools.Weather.APIKey = v
	}
	if v := os.Getenv("AGENTCORE_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("AGENTCORE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AGENTCORE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AGENTCORE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AGENTCORE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("AGENTCORE_METRICS_ENABLED"); v == "false" {
		cfg.Metrics.Enabled = false
	}
	if v := os.Getenv("AGENTCORE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AGENTCORE_SERVER_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("AGENTCORE_SERVER_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("AGENTCORE_SERVER_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Server.RateLimit = f
		}
	}
	if v := os.Getenv("AGENTCORE_A2A_TEXT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.A2A.TextTimeout = d
		}
	}
	if v := os.Getenv("AGENTCORE_A2A_MEDIA_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.A2A.MediaTimeout = d
		}
	}
	if v := os.Getenv("AGENTCORE_A2A_RETRY_ENABLED"); v == "false" {
		cfg.A2A.Retry.Enabled = false
	}
	if v := os.Getenv("AGENTCORE_A2A_BREAKER_ENABLED"); v == "false" {
		cfg.A2A.CircuitBreaker.Enabled = false
	}
	if v := os.Getenv("AGENTCORE_MEMORY_PROVIDER"); v != "" {
		cfg.Memory.Provider = v
	}
	if v := os.Getenv("AGENTCORE_MEMORY_DATA_DIR"); v != "" {
		cfg.Memory.DataDir = v
	}
	if v := os.Getenv("AGENTCORE_REDIS_ADDR"); v != "" {
		cfg.Memory.Redis.Addr = v
	}
	if v := os.Getenv("AGENTCORE_REDIS_PASSWORD"); v != "" {
		cfg.Memory.Redis.Password = v
	}

	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Discovery.Environment = strings.ToLower(v)
	}
	for env, agent := range endpointEnv {
		if v := os.Getenv(env); v != "" {
			if cfg.Discovery.Endpoints == nil {
				cfg.Discovery.Endpoints = make(map[string]string)
			}
			cfg.Discovery.Endpoints[agent] = v
		}
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		for i := range cfg.LLM.Providers {
			if cfg.LLM.Providers[i].Type == "bedrock" {
				cfg.LLM.Providers[i].Region = v
			}
		}
	}

	// Per-provider overrides: AGENTCORE_LLM_PROVIDER_<NAME>_API_KEY / _MODEL
	for i := range cfg.LLM.Providers {
		name := strings.ToUpper(cfg.LLM.Providers[i].Name)
		if v := os.Getenv(fmt.Sprintf("AGENTCORE_LLM_PROVIDER_%s_API_KEY", name)); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
		if v := os.Getenv(fmt.Sprintf("AGENTCORE_LLM_PROVIDER_%s_MODEL", name)); v != "" {
			cfg.LLM.Providers[i].Model = v
		}
	}
}

// decryptSecrets finds "enc:..." values in secret fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		key := cfg.LLM.Providers[i].APIKey
		if strings.HasPrefix(key, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
			}
			cfg.LLM.Providers[i].APIKey = decrypted
		}
	}

	if strings.HasPrefix(cfg.Memory.Redis.Password, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Memory.Redis.Password, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("redis password: %w", err)
		}
		cfg.Memory.Redis.Password = decrypted
	}

	if strings.HasPrefix(cfg.Tools.Weather.APIKey, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Tools.Weather.APIKey, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("weather api_key: %w", err)
		}
		cfg.Tools.Weather.APIKey = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
