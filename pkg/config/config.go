package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Model types supported by the LLM factory.
const (
	ModelTypeQwen      = "qwen"
	ModelTypeAnthropic = "anthropic"
)

// Config holds all configuration for datachat-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:""`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Engine metadata store (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Optional Redis cache for learned SQL error patterns
	Redis RedisConfig `yaml:"redis"`

	// Customer datasource connection management
	Datasource DatasourceConfig `yaml:"datasource"`

	// LLM integration
	LLM LLMConfig `yaml:"llm"`

	// Dialogue context manager limits
	Context ContextConfig `yaml:"context"`

	// Credential encryption key for datasource connection configs.
	// Base64-encoded 32-byte key (openssl rand -base64 32) or a passphrase.
	// Server fails to start if unset.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_ENCRYPTION_KEY"` // Secret - not in YAML
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT bearer tokens are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"false"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL configuration for the engine's own store.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"datachat"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"datachat_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds optional Redis configuration.
// When Host is empty the engine runs without Redis and learned SQL error
// patterns live only in memory.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// DatasourceConfig holds customer datasource connection management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle datasource connections are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// PoolMaxConns is the maximum number of connections per datasource pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"5"`
	// QueryTimeoutSeconds bounds generated-SQL execution time.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds" env:"DATASOURCE_QUERY_TIMEOUT_SECONDS" env-default:"30"`
	// MaxResultRows caps rows returned from generated SQL.
	MaxResultRows int `yaml:"max_result_rows" env:"DATASOURCE_MAX_RESULT_ROWS" env-default:"1000"`
}

// LLMConfig holds external model configuration.
// ModelType selects the provider: "qwen" (OpenAI-compatible endpoint) or "anthropic".
type LLMConfig struct {
	ModelType string `yaml:"model_type" env:"MODEL_TYPE" env-default:"qwen"`

	// Qwen / OpenAI-compatible settings
	QwenModelName string `yaml:"qwen_model_name" env:"QWEN_MODEL_NAME" env-default:"qwen-plus"`
	QwenBaseURL   string `yaml:"qwen_base_url" env:"QWEN_BASE_URL" env-default:"https://dashscope.aliyuncs.com/compatible-mode/v1"`
	QwenAPIKey    string `yaml:"-" env:"QWEN_API_KEY"` // Secret - not in YAML

	// Anthropic settings
	AnthropicModelName string `yaml:"anthropic_model_name" env:"ANTHROPIC_MODEL_NAME" env-default:"claude-sonnet-4-20250514"`
	AnthropicAPIKey    string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML

	Temperature    float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxFixAttempts int     `yaml:"max_fix_attempts" env:"LLM_MAX_FIX_ATTEMPTS" env-default:"2"`
	// RequestsPerSecond throttles outbound LLM calls. 0 disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"LLM_REQUESTS_PER_SECOND" env-default:"2"`
}

// ContextConfig bounds the dual-tier dialogue context manager.
type ContextConfig struct {
	MaxSessions        int `yaml:"max_sessions" env:"CONTEXT_MAX_SESSIONS" env-default:"500"`
	MaxTurnsPerSession int `yaml:"max_turns_per_session" env:"CONTEXT_MAX_TURNS_PER_SESSION" env-default:"20"`
	SessionTTLMinutes  int `yaml:"session_ttl_minutes" env:"CONTEXT_SESSION_TTL_MINUTES" env-default:"120"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.ModelType {
	case ModelTypeQwen, ModelTypeAnthropic:
	default:
		return fmt.Errorf("invalid MODEL_TYPE %q: must be %q or %q",
			c.LLM.ModelType, ModelTypeQwen, ModelTypeAnthropic)
	}

	if c.CredentialsKey == "" {
		return fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY must be set")
	}

	if c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("auth verification enabled but JWKS_ENDPOINTS is empty")
	}

	if c.LLM.MaxFixAttempts < 0 {
		return fmt.Errorf("max_fix_attempts must be >= 0")
	}

	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.Split(pair, "=")
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string for the engine store.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
