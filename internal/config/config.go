package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every tunable of the service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Providers ProviderConfig
	Memory    MemoryConfig
	LogMode   string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	providers, err := loadProviderConfig()
	if err != nil {
		return nil, err
	}

	memory, err := loadMemoryConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Database:  loadDatabaseConfig(),
		Providers: providers,
		Memory:    memory,
		LogMode:   getEnvOrDefault("LOG_MODE", "dev"),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// DatabaseConfig describes the Postgres connection.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the connection string consumed by gorm's postgres driver.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
		Port:     getEnvOrDefault("POSTGRES_PORT", "5432"),
		User:     getEnvOrDefault("POSTGRES_USER", "postgres"),
		Password: strings.TrimSpace(os.Getenv("POSTGRES_PASSWORD")),
		Name:     getEnvOrDefault("POSTGRES_NAME", "reverie"),
		SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}
}

// ProviderConfig carries credentials and defaults for every LLM backend.
type ProviderConfig struct {
	OpenAI       OpenAIConfig
	Anthropic    AnthropicConfig
	Gemini       GeminiConfig
	Ark          ArkConfig
	DefaultModel string
}

// OpenAIConfig serves both chat completions and the embeddings endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

func (c OpenAIConfig) Enabled() bool { return c.APIKey != "" }

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Version string
}

func (c AnthropicConfig) Enabled() bool { return c.APIKey != "" }

type GeminiConfig struct {
	APIKey  string
	BaseURL string
}

func (c GeminiConfig) Enabled() bool { return c.APIKey != "" }

// ArkConfig describes the Volcano Ark (Doubao) backend.
type ArkConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	BaseURL     string
	Region      string
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials are present.
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds an Ark chat model instance from the configuration.
func (c ArkConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadProviderConfig() (ProviderConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return ProviderConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return ProviderConfig{}, err
	}

	return ProviderConfig{
		OpenAI: OpenAIConfig{
			APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			BaseURL: getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
		},
		Anthropic: AnthropicConfig{
			APIKey:  strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
			BaseURL: getEnvOrDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			Version: getEnvOrDefault("ANTHROPIC_VERSION", "2023-06-01"),
		},
		Gemini: GeminiConfig{
			APIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			BaseURL: getEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		},
		Ark: ArkConfig{
			APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
			Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
			Temperature: temperature,
			MaxTokens:   maxTokens,
		},
		DefaultModel: getEnvOrDefault("DEFAULT_MODEL", "gpt-4o-mini"),
	}, nil
}

// MemoryConfig tunes the semantic memory subsystem.
type MemoryConfig struct {
	Enabled             bool
	EmbeddingModel      string
	EmbeddingDimensions int
	RetrievalLimit      int
}

func loadMemoryConfig() (MemoryConfig, error) {
	enabled, err := parseBoolEnv("MEMORY_ENABLED", true)
	if err != nil {
		return MemoryConfig{}, err
	}

	dimensions := 1536
	if override, err := parseOptionalIntEnv("MEMORY_EMBEDDING_DIMENSIONS"); err != nil {
		return MemoryConfig{}, err
	} else if override != nil && *override > 0 {
		dimensions = *override
	}

	limit := 5
	if override, err := parseOptionalIntEnv("MEMORY_RETRIEVAL_LIMIT"); err != nil {
		return MemoryConfig{}, err
	} else if override != nil && *override > 0 {
		limit = *override
	}

	return MemoryConfig{
		Enabled:             enabled,
		EmbeddingModel:      getEnvOrDefault("MEMORY_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: dimensions,
		RetrievalLimit:      limit,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
