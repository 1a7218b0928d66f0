package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定（チャンクストア）
	Database DatabaseConfig

	// MongoDB設定（ドキュメント台帳・プロジェクト・バージョン）
	Mongo MongoConfig

	// OpenAI設定（生成用LLM）
	OpenAI OpenAIConfig

	// Embedding設定
	Embedding EmbeddingConfig

	// 生成パイプライン設定
	Generation GenerationConfig

	// Web検索設定
	Web WebConfig

	// ドキュメント処理設定
	Processing ProcessingConfig

	// 生成内容の検証設定
	Validation ValidationConfig

	// ログ設定
	Logging LoggingConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// MongoConfig はMongoDB接続設定
type MongoConfig struct {
	URI      string
	Database string
}

// OpenAIConfig はチャットLLMの設定
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// EmbeddingConfig はEmbeddingプロバイダの設定
type EmbeddingConfig struct {
	Dialect   string // "openai" or "native"
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	Strict    bool
	Timeout   time.Duration
	MaxChars  int
	BatchSize int
}

// GenerationConfig は生成パイプラインの設定
type GenerationConfig struct {
	MaxConcurrent     int
	BatchTimeout      time.Duration
	StreamIdleTimeout time.Duration
	RAGTopK           int
	WebTopK           int
	WebContentChars   int
}

// WebConfig はWeb検索・本文取得プロバイダの設定
type WebConfig struct {
	Enabled           bool
	SearchEndpoint    string
	SearchAPIKey      string
	PrimaryEndpoint   string
	PrimaryAPIKey     string
	FallbackEndpoint  string
	FallbackAPIKey    string
	SearchTimeout     time.Duration
	FetchTimeout      time.Duration
	Locale            string
	RequestsPerSecond float64
	FetchContent      bool
}

// ProcessingConfig はドキュメント処理の設定
type ProcessingConfig struct {
	ChunkSize    int
	ChunkOverlap int
	MaxAttempts  int
	BlobRootDir  string
}

// ValidationConfig は生成内容の検証設定
type ValidationConfig struct {
	RequiredKeywords []string
	SensitiveWords   []string
}

// LoggingConfig はログ出力設定
type LoggingConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "curriculum"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "curriculum"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DATABASE", "curriculum"),
		},
		OpenAI: OpenAIConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Model:       getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			Temperature: getEnvAsFloat("OPENAI_LLM_TEMPERATURE", 0.7),
			MaxTokens:   getEnvAsInt("OPENAI_LLM_MAX_TOKENS", 4096),
		},
		Embedding: EmbeddingConfig{
			Dialect:   getEnv("EMBEDDING_DIALECT", "openai"),
			APIKey:    getEnv("EMBEDDING_API_KEY", getEnv("OPENAI_API_KEY", "")),
			BaseURL:   getEnv("EMBEDDING_BASE_URL", ""),
			Model:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: getEnvAsInt("EMBEDDING_DIMENSION", 1536),
			Strict:    getEnvAsBool("EMBEDDING_STRICT", true),
			Timeout:   getEnvAsDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			MaxChars:  getEnvAsInt("EMBEDDING_MAX_CHARS", 8000),
			BatchSize: getEnvAsInt("EMBEDDING_BATCH_SIZE", 25),
		},
		Generation: GenerationConfig{
			MaxConcurrent:     getEnvAsInt("GENERATION_MAX_CONCURRENT", 3),
			BatchTimeout:      getEnvAsDuration("GENERATION_TIMEOUT", 120*time.Second),
			StreamIdleTimeout: getEnvAsDuration("GENERATION_STREAM_IDLE_TIMEOUT", 45*time.Second),
			RAGTopK:           getEnvAsInt("RAG_TOP_K", 5),
			WebTopK:           getEnvAsInt("WEB_TOP_K", 5),
			WebContentChars:   getEnvAsInt("WEB_CONTENT_MAX_CHARS", 2000),
		},
		Web: WebConfig{
			Enabled:           getEnvAsBool("WEB_SEARCH_ENABLED", false),
			SearchEndpoint:    getEnv("WEB_SEARCH_ENDPOINT", "https://google.serper.dev/search"),
			SearchAPIKey:      getEnv("WEB_SEARCH_API_KEY", ""),
			PrimaryEndpoint:   getEnv("WEB_EXTRACT_PRIMARY_ENDPOINT", "https://api.firecrawl.dev/v1/scrape"),
			PrimaryAPIKey:     getEnv("WEB_EXTRACT_PRIMARY_API_KEY", ""),
			FallbackEndpoint:  getEnv("WEB_EXTRACT_FALLBACK_ENDPOINT", "https://r.jina.ai/"),
			FallbackAPIKey:    getEnv("WEB_EXTRACT_FALLBACK_API_KEY", ""),
			SearchTimeout:     getEnvAsDuration("WEB_SEARCH_TIMEOUT", 10*time.Second),
			FetchTimeout:      getEnvAsDuration("WEB_FETCH_TIMEOUT", 15*time.Second),
			Locale:            getEnv("WEB_SEARCH_LOCALE", "zh-cn"),
			RequestsPerSecond: getEnvAsFloat("WEB_REQUESTS_PER_SECOND", 5),
			FetchContent:      getEnvAsBool("WEB_FETCH_CONTENT", true),
		},
		Processing: ProcessingConfig{
			ChunkSize:    getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap: getEnvAsInt("CHUNK_OVERLAP", 200),
			MaxAttempts:  getEnvAsInt("PROCESSING_MAX_ATTEMPTS", 3),
			BlobRootDir:  getEnv("BLOB_ROOT_DIR", "/var/lib/curriculum-rag/uploads"),
		},
		Validation: ValidationConfig{
			RequiredKeywords: getEnvAsList("VALIDATION_REQUIRED_KEYWORDS", []string{"立德树人", "五育并举", "核心素养", "课程"}),
			SensitiveWords:   getEnvAsList("VALIDATION_SENSITIVE_WORDS", nil),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は相互に依存する設定値の整合性を確認します
func (c *Config) validate() error {
	switch c.Embedding.Dialect {
	case "openai", "native":
	default:
		return fmt.Errorf("unsupported EMBEDDING_DIALECT: %q", c.Embedding.Dialect)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive: %d", c.Embedding.Dimension)
	}
	if c.Processing.ChunkOverlap >= c.Processing.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.Processing.ChunkOverlap, c.Processing.ChunkSize)
	}
	if c.Generation.MaxConcurrent <= 0 {
		return fmt.Errorf("GENERATION_MAX_CONCURRENT must be positive: %d", c.Generation.MaxConcurrent)
	}
	return nil
}

// PostgresDSN はpgx向けの接続文字列を返します
func (d DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: "45s"）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数をリストとして取得します
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
