package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Env        string
	Port       string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Generation backend
	OllamaURL       string
	GenerationModel string
	EmbeddingModel  string

	// Vector search. Empty VectorDSN disables dense retrieval; the service
	// then runs sparse-only.
	VectorDSN string

	MaxRevisions  int
	EnableOTel    bool
	WorkerEnabled bool
}

func Load() *Config {
	return &Config{
		Env:             getEnv("ENV", "development"),
		Port:            getEnv("PORT", "9020"),
		DBHost:          getEnv("DB_HOST", "docqa-db"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", "docqa_user"),
		DBPassword:      getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "docqa_password"),
		DBName:          getEnv("DB_NAME", "docqa_db"),
		OllamaURL:       getEnv("OLLAMA_URL", "http://ollama:11434"),
		GenerationModel: getEnv("GENERATION_MODEL", "gpt-oss20b-cpu"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "embeddinggemma"),
		VectorDSN:       getEnv("VECTOR_DSN", ""),
		MaxRevisions:    getEnvInt("MAX_REVISIONS", 2),
		EnableOTel:      getEnvBool("ENABLE_OTEL", false),
		WorkerEnabled:   getEnvBool("WORKER_ENABLED", true),
	}
}

// DatabaseDSN assembles the primary connection string.
func (c *Config) DatabaseDSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}

	// Docker-secrets style indirection: the env var names a file.
	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
