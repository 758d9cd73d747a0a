package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost string
	RedisPort string

	EtcdEndpoints     []string
	LeaderElectionTTL int

	APIPort           string
	SchedulerInterval string

	// Secret bindings consumed by harvest jobs. Values come from the
	// host environment (the deployment's secret store) and are only
	// ever handed to the job process, never persisted.
	PerplexityAPIKey string
	SupabaseURL      string
	SupabaseAPIKey   string

	// Log storage. When S3Bucket is empty the executor falls back to
	// the local filesystem store.
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	LogDir      string

	JWTSecret    string
	OTLPEndpoint string
}

func LoadConfig() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "trendharvest"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "trendharvest"),

		RedisHost: getEnv("REDIS_HOST", "localhost"),
		RedisPort: getEnv("REDIS_PORT", "6379"),

		EtcdEndpoints:     strings.Split(getEnv("ETCD_ENDPOINTS", "localhost:2379"), ","),
		LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),

		APIPort:           getEnv("API_PORT", "8080"),
		SchedulerInterval: getEnv("SCHEDULER_INTERVAL", "10s"),

		PerplexityAPIKey: getEnv("PERPLEXITY_API_KEY", ""),
		SupabaseURL:      getEnv("SUPABASE_URL", ""),
		SupabaseAPIKey:   getEnv("SUPABASE_API_KEY", ""),

		S3Bucket:    getEnv("LOG_S3_BUCKET", ""),
		S3Region:    getEnv("LOG_S3_REGION", "us-east-1"),
		S3Endpoint:  getEnv("LOG_S3_ENDPOINT", ""),
		S3AccessKey: getEnv("LOG_S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("LOG_S3_SECRET_KEY", ""),
		LogDir:      getEnv("LOG_DIR", "/var/log/trendharvest"),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		OTLPEndpoint: getEnv("OTLP_ENDPOINT", "localhost:4318"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
