package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// It follows the 12-factor app methodology by prioritizing environment variables.
type Config struct {
	Environment string

	// Client-side settings.
	KeyStorePath  string
	KeyPassphrase string
	ServerURL     string
	BusURL        string
	Institution   string

	// Dev server settings.
	Server ServerConfig
	Redis  RedisConfig
	S3     S3Config
}

type ServerConfig struct {
	Port           string
	JWTSecret      string
	JWTExpiryHours int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string
	UploadTTL time.Duration
}

// LoadConfig loads configuration from environment variables.
// A .env file is read first if present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		Environment:   getEnv("APP_ENV", "development"),
		KeyStorePath:  getEnv("CHAT_KEYSTORE_PATH", defaultKeyStorePath()),
		KeyPassphrase: getEnv("CHAT_KEY_PASSPHRASE", ""),
		ServerURL:     getEnv("CHAT_SERVER_URL", "http://localhost:8080"),
		BusURL:        getEnv("CHAT_BUS_URL", "ws://localhost:8080/ws"),
		Institution:   getEnv("CHAT_INSTITUTION", "default"),
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			JWTSecret:      getEnv("JWT_SECRET", "dev-secret"),
			JWTExpiryHours: getEnvAsInt("JWT_EXPIRY_HOURS", 24),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		S3: S3Config{
			Region:    getEnv("S3_REGION", ""),
			Bucket:    getEnv("S3_BUCKET", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			UploadTTL: time.Duration(getEnvAsInt("S3_UPLOAD_TTL_MINUTES", 15)) * time.Minute,
		},
	}, nil
}

func defaultKeyStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cipherchat/keys"
	}
	return home + "/.cipherchat/keys"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
