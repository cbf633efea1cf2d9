package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Server    ServerConfig
	WebAuthn  WebAuthnConfig
	StepUp    StepUpConfig
	Directory DirectoryConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port string
}

type WebAuthnConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

type StepUpConfig struct {
	ChallengeTTL     time.Duration
	PendingLoginTTL  time.Duration
	BackupCodeCount  int
	BackupCodeLength int
	TOTPIssuer       string
}

type DirectoryConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "stepup"),
			Password: getEnv("DB_PASSWORD", "stepup_secret"),
			Name:     getEnv("DB_NAME", "stepup"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		WebAuthn: WebAuthnConfig{
			RPID:          getEnv("WEBAUTHN_RP_ID", "localhost"),
			RPDisplayName: getEnv("WEBAUTHN_RP_DISPLAY_NAME", "LearnHub"),
			RPOrigins:     getEnvAsSlice("WEBAUTHN_RP_ORIGINS", []string{"http://localhost:3001"}),
		},
		StepUp: StepUpConfig{
			ChallengeTTL:     getEnvAsDuration("STEPUP_CHALLENGE_TTL", 3*time.Minute),
			PendingLoginTTL:  getEnvAsDuration("STEPUP_PENDING_LOGIN_TTL", 10*time.Minute),
			BackupCodeCount:  getEnvAsInt("STEPUP_BACKUP_CODE_COUNT", 10),
			BackupCodeLength: getEnvAsInt("STEPUP_BACKUP_CODE_LENGTH", 8),
			TOTPIssuer:       getEnv("STEPUP_TOTP_ISSUER", "LearnHub"),
		},
		Directory: DirectoryConfig{
			BaseURL: getEnv("DIRECTORY_BASE_URL", "http://localhost:8090"),
			APIKey:  getEnv("DIRECTORY_API_KEY", ""),
			Timeout: getEnvAsDuration("DIRECTORY_TIMEOUT", 5*time.Second),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		var parts []string
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				parts = append(parts, part)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return fallback
}
