package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const EnvProduction = "production"

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Security  SecurityConfig
	SMTP      SMTPConfig
	Server    ServerConfig
	Sweeper   SweeperConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Env         string
	FrontendURL string
}

func (a AppConfig) IsProduction() bool {
	return a.Env == EnvProduction
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig is optional. An empty Addr keeps login challenges in the
// database.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
	TempTokenTTL    time.Duration
}

func (j JWTConfig) SessionTTL() time.Duration {
	return time.Duration(j.ExpirationHours) * time.Hour
}

type SecurityConfig struct {
	EncryptionKey string
	TOTPIssuer    string
	CookieSecure  bool
}

// SMTPConfig with an empty Host selects the log-only mailer.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

type ServerConfig struct {
	Port string
}

type SweeperConfig struct {
	Interval time.Duration
}

type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: ignoring unreadable .env file: %v", err)
	}

	return &Config{
		App: AppConfig{
			Env:         getEnv("APP_ENV", "development"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "nysc"),
			Password: getEnv("DB_PASSWORD", "nysc_secret"),
			Name:     getEnv("DB_NAME", "nysc"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 168),
			TempTokenTTL:    getEnvAsDuration("TEMP_TOKEN_TTL", 5*time.Minute),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			TOTPIssuer:    getEnv("TOTP_ISSUER", "NYSC CDS Portal"),
			CookieSecure:  getEnvAsBool("COOKIE_SECURE", false),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASS", ""),
			From:     getEnv("SMTP_FROM", getEnv("SMTP_USER", "")),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Sweeper: SweeperConfig{
			Interval: getEnvAsDuration("SWEEP_INTERVAL", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Max:    getEnvAsInt("RATE_LIMIT_MAX", 20),
			Window: getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
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

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
