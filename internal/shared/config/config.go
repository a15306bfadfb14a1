package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	KurrentDB    KurrentDBConfig
	Auth         AuthConfig
	Log          LogConfig
	Redis        RedisConfig
	CallContext  CallContextConfig
	Notification NotificationConfig
	Matching     MatchingConfig
	RateLimit    RateLimitConfig
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	// Enabled turns on lifecycle event publishing
	Enabled bool
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
	// StreamPrefix namespaces every stream written by this service
	StreamPrefix string
}

type ServerConfig struct {
	Port        int
	Env         string
	ServiceName string
	CORSOrigins []string
}

// IsProduction reports whether the service runs with production settings.
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// LogConfig controls the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string
	// Format: json or console
	Format string
	// File enables rotated file output in addition to stdout
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CallContextConfig selects where voice call context is kept between the
// outbound call and the IVR webhooks.
type CallContextConfig struct {
	// Backend: "memory" or "redis"
	Backend string
	TTL     time.Duration
}

type NotificationConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
	// SendRate caps outbound provider calls per second
	SendRate float64
	// DefaultCountryCode is prefixed to local phone numbers
	DefaultCountryCode string
	SMS                SMSConfig
	WhatsApp           WhatsAppConfig
	Voice              VoiceConfig
}

type SMSConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Route   string
}

type WhatsAppConfig struct {
	Enabled       bool
	BaseURL       string
	Token         string
	PhoneNumberID string
}

type VoiceConfig struct {
	Enabled    bool
	BaseURL    string
	AccountSID string
	AuthToken  string
	FromNumber string
	// PublicURL is where the provider reaches the IVR webhooks
	PublicURL string
}

type MatchingConfig struct {
	DefaultRadiusKm float64
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvInt("SERVER_PORT", 8080),
			Env:         getEnv("ENV", "development"),
			ServiceName: getEnv("SERVICE_NAME", "bloodbridge"),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "bloodbridge"),
			Password: getEnv("DB_PASSWORD", "bloodbridge"),
			Database: getEnv("DB_NAME", "bloodbridge"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 5)),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:      getEnvBool("KURRENTDB_ENABLED", false),
			Host:         getEnv("KURRENTDB_HOST", "localhost"),
			Port:         getEnvInt("KURRENTDB_PORT", 2113),
			Insecure:     getEnvBool("KURRENTDB_INSECURE", true),
			Username:     getEnv("KURRENTDB_USERNAME", ""),
			Password:     getEnv("KURRENTDB_PASSWORD", ""),
			StreamPrefix: getEnv("KURRENTDB_STREAM_PREFIX", "bloodbridge"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			Issuer:    getEnv("JWT_ISSUER", "bloodbridge"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		CallContext: CallContextConfig{
			Backend: getEnv("CALL_CONTEXT_BACKEND", "memory"),
			TTL:     getEnvDuration("CALL_CONTEXT_TTL", 30*time.Minute),
		},
		Notification: NotificationConfig{
			Workers:            getEnvInt("NOTIFY_WORKERS", 4),
			BufferSize:         getEnvInt("NOTIFY_BUFFER", 256),
			RetryAttempts:      getEnvInt("NOTIFY_RETRY_ATTEMPTS", 3),
			RetryDelay:         getEnvDuration("NOTIFY_RETRY_DELAY", 2*time.Second),
			SendRate:           getEnvFloat("NOTIFY_SEND_RATE", 5),
			DefaultCountryCode: getEnv("NOTIFY_COUNTRY_CODE", "91"),
			SMS: SMSConfig{
				Enabled: getEnvBool("SMS_ENABLED", false),
				BaseURL: getEnv("SMS_BASE_URL", "https://www.fast2sms.com"),
				APIKey:  getEnv("SMS_API_KEY", ""),
				Route:   getEnv("SMS_ROUTE", "q"),
			},
			WhatsApp: WhatsAppConfig{
				Enabled:       getEnvBool("WHATSAPP_ENABLED", false),
				BaseURL:       getEnv("WHATSAPP_BASE_URL", "https://graph.facebook.com/v19.0"),
				Token:         getEnv("WHATSAPP_TOKEN", ""),
				PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			},
			Voice: VoiceConfig{
				Enabled:    getEnvBool("VOICE_ENABLED", false),
				BaseURL:    getEnv("VOICE_BASE_URL", "https://api.twilio.com"),
				AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
				AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
				FromNumber: getEnv("TWILIO_PHONE_NUMBER", ""),
				PublicURL:  getEnv("VOICE_PUBLIC_URL", "http://localhost:8080"),
			},
		},
		Matching: MatchingConfig{
			DefaultRadiusKm: getEnvFloat("MATCH_DEFAULT_RADIUS_KM", 5),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 40),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.IsProduction() && c.Auth.JWTSecret == "dev-secret-change-in-prod" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	switch c.CallContext.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown CALL_CONTEXT_BACKEND %q", c.CallContext.Backend)
	}
	if c.Matching.DefaultRadiusKm <= 0 {
		return fmt.Errorf("MATCH_DEFAULT_RADIUS_KM must be positive")
	}
	if c.Notification.RetryAttempts < 1 {
		return fmt.Errorf("NOTIFY_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
