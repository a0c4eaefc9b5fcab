// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCHealthAddr serves grpc.health.v1 when set; empty disables it.
	GRPCHealthAddr string `mapstructure:"GRPC_HEALTH_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs on the in-memory store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// IdentityTable is the table holding identity records. Migrations only
	// create "identities"; any other table must be created out of band, and
	// startup fails when it is missing.
	IdentityTable string `mapstructure:"IDENTITY_TABLE"`

	OTPTTL         time.Duration `mapstructure:"OTP_TTL"`
	OTPMaxAttempts int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	// OTPIssueLimit is the number of refresh/resend requests allowed per identity in OTPIssueWindow.
	OTPIssueLimit  int           `mapstructure:"OTP_ISSUE_LIMIT"`
	OTPIssueWindow time.Duration `mapstructure:"OTP_ISSUE_WINDOW"`

	// PasswordHasher is argon2id or bcrypt.
	PasswordHasher string `mapstructure:"PASSWORD_HASHER"`
	// BcryptCost is the bcrypt cost factor (4–31) used when PasswordHasher is bcrypt.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// RedisURL backs the OTP issue throttle; empty uses a process-local limiter.
	RedisURL string `mapstructure:"REDIS_URL"`

	// SMSLocalAPIKey enables SMS delivery through SMS Local.
	SMSLocalAPIKey  string `mapstructure:"SMS_LOCAL_API_KEY"`
	SMSLocalSender  string `mapstructure:"SMS_LOCAL_SENDER"`
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// OTPReturnToClient enables dev OTP mode: no SMS, codes readable at GET /dev/otp/{id}.
	// Rejected when Env is production.
	OTPReturnToClient bool   `mapstructure:"OTP_RETURN_TO_CLIENT"`
	Env               string `mapstructure:"APP_ENV"`

	// JWTPrivateKey and JWTPublicKey are PEM (inline or file path). Both empty disables POST /login.
	JWTPrivateKey string        `mapstructure:"JWT_PRIVATE_KEY"`
	JWTPublicKey  string        `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	JWTAudience   string        `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL  time.Duration `mapstructure:"JWT_ACCESS_TTL"`

	// KafkaBrokers is a comma-separated list; empty disables the Kafka event producer.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	EventsTopic     string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	KafkaGroupID    string `mapstructure:"KAFKA_GROUP_ID"`
	LokiURL         string `mapstructure:"LOKI_URL"`
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                   ":3000",
	"GRPC_HEALTH_ADDR":            "",
	"DATABASE_URL":                "",
	"IDENTITY_TABLE":              "identities",
	"OTP_TTL":                     "5m",
	"OTP_MAX_ATTEMPTS":            5,
	"OTP_ISSUE_LIMIT":             5,
	"OTP_ISSUE_WINDOW":            "15m",
	"PASSWORD_HASHER":             "argon2id",
	"BCRYPT_COST":                 12,
	"REDIS_URL":                   "",
	"SMS_LOCAL_API_KEY":           "",
	"SMS_LOCAL_SENDER":            "",
	"SMS_LOCAL_BASE_URL":          "",
	"OTP_RETURN_TO_CLIENT":        false,
	"APP_ENV":                     "",
	"JWT_PRIVATE_KEY":             "",
	"JWT_PUBLIC_KEY":              "",
	"JWT_ISSUER":                  "phone-onboarding",
	"JWT_AUDIENCE":                "phone-onboarding-api",
	"JWT_ACCESS_TTL":              "1h",
	"KAFKA_BROKERS":               "",
	"EVENTS_KAFKA_TOPIC":          "identity-events",
	"KAFKA_GROUP_ID":              "identity-events-worker",
	"LOKI_URL":                    "",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"LOG_LEVEL":                   "info",
	"SHUTDOWN_TIMEOUT":            "15s",
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	// Unmarshal only sees keys viper knows about; defaults register every key.
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.IdentityTable == "" {
		return errors.New("config: IDENTITY_TABLE must be set")
	}
	if c.OTPTTL <= 0 {
		return errors.New("config: OTP_TTL must be positive")
	}
	if c.OTPMaxAttempts < 0 || c.OTPIssueLimit < 0 {
		return errors.New("config: OTP_MAX_ATTEMPTS and OTP_ISSUE_LIMIT must not be negative")
	}
	if c.OTPIssueLimit > 0 && c.OTPIssueWindow <= 0 {
		return errors.New("config: OTP_ISSUE_WINDOW must be positive when OTP_ISSUE_LIMIT is set")
	}
	switch strings.ToLower(c.PasswordHasher) {
	case "argon2id", "bcrypt":
	default:
		return fmt.Errorf("config: PASSWORD_HASHER must be argon2id or bcrypt, got %q", c.PasswordHasher)
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.OTPReturnToClient && c.IsProduction() {
		return errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if (c.JWTPrivateKey == "") != (c.JWTPublicKey == "") {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if c.LoginEnabled() && c.JWTAccessTTL <= 0 {
		return errors.New("config: JWT_ACCESS_TTL must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// LoginEnabled reports whether a signing key pair is configured for POST /login.
func (c *Config) LoginEnabled() bool {
	return c.JWTPrivateKey != "" && c.JWTPublicKey != ""
}

// DevOTPEnabled reports whether GET /dev/otp/{id} is mounted.
func (c *Config) DevOTPEnabled() bool {
	return c.OTPReturnToClient && !c.IsProduction()
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
