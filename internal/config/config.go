package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDynamo = "dynamo"
	StoreMemory = "memory"

	MailSMTP     = "smtp"
	MailSendGrid = "sendgrid"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort  string
	AppEnv   string
	LogLevel string

	StoreDriver    string // "dynamo" | "memory"
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	OTP OTPPolicy

	MailProvider   string // "smtp" | "sendgrid"
	MailFrom       string
	MailTimeout    time.Duration
	SMTPHost       string
	SMTPPort       string
	SMTPUsername   string
	SMTPPassword   string
	SendGridAPIKey string

	RedisAddr     string // optional issuance guard
	RedisPassword string
	RedisDB       int

	SNSRegion   string
	SNSTopicARN string // optional otp.verified events

	AllowedOrigins []string // CORS allowed origins
	RateLimitRPS   float64
	RateLimitBurst int
	TrustProxy     bool // honour X-Forwarded-For / X-Real-Ip for client IPs

	ExposeAccountFlags bool // mount GET /v1/account-flags/{email}
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	OTPCodes     string
	AccountFlags string
}

// OTPPolicy holds the issuance and expiry rules.
type OTPPolicy struct {
	TTL        time.Duration
	Cooldown   time.Duration
	MaxPerHour int
	ExposeCode bool // development only: echo the code in the send response
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:  getEnv("APP_PORT", "3000"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreDriver:    getEnv("STORE_DRIVER", StoreDynamo),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			OTPCodes:     getEnv("DYNAMO_TABLE_OTP_CODES", "otp_codes"),
			AccountFlags: getEnv("DYNAMO_TABLE_ACCOUNT_FLAGS", "account_flags"),
		},

		OTP: OTPPolicy{
			TTL:        time.Duration(getEnvInt("OTP_TTL_MINUTES", 5)) * time.Minute,
			Cooldown:   time.Duration(getEnvInt("OTP_COOLDOWN_SECONDS", 60)) * time.Second,
			MaxPerHour: getEnvInt("OTP_MAX_PER_HOUR", 10),
			ExposeCode: getEnvBool("OTP_EXPOSE_CODE", false),
		},

		MailProvider:   getEnv("MAIL_PROVIDER", MailSMTP),
		MailFrom:       getEnv("MAIL_FROM", os.Getenv("FROM_EMAIL")),
		MailTimeout:    getEnvDuration("MAIL_TIMEOUT", 10*time.Second),
		SMTPHost:       getEnv("SMTP_HOST", "localhost"),
		SMTPPort:       getEnv("SMTP_PORT", "1025"),
		SMTPUsername:   getEnv("SMTP_USERNAME", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SNSRegion:   getEnv("SNS_REGION", getEnv("AWS_REGION", "us-east-1")),
		SNSTopicARN: getEnv("SNS_TOPIC_ARN", ""),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),
		TrustProxy:     getEnvBool("TRUST_PROXY", false),

		ExposeAccountFlags: getEnvBool("EXPOSE_ACCOUNT_FLAGS", false),
	}
}

// IsProduction reports whether the process runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Validate reports every missing or inconsistent setting at once so the
// process can refuse to start.
func (c *Config) Validate() error {
	var errs []error
	if c.AppPort == "" {
		errs = append(errs, errors.New("APP_PORT is required"))
	}
	if c.MailFrom == "" {
		errs = append(errs, errors.New("MAIL_FROM (or FROM_EMAIL) is required"))
	}

	switch c.StoreDriver {
	case StoreDynamo:
		if c.AWSRegion == "" {
			errs = append(errs, errors.New("AWS_REGION is required for the dynamo store"))
		}
		if c.DynamoTables.OTPCodes == "" || c.DynamoTables.AccountFlags == "" {
			errs = append(errs, errors.New("DYNAMO_TABLE_OTP_CODES and DYNAMO_TABLE_ACCOUNT_FLAGS are required"))
		}
	case StoreMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.MailProvider {
	case MailSMTP:
		if c.SMTPHost == "" || c.SMTPPort == "" {
			errs = append(errs, errors.New("SMTP_HOST and SMTP_PORT are required for the smtp provider"))
		}
	case MailSendGrid:
		if c.SendGridAPIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required for the sendgrid provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_PROVIDER %q", c.MailProvider))
	}

	if c.OTP.TTL <= 0 {
		errs = append(errs, errors.New("OTP_TTL_MINUTES must be positive"))
	}
	if c.OTP.Cooldown < 0 {
		errs = append(errs, errors.New("OTP_COOLDOWN_SECONDS must not be negative"))
	}
	if c.OTP.MaxPerHour <= 0 {
		errs = append(errs, errors.New("OTP_MAX_PER_HOUR must be positive"))
	}
	if c.OTP.ExposeCode && c.IsProduction() {
		errs = append(errs, errors.New("OTP_EXPOSE_CODE must not be enabled in production"))
	}
	if c.MailTimeout <= 0 {
		errs = append(errs, errors.New("MAIL_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
