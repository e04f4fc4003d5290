package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"vpnshare/internal/core"
)

type Config struct {
	// Telegram
	BotToken    string
	AdminID     int64
	PollTimeout time.Duration

	// Subscription
	BillingDay  int
	MaxMembers  int
	Price       string
	Currency    string
	PaymentInfo string

	// Schedule
	Timezone string
	RemindAt string
	ReportAt string

	// Storage
	DataBackend  string
	DataPath     string
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleReportSheetName    string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Ops HTTP server, empty disables it
	HTTPPort string

	NotifyConcurrency  int
	RateLimitPerMinute int
	ShutdownTimeout    time.Duration
	LogLevel           string
}

func Load() *Config {
	cfg := &Config{
		BotToken:    getEnv("BOT_TOKEN", ""),
		AdminID:     getEnvInt64("ADMIN_ID", 0),
		PollTimeout: getEnvDuration("POLL_TIMEOUT", 60*time.Second),

		BillingDay:  getEnvInt("BILLING_DAY", 15),
		MaxMembers:  getEnvInt("MAX_MEMBERS", 4),
		Price:       getEnv("PRICE", "0"),
		Currency:    getEnv("CURRENCY", "₽"),
		PaymentInfo: getEnv("PAYMENT_INFO", "—"),

		Timezone: getEnv("TIMEZONE", "Europe/Moscow"),
		RemindAt: getEnv("REMIND_AT", "12:00"),
		ReportAt: getEnv("REPORT_AT", "21:00"),

		DataBackend:  getEnv("DATA_BACKEND", "json"),
		DataPath:     getEnv("DATA_PATH", "data/state.json"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "data/vpnshare.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "vpnshare"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Payments"),
		GoogleReportSheetName:    getEnv("GOOGLE_REPORT_SHEET_NAME", "Reports"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		HTTPPort: os.Getenv("HTTP_PORT"),

		NotifyConcurrency:  getEnvInt("NOTIFY_CONCURRENCY", 4),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
	if _, set := os.LookupEnv("HTTP_PORT"); !set {
		cfg.HTTPPort = "8081"
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if strings.TrimSpace(c.BotToken) == "" {
		errors = append(errors, "BOT_TOKEN is required")
	}
	if c.AdminID <= 0 {
		errors = append(errors, "ADMIN_ID is required and must be a positive Telegram user id")
	}

	if c.BillingDay < 1 || c.BillingDay > 28 {
		errors = append(errors, fmt.Sprintf("invalid billing day %d: must be between 1 and 28", c.BillingDay))
	}
	if c.MaxMembers < 1 {
		errors = append(errors, fmt.Sprintf("invalid max members %d: must be at least 1", c.MaxMembers))
	}
	if _, err := core.ParseAmount(c.Price); err != nil {
		errors = append(errors, fmt.Sprintf("invalid price '%s': %v", c.Price, err))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}
	if _, _, err := ParseClock(c.RemindAt); err != nil {
		errors = append(errors, fmt.Sprintf("invalid REMIND_AT: %v", err))
	}
	if _, _, err := ParseClock(c.ReportAt); err != nil {
		errors = append(errors, fmt.Sprintf("invalid REPORT_AT: %v", err))
	}

	validBackends := []string{"json", "sqlite", "memory"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "json":
		if c.DataPath == "" {
			errors = append(errors, "data path cannot be empty when using json backend")
		} else if msg := ensureDir(c.DataPath); msg != "" {
			errors = append(errors, msg)
		}
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if msg := ensureDir(c.SQLiteDBPath); msg != "" {
			errors = append(errors, msg)
		}
	}

	errors = append(errors, c.validateAMQP()...)

	if c.HTTPPort != "" {
		if port, err := strconv.Atoi(c.HTTPPort); err != nil {
			errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.HTTPPort))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
		}
	}

	if c.NotifyConcurrency < 1 {
		errors = append(errors, fmt.Sprintf("invalid notify concurrency %d: must be at least 1", c.NotifyConcurrency))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 per minute", c.RateLimitPerMinute))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateWorker checks the settings the sheets mirror worker needs. The bot
// token and admin id are not required there.
func (c *Config) ValidateWorker() error {
	var errors []string

	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for the worker")
	}
	errors = append(errors, c.validateAMQP()...)

	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required for the worker")
	}
	if c.GoogleSheetName == "" {
		errors = append(errors, "Google Sheet name cannot be empty")
	}
	if c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func (c *Config) validateAMQP() []string {
	if c.AMQPURL == "" {
		return nil
	}
	var errors []string
	if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
	} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
		errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
	}
	if c.AMQPExchange == "" {
		errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
	}
	if c.AMQPQueue == "" {
		errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
	}
	return errors
}

// Location returns the configured timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PriceAmount returns the parsed monthly share. Call after Validate.
func (c *Config) PriceAmount() core.Money {
	m, _ := core.ParseAmount(c.Price)
	return m
}

// ParseClock parses a "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("'%s' is not a HH:MM time", s)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseLogLevel maps LOG_LEVEL onto a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level '%s': must be one of debug, info, warn, error", s)
	}
}

func ensureDir(path string) string {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return ""
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Sprintf("cannot create data directory '%s': %v", dir, err)
		}
	}
	return ""
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return i
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
