package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ConfigFileEnv names an optional TOML file read under the environment.
const ConfigFileEnv = "CADENCE_CONFIG"

type Config struct {
	// HTTP Server
	Port          string
	UserHeader    string
	ShutdownGrace time.Duration

	// Storage
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets ledger mirror
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Materializer
	MaterializeConcurrency int

	LogLevel string
}

var validBackends = []string{"memory", "sqlite", "postgres"}

// LoadEnvFile loads a .env file into the process environment. Variables
// already set win over the file. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from the environment, falling back to the
// TOML file named by CADENCE_CONFIG and then to defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "8081")
	v.SetDefault("user_header", "X-User-ID")
	v.SetDefault("shutdown_grace", "10s")
	v.SetDefault("data_backend", "memory")
	v.SetDefault("sqlite_db_path", "./data/cadence.db")
	v.SetDefault("database_url", "")
	v.SetDefault("amqp_url", "")
	v.SetDefault("amqp_exchange", "cadence")
	v.SetDefault("amqp_queue", "transaction_changes")
	v.SetDefault("google_spreadsheet_id", "")
	v.SetDefault("google_sheet_name", "Transactions")
	v.SetDefault("google_service_account_json", "")
	v.SetDefault("google_service_account_file", "")
	v.SetDefault("materialize_concurrency", 4)
	v.SetDefault("log_level", "info")

	v.SetConfigType("toml")
	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	grace, err := time.ParseDuration(v.GetString("shutdown_grace"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_GRACE %q: %w", v.GetString("shutdown_grace"), err)
	}

	return &Config{
		Port:          v.GetString("port"),
		UserHeader:    v.GetString("user_header"),
		ShutdownGrace: grace,

		DataBackend:  strings.ToLower(v.GetString("data_backend")),
		SQLiteDBPath: v.GetString("sqlite_db_path"),
		DatabaseURL:  v.GetString("database_url"),

		AMQPURL:      v.GetString("amqp_url"),
		AMQPExchange: v.GetString("amqp_exchange"),
		AMQPQueue:    v.GetString("amqp_queue"),

		GoogleSpreadsheetID:      v.GetString("google_spreadsheet_id"),
		GoogleSheetName:          v.GetString("google_sheet_name"),
		GoogleServiceAccountJSON: v.GetString("google_service_account_json"),
		GoogleServiceAccountFile: v.GetString("google_service_account_file"),

		MaterializeConcurrency: v.GetInt("materialize_concurrency"),

		LogLevel: strings.ToLower(v.GetString("log_level")),
	}, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if strings.TrimSpace(c.UserHeader) == "" {
		errs = append(errs, "user header name cannot be empty")
	}

	if !contains(validBackends, c.DataBackend) {
		errs = append(errs, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errs = append(errs, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid DATABASE_URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errs = append(errs, fmt.Sprintf("invalid DATABASE_URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}

	if c.MaterializeConcurrency < 1 || c.MaterializeConcurrency > 64 {
		errs = append(errs, fmt.Sprintf("invalid materialize concurrency %d: must be between 1 and 64", c.MaterializeConcurrency))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// SheetsEnabled reports whether enough is configured to mirror into Google Sheets.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != "" && (c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != "")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
