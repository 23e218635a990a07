// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
)

// Config represents the application configuration
type Config struct {
	APIName          string `env:"SA_API_APP_NAME"`
	APIVersion       string `env:"SA_API_APP_VERSION"`
	ServerPort       string `env:"SA_API_SERVER_PORT"`
	ServerLogLevel   string `env:"SA_API_SERVER_LOG_LEVEL"`
	ProductionMode   string `env:"SA_API_PRODUCTION_MODE" optional:"true"`
	PostgresDsn      string `env:"SA_API_PG_DSN"`
	PostgresLogLevel string `env:"SA_API_PG_LOG_LEVEL"`
	RedisHost        string `env:"SA_API_REDIS_HOST"`
	RedisPort        string `env:"SA_API_REDIS_PORT"`
	RedisPassword    string `env:"SA_API_REDIS_PASSWORD" optional:"true"`
	KiteUserID       string `env:"SA_API_KITE_USER_ID" optional:"prod"`
	KitePassword     string `env:"SA_API_KITE_PASSWORD" optional:"prod"`
	KiteTotpSecret   string `env:"SA_API_KITE_TOTP_SECRET" optional:"prod"`
	TelegramBotToken string `env:"SA_API_TELEGRAM_BOT_TOKEN" optional:"true"`
	TelegramChatID   string `env:"SA_API_TELEGRAM_CHAT_ID" optional:"true"`
}

var (
	SingleLine string = "--------------------------------------------------"
)

var (
	instance *Config
	once     sync.Once
	err      error
)

// Get returns the application configuration
func Get() (*Config, error) {
	once.Do(func() {
		instance, err = loadConfig()
	})
	return instance, err
}

// loadConfig loads configuration from environment variables
func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether strict production mode is enabled
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.ProductionMode, "true")
}

// loadFromEnv loads configuration from environment variables.
//
// Fields tagged optional:"true" may be empty. Fields tagged
// optional:"prod" may be empty only outside production mode: missing
// upstream credentials are fatal at startup when SA_API_PRODUCTION_MODE
// is true.
func (c *Config) loadFromEnv() error {
	t := reflect.TypeOf(*c)
	v := reflect.ValueOf(c).Elem()

	production := strings.EqualFold(os.Getenv("SA_API_PRODUCTION_MODE"), "true")

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		envTag := field.Tag.Get("env")
		if envTag == "" {
			return fmt.Errorf("missing env tag for field %s", field.Name)
		}

		value := os.Getenv(envTag)
		if value == "" {
			switch field.Tag.Get("optional") {
			case "true":
				continue
			case "prod":
				if !production {
					continue
				}
				return fmt.Errorf("env variable %s is required in production mode but not set", envTag)
			default:
				return fmt.Errorf("env variable %s is required but not set", envTag)
			}
		}

		v.Field(i).SetString(value)
	}

	return nil
}

// String returns the configuration as a string
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n--------------------------------------\n")
	sb.WriteString("Configuration:\n")
	sb.WriteString("--------------------------------------\n")

	t := reflect.TypeOf(*c)
	v := reflect.ValueOf(*c)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i).String()

		// Mask sensitive fields
		value = maskSensitiveField(field.Name, value)
		sb.WriteString(fmt.Sprintf("  %s:  %s\n", field.Name, value))
	}

	sb.WriteString("--------------------------------------\n")

	return sb.String()
}

func maskSensitiveField(fieldName, value string) string {
	sensitiveFields := []string{"token", "dsn", "secret", "password", "url"}

	fieldNameLower := strings.ToLower(fieldName)
	for _, sensitive := range sensitiveFields {
		if strings.Contains(fieldNameLower, sensitive) {
			return maskValue(value)
		}
	}

	return value
}

func maskValue(value string) string {
	if len(value) <= 3 {
		return strings.Repeat("*", 7)
	}
	return value[:3] + strings.Repeat("*", 7)
}
