package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "CATSYNC"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "catalog-sync.db"
	defaultLogLevel     = "info"
)

// AppConfig captures process-lifetime configuration for the sync service.
// Operational knobs that an operator can change at runtime (sync interval,
// logging level, category map, credentials) live in the settings store.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	AdminAPIKey        string
	AdminSigningSecret string
	MasterKey          string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		AdminAPIKey:        configViper.GetString("admin.api_key"),
		AdminSigningSecret: configViper.GetString("admin.signing_secret"),
		MasterKey:          configViper.GetString("secrets.master_key"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AdminAPIKey) == "" {
		return fmt.Errorf("admin.api_key is required")
	}
	if strings.TrimSpace(c.AdminSigningSecret) == "" {
		return fmt.Errorf("admin.signing_secret is required")
	}
	return nil
}
