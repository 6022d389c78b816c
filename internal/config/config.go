package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	API       APIConfig       `mapstructure:"api"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Retention RetentionConfig `mapstructure:"retention"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

// APIConfig holds the site-level defaults for the upstream listings API.
// Per-task configuration overrides these where set.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Endpoint       string        `mapstructure:"endpoint"`
	AuthHeader     string        `mapstructure:"auth_header"`
	AuthKey        string        `mapstructure:"auth_key"`
	UKPRN          string        `mapstructure:"ukprn"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MinRequestGap  time.Duration `mapstructure:"min_request_gap"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	RetryMax       int           `mapstructure:"retry_max"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMultiplier float64      `mapstructure:"retry_multiplier"`
	MaxPages       int           `mapstructure:"max_pages"`
}

type SyncConfig struct {
	Frequency       string        `mapstructure:"frequency"`
	TimeOfDay       string        `mapstructure:"time_of_day"`
	GracePeriodDays int           `mapstructure:"grace_period_days"`
	UpdatePolicy    string        `mapstructure:"update_policy"`
	GuardTTL        time.Duration `mapstructure:"guard_ttl"`
	PageSize        int           `mapstructure:"page_size"`
}

type GeocoderConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BaseURL       string        `mapstructure:"base_url"`
	Email         string        `mapstructure:"email"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MinRequestGap time.Duration `mapstructure:"min_request_gap"`
}

type RetentionConfig struct {
	LogMaxAgeDays int `mapstructure:"log_max_age_days"`
	LogMaxRows    int `mapstructure:"log_max_rows"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/vacsync.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("api.timeout", 60*time.Second)
	v.SetDefault("api.min_request_gap", 200*time.Millisecond)
	v.SetDefault("api.cache_ttl", 300*time.Second)
	v.SetDefault("api.retry_max", 3)
	v.SetDefault("api.retry_base_delay", time.Second)
	v.SetDefault("api.retry_multiplier", 2.0)
	v.SetDefault("api.max_pages", 500)
	v.SetDefault("api.auth_header", "Ocp-Apim-Subscription-Key")
	v.SetDefault("sync.frequency", "daily")
	v.SetDefault("sync.time_of_day", "02:00")
	v.SetDefault("sync.grace_period_days", 7)
	v.SetDefault("sync.update_policy", "changed")
	v.SetDefault("sync.guard_ttl", time.Hour)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("geocoder.enabled", false)
	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.timeout", 10*time.Second)
	v.SetDefault("geocoder.min_request_gap", 1100*time.Millisecond)
	v.SetDefault("retention.log_max_age_days", 30)
	v.SetDefault("retention.log_max_rows", 10000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("api.auth_key", "API_AUTH_KEY")
	v.BindEnv("api.base_url", "API_BASE_URL")
	v.BindEnv("api.ukprn", "API_UKPRN")
	v.BindEnv("geocoder.email", "GEOCODER_EMAIL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
