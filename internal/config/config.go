package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Veraticus/fencewatch/internal/common"
	"github.com/Veraticus/fencewatch/internal/monitor"
	"github.com/Veraticus/fencewatch/internal/prefs"
	"github.com/Veraticus/fencewatch/internal/publish"
	"github.com/Veraticus/fencewatch/internal/syncer"
	"github.com/Veraticus/fencewatch/internal/transport"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "FENCEWATCH"

// BackendConfig addresses the geofence service.
type BackendConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"omitempty,url"`
	Tenant            string        `mapstructure:"tenant"`
	Org               string        `mapstructure:"org"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	DownloadTimeout   time.Duration `mapstructure:"download_timeout" validate:"gt=0"`
	MaxRetry          int           `mapstructure:"max_retry" validate:"gte=0,lte=10"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
}

// MonitorConfig bounds the monitored set.
type MonitorConfig struct {
	MaxRegions  int     `mapstructure:"max_regions"`
	MaxDistance float64 `mapstructure:"max_distance" validate:"gt=0"`
}

// SyncConfig controls catalog refreshes.
type SyncConfig struct {
	SeedDir          string        `mapstructure:"seed_dir"`
	ErrorBackoff     time.Duration `mapstructure:"error_backoff" validate:"gt=0"`
	IntervalDays     int           `mapstructure:"interval_days" validate:"gte=1"`
	MaxDownloadRetry int           `mapstructure:"max_download_retry" validate:"gte=1"`
}

// MQTTConfig addresses the position feed. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic" validate:"required"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AMQPConfig addresses the crossing fan-out. An empty URL disables it.
type AMQPConfig struct {
	URL      string `mapstructure:"url" validate:"omitempty,url"`
	Exchange string `mapstructure:"exchange" validate:"required"`
}

// Config is the whole application configuration.
type Config struct {
	Backend      BackendConfig `mapstructure:"backend"`
	Monitor      MonitorConfig `mapstructure:"monitor"`
	Sync         SyncConfig    `mapstructure:"sync"`
	MQTT         MQTTConfig    `mapstructure:"mqtt"`
	AMQP         AMQPConfig    `mapstructure:"amqp"`
	DatabasePath string        `mapstructure:"-" validate:"required"`
	PrefsPath    string        `mapstructure:"-" validate:"required"`
	DownloadDir  string        `mapstructure:"-" validate:"required"`
	APIListen    string        `mapstructure:"-"`
	APITLSDir    string        `mapstructure:"-"`
	Privacy      bool          `mapstructure:"privacy"`

	// Warnings lists values that were corrected instead of rejected.
	Warnings []string `mapstructure:"-"`
}

var validate = validator.New()

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	dataDir := defaultDataDir()

	// Empty defaults make these keys visible to Unmarshal when they only
	// come from the environment.
	for _, key := range []string{
		"backend.base_url", "backend.tenant", "backend.org", "backend.username", "backend.password",
		"sync.seed_dir", "mqtt.broker", "mqtt.username", "mqtt.password", "amqp.url",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("backend.timeout", transport.DefaultTimeout)
	v.SetDefault("backend.download_timeout", transport.DefaultDownloadTimeout)
	v.SetDefault("backend.max_retry", transport.DefaultMaxRetry)
	v.SetDefault("backend.requests_per_second", transport.DefaultRequestsPerSecond)

	v.SetDefault("monitor.max_regions", monitor.DefaultMaxRegions)
	v.SetDefault("monitor.max_distance", monitor.DefaultMaxDistance)

	v.SetDefault("sync.interval_days", 1)
	v.SetDefault("sync.max_download_retry", prefs.DefaultMaxDownloadRetry)
	v.SetDefault("sync.error_backoff", syncer.DefaultErrorBackoff)

	v.SetDefault("privacy", false)
	v.SetDefault("database.path", filepath.Join(dataDir, "fencewatch.db"))
	v.SetDefault("prefs.path", filepath.Join(dataDir, "prefs"))
	v.SetDefault("downloads.path", filepath.Join(dataDir, "downloads"))

	v.SetDefault("mqtt.client_id", "fencewatch")
	v.SetDefault("mqtt.topic", "fencewatch/position")
	v.SetDefault("amqp.exchange", publish.DefaultExchange)
	v.SetDefault("api.listen", ":8089")
	v.SetDefault("api.tls_dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".fencewatch")
	}
	return filepath.Join(home, ".local", "share", "fencewatch")
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored and existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		slog.Debug("Loaded environment file", "path", path)
	}
	return nil
}

// BindEnv makes every key overridable through FENCEWATCH_* variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load maps v onto a Config, corrects the monitoring quota and validates
// the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	cfg.DatabasePath = ExpandPath(v.GetString("database.path"))
	cfg.PrefsPath = ExpandPath(v.GetString("prefs.path"))
	cfg.DownloadDir = ExpandPath(v.GetString("downloads.path"))
	cfg.APIListen = v.GetString("api.listen")
	cfg.APITLSDir = ExpandPath(v.GetString("api.tls_dir"))
	cfg.Sync.SeedDir = ExpandPath(cfg.Sync.SeedDir)

	if quota, err := monitor.NormalizeQuota(cfg.Monitor.MaxRegions); err != nil {
		cfg.Warnings = append(cfg.Warnings,
			fmt.Sprintf("monitor.max_regions %d outside [1,%d], using %d", cfg.Monitor.MaxRegions, monitor.PlatformMaxRegions, quota))
		cfg.Monitor.MaxRegions = quota
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// RequireBackend reports the missing settings needed to talk to the backend.
func (c *Config) RequireBackend() error {
	var missing []string
	if c.Backend.BaseURL == "" {
		missing = append(missing, "backend.base_url")
	}
	if c.Backend.Tenant == "" {
		missing = append(missing, "backend.tenant")
	}
	if c.Backend.Org == "" {
		missing = append(missing, "backend.org")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", common.ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

// Transport returns the transport client settings.
func (c *Config) Transport(userAgent string) transport.Config {
	return transport.Config{
		BaseURL:           c.Backend.BaseURL,
		Username:          c.Backend.Username,
		Password:          c.Backend.Password,
		UserAgent:         userAgent,
		Timeout:           c.Backend.Timeout,
		DownloadTimeout:   c.Backend.DownloadTimeout,
		MaxRetry:          c.Backend.MaxRetry,
		RequestsPerSecond: c.Backend.RequestsPerSecond,
	}
}
