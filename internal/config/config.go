package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig selects and addresses the relational store.
type DatabaseConfig struct {
	// Driver is "mysql" or "sqlite".
	Driver string `yaml:"driver" json:"driver" mapstructure:"driver"`
	// DSN, if set, is used verbatim. For sqlite it is the database file path.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty" mapstructure:"dsn"`

	Host     string `yaml:"host,omitempty" json:"host,omitempty" mapstructure:"host"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty" mapstructure:"port"`
	User     string `yaml:"user,omitempty" json:"user,omitempty" mapstructure:"user"`
	Password string `yaml:"password,omitempty" json:"password,omitempty" mapstructure:"password"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty" mapstructure:"name"`
}

// CalendarConfig describes the reservation feed the occupancy table follows.
type CalendarConfig struct {
	// URL is the iCalendar export of the rental listing. Empty disables sync.
	URL string `yaml:"url" json:"url" mapstructure:"url"`
	// Marker is the SUMMARY that denotes a booked period.
	Marker string `yaml:"marker" json:"marker" mapstructure:"marker"`
	// TimeoutSeconds bounds a single feed fetch.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds" mapstructure:"timeout_seconds"`
	// Refresh is a cron expression (e.g. "0 * * * *") for periodic sync.
	Refresh string `yaml:"refresh" json:"refresh" mapstructure:"refresh"`
	// SyncOnStart runs one sync as soon as the scheduler starts.
	SyncOnStart bool `yaml:"sync_on_start" json:"sync_on_start" mapstructure:"sync_on_start"`
}

// CacheConfig configures the statistics read-through cache.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend       string `yaml:"backend" json:"backend" mapstructure:"backend"`
	TTLSeconds    int    `yaml:"ttl_seconds" json:"ttl_seconds" mapstructure:"ttl_seconds"`
	RedisAddr     string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password,omitempty" json:"redis_password,omitempty" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db,omitempty" json:"redis_db,omitempty" mapstructure:"redis_db"`
}

// SensorConfig describes one I2C sensor polled into hourly readings.
type SensorConfig struct {
	// Name keys the readings, e.g. "cellar_temperature".
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	// Bus is the periph.io bus name; empty selects the first bus.
	Bus string `yaml:"bus,omitempty" json:"bus,omitempty" mapstructure:"bus"`
	// Addr is the 7-bit device address.
	Addr uint16 `yaml:"addr" json:"addr" mapstructure:"addr"`
	// Register holds the big-endian 16-bit raw value.
	Register uint8 `yaml:"register" json:"register" mapstructure:"register"`
	// Scale and Offset map raw to value: raw*Scale + Offset.
	Scale  float64 `yaml:"scale" json:"scale" mapstructure:"scale"`
	Offset float64 `yaml:"offset,omitempty" json:"offset,omitempty" mapstructure:"offset"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" mapstructure:"username"`
	Password string `yaml:"password" json:"password" mapstructure:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" mapstructure:"listen"`

	// Timezone is the IANA timezone that decides what "today" is (e.g. "Europe/Paris").
	Timezone string `yaml:"timezone" json:"timezone" mapstructure:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	// Debug switches gin and the logger to development output.
	Debug bool `yaml:"debug" json:"debug" mapstructure:"debug"`

	Database DatabaseConfig `yaml:"database" json:"database" mapstructure:"database"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar" mapstructure:"calendar"`
	Cache    CacheConfig    `yaml:"cache" json:"cache" mapstructure:"cache"`

	// Sensors are polled on SensorRefresh. Empty disables polling.
	Sensors       []SensorConfig `yaml:"sensors,omitempty" json:"sensors,omitempty" mapstructure:"sensors"`
	SensorRefresh string         `yaml:"sensor_refresh" json:"sensor_refresh" mapstructure:"sensor_refresh"`

	// SyncRatePerMinute caps manual POST /api/calendar/sync calls.
	SyncRatePerMinute int `yaml:"sync_rate_per_minute" json:"sync_rate_per_minute" mapstructure:"sync_rate_per_minute"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty" mapstructure:"basic_auth"`
}

const (
	defaultListen         = "0.0.0.0:8099"
	defaultTimezone       = "Europe/Paris"
	defaultMarker         = "Reserved"
	defaultTimeoutSeconds = 10
	defaultRefresh        = "0 * * * *"
	defaultCacheTTL       = 300
	defaultSyncRate       = 6
	defaultSensorRefresh  = "*/15 * * * *"
	defaultSQLitePath     = "./data/celeri.db"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		Timezone: defaultTimezone,
		LogLevel: "info",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    defaultSQLitePath,
		},
		Calendar: CalendarConfig{
			Marker:         defaultMarker,
			TimeoutSeconds: defaultTimeoutSeconds,
			Refresh:        defaultRefresh,
			SyncOnStart:    true,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTLSeconds: defaultCacheTTL,
		},
		SensorRefresh:     defaultSensorRefresh,
		SyncRatePerMinute: defaultSyncRate,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		// The add-on options only carry MySQL credentials.
		if c.Database.Host != "" {
			c.Database.Driver = "mysql"
		} else {
			c.Database.Driver = "sqlite"
		}
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = defaultSQLitePath
	}
	if c.Database.Driver == "mysql" && c.Database.Port <= 0 {
		c.Database.Port = 3306
	}

	if c.Calendar.Marker == "" {
		c.Calendar.Marker = defaultMarker
	}
	if c.Calendar.TimeoutSeconds <= 0 {
		c.Calendar.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Calendar.Refresh == "" {
		c.Calendar.Refresh = defaultRefresh
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = defaultCacheTTL
	}
	if c.SyncRatePerMinute <= 0 {
		c.SyncRatePerMinute = defaultSyncRate
	}

	if c.SensorRefresh == "" {
		c.SensorRefresh = defaultSensorRefresh
	}
	for i := range c.Sensors {
		if c.Sensors[i].Scale == 0 {
			c.Sensors[i].Scale = 1
		}
	}
}

// CalendarTimeout is the per-fetch HTTP timeout.
func (c *Config) CalendarTimeout() time.Duration {
	return time.Duration(c.Calendar.TimeoutSeconds) * time.Second
}

// CacheTTL is the freshness window of cached statistics.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// MySQLDSN builds a go-sql-driver DSN from the discrete credentials unless
// DSN was given explicitly.
func (d DatabaseConfig) MySQLDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	mc := mysql.NewConfig()
	mc.User = d.User
	mc.Passwd = d.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", d.Host, d.Port)
	mc.DBName = d.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// Load loads configuration from the given YAML or JSON path.
//
// Behavior:
//   - If the file does not exist and is YAML, a default config is written
//     with 0600 perms and returned.
//   - Otherwise the file is read through viper, environment variables
//     prefixed with CELERI_ override it, and defaults are normalized.
//   - The Home Assistant add-on options file (flat DB_HOST, DB_USER,
//     DB_PASSWORD, DB_NAME keys) is accepted as well.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		if isYAML(path) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CELERI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyAddonOptions(v, &cfg)
	cfg.Normalize()

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("listen", d.Listen)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("debug", false)
	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("calendar.url", "")
	v.SetDefault("calendar.marker", d.Calendar.Marker)
	v.SetDefault("calendar.timeout_seconds", d.Calendar.TimeoutSeconds)
	v.SetDefault("calendar.refresh", d.Calendar.Refresh)
	v.SetDefault("calendar.sync_on_start", d.Calendar.SyncOnStart)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl_seconds", d.Cache.TTLSeconds)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("sync_rate_per_minute", d.SyncRatePerMinute)
	v.SetDefault("sensor_refresh", d.SensorRefresh)
}

// applyAddonOptions maps the flat add-on keys onto the database section.
func applyAddonOptions(v *viper.Viper, cfg *Config) {
	if s := v.GetString("db_host"); s != "" {
		cfg.Database.Host = s
	}
	if s := v.GetString("db_user"); s != "" {
		cfg.Database.User = s
	}
	if s := v.GetString("db_password"); s != "" {
		cfg.Database.Password = s
	}
	if s := v.GetString("db_name"); s != "" {
		cfg.Database.Name = s
	}
	if n := v.GetInt("db_port"); n > 0 {
		cfg.Database.Port = n
	}
	if s := v.GetString("airbnb_ics_url"); s != "" && cfg.Calendar.URL == "" {
		cfg.Calendar.URL = s
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".celeri-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
