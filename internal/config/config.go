// Package config provides configuration management for the fedifetch job.
// It loads settings from a JSON or YAML file with environment variable
// overrides (FEDIFETCH_* plus the standard PG* connection variables).
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultRememberUsersForHours = 168
	DefaultHTTPTimeoutSeconds    = 5
	DefaultLockHours             = 24
	DefaultStateDir              = "./state"
	DefaultLogLevel              = 20
	DefaultLockFileName          = "lock.lock"

	DefaultDBHost            = "localhost"
	DefaultDBPort            = 5432
	DefaultDBUser            = "mastodon"
	DefaultDBName            = "mastodon_production"
	DefaultDBSSLMode         = "disable"
	DefaultDBMaxConns        = 10
	DefaultDBMaxIdleConns    = 5
	DefaultDBConnMaxLifetime = 5 * time.Minute
)

// Config represents the application configuration.
type Config struct {
	// Server is the hostname of the home server (required).
	Server string `mapstructure:"server"`
	// AccessToken holds one or more bearer tokens for the home server.
	// The first token is used for admin endpoints.
	AccessToken []string `mapstructure:"access_token"`

	// Mode thresholds; zero disables the mode.
	ReplyInterval          int `mapstructure:"reply_interval_in_hours"`
	HomeTimelineLength     int `mapstructure:"home_timeline_length"`
	MaxFollowings          int `mapstructure:"max_followings"`
	MaxFollowers           int `mapstructure:"max_followers"`
	MaxFollowRequests      int `mapstructure:"max_follow_requests"`
	MaxBookmarks           int `mapstructure:"max_bookmarks"`
	MaxFavourites          int `mapstructure:"max_favourites"`
	MaxTrendingPosts       int `mapstructure:"max_trending_posts"`
	FromNotifications      int `mapstructure:"from_notifications"`
	BackfillWithContext    int `mapstructure:"backfill_with_context"`
	BackfillMentionedUsers int `mapstructure:"backfill_mentioned_users"`

	RememberUsersForHours int    `mapstructure:"remember_users_for_hours"`
	HTTPTimeout           int    `mapstructure:"http_timeout"`
	LockHours             int    `mapstructure:"lock_hours"`
	LockFile              string `mapstructure:"lock_file"`
	StateDir              string `mapstructure:"state_dir"`

	// Webhook URLs pinged with ?rid=<uuid>.
	OnStart string `mapstructure:"on_start"`
	OnDone  string `mapstructure:"on_done"`
	OnFail  string `mapstructure:"on_fail"`

	// ExternalTokens maps peer server hostname to a bearer token.
	ExternalTokens map[string]string `mapstructure:"external_tokens"`
	// ExternalFeeds lists peer servers for the trending-posts mode.
	ExternalFeeds []string `mapstructure:"external_feeds"`

	// LogLevel is numeric: 10=debug, 20=info, 30=warn, 40=error, 50=critical.
	LogLevel int  `mapstructure:"log_level"`
	Debug    bool `mapstructure:"debug"`

	Database DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig holds PostgreSQL connection parameters for the home
// server's database. An empty password disables the database sidecar.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
}

// Load reads the configuration from the given path (or the default search
// locations when path is empty), applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	if err := bindEnvironment(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment variables: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := decode(v.AllSettings())
	if err != nil {
		return nil, err
	}

	applyDerivedDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile loads .env file (ignores error if file doesn't exist).
func loadEnvFile() {
	_ = godotenv.Load()
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("remember_users_for_hours", DefaultRememberUsersForHours)
	v.SetDefault("http_timeout", DefaultHTTPTimeoutSeconds)
	v.SetDefault("lock_hours", DefaultLockHours)
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetDefault("database", map[string]any{
		"host":                    DefaultDBHost,
		"port":                    DefaultDBPort,
		"user":                    DefaultDBUser,
		"dbname":                  DefaultDBName,
		"sslmode":                 DefaultDBSSLMode,
		"max_connections":         DefaultDBMaxConns,
		"max_idle_connections":    DefaultDBMaxIdleConns,
		"connection_max_lifetime": DefaultDBConnMaxLifetime.String(),
	})
}

// envKeys are the top-level configuration keys overridable via FEDIFETCH_*.
var envKeys = []string{
	"server",
	"access_token",
	"reply_interval_in_hours",
	"home_timeline_length",
	"max_followings",
	"max_followers",
	"max_follow_requests",
	"max_bookmarks",
	"max_favourites",
	"max_trending_posts",
	"from_notifications",
	"backfill_with_context",
	"backfill_mentioned_users",
	"remember_users_for_hours",
	"http_timeout",
	"lock_hours",
	"lock_file",
	"state_dir",
	"on_start",
	"on_done",
	"on_fail",
	"external_feeds",
	"log_level",
	"debug",
}

// bindEnvironment binds environment variables to config keys.
func bindEnvironment(v *viper.Viper) error {
	v.SetEnvPrefix("FEDIFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	// Standard libpq variables for the home database.
	dbBindings := map[string][]string{
		"database.host":     {"PGHOST"},
		"database.port":     {"PGPORT"},
		"database.user":     {"PGUSER"},
		"database.password": {"PGPASSWORD", "FEDIFETCH_DB_PASSWORD"},
		"database.dbname":   {"PGDATABASE"},
		"database.sslmode":  {"PGSSLMODE"},
	}
	for key, vars := range dbBindings {
		args := append([]string{key}, vars...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// decode converts the merged viper settings into a typed Config.
func decode(settings map[string]any) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// applyDerivedDefaults fills in values computed from other settings.
func applyDerivedDefaults(cfg *Config) {
	cfg.Server = NormalizeServer(cfg.Server)
	if cfg.LockFile == "" && cfg.StateDir != "" {
		cfg.LockFile = filepath.Join(cfg.StateDir, DefaultLockFileName)
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeoutSeconds
	}
	if cfg.RememberUsersForHours <= 0 {
		cfg.RememberUsersForHours = DefaultRememberUsersForHours
	}
	if cfg.LockHours <= 0 {
		cfg.LockHours = DefaultLockHours
	}
	for i, feed := range cfg.ExternalFeeds {
		cfg.ExternalFeeds[i] = NormalizeServer(feed)
	}
	if len(cfg.ExternalTokens) > 0 {
		normalized := make(map[string]string, len(cfg.ExternalTokens))
		for server, token := range cfg.ExternalTokens {
			normalized[NormalizeServer(server)] = token
		}
		cfg.ExternalTokens = normalized
	}
}

// NormalizeServer strips scheme, path, and trailing slashes from a server
// name, returning the bare lowercase hostname.
func NormalizeServer(server string) string {
	s := strings.TrimSpace(server)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		s = s[:idx]
	}
	return strings.ToLower(s)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server == "" {
		return ErrMissingServer
	}
	if len(c.AccessToken) == 0 || c.AccessToken[0] == "" {
		return ErrMissingToken
	}
	for _, n := range []int{
		c.ReplyInterval, c.HomeTimelineLength, c.MaxFollowings, c.MaxFollowers,
		c.MaxFollowRequests, c.MaxBookmarks, c.MaxFavourites, c.MaxTrendingPosts,
		c.FromNotifications, c.BackfillWithContext, c.BackfillMentionedUsers,
	} {
		if n < 0 {
			return ErrNegativeThreshold
		}
	}
	return nil
}

// AdminToken returns the token used for admin endpoints.
func (c *Config) AdminToken() string {
	if len(c.AccessToken) == 0 {
		return ""
	}
	return c.AccessToken[0]
}

// HTTPTimeoutDuration returns the per-request timeout.
func (c *Config) HTTPTimeoutDuration() time.Duration {
	return time.Duration(c.HTTPTimeout) * time.Second
}

// RememberUsersHorizon returns the TTL for recently-checked users.
func (c *Config) RememberUsersHorizon() time.Duration {
	return time.Duration(c.RememberUsersForHours) * time.Hour
}

// LockTTL returns the age above which a stale lock file is broken.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockHours) * time.Hour
}

// HasDatabase reports whether the database sidecar is configured.
func (c *Config) HasDatabase() bool {
	return c.Database.Password != ""
}
