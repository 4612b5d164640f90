// Package config loads the engine's settings from defaults, an optional
// config file and ZONESYNC_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/spf13/viper"
)

const envPrefix = "ZONESYNC"

// Commands are the nameserver command templates; see command.Templates.
type Commands struct {
	Add     string
	Reload  string
	Delete  string
	Timeout time.Duration
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Config struct {
	DatabaseURL string
	ZoneDir     string
	CatalogZone string
	CatalogFile string
	LockTimeout time.Duration
	Workers     int

	Commands Commands
	Redis    Redis

	// Upstream is an optional DNS server used for name servers outside the
	// stored domains.
	Upstream        string
	UpstreamTimeout time.Duration

	HTTPAddr string
	// APIToken protects the maintenance routes; empty leaves them open.
	APIToken string
	LogLevel string
}

// LockFile is the companion file flocked around catalog edits.
func (c *Config) LockFile() string {
	return c.CatalogFile + ".lock"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "")
	v.SetDefault("zone_dir", "/var/lib/zonesync/zones")
	v.SetDefault("catalog_zone", "catalog.invalid")
	v.SetDefault("catalog_file", "")
	v.SetDefault("lock_timeout", "0s")
	v.SetDefault("workers", 4)
	v.SetDefault("commands.add", "")
	v.SetDefault("commands.reload", "")
	v.SetDefault("commands.delete", "")
	v.SetDefault("commands.timeout", "30s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("upstream", "")
	v.SetDefault("upstream_timeout", "2s")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("api_token", "")
	v.SetDefault("log_level", "info")
}

// Load reads the configuration. configFile may be empty.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		DatabaseURL: v.GetString("database_url"),
		ZoneDir:     v.GetString("zone_dir"),
		CatalogZone: v.GetString("catalog_zone"),
		CatalogFile: v.GetString("catalog_file"),
		LockTimeout: v.GetDuration("lock_timeout"),
		Workers:     v.GetInt("workers"),
		Commands: Commands{
			Add:     v.GetString("commands.add"),
			Reload:  v.GetString("commands.reload"),
			Delete:  v.GetString("commands.delete"),
			Timeout: v.GetDuration("commands.timeout"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Upstream:        v.GetString("upstream"),
		UpstreamTimeout: v.GetDuration("upstream_timeout"),
		HTTPAddr:        v.GetString("http_addr"),
		APIToken:        v.GetString("api_token"),
		LogLevel:        v.GetString("log_level"),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.CatalogFile == "" {
		cfg.CatalogFile = filepath.Join(cfg.ZoneDir, strings.TrimSuffix(strings.ToLower(cfg.CatalogZone), ".")+".db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail on first use.
func (c *Config) Validate() error {
	if c.ZoneDir == "" {
		return fmt.Errorf("zone_dir must be set")
	}
	if err := domain.ValidateZoneName(domain.Fqdn(strings.ToLower(c.CatalogZone))); err != nil {
		return fmt.Errorf("invalid catalog_zone %q: %w", c.CatalogZone, err)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("lock_timeout must not be negative")
	}
	return nil
}
