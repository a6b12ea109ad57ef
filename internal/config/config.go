package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// HearingFeedConfig is a court calendar published as iCalendar.
type HearingFeedConfig struct {
	// ID keys the feed in logs and on imported hearings.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label, e.g. the court.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS endpoint. Treated as a secret in logs.
	URL string `yaml:"url" json:"url"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the JSON API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of `serve`.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone in which calendar days are observed
	// (deadlines, urgency, recurrence anchors).
	Timezone string `yaml:"timezone" json:"timezone"`

	// Database is the SQLite file path.
	Database string `yaml:"database" json:"database"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// HorizonDays is the default agenda window length for the CLI.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// MaxOccurrencesPerRule caps one rule's expansion inside one window.
	MaxOccurrencesPerRule int `yaml:"max_occurrences_per_rule" json:"max_occurrences_per_rule"`

	// RefreshCron is a standard 5-field cron spec (e.g. "*/30 * * * *") for
	// hearing feed synchronization inside `serve`.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	HearingFeeds []HearingFeedConfig `yaml:"hearing_feeds" json:"hearing_feeds"`

	// FeedCacheDir stores ETag/Last-Modified metadata and last bodies.
	FeedCacheDir string `yaml:"feed_cache_dir" json:"feed_cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// OfficeID and UserID are the CLI defaults; HTTP callers send their own.
	OfficeID string `yaml:"office_id" json:"office_id"`
	UserID   string `yaml:"user_id" json:"user_id"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "America/Sao_Paulo"
	defaultDatabase    = "./var/legalagenda.db"
	defaultLogLevel    = "info"
	defaultHorizonDays = 14
	defaultMaxPerRule  = 5000
	defaultRefreshCron = "*/30 * * * *"
	defaultFeedCache   = "./var/feed-cache"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                defaultListen,
		Timezone:              defaultTimezone,
		Database:              defaultDatabase,
		LogLevel:              defaultLogLevel,
		HorizonDays:           defaultHorizonDays,
		MaxOccurrencesPerRule: defaultMaxPerRule,
		RefreshCron:           defaultRefreshCron,
		HearingFeeds:          []HearingFeedConfig{},
		FeedCacheDir:          defaultFeedCache,
		BasicAuth:             nil,
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.MaxOccurrencesPerRule <= 0 {
		c.MaxOccurrencesPerRule = defaultMaxPerRule
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.FeedCacheDir == "" {
		c.FeedCacheDir = defaultFeedCache
	}
	if c.HearingFeeds == nil {
		c.HearingFeeds = []HearingFeedConfig{}
	}
	for i := range c.HearingFeeds {
		f := &c.HearingFeeds[i]
		if f.ID == "" {
			if f.Name != "" {
				f.ID = f.Name
			} else {
				f.ID = f.URL
			}
		}
	}
}

// Validate reports configuration errors Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
	}
	seen := make(map[string]bool, len(c.HearingFeeds))
	for _, f := range c.HearingFeeds {
		if f.URL == "" {
			return fmt.Errorf("config: hearing feed %q has no url", f.ID)
		}
		if seen[f.ID] {
			return fmt.Errorf("config: duplicate hearing feed id %q", f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is read, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".legalagenda-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
