package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// ID is an internal identifier used for logging and metrics.
	ID string `yaml:"id" json:"id"`
	// URL is the ICS subscription endpoint. webcal:// is accepted.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// URLEnv names an environment variable holding the URL, so private feed
	// links can stay out of the YAML file. URL wins when both are set.
	URLEnv string `yaml:"url_env,omitempty" json:"url_env,omitempty"`
	// Category selects the label shown next to each event.
	Category string `yaml:"category" json:"category"`
}

// ResolvedURL returns URL, or the value of URLEnv.
func (c ICSConfig) ResolvedURL() string {
	if u := strings.TrimSpace(c.URL); u != "" {
		return u
	}
	if c.URLEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.URLEnv))
}

// KeywordConfig maps a title keyword to an emoji.
type KeywordConfig struct {
	Keyword string `yaml:"keyword" json:"keyword"`
	Emoji   string `yaml:"emoji" json:"emoji"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone that defines a note's day.
	Timezone string `yaml:"timezone" json:"timezone"`

	// NotesDir is the root scanned for dated markdown notes.
	NotesDir string `yaml:"notes_dir" json:"notes_dir"`

	// SkipDirs are directory names never descended into.
	SkipDirs []string `yaml:"skip_dirs" json:"skip_dirs"`

	// RefreshCron is a cron-style schedule string (e.g. "0 * * * *")
	// used by the serve command.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Listen is the HTTP listen address of the serve command.
	Listen string `yaml:"listen" json:"listen"`

	// CacheDir keeps the last fetched body of every feed.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// LookBehindDays / LookAheadDays bound recurrence expansion around a
	// note's date.
	LookBehindDays int `yaml:"lookbehind_days" json:"lookbehind_days"`
	LookAheadDays  int `yaml:"lookahead_days" json:"lookahead_days"`

	// Calendars is the list of subscribed ICS sources.
	Calendars []ICSConfig `yaml:"calendars" json:"calendars"`

	// Labels overrides the label of a category, e.g. work: "(Work 🏢)".
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`

	// Keywords are checked before the built-in keyword table.
	Keywords []KeywordConfig `yaml:"keywords,omitempty" json:"keywords,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultTimezone       = "America/New_York"
	defaultNotesDir       = "TODO"
	defaultRefreshCron    = "0 * * * *"
	defaultListen         = "127.0.0.1:8080"
	defaultCacheDir       = "./var/ics-cache"
	defaultLogLevel       = "info"
	defaultLookBehindDays = 365
	defaultLookAheadDays  = 730
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:       defaultTimezone,
		NotesDir:       defaultNotesDir,
		SkipDirs:       []string{"Archive", "Weekly"},
		RefreshCron:    defaultRefreshCron,
		Listen:         defaultListen,
		CacheDir:       defaultCacheDir,
		LogLevel:       defaultLogLevel,
		LookBehindDays: defaultLookBehindDays,
		LookAheadDays:  defaultLookAheadDays,
		Calendars: []ICSConfig{
			{ID: "personal", URLEnv: "GOOGLE_CALENDAR_PERSONAL", Category: "personal"},
			{ID: "events", URLEnv: "GOOGLE_CALENDAR_EVENTS", Category: "events"},
			{ID: "us_holidays", URLEnv: "GOOGLE_CALENDAR_HOLIDAYS_US", Category: "us_holidays"},
		},
	}
}

// Normalize fills zero fields with defaults and derives calendar IDs.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.NotesDir == "" {
		c.NotesDir = defaultNotesDir
	}
	// An explicit empty list means "skip nothing".
	if c.SkipDirs == nil {
		c.SkipDirs = []string{"Archive", "Weekly"}
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.LookBehindDays <= 0 {
		c.LookBehindDays = defaultLookBehindDays
	}
	if c.LookAheadDays <= 0 {
		c.LookAheadDays = defaultLookAheadDays
	}
	if c.Calendars == nil {
		c.Calendars = []ICSConfig{}
	}
	for i := range c.Calendars {
		cal := &c.Calendars[i]
		if cal.Category == "" {
			cal.Category = "other"
		}
		if cal.ID == "" {
			cal.ID = fmt.Sprintf("%s-%d", cal.Category, i+1)
		}
	}
}

// ApplyEnv overrides selected fields from NOTECAL_* environment variables.
func (c *Config) ApplyEnv() {
	c.Timezone = getenvDefault("NOTECAL_TIMEZONE", c.Timezone)
	c.NotesDir = getenvDefault("NOTECAL_NOTES_DIR", c.NotesDir)
	c.LogLevel = getenvDefault("NOTECAL_LOG_LEVEL", c.LogLevel)
}

// Location loads the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// LoadEnv loads variables from a dotenv file without overriding variables
// already set in the process environment. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML config at path. On first run the defaults are written
// there and returned. NOTECAL_* environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			err := Save(path, cfg)
			cfg.ApplyEnv()
			return cfg, err
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save normalizes cfg and replaces the file at path atomically, mode 0600.
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

	tmp, err := os.CreateTemp(dir, ".notecal-config-*.tmp")
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
