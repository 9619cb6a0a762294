package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	_ "time/tzdata"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != "America/New_York" || cfg.NotesDir != "TODO" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Calendars) != 3 || cfg.Calendars[2].URLEnv != "GOOGLE_CALENDAR_HOLIDAYS_US" {
		t.Fatalf("unexpected default calendars: %+v", cfg.Calendars)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if runtime.GOOS != "windows" && fi.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", fi.Mode().Perm())
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.RefreshCron != cfg.RefreshCron || len(again.SkipDirs) != 2 {
		t.Fatalf("reloaded config differs: %+v", again)
	}
}

func TestLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
notes_dir: /notes
log_level: LOUD
skip_dirs: []
calendars:
  - url: https://example.com/a.ics
  - id: work
    category: work
    url_env: WORK_ICS
labels:
  work: "(Work 🏢)"
keywords:
  - keyword: retro
    emoji: "🔁"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NotesDir != "/notes" || cfg.Timezone != "America/New_York" || cfg.Listen != "127.0.0.1:8080" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if len(cfg.SkipDirs) != 0 {
		t.Fatalf("explicit empty skip_dirs must be kept, got %v", cfg.SkipDirs)
	}
	if cfg.LookBehindDays != 365 || cfg.LookAheadDays != 730 {
		t.Fatalf("expansion window = %d/%d", cfg.LookBehindDays, cfg.LookAheadDays)
	}
	if cfg.Calendars[0].ID != "other-1" || cfg.Calendars[0].Category != "other" {
		t.Fatalf("calendar defaults: %+v", cfg.Calendars[0])
	}
	if cfg.Labels["work"] != "(Work 🏢)" || len(cfg.Keywords) != 1 || cfg.Keywords[0].Emoji != "🔁" {
		t.Fatalf("tables: %+v %+v", cfg.Labels, cfg.Keywords)
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("calendars: [\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NOTECAL_TIMEZONE", "Europe/Berlin")
	t.Setenv("NOTECAL_NOTES_DIR", "/srv/notes")
	t.Setenv("NOTECAL_LOG_LEVEL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != "Europe/Berlin" || cfg.NotesDir != "/srv/notes" || cfg.LogLevel != "info" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if _, err := cfg.Location(); err != nil {
		t.Fatalf("Location: %v", err)
	}

	cfg.Timezone = "Nowhere/Special"
	if _, err := cfg.Location(); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}

func TestResolvedURLAndDotenv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("NOTECAL_TEST_FEED=webcal://example.com/feed.ics\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("NOTECAL_TEST_FEED", "")
	os.Unsetenv("NOTECAL_TEST_FEED")

	if err := LoadEnv(envPath); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if err := LoadEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file must be ignored: %v", err)
	}

	cal := ICSConfig{URLEnv: "NOTECAL_TEST_FEED"}
	if got := cal.ResolvedURL(); got != "webcal://example.com/feed.ics" {
		t.Fatalf("ResolvedURL = %q", got)
	}
	cal.URL = " https://example.com/direct.ics "
	if got := cal.ResolvedURL(); got != "https://example.com/direct.ics" {
		t.Fatalf("URL must win over url_env, got %q", got)
	}
	if got := (ICSConfig{}).ResolvedURL(); got != "" {
		t.Fatalf("ResolvedURL = %q", got)
	}
}
