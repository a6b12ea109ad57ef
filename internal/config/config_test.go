package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != defaultTimezone || cfg.RefreshCron != defaultRefreshCron {
		t.Fatalf("defaults = %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Database != cfg.Database {
		t.Fatalf("reload database = %q, want %q", again.Database, cfg.Database)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
timezone: America/Recife
hearing_feeds:
  - name: TRT2
    url: https://example.com/trt2.ics
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != "America/Recife" || cfg.HorizonDays != defaultHorizonDays {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.HearingFeeds) != 1 || cfg.HearingFeeds[0].ID != "TRT2" {
		t.Fatalf("feeds = %+v", cfg.HearingFeeds)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad cron", func(c *Config) { c.RefreshCron = "every minute" }, false},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, false},
		{"feed without url", func(c *Config) { c.HearingFeeds = []HearingFeedConfig{{ID: "a"}} }, false},
		{"duplicate feed", func(c *Config) {
			c.HearingFeeds = []HearingFeedConfig{{ID: "a", URL: "https://x/1.ics"}, {ID: "a", URL: "https://x/2.ics"}}
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
		})
	}
}
