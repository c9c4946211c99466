package config

import (
	"os"
	"testing"
	"time"
)

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Realtime.BaseDelay != time.Second || cfg.Realtime.MaxDelay != 30*time.Second ||
		cfg.Realtime.MaxAttempts != 10 || cfg.Realtime.HeartbeatTimeout != 45*time.Second {
		t.Fatalf("unexpected realtime defaults %+v", cfg.Realtime)
	}
	if cfg.Realtime.Factor != 2 {
		t.Fatalf("factor = %v", cfg.Realtime.Factor)
	}
	if cfg.Popup.MaxItems != 5 || cfg.Popup.Duration != 6*time.Second || cfg.Popup.ActorTTL != 5*time.Minute {
		t.Fatalf("unexpected popup defaults %+v", cfg.Popup)
	}
	if cfg.Database.Host != "" {
		t.Fatal("database should default to the in-memory store")
	}
	if len(cfg.Kafka.Topics) != 3 {
		t.Fatalf("topics = %v", cfg.Kafka.Topics)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PINNOTIFY_REALTIME_MAX_ATTEMPTS", "3")
	t.Setenv("PINNOTIFY_POPUP_DURATION", "10s")
	t.Setenv("PINNOTIFY_CLIENT_BASE_URL", "http://api.test")
	t.Setenv("DB_HOST", "db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Realtime.MaxAttempts != 3 || cfg.Popup.Duration != 10*time.Second {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Realtime, cfg.Popup)
	}
	if cfg.Client.BaseURL != "http://api.test" || cfg.Database.Host != "db" {
		t.Fatalf("unexpected %q %q", cfg.Client.BaseURL, cfg.Database.Host)
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "pins", User: "u", Password: "p"}
	want := "host=db port=5432 dbname=pins user=u password=p sslmode=disable"
	if got := d.DSN(); got != want {
		t.Fatalf("DSN = %q", got)
	}
}
