package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Server.Port != 8899 || cfg.Server.HeartbeatTimeout.Std() != 30*time.Second {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Server.Addr() != "0.0.0.0:8899" {
		t.Errorf("Addr() = %q", cfg.Server.Addr())
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Preview.MaxQuality != 90 {
		t.Errorf("expected defaults, got %+v", cfg.Preview)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server:
  port: 9000
  heartbeat_timeout: 45s
camera:
  reconnect_interval: 250ms
preview:
  min_quality: 40
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.HeartbeatTimeout.Std() != 45*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Camera.ReconnectInterval.Std() != 250*time.Millisecond {
		t.Errorf("reconnect_interval = %v", cfg.Camera.ReconnectInterval.Std())
	}
	if cfg.Preview.MinQuality != 40 || cfg.Preview.MaxQuality != 90 {
		t.Errorf("preview = %+v", cfg.Preview)
	}
	if cfg.Server.MaxClients != 5 {
		t.Error("unset field lost its default")
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		want string
	}{
		{"bad duration", "server:\n  heartbeat_timeout: soon\n", "parse"},
		{"bad port", "server:\n  port: 70000\n", "invalid port"},
		{"inverted quality", "preview:\n  min_quality: 95\n", "exceeds"},
		{"archive without bucket", "archive:\n  enabled: true\n", "bucket"},
		{"bad level", "log:\n  level: loud\n", "level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.yml), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load() error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Server.WriteTimeout = Duration(1500 * time.Millisecond)
	cfg.Archive.Bucket = "frames"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "write_timeout: 1.5s") {
		t.Errorf("durations should be written as strings:\n%s", data)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Server.WriteTimeout != cfg.Server.WriteTimeout || got.Archive.Bucket != "frames" {
		t.Errorf("round trip lost values: %+v", got)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var level atomic.Value
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { level.Store(c.Log.Level) })
	}()

	// The watcher registers asynchronously, so keep rewriting until it
	// picks a change up.
	deadline := time.Now().Add(5 * time.Second)
	for level.Load() != "debug" && time.Now().Before(deadline) {
		os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600) //nolint:errcheck
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() = %v", err)
	}
	if level.Load() != "debug" {
		t.Error("reload callback never saw the new level")
	}
}
