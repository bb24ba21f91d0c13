package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config failed: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Viewer.ContainerID != "layerGroup0" || cfg.Engine.Mode != ModeLocal {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	descs := cfg.ToolDescriptors()
	if len(descs) != 4 || descs[3].Name != "Draw" || len(descs[3].SubOptions) != 3 {
		t.Errorf("default tools = %+v", descs)
	}
	if cfg.Engine.RequestTimeout != 10*time.Second {
		t.Errorf("request timeout = %v", cfg.Engine.RequestTimeout)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
viewer:
  container_id: mainView
tools:
  - name: ZoomAndPan
  - name: Draw
    sub_options: [Ruler]
engine:
  mode: remote
  network: tcp
  address: 127.0.0.1:7070
  request_timeout: 3s
watch:
  dir: /srv/drop
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Viewer.ContainerID != "mainView" {
		t.Errorf("container = %s", cfg.Viewer.ContainerID)
	}
	if cfg.Viewer.EventBuffer != 256 {
		t.Errorf("unset key lost its default: %d", cfg.Viewer.EventBuffer)
	}
	if len(cfg.Tools) != 2 || cfg.Tools[1].SubOptions[0] != "Ruler" {
		t.Errorf("tools = %+v", cfg.Tools)
	}
	if cfg.Engine.Mode != ModeRemote || cfg.Engine.RequestTimeout != 3*time.Second {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Watch.Dir != "/srv/drop" || cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("watch = %+v", cfg.Watch)
	}
}

func TestEnvOverride(t *testing.T) {
	path := writeConfig(t, "engine:\n  mode: local\n")
	t.Setenv("RADVIEW_ENGINE_WORKERS", "9")
	t.Setenv("RADVIEW_LOGGING_LEVEL", "DEBUG")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.Workers != 9 || cfg.Logging.Level != "DEBUG" {
		t.Errorf("env not applied: workers=%d level=%s", cfg.Engine.Workers, cfg.Logging.Level)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"EmptyContainer", func(c *Config) { c.Viewer.ContainerID = " " }, "container_id"},
		{"BadMode", func(c *Config) { c.Engine.Mode = "gpu" }, "engine.mode"},
		{"RemoteNoAddress", func(c *Config) { c.Engine.Mode = ModeRemote; c.Engine.Address = "" }, "engine.address"},
		{"NoTools", func(c *Config) { c.Tools = nil }, "tools"},
		{"ZeroWorkers", func(c *Config) { c.Engine.Workers = 0 }, "workers"},
		{"HistoryNoPath", func(c *Config) { c.History.DBPath = "" }, "db_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestSaveThenLoad(t *testing.T) {
	cfg := Default()
	cfg.Engine.Mode = ModeRemote
	cfg.Engine.Throttle = 20 * time.Millisecond
	cfg.Broadcast.Addr = ":8090"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Engine.Mode != ModeRemote || loaded.Engine.Throttle != 20*time.Millisecond || loaded.Broadcast.Addr != ":8090" {
		t.Errorf("round trip lost settings: %+v", loaded)
	}
	if len(loaded.Tools) != len(cfg.Tools) {
		t.Errorf("tools = %+v", loaded.Tools)
	}
}
