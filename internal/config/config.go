// Package config loads radview settings from defaults, a YAML file and
// RADVIEW_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Mr-Dark-debug/radview/internal/tools"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// RADVIEW_ENGINE_MODE=remote.
const EnvPrefix = "RADVIEW"

// Engine modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Config is the complete radview configuration.
type Config struct {
	Viewer    ViewerConfig    `mapstructure:"viewer" yaml:"viewer"`
	Tools     []ToolConfig    `mapstructure:"tools" yaml:"tools"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Daemon    DaemonConfig    `mapstructure:"daemon" yaml:"daemon"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Broadcast BroadcastConfig `mapstructure:"broadcast" yaml:"broadcast"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
}

// ViewerConfig controls the session controller.
type ViewerConfig struct {
	// ContainerID is the display container bound at startup.
	ContainerID string `mapstructure:"container_id" yaml:"container_id"`
	// EventBuffer is the capacity of the engine event queue.
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer"`
}

// ToolConfig is one entry of the tool catalog.
type ToolConfig struct {
	Name       string   `mapstructure:"name" yaml:"name"`
	SubOptions []string `mapstructure:"sub_options" yaml:"sub_options,omitempty"`
}

// EngineConfig selects and tunes the image engine.
type EngineConfig struct {
	// Mode is "local" (in-process) or "remote" (radview-engine daemon).
	Mode           string        `mapstructure:"mode" yaml:"mode"`
	Network        string        `mapstructure:"network" yaml:"network"`
	Address        string        `mapstructure:"address" yaml:"address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	Throttle       time.Duration `mapstructure:"throttle" yaml:"throttle"`
}

// DaemonConfig controls radview-engine.
type DaemonConfig struct {
	ListenAddr  string `mapstructure:"listen_addr" yaml:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// HistoryConfig controls the load history database.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DBPath  string `mapstructure:"db_path" yaml:"db_path"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// Dir receives radview.log; empty logs to stderr.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// BroadcastConfig controls the websocket session feed. Empty Addr disables it.
type BroadcastConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// WatchConfig controls the drop folder. Empty Dir disables it.
type WatchConfig struct {
	Dir      string        `mapstructure:"dir" yaml:"dir"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// HomeDir is ~/.radview.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".radview"
	}
	return filepath.Join(home, ".radview")
}

// DefaultPath is the config file read when none is given.
func DefaultPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	home := HomeDir()
	descs := tools.DefaultDescriptors()
	toolCfg := make([]ToolConfig, len(descs))
	for i, d := range descs {
		toolCfg[i] = ToolConfig{Name: d.Name, SubOptions: d.SubOptions}
	}
	return &Config{
		Viewer: ViewerConfig{ContainerID: "layerGroup0", EventBuffer: 256},
		Tools:  toolCfg,
		Engine: EngineConfig{
			Mode:           ModeLocal,
			Network:        "unix",
			Address:        "/tmp/radview-engine.sock",
			RequestTimeout: 10 * time.Second,
			Workers:        4,
		},
		Daemon: DaemonConfig{
			ListenAddr:  "/tmp/radview-engine.sock",
			MetricsAddr: "127.0.0.1:9877",
		},
		History: HistoryConfig{Enabled: true, DBPath: filepath.Join(home, "history.db")},
		Logging: LoggingConfig{Level: "INFO", Dir: filepath.Join(home, "logs")},
		Watch:   WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("viewer.container_id", d.Viewer.ContainerID)
	v.SetDefault("viewer.event_buffer", d.Viewer.EventBuffer)

	toolList := make([]map[string]any, len(d.Tools))
	for i, t := range d.Tools {
		toolList[i] = map[string]any{"name": t.Name, "sub_options": t.SubOptions}
	}
	v.SetDefault("tools", toolList)

	v.SetDefault("engine.mode", d.Engine.Mode)
	v.SetDefault("engine.network", d.Engine.Network)
	v.SetDefault("engine.address", d.Engine.Address)
	v.SetDefault("engine.request_timeout", d.Engine.RequestTimeout)
	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.throttle", d.Engine.Throttle)

	v.SetDefault("daemon.listen_addr", d.Daemon.ListenAddr)
	v.SetDefault("daemon.metrics_addr", d.Daemon.MetricsAddr)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.db_path", d.History.DBPath)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)

	v.SetDefault("broadcast.addr", d.Broadcast.Addr)

	v.SetDefault("watch.dir", d.Watch.Dir)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
}

// Load reads path (or DefaultPath when empty). A missing default file is
// not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), !explicit && errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Viewer.ContainerID) == "" {
		errs = append(errs, errors.New("viewer.container_id must not be empty"))
	}
	if c.Viewer.EventBuffer < 1 {
		errs = append(errs, fmt.Errorf("viewer.event_buffer must be positive, got %d", c.Viewer.EventBuffer))
	}
	if len(c.Tools) == 0 {
		errs = append(errs, errors.New("tools must list at least one tool"))
	}
	switch c.Engine.Mode {
	case ModeLocal:
	case ModeRemote:
		if c.Engine.Address == "" {
			errs = append(errs, errors.New("engine.address is required in remote mode"))
		}
		if c.Engine.Network != "unix" && c.Engine.Network != "tcp" {
			errs = append(errs, fmt.Errorf("engine.network must be unix or tcp, got %q", c.Engine.Network))
		}
	default:
		errs = append(errs, fmt.Errorf("engine.mode must be %q or %q, got %q", ModeLocal, ModeRemote, c.Engine.Mode))
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine.workers must be positive, got %d", c.Engine.Workers))
	}
	if c.History.Enabled && c.History.DBPath == "" {
		errs = append(errs, errors.New("history.db_path is required when history is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ToolDescriptors converts the tool section for tools.NewRegistryFrom.
func (c *Config) ToolDescriptors() []tools.Descriptor {
	out := make([]tools.Descriptor, len(c.Tools))
	for i, t := range c.Tools {
		out[i] = tools.Descriptor{Name: t.Name, SubOptions: append([]string(nil), t.SubOptions...)}
	}
	return out
}

// Save writes cfg as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
