// Package config loads the camlink YAML configuration.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/avaropoint/camlink/internal/logging"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Camera   CameraConfig   `yaml:"camera"`
	Storage  StorageConfig  `yaml:"storage"`
	Preview  PreviewConfig  `yaml:"preview"`
	Video    VideoConfig    `yaml:"video"`
	Admin    AdminConfig    `yaml:"admin"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	HeartbeatTimeout  Duration `yaml:"heartbeat_timeout"`
	BroadcastInterval Duration `yaml:"broadcast_interval"`
	MaxClients        int      `yaml:"max_clients"`
	AcceptRate        float64  `yaml:"accept_rate"`
	AcceptBurst       int      `yaml:"accept_burst"`
	SendQueue         int      `yaml:"send_queue"`
	WriteTimeout      Duration `yaml:"write_timeout"`
}

// Addr is the TCP listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type CameraConfig struct {
	Simulated            bool     `yaml:"simulated"`
	Serial               string   `yaml:"serial"`
	DefaultExposure      int      `yaml:"default_exposure"`
	DefaultGain          int      `yaml:"default_gain"`
	ReconnectInterval    Duration `yaml:"reconnect_interval"`
	ReconnectMaxAttempts int      `yaml:"reconnect_max_attempts"`
	GrabTimeout          Duration `yaml:"grab_timeout"`
}

type StorageConfig struct {
	ImagePath   string `yaml:"image_path"`
	VideoPath   string `yaml:"video_path"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	MinFreeMB   int    `yaml:"min_free_mb"`
}

type PreviewConfig struct {
	DefaultFPS     int  `yaml:"default_fps"`
	JPEGQuality    int  `yaml:"jpeg_quality"`
	MinQuality     int  `yaml:"min_quality"`
	MaxQuality     int  `yaml:"max_quality"`
	MaxFPS         int  `yaml:"max_fps"`
	BufferPoolSize int  `yaml:"buffer_pool_size"`
	SkipFrames     bool `yaml:"skip_frames"`
	DynamicQuality bool `yaml:"dynamic_quality"`
}

type VideoConfig struct {
	DefaultFPS int `yaml:"default_fps"`
}

type AdminConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Addr          string   `yaml:"addr"`
	RequireAPIKey bool     `yaml:"require_api_key"`
	TLS           string   `yaml:"tls"` // off, self-signed, custom or acme
	TLSDir        string   `yaml:"tls_dir"`
	CertFile      string   `yaml:"cert_file"`
	KeyFile       string   `yaml:"key_file"`
	Domains       []string `yaml:"domains"`
}

type ArchiveConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Workers    int    `yaml:"workers"`
	MaxRetries int    `yaml:"max_retries"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8899,
			HeartbeatTimeout:  Duration(30 * time.Second),
			BroadcastInterval: Duration(time.Second),
			MaxClients:        5,
			AcceptRate:        20,
			AcceptBurst:       10,
			SendQueue:         100,
			WriteTimeout:      Duration(5 * time.Second),
		},
		Camera: CameraConfig{
			Simulated:            true,
			DefaultExposure:      10000,
			DefaultGain:          100,
			ReconnectInterval:    Duration(5 * time.Second),
			ReconnectMaxAttempts: 10,
			GrabTimeout:          Duration(5 * time.Second),
		},
		Storage: StorageConfig{
			ImagePath:   "./images",
			VideoPath:   "./videos",
			JPEGQuality: 95,
			MinFreeMB:   100,
		},
		Preview: PreviewConfig{
			DefaultFPS:     10,
			JPEGQuality:    80,
			MinQuality:     30,
			MaxQuality:     90,
			MaxFPS:         30,
			BufferPoolSize: 10,
			SkipFrames:     true,
			DynamicQuality: true,
		},
		Video: VideoConfig{DefaultFPS: 5},
		Admin: AdminConfig{
			Enabled:       true,
			Addr:          ":8900",
			RequireAPIKey: true,
			TLS:           "off",
			TLSDir:        "./tls",
		},
		Archive: ArchiveConfig{
			Prefix:     "camlink/",
			Region:     "us-east-1",
			Workers:    1,
			MaxRetries: 3,
		},
		Database: DatabaseConfig{Path: "./camlink.db"},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Storage.ImagePath = expandPath(cfg.Storage.ImagePath)
	cfg.Storage.VideoPath = expandPath(cfg.Storage.VideoPath)
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Admin.TLSDir = expandPath(cfg.Admin.TLSDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive")
	}
	if c.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("broadcast_interval must be positive")
	}
	if c.Server.MaxClients < 1 {
		return fmt.Errorf("max_clients must be at least 1")
	}
	if c.Server.AcceptRate <= 0 || c.Server.AcceptBurst < 1 {
		return fmt.Errorf("accept_rate and accept_burst must be positive")
	}
	if c.Server.SendQueue < 1 {
		return fmt.Errorf("send_queue must be at least 1")
	}
	if c.Camera.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("reconnect_max_attempts must not be negative")
	}
	if err := checkQuality("storage.jpeg_quality", c.Storage.JPEGQuality); err != nil {
		return err
	}
	if err := checkQuality("preview.jpeg_quality", c.Preview.JPEGQuality); err != nil {
		return err
	}
	if err := checkQuality("preview.min_quality", c.Preview.MinQuality); err != nil {
		return err
	}
	if err := checkQuality("preview.max_quality", c.Preview.MaxQuality); err != nil {
		return err
	}
	if c.Preview.MinQuality > c.Preview.MaxQuality {
		return fmt.Errorf("preview.min_quality %d exceeds max_quality %d", c.Preview.MinQuality, c.Preview.MaxQuality)
	}
	if c.Preview.DefaultFPS < 1 || c.Preview.MaxFPS < c.Preview.DefaultFPS {
		return fmt.Errorf("preview fps must satisfy 1 <= default_fps <= max_fps")
	}
	if c.Preview.BufferPoolSize < 1 {
		return fmt.Errorf("preview.buffer_pool_size must be at least 1")
	}
	if c.Video.DefaultFPS < 1 || c.Video.DefaultFPS > 30 {
		return fmt.Errorf("video.default_fps must be between 1 and 30")
	}
	switch c.Admin.TLS {
	case "", "off", "self-signed":
	case "custom":
		if c.Admin.CertFile == "" || c.Admin.KeyFile == "" {
			return fmt.Errorf("admin.cert_file and admin.key_file are required for custom TLS")
		}
	case "acme":
		if len(c.Admin.Domains) == 0 {
			return fmt.Errorf("admin.domains is required for acme TLS")
		}
	default:
		return fmt.Errorf("invalid admin.tls mode: %s", c.Admin.TLS)
	}
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive is enabled")
		}
		if c.Archive.Workers < 1 {
			return fmt.Errorf("archive.workers must be at least 1")
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	return nil
}

func checkQuality(name string, q int) error {
	if q < 1 || q > 100 {
		return fmt.Errorf("%s must be between 1 and 100, got %d", name, q)
	}
	return nil
}

// Watch reloads path whenever it changes and passes each valid
// configuration to fn. Invalid edits are logged and skipped. It blocks
// until ctx is cancelled.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	path = filepath.Clean(expandPath(path))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	log := logging.With(logging.Component("config"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload rejected", logging.Err(err))
				continue
			}
			log.Info("config reloaded", "path", path)
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", logging.Err(err))
		}
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultPath is where the CLI looks for a config file.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".camlink", "config.yaml")
}
