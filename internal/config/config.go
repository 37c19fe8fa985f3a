// Package config loads the server settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/senas/internal/app"
	"github.com/ayusman/senas/internal/capture"
	"github.com/ayusman/senas/internal/classifier"
	"github.com/ayusman/senas/internal/detector"
	"github.com/ayusman/senas/internal/gesture"
	"github.com/ayusman/senas/internal/training"
)

// Environment variables read by Load.
const (
	EnvAddr    = "SENAS_ADDR"
	EnvCamera  = "SENAS_CAMERA"
	EnvDataDir = "SENAS_DATA_DIR"
	EnvUserID  = "USER_ID"
)

// DefaultAddr is where the server listens unless configured otherwise.
const DefaultAddr = ":8080"

// Config holds the whole application configuration.
type Config struct {
	// DataDir is the base for every relative or unset path below.
	DataDir string `yaml:"data_dir"`

	Server     ServerConfig       `yaml:"server"`
	Camera     CameraConfig       `yaml:"camera"`
	Detector   detector.Config    `yaml:"detector"`
	Pipeline   app.PipelineConfig `yaml:"pipeline"`
	Stabilizer gesture.Config     `yaml:"stabilizer"`
	Models     ModelsConfig       `yaml:"models"`
	Training   training.Config    `yaml:"training"`
	Store      StoreConfig        `yaml:"store"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// StaticDir is served at / when set.
	StaticDir string `yaml:"static_dir"`
	// Debug mounts /debug/.
	Debug bool `yaml:"debug"`

	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout stays zero so the MJPEG stream is not cut off.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CameraConfig selects and sizes the capture device.
type CameraConfig struct {
	DeviceID int                   `yaml:"device_id"`
	Width    int                   `yaml:"width"`
	Height   int                   `yaml:"height"`
	FPS      int                   `yaml:"fps"`
	Manager  capture.ManagerConfig `yaml:"manager"`
}

// ModelsConfig locates the per-user classifier artifacts.
type ModelsConfig struct {
	Dir string `yaml:"dir"`
	// DefaultUser is loaded at startup when set.
	DefaultUser  string `yaml:"default_user"`
	RequireModel bool   `yaml:"require_model"`
	// StreamWithoutModel serves /video-stream without recognition while no
	// model is loaded.
	StreamWithoutModel bool `yaml:"stream_without_model"`
	// Watch reloads the active user's artifacts when they change on disk.
	Watch         bool          `yaml:"watch"`
	WatchDelay    time.Duration `yaml:"watch_delay"`
	StaticLabels  []string      `yaml:"static_labels"`
	DynamicLabels []string      `yaml:"dynamic_labels"`
}

// StoreConfig is the SQLite event log.
type StoreConfig struct {
	// Path defaults to senas.db under DataDir.
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
	// Retention is how long gesture events are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// DefaultRetention keeps a month of gesture events.
const DefaultRetention = 30 * 24 * time.Hour

// Default returns the configuration used when nothing is set.
func Default() *Config {
	dataDir := ".senas"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".senas")
	}

	return &Config{
		DataDir: dataDir,
		Server: ServerConfig{
			Addr:        DefaultAddr,
			ReadTimeout: 10 * time.Second,
		},
		Camera: CameraConfig{
			Width:   capture.DefaultWidth,
			Height:  capture.DefaultHeight,
			FPS:     capture.DefaultFPS,
			Manager: capture.DefaultManagerConfig(),
		},
		Detector:   detector.DefaultConfig(),
		Pipeline:   app.DefaultPipelineConfig(),
		Stabilizer: gesture.DefaultConfig(),
		Models: ModelsConfig{
			Watch:      true,
			WatchDelay: classifier.DefaultReloadDelay,
		},
		Training: training.Config{
			Timeout:  training.DefaultTimeout,
			AutoLoad: true,
		},
		Store: StoreConfig{
			Retention: DefaultRetention,
		},
	}
}

// Load builds a Config from the defaults, the YAML file at path (if any)
// and the environment, in that order, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup(EnvCamera); ok && v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a device index", EnvCamera, v)
		}
		c.Camera.DeviceID = id
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := lookup(EnvUserID); ok && v != "" {
		c.Models.DefaultUser = v
	}
	return nil
}

// resolvePaths fills unset paths from DataDir and anchors relative ones to it.
func (c *Config) resolvePaths() {
	c.Models.Dir = c.underDataDir(c.Models.Dir, "models")
	c.Training.DatasetDir = c.underDataDir(c.Training.DatasetDir, "dataset")
	if !c.Store.Disabled {
		c.Store.Path = c.underDataDir(c.Store.Path, "senas.db")
	}
}

func (c *Config) underDataDir(p, fallback string) string {
	if p == "" {
		p = fallback
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Camera.DeviceID < 0 {
		return fmt.Errorf("camera.device_id must not be negative, got %d", c.Camera.DeviceID)
	}
	if c.Camera.FPS < 0 {
		return fmt.Errorf("camera.fps must not be negative, got %d", c.Camera.FPS)
	}
	if q := c.Pipeline.JPEGQuality; q < 1 || q > 100 {
		return fmt.Errorf("pipeline.jpeg_quality must be 1-100, got %d", q)
	}
	if c.Stabilizer.MovementThreshold < 0 {
		return errors.New("stabilizer.movement_threshold must not be negative")
	}
	if c.Stabilizer.Validity < 0 {
		return errors.New("stabilizer.validity must not be negative")
	}
	if c.Training.Timeout < 0 {
		return errors.New("training.timeout must not be negative")
	}
	if c.Store.Retention < 0 {
		return errors.New("store.retention must not be negative")
	}
	if u := c.Models.DefaultUser; u != "" {
		if err := classifier.ValidateUserID(u); err != nil {
			return fmt.Errorf("models.default_user: %w", err)
		}
	}
	if _, err := c.LabelSets(); err != nil {
		return fmt.Errorf("models labels: %w", err)
	}
	return nil
}

// LabelSets returns the static/dynamic split, or the fingerspelling default
// when neither list is configured.
func (c *Config) LabelSets() (gesture.LabelSets, error) {
	if len(c.Models.StaticLabels) == 0 && len(c.Models.DynamicLabels) == 0 {
		return gesture.DefaultLabelSets(), nil
	}
	return gesture.NewLabelSets(c.Models.StaticLabels, c.Models.DynamicLabels)
}
