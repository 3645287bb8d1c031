// Package config loads depthcap's TOML configuration, applies environment
// overrides, and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration written as a Go duration string ("4s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Capture struct {
	OutputDir   string   `toml:"output_dir"`
	FPS         int      `toml:"fps"`
	SettleDelay Duration `toml:"settle_delay"`
	JPEGQuality int      `toml:"jpeg_quality"`
	PlatformTag int      `toml:"platform_tag"`
}

type Depth struct {
	Width          int `toml:"width"`
	Height         int `toml:"height"`
	PhotoWidth     int `toml:"photo_width"`
	PhotoHeight    int `toml:"photo_height"`
	BytesPerSample int `toml:"bytes_per_sample"`
}

type Color struct {
	Width       int    `toml:"width"`
	Height      int    `toml:"height"`
	PhotoWidth  int    `toml:"photo_width"`
	PhotoHeight int    `toml:"photo_height"`
	Codec       string `toml:"codec"`
}

type Encoder struct {
	Kind  string `toml:"kind"`
	Queue int    `toml:"queue"`
}

type API struct {
	Addr     string   `toml:"addr"`
	H3Addr   string   `toml:"h3_addr"`
	CertFile string   `toml:"cert_file"`
	KeyFile  string   `toml:"key_file"`
	Hosts    []string `toml:"hosts"`
}

type Log struct {
	Level string `toml:"level"`
}

type DB struct {
	DSN string `toml:"dsn"`
}

// Config is the whole file.
type Config struct {
	Capture Capture `toml:"capture"`
	Depth   Depth   `toml:"depth"`
	Color   Color   `toml:"color"`
	Encoder Encoder `toml:"encoder"`
	API     API     `toml:"api"`
	Log     Log     `toml:"log"`
	DB      DB      `toml:"db"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Capture: Capture{
			OutputDir:   "captures",
			FPS:         30,
			SettleDelay: Duration{4 * time.Second},
			JPEGQuality: 80,
			PlatformTag: 1,
		},
		Depth: Depth{
			Width:          320,
			Height:         180,
			PhotoWidth:     768,
			PhotoHeight:    432,
			BytesPerSample: 2,
		},
		Color: Color{
			Width:       3840,
			Height:      2160,
			PhotoWidth:  3840,
			PhotoHeight: 2160,
			Codec:       "h264",
		},
		Encoder: Encoder{Kind: "gst", Queue: 8},
		API:     API{Addr: ":4444", H3Addr: ":4443"},
		Log:     Log{Level: "info"},
		DB:      DB{DSN: "capture_log.db"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Capture.OutputDir = envOr("DEPTHCAP_OUTPUT_DIR", c.Capture.OutputDir)
	c.API.Addr = envOr("API_ADDR", c.API.Addr)
	c.API.H3Addr = envOr("H3_ADDR", c.API.H3Addr)
	c.DB.DSN = envOr("DEPTHCAP_DB", c.DB.DSN)
	if os.Getenv("DEBUG") != "" {
		c.Log.Level = "debug"
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("capture.fps", c.Capture.FPS)
	positive("depth.width", c.Depth.Width)
	positive("depth.height", c.Depth.Height)
	positive("depth.photo_width", c.Depth.PhotoWidth)
	positive("depth.photo_height", c.Depth.PhotoHeight)
	positive("color.width", c.Color.Width)
	positive("color.height", c.Color.Height)
	positive("color.photo_width", c.Color.PhotoWidth)
	positive("color.photo_height", c.Color.PhotoHeight)
	positive("encoder.queue", c.Encoder.Queue)

	if c.Depth.BytesPerSample != 2 {
		errs = append(errs, fmt.Errorf("depth.bytes_per_sample must be 2 (float16), got %d", c.Depth.BytesPerSample))
	}
	if c.Capture.PlatformTag != 0 && c.Capture.PlatformTag != 1 {
		errs = append(errs, fmt.Errorf("capture.platform_tag must be 0 or 1, got %d", c.Capture.PlatformTag))
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("capture.jpeg_quality must be 1..100, got %d", c.Capture.JPEGQuality))
	}
	if c.Capture.SettleDelay.Duration < 0 {
		errs = append(errs, errors.New("capture.settle_delay must not be negative"))
	}
	if c.Color.Codec != "h264" {
		errs = append(errs, fmt.Errorf("color.codec %q unsupported", c.Color.Codec))
	}
	switch c.Encoder.Kind {
	case "gst", "discard":
	default:
		errs = append(errs, fmt.Errorf("encoder.kind must be gst or discard, got %q", c.Encoder.Kind))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q unknown", c.Log.Level))
	}
	if (c.API.CertFile == "") != (c.API.KeyFile == "") {
		errs = append(errs, errors.New("api.cert_file and api.key_file must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
