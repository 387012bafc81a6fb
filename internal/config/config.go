// Package config handles heightmap generator configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Faultbox/heightmapgen/pkg/formats"
	"github.com/Faultbox/heightmapgen/pkg/heightmap"
)

// Config holds all generator settings.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Output   OutputConfig   `yaml:"output"`
	Sites    SitesConfig    `yaml:"sites"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PipelineConfig holds the heightmap transform settings.
type PipelineConfig struct {
	HeightmapSize int `yaml:"heightmap_size"` // Output edge length in pixels
	// PhysicalSizeFactor multiplies the site radius to get the physical
	// footprint used by the elevation rescaler (2 = diameter).
	PhysicalSizeFactor float64       `yaml:"physical_size_factor"`
	ClampOvershoot     bool          `yaml:"clamp_overshoot"`
	Dropoff            DropoffConfig `yaml:"dropoff"`
	Visual             VisualConfig  `yaml:"visual"`
}

// DropoffConfig holds edge attenuation settings.
type DropoffConfig struct {
	Mode        string  `yaml:"mode"` // none, ease, linear
	Factor      float64 `yaml:"factor"`
	LinearInner float64 `yaml:"linear_inner"`
	LinearOuter float64 `yaml:"linear_outer"`
}

// VisualConfig holds visual heightmap image settings.
type VisualConfig struct {
	Format   string `yaml:"format"`    // png or bmp
	BitDepth int    `yaml:"bit_depth"` // 8 or 16
}

// FetchConfig holds DEM download settings.
type FetchConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	DEMType        string        `yaml:"dem_type"`
	APIKeyEnv      string        `yaml:"api_key_env"`     // Environment variable holding the API key
	APIKey         string        `yaml:"-"`               // Resolved from APIKeyEnv, never saved
	Concurrency    int           `yaml:"concurrency"`     // Parallel downloads
	RequestsPerSec float64       `yaml:"requests_per_sec"` // 0 disables throttling
	Timeout        time.Duration `yaml:"timeout"`
	ReuseExisting  bool          `yaml:"reuse_existing"` // Skip downloads when the raw DEM exists
}

// OutputConfig holds generated file locations. Subdirectories are relative to Dir.
type OutputConfig struct {
	Dir        string `yaml:"dir"`
	RawDEMs    string `yaml:"raw_dems"`
	DEMs       string `yaml:"dems"`
	Heightmaps string `yaml:"heightmaps"`
	DataFile   string `yaml:"data_file"`
}

// SitesConfig holds the site list location.
type SitesConfig struct {
	File string `yaml:"file"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
	JSON    bool   `yaml:"json"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // Prometheus textfile written after a run, empty to disable
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			HeightmapSize:      100,
			PhysicalSizeFactor: 2,
			ClampOvershoot:     false,
			Dropoff: DropoffConfig{
				Mode:        string(heightmap.DropoffNone),
				Factor:      0.25,
				LinearInner: heightmap.DefaultLinearInner,
				LinearOuter: heightmap.DefaultLinearOuter,
			},
			Visual: VisualConfig{
				Format:   formats.ImagePNG,
				BitDepth: 16,
			},
		},
		Fetch: FetchConfig{
			Endpoint:       "https://portal.opentopography.org/API/globaldem",
			DEMType:        "COP30",
			APIKeyEnv:      "OPEN_TOPOGRAPHY_API_KEY",
			Concurrency:    4,
			RequestsPerSec: 2,
			Timeout:        60 * time.Second,
			ReuseExisting:  true,
		},
		Output: OutputConfig{
			Dir:        "generated",
			RawDEMs:    "raw_dems",
			DEMs:       "dems",
			Heightmaps: "heightmaps",
			DataFile:   "mountain_data.json",
		},
		Sites: SitesConfig{
			File: "mountain_config.json",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// RawDEMDir returns the directory for downloaded DEMs.
func (o OutputConfig) RawDEMDir() string { return filepath.Join(o.Dir, o.RawDEMs) }

// DEMDir returns the directory for reprojected DEMs.
func (o OutputConfig) DEMDir() string { return filepath.Join(o.Dir, o.DEMs) }

// HeightmapDir returns the directory for visual heightmaps.
func (o OutputConfig) HeightmapDir() string { return filepath.Join(o.Dir, o.Heightmaps) }

// DataPath returns the aggregated output file path.
func (o OutputConfig) DataPath() string { return filepath.Join(o.Dir, o.DataFile) }

// EnsureDirs creates the output directories.
func (o OutputConfig) EnsureDirs() error {
	for _, dir := range []string{o.Dir, o.RawDEMDir(), o.DEMDir(), o.HeightmapDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	return nil
}

// DropoffSpec converts the dropoff settings.
func (p PipelineConfig) DropoffSpec() heightmap.Dropoff {
	return heightmap.Dropoff{
		Mode:        heightmap.DropoffMode(p.Dropoff.Mode),
		Factor:      p.Dropoff.Factor,
		LinearInner: p.Dropoff.LinearInner,
		LinearOuter: p.Dropoff.LinearOuter,
	}
}

// VisualOptions converts the visual settings.
func (p PipelineConfig) VisualOptions() formats.VisualOptions {
	return formats.VisualOptions{Format: p.Visual.Format, BitDepth: p.Visual.BitDepth}
}
