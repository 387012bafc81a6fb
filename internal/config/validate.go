package config

import (
	"fmt"
	"strings"

	"github.com/Faultbox/heightmapgen/internal/logger"
)

// Validate checks the configuration and reports every violation at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Pipeline.HeightmapSize <= 0 {
		errs = append(errs, fmt.Sprintf("pipeline.heightmap_size must be positive, got %d", c.Pipeline.HeightmapSize))
	}
	if !(c.Pipeline.PhysicalSizeFactor > 0) {
		errs = append(errs, fmt.Sprintf("pipeline.physical_size_factor must be positive, got %v", c.Pipeline.PhysicalSizeFactor))
	}
	if err := c.Pipeline.DropoffSpec().Validate(); err != nil {
		errs = append(errs, "pipeline.dropoff: "+err.Error())
	}
	if err := c.Pipeline.VisualOptions().Validate(); err != nil {
		errs = append(errs, "pipeline.visual: "+err.Error())
	}

	if c.Fetch.Endpoint == "" {
		errs = append(errs, "fetch.endpoint is required")
	}
	if c.Fetch.DEMType == "" {
		errs = append(errs, "fetch.dem_type is required")
	}
	if c.Fetch.Concurrency <= 0 {
		errs = append(errs, fmt.Sprintf("fetch.concurrency must be positive, got %d", c.Fetch.Concurrency))
	}
	if c.Fetch.RequestsPerSec < 0 {
		errs = append(errs, fmt.Sprintf("fetch.requests_per_sec must not be negative, got %v", c.Fetch.RequestsPerSec))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, "fetch.timeout must be positive")
	}

	if c.Output.Dir == "" {
		errs = append(errs, "output.dir is required")
	}
	if c.Output.DataFile == "" {
		errs = append(errs, "output.data_file is required")
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("logging.level %q is not a valid level", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
