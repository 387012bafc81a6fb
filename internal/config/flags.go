package config

import "flag"

// Flags holds the command-line overrides shared by every subcommand.
type Flags struct {
	Config      string
	Debug       bool
	LogLevel    string
	Output      string
	Sites       string
	Size        int
	Concurrency int
	Dropoff     string
	BitDepth    int
	NoReuse     bool
}

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Config, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.Output, "out", "", "Output directory")
	fs.StringVar(&f.Sites, "sites", "", "Site list file (JSON or YAML)")
	fs.IntVar(&f.Size, "size", 0, "Heightmap edge length in pixels")
	fs.IntVar(&f.Concurrency, "concurrency", 0, "Parallel DEM downloads")
	fs.StringVar(&f.Dropoff, "dropoff", "", "Edge dropoff mode (none, ease, linear)")
	fs.IntVar(&f.BitDepth, "bit-depth", 0, "Visual heightmap bit depth (8 or 16)")
	fs.BoolVar(&f.NoReuse, "no-reuse", false, "Download DEMs even if a raw file exists")
	return f
}

// ConfigPath returns the explicit config path if provided via -config.
func (f *Flags) ConfigPath() string {
	if f == nil {
		return ""
	}
	return f.Config
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.Output != "" {
		cfg.Output.Dir = f.Output
	}
	if f.Sites != "" {
		cfg.Sites.File = f.Sites
	}
	if f.Size > 0 {
		cfg.Pipeline.HeightmapSize = f.Size
	}
	if f.Concurrency > 0 {
		cfg.Fetch.Concurrency = f.Concurrency
	}
	if f.Dropoff != "" {
		cfg.Pipeline.Dropoff.Mode = f.Dropoff
	}
	if f.BitDepth > 0 {
		cfg.Pipeline.Visual.BitDepth = f.BitDepth
	}
	if f.NoReuse {
		cfg.Fetch.ReuseExisting = false
	}
}
