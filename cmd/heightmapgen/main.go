// heightmapgen generates normalized terrain heightmaps from global elevation
// data for a list of sites.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/Faultbox/heightmapgen/internal/config"
	"github.com/Faultbox/heightmapgen/internal/dem"
	"github.com/Faultbox/heightmapgen/internal/logger"
	"github.com/Faultbox/heightmapgen/internal/metrics"
	"github.com/Faultbox/heightmapgen/internal/pipeline"
	"github.com/Faultbox/heightmapgen/pkg/formats"
	"github.com/Faultbox/heightmapgen/pkg/geo"
	"github.com/Faultbox/heightmapgen/pkg/heightmap"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "run":
		cmdRun(args)
	case "bbox":
		cmdBBox(args)
	case "transform":
		cmdTransform(args)
	case "decode":
		cmdDecode(args)
	case "inspect":
		cmdInspect(args)
	case "config":
		cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`heightmapgen - terrain heightmap generator

Usage:
  heightmapgen <command> [options]

Commands:
  run                                  Generate heightmaps for every configured site
  bbox <lat> <lon> <radius>            Print the bounding box around a point
  transform <dem.tif> <radius> [out]   Turn a local GeoTIFF into a heightmap
  decode <payload> [out]               Decode a heightmap payload or data file
  inspect <payload> <x> <z>            Sample a decoded heightmap at x, z in [-1, 1]
  config                               Print the effective configuration

Common options:
  -config <file>      Config file (default ./config.yaml)
  -sites <file>       Site list (JSON or YAML)
  -out <dir>          Output directory
  -size <n>           Heightmap edge length
  -dropoff <mode>     none, ease or linear
  -debug              Debug logging

Examples:
  OPEN_TOPOGRAPHY_API_KEY=... heightmapgen run -sites mountains.json
  heightmapgen bbox 27.9881 86.925 5000
  heightmapgen transform everest.tif 5000 everest.png
  heightmapgen decode -site everest generated/mountain_data.json everest.png
  heightmapgen inspect -site everest generated/mountain_data.json 0 0`)
}

// setup parses args with the shared configuration flags, loads the config
// and initializes the logger.
func setup(fs *flag.FlagSet, args []string) *config.Config {
	flags := config.BindFlags(fs)
	fs.Parse(args)

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	err = logger.InitWithOptions(logger.Options{
		Level:   cfg.Logging.Level,
		File:    fileConfig(cfg.Logging.LogFile),
		JSON:    cfg.Logging.JSON,
		Console: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func fileConfig(path string) logger.FileConfig {
	if path == "" {
		return logger.FileConfig{}
	}
	return logger.DefaultFileConfig(path)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	logger.Sync()
	os.Exit(1)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfg := setup(fs, args)
	defer logger.Sync()

	sites, err := config.LoadSites(cfg.Sites.File)
	if err != nil {
		fatal("%v", err)
	}
	logger.Info("starting batch",
		zap.Int("sites", len(sites)),
		zap.String("output", cfg.Output.Dir),
		zap.Int("size", cfg.Pipeline.HeightmapSize),
		zap.String("dropoff", cfg.Pipeline.Dropoff.Mode))

	manager := dem.NewManager(logger.Log)
	defer manager.Close()
	manager.AddSource(dem.NewOpenTopography(dem.OpenTopographyConfig{
		Endpoint:       cfg.Fetch.Endpoint,
		DEMType:        cfg.Fetch.DEMType,
		APIKey:         cfg.Fetch.APIKey,
		Timeout:        cfg.Fetch.Timeout,
		RequestsPerSec: cfg.Fetch.RequestsPerSec,
	}, logger.Log))
	if cfg.Fetch.ReuseExisting {
		// Added last so it is consulted first.
		manager.AddSource(dem.NewLocalSource(cfg.Output.RawDEMDir()))
	}

	m := metrics.New()
	runner := pipeline.NewRunner(cfg, manager, dem.NewWarper(formats.EPSGWebMercator, logger.Log),
		pipeline.WithLogger(logger.Log),
		pipeline.WithMetrics(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := runner.Run(ctx, sites)
	if report != nil {
		fmt.Print(report.Summary())
	}
	stats := manager.Stats()
	logger.Debug("DEM cache",
		zap.Int("hits", stats.Hits),
		zap.Int("misses", stats.Misses),
		zap.Int("evictions", stats.Evictions),
		zap.Int64("bytes", stats.Bytes))
	if cfg.Metrics.Textfile != "" {
		if werr := m.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			logger.Warn("failed to write metrics", zap.Error(werr))
		}
	}
	if err != nil {
		fatal("%v", err)
	}
	if len(report.Failed()) > 0 {
		logger.Sync()
		os.Exit(1)
	}
}

func cmdBBox(args []string) {
	fs := flag.NewFlagSet("bbox", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print as JSON")
	fs.Parse(args)

	if fs.NArg() < 3 {
		fmt.Fprintln(os.Stderr, "Usage: heightmapgen bbox [-json] <lat> <lon> <radius>")
		os.Exit(1)
	}
	nums, err := parseFloats(fs.Args()[:3])
	if err != nil {
		fatal("%v", err)
	}

	center := geo.Point{Lat: nums[0], Lon: nums[1]}
	if err := center.Validate(); err != nil {
		fatal("%v", err)
	}
	box, err := geo.BoundingBoxAround(center, nums[2])
	if err != nil {
		fatal("%v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(box)
		return
	}
	fmt.Printf("North: %.6f\n", box.North)
	fmt.Printf("South: %.6f\n", box.South)
	fmt.Printf("East:  %.6f\n", box.East)
	fmt.Printf("West:  %.6f\n", box.West)
	if box.CrossesAntimeridian() {
		fmt.Println("(crosses the antimeridian)")
	}
}

func cmdTransform(args []string) {
	fs := flag.NewFlagSet("transform", flag.ExitOnError)
	noWarp := fs.Bool("no-reproject", false, "Use the raster in its own CRS")
	payload := fs.Bool("payload", false, "Print the encoded payload to stdout")
	cfg := setup(fs, args)
	defer logger.Sync()

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: heightmapgen transform [options] <dem.tif> <radius> [output]")
		os.Exit(1)
	}
	input := fs.Arg(0)
	radius, err := strconv.ParseFloat(fs.Arg(1), 64)
	if err != nil {
		fatal("invalid radius %q", fs.Arg(1))
	}
	visual := cfg.Pipeline.VisualOptions()
	output := strings.TrimSuffix(input, filepath.Ext(input)) + visual.Extension()
	if fs.NArg() > 2 {
		output = fs.Arg(2)
	}

	img, err := formats.ParseGeoTIFFFile(input)
	if err != nil {
		fatal("%v", err)
	}
	if !*noWarp {
		img, err = dem.NewWarper(formats.EPSGWebMercator, logger.Log).Reproject(img)
		if err != nil {
			fatal("%v", err)
		}
	}
	grid, err := img.ToGrid()
	if err != nil {
		fatal("%v", err)
	}

	res, err := pipeline.Transform(grid, pipeline.TransformOptions{
		Size:           cfg.Pipeline.HeightmapSize,
		PhysicalSize:   radius * cfg.Pipeline.PhysicalSizeFactor,
		ClampOvershoot: cfg.Pipeline.ClampOvershoot,
		Dropoff:        cfg.Pipeline.DropoffSpec(),
	})
	if err != nil {
		fatal("%v", err)
	}
	for _, w := range res.Warnings {
		logger.Warn("data warning", zap.Error(w))
	}
	if err := formats.WriteVisual(res.Grid, output, visual); err != nil {
		fatal("%v", err)
	}

	if *payload {
		fmt.Println(res.Payload)
		return
	}
	lo, hi, _ := res.Grid.Range()
	fmt.Printf("Source:    %dx%d (EPSG:%d)\n", img.Width, img.Height, img.EPSG)
	fmt.Printf("Heightmap: %dx%d, footprint %.0f m\n", res.Grid.Width, res.Grid.Height, res.Grid.Footprint)
	fmt.Printf("Range:     %.3f .. %.3f\n", lo, hi)
	if res.Filled > 0 {
		fmt.Printf("Filled:    %d no-data samples\n", res.Filled)
	}
	fmt.Printf("Written:   %s\n", output)
}

func cmdDecode(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	site := fs.String("site", "", "Site id when reading a data file")
	bitDepth := fs.Int("bit-depth", 16, "Visual bit depth (8 or 16)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: heightmapgen decode [-site id] <payload|data.json|-> [output]")
		os.Exit(1)
	}
	grid, err := loadPayload(fs.Arg(0), *site)
	if err != nil {
		fatal("%v", err)
	}

	lo, hi, _ := grid.Range()
	fmt.Printf("Size:  %dx%d\n", grid.Width, grid.Height)
	fmt.Printf("Range: %.3f .. %.3f\n", lo, hi)

	if fs.NArg() > 1 {
		output := fs.Arg(1)
		opts := formats.VisualOptions{Format: formats.ImagePNG, BitDepth: *bitDepth}
		if strings.EqualFold(filepath.Ext(output), ".bmp") {
			opts.Format = formats.ImageBMP
		}
		if err := formats.WriteVisual(grid, output, opts); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Written: %s\n", output)
	}
}

func cmdInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	site := fs.String("site", "", "Site id when reading a data file")
	fs.Parse(args)

	if fs.NArg() < 3 {
		fmt.Fprintln(os.Stderr, "Usage: heightmapgen inspect [-site id] <payload|data.json|-> <x> <z>")
		os.Exit(1)
	}
	grid, err := loadPayload(fs.Arg(0), *site)
	if err != nil {
		fatal("%v", err)
	}
	xz, err := parseFloats(fs.Args()[1:3])
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("%.4f\n", grid.HeightAt(xz[0], xz[1]))
}

func cmdConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	output := fs.String("o", "", "Write the configuration to this file instead of stdout")
	cfg := setup(fs, args)

	if *output != "" {
		if err := cfg.SaveTo(*output); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Saved: %s\n", *output)
		return
	}
	data, err := cfg.Marshal()
	if err != nil {
		fatal("%v", err)
	}
	os.Stdout.Write(data)
}

// loadPayload decodes a heightmap from a payload file, a data file or stdin
// ("-"). In a data file the site is selected by id, the first one by default.
func loadPayload(path, site string) (*heightmap.Grid, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var records []pipeline.Site
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("parsing data file: %w", err)
		}
		for _, rec := range records {
			if site == "" || rec.ID == site {
				return formats.DecodeSquare(rec.Heightmap)
			}
		}
		return nil, fmt.Errorf("site %q not found in %s", site, path)
	}
	return formats.DecodeSquare(string(data))
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		out[i] = v
	}
	return out, nil
}
