// Package pipeline runs the heightmap batch: for every site it derives a
// bounding box, fetches and reprojects a DEM, transforms it into a fixed-size
// heightmap and writes the artifacts.
//
// Fetches run concurrently up to a configured limit. The transform stage runs
// sequentially, one site at a time. A failing site never aborts the others.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/heightmapgen/internal/config"
	"github.com/Faultbox/heightmapgen/internal/dem"
	"github.com/Faultbox/heightmapgen/internal/logger"
	"github.com/Faultbox/heightmapgen/internal/metrics"
	"github.com/Faultbox/heightmapgen/pkg/formats"
	"github.com/Faultbox/heightmapgen/pkg/geo"
	"github.com/Faultbox/heightmapgen/pkg/heightmap"
)

// Fetcher obtains raw DEM bytes for a request.
type Fetcher interface {
	Load(ctx context.Context, req dem.Request) (dem.Result, error)
}

// Reprojector warps a raster into the planar working CRS.
type Reprojector interface {
	Reproject(src *formats.GeoTIFF) (*formats.GeoTIFF, error)
}

// Runner processes batches of sites.
type Runner struct {
	cfg     *config.Config
	fetcher Fetcher
	reproj  Reprojector
	log     *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) { r.log = logger.OrNop(log) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a runner.
func NewRunner(cfg *config.Config, fetcher Fetcher, reproj Reprojector, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		fetcher: fetcher,
		reproj:  reproj,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("pipeline")
	return r
}

// job is the per-site state carried between stages.
type job struct {
	site   *Site
	result SiteResult
	raw    []byte
	start  time.Time
}

func (j *job) fail(err error) {
	j.result.Status = StatusFailed
	j.result.Err = withSite(j.site.ID, err)
}

func (j *job) failed() bool { return j.result.Status == StatusFailed }

// Run processes specs and writes the aggregated data file for the sites
// that succeeded. Per-site failures are recorded in the report, not
// returned; the error is reserved for batch-level problems such as an
// unwritable output directory.
func (r *Runner) Run(ctx context.Context, specs []config.SiteSpec) (*Report, error) {
	start := time.Now()
	out := r.cfg.Output
	visual := r.cfg.Pipeline.VisualOptions()

	if err := visual.Validate(); err != nil {
		return nil, err
	}
	if err := out.EnsureDirs(); err != nil {
		return nil, err
	}

	jobs := r.prepare(specs, out, visual)
	r.fetchAll(ctx, jobs)

	for _, j := range jobs {
		if j.failed() {
			continue
		}
		if err := ctx.Err(); err != nil {
			j.fail(stageError(StageReproject, err))
			continue
		}
		r.transform(j, visual)
	}

	report := &Report{Sites: make([]SiteResult, len(jobs))}
	var written []*Site
	for i, j := range jobs {
		j.result.Duration = time.Since(j.start)
		report.Sites[i] = j.result
		r.record(j)
		if !j.failed() {
			written = append(written, j.site)
		}
	}

	if len(written) > 0 {
		path := out.DataPath()
		if err := writeDataFile(path, written); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		report.DataFile = path
		r.log.Info("data file written", zap.String("path", path), zap.Int("sites", len(written)))
	}

	report.Duration = time.Since(start)
	r.metrics.ObserveRun(report.Duration)
	return report, nil
}

// prepare turns specs into jobs and computes bounding boxes.
func (r *Runner) prepare(specs []config.SiteSpec, out config.OutputConfig, visual formats.VisualOptions) []*job {
	jobs := make([]*job, len(specs))
	seen := make(map[string]bool, len(specs))
	for i, spec := range specs {
		site := FromSpec(spec)
		site.assignArtifacts(out, visual)
		j := &job{site: site, start: time.Now()}
		j.result = SiteResult{ID: site.ID, Status: StatusSucceeded, Artifacts: site.Artifacts}
		jobs[i] = j

		switch {
		case site.ID == "":
			j.fail(stageError(StageBoundingBox, fmt.Errorf("%w: entry %d has no id or name", config.ErrInvalidSite, i)))
			continue
		case seen[site.ID]:
			j.fail(stageError(StageBoundingBox, fmt.Errorf("%w: duplicate id %q", config.ErrInvalidSite, site.ID)))
			continue
		}
		seen[site.ID] = true

		box, err := geo.BoundingBoxAround(site.Coords, site.Radius)
		if err != nil {
			j.fail(stageError(StageBoundingBox, err))
			continue
		}
		site.Box = box
		r.log.Debug("bounding box", zap.String("site", site.ID), zap.Stringer("box", box))
	}
	return jobs
}

// fetchAll fetches the raw DEM of every pending job, at most
// fetch.concurrency at a time. Each goroutine only touches its own job.
func (r *Runner) fetchAll(ctx context.Context, jobs []*job) {
	limit := r.cfg.Fetch.Concurrency
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, j := range jobs {
		j := j
		if j.failed() {
			continue
		}
		g.Go(func() error {
			r.fetch(ctx, j)
			return nil
		})
	}
	g.Wait()
}

func (r *Runner) fetch(ctx context.Context, j *job) {
	log := r.log.With(zap.String("site", j.site.ID))
	start := time.Now()

	res, err := r.fetcher.Load(ctx, j.site.Request())
	if err != nil {
		j.fail(stageError(StageFetch, err))
		return
	}
	elapsed := time.Since(start)
	r.metrics.ObserveFetch(res.Source, len(res.Data), elapsed)
	r.metrics.ObserveStage(string(StageFetch), elapsed)
	j.result.Source = res.Source
	j.raw = res.Data

	if res.Source != dem.LocalSourceName {
		if err := os.WriteFile(j.site.Artifacts.RawDEM, res.Data, 0644); err != nil {
			j.fail(stageError(StageFetch, fmt.Errorf("writing raw DEM: %w", err)))
			return
		}
	}
	log.Info("DEM fetched",
		zap.String("source", res.Source),
		zap.Bool("cached", res.Cached),
		zap.Int("bytes", len(res.Data)),
		zap.Duration("elapsed", elapsed))
}

// transform runs every stage after the fetch for one job.
func (r *Runner) transform(j *job, visual formats.VisualOptions) {
	site := j.site
	log := r.log.With(zap.String("site", site.ID))

	start := time.Now()
	grid, err := r.reproject(j)
	if err != nil {
		j.fail(err)
		return
	}
	r.metrics.ObserveStage(string(StageReproject), time.Since(start))
	j.raw = nil

	p := r.cfg.Pipeline
	res, err := Transform(grid, TransformOptions{
		Size:           p.HeightmapSize,
		PhysicalSize:   site.Radius * p.PhysicalSizeFactor,
		ClampOvershoot: p.ClampOvershoot,
		Dropoff:        p.DropoffSpec(),
	})
	if err != nil {
		j.fail(err)
		return
	}
	for stage, d := range res.Timings {
		r.metrics.ObserveStage(string(stage), d)
	}
	if res.Filled > 0 {
		log.Debug("no-data samples filled", zap.Int("count", res.Filled))
	}
	for _, w := range res.Warnings {
		log.Warn("data warning", zap.Error(w))
	}
	j.result.Warnings = res.Warnings

	start = time.Now()
	if err := formats.WriteVisual(res.Grid, site.Artifacts.Heightmap, visual); err != nil {
		j.fail(stageError(StageVisual, err))
		return
	}
	r.metrics.ObserveStage(string(StageVisual), time.Since(start))

	site.Heightmap = res.Payload
	r.metrics.ObserveFilled(res.Filled)
	log.Info("heightmap generated",
		zap.Int("size", res.Grid.Width),
		zap.Float64("footprint", res.Grid.Footprint),
		zap.String("path", site.Artifacts.Heightmap))
}

// reproject parses the raw DEM, warps it, persists the result and returns
// it as a grid with no-data samples as NaN. A panic while decoding or warping
// fails the site instead of the batch.
func (r *Runner) reproject(j *job) (grid *heightmap.Grid, err error) {
	defer func() {
		if p := recover(); p != nil {
			grid, err = nil, stageError(StageReproject, fmt.Errorf("%w: %v", formats.ErrInvalidTIFF, p))
		}
	}()

	img, err := formats.ParseGeoTIFF(j.raw)
	if err != nil {
		return nil, stageError(StageReproject, err)
	}
	warped, err := r.reproj.Reproject(img)
	if err != nil {
		return nil, stageError(StageReproject, err)
	}
	if err := formats.WriteGeoTIFFFile(j.site.Artifacts.DEM, warped); err != nil {
		return nil, stageError(StageReproject, err)
	}
	grid, err = warped.ToGrid()
	if err != nil {
		return nil, stageError(StageReproject, err)
	}
	return grid, nil
}

// record logs and counts the outcome of a finished job.
func (r *Runner) record(j *job) {
	if !j.failed() {
		r.metrics.ObserveSite(metrics.OutcomeSucceeded)
		for _, w := range j.result.Warnings {
			r.metrics.ObserveWarning(string(Classify(w)))
		}
		return
	}
	se := j.result.Err
	r.metrics.ObserveSite(metrics.OutcomeFailed)
	r.metrics.ObserveStageError(string(se.Stage), string(se.Kind))
	r.log.Error("site failed",
		zap.String("site", se.Site),
		zap.String("stage", string(se.Stage)),
		zap.String("kind", string(se.Kind)),
		zap.Error(se.Err))
}

// writeDataFile writes the site records as an indented JSON array. The file
// is replaced atomically.
func writeDataFile(path string, sites []*Site) error {
	data, err := json.MarshalIndent(sites, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding data file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".data-*.json")
	if err != nil {
		return fmt.Errorf("creating data file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("writing data file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing data file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing data file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing data file: %w", err)
	}
	return nil
}
