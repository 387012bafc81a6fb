package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/Faultbox/heightmapgen/internal/config"
	"github.com/Faultbox/heightmapgen/internal/dem"
	"github.com/Faultbox/heightmapgen/pkg/formats"
	"github.com/Faultbox/heightmapgen/pkg/geo"
	"github.com/Faultbox/heightmapgen/pkg/heightmap"
)

// Kind classifies a site failure.
type Kind string

// Error kinds.
const (
	KindInvalidInput    Kind = "invalid_input"
	KindDegenerateData  Kind = "degenerate_data"
	KindIOFailure       Kind = "io_failure"
	KindExternalService Kind = "external_service"
)

// Stage names a step of the per-site pipeline.
type Stage string

// Pipeline stages, in execution order.
const (
	StageBoundingBox Stage = "bbox"
	StageFetch       Stage = "fetch"
	StageReproject   Stage = "reproject"
	StagePrepare     Stage = "prepare"
	StageResize      Stage = "resize"
	StageRescale     Stage = "rescale"
	StageDropoff     Stage = "dropoff"
	StageEncode      Stage = "encode"
	StageVisual      Stage = "visual"
)

// SiteError is a failure of one stage for one site.
type SiteError struct {
	Site  string
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *SiteError) Error() string {
	if e.Site == "" {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("site %s: %s (%s): %v", e.Site, e.Stage, e.Kind, e.Err)
}

func (e *SiteError) Unwrap() error { return e.Err }

// stageError wraps err for stage, classifying it. An existing SiteError is
// returned unchanged.
func stageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *SiteError
	if errors.As(err, &se) {
		return err
	}
	return &SiteError{Stage: stage, Kind: Classify(err), Err: err}
}

// withSite stamps the site id on a SiteError.
func withSite(id string, err error) *SiteError {
	var se *SiteError
	if !errors.As(err, &se) {
		se = &SiteError{Kind: Classify(err), Err: err}
	}
	out := *se
	out.Site = id
	return &out
}

// Classify maps an error to its Kind.
func Classify(err error) Kind {
	var se *SiteError
	switch {
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, heightmap.ErrDegenerateRange):
		return KindDegenerateData
	case errors.Is(err, geo.ErrInvalidRadius),
		errors.Is(err, geo.ErrPoleSingularity),
		errors.Is(err, geo.ErrInvalidCoordinates),
		errors.Is(err, heightmap.ErrInvalidTargetSize),
		errors.Is(err, heightmap.ErrInvalidPhysicalSize),
		errors.Is(err, heightmap.ErrInvalidDropoff),
		errors.Is(err, heightmap.ErrEmptyGrid),
		errors.Is(err, heightmap.ErrShapeMismatch),
		errors.Is(err, formats.ErrInvalidBitDepth),
		errors.Is(err, formats.ErrUnsupportedImageFormat),
		errors.Is(err, config.ErrInvalidSite),
		errors.Is(err, dem.ErrAntimeridian),
		errors.Is(err, dem.ErrMissingAPIKey):
		return KindInvalidInput
	case errors.Is(err, dem.ErrService),
		errors.Is(err, dem.ErrNotFound),
		errors.Is(err, dem.ErrUnsupportedCRS),
		errors.Is(err, formats.ErrInvalidTIFF),
		errors.Is(err, formats.ErrUnsupportedTIFF),
		errors.Is(err, formats.ErrTruncatedTIFF),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindExternalService
	}
	// File system errors and anything unrecognised.
	return KindIOFailure
}
