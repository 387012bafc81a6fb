package dem

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Faultbox/heightmapgen/internal/logger"
)

// DefaultEndpoint is the OpenTopography global DEM API.
const DefaultEndpoint = "https://portal.opentopography.org/API/globaldem"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// OpenTopographyConfig configures the OpenTopography client.
type OpenTopographyConfig struct {
	Endpoint       string
	DEMType        string
	APIKey         string
	Timeout        time.Duration
	RequestsPerSec float64 // 0 disables throttling
}

// OpenTopography downloads DEMs from the OpenTopography global DEM API.
type OpenTopography struct {
	cfg     OpenTopographyConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewOpenTopography creates a client. A nil logger disables logging.
func NewOpenTopography(cfg OpenTopographyConfig, log *zap.Logger) *OpenTopography {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.DEMType == "" {
		cfg.DEMType = "COP30"
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	return &OpenTopography{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.OrNop(log).Named("opentopography"),
	}
}

// Name implements Source.
func (o *OpenTopography) Name() string { return "opentopography" }

// Fetch implements Source.
func (o *OpenTopography) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if o.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if req.Box.CrossesAntimeridian() {
		return nil, fmt.Errorf("%w: %s", ErrAntimeridian, req.Box)
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u, err := o.requestURL(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	start := time.Now()
	o.log.Debug("requesting DEM",
		zap.String("site", req.ID),
		zap.String("dem_type", o.cfg.DEMType),
		zap.Stringer("bbox", req.Box))

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, &ServiceError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: "reading body: " + err.Error()}
	}
	// Some failures come back as 200 with a text body.
	if !isTIFF(data) {
		msg := string(data)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: "response is not a GeoTIFF: " + strings.TrimSpace(msg)}
	}

	o.log.Debug("downloaded DEM",
		zap.String("site", req.ID),
		zap.Int("bytes", len(data)),
		zap.Duration("took", time.Since(start)))
	return data, nil
}

func (o *OpenTopography) requestURL(req Request) (string, error) {
	u, err := url.Parse(o.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	q := u.Query()
	q.Set("API_Key", o.cfg.APIKey)
	q.Set("demtype", o.cfg.DEMType)
	q.Set("outputFormat", "GTiff")
	q.Set("north", f(req.Box.North))
	q.Set("south", f(req.Box.South))
	q.Set("east", f(req.Box.East))
	q.Set("west", f(req.Box.West))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
