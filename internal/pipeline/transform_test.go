package pipeline

import (
	"errors"
	"math"
	"testing"

	"github.com/Faultbox/heightmapgen/internal/config"
	"github.com/Faultbox/heightmapgen/internal/dem"
	"github.com/Faultbox/heightmapgen/pkg/formats"
	"github.com/Faultbox/heightmapgen/pkg/geo"
	"github.com/Faultbox/heightmapgen/pkg/heightmap"
)

func rampGrid(t *testing.T, width, height int, lo, hi float64) *heightmap.Grid {
	t.Helper()
	g, err := heightmap.New(width, height)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	n := len(g.Data)
	for i := range g.Data {
		g.Data[i] = float32(lo + (hi-lo)*float64(i)/float64(n-1))
	}
	return g
}

func TestTransformScenario(t *testing.T) {
	src := rampGrid(t, 10, 10, 0, 100)
	opts := TransformOptions{Size: 5, PhysicalSize: 1000}

	plain, err := Transform(src, opts)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	opts.Dropoff = heightmap.Dropoff{Mode: heightmap.DropoffEase, Factor: 0.25}
	shaped, err := Transform(src, opts)
	if err != nil {
		t.Fatalf("Transform with dropoff failed: %v", err)
	}

	if shaped.Grid.Width != 5 || shaped.Grid.Height != 5 {
		t.Fatalf("expected 5x5, got %dx%d", shaped.Grid.Width, shaped.Grid.Height)
	}
	if len(shaped.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", shaped.Warnings)
	}
	for _, c := range [][2]int{{0, 0}, {4, 0}, {0, 4}, {4, 4}} {
		if v := shaped.Grid.At(c[0], c[1]); v != 0 {
			t.Errorf("corner %v: expected 0, got %f", c, v)
		}
	}
	if shaped.Grid.At(2, 2) != plain.Grid.At(2, 2) {
		t.Errorf("center attenuated: %f vs %f", shaped.Grid.At(2, 2), plain.Grid.At(2, 2))
	}
	if shaped.Grid.At(2, 2) <= 0 {
		t.Errorf("expected positive center, got %f", shaped.Grid.At(2, 2))
	}
	if shaped.Grid.Footprint != 1000 {
		t.Errorf("expected footprint 1000, got %f", shaped.Grid.Footprint)
	}

	decoded, err := formats.DecodeTransport(shaped.Payload)
	if err != nil {
		t.Fatalf("DecodeTransport failed: %v", err)
	}
	for i, v := range shaped.Grid.Data {
		if decoded[i] != v {
			t.Fatalf("payload sample %d: expected %f, got %f", i, v, decoded[i])
		}
	}

	for _, stage := range []Stage{StagePrepare, StageResize, StageRescale, StageDropoff, StageEncode} {
		if _, ok := shaped.Timings[stage]; !ok {
			t.Errorf("expected timing for stage %s", stage)
		}
	}
	if _, ok := plain.Timings[StageDropoff]; ok {
		t.Error("expected no dropoff stage without a dropoff mode")
	}
}

func TestTransformDoesNotMutateInput(t *testing.T) {
	src := rampGrid(t, 6, 6, 10, 20)
	src.Data[3] = float32(math.NaN())
	before := append([]float32(nil), src.Data...)

	if _, err := Transform(src, TransformOptions{Size: 3, PhysicalSize: 500}); err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	for i := range before {
		if before[i] != src.Data[i] && !(math.IsNaN(float64(before[i])) && math.IsNaN(float64(src.Data[i]))) {
			t.Fatalf("input modified at %d", i)
		}
	}
}

func TestTransformFlatIsWarning(t *testing.T) {
	src := rampGrid(t, 8, 8, 0, 0)
	for i := range src.Data {
		src.Data[i] = 1234
	}

	res, err := Transform(src, TransformOptions{Size: 4, PhysicalSize: 2000})
	if err != nil {
		t.Fatalf("expected flat input to succeed, got %v", err)
	}
	if len(res.Warnings) != 1 || !IsDegenerate(res.Warnings[0]) {
		t.Fatalf("expected a degenerate warning, got %v", res.Warnings)
	}
	if Classify(res.Warnings[0]) != KindDegenerateData {
		t.Errorf("expected %s, got %s", KindDegenerateData, Classify(res.Warnings[0]))
	}
	for i, v := range res.Grid.Data {
		if v != 0 {
			t.Fatalf("sample %d: expected 0, got %f", i, v)
		}
	}
}

func TestTransformFillsNoData(t *testing.T) {
	src := rampGrid(t, 6, 6, 100, 200)
	src.Data[0] = float32(math.NaN())
	src.Data[35] = float32(math.Inf(1))

	res, err := Transform(src, TransformOptions{Size: 6, PhysicalSize: 600})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if res.Filled != 2 {
		t.Errorf("expected 2 filled samples, got %d", res.Filled)
	}
	if res.Grid.HasNonFinite() {
		t.Error("expected finite output")
	}

	allMissing := rampGrid(t, 4, 4, 0, 0)
	for i := range allMissing.Data {
		allMissing.Data[i] = float32(math.NaN())
	}
	res, err = Transform(allMissing, TransformOptions{Size: 2, PhysicalSize: 100})
	if err != nil {
		t.Fatalf("Transform of all-missing grid failed: %v", err)
	}
	if res.Filled != 16 || len(res.Warnings) != 1 {
		t.Errorf("expected 16 filled and a warning, got %d and %v", res.Filled, res.Warnings)
	}
}

func TestTransformInvalidInput(t *testing.T) {
	src := rampGrid(t, 4, 4, 0, 10)

	tests := []struct {
		name  string
		grid  *heightmap.Grid
		opts  TransformOptions
		stage Stage
		want  error
	}{
		{"zero size", src, TransformOptions{Size: 0, PhysicalSize: 100}, StageResize, heightmap.ErrInvalidTargetSize},
		{"negative physical size", src, TransformOptions{Size: 2, PhysicalSize: -1}, StageRescale, heightmap.ErrInvalidPhysicalSize},
		{"nan physical size", src, TransformOptions{Size: 2, PhysicalSize: math.NaN()}, StageRescale, heightmap.ErrInvalidPhysicalSize},
		{"bad dropoff", src, TransformOptions{Size: 2, PhysicalSize: 100, Dropoff: heightmap.Dropoff{Mode: heightmap.DropoffEase, Factor: 2}}, StageDropoff, heightmap.ErrInvalidDropoff},
		{"nil grid", nil, TransformOptions{Size: 2, PhysicalSize: 100}, StagePrepare, heightmap.ErrEmptyGrid},
		{"shape mismatch", &heightmap.Grid{Width: 3, Height: 3, Data: make([]float32, 4)}, TransformOptions{Size: 2, PhysicalSize: 100}, StagePrepare, heightmap.ErrShapeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Transform(tt.grid, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var se *SiteError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SiteError, got %T", err)
			}
			if se.Stage != tt.stage {
				t.Errorf("expected stage %s, got %s", tt.stage, se.Stage)
			}
			if se.Kind != KindInvalidInput {
				t.Errorf("expected kind %s, got %s", KindInvalidInput, se.Kind)
			}
		})
	}
}

func TestTransformSizeOneIsFinite(t *testing.T) {
	res, err := Transform(rampGrid(t, 10, 10, 0, 100), TransformOptions{Size: 1, PhysicalSize: 1e-6})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if res.Grid.HasNonFinite() {
		t.Errorf("expected finite output, got %v", res.Grid.Data)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{geo.ErrInvalidRadius, KindInvalidInput},
		{geo.ErrPoleSingularity, KindInvalidInput},
		{heightmap.ErrInvalidTargetSize, KindInvalidInput},
		{config.ErrInvalidSite, KindInvalidInput},
		{dem.ErrAntimeridian, KindInvalidInput},
		{heightmap.ErrDegenerateRange, KindDegenerateData},
		{&dem.ServiceError{StatusCode: 500}, KindExternalService},
		{dem.ErrUnsupportedCRS, KindExternalService},
		{formats.ErrTruncatedTIFF, KindExternalService},
		{errors.New("disk full"), KindIOFailure},
		{&SiteError{Kind: KindDegenerateData, Err: errors.New("x")}, KindDegenerateData},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v): expected %s, got %s", tt.err, tt.want, got)
		}
	}
}

func TestSiteErrorMessage(t *testing.T) {
	err := withSite("everest", stageError(StageFetch, &dem.ServiceError{StatusCode: 401, Message: "bad key"}))
	if err.Site != "everest" || err.Stage != StageFetch || err.Kind != KindExternalService {
		t.Fatalf("unexpected error fields: %+v", err)
	}
	if !errors.Is(err, dem.ErrService) {
		t.Error("expected SiteError to unwrap to dem.ErrService")
	}
	want := "site everest: fetch (external_service): "
	if got := err.Error(); len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("expected message prefix %q, got %q", want, got)
	}
}
