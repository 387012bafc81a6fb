package dem

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/heightmapgen/pkg/formats"
	"github.com/Faultbox/heightmapgen/pkg/geo"
)

// testRaster builds a small georeferenced raster whose value rises linearly
// with longitude and latitude.
func testRaster(width, height int, west, north, step float64) *formats.GeoTIFF {
	img := &formats.GeoTIFF{
		Width:     width,
		Height:    height,
		EPSG:      formats.EPSGWGS84,
		Transform: formats.GeoTransform{OriginX: west, OriginY: north, PixelWidth: step, PixelHeight: -step},
		Data:      make([]float32, width*height),
	}
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			lon, lat := img.Transform.Model(float64(col), float64(row))
			img.Data[row*width+col] = float32(plane(lon, lat))
		}
	}
	return img
}

func plane(lon, lat float64) float64 {
	return 1000 + 500*(lon-7) + 2000*(lat-46)
}

func testTIFFBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := formats.WriteGeoTIFF(&buf, testRaster(4, 4, 7, 46.2, 0.05)); err != nil {
		t.Fatalf("WriteGeoTIFF failed: %v", err)
	}
	return buf.Bytes()
}

var testBox = geo.BoundingBox{North: 46.2, South: 46, East: 7.2, West: 7}

func TestOpenTopographyFetch(t *testing.T) {
	tiff := testTIFFBytes(t)
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		q := r.URL.Query()
		expected := map[string]string{
			"API_Key":      "key123",
			"demtype":      "COP30",
			"outputFormat": "GTiff",
			"north":        "46.2",
			"south":        "46",
			"east":         "7.2",
			"west":         "7",
		}
		for k, v := range expected {
			if got := q.Get(k); got != v {
				t.Errorf("query %s: expected %q, got %q", k, v, got)
			}
		}
		w.Header().Set("Content-Type", "image/tiff")
		w.Write(tiff)
	}))
	defer srv.Close()

	ot := NewOpenTopography(OpenTopographyConfig{Endpoint: srv.URL, APIKey: "key123", Timeout: 5 * time.Second}, zap.NewNop())
	data, err := ot.Fetch(context.Background(), Request{ID: "test", Box: testBox})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !bytes.Equal(data, tiff) {
		t.Error("expected response body to be returned unchanged")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestOpenTopographyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("API_Key") {
		case "bad":
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
		case "text":
			w.Write([]byte("Error: area too large"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		key    string
		box    geo.BoundingBox
		want   error
		status int
	}{
		{"missing key", "", testBox, ErrMissingAPIKey, 0},
		{"antimeridian", "bad", geo.BoundingBox{North: -16, South: -17, East: -179.9, West: 179.9}, ErrAntimeridian, 0},
		{"unauthorized", "bad", testBox, ErrService, http.StatusUnauthorized},
		{"text body", "text", testBox, ErrService, http.StatusOK},
		{"server error", "other", testBox, ErrService, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ot := NewOpenTopography(OpenTopographyConfig{Endpoint: srv.URL, APIKey: tt.key, Timeout: 5 * time.Second}, nil)
			_, err := ot.Fetch(context.Background(), Request{ID: "x", Box: tt.box})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var se *ServiceError
			if tt.status != 0 {
				if !errors.As(err, &se) {
					t.Fatalf("expected *ServiceError, got %T", err)
				}
				if se.StatusCode != tt.status {
					t.Errorf("expected status %d, got %d", tt.status, se.StatusCode)
				}
			}
		})
	}
}

func TestOpenTopographyCanceled(t *testing.T) {
	ot := NewOpenTopography(OpenTopographyConfig{Endpoint: "http://127.0.0.1:1", APIKey: "k", RequestsPerSec: 0.001}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ot.Fetch(ctx, Request{ID: "x", Box: testBox}); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestLocalSource(t *testing.T) {
	dir := t.TempDir()
	src := NewLocalSource(dir)

	if _, err := src.Fetch(context.Background(), Request{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "junk.tif"), []byte("{\"error\":1}"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Fetch(context.Background(), Request{ID: "junk"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for non-TIFF file, got %v", err)
	}

	tiff := testTIFFBytes(t)
	if err := os.WriteFile(src.Path("peak"), tiff, 0644); err != nil {
		t.Fatal(err)
	}
	data, err := src.Fetch(context.Background(), Request{ID: "peak", Box: testBox})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !bytes.Equal(data, tiff) {
		t.Error("expected stored file contents")
	}
}

func TestLocalSourceRejectsStaleArea(t *testing.T) {
	src := NewLocalSource(t.TempDir())
	if err := os.WriteFile(src.Path("peak"), testTIFFBytes(t), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		box  geo.BoundingBox
		ok   bool
	}{
		{"same area", testBox, true},
		{"snapped by a fraction of a pixel", geo.BoundingBox{North: 46.21, South: 45.99, East: 7.21, West: 6.99}, true},
		{"smaller radius", geo.BoundingBox{North: 46.12, South: 46.08, East: 7.12, West: 7.08}, false},
		{"wider radius", geo.BoundingBox{North: 47, South: 45, East: 8, West: 6}, false},
		{"moved site", geo.BoundingBox{North: 47.2, South: 47, East: 7.2, West: 7}, false},
		{"no box", geo.BoundingBox{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := src.Fetch(context.Background(), Request{ID: "peak", Box: tt.box})
			if tt.ok && err != nil {
				t.Errorf("expected reuse, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestManagerRefetchesStaleLocalRaster(t *testing.T) {
	dir := t.TempDir()
	local := NewLocalSource(dir)
	if err := os.WriteFile(local.Path("peak"), testTIFFBytes(t), 0644); err != nil {
		t.Fatal(err)
	}
	fresh := []byte("II*\x00fresh")
	remote := &fakeSource{name: "remote", fetch: func(Request) ([]byte, error) { return fresh, nil }}

	m := NewManager(nil)
	m.AddSource(remote)
	m.AddSource(local)

	res, err := m.Load(context.Background(), Request{ID: "peak", Box: geo.BoundingBox{North: 47, South: 45, East: 8, West: 6}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Source != "remote" || remote.calls != 1 {
		t.Errorf("expected remote download, got source %s after %d calls", res.Source, remote.calls)
	}
}

// fakeSource is a Source backed by a function.
type fakeSource struct {
	name  string
	fetch func(Request) ([]byte, error)
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(_ context.Context, req Request) ([]byte, error) {
	f.calls++
	return f.fetch(req)
}

func TestManagerPriorityAndCache(t *testing.T) {
	other := geo.BoundingBox{North: 47.2, South: 47, East: 8.2, West: 8}
	remote := &fakeSource{name: "remote", fetch: func(Request) ([]byte, error) { return []byte("remote"), nil }}
	local := &fakeSource{name: "local", fetch: func(r Request) ([]byte, error) {
		if r.ID == "have" {
			return []byte("local"), nil
		}
		return nil, ErrNotFound
	}}

	m := NewManager(nil)
	m.AddSource(remote)
	m.AddSource(local) // highest priority
	defer m.Close()

	res, err := m.Load(context.Background(), Request{ID: "have", Box: testBox})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(res.Data) != "local" || res.Source != "local" {
		t.Errorf("expected local data, got %q from %s", res.Data, res.Source)
	}
	if remote.calls != 0 {
		t.Errorf("expected remote not to be called, got %d calls", remote.calls)
	}

	res, err = m.Load(context.Background(), Request{ID: "need", Box: other})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Source != "remote" || res.Cached {
		t.Errorf("expected uncached remote result, got %+v", res)
	}

	// A different site over the same area shares the raster.
	res, err = m.Load(context.Background(), Request{ID: "twin", Box: other})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !res.Cached || res.Source != CacheSourceName || string(res.Data) != "remote" || remote.calls != 1 {
		t.Errorf("expected cached remote raster with 1 remote call, got %+v after %d calls", res, remote.calls)
	}

	stats := m.Stats()
	if stats.Hits != 1 || stats.Misses != 2 || stats.Entries != 2 {
		t.Errorf("expected 1 hit, 2 misses and 2 entries, got %+v", stats)
	}
}

func TestManagerMergesConcurrentLoads(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	remote := &fakeSource{name: "remote", fetch: func(Request) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("remote"), nil
	}}
	m := NewManager(nil)
	m.AddSource(remote)

	const n = 4
	results := make(chan Result, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := m.Load(context.Background(), Request{ID: "site", Box: testBox})
			if err != nil {
				t.Errorf("Load failed: %v", err)
			}
			results <- res
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < n; i++ {
		if res := <-results; string(res.Data) != "remote" {
			t.Errorf("expected remote data, got %q", res.Data)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 download, got %d", got)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(10)
	c.Set("a", make([]byte, 4))
	c.Set("b", make([]byte, 4))
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to be cached")
	}
	c.Set("c", make([]byte, 4))

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	for _, key := range []string{"a", "c"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("expected %s to be cached", key)
		}
	}

	c.Set("huge", make([]byte, 11))
	if _, ok := c.Get("huge"); ok {
		t.Error("expected raster above the budget not to be cached")
	}

	stats := c.Stats()
	if stats.Evictions != 1 || stats.Entries != 2 || stats.Bytes != 8 {
		t.Errorf("expected 1 eviction, 2 entries and 8 bytes, got %+v", stats)
	}

	c.Clear()
	if stats := c.Stats(); stats != (CacheStats{}) {
		t.Errorf("expected empty stats after Clear, got %+v", stats)
	}
}

func TestManagerErrors(t *testing.T) {
	m := NewManager(zap.NewNop())
	if _, err := m.Load(context.Background(), Request{ID: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound without sources, got %v", err)
	}

	failing := &fakeSource{name: "remote", fetch: func(Request) ([]byte, error) {
		return nil, &ServiceError{StatusCode: 503, Message: "busy"}
	}}
	fallback := &fakeSource{name: "never", fetch: func(Request) ([]byte, error) { return []byte("x"), nil }}
	m.AddSource(fallback)
	m.AddSource(failing)

	_, err := m.Load(context.Background(), Request{ID: "x"})
	if !errors.Is(err, ErrService) {
		t.Errorf("expected ErrService, got %v", err)
	}
	if fallback.calls != 0 {
		t.Error("expected search to stop at a hard error")
	}
}

func TestTransformerWebMercator(t *testing.T) {
	fwd, err := Transformer(formats.EPSGWGS84, formats.EPSGWebMercator)
	if err != nil {
		t.Fatalf("Transformer failed: %v", err)
	}

	x, y, err := fwd(180, 0)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if math.Abs(x-20037508.34) > 1 || math.Abs(y) > 1e-6 {
		t.Errorf("expected (20037508.34, 0), got (%v, %v)", x, y)
	}

	_, y, _ = fwd(0, 45)
	if math.Abs(y-5621521.49) > 1 {
		t.Errorf("expected y 5621521.49 at 45N, got %v", y)
	}

	if _, err := Transformer(4326, 32633); !errors.Is(err, ErrUnsupportedCRS) {
		t.Errorf("expected ErrUnsupportedCRS, got %v", err)
	}
}

func TestWarperReproject(t *testing.T) {
	src := testRaster(20, 20, 7, 46.2, 0.01)
	w := NewWarper(formats.EPSGWebMercator, zap.NewNop())

	out, err := w.Reproject(src)
	if err != nil {
		t.Fatalf("Reproject failed: %v", err)
	}
	if out.EPSG != formats.EPSGWebMercator {
		t.Errorf("expected EPSG 3857, got %d", out.EPSG)
	}
	// Mercator stretches latitude, so the output is taller than it is wide.
	if out.Width < 10 || out.Height <= out.Width {
		t.Errorf("unexpected output size %dx%d", out.Width, out.Height)
	}
	if out.Transform.PixelWidth != -out.Transform.PixelHeight {
		t.Errorf("expected square pixels, got %+v", out.Transform)
	}

	fwd, _ := Transformer(formats.EPSGWGS84, formats.EPSGWebMercator)
	wx, ny, _ := fwd(7, 46.2)
	if math.Abs(out.Transform.OriginX-wx) > 1e-3 || math.Abs(out.Transform.OriginY-ny) > 1e-3 {
		t.Errorf("expected origin (%v, %v), got (%v, %v)", wx, ny, out.Transform.OriginX, out.Transform.OriginY)
	}

	// Cubic convolution reproduces a plane away from the edges.
	inv, _ := Transformer(formats.EPSGWebMercator, formats.EPSGWGS84)
	for _, p := range [][2]int{{out.Width / 2, out.Height / 2}, {out.Width / 3, out.Height / 4}} {
		x, y := out.Transform.Model(float64(p[0]), float64(p[1]))
		lon, lat, err := inv(x, y)
		if err != nil {
			t.Fatalf("inverse failed: %v", err)
		}
		got := float64(out.Data[p[1]*out.Width+p[0]])
		if want := plane(lon, lat); math.Abs(got-want) > 0.01 {
			t.Errorf("pixel %v: expected %v, got %v", p, want, got)
		}
	}
}

func TestWarperSameCRS(t *testing.T) {
	src := testRaster(3, 3, 7, 46.2, 0.1)
	out, err := NewWarper(formats.EPSGWGS84, nil).Reproject(src)
	if err != nil {
		t.Fatalf("Reproject failed: %v", err)
	}
	if out.Width != 3 || out.Data[4] != src.Data[4] {
		t.Errorf("expected unchanged raster, got %dx%d", out.Width, out.Height)
	}
}

func TestFileStem(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"everest", "everest"},
		{"Mount Everest", "Mount_Everest"},
		{"../etc/passwd", ".._etc_passwd"},
		{"K2", "K2"},
		{"Aconcagua (AR)", "Aconcagua__AR_"},
		{"Piz Palü", "Piz_Palü"},
		{"..", "_"},
		{"", "_"},
	}
	for _, tt := range tests {
		if got := FileStem(tt.id); got != tt.want {
			t.Errorf("FileStem(%q): expected %q, got %q", tt.id, tt.want, got)
		}
	}
}
