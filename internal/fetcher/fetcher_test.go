package fetcher

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
)

// testPNG encodes a w x h image.
func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func newTestFetcher(cfg Config) *Fetcher {
	cfg.DisableVideo = true
	return New(cfg)
}

func pngResponder(data []byte, gotRange *string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		if gotRange != nil {
			*gotRange = req.Header.Get("Range")
		}
		resp := httpmock.NewBytesResponse(http.StatusOK, data)
		resp.Header.Set("Content-Type", "image/png")
		return resp, nil
	}
}

func TestFetchImageBytesProbeSucceeds(t *testing.T) {
	f := newTestFetcher(Config{})
	httpmock.ActivateNonDefault(f.HTTPClient())
	defer httpmock.DeactivateAndReset()

	data := testPNG(t, 120, 80)
	var gotRange string
	httpmock.RegisterResponder("GET", "http://ex.com/a.png", pngResponder(data, &gotRange))

	got, err := f.FetchImageBytes(context.Background(), "http://ex.com/a.png", 64)
	if err != nil {
		t.Fatalf("FetchImageBytes() failed: %v", err)
	}
	if len(got) != 64 {
		t.Errorf("probe returned %d bytes, want 64", len(got))
	}
	if gotRange != "bytes=0-63" {
		t.Errorf("Range header = %q, want bytes=0-63", gotRange)
	}
	if n := httpmock.GetTotalCallCount(); n != 1 {
		t.Errorf("made %d requests, want 1", n)
	}
}

func TestFetchImageBytesFallsBackToFullDownload(t *testing.T) {
	data := testPNG(t, 50, 40)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		http.ServeContent(w, r, "a.png", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()

	f := newTestFetcher(Config{})

	// 8 bytes is only the PNG signature, not enough for the header
	got, err := f.FetchImageBytes(context.Background(), server.URL+"/a.png", 8)
	if err != nil {
		t.Fatalf("FetchImageBytes() failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("fallback returned %d bytes, want the full %d", len(got), len(data))
	}
}

func TestFetchImageBytesFullDownload(t *testing.T) {
	f := newTestFetcher(Config{})
	httpmock.ActivateNonDefault(f.HTTPClient())
	defer httpmock.DeactivateAndReset()

	data := testPNG(t, 10, 10)
	var gotRange string
	httpmock.RegisterResponder("GET", "http://ex.com/a.png", pngResponder(data, &gotRange))

	got, err := f.FetchImageBytes(context.Background(), "http://ex.com/a.png", 0)
	if err != nil {
		t.Fatalf("FetchImageBytes() failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("full download returned different bytes")
	}
	if gotRange != "" {
		t.Errorf("full download sent Range %q", gotRange)
	}
}

func TestFetchImageBytesHardFailures(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		maxBytes  int64
		probe     int64
		wantClass string
	}{
		{
			name:      "not found",
			probe:     64,
			responder: httpmock.NewStringResponder(http.StatusNotFound, "nope"),
			wantClass: "http",
		},
		{
			name:      "server error",
			probe:     64,
			responder: httpmock.NewStringResponder(http.StatusBadGateway, ""),
			wantClass: "http",
		},
		{
			name:  "html page",
			probe: 64,
			responder: func(*http.Request) (*http.Response, error) {
				resp := httpmock.NewStringResponse(http.StatusOK, "<html></html>")
				resp.Header.Set("Content-Type", "text/html; charset=utf-8")
				return resp, nil
			},
			wantClass: "decode",
		},
		{
			name:      "connection error",
			probe:     64,
			responder: httpmock.NewErrorResponder(errors.New("connection refused")),
			wantClass: "http",
		},
		{
			name:      "too large",
			responder: httpmock.NewBytesResponder(http.StatusOK, bytes.Repeat([]byte{1}, 2048)),
			maxBytes:  1024,
			wantClass: "http",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(Config{MaxDownloadBytes: tt.maxBytes})
			httpmock.ActivateNonDefault(f.HTTPClient())
			defer httpmock.DeactivateAndReset()

			httpmock.RegisterResponder("GET", "http://ex.com/a.jpg", tt.responder)

			_, err := f.FetchImageBytes(context.Background(), "http://ex.com/a.jpg", tt.probe)
			if err == nil {
				t.Fatal("FetchImageBytes() succeeded, want error")
			}
			if got := ErrorClass(err); got != tt.wantClass {
				t.Errorf("ErrorClass() = %q, want %q (err: %v)", got, tt.wantClass, err)
			}
			// Hard failures are not retried within the call
			if n := httpmock.GetTotalCallCount(); n != 1 {
				t.Errorf("made %d requests, want 1", n)
			}
		})
	}
}

func TestFetchImageBytesNotFoundStatus(t *testing.T) {
	f := newTestFetcher(Config{})
	httpmock.ActivateNonDefault(f.HTTPClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://ex.com/gone.jpg", httpmock.NewStringResponder(http.StatusNotFound, ""))

	_, err := f.FetchImageBytes(context.Background(), "http://ex.com/gone.jpg", 0)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %v, want *NetworkError", err)
	}
	if netErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", netErr.StatusCode)
	}
}

func TestFetchImageBytesDenylistedMakesNoRequest(t *testing.T) {
	f := newTestFetcher(Config{})
	httpmock.ActivateNonDefault(f.HTTPClient())
	defer httpmock.DeactivateAndReset()

	_, err := f.FetchImageBytes(context.Background(), "https://www.instagram.com/p/abc/", 64)
	if !errors.Is(err, ErrDenylisted) {
		t.Errorf("error = %v, want ErrDenylisted", err)
	}
	if n := httpmock.GetTotalCallCount(); n != 0 {
		t.Errorf("made %d requests, want 0", n)
	}
}

func TestProbeDimensions(t *testing.T) {
	f := newTestFetcher(Config{})
	httpmock.ActivateNonDefault(f.HTTPClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://ex.com/a.png", pngResponder(testPNG(t, 321, 123), nil))

	w, h, err := f.ProbeDimensions(context.Background(), "http://ex.com/a.png")
	if err != nil {
		t.Fatalf("ProbeDimensions() failed: %v", err)
	}
	if w != 321 || h != 123 {
		t.Errorf("ProbeDimensions() = %dx%d, want 321x123", w, h)
	}
}

func TestProbeDimensionsGarbage(t *testing.T) {
	f := newTestFetcher(Config{})
	httpmock.ActivateNonDefault(f.HTTPClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://ex.com/a.jpg", func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, strings.Repeat("x", 500))
		resp.Header.Set("Content-Type", "image/jpeg")
		return resp, nil
	})

	_, _, err := f.ProbeDimensions(context.Background(), "http://ex.com/a.jpg")
	if got := ErrorClass(err); got != "decode" {
		t.Errorf("ErrorClass() = %q, want decode (err: %v)", got, err)
	}
}

func TestProbeDimensionsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	f := newTestFetcher(Config{ProbeTimeout: 50 * time.Millisecond})

	_, _, err := f.ProbeDimensions(context.Background(), server.URL+"/slow.jpg")
	if got := ErrorClass(err); got != "timeout" {
		t.Errorf("ErrorClass() = %q, want timeout (err: %v)", got, err)
	}
}

func TestFetchVideoFrameUnavailable(t *testing.T) {
	f := New(Config{FFmpegPath: "/nonexistent/ffmpeg-for-tests"})
	httpmock.ActivateNonDefault(f.HTTPClient())
	defer httpmock.DeactivateAndReset()

	if f.VideoAvailable() {
		t.Fatal("VideoAvailable() = true for a missing decoder")
	}

	_, err := f.FetchVideoFrame(context.Background(), "https://ex.com/clip.mp4", time.Second)
	if !errors.Is(err, ErrCapabilityUnavailable) {
		t.Errorf("error = %v, want ErrCapabilityUnavailable", err)
	}
	if n := httpmock.GetTotalCallCount(); n != 0 {
		t.Errorf("made %d requests, want 0", n)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	f := newTestFetcher(Config{})
	cfg := f.Config()
	defaults := DefaultConfig()

	if cfg.Timeout != defaults.Timeout || cfg.ProbeTimeout != defaults.ProbeTimeout ||
		cfg.ProbeBytes != defaults.ProbeBytes || cfg.MaxDownloadBytes != defaults.MaxDownloadBytes ||
		cfg.UserAgent != DefaultUserAgent {
		t.Errorf("Config() = %+v, want defaults", cfg)
	}
}

func TestAcceptableContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"", true},
		{"image/jpeg", true},
		{"image/webp; charset=binary", true},
		{"application/octet-stream", true},
		{"text/html; charset=utf-8", false},
		{"application/json", false},
		{";;;", false},
	}

	for _, tt := range tests {
		if got := acceptableContentType(tt.ct); got != tt.want {
			t.Errorf("acceptableContentType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}
