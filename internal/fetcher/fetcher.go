package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"os/exec"
	"strings"
	"time"

	// Decoders for DecodeConfig
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/go-resty/resty/v2"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"scrapbook/internal/logging"
	"scrapbook/internal/metrics"
)

// DefaultUserAgent is a desktop browser string; several image CDNs refuse
// requests that look automated.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config controls fetch limits.
type Config struct {
	// Timeout bounds full downloads and video frame extraction.
	Timeout time.Duration
	// ProbeTimeout bounds a dimension probe including its fallback.
	ProbeTimeout time.Duration
	// ProbeBytes is the size of the ranged read used for dimension probes.
	ProbeBytes int64
	// MaxDownloadBytes caps a full download.
	MaxDownloadBytes int64
	UserAgent        string
	// FFmpegPath overrides the frame decoder looked up on PATH.
	FFmpegPath string
	// DisableVideo turns off video frame extraction even if ffmpeg exists.
	DisableVideo bool
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		ProbeTimeout:     10 * time.Second,
		ProbeBytes:       64 * 1024,
		MaxDownloadBytes: 50 * 1024 * 1024,
		UserAgent:        DefaultUserAgent,
	}
}

// Fetcher retrieves image bytes over HTTP and extracts frames from video
// URLs. It holds no per-request state and is safe for concurrent use.
type Fetcher struct {
	client         *resty.Client
	cfg            Config
	ffmpegPath     string
	videoAvailable bool
	log            *logging.Logger
}

// New builds a Fetcher. The video decoder is looked up once here; VideoAvailable
// reports the result for the life of the Fetcher.
func New(cfg Config) *Fetcher {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}
	if cfg.ProbeBytes <= 0 {
		cfg.ProbeBytes = defaults.ProbeBytes
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = defaults.MaxDownloadBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}

	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	f := &Fetcher{
		client: client,
		cfg:    cfg,
		log:    logging.Named("fetcher"),
	}

	if !cfg.DisableVideo {
		name := cfg.FFmpegPath
		if name == "" {
			name = "ffmpeg"
		}
		if path, err := exec.LookPath(name); err == nil {
			f.ffmpegPath = path
			f.videoAvailable = true
		} else {
			f.log.Warn("ffmpeg not found, video URLs will be marked as failed: %v", err)
		}
	}

	if f.videoAvailable {
		metrics.VideoDecoderAvailable.Set(1)
	} else {
		metrics.VideoDecoderAvailable.Set(0)
	}

	return f
}

// HTTPClient exposes the underlying client so tests can install a mock
// transport.
func (f *Fetcher) HTTPClient() *http.Client {
	return f.client.GetClient()
}

// VideoAvailable reports whether video frames can be extracted.
func (f *Fetcher) VideoAvailable() bool {
	return f.videoAvailable
}

// Config returns the effective configuration.
func (f *Fetcher) Config() Config {
	return f.cfg
}

func observe(mode string, start time.Time, size int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.FetchRequestsTotal.WithLabelValues(mode, result).Inc()
	metrics.FetchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.FetchBytes.WithLabelValues(mode).Observe(float64(size))
	}
}

func acceptableContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") ||
		mediaType == "application/octet-stream" ||
		mediaType == "binary/octet-stream"
}

// errRangeNotSatisfiable signals a probe the server refused to range.
var errRangeNotSatisfiable = errors.New("range not satisfiable")

// get performs one GET and returns at most limit bytes of the body. When
// ranged is set a Range header asks for just those bytes.
func (f *Fetcher) get(ctx context.Context, rawURL string, limit int64, ranged bool) ([]byte, error) {
	req := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if ranged {
		req.SetHeader("Range", fmt.Sprintf("bytes=0-%d", limit-1))
	}

	resp, err := req.Get(rawURL)
	if resp != nil && resp.RawBody() != nil {
		defer resp.RawBody().Close()
	}
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}

	status := resp.StatusCode()
	if ranged && status == http.StatusRequestedRangeNotSatisfiable {
		return nil, errRangeNotSatisfiable
	}
	if status < 200 || status > 299 {
		return nil, &NetworkError{URL: rawURL, StatusCode: status}
	}

	if ct := resp.Header().Get("Content-Type"); !acceptableContentType(ct) {
		return nil, &DecodeError{URL: rawURL, Err: fmt.Errorf("unexpected content type %q", ct)}
	}

	// Read one byte past the limit to tell "exactly limit" from "too big"
	readLimit := limit
	if !ranged {
		readLimit = limit + 1
	}
	data, err := io.ReadAll(io.LimitReader(resp.RawBody(), readLimit))
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	if !ranged && int64(len(data)) > limit {
		return nil, &NetworkError{URL: rawURL, Err: fmt.Errorf("response exceeds %d bytes", limit)}
	}
	if len(data) == 0 {
		return nil, &DecodeError{URL: rawURL, Err: errors.New("empty response body")}
	}
	return data, nil
}

// FetchImageBytes downloads an image. With maxProbeBytes > 0 it first reads
// only that many bytes and returns them if they hold a decodable image
// header; otherwise, or when the probe is truncated, it downloads the whole
// file. The full body is capped at the configured maximum.
func (f *Fetcher) FetchImageBytes(ctx context.Context, rawURL string, maxProbeBytes int64) ([]byte, error) {
	if c := Classify(rawURL); c.Kind == KindDenylisted {
		return nil, fmt.Errorf("%w: %s", ErrDenylisted, c.Reason)
	}

	if maxProbeBytes > 0 {
		start := time.Now()
		data, err := f.get(ctx, rawURL, maxProbeBytes, true)
		observe("probe", start, len(data), err)

		switch {
		case err == nil:
			if _, _, decErr := image.DecodeConfig(bytes.NewReader(data)); decErr == nil {
				return data, nil
			}
			f.log.Debug("Probe of %s was not decodable from %d bytes, downloading in full", rawURL, len(data))
		case errors.Is(err, errRangeNotSatisfiable):
			f.log.Debug("Range refused for %s, downloading in full", rawURL)
		default:
			return nil, err
		}
		metrics.FetchProbeFallbacks.Inc()
	}

	start := time.Now()
	data, err := f.get(ctx, rawURL, f.cfg.MaxDownloadBytes, false)
	observe("full", start, len(data), err)
	return data, err
}

// ProbeDimensions learns an image's width and height from as few bytes as
// possible. The whole probe is bounded by the probe timeout.
func (f *Fetcher) ProbeDimensions(ctx context.Context, rawURL string) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()

	data, err := f.FetchImageBytes(ctx, rawURL, f.cfg.ProbeBytes)
	if err != nil {
		return 0, 0, err
	}
	return decodeDimensions(rawURL, data)
}

// ProbeVideoDimensions extracts one frame and reports its size.
func (f *Fetcher) ProbeVideoDimensions(ctx context.Context, rawURL string) (int, int, error) {
	frame, err := f.FetchVideoFrame(ctx, rawURL, time.Second)
	if err != nil {
		return 0, 0, err
	}
	return decodeDimensions(rawURL, frame)
}

func decodeDimensions(rawURL string, data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, &DecodeError{URL: rawURL, Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, &DecodeError{URL: rawURL, Err: fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	return cfg.Width, cfg.Height, nil
}

// FetchVideoFrame extracts a single frame at timestamp from a video URL and
// returns it PNG-encoded. If the frame decoder is unavailable it returns
// ErrCapabilityUnavailable immediately without touching the network.
func (f *Fetcher) FetchVideoFrame(ctx context.Context, rawURL string, timestamp time.Duration) ([]byte, error) {
	if !f.videoAvailable {
		return nil, ErrCapabilityUnavailable
	}
	if c := Classify(rawURL); c.Kind == KindDenylisted {
		return nil, fmt.Errorf("%w: %s", ErrDenylisted, c.Reason)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	frame, err := f.extractFrame(ctx, rawURL, timestamp)
	if err != nil && timestamp > 0 && ctx.Err() == nil {
		// Clips shorter than the seek point produce no frame
		f.log.Debug("Frame at %v failed for %s, retrying from start: %v", timestamp, rawURL, err)
		frame, err = f.extractFrame(ctx, rawURL, 0)
	}
	observe("video", start, len(frame), err)
	return frame, err
}

func (f *Fetcher) extractFrame(ctx context.Context, rawURL string, timestamp time.Duration) ([]byte, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-user_agent", f.cfg.UserAgent,
	}
	if timestamp > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", timestamp.Seconds()))
	}
	args = append(args,
		"-i", rawURL,
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, &NetworkError{URL: rawURL, Err: ctx.Err()}
		}
		return nil, &NetworkError{URL: rawURL, Err: fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, tail(stderr.String(), 200))}
	}

	if stdout.Len() == 0 {
		return nil, &DecodeError{URL: rawURL, Err: errors.New("ffmpeg produced no output")}
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(stdout.Bytes())); err != nil {
		return nil, &DecodeError{URL: rawURL, Err: fmt.Errorf("invalid ffmpeg output: %w", err)}
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
