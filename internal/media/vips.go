package media

import (
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"scrapbook/internal/logging"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// vipsLogSettings maps the application log level to the lowest vips level
// worth forwarding.
func vipsLogSettings(level logging.LogLevel) vips.LogLevel {
	switch level {
	case logging.LevelDebug:
		return vips.LogLevelInfo
	case logging.LevelWarn:
		return vips.LogLevelError
	case logging.LevelError:
		return vips.LogLevelCritical
	default:
		return vips.LogLevelWarning
	}
}

func forwardVipsLog(domain string, level vips.LogLevel, msg string) {
	switch level {
	case vips.LogLevelError, vips.LogLevelCritical:
		logging.Error("[%s] %s", domain, msg)
	case vips.LogLevelWarning:
		logging.Warn("[%s] %s", domain, msg)
	default:
		logging.Debug("[%s] %s", domain, msg)
	}
}

// InitVips starts libvips. Call once at startup; later calls are no-ops.
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	// Logging must be configured before Startup
	vips.LoggingSettings(forwardVipsLog, vipsLogSettings(logging.GetLevel()))

	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// ShutdownVips releases libvips. It cannot be restarted in the same process.
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

func normalizeWithVips(data []byte, preset Preset, ext string) (*Result, error) {
	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, fmt.Errorf("vips autorotate failed: %w", err)
	}

	if ref.HasAlpha() {
		if err := ref.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
			return nil, fmt.Errorf("vips flatten failed: %w", err)
		}
	}

	if ref.Width() > preset.MaxDimension || ref.Height() > preset.MaxDimension {
		if err := ref.Thumbnail(preset.MaxDimension, preset.MaxDimension, vips.InterestingNone); err != nil {
			return nil, fmt.Errorf("vips resize failed: %w", err)
		}
	}

	var out []byte
	switch ext {
	case ExtPNG:
		params := vips.NewPngExportParams()
		params.StripMetadata = true
		out, _, err = ref.ExportPng(params)
	default:
		out, _, err = ref.ExportJpeg(&vips.JpegExportParams{
			Quality:        preset.JPEGQuality,
			StripMetadata:  true,
			OptimizeCoding: true,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("vips export failed: %w", err)
	}

	return &Result{Data: out, Width: ref.Width(), Height: ref.Height()}, nil
}
