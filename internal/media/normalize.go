package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"scrapbook/internal/database"
	"scrapbook/internal/logging"
)

// MaxSourcePixels is the largest source image (width * height) we decode.
// A 100MP image needs ~400MB as RGBA.
const MaxSourcePixels = 100_000_000

// Preset is the size bound and JPEG quality for one quality level.
type Preset struct {
	MaxDimension int
	JPEGQuality  int
}

// Presets maps each quality level to its bound.
var Presets = map[database.QualityLevel]Preset{
	database.QualityThumbnail: {MaxDimension: 150, JPEGQuality: 60},
	database.QualityLow:       {MaxDimension: 400, JPEGQuality: 70},
	database.QualityMedium:    {MaxDimension: 800, JPEGQuality: 80},
}

// PresetFor returns the preset for a quality level.
func PresetFor(quality database.QualityLevel) (Preset, error) {
	p, ok := Presets[quality]
	if !ok {
		return Preset{}, fmt.Errorf("unknown quality level %q", quality)
	}
	return p, nil
}

// Result is a normalized, encoded image.
type Result struct {
	Data   []byte
	Width  int
	Height int
}

// Normalize decodes data, flattens any transparency onto white, shrinks it
// to fit the preset's bound while preserving aspect ratio, and encodes it in
// the format named by ext. Images already within the bound are not enlarged.
func Normalize(data []byte, quality database.QualityLevel, ext string) (*Result, error) {
	preset, err := PresetFor(quality)
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > MaxSourcePixels {
		return nil, fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height)
	}

	if IsVipsAvailable() {
		res, err := normalizeWithVips(data, preset, ext)
		if err == nil {
			return res, nil
		}
		logging.Debug("vips normalize failed, falling back to imaging: %v", err)
	}
	return normalizeWithImaging(data, preset, ext)
}

func normalizeWithImaging(data []byte, preset Preset, ext string) (*Result, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	flat := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), img, image.Pt(0, 0), 1.0)

	var out image.Image = flat
	if b.Dx() > preset.MaxDimension || b.Dy() > preset.MaxDimension {
		out = imaging.Fit(flat, preset.MaxDimension, preset.MaxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch ext {
	case ExtPNG:
		err = imaging.Encode(&buf, out, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		err = imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(preset.JPEGQuality))
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	return &Result{
		Data:   buf.Bytes(),
		Width:  out.Bounds().Dx(),
		Height: out.Bounds().Dy(),
	}, nil
}
