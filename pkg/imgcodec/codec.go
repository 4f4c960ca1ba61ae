// Package imgcodec validates, resizes and re-encodes uploaded photos down to
// a bounded byte budget before they are staged for the upload queue.
package imgcodec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	_ "image/gif"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ErrInvalidImage marks input the uploader must fix: undecodable bytes, a
// format outside the allowed set, or an absurd pixel count. Always wrapped
// with a descriptive reason.
var ErrInvalidImage = errors.New("invalid image")

const (
	defaultMaxWidth  = 1920
	defaultMaxHeight = 1440
	defaultMaxBytes  = 1024 * 1024
	defaultQuality   = 85

	qualityFloor = 20
	qualityStep  = 10

	// Dimension floor for the last-resort shrink loop.
	floorWidth  = 800
	floorHeight = 600

	maxPixels = 50_000_000
)

var allowedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
}

// Options bound the codec output. Zero fields fall back to the defaults
// (1920x1440, 1 MiB, quality 85).
type Options struct {
	MaxWidth     int
	MaxHeight    int
	MaxSizeBytes int
	Quality      int
}

func (o Options) withDefaults() Options {
	if o.MaxWidth <= 0 {
		o.MaxWidth = defaultMaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = defaultMaxHeight
	}
	if o.MaxSizeBytes <= 0 {
		o.MaxSizeBytes = defaultMaxBytes
	}
	if o.Quality <= 0 {
		o.Quality = defaultQuality
	}
	return o
}

// Result is the re-encoded image plus compression metadata reported back to
// the uploader.
type Result struct {
	Data           []byte
	Width          int
	Height         int
	Format         string
	OriginalSize   int
	CompressedSize int
	// BudgetMet is false when the quality and dimension floors were reached
	// with the output still over budget; the result is kept as best effort.
	BudgetMet bool
}

// Validate decodes the image header and rejects unsupported or oversized
// input without a full pixel decode.
func Validate(input []byte) (format string, width, height int, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if !allowedFormats[format] {
		return "", 0, 0, fmt.Errorf("%w: unsupported format %q", ErrInvalidImage, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", 0, 0, fmt.Errorf("%w: unreadable dimensions", ErrInvalidImage)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return "", 0, 0, fmt.Errorf("%w: too many pixels (max 50MP)", ErrInvalidImage)
	}
	return format, cfg.Width, cfg.Height, nil
}

// Compress validates input, auto-orients it, scales it down (never up) to
// fit the dimension bounds and re-encodes it as JPEG, stepping quality down
// and finally shrinking dimensions until the byte budget holds or the
// floors are reached.
func Compress(input []byte, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	format, _, _, err := Validate(input)
	if err != nil {
		return nil, err
	}

	// AutoOrientation applies the EXIF rotation before any resize, so the
	// bounds below are already display-oriented.
	src, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	img := src
	b := src.Bounds()
	if b.Dx() > opts.MaxWidth || b.Dy() > opts.MaxHeight {
		img = imaging.Fit(src, opts.MaxWidth, opts.MaxHeight, imaging.Lanczos)
	}

	quality := opts.Quality
	data, err := encodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}
	for len(data) > opts.MaxSizeBytes && quality > qualityFloor {
		quality -= qualityStep
		if data, err = encodeJPEG(img, quality); err != nil {
			return nil, err
		}
	}

	// Still over budget at floor quality: shrink 20% at a time down to the
	// dimension floor, resampling from the oriented original each round.
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for len(data) > opts.MaxSizeBytes && w > floorWidth && h > floorHeight {
		w = int(math.Round(float64(w) * 0.8))
		h = int(math.Round(float64(h) * 0.8))
		img = imaging.Fit(src, w, h, imaging.Lanczos)
		if data, err = encodeJPEG(img, quality); err != nil {
			return nil, err
		}
	}

	out := img.Bounds()
	return &Result{
		Data:           data,
		Width:          out.Dx(),
		Height:         out.Dy(),
		Format:         format,
		OriginalSize:   len(input),
		CompressedSize: len(data),
		BudgetMet:      len(data) <= opts.MaxSizeBytes,
	}, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
