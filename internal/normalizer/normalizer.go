// Package normalizer turns a user-selected photo into a bounded, re-encoded,
// base64 payload suitable for the inference gateway.
package normalizer

import (
	"bytes"
	"encoding/base64"
	"image"
	"math"
	"strings"

	// Decoders beyond the jpeg/png/gif set registered by imaging.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/anime-shed/photo-locator-go/internal/errors"
	"github.com/anime-shed/photo-locator-go/internal/logger"
	"github.com/anime-shed/photo-locator-go/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

// Normalizer applies one configured resize/encode policy.
// It holds no per-call state and is safe for concurrent use.
type Normalizer struct {
	opts   Options
	filter imaging.ResampleFilter
}

// New validates opts and returns a Normalizer.
func New(opts Options) (*Normalizer, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	filter, err := resampleFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	return &Normalizer{opts: opts, filter: filter}, nil
}

// Options returns the effective options after defaults were applied.
func (n *Normalizer) Options() Options {
	return n.opts
}

// Normalize is a convenience wrapper around New(opts).Normalize(asset).
func Normalize(asset models.ImageAsset, opts Options) (*models.NormalizedPayload, error) {
	n, err := New(opts)
	if err != nil {
		return nil, err
	}
	return n.Normalize(asset)
}

// Normalize decodes asset, scales it to fit within the configured bounds
// without upscaling or distorting the aspect ratio, and re-encodes it.
func (n *Normalizer) Normalize(asset models.ImageAsset) (*models.NormalizedPayload, error) {
	size := int64(len(asset.Data))
	if size == 0 {
		return nil, apperrors.NewDecodeError("empty image data", nil)
	}
	if size > n.opts.MaxInputBytes {
		return nil, apperrors.NewPayloadTooLargeError(size, n.opts.MaxInputBytes)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(asset.Data))
	if err != nil {
		return nil, apperrors.NewDecodeError("failed to decode image", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > n.opts.MaxPixels {
		return nil, apperrors.NewPixelLimitError(cfg.Width, cfg.Height, n.opts.MaxPixels)
	}

	src, err := imaging.Decode(bytes.NewReader(asset.Data))
	if err != nil {
		return nil, apperrors.NewDecodeError("failed to decode image", err)
	}

	orientation := readOrientation(asset.Data)
	src = applyOrientation(src, orientation)

	bounds := src.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	if origW == 0 || origH == 0 {
		return nil, apperrors.NewDecodeError("image has no pixels", nil)
	}

	width, height := TargetDimensions(origW, origH, n.opts.MaxWidth, n.opts.MaxHeight)

	var out image.Image = src
	if width != origW || height != origH {
		out = imaging.Resize(src, width, height, n.filter)
	}

	mimeType := OutputMIMEType(asset)

	var buf bytes.Buffer
	if mimeType == MIMEPNG {
		err = imaging.Encode(&buf, out, imaging.PNG)
	} else {
		err = imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(n.opts.JPEGQuality))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode image", err)
	}

	logger.WithFields(logrus.Fields{
		"filename":      asset.Filename,
		"input_bytes":   size,
		"output_bytes":  buf.Len(),
		"original_size": [2]int{origW, origH},
		"resized_size":  [2]int{width, height},
		"orientation":   orientation,
		"output_mime":   mimeType,
		"resample":      n.opts.Filter,
		"jpeg_quality":  n.opts.JPEGQuality,
	}).Debug("Image normalized")

	return &models.NormalizedPayload{
		EncodedData: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MIMEType:    mimeType,
		Width:       width,
		Height:      height,
	}, nil
}

// TargetDimensions computes the fitted size. Images already within bounds
// keep their size; larger ones are scaled by min(maxW/w, maxH/h) and rounded.
func TargetDimensions(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}
	scale := math.Min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	w := clamp(int(math.Round(float64(width)*scale)), 1, maxWidth)
	h := clamp(int(math.Round(float64(height)*scale)), 1, maxHeight)
	return w, h
}

// OutputMIMEType picks the encoding: PNG stays PNG, everything else is JPEG.
// An undeclared type is sniffed from the bytes.
func OutputMIMEType(asset models.ImageAsset) string {
	declared := strings.ToLower(asset.MIMEType)
	if declared == "" {
		declared = mimetype.Detect(asset.Data).String()
	}
	if strings.Contains(declared, "png") {
		return MIMEPNG
	}
	return MIMEJPEG
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
