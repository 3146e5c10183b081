package normalizer

import (
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	DefaultMaxWidth      = 2000
	DefaultMaxHeight     = 2000
	DefaultJPEGQuality   = 95
	DefaultMaxInputBytes = 20 * 1024 * 1024
	DefaultMaxPixels     = 50_000_000
	DefaultFilter        = "lanczos"
)

// Options bounds the normalized image. Zero values fall back to the defaults.
type Options struct {
	MaxWidth      int
	MaxHeight     int
	JPEGQuality   int
	MaxInputBytes int64
	// MaxPixels caps width*height as declared by the image header, checked
	// before any pixel buffer is allocated.
	MaxPixels int64
	// Filter names the resampling kernel: lanczos, catmullrom (bicubic) or
	// linear (bilinear). Nearest-neighbour is not accepted.
	Filter string
}

// DefaultOptions mirrors the browser canvas policy: fit within 2000x2000 and
// re-encode JPEG at 0.95.
func DefaultOptions() Options {
	return Options{
		MaxWidth:      DefaultMaxWidth,
		MaxHeight:     DefaultMaxHeight,
		JPEGQuality:   DefaultJPEGQuality,
		MaxInputBytes: DefaultMaxInputBytes,
		MaxPixels:     DefaultMaxPixels,
		Filter:        DefaultFilter,
	}
}

// WithBounds returns options with different dimension bounds
func (o Options) WithBounds(maxWidth, maxHeight int) Options {
	o.MaxWidth = maxWidth
	o.MaxHeight = maxHeight
	return o
}

// WithQuality returns options with a different JPEG quality
func (o Options) WithQuality(quality int) Options {
	o.JPEGQuality = quality
	return o
}

// WithMaxPixels returns options with a different pixel cap
func (o Options) WithMaxPixels(maxPixels int64) Options {
	o.MaxPixels = maxPixels
	return o
}

// WithFilter returns options with a different resampling filter
func (o Options) WithFilter(name string) Options {
	o.Filter = name
	return o
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxWidth <= 0 {
		o.MaxWidth = d.MaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = d.MaxHeight
	}
	if o.JPEGQuality <= 0 {
		o.JPEGQuality = d.JPEGQuality
	}
	if o.MaxInputBytes <= 0 {
		o.MaxInputBytes = d.MaxInputBytes
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = d.MaxPixels
	}
	if o.Filter == "" {
		o.Filter = d.Filter
	}
	return o
}

// Validate reports option values the normalizer cannot honour.
func (o Options) Validate() error {
	o = o.withDefaults()
	if o.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be within 1..100, got %d", o.JPEGQuality)
	}
	if _, err := resampleFilter(o.Filter); err != nil {
		return err
	}
	return nil
}

func resampleFilter(name string) (imaging.ResampleFilter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "lanczos":
		return imaging.Lanczos, nil
	case "catmullrom", "bicubic":
		return imaging.CatmullRom, nil
	case "linear", "bilinear":
		return imaging.Linear, nil
	default:
		return imaging.ResampleFilter{}, fmt.Errorf("unsupported resample filter %q", name)
	}
}
