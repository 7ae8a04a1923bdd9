// Package media normalizes image payloads to the model endpoint's size rules.
package media

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
)

// Endpoint limits: longest side and encoded byte size.
const (
	MaxLongestSide = 2000
	MaxBytes       = 5 * 1024 * 1024
)

// Progressive reduction grid. Each size is tried at each quality before
// falling through to the next smaller size.
var (
	gridSizes     = []int{2000, 1600, 1280, 1024, 800, 640}
	gridQualities = []int{85, 75, 65, 50, 40}
)

// Normalized is the outcome of image normalization.
type Normalized struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
	// Note is non-empty when the grid could not reach the limits and the
	// smallest attempt was returned instead.
	Note string
}

// Normalize rescales and re-encodes an image until it satisfies
// (longest side ≤ MaxLongestSide) AND (bytes ≤ MaxBytes).
//
// Inputs already within both limits are returned unchanged. Otherwise the
// image is decoded with EXIF auto-orientation and walked down a grid of
// sizes × JPEG qualities; if no attempt fits, the smallest attempt is
// returned with a warning note. The output is never larger than the input.
func Normalize(data []byte, mimeType string) (*Normalized, error) {
	if len(data) <= MaxBytes {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			if cfg.Width <= MaxLongestSide && cfg.Height <= MaxLongestSide {
				return &Normalized{Data: data, MimeType: mimeType, Width: cfg.Width, Height: cfg.Height}, nil
			}
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var smallest []byte
	var smallestW, smallestH int

	for _, size := range gridSizes {
		scaled := fitWithin(img, size)
		bounds := scaled.Bounds()

		for _, quality := range gridQualities {
			var buf bytes.Buffer
			if err := imaging.Encode(&buf, scaled, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
				continue
			}
			encoded := buf.Bytes()
			if len(encoded) <= MaxBytes && len(encoded) <= len(data) {
				return &Normalized{
					Data:     encoded,
					MimeType: "image/jpeg",
					Width:    bounds.Dx(),
					Height:   bounds.Dy(),
				}, nil
			}
			if smallest == nil || len(encoded) < len(smallest) {
				smallest = encoded
				smallestW = bounds.Dx()
				smallestH = bounds.Dy()
			}
		}
	}

	if smallest == nil {
		return nil, fmt.Errorf("image could not be re-encoded")
	}

	note := fmt.Sprintf("image reduction could not reach %d bytes; smallest attempt is %d bytes", MaxBytes, len(smallest))
	slog.Warn("image normalization fell back to smallest attempt",
		"input_bytes", len(data), "output_bytes", len(smallest))

	if len(smallest) > len(data) {
		// Never hand back more bytes than came in.
		return &Normalized{Data: data, MimeType: mimeType, Note: note}, nil
	}
	return &Normalized{Data: smallest, MimeType: "image/jpeg", Width: smallestW, Height: smallestH, Note: note}, nil
}

// fitWithin scales the image down so its longest side is at most limit.
// Images already within the limit are returned untouched.
func fitWithin(img image.Image, limit int) image.Image {
	b := img.Bounds()
	if b.Dx() <= limit && b.Dy() <= limit {
		return img
	}
	if b.Dx() >= b.Dy() {
		return imaging.Resize(img, limit, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, limit, imaging.Lanczos)
}
