// Package imaging converts raw astronomical frames into compressed,
// display-ready previews. Decoding, autostretch, resizing and encoding are
// pure transforms: the same pixel grid and constants always produce the
// same bytes.
package imaging

import (
	"time"

	"github.com/mawinkler/astrolive/errors"
)

// ImageArtifact is one decoded raw frame. Pixels holds the normalized
// linear intensity samples in row-major order on a 0..1 scale; for a
// Bayer-patterned frame this is still the undecoded mosaic.
type ImageArtifact struct {
	Width        int
	Height       int
	BitDepth     int
	BayerPattern string // "" for mono sensors
	Pixels       []float64
	Header       map[string]string
	SourceTime   time.Time
}

// intensityScale normalizes integer sensor samples to 0..1. Sensors with
// fewer than 16 bits still report through a 16-bit container.
const intensityScale = 1.0 / 65535.0

// FromDeviceGrid builds an artifact from a device-API pixel grid. The
// grid arrives column-major (grid[x][y]) and is transposed to row-major
// scanlines here.
func FromDeviceGrid(grid [][]int32, bayerPattern string, captured time.Time) (*ImageArtifact, error) {
	width := len(grid)
	if width == 0 || len(grid[0]) == 0 {
		return nil, errors.WrapInvalid(errors.ErrImageDecodeFailure, "imaging", "FromDeviceGrid", "empty grid")
	}
	height := len(grid[0])

	pixels := make([]float64, width*height)
	for x := 0; x < width; x++ {
		column := grid[x]
		if len(column) != height {
			return nil, errors.WrapInvalid(errors.ErrImageDecodeFailure, "imaging", "FromDeviceGrid", "ragged grid")
		}
		for y := 0; y < height; y++ {
			pixels[y*width+x] = clamp01(float64(column[y]) * intensityScale)
		}
	}

	return &ImageArtifact{
		Width:        width,
		Height:       height,
		BitDepth:     16,
		BayerPattern: bayerPattern,
		Pixels:       pixels,
		Header:       map[string]string{},
		SourceTime:   captured,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
