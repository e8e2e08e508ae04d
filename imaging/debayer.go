package imaging

import (
	"fmt"
	"strings"

	"github.com/mawinkler/astrolive/errors"
)

// bayerOffsets gives the (x,y) position of the red, two green and blue
// samples inside one 2x2 mosaic cell for each supported pattern
var bayerOffsets = map[string][4][2]int{
	"RGGB": {{0, 0}, {1, 0}, {0, 1}, {1, 1}},
	"BGGR": {{1, 1}, {1, 0}, {0, 1}, {0, 0}},
	"GBRG": {{0, 1}, {0, 0}, {1, 1}, {1, 0}},
	"GRBG": {{1, 0}, {0, 0}, {1, 1}, {0, 1}},
}

// debayer decodes a mosaic into interleaved RGB samples using superpixel
// binning: each 2x2 cell collapses into one color pixel at half resolution,
// averaging the two green samples. Odd trailing rows and columns are
// dropped.
func debayer(pixels []float64, width, height int, pattern string) ([]float64, int, int, error) {
	offsets, ok := bayerOffsets[strings.ToUpper(strings.TrimSpace(pattern))]
	if !ok {
		return nil, 0, 0, errors.WrapInvalid(
			fmt.Errorf("%w: unsupported bayer pattern %q", errors.ErrImageDecodeFailure, pattern),
			"imaging", "debayer", "decoding mosaic")
	}

	outWidth := width / 2
	outHeight := height / 2
	if outWidth == 0 || outHeight == 0 {
		return nil, 0, 0, errors.WrapInvalid(
			fmt.Errorf("%w: frame too small to debayer", errors.ErrImageDecodeFailure),
			"imaging", "debayer", "decoding mosaic")
	}

	red, green1, green2, blue := offsets[0], offsets[1], offsets[2], offsets[3]
	out := make([]float64, outWidth*outHeight*3)
	for cy := 0; cy < outHeight; cy++ {
		for cx := 0; cx < outWidth; cx++ {
			baseX, baseY := cx*2, cy*2
			sample := func(off [2]int) float64 {
				return pixels[(baseY+off[1])*width+baseX+off[0]]
			}
			o := (cy*outWidth + cx) * 3
			out[o] = sample(red)
			out[o+1] = (sample(green1) + sample(green2)) / 2
			out[o+2] = sample(blue)
		}
	}
	return out, outWidth, outHeight, nil
}
