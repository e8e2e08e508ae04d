package imaging

import "sort"

// Screen-transfer-function constants. The shadow clipping point sits
// shadowsClip normalized MAD units below the median; the midtones balance
// is chosen so the rescaled median lands on targetBackground.
const (
	shadowsClip      = -2.8
	targetBackground = 0.25

	// madScale converts a median absolute deviation to a consistency
	// estimate of the standard deviation for a normal distribution
	madScale = 1.4826
)

// Stretch applies a deterministic screen-transfer-function autostretch to
// normalized linear samples, in place, and returns the same slice. A flat
// frame (zero deviation) is returned unchanged: there is no signal to lift
// and the transfer function would degenerate.
func Stretch(pixels []float64) []float64 {
	if len(pixels) == 0 {
		return pixels
	}

	med := median(pixels)
	madn := madScale * deviationMedian(pixels, med)
	if madn == 0 {
		return pixels
	}

	shadow := clamp01(med + shadowsClip*madn)
	scale := 1 - shadow
	if scale <= 0 {
		return pixels
	}

	// Midtones balance that maps the rescaled median exactly onto the
	// target background: the transfer function is an involution in its
	// sample argument, so evaluating it at the median with the target as
	// balance yields the balance that sends the median to the target.
	medRescaled := clamp01((med - shadow) / scale)
	m := mtf(targetBackground, medRescaled)
	if m <= 0 || m >= 1 {
		// Median sits on a range boundary; the curve degenerates, so
		// only the shadow rescale applies.
		for i, v := range pixels {
			pixels[i] = clamp01((v - shadow) / scale)
		}
		return pixels
	}

	for i, v := range pixels {
		pixels[i] = mtf(m, clamp01((v-shadow)/scale))
	}
	return pixels
}

// mtf is the midtones transfer function with balance m, monotonic
// non-decreasing on [0,1] for m in (0,1)
func mtf(m, x float64) float64 {
	switch {
	case x <= 0:
		return 0
	case x >= 1:
		return 1
	default:
		return ((m - 1) * x) / ((2*m-1)*x - m)
	}
}

func median(samples []float64) float64 {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// deviationMedian computes the median absolute deviation around center
func deviationMedian(samples []float64, center float64) float64 {
	deviations := make([]float64, len(samples))
	for i, v := range samples {
		d := v - center
		if d < 0 {
			d = -d
		}
		deviations[i] = d
	}
	sort.Float64s(deviations)
	mid := len(deviations) / 2
	if len(deviations)%2 == 0 {
		return (deviations[mid-1] + deviations[mid]) / 2
	}
	return deviations[mid]
}
