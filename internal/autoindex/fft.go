package autoindex

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// histogram bins projections of q-vectors onto a trial direction into n
// equally spaced bins covering [-pmax, pmax].
func histogram(projections []float64, pmax float64, n int) []float64 {
	bins := make([]float64, n)
	dp := 2 * pmax / float64(n)
	for _, p := range projections {
		idx := int((p + pmax) / dp)
		if idx < 0 || idx >= n {
			continue
		}
		bins[idx]++
	}
	return bins
}

// dominantPeriod runs a real FFT over the histogram and returns the
// spatial period (in the same units as the projections, i.e. inverse
// angstrom -> angstrom) implied by the lowest surviving non-zero
// frequency, where "surviving" means its amplitude clears
// freqTolerance*amplitude(0) (the DC term). The first such frequency
// whose implied period also falls within [minLength, maxLength] is
// returned along with its magnitude; none found yields a zero period.
func dominantPeriod(bins []float64, pmax float64, minLength, maxLength, freqTolerance float64) (period, score float64) {
	n := len(bins)
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, bins)

	amplitudeZero := math.Hypot(real(coeffs[0]), imag(coeffs[0]))
	threshold := freqTolerance * amplitudeZero

	dp := 2 * pmax / float64(n)
	for k := 1; k < len(coeffs); k++ {
		mag := math.Hypot(real(coeffs[k]), imag(coeffs[k]))
		if mag < threshold {
			continue
		}
		length := float64(k) / (float64(n) * dp)
		if length < minLength || length > maxLength {
			continue
		}
		return length, mag
	}
	return 0, 0
}
