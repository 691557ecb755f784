// Package sine generates a synthetic noisy sine series for demos and tests.
package sine

import "math"
import "math/rand"

// Generate returns n samples of sin(2πt/period) with a slow linear trend and
// Gaussian noise of the given standard deviation.
func Generate(n int, period, noise float64, seed int64) []float64 {
	if period <= 0 {
		period = 24
	}
	rnd := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for t := range out {
		out[t] = math.Sin(2*math.Pi*float64(t)/period) + 0.001*float64(t) + noise*rnd.NormFloat64()
	}
	return out
}
