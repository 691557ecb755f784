// Package datasets turns a univariate time series into batches of
// lookback/horizon windows for the trainer.
package datasets

import (
	"errors"
	"fmt"
	"math"
)

// ErrTooShort is returned when a series cannot hold a single window.
var ErrTooShort = errors.New("series too short for one window")

// Batch is one minibatch: model inputs X, targets Y and per-target weights W.
// W may be nil, meaning every target weighs one.
type Batch struct {
	X [][]float64
	Y [][]float64
	W [][]float64
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	return len(b.X)
}

// Loader is an indexed sequence of batches.
type Loader interface {
	Len() int
	Batch(i int) Batch
}

// Split cuts values chronologically, keeping the last validFraction for
// validation. The validation part starts lookback values early so that its
// first window has a full history.
func Split(values []float64, validFraction float64, lookback int) (train, valid []float64, err error) {
	if validFraction <= 0 || validFraction >= 1 {
		return nil, nil, fmt.Errorf("valid fraction must be in (0, 1), got %v", validFraction)
	}
	cut := len(values) - int(math.Round(float64(len(values))*validFraction))
	if cut < lookback || cut >= len(values) {
		return nil, nil, fmt.Errorf("%w: cannot split %d values at %v", ErrTooShort, len(values), validFraction)
	}
	return values[:cut], values[cut-lookback:], nil
}

// Standardize returns (values-mean)/std together with mean and std. A
// constant series is only centered.
func Standardize(values []float64) (scaled []float64, mean, std float64) {
	if len(values) == 0 {
		return nil, 0, 1
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	if std == 0 {
		std = 1
	}
	scaled = make([]float64, len(values))
	for i, v := range values {
		scaled[i] = (v - mean) / std
	}
	return scaled, mean, std
}
