package datasets

import (
	"fmt"
	"math/rand"
)

// Windows is a Loader over sliding windows of a single series. Sample s uses
// series[s:s+Lookback] as input and the following Horizon values as target.
type Windows struct {
	Lookback  int
	Horizon   int
	BatchSize int

	series  []float64
	weights []float64
	order   []int
}

// NewWindows creates a Loader over every window of series.
func NewWindows(series []float64, lookback, horizon, batchSize int) (*Windows, error) {
	if lookback <= 0 || horizon <= 0 || batchSize <= 0 {
		return nil, fmt.Errorf("lookback, horizon and batch size must be > 0, got %d, %d, %d", lookback, horizon, batchSize)
	}
	n := len(series) - lookback - horizon + 1
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d values, window needs %d", ErrTooShort, len(series), lookback+horizon)
	}
	w := &Windows{
		Lookback:  lookback,
		Horizon:   horizon,
		BatchSize: batchSize,
		series:    series,
		order:     make([]int, n),
	}
	for i := range w.order {
		w.order[i] = i
	}
	return w, nil
}

// SetWeights attaches one weight per series value; each target takes the
// weight of the value it predicts. Passing nil removes the weights.
func (w *Windows) SetWeights(weights []float64) error {
	if weights != nil && len(weights) != len(w.series) {
		return fmt.Errorf("%d weights for %d values", len(weights), len(w.series))
	}
	w.weights = weights
	return nil
}

// Shuffle permutes the sample order deterministically from seed.
func (w *Windows) Shuffle(seed int64) {
	rnd := rand.New(rand.NewSource(seed))
	rnd.Shuffle(len(w.order), func(i, j int) { w.order[i], w.order[j] = w.order[j], w.order[i] })
}

// Samples returns the number of windows.
func (w *Windows) Samples() int {
	return len(w.order)
}

func (w *Windows) Len() int {
	return (len(w.order) + w.BatchSize - 1) / w.BatchSize
}

// Last returns the final lookback window of the series, the input for a
// forecast past its end.
func (w *Windows) Last() []float64 {
	return append([]float64(nil), w.series[len(w.series)-w.Lookback:]...)
}

func (w *Windows) Batch(i int) Batch {
	lo := i * w.BatchSize
	hi := lo + w.BatchSize
	if hi > len(w.order) {
		hi = len(w.order)
	}
	var b Batch
	for _, s := range w.order[lo:hi] {
		t := s + w.Lookback
		b.X = append(b.X, w.series[s:t])
		b.Y = append(b.Y, w.series[t:t+w.Horizon])
		if w.weights != nil {
			b.W = append(b.W, w.weights[t:t+w.Horizon])
		}
	}
	return b
}
