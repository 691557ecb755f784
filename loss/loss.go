// Package loss implements weighted batch loss functions for forecasting models.
package loss

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrShape is returned when predictions, targets and weights disagree in shape.
var ErrShape = errors.New("loss: shape mismatch")

// Func computes a scalar loss over a batch together with its gradient with
// respect to the predictions. Weights may be nil, meaning all ones.
type Func interface {
	Loss(yhat, y, w [][]float64) (value float64, grad [][]float64, err error)
}

// New returns the loss function registered under name ("mse" or "mae").
func New(name string) (Func, error) {
	switch strings.ToLower(name) {
	case "", "mse":
		return MSE{}, nil
	case "mae", "l1":
		return MAE{}, nil
	}
	return nil, fmt.Errorf("loss: unknown function %q", name)
}

func check(yhat, y, w [][]float64) error {
	if len(yhat) != len(y) {
		return fmt.Errorf("%w: %d predictions, %d targets", ErrShape, len(yhat), len(y))
	}
	if w != nil && len(w) != len(y) {
		return fmt.Errorf("%w: %d weight rows, %d targets", ErrShape, len(w), len(y))
	}
	for i := range y {
		if len(yhat[i]) != len(y[i]) {
			return fmt.Errorf("%w: row %d has %d predictions, %d targets", ErrShape, i, len(yhat[i]), len(y[i]))
		}
		if w != nil && len(w[i]) != len(y[i]) {
			return fmt.Errorf("%w: row %d has %d weights, %d targets", ErrShape, i, len(w[i]), len(y[i]))
		}
	}
	return nil
}

func weight(w [][]float64, i, j int) float64 {
	if w == nil {
		return 1
	}
	return w[i][j]
}

// reduce computes sum(w*f(d))/sum(w) and its gradient sum(w*df(d))/sum(w).
func reduce(yhat, y, w [][]float64, f, df func(d float64) float64) (float64, [][]float64, error) {
	if err := check(yhat, y, w); err != nil {
		return 0, nil, err
	}
	var total, norm float64
	grad := make([][]float64, len(yhat))
	for i := range yhat {
		grad[i] = make([]float64, len(yhat[i]))
		for j := range yhat[i] {
			ww := weight(w, i, j)
			if ww < 0 {
				return 0, nil, fmt.Errorf("loss: negative weight %v at [%d][%d]", ww, i, j)
			}
			d := yhat[i][j] - y[i][j]
			total += ww * f(d)
			grad[i][j] = ww * df(d)
			norm += ww
		}
	}
	if norm == 0 {
		return 0, grad, nil
	}
	for i := range grad {
		for j := range grad[i] {
			grad[i][j] /= norm
		}
	}
	return total / norm, grad, nil
}

// MSE is the weighted mean squared error.
type MSE struct{}

func (MSE) Loss(yhat, y, w [][]float64) (float64, [][]float64, error) {
	return reduce(yhat, y, w,
		func(d float64) float64 { return d * d },
		func(d float64) float64 { return 2 * d })
}

// MAE is the weighted mean absolute error.
type MAE struct{}

func (MAE) Loss(yhat, y, w [][]float64) (float64, [][]float64, error) {
	return reduce(yhat, y, w, math.Abs, sign)
}

func sign(d float64) float64 {
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	}
	return 0
}
