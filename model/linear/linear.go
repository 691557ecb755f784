// Package linear implements an autoregressive linear forecaster: the next
// Horizon values are an affine function of the previous Lookback values.
package linear

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/neurlang/deepseries/param"
)

// Linear maps a lookback window to a horizon forecast with y = W x + b.
type Linear struct {
	Lookback int
	Horizon  int

	weight *param.Parameter // Horizon x Lookback, row major
	bias   *param.Parameter

	training bool
	input    [][]float64
}

// New returns a Linear model initialized uniformly in ±1/sqrt(lookback).
func New(lookback, horizon int, seed int64) (*Linear, error) {
	if lookback <= 0 || horizon <= 0 {
		return nil, fmt.Errorf("linear: lookback and horizon must be > 0, got %d and %d", lookback, horizon)
	}
	l := &Linear{
		Lookback: lookback,
		Horizon:  horizon,
		weight:   param.New("weight", horizon*lookback),
		bias:     param.New("bias", horizon),
		training: true,
	}
	bound := 1 / math.Sqrt(float64(lookback))
	rnd := rand.New(rand.NewSource(seed))
	for i := range l.weight.Data {
		l.weight.Data[i] = (2*rnd.Float64() - 1) * bound
	}
	for i := range l.bias.Data {
		l.bias.Data[i] = (2*rnd.Float64() - 1) * bound
	}
	return l, nil
}

func (l *Linear) Parameters() []*param.Parameter {
	return []*param.Parameter{l.weight, l.bias}
}

// Train switches between training and evaluation mode. Only training mode
// keeps the inputs needed by Backward.
func (l *Linear) Train(on bool) {
	l.training = on
	if !on {
		l.input = nil
	}
}

func (l *Linear) Forward(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for b, row := range x {
		if len(row) != l.Lookback {
			return nil, fmt.Errorf("linear: row %d has %d inputs, want %d", b, len(row), l.Lookback)
		}
		out[b] = make([]float64, l.Horizon)
		for o := 0; o < l.Horizon; o++ {
			w := l.weight.Data[o*l.Lookback : (o+1)*l.Lookback]
			s := l.bias.Data[o]
			for i, v := range row {
				s += w[i] * v
			}
			out[b][o] = s
		}
	}
	if l.training {
		l.input = x
	}
	return out, nil
}

// Backward accumulates the parameter gradients for the last Forward call
// given the gradient of the loss with respect to its output.
func (l *Linear) Backward(dy [][]float64) error {
	if l.input == nil {
		return fmt.Errorf("linear: backward without a training forward pass")
	}
	if len(dy) != len(l.input) {
		return fmt.Errorf("linear: %d output gradients for %d inputs", len(dy), len(l.input))
	}
	for b, g := range dy {
		if len(g) != l.Horizon {
			return fmt.Errorf("linear: row %d has %d output gradients, want %d", b, len(g), l.Horizon)
		}
		x := l.input[b]
		for o, d := range g {
			l.bias.Grad[o] += d
			wg := l.weight.Grad[o*l.Lookback : (o+1)*l.Lookback]
			for i, v := range x {
				wg[i] += d * v
			}
		}
	}
	l.input = nil
	return nil
}
