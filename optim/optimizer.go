// Package optim implements gradient-descent optimizers and learning-rate schedulers
// over param.Parameter lists.
package optim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/neurlang/deepseries/param"
)

// ErrState is returned when a saved state does not fit the optimizer it is loaded into.
var ErrState = errors.New("optim: incompatible state")

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	// ZeroGrad clears every parameter gradient.
	ZeroGrad()

	// Step applies one update to all trainable parameters.
	Step()

	// LR returns the current learning rate.
	LR() float64

	// SetLR changes the learning rate; schedulers use it between epochs.
	SetLR(lr float64)

	// State returns a deep copy of the optimizer state for checkpointing.
	State() State

	// LoadState restores a state previously returned by State.
	LoadState(s State) error
}

// State is the serializable optimizer state.
type State struct {
	Kind    string               `json:"kind"`
	LR      float64              `json:"lr"`
	Steps   int                  `json:"steps"`
	Buffers map[string][]float64 `json:"buffers,omitempty"`
}

// Config holds the hyperparameters shared by the optimizers. Fields that do
// not apply to the chosen optimizer are ignored.
type Config struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
}

// New returns the optimizer registered under name ("sgd" or "adam").
func New(name string, params []*param.Parameter, cfg Config) (Optimizer, error) {
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("optim: learning rate must be > 0, got %v", cfg.LR)
	}
	switch strings.ToLower(name) {
	case "sgd":
		return NewSGD(params, cfg), nil
	case "", "adam":
		return NewAdam(params, cfg), nil
	}
	return nil, fmt.Errorf("optim: unknown optimizer %q", name)
}

func cloneBuffers(in map[string][]float64) map[string][]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string][]float64, len(in))
	for k, v := range in {
		out[k] = append([]float64(nil), v...)
	}
	return out
}

// loadBuffers copies saved buffers into the live ones, checking that both
// sides hold the same keys and lengths.
func loadBuffers(live, saved map[string][]float64) error {
	if len(live) != len(saved) {
		return fmt.Errorf("%w: %d buffers, state has %d", ErrState, len(live), len(saved))
	}
	for k, v := range live {
		s, ok := saved[k]
		if !ok {
			return fmt.Errorf("%w: missing buffer %s", ErrState, k)
		}
		if len(s) != len(v) {
			return fmt.Errorf("%w: buffer %s has %d values, state has %d", ErrState, k, len(v), len(s))
		}
	}
	for k, v := range live {
		copy(v, saved[k])
	}
	return nil
}

func zeroGrad(params []*param.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
