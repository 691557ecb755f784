// Package param implements named trainable parameters and their state dictionaries.
package param

import (
	"errors"
	"fmt"
	"math"
)

// ErrMissing is returned when a state dictionary has no entry for a parameter.
var ErrMissing = errors.New("parameter missing from state")

// ErrShape is returned when a state entry has a different length than the parameter.
var ErrShape = errors.New("parameter shape mismatch")

// Parameter is one named, flat block of model weights together with its gradient.
type Parameter struct {
	Name         string
	Data         []float64
	Grad         []float64
	RequiresGrad bool
}

// New allocates a trainable parameter of n zeroed values.
func New(name string, n int) *Parameter {
	return &Parameter{
		Name:         name,
		Data:         make([]float64, n),
		Grad:         make([]float64, n),
		RequiresGrad: true,
	}
}

// Len returns the number of scalar values in the parameter.
func (p *Parameter) Len() int {
	return len(p.Data)
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Module is anything that owns parameters. Parameters must be returned in a
// stable order and their names must be unique.
type Module interface {
	Parameters() []*Parameter
}

// Trainable returns the parameters of m that require gradients.
func Trainable(m Module) (out []*Parameter) {
	for _, p := range m.Parameters() {
		if p.RequiresGrad {
			out = append(out, p)
		}
	}
	return
}

// ZeroGrad clears the gradients of every parameter of m.
func ZeroGrad(m Module) {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// Count returns the total number of scalar values held by m.
func Count(m Module) (n int) {
	for _, p := range m.Parameters() {
		n += p.Len()
	}
	return
}

// ClipGradNorm rescales the gradients of the trainable parameters so their
// joint L2 norm does not exceed maxNorm. It returns the norm before clipping.
// A non-positive maxNorm only measures.
func ClipGradNorm(params []*Parameter, maxNorm float64) float64 {
	var sum float64
	for _, p := range params {
		if !p.RequiresGrad {
			continue
		}
		for _, g := range p.Grad {
			sum += g * g
		}
	}
	norm := math.Sqrt(sum)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	coef := maxNorm / (norm + 1e-6)
	for _, p := range params {
		if !p.RequiresGrad {
			continue
		}
		for i := range p.Grad {
			p.Grad[i] *= coef
		}
	}
	return norm
}

func checkUnique(params []*Parameter) error {
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate parameter name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}
