package optim

import (
	"fmt"

	"github.com/neurlang/deepseries/parallel"
	"github.com/neurlang/deepseries/param"
)

// SGD is stochastic gradient descent with optional momentum and L2 weight decay.
type SGD struct {
	params      []*param.Parameter
	lr          float64
	momentum    float64
	weightDecay float64
	steps       int
	velocity    map[string][]float64
	size        int
}

// NewSGD creates an SGD optimizer over params.
func NewSGD(params []*param.Parameter, cfg Config) *SGD {
	o := &SGD{
		params:      params,
		lr:          cfg.LR,
		momentum:    cfg.Momentum,
		weightDecay: cfg.WeightDecay,
		velocity:    make(map[string][]float64),
	}
	for _, p := range params {
		if !p.RequiresGrad {
			continue
		}
		o.size += p.Len()
		if o.momentum != 0 {
			o.velocity[p.Name] = make([]float64, p.Len())
		}
	}
	return o
}

func (o *SGD) ZeroGrad()        { zeroGrad(o.params) }
func (o *SGD) LR() float64      { return o.lr }
func (o *SGD) SetLR(lr float64) { o.lr = lr }

func (o *SGD) Step() {
	o.steps++
	parallel.ForEach(len(o.params), parallel.WorkersFor(o.size), func(n int) {
		p := o.params[n]
		if !p.RequiresGrad {
			return
		}
		v := o.velocity[p.Name]
		for i, g := range p.Grad {
			if o.weightDecay != 0 {
				g += o.weightDecay * p.Data[i]
			}
			if v != nil {
				if o.steps == 1 {
					v[i] = g
				} else {
					v[i] = o.momentum*v[i] + g
				}
				g = v[i]
			}
			p.Data[i] -= o.lr * g
		}
	})
}

func (o *SGD) State() State {
	return State{Kind: "sgd", LR: o.lr, Steps: o.steps, Buffers: cloneBuffers(o.velocity)}
}

func (o *SGD) LoadState(s State) error {
	if s.Kind != "sgd" {
		return fmt.Errorf("%w: sgd cannot load %q state", ErrState, s.Kind)
	}
	if err := loadBuffers(o.velocity, s.Buffers); err != nil {
		return err
	}
	o.lr, o.steps = s.LR, s.Steps
	return nil
}
