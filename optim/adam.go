package optim

import (
	"fmt"
	"math"

	"github.com/neurlang/deepseries/parallel"
	"github.com/neurlang/deepseries/param"
)

// Adam is the adaptive moment estimation optimizer with bias correction.
type Adam struct {
	params      []*param.Parameter
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	steps       int
	// moments holds "m/<name>" and "v/<name>" buffers.
	moments map[string][]float64
	size    int
}

// NewAdam creates an Adam optimizer over params. Zero betas and epsilon take
// the usual defaults of 0.9, 0.999 and 1e-8.
func NewAdam(params []*param.Parameter, cfg Config) *Adam {
	o := &Adam{
		params:      params,
		lr:          cfg.LR,
		beta1:       cfg.Beta1,
		beta2:       cfg.Beta2,
		eps:         cfg.Epsilon,
		weightDecay: cfg.WeightDecay,
		moments:     make(map[string][]float64),
	}
	if o.beta1 == 0 {
		o.beta1 = 0.9
	}
	if o.beta2 == 0 {
		o.beta2 = 0.999
	}
	if o.eps == 0 {
		o.eps = 1e-8
	}
	for _, p := range params {
		if !p.RequiresGrad {
			continue
		}
		o.size += p.Len()
		o.moments["m/"+p.Name] = make([]float64, p.Len())
		o.moments["v/"+p.Name] = make([]float64, p.Len())
	}
	return o
}

func (o *Adam) ZeroGrad()        { zeroGrad(o.params) }
func (o *Adam) LR() float64      { return o.lr }
func (o *Adam) SetLR(lr float64) { o.lr = lr }

func (o *Adam) Step() {
	o.steps++
	c1 := 1 - math.Pow(o.beta1, float64(o.steps))
	c2 := 1 - math.Pow(o.beta2, float64(o.steps))
	parallel.ForEach(len(o.params), parallel.WorkersFor(o.size), func(n int) {
		p := o.params[n]
		if !p.RequiresGrad {
			return
		}
		m, v := o.moments["m/"+p.Name], o.moments["v/"+p.Name]
		for i, g := range p.Grad {
			if o.weightDecay != 0 {
				g += o.weightDecay * p.Data[i]
			}
			m[i] = o.beta1*m[i] + (1-o.beta1)*g
			v[i] = o.beta2*v[i] + (1-o.beta2)*g*g
			p.Data[i] -= o.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + o.eps)
		}
	})
}

func (o *Adam) State() State {
	return State{Kind: "adam", LR: o.lr, Steps: o.steps, Buffers: cloneBuffers(o.moments)}
}

func (o *Adam) LoadState(s State) error {
	if s.Kind != "adam" {
		return fmt.Errorf("%w: adam cannot load %q state", ErrState, s.Kind)
	}
	if err := loadBuffers(o.moments, s.Buffers); err != nil {
		return err
	}
	o.lr, o.steps = s.LR, s.Steps
	return nil
}
