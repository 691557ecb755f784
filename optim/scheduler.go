package optim

import (
	"fmt"
	"math"
	"strings"
)

// Scheduler adjusts the learning rate of an optimizer once per epoch.
type Scheduler interface {
	Step()
	State() SchedulerState
	LoadState(s SchedulerState) error
}

// SchedulerState is the serializable scheduler state.
type SchedulerState struct {
	Kind      string  `json:"kind"`
	LastEpoch int     `json:"last_epoch"`
	BaseLR    float64 `json:"base_lr"`
	StepSize  int     `json:"step_size,omitempty"`
	Gamma     float64 `json:"gamma"`
}

// SchedulerConfig configures the schedulers returned by NewScheduler.
type SchedulerConfig struct {
	StepSize int
	Gamma    float64
}

// NewScheduler returns the scheduler registered under name ("step" or
// "exponential"). The name "none" or "" returns a nil Scheduler.
func NewScheduler(name string, opt Optimizer, cfg SchedulerConfig) (Scheduler, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return nil, nil
	case "step":
		if cfg.StepSize <= 0 {
			return nil, fmt.Errorf("optim: step scheduler needs step size > 0, got %d", cfg.StepSize)
		}
		return NewStepLR(opt, cfg.StepSize, cfg.Gamma), nil
	case "exponential", "exp":
		return NewExponentialLR(opt, cfg.Gamma), nil
	}
	return nil, fmt.Errorf("optim: unknown scheduler %q", name)
}

// StepLR multiplies the base learning rate by Gamma every StepSize epochs.
type StepLR struct {
	opt       Optimizer
	baseLR    float64
	stepSize  int
	gamma     float64
	lastEpoch int
}

func NewStepLR(opt Optimizer, stepSize int, gamma float64) *StepLR {
	return &StepLR{opt: opt, baseLR: opt.LR(), stepSize: stepSize, gamma: gamma}
}

func (s *StepLR) Step() {
	s.lastEpoch++
	s.opt.SetLR(s.baseLR * math.Pow(s.gamma, float64(s.lastEpoch/s.stepSize)))
}

func (s *StepLR) State() SchedulerState {
	return SchedulerState{Kind: "step", LastEpoch: s.lastEpoch, BaseLR: s.baseLR, StepSize: s.stepSize, Gamma: s.gamma}
}

func (s *StepLR) LoadState(st SchedulerState) error {
	if st.Kind != "step" || st.StepSize <= 0 {
		return fmt.Errorf("%w: step scheduler cannot load %q state", ErrState, st.Kind)
	}
	s.lastEpoch, s.baseLR, s.stepSize, s.gamma = st.LastEpoch, st.BaseLR, st.StepSize, st.Gamma
	return nil
}

// ExponentialLR multiplies the learning rate by Gamma every epoch.
type ExponentialLR struct {
	opt       Optimizer
	baseLR    float64
	gamma     float64
	lastEpoch int
}

func NewExponentialLR(opt Optimizer, gamma float64) *ExponentialLR {
	return &ExponentialLR{opt: opt, baseLR: opt.LR(), gamma: gamma}
}

func (s *ExponentialLR) Step() {
	s.lastEpoch++
	s.opt.SetLR(s.baseLR * math.Pow(s.gamma, float64(s.lastEpoch)))
}

func (s *ExponentialLR) State() SchedulerState {
	return SchedulerState{Kind: "exponential", LastEpoch: s.lastEpoch, BaseLR: s.baseLR, Gamma: s.gamma}
}

func (s *ExponentialLR) LoadState(st SchedulerState) error {
	if st.Kind != "exponential" {
		return fmt.Errorf("%w: exponential scheduler cannot load %q state", ErrState, st.Kind)
	}
	s.lastEpoch, s.baseLR, s.gamma = st.LastEpoch, st.BaseLR, st.Gamma
	return nil
}
