// Package ema keeps an exponential moving average of model weights.
//
// Typical use:
//
//	avg, _ := ema.New(model, 0.99)
//
//	// after every optimizer step
//	avg.Update()
//
//	// around evaluation
//	avg.ApplyShadow()
//	evaluate(model)
//	avg.Restore()
package ema

import (
	"errors"
	"fmt"

	"github.com/neurlang/deepseries/parallel"
	"github.com/neurlang/deepseries/param"
)

var (
	// ErrUnregistered is returned when a trainable parameter has no shadow.
	ErrUnregistered = errors.New("ema: parameter not registered")

	// ErrNotApplied is returned by Restore when a trainable parameter has no backup.
	ErrNotApplied = errors.New("ema: shadow not applied")

	// ErrApplied is returned by ApplyShadow when the shadow is already swapped in.
	ErrApplied = errors.New("ema: shadow already applied")
)

// EMA holds a shadow and a backup copy of the trainable parameters of a
// module, keyed by parameter name.
type EMA struct {
	module param.Module
	decay  float64
	shadow map[string][]float64
	backup map[string][]float64
}

// New registers a shadow copy of every trainable parameter of module.
// A decay of 1 would never move the shadow and is rejected.
func New(module param.Module, decay float64) (*EMA, error) {
	if decay < 0 || decay >= 1 {
		return nil, fmt.Errorf("ema: decay must be in [0, 1), got %v", decay)
	}
	e := &EMA{
		module: module,
		decay:  decay,
		shadow: make(map[string][]float64),
		backup: make(map[string][]float64),
	}
	e.register()
	return e, nil
}

func (e *EMA) register() {
	for _, p := range param.Trainable(e.module) {
		e.shadow[p.Name] = append([]float64(nil), p.Data...)
	}
}

// Decay returns the averaging factor.
func (e *EMA) Decay() float64 {
	return e.decay
}

// Shadow returns the averaged values of the named parameter, or nil.
func (e *EMA) Shadow(name string) []float64 {
	return e.shadow[name]
}

// Applied reports whether the shadow is currently swapped into the module.
func (e *EMA) Applied() bool {
	return len(e.backup) > 0
}

func (e *EMA) each(body func(p *param.Parameter) error) error {
	params := param.Trainable(e.module)
	return parallel.ForEachError(len(params), parallel.WorkersFor(param.Count(e.module)), func(i int) error {
		return body(params[i])
	})
}

// Update folds the current weights into the shadow:
// shadow = decay*shadow + (1-decay)*param.
func (e *EMA) Update() error {
	if err := e.check(e.shadow, ErrUnregistered); err != nil {
		return err
	}
	return e.each(func(p *param.Parameter) error {
		s := e.shadow[p.Name]
		for i, v := range p.Data {
			s[i] = e.decay*s[i] + (1-e.decay)*v
		}
		return nil
	})
}

// ApplyShadow backs up the current weights and writes the shadow into the
// module.
func (e *EMA) ApplyShadow() error {
	if e.Applied() {
		return ErrApplied
	}
	if err := e.check(e.shadow, ErrUnregistered); err != nil {
		return err
	}
	for _, p := range param.Trainable(e.module) {
		e.backup[p.Name] = append([]float64(nil), p.Data...)
		copy(p.Data, e.shadow[p.Name])
	}
	return nil
}

// Restore writes the backed-up weights into the module and clears the backup.
func (e *EMA) Restore() error {
	if err := e.check(e.backup, ErrNotApplied); err != nil {
		return err
	}
	for _, p := range param.Trainable(e.module) {
		copy(p.Data, e.backup[p.Name])
	}
	e.backup = make(map[string][]float64)
	return nil
}

// State returns a copy of the shadow for checkpointing.
func (e *EMA) State() param.State {
	return param.State(e.shadow).Clone()
}

// LoadState replaces the shadow with s. Every trainable parameter must be
// present with a matching length.
func (e *EMA) LoadState(s param.State) error {
	for _, p := range param.Trainable(e.module) {
		v, ok := s[p.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnregistered, p.Name)
		}
		if len(v) != p.Len() {
			return fmt.Errorf("%w: %s has %d values, state has %d", param.ErrShape, p.Name, p.Len(), len(v))
		}
	}
	e.shadow = s.Clone()
	return nil
}

func (e *EMA) check(m map[string][]float64, missing error) error {
	for _, p := range param.Trainable(e.module) {
		v, ok := m[p.Name]
		if !ok {
			return fmt.Errorf("%w: %s", missing, p.Name)
		}
		if len(v) != p.Len() {
			return fmt.Errorf("%w: %s", param.ErrShape, p.Name)
		}
	}
	return nil
}
