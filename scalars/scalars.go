// Package scalars records scalar training metrics (losses, learning rate)
// as an event stream that visualization tools can read back.
package scalars

import (
	"encoding/json"
	"errors"
	"io"
	"time"
)

// Writer receives scalar events.
type Writer interface {
	AddScalar(tag string, value float64, step int) error
	Close() error
}

// Scalar is one recorded event.
type Scalar struct {
	Run   string    `json:"run"`
	Tag   string    `json:"tag"`
	Step  int       `json:"step"`
	Value float64   `json:"value"`
	Wall  time.Time `json:"wall"`
}

// JSONL writes one JSON object per event.
type JSONL struct {
	run string
	w   io.Writer
	enc *json.Encoder
	now func() time.Time
}

// NewJSONL returns a Writer that appends events for run to w. Close closes
// w when it is an io.Closer.
func NewJSONL(w io.Writer, run string) *JSONL {
	return &JSONL{run: run, w: w, enc: json.NewEncoder(w), now: time.Now}
}

func (j *JSONL) AddScalar(tag string, value float64, step int) error {
	return j.enc.Encode(Scalar{Run: j.run, Tag: tag, Step: step, Value: value, Wall: j.now().UTC()})
}

func (j *JSONL) Close() error {
	if c, ok := j.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type multi []Writer

// Multi fans every event out to all writers.
func Multi(writers ...Writer) Writer {
	return multi(writers)
}

func (m multi) AddScalar(tag string, value float64, step int) error {
	var errs []error
	for _, w := range m {
		if err := w.AddScalar(tag, value, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, w := range m {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Writer = discard{}

type discard struct{}

func (discard) AddScalar(string, float64, int) error { return nil }
func (discard) Close() error                         { return nil }
