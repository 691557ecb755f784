package param

import "fmt"

// State maps parameter names to a copy of their values.
type State map[string][]float64

// StateOf deep-copies every parameter of m, trainable or not.
func StateOf(m Module) State {
	params := m.Parameters()
	s := make(State, len(params))
	for _, p := range params {
		s[p.Name] = append([]float64(nil), p.Data...)
	}
	return s
}

// Load copies the values in s into the parameters of m. Every parameter must
// be present with a matching length; extra entries in s are ignored.
func Load(m Module, s State) error {
	params := m.Parameters()
	if err := checkUnique(params); err != nil {
		return err
	}
	for _, p := range params {
		v, ok := s[p.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissing, p.Name)
		}
		if len(v) != len(p.Data) {
			return fmt.Errorf("%w: %s has %d values, state has %d", ErrShape, p.Name, len(p.Data), len(v))
		}
	}
	for _, p := range params {
		copy(p.Data, s[p.Name])
	}
	return nil
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = append([]float64(nil), v...)
	}
	return out
}
