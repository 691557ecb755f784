package linear

import (
	"math"
	"testing"

	"github.com/neurlang/deepseries/loss"
	"github.com/neurlang/deepseries/param"
)

func TestDeterministicInit(t *testing.T) {
	a, _ := New(4, 2, 7)
	b, _ := New(4, 2, 7)
	sa, sb := param.StateOf(a), param.StateOf(b)
	for k := range sa {
		for i := range sa[k] {
			if sa[k][i] != sb[k][i] {
				t.Fatalf("%s differs at %d", k, i)
			}
		}
	}
	if _, err := New(0, 1, 1); err == nil {
		t.Error("zero lookback accepted")
	}
}

// TestGradientMatchesFiniteDifference checks Backward against a numerical
// derivative of the MSE loss.
func TestGradientMatchesFiniteDifference(t *testing.T) {
	m, _ := New(3, 2, 1)
	x := [][]float64{{1, 2, 3}, {-1, 0.5, 2}}
	y := [][]float64{{0.5, 1}, {2, -1}}

	lossAt := func() float64 {
		yhat, err := m.Forward(x)
		if err != nil {
			t.Fatal(err)
		}
		v, _, err := loss.MSE{}.Loss(yhat, y, nil)
		if err != nil {
			t.Fatal(err)
		}
		return v
	}

	param.ZeroGrad(m)
	yhat, _ := m.Forward(x)
	_, g, _ := loss.MSE{}.Loss(yhat, y, nil)
	if err := m.Backward(g); err != nil {
		t.Fatal(err)
	}

	const h = 1e-6
	for _, p := range m.Parameters() {
		for i := range p.Data {
			orig := p.Data[i]
			p.Data[i] = orig + h
			up := lossAt()
			p.Data[i] = orig - h
			down := lossAt()
			p.Data[i] = orig
			num := (up - down) / (2 * h)
			if math.Abs(num-p.Grad[i]) > 1e-5 {
				t.Errorf("%s[%d]: analytic %v, numeric %v", p.Name, i, p.Grad[i], num)
			}
		}
	}
}

func TestEvalModeHasNoBackward(t *testing.T) {
	m, _ := New(2, 1, 1)
	m.Train(false)
	if _, err := m.Forward([][]float64{{1, 2}}); err != nil {
		t.Fatal(err)
	}
	if err := m.Backward([][]float64{{1}}); err == nil {
		t.Error("backward allowed in eval mode")
	}
	if _, err := m.Forward([][]float64{{1}}); err == nil {
		t.Error("short row accepted")
	}
}
