package trainer

import (
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/neurlang/deepseries/checkpoint"
	"github.com/neurlang/deepseries/datasets"
	"github.com/neurlang/deepseries/datasets/sine"
	"github.com/neurlang/deepseries/loss"
	"github.com/neurlang/deepseries/model/linear"
	"github.com/neurlang/deepseries/optim"
	"github.com/neurlang/deepseries/param"
)

// scripted is a model whose validation output, and so its MAE validation
// loss against zero targets, follows a fixed script, one value per epoch.
type scripted struct {
	p        *param.Parameter
	valid    []float64
	epoch    int
	training bool
}

func newScripted(valid ...float64) *scripted {
	return &scripted{p: param.New("p", 1), valid: valid}
}

func (s *scripted) Parameters() []*param.Parameter { return []*param.Parameter{s.p} }

func (s *scripted) Train(on bool) {
	if !on {
		s.epoch++
	}
	s.training = on
}

func (s *scripted) Forward(x [][]float64) ([][]float64, error) {
	v := 1.0
	if !s.training {
		v = s.valid[s.epoch-1]
	}
	out := make([][]float64, len(x))
	for i := range out {
		out[i] = []float64{v}
	}
	return out, nil
}

func (s *scripted) Backward(dy [][]float64) error { return nil }

// constant predicts its single parameter for every row.
type constant struct {
	p *param.Parameter
}

func newConstant() *constant { return &constant{p: param.New("p", 1)} }

func (c *constant) Parameters() []*param.Parameter { return []*param.Parameter{c.p} }
func (c *constant) Train(bool)                     {}

func (c *constant) Forward(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i := range out {
		out[i] = []float64{c.p.Data[0]}
	}
	return out, nil
}

func (c *constant) Backward(dy [][]float64) error {
	for _, row := range dy {
		c.p.Grad[0] += row[0]
	}
	return nil
}

type batches []datasets.Batch

func (b batches) Len() int                   { return len(b) }
func (b batches) Batch(i int) datasets.Batch { return b[i] }

var zeroBatches = batches{
	{X: [][]float64{{0}}, Y: [][]float64{{0}}},
	{X: [][]float64{{0}}, Y: [][]float64{{0}}},
}

func newScriptedLearner(t *testing.T, m *scripted) *Learner {
	t.Helper()
	l, err := New(m, optim.NewSGD(m.Parameters(), optim.Config{LR: 0.1}), loss.MAE{},
		HyperParameters{RootDir: t.TempDir(), Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestEarlyStopping(t *testing.T) {
	tests := []struct {
		name     string
		valid    []float64
		patience int
		epochs   int
		best     float64
		bestAt   int
		stopped  bool
	}{
		{"stops after patience", []float64{5, 4, 3, 3.5, 3.6, 3.7, 2, 1}, 3, 6, 3, 3, true},
		{"equal loss does not improve", []float64{2, 2, 2, 2}, 2, 3, 2, 1, true},
		{"improvement resets", []float64{3, 4, 2, 5, 1, 6}, 2, 6, 1, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newScriptedLearner(t, newScripted(tt.valid...))
			res, err := l.Fit(len(tt.valid), zeroBatches, zeroBatches[:1],
				FitOptions{EarlyStopping: true, Patience: tt.patience, StartSave: 100})
			if err != nil {
				t.Fatal(err)
			}
			if res.Epochs != tt.epochs || l.Epochs != tt.epochs || len(l.Losses) != tt.epochs {
				t.Errorf("ran %d epochs (learner %d, losses %d), want %d", res.Epochs, l.Epochs, len(l.Losses), tt.epochs)
			}
			if res.BestLoss != tt.best || res.BestEpoch != tt.bestAt || res.Stopped != tt.stopped {
				t.Errorf("result = %+v", res)
			}
			if res.GlobalSteps != 2*tt.epochs {
				t.Errorf("global steps = %d", res.GlobalSteps)
			}
		})
	}
}

func TestNoEarlyStoppingRunsAllEpochs(t *testing.T) {
	l := newScriptedLearner(t, newScripted(1, 2, 3, 4))
	res, err := l.Fit(4, zeroBatches, zeroBatches, FitOptions{Patience: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Epochs != 4 || res.Stopped {
		t.Errorf("result = %+v", res)
	}
}

func TestStartSave(t *testing.T) {
	l := newScriptedLearner(t, newScripted(1, 1, 1, 1))
	if _, err := l.Fit(4, zeroBatches, zeroBatches, FitOptions{StartSave: 3}); err != nil {
		t.Fatal(err)
	}
	files, _ := filepath.Glob(filepath.Join(l.ModelDir, "*.json.zlib"))
	if len(files) != 2 {
		t.Fatalf("checkpoints = %v", files)
	}
	for _, n := range []int{3, 4} {
		if _, err := os.Stat(filepath.Join(l.ModelDir, checkpoint.FileName(n))); err != nil {
			t.Error(err)
		}
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	l := newScriptedLearner(t, newScripted(1))
	if _, err := l.Fit(1, batches{}, zeroBatches, DefaultFitOptions()); !errors.Is(err, ErrEmptyLoader) {
		t.Errorf("empty train: %v", err)
	}
	if _, err := l.Fit(0, zeroBatches, zeroBatches, DefaultFitOptions()); err == nil {
		t.Error("zero epochs accepted")
	}
	if _, err := l.Fit(1, zeroBatches, zeroBatches, FitOptions{EarlyStopping: true}); err == nil {
		t.Error("zero patience accepted")
	}
}

func sineLoaders(t *testing.T) (*datasets.Windows, *datasets.Windows) {
	t.Helper()
	values, _, _ := datasets.Standardize(sine.Generate(600, 24, 0.05, 1))
	tr, va, err := datasets.Split(values, 0.2, 24)
	if err != nil {
		t.Fatal(err)
	}
	train, err := datasets.NewWindows(tr, 24, 4, 16)
	if err != nil {
		t.Fatal(err)
	}
	valid, err := datasets.NewWindows(va, 24, 4, 16)
	if err != nil {
		t.Fatal(err)
	}
	train.Shuffle(1)
	return train, valid
}

type linearRun struct {
	model *linear.Linear
	opt   *optim.Adam
	sched *optim.StepLR
	l     *Learner
}

func newLinearRun(t *testing.T, root string, seed int64) *linearRun {
	t.Helper()
	m, err := linear.New(24, 4, seed)
	if err != nil {
		t.Fatal(err)
	}
	opt := optim.NewAdam(m.Parameters(), optim.Config{LR: 0.01})
	sched := optim.NewStepLR(opt, 2, 0.5)
	l, err := New(m, opt, loss.MSE{}, HyperParameters{
		RootDir:   root,
		EMADecay:  0.9,
		Scheduler: sched,
		Quiet:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return &linearRun{model: m, opt: opt, sched: sched, l: l}
}

func TestLinearModelLearns(t *testing.T) {
	train, valid := sineLoaders(t)
	r := newLinearRun(t, t.TempDir(), 1)
	res, err := r.l.Fit(5, train, valid, DefaultFitOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Epochs != 5 {
		t.Fatalf("ran %d epochs", res.Epochs)
	}
	if last := r.l.Losses[len(r.l.Losses)-1]; !(last < r.l.Losses[0]) {
		t.Errorf("validation loss did not improve: %v", r.l.Losses)
	}
	if r.l.EMA.Applied() {
		t.Error("shadow weights left in the model after validation")
	}
	if reflect.DeepEqual(r.l.EMA.Shadow("weight"), r.model.Parameters()[0].Data) {
		t.Error("model holds shadow weights after training")
	}
	if r.opt.LR() != 0.01*0.25 {
		t.Errorf("lr after 5 epochs = %v", r.opt.LR())
	}
}

func TestLossBatchIsFinite(t *testing.T) {
	train, _ := sineLoaders(t)
	r := newLinearRun(t, t.TempDir(), 2)
	r.model.Train(true)
	for i := 0; i < train.Len(); i++ {
		v, err := r.l.LossBatch(train.Batch(i))
		if err != nil {
			t.Fatal(err)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("batch %d loss %v", i, v)
		}
	}
	bad := datasets.Batch{X: [][]float64{make([]float64, 24)}, Y: [][]float64{{math.NaN(), 0, 0, 0}}}
	if _, err := r.l.LossBatch(bad); !errors.Is(err, ErrNonFinite) {
		t.Errorf("NaN target: %v", err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	train, valid := sineLoaders(t)
	root := t.TempDir()
	a := newLinearRun(t, root, 1)
	if _, err := a.l.Fit(3, train, valid, FitOptions{StartSave: 100}); err != nil {
		t.Fatal(err)
	}
	path, err := a.l.Save()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "model-epoch-3.json.zlib" {
		t.Errorf("path = %s", path)
	}

	b := newLinearRun(t, t.TempDir(), 99)
	if err := b.l.Load(path); err != nil {
		t.Fatal(err)
	}
	if b.l.Epochs != 3 {
		t.Errorf("epochs = %d", b.l.Epochs)
	}
	if !reflect.DeepEqual(param.StateOf(b.model), param.StateOf(a.model)) {
		t.Error("model state differs")
	}
	if !reflect.DeepEqual(b.opt.State(), a.opt.State()) {
		t.Error("optimizer state differs")
	}
	if b.sched.State() != a.sched.State() {
		t.Errorf("scheduler state %+v, want %+v", b.sched.State(), a.sched.State())
	}
	if !reflect.DeepEqual(b.l.EMA.State(), a.l.EMA.State()) {
		t.Error("ema state differs")
	}
}

func TestResumeLatest(t *testing.T) {
	train, valid := sineLoaders(t)
	root := t.TempDir()
	a := newLinearRun(t, root, 1)
	if err := a.l.Resume("latest"); err != nil || a.l.Epochs != 0 {
		t.Fatalf("fresh resume: %v, epochs %d", err, a.l.Epochs)
	}
	if _, err := a.l.Fit(2, train, valid, DefaultFitOptions()); err != nil {
		t.Fatal(err)
	}

	b := newLinearRun(t, root, 5)
	if err := b.l.Resume("latest"); err != nil {
		t.Fatal(err)
	}
	if b.l.Epochs != 2 {
		t.Errorf("resumed at epoch %d", b.l.Epochs)
	}
	if _, err := b.l.Fit(1, train, valid, DefaultFitOptions()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(b.l.ModelDir, checkpoint.FileName(3))); err != nil {
		t.Errorf("continued checkpoint missing: %v", err)
	}
	if err := b.l.Resume(filepath.Join(root, "nope")); err == nil {
		t.Error("missing checkpoint accepted")
	}
}

func TestDefaultGradClip(t *testing.T) {
	m := newConstant()
	l, err := New(m, optim.NewSGD(m.Parameters(), optim.Config{LR: 1}), loss.MSE{},
		HyperParameters{RootDir: t.TempDir(), Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	if l.GradClip != 5 {
		t.Fatalf("grad clip = %v, want 5", l.GradClip)
	}
	// d/dp (p-10)^2 at 0 is -20, clipped to norm 5.
	if _, err := l.LossBatch(datasets.Batch{X: [][]float64{{0}}, Y: [][]float64{{10}}}); err != nil {
		t.Fatal(err)
	}
	if got := m.p.Data[0]; math.Abs(got-5) > 1e-5 {
		t.Errorf("p = %v, want 5", got)
	}
}

func TestFitClipsAndValidatesOnShadow(t *testing.T) {
	m := newConstant()
	l, err := New(m, optim.NewSGD(m.Parameters(), optim.Config{LR: 1}), loss.MAE{},
		HyperParameters{RootDir: t.TempDir(), GradClip: 0.25, EMADecay: 0.5, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	train := batches{{X: [][]float64{{0}}, Y: [][]float64{{10}}}}
	valid := batches{{X: [][]float64{{0}}, Y: [][]float64{{0}}}}
	if _, err := l.Fit(1, train, valid, DefaultFitOptions()); err != nil {
		t.Fatal(err)
	}
	// The MAE gradient is -1; unclipped, one step of lr 1 would reach 1.
	if got := m.p.Data[0]; math.Abs(got-0.25) > 1e-5 {
		t.Errorf("p = %v, want 0.25", got)
	}
	if got := l.EMA.Shadow("p")[0]; math.Abs(got-0.125) > 1e-5 {
		t.Errorf("shadow = %v, want 0.125", got)
	}
	if math.Abs(l.Losses[0]-0.125) > 1e-5 {
		t.Errorf("valid loss = %v, want the shadow's 0.125", l.Losses[0])
	}

	b := newConstant()
	r, err := New(b, optim.NewSGD(b.Parameters(), optim.Config{LR: 1}), loss.MAE{},
		HyperParameters{RootDir: t.TempDir(), EMADecay: 0.5, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	if err := r.Load(filepath.Join(l.ModelDir, checkpoint.FileName(1))); err != nil {
		t.Fatal(err)
	}
	if b.p.Data[0] != m.p.Data[0] || r.Epochs != 1 {
		t.Errorf("loaded p = %v at epoch %d", b.p.Data[0], r.Epochs)
	}
}

func TestFitStopsOnSaveError(t *testing.T) {
	l := newScriptedLearner(t, newScripted(3, 2, 1))
	if err := os.RemoveAll(l.ModelDir); err != nil {
		t.Fatal(err)
	}
	// A file where the checkpoint directory should be fails even for root.
	if err := os.WriteFile(l.ModelDir, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := l.Fit(3, zeroBatches, zeroBatches, DefaultFitOptions())
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("err = %v, want a wrapped path error", err)
	}
	if res.Epochs != 1 || l.Epochs != 1 {
		t.Errorf("ran %d epochs (learner %d) after the failed save", res.Epochs, l.Epochs)
	}
}

func TestLoadFailureLeavesStateUnchanged(t *testing.T) {
	train, valid := sineLoaders(t)
	r := newLinearRun(t, t.TempDir(), 1)
	if _, err := r.l.Fit(1, train, valid, FitOptions{StartSave: 100}); err != nil {
		t.Fatal(err)
	}
	model, opt, avg, sched := param.StateOf(r.model), r.opt.State(), r.l.EMA.State(), r.sched.State()

	weights := param.StateOf(r.model)
	for _, v := range weights {
		for i := range v {
			v[i] = 42
		}
	}
	path := filepath.Join(t.TempDir(), checkpoint.FileName(7))
	if _, err := checkpoint.WriteFile(path, &checkpoint.Checkpoint{
		Model:     weights,
		Optimizer: optim.State{Kind: "sgd", LR: 1},
		Epochs:    7,
	}); err != nil {
		t.Fatal(err)
	}

	if err := r.l.Load(path); !errors.Is(err, optim.ErrState) {
		t.Fatalf("err = %v, want optim.ErrState", err)
	}
	if r.l.Epochs != 1 {
		t.Errorf("epochs = %d, want 1", r.l.Epochs)
	}
	if !reflect.DeepEqual(param.StateOf(r.model), model) {
		t.Error("model weights changed by a failed load")
	}
	if !reflect.DeepEqual(r.opt.State(), opt) {
		t.Error("optimizer state changed by a failed load")
	}
	if !reflect.DeepEqual(r.l.EMA.State(), avg) {
		t.Error("ema state changed by a failed load")
	}
	if r.sched.State() != sched {
		t.Error("scheduler state changed by a failed load")
	}
}
