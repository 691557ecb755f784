package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/neurlang/deepseries/ema"
	"github.com/neurlang/deepseries/logging"
	"github.com/neurlang/deepseries/loss"
	"github.com/neurlang/deepseries/optim"
	"github.com/neurlang/deepseries/parallel"
	"github.com/neurlang/deepseries/param"
	"github.com/neurlang/deepseries/scalars"
)

// Model is a differentiable forecaster driven by the Learner.
type Model interface {
	param.Module

	// Forward maps a batch of inputs to predictions.
	Forward(x [][]float64) ([][]float64, error)

	// Backward accumulates parameter gradients for the last training-mode
	// Forward call, given the loss gradient with respect to its output.
	Backward(dy [][]float64) error

	// Train switches between training (true) and evaluation mode.
	Train(on bool)
}

// HyperParameters configures a Learner.
type HyperParameters struct {
	RootDir     string  // logs/ and checkpoints/ are created below it
	LogInterval int     // log training progress every this many batches; default 4
	GradClip    float64 // maximum gradient norm; 0 means 5, negative disables clipping
	EMADecay    float64 // decay of the weight moving average; 0 disables it
	RunName     string  // name of the run in the scalar store; default base of RootDir
	Quiet       bool    // do not mirror the log to stderr

	Scheduler optim.Scheduler // optional, stepped once per epoch
}

// Learner trains a Model. It is not safe for concurrent use.
type Learner struct {
	Model     Model
	Optimizer optim.Optimizer
	Loss      loss.Func
	Scheduler optim.Scheduler
	EMA       *ema.EMA

	GradClip    float64
	LogInterval int

	RootDir  string
	LogDir   string
	ModelDir string

	// Epochs counts completed epochs, including those restored by Load.
	Epochs int
	// Losses is the validation loss history of this process.
	Losses []float64

	log     *logging.File
	store   *scalars.Store
	run     *scalars.Run
	writer  scalars.Writer
	scalars string
}

// New creates the run directories, opens the text log and the scalar event
// stream, and returns a Learner ready to Fit.
func New(model Model, optimizer optim.Optimizer, lossFn loss.Func, hp HyperParameters) (*Learner, error) {
	if model == nil || optimizer == nil || lossFn == nil {
		return nil, errors.New("trainer: model, optimizer and loss are required")
	}
	if hp.RootDir == "" {
		return nil, errors.New("trainer: root dir is required")
	}
	if hp.LogInterval <= 0 {
		hp.LogInterval = 4
	}
	if hp.GradClip == 0 {
		hp.GradClip = 5
	}
	if hp.RunName == "" {
		hp.RunName = filepath.Base(hp.RootDir)
	}

	l := &Learner{
		Model:       model,
		Optimizer:   optimizer,
		Loss:        lossFn,
		Scheduler:   hp.Scheduler,
		GradClip:    hp.GradClip,
		LogInterval: hp.LogInterval,
		RootDir:     hp.RootDir,
		LogDir:      filepath.Join(hp.RootDir, "logs"),
		ModelDir:    filepath.Join(hp.RootDir, "checkpoints"),
	}
	for _, dir := range []string{l.RootDir, l.LogDir, l.ModelDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("trainer: %w", err)
		}
	}
	if hp.EMADecay > 0 {
		avg, err := ema.New(model, hp.EMADecay)
		if err != nil {
			return nil, err
		}
		l.EMA = avg
	}

	var echo io.Writer = os.Stderr
	if hp.Quiet {
		echo = nil
	}
	var err error
	if l.log, err = logging.Open(l.LogDir, echo); err != nil {
		return nil, err
	}
	if err := l.openScalars(hp.RunName); err != nil {
		l.log.Close()
		return nil, err
	}
	l.log.Printf("model has %s parameters", humanize.Comma(int64(param.Count(model))))
	l.log.Printf("cpu: %s", parallel.Describe())
	return l, nil
}

func (l *Learner) openScalars(name string) error {
	l.scalars = filepath.Join(l.LogDir, "scalars.db")
	store, err := scalars.Open(l.scalars)
	if err != nil {
		return fmt.Errorf("trainer: %w", err)
	}
	run, err := store.NewRun(context.Background(), name)
	if err != nil {
		store.Close()
		return fmt.Errorf("trainer: %w", err)
	}
	events, err := os.OpenFile(filepath.Join(l.LogDir, "scalars.jsonl"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		run.Close()
		store.Close()
		return fmt.Errorf("trainer: %w", err)
	}
	l.store, l.run = store, run
	l.writer = scalars.Multi(run, scalars.NewJSONL(events, run.ID))
	return nil
}

// RunID returns the id of this Learner's run in the scalar store.
func (l *Learner) RunID() string {
	return l.run.ID
}

// ScalarsPath returns the path of the SQLite scalar store.
func (l *Learner) ScalarsPath() string {
	return l.scalars
}

// Logger returns the run's text logger.
func (l *Learner) Logger() *logging.File {
	return l.log
}

// Close finishes the run and closes the log and scalar files.
func (l *Learner) Close() error {
	errs := []error{l.writer.Close(), l.store.Close(), l.log.Close()}
	return errors.Join(errs...)
}
