package trainer

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/neurlang/deepseries/datasets"
	"github.com/neurlang/deepseries/param"
)

var (
	// ErrNonFinite is returned when a batch loss is NaN or infinite.
	ErrNonFinite = errors.New("trainer: non-finite loss")

	// ErrEmptyLoader is returned when a loader has no batches.
	ErrEmptyLoader = errors.New("trainer: loader has no batches")
)

// FitOptions controls a call to Fit.
type FitOptions struct {
	EarlyStopping bool
	// Patience is the number of consecutive epochs without a strictly lower
	// validation loss after which training stops.
	Patience int
	// StartSave is the first epoch of this Fit call that writes a checkpoint.
	StartSave int
}

// DefaultFitOptions returns early stopping with a patience of 10 and a
// checkpoint after every epoch.
func DefaultFitOptions() FitOptions {
	return FitOptions{EarlyStopping: true, Patience: 10, StartSave: -1}
}

// Result summarizes a call to Fit.
type Result struct {
	Epochs      int     // epochs run by this call
	GlobalSteps int     // training batches run by this call
	BestEpoch   int     // value of Learner.Epochs after the best epoch
	BestLoss    float64 // lowest validation loss of this call
	Stopped     bool    // early stopping ended the call
}

// Fit trains for at most maxEpochs epochs over train, validating on valid
// after each one. Any batch or checkpoint error ends the run and is returned
// together with the partial Result.
func (l *Learner) Fit(maxEpochs int, train, valid datasets.Loader, opts FitOptions) (Result, error) {
	res := Result{BestLoss: math.Inf(1)}
	if maxEpochs <= 0 {
		return res, fmt.Errorf("trainer: max epochs must be > 0, got %d", maxEpochs)
	}
	if train.Len() == 0 || valid.Len() == 0 {
		return res, ErrEmptyLoader
	}
	if opts.EarlyStopping && opts.Patience <= 0 {
		return res, fmt.Errorf("trainer: patience must be > 0, got %d", opts.Patience)
	}

	l.log.Printf("start training >>>>>>>>>>> see scalars: %s (run %s)", l.scalars, l.RunID())
	bad := 0
	for epoch := 1; epoch <= maxEpochs; epoch++ {
		start := time.Now()

		l.Model.Train(true)
		var trainLoss float64
		for i := 0; i < train.Len(); i++ {
			v, err := l.LossBatch(train.Batch(i))
			if err != nil {
				return res, fmt.Errorf("epoch %d batch %d: %w", epoch, i, err)
			}
			if err := l.writer.AddScalar("Loss/train", v, res.GlobalSteps); err != nil {
				return res, err
			}
			res.GlobalSteps++
			trainLoss += v
			if res.GlobalSteps%l.LogInterval == 0 {
				l.log.Printf("epoch %d / %d, batch %3.0f%%, train loss %.4f",
					epoch, maxEpochs, float64(i)/float64(train.Len())*100, trainLoss/float64(i+1))
			}
		}

		l.Model.Train(false)
		validLoss, err := l.validate(valid)
		if err != nil {
			return res, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if err := l.writer.AddScalar("Loss/valid", validLoss, res.GlobalSteps); err != nil {
			return res, err
		}
		l.log.Printf("epoch %d / %d, batch 100%%, train loss %.4f, valid loss %.4f, cost time %s",
			epoch, maxEpochs, trainLoss/float64(train.Len()), validLoss, time.Since(start).Round(time.Millisecond))

		l.Losses = append(l.Losses, validLoss)
		l.Epochs++
		res.Epochs++
		if l.Scheduler != nil {
			l.Scheduler.Step()
		}
		if err := l.writer.AddScalar("lr", l.Optimizer.LR(), res.GlobalSteps); err != nil {
			return res, err
		}

		if epoch >= opts.StartSave {
			if _, err := l.Save(); err != nil {
				return res, err
			}
		}

		if validLoss < res.BestLoss {
			res.BestLoss, res.BestEpoch = validLoss, l.Epochs
			bad = 0
		} else {
			bad++
		}
		if opts.EarlyStopping && bad >= opts.Patience {
			l.log.Printf("early stopping! no improvement for %d epochs", bad)
			res.Stopped = true
			break
		}
	}
	l.log.Printf("training finished, best epoch %d, best valid loss %.4f", res.BestEpoch, res.BestLoss)
	return res, nil
}

// validate returns the mean batch loss over valid, evaluated on the moving
// average weights when an EMA is configured.
func (l *Learner) validate(valid datasets.Loader) (float64, error) {
	if l.EMA != nil {
		if err := l.EMA.ApplyShadow(); err != nil {
			return 0, err
		}
	}
	var total float64
	var evalErr error
	for i := 0; i < valid.Len(); i++ {
		v, err := l.EvalBatch(valid.Batch(i))
		if err != nil {
			evalErr = fmt.Errorf("valid batch %d: %w", i, err)
			break
		}
		total += v / float64(valid.Len())
	}
	if l.EMA != nil {
		if err := l.EMA.Restore(); err != nil && evalErr == nil {
			evalErr = err
		}
	}
	return total, evalErr
}

// LossBatch runs one optimization step on b and returns its loss.
func (l *Learner) LossBatch(b datasets.Batch) (float64, error) {
	l.Optimizer.ZeroGrad()
	yhat, err := l.Model.Forward(b.X)
	if err != nil {
		return 0, fmt.Errorf("forward: %w", err)
	}
	v, grad, err := l.Loss.Loss(yhat, b.Y, b.W)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v, fmt.Errorf("%w: %v", ErrNonFinite, v)
	}
	if err := l.Model.Backward(grad); err != nil {
		return 0, fmt.Errorf("backward: %w", err)
	}
	param.ClipGradNorm(l.Model.Parameters(), l.GradClip)
	l.Optimizer.Step()
	if l.EMA != nil {
		if err := l.EMA.Update(); err != nil {
			return 0, err
		}
	}
	return v, nil
}

// EvalBatch returns the loss of the model on b without changing any state.
func (l *Learner) EvalBatch(b datasets.Batch) (float64, error) {
	yhat, err := l.Model.Forward(b.X)
	if err != nil {
		return 0, fmt.Errorf("forward: %w", err)
	}
	v, _, err := l.Loss.Loss(yhat, b.Y, b.W)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v, fmt.Errorf("%w: %v", ErrNonFinite, v)
	}
	return v, nil
}
