package trainer

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/neurlang/deepseries/checkpoint"
	"github.com/neurlang/deepseries/ema"
	"github.com/neurlang/deepseries/param"
)

// Save writes the current training state to
// checkpoints/model-epoch-<Epochs>.json.zlib and returns its path.
func (l *Learner) Save() (string, error) {
	path := filepath.Join(l.ModelDir, checkpoint.FileName(l.Epochs))
	size, err := checkpoint.WriteFile(path, l.state())
	if err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}
	l.log.Printf("saved %s (%s)", path, humanize.Bytes(uint64(size)))
	return path, nil
}

func (l *Learner) state() *checkpoint.Checkpoint {
	c := &checkpoint.Checkpoint{
		Model:     param.StateOf(l.Model),
		Optimizer: l.Optimizer.State(),
		Epochs:    l.Epochs,
	}
	if l.Scheduler != nil {
		s := l.Scheduler.State()
		c.Scheduler = &s
	}
	if l.EMA != nil {
		c.EMA = l.EMA.State()
	}
	return c
}

// Load restores model weights, optimizer state, the epoch counter and, when
// both sides have them, the scheduler and moving-average state. On error the
// Learner is left as it was before the call.
func (l *Learner) Load(path string) error {
	c, err := checkpoint.ReadFile(path)
	if err != nil {
		return err
	}
	prev, avg := l.state(), l.EMA
	if err := l.restore(c); err != nil {
		l.EMA = avg
		if rerr := l.restore(prev); rerr != nil {
			return errors.Join(err, fmt.Errorf("roll back: %w", rerr))
		}
		return err
	}
	l.log.Printf("loaded %s at epoch %d", path, l.Epochs)
	return nil
}

func (l *Learner) restore(c *checkpoint.Checkpoint) error {
	if err := param.Load(l.Model, c.Model); err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	if err := l.Optimizer.LoadState(c.Optimizer); err != nil {
		return fmt.Errorf("load optimizer: %w", err)
	}
	switch {
	case l.Scheduler != nil && c.Scheduler != nil:
		if err := l.Scheduler.LoadState(*c.Scheduler); err != nil {
			return fmt.Errorf("load scheduler: %w", err)
		}
	case c.Scheduler != nil:
		l.log.Printf("checkpoint has %s scheduler state, no scheduler configured", c.Scheduler.Kind)
	}
	if l.EMA != nil {
		if c.EMA != nil {
			if err := l.EMA.LoadState(c.EMA); err != nil {
				return fmt.Errorf("load ema: %w", err)
			}
		} else {
			avg, err := ema.New(l.Model, l.EMA.Decay())
			if err != nil {
				return err
			}
			l.EMA = avg
		}
	}
	l.Epochs = c.Epochs
	return nil
}

// Resume loads the checkpoint at path. The path "latest" picks the newest
// checkpoint in the run directory; having none is not an error.
func (l *Learner) Resume(path string) error {
	if path == "" {
		return nil
	}
	if path == "latest" {
		latest, err := checkpoint.Latest(l.ModelDir)
		if errors.Is(err, checkpoint.ErrNone) {
			l.log.Printf("no checkpoint in %s, starting fresh", l.ModelDir)
			return nil
		}
		if err != nil {
			return err
		}
		path = latest
	}
	return l.Load(path)
}
