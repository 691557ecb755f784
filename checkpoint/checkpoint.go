// Package checkpoint persists training state as zlib-compressed JSON.
package checkpoint

import (
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/neurlang/deepseries/optim"
	"github.com/neurlang/deepseries/param"
)

// ErrNone is returned by Latest when a directory holds no checkpoints.
var ErrNone = errors.New("checkpoint: none found")

// Checkpoint is everything needed to resume training.
type Checkpoint struct {
	Model     param.State           `json:"model"`
	Optimizer optim.State           `json:"optimizer"`
	Epochs    int                   `json:"epochs"`
	Scheduler *optim.SchedulerState `json:"lr_scheduler,omitempty"`
	EMA       param.State           `json:"ema,omitempty"`
}

const extension = ".json.zlib"

var namePattern = regexp.MustCompile(`^model-epoch-(\d+)\.json\.zlib$`)

// FileName returns the checkpoint file name for a completed epoch count.
func FileName(epochs int) string {
	return fmt.Sprintf("model-epoch-%d%s", epochs, extension)
}

// Write encodes c to w.
func Write(w io.Writer, c *Checkpoint) error {
	zw := zlib.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(c); err != nil {
		zw.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return zw.Close()
}

// Read decodes a checkpoint written by Write.
func Read(r io.Reader) (*Checkpoint, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint stream: %w", err)
	}
	defer zr.Close()
	var c Checkpoint
	if err := json.NewDecoder(zr).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &c, nil
}

// WriteFile writes c to name and returns the number of bytes written. The
// file is written under a temporary name and renamed into place, so a crash
// never leaves a truncated checkpoint behind.
func WriteFile(name string, c *Checkpoint) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".ckpt-*")
	if err != nil {
		return 0, err
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	if err := Write(tmp, c); err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, err
	}
	info, err := tmp.Stat()
	if err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	return info.Size(), nil
}

// ReadFile reads a checkpoint from name.
func ReadFile(name string) (*Checkpoint, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c, nil
}

// Latest returns the path of the checkpoint with the highest epoch count in dir.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	best, found := -1, ""
	for _, e := range entries {
		m := namePattern.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > best {
			best, found = n, e.Name()
		}
	}
	if found == "" {
		return "", fmt.Errorf("%w in %s", ErrNone, dir)
	}
	return filepath.Join(dir, found), nil
}
