// Package camera abstracts the image-capture device. The agent only
// needs frames on demand; where they come from is the deployment's
// problem.
package camera

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// Source produces a shelf frame on demand. A (nil, nil) return means no
// frame was available right now; the scheduler retries capture locally
// without surfacing anything to the operator.
type Source interface {
	Capture(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) Capture(ctx context.Context) ([]byte, error) { return f(ctx) }

// SpoolDir reads frames dropped into a directory by an external camera
// daemon, always picking the most recently modified image.
type SpoolDir struct {
	Dir string
}

func (s *SpoolDir) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	var (
		newest    string
		newestMod int64
	)
	for _, e := range entries {
		if e.IsDir() || !isImageName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if m := info.ModTime().UnixNano(); newest == "" || m > newestMod {
			newest, newestMod = e.Name(), m
		}
	}
	if newest == "" {
		return nil, nil
	}
	return os.ReadFile(filepath.Join(s.Dir, newest))
}

func isImageName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}
