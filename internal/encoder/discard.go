package encoder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zsiec/depthcap/internal/media"
)

// DiscardWriter accepts every frame and stores nothing. It stands in for a
// real container on hosts without an encoder so depth capture still runs.
type DiscardWriter struct {
	frames atomic.Int64
	last   atomic.Int64
}

// NewDiscardWriter is a WriterFactory for DiscardWriter.
func NewDiscardWriter(string, TrackConfig) (Writer, error) {
	return &DiscardWriter{}, nil
}

func (d *DiscardWriter) Ready() bool { return true }

func (d *DiscardWriter) Append(_ *media.ColorFrame, pts time.Duration) error {
	d.frames.Add(1)
	d.last.Store(int64(pts))
	return nil
}

func (d *DiscardWriter) Finish(context.Context, time.Duration) error { return nil }

func (d *DiscardWriter) Cancel() error { return nil }

// Frames returns how many frames were appended.
func (d *DiscardWriter) Frames() int64 { return d.frames.Load() }
