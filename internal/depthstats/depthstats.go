// Package depthstats computes per-frame depth statistics off the delivery
// path. Statistics are advisory: the aggregator never blocks its producer
// and keeps no history beyond the most recent frame.
package depthstats

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync/atomic"

	"github.com/x448/float16"

	"github.com/zsiec/depthcap/internal/media"
)

// Compute scans little-endian float16 depth samples once. Zero samples mean
// "no return": they never lower the minimum but still count toward the
// maximum, so an all-zero frame reports Max 0 and the NoReturn minimum.
// NaN samples are ignored. A trailing odd byte is ignored.
func Compute(raw []byte) media.DistanceRange {
	r := media.DistanceRange{Min: media.NoReturn}
	n := len(raw) / 2
	if n == 0 {
		return r
	}

	first := true
	for i := 0; i < n; i++ {
		s := float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:]))
		if s.IsNaN() {
			continue
		}
		v := s.Float32()
		if first || v > r.Max {
			r.Max = v
			first = false
		}
		if v != 0 && (!r.Valid || v < r.Min) {
			r.Min = v
			r.Valid = true
		}
	}
	return r
}

// Aggregator runs Compute on its own goroutine and publishes the newest
// result as an atomically swapped snapshot.
type Aggregator struct {
	log    *slog.Logger
	in     chan *media.DepthPlane
	latest atomic.Pointer[media.DistanceRange]

	computed atomic.Int64
	skipped  atomic.Int64
}

// NewAggregator creates an Aggregator. If log is nil, slog.Default() is used.
func NewAggregator(log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	a := &Aggregator{
		log: log.With("component", "depth-stats"),
		in:  make(chan *media.DepthPlane, media.StatsQueueSize),
	}
	initial := media.DistanceRange{Min: media.NoReturn}
	a.latest.Store(&initial)
	return a
}

// Submit offers a depth plane for processing without blocking. When the
// worker is still busy with an earlier frame the plane is skipped and
// readers keep seeing the previous result.
func (a *Aggregator) Submit(plane *media.DepthPlane) bool {
	select {
	case a.in <- plane:
		return true
	default:
		a.skipped.Add(1)
		return false
	}
}

// Replace offers plane without blocking, evicting a queued plane that the
// worker has not started on. Use it for frames whose range must be shown.
func (a *Aggregator) Replace(plane *media.DepthPlane) {
	for {
		select {
		case a.in <- plane:
			return
		default:
		}
		select {
		case <-a.in:
			a.skipped.Add(1)
		default:
		}
	}
}

// Run processes submitted planes until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case plane := <-a.in:
			a.process(plane)
		}
	}
}

func (a *Aggregator) process(plane *media.DepthPlane) {
	raw, err := plane.Packed()
	if err != nil {
		// The encode path owns the fatal verdict on short buffers; here
		// the frame is only unusable for display.
		a.log.Debug("skipping depth plane", "error", err)
		a.skipped.Add(1)
		return
	}
	r := Compute(raw)
	a.latest.Store(&r)
	a.computed.Add(1)
}

// Latest returns the most recently computed range.
func (a *Aggregator) Latest() media.DistanceRange {
	return *a.latest.Load()
}

// DisplayString returns the latest range formatted for display.
func (a *Aggregator) DisplayString() string {
	return a.Latest().String()
}

// Counters returns how many planes were computed and skipped.
func (a *Aggregator) Counters() (computed, skipped int64) {
	return a.computed.Load(), a.skipped.Load()
}
