package pipeline

import (
	"sync/atomic"
	"time"
)

type counters struct {
	ticks            atomic.Int64
	suppressed       atomic.Int64
	published        atomic.Int64
	encodeQueued     atomic.Int64
	encoded          atomic.Int64
	depthRecords     atomic.Int64
	droppedNotReady  atomic.Int64
	droppedQueueFull atomic.Int64
	droppedInactive  atomic.Int64
	photos           atomic.Int64
	photoFailures    atomic.Int64
	photoDiscarded   atomic.Int64
}

// Counters are cumulative since the pipeline was created.
type Counters struct {
	Ticks            int64 `json:"ticks"`
	Suppressed       int64 `json:"suppressed"`
	Published        int64 `json:"published"`
	EncodeQueued     int64 `json:"encodeQueued"`
	Encoded          int64 `json:"encoded"`
	DepthRecords     int64 `json:"depthRecords"`
	DroppedNotReady  int64 `json:"droppedNotReady"`
	DroppedQueueFull int64 `json:"droppedQueueFull"`
	DroppedInactive  int64 `json:"droppedInactive"`
	StatsComputed    int64 `json:"statsComputed"`
	StatsSkipped     int64 `json:"statsSkipped"`
	Photos           int64 `json:"photos"`
	PhotoFailures    int64 `json:"photoFailures"`
	PhotoDiscarded   int64 `json:"photoDiscarded"`
	EncodeQueueDepth int   `json:"encodeQueueDepth"`
}

// Status is a point-in-time view of the pipeline for the control API.
type Status struct {
	State                    string        `json:"state"`
	Recording                bool          `json:"recording"`
	Paused                   bool          `json:"paused"`
	WaitingForCapture        bool          `json:"waitingForCapture"`
	ProcessingCapturedResult bool          `json:"processingCapturedResult"`
	DataAvailable            bool          `json:"dataAvailable"`
	Filtering                bool          `json:"filtering"`
	Distance                 string        `json:"distance"`
	Clock                    time.Duration `json:"clockNs"`
	Counters                 Counters      `json:"counters"`
}

// Status snapshots flags and counters. Fields are read independently, so a
// snapshot taken during a transition may mix before and after values.
func (p *Pipeline) Status() Status {
	computed, skipped := p.stats.Counters()
	s := Status{
		State:                    p.session.State().String(),
		Recording:                p.recording.Load(),
		Paused:                   p.paused.Load(),
		WaitingForCapture:        p.waitingForCapture.Load(),
		ProcessingCapturedResult: p.processingResult.Load(),
		Filtering:                p.filtering.Load(),
		Distance:                 p.stats.DisplayString(),
		Clock:                    p.session.Clock(),
		Counters: Counters{
			Ticks:            p.counters.ticks.Load(),
			Suppressed:       p.counters.suppressed.Load(),
			Published:        p.counters.published.Load(),
			EncodeQueued:     p.counters.encodeQueued.Load(),
			Encoded:          p.counters.encoded.Load(),
			DepthRecords:     p.counters.depthRecords.Load(),
			DroppedNotReady:  p.counters.droppedNotReady.Load(),
			DroppedQueueFull: p.counters.droppedQueueFull.Load(),
			DroppedInactive:  p.counters.droppedInactive.Load(),
			StatsComputed:    computed,
			StatsSkipped:     skipped,
			Photos:           p.counters.photos.Load(),
			PhotoFailures:    p.counters.photoFailures.Load(),
			PhotoDiscarded:   p.counters.photoDiscarded.Load(),
			EncodeQueueDepth: len(p.encodeCh),
		},
	}
	select {
	case <-p.dataReady:
		s.DataAvailable = true
	default:
	}
	return s
}
