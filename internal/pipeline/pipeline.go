// Package pipeline receives synchronized color+depth frame pairs at sensor
// rate and fans each one out to the depth statistics worker, the active
// recording (color container plus depth file), and the live-frame cache.
//
// The delivery path never blocks: statistics and encode work are handed to
// their own workers over bounded channels, and a frame that cannot be
// queued is dropped whole. The encode worker exclusively owns the recording
// session, the depth file writer, and the presentation clock.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/depthcap/internal/depthfile"
	"github.com/zsiec/depthcap/internal/depthstats"
	"github.com/zsiec/depthcap/internal/encoder"
	"github.com/zsiec/depthcap/internal/media"
	"github.com/zsiec/depthcap/internal/still"
)

// FrameReceiver is the contract the capture layer calls into: once per
// synchronized sensor tick, and once per completed photo request.
type FrameReceiver interface {
	OnStreamFrame(frame *media.CapturedFrame)
	OnPhotoFrame(frame *media.CapturedFrame, photo *media.Still)
}

// Camera is the capture device the photo path drives.
type Camera interface {
	StartStream() error
	StopStream()
	CapturePhoto() error
	SetFiltering(enabled bool)
}

// Config carries the fixed parameters of a pipeline.
type Config struct {
	// Depth is the declared depth resolution written into recording headers.
	Depth          media.Dimensions
	BytesPerSample int
	FPS            int
	Platform       byte
	SettleDelay    time.Duration
	JPEGQuality    int
	EncodeQueue    int
	Sink           depthfile.Sink
	Logger         *slog.Logger
	// OnCapture, if set, is called on the encode worker after each finished
	// recording or saved photo.
	OnCapture CaptureHook
}

// Pipeline implements FrameReceiver and the session-control commands.
type Pipeline struct {
	log     *slog.Logger
	cfg     Config
	session *encoder.Session
	stats   *depthstats.Aggregator
	camera  Camera

	encodeCh chan job
	done     chan struct{}
	doneOnce sync.Once
	ctlMu    sync.Mutex

	live      atomic.Pointer[media.CapturedFrame]
	dataReady chan struct{}
	dataOnce  sync.Once

	recording         atomic.Bool
	paused            atomic.Bool
	suppressed        atomic.Bool
	waitingForCapture atomic.Bool
	processingResult  atomic.Bool
	filtering         atomic.Bool

	photoMu    sync.Mutex
	photoTimer *time.Timer
	photoBase  string
	photoID    string

	// Owned by the encode worker.
	rec *recording

	counters counters
}

// New builds a pipeline around an encoding session and a camera. Call Run
// before the camera starts delivering frames.
func New(cfg Config, session *encoder.Session, camera Camera) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EncodeQueue <= 0 {
		cfg.EncodeQueue = media.EncodeQueueSize
	}
	if cfg.BytesPerSample == 0 {
		cfg.BytesPerSample = 2
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = still.DefaultQuality
	}
	if cfg.Sink == nil {
		cfg.Sink = depthfile.FileSink{}
	}
	log := cfg.Logger.With("component", "pipeline")
	return &Pipeline{
		log:       log,
		cfg:       cfg,
		session:   session,
		stats:     depthstats.NewAggregator(cfg.Logger),
		camera:    camera,
		encodeCh:  make(chan job, cfg.EncodeQueue),
		done:      make(chan struct{}),
		dataReady: make(chan struct{}),
	}
}

// SetCamera binds the capture device when it could not be passed to New,
// typically because the camera needs the pipeline as its receiver. Call it
// before Run.
func (p *Pipeline) SetCamera(c Camera) {
	p.camera = c
}

// Run starts the statistics and encode workers and blocks until ctx is
// cancelled or a fatal condition ends the encode worker. A fatal condition
// is returned as a *FatalError. On cancellation an active recording is
// ended and its container finalized before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.doneOnce.Do(func() { close(p.done) })

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.stats.Run(ctx) })
	g.Go(func() error { return p.encodeLoop(ctx) })
	err := g.Wait()

	p.photoMu.Lock()
	if p.photoTimer != nil {
		p.photoTimer.Stop()
		p.photoTimer = nil
	}
	p.photoMu.Unlock()
	p.session.Wait()
	return err
}

// OnStreamFrame handles one synchronized sensor tick.
func (p *Pipeline) OnStreamFrame(frame *media.CapturedFrame) {
	p.counters.ticks.Add(1)
	if p.suppressed.Load() {
		p.counters.suppressed.Add(1)
		return
	}

	p.stats.Submit(frame.Depth)

	if p.recording.Load() && !p.paused.Load() {
		select {
		case p.encodeCh <- job{kind: jobFrame, frame: frame}:
			p.counters.encodeQueued.Add(1)
		default:
			p.counters.droppedQueueFull.Add(1)
			p.log.Debug("encode queue full, frame dropped", "seq", frame.Seq)
		}
	}

	p.publish(frame)
}

// OnPhotoFrame handles the high-resolution pair produced by CapturePhoto.
// photo may be nil, in which case the color planes are encoded as JPEG.
// A frame with no pending request (for example one that arrives after
// ResumeStream) is discarded without touching the photo state.
func (p *Pipeline) OnPhotoFrame(frame *media.CapturedFrame, photo *media.Still) {
	p.photoMu.Lock()
	base, id := p.photoBase, p.photoID
	if base == "" {
		p.photoMu.Unlock()
		p.counters.photoDiscarded.Add(1)
		p.log.Warn("photo frame without a pending request, ignored", "seq", frame.Seq)
		return
	}
	p.photoBase, p.photoID = "", ""
	p.waitingForCapture.Store(false)
	p.processingResult.Store(true)
	p.photoMu.Unlock()

	p.stats.Replace(frame.Depth)
	p.publish(frame)

	select {
	case p.encodeCh <- job{kind: jobPhoto, frame: frame, still: photo, base: base, id: id}:
	case <-p.done:
		p.log.Warn("photo frame arrived after shutdown", "seq", frame.Seq)
	}
}

// publish swaps frame into the live cache and fires the one-shot
// data-available transition.
func (p *Pipeline) publish(frame *media.CapturedFrame) {
	p.live.Store(frame)
	p.counters.published.Add(1)
	p.dataOnce.Do(func() {
		close(p.dataReady)
		p.log.Info("data available", "seq", frame.Seq)
	})
}

// Latest returns the most recently published frame, or nil.
func (p *Pipeline) Latest() *media.CapturedFrame {
	return p.live.Load()
}

// DataAvailable is closed the first time a frame reaches the live cache.
func (p *Pipeline) DataAvailable() <-chan struct{} {
	return p.dataReady
}

// Distance returns the latest published depth range.
func (p *Pipeline) Distance() media.DistanceRange {
	return p.stats.Latest()
}

// DistanceString is the display form of Distance.
func (p *Pipeline) DistanceString() string {
	return p.stats.DisplayString()
}
