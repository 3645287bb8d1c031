package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/zsiec/depthcap/internal/depthfile"
	"github.com/zsiec/depthcap/internal/encoder"
	"github.com/zsiec/depthcap/internal/media"
	"github.com/zsiec/depthcap/internal/still"
)

type jobKind int

const (
	jobFrame jobKind = iota
	jobStart
	jobStop
	jobPause
	jobResume
	jobPhoto
)

// job is one message on the encode queue. Commands and frames share the
// queue so a stop always lands after every frame enqueued before it.
type job struct {
	kind  jobKind
	frame *media.CapturedFrame
	still *media.Still
	base  string
	id    string
	reply chan reply
}

type reply struct {
	capture Capture
	err     error
}

// Capture describes one finished recording or saved photo.
type Capture struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Paths     depthfile.Paths `json:"paths"`
	Frames    int64           `json:"frames"`
	Dropped   int64           `json:"dropped"`
	Elapsed   time.Duration   `json:"elapsed"`
	StartedAt time.Time       `json:"startedAt"`
	EndedAt   time.Time       `json:"endedAt"`
}

// Capture kinds.
const (
	KindVideo = "video"
	KindPhoto = "photo"
)

// CaptureHook receives finished captures.
type CaptureHook func(Capture)

// recording is the encode worker's view of the active session.
type recording struct {
	id        string
	base      string
	paths     depthfile.Paths
	depth     *depthfile.Writer
	startedAt time.Time
	// dropped counts frames lost between the dispatch decision and the
	// encoder: queued after a pause or stop took effect.
	dropped int64
}

func (p *Pipeline) encodeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil
		case j := <-p.encodeCh:
			if err := p.handle(j); err != nil {
				p.teardown(err)
				return err
			}
		}
	}
}

func (p *Pipeline) handle(j job) error {
	switch j.kind {
	case jobFrame:
		return p.encodeFrame(j.frame)
	case jobStart:
		c, err := p.startRecording(j.base, j.id)
		j.reply <- reply{capture: c, err: err}
		var fe *FatalError
		if errors.As(err, &fe) {
			return err
		}
	case jobStop:
		c, err := p.stopRecording()
		j.reply <- reply{capture: c, err: err}
	case jobPause:
		if err := p.session.Pause(); err != nil {
			p.log.Debug("pause ignored", "error", err)
		}
		j.reply <- reply{}
	case jobResume:
		if err := p.session.Resume(); err != nil {
			p.log.Debug("resume ignored", "error", err)
		}
		j.reply <- reply{}
	case jobPhoto:
		return p.writePhoto(j)
	}
	return nil
}

func (p *Pipeline) startRecording(base, id string) (Capture, error) {
	if p.rec != nil {
		return Capture{}, ErrAlreadyRecording
	}
	h := depthfile.Header{
		Platform:       p.cfg.Platform,
		Width:          uint32(p.cfg.Depth.Width),
		Height:         uint32(p.cfg.Depth.Height),
		BytesPerSample: uint32(p.cfg.BytesPerSample),
		FPS:            uint32(p.cfg.FPS),
	}
	paths := depthfile.RecordingPaths(base)

	if err := p.session.Start(paths.Color); err != nil {
		return Capture{}, fatal("start recording", err)
	}
	w := depthfile.NewWriter(p.cfg.Sink, paths.Depth, h)
	if err := w.WriteHeader(); err != nil {
		p.session.Abort()
		return Capture{}, fatal("write depth header", err)
	}

	p.rec = &recording{
		id:        id,
		base:      base,
		paths:     paths,
		depth:     w,
		startedAt: time.Now(),
	}
	p.recording.Store(true)
	p.log.Info("recording active", "session", id, "capture", filepath.Base(base))
	return Capture{ID: id, Name: filepath.Base(base), Kind: KindVideo, Paths: paths, StartedAt: p.rec.startedAt}, nil
}

// encodeFrame appends one pair. Depth length is checked before the color
// half goes anywhere so a rejected pair leaves both files untouched, and a
// not-ready encoder drops both halves together.
func (p *Pipeline) encodeFrame(frame *media.CapturedFrame) error {
	if p.rec == nil || p.session.State() != encoder.StateRecording {
		if p.rec != nil {
			p.rec.dropped++
		}
		p.counters.droppedInactive.Add(1)
		return nil
	}

	raw, err := frame.Depth.Packed()
	if err != nil {
		return fatal("depth buffer", fmt.Errorf("%w: %w", depthfile.ErrShortDepth, err))
	}
	if err := depthfile.CheckLength(p.rec.depth.Header(), len(raw)); err != nil {
		return fatal("depth buffer", err)
	}

	ok, err := p.session.Append(frame.Color)
	if err != nil {
		return fatal("append color", err)
	}
	if !ok {
		p.counters.droppedNotReady.Add(1)
		p.log.Debug("encoder not ready, pair dropped", "seq", frame.Seq)
		return nil
	}

	if err := p.rec.depth.AppendFrame(frame.Intrinsics, raw); err != nil {
		return fatal("append depth", err)
	}
	p.counters.encoded.Add(1)
	p.counters.depthRecords.Add(1)
	return nil
}

func (p *Pipeline) stopRecording() (Capture, error) {
	rec := p.rec
	if rec == nil {
		return Capture{}, ErrNotRecording
	}
	p.rec = nil
	p.recording.Store(false)
	p.paused.Store(false)

	elapsed := p.session.Elapsed()
	appended, dropped := p.session.Counters()
	if _, err := p.session.End(); err != nil {
		return Capture{}, err
	}

	c := Capture{
		ID:        rec.id,
		Name:      filepath.Base(rec.base),
		Kind:      KindVideo,
		Paths:     rec.paths,
		Frames:    appended,
		Dropped:   dropped + rec.dropped,
		Elapsed:   elapsed,
		StartedAt: rec.startedAt,
		EndedAt:   time.Now(),
	}
	p.log.Info("recording stopped", "session", c.ID, "capture", c.Name,
		"frames", c.Frames, "depthRecords", rec.depth.Records(), "dropped", c.Dropped)
	p.notify(c)
	return c, nil
}

// writePhoto writes the photo depth file (header sized from the plane
// itself plus one record) and the color still. A still that cannot be
// produced is logged and skipped; depth and storage failures are fatal.
func (p *Pipeline) writePhoto(j job) error {
	frame := j.frame
	startedAt := time.Now()

	ext := ""
	if j.still != nil {
		ext = j.still.Ext
	}
	paths := depthfile.PhotoPaths(j.base, ext)

	bps := frame.Depth.BytesPerSample
	if bps == 0 {
		bps = p.cfg.BytesPerSample
	}
	h := depthfile.Header{
		Platform:       p.cfg.Platform,
		Width:          uint32(frame.Depth.Width),
		Height:         uint32(frame.Depth.Height),
		BytesPerSample: uint32(bps),
		FPS:            uint32(p.cfg.FPS),
	}
	raw, err := frame.Depth.Packed()
	if err != nil {
		return fatal("photo depth buffer", fmt.Errorf("%w: %w", depthfile.ErrShortDepth, err))
	}
	w := depthfile.NewWriter(p.cfg.Sink, paths.Depth, h)
	if err := w.WriteHeader(); err != nil {
		return fatal("photo depth header", err)
	}
	if err := w.AppendFrame(frame.Intrinsics, raw); err != nil {
		return fatal("photo depth record", err)
	}

	var data []byte
	if j.still != nil && len(j.still.Data) > 0 {
		data = j.still.Data
	} else {
		data, err = still.EncodeBytes(frame.Color, p.cfg.JPEGQuality)
		if err != nil {
			p.counters.photoFailures.Add(1)
			p.log.Error("photo still encode failed", "capture", filepath.Base(j.base), "error", err)
			return nil
		}
	}
	if err := p.cfg.Sink.Overwrite(paths.Color, data); err != nil {
		return fatal("photo still write", err)
	}

	p.counters.photos.Add(1)
	c := Capture{
		ID:        j.id,
		Name:      filepath.Base(j.base),
		Kind:      KindPhoto,
		Paths:     paths,
		Frames:    1,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
	}
	p.log.Info("photo saved", "session", c.ID, "capture", c.Name,
		"depth", fmt.Sprintf("%dx%d", h.Width, h.Height), "bytes", len(data))
	p.notify(c)
	return nil
}

func (p *Pipeline) notify(c Capture) {
	if p.cfg.OnCapture != nil {
		p.cfg.OnCapture(c)
	}
}

// teardown cancels the active recording after a fatal condition. The
// depth file keeps every record appended so far.
func (p *Pipeline) teardown(err error) {
	p.log.Error("fatal pipeline error, recording torn down", "error", err)
	p.recording.Store(false)
	p.paused.Store(false)
	p.session.Abort()
	p.rec = nil
}

// shutdown ends an active recording on cancellation so its container is
// finalized. Run waits for the finalize.
func (p *Pipeline) shutdown() {
	if p.rec == nil {
		return
	}
	if _, err := p.stopRecording(); err != nil {
		p.log.Warn("stop recording on shutdown", "error", err)
	}
}
