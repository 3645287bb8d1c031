// Package encoder owns the color recording session: the state machine
// around an opaque container writer, its readiness signal, and the
// fixed-increment presentation clock stamped on every accepted frame.
//
// A Session is driven by a single goroutine (the pipeline's encode worker).
// Only State, Clock, and the counters may be read from other goroutines.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/depthcap/internal/depthfile"
	"github.com/zsiec/depthcap/internal/media"
)

// Sentinel errors for session control. ErrTrackSetup and ErrAppendFailed
// are fatal: the session is torn down before they are returned.
var (
	ErrAlreadyRecording = errors.New("encoder: session already active")
	ErrNotRecording     = errors.New("encoder: no active session")
	ErrTrackSetup       = errors.New("encoder: cannot add track or begin writing")
	ErrAppendFailed     = errors.New("encoder: append failed after readiness")
)

// TrackConfig describes the single video track of an output container.
type TrackConfig struct {
	Width  int
	Height int
	FPS    int
	Codec  string
}

// FrameDuration returns the presentation increment for one frame.
func (t TrackConfig) FrameDuration() time.Duration {
	if t.FPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(t.FPS)
}

// Writer is an open output container with one video track. Ready must not
// block. Finish closes the track at end and finalizes the container.
type Writer interface {
	Ready() bool
	Append(frame *media.ColorFrame, pts time.Duration) error
	Finish(ctx context.Context, end time.Duration) error
	Cancel() error
}

// WriterFactory opens a container at path, adds the video track, and
// begins writing at presentation time zero.
type WriterFactory func(path string, track TrackConfig) (Writer, error)

// State is the lifecycle position of a Session.
type State int32

// Session states.
const (
	StateIdle State = iota
	StateRecording
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Session is the Idle → Recording → (Paused ⇄ Recording)* → Idle state
// machine around one Writer at a time.
type Session struct {
	log             *slog.Logger
	factory         WriterFactory
	track           TrackConfig
	frameDuration   time.Duration
	finalizeTimeout time.Duration
	now             func() time.Time

	writer       Writer
	path         string
	segmentStart time.Time
	elapsed      time.Duration

	state    atomic.Int32
	clock    atomic.Int64
	appended atomic.Int64
	dropped  atomic.Int64

	finalizing sync.WaitGroup
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

// WithFinalizeTimeout bounds how long background finalization may take.
func WithFinalizeTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.finalizeTimeout = d
	}
}

// WithClock replaces time.Now for elapsed-time bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// NewSession creates an idle session that opens writers through factory.
func NewSession(factory WriterFactory, track TrackConfig, opts ...Option) *Session {
	s := &Session{
		log:             slog.Default(),
		factory:         factory,
		track:           track,
		frameDuration:   track.FrameDuration(),
		finalizeTimeout: 30 * time.Second,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "encoder")
	return s
}

// Start removes any file already at path, opens a new container there,
// and moves the session to Recording with the clock at zero.
func (s *Session) Start(path string) error {
	if s.State() != StateIdle {
		return ErrAlreadyRecording
	}
	if err := depthfile.RemoveIfExists(path); err != nil {
		return fmt.Errorf("%w: remove old container: %w", ErrTrackSetup, err)
	}
	w, err := s.factory(path, s.track)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTrackSetup, err)
	}

	s.writer = w
	s.path = path
	s.clock.Store(0)
	s.appended.Store(0)
	s.dropped.Store(0)
	s.elapsed = 0
	s.segmentStart = s.now()
	s.state.Store(int32(StateRecording))
	s.log.Info("recording started", "path", path, "width", s.track.Width, "height", s.track.Height, "fps", s.track.FPS)
	return nil
}

// Append offers one color frame. It returns false without error when the
// writer is not ready; the caller drops the whole tick. An append failure
// after readiness cancels the container, returns the session to Idle, and
// yields ErrAppendFailed.
func (s *Session) Append(frame *media.ColorFrame) (bool, error) {
	if s.State() != StateRecording {
		return false, ErrNotRecording
	}
	if !s.writer.Ready() {
		s.dropped.Add(1)
		return false, nil
	}

	pts := time.Duration(s.clock.Load())
	if err := s.writer.Append(frame, pts); err != nil {
		s.abort()
		return false, fmt.Errorf("%w at %v: %w", ErrAppendFailed, pts, err)
	}
	s.clock.Add(int64(s.frameDuration))
	s.appended.Add(1)
	return true, nil
}

// Pause suppresses appends without closing the container.
func (s *Session) Pause() error {
	if !s.state.CompareAndSwap(int32(StateRecording), int32(StatePaused)) {
		return ErrNotRecording
	}
	s.elapsed += s.now().Sub(s.segmentStart)
	s.log.Info("recording paused", "path", s.path, "clock", s.Clock())
	return nil
}

// Resume re-enables appends after Pause. The presentation clock continues
// from where it stopped; only the elapsed-time reference point restarts.
func (s *Session) Resume() error {
	if !s.state.CompareAndSwap(int32(StatePaused), int32(StateRecording)) {
		return ErrNotRecording
	}
	s.segmentStart = s.now()
	s.log.Info("recording resumed", "path", s.path, "clock", s.Clock())
	return nil
}

// End closes the session at the current presentation time and finalizes
// the container in the background. The returned channel yields the
// finalize result once and is then closed.
func (s *Session) End() (<-chan error, error) {
	prev := State(s.state.Swap(int32(StateIdle)))
	if prev == StateIdle {
		return nil, ErrNotRecording
	}
	if prev == StateRecording {
		s.elapsed += s.now().Sub(s.segmentStart)
	}

	w, path, end := s.writer, s.path, s.Clock()
	s.writer = nil
	s.log.Info("recording ended", "path", path, "clock", end,
		"appended", s.appended.Load(), "dropped", s.dropped.Load())

	done := make(chan error, 1)
	s.finalizing.Add(1)
	go func() {
		defer s.finalizing.Done()
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), s.finalizeTimeout)
		defer cancel()
		err := w.Finish(ctx, end)
		if err != nil {
			s.log.Error("container finalize failed", "path", path, "error", err)
		} else {
			s.log.Info("container finalized", "path", path)
		}
		done <- err
	}()
	return done, nil
}

// Abort cancels an active session without finalizing its container.
func (s *Session) Abort() {
	if s.State() != StateIdle {
		s.abort()
	}
}

func (s *Session) abort() {
	s.state.Store(int32(StateIdle))
	if s.writer != nil {
		if err := s.writer.Cancel(); err != nil {
			s.log.Warn("cancel writer", "path", s.path, "error", err)
		}
		s.writer = nil
	}
	s.log.Error("recording aborted", "path", s.path, "clock", s.Clock())
}

// Wait blocks until every background finalization has finished.
func (s *Session) Wait() {
	s.finalizing.Wait()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Clock returns the presentation time the next accepted frame receives.
func (s *Session) Clock() time.Duration {
	return time.Duration(s.clock.Load())
}

// Elapsed returns active recording time, excluding paused intervals. It
// must be called from the goroutine that drives the session.
func (s *Session) Elapsed() time.Duration {
	if s.State() == StateRecording {
		return s.elapsed + s.now().Sub(s.segmentStart)
	}
	return s.elapsed
}

// Counters returns accepted and not-ready-dropped frame counts for the
// current or most recent session.
func (s *Session) Counters() (appended, dropped int64) {
	return s.appended.Load(), s.dropped.Load()
}

// Path returns the container path of the current or most recent session.
func (s *Session) Path() string {
	return s.path
}
