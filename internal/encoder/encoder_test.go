package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/depthcap/internal/media"
)

// fakeWriter records appends and follows a scripted readiness sequence.
type fakeWriter struct {
	mu        sync.Mutex
	notReady  map[int]bool
	failAt    int
	calls     int
	pts       []time.Duration
	finishEnd time.Duration
	finished  chan struct{}
	cancelled bool
	release   chan struct{}
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{notReady: map[int]bool{}, failAt: -1, finished: make(chan struct{})}
}

func (f *fakeWriter) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return !f.notReady[f.calls]
}

func (f *fakeWriter) Append(_ *media.ColorFrame, pts time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt == f.calls {
		return errors.New("disk full")
	}
	f.pts = append(f.pts, pts)
	return nil
}

func (f *fakeWriter) Finish(ctx context.Context, end time.Duration) error {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.finishEnd = end
	f.mu.Unlock()
	close(f.finished)
	return nil
}

func (f *fakeWriter) Cancel() error {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
	return nil
}

func factoryFor(w *fakeWriter) WriterFactory {
	return func(string, TrackConfig) (Writer, error) { return w, nil }
}

var track30 = TrackConfig{Width: 64, Height: 32, FPS: 30, Codec: "h264"}

func TestSessionAppendAdvancesClock(t *testing.T) {
	t.Parallel()

	w := newFakeWriter()
	s := NewSession(factoryFor(w), track30)
	if err := s.Start(filepath.Join(t.TempDir(), "a_rgb.mp4")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		ok, err := s.Append(&media.ColorFrame{})
		if err != nil || !ok {
			t.Fatalf("append %d: ok=%v err=%v", i, ok, err)
		}
	}

	step := time.Second / 30
	want := []time.Duration{0, step, 2 * step}
	for i, p := range want {
		if w.pts[i] != p {
			t.Errorf("pts[%d]: got %v, want %v", i, w.pts[i], p)
		}
	}
	if s.Clock() != 3*step {
		t.Errorf("Clock: got %v, want %v", s.Clock(), 3*step)
	}
}

func TestSessionNotReadyDrops(t *testing.T) {
	t.Parallel()

	w := newFakeWriter()
	w.notReady[2] = true
	s := NewSession(factoryFor(w), track30)
	if err := s.Start(filepath.Join(t.TempDir(), "a_rgb.mp4")); err != nil {
		t.Fatal(err)
	}

	var accepted int
	for i := 0; i < 3; i++ {
		ok, err := s.Append(&media.ColorFrame{})
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			accepted++
		}
	}
	if accepted != 2 {
		t.Errorf("accepted: got %d, want 2", accepted)
	}
	// The dropped tick does not consume a presentation slot.
	if s.Clock() != 2*(time.Second/30) {
		t.Errorf("Clock: got %v", s.Clock())
	}
	if a, d := s.Counters(); a != 2 || d != 1 {
		t.Errorf("counters: appended=%d dropped=%d", a, d)
	}
}

func TestSessionAppendFailureAborts(t *testing.T) {
	t.Parallel()

	w := newFakeWriter()
	w.failAt = 1
	s := NewSession(factoryFor(w), track30)
	if err := s.Start(filepath.Join(t.TempDir(), "a_rgb.mp4")); err != nil {
		t.Fatal(err)
	}

	_, err := s.Append(&media.ColorFrame{})
	if !errors.Is(err, ErrAppendFailed) {
		t.Fatalf("got %v, want ErrAppendFailed", err)
	}
	if !w.cancelled {
		t.Error("writer should be cancelled")
	}
	if s.State() != StateIdle {
		t.Errorf("State: got %v, want idle", s.State())
	}
}

func TestSessionStartRemovesExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a_rgb.mp4")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	var sawFile bool
	factory := func(p string, _ TrackConfig) (Writer, error) {
		_, err := os.Stat(p)
		sawFile = err == nil
		return newFakeWriter(), nil
	}
	s := NewSession(factory, track30)
	if err := s.Start(path); err != nil {
		t.Fatal(err)
	}
	if sawFile {
		t.Error("stale container still present when the writer opened")
	}
}

func TestSessionStartTrackFailure(t *testing.T) {
	t.Parallel()

	factory := func(string, TrackConfig) (Writer, error) { return nil, errors.New("no h264 encoder") }
	s := NewSession(factory, track30)
	err := s.Start(filepath.Join(t.TempDir(), "a_rgb.mp4"))
	if !errors.Is(err, ErrTrackSetup) {
		t.Fatalf("got %v, want ErrTrackSetup", err)
	}
	if s.State() != StateIdle {
		t.Errorf("State: got %v", s.State())
	}
}

func TestSessionDoubleStart(t *testing.T) {
	t.Parallel()

	s := NewSession(factoryFor(newFakeWriter()), track30)
	dir := t.TempDir()
	if err := s.Start(filepath.Join(dir, "a.mp4")); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(filepath.Join(dir, "b.mp4")); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("got %v, want ErrAlreadyRecording", err)
	}
}

func TestSessionPauseResume(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }

	w := newFakeWriter()
	s := NewSession(factoryFor(w), track30, WithClock(clock))
	if err := s.Start(filepath.Join(t.TempDir(), "a.mp4")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(&media.ColorFrame{}); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Second)
	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(&media.ColorFrame{}); !errors.Is(err, ErrNotRecording) {
		t.Errorf("append while paused: got %v", err)
	}

	now = now.Add(10 * time.Second)
	clockBefore := s.Clock()
	if err := s.Resume(); err != nil {
		t.Fatal(err)
	}
	if s.Clock() != clockBefore {
		t.Errorf("resume moved clock from %v to %v", clockBefore, s.Clock())
	}

	now = now.Add(time.Second)
	if got := s.Elapsed(); got != 3*time.Second {
		t.Errorf("Elapsed: got %v, want 3s", got)
	}
	if err := s.Resume(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("resume while recording: got %v", err)
	}
}

func TestSessionEndFinalizesAsync(t *testing.T) {
	t.Parallel()

	w := newFakeWriter()
	w.release = make(chan struct{})
	s := NewSession(factoryFor(w), track30)
	if err := s.Start(filepath.Join(t.TempDir(), "a.mp4")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(&media.ColorFrame{}); err != nil {
		t.Fatal(err)
	}

	done, err := s.End()
	if err != nil {
		t.Fatal(err)
	}
	// End returned while Finish is still blocked.
	if s.State() != StateIdle {
		t.Errorf("State: got %v, want idle", s.State())
	}
	close(w.release)

	if err := <-done; err != nil {
		t.Fatalf("finish: %v", err)
	}
	s.Wait()
	if w.finishEnd != time.Second/30 {
		t.Errorf("finish end: got %v", w.finishEnd)
	}

	if _, err := s.End(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second End: got %v", err)
	}
}

func TestSessionEndWhilePaused(t *testing.T) {
	t.Parallel()

	w := newFakeWriter()
	s := NewSession(factoryFor(w), track30)
	if err := s.Start(filepath.Join(t.TempDir(), "a.mp4")); err != nil {
		t.Fatal(err)
	}
	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}
	done, err := s.End()
	if err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestReadyGate(t *testing.T) {
	t.Parallel()

	var g ReadyGate
	if !g.Ready() {
		t.Fatal("gate should start open")
	}
	g.Close()
	g.Close()
	if g.Ready() {
		t.Error("closed gate reports ready")
	}
	g.Open()
	if !g.Ready() {
		t.Error("reopened gate not ready")
	}
	if g.Flips() != 2 {
		t.Errorf("Flips: got %d, want 2", g.Flips())
	}
}

func TestDiscardWriter(t *testing.T) {
	t.Parallel()

	w, err := NewDiscardWriter("", track30)
	if err != nil {
		t.Fatal(err)
	}
	s := NewSession(func(string, TrackConfig) (Writer, error) { return w, nil }, track30)
	if err := s.Start(filepath.Join(t.TempDir(), "x.mp4")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := s.Append(&media.ColorFrame{}); err != nil {
			t.Fatal(err)
		}
	}
	if got := w.(*DiscardWriter).Frames(); got != 4 {
		t.Errorf("Frames: got %d, want 4", got)
	}
}
