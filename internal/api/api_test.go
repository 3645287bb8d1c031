package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/depthcap/internal/capturelog"
	"github.com/zsiec/depthcap/internal/depthfile"
	"github.com/zsiec/depthcap/internal/media"
	"github.com/zsiec/depthcap/internal/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeController struct {
	mu        sync.Mutex
	recording bool
	bases     []string
	filtering bool
	startErr  error
	photoErr  error
	resumeErr error
	latest    *media.CapturedFrame
}

func (f *fakeController) StartRecording(_ context.Context, base string) (pipeline.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return pipeline.Capture{}, f.startErr
	}
	if f.recording {
		return pipeline.Capture{}, pipeline.ErrAlreadyRecording
	}
	f.recording = true
	f.bases = append(f.bases, base)
	return pipeline.Capture{ID: "s1", Name: filepath.Base(base), Kind: pipeline.KindVideo,
		Paths: depthfile.RecordingPaths(base)}, nil
}

func (f *fakeController) StopRecording(context.Context) (pipeline.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return pipeline.Capture{}, pipeline.ErrNotRecording
	}
	f.recording = false
	return pipeline.Capture{ID: "s1", Frames: 12}, nil
}

func (f *fakeController) TriggerPhoto(base string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bases = append(f.bases, base)
	return "p1", f.photoErr
}

func (f *fakeController) ResumeStream(context.Context) error { return f.resumeErr }

func (f *fakeController) SetFiltering(enabled bool) {
	f.mu.Lock()
	f.filtering = enabled
	f.mu.Unlock()
}

func (f *fakeController) Recording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording
}

func (f *fakeController) Status() pipeline.Status {
	return pipeline.Status{State: "idle", Distance: "Range: no return to 0.0 mm"}
}

func (f *fakeController) Latest() *media.CapturedFrame { return f.latest }

type fakeLog struct {
	entries []capturelog.Entry
	cleared string
}

func (l *fakeLog) List(context.Context) ([]capturelog.Entry, error) { return l.entries, nil }

func (l *fakeLog) Clear(_ context.Context, dir string) (int, error) {
	l.cleared = dir
	return 3, nil
}

func newTestServer(t *testing.T) (*Server, *fakeController, *fakeLog) {
	t.Helper()
	ctl := &fakeController{}
	clog := &fakeLog{}
	s := New(Config{OutputDir: t.TempDir(), Platform: depthfile.PlatformThis, FPS: 30}, ctl, clog)
	return s, ctl, clog
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func TestRecordingLifecycle(t *testing.T) {
	t.Parallel()

	s, ctl, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/api/recording/start", `{"name":"walk"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", w.Code, w.Body)
	}
	var c pipeline.Capture
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatal(err)
	}
	if c.Name != "walk" || !strings.HasSuffix(c.Paths.Depth, "walk_depth.idep") {
		t.Errorf("capture: %+v", c)
	}
	if got := ctl.bases[0]; got != filepath.Join(s.cfg.OutputDir, "walk") {
		t.Errorf("base: %s", got)
	}

	if w := do(s, http.MethodPost, "/api/recording/start", `{"name":"again"}`); w.Code != http.StatusConflict {
		t.Errorf("double start: %d", w.Code)
	}
	if w := do(s, http.MethodDelete, "/api/captures", ""); w.Code != http.StatusConflict {
		t.Errorf("clear while recording: %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/recording/stop", ""); w.Code != http.StatusOK {
		t.Errorf("stop: %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/recording/stop", ""); w.Code != http.StatusConflict {
		t.Errorf("stop idle: %d", w.Code)
	}
}

func TestStartDefaultsAndValidation(t *testing.T) {
	t.Parallel()

	s, ctl, _ := newTestServer(t)
	if w := do(s, http.MethodPost, "/api/recording/start", ""); w.Code != http.StatusCreated {
		t.Fatalf("start without body: %d", w.Code)
	}
	if filepath.Base(ctl.bases[0]) != DefaultCaptureName {
		t.Errorf("default name: %s", ctl.bases[0])
	}

	for _, name := range []string{"../x", "a/b", ".."} {
		w := do(s, http.MethodPost, "/api/photo", fmt.Sprintf(`{"name":%q}`, name))
		if w.Code != http.StatusBadRequest {
			t.Errorf("name %q: got %d", name, w.Code)
		}
	}
}

func TestFatalMapsTo500(t *testing.T) {
	t.Parallel()

	s, ctl, _ := newTestServer(t)
	ctl.startErr = &pipeline.FatalError{Stage: "start recording", Err: errors.New("no encoder")}
	if w := do(s, http.MethodPost, "/api/recording/start", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("got %d", w.Code)
	}
	ctl.startErr = pipeline.ErrStopped
	if w := do(s, http.MethodPost, "/api/recording/start", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d", w.Code)
	}
}

func TestPhotoAndResume(t *testing.T) {
	t.Parallel()

	s, ctl, _ := newTestServer(t)
	w := do(s, http.MethodPost, "/api/photo", `{"name":"shot"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("photo: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "shot_photo_depth.idep") {
		t.Errorf("photo body: %s", w.Body)
	}

	ctl.photoErr = pipeline.ErrPhotoPending
	if w := do(s, http.MethodPost, "/api/photo", `{"name":"shot"}`); w.Code != http.StatusConflict {
		t.Errorf("pending photo: %d", w.Code)
	}

	if w := do(s, http.MethodPost, "/api/stream/resume", ""); w.Code != http.StatusOK {
		t.Errorf("resume: %d", w.Code)
	}
	ctl.resumeErr = pipeline.ErrNotProcessing
	if w := do(s, http.MethodPost, "/api/stream/resume", ""); w.Code != http.StatusConflict {
		t.Errorf("resume idle: %d", w.Code)
	}
}

func TestFiltering(t *testing.T) {
	t.Parallel()

	s, ctl, _ := newTestServer(t)
	if w := do(s, http.MethodPut, "/api/filtering", `{"enabled":true}`); w.Code != http.StatusOK {
		t.Fatalf("filtering: %d %s", w.Code, w.Body)
	}
	if !ctl.filtering {
		t.Error("filtering not applied")
	}
	if w := do(s, http.MethodPut, "/api/filtering", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing field: %d", w.Code)
	}
}

func TestCapturesAndFiles(t *testing.T) {
	t.Parallel()

	s, _, clog := newTestServer(t)
	clog.entries = []capturelog.Entry{{ID: 1, Name: "walk", Kind: "video"}}

	w := do(s, http.MethodGet, "/api/captures", "")
	var entries []capturelog.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "walk" {
		t.Errorf("entries: %+v", entries)
	}

	w = do(s, http.MethodDelete, "/api/captures", "")
	if w.Code != http.StatusOK || clog.cleared != s.cfg.OutputDir {
		t.Errorf("clear: %d dir=%q", w.Code, clog.cleared)
	}

	if w := do(s, http.MethodGet, "/api/files", ""); w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Errorf("files: %d %s", w.Code, w.Body)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)
	w := do(s, http.MethodGet, "/api/status", "")
	var st pipeline.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.State != "idle" || st.Distance == "" {
		t.Errorf("status: %+v", st)
	}
	if w := do(s, http.MethodGet, "/api/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown route: %d", w.Code)
	}
}

func TestLiveDepth(t *testing.T) {
	t.Parallel()

	s, ctl, _ := newTestServer(t)
	if w := do(s, http.MethodGet, "/api/live/depth", ""); w.Code != http.StatusNoContent {
		t.Fatalf("empty cache: %d", w.Code)
	}

	ctl.latest = &media.CapturedFrame{
		Seq:        9,
		Depth:      &media.DepthPlane{Width: 4, Height: 2, BytesPerSample: 2, Data: make([]byte, 16)},
		Intrinsics: media.Intrinsics{Fx: 600, Fy: 600, Cx: 160, Cy: 90},
		Reference:  media.Dimensions{Width: 320, Height: 180},
	}
	w := do(s, http.MethodGet, "/api/live/depth", "")
	if w.Code != http.StatusOK {
		t.Fatalf("live depth: %d", w.Code)
	}
	if got := w.Header().Get("X-Intrinsics"); got != "600,600,160,90" {
		t.Errorf("intrinsics header: %q", got)
	}
	r, err := depthfile.NewReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if h := r.Header(); h.Width != 4 || h.Height != 2 || h.FPS != 30 {
		t.Errorf("header: %+v", h)
	}
	n, err := r.Count()
	if err != nil || n != 1 {
		t.Errorf("records: %d, %v", n, err)
	}
}

func TestAltSvcLogsThroughComponentLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := New(Config{OutputDir: t.TempDir(), Logger: log}, &fakeController{}, &fakeLog{})

	// No listener is attached, so the header may be unavailable.
	h := s.altSvc(&http3.Server{}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status: got %d", w.Code)
	}
	if w.Header().Get("Alt-Svc") == "" {
		out := buf.String()
		if !strings.Contains(out, "set Alt-Svc") || !strings.Contains(out, "component=api") {
			t.Errorf("Alt-Svc failure not logged by the api logger:\n%s", out)
		}
	}
}
