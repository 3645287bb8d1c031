// Package api exposes session control, status, the capture log, and the
// live depth frame over HTTPS (TCP) and HTTP/3 (QUIC). Both listeners serve
// the same gin engine.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/depthcap/internal/capturelog"
	"github.com/zsiec/depthcap/internal/depthfile"
	"github.com/zsiec/depthcap/internal/media"
	"github.com/zsiec/depthcap/internal/pipeline"
)

// DefaultCaptureName is used when a request names no capture.
const DefaultCaptureName = "capture"

// Controller is the pipeline surface the API drives.
type Controller interface {
	StartRecording(ctx context.Context, base string) (pipeline.Capture, error)
	StopRecording(ctx context.Context) (pipeline.Capture, error)
	TriggerPhoto(base string) (string, error)
	ResumeStream(ctx context.Context) error
	SetFiltering(enabled bool)
	Recording() bool
	Status() pipeline.Status
	Latest() *media.CapturedFrame
}

// CaptureLog is the capture history store.
type CaptureLog interface {
	List(ctx context.Context) ([]capturelog.Entry, error)
	Clear(ctx context.Context, dir string) (int, error)
}

// Config configures a Server.
type Config struct {
	Addr      string
	H3Addr    string
	TLS       *tls.Config
	OutputDir string
	// Platform and FPS stamp the header of the live depth download.
	Platform byte
	FPS      int
	Logger   *slog.Logger
}

// Server is the control API.
type Server struct {
	log    *slog.Logger
	cfg    Config
	ctl    Controller
	clog   CaptureLog
	engine *gin.Engine
}

// New builds the router. It does not listen until Serve.
func New(cfg Config, ctl Controller, clog CaptureLog) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		log:  cfg.Logger.With("component", "api"),
		cfg:  cfg,
		ctl:  ctl,
		clog: clog,
	}
	s.engine = s.routes()
	return s
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), s.accessLog())
	g.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not found")
	})

	r := g.Group("/api")
	r.GET("/status", s.status)
	r.POST("/recording/start", s.startRecording)
	r.POST("/recording/stop", s.stopRecording)
	r.POST("/photo", s.triggerPhoto)
	r.POST("/stream/resume", s.resumeStream)
	r.PUT("/filtering", s.setFiltering)
	r.GET("/captures", s.listCaptures)
	r.DELETE("/captures", s.clearCaptures)
	r.GET("/files", s.listFiles)
	r.GET("/live/depth", s.liveDepth)
	return g
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "proto", c.Request.Proto, "took", time.Since(start))
	}
}

func writeError(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

// statusFor maps pipeline errors onto HTTP codes.
func statusFor(err error) int {
	var fe *pipeline.FatalError
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRecording),
		errors.Is(err, pipeline.ErrNotRecording),
		errors.Is(err, pipeline.ErrPhotoPending),
		errors.Is(err, pipeline.ErrNotProcessing):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.As(err, &fe):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

type captureRequest struct {
	Name string `json:"name"`
}

// captureBase validates a requested capture name and joins it onto the
// output directory.
func (s *Server) captureBase(c *gin.Context) (string, bool) {
	var req captureRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid body: "+err.Error())
			return "", false
		}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultCaptureName
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		writeError(c, http.StatusBadRequest, "name must be a plain file name")
		return "", false
	}
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return "", false
	}
	return filepath.Join(s.cfg.OutputDir, name), true
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctl.Status())
}

func (s *Server) startRecording(c *gin.Context) {
	base, ok := s.captureBase(c)
	if !ok {
		return
	}
	capture, err := s.ctl.StartRecording(c.Request.Context(), base)
	if err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusCreated, capture)
}

func (s *Server) stopRecording(c *gin.Context) {
	capture, err := s.ctl.StopRecording(c.Request.Context())
	if err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, capture)
}

func (s *Server) triggerPhoto(c *gin.Context) {
	base, ok := s.captureBase(c)
	if !ok {
		return
	}
	id, err := s.ctl.TriggerPhoto(base)
	if err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "paths": depthfile.PhotoPaths(base, "")})
}

func (s *Server) resumeStream(c *gin.Context) {
	if err := s.ctl.ResumeStream(c.Request.Context()); err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, s.ctl.Status())
}

type filteringRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) setFiltering(c *gin.Context) {
	var req filteringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	s.ctl.SetFiltering(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

func (s *Server) listCaptures(c *gin.Context) {
	entries, err := s.clog.List(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []capturelog.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) clearCaptures(c *gin.Context) {
	if s.ctl.Recording() {
		writeError(c, http.StatusConflict, "cannot clear captures while recording")
		return
	}
	n, err := s.clog.Clear(c.Request.Context(), s.cfg.OutputDir)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (s *Server) listFiles(c *gin.Context) {
	names, err := capturelog.DiskFiles(s.cfg.OutputDir)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, names)
}

// memSink collects depthfile output in memory.
type memSink struct {
	buf bytes.Buffer
}

func (m *memSink) Overwrite(_ string, data []byte) error {
	m.buf.Reset()
	_, err := m.buf.Write(data)
	return err
}

func (m *memSink) Append(_ string, data []byte) error {
	_, err := m.buf.Write(data)
	return err
}

// liveDepth serves the cached frame's depth as a one-record .idep file.
func (s *Server) liveDepth(c *gin.Context) {
	frame := s.ctl.Latest()
	if frame == nil {
		c.Status(http.StatusNoContent)
		return
	}
	d := frame.Depth
	raw, err := d.Packed()
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}

	sink := &memSink{}
	w := depthfile.NewWriter(sink, "live", depthfile.Header{
		Platform:       s.cfg.Platform,
		Width:          uint32(d.Width),
		Height:         uint32(d.Height),
		BytesPerSample: uint32(d.BytesPerSample),
		FPS:            uint32(s.cfg.FPS),
	})
	if err := w.WriteHeader(); err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err := w.AppendFrame(frame.Intrinsics, raw); err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}

	in := frame.Intrinsics
	c.Header("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
	c.Header("X-Depth-Size", fmt.Sprintf("%dx%d", d.Width, d.Height))
	c.Header("X-Intrinsics", fmt.Sprintf("%g,%g,%g,%g", in.Fx, in.Fy, in.Cx, in.Cy))
	c.Header("X-Reference-Size", fmt.Sprintf("%dx%d", frame.Reference.Width, frame.Reference.Height))
	c.Data(http.StatusOK, "application/octet-stream", sink.buf.Bytes())
}

// Serve listens on the HTTPS and HTTP/3 addresses until ctx is cancelled.
// An empty H3Addr disables the QUIC listener.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var h3 *http3.Server
	handler := http.Handler(s.engine)
	if s.cfg.H3Addr != "" {
		h3 = &http3.Server{
			Addr:      s.cfg.H3Addr,
			Handler:   s.engine,
			TLSConfig: http3.ConfigureTLSConfig(s.cfg.TLS),
			QUICConfig: &quic.Config{
				MaxIdleTimeout: 30 * time.Second,
				Allow0RTT:      true,
			},
		}
		handler = s.altSvc(h3, s.engine)
	}

	tcp := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           handler,
		TLSConfig:         s.cfg.TLS,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		s.log.Info("HTTPS API server listening", "addr", s.cfg.Addr)
		if err := tcp.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	if h3 != nil {
		g.Go(func() error {
			s.log.Info("HTTP/3 API server listening", "addr", s.cfg.H3Addr)
			err := h3.ListenAndServe()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("HTTP/3 server: %w", err)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if h3 != nil {
			h3.Close()
		}
		return tcp.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// altSvc advertises the HTTP/3 endpoint on TCP responses.
func (s *Server) altSvc(h3 *http3.Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h3.SetQUICHeaders(w.Header()); err != nil {
			s.log.Debug("set Alt-Svc", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}
