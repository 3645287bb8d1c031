// Package sensor provides a synthetic depth camera. It produces
// synchronized NV12 color and float16 depth pairs at a fixed rate and
// answers photo requests with a single higher-resolution pair, standing in
// for a physical LiDAR device.
package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/x448/float16"

	"github.com/zsiec/depthcap/internal/media"
)

// ErrPhotoBusy is returned when a photo request is already outstanding.
var ErrPhotoBusy = errors.New("sensor: photo request already pending")

// Receiver gets every synchronized pair the camera produces.
type Receiver interface {
	OnStreamFrame(frame *media.CapturedFrame)
	OnPhotoFrame(frame *media.CapturedFrame, photo *media.Still)
}

// Config sets the camera's output formats.
type Config struct {
	FPS        int
	Color      media.Dimensions
	Depth      media.Dimensions
	PhotoColor media.Dimensions
	PhotoDepth media.Dimensions
	Logger     *slog.Logger
}

// Camera is a synthetic depth camera. Streaming starts enabled; a photo
// request pauses it until StartStream is called again.
type Camera struct {
	log  *slog.Logger
	cfg  Config
	recv Receiver

	streaming atomic.Bool
	filtering atomic.Bool
	photoReq  chan struct{}

	mu  sync.Mutex
	seq uint64
}

// New creates a camera delivering to recv.
func New(cfg Config, recv Receiver) *Camera {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.PhotoColor.Width == 0 {
		cfg.PhotoColor = cfg.Color
	}
	if cfg.PhotoDepth.Width == 0 {
		cfg.PhotoDepth = cfg.Depth
	}
	c := &Camera{
		log:      cfg.Logger.With("component", "sensor"),
		cfg:      cfg,
		recv:     recv,
		photoReq: make(chan struct{}, 1),
	}
	c.streaming.Store(true)
	return c
}

// Run ticks at the configured rate until ctx is cancelled.
func (c *Camera) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.FPS))
	defer ticker.Stop()
	start := time.Now()
	c.log.Info("sensor running", "fps", c.cfg.FPS,
		"color", c.cfg.Color, "depth", c.cfg.Depth)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.photoReq:
			frame := c.frame(c.cfg.PhotoColor, c.cfg.PhotoDepth, time.Since(start))
			c.log.Debug("photo pair captured", "seq", frame.Seq)
			c.recv.OnPhotoFrame(frame, nil)
		case <-ticker.C:
			if !c.streaming.Load() {
				continue
			}
			c.recv.OnStreamFrame(c.frame(c.cfg.Color, c.cfg.Depth, time.Since(start)))
		}
	}
}

// StartStream resumes stream delivery.
func (c *Camera) StartStream() error {
	c.streaming.Store(true)
	return nil
}

// StopStream halts stream delivery. Photo requests are still served.
func (c *Camera) StopStream() {
	c.streaming.Store(false)
}

// CapturePhoto stops streaming and queues one photo pair, delivered through
// OnPhotoFrame from the Run goroutine.
func (c *Camera) CapturePhoto() error {
	select {
	case c.photoReq <- struct{}{}:
		c.streaming.Store(false)
		return nil
	default:
		return ErrPhotoBusy
	}
}

// SetFiltering toggles hole filling. Unfiltered depth carries zero-valued
// dropout samples.
func (c *Camera) SetFiltering(enabled bool) {
	c.filtering.Store(enabled)
}

// Filtering reports the current filtering mode.
func (c *Camera) Filtering() bool {
	return c.filtering.Load()
}

func (c *Camera) nextSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// frame renders one pair at elapsed time ts. Each call allocates fresh
// planes, so delivered frames are never touched again.
func (c *Camera) frame(color, depth media.Dimensions, ts time.Duration) *media.CapturedFrame {
	return &media.CapturedFrame{
		Seq:        c.nextSeq(),
		Color:      renderColor(color, ts),
		Depth:      renderDepth(depth, ts, c.filtering.Load()),
		Intrinsics: IntrinsicsFor(color),
		Reference:  color,
		CapturedAt: time.Now(),
	}
}

// IntrinsicsFor returns pinhole parameters for a roughly 70 degree
// horizontal field of view at the given reference resolution.
func IntrinsicsFor(ref media.Dimensions) media.Intrinsics {
	f := float32(ref.Width) * 0.714
	return media.Intrinsics{
		Fx: f,
		Fy: f,
		Cx: float32(ref.Width) / 2,
		Cy: float32(ref.Height) / 2,
	}
}

// renderColor draws a horizontal luma ramp that scrolls with time over
// neutral chroma.
func renderColor(d media.Dimensions, ts time.Duration) *media.ColorFrame {
	shift := int(ts.Milliseconds() / 8)
	y := make([]byte, d.Width*d.Height)
	row := y[:d.Width]
	for x := range row {
		row[x] = byte((x + shift) & 0xff)
	}
	for r := 1; r < d.Height; r++ {
		copy(y[r*d.Width:(r+1)*d.Width], row)
	}
	chromaW, chromaH := (d.Width+1)/2, (d.Height+1)/2
	cbcr := make([]byte, chromaW*2*chromaH)
	for i := range cbcr {
		cbcr[i] = 128
	}
	return &media.ColorFrame{Width: d.Width, Height: d.Height, Y: y, CbCr: cbcr, Timestamp: ts}
}

// renderDepth produces a tilted plane between roughly 0.4 m and 2.2 m with
// a slow ripple. Without filtering every 23rd sample is a dropout.
func renderDepth(d media.Dimensions, ts time.Duration, filtered bool) *media.DepthPlane {
	data := make([]byte, d.Width*d.Height*2)
	phase := ts.Seconds()
	for r := 0; r < d.Height; r++ {
		for x := 0; x < d.Width; x++ {
			i := r*d.Width + x
			var v float32
			if filtered || i%23 != 0 {
				u := float64(x) / float64(max(d.Width-1, 1))
				w := float64(r) / float64(max(d.Height-1, 1))
				v = float32(0.4 + 1.5*u + 0.2*w + 0.05*math.Sin(phase+6*u))
			}
			binary.LittleEndian.PutUint16(data[2*i:], float16.Fromfloat32(v).Bits())
		}
	}
	return &media.DepthPlane{Width: d.Width, Height: d.Height, BytesPerSample: 2, Data: data}
}
