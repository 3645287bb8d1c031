// Package gstmp4 writes NV12 color frames into an H.264 MP4 container
// through a GStreamer pipeline:
//
//	appsrc → videoconvert → videoscale → capsfilter → x264enc → h264parse → mp4mux → filesink
//
// appsrc's need-data/enough-data signals drive the writer's readiness, so
// a saturated encoder shows up as "not ready" instead of a blocking push.
package gstmp4

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/zsiec/depthcap/internal/encoder"
	"github.com/zsiec/depthcap/internal/media"
)

// maxQueuedFrames bounds appsrc's internal queue before it emits enough-data.
const maxQueuedFrames = 4

var initOnce sync.Once

// Writer is an encoder.Writer backed by a GStreamer pipeline.
type Writer struct {
	log      *slog.Logger
	path     string
	track    encoder.TrackConfig
	input    media.Dimensions
	pipeline *gst.Pipeline
	src      *app.Source
	gate     encoder.ReadyGate

	errMu   sync.Mutex
	busErr  error
	eos     chan struct{}
	eosOnce sync.Once
	stop    chan struct{}
	stopped sync.WaitGroup
}

// Factory returns an encoder.WriterFactory whose writers accept frames of
// the given input dimensions and scale them to the track resolution.
func Factory(input media.Dimensions, log *slog.Logger) encoder.WriterFactory {
	if log == nil {
		log = slog.Default()
	}
	return func(path string, track encoder.TrackConfig) (encoder.Writer, error) {
		return Open(path, input, track, log)
	}
}

// Open builds and starts the pipeline. Any failure to construct, link, or
// reach PLAYING is returned; the caller treats it as fatal.
func Open(path string, input media.Dimensions, track encoder.TrackConfig, log *slog.Logger) (*Writer, error) {
	if track.Codec != "" && track.Codec != "h264" {
		return nil, fmt.Errorf("gstmp4: unsupported codec %q", track.Codec)
	}
	initOnce.Do(func() { gst.Init(nil) })

	launch := fmt.Sprintf(
		"appsrc name=src ! videoconvert ! videoscale ! video/x-raw,width=%d,height=%d ! "+
			"x264enc tune=zerolatency speed-preset=veryfast ! h264parse ! mp4mux ! filesink name=sink",
		track.Width, track.Height,
	)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("gstmp4: build pipeline: %w", err)
	}

	sink, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("gstmp4: find filesink: %w", err)
	}
	if err := sink.SetProperty("location", path); err != nil {
		return nil, fmt.Errorf("gstmp4: set location: %w", err)
	}

	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		return nil, fmt.Errorf("gstmp4: find appsrc: %w", err)
	}
	src := app.SrcFromElement(srcElem)

	w := &Writer{
		log:      log.With("component", "gstmp4", "path", path),
		path:     path,
		track:    track,
		input:    input,
		pipeline: pipeline,
		src:      src,
		eos:      make(chan struct{}),
		stop:     make(chan struct{}),
	}

	frameBytes := (&media.ColorFrame{Width: input.Width, Height: input.Height}).Size()
	src.SetCaps(gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=NV12,width=%d,height=%d,framerate=%d/1",
		input.Width, input.Height, track.FPS,
	)))
	src.SetProperty("format", gst.FormatTime)
	src.SetProperty("is-live", true)
	src.SetProperty("block", false)
	src.SetProperty("max-bytes", uint64(frameBytes*maxQueuedFrames))
	src.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc:   func(*app.Source, uint) { w.gate.Open() },
		EnoughDataFunc: func(*app.Source) { w.gate.Close() },
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("gstmp4: start pipeline: %w", err)
	}

	w.stopped.Add(1)
	go w.watchBus()
	w.log.Debug("pipeline playing", "input", fmt.Sprintf("%dx%d", input.Width, input.Height),
		"output", fmt.Sprintf("%dx%d", track.Width, track.Height))
	return w, nil
}

// watchBus records the first pipeline error and signals end-of-stream.
func (w *Writer) watchBus() {
	defer w.stopped.Done()
	bus := w.pipeline.GetPipelineBus()
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			w.eosOnce.Do(func() { close(w.eos) })
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			w.errMu.Lock()
			if w.busErr == nil {
				w.busErr = fmt.Errorf("gstmp4: pipeline error: %s", gerr.Error())
			}
			w.errMu.Unlock()
			w.gate.Close()
			w.log.Error("pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
		}
	}
}

func (w *Writer) err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.busErr
}

// Ready reports whether appsrc is asking for data and the pipeline is
// healthy.
func (w *Writer) Ready() bool {
	return w.gate.Ready() && w.err() == nil
}

// Append pushes one frame stamped with pts.
func (w *Writer) Append(frame *media.ColorFrame, pts time.Duration) error {
	if err := w.err(); err != nil {
		return err
	}
	if frame.Width != w.input.Width || frame.Height != w.input.Height {
		return fmt.Errorf("gstmp4: frame %dx%d does not match track input %dx%d",
			frame.Width, frame.Height, w.input.Width, w.input.Height)
	}
	data, err := frame.Packed()
	if err != nil {
		return fmt.Errorf("gstmp4: %w", err)
	}

	buf := gst.NewBufferFromBytes(data)
	buf.SetPresentationTimestamp(pts)
	buf.SetDuration(w.track.FrameDuration())
	if ret := w.src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("gstmp4: push buffer: flow %v", ret)
	}
	return nil
}

// Finish sends end-of-stream, waits for mp4mux to write its index, and
// tears the pipeline down.
func (w *Writer) Finish(ctx context.Context, end time.Duration) error {
	defer w.teardown()

	if ret := w.src.EndStream(); ret != gst.FlowOK {
		return fmt.Errorf("gstmp4: end stream: flow %v", ret)
	}
	select {
	case <-w.eos:
		w.log.Debug("container finalized", "end", end)
		return w.err()
	case <-ctx.Done():
		return fmt.Errorf("gstmp4: finalize %s: %w", w.path, ctx.Err())
	}
}

// Cancel stops the pipeline without finalizing; the file is left as is.
func (w *Writer) Cancel() error {
	w.teardown()
	return w.err()
}

func (w *Writer) teardown() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
	}
	w.stopped.Wait()
	if err := w.pipeline.SetState(gst.StateNull); err != nil {
		w.log.Warn("set pipeline to NULL", "error", err)
	}
}

var _ encoder.Writer = (*Writer)(nil)
