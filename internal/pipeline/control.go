package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// command enqueues a control job behind any frames already queued and
// waits for the encode worker's reply.
func (p *Pipeline) command(ctx context.Context, j job) (Capture, error) {
	replyc, err := p.send(ctx, j)
	if err != nil {
		return Capture{}, err
	}
	return p.await(ctx, replyc)
}

// send enqueues j. On error the worker never sees the job.
func (p *Pipeline) send(ctx context.Context, j job) (<-chan reply, error) {
	j.reply = make(chan reply, 1)
	select {
	case p.encodeCh <- j:
		return j.reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrStopped
	}
}

func (p *Pipeline) await(ctx context.Context, replyc <-chan reply) (Capture, error) {
	select {
	case r := <-replyc:
		return r.capture, r.err
	case <-ctx.Done():
		return Capture{}, ctx.Err()
	case <-p.done:
		return Capture{}, ErrStopped
	}
}

// StartRecording opens "<base>_rgb.mp4" and "<base>_depth.idep" and starts
// appending frames. base carries the output directory and capture name.
func (p *Pipeline) StartRecording(ctx context.Context, base string) (Capture, error) {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.recording.Load() {
		return Capture{}, ErrAlreadyRecording
	}
	return p.command(ctx, job{kind: jobStart, base: base, id: uuid.NewString()})
}

// StopRecording stops dispatching new frames and ends the session once the
// frames already queued are written. The container finalizes in the
// background.
func (p *Pipeline) StopRecording(ctx context.Context) (Capture, error) {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if !p.recording.Load() {
		return Capture{}, ErrNotRecording
	}
	p.recording.Store(false)
	replyc, err := p.send(ctx, job{kind: jobStop})
	if err != nil {
		// The worker still owns the session; keep it stoppable.
		if !errors.Is(err, ErrStopped) {
			p.recording.Store(true)
		}
		return Capture{}, err
	}
	return p.await(ctx, replyc)
}

// TriggerPhoto schedules a high-resolution capture after the settle delay.
// Photo files are named "<base>_photo_rgb.<ext>" and
// "<base>_photo_depth.idep".
func (p *Pipeline) TriggerPhoto(base string) (string, error) {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	select {
	case <-p.done:
		return "", ErrStopped
	default:
	}

	p.photoMu.Lock()
	defer p.photoMu.Unlock()
	if p.photoTimer != nil || p.photoBase != "" || p.processingResult.Load() {
		return "", ErrPhotoPending
	}
	id := uuid.NewString()
	p.photoBase, p.photoID = base, id
	p.photoTimer = time.AfterFunc(p.cfg.SettleDelay, p.firePhoto)
	p.log.Info("photo scheduled", "session", id, "settle", p.cfg.SettleDelay)
	return id, nil
}

// firePhoto runs when the settle delay expires: it suppresses streaming
// dispatch, pauses an active recording, and asks the camera for one
// high-resolution pair.
func (p *Pipeline) firePhoto() {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	p.photoMu.Lock()
	if p.photoTimer == nil {
		p.photoMu.Unlock()
		return
	}
	p.photoTimer = nil
	p.photoMu.Unlock()

	p.suppressed.Store(true)
	p.waitingForCapture.Store(true)

	if p.recording.Load() && !p.paused.Load() {
		p.paused.Store(true)
		if _, err := p.command(context.Background(), job{kind: jobPause}); err != nil {
			p.log.Warn("pause recording for photo", "error", err)
		}
	}

	if err := p.camera.CapturePhoto(); err != nil {
		p.log.Error("photo capture request failed", "error", err)
		if err := p.resumeLocked(context.Background()); err != nil {
			p.log.Warn("resume after failed capture", "error", err)
		}
	}
}

// ResumeStream leaves the photo result state: streaming dispatch restarts
// and a recording paused for the photo resumes with its clock intact.
func (p *Pipeline) ResumeStream(ctx context.Context) error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	p.photoMu.Lock()
	pending := p.photoTimer != nil
	if pending {
		p.photoTimer.Stop()
		p.photoTimer = nil
		p.photoBase, p.photoID = "", ""
	}
	p.photoMu.Unlock()

	if !pending && !p.suppressed.Load() && !p.processingResult.Load() {
		return ErrNotProcessing
	}
	return p.resumeLocked(ctx)
}

// resumeLocked clears the photo state under photoMu so a photo frame
// arriving concurrently either claims its request first or finds none.
func (p *Pipeline) resumeLocked(ctx context.Context) error {
	p.photoMu.Lock()
	p.processingResult.Store(false)
	p.waitingForCapture.Store(false)
	p.photoBase, p.photoID = "", ""
	p.photoMu.Unlock()

	if err := p.camera.StartStream(); err != nil {
		p.log.Error("restart stream", "error", err)
	}
	if p.paused.Load() {
		if _, err := p.command(ctx, job{kind: jobResume}); err != nil {
			return err
		}
		p.paused.Store(false)
	}
	p.suppressed.Store(false)
	p.log.Info("streaming resumed", "recording", p.recording.Load())
	return nil
}

// SetFiltering toggles the camera's depth filtering.
func (p *Pipeline) SetFiltering(enabled bool) {
	p.camera.SetFiltering(enabled)
	p.filtering.Store(enabled)
	p.log.Info("depth filtering", "enabled", enabled)
}

// Recording reports whether a recording session is active, paused or not.
func (p *Pipeline) Recording() bool {
	return p.recording.Load()
}
