package depthstats

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/x448/float16"

	"github.com/zsiec/depthcap/internal/media"
)

func encode(samples ...float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(s).Bits())
	}
	return out
}

func TestComputeMixed(t *testing.T) {
	t.Parallel()

	r := Compute(encode(0, 1.5, 0.25, 0, 3))
	if !r.Valid {
		t.Fatal("expected valid range")
	}
	if r.Min != 0.25 {
		t.Errorf("Min: got %v, want 0.25", r.Min)
	}
	if r.Max != 3 {
		t.Errorf("Max: got %v, want 3", r.Max)
	}
	if r.Min > r.Max {
		t.Errorf("min %v > max %v", r.Min, r.Max)
	}
}

func TestComputeAllZero(t *testing.T) {
	t.Parallel()

	r := Compute(make([]byte, 320*180*2))
	if r.Valid {
		t.Error("all-zero frame should not be valid")
	}
	if r.Max != 0 {
		t.Errorf("Max: got %v, want 0", r.Max)
	}
	if r.Min != media.NoReturn {
		t.Errorf("Min: got %v, want sentinel", r.Min)
	}
}

func TestComputeEmpty(t *testing.T) {
	t.Parallel()

	r := Compute(nil)
	if r.Valid || r.Max != 0 || r.Min != media.NoReturn {
		t.Errorf("empty: got %+v", r)
	}
}

func TestComputeSkipsNaN(t *testing.T) {
	t.Parallel()

	raw := encode(0.5, 2)
	nan := make([]byte, 2)
	binary.LittleEndian.PutUint16(nan, 0x7e00)
	raw = append(nan, raw...)

	r := Compute(raw)
	if r.Min != 0.5 || r.Max != 2 {
		t.Errorf("got %+v, want min 0.5 max 2", r)
	}
}

func TestComputeZeroStillCountsForMax(t *testing.T) {
	t.Parallel()

	// Max starts from the first observed sample, so a leading zero is
	// a legitimate maximum until something larger arrives.
	r := Compute(encode(0))
	if r.Max != 0 {
		t.Errorf("Max: got %v, want 0", r.Max)
	}
}

func TestAggregatorPublishesLatest(t *testing.T) {
	t.Parallel()

	a := NewAggregator(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	if !a.Latest().Sentinel() {
		t.Fatal("initial range should be the sentinel")
	}

	plane := &media.DepthPlane{Width: 2, Height: 1, BytesPerSample: 2, Data: encode(1, 2)}
	for !a.Submit(plane) {
		time.Sleep(time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if computed, _ := a.Counters(); computed > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("aggregator never computed")
		}
		time.Sleep(time.Millisecond)
	}

	if got, want := a.DisplayString(), "Range: 1000.0 mm to 2000.0 mm"; got != want {
		t.Errorf("DisplayString: got %q, want %q", got, want)
	}
}

func TestAggregatorSubmitNeverBlocks(t *testing.T) {
	t.Parallel()

	// No worker running: the queue fills and further submits are skipped.
	a := NewAggregator(nil)
	plane := &media.DepthPlane{Width: 1, Height: 1, BytesPerSample: 2, Data: encode(1)}

	accepted := 0
	for i := 0; i < 10; i++ {
		if a.Submit(plane) {
			accepted++
		}
	}
	if accepted != media.StatsQueueSize {
		t.Errorf("accepted: got %d, want %d", accepted, media.StatsQueueSize)
	}
	if _, skipped := a.Counters(); skipped != int64(10-media.StatsQueueSize) {
		t.Errorf("skipped: got %d", skipped)
	}
}

func TestAggregatorReplaceEvictsQueuedPlane(t *testing.T) {
	t.Parallel()

	a := NewAggregator(nil)
	stale := &media.DepthPlane{Width: 1, Height: 1, BytesPerSample: 2, Data: encode(4)}
	for a.Submit(stale) {
	}
	_, skippedBefore := a.Counters()

	photo := &media.DepthPlane{Width: 2, Height: 1, BytesPerSample: 2, Data: encode(1, 2)}
	a.Replace(photo)
	if _, skipped := a.Counters(); skipped != skippedBefore+1 {
		t.Errorf("skipped: got %d, want %d", skipped, skippedBefore+1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for a.Latest().Max != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("photo range never published: %+v", a.Latest())
		}
		time.Sleep(time.Millisecond)
	}
}
