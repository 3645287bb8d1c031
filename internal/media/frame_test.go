package media

import (
	"bytes"
	"testing"
)

func TestDepthPlanePackedTight(t *testing.T) {
	t.Parallel()

	d := &DepthPlane{Width: 2, Height: 2, BytesPerSample: 2, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 9}}
	got, err := d.Packed()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("Packed: got %v", got)
	}
}

func TestDepthPlanePackedStride(t *testing.T) {
	t.Parallel()

	d := &DepthPlane{Width: 1, Height: 3, BytesPerSample: 2, Stride: 4,
		Data: []byte{1, 2, 0, 0, 3, 4, 0, 0, 5, 6}}
	got, err := d.Packed()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Packed: got %v", got)
	}
}

func TestDepthPlanePackedShort(t *testing.T) {
	t.Parallel()

	d := &DepthPlane{Width: 4, Height: 4, BytesPerSample: 2, Data: make([]byte, 31)}
	if _, err := d.Packed(); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestDistanceRangeString(t *testing.T) {
	t.Parallel()

	r := DistanceRange{Min: 0.25, Max: 1.5, Valid: true}
	if got, want := r.String(), "Range: 250.0 mm to 1500.0 mm"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}

	empty := DistanceRange{Min: NoReturn, Max: 0}
	if got, want := empty.String(), "Range: no return to 0.0 mm"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
	if !empty.Sentinel() {
		t.Error("expected sentinel range")
	}
}

func TestColorFrameSize(t *testing.T) {
	t.Parallel()

	c := &ColorFrame{Width: 4, Height: 2}
	if got := c.Size(); got != 12 {
		t.Errorf("Size: got %d, want 12", got)
	}
	if c.LumaStride() != 4 || c.ChromaStride() != 4 {
		t.Errorf("strides: got %d/%d", c.LumaStride(), c.ChromaStride())
	}
}

func TestColorFramePacked(t *testing.T) {
	t.Parallel()

	c := &ColorFrame{
		Width: 2, Height: 2,
		Y: []byte{1, 2, 0, 3, 4, 0}, YStride: 3,
		CbCr: []byte{5, 6},
	}
	got, err := c.Packed()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Packed: got %v", got)
	}

	short := &ColorFrame{Width: 2, Height: 2, Y: []byte{1, 2, 3}, CbCr: []byte{5, 6}}
	if _, err := short.Packed(); err == nil {
		t.Error("expected error for short luma plane")
	}
}
