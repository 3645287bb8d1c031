// Package media defines the frame types that flow through the depthcap
// capture pipeline, from the synchronized sensor callback through
// statistics, encoding, depth serialization, and the live display cache.
package media

import (
	"fmt"
	"time"
)

// Queue sizes used between the delivery callback (producer) and the
// pipeline workers (consumers). The encode queue absorbs a few ticks of
// disk jitter; statistics only ever need the newest frame.
const (
	EncodeQueueSize = 8
	StatsQueueSize  = 1
)

// Intrinsics holds the pinhole camera parameters in pixels, relative to
// the reference dimensions they were calibrated against.
type Intrinsics struct {
	Fx float32 `json:"fx"`
	Fy float32 `json:"fy"`
	Cx float32 `json:"cx"`
	Cy float32 `json:"cy"`
}

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ColorFrame is a bi-planar 4:2:0 image (NV12): a full-resolution luma
// plane and a half-resolution interleaved CbCr plane. Strides of zero mean
// the planes are tightly packed.
type ColorFrame struct {
	Width      int
	Height     int
	Y          []byte
	YStride    int
	CbCr       []byte
	CbCrStride int
	Timestamp  time.Duration
}

// LumaStride returns the byte distance between luma rows.
func (c *ColorFrame) LumaStride() int {
	if c.YStride > 0 {
		return c.YStride
	}
	return c.Width
}

// ChromaStride returns the byte distance between interleaved chroma rows.
func (c *ColorFrame) ChromaStride() int {
	if c.CbCrStride > 0 {
		return c.CbCrStride
	}
	return (c.Width + 1) / 2 * 2
}

// Size returns the number of bytes a packed copy of the frame occupies.
func (c *ColorFrame) Size() int {
	return c.Width*c.Height + ((c.Width+1)/2*2)*((c.Height+1)/2)
}

// Packed returns the frame as one contiguous NV12 buffer without row
// padding, luma first.
func (c *ColorFrame) Packed() ([]byte, error) {
	chromaRow := (c.Width + 1) / 2 * 2
	chromaRows := (c.Height + 1) / 2
	ys, cs := c.LumaStride(), c.ChromaStride()
	if c.Height > 0 && len(c.Y) < ys*(c.Height-1)+c.Width {
		return nil, fmt.Errorf("luma plane holds %d bytes, %dx%d needs more", len(c.Y), c.Width, c.Height)
	}
	if chromaRows > 0 && len(c.CbCr) < cs*(chromaRows-1)+chromaRow {
		return nil, fmt.Errorf("chroma plane holds %d bytes, %dx%d needs more", len(c.CbCr), c.Width, c.Height)
	}

	out := make([]byte, 0, c.Size())
	for row := 0; row < c.Height; row++ {
		out = append(out, c.Y[row*ys:row*ys+c.Width]...)
	}
	for row := 0; row < chromaRows; row++ {
		out = append(out, c.CbCr[row*cs:row*cs+chromaRow]...)
	}
	return out, nil
}

// DepthPlane is a single-channel depth map of 16-bit float samples in
// meters, little-endian, as delivered by the sensor. Stride of zero means
// rows are tightly packed.
type DepthPlane struct {
	Width          int
	Height         int
	BytesPerSample int
	Stride         int
	Data           []byte
}

// Packed returns exactly Width*Height*BytesPerSample bytes of depth,
// removing row padding when the sensor delivered a wider stride. It
// reports an error when the buffer holds fewer bytes than its declared
// dimensions require.
func (d *DepthPlane) Packed() ([]byte, error) {
	rowBytes := d.Width * d.BytesPerSample
	want := rowBytes * d.Height
	stride := d.Stride
	if stride == 0 {
		stride = rowBytes
	}
	if stride < rowBytes {
		return nil, fmt.Errorf("depth stride %d narrower than row %d", stride, rowBytes)
	}
	if d.Height == 0 {
		return []byte{}, nil
	}
	need := stride*(d.Height-1) + rowBytes
	if len(d.Data) < need {
		return nil, fmt.Errorf("depth buffer holds %d bytes, %dx%dx%d needs %d",
			len(d.Data), d.Width, d.Height, d.BytesPerSample, want)
	}
	if stride == rowBytes {
		return d.Data[:want], nil
	}
	out := make([]byte, 0, want)
	for row := 0; row < d.Height; row++ {
		off := row * stride
		out = append(out, d.Data[off:off+rowBytes]...)
	}
	return out, nil
}

// ExpectedBytes returns Width*Height*BytesPerSample.
func (d *DepthPlane) ExpectedBytes() int {
	return d.Width * d.Height * d.BytesPerSample
}

// CapturedFrame is one synchronized color+depth pair together with the
// calibration it was captured under. After it is handed to the pipeline it
// is never mutated, so statistics, encoding, and display may read it
// concurrently.
type CapturedFrame struct {
	Seq        uint64
	Color      *ColorFrame
	Depth      *DepthPlane
	Intrinsics Intrinsics
	Reference  Dimensions
	CapturedAt time.Time
}

// Still is the compressed photo payload delivered alongside a photo frame
// by cameras that encode their own stills. Nil means the pipeline encodes
// the color planes itself.
type Still struct {
	Data []byte
	Ext  string
}
