// Package depthfile implements the .idep depth container: a 17-byte header
// followed by fixed-length frame records, each carrying the camera
// intrinsics and one raw depth map. All multi-byte fields are
// little-endian.
//
//	Header (offset 0, written once):
//	  byte 0       platform tag
//	  bytes 1..4   frame width           (uint32)
//	  bytes 5..8   frame height          (uint32)
//	  bytes 9..12  bytes per sample      (uint32)
//	  bytes 13..16 frame rate            (uint32)
//	Record (repeated):
//	  float32 fx, fy, cx, cy
//	  width*height*bytesPerSample raw depth bytes
package depthfile

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zsiec/depthcap/internal/media"
)

// Sizes of the fixed parts of the format.
const (
	HeaderSize     = 17
	IntrinsicsSize = 16
)

// MaxDepthBytes bounds the depth payload a header may declare. It is far
// above any sensor resolution and keeps a corrupt header from sizing a
// huge record buffer.
const MaxDepthBytes = 256 << 20

// Platform tags stored in header byte 0.
const (
	PlatformOther byte = 0
	PlatformThis  byte = 1
)

// Extension is the file extension of depth containers.
const Extension = ".idep"

var order = binary.LittleEndian

// Header describes every record that follows it.
type Header struct {
	Platform       byte   `json:"platform"`
	Width          uint32 `json:"width"`
	Height         uint32 `json:"height"`
	BytesPerSample uint32 `json:"bytesPerSample"`
	FPS            uint32 `json:"fps"`
}

// DepthBytes is the raw depth payload length of every record.
func (h Header) DepthBytes() int {
	return int(h.Width) * int(h.Height) * int(h.BytesPerSample)
}

// RecordSize is the full length of one record, intrinsics included.
func (h Header) RecordSize() int {
	return IntrinsicsSize + h.DepthBytes()
}

// Validate rejects headers whose records would be empty or larger than
// MaxDepthBytes.
func (h Header) Validate() error {
	if h.Width == 0 || h.Height == 0 || h.BytesPerSample == 0 {
		return fmt.Errorf("%w: %dx%d with %d bytes per sample", ErrBadHeader, h.Width, h.Height, h.BytesPerSample)
	}
	// Each factor fits in 32 bits, so the first product cannot overflow.
	n := uint64(h.Width) * uint64(h.Height)
	if n > MaxDepthBytes || n*uint64(h.BytesPerSample) > MaxDepthBytes {
		return fmt.Errorf("%w: %dx%d with %d bytes per sample exceeds %d bytes", ErrBadHeader, h.Width, h.Height, h.BytesPerSample, MaxDepthBytes)
	}
	return nil
}

// MarshalBinary encodes the header into its 17-byte form.
func (h Header) MarshalBinary() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize)
	buf[0] = h.Platform
	order.PutUint32(buf[1:5], h.Width)
	order.PutUint32(buf[5:9], h.Height)
	order.PutUint32(buf[9:13], h.BytesPerSample)
	order.PutUint32(buf[13:17], h.FPS)
	return buf, nil
}

// UnmarshalBinary decodes a header from the first HeaderSize bytes of data.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return &FormatError{Field: "header", Err: fmt.Errorf("%d of %d bytes", len(data), HeaderSize)}
	}
	h.Platform = data[0]
	h.Width = order.Uint32(data[1:5])
	h.Height = order.Uint32(data[5:9])
	h.BytesPerSample = order.Uint32(data[9:13])
	h.FPS = order.Uint32(data[13:17])
	if err := h.Validate(); err != nil {
		return &FormatError{Field: "header", Err: err}
	}
	return nil
}

// Record is one decoded frame record.
type Record struct {
	Intrinsics media.Intrinsics
	Depth      []byte
}

// encodeRecord lays out intrinsics and depth into one contiguous buffer so
// the record reaches the sink in a single append.
func encodeRecord(intr media.Intrinsics, depth []byte) []byte {
	buf := make([]byte, IntrinsicsSize+len(depth))
	order.PutUint32(buf[0:4], math.Float32bits(intr.Fx))
	order.PutUint32(buf[4:8], math.Float32bits(intr.Fy))
	order.PutUint32(buf[8:12], math.Float32bits(intr.Cx))
	order.PutUint32(buf[12:16], math.Float32bits(intr.Cy))
	copy(buf[IntrinsicsSize:], depth)
	return buf
}

func decodeIntrinsics(buf []byte) media.Intrinsics {
	return media.Intrinsics{
		Fx: math.Float32frombits(order.Uint32(buf[0:4])),
		Fy: math.Float32frombits(order.Uint32(buf[4:8])),
		Cx: math.Float32frombits(order.Uint32(buf[8:12])),
		Cy: math.Float32frombits(order.Uint32(buf[12:16])),
	}
}
