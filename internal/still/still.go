// Package still compresses a single NV12 color frame into a JPEG for the
// photo capture path.
package still

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/zsiec/depthcap/internal/media"
)

// DefaultQuality matches the photo path's 0.8 compression setting.
const DefaultQuality = 80

// Image converts an NV12 frame into an image.YCbCr with 4:2:0 subsampling,
// splitting the interleaved chroma plane.
func Image(frame *media.ColorFrame) (*image.YCbCr, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("still: empty frame %dx%d", frame.Width, frame.Height)
	}
	packed, err := frame.Packed()
	if err != nil {
		return nil, fmt.Errorf("still: %w", err)
	}

	img := image.NewYCbCr(image.Rect(0, 0, frame.Width, frame.Height), image.YCbCrSubsampleRatio420)
	lumaLen := frame.Width * frame.Height
	for row := 0; row < frame.Height; row++ {
		copy(img.Y[row*img.YStride:], packed[row*frame.Width:(row+1)*frame.Width])
	}

	chroma := packed[lumaLen:]
	chromaW := (frame.Width + 1) / 2
	chromaH := (frame.Height + 1) / 2
	for row := 0; row < chromaH; row++ {
		src := chroma[row*chromaW*2:]
		dst := row * img.CStride
		for col := 0; col < chromaW; col++ {
			img.Cb[dst+col] = src[2*col]
			img.Cr[dst+col] = src[2*col+1]
		}
	}
	return img, nil
}

// Encode writes frame to w as a JPEG. A quality outside 1..100 selects
// DefaultQuality.
func Encode(w io.Writer, frame *media.ColorFrame, quality int) error {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	img, err := Image(frame)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("still: encode jpeg: %w", err)
	}
	return nil
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(frame *media.ColorFrame, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, frame, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
