package depthfile

import (
	"fmt"

	"github.com/zsiec/depthcap/internal/media"
)

// WriteHeader encodes h and overwrites path with it, discarding any
// previous content.
func WriteHeader(sink Sink, path string, h Header) error {
	buf, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	return sink.Overwrite(path, buf)
}

// AppendFrame appends one record to path. depth must be exactly
// h.DepthBytes() long; a shorter buffer fails with ErrShortDepth and a
// longer one with ErrLengthMismatch. Length is checked before anything
// reaches the sink, so a rejected frame leaves the file untouched.
func AppendFrame(sink Sink, path string, h Header, intr media.Intrinsics, depth []byte) error {
	if err := CheckLength(h, len(depth)); err != nil {
		return err
	}
	return sink.Append(path, encodeRecord(intr, depth))
}

// CheckLength reports whether n raw depth bytes fit a record under h.
func CheckLength(h Header, n int) error {
	want := h.DepthBytes()
	switch {
	case n < want:
		return fmt.Errorf("%w: got %d bytes, want %d", ErrShortDepth, n, want)
	case n > want:
		return fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, n, want)
	}
	return nil
}

// Writer serializes one depth file: the header exactly once, then records
// in call order. It is not safe for concurrent use; the encode worker owns
// it exclusively.
type Writer struct {
	sink    Sink
	path    string
	header  Header
	started bool
	records int
}

// NewWriter binds a writer to path. Nothing is written until WriteHeader.
func NewWriter(sink Sink, path string, h Header) *Writer {
	if sink == nil {
		sink = FileSink{}
	}
	return &Writer{sink: sink, path: path, header: h}
}

// WriteHeader writes the file header with overwrite semantics. A second
// call fails with ErrHeaderWritten.
func (w *Writer) WriteHeader() error {
	if w.started {
		return ErrHeaderWritten
	}
	if err := WriteHeader(w.sink, w.path, w.header); err != nil {
		return err
	}
	w.started = true
	return nil
}

// AppendFrame appends one record after the header.
func (w *Writer) AppendFrame(intr media.Intrinsics, depth []byte) error {
	if !w.started {
		return ErrHeaderNotWritten
	}
	if err := AppendFrame(w.sink, w.path, w.header, intr, depth); err != nil {
		return err
	}
	w.records++
	return nil
}

// Path returns the file this writer targets.
func (w *Writer) Path() string { return w.path }

// Header returns the header this writer serializes.
func (w *Writer) Header() Header { return w.header }

// Records returns how many records were appended.
func (w *Writer) Records() int { return w.records }
