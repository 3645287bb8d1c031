package depthfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Reader decodes a depth file sequentially.
type Reader struct {
	r      *bufio.Reader
	header Header
	buf    []byte
	index  int
}

// NewReader reads and validates the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, &FormatError{Field: "header", Err: err}
	}
	var h Header
	if err := h.UnmarshalBinary(hdr); err != nil {
		return nil, err
	}
	return &Reader{r: br, header: h, buf: make([]byte, h.RecordSize())}, nil
}

// Header returns the decoded file header.
func (r *Reader) Header() Header { return r.header }

// Next returns the next record. It returns io.EOF after the last complete
// record and a FormatError wrapping io.ErrUnexpectedEOF when the file ends
// mid-record. The returned depth slice is only valid until the next call.
func (r *Reader) Next() (Record, error) {
	_, err := io.ReadFull(r.r, r.buf)
	switch {
	case err == io.EOF:
		return Record{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Record{}, &FormatError{Field: fmt.Sprintf("record %d", r.index), Err: err}
	case err != nil:
		return Record{}, err
	}
	r.index++
	return Record{
		Intrinsics: decodeIntrinsics(r.buf[:IntrinsicsSize]),
		Depth:      r.buf[IntrinsicsSize:],
	}, nil
}

// Count reads every remaining record and returns how many were complete.
func (r *Reader) Count() (int, error) {
	n := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
