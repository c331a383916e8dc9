package gitgw

import (
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// pkt-line is git's wire framing: each record is a four-digit lowercase hex
// length (counting the four digits themselves) followed by that many payload
// bytes. "0000" is the flush-pkt. Clients parse the length prefix as a
// binary byte count, so nothing may be injected between records.

const (
	pktLenDigits = 4
	// maxPktPayload is the largest payload a single pkt-line can carry:
	// the length field tops out at 0xffff and counts itself.
	maxPktPayload = 0xffff - pktLenDigits
)

var flushPkt = []byte("0000")

// A PktLineWriter frames pkt-lines onto an io.Writer.
type PktLineWriter struct {
	w io.Writer
}

func NewPktLineWriter(w io.Writer) *PktLineWriter {
	return &PktLineWriter{w: w}
}

// WritePktLine frames data as one pkt-line. The length prefix and the
// payload go out in a single Write, so a streaming ResponseWriter can never
// tear the record.
func (w *PktLineWriter) WritePktLine(data []byte) error {
	if len(data) > maxPktPayload {
		return errors.Wrapf(ErrBadRequest, "pkt-line payload is %d bytes, limit is %d", len(data), maxPktPayload)
	}
	record := append(appendPktLen(make([]byte, 0, pktLenDigits+len(data)), pktLenDigits+len(data)), data...)
	if _, err := w.w.Write(record); err != nil {
		return errors.Wrap(err, "writing pkt-line")
	}
	return nil
}

// Flush sends a flush-pkt, ending the current pkt-line sequence.
func (w *PktLineWriter) Flush() error {
	if _, err := w.w.Write(flushPkt); err != nil {
		return errors.Wrap(err, "writing flush-pkt")
	}
	return nil
}

// appendPktLen appends n as a zero-padded four-digit lowercase hex length.
func appendPktLen(dst []byte, n int) []byte {
	hexLen := strconv.FormatUint(uint64(n), 16)
	for i := len(hexLen); i < pktLenDigits; i++ {
		dst = append(dst, '0')
	}
	return append(dst, hexLen...)
}

// A PktLineReader decodes pkt-lines from an io.Reader.
type PktLineReader struct {
	r io.Reader
}

func NewPktLineReader(r io.Reader) *PktLineReader {
	return &PktLineReader{r: r}
}

// ReadPktLine returns the next payload. A flush-pkt is reported as
// ErrFlush, to distinguish it from the empty pkt-line "0004". io.EOF is
// returned only at a record boundary; malformed framing wraps
// ErrBadRequest.
func (r *PktLineReader) ReadPktLine() ([]byte, error) {
	var header [pktLenDigits]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "reading pkt-line length")
	}
	length, err := strconv.ParseUint(string(header[:]), 16, 16)
	if err != nil {
		return nil, errors.Wrapf(ErrBadRequest, "malformed pkt-line length %q", header[:])
	}
	switch {
	case length == 0:
		return nil, ErrFlush
	case length < pktLenDigits:
		return nil, errors.Wrapf(ErrBadRequest, "pkt-line length %d is shorter than its own prefix", length)
	}
	payload := make([]byte, length-pktLenDigits)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "reading pkt-line payload")
	}
	return payload, nil
}
