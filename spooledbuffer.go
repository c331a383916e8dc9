package gitgw

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
)

// SpooledBuffer accumulates writes in memory up to a threshold, then
// transparently spills to a temporary file, so that request bodies of
// arbitrary size never need to be held entirely in memory. Close removes
// the temporary file on every exit path.
type SpooledBuffer struct {
	threshold int
	mem       bytes.Buffer
	file      *os.File
	written   int64
}

// NewSpooledBuffer returns a SpooledBuffer that keeps up to threshold bytes
// in memory before spilling to a temporary file.
func NewSpooledBuffer(threshold int) *SpooledBuffer {
	return &SpooledBuffer{threshold: threshold}
}

// Write appends p, spilling to disk once the in-memory threshold is crossed.
func (b *SpooledBuffer) Write(p []byte) (int, error) {
	if b.file != nil {
		n, err := b.file.Write(p)
		b.written += int64(n)
		return n, err
	}
	if b.mem.Len()+len(p) > b.threshold {
		if err := b.spill(); err != nil {
			return 0, err
		}
		n, err := b.file.Write(p)
		b.written += int64(n)
		return n, err
	}
	n, err := b.mem.Write(p)
	b.written += int64(n)
	return n, err
}

func (b *SpooledBuffer) spill() error {
	f, err := os.CreateTemp("", "gitgw-spool-*")
	if err != nil {
		return errors.Wrap(err, "creating spool file")
	}
	if _, err := f.Write(b.mem.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return errors.Wrap(err, "writing spool file")
	}
	b.mem.Reset()
	b.file = f
	return nil
}

// Len reports the number of bytes written so far.
func (b *SpooledBuffer) Len() int64 {
	return b.written
}

// ReadStream rewinds the buffer (if spilled to disk) and returns an
// io.Reader over its full contents, positioned at the start. It may be
// called at most once per SpooledBuffer lifetime.
func (b *SpooledBuffer) ReadStream() (io.Reader, error) {
	if b.file == nil {
		return bytes.NewReader(b.mem.Bytes()), nil
	}
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "rewinding spool file")
	}
	return b.file, nil
}

// Close releases any temporary file backing the buffer. It is safe to call
// multiple times and must be called on every exit path, spilled or not.
func (b *SpooledBuffer) Close() error {
	if b.file == nil {
		return nil
	}
	name := b.file.Name()
	err := b.file.Close()
	b.file = nil
	if removeErr := os.Remove(name); removeErr != nil && err == nil {
		err = removeErr
	}
	return err
}
