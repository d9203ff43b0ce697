// Package spool provides a write-then-read buffer that lives in memory
// up to a threshold and spills to a temp file beyond it, so arbitrarily
// large archives never grow the process heap past a bound.
package spool

import (
	"bytes"
	"io"
	"os"

	"github.com/google/cro3-sub001/internal/xerrors"
)

// DefaultThreshold is how many bytes are kept in memory before the
// buffer spills to disk.
const DefaultThreshold = 100 << 20 // 100 MiB

// Buffer accumulates writes, then serves them back as an io.ReadSeeker.
// The zero value is not usable; call New. A Buffer is not safe for
// concurrent use.
type Buffer struct {
	threshold int64
	dir       string

	mem  bytes.Buffer
	file *os.File
	size int64
}

// New returns a Buffer that spills to a temp file in dir (or the system
// temp dir when dir is empty) once more than threshold bytes have been
// written. threshold <= 0 selects DefaultThreshold.
func New(threshold int64, dir string) *Buffer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Buffer{threshold: threshold, dir: dir}
}

// Write appends p, spilling to disk when the threshold is crossed.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.file == nil && b.size+int64(len(p)) > b.threshold {
		if err := b.spill(); err != nil {
			return 0, err
		}
	}
	var n int
	var err error
	if b.file != nil {
		n, err = b.file.Write(p)
	} else {
		n, err = b.mem.Write(p)
	}
	b.size += int64(n)
	return n, err
}

func (b *Buffer) spill() error {
	f, err := os.CreateTemp(b.dir, "archive-spool-*")
	if err != nil {
		return xerrors.Wrap(err, "create spool file")
	}
	if _, err := f.Write(b.mem.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return xerrors.Wrap(err, "spill buffered bytes")
	}
	b.mem.Reset()
	b.file = f
	return nil
}

// Size returns the number of bytes written so far.
func (b *Buffer) Size() int64 { return b.size }

// Spilled reports whether the contents live on disk.
func (b *Buffer) Spilled() bool { return b.file != nil }

// Reader rewinds the buffer and returns a ReadSeeker over everything
// written. Writing after Reader is not supported.
func (b *Buffer) Reader() (io.ReadSeeker, error) {
	if b.file != nil {
		if _, err := b.file.Seek(0, io.SeekStart); err != nil {
			return nil, xerrors.Wrap(err, "rewind spool file")
		}
		return b.file, nil
	}
	return bytes.NewReader(b.mem.Bytes()), nil
}

// Close releases memory and removes the temp file if one was created.
// Safe to call multiple times and on every exit path.
func (b *Buffer) Close() error {
	b.mem.Reset()
	if b.file == nil {
		return nil
	}
	name := b.file.Name()
	err := b.file.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	b.file = nil
	return err
}
