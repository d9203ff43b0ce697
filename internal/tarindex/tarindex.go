// Package tarindex turns a tar stream into an exact byte-offset index
// of its members. Offsets are computed while scanning, so a single pass
// over the archive is enough and nothing is held beyond one header.
package tarindex

import (
	"archive/tar"
	"errors"
	"io"

	"github.com/google/cro3-sub001/internal/errkind"
)

// BlockSize is the tar record alignment.
const BlockSize = 512

// MemberInfo locates one member inside an archive.
//
// RecordStart is the offset of the first header block belonging to the
// member (including PAX and GNU long-name extension headers, so record
// coverage of the archive stays gap-free). ContentStart is where the
// file bytes begin, and RecordSize spans headers plus content rounded
// up to the block size.
type MemberInfo struct {
	Name         string
	RecordStart  int64
	RecordSize   int64
	ContentStart int64
	Size         int64
}

// Lister lists the members of a tar stream in order. Implementations
// must call emit once per member and stop on its error.
type Lister interface {
	List(r io.Reader, emit func(MemberInfo) error) error
}

// ListerFunc adapts a function into a Lister.
type ListerFunc func(io.Reader, func(MemberInfo) error) error

func (f ListerFunc) List(r io.Reader, emit func(MemberInfo) error) error {
	return f(r, emit)
}

// countingReader tracks how many bytes the tar reader has consumed.
// archive/tar reads header blocks inside Next and discards content and
// padding through the same reader, so the count right after Next
// returns is exactly the content start of the current member.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func roundUpBlock(n int64) int64 {
	return (n + BlockSize - 1) &^ (BlockSize - 1)
}

// List scans a tar stream with archive/tar and emits one MemberInfo per
// member. A stream that is not a valid tar container yields a format
// error.
func List(r io.Reader, emit func(MemberInfo) error) error {
	cr := &countingReader{r: r}
	tr := tar.NewReader(cr)

	var nextRecordStart int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errkind.Wrap(errkind.KindFormat, err, "not a valid tar container")
		}

		// content payload only exists for file-ish entries; links and
		// directories carry a header but zero content blocks
		size := hdr.Size

		info := MemberInfo{
			Name:         hdr.Name,
			RecordStart:  nextRecordStart,
			ContentStart: cr.n,
			Size:         size,
		}
		info.RecordSize = (info.ContentStart - info.RecordStart) + roundUpBlock(size)
		nextRecordStart = info.RecordStart + info.RecordSize

		if err := emit(info); err != nil {
			return err
		}
	}
}

// Default is the archive/tar backed Lister.
var Default Lister = ListerFunc(List)
