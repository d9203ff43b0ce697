// Package rangeresp decodes multipart/byteranges response bodies while
// they stream in. Each part corresponds to one archive member; a lookup
// table keyed by (start, size) recovers the member name from the part's
// Content-Range header. Nothing beyond one part's content is buffered.
package rangeresp

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/google/cro3-sub001/internal/errkind"
)

// ErrUnrequestedRange marks a part whose Content-Range matches nothing
// in the lookup table: the upstream returned a range nobody asked for,
// which means the index and the archive disagree.
var ErrUnrequestedRange = errors.New("response contains a range that was not requested")

// RangeKey identifies a requested byte range.
type RangeKey struct {
	Start int64
	Size  int64
}

// Part is one decoded member.
type Part struct {
	Filename string
	Content  []byte
}

// Decoder reads parts off a multipart/byteranges body one at a time.
type Decoder struct {
	br      *bufio.Reader
	lookup  map[RangeKey]string
	started bool
}

// NewDecoder wraps a streaming body. lookup maps (start, size) of each
// requested range to the member filename expected there.
func NewDecoder(r io.Reader, lookup map[RangeKey]string) *Decoder {
	return &Decoder{br: bufio.NewReader(r), lookup: lookup}
}

// readLine reads one CRLF-terminated line. io.EOF means the body ended
// cleanly before the line started.
func (d *Decoder) readLine() (string, error) {
	line, err := d.br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return "", io.EOF
		}
		if errors.Is(err, io.EOF) {
			// unterminated final line is fine at end of body
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", errkind.Wrap(errkind.KindFormat, err, "read multipart line")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (d *Decoder) expectBlank(what string) error {
	line, err := d.readLine()
	if errors.Is(err, io.EOF) {
		return errkind.Newf(errkind.KindFormat, "expected %s, got end of stream", what)
	}
	if err != nil {
		return err
	}
	if line != "" {
		return errkind.Newf(errkind.KindFormat, "expected %s, got %q", what, line)
	}
	return nil
}

// Next decodes the next part. It returns io.EOF after the final part.
func (d *Decoder) Next() (Part, error) {
	skipBoundary := false
	if !d.started {
		d.started = true
		// responses open with a blank line before the first boundary,
		// but some servers start with the boundary directly
		line, err := d.readLine()
		if errors.Is(err, io.EOF) {
			return Part{}, io.EOF
		}
		if err != nil {
			return Part{}, err
		}
		skipBoundary = line != ""
	}

	// boundary line; end of stream here is the normal way out
	if !skipBoundary {
		if _, err := d.readLine(); err != nil {
			if errors.Is(err, io.EOF) {
				return Part{}, io.EOF
			}
			return Part{}, err
		}
	}

	// sub-part content type, not needed
	if _, err := d.readLine(); errors.Is(err, io.EOF) {
		// the closing boundary has no part behind it
		return Part{}, io.EOF
	} else if err != nil {
		return Part{}, err
	}

	rangeLine, err := d.readLine()
	if errors.Is(err, io.EOF) {
		return Part{}, io.EOF
	}
	if err != nil {
		return Part{}, err
	}

	start, size, err := parseContentRange(rangeLine)
	if err != nil {
		return Part{}, err
	}

	if err := d.expectBlank("blank line after part headers"); err != nil {
		return Part{}, err
	}

	filename, ok := d.lookup[RangeKey{Start: start, Size: size}]
	if !ok {
		return Part{}, errkind.Wrapf(errkind.KindFormat, ErrUnrequestedRange,
			"no requested file matches range start=%d size=%d", start, size)
	}

	content := make([]byte, size)
	n, err := io.ReadFull(d.br, content)
	if err != nil {
		return Part{}, errkind.Newf(errkind.KindFormat,
			"%s: short content read (read %d B, expect %d B)", filename, n, size)
	}

	// every part content has a trailing CRLF before the next boundary
	if err := d.expectBlank("trailing line break after content"); err != nil {
		return Part{}, errkind.Wrapf(errkind.KindFormat, err, "%s: after %d content bytes", filename, size)
	}

	return Part{Filename: filename, Content: content}, nil
}

// DecodeAll drains the body and returns the parts in stream order.
func (d *Decoder) DecodeAll() ([]Part, error) {
	var parts []Part
	for {
		p, err := d.Next()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			return parts, err
		}
		parts = append(parts, p)
	}
}

// parseContentRange extracts start and size from a sub-part header of
// the form "Content-Range: bytes START-END/TOTAL".
func parseContentRange(line string) (start, size int64, err error) {
	val := line
	if i := strings.IndexByte(val, ':'); i >= 0 && strings.EqualFold(val[:i], "content-range") {
		val = strings.TrimSpace(val[i+1:])
	}

	unit, rng, ok := strings.Cut(val, " ")
	if !ok || unit != "bytes" {
		return 0, 0, errkind.Newf(errkind.KindFormat, "wrong format of content range header: %q", line)
	}
	span, _, ok := strings.Cut(rng, "/")
	if !ok {
		return 0, 0, errkind.Newf(errkind.KindFormat, "wrong format of content range header: %q", line)
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, errkind.Newf(errkind.KindFormat, "wrong format of content range header: %q", line)
	}

	s, err1 := strconv.ParseInt(first, 10, 64)
	e, err2 := strconv.ParseInt(last, 10, 64)
	if err1 != nil || err2 != nil || e < s {
		return 0, 0, errkind.Newf(errkind.KindFormat, "wrong format of content range header: %q", line)
	}
	return s, e - s + 1, nil
}
