package tarindex

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/cro3-sub001/internal/errkind"
)

// EscapeName percent-encodes a member name for the CSV index. Each path
// segment is escaped separately so '/' survives while ',' becomes %2C
// and cannot collide with the field separator.
func EscapeName(name string) string {
	segs := strings.Split(name, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// UnescapeName reverses EscapeName.
func UnescapeName(escaped string) (string, error) {
	return url.PathUnescape(escaped)
}

// EncodeRow renders a member as one index row:
//
//	<escaped name>,<record_start>,<record_size>,<content_start>,<size>\n
func EncodeRow(m MemberInfo) string {
	return fmt.Sprintf("%s,%d,%d,%d,%d\n",
		EscapeName(m.Name), m.RecordStart, m.RecordSize, m.ContentStart, m.Size)
}

// DecodeRow parses one index row. The name field is returned decoded.
func DecodeRow(line string) (MemberInfo, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, ",")
	// escaped names contain no commas, so a valid row has exactly 5 fields
	if len(parts) != 5 {
		return MemberInfo{}, errkind.Newf(errkind.KindFormat,
			"index row has %d fields, want 5: %q", len(parts), line)
	}

	name, err := UnescapeName(parts[0])
	if err != nil {
		return MemberInfo{}, errkind.Wrapf(errkind.KindFormat, err, "decode member name %q", parts[0])
	}

	nums := make([]int64, 4)
	for i, f := range parts[1:] {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return MemberInfo{}, errkind.Wrapf(errkind.KindFormat, err, "parse index field %q", f)
		}
		nums[i] = n
	}

	return MemberInfo{
		Name:         name,
		RecordStart:  nums[0],
		RecordSize:   nums[1],
		ContentStart: nums[2],
		Size:         nums[3],
	}, nil
}
