package archive

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/cro3-sub001/internal/cachingproxy"
	"github.com/google/cro3-sub001/internal/errkind"
	"github.com/google/cro3-sub001/internal/log"
	"github.com/google/cro3-sub001/internal/tarindex"
)

// maxIndexLine bounds a single CSV row while scanning the member index.
// Tar member names top out at a few KiB even with PAX long names.
const maxIndexLine = 1 << 20

// Extraction is one member's content plus where it came from.
type Extraction struct {
	Name string
	Size int64
	Body io.ReadCloser

	// RowsScanned is how far into the index the member was found.
	RowsScanned int
	// Cache is the proxy cache verdict on the range request, if any.
	Cache string
}

// Extractor serves a single member out of a tar archive without ever
// downloading the whole tar itself: it looks the member up in the
// cached index, then issues one Range request through the proxy.
type Extractor struct {
	proxy  *cachingproxy.Client
	logger log.Logger
}

func NewExtractor(proxy *cachingproxy.Client, logger log.Logger) *Extractor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Extractor{proxy: proxy, logger: logger}
}

// Extract returns the content of member inside the tar at path. hdr
// carries forwardable request headers through both proxy calls.
func (ex *Extractor) Extract(ctx context.Context, path, member string, hdr http.Header) (Extraction, error) {
	info, rows, err := ex.lookup(ctx, path, member, hdr)
	if err != nil {
		return Extraction{}, err
	}

	if info.Size == 0 {
		// nothing to range over; an empty file is a valid member
		return Extraction{
			Name:        member,
			Body:        io.NopCloser(bytes.NewReader(nil)),
			RowsScanned: rows,
		}, nil
	}

	rangeHdr := hdr.Clone()
	if rangeHdr == nil {
		rangeHdr = http.Header{}
	}
	rangeHdr.Set("Range", fmt.Sprintf("bytes=%d-%d", info.ContentStart, info.ContentStart+info.Size-1))

	rsp, err := ex.proxy.Download(ctx, path, rangeHdr)
	if err != nil {
		return Extraction{}, err
	}
	if rsp.StatusCode != http.StatusPartialContent {
		rsp.Body.Close()
		return Extraction{}, errkind.Newf(errkind.KindUpstreamProtocol,
			"caching server ignored the range request for %q in %q (status %d)",
			member, path, rsp.StatusCode)
	}

	ex.logger.Info(ctx, "extracting member",
		"path", path,
		"member", member,
		"content_start", info.ContentStart,
		"size", info.Size,
		"cache", cachingproxy.CacheStatus(rsp),
	)
	return Extraction{
		Name:        member,
		Size:        info.Size,
		Body:        rsp.Body,
		RowsScanned: rows,
		Cache:       cachingproxy.CacheStatus(rsp),
	}, nil
}

// lookup streams the member index and stops at the first row for
// member. The index is in archive order and members are usually
// requested shortly after listing, so a linear scan of the cached
// index is cheap.
func (ex *Extractor) lookup(ctx context.Context, path, member string, hdr http.Header) (tarindex.MemberInfo, int, error) {
	rsp, err := ex.proxy.ListMember(ctx, path, hdr)
	if err != nil {
		return tarindex.MemberInfo{}, 0, err
	}
	defer rsp.Body.Close()

	prefix := tarindex.EscapeName(member) + ","
	sc := bufio.NewScanner(rsp.Body)
	sc.Buffer(make([]byte, 64<<10), maxIndexLine)

	rows := 0
	for sc.Scan() {
		rows++
		line := sc.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		info, err := tarindex.DecodeRow(line)
		if err != nil {
			return tarindex.MemberInfo{}, rows, err
		}
		return info, rows, nil
	}
	if err := sc.Err(); err != nil {
		return tarindex.MemberInfo{}, rows, errkind.Wrapf(errkind.KindUnavailable, err,
			"read member index of %q", path)
	}
	return tarindex.MemberInfo{}, rows, errkind.Newf(errkind.KindNotFound,
		"member %q not found in archive %q", member, path)
}
