package archive

import (
	"bufio"
	"context"
	"io"
	"net/http"

	"github.com/google/cro3-sub001/internal/cachingproxy"
	"github.com/google/cro3-sub001/internal/log"
	"github.com/google/cro3-sub001/internal/tarindex"
	"github.com/google/cro3-sub001/internal/xerrors"
)

// indexWriteBuffer batches index rows so tiny members don't turn into
// tiny writes on the response.
const indexWriteBuffer = 1 << 20

// Indexer produces the CSV member index of a tar archive. The archive
// bytes are pulled back through the caching proxy, which both warms the
// proxy's copy of the tar and lets a later extraction range into it.
type Indexer struct {
	proxy  *cachingproxy.Client
	lister tarindex.Lister
	logger log.Logger
}

func NewIndexer(proxy *cachingproxy.Client, logger log.Logger) *Indexer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Indexer{proxy: proxy, lister: tarindex.Default, logger: logger}
}

// WriteIndex scans the tar at path and writes one CSV row per member to
// w, in archive order. hdr carries the forwardable request headers
// (cache bypass, compressed extension) through to the proxy. Returns
// the number of members written.
func (ix *Indexer) WriteIndex(ctx context.Context, path string, hdr http.Header, w io.Writer) (int, error) {
	rsp, err := ix.proxy.Download(ctx, path, hdr)
	if err != nil {
		return 0, err
	}
	defer rsp.Body.Close()

	bw := bufio.NewWriterSize(w, indexWriteBuffer)
	members := 0
	err = ix.lister.List(rsp.Body, func(m tarindex.MemberInfo) error {
		if _, err := bw.WriteString(tarindex.EncodeRow(m)); err != nil {
			return xerrors.Wrap(err, "write index row")
		}
		members++
		return nil
	})
	if err != nil {
		return members, err
	}
	if err := bw.Flush(); err != nil {
		return members, xerrors.Wrap(err, "flush index")
	}

	ix.logger.Info(ctx, "indexed archive",
		"path", path,
		"members", members,
		"cache", cachingproxy.CacheStatus(rsp),
	)
	return members, nil
}
