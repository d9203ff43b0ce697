package archive

import (
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/google/cro3-sub001/internal/cachingproxy"
	"github.com/google/cro3-sub001/internal/errkind"
	"github.com/google/cro3-sub001/internal/log"
	"github.com/google/cro3-sub001/internal/spool"
	"github.com/google/cro3-sub001/internal/xerrors"
)

// Decompressor turns a compressed tar stored upstream into its plain
// tar bytes. The decompressed size is unknown until the end, so the
// output goes through a spool first; that way the response can carry a
// Content-Length, which range requests against the cached copy need.
type Decompressor struct {
	proxy          *cachingproxy.Client
	logger         log.Logger
	spoolThreshold int64
	spoolDir       string
}

func NewDecompressor(proxy *cachingproxy.Client, spoolThreshold int64, spoolDir string, logger log.Logger) *Decompressor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Decompressor{
		proxy:          proxy,
		logger:         logger,
		spoolThreshold: spoolThreshold,
		spoolDir:       spoolDir,
	}
}

// Decompress fetches the compressed object at path through the proxy
// and returns the decompressed tar with an exact Content-Length. The
// returned Object also reports whether the spool spilled to disk via
// Spilled.
func (d *Decompressor) Decompress(ctx context.Context, path string, hdr http.Header) (Object, bool, error) {
	newReader, err := decoderFor(path)
	if err != nil {
		return Object{}, false, err
	}

	// path already names the compressed object; dropping the marker
	// header keeps the download from rerouting back into decompress
	hdr = hdr.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	hdr.Del(cachingproxy.HeaderCompressedTarExt)

	rsp, err := d.proxy.Download(ctx, path, hdr)
	if err != nil {
		return Object{}, false, err
	}
	defer rsp.Body.Close()

	dec, err := newReader(rsp.Body)
	if err != nil {
		return Object{}, false, errkind.Wrapf(errkind.KindFormat, err, "open compressed stream %q", path)
	}

	buf := spool.New(d.spoolThreshold, d.spoolDir)
	if _, err := io.Copy(buf, dec); err != nil {
		buf.Close()
		return Object{}, false, errkind.Wrapf(errkind.KindFormat, err, "decompress %q", path)
	}

	r, err := buf.Reader()
	if err != nil {
		buf.Close()
		return Object{}, false, xerrors.Wrap(err, "rewind decompressed tar")
	}

	d.logger.Info(ctx, "decompressed archive",
		"path", path,
		"size", buf.Size(),
		"spilled", buf.Spilled(),
		"cache", cachingproxy.CacheStatus(rsp),
	)
	return Object{
		ContentType:   "application/x-tar",
		ContentLength: buf.Size(),
		Body:          &spoolBody{r: r, buf: buf},
	}, buf.Spilled(), nil
}

// decoderFor picks the decompression codec from the path suffix. Only
// compressed tar spellings qualify; a bare .gz or .bz2 object is not a
// tar and has no business here.
func decoderFor(path string) (func(io.Reader) (io.Reader, error), error) {
	switch {
	case strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz"):
		return func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
			nil
	case strings.HasSuffix(path, ".tar.bz2"):
		return func(r io.Reader) (io.Reader, error) { return bzip2.NewReader(r), nil },
			nil
	case strings.HasSuffix(path, ".tar.xz"):
		return nil, errkind.Newf(errkind.KindValidation, "xz archives are not supported: %q", path)
	default:
		return nil, errkind.Newf(errkind.KindValidation, "cannot decompress %q: not a compressed tar", path)
	}
}

// spoolBody serves the spooled bytes and tears the spool down on Close.
type spoolBody struct {
	r   io.ReadSeeker
	buf *spool.Buffer
}

func (b *spoolBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *spoolBody) Close() error               { return b.buf.Close() }
