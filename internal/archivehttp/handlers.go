package archivehttp

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/google/cro3-sub001/internal/archive"
	"github.com/google/cro3-sub001/internal/cachingproxy"
	"github.com/google/cro3-sub001/internal/errkind"
)

// streamBuffer is the copy chunk for response bodies. Archives run into
// the gigabytes, so small chunks just burn syscalls.
const streamBuffer = 1 << 20

// trackingWriter records whether any bytes actually reached the
// underlying writer, which is what commits a response status.
type trackingWriter struct {
	w     io.Writer
	wrote bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.wrote = true
	}
	return t.w.Write(p)
}

// objectPath rebuilds "bucket/path/to/object" from the route params.
func objectPath(r *http.Request) string {
	return chi.URLParam(r, "bucket") + "/" + chi.URLParam(r, "*")
}

// writeError maps an error onto its HTTP status and ends the request.
// Only usable before the first body byte has been written.
func (rt *Routes) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := errkind.KindOf(err)
	status := kind.HTTPStatus()

	if status >= http.StatusInternalServerError {
		rt.logger.Error(r.Context(), err, "request failed", "op", op, "status", status)
	} else {
		rt.logger.Warn(r.Context(), "request rejected", "op", op, "status", status, "reason", err.Error())
	}
	if rt.metrics != nil {
		rt.metrics.IncOp(op, kind.String())
	}

	http.Error(w, err.Error(), status)
}

// stream copies body to the client, counting bytes for metrics. Errors
// past the first byte can only be logged; the status line is long gone.
func (rt *Routes) stream(w http.ResponseWriter, r *http.Request, op string, body io.Reader) {
	n, err := io.CopyBuffer(w, body, make([]byte, streamBuffer))
	if rt.metrics != nil {
		rt.metrics.AddStreamedBytes(op, n)
	}
	if err != nil {
		rt.logger.Warn(r.Context(), "stream aborted",
			"op", op, "bytes_sent", n, "reason", err.Error())
		return
	}
	if rt.metrics != nil {
		rt.metrics.IncOp(op, "ok")
	}
}

func (rt *Routes) download(w http.ResponseWriter, r *http.Request) {
	path := objectPath(r)

	obj, err := rt.downloader.Download(r.Context(), path)
	if err != nil {
		rt.writeError(w, r, "download", err)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	// the fronting proxy ranges into archives served here
	w.Header().Set("Accept-Ranges", "bytes")
	rt.stream(w, r, "download", obj.Body)
}

func (rt *Routes) listMember(w http.ResponseWriter, r *http.Request) {
	path := objectPath(r)

	tarPath, ext, ok := archive.NormalizeTar(path)
	if !ok {
		rt.writeError(w, r, "list_member", errkind.Newf(errkind.KindValidation,
			"can only list members of a tar archive, got %q", path))
		return
	}
	hdr := loopbackHeader(r, ext)

	// Rows stream out as the tar is scanned, so once a buffer flush
	// reaches the client the status code is committed and a failure
	// can only show up as a truncated body. Until that first flush the
	// rows sit in the indexer's buffer and the status line is still
	// ours to change.
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	tw := &trackingWriter{w: w}
	members, err := rt.indexer.WriteIndex(r.Context(), tarPath, hdr, tw)
	if err != nil {
		if !tw.wrote {
			rt.writeError(w, r, "list_member", err)
			return
		}
		rt.logger.Error(r.Context(), err, "index stream aborted",
			"path", tarPath, "members_written", members)
		if rt.metrics != nil {
			rt.metrics.IncOp("list_member", errkind.KindOf(err).String())
		}
		panic(http.ErrAbortHandler)
	}
	if rt.metrics != nil {
		rt.metrics.IncOp("list_member", "ok")
		rt.metrics.ObserveIndexMembers(members)
	}
}

func (rt *Routes) extract(w http.ResponseWriter, r *http.Request) {
	path := objectPath(r)

	files := r.URL.Query()["file"]
	if len(files) != 1 || files[0] == "" {
		rt.writeError(w, r, "extract", errkind.New(errkind.KindValidation,
			"exactly one file must be specified"))
		return
	}
	member := files[0]

	tarPath, ext, ok := archive.NormalizeTar(path)
	if !ok {
		rt.writeError(w, r, "extract", errkind.Newf(errkind.KindValidation,
			"can only extract from a tar archive, got %q", path))
		return
	}
	hdr := loopbackHeader(r, ext)

	res, err := rt.extractor.Extract(r.Context(), tarPath, member, hdr)
	if err != nil {
		rt.writeError(w, r, "extract", err)
		return
	}
	defer res.Body.Close()

	if rt.metrics != nil {
		rt.metrics.ObserveExtractRowsScanned(res.RowsScanned)
		rt.metrics.ObserveUpstreamCache(res.Cache)
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	rt.stream(w, r, "extract", res.Body)
}

func (rt *Routes) decompress(w http.ResponseWriter, r *http.Request) {
	path := objectPath(r)

	obj, spilled, err := rt.decompressor.Decompress(r.Context(), path, r.Header)
	if err != nil {
		rt.writeError(w, r, "decompress", err)
		return
	}
	defer obj.Body.Close()

	if spilled && rt.metrics != nil {
		rt.metrics.IncSpoolSpill()
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	// extraction from a compressed tar ranges into this response
	w.Header().Set("Accept-Ranges", "bytes")
	rt.stream(w, r, "decompress", obj.Body)
}

// loopbackHeader picks the forwardable request headers and stamps the
// compressed extension when the logical tar is stored compressed.
func loopbackHeader(r *http.Request, ext string) http.Header {
	hdr := http.Header{}
	if v := r.Header.Get(cachingproxy.HeaderNoCache); v != "" {
		hdr.Set(cachingproxy.HeaderNoCache, v)
	}
	if ext == "" {
		ext = r.Header.Get(cachingproxy.HeaderCompressedTarExt)
	}
	if ext != "" {
		hdr.Set(cachingproxy.HeaderCompressedTarExt, ext)
	}
	return hdr
}
