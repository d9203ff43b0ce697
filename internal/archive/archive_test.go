package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cro3-sub001/internal/cachingproxy"
	"github.com/google/cro3-sub001/internal/errkind"
	"github.com/google/cro3-sub001/internal/gs"
	"github.com/google/cro3-sub001/internal/tarindex"
)

type tarEntry struct {
	name    string
	content string
}

func buildTar(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: e.name,
			Mode: 0o644,
			Size: int64(len(e.content)),
		}))
		_, err := io.WriteString(tw, e.content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func proxyFor(t *testing.T, h http.Handler) *cachingproxy.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := cachingproxy.New(srv.URL)
	require.NoError(t, err)
	return c
}

func TestNormalizeTar(t *testing.T) {
	tests := []struct {
		in      string
		tarPath string
		ext     string
		ok      bool
	}{
		{"bucket/files.tar", "bucket/files.tar", "", true},
		{"bucket/files.tar.gz", "bucket/files.tar", ".gz", true},
		{"bucket/files.tgz", "bucket/files.tar", ".tgz", true},
		{"bucket/files.tar.bz2", "bucket/files.tar", ".bz2", true},
		{"bucket/files.tar.xz", "bucket/files.tar", ".xz", true},
		{"bucket/files.zip", "", "", false},
		{"bucket/files", "", "", false},
	}
	for _, tt := range tests {
		tarPath, ext, ok := NormalizeTar(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.tarPath, tarPath, tt.in)
		assert.Equal(t, tt.ext, ext, tt.in)
	}
}

type fakeStore struct {
	stat gs.Stat
	body string
	err  error
}

func (f *fakeStore) Stat(ctx context.Context, path string) (gs.Stat, error) {
	if f.err != nil {
		return gs.Stat{}, f.err
	}
	return f.stat, nil
}

func (f *fakeStore) StreamingRead(ctx context.Context, path string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestDownloaderDownload(t *testing.T) {
	store := &fakeStore{
		stat: gs.Stat{ContentType: "text/plain", ContentLength: 5},
		body: "hello",
	}
	d := NewDownloader(store, nil)
	obj, err := d.Download(context.Background(), "bucket/hello.txt")
	require.NoError(t, err)
	defer obj.Body.Close()

	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, int64(5), obj.ContentLength)
	got, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestDownloaderPropagatesNotFound(t *testing.T) {
	store := &fakeStore{err: errkind.New(errkind.KindNotFound, "gone")}
	d := NewDownloader(store, nil)
	_, err := d.Download(context.Background(), "bucket/missing")
	assert.True(t, errkind.IsKind(err, errkind.KindNotFound))
}

func TestIndexerWriteIndex(t *testing.T) {
	tarBytes := buildTar(t, []tarEntry{
		{name: "control", content: "package: sleeptest\n"},
		{name: "data/big.bin", content: strings.Repeat("x", 600)},
	})
	proxy := proxyFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/download/bucket/files.tar", r.URL.Path)
		w.Write(tarBytes)
	}))

	var out bytes.Buffer
	ix := NewIndexer(proxy, nil)
	n, err := ix.WriteIndex(context.Background(), "bucket/files.tar", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	first, err := tarindex.DecodeRow(lines[0])
	require.NoError(t, err)
	assert.Equal(t, "control", first.Name)
	assert.Equal(t, int64(512), first.ContentStart)

	second, err := tarindex.DecodeRow(lines[1])
	require.NoError(t, err)
	assert.Equal(t, "data/big.bin", second.Name)
	assert.Equal(t, int64(600), second.Size)
	// rows locate real content inside the original bytes
	assert.Equal(t, "package: sleeptest\n",
		string(tarBytes[first.ContentStart:first.ContentStart+first.Size]))
}

func TestIndexerRejectsGarbage(t *testing.T) {
	proxy := proxyFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "this is not a tar archive, not even close, but it is long enough")
	}))
	ix := NewIndexer(proxy, nil)
	_, err := ix.WriteIndex(context.Background(), "bucket/files.tar", nil, io.Discard)
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.KindFormat))
}

// extractBackend serves the two proxy endpoints the extractor uses.
func extractBackend(t *testing.T, entries []tarEntry) (http.Handler, []byte) {
	t.Helper()
	tarBytes := buildTar(t, entries)

	var index bytes.Buffer
	require.NoError(t, tarindex.List(bytes.NewReader(tarBytes), func(m tarindex.MemberInfo) error {
		index.WriteString(tarindex.EncodeRow(m))
		return nil
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("/list_member/", func(w http.ResponseWriter, r *http.Request) {
		w.Write(index.Bytes())
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "files.tar", time.Time{}, bytes.NewReader(tarBytes))
	})
	return mux, tarBytes
}

func TestExtractorExtract(t *testing.T) {
	backend, _ := extractBackend(t, []tarEntry{
		{name: "first.txt", content: "abcde"},
		{name: "autotest/client,tests/sleeptest.py", content: "import time\n"},
	})
	proxy := proxyFor(t, backend)

	ex := NewExtractor(proxy, nil)
	got, err := ex.Extract(context.Background(), "bucket/files.tar", "autotest/client,tests/sleeptest.py", nil)
	require.NoError(t, err)
	defer got.Body.Close()

	assert.Equal(t, int64(12), got.Size)
	assert.Equal(t, 2, got.RowsScanned)
	content, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, "import time\n", string(content))
}

func TestExtractorZeroSizeMember(t *testing.T) {
	rangeRequests := 0
	backend, _ := extractBackend(t, []tarEntry{{name: "empty.txt", content: ""}})
	proxy := proxyFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/download/") {
			rangeRequests++
		}
		backend.ServeHTTP(w, r)
	}))

	ex := NewExtractor(proxy, nil)
	got, err := ex.Extract(context.Background(), "bucket/files.tar", "empty.txt", nil)
	require.NoError(t, err)
	defer got.Body.Close()

	assert.Equal(t, int64(0), got.Size)
	content, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Empty(t, content)
	assert.Zero(t, rangeRequests, "no range request should be issued for an empty member")
}

func TestExtractorMemberNotFound(t *testing.T) {
	rangeRequests := 0
	backend, _ := extractBackend(t, []tarEntry{{name: "present.txt", content: "here"}})
	proxy := proxyFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/download/") {
			rangeRequests++
		}
		backend.ServeHTTP(w, r)
	}))

	ex := NewExtractor(proxy, nil)
	_, err := ex.Extract(context.Background(), "bucket/files.tar", "absent.txt", nil)
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.KindNotFound))
	assert.Contains(t, err.Error(), "absent.txt")
	assert.Contains(t, err.Error(), "bucket/files.tar")
	assert.Zero(t, rangeRequests, "no range request should be issued for a missing member")
}

func TestExtractorRequiresPartialContent(t *testing.T) {
	backend, tarBytes := extractBackend(t, []tarEntry{{name: "first.txt", content: "abcde"}})
	proxy := proxyFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/download/") {
			// ignores Range and replies with the full archive
			w.Write(tarBytes)
			return
		}
		backend.ServeHTTP(w, r)
	}))

	ex := NewExtractor(proxy, nil)
	_, err := ex.Extract(context.Background(), "bucket/files.tar", "first.txt", nil)
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.KindUpstreamProtocol))
}

func TestDecompressorDecompress(t *testing.T) {
	tarBytes := buildTar(t, []tarEntry{{name: "a.txt", content: "hello"}})
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(tarBytes)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	proxy := proxyFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/download/bucket/files.tar.gz", r.URL.Path)
		assert.Empty(t, r.Header.Get(cachingproxy.HeaderCompressedTarExt))
		w.Write(gz.Bytes())
	}))

	hdr := http.Header{}
	hdr.Set(cachingproxy.HeaderCompressedTarExt, ".gz")
	d := NewDecompressor(proxy, 0, t.TempDir(), nil)
	obj, spilled, err := d.Decompress(context.Background(), "bucket/files.tar.gz", hdr)
	require.NoError(t, err)
	defer obj.Body.Close()

	assert.False(t, spilled)
	assert.Equal(t, "application/x-tar", obj.ContentType)
	assert.Equal(t, int64(len(tarBytes)), obj.ContentLength)
	got, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, tarBytes, got)
}

func TestDecompressorSpillsPastThreshold(t *testing.T) {
	tarBytes := buildTar(t, []tarEntry{{name: "big.bin", content: strings.Repeat("x", 4096)}})
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(tarBytes)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	proxy := proxyFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(gz.Bytes())
	}))

	d := NewDecompressor(proxy, 1024, t.TempDir(), nil)
	obj, spilled, err := d.Decompress(context.Background(), "bucket/files.tar.gz", nil)
	require.NoError(t, err)
	defer obj.Body.Close()

	assert.True(t, spilled)
	got, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, tarBytes, got)
}

func TestDecompressorRejectsXZ(t *testing.T) {
	d := NewDecompressor(nil, 0, "", nil)
	_, _, err := d.Decompress(context.Background(), "bucket/files.tar.xz", nil)
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.KindValidation))
}

func TestDecompressorRequiresCompressedTarSuffix(t *testing.T) {
	d := NewDecompressor(nil, 0, "", nil)
	for _, path := range []string{"bucket/files.gz", "bucket/files.bz2", "bucket/files.tar"} {
		_, _, err := d.Decompress(context.Background(), path, nil)
		require.Error(t, err, path)
		assert.True(t, errkind.IsKind(err, errkind.KindValidation), path)
	}
}

func TestDecompressorRejectsCorruptStream(t *testing.T) {
	proxy := proxyFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "definitely not gzip")
	}))
	d := NewDecompressor(proxy, 0, "", nil)
	_, _, err := d.Decompress(context.Background(), "bucket/files.tar.gz", nil)
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.KindFormat))
}
