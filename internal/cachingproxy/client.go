// Package cachingproxy calls back through the external caching reverse
// proxy sitting in front of this service. Intermediate results (full
// archive downloads, member indexes, decompressed tars) loop through
// the proxy so it can memoize them; this client is that loopback edge.
package cachingproxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/google/cro3-sub001/internal/errkind"
	"github.com/google/cro3-sub001/internal/log"
)

// HeaderNoCache asks the proxy to bypass its cache for one request.
const HeaderNoCache = "X-No-Cache"

// HeaderCompressedTarExt marks a download that must actually be served
// by the decompress operation. The value is the real extension of the
// compressed object, e.g. ".gz". The header rides through the proxy and
// back into this service, which reroutes accordingly.
const HeaderCompressedTarExt = "X-Compressed-Tar-Ext"

// forwardHeaders is the allowlist of request headers passed upstream.
var forwardHeaders = []string{"Range", HeaderNoCache, HeaderCompressedTarExt}

// observeHeaders are the response headers worth logging per call.
var observeHeaders = []string{"Content-Type", "Content-Length", "Content-Range", "X-Cache", "Cache-Control"}

type Client struct {
	base   *url.URL
	httpc  *http.Client
	logger log.Logger
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

func WithLogger(l log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a client against the proxy at rawURL, e.g. "http://127.0.0.1:8082".
// A missing scheme defaults to http. Path/query components are rejected.
func New(rawURL string, opts ...Option) (*Client, error) {
	if rawURL == "" {
		return nil, errkind.New(errkind.KindValidation, "caching server URL is required")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, errkind.Newf(errkind.KindValidation, "invalid caching server URL %q", rawURL)
	}

	c := &Client{
		base: &url.URL{Scheme: u.Scheme, Host: u.Host},
		httpc: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: log.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Download streams an object through the proxy. When hdr carries
// HeaderCompressedTarExt the request is rerouted to decompress with the
// compressed object name, because the named .tar only exists as its
// compressed form in the object store.
func (c *Client) Download(ctx context.Context, path string, hdr http.Header) (*http.Response, error) {
	if ext := hdr.Get(HeaderCompressedTarExt); ext != "" {
		return c.call(ctx, "decompress", compressedName(path, ext), hdr)
	}
	return c.call(ctx, "download", path, hdr)
}

// ListMember streams the CSV member index of a tar archive through the proxy.
func (c *Client) ListMember(ctx context.Context, path string, hdr http.Header) (*http.Response, error) {
	return c.call(ctx, "list_member", path, hdr)
}

// compressedName maps a logical tar name plus compressed extension back
// to the object stored upstream: foo.tar + .gz -> foo.tar.gz, but
// foo.tar + .tgz -> foo.tgz.
func compressedName(path, ext string) string {
	if ext == ".tgz" {
		return strings.TrimSuffix(path, ".tar") + ext
	}
	return path + ext
}

func (c *Client) call(ctx context.Context, action, path string, hdr http.Header) (*http.Response, error) {
	u := *c.base
	u.Path = "/" + action + "/" + strings.TrimPrefix(path, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errkind.Wrapf(errkind.KindValidation, err, "build %s request for %q", action, path)
	}
	for _, name := range forwardHeaders {
		if v := hdr.Get(name); v != "" && !(action == "decompress" && name == HeaderCompressedTarExt) {
			req.Header.Set(name, v)
		}
	}

	c.logger.Debug(ctx, "caching server request",
		"url", u.String(),
		"range", req.Header.Get("Range"),
		"no_cache", req.Header.Get(HeaderNoCache),
	)

	rsp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errkind.Wrapf(errkind.KindUnavailable, err, "caching server %s %q", action, path)
	}

	kv := []any{"url", u.String(), "status", rsp.StatusCode}
	for _, name := range observeHeaders {
		if v := rsp.Header.Get(name); v != "" {
			kv = append(kv, strings.ToLower(strings.ReplaceAll(name, "-", "_")), v)
		}
	}
	c.logger.Debug(ctx, "caching server response", kv...)

	if rsp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(rsp, action, path)
	}
	return rsp, nil
}

// statusError drains and closes the failed response and maps its status
// onto the error taxonomy.
func statusError(rsp *http.Response, action, path string) error {
	body, _ := io.ReadAll(io.LimitReader(rsp.Body, 1024))
	rsp.Body.Close()

	detail := fmt.Sprintf("caching server %s %q: upstream status %d", action, path, rsp.StatusCode)
	if len(body) > 0 {
		detail += ": " + strings.TrimSpace(string(body))
	}

	switch rsp.StatusCode {
	case http.StatusNotFound:
		return errkind.New(errkind.KindNotFound, detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return errkind.New(errkind.KindAuth, detail)
	case http.StatusBadRequest:
		return errkind.New(errkind.KindValidation, detail)
	default:
		return errkind.New(errkind.KindUnavailable, detail)
	}
}

// CacheStatus extracts the proxy cache verdict (HIT/MISS/...) from a
// response, or "" when the proxy did not report one.
func CacheStatus(rsp *http.Response) string {
	return rsp.Header.Get("X-Cache")
}
