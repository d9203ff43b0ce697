// Package archive implements the operations served over HTTP: whole
// object download, member indexing, single member extraction and tar
// decompression. Everything streams; intermediate results loop through
// the external caching proxy so repeated requests hit its cache instead
// of the object store.
package archive

import (
	"context"
	"io"

	"github.com/google/cro3-sub001/internal/gs"
	"github.com/google/cro3-sub001/internal/log"
)

// Object is a streamable result with enough metadata to serve it as a
// plain 200 response. The caller owns Body.
type Object struct {
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
}

// Downloader serves whole objects straight from the object store.
type Downloader struct {
	store  gs.Client
	logger log.Logger
}

func NewDownloader(store gs.Client, logger log.Logger) *Downloader {
	if logger == nil {
		logger = log.Nop()
	}
	return &Downloader{store: store, logger: logger}
}

// Download stats the object first so the response can carry an exact
// Content-Length, then opens the body for streaming.
func (d *Downloader) Download(ctx context.Context, path string) (Object, error) {
	st, err := d.store.Stat(ctx, path)
	if err != nil {
		return Object{}, err
	}

	body, err := d.store.StreamingRead(ctx, path)
	if err != nil {
		return Object{}, err
	}

	d.logger.Debug(ctx, "download opened",
		"path", path,
		"content_type", st.ContentType,
		"content_length", st.ContentLength,
	)
	return Object{
		ContentType:   st.ContentType,
		ContentLength: st.ContentLength,
		Body:          body,
	}, nil
}
