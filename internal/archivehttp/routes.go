// Package archivehttp exposes the archive operations over HTTP. Routes
// mirror the caching proxy's path layout (/download/<bucket>/<object>
// and friends) so the proxy can be pointed straight at this service.
package archivehttp

import (
	"github.com/go-chi/chi/v5"

	"github.com/google/cro3-sub001/internal/archive"
	"github.com/google/cro3-sub001/internal/log"
	"github.com/google/cro3-sub001/internal/metrics"
)

type Routes struct {
	downloader   *archive.Downloader
	indexer      *archive.Indexer
	extractor    *archive.Extractor
	decompressor *archive.Decompressor
	metrics      *metrics.ServerMetrics
	logger       log.Logger
}

func New(dl *archive.Downloader, ix *archive.Indexer, ex *archive.Extractor, dc *archive.Decompressor, m *metrics.ServerMetrics, logger log.Logger) *Routes {
	if logger == nil {
		logger = log.Nop()
	}
	return &Routes{
		downloader:   dl,
		indexer:      ix,
		extractor:    ex,
		decompressor: dc,
		metrics:      m,
		logger:       logger,
	}
}

func (rt *Routes) RegisterRoutes(r chi.Router) {
	r.Get("/download/{bucket}/*", rt.download)
	r.Get("/list_member/{bucket}/*", rt.listMember)
	r.Get("/extract/{bucket}/*", rt.extract)
	r.Get("/decompress/{bucket}/*", rt.decompress)
}
