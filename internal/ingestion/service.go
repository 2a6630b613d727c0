package ingestion

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vd-speed-test/speedroll/internal/core/rollup"
	"github.com/vd-speed-test/speedroll/internal/core/storage"
)

type Service struct {
	store            storage.ObjectStore
	layout           rollup.Layout
	loc              *time.Location
	maxBodySizeBytes int
	nowFn            func() time.Time
}

// NewService creates the collector-facing ingestion service. loc is the
// timezone raw partitions are laid out in.
func NewService(store storage.ObjectStore, layout rollup.Layout, loc *time.Location, maxBodySizeKB int) *Service {
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if loc == nil {
		loc = time.UTC
	}
	if maxBodySizeKB <= 0 {
		maxBodySizeKB = 64 // a record is well under 1KB
	}
	return &Service{
		store:            store,
		layout:           layout,
		loc:              loc,
		maxBodySizeBytes: maxBodySizeKB * 1024,
		nowFn:            time.Now,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/measurements", s.IngestHandler)
}
