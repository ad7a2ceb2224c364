package retrieval

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
	"golang.org/x/sync/singleflight"
)

// DocumentSource fetches documents by id.
type DocumentSource interface {
	GetDocument(ctx context.Context, id string) (*database.Document, error)
}

// Documents memoizes document reads for the duration of a run so that
// many instances citing the same paper load it once. Concurrent loads of
// the same id share one store read.
type Documents struct {
	src   DocumentSource
	cache *gocache.Cache
	group singleflight.Group
}

// NewDocuments caches documents from src for ttl.
func NewDocuments(src DocumentSource, ttl time.Duration) *Documents {
	return &Documents{src: src, cache: gocache.New(ttl, 2*ttl)}
}

// Get returns the document, or nil if the store does not have it.
func (d *Documents) Get(ctx context.Context, id string) (*database.Document, error) {
	if v, ok := d.cache.Get(id); ok {
		return v.(*database.Document), nil
	}
	v, err, _ := d.group.Do(id, func() (any, error) {
		if v, ok := d.cache.Get(id); ok {
			return v, nil
		}
		doc, err := d.src.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		d.cache.SetDefault(id, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*database.Document), nil
}
