// Package service is the request coordinator: it resolves identifiers to
// cached markdown or drives a fresh conversion and stores the result.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/markxiv/internal/cache"
	"github.com/ppiankov/markxiv/internal/convert"
	"github.com/ppiankov/markxiv/internal/logging"
	"github.com/ppiankov/markxiv/internal/model"
	"github.com/ppiankov/markxiv/internal/source"
)

// MaxSearchResults bounds Search
const MaxSearchResults = 20

// Coordinator ties the cache tiers, the source client and the conversion
// pipeline together. Concurrent misses for the same key share one
// conversion.
type Coordinator struct {
	cache    *cache.LayeredCache
	source   source.Client
	pipeline *convert.Pipeline
	flight   singleflight.Group
	logger   *zap.Logger
}

// NewCoordinator creates a coordinator
func NewCoordinator(c *cache.LayeredCache, src source.Client, pipeline *convert.Pipeline, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		cache:    c,
		source:   src,
		pipeline: pipeline,
		logger:   logging.OrNop(logger),
	}
}

// Convert returns the markdown for raw, which may be any accepted spelling
// of an identifier. refresh bypasses both cache tiers; the fresh result is
// still written back.
func (c *Coordinator) Convert(ctx context.Context, raw string, refresh bool) (string, error) {
	id, key, err := cache.CanonicalKey(raw)
	if err != nil {
		return "", classify(err)
	}

	if !refresh {
		if md, ok := c.cache.Get(key); ok {
			return md, nil
		}
	}

	flightKey := key
	if refresh {
		flightKey += "?refresh=1"
	}
	// the shared conversion outlives any single waiter
	work := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(flightKey, func() (any, error) {
		return c.convert(work, id, key)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", classify(res.Err)
		}
		return res.Val.(string), nil
	}
}

func (c *Coordinator) convert(ctx context.Context, id, key string) (string, error) {
	start := time.Now()
	logger := c.logger.With(zap.String("id", id))

	var (
		meta    *model.Metadata
		archive []byte
		pdfOnly bool
		metaErr error
		rawErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := c.source.FetchMetadata(gctx, id)
		switch {
		case err == nil:
			meta = m
		case errors.Is(err, source.ErrNotImplemented):
			logger.Debug("metadata unavailable, continuing without it")
		default:
			metaErr = err
			return err
		}
		return nil
	})
	g.Go(func() error {
		data, err := c.source.FetchRawContent(gctx, id)
		switch {
		case err == nil:
			archive = data
		case errors.Is(err, source.ErrPdfOnly):
			pdfOnly = true
		default:
			rawErr = err
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(metaErr, source.ErrNotFound) || errors.Is(rawErr, source.ErrNotFound) {
			return "", source.ErrNotFound
		}
		return "", err
	}

	res, err := c.pipeline.Convert(ctx, convert.Input{
		ID:      id,
		Archive: archive,
		PdfOnly: pdfOnly,
		FetchPDF: func(ctx context.Context) ([]byte, error) {
			return c.source.FetchPDF(ctx, id)
		},
	})
	if err != nil {
		logger.Warn("conversion failed", zap.Error(err))
		return "", err
	}

	markdown := res.Markdown
	if res.Step != convert.StepPdfFallback {
		markdown = PrependMetadata(meta, markdown)
	}
	c.cache.Set(key, markdown)

	logger.Info("converted",
		zap.String("step", string(res.Step)),
		zap.Int("bytes", len(markdown)),
		zap.Duration("duration", time.Since(start)))
	return markdown, nil
}

// Exists reports whether raw names a known paper. A cached conversion
// answers without asking the source.
func (c *Coordinator) Exists(ctx context.Context, raw string) (bool, error) {
	id, key, err := cache.CanonicalKey(raw)
	if err != nil {
		return false, classify(err)
	}
	if _, ok := c.cache.Get(key); ok {
		return true, nil
	}
	ok, err := c.source.Exists(ctx, id)
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

// Metadata renders title, authors and abstract without converting
func (c *Coordinator) Metadata(ctx context.Context, raw string) (string, error) {
	id, err := cache.NormalizeID(raw)
	if err != nil {
		return "", classify(err)
	}
	meta, err := c.source.FetchMetadata(ctx, id)
	if err != nil {
		return "", classify(err)
	}
	return RenderMetadata(id, meta), nil
}

// Search renders at most limit results for query; limit is clamped to
// [1, MaxSearchResults] with 5 as the default.
func (c *Coordinator) Search(ctx context.Context, query string, limit int) (string, error) {
	results, err := c.SearchResults(ctx, query, limit)
	if err != nil {
		return "", err
	}
	return RenderSearch(strings.TrimSpace(query), results), nil
}

// SearchResults is Search without rendering
func (c *Coordinator) SearchResults(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, classify(source.ErrInvalidQuery)
	}
	results, err := c.source.Search(ctx, query, source.ClampMax(limit, MaxSearchResults))
	if err != nil {
		return nil, classify(err)
	}
	return results, nil
}

// Figures lists figure image URLs for a paper
func (c *Coordinator) Figures(ctx context.Context, raw string) ([]string, error) {
	id, err := cache.NormalizeID(raw)
	if err != nil {
		return nil, classify(err)
	}
	urls, err := c.source.FigureImageURLs(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	return urls, nil
}
