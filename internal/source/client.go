// Package source fetches paper metadata, e-print source bundles and PDFs
// from arXiv.
package source

import (
	"context"

	"github.com/ppiankov/markxiv/internal/model"
)

// Client is the upstream paper source. Implementations return ErrNotFound,
// ErrPdfOnly, ErrNotImplemented or a *NetworkError as documented per method.
type Client interface {
	// FetchMetadata returns title, authors and abstract. ErrNotFound when
	// the id is unknown; ErrNotImplemented when metadata is unavailable.
	FetchMetadata(ctx context.Context, id string) (*model.Metadata, error)
	// FetchRawContent returns the e-print archive. ErrPdfOnly when the
	// paper has no source bundle.
	FetchRawContent(ctx context.Context, id string) ([]byte, error)
	// FetchPDF returns the rendered PDF. ErrNotFound when the id is unknown.
	FetchPDF(ctx context.Context, id string) ([]byte, error)
	// Search runs a free-text query and returns at most limit results
	Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error)
	// FigureImageURLs lists figure image URLs from the paper's HTML rendering
	FigureImageURLs(ctx context.Context, id string) ([]string, error)
	// Exists reports whether the id resolves to a paper
	Exists(ctx context.Context, id string) (bool, error)
}
