package source

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ppiankov/markxiv/internal/model"
)

// Fake is an in-memory Client for tests. Unset maps yield ErrNotFound for
// metadata and PDFs, and ErrPdfOnly for source bundles.
type Fake struct {
	mu          sync.Mutex
	Meta        map[string]*model.Metadata
	Sources     map[string][]byte
	PDFs        map[string][]byte
	Figures     map[string][]string
	Results     []model.SearchResult
	Err         error // returned by every call when set
	MetaErr     error // returned by FetchMetadata when set
	Unknown     map[string]bool
	MetaCalls   atomic.Int64
	RawCalls    atomic.Int64
	PDFCalls    atomic.Int64
	SearchCalls atomic.Int64
}

// NewFake returns an empty Fake
func NewFake() *Fake {
	return &Fake{
		Meta:    map[string]*model.Metadata{},
		Sources: map[string][]byte{},
		PDFs:    map[string][]byte{},
		Figures: map[string][]string{},
		Unknown: map[string]bool{},
	}
}

func (f *Fake) FetchMetadata(_ context.Context, id string) (*model.Metadata, error) {
	f.MetaCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.MetaErr != nil {
		return nil, f.MetaErr
	}
	meta, ok := f.Meta[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *meta
	return &out, nil
}

func (f *Fake) FetchRawContent(_ context.Context, id string) ([]byte, error) {
	f.RawCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Unknown[id] {
		return nil, ErrNotFound
	}
	data, ok := f.Sources[id]
	if !ok {
		return nil, ErrPdfOnly
	}
	return data, nil
}

func (f *Fake) FetchPDF(_ context.Context, id string) ([]byte, error) {
	f.PDFCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	data, ok := f.PDFs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (f *Fake) Search(_ context.Context, query string, limit int) ([]model.SearchResult, error) {
	f.SearchCalls.Add(1)
	if strings.TrimSpace(query) == "" {
		return nil, ErrInvalidQuery
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	limit = ClampMax(limit, maxSearchResults)
	out := f.Results
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]model.SearchResult(nil), out...), nil
}

func (f *Fake) FigureImageURLs(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]string{}, f.Figures[id]...), nil
}

func (f *Fake) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	if f.Unknown[id] {
		return false, nil
	}
	_, meta := f.Meta[id]
	_, src := f.Sources[id]
	_, pdf := f.PDFs[id]
	return meta || src || pdf, nil
}

var _ Client = (*Fake)(nil)
var _ Client = (*ArxivClient)(nil)
