package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/markxiv/internal/cache"
	"github.com/ppiankov/markxiv/internal/convert"
	"github.com/ppiankov/markxiv/internal/model"
	"github.com/ppiankov/markxiv/internal/source"
	"github.com/ppiankov/markxiv/internal/worker"
)

type stubToolchain struct {
	standard []byte
	standErr error
	noMacros []byte
	pdfText  []byte
	pdfErr   error
	gate     chan struct{}

	latexCalls atomic.Int64
	pdfCalls   atomic.Int64
}

func (s *stubToolchain) Extract(_ context.Context, _ []byte, dir string) error {
	return os.WriteFile(filepath.Join(dir, "main.tex"), []byte(`\documentclass{article}`), 0o600)
}

func (s *stubToolchain) LatexToMarkdown(ctx context.Context, _, _ string, macros bool) ([]byte, error) {
	s.latexCalls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if macros {
		return s.standard, s.standErr
	}
	return s.noMacros, nil
}

func (s *stubToolchain) PdfToText(_ context.Context, _ []byte, _ string) ([]byte, error) {
	s.pdfCalls.Add(1)
	return s.pdfText, s.pdfErr
}

type fixture struct {
	coord *Coordinator
	src   *source.Fake
	tools *stubToolchain
	mem   *cache.MemoryCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	src := source.NewFake()
	src.Meta["1706.03762"] = &model.Metadata{
		Title:   "Attention Is All You Need",
		Summary: "We propose the <b>Transformer</b>.",
		Authors: []string{"Ashish Vaswani", " ", "Noam Shazeer"},
	}
	src.Sources["1706.03762"] = []byte("tarball")
	src.PDFs["1706.03762"] = []byte("%PDF-1.5")

	tools := &stubToolchain{
		standard: []byte("Body with $a < b$ math."),
		pdfText:  []byte("plain pdf text"),
	}
	mem := cache.NewMemoryCache(16)
	layered := cache.NewLayeredCache(mem, nil, nil)
	pipeline := convert.NewPipeline(tools, worker.NewPermits(2), model.ConvertConfig{
		LatexTimeout: 5 * time.Second,
		PDFTimeout:   5 * time.Second,
		WorkDir:      t.TempDir(),
	}, nil)

	return &fixture{
		coord: NewCoordinator(layered, src, pipeline, nil),
		src:   src,
		tools: tools,
		mem:   mem,
	}
}

func TestConvertPrependsMetadata(t *testing.T) {
	f := newFixture(t)

	md, err := f.coord.Convert(context.Background(), "1706.03762", false)
	require.NoError(t, err)
	want := "# Attention Is All You Need\n\n" +
		"## Authors\nAshish Vaswani, Noam Shazeer\n\n" +
		"## Abstract\nWe propose the Transformer.\n\n" +
		"Body with $a < b$ math."
	assert.Equal(t, want, md)
}

func TestConvertServesFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.coord.Convert(ctx, "/pdf/1706.03762.pdf", false)
	require.NoError(t, err)
	second, err := f.coord.Convert(ctx, "1706.03762", false)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, f.src.RawCalls.Load())
	assert.EqualValues(t, 1, f.tools.latexCalls.Load())
	assert.Equal(t, 1, f.mem.Len())
}

func TestConvertRefreshBypassesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Convert(ctx, "1706.03762", false)
	require.NoError(t, err)

	f.tools.standard = []byte("Updated body.")
	md, err := f.coord.Convert(ctx, "1706.03762", true)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(md, "Updated body."))
	assert.EqualValues(t, 2, f.src.RawCalls.Load())

	cached, err := f.coord.Convert(ctx, "1706.03762", false)
	require.NoError(t, err)
	assert.Equal(t, md, cached)
}

func TestConvertPdfOnlySkipsMetadata(t *testing.T) {
	f := newFixture(t)
	delete(f.src.Sources, "1706.03762")

	md, err := f.coord.Convert(context.Background(), "1706.03762", false)
	require.NoError(t, err)
	assert.Equal(t, "plain pdf text", md)
	assert.Zero(t, f.tools.latexCalls.Load())
	assert.EqualValues(t, 1, f.tools.pdfCalls.Load())
}

func TestConvertLatexFailureFallsBackToPDF(t *testing.T) {
	f := newFixture(t)
	f.tools.standErr = errors.New("pandoc failed")
	f.tools.noMacros = nil

	md, err := f.coord.Convert(context.Background(), "1706.03762", false)
	require.NoError(t, err)
	assert.Equal(t, "plain pdf text", md)
	assert.EqualValues(t, 2, f.tools.latexCalls.Load())
}

func TestConvertWithoutMetadata(t *testing.T) {
	f := newFixture(t)
	f.src.MetaErr = source.ErrNotImplemented

	md, err := f.coord.Convert(context.Background(), "1706.03762", false)
	require.NoError(t, err)
	assert.Equal(t, "Body with $a < b$ math.", md)
}

func TestConvertErrors(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		setup func(f *fixture)
		kind  Kind
	}{
		{name: "invalid id", raw: "  ", kind: KindInvalidID},
		{name: "non ascii id", raw: "1706.0376é", kind: KindInvalidID},
		{
			name:  "metadata not found",
			raw:   "0000.00000",
			setup: func(f *fixture) { f.src.Sources["0000.00000"] = []byte("tar") },
			kind:  KindNotFound,
		},
		{
			name: "source not found",
			raw:  "1706.03762",
			setup: func(f *fixture) {
				f.src.MetaErr = source.ErrNotImplemented
				f.src.Unknown["1706.03762"] = true
			},
			kind: KindNotFound,
		},
		{
			name: "network",
			raw:  "1706.03762",
			setup: func(f *fixture) {
				f.src.Err = &source.NetworkError{Op: "eprint", Err: errors.New("status 503")}
			},
			kind: KindNetwork,
		},
		{
			name: "every step fails",
			raw:  "1706.03762",
			setup: func(f *fixture) {
				f.tools.standErr = errors.New("boom")
				f.tools.pdfErr = errors.New("pdftotext failed")
			},
			kind: KindConversionFailed,
		},
		{
			name: "pdf missing after fallback",
			raw:  "1706.03762",
			setup: func(f *fixture) {
				delete(f.src.Sources, "1706.03762")
				delete(f.src.PDFs, "1706.03762")
			},
			kind: KindNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			md, err := f.coord.Convert(context.Background(), tt.raw, false)
			require.Error(t, err)
			assert.Empty(t, md)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Zero(t, f.mem.Len(), "failures must not be cached")
		})
	}
}

func TestConvertNotImplementedWithoutToolchain(t *testing.T) {
	src := source.NewFake()
	src.Sources["1"] = []byte("tar")
	src.MetaErr = source.ErrNotImplemented
	layered := cache.NewLayeredCache(cache.NewMemoryCache(4), nil, nil)
	pipeline := convert.NewPipeline(nil, worker.NewPermits(1), model.ConvertConfig{}, nil)
	coord := NewCoordinator(layered, src, pipeline, nil)

	_, err := coord.Convert(context.Background(), "1", false)
	assert.Equal(t, KindNotImplemented, KindOf(err))
}

func TestConvertDeduplicatesConcurrentMisses(t *testing.T) {
	f := newFixture(t)
	f.tools.gate = make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.coord.Convert(context.Background(), "1706.03762", false)
		}(i)
	}

	require.Eventually(t, func() bool { return f.tools.latexCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(f.tools.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.EqualValues(t, 1, f.src.RawCalls.Load())
	assert.EqualValues(t, 1, f.tools.latexCalls.Load())
}

func TestConvertWaiterCancel(t *testing.T) {
	f := newFixture(t)
	f.tools.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Convert(ctx, "1706.03762", false)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.tools.latexCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Convert did not return after cancel")
	}

	// the abandoned conversion still completes and fills the cache
	close(f.tools.gate)
	md, err := f.coord.Convert(context.Background(), "1706.03762", false)
	require.NoError(t, err)
	assert.Contains(t, md, "Body with")
	assert.EqualValues(t, 1, f.tools.latexCalls.Load())
}

func TestExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.coord.Exists(ctx, "arXiv:1706.03762")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.coord.Exists(ctx, "0000.00000")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.coord.Exists(ctx, "  ")
	assert.Equal(t, KindInvalidID, KindOf(err))
}

func TestExistsAnswersFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Convert(ctx, "1706.03762", false)
	require.NoError(t, err)
	f.src.Err = &source.NetworkError{Op: "exists", Err: errors.New("down")}

	ok, err := f.coord.Exists(ctx, "/pdf/1706.03762.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.coord.Exists(ctx, "2101.00001")
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestMetadata(t *testing.T) {
	f := newFixture(t)

	md, err := f.coord.Metadata(context.Background(), "arXiv:1706.03762")
	require.NoError(t, err)
	want := "# Attention Is All You Need\n\n" +
		"**Authors:** Ashish Vaswani, Noam Shazeer\n\n" +
		"**Abstract:**\nWe propose the Transformer.\n" +
		"\n**Link:** https://arxiv.org/abs/1706.03762\n"
	assert.Equal(t, want, md)

	_, err = f.coord.Metadata(context.Background(), "9999.99999")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	f.src.Results = []model.SearchResult{
		{ID: "1706.03762v7", Title: " Attention ", Summary: strings.Repeat("a", 310), Authors: []string{"A", "B"}, Published: "2017-06-12T17:57:34Z"},
		{ID: "2101.00001v1", Title: "Second"},
	}

	md, err := f.coord.Search(context.Background(), " transformers ", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "Found 2 result(s) for \"transformers\":\n\n## 1. Attention\n**arXiv ID:** 1706.03762v7\n"))
	assert.Contains(t, md, "**Authors:** A, B\n**Published:** 2017-06-12T17:57:34Z\n")
	assert.Contains(t, md, "**Abstract:** "+strings.Repeat("a", 300)+"...\n")
	assert.Contains(t, md, "## 2. Second\n**arXiv ID:** 2101.00001v1\n**Link:** https://arxiv.org/abs/2101.00001v1\n\n")

	md, err = f.coord.Search(context.Background(), "x", 1)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "Found 1 result(s)"))

	_, err = f.coord.Search(context.Background(), "   ", 5)
	assert.Equal(t, KindInvalidQuery, KindOf(err))
}

func TestSearchNoResults(t *testing.T) {
	f := newFixture(t)
	md, err := f.coord.Search(context.Background(), "nothing", 5)
	require.NoError(t, err)
	assert.Equal(t, "No papers found matching your query.", md)
}

func TestFigures(t *testing.T) {
	f := newFixture(t)
	f.src.Figures["1706.03762"] = []string{"https://arxiv.org/html/1706.03762/x1.png"}

	urls, err := f.coord.Figures(context.Background(), "/abs/1706.03762")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://arxiv.org/html/1706.03762/x1.png"}, urls)

	_, err = f.coord.Figures(context.Background(), "")
	assert.Equal(t, KindInvalidID, KindOf(err))
}

func TestPrependMetadataOmitsEmptySections(t *testing.T) {
	assert.Equal(t, "body", PrependMetadata(nil, "body"))
	assert.Equal(t, "# T\n\nbody", PrependMetadata(&model.Metadata{Title: " <i>T</i> "}, "body"))
	assert.Equal(t, "## Abstract\nX\n\nbody", PrependMetadata(&model.Metadata{Summary: "X"}, "body"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{cache.ErrInvalidID, KindInvalidID},
		{source.ErrInvalidQuery, KindInvalidQuery},
		{source.ErrNotFound, KindNotFound},
		{source.ErrPdfOnly, KindPdfOnly},
		{source.ErrNotImplemented, KindNotImplemented},
		{convert.ErrNotImplemented, KindNotImplemented},
		{&source.NetworkError{Op: "pdf", Err: errors.New("x")}, KindNetwork},
		{&convert.Error{Step: convert.StepPdfFallback, Reason: "x"}, KindConversionFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(classify(tt.err)), "%v", tt.err)
	}
	assert.ErrorIs(t, classify(context.Canceled), context.Canceled)
	assert.Equal(t, Kind(""), KindOf(classify(context.Canceled)))
	assert.Nil(t, classify(nil))
}
