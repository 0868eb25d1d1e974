package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ppiankov/markxiv/internal/model"
	"github.com/ppiankov/markxiv/internal/service"
)

type call struct {
	raw     string
	refresh bool
}

type stubService struct {
	mu      sync.Mutex
	calls   []call
	md      string
	err     error
	figures []string
	query   string
	limit   int
	exists  bool
}

func (s *stubService) Convert(_ context.Context, raw string, refresh bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{raw: raw, refresh: refresh})
	return s.md, s.err
}

func (s *stubService) Metadata(_ context.Context, raw string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{raw: raw})
	return "# meta for " + raw, s.err
}

func (s *stubService) Search(_ context.Context, query string, limit int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query, s.limit = query, limit
	return "results", s.err
}

func (s *stubService) Figures(_ context.Context, raw string) ([]string, error) {
	return s.figures, s.err
}

func (s *stubService) Exists(_ context.Context, raw string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{raw: raw})
	return s.exists, s.err
}

func newTestServer(t *testing.T, svc *stubService, indexPath string) *httptest.Server {
	t.Helper()
	srv := New(svc, model.ServerConfig{IndexPath: indexPath}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string, header ...string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &stubService{}, "")
	resp, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestPaperRoutes(t *testing.T) {
	svc := &stubService{md: "# Title\n\nbody"}
	ts := newTestServer(t, svc, "")

	tests := []struct {
		path    string
		raw     string
		refresh bool
	}{
		{"/abs/1706.03762", "1706.03762", false},
		{"/pdf/1706.03762.pdf", "1706.03762.pdf", false},
		{"/pdf/1706.03762", "1706.03762", false},
		{"/abs/hep-th/9901001?refresh=1", "hep-th/9901001", true},
		{"/abs/1706.03762?refresh=true", "1706.03762", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := get(t, ts.URL+tt.path)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "text/markdown; charset=utf-8", resp.Header.Get("Content-Type"))
			assert.Equal(t, "# Title\n\nbody", body)

			svc.mu.Lock()
			last := svc.calls[len(svc.calls)-1]
			svc.mu.Unlock()
			assert.Equal(t, tt.raw, last.raw)
			assert.Equal(t, tt.refresh, last.refresh)
		})
	}
}

func TestPaperContentLocation(t *testing.T) {
	ts := newTestServer(t, &stubService{md: "x"}, "")
	resp, _ := get(t, ts.URL+"/pdf/1706.03762.pdf")
	assert.Equal(t, "/pdf/1706.03762.pdf", resp.Header.Get("Content-Location"))
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&service.Error{Kind: service.KindInvalidID, Reason: "invalid id"}, http.StatusBadRequest},
		{&service.Error{Kind: service.KindInvalidQuery, Reason: "empty"}, http.StatusBadRequest},
		{&service.Error{Kind: service.KindNotFound, Reason: "not found"}, http.StatusNotFound},
		{&service.Error{Kind: service.KindPdfOnly, Reason: "Error: PDF only"}, http.StatusUnprocessableEntity},
		{&service.Error{Kind: service.KindNetwork, Reason: "arxiv eprint: status 503"}, http.StatusBadGateway},
		{&service.Error{Kind: service.KindConversionFailed, Reason: "conversion failed"}, http.StatusInternalServerError},
		{&service.Error{Kind: service.KindNotImplemented, Reason: "not implemented"}, http.StatusNotImplemented},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ts := newTestServer(t, &stubService{err: tt.err}, "")
			resp, body := get(t, ts.URL+"/abs/1706.03762")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, body, tt.err.Error())
			assert.Empty(t, resp.Header.Get("Content-Location"))
		})
	}
}

func TestExistsRoute(t *testing.T) {
	head := func(t *testing.T, url string) *http.Response {
		t.Helper()
		resp, err := http.Head(url)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp
	}

	known := &stubService{exists: true}
	ts := newTestServer(t, known, "")
	assert.Equal(t, http.StatusOK, head(t, ts.URL+"/abs/1706.03762").StatusCode)
	assert.Equal(t, http.StatusOK, head(t, ts.URL+"/pdf/1706.03762.pdf").StatusCode)
	assert.Equal(t, []call{{raw: "1706.03762"}, {raw: "1706.03762.pdf"}}, known.calls)

	ts = newTestServer(t, &stubService{}, "")
	assert.Equal(t, http.StatusNotFound, head(t, ts.URL+"/abs/0000.00000").StatusCode)

	ts = newTestServer(t, &stubService{err: &service.Error{Kind: service.KindInvalidID, Reason: "invalid id"}}, "")
	assert.Equal(t, http.StatusBadRequest, head(t, ts.URL+"/abs/x").StatusCode)
}

func TestClientCanceledIsNotAServerError(t *testing.T) {
	assert.Equal(t, statusClientClosedRequest, StatusFor(context.Canceled))
	assert.Equal(t, statusClientClosedRequest, StatusFor(fmt.Errorf("convert: %w", context.Canceled)))

	core, logs := observer.New(zapcore.DebugLevel)
	srv := New(&stubService{err: context.Canceled}, model.ServerConfig{}, zap.New(core))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/abs/1706.03762", nil))

	assert.Equal(t, statusClientClosedRequest, rec.Code)
	assert.Zero(t, logs.FilterMessage("request failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("client went away").Len())
}

func TestMetadataRoute(t *testing.T) {
	ts := newTestServer(t, &stubService{}, "")
	resp, body := get(t, ts.URL+"/meta/1706.03762")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "# meta for 1706.03762", body)
}

func TestSearchRoute(t *testing.T) {
	svc := &stubService{}
	ts := newTestServer(t, svc, "")

	resp, body := get(t, ts.URL+"/search?q=attention+is+all&max=3")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "results", body)
	assert.Equal(t, "attention is all", svc.query)
	assert.Equal(t, 3, svc.limit)

	_, _ = get(t, ts.URL+"/search?q=x&max=lots")
	assert.Equal(t, 0, svc.limit)
}

func TestFiguresRoute(t *testing.T) {
	svc := &stubService{figures: []string{"https://arxiv.org/html/1706.03762/x1.png"}}
	ts := newTestServer(t, svc, "")

	resp, body := get(t, ts.URL+"/figures/1706.03762")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got figuresResponse
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "1706.03762", got.ID)
	assert.Equal(t, svc.figures, got.Figures)
}

func TestIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.md")
	require.NoError(t, os.WriteFile(path, []byte("# Hello\n\nWorld"), 0o644))
	ts := newTestServer(t, &stubService{}, path)

	resp, body := get(t, ts.URL+"/", "Accept", "text/markdown")
	assert.Equal(t, "text/markdown; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "# Hello\n\nWorld", body)

	resp, body = get(t, ts.URL+"/", "Accept", "text/html,application/xhtml+xml")
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, "<h1")
	assert.Contains(t, body, "Hello</h1>")
	assert.Contains(t, body, "<p>World</p>")
}

func TestIndexFallsBackToBuiltin(t *testing.T) {
	ts := newTestServer(t, &stubService{}, filepath.Join(t.TempDir(), "missing.md"))
	_, body := get(t, ts.URL+"/", "Accept", "text/markdown")
	assert.Equal(t, defaultIndex, body)
}

func TestWantsHTML(t *testing.T) {
	assert.True(t, wantsHTML(""))
	assert.True(t, wantsHTML("*/*"))
	assert.True(t, wantsHTML("TEXT/HTML"))
	assert.False(t, wantsHTML("text/markdown"))
	assert.False(t, wantsHTML("text/plain"))
}

func TestMetricsRoute(t *testing.T) {
	ts := newTestServer(t, &stubService{md: "x"}, "")
	_, _ = get(t, ts.URL+"/abs/1")
	resp, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "markxiv_http_requests_total")
}

func TestListenAndServeShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := New(&stubService{}, model.ServerConfig{Addr: addr}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
