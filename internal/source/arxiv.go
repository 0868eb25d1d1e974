package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ppiankov/markxiv/internal/metrics"
	"github.com/ppiankov/markxiv/internal/model"
	"github.com/ppiankov/markxiv/internal/worker"
)

const (
	maxBodyBytes = 256 << 20

	defaultSearchMax = 5
	maxSearchResults = 50

	acceptAtom   = "application/atom+xml"
	acceptEprint = "application/x-eprint-tar, application/x-tar, application/octet-stream"
	acceptPDF    = "application/pdf"
	acceptHTML   = "text/html"
)

// ErrInvalidQuery is returned by Search for a blank query
var ErrInvalidQuery = errors.New("query must not be empty")

var errServerStatus = errors.New("upstream server error")

// ArxivClient talks to arxiv.org and its export API. Requests are rate
// limited per host and guarded by a circuit breaker that trips on
// transport failures and 5xx responses.
type ArxivClient struct {
	cfg     model.SourceConfig
	http    *http.Client
	limiter *worker.Limiter
	breaker *gobreaker.CircuitBreaker
	meta    *gocache.Cache
	robots  *RobotsChecker
	logger  *zap.Logger
}

type response struct {
	status      int
	contentType string
	body        []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// NewArxivClient builds a client from configuration
func NewArxivClient(cfg model.SourceConfig, logger *zap.Logger) *ArxivClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	ttl := cfg.MetadataTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	httpClient := NewHTTPClient(cfg.Timeout, cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy)

	c := &ArxivClient{
		cfg:     cfg,
		http:    httpClient,
		limiter: worker.NewLimiter(cfg.RequestsPerSecond, cfg.Burst),
		meta:    gocache.New(ttl, 2*ttl),
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "arxiv",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	if cfg.RespectRobots {
		c.robots = NewRobotsChecker(c.fetchRobots, cfg.UserAgent)
	}
	return c
}

// Exists reports whether the export API knows the id
func (c *ArxivClient) Exists(ctx context.Context, id string) (bool, error) {
	const op = "exists"
	resp, err := c.get(ctx, op, c.apiURL(url.Values{"id_list": {id}}), acceptAtom)
	if err != nil {
		return false, err
	}
	if !resp.ok() {
		c.observe(op, "error")
		return false, networkErr(op, "status %d", resp.status)
	}
	feed, err := parseFeed(resp.body)
	if err != nil {
		c.observe(op, "error")
		return false, &NetworkError{Op: op, Err: err}
	}
	c.observe(op, "ok")
	return len(feed.papers()) > 0, nil
}

// FetchMetadata returns title, authors and abstract. Results are cached
// for the configured metadata TTL.
func (c *ArxivClient) FetchMetadata(ctx context.Context, id string) (*model.Metadata, error) {
	const op = "metadata"
	if cached, ok := c.meta.Get(id); ok {
		meta := *cached.(*model.Metadata)
		return &meta, nil
	}

	resp, err := c.get(ctx, op, c.apiURL(url.Values{"id_list": {id}}), acceptAtom)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		c.observe(op, "not_found")
		return nil, ErrNotFound
	}
	if !resp.ok() {
		c.observe(op, "error")
		return nil, networkErr(op, "status %d", resp.status)
	}

	meta, err := ParseMetadata(resp.body)
	if errors.Is(err, ErrNotFound) {
		c.observe(op, "not_found")
		return nil, err
	}
	if err != nil {
		c.observe(op, "error")
		return nil, &NetworkError{Op: op, Err: err}
	}

	c.observe(op, "ok")
	c.meta.SetDefault(id, meta)
	out := *meta
	return &out, nil
}

// FetchRawContent downloads the e-print bundle. A PDF body, or a 400, 403
// or 404 status, means the paper has no source and yields ErrPdfOnly.
func (c *ArxivClient) FetchRawContent(ctx context.Context, id string) ([]byte, error) {
	const op = "eprint"
	resp, err := c.get(ctx, op, c.siteURL("e-print", id), acceptEprint)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.ok():
	case resp.status == http.StatusBadRequest,
		resp.status == http.StatusForbidden,
		resp.status == http.StatusNotFound:
		c.observe(op, "pdf_only")
		return nil, ErrPdfOnly
	default:
		c.observe(op, "error")
		return nil, networkErr(op, "status %d", resp.status)
	}

	if strings.Contains(resp.contentType, "application/pdf") || LooksLikePDF(resp.body) {
		c.observe(op, "pdf_only")
		return nil, ErrPdfOnly
	}
	if strings.Contains(resp.contentType, "text/html") || LooksLikeHTML(resp.body) {
		c.observe(op, "error")
		return nil, networkErr(op, "arXiv returned HTML when requesting e-print")
	}

	c.observe(op, "ok")
	return resp.body, nil
}

// FetchPDF downloads the rendered PDF
func (c *ArxivClient) FetchPDF(ctx context.Context, id string) ([]byte, error) {
	const op = "pdf"
	resp, err := c.get(ctx, op, c.siteURL("pdf", id)+".pdf", acceptPDF)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		c.observe(op, "not_found")
		return nil, ErrNotFound
	}
	if !resp.ok() {
		c.observe(op, "error")
		return nil, networkErr(op, "status %d", resp.status)
	}
	if !LooksLikePDF(resp.body) {
		c.observe(op, "error")
		return nil, networkErr(op, "response is not a PDF (content-type %q)", resp.contentType)
	}
	c.observe(op, "ok")
	return resp.body, nil
}

// Search queries all fields. limit is clamped to [1, 50]; zero means 5.
func (c *ArxivClient) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	const op = "search"
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}
	limit = ClampMax(limit, maxSearchResults)

	params := url.Values{
		"search_query": {"all:" + query},
		"start":        {"0"},
		"max_results":  {fmt.Sprint(limit)},
	}
	resp, err := c.get(ctx, op, c.apiURL(params), acceptAtom)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		c.observe(op, "error")
		return nil, networkErr(op, "status %d", resp.status)
	}

	results, err := ParseSearchResults(resp.body)
	if err != nil {
		c.observe(op, "error")
		return nil, &NetworkError{Op: op, Err: err}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	c.observe(op, "ok")
	return results, nil
}

// FigureImageURLs scrapes the HTML rendering. Papers without one yield
// an empty list.
func (c *ArxivClient) FigureImageURLs(ctx context.Context, id string) ([]string, error) {
	const op = "figures"
	resp, err := c.get(ctx, op, c.siteURL("html", id), acceptHTML)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		c.observe(op, "not_found")
		return []string{}, nil
	}
	urls := ParseFigureImageURLs(bytes.NewReader(resp.body), c.cfg.BaseURL)
	if urls == nil {
		urls = []string{}
	}
	c.observe(op, "ok")
	return urls, nil
}

// ClampMax bounds a requested result count to [1, limit]. Zero or
// negative requests get the default of 5.
func ClampMax(n, limit int) int {
	if n <= 0 {
		n = defaultSearchMax
	}
	if n > limit {
		n = limit
	}
	return n
}

func (c *ArxivClient) get(ctx context.Context, op, rawURL, accept string) (*response, error) {
	if c.robots != nil {
		allowed, delay, err := c.robots.CanFetch(ctx, rawURL)
		if err == nil && !allowed {
			c.observe(op, "disallowed")
			return nil, &NetworkError{Op: op, Err: ErrDisallowed}
		}
		if delay > 0 {
			c.applyCrawlDelay(rawURL, delay)
		}
	}
	return c.send(ctx, op, rawURL, accept)
}

// fetchRobots loads robots.txt through the same limiter and breaker as
// every other upstream request.
func (c *ArxivClient) fetchRobots(ctx context.Context, robotsURL string) (int, []byte, error) {
	resp, err := c.send(ctx, "robots", robotsURL, "text/plain")
	if err != nil {
		return 0, nil, err
	}
	return resp.status, resp.body, nil
}

// applyCrawlDelay slows the host down to one request per delay. A
// configured rate that is already slower is kept.
func (c *ArxivClient) applyCrawlDelay(rawURL string, delay time.Duration) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	perSecond := 1 / delay.Seconds()
	if float64(c.limiter.HostRate(parsed.Host)) <= perSecond {
		return
	}
	c.limiter.SetHostRate(parsed.Host, perSecond, 1)
	c.logger.Debug("applied robots.txt crawl delay",
		zap.String("host", parsed.Host),
		zap.Duration("delay", delay))
}

// send rate limits and runs one request through the circuit breaker
func (c *ArxivClient) send(ctx context.Context, op, rawURL, accept string) (*response, error) {
	if err := c.limiter.Wait(ctx, rawURL); err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, rawURL, accept)
	})
	resp, _ := out.(*response)
	if errors.Is(err, errServerStatus) && resp != nil {
		err = nil
	}
	if err != nil {
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "breaker_open"
		}
		c.observe(op, result)
		c.logger.Debug("upstream request failed",
			zap.String("op", op),
			zap.String("url", rawURL),
			zap.Error(err))
		return nil, &NetworkError{Op: op, Err: err}
	}

	c.logger.Debug("upstream request",
		zap.String("op", op),
		zap.String("url", rawURL),
		zap.Int("status", resp.status),
		zap.Int("bytes", len(resp.body)),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

// do performs one request. 5xx responses are returned together with
// errServerStatus so the breaker counts them.
func (c *ArxivClient) do(ctx context.Context, rawURL, accept string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	resp := &response{
		status:      httpResp.StatusCode,
		contentType: strings.ToLower(httpResp.Header.Get("Content-Type")),
		body:        body,
	}
	if resp.status >= 500 {
		return resp, errServerStatus
	}
	return resp, nil
}

func (c *ArxivClient) apiURL(params url.Values) string {
	return c.cfg.APIURL + "?" + params.Encode()
}

func (c *ArxivClient) siteURL(kind, id string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + kind + "/" + id
}

func (c *ArxivClient) observe(op, result string) {
	metrics.SourceRequests.WithLabelValues(op, result).Inc()
}
