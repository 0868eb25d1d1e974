package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
)

const robotsTTL = 24 * time.Hour

// RobotsFetcher retrieves a robots.txt file and reports its status and body
type RobotsFetcher func(ctx context.Context, robotsURL string) (status int, body []byte, err error)

// RobotsChecker answers robots.txt questions for upstream hosts. Parsed
// files are cached per host for a day.
type RobotsChecker struct {
	cache     *gocache.Cache
	fetch     RobotsFetcher
	userAgent string
}

// NewRobotsChecker creates a checker that loads robots.txt through fetch
func NewRobotsChecker(fetch RobotsFetcher, userAgent string) *RobotsChecker {
	return &RobotsChecker{
		cache:     gocache.New(robotsTTL, time.Hour),
		fetch:     fetch,
		userAgent: userAgent,
	}
}

// CanFetch reports whether rawURL may be fetched and the host's crawl
// delay. An unreachable robots.txt allows the request.
func (r *RobotsChecker) CanFetch(ctx context.Context, rawURL string) (bool, time.Duration, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, 0, fmt.Errorf("parse URL: %w", err)
	}

	data, err := r.robotsData(ctx, parsed)
	if err != nil {
		return true, 0, nil
	}

	agent := NormalizeUserAgent(r.userAgent)
	allowed := data.TestAgent(parsed.EscapedPath(), agent)

	var delay time.Duration
	if group := data.FindGroup(agent); group != nil {
		delay = group.CrawlDelay
	}
	return allowed, delay, nil
}

func (r *RobotsChecker) robotsData(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := target.Host
	if cached, ok := r.cache.Get(host); ok {
		return cached.(*robotstxt.RobotsData), nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", target.Scheme, host)
	status, body, err := r.fetch(ctx, robotsURL)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	// a failing server says nothing about the rules; retry on the next request
	if status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("fetch robots.txt: status %d", status)
	}

	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	r.cache.SetDefault(host, data)
	return data, nil
}

// NormalizeUserAgent reduces a user agent to its product token for
// robots.txt group matching: "markxiv/0.2 (+url)" becomes "markxiv".
func NormalizeUserAgent(ua string) string {
	parts := strings.Fields(ua)
	if len(parts) == 0 {
		return ua
	}
	return strings.Split(parts[0], "/")[0]
}
