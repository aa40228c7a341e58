package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
	"resty.dev/v3"

	"categorytree/rewriter/internal/config"
)

// Page is an upstream response, error statuses included
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// IsError reports whether upstream answered with a 4xx or 5xx status
func (p *Page) IsError() bool {
	return p.StatusCode >= http.StatusBadRequest
}

// IsHTML reports whether the page can be rewritten
func (p *Page) IsHTML() bool {
	return strings.Contains(strings.ToLower(p.ContentType), "text/html")
}

type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (*Page, error)
}

type upstreamClient struct {
	rl         ratelimit.Limiter
	httpClient *resty.Client
	timeout    time.Duration
}

func NewUpstreamClient(cfg config.FetchConfig) PageFetcher {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("User-Agent", "categorytree-rewriter/1.0").
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	return &upstreamClient{
		rl:         ratelimit.New(cfg.MaxRequestsPerSecond),
		httpClient: client,
		timeout:    timeout,
	}
}

func (c *upstreamClient) FetchPage(ctx context.Context, url string) (*Page, error) {
	c.rl.Take()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.httpClient.R().
		SetContext(reqCtx).
		Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}

	if resp.IsError() {
		log.Debugf("Upstream answered %s for %s", resp.Status(), url)
	} else {
		log.Debugf("Fetched %s (%d)", url, resp.StatusCode())
	}

	return &Page{
		URL:         url,
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Bytes(),
	}, nil
}
