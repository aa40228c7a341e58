package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"categorytree/rewriter/internal/cache"
	"categorytree/rewriter/internal/client"
	"categorytree/rewriter/internal/config"
	"categorytree/rewriter/internal/domain"
	"categorytree/rewriter/internal/repository"
	"categorytree/rewriter/internal/rewriter"
)

const categoryPage = `<html><body><div class="categories"><h4>Topics</h4><ul>
<li><a href="/category/tech/">tech (2)</a></li>
<li><a href="/category/tech/go/">go (1)</a></li>
<li><a href="/category/life/">life (1)</a></li>
</ul></div></body></html>`

type fakeFetcher struct {
	pages    map[string]*client.Page
	requests []string
}

func (f *fakeFetcher) FetchPage(ctx context.Context, url string) (*client.Page, error) {
	f.requests = append(f.requests, url)
	page, ok := f.pages[url]
	if !ok {
		return nil, errors.New("HTTP error: 404")
	}
	return page, nil
}

type memoryCache struct {
	mu    sync.Mutex
	pages map[string]string
}

func (m *memoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.pages[key]
	return page, ok, nil
}

func (m *memoryCache) Set(ctx context.Context, key, page string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[key] = page
	return nil
}

type memoryRepository struct {
	snapshots map[string][]domain.CategoryRecord
}

func (m *memoryRepository) EnsureSchema(ctx context.Context) error { return nil }

func (m *memoryRepository) SaveSnapshot(ctx context.Context, pageURL string, records []domain.CategoryRecord) error {
	m.snapshots[pageURL] = records
	return nil
}

func htmlPage(body string) *client.Page {
	return &client.Page{StatusCode: http.StatusOK, ContentType: "text/html; charset=utf-8", Body: []byte(body)}
}

func newTestServer(fetcher client.PageFetcher, pageCache cache.PageCache, repo repository.CategoryRepository) *Server {
	return newUpstreamServer("https://blog.example/", fetcher, pageCache, repo)
}

func newUpstreamServer(upstream string, fetcher client.PageFetcher, pageCache cache.PageCache, repo repository.CategoryRepository) *Server {
	return New(
		config.ServerConfig{Upstream: upstream},
		rewriter.NewRewriter(config.TreeConfig{}),
		fetcher,
		pageCache,
		repo,
	)
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(&fakeFetcher{}, cache.NewNoopPageCache(), repository.NewNoopRepository())

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRewriteEndpoint(t *testing.T) {
	srv := newTestServer(&fakeFetcher{}, cache.NewNoopPageCache(), repository.NewNoopRepository())

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("POST", "/rewrite?expand=tech", strings.NewReader(categoryPage)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-Category-Tree"))
	assert.Contains(t, w.Body.String(), `<h4>Topics</h4><ul class="category-tree">`)
	assert.Contains(t, w.Body.String(), `class="category-children show"`)
}

func TestRewriteEndpointDuplicate(t *testing.T) {
	srv := newTestServer(&fakeFetcher{}, cache.NewNoopPageCache(), repository.NewNoopRepository())
	page := `<div id="categories"><a href="/category/a/">A</a><a href="/category/a/">A</a></div>`

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("POST", "/rewrite", strings.NewReader(page)))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestTreeEndpoint(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*client.Page{
		"https://blog.example/archive/": htmlPage(categoryPage),
	}}
	srv := newTestServer(fetcher, cache.NewNoopPageCache(), repository.NewNoopRepository())

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/tree?url=/archive/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Changed bool `json:"changed"`
		Tree    struct {
			Nodes []domain.Node `json:"nodes"`
			Roots []int         `json:"roots"`
		} `json:"tree"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Changed)
	assert.Len(t, body.Tree.Nodes, 3)
	require.Len(t, body.Tree.Roots, 2)
	assert.Equal(t, "life", body.Tree.Nodes[body.Tree.Roots[0]].Record.Path)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/tree?url=https://blog.example/archive/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/tree", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTreeEndpointStaysOnUpstream(t *testing.T) {
	fetcher := &fakeFetcher{}
	srv := newTestServer(fetcher, cache.NewNoopPageCache(), repository.NewNoopRepository())

	for _, target := range []string{
		"http://127.0.0.1:6379/secret",
		"//internal.example/admin",
		"http://blog.example/",
		"file:///etc/passwd",
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/tree?url="+url.QueryEscape(target), nil)
		srv.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
	assert.Empty(t, fetcher.requests)
}

func TestTreeEndpointUpstreamErrorStatus(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*client.Page{
		"https://blog.example/gone": {StatusCode: http.StatusNotFound, ContentType: "text/html", Body: []byte("gone")},
	}}
	srv := newTestServer(fetcher, cache.NewNoopPageCache(), repository.NewNoopRepository())

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/tree?url=/gone", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestProxyRewritesAndCaches(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*client.Page{
		"https://blog.example/posts/hello/?page=2": htmlPage(categoryPage),
	}}
	pageCache := &memoryCache{pages: make(map[string]string)}
	repo := &memoryRepository{snapshots: make(map[string][]domain.CategoryRecord)}
	srv := newTestServer(fetcher, pageCache, repo)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/posts/hello/?page=2&expand=tech", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `class="category-item expanded"`)
	}

	assert.Len(t, fetcher.requests, 1)
	assert.Contains(t, pageCache.pages, cache.Key("https://blog.example/posts/hello/?page=2", []string{"tech"}))
	assert.Len(t, repo.snapshots["https://blog.example/posts/hello/?page=2"], 3)
}

func TestProxyPassesThroughNonHTML(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*client.Page{
		"https://blog.example/feed.json": {StatusCode: http.StatusOK, ContentType: "application/json", Body: []byte(`{"a":1}`)},
	}}
	srv := newTestServer(fetcher, cache.NewNoopPageCache(), repository.NewNoopRepository())

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/feed.json", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, `{"a":1}`, w.Body.String())
}

func TestProxyUpstreamFailure(t *testing.T) {
	srv := newTestServer(&fakeFetcher{}, cache.NewNoopPageCache(), repository.NewNoopRepository())

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/missing", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestProxyUnchangedPage(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*client.Page{
		"https://blog.example/about": htmlPage(`<p>about</p>`),
	}}
	pageCache := &memoryCache{pages: make(map[string]string)}
	srv := newTestServer(fetcher, pageCache, repository.NewNoopRepository())

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/about", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "false", w.Header().Get("X-Category-Tree"))
	assert.Equal(t, `<p>about</p>`, w.Body.String())
	assert.Empty(t, pageCache.pages)
}

func TestProxyThroughUpstreamClient(t *testing.T) {
	png := []byte("\n\x00PNGDATA \n")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/logo.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(png)
		case "/blog/":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(categoryPage))
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(categoryPage))
		}
	}))
	defer upstream.Close()

	pageCache := &memoryCache{pages: make(map[string]string)}
	repo := &memoryRepository{snapshots: make(map[string][]domain.CategoryRecord)}
	fetcher := client.NewUpstreamClient(config.FetchConfig{Timeout: 5, MaxRequestsPerSecond: 100})
	srv := newUpstreamServer(upstream.URL, fetcher, pageCache, repo)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/logo.png", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, png, w.Body.Bytes())

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/blog/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `class="category-tree"`)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/gone", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-Category-Tree"))
	assert.Contains(t, w.Body.String(), `class="category-tree"`)

	assert.Len(t, pageCache.pages, 1)
	assert.Contains(t, pageCache.pages, upstream.URL+"/blog/")
	assert.NotContains(t, repo.snapshots, upstream.URL+"/gone")
}
