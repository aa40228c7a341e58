package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"categorytree/rewriter/internal/cache"
	"categorytree/rewriter/internal/client"
	"categorytree/rewriter/internal/config"
	"categorytree/rewriter/internal/repository"
	"categorytree/rewriter/internal/rewriter"
)

const maxBodyBytes = 10 << 20

// Server rewrites upstream pages on the fly
type Server struct {
	cfg        config.ServerConfig
	rewriter   *rewriter.Rewriter
	fetcher    client.PageFetcher
	cache      cache.PageCache
	repository repository.CategoryRepository
	router     chi.Router
}

func New(
	cfg config.ServerConfig,
	rw *rewriter.Rewriter,
	fetcher client.PageFetcher,
	pageCache cache.PageCache,
	repo repository.CategoryRepository,
) *Server {
	s := &Server{
		cfg:        cfg,
		rewriter:   rw,
		fetcher:    fetcher,
		cache:      pageCache,
		repository: repo,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/rewrite", s.handleRewrite)
	r.Get("/tree", s.handleTree)
	r.Get("/*", s.handleProxy)

	return r
}

// Run serves until the context is cancelled
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("🚀 Serving category trees on %s (upstream %s)", httpServer.Addr, s.cfg.Upstream)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("🛑 Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	result, err := s.rewriter.Rewrite(r.Context(), string(body), r.URL.Query()["expand"]...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeHTML(w, http.StatusOK, []byte(result.HTML), result.Changed)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}

	target, err := s.resolveUpstream(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, err := s.fetcher.FetchPage(r.Context(), target)
	if err != nil {
		log.Warnf("⚠️ Failed to fetch %s: %v", target, err)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	if page.IsError() {
		http.Error(w, fmt.Sprintf("upstream answered %d", page.StatusCode), http.StatusBadGateway)
		return
	}

	result, err := s.rewriter.Rewrite(r.Context(), string(page.Body), r.URL.Query()["expand"]...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	target, expand := s.upstreamURL(r.URL)
	key := cache.Key(target, expand)

	if cached, ok, err := s.cache.Get(r.Context(), key); err != nil {
		log.Warnf("⚠️ Cache lookup failed for %s: %v", target, err)
	} else if ok {
		log.Debugf("Cache hit for %s", key)
		writeHTML(w, http.StatusOK, []byte(cached), true)
		return
	}

	page, err := s.fetcher.FetchPage(r.Context(), target)
	if err != nil {
		log.Warnf("⚠️ Failed to fetch %s: %v", target, err)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}

	if !page.IsHTML() {
		if page.ContentType != "" {
			w.Header().Set("Content-Type", page.ContentType)
		}
		w.WriteHeader(page.StatusCode)
		w.Write(page.Body)
		return
	}

	result, err := s.rewriter.Rewrite(r.Context(), string(page.Body), expand...)
	if err != nil {
		log.Warnf("⚠️ Serving %s untouched: %v", target, err)
		writeHTML(w, page.StatusCode, page.Body, false)
		return
	}

	// Error pages are rewritten for readers but never cached or indexed
	if result.Changed && !page.IsError() {
		if err := s.cache.Set(r.Context(), key, result.HTML); err != nil {
			log.Warnf("⚠️ Failed to cache %s: %v", target, err)
		}
		if err := s.repository.SaveSnapshot(r.Context(), target, result.Records()); err != nil {
			log.Warnf("⚠️ Failed to record categories of %s: %v", target, err)
		}
	}

	writeHTML(w, page.StatusCode, []byte(result.HTML), result.Changed)
}

// resolveUpstream resolves a page reference against the upstream site.
// References to any other scheme or host are rejected.
func (s *Server) resolveUpstream(raw string) (string, error) {
	base, err := url.Parse(s.cfg.Upstream)
	if err != nil {
		return "", fmt.Errorf("invalid upstream %q: %w", s.cfg.Upstream, err)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}

	resolved := base.ResolveReference(ref)
	if resolved.Scheme != base.Scheme || resolved.Host != base.Host {
		return "", fmt.Errorf("url %q is outside upstream %s", raw, base.Host)
	}
	return resolved.String(), nil
}

// upstreamURL maps a request to the upstream page, splitting off the expand parameters
func (s *Server) upstreamURL(u *url.URL) (string, []string) {
	query := u.Query()
	expand := query["expand"]
	query.Del("expand")

	target := strings.TrimSuffix(s.cfg.Upstream, "/") + u.EscapedPath()
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target, expand
}

func writeHTML(w http.ResponseWriter, status int, page []byte, changed bool) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Category-Tree", fmt.Sprintf("%t", changed))
	w.WriteHeader(status)
	w.Write(page)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}
