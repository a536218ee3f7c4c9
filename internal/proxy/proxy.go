// Package proxy serves an upstream site through the propagation engine,
// rewriting HTML responses for each visitor.
package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/clickprop/internal/engine"
)

// Options configures the proxy.
type Options struct {
	Upstream       *url.URL
	AllowedOrigins []string
	// RateLimit is the global request rate in requests per second. Zero
	// disables limiting.
	RateLimit    float64
	Burst        int
	MaxBodyBytes int64
	CookieName   string
	// CookieMaxAge is how long the visitor cookie lives.
	CookieMaxAge time.Duration
}

// Server is the rewriting reverse proxy.
type Server struct {
	engine  *engine.Engine
	opts    Options
	proxy   *httputil.ReverseProxy
	limiter *rate.Limiter
}

type ctxKey int

const (
	visitorKey ctxKey = iota
	pageKey
)

// New creates a Server forwarding to opts.Upstream.
func New(eng *engine.Engine, opts Options) (*Server, error) {
	if opts.Upstream == nil || opts.Upstream.Host == "" {
		return nil, eris.New("proxy: upstream url is required")
	}
	if opts.CookieName == "" {
		opts.CookieName = "clickprop_vid"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.CookieMaxAge <= 0 {
		opts.CookieMaxAge = 365 * 24 * time.Hour
	}

	s := &Server{engine: eng, opts: opts}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	upstream := opts.Upstream
	s.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			// Bodies must arrive uncompressed to be rewritten.
			pr.Out.Header.Del("Accept-Encoding")
		},
		ModifyResponse: s.modifyResponse,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			zap.L().Warn("proxy: upstream request failed", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, `{"error":"upstream unavailable"}`, http.StatusBadGateway)
		},
	}
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "HEAD", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if s.limiter != nil {
		r.Use(s.rateLimit)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/*", http.HandlerFunc(s.serveProxy))
	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) serveProxy(w http.ResponseWriter, r *http.Request) {
	vid := s.visitor(w, r)
	ctx := context.WithValue(r.Context(), visitorKey, vid)
	ctx = context.WithValue(ctx, pageKey, pageURL(r))
	s.proxy.ServeHTTP(w, r.WithContext(ctx))
}

// visitor returns the visitor id from the cookie, issuing a new one when it
// is missing or not a UUID.
func (s *Server) visitor(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(s.opts.CookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.opts.CookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// pageURL reconstructs the public URL of the requested page.
func pageURL(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
}
