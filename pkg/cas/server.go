package cas

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/forgelog"
	"github.com/forgecore/forgecore/pkg/hashing"
	"github.com/forgecore/forgecore/pkg/resilience"
)

// ServerConfig mirrors http.ServerConfig (http/server.go), narrowed to the
// knobs the CAS HTTP surface exposes: body limit, CORS, and the
// hierarchical rate limiter instead of echo's single-tier RateLimiter.
type ServerConfig struct {
	BodyLimit      string
	AllowedOrigins []string
	Auth           *Authenticator // nil disables auth, for local/dev use
	Limiter        *resilience.HierarchicalLimiter
	Breaker        *resilience.CircuitBreaker
	Version        string
}

// Server is the CAS HTTP surface: GET/HEAD/PUT/DELETE over
// /artifacts/:hash, plus /health and /metrics, built the way
// http.NewEchoServer assembles an Echo instance (§6.1-6.2).
type Server struct {
	echo      *echo.Echo
	store     *Store
	cfg       ServerConfig
	log       *forgelog.Logger
	startTime time.Time
}

func NewServer(store *Store, cfg ServerConfig, log *forgelog.Logger) *Server {
	if log == nil {
		log = forgelog.Nop()
	}
	s := &Server{store: store, cfg: cfg, log: log, startTime: time.Now()}
	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	if cfg.BodyLimit != "" {
		s.echo.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	if len(cfg.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete},
		}))
	}
	s.echo.Use(s.rateLimitMiddleware)
	if cfg.Auth != nil {
		s.echo.Use(s.authMiddleware)
	}

	s.echo.GET("/artifacts/:hash", s.handleGet)
	s.echo.HEAD("/artifacts/:hash", s.handleHead)
	s.echo.PUT("/artifacts/:hash", s.handlePut)
	s.echo.DELETE("/artifacts/:hash", s.handleDelete)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", s.handleMetrics)

	return s
}

func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) rateLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.Breaker != nil && !s.cfg.Breaker.Allow() {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "circuit open")
		}
		if s.cfg.Limiter != nil {
			token := c.Request().Header.Get("X-Forgecore-Token")
			if !s.cfg.Limiter.Admit(c.RealIP(), token) {
				s.setRateLimitHeaders(c)
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
		}
		err := next(c)
		if s.cfg.Breaker != nil {
			if err != nil {
				s.cfg.Breaker.RecordFailure()
			} else {
				s.cfg.Breaker.RecordSuccess()
			}
		}
		if s.cfg.Limiter != nil {
			s.cfg.Limiter.RecordOutcome(c.RealIP(), err == nil)
		}
		return err
	}
}

// setRateLimitHeaders attaches the 429-response headers §6.1 specifies:
// Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset.
// It reports the global bucket's state; per-IP/per-token tiers are finer
// grained but the global bucket is the one every request shares.
func (s *Server) setRateLimitHeaders(c echo.Context) {
	if s.cfg.Limiter == nil {
		return
	}
	bucket := s.cfg.Limiter.Global()
	if bucket == nil {
		return
	}
	remaining := bucket.Available()
	retryAfter := bucket.RetryAfter(1)
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(bucket.MaxTokens()))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(retryAfter).Unix(), 10))
}

func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Only /health is unauthenticated by the wire contract (§4.6); /metrics
		// carries request-rate and storage data operators may want to gate.
		if c.Path() == "/health" {
			return next(c)
		}
		if _, err := s.cfg.Auth.Authenticate(c.Request().Context(), c.Request()); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		return next(c)
	}
}

func parseDigest(s string) (hashing.Digest, error) {
	var d hashing.Digest
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != hashing.Size {
		return d, ferr.New(ferr.KindConfig, "cas.parseDigest", s, err).WithRemedy("expected a 64-character hex digest")
	}
	copy(d[:], raw)
	return d, nil
}

func (s *Server) handleGet(c echo.Context) error {
	hashParam := c.Param("hash")
	digest, err := parseDigest(hashParam)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	data, err := s.store.Get(c.Request().Context(), digest)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "artifact not found")
	}
	// Content is content-addressed and therefore immutable: a hit can be
	// cached by any intermediary indefinitely (§4.6 CDN headers).
	c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	c.Response().Header().Set("ETag", `"`+hashParam+`"`)
	return c.Blob(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleHead(c echo.Context) error {
	digest, err := parseDigest(c.Param("hash"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !s.store.Has(digest) {
		return c.NoContent(http.StatusNotFound)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handlePut(c echo.Context) error {
	declared, err := parseDigest(c.Param("hash"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	actual, err := s.store.Put(c.Request().Context(), data)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if actual != declared {
		_ = s.store.Delete(actual)
		return echo.NewHTTPError(http.StatusBadRequest, "content digest does not match URL hash")
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) handleDelete(c echo.Context) error {
	digest, err := parseDigest(c.Param("hash"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.Delete(digest); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// handleHealth serves /health: JSON with uptime, storage used/total, and
// hit counters (§4.6), unauthenticated even when cfg.Auth is set.
func (s *Server) handleHealth(c echo.Context) error {
	stats := s.store.Stats()
	body := map[string]interface{}{
		"status":       "healthy",
		"service":      "forgecore-cas",
		"version":      s.cfg.Version,
		"uptime":       time.Since(s.startTime).String(),
		"storage_used": humanize.Bytes(uint64(stats.UsedBytes)),
		"requests":     stats.Requests,
		"hits":         stats.Hits,
		"misses":       stats.Misses,
	}
	if stats.TotalBytes > 0 {
		body["storage_total"] = humanize.Bytes(uint64(stats.TotalBytes))
	}
	return c.JSON(http.StatusOK, body)
}

// handleMetrics serves /metrics as a Prometheus-compatible line-based
// textual exposition (§4.6/§6.1: "text/plain; version=0.0.4"), not JSON.
func (s *Server) handleMetrics(c echo.Context) error {
	stats := s.store.Stats()
	var b strings.Builder
	writeGauge := func(name, help string, v uint64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, v)
	}
	writeGauge("forgecore_cas_requests_total", "total CAS requests served", stats.Requests)
	writeGauge("forgecore_cas_hits_total", "local blob cache hits", stats.Hits)
	writeGauge("forgecore_cas_misses_total", "local blob cache misses", stats.Misses)
	writeGauge("forgecore_cas_bytes_in_total", "bytes accepted via PUT", stats.BytesIn)
	writeGauge("forgecore_cas_bytes_out_total", "bytes served via GET", stats.BytesOut)
	writeGauge("forgecore_cas_storage_used_bytes", "local shard storage in use", uint64(stats.UsedBytes))
	fmt.Fprintf(&b, "# HELP forgecore_cas_uptime_seconds time since server start\n# TYPE forgecore_cas_uptime_seconds counter\nforgecore_cas_uptime_seconds %d\n", int64(time.Since(s.startTime).Seconds()))
	return c.Blob(http.StatusOK, "text/plain; version=0.0.4", []byte(b.String()))
}
