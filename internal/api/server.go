package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/config"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/metrics"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/snapshot"
)

// Server exposes the latest run over HTTP: proxy handout, run statistics,
// Prometheus metrics and a manual recheck trigger.
type Server struct {
	config      *config.Config
	snapshot    *snapshot.Manager
	metrics     *metrics.Collector
	recheck     func(ctx context.Context) error
	router      *gin.Engine
	httpServer  *http.Server
	rateLimiter *RateLimiter

	recheckMu      sync.Mutex
	recheckRunning bool
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter
	return limiter
}

// NewServer wires the routes. recheck runs a full fetch-and-validate cycle;
// it may be nil when on-demand rechecking is not offered.
func NewServer(cfg *config.Config, snap *snapshot.Manager, metricsCollector *metrics.Collector,
	recheck func(ctx context.Context) error) *Server {

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:      cfg,
		snapshot:    snap,
		metrics:     metricsCollector,
		recheck:     recheck,
		router:      router,
		rateLimiter: NewRateLimiter(cfg.API.RateLimitPerMinute),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	s.router.GET("/health", s.handleHealth)

	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	limited := s.router.Group("/")
	if s.config.API.EnableIPRateLimit {
		limited.Use(s.rateLimitMiddleware())
	}

	limited.GET("/get-proxy", s.handleGetProxy)
	limited.GET("/stat", s.handleStat)
	limited.POST("/recheck", s.handleRecheck)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Infof("Starting API server on %s", s.config.API.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Milliseconds(),
			"ip":       c.ClientIP(),
		}).Info("API request")
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.metrics.RecordAPIRequest(method, path, strconv.Itoa(c.Writer.Status()))
		s.metrics.RecordAPIDuration(method, path, time.Since(start).Seconds())
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := s.rateLimiter.GetLimiter(c.ClientIP())
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleGetProxy(c *gin.Context) {
	snap := s.snapshot.Get()
	if len(snap.Proxies) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No working proxies available",
		})
		return
	}

	wantsJSON := c.Query("format") == "json" ||
		strings.Contains(c.GetHeader("Accept"), "application/json")

	// All reads below come from the snap captured above, so the proxy list
	// and the stats always describe the same run.
	var proxies []snapshot.Proxy

	if c.Query("all") == "1" {
		proxies = snap.Proxies
	} else if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit parameter",
			})
			return
		}
		if limit > len(snap.Proxies) {
			limit = len(snap.Proxies)
		}
		proxies = snap.Proxies[:limit]
	} else {
		proxy, ok := s.snapshot.Next(snap)
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "No working proxies available",
			})
			return
		}
		proxies = []snapshot.Proxy{proxy}
	}

	if wantsJSON {
		c.JSON(http.StatusOK, gin.H{
			"working": snap.Stats.Working,
			"proxies": proxies,
		})
		return
	}

	var b strings.Builder
	for _, p := range proxies {
		b.WriteString(p.Address)
		b.WriteString("\n")
	}
	c.String(http.StatusOK, b.String())
}

func (s *Server) handleStat(c *gin.Context) {
	snap := s.snapshot.Get()
	stats := snap.Stats

	c.JSON(http.StatusOK, gin.H{
		"total_checked":       stats.TotalChecked,
		"working":             stats.Working,
		"failed":              stats.Failed,
		"working_by_protocol": stats.ByProtocol,
		"duration_ms":         stats.DurationMs,
		"checked_at":          stats.CheckedAt.Format(time.RFC3339),
		"updated":             snap.Updated.Format(time.RFC3339),
	})
}

func (s *Server) handleRecheck(c *gin.Context) {
	if s.recheck == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "Recheck not available",
		})
		return
	}

	s.recheckMu.Lock()
	if s.recheckRunning {
		s.recheckMu.Unlock()
		c.JSON(http.StatusConflict, gin.H{
			"error": "Recheck already in progress",
		})
		return
	}
	s.recheckRunning = true
	s.recheckMu.Unlock()

	log.Info("Manual recheck triggered via API")

	go func() {
		defer func() {
			s.recheckMu.Lock()
			s.recheckRunning = false
			s.recheckMu.Unlock()
		}()

		if err := s.recheck(context.Background()); err != nil {
			log.Errorf("Recheck failed: %v", err)
			return
		}
		log.Info("Recheck complete")
	}()

	c.JSON(http.StatusOK, gin.H{
		"message": "Recheck triggered",
	})
}
