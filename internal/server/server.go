package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tiktok-extractor/internal/auth"
	"tiktok-extractor/internal/downloader"
	"tiktok-extractor/internal/monitor"
	"tiktok-extractor/internal/platform/tiktok"
	"tiktok-extractor/internal/ratelimit"
	"tiktok-extractor/internal/registry"
	"tiktok-extractor/pkg/models"
)

// defaultCollectionLimit caps collection extraction when a request names no limit
const defaultCollectionLimit = 30

// Server represents the API server
type Server struct {
	config       *models.Config
	storage      models.Storage
	downloader   *downloader.Manager
	registry     *registry.Registry
	monitor      *monitor.Monitor
	rateLimitMgr *ratelimit.Manager
	auth         *auth.Service
	httpServer   *http.Server
	logger       zerolog.Logger
}

// NewServer creates a new API server. reg and mon may be nil.
func NewServer(cfg *models.Config, storage models.Storage, dm *downloader.Manager, reg *registry.Registry, mon *monitor.Monitor, logger zerolog.Logger) (*Server, error) {
	// Set Gin mode
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	rateLimitMgr := ratelimit.NewManager(ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		MaxConcurrent:     cfg.RateLimit.MaxConcurrent,
		WhitelistedIPs:    cfg.RateLimit.WhitelistedIPs,
	}, logger)

	var authService *auth.Service
	if cfg.Auth.Enabled {
		var err error
		authService, err = auth.NewService(auth.Config{
			JWTSecret: cfg.Auth.JWTSecret,
			TokenTTL:  time.Duration(cfg.Auth.TokenTTL) * time.Second,
			APIKeys:   cfg.Auth.APIKeys,
		}, logger)
		if err != nil {
			rateLimitMgr.Stop()
			return nil, fmt.Errorf("error configuring auth: %w", err)
		}
	}

	return &Server{
		config:       cfg,
		storage:      storage,
		downloader:   dm,
		registry:     reg,
		monitor:      mon,
		rateLimitMgr: rateLimitMgr,
		auth:         authService,
		logger:       logger.With().Str("component", "server").Logger(),
	}, nil
}

// Handler builds the router with every middleware and route
func (s *Server) Handler() http.Handler {
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(s.corsMiddleware())

	s.setupRoutes(router)
	return router
}

// Start starts the API server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	go func() {
		s.logger.Info().Str("address", s.httpServer.Addr).Msg("Starting API server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal().Err(err).Msg("Error starting server")
		}
	}()

	return nil
}

// Stop stops the API server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.rateLimitMgr.Stop()
	if s.monitor != nil {
		s.monitor.Stop()
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Error shutting down server")
			return err
		}
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}

// setupRoutes sets up the API routes
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)

	if s.monitor != nil && s.config.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(s.monitor.Handler()))
	}

	// Apply rate limiting to all API routes
	api := router.Group("/api/v1")
	api.Use(s.rateLimitMgr.Middleware())
	{
		// Routes that start extractions or change records
		guarded := api.Group("")
		if s.auth != nil {
			guarded.Use(auth.NewMiddleware(s.auth).Required())
			guarded.POST("/auth/token", s.issueToken)
		}

		guarded.POST("/extract", s.extract)
		guarded.POST("/batch", s.batch)
		guarded.DELETE("/records/:id", s.deleteRecord)
		guarded.POST("/records/:id/retry", s.retryRecord)

		api.GET("/records", s.listRecords)
		api.GET("/records/:id", s.getRecord)
		api.GET("/validate", s.validateURL)
		api.GET("/playlists/:id", s.getPlaylist)
		api.GET("/stats", s.getStats)
		api.GET("/platforms", s.getPlatforms)
		api.GET("/system", s.getSystemStats)
	}
}

// Health check handler
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// Token handler. The caller is already authenticated by the middleware.
func (s *Server) issueToken(c *gin.Context) {
	subject, _ := auth.Subject(c)
	token, expires, err := s.auth.IssueToken(subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expires.Unix(),
	})
}

// Validate handler reports whether a URL would be routed to an extractor
func (s *Server) validateURL(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	if s.registry == nil {
		c.JSON(http.StatusOK, gin.H{"url": rawURL, "valid": false})
		return
	}

	response := gin.H{
		"url":   rawURL,
		"valid": s.registry.ValidateURL(rawURL),
	}
	if p, err := s.registry.DetectPlatform(rawURL); err == nil {
		response["platform"] = p
		response["supported"] = s.registry.IsPlatformSupported(p)
	}
	c.JSON(http.StatusOK, response)
}

type extractRequest struct {
	URL      string `json:"url" binding:"required"`
	Limit    int    `json:"limit"`
	Download bool   `json:"download"`
	FormatID string `json:"format_id"`
}

func (r extractRequest) options() downloader.Options {
	limit := r.Limit
	if limit <= 0 {
		limit = defaultCollectionLimit
	}
	return downloader.Options{
		Download: r.Download,
		FormatID: r.FormatID,
		Limit:    limit,
	}
}

// Extract handler. A record comes back as is; a collection comes back as
// its envelope plus the entries read so far.
func (s *Server) extract(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.downloader.Process(c.Request.Context(), req.URL, req.options())
	if err != nil && (result == nil || result.Playlist == nil) {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resultResponse(result, err))
}

// Batch handler
func (s *Server) batch(c *gin.Context) {
	var req struct {
		URLs     []string `json:"urls" binding:"required"`
		Limit    int      `json:"limit"`
		Download bool     `json:"download"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := extractRequest{Limit: req.Limit, Download: req.Download}.options()
	results := s.downloader.Batch(c.Request.Context(), req.URLs, opts)

	responses := make([]gin.H, len(results))
	failed := 0
	for i, res := range results {
		responses[i] = resultResponse(res, res.Err)
		if res.Err != nil {
			failed++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total":   len(results),
		"failed":  failed,
		"results": responses,
	})
}

func resultResponse(res *downloader.Result, err error) gin.H {
	response := gin.H{"url": res.URL}

	switch {
	case res.Playlist != nil:
		response["kind"] = models.ResultPlaylist
		response["playlist"] = res.Playlist
		response["entries"] = res.Entries
		response["failed"] = res.Failed
	case res.Record != nil:
		response["kind"] = models.ResultRecord
		response["record"] = res.Record
	}

	if err != nil {
		response["error"] = err.Error()
	}
	return response
}

// writeError maps extraction errors to HTTP statuses
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, registry.ErrUnsupportedURL):
		status = http.StatusBadRequest
	case tiktok.IsUnavailable(err):
		status = http.StatusNotFound
	case models.IsExpected(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// List records handler
func (s *Server) listRecords(c *gin.Context) {
	if _, err := url.ParseQuery(c.Request.URL.RawQuery); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := models.RecordFilter{
		Limit:     50,
		OrderBy:   c.DefaultQuery("order_by", "collected_at"),
		OrderDesc: c.DefaultQuery("desc", "true") == "true",
	}

	if platform := c.Query("platform"); platform != "" {
		p := models.Platform(platform)
		filter.Platform = &p
	}
	if uploader := c.Query("uploader"); uploader != "" {
		filter.Uploader = &uploader
	}
	if playlistID := c.Query("playlist_id"); playlistID != "" {
		filter.PlaylistID = &playlistID
	}
	if status := c.Query("status"); status != "" {
		filter.Status = &status
	}
	if limit := c.Query("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			filter.Limit = l
		}
	}
	if offset := c.Query("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			filter.Offset = o
		}
	}

	records, err := s.storage.ListRecords(filter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   len(records),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// Get record handler
func (s *Server) getRecord(c *gin.Context) {
	record, err := s.storage.GetRecord(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// Delete record handler
func (s *Server) deleteRecord(c *gin.Context) {
	if err := s.storage.DeleteRecord(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	event := s.logger.Info().Str("id", c.Param("id"))
	if subject, ok := auth.Subject(c); ok {
		event = event.Str("subject", subject)
	}
	event.Msg("Record deleted")
	c.Status(http.StatusNoContent)
}

// Retry record handler
func (s *Server) retryRecord(c *gin.Context) {
	result, err := s.downloader.Retry(c.Request.Context(), c.Param("id"), downloader.Options{})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resultResponse(result, nil))
}

// Get playlist handler
func (s *Server) getPlaylist(c *gin.Context) {
	info, err := s.storage.GetPlaylist(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Playlist not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// Get stats handler
func (s *Server) getStats(c *gin.Context) {
	stats, err := s.storage.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Get platforms handler
func (s *Server) getPlatforms(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusOK, gin.H{"platforms": []registry.PlatformInfo{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"platforms":  s.registry.GetPlatformInfo(),
		"extractors": s.registry.GetExtractorCount(),
	})
}

// Get system stats handler
func (s *Server) getSystemStats(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Monitoring disabled"})
		return
	}
	c.JSON(http.StatusOK, s.monitor.HealthCheck())
}

// requestLogger logs each request and feeds the HTTP metrics
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		if s.monitor != nil {
			s.monitor.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status), duration)
		}

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Str("client", c.ClientIP()).
			Msg("Request")
	}
}

// CORS middleware
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Run runs the server with signal handling
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan

	return s.Stop()
}
