// Package api exposes the optimizer control surface over HTTP
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratopt/internal/db"
	"github.com/ajitpratap0/stratopt/internal/metrics"
	"github.com/ajitpratap0/stratopt/pkg/optimizer"
)

// Controller is the part of the optimizer the API drives
type Controller interface {
	State() optimizer.RunState
	RunID() string
	Generation() int
	Progress() (completed, planned int64)
	Best() (map[string]interface{}, float64, bool)
	LastError() error
	Suspend() error
	Resume() error
	Stop() error
}

// RunStore reads recorded runs
type RunStore interface {
	GetRun(ctx context.Context, id string) (*db.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*db.RunRecord, error)
	ListGenerations(ctx context.Context, runID string) ([]*db.GenerationRecord, error)
}

// Server represents the REST API server
type Server struct {
	router    *gin.Engine
	optimizer Controller
	runs      RunStore
	hub       *Hub
	health    func(ctx context.Context) error
	addr      string
	server    *http.Server
	startedAt time.Time
}

// Config contains server configuration
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string

	Optimizer Controller
	Runs      RunStore // optional, run history endpoints answer 503 without it
	Hub       *Hub     // optional, enables the event stream
	Health    func(ctx context.Context) error
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		optimizer: config.Optimizer,
		runs:      config.Runs,
		hub:       config.Hub,
		health:    config.Health,
		addr:      fmt.Sprintf("%s:%d", config.Host, config.Port),
		startedAt: time.Now(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	return nil
}

// LoggerMiddleware logs every request and counts it by route
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordAPIRequest(c.Request.Method, route, strconv.Itoa(statusCode))

		logEvent := log.Info()
		if statusCode >= http.StatusInternalServerError {
			logEvent = log.Warn()
		}
		logEvent = logEvent.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
