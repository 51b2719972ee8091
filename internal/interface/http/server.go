// Package http exposes the analytics queries, grade write-back and the
// session store over a JSON REST API built on gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classpulse/classpulse/internal/application/command"
	"github.com/classpulse/classpulse/internal/application/query"
	"github.com/classpulse/classpulse/internal/domain/session"
	"github.com/classpulse/classpulse/internal/interface/http/handlers"
	"github.com/classpulse/classpulse/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64

	EnableCORS     bool
	AllowedOrigins []string

	// RateLimitPerMinute is per client IP. Zero disables limiting.
	RateLimitPerMinute int

	// APIKeys guard the write routes. Empty leaves them open.
	APIKeyHeader string
	APIKeys      []string
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		RequestTimeout:     10 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		MaxBodyBytes:       1 << 20,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 120,
		APIKeyHeader:       "X-API-Key",
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Dependencies are the application handlers the routes call. A nil handler
// leaves its routes unregistered.
type Dependencies struct {
	StudentMetrics     *query.GetStudentMetricsHandler
	ClassMetrics       *query.GetClassMetricsHandler
	ClassInterventions *query.GetClassInterventionsHandler
	WeeklyDigest       *query.GetWeeklyDigestHandler
	LearningGaps       *query.GetLearningGapsHandler

	GradeSubmission *command.GradeSubmissionHandler
	RecordActivity  *command.RecordActivityHandler

	Sessions session.Store

	HealthChecker handlers.HealthChecker
	Logger        *logger.Logger
	Version       string
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP API server.
type Server struct {
	config     Config
	deps       Dependencies
	logger     *logger.Logger
	engine     *gin.Engine
	httpServer *http.Server
	limiter    *handlers.RateLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer builds the engine and registers every route.
func NewServer(config Config, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewCompositeHealthChecker(deps.Version)
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: log.With(logger.Component("http")),
		engine: gin.New(),
	}
	if config.RateLimitPerMinute > 0 {
		s.limiter = handlers.NewRateLimiter(config.RateLimitPerMinute, time.Minute)
	}

	s.engine.Use(
		handlers.Recovery(s.logger),
		handlers.RequestID(s.logger),
		handlers.RequestLogger(s.logger),
		handlers.SecurityHeaders(),
	)
	if config.EnableCORS {
		s.engine.Use(handlers.CORS(config.AllowedOrigins))
	}
	s.engine.NoRoute(func(c *gin.Context) {
		handlers.RespondError(c, http.StatusNotFound, "not_found", "route not found")
	})

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Address(),
		Handler:      s.engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// setupRoutes registers all routes.
func (s *Server) setupRoutes() {
	r := s.engine

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/live", s.handleLive)

	api := r.Group("/api/v1")
	if s.limiter != nil {
		api.Use(s.limiter.Middleware())
	}
	if s.config.MaxBodyBytes > 0 {
		api.Use(handlers.BodyLimit(s.config.MaxBodyBytes))
	}
	api.Use(handlers.Timeout(s.config.RequestTimeout))

	auth := handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.APIKeys)
	write := api.Group("", auth.Middleware())

	students := api.Group("/students/:id")
	if s.deps.StudentMetrics != nil {
		students.GET("/metrics", s.handleStudentMetrics)
	}
	if s.deps.WeeklyDigest != nil {
		students.GET("/digest", s.handleWeeklyDigest)
	}
	if s.deps.LearningGaps != nil {
		students.GET("/gaps", s.handleLearningGaps)
	}

	classes := api.Group("/classes/:id")
	if s.deps.ClassMetrics != nil {
		classes.GET("/metrics", s.handleClassMetrics)
	}
	if s.deps.ClassInterventions != nil {
		classes.GET("/interventions", s.handleClassInterventions)
	}

	if s.deps.GradeSubmission != nil {
		write.POST("/submissions/:id/grade", s.handleGradeSubmission)
	}
	if s.deps.RecordActivity != nil {
		write.POST("/activity", s.handleRecordActivity)
	}

	if s.deps.Sessions != nil {
		api.GET("/sessions/:sid", s.handleGetSession)
		api.GET("/sessions/:sid/keys/:key", s.handleGetSessionKey)
		write.PUT("/sessions/:sid/keys/:key", s.handlePutSessionKey)
		write.DELETE("/sessions/:sid/keys/:key", s.handleDeleteSessionKey)
	}
}

// Handler exposes the engine, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown. It blocks.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine. The channel receives a
// serve error, if any, and is closed when serving stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown drains in-flight requests and stops the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning reports whether Start is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns time since Start, or zero when stopped.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.config.Address()
}
