// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/crimecast/crimecast/internal/accounts"
	"github.com/crimecast/crimecast/internal/audit"
	"github.com/crimecast/crimecast/internal/config"
	"github.com/crimecast/crimecast/internal/health"
	"github.com/crimecast/crimecast/internal/inference"
	"github.com/crimecast/crimecast/internal/logging"
	"github.com/crimecast/crimecast/internal/metrics"
	"github.com/crimecast/crimecast/internal/ratelimit"
	"github.com/crimecast/crimecast/internal/security"
	"github.com/crimecast/crimecast/internal/session"
	"github.com/crimecast/crimecast/internal/traces"
	"github.com/crimecast/crimecast/internal/validation"
	"github.com/crimecast/crimecast/migrations"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// Version is reported by /health and attached to traces.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	accounts     *accounts.Manager
	auditLog     *audit.Logger
	publisher    *audit.KafkaPublisher // nil unless KAFKA_BROKERS is set
	adapter      *inference.Adapter    // nil when no model is configured
	sessions     *session.Manager
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	loginLimiter *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error
	drainDelay   time.Duration

	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAdapter sets a prebuilt inference adapter instead of loading one from
// the configured artifact paths.
func WithAdapter(a *inference.Adapter) Option {
	return func(s *Server) {
		s.adapter = a
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var accountStore accounts.Store
	var auditStore audit.Store
	if cfg.DatabaseURL != "" {
		db, err := openDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.db = db
		accountStore = accounts.NewPostgresStore(db)
		auditStore = audit.NewPostgresStore(db)
		s.health.Register("database", health.Database(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		accountStore = accounts.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
		s.logger.Warn("DATABASE_URL not set, using in-memory storage (data is lost on restart)")
	}

	// Audit log, optionally mirrored to Kafka
	var publisher audit.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		s.publisher = audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic, logging.Component(s.logger, "audit"))
		publisher = s.publisher
		s.logger.Info("audit event stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.AuditTopic)
	}
	s.auditLog = audit.NewLogger(auditStore, publisher, logging.Component(s.logger, "audit"))

	s.accounts = accounts.NewManager(accountStore, s.auditLog,
		accounts.WithBcryptCost(cfg.BcryptCost),
		accounts.WithLogger(logging.Component(s.logger, "accounts")),
	)
	if created, err := s.accounts.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
		return nil, fmt.Errorf("failed to create default administrator: %w", err)
	} else if !created && cfg.AdminEmail != "" {
		s.logger.Info("default administrator already present", "email", cfg.AdminEmail)
	}

	// Inference adapter
	if s.adapter == nil && cfg.HasModel() {
		a, err := loadAdapter(cfg, logging.Component(s.logger, "inference"))
		if err != nil {
			return nil, fmt.Errorf("failed to load model: %w", err)
		}
		s.adapter = a
	}
	if s.adapter != nil {
		metrics.ModelLoaded.Set(1)
		if meta, ok := s.adapter.Metadata(); ok {
			s.logger.Info("model loaded", "version", meta.ModelVersion, "kind", meta.ModelKind)
		}
	} else {
		metrics.ModelLoaded.Set(0)
		s.logger.Warn("no model configured, prediction endpoints will answer 503")
	}
	s.health.Register("model", health.Model(s.modelVersion))

	// Sessions
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = session.GenerateSecret()
		s.logger.Warn("SESSION_SECRET not set, using a random key (sessions end on restart)")
	}
	sessions, err := session.NewManager(secret, cfg.SecureCookies, s.accounts.SessionUser, logging.Component(s.logger, "session"))
	if err != nil {
		return nil, fmt.Errorf("failed to configure sessions: %w", err)
	}
	s.sessions = sessions

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return db, nil
}

func loadAdapter(cfg *config.Config, logger *slog.Logger) (*inference.Adapter, error) {
	return inference.LoadAdapter(artifactPaths(cfg),
		inference.WithThresholds(cfg.RiskThresholds()),
		inference.WithLogger(logger),
	)
}

func artifactPaths(cfg *config.Config) inference.ArtifactPaths {
	return inference.ArtifactPaths{
		Bundle:   cfg.ModelBundlePath,
		Model:    cfg.ModelPath,
		Scaler:   cfg.ScalerPath,
		Encoders: cfg.EncodersPath,
	}
}

func (s *Server) modelVersion() (string, bool) {
	if s.adapter == nil {
		return "", false
	}
	if meta, ok := s.adapter.Metadata(); ok {
		return meta.ModelVersion, true
	}
	return "unversioned", true
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware(s.cfg.SecureCookies))
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
	s.loginLimiter = ratelimit.New(ratelimit.LoginConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Tracing and request ID
	s.router.Use(traces.Middleware())
	s.router.Use(s.requestIDMiddleware())

	// Session user (if any), then logging so lines carry the account
	s.router.Use(s.sessions.Middleware())
	s.router.Use(accountContextMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream request ID (from load balancer, etc.) if it is a UUID
		requestID := c.GetHeader("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func accountContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if u, ok := session.CurrentUser(c); ok {
			c.Request = c.Request.WithContext(logging.WithAccountID(c.Request.Context(), u.ID))
		}
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", health.Live)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	accountHandler := accounts.NewHandler(s.accounts, s.sessions)
	accountHandler.RegisterRoutes(v1, s.loginLimiter.MiddlewareBy(ratelimit.ByIPAndEmail))

	signedIn := v1.Group("", session.Require(session.CapSignedIn))
	accountHandler.RegisterProtectedRoutes(signedIn)
	inference.NewHandler(s.adapter).RegisterProtectedRoutes(signedIn)

	admin := v1.Group("/admin", session.Require(session.CapAdmin))
	accountHandler.RegisterAdminRoutes(admin)
	audit.NewHandler(s.auditLog).RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	s.health.ReadyHandler(c)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTracing, err := traces.Init(runCtx, traces.Config{
		Endpoint:    s.cfg.OTLPEndpoint,
		Version:     Version,
		SampleRatio: s.cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		s.logger.Error("failed to initialize tracing, continuing without it", "error", err)
		stopTracing = func(context.Context) error { return nil }
	}
	s.stopTracing = stopTracing

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", Version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	if s.publisher != nil {
		s.publisher.Start(runCtx)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		s.Close()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.Close()

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Close releases background workers and the database pool. It does not
// touch the HTTP listener.
func (s *Server) Close() {
	// Flush queued audit events; the worker ignores runCtx.
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("audit publisher close error", "error", err)
		} else {
			s.logger.Info("audit publisher stopped")
		}
	}

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.loginLimiter != nil {
		s.loginLimiter.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
