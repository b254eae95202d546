package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"celeri/internal/calendar"
	"celeri/internal/config"
	appLog "celeri/internal/log"
	"celeri/internal/stats"
	"celeri/internal/store"
)

const requestIDHeader = "X-Request-ID"

// Server provides the HTTP API over the fact store, the statistics and
// the calendar reconciler.
type Server struct {
	cfg        *config.Config
	engine     *gin.Engine
	store      *store.Store
	stats      *stats.Service
	reconciler *calendar.Reconciler

	// syncLimiter caps manual sync calls, each of which hits the
	// provider's feed twice.
	syncLimiter *rate.Limiter
}

// NewServer constructs a new Server and registers its routes.
func NewServer(cfg *config.Config, st *store.Store, svc *stats.Service, rec *calendar.Reconciler) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	perMinute := cfg.SyncRatePerMinute
	if perMinute <= 0 {
		perMinute = 1
	}

	s := &Server{
		cfg:         cfg,
		engine:      gin.New(),
		store:       st,
		stats:       svc,
		reconciler:  rec,
		syncLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
	s.registerMiddlewares()
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "debug", s.cfg.Debug)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) registerMiddlewares() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(requestIDMiddleware())
	s.engine.Use(loggingMiddleware())
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		s.engine.Use(s.basicAuthMiddleware())
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	{
		days := api.Group("/days")
		days.GET("/:kind/:day", s.handleGetDay)
		days.PUT("/:kind/:day", s.handlePutDay)
		days.POST("/:kind", s.handleCreateDay)

		api.POST("/reports", s.handleCreateReport)
		api.PUT("/sensors/:sensor/readings", s.handlePutReading)

		st := api.Group("/stats")
		st.GET("/days/:kind/yearly", s.handleStatsYearly)
		st.GET("/days/:kind/monthly", s.handleStatsMonthly)
		st.GET("/reports/yearly", s.handleStatsReportsYearly)
		st.GET("/reports/monthly", s.handleStatsReportsMonthly)
		st.GET("/reports/practices/yearly", s.handleStatsPractices)
		st.GET("/sensors/:sensor/daily", s.handleStatsSensor)

		cal := api.Group("/calendar")
		cal.GET("/check/:day", s.handleCalendarCheck)
		cal.POST("/sync", s.handleCalendarSync)
		cal.POST("/init-range", s.handleInitRange)
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials are treated as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards all routes except /health.
func (s *Server) basicAuthMiddleware() gin.HandlerFunc {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		u, p, ok := c.Request.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			c.Header("WWW-Authenticate", `Basic realm="Celeri", charset="UTF-8"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requestIDMiddleware propagates or assigns an X-Request-ID.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote_addr", c.ClientIP(),
			"request_id", c.GetString("request_id"),
		}
		if c.Request.URL.Path == "/health" {
			appLog.Debug("http request", kv...)
			return
		}
		appLog.Info("http request", kv...)
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Hello from Celeri addon"})
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		appLog.Error("health check failed", err)
		c.String(http.StatusServiceUnavailable, "database unavailable")
		return
	}
	c.String(http.StatusOK, "OK")
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorBody{Error: msg})
}
