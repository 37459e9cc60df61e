package server

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/opsgate/jitterm/internal/api/http"
	"github.com/opsgate/jitterm/internal/api/middleware"
	"github.com/opsgate/jitterm/internal/api/ws"
	"github.com/opsgate/jitterm/internal/audit"
	"github.com/opsgate/jitterm/internal/infrastructure/config"
	"github.com/opsgate/jitterm/internal/infrastructure/logging"
	"github.com/opsgate/jitterm/internal/infrastructure/monitoring"
	"github.com/opsgate/jitterm/internal/session"
)

// Server wires the session manager, audit trail, and API surfaces.
type Server struct {
	router  *gin.Engine
	manager *session.Manager
	trail   *audit.Trail
	logger  *logging.Logger
	config  *config.Config
}

// New creates a server instance from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing JIT terminal service",
		zap.String("port", cfg.Server.Port),
		zap.String("log_dir", cfg.Terminal.LogDir),
		zap.Bool("enabled", cfg.Terminal.Enabled),
	)

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetricsWith(registry)

	trail, err := audit.New(cfg.Terminal.AuditFile, logger)
	if err != nil {
		return nil, err
	}

	manager := session.NewManager(
		session.SettingsFromConfig(cfg.Terminal),
		trail,
		logger,
		session.WithMetrics(metrics),
		session.WithDefaultShell(cfg.Terminal.Shell),
		session.WithSweepInterval(time.Duration(cfg.Terminal.SweepIntervalSec)*time.Second),
		session.WithProductionFlag(inProduction()),
	)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	handlers := apihttp.NewHandlers(manager)
	wsHandler := ws.NewHandler(manager, logger, metrics)

	router.GET("/health", handlers.Health)

	// Session lifecycle
	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.DELETE("/sessions/:id", handlers.TerminateSession)
	router.GET("/sessions/:id/log", handlers.GetSessionLog)

	// Terminal attach
	router.GET("/sessions/:id/attach", wsHandler.HandleAttach)

	// Audit and configuration
	router.GET("/audit", handlers.QueryAudit)
	router.GET("/config", handlers.GetSettings)
	router.PUT("/config", handlers.UpdateSettings)

	// Metrics
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	logger.Info("Server initialized")

	return &Server{
		router:  router,
		manager: manager,
		trail:   trail,
		logger:  logger,
		config:  cfg,
	}, nil
}

// Run starts the sweep and the HTTP server.
func (s *Server) Run() error {
	s.manager.Start()

	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close terminates all sessions and releases resources.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	s.manager.Stop()

	if err := s.trail.Close(); err != nil {
		s.logger.Error("Failed to close audit trail", zap.Error(err))
	}

	s.logger.Sync()
	return nil
}

// inProduction mirrors the deployment environment convention.
func inProduction() bool {
	env := os.Getenv("ENV")
	return env == "production" || env == "prod"
}
