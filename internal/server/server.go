package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/api/middleware"
	"github.com/GriffinCanCode/termhost/internal/backing"
	"github.com/GriffinCanCode/termhost/internal/command"
	termhttp "github.com/GriffinCanCode/termhost/internal/http"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/terminal"
	"github.com/GriffinCanCode/termhost/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router    *gin.Engine
	http      *http.Server
	terminals *terminal.Manager
	sockets   *ws.Handler
	logger    *logging.Logger
	config    *config.Config
	metrics   *monitoring.Metrics
}

// Dependencies lets callers replace the process-facing parts of the server.
// Zero values use the real PTY spawner and tmux binary.
type Dependencies struct {
	Spawner terminal.Spawner
	Backing terminal.Backing
	Logger  *logging.Logger
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	logger.Info("Initializing termhost",
		zap.String("addr", cfg.Addr()),
		zap.String("program", cfg.Terminal.Program),
		zap.Duration("orphan_timeout", cfg.Terminal.OrphanTimeout),
		zap.Bool("tmux", cfg.Backing.Enabled),
	)

	metrics := monitoring.NewMetrics()

	resolver := command.NewResolver(runtime.GOOS, os.Getenv("SHELL"))
	if path := cfg.Terminal.ProgramsFile; path != "" {
		if err := resolver.LoadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load programs file: %w", err)
		}
		logger.Info("Loaded programs file", zap.String("path", path))
	}

	backed := deps.Backing
	if backed == nil && cfg.Backing.Enabled {
		backed = backing.NewTmux(backing.Config{
			Binary: cfg.Backing.Binary,
			Socket: cfg.Backing.Socket,
		}, nil, logger.Component("backing"))
	}

	terminals := terminal.NewManager(terminal.Options{
		Program:         cfg.Terminal.Program,
		OrphanTimeout:   cfg.Terminal.OrphanTimeout,
		MaxLifetime:     cfg.Terminal.MaxLifetime,
		ScrollbackBytes: cfg.Terminal.ScrollbackBytes,
		Prefix:          cfg.Backing.Prefix,
		Identity:        cfg.Backing.Identity,
		Backing:         backed,
		Spawner:         deps.Spawner,
		Resolver:        resolver,
		Logger:          logger.Component("terminal"),
	}).WithMetrics(metrics)

	sockets := ws.NewHandler(terminals, ws.Config{
		Origins: cfg.CORS.Origins,
		Logger:  logger.Component("ws"),
	}).WithMetrics(metrics)

	s := &Server{
		terminals: terminals,
		sockets:   sockets,
		logger:    logger,
		config:    cfg,
		metrics:   metrics,
	}
	s.router = s.setupRouter(termhttp.NewHandlers(terminals, sockets))
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Backing.SyncOnStart {
		// Nothing is attached yet, so every session this prefix owns is stale.
		result := terminals.SyncActiveTerminals(context.Background(), nil)
		logger.Info("Startup sync finished",
			zap.Strings("pruned", result.Pruned),
			zap.Bool("skipped", result.Skipped),
			zap.String("reason", result.Reason),
		)
	}

	return s, nil
}

func (s *Server) setupRouter(handlers *termhttp.Handlers) *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(s.logger.Component("http")))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(s.config.CORS.Origins...)))
	if s.config.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.config.RateLimit.RequestsPerSecond,
			Burst:             s.config.RateLimit.Burst,
		}))
	}
	router.Use(monitoring.Middleware(s.metrics))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.GET("/ws", s.sockets.HandleConnection)

	terminals := router.Group("/terminals")
	{
		terminals.GET("", handlers.ListTerminals)
		terminals.POST("/sync", handlers.SyncTerminals)
		terminals.GET("/:id", handlers.GetTerminal)
		terminals.GET("/:id/scrollback", handlers.Scrollback)
		terminals.DELETE("/:id", handlers.CloseTerminal)
	}

	return router
}

// Router exposes the configured gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Terminals exposes the process manager.
func (s *Server) Terminals() *terminal.Manager {
	return s.terminals
}

// Run starts the server and blocks until it stops. A clean Shutdown returns nil.
func (s *Server) Run() error {
	s.logger.Info("Server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, disconnects clients and detaches every
// terminal. Backed sessions keep running for the next server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}

	s.sockets.CloseAll()
	err := s.http.Shutdown(ctx)
	s.terminals.Shutdown(ctx)

	_ = s.logger.Sync()
	return err
}
