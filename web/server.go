package web

import (
	"context"
	"net/http"

	"sensor-agent/agent"
	"sensor-agent/config"
	"sensor-agent/database"
	"sensor-agent/web/handlers"
	"sensor-agent/web/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	logger *zap.Logger
	config *config.Config
}

func NewServer(a *agent.Agent, store *database.PostgresStore, logger *zap.Logger, cfg *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SessionMiddleware(store, cfg.WorkspaceDir))

	server := &Server{
		router: router,
		logger: logger,
		config: cfg,
	}
	server.setupRoutes(a, store)
	return server
}

func (s *Server) setupRoutes(a *agent.Agent, store *database.PostgresStore) {
	chatHandler := handlers.NewChatHandler(a, store, s.config, s.logger)

	s.router.Static("/artifacts", s.config.ArtifactDir)

	s.router.GET("/", chatHandler.Index)
	s.router.GET("/history", chatHandler.History)
	s.router.GET("/sessions", chatHandler.Sessions)
	s.router.POST("/upload", chatHandler.Upload)
	s.router.POST("/query", chatHandler.Query)
	s.router.GET("/report", chatHandler.Report)
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("Starting web server", zap.String("address", addr))

	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()

	s.logger.Info("Shutting down web server")
	return srv.Shutdown(context.Background())
}
