package server

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alquemyfin/bankinplay-connect/internal/config"
	"github.com/alquemyfin/bankinplay-connect/internal/handler"
	"github.com/alquemyfin/bankinplay-connect/internal/middleware"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

type Server struct {
	echo           *echo.Echo
	cfg            *config.Config
	logger         *logger.Logger
	webhookHandler *handler.WebhookHandler
	ledgerHandler  *handler.LedgerHandler
	syncHandler    *handler.SyncHandler
	healthHandler  *handler.HealthHandler
}

func New(
	cfg *config.Config,
	log *logger.Logger,
	webhookHandler *handler.WebhookHandler,
	ledgerHandler *handler.LedgerHandler,
	syncHandler *handler.SyncHandler,
	healthHandler *handler.HealthHandler,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	return &Server{
		echo:           e,
		cfg:            cfg,
		logger:         log,
		webhookHandler: webhookHandler,
		ledgerHandler:  ledgerHandler,
		syncHandler:    syncHandler,
		healthHandler:  healthHandler,
	}
}

func (s *Server) Start() error {
	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%s", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info(context.Background(), "Starting HTTP server",
		"address", addr,
	)

	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echoMiddleware.Recover())
	s.echo.Use(echoMiddleware.CORS())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.Logging(s.logger))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler.Check)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/webhook/lectura_intradia", s.webhookHandler.IntradayRead)
	s.echo.POST("/webhook/lectura_cierre", s.webhookHandler.ClosingRead)
	s.echo.POST("/webhook/lectura_tarjeta", s.webhookHandler.CardRead)
	s.echo.POST("/webhook/estado", s.webhookHandler.StatusUpdate)

	s.echo.POST("/sync", s.syncHandler.Trigger)
	s.echo.GET("/ledger/entries", s.ledgerHandler.ListEntries)
	s.echo.GET("/ledger/entries/:id", s.ledgerHandler.GetEntry)
}

func (s *Server) Handler() *echo.Echo {
	s.setupMiddleware()
	s.setupRoutes()
	return s.echo
}
