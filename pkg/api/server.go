// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"meridian/pkg/config"
	"meridian/pkg/engine"
)

// Server is the HTTP front end over the engine.
type Server struct {
	engine *engine.Engine
	cfg    config.APIConfig
	logger *zap.Logger
	echo   *echo.Echo
}

// NewServer builds the router. Pass a Gatherer when the engine was
// created with a private Prometheus registry; nil uses the default.
func NewServer(eng *engine.Engine, cfg config.APIConfig, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		engine: eng,
		cfg:    cfg,
		logger: logger,
		echo:   e,
	}

	h := newHandler(eng, logger)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	var metricsHandler http.Handler
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	} else {
		metricsHandler = promhttp.Handler()
	}
	e.GET("/metrics", func(c echo.Context) error {
		// Refresh gauges from a fresh snapshot before scraping.
		eng.GetStatistics()
		metricsHandler.ServeHTTP(c.Response(), c.Request())
		return nil
	})

	v1 := e.Group("/api/v1")

	v1.POST("/assets", h.AddAsset)
	v1.GET("/assets", h.ListAssets)
	v1.GET("/assets/:id", h.GetAsset)
	v1.GET("/assets/:id/url", h.ResolveURL)
	v1.POST("/assets/:id/distribute", h.DistributeAsset)
	v1.DELETE("/assets/:id", h.PurgeAsset)

	v1.GET("/nodes", h.ListNodes)
	v1.POST("/nodes", h.RegisterNode)
	v1.GET("/nodes/:id", h.GetNode)
	v1.PATCH("/nodes/:id/status", h.SetNodeStatus)
	v1.DELETE("/nodes/:id", h.UnregisterNode)

	v1.GET("/rules", h.ListRules)
	v1.POST("/rules", h.AddRule)

	v1.GET("/stats", h.Stats)

	return s
}

// Start blocks serving HTTP until the context is canceled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", zap.String("address", s.cfg.Address))
		errCh <- s.echo.Start(s.cfg.Address)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// Handler returns the underlying HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
