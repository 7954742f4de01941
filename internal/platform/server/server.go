// Package server exposes IPS Bundle generation over HTTP for sandbox and test
// tooling.
package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ehr/ipsgen/internal/platform/middleware"
	"github.com/ehr/ipsgen/internal/platform/pools"
)

type Options struct {
	Version        string
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// New builds the Echo instance with middleware, health, metrics and the
// bundle API mounted under /api/v1.
func New(store *pools.Store, logger zerolog.Logger, opts Options) *echo.Echo {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: opts.CORSOrigins,
		AllowMethods: []string{http.MethodGet},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": opts.Version,
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RequestTimeout(opts.RequestTimeout))
	NewBundleHandler(store, logger).RegisterRoutes(apiV1)

	return e
}
