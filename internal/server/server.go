// Package server is the admin HTTP API: post queue editing, image uploads,
// channel control, status and intervals.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/blacktop/pagecast/internal/logutil"
	"github.com/blacktop/pagecast/internal/media"
	"github.com/blacktop/pagecast/internal/queue"
	"github.com/blacktop/pagecast/internal/scheduler"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options wires the server to the rest of the process.
type Options struct {
	Controller *scheduler.Controller
	// Queues maps queue channel names to their post files.
	Queues map[string]*queue.File
	Images *media.Library
	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

// Server serves the admin API.
type Server struct {
	e      *echo.Echo
	ctl    *scheduler.Controller
	queues map[string]*queue.File
	images *media.Library
}

// New builds the router.
func New(opts Options) *Server {
	s := &Server{
		e:      echo.New(),
		ctl:    opts.Controller,
		queues: opts.Queues,
		images: opts.Images,
	}
	if s.queues == nil {
		s.queues = map[string]*queue.File{}
	}

	e := s.e
	e.HideBanner = true
	e.HidePort = true
	e.Use(requestLogger())
	e.Use(middleware.Recover())

	api := e.Group("/api")
	api.GET("/posts/:channel", s.listPosts)
	api.POST("/posts/:channel", s.addPost)
	api.PUT("/posts/:channel/:index", s.updatePost)
	api.DELETE("/posts/:channel/:index", s.deletePost)
	api.POST("/upload", s.upload, middleware.BodyLimit("17M"))

	api.POST("/control/all/:action", s.controlAll)
	api.POST("/control/:channel/:action", s.control)
	api.GET("/status", s.status)
	api.GET("/interval/:channel", s.getInterval)
	api.PUT("/interval/:channel", s.setInterval)

	e.GET("/images/:filename", s.image)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	logutil.Infof("admin API listening on %s", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and drains open ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func requestLogger() echo.MiddlewareFunc {
	log := logutil.With("component", "http")
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/healthz" || c.Request().URL.Path == "/metrics"
		},
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			latency := v.Latency.Round(time.Millisecond)
			if v.Error != nil {
				log.Warn("request failed", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", latency, "err", v.Error)
				return nil
			}
			log.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", latency)
			return nil
		},
	})
}
