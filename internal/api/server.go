// Package api exposes a small operational HTTP endpoint: health, the
// daemon's torrent list and the background task table. It is read-only;
// all control goes through the chat interface.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/transmote/transmote/internal/scheduler"
	"github.com/transmote/transmote/internal/torrents/types"
)

// Server handles HTTP requests for the ops API.
type Server struct {
	echo      *echo.Echo
	client    types.Client
	sched     *scheduler.Scheduler
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new ops API server. sched may be nil when no
// background tasks are registered.
func NewServer(client types.Client, sched *scheduler.Scheduler, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		client:    client,
		sched:     sched,
		logger:    logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	api := s.echo.Group("/api")
	api.GET("/status", s.getStatus)
	api.GET("/torrents", s.getTorrents)
	api.GET("/tasks", s.getTasks)
	api.POST("/tasks/:id/run", s.runTask)
}

// Start begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// healthCheck reports daemon reachability alongside process liveness.
func (s *Server) healthCheck(c echo.Context) error {
	if err := s.client.Test(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"daemon": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(c echo.Context) error {
	ctx := c.Request().Context()

	torrentCount := -1
	if torrents, err := s.client.List(ctx); err == nil {
		torrentCount = len(torrents)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"startTime":    s.startTime.Format(time.RFC3339),
		"uptimeSec":    int(time.Since(s.startTime).Seconds()),
		"torrentCount": torrentCount,
	})
}

func (s *Server) getTorrents(c echo.Context) error {
	torrents, err := s.client.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, torrents)
}

func (s *Server) getTasks(c echo.Context) error {
	if s.sched == nil {
		return c.JSON(http.StatusOK, []scheduler.TaskInfo{})
	}
	return c.JSON(http.StatusOK, s.sched.ListTasks())
}

// runTask triggers a background task out of schedule.
func (s *Server) runTask(c echo.Context) error {
	id := c.Param("id")
	if s.sched == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no tasks registered"})
	}

	if err := s.sched.RunNow(id); err != nil {
		code := http.StatusNotFound
		if strings.Contains(err.Error(), "already running") {
			code = http.StatusConflict
		}
		return c.JSON(code, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}
