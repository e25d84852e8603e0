package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"pulp/internal/api"
	"pulp/internal/config"
	"pulp/internal/events"
	"pulp/internal/logging"
)

// Daemon is the control surface the HTTP handlers drive. Implemented by
// daemon.Daemon; tests substitute fakes.
type Daemon interface {
	Status(ctx context.Context) api.DaemonStatus
	Ingest(ctx context.Context, paths []string, displayNames map[string]string) (api.Receipt, error)
	CancelBatch(batchID string) error
	ListBatches(ctx context.Context, limit int) ([]api.Batch, error)
	DescribeBatch(ctx context.Context, batchID string) (*api.BatchDetail, error)
	Events(ctx context.Context, since uint64, limit int, wait time.Duration) (api.EventPage, error)
	Subscribe(buffer int) *events.Subscription
	MetricsHandler() http.Handler
}

// Server exposes daemon status, batch submission, and the progress event
// stream over HTTP.
type Server struct {
	cfg    *config.Config
	daemon Daemon
	logger *slog.Logger
	echo   *echo.Echo
}

// NewServer wires routes and middleware; nothing listens until Start.
func NewServer(cfg *config.Config, d Daemon, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("http server requires config")
	}
	if d == nil {
		return nil, errors.New("http server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "httpapi")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("http request",
				logging.String("method", v.Method),
				logging.String("uri", v.URI),
				logging.Int("status", v.Status),
				logging.Duration("latency", v.Latency))
			return nil
		},
	}))
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			code = httpErr.Code
			if httpErr.Message != nil {
				msg = fmt.Sprint(httpErr.Message)
			}
		}
		if code >= http.StatusInternalServerError {
			logger.Error("http request failed",
				logging.String("method", c.Request().Method),
				logging.String("uri", c.Request().RequestURI),
				logging.Int("status", code),
				logging.Error(err))
		}
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]string{"error": msg})
		}
	}

	s := &Server{cfg: cfg, daemon: d, logger: logger, echo: e}

	e.GET("/healthz", s.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(d.MetricsHandler()))

	apiGroup := e.Group("/api")
	apiGroup.GET("/status", s.handleStatus)
	apiGroup.POST("/batches", s.handleSubmitBatch)
	apiGroup.GET("/batches", s.handleListBatches)
	apiGroup.GET("/batches/:id", s.handleShowBatch)
	apiGroup.POST("/batches/:id/cancel", s.handleCancelBatch)
	apiGroup.GET("/events", s.handleEvents)

	return s, nil
}

// Start begins serving on the configured bind address in a background
// goroutine.
func (s *Server) Start() {
	bind := s.cfg.HTTP.Bind
	s.logger.Info("http api listening", logging.String("bind", bind))
	go func() {
		if err := s.echo.Start(bind); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http api stopped", logging.Error(err))
		}
	}()
}

// Shutdown drains connections and stops the listener.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Warn("http api shutdown", logging.Error(err))
	}
}

// ServeHTTP dispatches through the echo router, letting tests exercise
// handlers without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
