package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// Server runs the echo instance the controller is mounted on.
type Server struct {
	Echo   *echo.Echo
	listen string
	log    logger.Logger
}

// NewServer creates an echo instance with panic recovery and request logging.
func NewServer(listen string, log logger.Logger) *Server {
	log = log.Module("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	}))

	return &Server{Echo: e, listen: listen, log: log}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logger.String("listen", s.listen))
		if err := s.Echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("listen", s.listen).
			Build()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		return errors.Newf("failed to shut down http server: %w", err).
			Component("api").
			Category(errors.CategorySystem).
			Build()
	}
	return nil
}
