package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/burenotti/healthlog/internal/adapter/storage"
	"github.com/burenotti/healthlog/internal/app/authapp"
	"github.com/burenotti/healthlog/internal/app/unitofwork"
	weightservice "github.com/burenotti/healthlog/internal/app/weight"
	"github.com/burenotti/healthlog/internal/config"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	slogecho "github.com/samber/slog-echo"
)

const DefaultAppName = "healthlog"

type Server struct {
	handler       *echo.Echo
	logger        *slog.Logger
	addr          string
	appName       string
	db            unitofwork.Beginner
	authService   *authapp.Service
	weightService *weightservice.Service
	msgBus        unitofwork.MessageBus
	validator     *validator.Validate

	authContext   func(context.Context, storage.DBContext) (*authapp.AtomicContext, error)
	weightContext func(context.Context, storage.DBContext) (*weightservice.AtomicContext, error)

	redis     *redis.Client
	rateLimit config.RateLimit
	registry  *prometheus.Registry
	metrics   *Metrics
}

func NewServer(opt ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.WriteTimeout = 10 * time.Second
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.IdleTimeout = 10 * time.Second
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.MaxHeaderBytes = 4096

	v := validator.New(validator.WithRequiredStructEnabled())

	s := &Server{
		handler:       e,
		validator:     v,
		appName:       DefaultAppName,
		logger:        slog.Default(),
		authContext:   authapp.NewAtomicContext,
		weightContext: weightservice.NewAtomicContext,
	}

	for _, opt := range opt {
		opt(s)
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = NewMetrics(s.registry)

	e.Use(middleware.Recover())
	e.Use(slogecho.NewWithConfig(s.logger, slogecho.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelInfo,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
		WithSpanID:       true,
		WithTraceID:      true,
	}))
	e.Use(s.metrics.Middleware())
	s.Mount()
	return s
}

func (s *Server) Mount() {
	s.handler.GET("/healthz", s.Health)
	s.handler.GET("/metrics", echo.WrapHandler(s.metrics.Handler(s.registry)))
	s.MountAuth()
	s.MountWeights()
}

func (s *Server) Start() error {
	return s.handler.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.handler.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) bind(ctx echo.Context, i interface{}) error {
	if err := ctx.Bind(i); err != nil {
		return fmt.Errorf("bad request")
	}
	if err := s.validator.Struct(i); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			return fmt.Errorf("bad request")
		}
		return fmt.Errorf("%s: %s", errs[0].Field(), errs[0].Error())

	}
	return nil
}

func (s *Server) authUoW() *authapp.UnitOfWork {
	return unitofwork.New(s.db, s.authContext, s.msgBus, s.logger)
}

func (s *Server) weightUoW() *weightservice.UnitOfWork {
	return unitofwork.New(s.db, s.weightContext, s.msgBus, s.logger)
}
