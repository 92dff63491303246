// Package server is the HTTP/WebSocket edge: connection upgrade and
// registration, the subscription API, and operational endpoints.
package server

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/app"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/config"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/coordination"
	apperrors "github.com/mcfalli/TickSTockAppV2-sub020/internal/errors"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/registry"
)

type Server struct {
	echo     *echo.Echo
	config   *config.Config
	app      *app.Service
	registry *registry.Registry
	clock    clockwork.Clock

	redisClient *goredis.Client
	instances   *coordination.InstanceRegistry

	globalLimiter *GlobalConnectionLimiter
	ipLimiter     *IPConnectionLimiter
	rateLimiter   *ConnectionRateLimiter
}

func NewServer(cfg *config.Config, appSvc *app.Service, reg *registry.Registry, clock clockwork.Clock, redisClient *goredis.Client, instances *coordination.InstanceRegistry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(correlationMiddleware)
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:          e,
		config:        cfg,
		app:           appSvc,
		registry:      reg,
		clock:         clock,
		redisClient:   redisClient,
		instances:     instances,
		globalLimiter: NewGlobalConnectionLimiter(int64(cfg.MaxWebSocketConnections)),
		ipLimiter:     NewIPConnectionLimiter(cfg.MaxConnectionsPerIP),
		rateLimiter:   NewConnectionRateLimiter(cfg.ConnectRatePerIP),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
