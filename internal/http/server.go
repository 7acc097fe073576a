package http

import (
	"context"
	"net/http"

	"github.com/aureeaubert/hull-closeio/internal/agent"
	"github.com/aureeaubert/hull-closeio/internal/config"
	"github.com/aureeaubert/hull-closeio/internal/http/middleware"
	"github.com/aureeaubert/hull-closeio/internal/logger"
	"github.com/aureeaubert/hull-closeio/internal/metrics"
	"github.com/aureeaubert/hull-closeio/internal/model"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Syncer runs one notification batch.
type Syncer interface {
	Send(ctx context.Context, kind model.EntityKind, msgs []model.UpdateMessage) (agent.Report, error)
}

// EventLister reads back recorded sync outcomes.
type EventLister interface {
	ListByEntity(ctx context.Context, kind, internalID, outcome string, limit, offset int) ([]model.SyncEvent, error)
}

// Deps are the collaborators behind the routes. Events and Redis may be nil.
type Deps struct {
	Syncer Syncer
	Events EventLister
	Redis  *redis.Client
	Log    *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.HTTPConfig, logLevel string, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(logLevel))
	e.Use(echoMid.Recover(), requestLogger(deps.Log))

	metrics.MustRegister(prometheus.DefaultRegisterer)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	authMW := middleware.SharedSecret(cfg.SharedSecret)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          deps.Redis,
		RPS:            cfg.RateLimitRPS,
		KeyPrefix:      "rl:notify:",
		RetryAfterHint: true,
	})

	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/notify", notifyHandler(deps.Syncer, deps.Log))
	if deps.Events != nil {
		v1.GET("/events", listEventsHandler(deps.Events))
	}

	return &Server{e: e, log: deps.Log}
}

func (s *Server) Start(addr string) error {
	s.log.Info("http listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func requestLogger(l *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				l.Warn("http request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			l.Debug("http request", fields...)
			return nil
		},
	})
}

func echoLevel(level string) log.Lvl {
	switch logger.ParseLevel(level) {
	case zapcore.DebugLevel:
		return log.DEBUG
	case zapcore.WarnLevel:
		return log.WARN
	case zapcore.ErrorLevel:
		return log.ERROR
	default:
		return log.INFO
	}
}
