package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/repairlane/repairlane/internal/authorization"
	"github.com/repairlane/repairlane/internal/config"
	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	obsmetrics "github.com/repairlane/repairlane/internal/observability/metrics"
	profiledomain "github.com/repairlane/repairlane/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const timeFormat = time.RFC3339

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	db          *gorm.DB
	identitysvc identitydomain.Service
	profilesvc  profiledomain.Service
	authz       authorization.Service
	cookies     *CookieManager
	refunds     *config.RefundConfigHolder
	metrics     *obsmetrics.SessionMetrics
}

type Params struct {
	fx.In

	Engine      *gin.Engine
	Config      config.Config
	Log         *zap.Logger
	DB          *gorm.DB
	IdentitySvc identitydomain.Service
	ProfileSvc  profiledomain.Service
	Authz       authorization.Service
	Cookies     *CookieManager
	Refunds     *config.RefundConfigHolder
	Metrics     *obsmetrics.SessionMetrics
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:      p.Engine,
		cfg:         p.Config,
		log:         p.Log.Named("http.server"),
		db:          p.DB,
		identitysvc: p.IdentitySvc,
		profilesvc:  p.ProfileSvc,
		authz:       p.Authz,
		cookies:     p.Cookies,
		refunds:     p.Refunds,
		metrics:     p.Metrics,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine

	r.POST("/login", s.Login)
	r.POST("/register", s.Register)
	r.POST("/logout", s.Logout)

	authed := r.Group("", s.AuthRequired())
	authed.GET("/me", s.Me)
	authed.PATCH("/me", s.UpdateMe)
	authed.POST("/me/password", s.ChangePassword)
	authed.GET("/profiles/:id", s.RequirePermission(authorization.ObjectProfile, authorization.ActionView), s.GetProfile)
	authed.GET("/technicians", s.RequirePermission(authorization.ObjectTechnician, authorization.ActionList), s.ListTechnicians)
	authed.GET("/policies/refund", s.RequirePermission(authorization.ObjectRefundPolicy, authorization.ActionView), s.RefundPolicy)

	admin := authed.Group("/admin", s.RequirePermission(authorization.ObjectUser, authorization.ActionManage))
	admin.GET("/users", s.AdminListUsers)
}

func NewEngine(cfg config.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics, gatherer prometheus.Gatherer) *gin.Engine {
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http.access")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if last := c.Errors.Last(); last != nil {
			fields = append(fields, zap.Error(last.Err))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

func registerGin(cfg config.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics, gatherer prometheus.Gatherer) *gin.Engine {
	return NewEngine(cfg, log, httpMetrics, gatherer)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("http.server",
	fx.Provide(NewCookieManager),
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)
