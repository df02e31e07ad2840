package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/serviora/bookpay/internal/clock"
	"github.com/serviora/bookpay/internal/config"
	"github.com/serviora/bookpay/internal/logger"
	orderdomain "github.com/serviora/bookpay/internal/order/domain"
	policydomain "github.com/serviora/bookpay/internal/policy/domain"
	webhookdomain "github.com/serviora/bookpay/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	DB         *gorm.DB
	Clock      clock.Clock
	PolicySvc  policydomain.Service
	OrderSvc   orderdomain.Service
	WebhookSvc webhookdomain.Service
}

// Server holds the HTTP handlers for the payment API.
type Server struct {
	cfg        config.Config
	log        *zap.Logger
	db         *gorm.DB
	clock      clock.Clock
	policySvc  policydomain.Service
	orderSvc   orderdomain.Service
	webhookSvc webhookdomain.Service
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		db:         p.DB,
		clock:      p.Clock,
		policySvc:  p.PolicySvc,
		orderSvc:   p.OrderSvc,
		webhookSvc: p.WebhookSvc,
	}
}

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		Logger:    log,
		SkipPaths: []string{"/healthz"},
	}))
	return engine
}

// RegisterAPIRoutes mounts every handler under /api plus the health probe.
func (s *Server) RegisterAPIRoutes(engine *gin.Engine) {
	engine.GET("/healthz", s.Healthz)

	api := engine.Group("/api")
	{
		admin := api.Group("/admin")
		admin.GET("/policies", s.ListPolicies)
		admin.PUT("/policies", s.UpsertPolicy)

		orders := api.Group("/orders")
		orders.POST("", s.CreateOrder)
		orders.GET("/:id", s.GetOrder)
		orders.POST("/:id/confirm", s.ConfirmOrderPayment)
		orders.POST("/:id/cancel", s.CancelOrder)
		orders.POST("/:id/complete", s.CompleteOrder)

		api.POST("/webhooks/:provider", s.IngestWebhook)
	}
}

func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunHTTP starts the HTTP listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server, engine *gin.Engine) {
		s.RegisterAPIRoutes(engine)
	}),
	fx.Invoke(RunHTTP),
)
