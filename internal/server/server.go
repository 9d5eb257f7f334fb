package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fstopclub/fstop/internal/audit"
	auditdomain "github.com/fstopclub/fstop/internal/audit/domain"
	"github.com/fstopclub/fstop/internal/booking"
	bookingdomain "github.com/fstopclub/fstop/internal/booking/domain"
	"github.com/fstopclub/fstop/internal/config"
	"github.com/fstopclub/fstop/internal/event"
	eventdomain "github.com/fstopclub/fstop/internal/event/domain"
	"github.com/fstopclub/fstop/internal/export"
	"github.com/fstopclub/fstop/internal/observability"
	obslogger "github.com/fstopclub/fstop/internal/observability/logger"
	obstracing "github.com/fstopclub/fstop/internal/observability/tracing"
	"github.com/fstopclub/fstop/internal/payment"
	paymentwebhook "github.com/fstopclub/fstop/internal/payment/webhook"
	"github.com/fstopclub/fstop/internal/providers/email"
	"github.com/fstopclub/fstop/internal/ratelimit"
	"github.com/fstopclub/fstop/internal/user"
	userdomain "github.com/fstopclub/fstop/internal/user/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	observability.Module,
	audit.Module,
	email.Module,
	event.Module,
	user.Module,
	booking.Module,
	payment.Module,
	export.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	eventSvc   eventdomain.Service
	userSvc    userdomain.Service
	bookingSvc bookingdomain.Service
	webhookSvc *paymentwebhook.Service
	exportSvc  *export.Service
	auditSvc   auditdomain.Service
	limiter    *ratelimit.RequestLimiter
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	EventSvc   eventdomain.Service
	UserSvc    userdomain.Service
	BookingSvc bookingdomain.Service
	WebhookSvc *paymentwebhook.Service
	ExportSvc  *export.Service
	AuditSvc   auditdomain.Service
	Limiter    *ratelimit.RequestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("http.server"),
		genID:      p.GenID,
		eventSvc:   p.EventSvc,
		userSvc:    p.UserSvc,
		bookingSvc: p.BookingSvc,
		webhookSvc: p.WebhookSvc,
		exportSvc:  p.ExportSvc,
		auditSvc:   p.AuditSvc,
		limiter:    p.Limiter,
	}

	s.registerAPIRoutes()
	s.registerWebhookRoutes()

	return s
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/events", s.CreateEvent)
	api.GET("/events", s.ListEvents)
	api.GET("/events/:id", s.GetEvent)
	api.GET("/events/:id/bookable", s.GetBookable)
	api.GET("/events/:id/bookings.csv", s.ExportBookings)

	api.POST("/events/:id/bookings", s.BookEvent)
	api.DELETE("/events/:id/bookings/:userId", s.CancelBooking)
	api.GET("/events/:id/bookings/:userId", s.GetUserBooking)

	api.POST("/users", s.RegisterUser)
	api.GET("/users/:id", s.GetUser)
	api.PUT("/users/:id/personal-details", s.UpdatePersonalDetails)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payment", s.HandlePaymentWebhook)
}
