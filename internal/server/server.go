package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	bookingservice "github.com/smallbiznis/clientflow/internal/booking/service"
	"github.com/smallbiznis/clientflow/internal/config"
	"github.com/smallbiznis/clientflow/internal/observability"
	obsmiddleware "github.com/smallbiznis/clientflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/clientflow/internal/observability/metrics"
	obstracing "github.com/smallbiznis/clientflow/internal/observability/tracing"
	paymentservice "github.com/smallbiznis/clientflow/internal/payment/service"
	paymentwebhook "github.com/smallbiznis/clientflow/internal/payment/webhook"
	"github.com/smallbiznis/clientflow/internal/ratelimit"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the HTTP API. Domain services come from app.Domains.
var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type paymentRecorder interface {
	RecordPayment(ctx context.Context, req paymentservice.RecordPaymentRequest) (*paymentservice.RecordPaymentResult, error)
}

type paymentSyncer interface {
	SyncPayment(ctx context.Context, tenantID, paymentID snowflake.ID) (*paymentservice.SyncResult, error)
}

type gatewayWebhooks interface {
	IngestWebhook(ctx context.Context, payload []byte, signature string) error
}

type publicBookings interface {
	CreatePublicBooking(ctx context.Context, tenantSlug string, req bookingservice.PublicBookingRequest) (*bookingservice.PublicBookingResult, error)
	SlotAvailable(ctx context.Context, tenantSlug string, start time.Time, durationMinutes int) (bool, error)
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	recorder paymentRecorder
	syncer   paymentSyncer
	webhooks gatewayWebhooks
	bookings publicBookings
	tagSvc   tagdomain.Service
	limiter  ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Engine     *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Recorder   *paymentservice.Recorder
	Reconciler *paymentservice.Reconciler
	Webhooks   *paymentwebhook.Service
	Bookings   *bookingservice.Service
	TagSvc     tagdomain.Service
	Limiter    ratelimit.Limiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:   p.Engine,
		cfg:      p.Cfg,
		log:      p.Log.Named("http.server"),
		recorder: p.Recorder,
		syncer:   p.Reconciler,
		webhooks: p.Webhooks,
		bookings: p.Bookings,
		tagSvc:   p.TagSvc,
		limiter:  p.Limiter,
	}
	s.RegisterRoutes()
	return s
}

// RegisterRoutes mounts the dashboard, public and gateway webhook routes.
func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")

	api.POST("/webhooks/stripe", s.HandleStripeWebhook)

	public := api.Group("/public/:slug", PublicCORS(s.cfg), PublicRateLimit(s.limiter))
	public.OPTIONS("/book", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	public.POST("/book", s.CreatePublicBooking)
	public.GET("/availability", s.CheckAvailability)

	dashboard := api.Group("", TenantContext())
	dashboard.POST("/invoices/:id/record-payment", s.RecordPayment)
	dashboard.POST("/payments/:id/sync", s.SyncPayment)

	for path, entityType := range taggableEntities {
		group := dashboard.Group("/" + path + "/:id")
		group.POST("/tags", s.AddTag(entityType))
		group.DELETE("/tags/:tag_id", s.RemoveTag(entityType))
		group.PUT("/status", s.SetStatus(entityType))
	}
}
