package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/disburse/internal/audit/domain"
	batchdomain "github.com/smallbiznis/disburse/internal/batch/domain"
	commissiondomain "github.com/smallbiznis/disburse/internal/commission/domain"
	"github.com/smallbiznis/disburse/internal/config"
	"github.com/smallbiznis/disburse/internal/observability"
	obsmiddleware "github.com/smallbiznis/disburse/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/disburse/internal/observability/metrics"
	obstracing "github.com/smallbiznis/disburse/internal/observability/tracing"
	"github.com/smallbiznis/disburse/internal/processor"
	risedomain "github.com/smallbiznis/disburse/internal/riseaccount/domain"
	webhookdomain "github.com/smallbiznis/disburse/internal/webhook/domain"
)

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
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	genID         *snowflake.Node
	batchSvc      batchdomain.Service
	commissionSvc commissiondomain.Service
	riseSvc       risedomain.Service
	auditSvc      auditdomain.Service
	webhookSvc    webhookdomain.Service
	processor     *processor.Processor
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	GenID         *snowflake.Node
	BatchSvc      batchdomain.Service
	CommissionSvc commissiondomain.Service
	RiseSvc       risedomain.Service
	AuditSvc      auditdomain.Service
	WebhookSvc    webhookdomain.Service
	Processor     *processor.Processor
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		batchSvc:      p.BatchSvc,
		commissionSvc: p.CommissionSvc,
		riseSvc:       p.RiseSvc,
		auditSvc:      p.AuditSvc,
		webhookSvc:    p.WebhookSvc,
		processor:     p.Processor,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerCronRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/rise", s.HandleRiseWebhook)
}

func (s *Server) registerCronRoutes() {
	cron := s.engine.Group("/cron", s.CronAuthRequired())

	cron.POST("/disbursements", s.RunDisbursements)
	cron.POST("/rise-sync", s.RunRiseSync)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AdminAuthRequired())

	// -------- Batches --------
	admin.POST("/batches/preview", s.PreviewBatch)
	admin.POST("/batches", s.CreateBatch)
	admin.GET("/batches", s.ListBatches)
	admin.GET("/batches/statistics", s.BatchStatistics)
	admin.GET("/batches/:id", s.GetBatchByID)
	admin.POST("/batches/:id/cancel", s.CancelBatch)

	// -------- Commissions --------
	admin.POST("/commissions/:id/approve", s.ApproveCommission)

	// -------- Rise accounts --------
	admin.POST("/rise-accounts", s.LinkRiseAccount)
	admin.GET("/rise-accounts/:affiliate_id", s.GetRiseAccount)

	admin.GET("/audit-logs", s.ListAuditLogs)
}
