package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scolarium/scolarium/internal/anomaly"
	anomalydomain "github.com/scolarium/scolarium/internal/anomaly/domain"
	"github.com/scolarium/scolarium/internal/billing"
	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	"github.com/scolarium/scolarium/internal/config"
	"github.com/scolarium/scolarium/internal/importer"
	importerdomain "github.com/scolarium/scolarium/internal/importer/domain"
	"github.com/scolarium/scolarium/internal/ledger"
	ledgerdomain "github.com/scolarium/scolarium/internal/ledger/domain"
	"github.com/scolarium/scolarium/internal/notify"
	"github.com/scolarium/scolarium/internal/risk"
	riskdomain "github.com/scolarium/scolarium/internal/risk/domain"
	"github.com/scolarium/scolarium/internal/rollover"
	rolloverdomain "github.com/scolarium/scolarium/internal/rollover/domain"
	"github.com/scolarium/scolarium/internal/schedule"
	scheduledomain "github.com/scolarium/scolarium/internal/schedule/domain"
	"github.com/scolarium/scolarium/internal/statussync"
	statussyncdomain "github.com/scolarium/scolarium/internal/statussync/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	notify.Module,
	billing.Module,
	ledger.Module,
	schedule.Module,
	statussync.Module,
	importer.Module,
	risk.Module,
	anomaly.Module,
	rollover.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin() *gin.Engine {
	return NewEngine()
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
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
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	billingSvc  billingdomain.Service
	ledgerSvc   ledgerdomain.Service
	scheduleSvc scheduledomain.Service
	syncSvc     statussyncdomain.Service
	importerSvc importerdomain.Service
	riskSvc     riskdomain.Service
	anomalySvc  anomalydomain.Service
	rolloverSvc rolloverdomain.Service
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	BillingSvc  billingdomain.Service
	LedgerSvc   ledgerdomain.Service
	ScheduleSvc scheduledomain.Service
	SyncSvc     statussyncdomain.Service
	ImporterSvc importerdomain.Service
	RiskSvc     riskdomain.Service
	AnomalySvc  anomalydomain.Service
	RolloverSvc rolloverdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		log:         p.Log.Named("http"),
		genID:       p.GenID,
		billingSvc:  p.BillingSvc,
		ledgerSvc:   p.LedgerSvc,
		scheduleSvc: p.ScheduleSvc,
		syncSvc:     p.SyncSvc,
		importerSvc: p.ImporterSvc,
		riskSvc:     p.RiskSvc,
		anomalySvc:  p.AnomalySvc,
		rolloverSvc: p.RolloverSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Billing records --------
	api.GET("/billing-records", s.ListBillingRecords)
	api.GET("/billing-records/:id", s.GetBillingRecord)
	api.GET("/billing-records/:id/balance", s.GetBalance)
	api.POST("/billing-records/:id/close", s.CloseBillingRecord)

	// -------- Installment schedule --------
	api.GET("/billing-records/:id/schedule", s.ListInstallments)
	api.POST("/billing-records/:id/schedule", s.GenerateSchedule)

	// -------- Risk --------
	api.POST("/billing-records/:id/risk", s.EvaluateRisk)
	api.GET("/billing-records/:id/risk", s.GetLatestRisk)

	// -------- Payments --------
	api.POST("/payments", s.CreatePayment)
	api.POST("/payments/:id/status", s.TransitionPayment)

	// -------- Imports --------
	api.POST("/imports", s.RunImport)
	api.GET("/imports/:reference", s.GetImport)

	// -------- Sweeps --------
	api.POST("/sweeps/installments", s.SweepInstallments)

	// -------- Anomalies --------
	api.GET("/anomalies", s.ListAnomalies)
	api.POST("/anomalies/scan", s.ScanAnomalies)
	api.POST("/anomalies/:id/resolve", s.ResolveAnomaly)
	api.POST("/anomalies/:id/ignore", s.IgnoreAnomaly)

	// -------- Year rollover --------
	api.POST("/rollover/graduate", s.GraduateYear)
	api.POST("/rollover/promote", s.PromoteYear)
}
