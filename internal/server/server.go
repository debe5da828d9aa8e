package server

import (
	"context"
	"net/http"
	"time"

	"github.com/baroworks/taxbill/internal/account"
	accountdomain "github.com/baroworks/taxbill/internal/account/domain"
	"github.com/baroworks/taxbill/internal/billing"
	billingdomain "github.com/baroworks/taxbill/internal/billing/domain"
	"github.com/baroworks/taxbill/internal/clock"
	"github.com/baroworks/taxbill/internal/config"
	"github.com/baroworks/taxbill/internal/issuance"
	issuancedomain "github.com/baroworks/taxbill/internal/issuance/domain"
	"github.com/baroworks/taxbill/internal/observability"
	obsmiddleware "github.com/baroworks/taxbill/internal/observability/logger"
	obsmetrics "github.com/baroworks/taxbill/internal/observability/metrics"
	obstracing "github.com/baroworks/taxbill/internal/observability/tracing"
	"github.com/baroworks/taxbill/internal/payment"
	paymentdomain "github.com/baroworks/taxbill/internal/payment/domain"
	"github.com/baroworks/taxbill/internal/quota"
	quotadomain "github.com/baroworks/taxbill/internal/quota/domain"
	"github.com/baroworks/taxbill/internal/ratelimit"
	"github.com/baroworks/taxbill/internal/redis"
	"github.com/baroworks/taxbill/internal/usage"
	usagedomain "github.com/baroworks/taxbill/internal/usage/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	fx.Provide(registerGin),
	account.Module,
	quota.Module,
	usage.Module,
	billing.Module,
	payment.Module,
	issuance.Module,
	redis.Module,
	ratelimit.Module,
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

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
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
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	clock  clock.Clock

	directory   accountdomain.Directory
	quotaSvc    quotadomain.Service
	usageSvc    usagedomain.Service
	billingSvc  billingdomain.Service
	paymentSvc  paymentdomain.Service
	issuanceSvc issuancedomain.Service
	limiter     *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	Clock clock.Clock

	Directory   accountdomain.Directory
	QuotaSvc    quotadomain.Service
	UsageSvc    usagedomain.Service
	BillingSvc  billingdomain.Service
	PaymentSvc  paymentdomain.Service
	IssuanceSvc issuancedomain.Service
	Limiter     *ratelimit.Limiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		clock:       p.Clock,
		directory:   p.Directory,
		quotaSvc:    p.QuotaSvc,
		usageSvc:    p.UsageSvc,
		billingSvc:  p.BillingSvc,
		paymentSvc:  p.PaymentSvc,
		issuanceSvc: p.IssuanceSvc,
		limiter:     p.Limiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.APIKeyRequired())

	api.GET("/quota", s.GetQuota)

	api.GET("/usage", s.ListUsage)
	api.GET("/usage/summary", s.GetUsageSummary)

	api.GET("/billing-cycles", s.ListBillingCycles)
	api.GET("/billing-cycles/:id", s.GetBillingCycleByID)
	api.POST("/billing-cycles/generate-now", s.GenerateBillingCycleNow)

	api.POST("/payments", s.RegisterPayment)
	api.GET("/payments", s.ListPayments)

	api.POST("/tax-invoices/issue", s.IssuanceRateLimit(), s.IssueTaxInvoice)
	api.GET("/tax-invoices", s.ListTaxInvoices)
	api.POST("/tax-invoices/:mgt_key/cancel", s.CancelTaxInvoice)
	api.GET("/tax-invoices/:mgt_key/state", s.GetTaxInvoiceState)

	api.POST("/corp-state", s.CorpStateRateLimit(), s.CheckCorpState)
}
