package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	addondomain "github.com/stackforge/tenantry/internal/addon/domain"
	auditdomain "github.com/stackforge/tenantry/internal/audit/domain"
	"github.com/stackforge/tenantry/internal/authorization"
	"github.com/stackforge/tenantry/internal/clock"
	"github.com/stackforge/tenantry/internal/config"
	featuredomain "github.com/stackforge/tenantry/internal/feature/domain"
	"github.com/stackforge/tenantry/internal/gate"
	"github.com/stackforge/tenantry/internal/observability"
	obslogger "github.com/stackforge/tenantry/internal/observability/logger"
	obsmetrics "github.com/stackforge/tenantry/internal/observability/metrics"
	obstracing "github.com/stackforge/tenantry/internal/observability/tracing"
	paymentservice "github.com/stackforge/tenantry/internal/payment/service"
	plandomain "github.com/stackforge/tenantry/internal/plan/domain"
	subscriptiondomain "github.com/stackforge/tenantry/internal/subscription/domain"
	tenantdomain "github.com/stackforge/tenantry/internal/tenant/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, m *obsmetrics.Metrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(m))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger, m *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(obsCfg, log, m)
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	addonSvc        addondomain.Resolver
	featureSvc      featuredomain.Resolver
	tenantSvc       tenantdomain.Service
	auditSvc        auditdomain.Service
	webhooks        paymentservice.WebhookIngester
	gate            *gate.Gate
	clock           clock.Clock
}

func (s *Server) nowUTC() time.Time {
	return s.clock.Now().UTC()
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	AddonSvc        addondomain.Resolver
	FeatureSvc      featuredomain.Resolver
	TenantSvc       tenantdomain.Service
	AuditSvc        auditdomain.Service
	Webhooks        paymentservice.WebhookIngester
	Gate            *gate.Gate
	Clock           clock.Clock
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		addonSvc:        p.AddonSvc,
		featureSvc:      p.FeatureSvc,
		tenantSvc:       p.TenantSvc,
		auditSvc:        p.AuditSvc,
		webhooks:        p.Webhooks,
		gate:            p.Gate,
		clock:           p.Clock,
	}
}

func registerRoutes(s *Server) {
	api := s.engine.Group("/api")
	api.Use(AuthMiddleware(s.tenantSvc))

	// Public catalog surface; no tenant required.
	api.GET("/plans", s.ListPlans)
	api.POST("/quote", s.Quote)
	api.POST("/payments/webhooks/:provider", s.PaymentWebhook)

	authed := api.Group("")
	authed.Use(RequireIdentity())

	authed.POST("/tenants", s.CreateTenant)
	authed.POST("/tenants/api-keys", s.gate.Require(gate.Requirement{
		Object: authorization.ObjectTenant,
		Action: authorization.ActionTenantManage,
	}), s.IssueAPIKey)

	authed.GET("/subscription", s.GetSubscription)
	authed.POST("/select-plan", s.SelectPlan)
	authed.POST("/checkout/create", s.CreateCheckout)
	authed.POST("/checkout/start", s.StartCheckout)
	authed.POST("/checkout/verify", s.VerifyCheckout)

	change := s.gate.Require(gate.Requirement{
		Object: authorization.ObjectSubscription,
		Action: authorization.ActionSubscriptionChange,
	})
	authed.POST("/subscription/change", change, s.ChangeSubscription)
	authed.POST("/subscription/cancel-downgrade", change, s.CancelDowngrade)
	authed.POST("/subscription/cancel-pending-upgrade", change, s.CancelPendingUpgrade)
	authed.POST("/subscription/cancel", s.gate.Require(gate.Requirement{
		Object: authorization.ObjectSubscription,
		Action: authorization.ActionSubscriptionCancel,
	}), s.CancelSubscription)

	authed.GET("/entitlements/addons/:slug", s.CheckAddon)
	authed.GET("/entitlements/features/:code", s.CheckFeature)
	authed.GET("/entitlements/features", s.ListEffectiveFeatures)

	authed.GET("/addons", s.ListAddonCatalog)
	authed.GET("/addons/installed", s.ListInstalledAddons)
	authed.POST("/addons/:slug/install", s.gate.Require(gate.Requirement{
		Object: authorization.ObjectAddon,
		Action: authorization.ActionAddonInstall,
	}), s.InstallAddon)
	authed.POST("/addons/:slug/cancel", s.gate.Require(gate.Requirement{
		Object: authorization.ObjectAddon,
		Action: authorization.ActionAddonCancel,
	}), s.CancelAddon)

	override := s.gate.Require(gate.Requirement{
		Object: authorization.ObjectFeature,
		Action: authorization.ActionFeatureOverride,
	})
	authed.POST("/features/:code/override", override, s.SetFeatureOverride)
	authed.DELETE("/features/:code/override", override, s.ClearFeatureOverride)

	authed.GET("/audit-logs", s.gate.Require(gate.Requirement{
		Object: authorization.ObjectAuditLog,
		Action: authorization.ActionAuditLogView,
	}), s.ListAuditLogs)
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
