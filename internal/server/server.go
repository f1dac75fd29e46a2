package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
	auditdomain "github.com/smallbiznis/referrals/internal/audit/domain"
	"github.com/smallbiznis/referrals/internal/auth"
	authservice "github.com/smallbiznis/referrals/internal/auth/service"
	"github.com/smallbiznis/referrals/internal/authorization"
	commissiondomain "github.com/smallbiznis/referrals/internal/commission/domain"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/observability"
	obsmiddleware "github.com/smallbiznis/referrals/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	obstracing "github.com/smallbiznis/referrals/internal/observability/tracing"
	partnerdomain "github.com/smallbiznis/referrals/internal/partner/domain"
	paymentdomain "github.com/smallbiznis/referrals/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/referrals/internal/payout/domain"
	"github.com/smallbiznis/referrals/internal/ratelimit"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	signupdomain "github.com/smallbiznis/referrals/internal/signup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine          *gin.Engine
	cfg             config.Config
	verifier        *authservice.Verifier
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	partnerSvc      partnerdomain.Service
	codeSvc         codedomain.Service
	attributionSvc  attributiondomain.Service
	commissionSvc   commissiondomain.Service
	payoutSvc       payoutdomain.Service
	paymentSvc      paymentdomain.Service
	signupSvc       signupdomain.Service
	attributeLimits *ratelimit.AttributeLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Verifier       *authservice.Verifier
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service
	PartnerSvc     partnerdomain.Service
	CodeSvc        codedomain.Service
	AttributionSvc attributiondomain.Service
	CommissionSvc  commissiondomain.Service
	PayoutSvc      payoutdomain.Service
	PaymentSvc     paymentdomain.Service
	SignupSvc      signupdomain.Service
	AttributeLimit *ratelimit.AttributeLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics         `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		verifier:        p.Verifier,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		partnerSvc:      p.PartnerSvc,
		codeSvc:         p.CodeSvc,
		attributionSvc:  p.AttributionSvc,
		commissionSvc:   p.CommissionSvc,
		payoutSvc:       p.PayoutSvc,
		paymentSvc:      p.PaymentSvc,
		signupSvc:       p.SignupSvc,
		attributeLimits: p.AttributeLimit,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Public --------
	api.GET("/referrals/codes/:code", s.LookupCode)
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)

	authed := api.Group("", auth.IdentityRequired(s.verifier))

	// -------- Referral capture --------
	authed.POST("/referrals/attribute", s.AttributeRateLimit(), s.Attribute)
	authed.POST("/signup/complete", s.CompleteSignup)

	// -------- Partner self-service --------
	authed.POST("/partners", s.ApplyPartner)
	me := authed.Group("/partners/me")
	{
		me.GET("", s.GetMyPartner)
		me.POST("/codes", s.RegisterMyCode)
		me.GET("/codes", s.ListMyCodes)
		me.POST("/codes/:code/disable", s.DisableMyCode)
		me.GET("/commissions", s.ListMyCommissions)
		me.GET("/commissions/summary", s.MyCommissionSummary)
		me.GET("/attributions", s.ListMyAttributions)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", auth.IdentityRequired(s.verifier))

	// -------- Partners --------
	admin.GET("/partners", s.authorizeAction(authorization.ActionPartnerReview), s.ListPartners)
	admin.GET("/partners/:id", s.authorizeAction(authorization.ActionPartnerReview), s.GetPartner)
	admin.POST("/partners/:id/approve", s.authorizeAction(authorization.ActionPartnerReview), s.ApprovePartner)
	admin.POST("/partners/:id/reject", s.authorizeAction(authorization.ActionPartnerReview), s.RejectPartner)
	admin.POST("/partners/:id/suspend", s.authorizeAction(authorization.ActionPartnerManage), s.transitionPartner(s.partnerSvc.Suspend))
	admin.POST("/partners/:id/deactivate", s.authorizeAction(authorization.ActionPartnerManage), s.transitionPartner(s.partnerSvc.Deactivate))
	admin.POST("/partners/:id/terminate", s.authorizeAction(authorization.ActionPartnerManage), s.transitionPartner(s.partnerSvc.Terminate))
	admin.POST("/partners/:id/reactivate", s.authorizeAction(authorization.ActionPartnerManage), s.transitionPartner(s.partnerSvc.Reactivate))
	admin.PATCH("/partners/:id/rate", s.authorizeAction(authorization.ActionPartnerManage), s.UpdatePartnerRate)
	admin.POST("/partners/:id/recompute", s.authorizeAction(authorization.ActionPartnerManage), s.RecomputePartnerStats)

	// -------- Codes --------
	admin.GET("/codes/:code", s.authorizeAction(authorization.ActionCodeManage), s.InspectCode)
	admin.POST("/codes/:code/disable", s.authorizeAction(authorization.ActionCodeManage), s.DisableCode)

	// -------- Commissions --------
	admin.GET("/commissions/:paymentId", s.authorizeAction(authorization.ActionCommissionManage), s.GetCommission)
	admin.POST("/commissions/:paymentId/reverse", s.authorizeAction(authorization.ActionCommissionManage), s.ReverseCommission)

	// -------- Payouts --------
	admin.GET("/payouts", s.authorizeAction(authorization.ActionPayoutManage), s.ListPayouts)
	admin.POST("/payouts", s.authorizeAction(authorization.ActionPayoutManage), s.CreatePayout)
	admin.GET("/payouts/:id", s.authorizeAction(authorization.ActionPayoutManage), s.GetPayout)
	admin.POST("/payouts/:id/paid", s.authorizeAction(authorization.ActionPayoutManage), s.MarkPayoutPaid)

	// -------- Audit --------
	admin.GET("/audit_logs", s.authorizeAction(authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
