package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tenantry/tenantry/internal/audit"
	auditdomain "github.com/tenantry/tenantry/internal/audit/domain"
	"github.com/tenantry/tenantry/internal/authorization"
	"github.com/tenantry/tenantry/internal/config"
	"github.com/tenantry/tenantry/internal/identity"
	identitydomain "github.com/tenantry/tenantry/internal/identity/domain"
	"github.com/tenantry/tenantry/internal/membership"
	membershipdomain "github.com/tenantry/tenantry/internal/membership/domain"
	"github.com/tenantry/tenantry/internal/observability"
	obsmiddleware "github.com/tenantry/tenantry/internal/observability/logger"
	obsmetrics "github.com/tenantry/tenantry/internal/observability/metrics"
	obstracing "github.com/tenantry/tenantry/internal/observability/tracing"
	"github.com/tenantry/tenantry/internal/organization"
	organizationdomain "github.com/tenantry/tenantry/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	identity.Module,
	organization.Module,
	membership.Module,
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	db              *gorm.DB
	genID           *snowflake.Node
	identitySvc     identitydomain.Service
	organizationSvc organizationdomain.Service
	membershipSvc   membershipdomain.Service
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	DB              *gorm.DB
	GenID           *snowflake.Node
	IdentitySvc     identitydomain.Service
	OrganizationSvc organizationdomain.Service
	MembershipSvc   membershipdomain.Service
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		db:              p.DB,
		genID:           p.GenID,
		identitySvc:     p.IdentitySvc,
		organizationSvc: p.OrganizationSvc,
		membershipSvc:   p.MembershipSvc,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/auth/register", s.Register)

	me := v1.Group("/me", s.PrincipalRequired())
	me.GET("/organizations", s.ListMyOrganizations)

	orgs := v1.Group("/organizations", s.PrincipalRequired())
	orgs.POST("", s.CreateOrganization)

	org := orgs.Group("/:id", s.OrgContext())
	org.GET("", s.GetOrganization)
	org.PATCH("", s.UpdateOrganization)
	org.DELETE("", s.DeleteOrganization)
	org.POST("/archive", s.ArchiveOrganization)
	org.POST("/restore", s.RestoreOrganization)
	org.POST("/transfer", s.TransferOwnership)

	org.GET("/members", s.ListMembers)
	org.POST("/members", s.AddMember)
	org.POST("/invitation/accept", s.AcceptInvitation)
	org.POST("/members/leave", s.LeaveOrganization)
	org.PATCH("/members/:userId", s.UpdateMemberRole)
	org.DELETE("/members/:userId", s.RemoveMember)

	org.GET("/audit-logs", s.ListAuditLogs)
}
