package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agrimrv/backend/internal/auth"
	"github.com/agrimrv/backend/internal/config"
	"github.com/agrimrv/backend/internal/http/handlers"
	"github.com/agrimrv/backend/internal/http/middleware"
	"github.com/agrimrv/backend/internal/version"
)

type Dependencies struct {
	Pinger        handlers.Pinger
	Gatherer      prometheus.Gatherer
	JWTManager    *auth.JWTManager
	FarmerHandler *handlers.FarmerHandler
	AnchorHandler *handlers.AnchorHandler
	OffersHandler *handlers.OffersHandler
	AdminHandler  *handlers.AdminHandler
}

func NewRouter(cfg config.Config, logger *slog.Logger, deps Dependencies) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		attrs := []any{"method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(), "took", time.Since(start).String()}
		if len(c.Errors) > 0 {
			logger.Error("request", append(attrs, "err", c.Errors.String())...)
			return
		}
		logger.Info("request", attrs...)
	})
	r.Use(middleware.RequestBodyLimit(cfg.RequestBodyLimitBytes))

	health := handlers.NewHealthHandler(deps.Pinger)
	meta := handlers.NewMetaHandler(cfg.Env, version.Version, cfg.LedgerChainID)

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/v1/meta", meta.GetMeta)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	if deps.JWTManager != nil {
		v1 := r.Group("/v1")
		v1.Use(middleware.RequireAuth(deps.JWTManager))

		if deps.FarmerHandler != nil {
			v1.POST("/farmers", middleware.RequireRole(auth.RoleAdmin, auth.RoleService), deps.FarmerHandler.Create)
		}

		farmerGroup := v1.Group("/farmers/:farmerId")
		farmerGroup.Use(middleware.RequireFarmerScope())
		if deps.FarmerHandler != nil {
			farmerGroup.GET("", deps.FarmerHandler.Get)
			farmerGroup.PATCH("", deps.FarmerHandler.UpdateContact)
			farmerGroup.POST("/seasons", deps.FarmerHandler.AddSeason)
			farmerGroup.PATCH("/seasons/:seasonId", deps.FarmerHandler.UpdateSeasonStatus)
		}
		if deps.AnchorHandler != nil {
			farmerGroup.POST("/anchor", deps.AnchorHandler.RequestAnchor)
			farmerGroup.GET("/anchor", deps.AnchorHandler.GetAnchorStatus)
			farmerGroup.GET("/anchor/history", deps.AnchorHandler.History)
		}
		if deps.OffersHandler != nil {
			farmerGroup.GET("/offers", deps.OffersHandler.GetEligibleOffers)
		}

		if deps.AdminHandler != nil {
			adminGroup := r.Group("/admin")
			adminGroup.Use(middleware.RequireAuth(deps.JWTManager), middleware.RequireRole(auth.RoleAdmin))
			adminGroup.GET("/system/health", deps.AdminHandler.SystemHealth)
			adminGroup.POST("/offers", deps.AdminHandler.PublishOffer)
			adminGroup.POST("/offers/:offerId/deactivate", deps.AdminHandler.DeactivateOffer)
			adminGroup.GET("/audit", deps.AdminHandler.AuditLog)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	return r
}
