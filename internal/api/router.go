package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"asset-monitor-backend/config"
	"asset-monitor-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, handler *Handler) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Archives are immutable.
	caching := mw.NewResponseCache(time.Duration(cfg.CacheTTLSeconds) * time.Second).Middleware()

	r.GET("/healthz", handler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/events", handler.PostEvents)
		api.GET("/events", handler.GetEvents)
		api.GET("/events/stream", handler.StreamEvents)

		api.GET("/assets", handler.ListAssets)
		api.GET("/assets/:id/state", handler.GetAssetState)
		api.GET("/aggregate", handler.GetAggregate)

		api.POST("/shifts", handler.OpenShift)
		api.GET("/shifts", handler.ListShifts)
		api.GET("/shifts/:id", handler.GetShift)
		api.POST("/shifts/:id/close", handler.CloseShift)
		api.DELETE("/shifts/:id", handler.DeleteShift)
		api.PUT("/shifts/:id/production", handler.PutProduction)
		api.GET("/shifts/:id/report", handler.GetShiftReport)
		api.POST("/shifts/:id/archive", handler.ArchiveShift)

		api.GET("/archives", handler.ListArchives)
		api.GET("/archives/:id", caching, handler.GetArchive)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
