package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"datapack-backend/config"
	"datapack-backend/internal/mw"
	"datapack-backend/internal/session"
	"datapack-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.ServerConfig, s store.Store, sessions *session.Manager, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, sessions, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/sessions/available", caching, handler.GetOptions)
		api.POST("/sessions/download", handler.StartDownload)
		api.GET("/sessions", handler.ListSessions)
		api.GET("/sessions/:session_id", handler.GetSession)
		api.POST("/sessions/:session_id/activate", handler.ActivateSession)
		api.POST("/sessions/:session_id/usage", handler.TrackUsage)

		api.GET("/allowances", handler.ListAllowances)
		api.GET("/allowances/summary", handler.GetAllowanceSummary)

		api.GET("/push_subscriptions", handler.GetSubscriptions)
		api.PUT("/push_subscriptions", handler.PutSubscription)
		api.DELETE("/push_subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
