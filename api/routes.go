package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/draftsync/api/middleware"
	"github.com/customeros/draftsync/api/rest/handlers"
	"github.com/customeros/draftsync/api/rest/handlers/drafts"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/tracing"
)

const AppSource = "draftsync-api"

type RouteConfig struct {
	APIKey  string
	Handler drafts.Config
}

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, service drafts.DraftService, queue interfaces.JobQueue, cfg RouteConfig) {
	if service == nil {
		panic("draft service cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))
	r.Use(middleware.RequestIdMiddleware())

	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(queue))

	draftsHandler := drafts.NewDraftsHandler(service, cfg.Handler)

	api := r.Group("/v1")
	api.Use(middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  middleware.HeaderAPIKey,
		ValidAPIKey: cfg.APIKey,
	}))
	api.Use(middleware.OwnerMiddleware())
	api.Use(middleware.CustomContextMiddleware(AppSource))
	api.Use(middleware.TracingMiddleware())
	{
		d := api.Group("/drafts")
		{
			d.POST("", draftsHandler.Create())
			d.GET("", draftsHandler.List())
			d.GET("/:id", draftsHandler.Get())
			d.PUT("/:id", draftsHandler.Update())
			d.DELETE("/:id", draftsHandler.Delete())
			d.POST("/:id/sync", draftsHandler.Sync())
			d.POST("/:id/send", draftsHandler.Send())
			d.GET("/:id/attachments", draftsHandler.ListAttachments())
			d.POST("/:id/attachments", draftsHandler.AddAttachment())
			d.DELETE("/:id/attachments/:attachmentId", draftsHandler.DeleteAttachment())
			d.GET("/:id/state", draftsHandler.State())
			d.GET("/:id/state/stream", draftsHandler.StateStream())
		}
	}
}
