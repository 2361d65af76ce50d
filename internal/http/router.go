// Package http wires the Gin router for the authentication endpoints.
package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/lumenchat/lumen-auth/internal/config"
	"github.com/lumenchat/lumen-auth/internal/http/handler"
	httpmiddleware "github.com/lumenchat/lumen-auth/internal/http/middleware"
	"github.com/lumenchat/lumen-auth/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, oauthHandler *handler.OAuthHandler, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	oauthGroup := r.Group("/oauth")
	{
		oauthGroup.GET("/providers", oauthHandler.ListProviders)
		oauthGroup.GET("/:provider/login", oauthHandler.Login)
		oauthGroup.GET("/:provider/callback", oauthHandler.Callback)
		// Legacy callback path kept for already-registered provider apps.
		oauthGroup.GET("/:provider/login/callback", oauthHandler.Callback)
	}

	return r
}
