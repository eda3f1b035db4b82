package http

import (
	"github.com/gin-gonic/gin"

	"github.com/veracity-ops/veracity/internal/api/http/handler"
	"github.com/veracity-ops/veracity/internal/api/http/middleware"
	"github.com/veracity-ops/veracity/internal/auth"
	"github.com/veracity-ops/veracity/internal/credentials"
	"github.com/veracity-ops/veracity/internal/deploy"
	"github.com/veracity-ops/veracity/internal/inventory"
	"github.com/veracity-ops/veracity/internal/orphan"
	"github.com/veracity-ops/veracity/internal/users"
)

type Services struct {
	Auth         *auth.Service
	AuthConfig   auth.Config
	Users        *users.Service
	Credentials  *credentials.Service
	Inventory    *inventory.Service
	Orchestrator *deploy.Orchestrator
	Sweeper      *orphan.Sweeper
}

func SetupRoute(engine *gin.Engine, cfg Config, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	authHandler := handler.NewAuthHandler(srvs.Auth)
	credHandler := handler.NewCredentialsHandler(srvs.Credentials)
	deployHandler := handler.NewDeploymentsHandler(srvs.Orchestrator, srvs.Credentials)
	serversHandler := handler.NewServersHandler(srvs.Inventory)
	adminHandler := handler.NewAdminHandler(srvs.Users, srvs.Sweeper)

	v1 := engine.Group("/api/v1")

	v1.POST("/auth/register", authHandler.Register)
	v1.POST("/auth/login", authHandler.Login)

	authed := v1.Group("", middleware.JWTAuth(srvs.AuthConfig.Secret))
	{
		authed.GET("/credentials", credHandler.ListCredentials)
		authed.POST("/credentials", credHandler.CreateCredential)
		authed.GET("/credentials/:id", credHandler.GetCredential)
		authed.PUT("/credentials/:id", credHandler.UpdateCredential)
		authed.DELETE("/credentials/:id", middleware.RequireRole("admin"), credHandler.DeleteCredential)
		authed.POST("/credentials/:id/enabled", credHandler.SetEnabled)
		authed.POST("/credentials/:id/deploy", deployHandler.Deploy)

		authed.GET("/servers", serversHandler.ListServers)
		authed.GET("/servers/:id", serversHandler.GetServer)
	}

	admin := v1.Group("/admin", middleware.APIKeyAuth(cfg.AdminAPIKey))
	{
		admin.GET("/users", adminHandler.ListUsers)
		admin.POST("/users", adminHandler.CreateUser)
		admin.DELETE("/users/:id", adminHandler.DeleteUser)
		admin.POST("/orphans/sweep", adminHandler.SweepOrphans)
	}
}
