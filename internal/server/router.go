package server

import (
  "github.com/gin-contrib/cors"
  "github.com/gin-gonic/gin"
  "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

  "github.com/planforge/planforge-backend/internal/handlers"
  "github.com/planforge/planforge-backend/internal/middleware"
)

type RouterConfig struct {
  HealthcheckHandler *handlers.HealthcheckHandler
  AuthHandler        *handlers.AuthHandler
  AuthMiddleware     *middleware.AuthMiddleware
  PlanHandler        *handlers.PlanHandler
  PlanGenHandler     *handlers.PlanGenHandler
  EventsHandler      *handlers.EventsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.New()
  router.Use(gin.Logger(), gin.Recovery())
  router.Use(otelgin.Middleware("planforge"))

  // Cors
  router.Use(cors.New(cors.Config{
    AllowOrigins: []string{
      "http://localhost:80",
      "http://localhost:3000",
      "http://localhost:5174",
    },
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))

  // ===============
  // || Public    ||
  // ===============
  router.GET("/healthcheck", cfg.HealthcheckHandler.Healthz)
  api := router.Group("/api")
  {
    api.POST("/auth/register", cfg.AuthHandler.Register)
    api.POST("/auth/login", cfg.AuthHandler.Login)
  }

  // ===============
  // || Protected ||
  // ===============
  protected := api.Group("/")
  protected.Use(cfg.AuthMiddleware.RequireAuth())
  // Plans
  protected.POST("/plans", cfg.PlanHandler.Create)
  protected.GET("/plans", cfg.PlanHandler.List)
  protected.GET("/plans/:id", cfg.PlanHandler.Get)
  protected.GET("/plans/:id/attempts", cfg.PlanHandler.ListAttempts)
  protected.POST("/plans/:id/generate", cfg.PlanGenHandler.Generate)
  // SSE
  protected.GET("/events", cfg.EventsHandler.Subscribe)

  return router
}
