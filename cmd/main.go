package main

import (
  "context"
  "fmt"
  "net/http"
  "os"
  "os/signal"
  "syscall"
  "time"

  "golang.org/x/sync/errgroup"

  "github.com/planforge/planforge-backend/internal/db"
  "github.com/planforge/planforge-backend/internal/generation"
  "github.com/planforge/planforge-backend/internal/handlers"
  "github.com/planforge/planforge-backend/internal/logger"
  "github.com/planforge/planforge-backend/internal/middleware"
  "github.com/planforge/planforge-backend/internal/observability"
  provcfg "github.com/planforge/planforge-backend/internal/provider/config"
  provrouter "github.com/planforge/planforge-backend/internal/provider/router"
  "github.com/planforge/planforge-backend/internal/repos"
  "github.com/planforge/planforge-backend/internal/server"
  "github.com/planforge/planforge-backend/internal/services"
  "github.com/planforge/planforge-backend/internal/sse"
  "github.com/planforge/planforge-backend/internal/utils"
)

func main() {
  // Logger
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("Failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
  defer stop()

  // Env
  log.Info("Loading environment variables from main...")
  jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
  accessTokenTTL := utils.GetEnvAsDuration("ACCESS_TOKEN_TTL", 24*time.Hour, log)
  attemptCap := utils.GetEnvAsInt("PLAN_ATTEMPT_CAP", services.DefaultAttemptCap, log)
  genPerMinute := utils.GetEnvAsInt("GENERATION_RATE_PER_MINUTE", 6, log)
  genBurst := utils.GetEnvAsInt("GENERATION_RATE_BURST", 2, log)

  // Tracing
  otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
    ServiceName: "planforge",
    Environment: utils.GetEnv("ENVIRONMENT", "development", log),
    Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
  })

  // Postgres
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("Postgres init failed", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Warn("Postgres auto migration failed", "error", err)
  }
  thePG := postgresService.DB()

  // Repos
  log.Info("Setting up Repos from main...")
  userRepo := repos.NewUserRepo(thePG, log)
  planRepo := repos.NewPlanRepo(thePG, log)
  planAttemptRepo := repos.NewPlanAttemptRepo(thePG, log)
  planModuleRepo := repos.NewPlanModuleRepo(thePG, log)
  planTaskRepo := repos.NewPlanTaskRepo(thePG, log)

  // SSE
  log.Info("Setting up SSE hub now...")
  sseHub := sse.NewSSEHub(log)

  emitters := []services.SSEEmitter{&services.HubEmitter{Hub: sseHub}}
  if os.Getenv("REDIS_ADDR") != "" {
    bus, err := services.NewRedisSSEBus(log)
    if err != nil {
      log.Warn("Could not init RedisSSEBus; continuing with local hub only", "error", err)
    } else {
      defer bus.Close()
      if err := bus.StartForwarder(ctx, func(m sse.SSEMessage) { sseHub.Broadcast(m) }); err != nil {
        log.Warn("Could not start redis SSE forwarder", "error", err)
      }
      emitters = append(emitters, &services.BusEmitter{Bus: bus})
    }
  }
  emitter := &services.FanoutEmitter{Emitters: emitters}

  // Provider chain
  log.Info("Setting up provider chain from main...")
  chainCfg, err := provcfg.Load()
  if err != nil {
    log.Error("Could not load provider config", "error", err)
    os.Exit(1)
  }
  genRouter, err := provrouter.NewFromConfig(log, chainCfg)
  if err != nil {
    log.Error("Could not build provider router", "error", err)
    os.Exit(1)
  }

  // Services
  log.Info("Setting up Services from main...")
  authService := services.NewAuthService(thePG, log, userRepo, jwtSecretKey, accessTokenTTL)
  planService := services.NewPlanService(thePG, log, planRepo, planModuleRepo, planTaskRepo)
  ledgerService := services.NewAttemptLedgerService(thePG, log, attemptCap, planRepo, planAttemptRepo, planModuleRepo, planTaskRepo)
  rateLimiter := services.NewRateLimiterService(log, genPerMinute, genBurst)
  genService := services.NewPlanGenerationService(log, ledgerService, genRouter, generation.DefaultLimits(), emitter)

  // Handlers
  log.Info("Setting up handlers from main...")
  healthcheckHandler := handlers.NewHealthcheckHandler(thePG)
  authHandler := handlers.NewAuthHandler(authService)
  planHandler := handlers.NewPlanHandler(planService, ledgerService)
  planGenHandler := handlers.NewPlanGenHandler(genService, rateLimiter)
  eventsHandler := handlers.NewEventsHandler(sseHub)

  // Middleware
  log.Info("Setting up middleware from main...")
  authMiddleware := middleware.NewAuthMiddleware(log, authService)

  // Router
  log.Info("Setting up router from main...")
  router := server.NewRouter(server.RouterConfig{
    HealthcheckHandler: healthcheckHandler,
    AuthHandler:        authHandler,
    AuthMiddleware:     authMiddleware,
    PlanHandler:        planHandler,
    PlanGenHandler:     planGenHandler,
    EventsHandler:      eventsHandler,
  })

  port := utils.GetEnv("PORT", "8080", log)
  srv := &http.Server{
    Addr:    ":" + port,
    Handler: router,
  }

  g, gctx := errgroup.WithContext(ctx)
  g.Go(func() error {
    log.Info("Server listening", "port", port)
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
      return err
    }
    return nil
  })
  g.Go(func() error {
    <-gctx.Done()
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    if otelShutdown != nil {
      _ = otelShutdown(shutdownCtx)
    }
    return srv.Shutdown(shutdownCtx)
  })

  if err := g.Wait(); err != nil {
    log.Error("Server exited with error", "error", err)
    os.Exit(1)
  }
  log.Info("Server stopped cleanly")
}
