package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aria7-op/adcg-engine/audit"
	"github.com/aria7-op/adcg-engine/bus"
	"github.com/aria7-op/adcg-engine/client"
	"github.com/aria7-op/adcg-engine/config"
	"github.com/aria7-op/adcg-engine/controller"
	logger "github.com/aria7-op/adcg-engine/logging"
	"github.com/aria7-op/adcg-engine/rbac"
	"github.com/aria7-op/adcg-engine/router"
	"github.com/aria7-op/adcg-engine/store"
	"github.com/aria7-op/adcg-engine/workflow"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	// Initialize logger
	logger.InitLogger(config.GetString("log.dir"))
	defer logger.Sync()

	// Initialize Redis-backed session store
	redisStore, err := store.NewRedisStore(config.GetString("redis.addr"), config.GetDuration("redis.sessionTTL"))
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisStore.Close()

	// Initialize the access log collector
	auditRepository, err := audit.NewElasticsearchRepository(config.GetString("elasticsearch.url"))
	if err != nil {
		logger.Fatal("Failed to initialize Elasticsearch repository", zap.Error(err))
	}
	auditService := audit.NewService(auditRepository, config.GetInt("engine.accessLogSize"))

	// Initialize the identity backend client
	identityClient := client.NewIdentityClient(config.GetString("identity.baseURL"), os.Getenv("IDENTITY_TOKEN"))

	// Initialize the permission engine
	permEngine := rbac.NewEngine(identityClient, redisStore, auditService,
		rbac.WithSyncInterval(config.GetDuration("engine.syncInterval")))

	// Initialize the event bus
	eventBus := bus.NewEventBus(config.GetInt("engine.eventHistory"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventBus.Start(ctx)

	// Initialize the workflow engine and hook it into the bus
	wfEngine := workflow.NewEngine(&workflow.Runtime{
		Backend: client.NewRESTClient(os.Getenv("BACKEND_TOKEN")),
		Perms:   permEngine,
		Bus:     eventBus,
	}, config.GetInt("engine.archiveSize"),
		workflow.WithStepTimeout(config.GetDuration("engine.stepTimeout")))
	eventBus.RegisterHook(wfEngine)

	// Initialize controllers
	engineController := controller.NewEngineController(eventBus, wfEngine, permEngine, auditService)

	// Set up Gin
	gin.SetMode(gin.ReleaseMode)
	r := router.SetupRouter(engineController, redisStore, 100, time.Minute) // 100 requests per minute

	// Set up the server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", config.GetString("server.port")),
		Handler: r,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", config.GetString("server.port")))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	permEngine.Shutdown(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
