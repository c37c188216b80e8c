// router/router.go

package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aria7-op/adcg-engine/controller"
	"github.com/aria7-op/adcg-engine/middleware"
)

func SetupRouter(
	engineController *controller.EngineController,
	limiter middleware.Limiter,
	rateLimitRequests int,
	rateLimitDuration time.Duration,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	if limiter != nil {
		router.Use(middleware.RateLimiter(limiter, rateLimitRequests, rateLimitDuration))
	}

	api := router.Group("/api/v1")

	engineController.RegisterRoutes(api)

	return router
}
