package routes

import (
	"github.com/gin-gonic/gin"

	"stockstream/controllers"
	"stockstream/middleware"
	"stockstream/services"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine) {
	// Initialize controllers
	marketController := controllers.NewMarketController(services.GlobalQuoteService, services.GlobalStreamService)

	// WebSocket stream endpoint, outside the REST middleware chain
	router.GET("/ws/market-data", func(c *gin.Context) {
		services.GlobalStreamService.HandleWebSocket(c.Writer, c.Request)
	})

	// API v1 group
	api := router.Group("/api/v1")
	api.Use(middleware.APIRateLimitMiddleware())
	{
		// Stock routes
		stocks := api.Group("/stocks")
		{
			stocks.GET("/:symbol/quote", marketController.GetQuote)
			stocks.GET("/:symbol/history", marketController.GetHistory)
		}

		// Market routes
		market := api.Group("/market")
		{
			market.GET("/indices", marketController.GetIndices)
			market.GET("/trending", marketController.GetTrending)
		}

		// Stream routes
		stream := api.Group("/stream")
		{
			stream.GET("/status", marketController.StreamStatus)
		}
	}
}
