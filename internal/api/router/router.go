package router

import (
	"github.com/cuongbtq/contact-validation/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	queueHandler := handler.NewQueueHandler(deps)

	r.GET("/health", queueHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/events - Enqueue a CRM change event
		v1.POST("/events", queueHandler.CreateEvent)

		queue := v1.Group("/queue")
		{
			// GET /api/v1/queue/stats - Counts per status and queue age markers
			queue.GET("/stats", queueHandler.GetStats)

			// GET /api/v1/queue/items - List items with filtering and pagination
			queue.GET("/items", queueHandler.ListItems)

			// GET /api/v1/queue/items/:id - Get item details
			queue.GET("/items/:id", queueHandler.GetItem)

			// POST /api/v1/queue/items/:id/retry - Reset a failed item for another run
			queue.POST("/items/:id/retry", queueHandler.RetryItem)
		}
	}

	return r
}
