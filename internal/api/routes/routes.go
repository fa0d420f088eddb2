package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/gocomet/club-rides/internal/api/handlers"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, nrApp *newrelic.Application) {
	// Add New Relic middleware if enabled
	if nrApp != nil {
		r.Use(nrgin.Middleware(nrApp))
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy"})
	})

	// API v1 routes, all behind the trusted-identity check
	v1 := r.Group("/v1", handlers.RequireActor())
	{
		clubs := v1.Group("/clubs")
		{
			clubs.POST("/:clubId/rides", h.CreateRide)
		}

		rides := v1.Group("/rides")
		{
			rides.GET("/:id", h.GetRide)
			rides.POST("/:id/publish", h.PublishRide)
			rides.POST("/:id/cancel", h.CancelRide)
			rides.POST("/:id/join", h.JoinRide)
			rides.POST("/:id/leave", h.LeaveRide)
		}

		users := v1.Group("/users")
		{
			users.GET("/me/rides", h.GetMyRides)
		}
	}
}
