package routes

import (
	"lifeline/controllers"
	"lifeline/database"
	"lifeline/middleware"
	"lifeline/utils"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// SetupRoutes wires the HTTP surface: lifecycle operations, responder
// acknowledgment, and delivery visibility.
func SetupRoutes(
	environment string,
	emergencyController *controllers.EmergencyController,
	authMiddleware *middleware.AuthMiddleware,
) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.DefaultLoggerMiddleware())
	router.Use(middleware.CORSMiddleware(environment))

	router.GET("/health", healthCheck)

	v1 := router.Group("/api/v1")
	{
		// Device triggers authenticate with a device credential rather than
		// a user token, so they sit outside the user auth group.
		v1.POST("/emergencies/device-trigger", emergencyController.TriggerFromDevice)

		authed := v1.Group("")
		authed.Use(authMiddleware.RequireAuth())
		{
			authed.POST("/emergencies", emergencyController.TriggerEmergency)
			authed.GET("/emergencies", emergencyController.GetEmergencyHistory)
			authed.GET("/emergencies/:emergencyId", emergencyController.GetEmergency)
			authed.POST("/emergencies/:emergencyId/cancel", emergencyController.CancelEmergency)
			authed.POST("/emergencies/:emergencyId/resolve", emergencyController.ResolveEmergency)
			authed.POST("/emergencies/:emergencyId/acknowledge", emergencyController.AcknowledgeEmergency)
			authed.GET("/emergencies/:emergencyId/escalation", emergencyController.GetEscalationStatus)

			authed.GET("/batches/:batchId", emergencyController.GetBatchStatus)
			authed.GET("/workers/stats", emergencyController.GetWorkerStats)
		}
	}

	return router
}

func healthCheck(c *gin.Context) {
	services := map[string]string{
		"database": "healthy",
	}
	if !database.IsConnected() {
		services["database"] = "unhealthy"
	}

	response := utils.HealthCheckResponse(services, "1.0.0", time.Since(startTime).Round(time.Second).String())
	c.JSON(200, response)
}
