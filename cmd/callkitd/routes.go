package main

import (
	"callkit/internal/calling"
	"callkit/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to the
// orchestrator.
func registerRoutes(r *gin.Engine, orch *calling.Orchestrator) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	h := httpapi.Handlers{Orch: orch}

	v1 := r.Group("/v1")
	{
		v1.GET("/session", h.GetSession)
		v1.GET("/events", h.StreamEvents)

		callsGroup := v1.Group("/calls")
		{
			callsGroup.POST("", h.StartCall)
			callsGroup.POST("/group", h.StartGroupCall)
			callsGroup.POST("/cancel", h.Cancel)
			callsGroup.POST("/accept", h.Accept)
			callsGroup.POST("/reject", h.Reject)
			callsGroup.POST("/leave", h.Leave)
			callsGroup.POST("/hangup", h.Hangup)
			callsGroup.POST("/switch-type", h.SwitchCallType)
		}

		devices := v1.Group("/devices")
		{
			devices.GET("", h.ListDevices)
			devices.POST("/switch", h.SwitchDevice)
		}

		media := v1.Group("/media")
		{
			media.POST("/audio", h.MuteAudio)
			media.POST("/video", h.EnableVideo)
		}
	}
}
