package httpapi

import (
	"context"
	"errors"
	"net/http"

	"callkit/internal/calling"
	"callkit/internal/calls"
	"callkit/internal/rtc"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the orchestrator, return JSON.

type Handlers struct {
	Orch *calling.Orchestrator
}

type callRequest struct {
	Callee   string `json:"callee"`
	CallType int    `json:"call_type"`
}

func (h Handlers) StartCall(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	err := h.Orch.Call(c.Request.Context(), req.Callee, calls.CallType(req.CallType))
	if err != nil {
		abortWithCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Orch.Session())
}

type groupCallRequest struct {
	Callees  []string `json:"callees"`
	CallType int      `json:"call_type"`
	GroupID  string   `json:"group_id,omitempty"`
}

func (h Handlers) StartGroupCall(c *gin.Context) {
	var req groupCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	err := h.Orch.GroupCall(c.Request.Context(), req.Callees, calls.CallType(req.CallType), req.GroupID)
	if err != nil {
		abortWithCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Orch.Session())
}

func (h Handlers) Cancel(c *gin.Context) { h.simple(c, h.Orch.Cancel) }
func (h Handlers) Accept(c *gin.Context) { h.simple(c, h.Orch.Accept) }
func (h Handlers) Reject(c *gin.Context) { h.simple(c, h.Orch.Reject) }
func (h Handlers) Leave(c *gin.Context)  { h.simple(c, h.Orch.Leave) }
func (h Handlers) Hangup(c *gin.Context) { h.simple(c, h.Orch.Hangup) }

type switchTypeRequest struct {
	CallType int `json:"call_type"`
}

func (h Handlers) SwitchCallType(c *gin.Context) {
	var req switchTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Orch.SwitchCallType(c.Request.Context(), calls.CallType(req.CallType)); err != nil {
		abortWithCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Orch.Session())
}

func (h Handlers) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orch.Session())
}

// --- Devices & media passthroughs ---

func (h Handlers) ListDevices(c *gin.Context) {
	devs, err := h.Orch.Devices(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, devs)
}

type switchDeviceRequest struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

func (h Handlers) SwitchDevice(c *gin.Context) {
	var req switchDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	var err error
	switch typ := rtc.DeviceType(req.Type); typ {
	case rtc.DeviceSpeaker:
		err = h.Orch.SelectSpeakers(c.Request.Context(), req.DeviceID)
	case rtc.DeviceMicrophone, rtc.DeviceCamera:
		err = h.Orch.SwitchDevice(c.Request.Context(), typ, req.DeviceID)
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown device type"})
		return
	}
	if err != nil {
		abortWithCallError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type muteRequest struct {
	Mute    bool   `json:"mute"`
	Account string `json:"account,omitempty"`
}

func (h Handlers) MuteAudio(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	var err error
	if req.Account == "" {
		err = h.Orch.MuteLocalAudio(c.Request.Context(), req.Mute)
	} else {
		err = h.Orch.SetAudioMute(c.Request.Context(), req.Mute, req.Account)
	}
	if err != nil {
		abortWithCallError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type videoRequest struct {
	Enabled bool `json:"enabled"`
}

func (h Handlers) EnableVideo(c *gin.Context) {
	var req videoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Orch.EnableLocalVideo(c.Request.Context(), req.Enabled); err != nil {
		abortWithCallError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// simple runs a bodyless session operation and returns the new snapshot.
func (h Handlers) simple(c *gin.Context, op func(ctx context.Context) error) {
	if err := op(c.Request.Context()); err != nil {
		abortWithCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Orch.Session())
}

func abortWithCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calling.ErrInvalidCallType),
		errors.Is(err, calling.ErrNoCallees),
		errors.Is(err, calling.ErrSwitchUnsupported):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, calling.ErrBusy),
		errors.Is(err, calling.ErrNoActiveCall),
		errors.Is(err, calling.ErrNoPendingInvite):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
