package call

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pair-backend/internal/domain"
	callservice "pair-backend/internal/service/call"
	"pair-backend/pkg/response"
)

// Handler handles call lifecycle HTTP requests
type Handler struct {
	callService *callservice.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *callservice.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// StartCallRequest represents a call start request
type StartCallRequest struct {
	GroupID  string `json:"group_id" binding:"required,uuid"`
	CallType string `json:"call_type" binding:"required,oneof=voice video"`
}

// UpdateMediaRequest represents a participant media state update
type UpdateMediaRequest struct {
	IsMuted   bool `json:"is_muted"`
	IsVideoOn bool `json:"is_video_on"`
}

// StartCall starts a call for a group, or returns the existing active one
// POST /v1/calls
func (h *Handler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groupID, err := uuid.Parse(req.GroupID)
	if err != nil {
		response.ValidationError(c, "Invalid group ID")
		return
	}

	call, err := h.callService.StartCall(c.Request.Context(), groupID, userID, domain.CallType(req.CallType))
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, call)
}

// JoinCall adds the caller to the call roster and returns the roster
// POST /v1/calls/:id/join
func (h *Handler) JoinCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	roster, err := h.callService.JoinCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"call_id": callID,
		"roster":  roster,
	})
}

// LeaveCall removes the caller from the roster; the last participant
// leaving ends the call
// POST /v1/calls/:id/leave
func (h *Handler) LeaveCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.callService.LeaveCall(c.Request.Context(), callID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Left call",
		"call_id": callID,
	})
}

// EndCall ends the call for every participant. Initiator only.
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.callService.EndCall(c.Request.Context(), callID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Call ended",
		"call_id": callID,
	})
}

// GetCall returns the call record with its current roster
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	view, err := h.callService.GetCallView(c.Request.Context(), callID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// UpdateMedia persists the caller's mute/video state
// PATCH /v1/calls/:id/media
func (h *Handler) UpdateMedia(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req UpdateMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.callService.SetParticipantMedia(c.Request.Context(), callID, userID, req.IsMuted, req.IsVideoOn); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"call_id":     callID,
		"is_muted":    req.IsMuted,
		"is_video_on": req.IsVideoOn,
	})
}

// GetGroupCalls returns a group's call history, newest first
// GET /v1/groups/:id/calls?limit=20&offset=0
func (h *Handler) GetGroupCalls(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid group ID")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	calls, err := h.callService.GetCallHistory(c.Request.Context(), groupID, limit, offset)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"group_id": groupID,
		"calls":    calls,
	})
}

func callIDParam(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return callID, true
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}

	return userID, true
}
