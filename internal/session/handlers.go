package session

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/optrelay/signal-relay/pkg/response"
)

// GinHandlers contains HTTP handlers for session lifecycle endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// StartSessionHandler handles POST requests to start a user's trading session
// Request body carries the session risk parameters
// URL parameter: user_id
func (h *GinHandlers) StartSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		if userID == "" {
			response.BadRequest(c, "user ID is required")
			return
		}

		var params StartParams
		if err := c.ShouldBindJSON(&params); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		sess, err := h.service.Start(c.Request.Context(), userID, params)
		switch {
		case errors.Is(err, ErrSessionExists):
			response.Conflict(c, err.Error())
		case errors.Is(err, ErrNoSettings), errors.Is(err, ErrUserSuspended):
			response.BadRequest(c, err.Error())
		default:
			response.Handle(c, sess, err)
		}
	}
}

// StopSessionHandler handles POST requests to stop a user's open session
// URL parameter: user_id
func (h *GinHandlers) StopSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")

		var request struct {
			StoppedBy string `json:"stopped_by"`
			Reason    string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if request.StoppedBy == "" {
			request.StoppedBy = "user"
		}
		if request.Reason == "" {
			request.Reason = "requested stop"
		}

		err := h.service.RequestStop(c.Request.Context(), userID, request.StoppedBy, request.Reason)
		if errors.Is(err, ErrNoOpenSession) {
			response.NotFound(c, err.Error())
			return
		}
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, gin.H{"message": "session stop requested"})
	}
}

// GetSessionHandler handles GET requests for a user's open session
// URL parameter: user_id
func (h *GinHandlers) GetSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")

		sess, err := h.service.GetOpenSession(userID)
		if err == nil && sess == nil {
			response.NotFound(c, "no open session for user")
			return
		}
		response.Handle(c, sess, err)
	}
}
