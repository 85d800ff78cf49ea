package dispatch

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/optrelay/signal-relay/internal/signal"
	"github.com/optrelay/signal-relay/internal/types"
	"github.com/optrelay/signal-relay/pkg/response"
)

// GinHandlers contains HTTP handlers for the api signal source and signal
// read-back.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// IngestSignalHandler handles POST requests carrying a raw signal line.
// Realizes the "api" signal source: the line goes through the same parser and
// dispatcher as the file and remote watchers.
func (h *GinHandlers) IngestSignalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Line string `json:"line" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		directive, err := signal.Parse(request.Line)
		if err != nil {
			switch {
			case errors.Is(err, signal.ErrTooFewFields),
				errors.Is(err, signal.ErrEmptyAsset),
				errors.Is(err, signal.ErrUnrecognizedDirection):
				response.BadRequest(c, err.Error())
			default:
				response.InternalError(c, err.Error())
			}
			return
		}

		receipt, err := h.service.Receive(c.Request.Context(), directive, types.SourceAPI)
		response.Handle(c, receipt, err)
	}
}

// GetSignalHandler handles GET requests for a signal row and its execution
// counters.
// URL parameter: signal_id
func (h *GinHandlers) GetSignalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		signalID := c.Param("signal_id")

		sig, err := h.service.GetSignal(signalID)
		if err == nil && sig == nil {
			response.NotFound(c, "signal not found")
			return
		}
		response.Handle(c, sig, err)
	}
}
