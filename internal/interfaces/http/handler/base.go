package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appintegration "github.com/meschain/syncengine/internal/application/integration"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/interfaces/http/dto"
	"github.com/meschain/syncengine/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct {
	logger *zap.Logger
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 accepted response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response, deriving the status code from the error code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// HandleError translates a sync error into an error response. Unexpected
// errors are logged and answered with a generic message.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, appintegration.ErrMarketplaceUnknown):
		h.Error(c, dto.ErrCodeMarketplaceNotFound, "Marketplace is not configured")
		return
	case errors.Is(err, appintegration.ErrMarketplaceDisabled):
		h.Error(c, dto.ErrCodeMarketplaceDisabled, "Marketplace is disabled")
		return
	case errors.Is(err, integration.ErrMarketplaceSuppressed):
		h.Error(c, dto.ErrCodeMarketplaceSuppressed, "Marketplace is suspended until the configuration is reloaded")
		return
	case errors.Is(err, integration.ErrEntityTypeInvalid),
		errors.Is(err, integration.ErrMarketplaceInvalidCode),
		errors.Is(err, integration.ErrCategoryMappingInvalid):
		h.Error(c, dto.ErrCodeBadRequest, err.Error())
		return
	}

	switch integration.Classify(err) {
	case integration.ErrorKindConflict:
		h.Error(c, dto.ErrCodeConflict, "Mapping conflicts with an existing remote identity")
	case integration.ErrorKindRateLimited:
		h.Error(c, dto.ErrCodeRateLimited, "Marketplace rate limit exceeded, try again later")
	case integration.ErrorKindAuth:
		h.Error(c, dto.ErrCodeUnavailable, "Marketplace rejected the configured credentials")
	case integration.ErrorKindValidation, integration.ErrorKindNotFound:
		h.Error(c, dto.ErrCodeUnavailable, "Marketplace rejected the request")
	case integration.ErrorKindTransient, integration.ErrorKindDeadlineExceeded:
		h.Error(c, dto.ErrCodeUnavailable, "Marketplace is unavailable, try again later")
	default:
		h.logger.Error("Request failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		h.Error(c, dto.ErrCodeInternal, "An internal error occurred")
	}
}
