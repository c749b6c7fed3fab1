package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appintegration "github.com/meschain/syncengine/internal/application/integration"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/interfaces/http/dto"
	"github.com/meschain/syncengine/internal/interfaces/http/middleware"
)

// DefaultWebhookMaxBody is the largest webhook body accepted.
const DefaultWebhookMaxBody = 1 << 20

// Ingestor accepts raw webhook deliveries.
type Ingestor interface {
	Ingest(ctx context.Context, marketplace string, header http.Header, body []byte) (integration.IngestResult, error)
}

// WebhookResponse acknowledges a delivery
type WebhookResponse struct {
	Result string `json:"result"`
}

// WebhookHandler receives marketplace push notifications. It only ever
// answers 200 or 401 so marketplaces do not retry deliveries that were
// deliberately dropped.
type WebhookHandler struct {
	BaseHandler
	ingestor Ingestor
	maxBody  int64
	security *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(ingestor Ingestor, maxBody int64, logger *zap.Logger) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = DefaultWebhookMaxBody
	}
	return &WebhookHandler{
		BaseHandler: BaseHandler{logger: logger.Named("webhook_api")},
		ingestor:    ingestor,
		maxBody:     maxBody,
		security:    logger.Named("security"),
	}
}

// RegisterRoutes registers the webhook route on rg
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/:marketplace_code", h.Receive)
}

// Receive godoc
// @Summary      Marketplace webhook
// @Description  Verifies and enqueues a marketplace push notification
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        marketplace_code  path  string  true  "Marketplace code"
// @Success      200  {object}  WebhookResponse
// @Failure      401  {object}  dto.Response
// @Router       /webhooks/{marketplace_code} [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	marketplace := c.Param("marketplace_code")

	// One byte over the limit tells an oversized body from one that fits.
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBody+1))
	if err != nil || int64(len(body)) > h.maxBody {
		// A truncated body cannot be verified.
		h.security.Warn("Webhook rejected",
			zap.String("marketplace", marketplace),
			zap.String("reason", "body unreadable or too large"),
			zap.Int64("max_body_bytes", h.maxBody),
			zap.Error(err))
		h.unauthorized(c)
		return
	}

	result, err := h.ingestor.Ingest(c.Request.Context(), marketplace, c.Request.Header, body)
	if err != nil {
		if !errors.Is(err, appintegration.ErrWebhookUnauthorized) {
			// Anything else is ours to fix, not the sender's to retry.
			h.logger.Error("Webhook ingestion failed",
				zap.String("marketplace", marketplace),
				zap.String("request_id", middleware.GetRequestID(c)),
				zap.Error(err))
			c.JSON(http.StatusOK, WebhookResponse{Result: string(integration.IngestDropped)})
			return
		}
		h.unauthorized(c)
		return
	}
	c.JSON(http.StatusOK, WebhookResponse{Result: string(result)})
}

func (h *WebhookHandler) unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeUnauthorized, "Webhook authentication failed", middleware.GetRequestID(c)))
}
