package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/shared/response"
	"go.uber.org/zap"
)

// maxWebhookBody bounds the callback body read into memory.
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider callbacks.
type WebhookHandler struct {
	processor *WebhookProcessor
	logger    *zap.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(processor *WebhookProcessor, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		processor: processor,
		logger:    logger,
	}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/:gateway", h.HandleWebhook)
}

// HandleWebhook verifies and applies one provider callback. The signature is
// checked over the exact bytes received, before any JSON parsing.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	raw := c.Param("gateway")
	gateway, ok := domain.ParseGateway(raw)
	if !ok {
		response.NotFound(c, "unknown gateway")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.String("gateway", raw), zap.Error(err))
		response.BadRequest(c, "failed to read body")
		return
	}
	if len(payload) > maxWebhookBody {
		response.Error(c, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	header, err := h.processor.SignatureHeader(gateway)
	if err != nil {
		response.NotFound(c, "unknown gateway")
		return
	}

	result, err := h.processor.HandleWebhook(c.Request.Context(), gateway, payload, c.GetHeader(header))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorizedWebhook):
			response.Unauthorized(c, "invalid signature")
		case errors.Is(err, domain.ErrUnsupportedGateway):
			response.NotFound(c, "unknown gateway")
		case errors.Is(err, domain.ErrValidation):
			response.BadRequest(c, "invalid payload")
		default:
			h.logger.Error("webhook processing failed", zap.String("gateway", raw), zap.Error(err))
			response.InternalError(c, "processing failed")
		}
		return
	}

	c.JSON(http.StatusOK, result)
}
