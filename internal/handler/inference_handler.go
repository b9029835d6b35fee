package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/saasml/mlaas-platform/internal/routing"
	"github.com/saasml/mlaas-platform/pkg/middleware"
	"github.com/saasml/mlaas-platform/pkg/response"
	"github.com/saasml/mlaas-platform/pkg/telemetry"
)

// maxPayloadBytes bounds a single inference payload.
const maxPayloadBytes = 5 << 20

// InferenceHandler handles inference HTTP requests
type InferenceHandler struct {
	router *routing.Router
}

// NewInferenceHandler creates a new inference handler
func NewInferenceHandler(router *routing.Router) *InferenceHandler {
	return &InferenceHandler{router: router}
}

// Infer handles POST /inference for every tier
func (h *InferenceHandler) Infer(c *gin.Context) {
	h.serve(c, "handler.inference", false)
}

// InferDedicated handles POST /basic_inference, the path deployments expose
// when dedicated-tier traffic runs behind its own processor
func (h *InferenceHandler) InferDedicated(c *gin.Context) {
	h.serve(c, "handler.basic_inference", true)
}

func (h *InferenceHandler) serve(c *gin.Context, spanName string, dedicatedOnly bool) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), spanName)
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	identity, ok := middleware.GetIdentity(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, response.Unauthorized())
		return
	}

	if dedicatedOnly && !identity.Tier.Dedicated() {
		span.SetStatus(codes.Error, "wrong tier for dedicated path")
		c.JSON(http.StatusBadRequest, response.BadRequest("This path serves dedicated-endpoint tiers only"))
		return
	}

	span.SetAttributes(
		attribute.String("tenant.id", identity.TenantID),
		attribute.String("tenant.tier", identity.Tier.String()),
	)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payload read failed")
		c.JSON(http.StatusBadRequest, response.BadRequest("Could not read request payload"))
		return
	}
	if len(payload) == 0 {
		span.SetStatus(codes.Error, "empty payload")
		c.JSON(http.StatusBadRequest, response.BadRequest("Request payload is required"))
		return
	}

	result := h.router.Route(ctx, identity, payload)
	if result.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, result.Message)
		c.JSON(result.StatusCode, response.Error(response.ErrCodeInternalError, result.Message))
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, response.OK(result.Message))
}
