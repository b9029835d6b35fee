package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/saasml/mlaas-platform/internal/domain"
	"github.com/saasml/mlaas-platform/internal/dto"
	"github.com/saasml/mlaas-platform/internal/provisioning"
	"github.com/saasml/mlaas-platform/pkg/middleware"
	"github.com/saasml/mlaas-platform/pkg/response"
	"github.com/saasml/mlaas-platform/pkg/telemetry"
)

// TenantHandler handles tenant administration HTTP requests
type TenantHandler struct {
	svc *provisioning.Service
}

// NewTenantHandler creates a new TenantHandler
func NewTenantHandler(svc *provisioning.Service) *TenantHandler {
	return &TenantHandler{svc: svc}
}

// Register handles POST /admin/tenants
func (h *TenantHandler) Register(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.tenant.register")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.RegisterTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		span.SetStatus(codes.Error, "invalid tier")
		c.JSON(http.StatusBadRequest, response.BadRequest("Tier must be basic, advanced or premium"))
		return
	}

	span.SetAttributes(attribute.String("tenant.tier", tier.String()))

	tenant, err := h.svc.Register(ctx, provisioning.RegisterInput{
		Name:       req.Name,
		AdminEmail: req.AdminEmail,
		Tier:       tier,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	c.Set(middleware.ContextKeyAuditResourceID, tenant.TenantID)
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, response.OKWithData("Tenant registered", dto.FromTenant(tenant)))
}

// Get handles GET /admin/tenants/:id
func (h *TenantHandler) Get(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.tenant.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, response.BadRequest("Tenant ID is required"))
		return
	}

	tenant, err := h.svc.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, response.OKWithData("Tenant", dto.FromTenant(tenant)))
}

// List handles GET /admin/tenants
func (h *TenantHandler) List(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.tenant.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	tenants, err := h.svc.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	result := dto.ListTenantsResponse{Count: len(tenants)}
	for _, t := range tenants {
		result.Tenants = append(result.Tenants, dto.FromTenant(t))
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, response.OKWithData("Tenants", result))
}

// Provision handles POST /admin/tenants/:id/provision, retrying the
// tier-specific setup for an already-registered tenant
func (h *TenantHandler) Provision(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.tenant.provision")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, response.BadRequest("Tenant ID is required"))
		return
	}

	if err := h.svc.Provision(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	c.Set(middleware.ContextKeyAuditResourceID, id)
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, response.OK("Tenant provisioned"))
}

// Deactivate handles DELETE /admin/tenants/:id. The record is retained;
// only IsActive flips.
func (h *TenantHandler) Deactivate(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.tenant.deactivate")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, response.BadRequest("Tenant ID is required"))
		return
	}

	if err := h.svc.Deactivate(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	c.Set(middleware.ContextKeyAuditResourceID, id)
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, response.OK("Tenant deactivated"))
}

// handleError converts domain errors to HTTP responses
func (h *TenantHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrTenantNotFound):
		c.JSON(http.StatusNotFound, response.NotFound("Tenant not found"))
	case errors.Is(err, domain.ErrTenantExists):
		c.JSON(http.StatusConflict, response.Conflict("Tenant already exists"))
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
	case errors.Is(err, domain.ErrSettingNotFound):
		c.JSON(http.StatusInternalServerError, response.InternalError("Platform settings incomplete"))
	default:
		c.JSON(http.StatusInternalServerError, response.InternalError("An internal error occurred"))
	}
}
