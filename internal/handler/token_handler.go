package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/saasml/mlaas-platform/internal/dto"
	"github.com/saasml/mlaas-platform/pkg/response"
	"github.com/saasml/mlaas-platform/pkg/telemetry"
)

// TokenIssuer mints a bearer token for a tenant admin identified by tenant
// name and email.
type TokenIssuer interface {
	IssueToken(ctx context.Context, tenantName, email string) (string, error)
}

// TokenHandler exchanges tenant-admin credentials for a bearer token
type TokenHandler struct {
	issuer TokenIssuer
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(issuer TokenIssuer) *TokenHandler {
	return &TokenHandler{issuer: issuer}
}

// Exchange handles GET /jwt. The admin identifies with HTTP basic auth plus
// the tenant-name header; every failure mode returns the same response.
func (h *TokenHandler) Exchange(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.jwt")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	email, _, ok := c.Request.BasicAuth()
	tenantName := c.GetHeader("tenant-name")
	if !ok || email == "" || tenantName == "" {
		span.SetStatus(codes.Error, "missing credentials")
		c.JSON(http.StatusUnauthorized, response.Unauthorized())
		return
	}

	token, err := h.issuer.IssueToken(ctx, tenantName, email)
	if err != nil {
		span.SetStatus(codes.Error, "token issue rejected")
		c.JSON(http.StatusUnauthorized, response.Unauthorized())
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, response.OKWithData("Token issued", dto.TokenResponse{JWT: token}))
}
