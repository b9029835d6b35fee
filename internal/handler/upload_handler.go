package handler

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/dto"
	"github.com/saasml/mlaas-platform/internal/storage"
	"github.com/saasml/mlaas-platform/pkg/logger"
	"github.com/saasml/mlaas-platform/pkg/middleware"
	"github.com/saasml/mlaas-platform/pkg/response"
	"github.com/saasml/mlaas-platform/pkg/telemetry"
)

// UploadHandler handles dataset uploads into the tenant's input prefix
type UploadHandler struct {
	dir    directory.TenantDirectory
	scoped storage.ScopedFactory
	log    *logger.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(dir directory.TenantDirectory, scoped storage.ScopedFactory, log *logger.Logger) *UploadHandler {
	return &UploadHandler{dir: dir, scoped: scoped, log: log}
}

// Upload handles PUT /upload. The object lands under the caller's own
// prefix; the scoped credentials make any other destination impossible.
func (h *UploadHandler) Upload(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.upload")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	identity, ok := middleware.GetIdentity(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, response.Unauthorized())
		return
	}

	fileName := c.GetHeader("file-name")
	if fileName == "" {
		span.SetStatus(codes.Error, "file-name missing")
		c.JSON(http.StatusBadRequest, response.BadRequest("file-name header is required"))
		return
	}
	// Strip any path components a hostile client sends
	fileName = path.Base(fileName)

	tenant, err := h.dir.Get(ctx, identity.TenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tenant lookup failed")
		c.JSON(http.StatusInternalServerError, response.InternalError("Upload failed"))
		return
	}
	if tenant.DataBucket == "" {
		span.SetStatus(codes.Error, "no data bucket")
		c.JSON(http.StatusInternalServerError, response.InternalError("No data bucket provisioned"))
		return
	}

	key := identity.TenantID + "/input/" + fileName
	span.SetAttributes(
		attribute.String("tenant.id", identity.TenantID),
		attribute.String("object.key", key),
	)

	store := h.scoped.WithCredentials(identity.Credentials)
	if err := store.Put(ctx, tenant.DataBucket, key, c.Request.Body); err != nil {
		telemetry.SetSpanError(ctx, err)
		h.log.ErrorContext(ctx, "dataset upload failed",
			zap.String("tenant_id", identity.TenantID),
			zap.String("key", key),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, response.InternalError("Upload failed"))
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, response.OKWithData("File uploaded", dto.UploadResponse{
		Bucket: tenant.DataBucket,
		Key:    key,
	}))
}
