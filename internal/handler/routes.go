package handler

import (
	"github.com/gin-gonic/gin"
)

// RegisterGatewayRoutes wires the public API surface. The auth middleware
// guards everything except health and the token exchange.
func RegisterGatewayRoutes(r *gin.Engine, auth gin.HandlerFunc, inference *InferenceHandler, upload *UploadHandler, token *TokenHandler, health *HealthHandler) {
	r.GET("/health", health.Live)
	r.GET("/ready", health.Ready)
	r.GET("/jwt", token.Exchange)

	protected := r.Group("/", auth)
	protected.POST("/inference", inference.Infer)
	protected.POST("/basic_inference", inference.InferDedicated)
	protected.PUT("/upload", upload.Upload)
}

// RegisterAdminRoutes wires the internal tenant-administration surface.
func RegisterAdminRoutes(r *gin.Engine, audit gin.HandlerFunc, tenant *TenantHandler, health *HealthHandler) {
	r.GET("/health", health.Live)
	r.GET("/ready", health.Ready)

	admin := r.Group("/admin")
	if audit != nil {
		admin.Use(audit)
	}
	admin.POST("/tenants", tenant.Register)
	admin.GET("/tenants", tenant.List)
	admin.GET("/tenants/:id", tenant.Get)
	admin.POST("/tenants/:id/provision", tenant.Provision)
	admin.DELETE("/tenants/:id", tenant.Deactivate)
}
