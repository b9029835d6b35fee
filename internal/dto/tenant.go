package dto

import (
	"time"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// RegisterTenantRequest represents a request to register a new tenant
type RegisterTenantRequest struct {
	Name       string `json:"name" binding:"required,min=2,max=255"`
	AdminEmail string `json:"admin_email" binding:"required,email"`
	Tier       string `json:"tier" binding:"required"`
}

// TenantResponse represents tenant data in responses
type TenantResponse struct {
	TenantID     string `json:"tenant_id"`
	Name         string `json:"name"`
	AdminEmail   string `json:"admin_email"`
	Tier         string `json:"tier"`
	ModelVersion int64  `json:"model_version"`
	IsActive     bool   `json:"is_active"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`

	APIEndpointURL  string `json:"api_endpoint_url,omitempty"`
	DataBucket      string `json:"data_bucket,omitempty"`
	ModelBucket     string `json:"model_bucket,omitempty"`
	ServingEndpoint string `json:"serving_endpoint,omitempty"`
}

// FromTenant converts a directory record to its response shape
func FromTenant(t *domain.Tenant) TenantResponse {
	return TenantResponse{
		TenantID:        t.TenantID,
		Name:            t.Name,
		AdminEmail:      t.AdminEmail,
		Tier:            t.Tier.String(),
		ModelVersion:    t.ModelVersion,
		IsActive:        t.IsActive,
		CreatedAt:       t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       t.UpdatedAt.Format(time.RFC3339),
		APIEndpointURL:  t.APIEndpointURL,
		DataBucket:      t.DataBucket,
		ModelBucket:     t.ModelBucket,
		ServingEndpoint: t.ServingEndpoint,
	}
}

// ListTenantsResponse represents the tenant collection
type ListTenantsResponse struct {
	Tenants []TenantResponse `json:"tenants"`
	Count   int              `json:"count"`
}
