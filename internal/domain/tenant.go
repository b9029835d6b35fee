package domain

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the service level of a tenant. It determines whether inference is
// served from the shared multi-model endpoint or a dedicated endpoint.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierAdvanced Tier = "advanced"
	TierPremium  Tier = "premium"
)

// ParseTier validates a tier value once at the boundary. Downstream code
// never re-parses tier strings.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierBasic:
		return TierBasic, nil
	case TierAdvanced:
		return TierAdvanced, nil
	case TierPremium:
		return TierPremium, nil
	default:
		return "", fmt.Errorf("%w: unknown tier %q", ErrValidation, s)
	}
}

// Pooled reports whether the tier is served from the shared multi-model
// endpoint with a per-request artifact selector.
func (t Tier) Pooled() bool {
	return t == TierAdvanced
}

// Dedicated reports whether the tier is served from a tenant-specific
// single-model endpoint.
func (t Tier) Dedicated() bool {
	return t == TierBasic || t == TierPremium
}

func (t Tier) String() string {
	return string(t)
}

// Tenant is the directory record for an isolated customer account.
//
// TenantID is assigned at registration and immutable. ModelVersion is
// monotonically non-decreasing and only ever advanced through the directory's
// atomic increment; no caller writes it directly. Routing metadata is
// populated progressively during provisioning and may be empty until
// provisioning completes. Tenants are never deleted in normal operation;
// deactivation only flips IsActive.
type Tenant struct {
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	AdminEmail   string    `json:"admin_email"`
	Tier         Tier      `json:"tier"`
	ModelVersion int64     `json:"model_version"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Routing metadata, written by provisioning.
	APIEndpointURL  string `json:"api_endpoint_url,omitempty"`
	DataBucket      string `json:"data_bucket,omitempty"`
	ModelBucket     string `json:"model_bucket,omitempty"`
	ServingEndpoint string `json:"serving_endpoint,omitempty"`
	ScopedRoleARN   string `json:"scoped_role_arn,omitempty"`

	// Identity metadata, written by registration.
	KeyNamespace string `json:"key_namespace,omitempty"`
	AppClientID  string `json:"app_client_id,omitempty"`
}

// ModelArtifactName is the shared-endpoint artifact selector for a tenant's
// model at a given version. The same name addresses the artifact in the model
// bucket and selects it per-request on the pooled endpoint.
func ModelArtifactName(tenantID string, version int64) string {
	return fmt.Sprintf("%s.model.%d.tar.gz", tenantID, version)
}

// DedicatedModelPrefix is the well-known object prefix for dedicated-endpoint
// model artifacts.
const DedicatedModelPrefix = "model_artifacts"
