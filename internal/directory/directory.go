package directory

import (
	"context"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// FieldDelta is a partial update to a tenant record. Nil fields are left
// untouched; the directory never replaces whole records.
type FieldDelta struct {
	Name            *string
	AdminEmail      *string
	Tier            *domain.Tier
	IsActive        *bool
	APIEndpointURL  *string
	DataBucket      *string
	ModelBucket     *string
	ServingEndpoint *string
	ScopedRoleARN   *string
	KeyNamespace    *string
	AppClientID     *string

	// ExpectedModelVersion, when set, makes the update conditional: the write
	// is applied only if the stored version still matches, otherwise
	// ErrConditionFailed is returned and nothing changes.
	ExpectedModelVersion *int64
}

// Empty reports whether the delta carries no field writes.
func (d FieldDelta) Empty() bool {
	return d.Name == nil && d.AdminEmail == nil && d.Tier == nil && d.IsActive == nil &&
		d.APIEndpointURL == nil && d.DataBucket == nil && d.ModelBucket == nil &&
		d.ServingEndpoint == nil && d.ScopedRoleARN == nil && d.KeyNamespace == nil &&
		d.AppClientID == nil
}

// TenantDirectory is the authoritative tenant registry. Every request-path
// read and every provisioning write goes through it.
//
// IncrementVersion is the only way a model version advances: it atomically
// adds one and returns the new value, so N concurrent calls starting from v
// yield exactly v+1..v+N with no duplicates and no gaps.
type TenantDirectory interface {
	// Get returns the tenant record or domain.ErrTenantNotFound.
	Get(ctx context.Context, tenantID string) (*domain.Tenant, error)
	// Create inserts a new record. An existing tenant id is rejected with
	// domain.ErrTenantExists; registration never overwrites.
	Create(ctx context.Context, tenant *domain.Tenant) error
	// Update applies a partial field update. With an expected-version
	// precondition a lost race returns domain.ErrConditionFailed.
	Update(ctx context.Context, tenantID string, delta FieldDelta) error
	// IncrementVersion atomically advances the tenant's model version and
	// returns the new value.
	IncrementVersion(ctx context.Context, tenantID string) (int64, error)
	// List returns all tenant records.
	List(ctx context.Context) ([]*domain.Tenant, error)
	// Deactivate flips IsActive off. Records are never deleted.
	Deactivate(ctx context.Context, tenantID string) error
}

// SettingsStore holds platform-wide configuration rows shared by all pooled
// tenants (pooled endpoint name, shared buckets, event infrastructure ids).
type SettingsStore interface {
	// GetSetting returns the value for a key or domain.ErrSettingNotFound.
	GetSetting(ctx context.Context, key string) (string, error)
	// PutSetting writes a key/value pair.
	PutSetting(ctx context.Context, key, value string) error
}

// Well-known settings keys, written once at platform bootstrap and read
// during pooled-tenant provisioning.
const (
	SettingPooledEndpoint   = "pooled_serving_endpoint"
	SettingPooledDataBucket = "pooled_data_bucket"
	SettingPooledModelBkt   = "pooled_model_bucket"
	SettingAPIEndpointURL   = "api_endpoint_url"
	SettingScopedRoleARN    = "scoped_role_arn"
)
