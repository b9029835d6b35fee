package directory

import (
	"context"
	"sync"
	"time"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// MemoryDirectory is an in-memory TenantDirectory and SettingsStore for
// tests. It honors the same guarantees as the Redis implementation: atomic
// increments under the mutex, create-only inserts, conditional updates.
type MemoryDirectory struct {
	mu       sync.Mutex
	tenants  map[string]*domain.Tenant
	settings map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		tenants:  make(map[string]*domain.Tenant),
		settings: make(map[string]string),
	}
}

func (d *MemoryDirectory) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tenant, ok := d.tenants[tenantID]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	copied := *tenant
	return &copied, nil
}

func (d *MemoryDirectory) Create(ctx context.Context, tenant *domain.Tenant) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tenants[tenant.TenantID]; ok {
		return domain.ErrTenantExists
	}
	copied := *tenant
	d.tenants[tenant.TenantID] = &copied
	return nil
}

func (d *MemoryDirectory) Update(ctx context.Context, tenantID string, delta FieldDelta) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	tenant, ok := d.tenants[tenantID]
	if !ok {
		return domain.ErrTenantNotFound
	}
	if delta.ExpectedModelVersion != nil && tenant.ModelVersion != *delta.ExpectedModelVersion {
		return domain.ErrConditionFailed
	}
	applyDelta(tenant, delta)
	return nil
}

func (d *MemoryDirectory) IncrementVersion(ctx context.Context, tenantID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tenant, ok := d.tenants[tenantID]
	if !ok {
		return 0, domain.ErrTenantNotFound
	}
	tenant.ModelVersion++
	tenant.UpdatedAt = time.Now().UTC()
	return tenant.ModelVersion, nil
}

func (d *MemoryDirectory) List(ctx context.Context) ([]*domain.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tenants := make([]*domain.Tenant, 0, len(d.tenants))
	for _, tenant := range d.tenants {
		copied := *tenant
		tenants = append(tenants, &copied)
	}
	return tenants, nil
}

func (d *MemoryDirectory) Deactivate(ctx context.Context, tenantID string) error {
	inactive := false
	return d.Update(ctx, tenantID, FieldDelta{IsActive: &inactive})
}

func (d *MemoryDirectory) GetSetting(ctx context.Context, key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	value, ok := d.settings[key]
	if !ok {
		return "", domain.ErrSettingNotFound
	}
	return value, nil
}

func (d *MemoryDirectory) PutSetting(ctx context.Context, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings[key] = value
	return nil
}

func applyDelta(tenant *domain.Tenant, delta FieldDelta) {
	if delta.Name != nil {
		tenant.Name = *delta.Name
	}
	if delta.AdminEmail != nil {
		tenant.AdminEmail = *delta.AdminEmail
	}
	if delta.Tier != nil {
		tenant.Tier = *delta.Tier
	}
	if delta.IsActive != nil {
		tenant.IsActive = *delta.IsActive
	}
	if delta.APIEndpointURL != nil {
		tenant.APIEndpointURL = *delta.APIEndpointURL
	}
	if delta.DataBucket != nil {
		tenant.DataBucket = *delta.DataBucket
	}
	if delta.ModelBucket != nil {
		tenant.ModelBucket = *delta.ModelBucket
	}
	if delta.ServingEndpoint != nil {
		tenant.ServingEndpoint = *delta.ServingEndpoint
	}
	if delta.ScopedRoleARN != nil {
		tenant.ScopedRoleARN = *delta.ScopedRoleARN
	}
	if delta.KeyNamespace != nil {
		tenant.KeyNamespace = *delta.KeyNamespace
	}
	if delta.AppClientID != nil {
		tenant.AppClientID = *delta.AppClientID
	}
	if !delta.Empty() {
		tenant.UpdatedAt = time.Now().UTC()
	}
}
