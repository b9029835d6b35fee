package provisioning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/domain"
	"github.com/saasml/mlaas-platform/internal/storage"
	"github.com/saasml/mlaas-platform/pkg/logger"
	"github.com/saasml/mlaas-platform/pkg/telemetry"
)

// IdentityAdmin creates the identity-provider side of a tenant: the admin
// user, the key namespace its tokens verify against, and the app client the
// audience claim is checked with.
type IdentityAdmin interface {
	CreateAdminUser(ctx context.Context, tenantID, name, email string) (keyNamespace, appClientID string, err error)
}

// LocalIdentityAdmin derives identity metadata deterministically from the
// tenant id. It backs the development issuer; a real IdP integration
// implements the same interface.
type LocalIdentityAdmin struct {
	NamespacePrefix string
	ClientPrefix    string
}

func (a *LocalIdentityAdmin) CreateAdminUser(_ context.Context, tenantID, _, _ string) (string, string, error) {
	ns := a.NamespacePrefix
	if ns == "" {
		ns = "tenants"
	}
	client := a.ClientPrefix
	if client == "" {
		client = "client"
	}
	return ns + "/" + tenantID, client + "-" + tenantID, nil
}

// RegisterInput is the registration request after boundary validation.
type RegisterInput struct {
	Name       string
	AdminEmail string
	Tier       domain.Tier
}

// Service registers tenants and provisions their tier-specific
// infrastructure. Registration is create-only: a duplicate name is rejected
// before any infrastructure is touched.
type Service struct {
	dir       directory.TenantDirectory
	settings  directory.SettingsStore
	store     storage.ObjectStore
	identity  IdentityAdmin
	publisher EventPublisher
	log       *logger.Logger
}

func NewService(dir directory.TenantDirectory, settings directory.SettingsStore, store storage.ObjectStore, identity IdentityAdmin, publisher EventPublisher, log *logger.Logger) *Service {
	return &Service{
		dir:       dir,
		settings:  settings,
		store:     store,
		identity:  identity,
		publisher: publisher,
		log:       log,
	}
}

// Register creates the tenant record and provisions its serving path. The
// new tenant starts at model version zero and active; the first completed
// pipeline run advances it to one.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.Tenant, error) {
	ctx, span := telemetry.StartSpan(ctx, "provisioning.register")
	defer span.End()

	if input.Name == "" || input.AdminEmail == "" {
		return nil, fmt.Errorf("%w: name and admin email are required", domain.ErrValidation)
	}
	if _, err := domain.ParseTier(input.Tier.String()); err != nil {
		return nil, err
	}

	existing, err := s.dir.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range existing {
		if strings.EqualFold(t.Name, input.Name) {
			return nil, fmt.Errorf("%w: tenant name %q", domain.ErrTenantExists, input.Name)
		}
	}

	tenantID := uuid.NewString()
	keyNamespace, appClientID, err := s.identity.CreateAdminUser(ctx, tenantID, input.Name, input.AdminEmail)
	if err != nil {
		return nil, fmt.Errorf("create admin user: %w", err)
	}

	now := time.Now().UTC()
	tenant := &domain.Tenant{
		TenantID:     tenantID,
		Name:         input.Name,
		AdminEmail:   input.AdminEmail,
		Tier:         input.Tier,
		ModelVersion: 0,
		IsActive:     true,
		KeyNamespace: keyNamespace,
		AppClientID:  appClientID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.dir.Create(ctx, tenant); err != nil {
		return nil, err
	}

	if err := s.Provision(ctx, tenantID); err != nil {
		// The record stays; provisioning is retryable against it.
		s.log.ErrorContext(ctx, "tenant registered but provisioning failed",
			zap.String("tenant_id", tenantID),
			zap.String("tier", input.Tier.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.InfoContext(ctx, "tenant registered",
		zap.String("tenant_id", tenantID),
		zap.String("tier", input.Tier.String()),
	)
	return s.dir.Get(ctx, tenantID)
}

// Provision sets up the tier-specific serving path for an existing tenant.
// It is idempotent so a failed registration can be resumed.
func (s *Service) Provision(ctx context.Context, tenantID string) error {
	ctx, span := telemetry.StartSpan(ctx, "provisioning.provision")
	defer span.End()

	tenant, err := s.dir.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	switch tenant.Tier {
	case domain.TierAdvanced:
		return s.provisionPooled(ctx, tenant)
	case domain.TierPremium:
		return s.provisionDedicatedStack(ctx, tenant)
	case domain.TierBasic:
		return s.applySharedMetadata(ctx, tenant, directory.FieldDelta{})
	default:
		return fmt.Errorf("%w: unknown tier %q", domain.ErrValidation, tenant.Tier)
	}
}

// provisionPooled attaches an advanced tenant to the shared multi-model
// endpoint: its input prefix in the pooled data bucket plus the routing
// metadata all pooled tenants share.
func (s *Service) provisionPooled(ctx context.Context, tenant *domain.Tenant) error {
	dataBucket, err := s.settings.GetSetting(ctx, directory.SettingPooledDataBucket)
	if err != nil {
		return fmt.Errorf("pooled data bucket: %w", err)
	}
	modelBucket, err := s.settings.GetSetting(ctx, directory.SettingPooledModelBkt)
	if err != nil {
		return fmt.Errorf("pooled model bucket: %w", err)
	}
	endpoint, err := s.settings.GetSetting(ctx, directory.SettingPooledEndpoint)
	if err != nil {
		return fmt.Errorf("pooled endpoint: %w", err)
	}

	if err := s.store.EnsurePrefix(ctx, dataBucket, tenant.TenantID+"/input/"); err != nil {
		return fmt.Errorf("ensure input prefix: %w", err)
	}

	delta := directory.FieldDelta{
		DataBucket:      &dataBucket,
		ModelBucket:     &modelBucket,
		ServingEndpoint: &endpoint,
	}
	return s.applySharedMetadata(ctx, tenant, delta)
}

// provisionDedicatedStack records the premium tenant's shared metadata and
// hands the stack build itself to the infrastructure pipeline via an event.
func (s *Service) provisionDedicatedStack(ctx context.Context, tenant *domain.Tenant) error {
	if err := s.applySharedMetadata(ctx, tenant, directory.FieldDelta{}); err != nil {
		return err
	}

	event := &StackEvent{
		TenantID:    tenant.TenantID,
		Tier:        tenant.Tier.String(),
		Action:      ActionProvisionDedicatedStack,
		StackName:   StackName(tenant.TenantID),
		RequestedAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "dedicated stack requested",
		zap.String("tenant_id", tenant.TenantID),
		zap.String("stack_name", event.StackName),
	)
	return nil
}

// applySharedMetadata fills the delta with the platform-wide settings every
// tier gets (API endpoint, scoped role) and writes it.
func (s *Service) applySharedMetadata(ctx context.Context, tenant *domain.Tenant, delta directory.FieldDelta) error {
	if apiURL, err := s.settings.GetSetting(ctx, directory.SettingAPIEndpointURL); err == nil {
		delta.APIEndpointURL = &apiURL
	}
	if roleARN, err := s.settings.GetSetting(ctx, directory.SettingScopedRoleARN); err == nil {
		delta.ScopedRoleARN = &roleARN
	}
	if delta.Empty() {
		return nil
	}
	return s.dir.Update(ctx, tenant.TenantID, delta)
}

// StackName is the deterministic infrastructure stack name for a premium
// tenant, so repeated provisioning converges on one stack.
func StackName(tenantID string) string {
	return "serving-stack-" + tenantID
}

// Get returns one tenant record.
func (s *Service) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	return s.dir.Get(ctx, tenantID)
}

// List returns all tenant records.
func (s *Service) List(ctx context.Context) ([]*domain.Tenant, error) {
	return s.dir.List(ctx)
}

// Deactivate disables a tenant. The record and its artifacts are retained.
func (s *Service) Deactivate(ctx context.Context, tenantID string) error {
	ctx, span := telemetry.StartSpan(ctx, "provisioning.deactivate")
	defer span.End()

	if err := s.dir.Deactivate(ctx, tenantID); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "tenant deactivated", zap.String("tenant_id", tenantID))
	return nil
}
