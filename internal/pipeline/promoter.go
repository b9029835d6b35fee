package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/domain"
	"github.com/saasml/mlaas-platform/internal/storage"
	"github.com/saasml/mlaas-platform/pkg/logger"
)

// Promoter makes an evaluated model the tenant's serving model.
//
// For pooled tenants the ordering is fixed: the artifact is copied into the
// shared model folder under the new version's name first, and only then is
// the directory counter advanced. A failed copy never increments, so
// serving traffic can never select a version whose artifact is missing.
type Promoter struct {
	dir      directory.TenantDirectory
	store    storage.ObjectStore
	deployer ModelDeployer
	log      *logger.Logger
}

func NewPromoter(dir directory.TenantDirectory, store storage.ObjectStore, deployer ModelDeployer, log *logger.Logger) *Promoter {
	return &Promoter{dir: dir, store: store, deployer: deployer, log: log}
}

// PromotePooled copies the artifact under the next version's name and
// advances the version counter. It returns the version actually recorded.
//
// Two promotions can race: both compute the same target, both copy, then
// the counter hands each a distinct version. The loser's recorded version
// differs from its target, so it re-copies its artifact under the version
// it actually won; either way every version the counter ever returned has
// a readable artifact.
func (p *Promoter) PromotePooled(ctx context.Context, tenantID, sourceBucket, sourceKey string) (int64, error) {
	tenant, err := p.dir.Get(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	target := tenant.ModelVersion + 1

	if err := p.copyVersioned(ctx, tenant, sourceBucket, sourceKey, target); err != nil {
		// No increment: the counter only moves once the artifact is in place.
		return 0, err
	}

	recorded, err := p.dir.IncrementVersion(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	if recorded != target {
		// Lost a race. The artifact under `recorded` belongs to the winner
		// of `target`; put this promotion's artifact under the version it
		// actually owns.
		p.log.WarnContext(ctx, "promotion raced, re-copying under recorded version",
			zap.String("tenant_id", tenantID),
			zap.Int64("target_version", target),
			zap.Int64("recorded_version", recorded),
		)
		if err := p.copyVersioned(ctx, tenant, sourceBucket, sourceKey, recorded); err != nil {
			return 0, err
		}
	}

	return recorded, nil
}

// AlreadyPromoted reports whether a run's target version has been applied:
// the directory moved past it and its artifact exists. Used to make retried
// promotions no-ops.
func (p *Promoter) AlreadyPromoted(ctx context.Context, tenantID string, targetVersion int64) (bool, error) {
	tenant, err := p.dir.Get(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if tenant.ModelVersion < targetVersion {
		return false, nil
	}
	artifactKey := domain.ModelArtifactName(tenantID, targetVersion)
	if !tenant.Tier.Pooled() {
		// Dedicated tiers keep one artifact at a fixed key; the counter
		// alone says which version it holds.
		artifactKey = fmt.Sprintf("%s/%s.tar.gz", domain.DedicatedModelPrefix, tenantID)
	}
	exists, err := p.store.Exists(ctx, tenant.ModelBucket, artifactKey)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (p *Promoter) copyVersioned(ctx context.Context, tenant *domain.Tenant, sourceBucket, sourceKey string, version int64) error {
	dstKey := domain.ModelArtifactName(tenant.TenantID, version)
	if err := p.store.Copy(ctx, sourceBucket, sourceKey, tenant.ModelBucket, dstKey); err != nil {
		return fmt.Errorf("promote %s version %d: %w", tenant.TenantID, version, err)
	}
	return nil
}

// PromoteDedicated copies the artifact into the tenant's fixed dedicated
// prefix, rolls the endpoint onto it, and records the new version.
func (p *Promoter) PromoteDedicated(ctx context.Context, tenantID, sourceBucket, sourceKey string) (int64, error) {
	tenant, err := p.dir.Get(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	dstKey := fmt.Sprintf("%s/%s.tar.gz", domain.DedicatedModelPrefix, tenantID)
	if err := p.store.Copy(ctx, sourceBucket, sourceKey, tenant.ModelBucket, dstKey); err != nil {
		return 0, fmt.Errorf("promote %s dedicated: %w", tenantID, err)
	}

	if tenant.ServingEndpoint == "" {
		return 0, fmt.Errorf("%w: tenant %s has no serving endpoint", domain.ErrUpstream, tenantID)
	}
	modelDataPath := fmt.Sprintf("s3://%s/%s", tenant.ModelBucket, dstKey)
	if err := p.deployer.Deploy(ctx, tenantID, tenant.ServingEndpoint, modelDataPath); err != nil {
		return 0, err
	}

	return p.dir.IncrementVersion(ctx, tenantID)
}
