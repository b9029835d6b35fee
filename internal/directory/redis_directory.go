package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saasml/mlaas-platform/internal/domain"
)

const (
	tenantKeyPrefix = "tenant:"
	tenantIndexKey  = "tenants"
	settingsKey     = "system:settings"

	// Bounded optimistic retry for conditional updates. Exhaustion surfaces
	// ErrVersionConflict rather than spinning.
	maxTxAttempts  = 5
	txRetryBackoff = 10 * time.Millisecond
)

// RedisDirectory implements TenantDirectory and SettingsStore on a Redis
// hash per tenant. The model version lives in the hash and is advanced with
// HIncrBy, which is atomic server-side, so concurrent promotions never
// observe duplicate or skipped versions.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

func tenantKey(tenantID string) string {
	return tenantKeyPrefix + tenantID
}

func (d *RedisDirectory) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	fields, err := d.client.HGetAll(ctx, tenantKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("directory get %s: %w", tenantID, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrTenantNotFound
	}
	return tenantFromHash(fields)
}

func (d *RedisDirectory) Create(ctx context.Context, tenant *domain.Tenant) error {
	key := tenantKey(tenant.TenantID)

	// HSetNX on the id field is the create guard: losing the race means the
	// tenant already exists and nothing else is written.
	created, err := d.client.HSetNX(ctx, key, "tenant_id", tenant.TenantID).Result()
	if err != nil {
		return fmt.Errorf("directory create %s: %w", tenant.TenantID, err)
	}
	if !created {
		return domain.ErrTenantExists
	}

	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, key, tenantToHash(tenant))
	pipe.SAdd(ctx, tenantIndexKey, tenant.TenantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("directory create %s: %w", tenant.TenantID, err)
	}
	return nil
}

func (d *RedisDirectory) Update(ctx context.Context, tenantID string, delta FieldDelta) error {
	key := tenantKey(tenantID)

	if delta.ExpectedModelVersion == nil {
		exists, err := d.client.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("directory update %s: %w", tenantID, err)
		}
		if exists == 0 {
			return domain.ErrTenantNotFound
		}
		writes := deltaToHash(delta)
		if len(writes) == 0 {
			return nil
		}
		if err := d.client.HSet(ctx, key, writes).Err(); err != nil {
			return fmt.Errorf("directory update %s: %w", tenantID, err)
		}
		return nil
	}

	// Conditional path: WATCH the record, re-check the version inside the
	// transaction, retry a bounded number of times on contention.
	expected := *delta.ExpectedModelVersion
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := d.client.Watch(ctx, func(tx *redis.Tx) error {
			stored, err := tx.HGet(ctx, key, "model_version").Result()
			if errors.Is(err, redis.Nil) {
				return domain.ErrTenantNotFound
			}
			if err != nil {
				return err
			}
			version, err := strconv.ParseInt(stored, 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt model_version %q: %w", stored, err)
			}
			if version != expected {
				return domain.ErrConditionFailed
			}
			writes := deltaToHash(delta)
			if len(writes) == 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, writes)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			time.Sleep(txRetryBackoff)
			continue
		}
		if err != nil {
			if errors.Is(err, domain.ErrTenantNotFound) || errors.Is(err, domain.ErrConditionFailed) {
				return err
			}
			return fmt.Errorf("directory update %s: %w", tenantID, err)
		}
		return nil
	}
	return domain.ErrVersionConflict
}

func (d *RedisDirectory) IncrementVersion(ctx context.Context, tenantID string) (int64, error) {
	key := tenantKey(tenantID)
	exists, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("directory increment %s: %w", tenantID, err)
	}
	if exists == 0 {
		return 0, domain.ErrTenantNotFound
	}
	pipe := d.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, "model_version", 1)
	pipe.HSet(ctx, key, "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("directory increment %s: %w", tenantID, err)
	}
	return incr.Val(), nil
}

func (d *RedisDirectory) List(ctx context.Context) ([]*domain.Tenant, error) {
	ids, err := d.client.SMembers(ctx, tenantIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("directory list: %w", err)
	}
	tenants := make([]*domain.Tenant, 0, len(ids))
	for _, id := range ids {
		tenant, err := d.Get(ctx, id)
		if errors.Is(err, domain.ErrTenantNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, nil
}

func (d *RedisDirectory) Deactivate(ctx context.Context, tenantID string) error {
	inactive := false
	return d.Update(ctx, tenantID, FieldDelta{IsActive: &inactive})
}

// GetSetting implements SettingsStore on a single shared hash.
func (d *RedisDirectory) GetSetting(ctx context.Context, key string) (string, error) {
	value, err := d.client.HGet(ctx, settingsKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrSettingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("settings get %s: %w", key, err)
	}
	return value, nil
}

func (d *RedisDirectory) PutSetting(ctx context.Context, key, value string) error {
	if err := d.client.HSet(ctx, settingsKey, key, value).Err(); err != nil {
		return fmt.Errorf("settings put %s: %w", key, err)
	}
	return nil
}

func tenantToHash(t *domain.Tenant) map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":        t.TenantID,
		"name":             t.Name,
		"admin_email":      t.AdminEmail,
		"tier":             t.Tier.String(),
		"model_version":    t.ModelVersion,
		"is_active":        boolField(t.IsActive),
		"created_at":       t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":       t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"api_endpoint_url": t.APIEndpointURL,
		"data_bucket":      t.DataBucket,
		"model_bucket":     t.ModelBucket,
		"serving_endpoint": t.ServingEndpoint,
		"scoped_role_arn":  t.ScopedRoleARN,
		"key_namespace":    t.KeyNamespace,
		"app_client_id":    t.AppClientID,
	}
}

func deltaToHash(delta FieldDelta) map[string]interface{} {
	writes := map[string]interface{}{}
	if delta.Name != nil {
		writes["name"] = *delta.Name
	}
	if delta.AdminEmail != nil {
		writes["admin_email"] = *delta.AdminEmail
	}
	if delta.Tier != nil {
		writes["tier"] = delta.Tier.String()
	}
	if delta.IsActive != nil {
		writes["is_active"] = boolField(*delta.IsActive)
	}
	if delta.APIEndpointURL != nil {
		writes["api_endpoint_url"] = *delta.APIEndpointURL
	}
	if delta.DataBucket != nil {
		writes["data_bucket"] = *delta.DataBucket
	}
	if delta.ModelBucket != nil {
		writes["model_bucket"] = *delta.ModelBucket
	}
	if delta.ServingEndpoint != nil {
		writes["serving_endpoint"] = *delta.ServingEndpoint
	}
	if delta.ScopedRoleARN != nil {
		writes["scoped_role_arn"] = *delta.ScopedRoleARN
	}
	if delta.KeyNamespace != nil {
		writes["key_namespace"] = *delta.KeyNamespace
	}
	if delta.AppClientID != nil {
		writes["app_client_id"] = *delta.AppClientID
	}
	if len(writes) > 0 {
		writes["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return writes
}

func tenantFromHash(fields map[string]string) (*domain.Tenant, error) {
	version, err := strconv.ParseInt(fields["model_version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt model_version %q: %w", fields["model_version"], err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, fields["created_at"])
	updatedAt, _ := time.Parse(time.RFC3339Nano, fields["updated_at"])
	return &domain.Tenant{
		TenantID:        fields["tenant_id"],
		Name:            fields["name"],
		AdminEmail:      fields["admin_email"],
		Tier:            domain.Tier(fields["tier"]),
		ModelVersion:    version,
		IsActive:        fields["is_active"] == "1",
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
		APIEndpointURL:  fields["api_endpoint_url"],
		DataBucket:      fields["data_bucket"],
		ModelBucket:     fields["model_bucket"],
		ServingEndpoint: fields["serving_endpoint"],
		ScopedRoleARN:   fields["scoped_role_arn"],
		KeyNamespace:    fields["key_namespace"],
		AppClientID:     fields["app_client_id"],
	}, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
