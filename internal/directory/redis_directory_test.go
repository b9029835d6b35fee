package directory

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/saasml/mlaas-platform/internal/domain"
)

func newRedisDirectoryForTest(t *testing.T) *RedisDirectory {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not reachable at %s: %v", addr, err)
	}
	return NewRedisDirectory(client)
}

func seedRedisTenant(t *testing.T, dir *RedisDirectory) string {
	t.Helper()
	id := "it-" + uuid.NewString()
	now := time.Now().UTC()
	err := dir.Create(context.Background(), &domain.Tenant{
		TenantID:  id,
		Name:      "integration-" + id,
		Tier:      domain.TierAdvanced,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		dir.client.Del(ctx, tenantKey(id))
		dir.client.SRem(ctx, tenantIndexKey, id)
	})
	return id
}

func TestRedisDirectory_IncrementVersion_Integration(t *testing.T) {
	dir := newRedisDirectoryForTest(t)
	ctx := context.Background()
	id := seedRedisTenant(t, dir)

	before, err := dir.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := dir.IncrementVersion(ctx, id)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Errorf("version = %d, want %d", got, want)
		}
	}

	after, err := dir.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.ModelVersion != 3 {
		t.Errorf("stored version = %d, want 3", after.ModelVersion)
	}
	// The increment and the timestamp refresh commit together.
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("updated_at not refreshed: before=%v after=%v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestRedisDirectory_IncrementUnknownTenant_Integration(t *testing.T) {
	dir := newRedisDirectoryForTest(t)

	_, err := dir.IncrementVersion(context.Background(), "it-ghost")
	if err != domain.ErrTenantNotFound {
		t.Errorf("err = %v, want ErrTenantNotFound", err)
	}
}
