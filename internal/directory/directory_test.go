package directory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/saasml/mlaas-platform/internal/domain"
)

func newTestTenant(id string, tier domain.Tier) *domain.Tenant {
	now := time.Now().UTC()
	return &domain.Tenant{
		TenantID:   id,
		Name:       "acme",
		AdminEmail: "admin@acme.test",
		Tier:       tier,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMemoryDirectory_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	tenant := newTestTenant("t-1", domain.TierAdvanced)
	if err := dir.Create(ctx, tenant); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := dir.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.TenantID != "t-1" || got.Tier != domain.TierAdvanced {
		t.Errorf("unexpected tenant: %+v", got)
	}
	if got.ModelVersion != 0 {
		t.Errorf("new tenant must start at version 0, got %d", got.ModelVersion)
	}
}

func TestMemoryDirectory_CreateIsCreateOnly(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	if err := dir.Create(ctx, newTestTenant("t-1", domain.TierBasic)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	dup := newTestTenant("t-1", domain.TierPremium)
	err := dir.Create(ctx, dup)
	if !errors.Is(err, domain.ErrTenantExists) {
		t.Fatalf("expected ErrTenantExists, got %v", err)
	}

	// The original record is untouched
	got, _ := dir.Get(ctx, "t-1")
	if got.Tier != domain.TierBasic {
		t.Errorf("duplicate create must not overwrite, tier = %s", got.Tier)
	}
}

func TestMemoryDirectory_GetUnknown(t *testing.T) {
	dir := NewMemoryDirectory()
	_, err := dir.Get(context.Background(), "nope")
	if !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestMemoryDirectory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	if err := dir.Create(ctx, newTestTenant("t-1", domain.TierBasic)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, _ := dir.Get(ctx, "t-1")
	got.ModelVersion = 99

	again, _ := dir.Get(ctx, "t-1")
	if again.ModelVersion != 0 {
		t.Errorf("mutating a returned record must not affect the store, version = %d", again.ModelVersion)
	}
}

func TestMemoryDirectory_PartialUpdate(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	if err := dir.Create(ctx, newTestTenant("t-1", domain.TierAdvanced)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	endpoint := "pooled-xgb"
	bucket := "pooled-data"
	if err := dir.Update(ctx, "t-1", FieldDelta{ServingEndpoint: &endpoint, DataBucket: &bucket}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, _ := dir.Get(ctx, "t-1")
	if got.ServingEndpoint != "pooled-xgb" || got.DataBucket != "pooled-data" {
		t.Errorf("fields not applied: %+v", got)
	}
	// Untouched fields survive
	if got.Name != "acme" || !got.IsActive {
		t.Errorf("partial update must not clear other fields: %+v", got)
	}
}

func TestMemoryDirectory_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	if err := dir.Create(ctx, newTestTenant("t-1", domain.TierAdvanced)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := dir.IncrementVersion(ctx, "t-1"); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	endpoint := "ep"

	t.Run("matching precondition applies", func(t *testing.T) {
		expected := int64(1)
		err := dir.Update(ctx, "t-1", FieldDelta{ServingEndpoint: &endpoint, ExpectedModelVersion: &expected})
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
	})

	t.Run("stale precondition rejected", func(t *testing.T) {
		stale := int64(0)
		err := dir.Update(ctx, "t-1", FieldDelta{ServingEndpoint: &endpoint, ExpectedModelVersion: &stale})
		if !errors.Is(err, domain.ErrConditionFailed) {
			t.Fatalf("expected ErrConditionFailed, got %v", err)
		}
	})
}

func TestMemoryDirectory_IncrementVersion_Sequential(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	if err := dir.Create(ctx, newTestTenant("t-1", domain.TierAdvanced)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for want := int64(1); want <= 5; want++ {
		got, err := dir.IncrementVersion(ctx, "t-1")
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
		if got != want {
			t.Errorf("increment %d returned %d", want, got)
		}
	}
}

// Concurrent increments must hand out each version exactly once: N racing
// callers starting at v receive exactly {v+1 .. v+N}.
func TestMemoryDirectory_IncrementVersion_Concurrent(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	if err := dir.Create(ctx, newTestTenant("t-1", domain.TierAdvanced)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	const n = 64
	results := make([]int64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := dir.IncrementVersion(ctx, "t-1")
			if err != nil {
				t.Errorf("increment failed: %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, v := range results {
		if v != int64(i+1) {
			t.Fatalf("versions not dense: position %d has %d (want %d)", i, v, i+1)
		}
	}

	tenant, _ := dir.Get(ctx, "t-1")
	if tenant.ModelVersion != n {
		t.Errorf("final version = %d, want %d", tenant.ModelVersion, n)
	}
}

func TestMemoryDirectory_IncrementUnknownTenant(t *testing.T) {
	dir := NewMemoryDirectory()
	_, err := dir.IncrementVersion(context.Background(), "nope")
	if !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestMemoryDirectory_Deactivate(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	if err := dir.Create(ctx, newTestTenant("t-1", domain.TierPremium)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := dir.Deactivate(ctx, "t-1"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	// Deactivation flips the flag; the record is never deleted.
	got, err := dir.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("deactivated tenant must remain readable: %v", err)
	}
	if got.IsActive {
		t.Error("tenant still active after deactivate")
	}
}

func TestMemoryDirectory_List(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	for _, id := range []string{"t-1", "t-2", "t-3"} {
		if err := dir.Create(ctx, newTestTenant(id, domain.TierBasic)); err != nil {
			t.Fatalf("create %s failed: %v", id, err)
		}
	}

	tenants, err := dir.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tenants) != 3 {
		t.Errorf("expected 3 tenants, got %d", len(tenants))
	}
}

func TestMemoryDirectory_Settings(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	_, err := dir.GetSetting(ctx, SettingPooledEndpoint)
	if !errors.Is(err, domain.ErrSettingNotFound) {
		t.Fatalf("expected ErrSettingNotFound, got %v", err)
	}

	if err := dir.PutSetting(ctx, SettingPooledEndpoint, "pooled-xgb"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err := dir.GetSetting(ctx, SettingPooledEndpoint)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "pooled-xgb" {
		t.Errorf("setting = %q, want pooled-xgb", got)
	}
}

func TestFieldDelta_Empty(t *testing.T) {
	if !(FieldDelta{}).Empty() {
		t.Error("zero delta must be empty")
	}
	name := "x"
	if (FieldDelta{Name: &name}).Empty() {
		t.Error("delta with a field must not be empty")
	}
	// A bare precondition carries no writes.
	expected := int64(1)
	if !(FieldDelta{ExpectedModelVersion: &expected}).Empty() {
		t.Error("precondition-only delta must be empty")
	}
}
