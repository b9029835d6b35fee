package routing

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/domain"
	"github.com/saasml/mlaas-platform/internal/serving"
	"github.com/saasml/mlaas-platform/pkg/logger"
)

// fakeInvoker records the last request and returns a canned response.
type fakeInvoker struct {
	lastReq serving.Request
	resp    *serving.Response
	err     error
}

func (f *fakeInvoker) Invoke(ctx context.Context, req serving.Request) (*serving.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func seedTenant(t *testing.T, dir directory.TenantDirectory, id string, tier domain.Tier, version int64, endpoint string) {
	t.Helper()
	now := time.Now().UTC()
	tenant := &domain.Tenant{
		TenantID:        id,
		Name:            "acme",
		Tier:            tier,
		ModelVersion:    0,
		IsActive:        true,
		ServingEndpoint: endpoint,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := dir.Create(context.Background(), tenant); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	for v := int64(0); v < version; v++ {
		if _, err := dir.IncrementVersion(context.Background(), id); err != nil {
			t.Fatalf("seed version: %v", err)
		}
	}
}

func newTestRouter(dir directory.TenantDirectory, invoker serving.Invoker) *Router {
	log, _ := logger.New(&logger.Config{Level: "error", ServiceName: "test"})
	return NewRouter(dir, invoker, "pooled-xgb", log, nil)
}

func TestRoute_PooledTierUsesSelector(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	seedTenant(t, dir, "t-adv", domain.TierAdvanced, 3, "")

	invoker := &fakeInvoker{resp: &serving.Response{Body: []byte("0.42")}}
	router := newTestRouter(dir, invoker)

	identity := domain.Identity{TenantID: "t-adv", Tier: domain.TierAdvanced}
	result := router.Route(context.Background(), identity, []byte("1,2,3"))

	if result.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", result.StatusCode)
	}
	if result.Message != "0.42" {
		t.Errorf("message = %q, want endpoint body", result.Message)
	}
	if invoker.lastReq.Endpoint != "pooled-xgb" {
		t.Errorf("endpoint = %q, want pooled-xgb", invoker.lastReq.Endpoint)
	}
	if invoker.lastReq.TargetModel != "t-adv.model.3.tar.gz" {
		t.Errorf("target model = %q, want t-adv.model.3.tar.gz", invoker.lastReq.TargetModel)
	}
}

func TestRoute_DedicatedTierNoSelector(t *testing.T) {
	for _, tier := range []domain.Tier{domain.TierBasic, domain.TierPremium} {
		t.Run(tier.String(), func(t *testing.T) {
			dir := directory.NewMemoryDirectory()
			seedTenant(t, dir, "t-ded", tier, 2, "t-ded-endpoint")

			invoker := &fakeInvoker{resp: &serving.Response{Body: []byte("ok")}}
			router := newTestRouter(dir, invoker)

			identity := domain.Identity{TenantID: "t-ded", Tier: tier}
			result := router.Route(context.Background(), identity, []byte("1,2"))

			if result.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", result.StatusCode)
			}
			if invoker.lastReq.Endpoint != "t-ded-endpoint" {
				t.Errorf("endpoint = %q, want t-ded-endpoint", invoker.lastReq.Endpoint)
			}
			if invoker.lastReq.TargetModel != "" {
				t.Errorf("dedicated routing must not set a selector, got %q", invoker.lastReq.TargetModel)
			}
		})
	}
}

// A promotion between authentication and invocation must be visible: the
// selector comes from a fresh directory read, not the identity snapshot.
func TestRoute_SelectorReflectsFreshVersion(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	seedTenant(t, dir, "t-adv", domain.TierAdvanced, 1, "")

	invoker := &fakeInvoker{resp: &serving.Response{Body: []byte("ok")}}
	router := newTestRouter(dir, invoker)

	// Identity carries the version at token time
	identity := domain.Identity{TenantID: "t-adv", Tier: domain.TierAdvanced, ModelVersion: 1}

	// Promotion lands before the request is routed
	if _, err := dir.IncrementVersion(context.Background(), "t-adv"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	router.Route(context.Background(), identity, []byte("1"))

	if invoker.lastReq.TargetModel != "t-adv.model.2.tar.gz" {
		t.Errorf("selector = %q, want the freshly promoted version 2", invoker.lastReq.TargetModel)
	}
}

func TestRoute_InvokerErrorFoldedIntoResult(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	seedTenant(t, dir, "t-adv", domain.TierAdvanced, 1, "")

	invoker := &fakeInvoker{err: errors.New("endpoint exploded")}
	router := newTestRouter(dir, invoker)

	identity := domain.Identity{TenantID: "t-adv", Tier: domain.TierAdvanced}
	result := router.Route(context.Background(), identity, []byte("1"))

	if result.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", result.StatusCode)
	}
	if result.Message == "" || result.Message == "endpoint exploded" {
		t.Errorf("raw upstream error must not leak, got %q", result.Message)
	}
}

func TestRoute_UnknownTenant(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	invoker := &fakeInvoker{resp: &serving.Response{Body: []byte("ok")}}
	router := newTestRouter(dir, invoker)

	identity := domain.Identity{TenantID: "ghost", Tier: domain.TierAdvanced}
	result := router.Route(context.Background(), identity, []byte("1"))

	if result.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", result.StatusCode)
	}
}

func TestRoute_DedicatedWithoutEndpoint(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	seedTenant(t, dir, "t-basic", domain.TierBasic, 0, "")

	invoker := &fakeInvoker{resp: &serving.Response{Body: []byte("ok")}}
	router := newTestRouter(dir, invoker)

	identity := domain.Identity{TenantID: "t-basic", Tier: domain.TierBasic}
	result := router.Route(context.Background(), identity, []byte("1"))

	if result.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 when no endpoint provisioned", result.StatusCode)
	}
}

func TestRoute_ScopedCredentialsPassedThrough(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	seedTenant(t, dir, "t-adv", domain.TierAdvanced, 1, "")

	invoker := &fakeInvoker{resp: &serving.Response{Body: []byte("ok")}}
	router := newTestRouter(dir, invoker)

	identity := domain.Identity{
		TenantID: "t-adv",
		Tier:     domain.TierAdvanced,
		Credentials: domain.ScopedCredentials{
			AccessKeyID:     "AKID",
			SecretAccessKey: "secret",
			SessionToken:    "token",
		},
	}
	router.Route(context.Background(), identity, []byte("1"))

	if invoker.lastReq.Credentials.AccessKeyID != "AKID" {
		t.Error("scoped credentials not forwarded to the invoker")
	}
}
