package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/domain"
	"github.com/saasml/mlaas-platform/internal/provisioning"
	"github.com/saasml/mlaas-platform/internal/routing"
	"github.com/saasml/mlaas-platform/internal/serving"
	"github.com/saasml/mlaas-platform/internal/storage"
	"github.com/saasml/mlaas-platform/pkg/logger"
	"github.com/saasml/mlaas-platform/pkg/middleware"
	"github.com/saasml/mlaas-platform/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeInvoker struct {
	lastReq serving.Request
	body    string
	err     error
}

func (f *fakeInvoker) Invoke(_ context.Context, req serving.Request) (*serving.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &serving.Response{Body: []byte(f.body)}, nil
}

type staticAuth struct {
	identity domain.Identity
	err      error
}

func (s *staticAuth) Authenticate(context.Context, string) (domain.Identity, error) {
	if s.err != nil {
		return domain.Identity{}, s.err
	}
	return s.identity, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, _ := logger.New(&logger.Config{Level: "error", ServiceName: "test"})
	return log
}

func seedTenant(t *testing.T, dir *directory.MemoryDirectory, tenant *domain.Tenant) {
	t.Helper()
	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	if err := dir.Create(context.Background(), tenant); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var envelope response.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope
}

func newGatewayForTest(t *testing.T, auth middleware.TenantAuthenticator, dir *directory.MemoryDirectory, invoker serving.Invoker, store *storage.MemoryStore) *gin.Engine {
	t.Helper()
	log := testLogger(t)

	router := routing.NewRouter(dir, invoker, "pooled-endpoint", log, nil)
	inference := NewInferenceHandler(router)
	upload := NewUploadHandler(dir, store, log)
	token := NewTokenHandler(&fakeIssuer{token: "issued-token"})
	health := NewHealthHandler(nil)

	engine := gin.New()
	authMW := middleware.TenantAuth(&middleware.AuthConfig{Authenticator: auth})
	RegisterGatewayRoutes(engine, authMW, inference, upload, token, health)
	return engine
}

type fakeIssuer struct {
	token string
	err   error
}

func (f *fakeIssuer) IssueToken(_ context.Context, tenantName, email string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if tenantName != "acme" || email != "admin@acme.test" {
		return "", domain.ErrUnauthorized
	}
	return f.token, nil
}

func TestInference_PooledSelector(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	seedTenant(t, dir, &domain.Tenant{
		TenantID:     "t-1",
		Name:         "acme",
		Tier:         domain.TierAdvanced,
		ModelVersion: 3,
		IsActive:     true,
	})
	invoker := &fakeInvoker{body: "0.73"}
	auth := &staticAuth{identity: domain.Identity{TenantID: "t-1", Tier: domain.TierAdvanced, Role: "tenant-admin"}}
	engine := newGatewayForTest(t, auth, dir, invoker, storage.NewMemoryStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/inference", bytes.NewBufferString("1.0,2.0,3.0"))
	req.Header.Set("Authorization", "Bearer tok")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	envelope := decodeEnvelope(t, w)
	if envelope.Body.Message != "0.73" {
		t.Errorf("message = %q, want model output", envelope.Body.Message)
	}
	if invoker.lastReq.Endpoint != "pooled-endpoint" {
		t.Errorf("endpoint = %q", invoker.lastReq.Endpoint)
	}
	if invoker.lastReq.TargetModel != "t-1.model.3.tar.gz" {
		t.Errorf("target model = %q", invoker.lastReq.TargetModel)
	}
}

func TestInference_EmptyPayload(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	auth := &staticAuth{identity: domain.Identity{TenantID: "t-1", Tier: domain.TierAdvanced}}
	engine := newGatewayForTest(t, auth, dir, &fakeInvoker{}, storage.NewMemoryStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/inference", nil)
	req.Header.Set("Authorization", "Bearer tok")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestInference_InvokerFailureIsFolded(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	seedTenant(t, dir, &domain.Tenant{
		TenantID: "t-1", Name: "acme", Tier: domain.TierAdvanced, IsActive: true,
	})
	invoker := &fakeInvoker{err: errors.New("ModelError: container crashed at /opt/ml")}
	auth := &staticAuth{identity: domain.Identity{TenantID: "t-1", Tier: domain.TierAdvanced}}
	engine := newGatewayForTest(t, auth, dir, invoker, storage.NewMemoryStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/inference", bytes.NewBufferString("1,2"))
	req.Header.Set("Authorization", "Bearer tok")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("ModelError")) {
		t.Error("upstream error detail leaked to the caller")
	}
}

func TestBasicInference_RejectsPooledTier(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	auth := &staticAuth{identity: domain.Identity{TenantID: "t-1", Tier: domain.TierAdvanced}}
	engine := newGatewayForTest(t, auth, dir, &fakeInvoker{}, storage.NewMemoryStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/basic_inference", bytes.NewBufferString("1,2"))
	req.Header.Set("Authorization", "Bearer tok")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for pooled tier on dedicated path", w.Code)
	}
}

func TestBasicInference_DedicatedTenant(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	seedTenant(t, dir, &domain.Tenant{
		TenantID:        "t-2",
		Name:            "smallco",
		Tier:            domain.TierBasic,
		IsActive:        true,
		ServingEndpoint: "smallco-endpoint",
	})
	invoker := &fakeInvoker{body: "0.12"}
	auth := &staticAuth{identity: domain.Identity{TenantID: "t-2", Tier: domain.TierBasic}}
	engine := newGatewayForTest(t, auth, dir, invoker, storage.NewMemoryStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/basic_inference", bytes.NewBufferString("1,2"))
	req.Header.Set("Authorization", "Bearer tok")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if invoker.lastReq.Endpoint != "smallco-endpoint" {
		t.Errorf("endpoint = %q", invoker.lastReq.Endpoint)
	}
	if invoker.lastReq.TargetModel != "" {
		t.Errorf("dedicated request carries selector %q", invoker.lastReq.TargetModel)
	}
}

func TestUpload(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	seedTenant(t, dir, &domain.Tenant{
		TenantID:   "t-1",
		Name:       "acme",
		Tier:       domain.TierAdvanced,
		IsActive:   true,
		DataBucket: "pooled-data",
	})
	store := storage.NewMemoryStore()
	auth := &staticAuth{identity: domain.Identity{TenantID: "t-1", Tier: domain.TierAdvanced}}
	engine := newGatewayForTest(t, auth, dir, &fakeInvoker{}, store)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/upload", bytes.NewBufferString("a,b,c\n1,2,3\n"))
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("file-name", "data.csv")
	req.Header.Set("file-type", "text/csv")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	got, ok := store.GetString("pooled-data", "t-1/input/data.csv")
	if !ok {
		t.Fatal("uploaded object missing")
	}
	if got != "a,b,c\n1,2,3\n" {
		t.Errorf("object content = %q", got)
	}
}

func TestUpload_StripsPathTraversal(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	seedTenant(t, dir, &domain.Tenant{
		TenantID: "t-1", Name: "acme", Tier: domain.TierAdvanced,
		IsActive: true, DataBucket: "pooled-data",
	})
	store := storage.NewMemoryStore()
	auth := &staticAuth{identity: domain.Identity{TenantID: "t-1", Tier: domain.TierAdvanced}}
	engine := newGatewayForTest(t, auth, dir, &fakeInvoker{}, store)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/upload", bytes.NewBufferString("x"))
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("file-name", "../../other-tenant/input/evil.csv")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if _, ok := store.GetString("pooled-data", "t-1/input/evil.csv"); !ok {
		t.Error("file name was not reduced to its base name")
	}
}

func TestUpload_MissingFileName(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	auth := &staticAuth{identity: domain.Identity{TenantID: "t-1", Tier: domain.TierAdvanced}}
	engine := newGatewayForTest(t, auth, dir, &fakeInvoker{}, storage.NewMemoryStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/upload", bytes.NewBufferString("x"))
	req.Header.Set("Authorization", "Bearer tok")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestTokenExchange(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	engine := newGatewayForTest(t, &staticAuth{err: domain.ErrUnauthorized}, dir, &fakeInvoker{}, storage.NewMemoryStore())

	// The /jwt path does not require a bearer token
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/jwt", nil)
	req.SetBasicAuth("admin@acme.test", "password")
	req.Header.Set("tenant-name", "acme")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	envelope := decodeEnvelope(t, w)
	data, _ := envelope.Body.Data.(map[string]interface{})
	if data["jwt"] != "issued-token" {
		t.Errorf("jwt = %v", data["jwt"])
	}
}

func TestTokenExchange_RejectionIsUniform(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	engine := newGatewayForTest(t, &staticAuth{err: domain.ErrUnauthorized}, dir, &fakeInvoker{}, storage.NewMemoryStore())

	cases := []func(r *http.Request){
		func(r *http.Request) {}, // no credentials at all
		func(r *http.Request) { r.SetBasicAuth("admin@acme.test", "pw") }, // no tenant-name
		func(r *http.Request) { // wrong email
			r.SetBasicAuth("intruder@evil.test", "pw")
			r.Header.Set("tenant-name", "acme")
		},
		func(r *http.Request) { // unknown tenant
			r.SetBasicAuth("admin@acme.test", "pw")
			r.Header.Set("tenant-name", "ghost")
		},
	}
	for i, prepare := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/jwt", nil)
		prepare(req)
		engine.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("case %d: status = %d, want 401", i, w.Code)
		}
		envelope := decodeEnvelope(t, w)
		if envelope.Body.Message != "Unauthorized" {
			t.Errorf("case %d: message = %q", i, envelope.Body.Message)
		}
	}
}

func newAdminForTest(t *testing.T) (*gin.Engine, *provisioning.MemoryPublisher) {
	t.Helper()
	dir := directory.NewMemoryDirectory()
	store := storage.NewMemoryStore()
	publisher := &provisioning.MemoryPublisher{}

	ctx := context.Background()
	for key, value := range map[string]string{
		directory.SettingPooledDataBucket: "pooled-data",
		directory.SettingPooledModelBkt:   "pooled-models",
		directory.SettingPooledEndpoint:   "pooled-endpoint",
		directory.SettingAPIEndpointURL:   "https://api.platform.test",
		directory.SettingScopedRoleARN:    "arn:aws:iam::123456789012:role/tenant-scoped",
	} {
		if err := dir.PutSetting(ctx, key, value); err != nil {
			t.Fatalf("put setting: %v", err)
		}
	}

	svc := provisioning.NewService(dir, dir, store, &provisioning.LocalIdentityAdmin{}, publisher, testLogger(t))
	engine := gin.New()
	RegisterAdminRoutes(engine, nil, NewTenantHandler(svc), NewHealthHandler(nil))
	return engine, publisher
}

func registerTenantRequest(t *testing.T, engine *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/admin/tenants", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	return w
}

func TestAdminRegisterTenant(t *testing.T) {
	engine, publisher := newAdminForTest(t)

	w := registerTenantRequest(t, engine, `{"name":"bigcorp","admin_email":"admin@bigcorp.test","tier":"premium"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	envelope := decodeEnvelope(t, w)
	data, _ := envelope.Body.Data.(map[string]interface{})
	if data["tier"] != "premium" {
		t.Errorf("tier = %v", data["tier"])
	}
	if data["model_version"] != float64(0) {
		t.Errorf("model_version = %v, want 0", data["model_version"])
	}
	if len(publisher.Events) != 1 {
		t.Errorf("premium registration published %d stack events, want 1", len(publisher.Events))
	}
}

func TestAdminRegisterTenant_Invalid(t *testing.T) {
	engine, _ := newAdminForTest(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing name", `{"admin_email":"a@b.test","tier":"basic"}`, http.StatusBadRequest},
		{"bad email", `{"name":"acme","admin_email":"nope","tier":"basic"}`, http.StatusBadRequest},
		{"bad tier", `{"name":"acme","admin_email":"a@b.test","tier":"platinum"}`, http.StatusBadRequest},
		{"not json", `hello`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := registerTenantRequest(t, engine, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAdminRegisterTenant_Duplicate(t *testing.T) {
	engine, _ := newAdminForTest(t)

	body := `{"name":"acme","admin_email":"admin@acme.test","tier":"basic"}`
	if w := registerTenantRequest(t, engine, body); w.Code != http.StatusCreated {
		t.Fatalf("first register status = %d", w.Code)
	}
	if w := registerTenantRequest(t, engine, body); w.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", w.Code)
	}
}

func TestAdminTenantLifecycle(t *testing.T) {
	engine, _ := newAdminForTest(t)

	w := registerTenantRequest(t, engine, `{"name":"acme","admin_email":"admin@acme.test","tier":"advanced"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d", w.Code)
	}
	envelope := decodeEnvelope(t, w)
	data, _ := envelope.Body.Data.(map[string]interface{})
	id, _ := data["tenant_id"].(string)
	if id == "" {
		t.Fatal("tenant id missing from response")
	}

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/admin/tenants/"+id, nil))
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/admin/tenants", nil))
	if w.Code != http.StatusOK {
		t.Errorf("list status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("POST", "/admin/tenants/"+id+"/provision", nil))
	if w.Code != http.StatusOK {
		t.Errorf("re-provision status = %d, body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("DELETE", "/admin/tenants/"+id, nil))
	if w.Code != http.StatusOK {
		t.Errorf("deactivate status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/admin/tenants/"+id, nil))
	envelope = decodeEnvelope(t, w)
	data, _ = envelope.Body.Data.(map[string]interface{})
	if data["is_active"] != false {
		t.Error("tenant still active after deactivation")
	}
}

func TestAdminGetTenant_NotFound(t *testing.T) {
	engine, _ := newAdminForTest(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/admin/tenants/ghost", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHealthReady_Degraded(t *testing.T) {
	health := NewHealthHandler(map[string]HealthCheck{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	engine := gin.New()
	engine.GET("/ready", health.Ready)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "degraded" {
		t.Errorf("status field = %v", body["status"])
	}
}
