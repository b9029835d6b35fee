package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/domain"
	"github.com/saasml/mlaas-platform/internal/pipeline"
	"github.com/saasml/mlaas-platform/internal/storage"
	"github.com/saasml/mlaas-platform/pkg/logger"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "valid event",
			payload: `{"bucket": {"name": "pooled-data"}, "object": {"key": "t-1/input/data.csv"}}`,
		},
		{
			name:    "not json",
			payload: `<xml/>`,
			wantErr: true,
		},
		{
			name:    "missing bucket",
			payload: `{"object": {"key": "t-1/input/data.csv"}}`,
			wantErr: true,
		},
		{
			name:    "missing key",
			payload: `{"bucket": {"name": "pooled-data"}, "object": {}}`,
			wantErr: true,
		},
		{
			name:    "empty payload",
			payload: ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := DecodeEvent([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if event.Bucket.Name != "pooled-data" || event.Object.Key != "t-1/input/data.csv" {
				t.Errorf("decoded event = %+v", event)
			}
		})
	}
}

func TestTenantFromKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"t-1/input/data.csv", "t-1", false},
		{"t-1/data.csv", "t-1", false},
		{"noprefix.csv", "", true},
		{"/leading/slash.csv", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := TenantFromKey(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("tenant = %q, want %q", got, tt.want)
			}
		})
	}
}

type recordingOrchestrator struct {
	inputs []pipeline.RunInput
	err    error
}

func (r *recordingOrchestrator) Execute(ctx context.Context, input pipeline.RunInput) (*pipeline.Run, error) {
	r.inputs = append(r.inputs, input)
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.Run{ID: "run-1", State: pipeline.StateCompleted}, nil
}

func newTriggerFixture(t *testing.T) (*Trigger, *storage.MemoryStore, *recordingOrchestrator, *directory.MemoryDirectory) {
	t.Helper()
	dir := directory.NewMemoryDirectory()
	store := storage.NewMemoryStore()
	orch := &recordingOrchestrator{}

	now := time.Now().UTC()
	err := dir.Create(context.Background(), &domain.Tenant{
		TenantID:     "t-1",
		Name:         "acme",
		Tier:         domain.TierAdvanced,
		ModelVersion: 2,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	log, _ := logger.New(&logger.Config{Level: "error", ServiceName: "test"})
	trigger := NewTrigger(dir, store, orch, TriggerConfig{
		ArtifactBucket:    "artifacts",
		ModelPackageGroup: "mlaas-models",
		Hyperparameters:   map[string]string{"objective": "reg:linear"},
	}, log)
	return trigger, store, orch, dir
}

func seedDataset(store *storage.MemoryStore, bucket, key string, rows int) {
	var sb strings.Builder
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "%d,1.0,2.0\n", i)
	}
	store.PutString(bucket, key, sb.String())
}

func datasetEvent(bucket, key string) *ObjectCreatedEvent {
	var event ObjectCreatedEvent
	event.Bucket.Name = bucket
	event.Object.Key = key
	return &event
}

func TestHandle_SplitsAndStartsPipeline(t *testing.T) {
	trigger, store, orch, _ := newTriggerFixture(t)
	seedDataset(store, "pooled-data", "t-1/input/data.csv", 100)

	err := trigger.Handle(context.Background(), datasetEvent("pooled-data", "t-1/input/data.csv"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	// Partitions staged under the tenant's data prefix
	train, ok := store.GetString("pooled-data", "t-1/data/train/train.csv")
	if !ok {
		t.Fatal("train partition missing")
	}
	if got := len(strings.Split(strings.TrimSpace(train), "\n")); got != 70 {
		t.Errorf("train rows = %d, want 70", got)
	}
	if _, ok := store.GetString("pooled-data", "t-1/data/validation/validation.csv"); !ok {
		t.Error("validation partition missing")
	}
	if _, ok := store.GetString("pooled-data", "t-1/data/test/test.csv"); !ok {
		t.Error("test partition missing")
	}

	if len(orch.inputs) != 1 {
		t.Fatalf("orchestrator started %d times, want 1", len(orch.inputs))
	}
	input := orch.inputs[0]
	if input.TenantID != "t-1" || input.Tier != domain.TierAdvanced {
		t.Errorf("input tenant/tier = %s/%s", input.TenantID, input.Tier)
	}
	if input.TargetVersion != 3 {
		t.Errorf("target version = %d, want current+1 = 3", input.TargetVersion)
	}
	if input.TrainDataPath != "s3://pooled-data/t-1/data/train" {
		t.Errorf("train path = %q", input.TrainDataPath)
	}
	if input.SourceKey != "t-1/input/data.csv" {
		t.Errorf("source key = %q, want the dropped object's key", input.SourceKey)
	}
	if input.Hyperparameters["objective"] != "reg:linear" {
		t.Error("hyperparameters not passed through")
	}
}

func TestHandle_IgnoresNonDatasetKeys(t *testing.T) {
	trigger, _, orch, _ := newTriggerFixture(t)

	for _, key := range []string{"t-1/input/", "t-1/input/readme.txt", "t-1/input/data.json"} {
		if err := trigger.Handle(context.Background(), datasetEvent("pooled-data", key)); err != nil {
			t.Errorf("key %q: unexpected error %v", key, err)
		}
	}
	if len(orch.inputs) != 0 {
		t.Errorf("non-dataset keys must not start runs, got %d", len(orch.inputs))
	}
}

func TestHandle_UnknownTenant(t *testing.T) {
	trigger, store, orch, _ := newTriggerFixture(t)
	seedDataset(store, "pooled-data", "ghost/input/data.csv", 10)

	err := trigger.Handle(context.Background(), datasetEvent("pooled-data", "ghost/input/data.csv"))
	if !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
	if len(orch.inputs) != 0 {
		t.Error("unknown tenant must not start a run")
	}
}

func TestHandle_DeactivatedTenant(t *testing.T) {
	trigger, store, orch, dir := newTriggerFixture(t)
	seedDataset(store, "pooled-data", "t-1/input/data.csv", 10)
	if err := dir.Deactivate(context.Background(), "t-1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	err := trigger.Handle(context.Background(), datasetEvent("pooled-data", "t-1/input/data.csv"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(orch.inputs) != 0 {
		t.Error("deactivated tenant must not start a run")
	}
}

func TestHandle_MalformedDataset(t *testing.T) {
	trigger, store, orch, _ := newTriggerFixture(t)
	store.PutString("pooled-data", "t-1/input/data.csv", "a,\"broken\n")

	err := trigger.Handle(context.Background(), datasetEvent("pooled-data", "t-1/input/data.csv"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(orch.inputs) != 0 {
		t.Error("malformed dataset must not start a run")
	}
}

type stubTrainer struct {
	output *pipeline.TrainingOutput
	calls  int
}

func (s *stubTrainer) Train(ctx context.Context, spec pipeline.TrainingSpec) (*pipeline.TrainingOutput, error) {
	s.calls++
	return s.output, nil
}

type stubEvaluator struct{ mse float64 }

func (s *stubEvaluator) Evaluate(ctx context.Context, modelDataPath, testDataPath, reportPath string) (*pipeline.EvaluationReport, error) {
	return &pipeline.EvaluationReport{MSE: s.mse}, nil
}

// The consumer commits offsets only after handling, so a crash in that
// window delivers the same object-created event twice. The second delivery
// must not train or promote another version.
func TestHandle_RedeliveredEventPromotesOnce(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	store := storage.NewMemoryStore()

	now := time.Now().UTC()
	err := dir.Create(context.Background(), &domain.Tenant{
		TenantID:    "t-1",
		Name:        "acme",
		Tier:        domain.TierAdvanced,
		IsActive:    true,
		ModelBucket: "models",
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	log, _ := logger.New(&logger.Config{Level: "error", ServiceName: "test"})
	trainer := &stubTrainer{output: &pipeline.TrainingOutput{
		JobName:       "job",
		ModelDataPath: "s3://artifacts/output/model.tar.gz",
	}}
	machine := pipeline.NewRunMachine(pipeline.NewMemoryRunStore())
	promoter := pipeline.NewPromoter(dir, store, &pipeline.MemoryDeployer{}, log)
	orch := pipeline.NewOrchestrator(machine, trainer, &stubEvaluator{mse: 0.2},
		&pipeline.MemoryRegistry{}, promoter, 0.5, log, nil)

	trigger := NewTrigger(dir, store, orch, TriggerConfig{
		ArtifactBucket:    "artifacts",
		ModelPackageGroup: "mlaas-models",
	}, log)

	store.PutString("artifacts", "output/model.tar.gz", "weights")
	seedDataset(store, "pooled-data", "t-1/input/data.csv", 100)
	event := datasetEvent("pooled-data", "t-1/input/data.csv")

	if err := trigger.Handle(context.Background(), event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := trigger.Handle(context.Background(), event); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	tenant, _ := dir.Get(context.Background(), "t-1")
	if tenant.ModelVersion != 1 {
		t.Errorf("version = %d after redelivery, want 1", tenant.ModelVersion)
	}
	if trainer.calls != 1 {
		t.Errorf("trainer ran %d times, want 1", trainer.calls)
	}
	if ok, _ := store.Exists(context.Background(), "models", "t-1.model.2.tar.gz"); ok {
		t.Error("redelivery promoted a second version")
	}
}
