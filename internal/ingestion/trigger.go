package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"go.uber.org/zap"

	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/domain"
	"github.com/saasml/mlaas-platform/internal/pipeline"
	"github.com/saasml/mlaas-platform/internal/storage"
	"github.com/saasml/mlaas-platform/pkg/logger"
	"github.com/saasml/mlaas-platform/pkg/telemetry"
)

// Orchestrator is the slice of the pipeline the trigger needs.
type Orchestrator interface {
	Execute(ctx context.Context, input pipeline.RunInput) (*pipeline.Run, error)
}

// TriggerConfig carries the shared pipeline locations.
type TriggerConfig struct {
	ArtifactBucket    string
	ModelPackageGroup string
	Hyperparameters   map[string]string
}

// Trigger turns a dataset drop into a pipeline run: it resolves the tenant
// from the key prefix, splits the dataset deterministically, stages the
// partitions, and starts the orchestrator with the flat parameter list.
type Trigger struct {
	dir   directory.TenantDirectory
	store storage.ObjectStore
	orch  Orchestrator
	cfg   TriggerConfig
	log   *logger.Logger
}

func NewTrigger(dir directory.TenantDirectory, store storage.ObjectStore, orch Orchestrator, cfg TriggerConfig, log *logger.Logger) *Trigger {
	return &Trigger{dir: dir, store: store, orch: orch, cfg: cfg, log: log}
}

// Handle processes one object-created event. Non-dataset keys are skipped
// silently; validation failures are logged and dropped, they never stop the
// consumer.
func (t *Trigger) Handle(ctx context.Context, event *ObjectCreatedEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "ingestion.handle")
	defer span.End()

	if !IsDataset(event.Object.Key) {
		t.log.DebugContext(ctx, "ignoring non-dataset object", zap.String("key", event.Object.Key))
		return nil
	}

	tenantID, err := TenantFromKey(event.Object.Key)
	if err != nil {
		return err
	}
	tenant, err := t.dir.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("dataset drop for unknown tenant %s: %w", tenantID, err)
	}
	if !tenant.IsActive {
		return fmt.Errorf("%w: tenant %s is deactivated", domain.ErrValidation, tenantID)
	}

	split, err := t.splitDataset(ctx, event.Bucket.Name, event.Object.Key)
	if err != nil {
		return err
	}

	dataPrefix := tenantID + "/data"
	partitions := []struct {
		name string
		rows [][]string
	}{
		{"train", split.Train},
		{"validation", split.Validation},
		{"test", split.Test},
	}
	for _, partition := range partitions {
		encoded, err := pipeline.EncodeCSV(partition.rows)
		if err != nil {
			return fmt.Errorf("encode %s partition: %w", partition.name, err)
		}
		key := path.Join(dataPrefix, partition.name, partition.name+".csv")
		if err := t.store.Put(ctx, event.Bucket.Name, key, bytes.NewReader(encoded)); err != nil {
			return err
		}
	}

	input := pipeline.RunInput{
		TenantID:          tenantID,
		Tier:              tenant.Tier,
		Bucket:            event.Bucket.Name,
		TrainDataPath:     s3Path(event.Bucket.Name, dataPrefix, "train"),
		ValidationPath:    s3Path(event.Bucket.Name, dataPrefix, "validation"),
		TestDataPath:      s3Path(event.Bucket.Name, dataPrefix, "test"),
		ModelOutputPath:   fmt.Sprintf("s3://%s/%s/output", t.cfg.ArtifactBucket, tenantID),
		EvaluationPath:    tenantID + "/evaluation",
		ModelPackageGroup: t.cfg.ModelPackageGroup,
		TargetVersion:     tenant.ModelVersion + 1,
		SourceKey:         event.Object.Key,
		Hyperparameters:   t.cfg.Hyperparameters,
	}

	t.log.InfoContext(ctx, "dataset drop accepted, starting pipeline",
		zap.String("tenant_id", tenantID),
		zap.String("key", event.Object.Key),
		zap.Int64("target_version", input.TargetVersion),
	)
	_, err = t.orch.Execute(ctx, input)
	return err
}

func (t *Trigger) splitDataset(ctx context.Context, bucket, key string) (*pipeline.Split, error) {
	rc, err := t.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", key, err)
	}
	return pipeline.SplitCSV(bytes.NewReader(data))
}

func s3Path(bucket, prefix, partition string) string {
	return fmt.Sprintf("s3://%s/%s/%s", bucket, prefix, partition)
}
