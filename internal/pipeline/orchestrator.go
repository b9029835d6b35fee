package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saasml/mlaas-platform/internal/domain"
	"github.com/saasml/mlaas-platform/pkg/logger"
	"github.com/saasml/mlaas-platform/pkg/telemetry"
)

// RunInput is the flat parameter list a pipeline run starts from.
type RunInput struct {
	TenantID          string
	Tier              domain.Tier
	Bucket            string
	TrainDataPath     string
	ValidationPath    string
	TestDataPath      string
	ModelOutputPath   string
	EvaluationPath    string
	ModelPackageGroup string
	TargetVersion     int64
	// SourceKey identifies the dataset drop the run was started for, used
	// to recognize at-least-once redeliveries of the same drop.
	SourceKey       string
	Hyperparameters map[string]string
}

// Orchestrator drives one dataset drop through training, evaluation,
// registration and promotion. Every step failure lands the run in FAILED;
// a model that scores worse than the threshold lands it in REJECTED. Only
// COMPLETED runs change what serves traffic.
type Orchestrator struct {
	machine   *RunMachine
	trainer   TrainingRunner
	evaluator Evaluator
	registry  ModelRegistry
	promoter  *Promoter
	log       *logger.Logger
	metrics   *telemetry.PipelineMetrics

	// threshold is the inclusive promotion gate: promote iff mse <= threshold.
	threshold float64
}

func NewOrchestrator(machine *RunMachine, trainer TrainingRunner, evaluator Evaluator, registry ModelRegistry, promoter *Promoter, threshold float64, log *logger.Logger, metrics *telemetry.PipelineMetrics) *Orchestrator {
	return &Orchestrator{
		machine:   machine,
		trainer:   trainer,
		evaluator: evaluator,
		registry:  registry,
		promoter:  promoter,
		threshold: threshold,
		log:       log,
		metrics:   metrics,
	}
}

// Execute runs the pipeline to a terminal state. The returned run reflects
// that state; the error is non-nil only when even recording the failure did
// not succeed.
func (o *Orchestrator) Execute(ctx context.Context, input RunInput) (*Run, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.execute")
	defer span.End()
	start := time.Now()

	if prior, err := o.replayOf(ctx, input); err != nil {
		return nil, err
	} else if prior != nil {
		o.log.InfoContext(ctx, "dataset drop already handled, skipping redelivery",
			zap.String("run_id", prior.ID),
			zap.String("tenant_id", input.TenantID),
			zap.String("source_key", input.SourceKey),
			zap.String("state", string(prior.State)),
		)
		return prior, nil
	}

	run, err := o.machine.CreateRun(ctx, input.TenantID, input.Tier, input.TargetVersion, input.SourceKey)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RunsStarted.Inc(ctx, telemetry.TenantIDAttr(input.TenantID))
	}
	o.log.InfoContext(ctx, "pipeline run started",
		zap.String("run_id", run.ID),
		zap.String("tenant_id", input.TenantID),
		zap.String("tier", input.Tier.String()),
		zap.Int64("target_version", input.TargetVersion),
	)

	run, err = o.execute(ctx, run, input)
	if err != nil {
		failed, markErr := o.machine.MarkFailed(ctx, run.ID, err.Error())
		if markErr != nil {
			return run, fmt.Errorf("run %s failed (%v) and could not be marked: %w", run.ID, err, markErr)
		}
		run = failed
	}

	if o.metrics != nil {
		o.metrics.RunsCompleted.Inc(ctx, telemetry.RunOutcomeAttr(strings.ToLower(string(run.State))))
		o.metrics.RunDuration.Record(ctx, time.Since(start).Seconds(), telemetry.TenantIDAttr(input.TenantID))
	}
	o.log.InfoContext(ctx, "pipeline run finished",
		zap.String("run_id", run.ID),
		zap.String("state", string(run.State)),
	)
	return run, nil
}

// replayOf returns the terminal run that already handled this dataset
// drop, or nil when the drop is new. The consumer commits offsets only
// after handling, so a crash in that window redelivers the same drop; the
// redelivery must not train or promote a second time. A FAILED run does
// not count: the redelivery is the retry. A COMPLETED run counts only once
// its promotion is fully applied, so a crash mid-promotion still reruns.
func (o *Orchestrator) replayOf(ctx context.Context, input RunInput) (*Run, error) {
	if input.SourceKey == "" {
		return nil, nil
	}
	last, err := o.machine.LatestRun(ctx, input.TenantID)
	if err != nil || last == nil {
		return nil, err
	}
	if last.SourceKey != input.SourceKey || !last.State.IsTerminal() || last.State == StateFailed {
		return nil, nil
	}
	if last.State == StateCompleted {
		applied, err := o.promoter.AlreadyPromoted(ctx, input.TenantID, last.TargetVersion)
		if err != nil || !applied {
			return nil, err
		}
	}
	return last, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, input RunInput) (*Run, error) {
	jobName := fmt.Sprintf("%s-train-%s", input.TenantID, run.ID[:8])

	run, err := o.machine.MarkTraining(ctx, run.ID, jobName)
	if err != nil {
		return run, err
	}
	trained, err := o.trainer.Train(ctx, TrainingSpec{
		JobName:            jobName,
		TenantID:           input.TenantID,
		TrainDataPath:      input.TrainDataPath,
		ValidationDataPath: input.ValidationPath,
		OutputPath:         input.ModelOutputPath,
		Hyperparameters:    input.Hyperparameters,
	})
	if err != nil {
		return run, err
	}

	run, err = o.machine.MarkEvaluating(ctx, run.ID, trained.ModelDataPath)
	if err != nil {
		return run, err
	}
	report, err := o.evaluator.Evaluate(ctx, trained.ModelDataPath, input.TestDataPath, input.EvaluationPath)
	if err != nil {
		return run, err
	}

	// Inclusive gate: a score exactly on the threshold promotes.
	if report.MSE > o.threshold {
		o.log.InfoContext(ctx, "model rejected by evaluation gate",
			zap.String("run_id", run.ID),
			zap.Float64("mse", report.MSE),
			zap.Float64("threshold", o.threshold),
		)
		return o.machine.MarkRejected(ctx, run.ID, report.MSE)
	}

	run, err = o.machine.MarkRegistering(ctx, run.ID, report.MSE)
	if err != nil {
		return run, err
	}
	packageARN, err := o.registry.Register(ctx, Registration{
		TenantID:      input.TenantID,
		Version:       input.TargetVersion,
		ModelDataPath: trained.ModelDataPath,
		MSE:           report.MSE,
	})
	if err != nil {
		return run, err
	}

	srcBucket, srcKey, err := parseS3URI(trained.ModelDataPath)
	if err != nil {
		return run, err
	}

	var version int64
	if input.Tier.Pooled() {
		version, err = o.promoter.PromotePooled(ctx, input.TenantID, srcBucket, srcKey)
	} else {
		version, err = o.promoter.PromoteDedicated(ctx, input.TenantID, srcBucket, srcKey)
	}
	if err != nil {
		return run, err
	}
	if o.metrics != nil {
		o.metrics.Promotions.Inc(ctx,
			telemetry.TenantIDAttr(input.TenantID),
			telemetry.ModelVersionAttr(version),
		)
	}

	return o.machine.MarkCompleted(ctx, run.ID, packageARN)
}

// parseS3URI splits s3://bucket/key into its parts.
func parseS3URI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	if trimmed == uri {
		return "", "", fmt.Errorf("%w: not an s3 uri: %q", domain.ErrValidation, uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: malformed s3 uri: %q", domain.ErrValidation, uri)
	}
	return parts[0], parts[1], nil
}
