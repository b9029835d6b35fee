package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sagemaker/sagemakeriface"

	"github.com/saasml/mlaas-platform/internal/domain"
	"github.com/saasml/mlaas-platform/internal/storage"
)

// TrainingSpec describes one training job. Hyperparameters are opaque: they
// pass through to the training container unmodified.
type TrainingSpec struct {
	JobName            string
	TenantID           string
	TrainDataPath      string
	ValidationDataPath string
	OutputPath         string
	Hyperparameters    map[string]string
}

// TrainingOutput is the result of a finished training job.
type TrainingOutput struct {
	JobName       string
	ModelDataPath string
}

// TrainingRunner runs a training job to completion. Implementations block
// with a bounded wait: expiry surfaces domain.ErrTimeout and the caller
// marks the run failed.
type TrainingRunner interface {
	Train(ctx context.Context, spec TrainingSpec) (*TrainingOutput, error)
}

// EvaluationReport carries the held-out test score of a trained model.
type EvaluationReport struct {
	MSE float64 `json:"mse"`
}

// Evaluator scores a trained model against the held-out test partition.
type Evaluator interface {
	Evaluate(ctx context.Context, modelDataPath, testDataPath, reportPath string) (*EvaluationReport, error)
}

// JobConfig holds the managed-platform knobs for training and evaluation.
type JobConfig struct {
	RoleARN       string
	TrainingImage string
	InstanceType  string
	PollInterval  time.Duration
	JobTimeout    time.Duration
}

func (c JobConfig) withDefaults() JobConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Minute
	}
	return c
}

// SageMakerTrainer implements TrainingRunner on SageMaker training jobs.
type SageMakerTrainer struct {
	client sagemakeriface.SageMakerAPI
	cfg    JobConfig
}

func NewSageMakerTrainer(sess *session.Session, cfg JobConfig) *SageMakerTrainer {
	return &SageMakerTrainer{
		client: sagemaker.New(sess),
		cfg:    cfg.withDefaults(),
	}
}

func (t *SageMakerTrainer) Train(ctx context.Context, spec TrainingSpec) (*TrainingOutput, error) {
	hyperparameters := make(map[string]*string, len(spec.Hyperparameters))
	for k, v := range spec.Hyperparameters {
		hyperparameters[k] = aws.String(v)
	}

	_, err := t.client.CreateTrainingJobWithContext(ctx, &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(spec.JobName),
		RoleArn:         aws.String(t.cfg.RoleARN),
		HyperParameters: hyperparameters,
		AlgorithmSpecification: &sagemaker.AlgorithmSpecification{
			TrainingImage:     aws.String(t.cfg.TrainingImage),
			TrainingInputMode: aws.String("File"),
		},
		InputDataConfig: []*sagemaker.Channel{
			trainingChannel("train", spec.TrainDataPath),
			trainingChannel("validation", spec.ValidationDataPath),
		},
		OutputDataConfig: &sagemaker.OutputDataConfig{
			S3OutputPath: aws.String(spec.OutputPath),
		},
		ResourceConfig: &sagemaker.ResourceConfig{
			InstanceType:   aws.String(t.cfg.InstanceType),
			InstanceCount:  aws.Int64(1),
			VolumeSizeInGB: aws.Int64(30),
		},
		StoppingCondition: &sagemaker.StoppingCondition{
			MaxRuntimeInSeconds: aws.Int64(int64(t.cfg.JobTimeout.Seconds())),
		},
		Tags: []*sagemaker.Tag{
			{Key: aws.String("TenantID"), Value: aws.String(spec.TenantID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create training job %s: %v", domain.ErrUpstream, spec.JobName, err)
	}

	return t.waitForTrainingJob(ctx, spec.JobName)
}

func trainingChannel(name, s3URI string) *sagemaker.Channel {
	return &sagemaker.Channel{
		ChannelName: aws.String(name),
		ContentType: aws.String("text/csv"),
		DataSource: &sagemaker.DataSource{
			S3DataSource: &sagemaker.S3DataSource{
				S3DataType:             aws.String("S3Prefix"),
				S3Uri:                  aws.String(s3URI),
				S3DataDistributionType: aws.String("FullyReplicated"),
			},
		},
	}
}

// waitForTrainingJob polls until the job finishes. The wait is bounded by
// the configured job timeout; expiry returns domain.ErrTimeout.
func (t *SageMakerTrainer) waitForTrainingJob(ctx context.Context, jobName string) (*TrainingOutput, error) {
	deadline := time.Now().Add(t.cfg.JobTimeout)
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		out, err := t.client.DescribeTrainingJobWithContext(ctx, &sagemaker.DescribeTrainingJobInput{
			TrainingJobName: aws.String(jobName),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: describe training job %s: %v", domain.ErrUpstream, jobName, err)
		}

		switch aws.StringValue(out.TrainingJobStatus) {
		case sagemaker.TrainingJobStatusCompleted:
			return &TrainingOutput{
				JobName:       jobName,
				ModelDataPath: aws.StringValue(out.ModelArtifacts.S3ModelArtifacts),
			}, nil
		case sagemaker.TrainingJobStatusFailed, sagemaker.TrainingJobStatusStopped:
			return nil, fmt.Errorf("%w: training job %s ended %s: %s",
				domain.ErrUpstream, jobName,
				aws.StringValue(out.TrainingJobStatus),
				aws.StringValue(out.FailureReason))
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: training job %s still running after %s",
				domain.ErrTimeout, jobName, t.cfg.JobTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// evaluationDocument is the report format the evaluation step writes:
// the score nests under regression_metrics.
type evaluationDocument struct {
	RegressionMetrics struct {
		MSE struct {
			Value float64 `json:"value"`
		} `json:"mse"`
	} `json:"regression_metrics"`
}

// StoredReportEvaluator reads the evaluation report the scoring step wrote
// next to the model artifacts and extracts the MSE.
type StoredReportEvaluator struct {
	store storage.ObjectStore
	// Bucket holding evaluation outputs.
	Bucket string
}

func NewStoredReportEvaluator(store storage.ObjectStore, bucket string) *StoredReportEvaluator {
	return &StoredReportEvaluator{store: store, Bucket: bucket}
}

func (e *StoredReportEvaluator) Evaluate(ctx context.Context, modelDataPath, testDataPath, reportPath string) (*EvaluationReport, error) {
	rc, err := e.store.Get(ctx, e.Bucket, reportPath)
	if err != nil {
		return nil, fmt.Errorf("read evaluation report %s: %w", reportPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read evaluation report %s: %w", reportPath, err)
	}

	var doc evaluationDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode evaluation report %s: %v", domain.ErrValidation, reportPath, err)
	}
	return &EvaluationReport{MSE: doc.RegressionMetrics.MSE.Value}, nil
}
