package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sagemaker/sagemakeriface"

	"github.com/saasml/mlaas-platform/internal/domain"
	"github.com/saasml/mlaas-platform/internal/storage"
)

// SageMakerEvaluator scores a model with a processing job and then reads
// the report it wrote. The job runs the scoring image against the model
// artifact and the held-out test partition.
type SageMakerEvaluator struct {
	client sagemakeriface.SageMakerAPI
	report *StoredReportEvaluator
	cfg    JobConfig
	// ScoringImage is the container that computes the evaluation report.
	ScoringImage string
}

func NewSageMakerEvaluator(sess *session.Session, store storage.ObjectStore, bucket, scoringImage string, cfg JobConfig) *SageMakerEvaluator {
	return &SageMakerEvaluator{
		client:       sagemaker.New(sess),
		report:       NewStoredReportEvaluator(store, bucket),
		cfg:          cfg.withDefaults(),
		ScoringImage: scoringImage,
	}
}

func (e *SageMakerEvaluator) Evaluate(ctx context.Context, modelDataPath, testDataPath, reportPath string) (*EvaluationReport, error) {
	jobName := fmt.Sprintf("evaluation-%d", time.Now().UnixNano())

	_, err := e.client.CreateProcessingJobWithContext(ctx, &sagemaker.CreateProcessingJobInput{
		ProcessingJobName: aws.String(jobName),
		RoleArn:           aws.String(e.cfg.RoleARN),
		AppSpecification: &sagemaker.AppSpecification{
			ImageUri: aws.String(e.ScoringImage),
		},
		ProcessingInputs: []*sagemaker.ProcessingInput{
			processingInput("model", modelDataPath, "/opt/ml/processing/model"),
			processingInput("test", testDataPath, "/opt/ml/processing/test"),
		},
		ProcessingOutputConfig: &sagemaker.ProcessingOutputConfig{
			Outputs: []*sagemaker.ProcessingOutput{
				{
					OutputName: aws.String("evaluation"),
					S3Output: &sagemaker.ProcessingS3Output{
						S3Uri:        aws.String("s3://" + e.report.Bucket + "/" + reportPath),
						LocalPath:    aws.String("/opt/ml/processing/evaluation"),
						S3UploadMode: aws.String("EndOfJob"),
					},
				},
			},
		},
		ProcessingResources: &sagemaker.ProcessingResources{
			ClusterConfig: &sagemaker.ProcessingClusterConfig{
				InstanceType:   aws.String(e.cfg.InstanceType),
				InstanceCount:  aws.Int64(1),
				VolumeSizeInGB: aws.Int64(30),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create processing job %s: %v", domain.ErrUpstream, jobName, err)
	}

	if err := e.waitForProcessingJob(ctx, jobName); err != nil {
		return nil, err
	}
	return e.report.Evaluate(ctx, modelDataPath, testDataPath, reportPath+"/evaluation.json")
}

func processingInput(name, s3URI, localPath string) *sagemaker.ProcessingInput {
	return &sagemaker.ProcessingInput{
		InputName: aws.String(name),
		S3Input: &sagemaker.ProcessingS3Input{
			S3Uri:       aws.String(s3URI),
			LocalPath:   aws.String(localPath),
			S3DataType:  aws.String("S3Prefix"),
			S3InputMode: aws.String("File"),
		},
	}
}

func (e *SageMakerEvaluator) waitForProcessingJob(ctx context.Context, jobName string) error {
	deadline := time.Now().Add(e.cfg.JobTimeout)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		out, err := e.client.DescribeProcessingJobWithContext(ctx, &sagemaker.DescribeProcessingJobInput{
			ProcessingJobName: aws.String(jobName),
		})
		if err != nil {
			return fmt.Errorf("%w: describe processing job %s: %v", domain.ErrUpstream, jobName, err)
		}

		switch aws.StringValue(out.ProcessingJobStatus) {
		case sagemaker.ProcessingJobStatusCompleted:
			return nil
		case sagemaker.ProcessingJobStatusFailed, sagemaker.ProcessingJobStatusStopped:
			return fmt.Errorf("%w: processing job %s ended %s: %s",
				domain.ErrUpstream, jobName,
				aws.StringValue(out.ProcessingJobStatus),
				aws.StringValue(out.ExitMessage))
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: processing job %s still running after %s",
				domain.ErrTimeout, jobName, e.cfg.JobTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
