package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sagemaker/sagemakeriface"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// Registration is the metadata recorded for an approved model version.
// Registration is bookkeeping only; it never changes which model serves.
type Registration struct {
	TenantID      string
	Version       int64
	ModelDataPath string
	MSE           float64
}

// ModelRegistry records approved model versions in the model catalog.
type ModelRegistry interface {
	Register(ctx context.Context, reg Registration) (packageARN string, err error)
}

// SageMakerRegistry implements ModelRegistry on SageMaker model packages.
type SageMakerRegistry struct {
	client            sagemakeriface.SageMakerAPI
	modelPackageGroup string
	inferenceImage    string
}

func NewSageMakerRegistry(sess *session.Session, modelPackageGroup, inferenceImage string) *SageMakerRegistry {
	return &SageMakerRegistry{
		client:            sagemaker.New(sess),
		modelPackageGroup: modelPackageGroup,
		inferenceImage:    inferenceImage,
	}
}

func (r *SageMakerRegistry) Register(ctx context.Context, reg Registration) (string, error) {
	out, err := r.client.CreateModelPackageWithContext(ctx, &sagemaker.CreateModelPackageInput{
		ModelPackageGroupName: aws.String(r.modelPackageGroup),
		ModelApprovalStatus:   aws.String(sagemaker.ModelApprovalStatusApproved),
		ModelPackageDescription: aws.String(fmt.Sprintf(
			"tenant %s version %d, mse %g", reg.TenantID, reg.Version, reg.MSE)),
		InferenceSpecification: &sagemaker.InferenceSpecification{
			Containers: []*sagemaker.ModelPackageContainerDefinition{
				{
					Image:        aws.String(r.inferenceImage),
					ModelDataUrl: aws.String(reg.ModelDataPath),
				},
			},
			SupportedContentTypes:      aws.StringSlice([]string{"text/csv"}),
			SupportedResponseMIMETypes: aws.StringSlice([]string{"text/csv"}),
			SupportedRealtimeInferenceInstanceTypes: aws.StringSlice([]string{
				"ml.t2.medium", "ml.m5.large",
			}),
			SupportedTransformInstanceTypes: aws.StringSlice([]string{"ml.m5.large"}),
		},
		CustomerMetadataProperties: map[string]*string{
			"TenantID": aws.String(reg.TenantID),
			"Version":  aws.String(fmt.Sprintf("%d", reg.Version)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: register model package for %s: %v", domain.ErrUpstream, reg.TenantID, err)
	}
	return aws.StringValue(out.ModelPackageArn), nil
}

// MemoryRegistry records registrations in memory, for tests.
type MemoryRegistry struct {
	mu            sync.Mutex
	Registrations []Registration
	Err           error
}

func (r *MemoryRegistry) Register(ctx context.Context, reg Registration) (string, error) {
	if r.Err != nil {
		return "", r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Registrations = append(r.Registrations, reg)
	return fmt.Sprintf("arn:mem:model-package/%s/%d", reg.TenantID, reg.Version), nil
}
