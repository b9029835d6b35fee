package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sagemaker/sagemakeriface"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// ModelDeployer rolls a dedicated tenant endpoint onto a new model
// artifact. Pooled tenants never use this: their endpoint loads artifacts
// by name at request time.
type ModelDeployer interface {
	Deploy(ctx context.Context, tenantID, endpointName, modelDataPath string) error
}

// SageMakerDeployer implements ModelDeployer with an endpoint-config swap
// and a bounded wait for the endpoint to report healthy again.
type SageMakerDeployer struct {
	client         sagemakeriface.SageMakerAPI
	roleARN        string
	inferenceImage string
	instanceType   string
	pollInterval   time.Duration
	deployTimeout  time.Duration
}

func NewSageMakerDeployer(sess *session.Session, roleARN, inferenceImage, instanceType string, pollInterval, deployTimeout time.Duration) *SageMakerDeployer {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if deployTimeout <= 0 {
		deployTimeout = 20 * time.Minute
	}
	return &SageMakerDeployer{
		client:         sagemaker.New(sess),
		roleARN:        roleARN,
		inferenceImage: inferenceImage,
		instanceType:   instanceType,
		pollInterval:   pollInterval,
		deployTimeout:  deployTimeout,
	}
}

func (d *SageMakerDeployer) Deploy(ctx context.Context, tenantID, endpointName, modelDataPath string) error {
	stamp := time.Now().Unix()
	modelName := fmt.Sprintf("%s-model-%d", tenantID, stamp)
	configName := fmt.Sprintf("%s-config-%d", tenantID, stamp)

	_, err := d.client.CreateModelWithContext(ctx, &sagemaker.CreateModelInput{
		ModelName:        aws.String(modelName),
		ExecutionRoleArn: aws.String(d.roleARN),
		PrimaryContainer: &sagemaker.ContainerDefinition{
			Image:        aws.String(d.inferenceImage),
			ModelDataUrl: aws.String(modelDataPath),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create model %s: %v", domain.ErrUpstream, modelName, err)
	}

	_, err = d.client.CreateEndpointConfigWithContext(ctx, &sagemaker.CreateEndpointConfigInput{
		EndpointConfigName: aws.String(configName),
		ProductionVariants: []*sagemaker.ProductionVariant{
			{
				VariantName:          aws.String("AllTraffic"),
				ModelName:            aws.String(modelName),
				InstanceType:         aws.String(d.instanceType),
				InitialInstanceCount: aws.Int64(1),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create endpoint config %s: %v", domain.ErrUpstream, configName, err)
	}

	_, err = d.client.UpdateEndpointWithContext(ctx, &sagemaker.UpdateEndpointInput{
		EndpointName:       aws.String(endpointName),
		EndpointConfigName: aws.String(configName),
	})
	if err != nil {
		return fmt.Errorf("%w: update endpoint %s: %v", domain.ErrUpstream, endpointName, err)
	}

	return d.waitForEndpoint(ctx, endpointName)
}

func (d *SageMakerDeployer) waitForEndpoint(ctx context.Context, endpointName string) error {
	deadline := time.Now().Add(d.deployTimeout)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		out, err := d.client.DescribeEndpointWithContext(ctx, &sagemaker.DescribeEndpointInput{
			EndpointName: aws.String(endpointName),
		})
		if err != nil {
			return fmt.Errorf("%w: describe endpoint %s: %v", domain.ErrUpstream, endpointName, err)
		}

		switch aws.StringValue(out.EndpointStatus) {
		case sagemaker.EndpointStatusInService:
			return nil
		case sagemaker.EndpointStatusFailed:
			return fmt.Errorf("%w: endpoint %s failed: %s",
				domain.ErrUpstream, endpointName, aws.StringValue(out.FailureReason))
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: endpoint %s not in service after %s",
				domain.ErrTimeout, endpointName, d.deployTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// MemoryDeployer records deployments, for tests.
type MemoryDeployer struct {
	mu          sync.Mutex
	Deployments []string
	Err         error
}

func (d *MemoryDeployer) Deploy(ctx context.Context, tenantID, endpointName, modelDataPath string) error {
	if d.Err != nil {
		return d.Err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Deployments = append(d.Deployments, fmt.Sprintf("%s|%s|%s", tenantID, endpointName, modelDataPath))
	return nil
}
