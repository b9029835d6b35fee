package serving

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime/sagemakerruntimeiface"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// SageMakerInvoker implements Invoker on the SageMaker runtime API. When the
// request carries scoped credentials a per-call client is built from them,
// so a pooled-endpoint call can only reach the caller's own artifact.
type SageMakerInvoker struct {
	sess    *session.Session
	runtime sagemakerruntimeiface.SageMakerRuntimeAPI
}

func NewSageMakerInvoker(sess *session.Session) *SageMakerInvoker {
	return &SageMakerInvoker{
		sess:    sess,
		runtime: sagemakerruntime.New(sess),
	}
}

func (i *SageMakerInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	runtime := i.runtime
	if !req.Credentials.Zero() {
		scoped := credentials.NewStaticCredentials(
			req.Credentials.AccessKeyID,
			req.Credentials.SecretAccessKey,
			req.Credentials.SessionToken,
		)
		runtime = sagemakerruntime.New(i.sess, aws.NewConfig().WithCredentials(scoped))
	}

	input := &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(req.Endpoint),
		ContentType:  aws.String(req.ContentType),
		Body:         req.Payload,
	}
	if req.TargetModel != "" {
		input.TargetModel = aws.String(req.TargetModel)
	}

	out, err := runtime.InvokeEndpointWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: invoke endpoint %s: %v", domain.ErrUpstream, req.Endpoint, err)
	}
	return &Response{
		Body:        out.Body,
		ContentType: aws.StringValue(out.ContentType),
	}, nil
}
