package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// CredentialsBroker issues short-lived credentials scoped to one tenant.
// The scoped role's policy grants access to `{prefix}/{tenantId}/*` only
// when the session carries a matching TenantID tag, so isolation holds even
// on the shared buckets.
type CredentialsBroker interface {
	Issue(ctx context.Context, tenantID string) (domain.ScopedCredentials, error)
}

// STSBroker implements CredentialsBroker with a tag-scoped role assumption.
type STSBroker struct {
	client     stsiface.STSAPI
	roleARN    string
	sessionTTL time.Duration
}

func NewSTSBroker(sess *session.Session, roleARN string, sessionTTL time.Duration) *STSBroker {
	if sessionTTL <= 0 {
		sessionTTL = 15 * time.Minute
	}
	return &STSBroker{
		client:     sts.New(sess),
		roleARN:    roleARN,
		sessionTTL: sessionTTL,
	}
}

func (b *STSBroker) Issue(ctx context.Context, tenantID string) (domain.ScopedCredentials, error) {
	out, err := b.client.AssumeRoleWithContext(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(b.roleARN),
		RoleSessionName: aws.String("tenant-" + tenantID),
		DurationSeconds: aws.Int64(int64(b.sessionTTL.Seconds())),
		Tags: []*sts.Tag{
			{Key: aws.String("TenantID"), Value: aws.String(tenantID)},
		},
	})
	if err != nil {
		return domain.ScopedCredentials{}, fmt.Errorf("assume scoped role for %s: %w", tenantID, err)
	}
	creds := out.Credentials
	return domain.ScopedCredentials{
		AccessKeyID:     aws.StringValue(creds.AccessKeyId),
		SecretAccessKey: aws.StringValue(creds.SecretAccessKey),
		SessionToken:    aws.StringValue(creds.SessionToken),
		Expiration:      aws.TimeValue(creds.Expiration),
	}, nil
}

// StaticBroker returns fixed credentials, for tests.
type StaticBroker struct {
	Creds domain.ScopedCredentials
	Err   error
}

func (b *StaticBroker) Issue(ctx context.Context, tenantID string) (domain.ScopedCredentials, error) {
	if b.Err != nil {
		return domain.ScopedCredentials{}, b.Err
	}
	return b.Creds, nil
}
