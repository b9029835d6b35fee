package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// S3Store implements ObjectStore on S3. The zero-credential store uses the
// service role; WithCredentials derives a store whose calls carry a tenant's
// scoped session credentials instead.
type S3Store struct {
	sess     *session.Session
	client   s3iface.S3API
	uploader *s3manager.Uploader
}

func NewS3Store(sess *session.Session) *S3Store {
	client := s3.New(sess)
	return &S3Store{
		sess:     sess,
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}
}

// WithCredentials returns a store bound to the given scoped credentials.
func (s *S3Store) WithCredentials(creds domain.ScopedCredentials) ObjectStore {
	if creds.Zero() {
		return s
	}
	scoped := credentials.NewStaticCredentials(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
	client := s3.New(s.sess, aws.NewConfig().WithCredentials(scoped))
	return &S3Store{
		sess:     s.sess,
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}
}

func (s *S3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get s3://%s/%s: %v", domain.ErrUpstream, bucket, key, err)
	}
	return out.Body, nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, body io.Reader) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("%w: put s3://%s/%s: %v", domain.ErrUpstream, bucket, key, err)
	}
	return nil
}

func (s *S3Store) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(srcBucket + "/" + srcKey),
	})
	if err != nil {
		return fmt.Errorf("%w: copy s3://%s/%s to s3://%s/%s: %v",
			domain.ErrUpstream, srcBucket, srcKey, dstBucket, dstKey, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.RequestFailure); ok && aerr.StatusCode() == 404 {
			return false, nil
		}
		return false, fmt.Errorf("%w: head s3://%s/%s: %v", domain.ErrUpstream, bucket, key, err)
	}
	return true, nil
}

func (s *S3Store) EnsurePrefix(ctx context.Context, bucket, prefix string) error {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(prefix),
		Body:   aws.ReadSeekCloser(strings.NewReader("")),
	})
	if err != nil {
		return fmt.Errorf("%w: ensure prefix s3://%s/%s: %v", domain.ErrUpstream, bucket, prefix, err)
	}
	return nil
}
