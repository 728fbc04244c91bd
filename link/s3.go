// S3 presigning adapter.

package link

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Signer implements ObjectSigner with presigned S3 GET URLs.
type S3Signer struct {
	presign *s3.PresignClient
}

// NewS3Signer creates a signer using the default AWS credential chain.
func NewS3Signer(ctx context.Context, region string) (*S3Signer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Signer{presign: s3.NewPresignClient(client)}, nil
}

// Sign presigns a GET for the given bucket and key.
func (s *S3Signer) Sign(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign GET for s3://%s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}
