package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client the replicator uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures an S3Replicator.
type S3Options struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Replicator stores archives in an S3 bucket, typically in another region.
type S3Replicator struct {
	client S3API
	bucket string
	prefix string
	region string
}

// NewS3Replicator builds a replicator from the default AWS config chain.
// Static credentials and a custom endpoint (MinIO, LocalStack) are optional.
func NewS3Replicator(ctx context.Context, o S3Options) (*S3Replicator, error) {
	if o.Bucket == "" {
		return nil, fmt.Errorf("s3 replicator: bucket is required")
	}
	if o.Region == "" {
		o.Region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(o.Region)}
	if o.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 replicator: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if o.Endpoint != "" {
		endpoint := o.Endpoint
		s3Opts = append(s3Opts, func(so *s3.Options) {
			so.BaseEndpoint = aws.String(endpoint)
			so.UsePathStyle = true
		})
	}
	return NewS3ReplicatorWithClient(s3.NewFromConfig(cfg, s3Opts...), o), nil
}

// NewS3ReplicatorWithClient wraps an existing client.
func NewS3ReplicatorWithClient(client S3API, o S3Options) *S3Replicator {
	return &S3Replicator{client: client, bucket: o.Bucket, prefix: o.Prefix, region: o.Region}
}

func (r *S3Replicator) Name() string { return "s3:" + r.region + "/" + r.bucket }

func (r *S3Replicator) key(name string) string {
	if r.prefix == "" {
		return name
	}
	return path.Join(r.prefix, name)
}

// Put uploads an archive.
func (r *S3Replicator) Put(ctx context.Context, name string, data []byte) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(r.key(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", r.key(name), err)
	}
	return nil
}

// Get downloads an archive.
func (r *S3Replicator) Get(ctx context.Context, name string) ([]byte, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", r.key(name), err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
