package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// ErrNoSuchObject is returned by S3Source.Open for a missing key.
var ErrNoSuchObject = errors.New("no such object")

// S3Config locates a bucket of CloudFront log objects.
type S3Config struct {
	Bucket    string `yaml:"bucket" koanf:"bucket"`
	Prefix    string `yaml:"prefix" koanf:"prefix"`
	Region    string `yaml:"region" koanf:"region"`
	Endpoint  string `yaml:"endpoint" koanf:"endpoint"`
	AccessKey string `yaml:"access_key" koanf:"access_key"`
	SecretKey string `yaml:"secret_key" koanf:"secret_key"`
}

// s3API is the subset of the S3 client S3Source uses.
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads log objects from an S3 or S3-compatible bucket.
type S3Source struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Source builds a client for cfg. Static credentials and a custom endpoint
// are used when set; the endpoint is addressed path style.
func NewS3Source(cfg S3Config) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 source: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg := aws.Config{Region: region}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Source{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// List pages through every object under the configured prefix.
func (s *S3Source) List(ctx context.Context) ([]Object, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	var out []Object
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			obj := Object{Name: key, Size: aws.ToInt64(o.Size)}
			if d, ok := ObjectDay(path.Base(key)); ok {
				obj.Day = d
			}
			out = append(out, obj)
		}
	}
	return out, nil
}

// Open streams one object body.
func (s *S3Source) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, name, ErrNoSuchObject)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, name, err)
	}
	return out.Body, nil
}
