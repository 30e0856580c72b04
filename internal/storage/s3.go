package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	retry    RetryConfig
}

func NewS3(ctx context.Context, bucket, prefix string, opts S3Options) (*S3, error) {
	endpoint := opts.Endpoint
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	cfgFuncs := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}

	if opts.AccessKey != "" && opts.SecretKey != "" {
		cfgFuncs = append(cfgFuncs, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgFuncs...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3FromClient(client, bucket, prefix), nil
}

func NewS3FromClient(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		retry:    DefaultRetryConfig(),
	}
}

// WithRetryConfig replaces the retry policy used for S3 calls.
func (s *S3) WithRetryConfig(cfg RetryConfig) *S3 {
	s.retry = cfg
	return s
}

func (s *S3) String() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}

func (s *S3) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3) location(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func (s *S3) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := WithRetry(ctx, s.retry, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(name)),
		})
		if err != nil {
			if isNotFound(err) {
				exists = false
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check S3 object: %w", err)
	}
	return exists, nil
}

// Place uploads src with If-None-Match: * so S3 refuses to replace an object
// that appeared after Exists was checked, then removes src.
func (s *S3) Place(ctx context.Context, src, name string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := s.key(name)
	err = WithRetry(ctx, s.retry, func() error {
		if _, err := f.Seek(0, 0); err != nil {
			return err
		}
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        f,
			IfNoneMatch: aws.String("*"),
		})
		return err
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return "", collision(s.location(key))
		}
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	f.Close()
	os.Remove(src)
	return s.location(key), nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]BackupItem, error) {
	var items []BackupItem
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		for _, obj := range output.Contents {
			items = append(items, BackupItem{
				Key:          strings.TrimPrefix(aws.ToString(obj.Key), s.prefix+"/"),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return items, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey")
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
