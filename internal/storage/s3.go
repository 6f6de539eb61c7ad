package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the configuration for S3-backed video delivery.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Storage wraps LocalStorage and additionally uploads finished videos to
// S3. Local publication still happens first, so poll recovery from disk
// keeps working.
type S3Storage struct {
	*LocalStorage
	client *s3.Client
	bucket string
	region string
}

// Compile-time check that S3Storage implements Storage.
var _ Storage = (*S3Storage)(nil)

// NewS3Storage creates a new S3Storage instance on top of a LocalStorage.
func NewS3Storage(local *LocalStorage, cfg S3Config) (*S3Storage, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Storage{
		LocalStorage: local,
		client:       client,
		bucket:       cfg.Bucket,
		region:       cfg.Region,
	}, nil
}

// Publish publishes locally, then uploads the video to S3 and returns the
// S3 URL.
func (s *S3Storage) Publish(ctx context.Context, jobID, srcPath string) (string, error) {
	if _, err := s.LocalStorage.Publish(ctx, jobID, srcPath); err != nil {
		return "", err
	}

	key := "videos/" + jobID + ".mp4"
	f, err := os.Open(s.videoFilePath(jobID)) // #nosec G304 - path derived from job ID
	if err != nil {
		return "", fmt.Errorf("open published video: %w", err)
	}
	defer func() { _ = f.Close() }()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		return "", fmt.Errorf("upload to S3: %w", err)
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	return url, nil
}

// VideoURL returns the S3 URL for a job's video.
func (s *S3Storage) VideoURL(jobID string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/videos/%s.mp4", s.bucket, s.region, jobID)
}
