// Package s3compat talks to the S3 compatible endpoint of a region.
package s3compat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-kodo/config"
	"github.com/bitrise-io/go-kodo/kodoerr"
	"github.com/bitrise-io/go-kodo/region"
	"github.com/bitrise-io/go-kodo/storage"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	defaultRetries   = 3
	defaultRetryWait = 5 * time.Second
	partSize         = 10 * 1024 * 1024
)

var regionNames = map[region.ID]string{
	region.Z0:  "cn-east-1",
	region.Z1:  "cn-north-1",
	region.Z2:  "cn-south-1",
	region.NA0: "us-north-1",
	region.AS0: "ap-southeast-1",
}

// ErrUnsupportedRegion ...
var ErrUnsupportedRegion = errors.New("region has no S3 compatible endpoint")

// Client uploads, inspects and downloads the objects of one bucket over the S3 protocol.
type Client struct {
	client    *s3.Client
	bucket    string
	logger    log.Logger
	retries   uint
	retryWait time.Duration
}

type options struct {
	endpoint  string
	region    string
	logger    log.Logger
	retries   uint
	retryWait time.Duration
}

// Option ...
type Option func(*options)

// WithEndpoint overrides the endpoint derived from the region.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithLogger ...
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRetries sets how many times a failed operation is repeated and the wait in between.
func WithRetries(retries uint, wait time.Duration) Option {
	return func(o *options) {
		o.retries = retries
		o.retryWait = wait
	}
}

// Endpoint returns the S3 endpoint of a predefined region.
func Endpoint(id region.ID, useHTTPS bool) (string, error) {
	name, ok := regionNames[region.ID(strings.ToLower(string(id)))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedRegion, id)
	}
	scheme := "http"
	if useHTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://s3.%s.qiniucs.com", scheme, name), nil
}

// New creates a client for bucket in the region id, authenticated with the keys of cfg.
func New(ctx context.Context, cfg *config.Config, bucket string, id region.ID, opts ...Option) (*Client, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	o := options{
		logger:    log.NewLogger(),
		retries:   defaultRetries,
		retryWait: defaultRetryWait,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if name, ok := regionNames[region.ID(strings.ToLower(string(id)))]; ok {
		o.region = name
	} else {
		o.region = string(id)
	}
	if o.endpoint == "" {
		endpoint, err := Endpoint(id, cfg.UseHTTPS)
		if err != nil {
			return nil, err
		}
		o.endpoint = endpoint
	}

	awsCfg, err := loadAWSConfig(ctx, o.region, cfg.AccessKey, string(cfg.SecretKey), o.logger)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(*awsCfg, func(s3Opts *s3.Options) {
		s3Opts.BaseEndpoint = aws.String(o.endpoint)
		s3Opts.UsePathStyle = true
	})
	return &Client{
		client:    client,
		bucket:    bucket,
		logger:    o.logger,
		retries:   o.retries,
		retryWait: o.retryWait,
	}, nil
}

// Upload stores the file at path as key and returns the ETag of the new object.
func (c *Client) Upload(ctx context.Context, key, path, mimeType string) (string, error) {
	var etag string
	err := retry.Times(c.retries).Wait(c.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		file, err := os.Open(path)
		if err != nil {
			return kodoerr.NewOSError(err), true
		}
		defer file.Close() //nolint:errcheck

		input := &s3.PutObjectInput{
			Body:   file,
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		}
		if mimeType != "" {
			input.ContentType = aws.String(mimeType)
		}

		uploader := manager.NewUploader(c.client, func(u *manager.Uploader) {
			u.PartSize = partSize
		})
		out, err := uploader.Upload(ctx, input)
		if err != nil {
			c.logger.Debugf("Upload attempt %d of %s failed: %s", attempt, key, err)
			return fmt.Errorf("upload %s: %w", key, err), ctx.Err() != nil
		}
		if out.ETag != nil {
			etag = strings.Trim(*out.ETag, `"`)
		}
		return nil, true
	})
	return etag, err
}

// Stat returns the metadata of key. A missing object fails with a StatusNoSuchEntry
// response status error.
func (c *Client) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	var info *storage.ObjectInfo
	err := retry.Times(c.retries).Wait(c.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return kodoerr.NewResponseStatusError(storage.StatusNoSuchEntry, "no such file or directory"), true
			}
			return fmt.Errorf("stat %s: %w", key, err), ctx.Err() != nil
		}

		info = &storage.ObjectInfo{
			Size: aws.ToInt64(out.ContentLength),
			Hash: strings.Trim(aws.ToString(out.ETag), `"`),
			MIME: aws.ToString(out.ContentType),
		}
		if out.LastModified != nil {
			info.PutTime = out.LastModified.UnixNano() / 100
		}
		return nil, true
	})
	return info, err
}

// Download writes the content of key to dest.
func (c *Client) Download(ctx context.Context, key, dest string) error {
	return retry.Times(c.retries).Wait(c.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return kodoerr.NewResponseStatusError(storage.StatusNoSuchEntry, "no such file or directory"), true
			}
			return fmt.Errorf("get object: %w", err), ctx.Err() != nil
		}
		defer result.Body.Close() //nolint:errcheck

		file, err := os.Create(dest)
		if err != nil {
			return kodoerr.NewOSError(err), true
		}
		defer file.Close() //nolint:errcheck

		if _, err := io.Copy(file, result.Body); err != nil {
			return kodoerr.NewIOError(fmt.Errorf("write %s: %w", dest, err)), false
		}
		return nil, true
	})
}

func isNotFound(err error) bool {
	var apiError smithy.APIError
	if !errors.As(err, &apiError) {
		return false
	}
	switch apiError.(type) {
	case *types.NotFound, *types.NoSuchKey:
		return true
	default:
		return false
	}
}

func loadAWSConfig(ctx context.Context, regionName, accessKey, secretKey string, logger log.Logger) (*aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(regionName),
	}

	if accessKey != "" && secretKey != "" {
		logger.Debugf("Using the configured access key for the S3 endpoint")
		opts = append(opts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
