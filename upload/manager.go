// Package upload uploads single files to a bucket, choosing between form and resumable
// uploads by size and failing over between upload hosts and regions.
package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitrise-io/go-kodo/config"
	"github.com/bitrise-io/go-kodo/internal/hostfreeze"
	"github.com/bitrise-io/go-kodo/internal/httpx"
	"github.com/bitrise-io/go-kodo/metrics"
	"github.com/bitrise-io/go-kodo/region"
	"github.com/bitrise-io/go-kodo/upload/resumable"
	"github.com/bitrise-io/go-kodo/uplog"
	"github.com/bitrise-io/go-kodo/uptoken"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrBucketMissingInUploadToken is returned when the policy of an upload token names no bucket.
var ErrBucketMissingInUploadToken = errors.New("bucket is missing in the upload token")

// Manager holds what the uploaders of every bucket share: configuration, HTTP client,
// region resolver and the set of frozen hosts.
type Manager struct {
	cfg      *config.Config
	resolver region.Resolver
	client   *retryablehttp.Client
	logger   log.Logger
	metrics  *metrics.Metrics
	uplog    *uplog.Recorder
	uplogSet bool
	freezer  *hostfreeze.Freezer
	blocks   *resumable.Uploader
}

// ManagerOption ...
type ManagerOption func(*Manager)

// WithResolver ...
func WithResolver(resolver region.Resolver) ManagerOption {
	return func(m *Manager) {
		m.resolver = resolver
	}
}

// WithHTTPClient ...
func WithHTTPClient(client *retryablehttp.Client) ManagerOption {
	return func(m *Manager) {
		m.client = client
	}
}

// WithLogger ...
func WithLogger(logger log.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics ...
func WithMetrics(collector *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = collector
	}
}

// WithUplog replaces the upload log recorder created from the configuration. nil disables
// upload logging.
func WithUplog(recorder *uplog.Recorder) ManagerOption {
	return func(m *Manager) {
		m.uplog = recorder
		m.uplogSet = true
	}
}

// NewManager ...
func NewManager(cfg *config.Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: log.NewLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.client == nil {
		m.client = httpx.NewClient(cfg, m.logger)
	}
	if m.resolver == nil {
		m.resolver = region.NewQueryResolver(cfg, region.WithHTTPClient(m.client), region.WithLogger(m.logger))
	}
	if !m.uplogSet {
		m.uplog = uplog.NewRecorder(cfg, m.client, m.logger)
	}
	m.freezer = hostfreeze.New(cfg.HostFreezeDuration)
	m.blocks = resumable.New(resumable.DefaultConfig(cfg), m.client, m.logger)
	return m
}

// Config ...
func (m *Manager) Config() *config.Config {
	return m.cfg
}

// Logger ...
func (m *Manager) Logger() log.Logger {
	return m.logger
}

// Metrics ...
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// ForBucket returns an uploader whose regions are resolved by the resolver of m on every
// upload.
func (m *Manager) ForBucket(bucket, accessKey string) *BucketUploader {
	return &BucketUploader{m: m, bucket: bucket, accessKey: accessKey}
}

// ForRegions returns an uploader using the given regions, primary first.
func (m *Manager) ForRegions(bucket string, regions []*region.Region) *BucketUploader {
	return &BucketUploader{m: m, bucket: bucket, regions: append([]*region.Region(nil), regions...)}
}

// ForUploadToken returns an uploader for the bucket and the access key of token.
func (m *Manager) ForUploadToken(token *uptoken.UploadToken) (*BucketUploader, error) {
	policy, err := token.Policy()
	if err != nil {
		return nil, err
	}
	if policy.Bucket() == "" {
		return nil, ErrBucketMissingInUploadToken
	}
	accessKey, err := token.AccessKey()
	if err != nil {
		return nil, err
	}
	return m.ForBucket(policy.Bucket(), accessKey), nil
}

// BucketUploader uploads files into one bucket. It is safe for concurrent use.
type BucketUploader struct {
	m         *Manager
	bucket    string
	accessKey string
	// regions is set for uploaders of fixed regions only; the others ask the resolver,
	// which caches its answers.
	regions []*region.Region
}

// Bucket ...
func (u *BucketUploader) Bucket() string {
	return u.bucket
}

// Manager ...
func (u *BucketUploader) Manager() *Manager {
	return u.m
}

// Regions returns the regions uploads fail over between, primary first.
func (u *BucketUploader) Regions(ctx context.Context) ([]*region.Region, error) {
	if len(u.regions) > 0 {
		return u.regions, nil
	}
	regions, err := u.m.resolver.Resolve(ctx, u.bucket, u.accessKey)
	if err != nil {
		return nil, fmt.Errorf("resolve regions of %s: %w", u.bucket, err)
	}
	return regions, nil
}
