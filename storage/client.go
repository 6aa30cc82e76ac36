// Package storage manages buckets and the objects stored in them.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bitrise-io/go-kodo/config"
	"github.com/bitrise-io/go-kodo/credential"
	"github.com/bitrise-io/go-kodo/internal/httpx"
	"github.com/bitrise-io/go-kodo/kodoerr"
	"github.com/bitrise-io/go-kodo/region"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	// StatusNoSuchEntry is returned for objects that do not exist.
	StatusNoSuchEntry = 612
	// StatusBucketExists is returned when creating a bucket that already exists.
	StatusBucketExists = 614
)

var errNoHost = errors.New("no host to send the request to")

// Client is the entry point of bucket and object management. It is safe for concurrent use.
type Client struct {
	cred     *credential.Credential
	cfg      *config.Config
	client   *retryablehttp.Client
	resolver region.Resolver
	logger   log.Logger
}

// Option ...
type Option func(*Client)

// WithHTTPClient ...
func WithHTTPClient(client *retryablehttp.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithResolver sets the resolver of the buckets built without regions.
func WithResolver(resolver region.Resolver) Option {
	return func(c *Client) {
		c.resolver = resolver
	}
}

// WithLogger ...
func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient ...
func NewClient(cred *credential.Credential, cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		cred:   cred,
		cfg:    cfg,
		logger: log.NewLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = httpx.NewClient(cfg, c.logger)
	}
	if c.resolver == nil {
		c.resolver = region.NewQueryResolver(cfg, region.WithHTTPClient(c.client), region.WithLogger(c.logger))
	}
	return c
}

// Credential ...
func (c *Client) Credential() *credential.Credential {
	return c.cred
}

// Config ...
func (c *Client) Config() *config.Config {
	return c.cfg
}

// BucketNames lists the buckets of the account.
func (c *Client) BucketNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.call(ctx, http.MethodGet, []string{c.cfg.RSURL}, "/buckets", &names); err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	return names, nil
}

// CreateBucket creates a bucket in the given region. Creating an existing bucket fails
// with a StatusBucketExists response status error.
func (c *Client) CreateBucket(ctx context.Context, name string, id region.ID) error {
	path := "/mkbucketv3/" + name + "/region/" + strings.ToLower(string(id))
	if err := c.call(ctx, http.MethodPost, []string{c.cfg.RSURL}, path, nil); err != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	c.logger.Debugf("Created bucket %s in %s", name, id)
	return nil
}

// DropBucket deletes an empty bucket.
func (c *Client) DropBucket(ctx context.Context, name string) error {
	if err := c.call(ctx, http.MethodPost, []string{c.cfg.RSURL}, "/drop/"+name, nil); err != nil {
		return fmt.Errorf("drop bucket %s: %w", name, err)
	}
	c.logger.Debugf("Dropped bucket %s", name)
	return nil
}

// Bucket returns the bucket called name, with regions and domains detected on demand.
func (c *Client) Bucket(name string) *Bucket {
	return c.NewBucketBuilder(name).Build()
}

// NewBucketBuilder ...
func (c *Client) NewBucketBuilder(name string) *BucketBuilder {
	return &BucketBuilder{client: c, name: name}
}

// call sends a QBox signed request to the first host answering it. Hosts are tried in
// order while the request fails in transit or with a server error.
func (c *Client) call(ctx context.Context, method string, hosts []string, path string, v interface{}) error {
	err := errNoHost
	for _, host := range hosts {
		req, reqErr := retryablehttp.NewRequest(method, strings.TrimSuffix(host, "/")+path, nil)
		if reqErr != nil {
			return reqErr
		}
		req = req.WithContext(ctx)
		req.Header.Set("Authorization", "QBox "+c.cred.SignRequest(req.Request, nil))
		if method == http.MethodPost {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		err = httpx.DoJSON(c.client, req, v, c.logger)
		if err == nil || !isHostFailure(err) || ctx.Err() != nil {
			return err
		}
		c.logger.Warnf("Request to %s failed, trying the next host: %s", host, err)
	}
	return err
}

func isHostFailure(err error) bool {
	if code, _, ok := kodoerr.AsResponseStatus(err); ok {
		return code >= 500 && code != 579
	}
	return httpx.IsTransportError(err)
}

func encodedEntry(bucket, key string) string {
	return base64.URLEncoding.EncodeToString([]byte(bucket + ":" + key))
}
